package dynaorm

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Relation is an immutable query over one table. Chain methods return a
// modified copy; terminal methods (Load, Limit, Count, Exists, Page) issue a
// request with the accumulated state and may be called any number of times.
//
// A relation with filter conditions or fragments runs as a Query, which
// requires at least one key attribute among the conditions. A relation
// without any runs as a Scan.
type Relation struct {
	db         *DB
	table      string
	filter     Filter
	fragments  []Fragment
	offset     Record
	startKey   Item
	projection []string
	limit      int32
}

// TableName returns the name of the table the relation reads.
func (r Relation) TableName() string {
	return r.table
}

// Filter returns a copy of the accumulated filter.
func (r Relation) Filter() Filter {
	return slices.Clone(r.filter)
}

// Where returns a copy of r with filter merged into its conditions.
func (r Relation) Where(filter Filter) Relation {
	r.filter = r.filter.Merge(filter)
	return r
}

// WhereExpr returns a copy of r with a hand-written condition appended to
// the filter expression.
func (r Relation) WhereExpr(expr string, values map[string]any) Relation {
	return r.WhereFragment(Expr(expr, values))
}

// WhereFragment returns a copy of r with frag appended to the filter expression.
func (r Relation) WhereFragment(frag Fragment) Relation {
	r.fragments = append(slices.Clip(r.fragments), frag)
	return r
}

// Offset returns a copy of r that starts after the record identified by key.
// Only the key attributes of key are used, so a full record returned by an
// earlier page is a valid offset.
func (r Relation) Offset(key Record) Relation {
	r.offset = mergeRecords(key)
	r.startKey = nil
	return r
}

// Project returns a copy of r that only reads the named attributes.
func (r Relation) Project(names ...string) Relation {
	r.projection = append(slices.Clip(r.projection), names...)
	return r
}

// Load executes the relation and returns the records of the first page.
func (r Relation) Load(ctx context.Context) ([]Record, error) {
	page, err := r.Page(ctx)
	if err != nil {
		return nil, err
	}
	return page.Records, nil
}

// Limit executes the relation reading at most n items and returns the page.
// DynamoDB applies the limit before the filter expression, so a filtered
// page may hold fewer than n records. n must be positive; values beyond the
// int32 range are clamped.
func (r Relation) Limit(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero, got %d", n)
	}
	r.limit = int32(min(n, math.MaxInt32))
	return r.Load(ctx)
}

// Count executes a count-only variant of the relation.
func (r Relation) Count(ctx context.Context) (int, error) {
	res, err := r.execute(ctx, request{sel: types.SelectCount})
	if err != nil {
		return 0, err
	}
	return res.count, nil
}

// Exists merges extra into the conditions and reports whether any record matches.
func (r Relation) Exists(ctx context.Context, extra Filter) (bool, error) {
	res, err := r.Where(extra).execute(ctx, request{sel: types.SelectCount, single: true})
	if err != nil {
		return false, err
	}
	return res.count > 0, nil
}

// First returns the first matching record, following pages until one is found.
func (r Relation) First(ctx context.Context) (Record, error) {
	for {
		page, err := r.Page(ctx)
		if err != nil {
			return nil, err
		}
		if len(page.Records) > 0 {
			return page.Records[0], nil
		}
		if !page.HasMore() {
			return nil, ErrItemNotFound
		}
		r = r.startAt(page.LastKey)
	}
}

// Page executes the relation and returns its first page together with the
// key to continue from.
func (r Relation) Page(ctx context.Context) (Page, error) {
	res, err := r.execute(ctx, request{})
	if err != nil {
		return Page{}, err
	}

	records, err := UnmarshalRecords(res.items)
	if err != nil {
		return Page{}, fmt.Errorf("failed to read %s: %w", r.table, err)
	}

	page := Page{Records: records, LastKey: res.lastKey}
	if page.Cursor, err = EncodeCursor(res.lastKey); err != nil {
		return Page{}, err
	}
	return page, nil
}

// After returns a copy of r that continues from a cursor returned by [Relation.Page].
func (r Relation) After(cursor string) (Relation, error) {
	key, err := DecodeCursor(cursor)
	if err != nil {
		return r, err
	}
	return r.startAt(key), nil
}

func (r Relation) startAt(key Item) Relation {
	r.offset = nil
	r.startKey = key
	return r
}

type request struct {
	sel    types.Select
	single bool // limit to one item when no filter expression would drop it
}

type response struct {
	items   []Item
	count   int
	lastKey Item
}

func (r Relation) execute(ctx context.Context, req request) (response, error) {
	client, err := r.db.api()
	if err != nil {
		return response{}, err
	}

	c := newCompiler()
	if err := c.compile(ctx, r.db.schemas, r.table, r.filter, r.fragments); err != nil {
		return response{}, err
	}
	if req.sel != types.SelectCount {
		c.project(r.projection)
	}
	compiled := c.result()

	startKey, err := r.exclusiveStartKey(ctx)
	if err != nil {
		return response{}, err
	}

	limit := r.limit
	if req.single && compiled.FilterExpression == nil {
		limit = 1
	}

	if len(r.filter) == 0 && len(r.fragments) == 0 {
		r.db.log.Debug().Str("table", r.table).Str("select", string(req.sel)).Msg("scan")
		out, err := client.Scan(ctx, marshalScan(r.table, compiled, startKey, limit, req.sel))
		if err != nil {
			return response{}, fmt.Errorf("failed to scan %s: %w", r.table, err)
		}
		return response{items: out.Items, count: int(out.Count), lastKey: out.LastEvaluatedKey}, nil
	}

	if compiled.KeyConditionExpression == "" {
		return response{}, fmt.Errorf("%w: table %s", ErrEmptyKeyCondition, r.table)
	}

	r.db.log.Debug().
		Str("table", r.table).
		Str("key_condition", compiled.KeyConditionExpression).
		Str("filter", aws.ToString(compiled.FilterExpression)).
		Str("select", string(req.sel)).
		Msg("query")

	out, err := client.Query(ctx, marshalQuery(r.table, compiled, startKey, limit, req.sel))
	if err != nil {
		return response{}, fmt.Errorf("failed to query %s: %w", r.table, err)
	}
	return response{items: out.Items, count: int(out.Count), lastKey: out.LastEvaluatedKey}, nil
}

func (r Relation) exclusiveStartKey(ctx context.Context) (Item, error) {
	if r.startKey != nil {
		return r.startKey, nil
	}
	if len(r.offset) == 0 {
		return nil, nil
	}

	schema, err := r.db.schemas.Schema(ctx, r.table)
	if err != nil {
		return nil, err
	}
	key := schema.KeyOf(r.offset)
	if len(key) != len(schema.Keys) {
		return nil, fmt.Errorf("offset for %s must set %d key attributes, got %d", r.table, len(schema.Keys), len(key))
	}
	return MarshalRecord(key)
}
