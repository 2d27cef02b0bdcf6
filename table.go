package dynaorm

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	// MaxBatchSize is the maximum number of items allowed in a DynamoDB batch operation.
	MaxBatchSize = 25
)

// Table is a handle on one DynamoDB table of a [DB].
type Table struct {
	db   *DB
	name string
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.name
}

// Relation returns an empty relation over the table.
func (t *Table) Relation() Relation {
	return Relation{db: t.db, table: t.name}
}

// Where starts a relation filtered by filter.
func (t *Table) Where(filter Filter) Relation {
	return t.Relation().Where(filter)
}

// Offset starts a relation after the record identified by key.
func (t *Table) Offset(key Record) Relation {
	return t.Relation().Offset(key)
}

// Exists reports whether any record matches filter. An empty filter checks
// whether the table holds any record.
func (t *Table) Exists(ctx context.Context, filter Filter) (bool, error) {
	return t.Relation().Exists(ctx, filter)
}

// Limit scans at most n records.
func (t *Table) Limit(ctx context.Context, n int) ([]Record, error) {
	return t.Relation().Limit(ctx, n)
}

// FindEach calls visit for every record of the table.
func (t *Table) FindEach(ctx context.Context, visit func(Record) error, opts ...func(*BatchOptions)) error {
	return t.Relation().FindEach(ctx, visit, opts...)
}

// FindInBatches calls visit with successive pages of the table.
func (t *Table) FindInBatches(ctx context.Context, visit func([]Record) error, opts ...func(*BatchOptions)) error {
	return t.Relation().FindInBatches(ctx, visit, opts...)
}

// Count returns the number of records of one scan page counted by DynamoDB.
func (t *Table) Count(ctx context.Context) (int, error) {
	return t.Relation().Count(ctx)
}

// FindByAll returns the first page of records matching filter.
func (t *Table) FindByAll(ctx context.Context, filter Filter) ([]Record, error) {
	return t.Where(filter).Load(ctx)
}

// All returns every record of the table, following scan pages to the end.
func (t *Table) All(ctx context.Context) ([]Record, error) {
	var (
		rel     = t.Relation()
		records []Record
	)
	for {
		page, err := rel.Page(ctx)
		if err != nil {
			return nil, err
		}
		records = append(records, page.Records...)
		if !page.HasMore() {
			return records, nil
		}
		rel = rel.startAt(page.LastKey)
	}
}

// FindBy returns the record with the primary key of key. Attributes of key
// outside the key schema are ignored. Returns [ErrItemNotFound] when no such
// record exists.
func (t *Table) FindBy(ctx context.Context, key Record) (Record, error) {
	client, err := t.db.api()
	if err != nil {
		return nil, err
	}

	input, err := t.marshalGet(ctx, key)
	if err != nil {
		return nil, err
	}

	out, err := client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to get item from %s: %w", t.name, err)
	}
	if out.Item == nil {
		return nil, ErrItemNotFound
	}
	return UnmarshalRecord(out.Item)
}

// Import writes records with BatchWriteItem in chunks of [MaxBatchSize] and
// returns the records DynamoDB left unprocessed. Import is not buffered by
// transactions.
func (t *Table) Import(ctx context.Context, records []Record) ([]Record, error) {
	requests := make([]types.WriteRequest, 0, len(records))
	for _, rec := range records {
		item, err := MarshalRecord(rec)
		if err != nil {
			return nil, err
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}
	return t.batchWrite(ctx, requests)
}

// DeleteAll deletes the records identified by keys with BatchWriteItem and
// returns the keys DynamoDB left unprocessed. Full records are accepted as keys.
func (t *Table) DeleteAll(ctx context.Context, keys []Record) ([]Record, error) {
	schema, err := t.db.schemas.Schema(ctx, t.name)
	if err != nil {
		return nil, err
	}

	requests := make([]types.WriteRequest, 0, len(keys))
	for _, key := range keys {
		item, err := MarshalRecord(schema.KeyOf(key))
		if err != nil {
			return nil, err
		}
		requests = append(requests, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: item}})
	}
	return t.batchWrite(ctx, requests)
}

func (t *Table) batchWrite(ctx context.Context, requests []types.WriteRequest) ([]Record, error) {
	client, err := t.db.api()
	if err != nil {
		return nil, err
	}

	var unprocessed []Record
	for _, batch := range t.marshalBatch(requests) {
		out, err := client.BatchWriteItem(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("failed to batch write %s: %w", t.name, err)
		}

		for _, req := range out.UnprocessedItems[t.name] {
			var item Item
			switch {
			case req.PutRequest != nil:
				item = req.PutRequest.Item
			case req.DeleteRequest != nil:
				item = req.DeleteRequest.Key
			}
			rec, err := UnmarshalRecord(item)
			if err != nil {
				return nil, err
			}
			unprocessed = append(unprocessed, rec)
		}
	}
	return unprocessed, nil
}

// marshalBatch chunks requests into batch write inputs of [MaxBatchSize] or less.
func (t *Table) marshalBatch(requests []types.WriteRequest) []*dynamodb.BatchWriteItemInput {
	var batches []*dynamodb.BatchWriteItemInput

	for i := 0; i < len(requests); i += MaxBatchSize {
		end := min(i+MaxBatchSize, len(requests))
		batches = append(batches, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				t.name: requests[i:end],
			},
		})
	}

	return batches
}

// marshalKey projects key onto the key schema and encodes it.
func (t *Table) marshalKey(ctx context.Context, key Record) (Item, TableSchema, error) {
	schema, err := t.db.schemas.Schema(ctx, t.name)
	if err != nil {
		return nil, schema, err
	}

	projected := schema.KeyOf(key)
	if len(projected) != len(schema.Keys) {
		return nil, schema, fmt.Errorf("key for %s must set %d key attributes, got %d", t.name, len(schema.Keys), len(projected))
	}

	item, err := MarshalRecord(projected)
	return item, schema, err
}

func (t *Table) marshalGet(ctx context.Context, key Record) (*dynamodb.GetItemInput, error) {
	item, _, err := t.marshalKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemInput{
		TableName: aws.String(t.name),
		Key:       item,
	}, nil
}
