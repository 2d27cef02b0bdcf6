package dynaorm

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// BatchOptions configures batch iteration.
type BatchOptions struct {
	Start     Record // record to start after; nil starts at the beginning
	BatchSize int    // page size; zero uses the DB default
}

// WithStart starts iteration after the record identified by start.
func WithStart(start Record) func(*BatchOptions) {
	return func(o *BatchOptions) {
		o.Start = start
	}
}

// WithPageSize sets the number of items fetched per batch.
func WithPageSize(n int) func(*BatchOptions) {
	return func(o *BatchOptions) {
		o.BatchSize = n
	}
}

// FindEach calls visit for every record of the relation, one page at a time.
func (r Relation) FindEach(ctx context.Context, visit func(Record) error, opts ...func(*BatchOptions)) error {
	return r.FindInBatches(ctx, func(batch []Record) error {
		for _, rec := range batch {
			if err := visit(rec); err != nil {
				return err
			}
		}
		return nil
	}, opts...)
}

// FindInBatches calls visit with successive pages of the relation. The
// cursor of each page is the last record of the previous one; iteration ends
// on the first empty page. An error from visit or from a fetch stops the
// iteration and is returned.
func (r Relation) FindInBatches(ctx context.Context, visit func([]Record) error, opts ...func(*BatchOptions)) error {
	options := BatchOptions{BatchSize: r.db.batchSize}
	for _, opt := range opts {
		opt(&options)
	}
	if options.BatchSize <= 0 {
		return errors.New("batch size must be greater than zero")
	}

	var (
		cursor  = options.Start
		lastKey Record
	)
	if len(cursor) > 0 {
		key, err := r.keyOf(ctx, cursor)
		if err != nil {
			return err
		}
		lastKey = key
	}

	for {
		rel := r
		if len(cursor) > 0 {
			rel = r.Offset(cursor)
		}

		batch, err := rel.Limit(ctx, options.BatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		last := batch[len(batch)-1]
		key, err := r.keyOf(ctx, last)
		if err != nil {
			return err
		}
		if lastKey != nil && reflect.DeepEqual(key, lastKey) {
			return fmt.Errorf("%w: table %s", ErrCursorStalled, r.table)
		}

		if err := visit(batch); err != nil {
			return err
		}

		cursor, lastKey = last, key
	}
}

func (r Relation) keyOf(ctx context.Context, rec Record) (Record, error) {
	schema, err := r.db.schemas.Schema(ctx, r.table)
	if err != nil {
		return nil, err
	}
	return schema.KeyOf(rec), nil
}
