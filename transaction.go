package dynaorm

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// MaxTransactionItems is the maximum number of writes in one TransactWriteItems request.
const MaxTransactionItems = 100

// IntentKind is the kind of a buffered write.
type IntentKind string

const (
	IntentPut    IntentKind = "Put"
	IntentUpdate IntentKind = "Update"
	IntentDelete IntentKind = "Delete"
)

// WriteIntent is a write buffered by a transaction. Exactly one of Put,
// Update and Delete is set, matching Kind.
type WriteIntent struct {
	Kind      IntentKind
	TableName string
	Put       *types.Put
	Update    *types.Update
	Delete    *types.Delete
}

func (w WriteIntent) transactItem() types.TransactWriteItem {
	return types.TransactWriteItem{
		Put:    w.Put,
		Update: w.Update,
		Delete: w.Delete,
	}
}

// TransactionResult describes a flushed transaction.
type TransactionResult struct {
	ClientRequestToken string
	Intents            []WriteIntent
}

type txKey struct{}

// txBuffer collects the writes of one transaction body. It lives in the
// context handed to the body so separate transactions never share state.
type txBuffer struct {
	mu     sync.Mutex
	active bool
	table  string // set for table-scoped transactions
	writes []WriteIntent
}

func (b *txBuffer) enqueue(w WriteIntent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.table != "" && w.TableName != b.table {
		return fmt.Errorf("%w: %s in transaction on %s", ErrForeignTable, w.TableName, b.table)
	}
	b.writes = append(b.writes, w)
	return nil
}

func (b *txBuffer) isActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *txBuffer) drain() []WriteIntent {
	b.mu.Lock()
	defer b.mu.Unlock()
	writes := b.writes
	b.writes = nil
	b.active = false
	return writes
}

// activeTx returns the transaction buffer of ctx, if one is active.
func activeTx(ctx context.Context) (*txBuffer, bool) {
	buf, ok := ctx.Value(txKey{}).(*txBuffer)
	if !ok || !buf.isActive() {
		return nil, false
	}
	return buf, true
}

// InTransaction reports whether ctx belongs to an active transaction body.
func InTransaction(ctx context.Context) bool {
	_, ok := activeTx(ctx)
	return ok
}

// Transaction runs body with a context that buffers every Create, Update and
// Delete made through it, on any table of db. When body returns nil the
// buffered writes are sent as one TransactWriteItems request; when it returns
// an error nothing is sent and the error is returned. The buffer is cleared
// on every exit path.
//
// A Transaction started inside another body joins the outer transaction; only
// the outermost call sends the request.
func (db *DB) Transaction(ctx context.Context, body func(ctx context.Context) error) (*TransactionResult, error) {
	return db.transaction(ctx, "", body)
}

func (db *DB) transaction(ctx context.Context, table string, body func(ctx context.Context) error) (*TransactionResult, error) {
	if _, nested := activeTx(ctx); nested {
		return &TransactionResult{}, body(ctx)
	}

	client, err := db.api()
	if err != nil {
		return nil, err
	}

	buf := &txBuffer{active: true, table: table}
	defer buf.drain()

	if err := body(context.WithValue(ctx, txKey{}, buf)); err != nil {
		db.log.Debug().Err(err).Msg("transaction body failed; discarding buffered writes")
		return nil, err
	}

	writes := buf.drain()
	if len(writes) == 0 {
		return &TransactionResult{}, nil
	}
	if len(writes) > MaxTransactionItems {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyIntents, len(writes), MaxTransactionItems)
	}

	input := &dynamodb.TransactWriteItemsInput{
		ClientRequestToken: aws.String(uuid.NewString()),
		TransactItems:      make([]types.TransactWriteItem, 0, len(writes)),
	}
	for _, w := range writes {
		input.TransactItems = append(input.TransactItems, w.transactItem())
	}

	db.log.Debug().
		Int("writes", len(writes)).
		Str("token", aws.ToString(input.ClientRequestToken)).
		Msg("flushing transaction")

	if _, err := client.TransactWriteItems(ctx, input); err != nil {
		return nil, fmt.Errorf("failed to write transaction: %w", err)
	}

	return &TransactionResult{
		ClientRequestToken: aws.ToString(input.ClientRequestToken),
		Intents:            writes,
	}, nil
}
