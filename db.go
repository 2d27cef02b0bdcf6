package dynaorm

import (
	"context"
	"errors"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
)

// DB is the handle every table, relation and transaction is bound to. It owns
// the dynamodb client, the key schema cache and the logger. A DB is safe for
// concurrent use.
type DB struct {
	mu        sync.RWMutex
	client    DynamoDBClient
	schemas   *SchemaCache
	log       zerolog.Logger
	batchSize int
}

// New creates a DB around client. A nil client is allowed; every operation
// then fails with [ErrNotConfigured].
func New(client DynamoDBClient, opts ...Option) (*DB, error) {
	options := newOptions()
	for _, opt := range opts {
		opt(options)
	}

	if err := options.validate(); err != nil {
		return nil, err
	}

	db := &DB{
		client:    client,
		log:       options.logger,
		batchSize: options.batchSize,
	}
	db.schemas = NewSchemaCache(describerFunc(db.describeTable), options.logger)
	return db, nil
}

// Table returns a table-scoped handle.
func (db *DB) Table(name string) *Table {
	return &Table{db: db, name: name}
}

// Schemas returns the key schema cache of the DB.
func (db *DB) Schemas() *SchemaCache {
	return db.schemas
}

// Logger returns the logger of the DB.
func (db *DB) Logger() zerolog.Logger {
	return db.log
}

// Close releases the client and clears the schema cache. Operations started
// after Close fail with [ErrNotConfigured].
func (db *DB) Close() {
	db.mu.Lock()
	db.client = nil
	db.mu.Unlock()
	db.schemas.Clear()
}

func (db *DB) api() (DynamoDBClient, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.client == nil {
		return nil, ErrNotConfigured
	}
	return db.client, nil
}

func (db *DB) describeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	client, err := db.api()
	if err != nil {
		return nil, err
	}
	return client.DescribeTable(ctx, params, optFns...)
}

// logFailure emits a warning for an error that is not returned to the caller.
func (db *DB) logFailure(err error, table, op string) {
	ev := db.log.Warn().Err(err).Str("table", table).Str("op", op)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		ev = ev.Str("code", apiErr.ErrorCode())
	}
	ev.Msg("dynamodb request failed")
}
