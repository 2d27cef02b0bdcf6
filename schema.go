package dynaorm

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// KeyRole identifies the part a key attribute plays in the primary key.
type KeyRole string

const (
	KeyRolePartition KeyRole = "HASH"
	KeyRoleSort      KeyRole = "RANGE"
)

// KeyAttribute is one element of a table's primary key.
type KeyAttribute struct {
	Name string
	Role KeyRole
}

// TableSchema is the primary key schema of a table.
type TableSchema struct {
	TableName string
	Keys      []KeyAttribute
}

// IsKey reports whether name is part of the primary key.
func (s TableSchema) IsKey(name string) bool {
	for _, k := range s.Keys {
		if k.Name == name {
			return true
		}
	}
	return false
}

// PartitionKey returns the name of the partition key attribute.
func (s TableSchema) PartitionKey() string {
	for _, k := range s.Keys {
		if k.Role == KeyRolePartition {
			return k.Name
		}
	}
	return ""
}

// SortKey returns the name of the sort key attribute, or an empty string
// for tables with a simple primary key.
func (s TableSchema) SortKey() string {
	for _, k := range s.Keys {
		if k.Role == KeyRoleSort {
			return k.Name
		}
	}
	return ""
}

// KeyOf projects rec onto the key attributes. Missing key attributes are omitted.
func (s TableSchema) KeyOf(rec Record) Record {
	if rec == nil {
		return nil
	}
	key := Record{}
	for _, k := range s.Keys {
		if v, ok := rec[k.Name]; ok {
			key[k.Name] = v
		}
	}
	return key
}

// TableDescriber is the subset of the dynamodb API the schema cache needs.
type TableDescriber interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

type describerFunc func(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)

func (f describerFunc) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return f(ctx, params, optFns...)
}

// SchemaCache memoizes table key schemas. Schemas are fetched lazily with
// DescribeTable on first use; concurrent first lookups of one table share a
// single request.
type SchemaCache struct {
	api    TableDescriber
	log    zerolog.Logger
	group  singleflight.Group
	mu     sync.RWMutex
	tables map[string]TableSchema
}

// NewSchemaCache creates an empty cache backed by api.
func NewSchemaCache(api TableDescriber, logger zerolog.Logger) *SchemaCache {
	return &SchemaCache{
		api:    api,
		log:    logger,
		tables: make(map[string]TableSchema),
	}
}

// Schema returns the key schema of table, describing it on a cache miss.
func (c *SchemaCache) Schema(ctx context.Context, table string) (TableSchema, error) {
	c.mu.RLock()
	schema, ok := c.tables[table]
	c.mu.RUnlock()
	if ok {
		return schema, nil
	}

	// The shared describe outlives any one caller; each caller still honors
	// its own context.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(table, func() (any, error) {
		return c.fetch(fetchCtx, table)
	})
	select {
	case <-ctx.Done():
		return TableSchema{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return TableSchema{}, res.Err
		}
		return res.Val.(TableSchema), nil
	}
}

// IsKeyAttribute reports whether attr is part of the primary key of table.
func (c *SchemaCache) IsKeyAttribute(ctx context.Context, table, attr string) (bool, error) {
	schema, err := c.Schema(ctx, table)
	if err != nil {
		return false, err
	}
	return schema.IsKey(attr), nil
}

// Invalidate drops the cached schema of table.
func (c *SchemaCache) Invalidate(table string) {
	c.mu.Lock()
	delete(c.tables, table)
	c.mu.Unlock()
}

// Clear drops every cached schema.
func (c *SchemaCache) Clear() {
	c.mu.Lock()
	c.tables = make(map[string]TableSchema)
	c.mu.Unlock()
}

func (c *SchemaCache) fetch(ctx context.Context, table string) (TableSchema, error) {
	out, err := c.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	})
	if err != nil {
		return TableSchema{}, fmt.Errorf("%w: failed to describe table %s: %w", ErrSchemaUnavailable, table, err)
	}

	if out == nil || out.Table == nil || len(out.Table.KeySchema) == 0 {
		return TableSchema{}, fmt.Errorf("%w: table %s has no key schema", ErrSchemaUnavailable, table)
	}

	schema := TableSchema{TableName: table}
	for _, el := range out.Table.KeySchema {
		role := KeyRolePartition
		if el.KeyType == types.KeyTypeRange {
			role = KeyRoleSort
		}
		schema.Keys = append(schema.Keys, KeyAttribute{
			Name: aws.ToString(el.AttributeName),
			Role: role,
		})
	}

	c.mu.Lock()
	c.tables[table] = schema
	c.mu.Unlock()

	c.log.Debug().Str("table", table).Int("keys", len(schema.Keys)).Msg("described table key schema")
	return schema, nil
}
