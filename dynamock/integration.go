package dynamock

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// maxBatchWrite is the BatchWriteItem request limit.
const maxBatchWrite = 25

// TableManager manages DynamoDB tables for testing, providing automatic cleanup.
type TableManager struct {
	local  *LocalDynamoDB
	tables []string // track created tables for cleanup
}

// NewTableManager creates a new table manager with the given DynamoDB client.
func NewTableManager(client *dynamodb.Client) *TableManager {
	return &TableManager{local: &LocalDynamoDB{Client: client}}
}

// CreateTestTable creates a table from spec and tracks it for cleanup.
func (tm *TableManager) CreateTestTable(ctx context.Context, spec TableSpec) error {
	if err := tm.local.CreateTable(ctx, spec); err != nil {
		return err
	}
	tm.tables = append(tm.tables, spec.Name)
	return nil
}

// Cleanup deletes all tables created by this manager.
func (tm *TableManager) Cleanup(ctx context.Context) error {
	for _, tableName := range tm.tables {
		if err := tm.local.DeleteTable(ctx, tableName); err != nil {
			return fmt.Errorf("failed to delete table %s: %w", tableName, err)
		}
	}
	tm.tables = tm.tables[:0]
	return nil
}

// GetTableNames returns the names of all tables managed by this manager.
func (tm *TableManager) GetTableNames() []string {
	names := make([]string, len(tm.tables))
	copy(names, tm.tables)
	return names
}

// WithIsolatedTable runs fn against a uniquely named copy of spec that is
// deleted afterwards.
func WithIsolatedTable(t *testing.T, client *dynamodb.Client, spec TableSpec, fn func(tableName string)) {
	ctx := context.Background()
	spec.Name = NewTestTable(sanitizeTableName(spec.Name + "-" + t.Name()))

	tm := NewTableManager(client)
	defer func() {
		if err := tm.Cleanup(ctx); err != nil {
			t.Errorf("Failed to cleanup table %s: %v", spec.Name, err)
		}
	}()

	if err := tm.CreateTestTable(ctx, spec); err != nil {
		t.Fatalf("Failed to create test table %s: %v", spec.Name, err)
	}

	fn(spec.Name)
}

// WithLocalDynamoDB runs a test function with a local DynamoDB instance.
// It checks if DynamoDB Local is available and skips the test if not.
func WithLocalDynamoDB(t *testing.T, port int, fn func(local *LocalDynamoDB)) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	local := NewLocalDynamoDB(port)
	if !local.IsAvailable(context.Background()) {
		t.Skipf("DynamoDB Local not available on port %d", port)
	}

	fn(local)
}

// WithDefaultLocalDynamoDB runs a test function with the default local DynamoDB instance (port 8000).
func WithDefaultLocalDynamoDB(t *testing.T, fn func(local *LocalDynamoDB)) {
	WithLocalDynamoDB(t, DefaultLocalPort, fn)
}

// NewTestTable generates a unique table name for testing.
func NewTestTable(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// sanitizeTableName keeps the characters DynamoDB allows in table names.
func sanitizeTableName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			return r
		}
		return '_'
	}, name)
}

// ItemWriter is the subset of the DynamoDB API used for seeding.
type ItemWriter interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// SeedTestData is a helper for seeding test data into a table.
type SeedTestData struct {
	client    ItemWriter
	tableName string
}

// NewSeedTestData creates a new test data seeder.
func NewSeedTestData(client ItemWriter, tableName string) *SeedTestData {
	return &SeedTestData{
		client:    client,
		tableName: tableName,
	}
}

// SeedRecord marshals a record with attributevalue and puts it into the table.
func (s *SeedTestData) SeedRecord(ctx context.Context, record map[string]any) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put record: %w", err)
	}
	return nil
}

// SeedRecords writes records in batches of 25 and returns how many were
// accepted. Unprocessed items are reported as an error.
func (s *SeedTestData) SeedRecords(ctx context.Context, records ...map[string]any) (int, error) {
	count := 0
	for start := 0; start < len(records); start += maxBatchWrite {
		end := min(start+maxBatchWrite, len(records))

		requests := make([]types.WriteRequest, 0, end-start)
		for i, record := range records[start:end] {
			item, err := attributevalue.MarshalMap(record)
			if err != nil {
				return count, fmt.Errorf("failed to marshal record at index %d: %w", start+i, err)
			}
			requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
		}

		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{s.tableName: requests},
		})
		if err != nil {
			return count, fmt.Errorf("failed to batch write: %w", err)
		}
		if n := len(out.UnprocessedItems[s.tableName]); n > 0 {
			return count + len(requests) - n, fmt.Errorf("failed to batch write: %d unprocessed items", n)
		}
		count += len(requests)
	}
	return count, nil
}

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	Port             int
	SkipIfNotRunning bool
	TablePrefix      string
	CleanupTimeout   time.Duration
}

// DefaultIntegrationTestConfig returns a default configuration for integration tests.
func DefaultIntegrationTestConfig() *IntegrationTestConfig {
	return &IntegrationTestConfig{
		Port:             DefaultLocalPort,
		SkipIfNotRunning: true,
		TablePrefix:      "integration-test",
		CleanupTimeout:   30 * time.Second,
	}
}

// RunIntegrationTest creates a uniquely named table with the key schema of
// spec on DynamoDB Local, runs fn and deletes the table.
func RunIntegrationTest(t *testing.T, config *IntegrationTestConfig, spec TableSpec, fn func(local *LocalDynamoDB, tableName string)) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	if config == nil {
		config = DefaultIntegrationTestConfig()
	}

	local := NewLocalDynamoDB(config.Port)
	ctx := context.Background()

	if !local.IsAvailable(ctx) {
		if config.SkipIfNotRunning {
			t.Skipf("DynamoDB Local not available on port %d", config.Port)
		} else {
			t.Fatalf("DynamoDB Local not available on port %d", config.Port)
		}
	}

	spec.Name = NewTestTable(config.TablePrefix)
	if err := local.CreateTable(ctx, spec); err != nil {
		t.Fatalf("Failed to create test table %s: %v", spec.Name, err)
	}

	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), config.CleanupTimeout)
		defer cancel()

		if err := local.DeleteTable(cleanupCtx, spec.Name); err != nil {
			t.Errorf("Failed to cleanup table %s: %v", spec.Name, err)
		}
	}()

	fn(local, spec.Name)
}

// TableDescriber is implemented by clients able to describe tables.
type TableDescriber interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// AssertTableExists verifies that a table exists.
func AssertTableExists(t *testing.T, client TableDescriber, tableName string) {
	t.Helper()
	_, err := client.DescribeTable(context.Background(), &dynamodb.DescribeTableInput{
		TableName: &tableName,
	})
	if err != nil {
		t.Errorf("Table %s does not exist: %v", tableName, err)
	}
}

// AssertTableNotExists verifies that a table does not exist.
func AssertTableNotExists(t *testing.T, client TableDescriber, tableName string) {
	t.Helper()
	_, err := client.DescribeTable(context.Background(), &dynamodb.DescribeTableInput{
		TableName: &tableName,
	})
	if err == nil {
		t.Errorf("Table %s should not exist but it does", tableName)
	}
}
