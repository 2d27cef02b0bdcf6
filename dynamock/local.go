package dynamock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DefaultLocalPort is the default port for DynamoDB Local.
const DefaultLocalPort = 8000

// TableSpec describes the primary key of a table. RangeKey is optional;
// key types default to S.
type TableSpec struct {
	Name         string
	HashKey      string
	HashKeyType  types.ScalarAttributeType
	RangeKey     string
	RangeKeyType types.ScalarAttributeType
}

func (s TableSpec) withDefaults() TableSpec {
	if s.HashKeyType == "" {
		s.HashKeyType = types.ScalarAttributeTypeS
	}
	if s.RangeKey != "" && s.RangeKeyType == "" {
		s.RangeKeyType = types.ScalarAttributeTypeS
	}
	return s
}

func (s TableSpec) keyNames() []string {
	if s.RangeKey == "" {
		return []string{s.HashKey}
	}
	return []string{s.HashKey, s.RangeKey}
}

func (s TableSpec) keySchema() ([]types.AttributeDefinition, []types.KeySchemaElement) {
	s = s.withDefaults()
	defs := []types.AttributeDefinition{{AttributeName: aws.String(s.HashKey), AttributeType: s.HashKeyType}}
	keys := []types.KeySchemaElement{{AttributeName: aws.String(s.HashKey), KeyType: types.KeyTypeHash}}
	if s.RangeKey != "" {
		defs = append(defs, types.AttributeDefinition{AttributeName: aws.String(s.RangeKey), AttributeType: s.RangeKeyType})
		keys = append(keys, types.KeySchemaElement{AttributeName: aws.String(s.RangeKey), KeyType: types.KeyTypeRange})
	}
	return defs, keys
}

// CreateTableInput returns the on-demand CreateTable request for the spec.
func (s TableSpec) CreateTableInput() *dynamodb.CreateTableInput {
	defs, keys := s.keySchema()
	return &dynamodb.CreateTableInput{
		TableName:            aws.String(s.Name),
		AttributeDefinitions: defs,
		KeySchema:            keys,
		BillingMode:          types.BillingModePayPerRequest,
	}
}

func (s TableSpec) description() *types.TableDescription {
	defs, keys := s.keySchema()
	return &types.TableDescription{
		TableName:            aws.String(s.Name),
		AttributeDefinitions: defs,
		KeySchema:            keys,
		TableStatus:          types.TableStatusActive,
	}
}

func specFromCreateTable(in *dynamodb.CreateTableInput) (TableSpec, error) {
	spec := TableSpec{Name: aws.ToString(in.TableName)}
	kinds := make(map[string]types.ScalarAttributeType)
	for _, def := range in.AttributeDefinitions {
		kinds[aws.ToString(def.AttributeName)] = def.AttributeType
	}
	for _, el := range in.KeySchema {
		name := aws.ToString(el.AttributeName)
		switch el.KeyType {
		case types.KeyTypeHash:
			spec.HashKey, spec.HashKeyType = name, kinds[name]
		case types.KeyTypeRange:
			spec.RangeKey, spec.RangeKeyType = name, kinds[name]
		}
	}
	if spec.Name == "" || spec.HashKey == "" {
		return TableSpec{}, validationError("table name and hash key are required")
	}
	return spec.withDefaults(), nil
}

// LocalDynamoDB represents a connection to a local DynamoDB instance.
type LocalDynamoDB struct {
	Client   *dynamodb.Client
	Endpoint string
	Port     int
}

// NewLocalClient creates a DynamoDB client configured to connect to a local DynamoDB instance.
// This is useful for integration testing with DynamoDB Local.
//
// Example usage:
//
//	client := dynamock.NewLocalClient(8000)
//	// Use client with your tests
func NewLocalClient(port int) *dynamodb.Client {
	cfg := aws.Config{
		Region:      "us-east-1", // DynamoDB Local doesn't care about region
		Credentials: aws.AnonymousCredentials{},
	}
	return NewLocalClientFromConfig(cfg, port)
}

// NewLocalClientFromConfig creates a local DynamoDB client using the provided AWS config.
func NewLocalClientFromConfig(cfg aws.Config, port int) *dynamodb.Client {
	endpoint := fmt.Sprintf("http://localhost:%d", port)
	cfg.Credentials = aws.AnonymousCredentials{}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
}

// NewLocalDynamoDB creates a LocalDynamoDB instance with the specified port.
func NewLocalDynamoDB(port int) *LocalDynamoDB {
	return &LocalDynamoDB{
		Client:   NewLocalClient(port),
		Endpoint: fmt.Sprintf("http://localhost:%d", port),
		Port:     port,
	}
}

// NewDefaultLocalDynamoDB creates a LocalDynamoDB instance using the default port (8000).
func NewDefaultLocalDynamoDB() *LocalDynamoDB {
	return NewLocalDynamoDB(DefaultLocalPort)
}

// IsAvailable checks if DynamoDB Local is running on the configured port.
func (l *LocalDynamoDB) IsAvailable(ctx context.Context) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("localhost:%d", l.Port), 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()

	// Try to list tables to verify it's actually DynamoDB
	_, err = l.Client.ListTables(ctx, &dynamodb.ListTablesInput{})
	return err == nil
}

// WaitForAvailable waits for DynamoDB Local to become available.
func (l *LocalDynamoDB) WaitForAvailable(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if l.IsAvailable(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}

	return fmt.Errorf("DynamoDB Local not available at %s after %v", l.Endpoint, timeout)
}

// CreateTable creates a table from spec and waits for it to become active.
func (l *LocalDynamoDB) CreateTable(ctx context.Context, spec TableSpec) error {
	if _, err := l.Client.CreateTable(ctx, spec.CreateTableInput()); err != nil {
		return fmt.Errorf("failed to create table %s: %w", spec.Name, err)
	}
	return l.WaitForTableActive(ctx, spec.Name, 30*time.Second)
}

// WaitForTableActive waits for a table to become active.
func (l *LocalDynamoDB) WaitForTableActive(ctx context.Context, tableName string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		output, err := l.Client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(tableName),
		})
		if err != nil {
			return fmt.Errorf("failed to describe table %s: %w", tableName, err)
		}
		if output.Table.TableStatus == types.TableStatusActive {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}

	return fmt.Errorf("table %s did not become active within %v", tableName, timeout)
}

// DeleteTable deletes a table and waits for it to be fully deleted.
func (l *LocalDynamoDB) DeleteTable(ctx context.Context, tableName string) error {
	_, err := l.Client.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(tableName),
	})
	if err != nil {
		return fmt.Errorf("failed to delete table %s: %w", tableName, err)
	}
	return l.WaitForTableDeleted(ctx, tableName, 30*time.Second)
}

// WaitForTableDeleted waits for a table to be fully deleted.
func (l *LocalDynamoDB) WaitForTableDeleted(ctx context.Context, tableName string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		_, err := l.Client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(tableName),
		})
		if err != nil {
			var notFoundErr *types.ResourceNotFoundException
			if errors.As(err, &notFoundErr) {
				return nil
			}
			return fmt.Errorf("error checking table deletion status: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}

	return fmt.Errorf("table %s was not deleted within %v", tableName, timeout)
}

// ListTables returns all table names in the local DynamoDB instance.
func (l *LocalDynamoDB) ListTables(ctx context.Context) ([]string, error) {
	output, err := l.Client.ListTables(ctx, &dynamodb.ListTablesInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return output.TableNames, nil
}
