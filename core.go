package dynaorm

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	// ErrNotConfigured is returned when an operation runs on a DB without a client.
	ErrNotConfigured = errors.New("dynaorm: no dynamodb client configured")

	// ErrSchemaUnavailable is returned when the key schema of a table cannot be described.
	ErrSchemaUnavailable = errors.New("dynaorm: table key schema unavailable")

	// ErrEmptyKeyCondition is returned when a filtered relation has no key attribute
	// to build a query key condition from.
	ErrEmptyKeyCondition = errors.New("dynaorm: query requires at least one key attribute")

	// ErrItemNotFound is returned when an item is not found in DynamoDB operations.
	ErrItemNotFound = errors.New("dynaorm: item not found")

	// ErrCursorStalled is returned by batch iteration when the cursor stops advancing.
	ErrCursorStalled = errors.New("dynaorm: batch cursor did not advance")

	// ErrTooManyIntents is returned when a transaction buffers more writes than
	// a single TransactWriteItems request accepts.
	ErrTooManyIntents = errors.New("dynaorm: too many writes in transaction")

	// ErrForeignTable is returned when a table-scoped transaction receives a
	// write for another table.
	ErrForeignTable = errors.New("dynaorm: write targets a table outside the transaction scope")

	// ErrEmptyUpdate is returned when an update carries no non-key attributes.
	ErrEmptyUpdate = errors.New("dynaorm: update has no attributes to set")

	// ErrEmptyCandidates is returned when a filter attribute has an empty candidate list.
	ErrEmptyCandidates = errors.New("dynaorm: empty candidate list")
)

// Item is an alias for the dynamodb attribute value map.
type Item = map[string]types.AttributeValue

// Record is a plain decoded item: strings, bools, nil, []byte, nested []any and
// map[string]any values. Numbers decode as [attributevalue.Number] so that keys
// and large integers survive a round trip without losing precision.
type Record = map[string]any

// DynamoDBClient interface for easier testing and connection management.
type DynamoDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// MarshalRecord converts a record into a dynamodb item.
func MarshalRecord(rec Record) (Item, error) {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return item, nil
}

// UnmarshalRecord converts a dynamodb item into a record. A nil item yields a nil record.
func UnmarshalRecord(item Item) (Record, error) {
	if item == nil {
		return nil, nil
	}
	rec := Record{}
	err := attributevalue.UnmarshalMapWithOptions(item, &rec, func(o *attributevalue.DecoderOptions) {
		o.UseNumber = true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return rec, nil
}

// UnmarshalRecords calls [UnmarshalRecord] on each item in items.
func UnmarshalRecords(items []Item) ([]Record, error) {
	records := make([]Record, 0, len(items))
	for i, item := range items {
		rec, err := UnmarshalRecord(item)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal item %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// mergeRecords returns a new record with the attributes of each record applied in order.
func mergeRecords(records ...Record) Record {
	out := Record{}
	for _, rec := range records {
		for k, v := range rec {
			out[k] = v
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
