// Package dynamock provides testing utilities for the dynaorm library.
//
// This package includes:
//   - An in-memory DynamoDB fake that evaluates expressions
//   - Expectation-based mock DynamoDB client for unit testing
//   - Local DynamoDB integration utilities
//   - Test data seeding helpers
//   - Integration test utilities with automatic cleanup
//
// # Memory Client
//
// MemoryClient keeps items in memory and answers Query, Scan, GetItem,
// PutItem, UpdateItem, DeleteItem, BatchWriteItem, TransactWriteItems and
// DescribeTable the way DynamoDB would for the expressions dynaorm builds:
//
//	client := dynamock.NewMemoryClient(dynamock.TableSpec{
//		Name:     "Music",
//		HashKey:  "Artist",
//		RangeKey: "SongTitle",
//	})
//	db, _ := dynaorm.New(client)
//
// Calls counts requests per operation and FailNext injects an error into the
// next request of one operation.
//
// # Mock Client
//
// The MockClient provides an expectation-based mock implementation where you set
// expectations for specific operations:
//
//	mock := dynamock.NewMockClient(t, musicSpec)
//
//	mock.QueryFunc = func(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
//		// Verify the operation parameters
//		return &dynamodb.QueryOutput{}, nil
//	}
//
// Operations without an expectation fail the test. When table specs are
// given, DescribeTable answers from them.
//
// # Local DynamoDB
//
//	local := dynamock.NewLocalDynamoDB(8000)
//	if local.IsAvailable(ctx) {
//		err := local.CreateTable(ctx, musicSpec)
//		// ... run tests
//		err = local.DeleteTable(ctx, "Music")
//	}
//
// # Integration Test Helpers
//
//	dynamock.RunIntegrationTest(t, nil, musicSpec, func(local *dynamock.LocalDynamoDB, tableName string) {
//		// Your integration test code here
//	})
//
// # Test Data Seeding
//
//	seeder := dynamock.NewSeedTestData(client, tableName)
//	n, err := seeder.SeedRecords(ctx, map[string]any{"Artist": "A", "SongTitle": "1"})
//	n, err = seeder.SeedFromJSON(ctx, strings.NewReader(`[{"Artist":"B","SongTitle":"2"}]`))
package dynamock
