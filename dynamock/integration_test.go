package dynamock

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func TestNewTableManager(t *testing.T) {
	client := NewLocalClient(8000)
	tm := NewTableManager(client)

	if tm == nil {
		t.Fatal("NewTableManager returned nil")
	}

	if tm.local.Client != client {
		t.Error("TableManager client not set correctly")
	}

	if len(tm.tables) != 0 {
		t.Error("TableManager should start with empty table list")
	}
}

func TestTableManager_GetTableNames(t *testing.T) {
	tm := NewTableManager(NewLocalClient(8000))

	names := tm.GetTableNames()
	if len(names) != 0 {
		t.Error("Expected empty table names initially")
	}

	// Add some table names manually (simulating table creation)
	tm.tables = append(tm.tables, "table1", "table2")

	names = tm.GetTableNames()
	if len(names) != 2 {
		t.Errorf("Expected 2 table names, got %d", len(names))
	}

	names[0] = "modified"
	if tm.tables[0] == "modified" {
		t.Error("GetTableNames should return a copy, not the original slice")
	}
}

func TestNewTestTable(t *testing.T) {
	name1 := NewTestTable("test")
	time.Sleep(1 * time.Millisecond)
	name2 := NewTestTable("test")

	if name1 == name2 {
		t.Error("NewTestTable should generate unique names")
	}

	if !strings.HasPrefix(name1, "test-") {
		t.Errorf("expected prefix test-, got %s", name1)
	}
}

func TestSanitizeTableName(t *testing.T) {
	got := sanitizeTableName("Music-TestFoo/sub test")
	if got != "Music-TestFoo_sub_test" {
		t.Errorf("expected Music-TestFoo_sub_test, got %s", got)
	}
}

func TestNewSeedTestData(t *testing.T) {
	client := NewMemoryClient(musicSpec)
	seeder := NewSeedTestData(client, "Music")

	if seeder == nil {
		t.Fatal("NewSeedTestData returned nil")
	}

	if seeder.client != client {
		t.Error("SeedTestData client not set correctly")
	}

	if seeder.tableName != "Music" {
		t.Errorf("Expected table name Music, got %s", seeder.tableName)
	}
}

func TestSeedTestData_SeedRecords(t *testing.T) {
	ctx := context.Background()

	t.Run("single record", func(t *testing.T) {
		client := NewMemoryClient(musicSpec)
		seeder := NewSeedTestData(client, "Music")

		err := seeder.SeedRecord(ctx, map[string]any{"Artist": "A", "SongTitle": "1", "Year": 2001})
		if err != nil {
			t.Fatalf("Failed to seed record: %v", err)
		}

		items := client.Items("Music")
		if len(items) != 1 {
			t.Fatalf("Expected 1 item, got %d", len(items))
		}
		if n, ok := items[0]["Year"].(*types.AttributeValueMemberN); !ok || n.Value != "2001" {
			t.Errorf("Expected Year N 2001, got %#v", items[0]["Year"])
		}
	})

	t.Run("chunks into batches of 25", func(t *testing.T) {
		client := NewMemoryClient(musicSpec)
		seeder := NewSeedTestData(client, "Music")

		records := make([]map[string]any, 60)
		for i := range records {
			records[i] = map[string]any{"Artist": "A", "SongTitle": fmt.Sprintf("%03d", i)}
		}

		n, err := seeder.SeedRecords(ctx, records...)
		if err != nil {
			t.Fatalf("Failed to seed records: %v", err)
		}
		if n != 60 {
			t.Errorf("Expected 60 records seeded, got %d", n)
		}
		if calls := client.Calls("BatchWriteItem"); calls != 3 {
			t.Errorf("Expected 3 BatchWriteItem calls, got %d", calls)
		}
		if client.Len("Music") != 60 {
			t.Errorf("Expected 60 items, got %d", client.Len("Music"))
		}
	})

	t.Run("reports unprocessed items", func(t *testing.T) {
		mock := NewMockClient(t)
		mock.BatchWriteItemFunc = func(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
			reqs := params.RequestItems["Music"]
			return &dynamodb.BatchWriteItemOutput{
				UnprocessedItems: map[string][]types.WriteRequest{"Music": reqs[:1]},
			}, nil
		}

		seeder := NewSeedTestData(mock, "Music")
		n, err := seeder.SeedRecords(ctx,
			map[string]any{"Artist": "A", "SongTitle": "1"},
			map[string]any{"Artist": "A", "SongTitle": "2"},
		)
		if err == nil {
			t.Fatal("Expected error for unprocessed items")
		}
		if n != 1 {
			t.Errorf("Expected 1 record accepted, got %d", n)
		}
	})
}

func TestDefaultIntegrationTestConfig(t *testing.T) {
	config := DefaultIntegrationTestConfig()

	if config == nil {
		t.Fatal("DefaultIntegrationTestConfig returned nil")
	}

	if config.Port != DefaultLocalPort {
		t.Errorf("Expected port %d, got %d", DefaultLocalPort, config.Port)
	}

	if !config.SkipIfNotRunning {
		t.Error("Expected SkipIfNotRunning to be true")
	}

	if config.TablePrefix == "" {
		t.Error("Expected non-empty TablePrefix")
	}

	if config.CleanupTimeout <= 0 {
		t.Error("Expected positive CleanupTimeout")
	}
}

func TestAssertTableExists(t *testing.T) {
	client := NewMemoryClient(musicSpec)

	AssertTableExists(t, client, "Music")
	AssertTableNotExists(t, client, "Other")
}

func TestWithLocalDynamoDB_Integration(t *testing.T) {
	WithDefaultLocalDynamoDB(t, func(local *LocalDynamoDB) {
		if _, err := local.ListTables(context.Background()); err != nil {
			t.Errorf("Failed to list tables: %v", err)
		}
	})
}

func TestWithIsolatedTable_Integration(t *testing.T) {
	WithDefaultLocalDynamoDB(t, func(local *LocalDynamoDB) {
		WithIsolatedTable(t, local.Client, musicSpec, func(tableName string) {
			AssertTableExists(t, local.Client, tableName)
		})
	})
}

// TestRunIntegrationTest_Integration seeds and queries a table on DynamoDB Local.
func TestRunIntegrationTest_Integration(t *testing.T) {
	config := DefaultIntegrationTestConfig()
	config.TablePrefix = "test-runner"

	RunIntegrationTest(t, config, musicSpec, func(local *LocalDynamoDB, tableName string) {
		AssertTableExists(t, local.Client, tableName)

		ctx := context.Background()
		seeder := NewSeedTestData(local.Client, tableName)
		_, err := seeder.SeedRecords(ctx,
			map[string]any{"Artist": "No One You Know", "SongTitle": "Call Me Today", "Genre": "Country"},
			map[string]any{"Artist": "No One You Know", "SongTitle": "My Dog Spot", "Genre": "Country"},
			map[string]any{"Artist": "The Acme Band", "SongTitle": "Happy Day", "Genre": "Rock"},
		)
		if err != nil {
			t.Fatalf("Failed to seed records: %v", err)
		}

		result, err := local.Client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(tableName),
			KeyConditionExpression:    aws.String("#a = :a"),
			ExpressionAttributeNames:  map[string]string{"#a": "Artist"},
			ExpressionAttributeValues: map[string]types.AttributeValue{":a": &types.AttributeValueMemberS{Value: "No One You Know"}},
		})
		if err != nil {
			t.Fatalf("Failed to query: %v", err)
		}

		if len(result.Items) != 2 {
			t.Errorf("Expected 2 items, got %d", len(result.Items))
		}
	})
}

// Example of how to use RunIntegrationTest
func ExampleRunIntegrationTest() {
	t := &testing.T{} // In real usage, this would be passed from your test function
	spec := TableSpec{Name: "Music", HashKey: "Artist", RangeKey: "SongTitle"}

	RunIntegrationTest(t, nil, spec, func(local *LocalDynamoDB, tableName string) {
		seeder := NewSeedTestData(local.Client, tableName)
		_, _ = seeder.SeedRecords(context.Background(), map[string]any{"Artist": "A", "SongTitle": "1"})
	})
}
