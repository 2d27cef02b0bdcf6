package dynaorm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/nisimpson/dynaorm/dynamock"
	"github.com/nisimpson/dynaorm/dynamock/assert"
	"github.com/rs/zerolog"
)

func TestTable_Create(t *testing.T) {
	ctx := context.Background()
	db, client := newMusicDB(t)
	music := db.Table("Music")

	first, err := music.Create(ctx, Record{"Artist": "A", "SongTitle": "1", "Genre": "Rock"})
	if err != nil {
		t.Fatalf("Failed to create record: %v", err)
	}
	if !first.Confirmed() || first.Previous != nil {
		t.Errorf("Expected confirmed create without previous record, got %+v", first)
	}
	if first.Item["Genre"] != "Rock" {
		t.Errorf("Expected item to echo the record, got %v", first.Item)
	}

	second, err := music.Create(ctx, Record{"Artist": "A", "SongTitle": "1", "Genre": "Jazz"})
	if err != nil {
		t.Fatalf("Failed to replace record: %v", err)
	}
	if second.Previous["Genre"] != "Rock" {
		t.Errorf("Expected previous Genre Rock, got %v", second.Previous)
	}

	assert.Items(t, client.Items("Music")).
		HasCount(1).
		HasAttribute("Genre", "Jazz")
}

func TestTable_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("sets non-key attributes", func(t *testing.T) {
		db, _ := newMusicDB(t)
		music := db.Table("Music")
		music.Create(ctx, Record{"Artist": "A", "SongTitle": "1", "Genre": "Rock", "Year": 2001})

		result, err := music.Update(ctx, song("A", "1"), Record{"Genre": "Jazz", "Artist": "ignored"})
		if err != nil {
			t.Fatalf("Failed to update: %v", err)
		}

		if !result.Confirmed() {
			t.Error("Expected a confirmed update")
		}
		if result.Item["Genre"] != "Jazz" || result.Item["Artist"] != "A" || result.Item["Year"] != attributevalue.Number("2001") {
			t.Errorf("Unexpected updated record: %v", result.Item)
		}
	})

	t.Run("creates a missing record", func(t *testing.T) {
		db, client := newMusicDB(t)
		music := db.Table("Music")

		if _, err := music.Update(ctx, song("A", "9"), Record{"Genre": "Pop"}); err != nil {
			t.Fatalf("Failed to update: %v", err)
		}
		assert.Items(t, client.Items("Music")).
			HasCount(1).
			ContainsKey(map[string]any{"Artist": "A", "SongTitle": "9", "Genre": "Pop"})
	})

	t.Run("key attributes only", func(t *testing.T) {
		db, _ := newMusicDB(t)
		_, err := db.Table("Music").Update(ctx, song("A", "1"), Record{"Artist": "B"})
		if !errors.Is(err, ErrEmptyUpdate) {
			t.Errorf("Expected ErrEmptyUpdate, got %v", err)
		}
	})

	t.Run("incomplete key", func(t *testing.T) {
		db, _ := newMusicDB(t)
		if _, err := db.Table("Music").Update(ctx, Record{"Artist": "A"}, Record{"Genre": "Pop"}); err == nil {
			t.Error("Expected error for a key without SongTitle")
		}
	})

	t.Run("request shape", func(t *testing.T) {
		mock := dynamock.NewMockClient(t, musicSpec)
		var got *dynamodb.UpdateItemInput
		mock.UpdateFunc = func(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			got = params
			return &dynamodb.UpdateItemOutput{}, nil
		}

		db, _ := New(mock)
		if _, err := db.Table("Music").Update(ctx, Record{"Artist": "A", "SongTitle": "1", "Genre": "x"}, Record{"Year": 2001, "Genre": "Pop"}); err != nil {
			t.Fatalf("Failed to update: %v", err)
		}

		if got.ReturnValues != types.ReturnValueAllNew {
			t.Errorf("Expected ALL_NEW, got %s", got.ReturnValues)
		}
		if len(got.Key) != 2 {
			t.Errorf("Expected a 2 attribute key, got %v", got.Key)
		}
		if !strings.HasPrefix(aws.ToString(got.UpdateExpression), "SET ") {
			t.Errorf("Expected a SET expression, got %s", aws.ToString(got.UpdateExpression))
		}
		if len(got.ExpressionAttributeValues) != 2 {
			t.Errorf("Expected 2 values, got %v", got.ExpressionAttributeValues)
		}
	})
}

func TestTable_Delete(t *testing.T) {
	ctx := context.Background()
	db, client := newMusicDB(t)
	music := db.Table("Music")
	music.Create(ctx, Record{"Artist": "A", "SongTitle": "1", "Genre": "Rock"})

	result, err := music.Delete(ctx, Record{"Artist": "A", "SongTitle": "1", "Genre": "ignored"})
	if err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if result.Item["Genre"] != "Rock" {
		t.Errorf("Expected the removed record, got %v", result.Item)
	}
	if client.Len("Music") != 0 {
		t.Errorf("Expected empty table, got %d items", client.Len("Music"))
	}

	missing, err := music.Delete(ctx, song("A", "1"))
	if err != nil {
		t.Fatalf("Failed to delete missing record: %v", err)
	}
	if missing.Item != nil || !missing.Confirmed() {
		t.Errorf("Expected confirmed nil item, got %+v", missing)
	}
}

func TestTable_TryDelete(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	db, client := newMusicDB(t, WithLogger(zerolog.New(&buf)))
	music := db.Table("Music")
	music.Create(ctx, song("A", "1"))

	if !music.TryDelete(ctx, song("A", "1")) {
		t.Error("Expected TryDelete to succeed")
	}

	client.FailNext("DeleteItem", &types.ConditionalCheckFailedException{Message: aws.String("check failed")})
	if music.TryDelete(ctx, song("A", "2")) {
		t.Error("Expected TryDelete to report the failure")
	}

	out := buf.String()
	if !strings.Contains(out, `"code":"ConditionalCheckFailedException"`) || !strings.Contains(out, `"op":"delete"`) {
		t.Errorf("Expected a warning with the error code, got %s", out)
	}

	if music.TryDelete(ctx, Record{"Artist": "A"}) {
		t.Error("Expected TryDelete to fail for an incomplete key")
	}
}

func TestTable_FindBy(t *testing.T) {
	ctx := context.Background()
	db, _ := newMusicDB(t)
	music := db.Table("Music")
	music.Create(ctx, Record{"Artist": "A", "SongTitle": "1", "Genre": "Rock"})

	rec, err := music.FindBy(ctx, Record{"Artist": "A", "SongTitle": "1", "Genre": "ignored"})
	if err != nil {
		t.Fatalf("Failed to find record: %v", err)
	}
	if rec["Genre"] != "Rock" {
		t.Errorf("Expected Genre Rock, got %v", rec["Genre"])
	}

	if _, err := music.FindBy(ctx, song("A", "2")); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}
}

func TestTable_FindByAll(t *testing.T) {
	ctx := context.Background()
	db, _ := newMusicDB(t)
	music := db.Table("Music")
	music.Import(ctx, []Record{
		{"Artist": "A", "SongTitle": "1", "Genre": "Rock"},
		{"Artist": "A", "SongTitle": "2", "Genre": "Jazz"},
		{"Artist": "A", "SongTitle": "3", "Genre": "Rock"},
	})

	records, err := music.FindByAll(ctx, Where("Artist", "A").And("Genre", "Rock"))
	if err != nil {
		t.Fatalf("Failed to find records: %v", err)
	}
	assert.Records(t, records).
		HasCount(2).
		AllMatch(map[string]any{"Genre": "Rock"}).
		OrderedBy("SongTitle")
}

func TestTable_All(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		db, _ := newMusicDB(t)
		music := db.Table("Music")
		seedSongs(t, music, "A", "1", "2")
		seedSongs(t, music, "B", "1")

		records, err := music.All(ctx)
		if err != nil {
			t.Fatalf("Failed to read table: %v", err)
		}
		if len(records) != 3 {
			t.Errorf("Expected 3 records, got %d", len(records))
		}
	})

	t.Run("follows pages", func(t *testing.T) {
		mock := dynamock.NewMockClient(t, musicSpec)
		calls := 0
		mock.ScanFunc = func(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
			calls++
			item := Item{
				"Artist":    &types.AttributeValueMemberS{Value: "A"},
				"SongTitle": &types.AttributeValueMemberS{Value: fmt.Sprint(calls)},
			}
			out := &dynamodb.ScanOutput{Items: []Item{item}}
			if calls < 3 {
				out.LastEvaluatedKey = item
			}
			return out, nil
		}

		db, _ := New(mock)
		records, err := db.Table("Music").All(ctx)
		if err != nil {
			t.Fatalf("Failed to read table: %v", err)
		}
		if len(records) != 3 || calls != 3 {
			t.Errorf("Expected 3 records over 3 pages, got %d over %d", len(records), calls)
		}
	})
}

func TestTable_Import(t *testing.T) {
	ctx := context.Background()

	t.Run("chunks requests", func(t *testing.T) {
		db, client := newMusicDB(t)
		music := db.Table("Music")

		records := make([]Record, 60)
		for i := range records {
			records[i] = song("A", fmt.Sprintf("%03d", i))
		}

		unprocessed, err := music.Import(ctx, records)
		if err != nil {
			t.Fatalf("Failed to import: %v", err)
		}
		if len(unprocessed) != 0 {
			t.Errorf("Expected no unprocessed records, got %d", len(unprocessed))
		}
		if calls := client.Calls("BatchWriteItem"); calls != 3 {
			t.Errorf("Expected 3 BatchWriteItem calls, got %d", calls)
		}
		if client.Len("Music") != 60 {
			t.Errorf("Expected 60 items, got %d", client.Len("Music"))
		}
	})

	t.Run("returns unprocessed records", func(t *testing.T) {
		mock := dynamock.NewMockClient(t)
		mock.BatchWriteItemFunc = func(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
			reqs := params.RequestItems["Music"]
			return &dynamodb.BatchWriteItemOutput{
				UnprocessedItems: map[string][]types.WriteRequest{"Music": reqs[len(reqs)-1:]},
			}, nil
		}

		db, _ := New(mock)
		unprocessed, err := db.Table("Music").Import(ctx, []Record{song("A", "1"), song("A", "2")})
		if err != nil {
			t.Fatalf("Failed to import: %v", err)
		}
		if len(unprocessed) != 1 || unprocessed[0]["SongTitle"] != "2" {
			t.Errorf("Expected song 2 unprocessed, got %v", unprocessed)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		db, client := newMusicDB(t)
		unprocessed, err := db.Table("Music").Import(ctx, nil)
		if err != nil || len(unprocessed) != 0 {
			t.Errorf("Expected no-op, got %v, %v", unprocessed, err)
		}
		if client.Calls("BatchWriteItem") != 0 {
			t.Error("Expected no BatchWriteItem call")
		}
	})
}

func TestTable_DeleteAll(t *testing.T) {
	ctx := context.Background()
	db, client := newMusicDB(t)
	music := db.Table("Music")

	titles := make([]string, 30)
	for i := range titles {
		titles[i] = fmt.Sprintf("%02d", i)
	}
	seedSongs(t, music, "A", titles...)
	seedSongs(t, music, "B", "keep")

	records, err := music.Where(Where("Artist", "A")).Load(ctx)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}

	before := client.Calls("BatchWriteItem")
	unprocessed, err := music.DeleteAll(ctx, records)
	if err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if len(unprocessed) != 0 {
		t.Errorf("Expected no unprocessed keys, got %d", len(unprocessed))
	}
	if calls := client.Calls("BatchWriteItem") - before; calls != 2 {
		t.Errorf("Expected 2 BatchWriteItem calls, got %d", calls)
	}

	assert.Items(t, client.Items("Music")).
		HasCount(1).
		ContainsKey(map[string]any{"Artist": "B", "SongTitle": "keep"})
}
