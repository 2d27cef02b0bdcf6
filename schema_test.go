package dynaorm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/nisimpson/dynaorm/dynamock"
	"github.com/rs/zerolog"
)

// countingDescriber answers DescribeTable with the Music key schema and
// counts requests. A non-nil release channel blocks each request until closed,
// after which a canceled request context fails the request.
type countingDescriber struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
	keys    []types.KeySchemaElement
}

func (d *countingDescriber) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	d.calls.Add(1)
	if d.release != nil {
		<-d.release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{
			TableName: params.TableName,
			KeySchema: d.keys,
		},
	}, nil
}

func musicKeySchema() []types.KeySchemaElement {
	return []types.KeySchemaElement{
		{AttributeName: aws.String("Artist"), KeyType: types.KeyTypeHash},
		{AttributeName: aws.String("SongTitle"), KeyType: types.KeyTypeRange},
	}
}

func TestSchemaCache_Schema(t *testing.T) {
	ctx := context.Background()

	t.Run("fetches once", func(t *testing.T) {
		api := &countingDescriber{keys: musicKeySchema()}
		cache := NewSchemaCache(api, zerolog.Nop())

		for i := 0; i < 3; i++ {
			schema, err := cache.Schema(ctx, "Music")
			if err != nil {
				t.Fatalf("Failed to get schema: %v", err)
			}
			if schema.PartitionKey() != "Artist" || schema.SortKey() != "SongTitle" {
				t.Errorf("Unexpected schema: %+v", schema)
			}
		}

		if n := api.calls.Load(); n != 1 {
			t.Errorf("Expected 1 DescribeTable call, got %d", n)
		}
	})

	t.Run("concurrent first access", func(t *testing.T) {
		api := &countingDescriber{keys: musicKeySchema(), release: make(chan struct{})}
		cache := NewSchemaCache(api, zerolog.Nop())

		var wg sync.WaitGroup
		errs := make(chan error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := cache.Schema(ctx, "Music")
				errs <- err
			}()
		}

		time.Sleep(50 * time.Millisecond)
		close(api.release)
		wg.Wait()
		close(errs)

		for err := range errs {
			if err != nil {
				t.Errorf("Failed to get schema: %v", err)
			}
		}
		if n := api.calls.Load(); n != 1 {
			t.Errorf("Expected 1 DescribeTable call, got %d", n)
		}
	})

	t.Run("canceled caller does not fail joined callers", func(t *testing.T) {
		api := &countingDescriber{keys: musicKeySchema(), release: make(chan struct{})}
		cache := NewSchemaCache(api, zerolog.Nop())

		first, cancel := context.WithCancel(ctx)
		firstErr := make(chan error, 1)
		go func() {
			_, err := cache.Schema(first, "Music")
			firstErr <- err
		}()
		for api.calls.Load() == 0 {
			time.Sleep(time.Millisecond)
		}

		secondErr := make(chan error, 1)
		go func() {
			_, err := cache.Schema(ctx, "Music")
			secondErr <- err
		}()
		time.Sleep(20 * time.Millisecond)

		cancel()
		select {
		case err := <-firstErr:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Expected context.Canceled for the canceled caller, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Expected the canceled caller to return before the describe finished")
		}

		close(api.release)
		if err := <-secondErr; err != nil {
			t.Errorf("Failed to get schema for the joined caller: %v", err)
		}
		if _, err := cache.Schema(ctx, "Music"); err != nil {
			t.Errorf("Failed to get cached schema: %v", err)
		}
		if n := api.calls.Load(); n != 1 {
			t.Errorf("Expected 1 DescribeTable call, got %d", n)
		}
	})

	t.Run("invalidate and clear", func(t *testing.T) {
		api := &countingDescriber{keys: musicKeySchema()}
		cache := NewSchemaCache(api, zerolog.Nop())

		cache.Schema(ctx, "Music")
		cache.Schema(ctx, "Other")
		cache.Invalidate("Music")
		cache.Schema(ctx, "Music")
		cache.Schema(ctx, "Other")
		if n := api.calls.Load(); n != 3 {
			t.Errorf("Expected 3 DescribeTable calls after invalidate, got %d", n)
		}

		cache.Clear()
		cache.Schema(ctx, "Music")
		cache.Schema(ctx, "Other")
		if n := api.calls.Load(); n != 5 {
			t.Errorf("Expected 5 DescribeTable calls after clear, got %d", n)
		}
	})

	t.Run("describe failure", func(t *testing.T) {
		cause := &types.ResourceNotFoundException{Message: aws.String("not found")}
		cache := NewSchemaCache(&countingDescriber{err: cause}, zerolog.Nop())

		_, err := cache.Schema(ctx, "Music")
		if !errors.Is(err, ErrSchemaUnavailable) {
			t.Errorf("Expected ErrSchemaUnavailable, got %v", err)
		}
		var notFound *types.ResourceNotFoundException
		if !errors.As(err, &notFound) {
			t.Errorf("Expected the cause to be preserved, got %v", err)
		}
	})

	t.Run("empty key schema", func(t *testing.T) {
		cache := NewSchemaCache(&countingDescriber{}, zerolog.Nop())
		if _, err := cache.Schema(ctx, "Music"); !errors.Is(err, ErrSchemaUnavailable) {
			t.Errorf("Expected ErrSchemaUnavailable, got %v", err)
		}
	})
}

func TestSchemaCache_IsKeyAttribute(t *testing.T) {
	ctx := context.Background()
	cache := NewSchemaCache(dynamock.NewMemoryClient(musicSpec), zerolog.Nop())

	testCases := []struct {
		attr string
		want bool
	}{
		{"Artist", true},
		{"SongTitle", true},
		{"Genre", false},
		{"artist", false},
	}

	for _, tc := range testCases {
		t.Run(tc.attr, func(t *testing.T) {
			got, err := cache.IsKeyAttribute(ctx, "Music", tc.attr)
			if err != nil {
				t.Fatalf("Failed to classify %s: %v", tc.attr, err)
			}
			if got != tc.want {
				t.Errorf("IsKeyAttribute(%s) = %v, want %v", tc.attr, got, tc.want)
			}
		})
	}

	t.Run("missing table", func(t *testing.T) {
		_, err := cache.IsKeyAttribute(ctx, "Other", "Artist")
		if !errors.Is(err, ErrSchemaUnavailable) {
			t.Errorf("Expected ErrSchemaUnavailable, got %v", err)
		}
		if !dynamock.IsNotFound(err) {
			t.Errorf("Expected ResourceNotFoundException cause, got %v", err)
		}
	})
}

func TestTableSchema_KeyOf(t *testing.T) {
	schema := TableSchema{
		TableName: "Music",
		Keys: []KeyAttribute{
			{Name: "Artist", Role: KeyRolePartition},
			{Name: "SongTitle", Role: KeyRoleSort},
		},
	}

	key := schema.KeyOf(Record{"Artist": "A", "SongTitle": "1", "Genre": "Rock"})
	if len(key) != 2 || key["Artist"] != "A" || key["SongTitle"] != "1" {
		t.Errorf("Unexpected key: %v", key)
	}

	if partial := schema.KeyOf(Record{"Artist": "A"}); len(partial) != 1 {
		t.Errorf("Expected partial key, got %v", partial)
	}
	if schema.KeyOf(nil) != nil {
		t.Error("Expected nil key for nil record")
	}
	if !schema.IsKey("SongTitle") || schema.IsKey("Genre") {
		t.Error("Unexpected IsKey result")
	}
}
