package dynamock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// SeedFromJSON reads a JSON array of objects and writes each object as one
// item. Returns the number of items saved and any errors generated.
func (s *SeedTestData) SeedFromJSON(ctx context.Context, r io.Reader) (int, error) {
	records, err := DecodeJSONRecords(r)
	if err != nil {
		return 0, err
	}
	return s.SeedRecords(ctx, records...)
}

// DecodeJSONRecords parses a JSON array of objects into records.
func DecodeJSONRecords(r io.Reader) ([]map[string]any, error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()

	var raw []map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse JSON document: %w", err)
	}

	for i, record := range raw {
		if record == nil {
			return nil, fmt.Errorf("record at index %d is not an object", i)
		}
		normalizeJSON(record)
	}
	return raw, nil
}

// normalizeJSON replaces json.Number values, which attributevalue would
// encode as strings, with float64 or int64 values.
func normalizeJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		for k, e := range x {
			x[k] = normalizeJSON(e)
		}
	case []any:
		for i, e := range x {
			x[i] = normalizeJSON(e)
		}
	}
	return v
}
