// Package assert provides fluent assertion utilities for testing DynamoDB
// operations and the records dynaorm returns. Values are compared after a
// round trip through the attributevalue package, so 3, int64(3) and
// float64(3) are equal.
//
// # Usage
//
//	import "github.com/nisimpson/dynaorm/dynamock/assert"
//
//	// Assert on DynamoDB items
//	assert.Items(t, client.Items("Music")).
//		HasCount(3).
//		ContainsKey(map[string]any{"Artist": "A", "SongTitle": "1"}).
//		HasAttribute("Genre", "Rock")
//
//	// Assert on decoded records
//	assert.Records(t, songs).
//		HasCount(2).
//		AllMatch(map[string]any{"Artist": "A"}).
//		OrderedBy("SongTitle")
package assert

import (
	"fmt"
	"reflect"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// TestingT is the part of *testing.T the assertions report to.
type TestingT interface {
	Helper()
	Error(args ...any)
	Errorf(format string, args ...any)
}

// normalize maps v onto the values attributevalue decodes to.
func normalize(v any) any {
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := attributevalue.Unmarshal(av, &out); err != nil {
		return v
	}
	return out
}

func equalValues(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func decodeItem(item map[string]types.AttributeValue) map[string]any {
	var record map[string]any
	if err := attributevalue.UnmarshalMap(item, &record); err != nil {
		return nil
	}
	return record
}

func matches(record, want map[string]any) bool {
	for name, v := range want {
		got, ok := record[name]
		if !ok || !equalValues(got, v) {
			return false
		}
	}
	return true
}

// ItemsAssertion provides fluent assertions for DynamoDB items.
type ItemsAssertion struct {
	t     TestingT
	items []map[string]types.AttributeValue
}

// Items creates a new ItemsAssertion for the given DynamoDB items.
func Items(t TestingT, items []map[string]types.AttributeValue) *ItemsAssertion {
	return &ItemsAssertion{
		t:     t,
		items: items,
	}
}

// HasCount asserts that the items collection has the expected count.
func (a *ItemsAssertion) HasCount(expected int) *ItemsAssertion {
	a.t.Helper()
	if len(a.items) != expected {
		a.t.Errorf("expected %d items, got %d", expected, len(a.items))
	}
	return a
}

// IsEmpty asserts that the items collection is empty.
func (a *ItemsAssertion) IsEmpty() *ItemsAssertion {
	a.t.Helper()
	return a.HasCount(0)
}

// IsNotEmpty asserts that the items collection is not empty.
func (a *ItemsAssertion) IsNotEmpty() *ItemsAssertion {
	a.t.Helper()
	if len(a.items) == 0 {
		a.t.Error("expected items to not be empty")
	}
	return a
}

// ContainsKey asserts that one item carries every attribute of key.
func (a *ItemsAssertion) ContainsKey(key map[string]any) *ItemsAssertion {
	a.t.Helper()
	for _, item := range a.items {
		if matches(decodeItem(item), key) {
			return a
		}
	}
	a.t.Errorf("expected to find item with key %v in items", key)
	return a
}

// LacksKey asserts that no item carries every attribute of key.
func (a *ItemsAssertion) LacksKey(key map[string]any) *ItemsAssertion {
	a.t.Helper()
	for _, item := range a.items {
		if matches(decodeItem(item), key) {
			a.t.Errorf("expected no item with key %v in items", key)
			return a
		}
	}
	return a
}

// HasAttribute asserts that at least one item has the specified attribute with the expected value.
func (a *ItemsAssertion) HasAttribute(attributeName string, expectedValue any) *ItemsAssertion {
	a.t.Helper()
	for _, item := range a.items {
		if matches(decodeItem(item), map[string]any{attributeName: expectedValue}) {
			return a
		}
	}
	a.t.Errorf("expected to find attribute %s with value %v in items", attributeName, expectedValue)
	return a
}

// RecordsAssertion provides fluent assertions for decoded records.
type RecordsAssertion struct {
	t       TestingT
	records []map[string]any
}

// Records creates a new RecordsAssertion for the given records.
func Records(t TestingT, records []map[string]any) *RecordsAssertion {
	return &RecordsAssertion{t: t, records: records}
}

// HasCount asserts that the records collection has the expected count.
func (a *RecordsAssertion) HasCount(expected int) *RecordsAssertion {
	a.t.Helper()
	if len(a.records) != expected {
		a.t.Errorf("expected %d records, got %d", expected, len(a.records))
	}
	return a
}

// Contains asserts that one record matches every attribute of want.
func (a *RecordsAssertion) Contains(want map[string]any) *RecordsAssertion {
	a.t.Helper()
	for _, record := range a.records {
		if matches(record, want) {
			return a
		}
	}
	a.t.Errorf("expected to find record matching %v", want)
	return a
}

// AllMatch asserts that every record matches every attribute of want.
func (a *RecordsAssertion) AllMatch(want map[string]any) *RecordsAssertion {
	a.t.Helper()
	for i, record := range a.records {
		if !matches(record, want) {
			a.t.Errorf("record %d %v does not match %v", i, record, want)
		}
	}
	return a
}

// OrderedBy asserts that the records are sorted ascending by a string or
// number attribute.
func (a *RecordsAssertion) OrderedBy(attr string) *RecordsAssertion {
	a.t.Helper()
	for i := 1; i < len(a.records); i++ {
		prev, cur := normalize(a.records[i-1][attr]), normalize(a.records[i][attr])
		if less(cur, prev) {
			a.t.Errorf("records not ordered by %s: %v before %v", attr, prev, cur)
		}
	}
	return a
}

func less(a, b any) bool {
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return x < y
		}
	case float64:
		if y, ok := b.(float64); ok {
			return x < y
		}
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

// DynamoDBItemAssertion provides fluent assertions for individual DynamoDB items.
type DynamoDBItemAssertion struct {
	t    TestingT
	item map[string]types.AttributeValue
}

// DynamoDBItem creates a new DynamoDBItemAssertion for the given item.
func DynamoDBItem(t TestingT, item map[string]types.AttributeValue) *DynamoDBItemAssertion {
	return &DynamoDBItemAssertion{
		t:    t,
		item: item,
	}
}

// HasAttribute asserts that the item has the specified attribute with the expected value.
func (a *DynamoDBItemAssertion) HasAttribute(attrName string, expectedValue any) *DynamoDBItemAssertion {
	a.t.Helper()
	attr, exists := a.item[attrName]
	if !exists {
		a.t.Errorf("item missing attribute %s", attrName)
		return a
	}
	var got any
	if err := attributevalue.Unmarshal(attr, &got); err != nil {
		a.t.Errorf("attribute %s cannot be decoded: %v", attrName, err)
		return a
	}
	if !equalValues(got, expectedValue) {
		a.t.Errorf("attribute %s expected %v, got %v", attrName, expectedValue, got)
	}
	return a
}

// HasType asserts the DynamoDB type of an attribute, e.g. "N" or "S".
func (a *DynamoDBItemAssertion) HasType(attrName, typeName string) *DynamoDBItemAssertion {
	a.t.Helper()
	var got string
	switch a.item[attrName].(type) {
	case *types.AttributeValueMemberS:
		got = "S"
	case *types.AttributeValueMemberN:
		got = "N"
	case *types.AttributeValueMemberB:
		got = "B"
	case *types.AttributeValueMemberBOOL:
		got = "BOOL"
	case *types.AttributeValueMemberL:
		got = "L"
	case *types.AttributeValueMemberM:
		got = "M"
	case *types.AttributeValueMemberNULL:
		got = "NULL"
	}
	if got != typeName {
		a.t.Errorf("attribute %s expected type %s, got %q", attrName, typeName, got)
	}
	return a
}

// LacksAttribute asserts that the item does not carry an attribute.
func (a *DynamoDBItemAssertion) LacksAttribute(attrName string) *DynamoDBItemAssertion {
	a.t.Helper()
	if _, exists := a.item[attrName]; exists {
		a.t.Errorf("item has unexpected attribute %s", attrName)
	}
	return a
}
