package assert

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func testItems() []map[string]types.AttributeValue {
	return []map[string]types.AttributeValue{
		{
			"Artist":    &types.AttributeValueMemberS{Value: "No One You Know"},
			"SongTitle": &types.AttributeValueMemberS{Value: "Call Me Today"},
			"Year":      &types.AttributeValueMemberN{Value: "2001"},
		},
		{
			"Artist":    &types.AttributeValueMemberS{Value: "The Acme Band"},
			"SongTitle": &types.AttributeValueMemberS{Value: "Happy Day"},
			"Genre":     &types.AttributeValueMemberS{Value: "Rock"},
		},
	}
}

func TestItemsAssertion(t *testing.T) {
	Items(t, testItems()).
		HasCount(2).
		IsNotEmpty().
		ContainsKey(map[string]any{"Artist": "The Acme Band", "SongTitle": "Happy Day"}).
		LacksKey(map[string]any{"Artist": "The Acme Band", "SongTitle": "Call Me Today"}).
		HasAttribute("Genre", "Rock").
		HasAttribute("Year", 2001)

	Items(t, nil).IsEmpty()
}

func TestRecordsAssertion(t *testing.T) {
	records := []map[string]any{
		{"Artist": "No One You Know", "SongTitle": "Call Me Today", "Year": float64(2001)},
		{"Artist": "No One You Know", "SongTitle": "My Dog Spot", "Year": float64(1998)},
	}

	Records(t, records).
		HasCount(2).
		Contains(map[string]any{"SongTitle": "My Dog Spot", "Year": 1998}).
		AllMatch(map[string]any{"Artist": "No One You Know"}).
		OrderedBy("SongTitle")
}

func TestDynamoDBItemAssertion(t *testing.T) {
	item := testItems()[0]

	DynamoDBItem(t, item).
		HasAttribute("Artist", "No One You Know").
		HasAttribute("Year", int64(2001)).
		HasType("Year", "N").
		HasType("Artist", "S").
		LacksAttribute("Genre")
}

func TestEqualValues(t *testing.T) {
	testCases := []struct {
		name string
		a, b any
		want bool
	}{
		{"int and float", 3, float64(3), true},
		{"int64 and int", int64(3), 3, true},
		{"strings", "a", "a", true},
		{"different strings", "a", "b", false},
		{"string and number", "3", 3, false},
		{"lists", []any{1, "x"}, []any{float64(1), "x"}, true},
		{"nil values", nil, nil, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := equalValues(tc.a, tc.b); got != tc.want {
				t.Errorf("equalValues(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

type recorder struct{ failed bool }

func (r *recorder) Helper() {}
func (r *recorder) Error(...any) { r.failed = true }
func (r *recorder) Errorf(string, ...any) { r.failed = true }
func (r *recorder) Failed() bool { return r.failed }

// TestAssertionFailures checks that mismatches are reported on the test.
func TestAssertionFailures(t *testing.T) {
	t.Run("items", func(t *testing.T) {
		mockT := &recorder{}
		Items(mockT, testItems()).HasCount(5)
		if !mockT.Failed() {
			t.Error("expected HasCount to fail")
		}

		mockT = &recorder{}
		Items(mockT, testItems()).ContainsKey(map[string]any{"Artist": "Nobody"})
		if !mockT.Failed() {
			t.Error("expected ContainsKey to fail")
		}
	})

	t.Run("records", func(t *testing.T) {
		mockT := &recorder{}
		Records(mockT, []map[string]any{{"SongTitle": "b"}, {"SongTitle": "a"}}).OrderedBy("SongTitle")
		if !mockT.Failed() {
			t.Error("expected OrderedBy to fail")
		}
	})

	t.Run("item", func(t *testing.T) {
		mockT := &recorder{}
		DynamoDBItem(mockT, testItems()[1]).HasAttribute("Genre", "Pop")
		if !mockT.Failed() {
			t.Error("expected HasAttribute to fail")
		}
	})
}
