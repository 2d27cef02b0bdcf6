package dynaorm

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Page is one response page of a relation. LastKey is the store's
// continuation key and Cursor its opaque string form; both are empty on the
// last page.
type Page struct {
	Records []Record
	LastKey Item
	Cursor  string
}

// HasMore reports whether the store has more items after this page.
func (p Page) HasMore() bool {
	return len(p.LastKey) > 0
}

// cursorValue holds one key attribute. Key attributes are always strings,
// numbers or binary.
type cursorValue struct {
	S *string
	N *string
	B []byte
}

// EncodeCursor converts a last evaluated key into an opaque, URL safe string
// for clients. A nil or empty key yields an empty cursor.
func EncodeCursor(key Item) (string, error) {
	if len(key) == 0 {
		return "", nil
	}

	values := make(map[string]cursorValue, len(key))
	for name, av := range key {
		switch v := av.(type) {
		case *types.AttributeValueMemberS:
			values[name] = cursorValue{S: &v.Value}
		case *types.AttributeValueMemberN:
			values[name] = cursorValue{N: &v.Value}
		case *types.AttributeValueMemberB:
			values[name] = cursorValue{B: v.Value}
		default:
			return "", fmt.Errorf("failed to encode cursor: unsupported key attribute type %T for %s", av, name)
		}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(values); err != nil {
		return "", fmt.Errorf("failed to encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeCursor converts a cursor produced by [EncodeCursor] back into a start
// key. An empty cursor yields a nil key.
func DecodeCursor(cursor string) (Item, error) {
	if cursor == "" {
		return nil, nil
	}

	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cursor: %w", err)
	}

	var values map[string]cursorValue
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&values); err != nil {
		return nil, fmt.Errorf("failed to decode cursor: %w", err)
	}

	key := make(Item, len(values))
	for name, v := range values {
		switch {
		case v.S != nil:
			key[name] = &types.AttributeValueMemberS{Value: *v.S}
		case v.N != nil:
			key[name] = &types.AttributeValueMemberN{Value: *v.N}
		case v.B != nil:
			key[name] = &types.AttributeValueMemberB{Value: v.B}
		default:
			return nil, fmt.Errorf("failed to decode cursor: empty value for %s", name)
		}
	}
	return key, nil
}
