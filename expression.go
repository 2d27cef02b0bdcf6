package dynaorm

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Condition matches records whose attribute Name equals Value. A slice or
// array Value (other than []byte) matches any of its elements.
type Condition struct {
	Name  string
	Value any
}

// Filter is an ordered list of conditions joined with AND. Order is preserved
// into the compiled expression so compilation is deterministic.
type Filter []Condition

// Where returns a filter with a single condition.
func Where(name string, value any) Filter {
	return Filter{{Name: name, Value: value}}
}

// FilterOf returns a filter with one condition per attribute of rec, in
// lexical attribute order.
func FilterOf(rec Record) Filter {
	f := make(Filter, 0, len(rec))
	for _, name := range sortedKeys(rec) {
		f = append(f, Condition{Name: name, Value: rec[name]})
	}
	return f
}

// In groups candidate values so that a condition matches any of them.
func In(values ...any) []any {
	return values
}

// And returns a copy of f with the condition merged in.
func (f Filter) And(name string, value any) Filter {
	return f.Merge(Filter{{Name: name, Value: value}})
}

// Merge returns a copy of f overlaid with other. A name already present keeps
// its position and takes the new value; new names are appended.
func (f Filter) Merge(other Filter) Filter {
	out := make(Filter, len(f), len(f)+len(other))
	copy(out, f)
	for _, cond := range other {
		replaced := false
		for i := range out {
			if out[i].Name == cond.Name {
				out[i].Value = cond.Value
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, cond)
		}
	}
	return out
}

// Fragment is a raw condition appended to the filter expression as written.
// Placeholders used by Expression must be bound in Names and Values; they are
// renamed on compilation when they clash with other placeholders.
type Fragment struct {
	Expression string
	Names      map[string]string
	Values     map[string]any
}

// Expr returns a fragment for a hand-written condition.
func Expr(expr string, values map[string]any) Fragment {
	return Fragment{Expression: expr, Values: values}
}

// ConditionFragment builds a fragment from an expression package condition.
func ConditionFragment(cond expression.ConditionBuilder) (Fragment, error) {
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return Fragment{}, fmt.Errorf("failed to build expression: %w", err)
	}

	values := make(map[string]any, len(expr.Values()))
	for k, v := range expr.Values() {
		values[k] = v
	}

	return Fragment{
		Expression: aws.ToString(expr.Condition()),
		Names:      expr.Names(),
		Values:     values,
	}, nil
}

// CompiledExpression is a filter translated into dynamodb request fields.
// FilterExpression is nil when only key attributes were given.
type CompiledExpression struct {
	KeyConditionExpression string
	FilterExpression       *string
	ProjectionExpression   *string
	Names                  map[string]string
	Values                 map[string]types.AttributeValue
}

// IsEmpty reports whether neither a key condition nor a filter was compiled.
func (c CompiledExpression) IsEmpty() bool {
	return c.KeyConditionExpression == "" && c.FilterExpression == nil
}

// KeyClassifier decides whether an attribute belongs to a table's primary key.
type KeyClassifier interface {
	IsKeyAttribute(ctx context.Context, table, attr string) (bool, error)
}

// Compile translates filter and fragments into key condition and filter
// expressions for table. Key attributes go to the key condition, all other
// attributes and every fragment go to the filter.
func Compile(ctx context.Context, keys KeyClassifier, table string, filter Filter, fragments ...Fragment) (CompiledExpression, error) {
	c := newCompiler()
	if err := c.compile(ctx, keys, table, filter, fragments); err != nil {
		return CompiledExpression{}, err
	}
	return c.result(), nil
}

type compiler struct {
	keyClauses    []string
	filterClauses []string
	projection    []string
	names         map[string]string
	byAttr        map[string]string
	values        map[string]types.AttributeValue
}

func newCompiler() *compiler {
	return &compiler{
		names:  make(map[string]string),
		byAttr: make(map[string]string),
		values: make(map[string]types.AttributeValue),
	}
}

func (c *compiler) compile(ctx context.Context, keys KeyClassifier, table string, filter Filter, fragments []Fragment) error {
	for _, cond := range filter {
		if cond.Name == "" {
			return fmt.Errorf("failed to compile filter for %s: empty attribute name", table)
		}

		isKey, err := keys.IsKeyAttribute(ctx, table, cond.Name)
		if err != nil {
			return err
		}

		clause, err := c.condition(cond)
		if err != nil {
			return fmt.Errorf("failed to compile condition on %s: %w", cond.Name, err)
		}

		if isKey {
			c.keyClauses = append(c.keyClauses, clause)
		} else {
			c.filterClauses = append(c.filterClauses, clause)
		}
	}

	for _, frag := range fragments {
		clause, err := c.fragment(frag)
		if err != nil {
			return err
		}
		c.filterClauses = append(c.filterClauses, clause)
	}

	return nil
}

func (c *compiler) condition(cond Condition) (string, error) {
	name := c.name(cond.Name)

	candidates, isList := listValues(cond.Value)
	if !isList {
		av, err := attributevalue.Marshal(cond.Value)
		if err != nil {
			return "", err
		}
		return name + " = " + c.value(cond.Name, av), nil
	}

	if len(candidates) == 0 {
		return "", ErrEmptyCandidates
	}

	placeholders := make([]string, 0, len(candidates))
	for i, v := range candidates {
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return "", err
		}
		placeholders = append(placeholders, c.value(cond.Name+strconv.Itoa(i), av))
	}
	return name + " IN(" + strings.Join(placeholders, ",") + ")", nil
}

var placeholderToken = regexp.MustCompile(`[#:][A-Za-z0-9_]+`)

func (c *compiler) fragment(frag Fragment) (string, error) {
	renamed := make(map[string]string)

	for _, token := range sortedKeys(frag.Names) {
		attr := frag.Names[token]
		if bound, taken := c.names[token]; !taken || bound == attr {
			c.names[token] = attr
			continue
		}
		renamed[token] = c.freeName(token)
		c.names[renamed[token]] = attr
	}

	for _, token := range sortedKeys(frag.Values) {
		v := frag.Values[token]
		av, ok := v.(types.AttributeValue)
		if !ok {
			var err error
			if av, err = attributevalue.Marshal(v); err != nil {
				return "", fmt.Errorf("failed to marshal value %s: %w", token, err)
			}
		}
		if _, taken := c.values[token]; !taken {
			c.values[token] = av
			continue
		}
		renamed[token] = unique(token, c.valueTaken)
		c.values[renamed[token]] = av
	}

	if len(renamed) == 0 {
		return frag.Expression, nil
	}
	return placeholderToken.ReplaceAllStringFunc(frag.Expression, func(tok string) string {
		if r, ok := renamed[tok]; ok {
			return r
		}
		return tok
	}), nil
}

// name returns the name placeholder of attr, allocating one on first use.
func (c *compiler) name(attr string) string {
	if p, ok := c.byAttr[attr]; ok {
		return p
	}
	p := c.freeName("#" + sanitize(attr))
	c.names[p] = attr
	c.byAttr[attr] = p
	return p
}

func (c *compiler) freeName(base string) string {
	return unique(base, func(p string) bool {
		_, taken := c.names[p]
		return taken
	})
}

func (c *compiler) value(base string, av types.AttributeValue) string {
	p := unique(":"+sanitize(base), c.valueTaken)
	c.values[p] = av
	return p
}

func (c *compiler) valueTaken(p string) bool {
	_, taken := c.values[p]
	return taken
}

func (c *compiler) project(attrs []string) {
	for _, attr := range attrs {
		c.projection = append(c.projection, c.name(attr))
	}
}

func (c *compiler) result() CompiledExpression {
	out := CompiledExpression{
		KeyConditionExpression: strings.Join(c.keyClauses, " AND "),
	}
	if len(c.filterClauses) > 0 {
		out.FilterExpression = aws.String(strings.Join(c.filterClauses, " AND "))
	}
	if len(c.projection) > 0 {
		out.ProjectionExpression = aws.String(strings.Join(c.projection, ", "))
	}
	if len(c.names) > 0 {
		out.Names = c.names
	}
	if len(c.values) > 0 {
		out.Values = c.values
	}
	return out
}

func unique(base string, taken func(string) bool) string {
	if !taken(base) {
		return base
	}
	for i := 1; ; i++ {
		p := base + "_" + strconv.Itoa(i)
		if !taken(p) {
			return p
		}
	}
}

var invalidPlaceholderChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

func sanitize(name string) string {
	return invalidPlaceholderChars.ReplaceAllString(name, "_")
}

// listValues reports whether v is a candidate list and returns its elements.
func listValues(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return nil, false
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	default:
		return nil, false
	}
}
