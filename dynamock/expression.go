package dynamock

import (
	"bytes"
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"unicode"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Item is an alias for the dynamodb attribute value map.
type Item = map[string]types.AttributeValue

// exprEnv resolves placeholders of one request.
type exprEnv struct {
	names  map[string]string
	values map[string]types.AttributeValue
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokLParen
	tokRParen
	tokComma
	tokOp
	tokEOF
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(expr string) ([]token, error) {
	var toks []token
	for i := 0; i < len(expr); {
		c := rune(expr[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ","})
			i++
		case c == '=' || c == '<' || c == '>' || c == '+' || c == '-':
			op := string(c)
			if i+1 < len(expr) && (expr[i:i+2] == "<>" || expr[i:i+2] == "<=" || expr[i:i+2] == ">=") {
				op = expr[i : i+2]
			}
			toks = append(toks, token{tokOp, op})
			i += len(op)
		case isIdentChar(c):
			j := i
			for j < len(expr) && isIdentChar(rune(expr[j])) {
				j++
			}
			toks = append(toks, token{tokIdent, expr[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q in expression %q", c, expr)
		}
	}
	return append(toks, token{tokEOF, ""}), nil
}

func isIdentChar(c rune) bool {
	return c == '#' || c == ':' || c == '_' || c == '.' || c == '[' || c == ']' ||
		unicode.IsLetter(c) || unicode.IsDigit(c)
}

// parser evaluates condition expressions directly while parsing them.
type parser struct {
	toks []token
	pos  int
	env  exprEnv
	item Item
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(kind tokenKind, text string) error {
	t := p.next()
	if t.kind != kind {
		return fmt.Errorf("expected %q, got %q", text, t.text)
	}
	return nil
}

// evalCondition reports whether item satisfies a condition, key condition
// or filter expression. An empty expression matches everything.
func evalCondition(expr string, env exprEnv, item Item) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	toks, err := tokenize(expr)
	if err != nil {
		return false, err
	}
	p := &parser{toks: toks, env: env, item: item}
	ok, err := p.or()
	if err != nil {
		return false, fmt.Errorf("invalid expression %q: %w", expr, err)
	}
	if p.peek().kind != tokEOF {
		return false, fmt.Errorf("invalid expression %q: unexpected %q", expr, p.peek().text)
	}
	return ok, nil
}

func (p *parser) or() (bool, error) {
	left, err := p.and()
	if err != nil {
		return false, err
	}
	for p.keyword("OR") {
		right, err := p.and()
		if err != nil {
			return false, err
		}
		left = left || right
	}
	return left, nil
}

func (p *parser) and() (bool, error) {
	left, err := p.not()
	if err != nil {
		return false, err
	}
	for p.keyword("AND") {
		right, err := p.not()
		if err != nil {
			return false, err
		}
		left = left && right
	}
	return left, nil
}

func (p *parser) not() (bool, error) {
	if p.keyword("NOT") {
		v, err := p.not()
		return !v, err
	}
	return p.predicate()
}

func (p *parser) predicate() (bool, error) {
	t := p.peek()

	if t.kind == tokLParen {
		p.next()
		v, err := p.or()
		if err != nil {
			return false, err
		}
		return v, p.expect(tokRParen, ")")
	}

	if t.kind == tokIdent && p.toks[p.pos+1].kind == tokLParen {
		switch strings.ToLower(t.text) {
		case "attribute_exists", "attribute_not_exists", "begins_with", "contains", "attribute_type":
			return p.function()
		}
	}

	left, err := p.operand()
	if err != nil {
		return false, err
	}

	switch {
	case p.keyword("BETWEEN"):
		lo, err := p.operand()
		if err != nil {
			return false, err
		}
		if !p.keyword("AND") {
			return false, fmt.Errorf("expected AND in BETWEEN")
		}
		hi, err := p.operand()
		if err != nil {
			return false, err
		}
		c1, ok1 := compare(left, lo)
		c2, ok2 := compare(left, hi)
		return ok1 && ok2 && c1 >= 0 && c2 <= 0, nil

	case p.keyword("IN"):
		if err := p.expect(tokLParen, "("); err != nil {
			return false, err
		}
		found := false
		for {
			v, err := p.operand()
			if err != nil {
				return false, err
			}
			if equal(left, v) {
				found = true
			}
			if p.peek().kind == tokComma {
				p.next()
				continue
			}
			break
		}
		return found, p.expect(tokRParen, ")")
	}

	op := p.next()
	if op.kind != tokOp {
		return false, fmt.Errorf("expected comparator, got %q", op.text)
	}
	right, err := p.operand()
	if err != nil {
		return false, err
	}

	switch op.text {
	case "=":
		return equal(left, right), nil
	case "<>":
		return !equal(left, right), nil
	}
	c, ok := compare(left, right)
	if !ok {
		return false, nil
	}
	switch op.text {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, fmt.Errorf("unsupported comparator %q", op.text)
}

func (p *parser) function() (bool, error) {
	name := strings.ToLower(p.next().text)
	if err := p.expect(tokLParen, "("); err != nil {
		return false, err
	}

	path, err := p.operand()
	if err != nil {
		return false, err
	}

	var arg types.AttributeValue
	if p.peek().kind == tokComma {
		p.next()
		if arg, err = p.operand(); err != nil {
			return false, err
		}
	}
	if err := p.expect(tokRParen, ")"); err != nil {
		return false, err
	}

	switch name {
	case "attribute_exists":
		return path != nil, nil
	case "attribute_not_exists":
		return path == nil, nil
	case "begins_with":
		s, ok1 := path.(*types.AttributeValueMemberS)
		prefix, ok2 := arg.(*types.AttributeValueMemberS)
		return ok1 && ok2 && strings.HasPrefix(s.Value, prefix.Value), nil
	case "contains":
		return contains(path, arg), nil
	case "attribute_type":
		want, ok := arg.(*types.AttributeValueMemberS)
		return ok && path != nil && typeName(path) == want.Value, nil
	}
	return false, fmt.Errorf("unsupported function %s", name)
}

// operand returns the value of a path, placeholder or size() call. Missing
// paths yield nil.
func (p *parser) operand() (types.AttributeValue, error) {
	t := p.next()
	if t.kind != tokIdent {
		return nil, fmt.Errorf("expected operand, got %q", t.text)
	}

	if strings.EqualFold(t.text, "size") && p.peek().kind == tokLParen {
		p.next()
		v, err := p.operand()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return size(v), nil
	}

	if strings.HasPrefix(t.text, ":") {
		v, ok := p.env.values[t.text]
		if !ok {
			return nil, fmt.Errorf("value placeholder %s is not defined", t.text)
		}
		return v, nil
	}

	return resolvePath(p.item, t.text, p.env.names)
}

// resolvePath walks a dotted document path such as #a.#b through item.
func resolvePath(item Item, path string, names map[string]string) (types.AttributeValue, error) {
	var current types.AttributeValue = &types.AttributeValueMemberM{Value: item}
	for _, seg := range strings.Split(path, ".") {
		name, err := resolveName(seg, names)
		if err != nil {
			return nil, err
		}
		m, ok := current.(*types.AttributeValueMemberM)
		if !ok {
			return nil, nil
		}
		current, ok = m.Value[name]
		if !ok {
			return nil, nil
		}
	}
	return current, nil
}

func resolveName(tok string, names map[string]string) (string, error) {
	if !strings.HasPrefix(tok, "#") {
		return tok, nil
	}
	name, ok := names[tok]
	if !ok {
		return "", fmt.Errorf("name placeholder %s is not defined", tok)
	}
	return name, nil
}

// compare orders two scalar values of the same type.
func compare(a, b types.AttributeValue) (int, bool) {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		if bv, ok := b.(*types.AttributeValueMemberS); ok {
			return strings.Compare(av.Value, bv.Value), true
		}
	case *types.AttributeValueMemberN:
		if bv, ok := b.(*types.AttributeValueMemberN); ok {
			x, okx := new(big.Float).SetString(av.Value)
			y, oky := new(big.Float).SetString(bv.Value)
			if okx && oky {
				return x.Cmp(y), true
			}
		}
	case *types.AttributeValueMemberB:
		if bv, ok := b.(*types.AttributeValueMemberB); ok {
			return bytes.Compare(av.Value, bv.Value), true
		}
	}
	return 0, false
}

func equal(a, b types.AttributeValue) bool {
	if a == nil || b == nil {
		return false
	}
	if c, ok := compare(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

func contains(container, v types.AttributeValue) bool {
	switch c := container.(type) {
	case *types.AttributeValueMemberS:
		s, ok := v.(*types.AttributeValueMemberS)
		return ok && strings.Contains(c.Value, s.Value)
	case *types.AttributeValueMemberSS:
		s, ok := v.(*types.AttributeValueMemberS)
		if !ok {
			return false
		}
		for _, e := range c.Value {
			if e == s.Value {
				return true
			}
		}
	case *types.AttributeValueMemberNS:
		for _, e := range c.Value {
			if equal(&types.AttributeValueMemberN{Value: e}, v) {
				return true
			}
		}
	case *types.AttributeValueMemberL:
		for _, e := range c.Value {
			if equal(e, v) {
				return true
			}
		}
	}
	return false
}

func size(v types.AttributeValue) types.AttributeValue {
	n := -1
	switch x := v.(type) {
	case *types.AttributeValueMemberS:
		n = len(x.Value)
	case *types.AttributeValueMemberB:
		n = len(x.Value)
	case *types.AttributeValueMemberL:
		n = len(x.Value)
	case *types.AttributeValueMemberM:
		n = len(x.Value)
	case *types.AttributeValueMemberSS:
		n = len(x.Value)
	case *types.AttributeValueMemberNS:
		n = len(x.Value)
	case *types.AttributeValueMemberBS:
		n = len(x.Value)
	}
	if n < 0 {
		return nil
	}
	return &types.AttributeValueMemberN{Value: fmt.Sprint(n)}
}

func typeName(v types.AttributeValue) string {
	switch v.(type) {
	case *types.AttributeValueMemberS:
		return "S"
	case *types.AttributeValueMemberN:
		return "N"
	case *types.AttributeValueMemberB:
		return "B"
	case *types.AttributeValueMemberBOOL:
		return "BOOL"
	case *types.AttributeValueMemberNULL:
		return "NULL"
	case *types.AttributeValueMemberL:
		return "L"
	case *types.AttributeValueMemberM:
		return "M"
	case *types.AttributeValueMemberSS:
		return "SS"
	case *types.AttributeValueMemberNS:
		return "NS"
	case *types.AttributeValueMemberBS:
		return "BS"
	}
	return ""
}

// applyUpdate applies the SET and REMOVE clauses of an update expression to
// item in place. Only top level attributes are supported.
func applyUpdate(item Item, expr string, env exprEnv) error {
	toks, err := tokenize(expr)
	if err != nil {
		return err
	}
	p := &parser{toks: toks, env: env, item: item}

	mode := ""
	for p.peek().kind != tokEOF {
		switch {
		case p.keyword("SET"):
			mode = "SET"
			continue
		case p.keyword("REMOVE"):
			mode = "REMOVE"
			continue
		}

		if p.peek().kind == tokComma {
			p.next()
			continue
		}

		nameTok := p.next()
		if nameTok.kind != tokIdent {
			return fmt.Errorf("invalid update expression %q", expr)
		}
		name, err := resolveName(nameTok.text, env.names)
		if err != nil {
			return err
		}

		switch mode {
		case "SET":
			if err := p.expect(tokOp, "="); err != nil {
				return fmt.Errorf("invalid update expression %q: %w", expr, err)
			}
			v, err := p.operand()
			if err != nil {
				return err
			}
			item[name] = v
		case "REMOVE":
			delete(item, name)
		default:
			return fmt.Errorf("unsupported update expression %q", expr)
		}
	}
	return nil
}

// project keeps only the attributes named by a projection expression.
func project(item Item, expr string, names map[string]string) (Item, error) {
	if strings.TrimSpace(expr) == "" || item == nil {
		return item, nil
	}
	out := Item{}
	for _, part := range strings.Split(expr, ",") {
		seg := strings.SplitN(strings.TrimSpace(part), ".", 2)[0]
		name, err := resolveName(seg, names)
		if err != nil {
			return nil, err
		}
		if v, ok := item[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}

// normalizeNumber gives equal numbers one textual form so "1" and "1.0"
// identify the same key.
func normalizeNumber(s string) string {
	f, ok := new(big.Float).SetString(s)
	if !ok {
		return s
	}
	return f.Text('g', -1)
}
