package graph

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"unicode"
)

// Evaluate runs a sandboxed expression against the state and returns its
// value. The grammar is a small Python-expression subset: literals,
// subscripts, the single call form context.get(key[, default]), binary
// arithmetic (+ - * / % **), chained comparisons, and boolean and/or/not.
// Exactly two identifiers exist: "state" and "context" (the state's
// context map). Anything else fails with ErrExprNotAllowed.
func Evaluate(expression string, state *WorkflowState) (any, error) {
	p := &exprParser{src: expression}
	p.next()
	node, err := p.parseOr()
	if err != nil {
		return nil, &EvalError{Expression: expression, Err: err}
	}
	if p.err != nil {
		return nil, &EvalError{Expression: expression, Err: p.err}
	}
	if p.tok.kind != tokEOF {
		return nil, &EvalError{Expression: expression,
			Err: fmt.Errorf("%w: unexpected %q", ErrExprNotAllowed, p.tok.text)}
	}
	v, err := node.eval(state)
	if err != nil {
		return nil, &EvalError{Expression: expression, Err: err}
	}
	return v, nil
}

// EvaluateTruthy evaluates the expression and collapses the result with
// Python truthiness: nil, false, zero, empty string and empty containers
// are false, everything else true.
func EvaluateTruthy(expression string, state *WorkflowState) (bool, error) {
	v, err := Evaluate(expression, state)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// Truthy reports the three-valued collapse used by branch and loop
// selection.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	case float32:
		return x != 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Slice, reflect.Map, reflect.Array:
			return rv.Len() > 0
		case reflect.Ptr, reflect.Interface:
			return !rv.IsNil()
		}
		return true
	}
}

// --- lexer ---

type tokKind int

const (
	tokEOF tokKind = iota
	tokNumber
	tokString
	tokIdent
	tokOp
)

type token struct {
	kind tokKind
	text string
	num  float64
	str  string
}

type exprParser struct {
	src string
	pos int
	tok token
	err error
}

var twoCharOps = []string{"**", "==", "!=", "<=", ">="}

func (p *exprParser) next() {
	if p.err != nil {
		return
	}
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
	if p.pos >= len(p.src) {
		p.tok = token{kind: tokEOF}
		return
	}
	c := p.src[p.pos]

	if c >= '0' && c <= '9' || c == '.' && p.pos+1 < len(p.src) && p.src[p.pos+1] >= '0' && p.src[p.pos+1] <= '9' {
		start := p.pos
		for p.pos < len(p.src) && (p.src[p.pos] >= '0' && p.src[p.pos] <= '9' || p.src[p.pos] == '.') {
			p.pos++
		}
		text := p.src[start:p.pos]
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			p.err = fmt.Errorf("%w: bad number %q", ErrExprNotAllowed, text)
			return
		}
		p.tok = token{kind: tokNumber, text: text, num: f}
		return
	}

	if c == '\'' || c == '"' {
		quote := c
		p.pos++
		var sb strings.Builder
		for p.pos < len(p.src) && p.src[p.pos] != quote {
			if p.src[p.pos] == '\\' && p.pos+1 < len(p.src) {
				p.pos++
			}
			sb.WriteByte(p.src[p.pos])
			p.pos++
		}
		if p.pos >= len(p.src) {
			p.err = fmt.Errorf("%w: unterminated string", ErrExprNotAllowed)
			return
		}
		p.pos++
		p.tok = token{kind: tokString, str: sb.String(), text: sb.String()}
		return
	}

	if c == '_' || unicode.IsLetter(rune(c)) {
		start := p.pos
		for p.pos < len(p.src) {
			r := p.src[p.pos]
			if r == '_' || unicode.IsLetter(rune(r)) || unicode.IsDigit(rune(r)) {
				p.pos++
				continue
			}
			break
		}
		p.tok = token{kind: tokIdent, text: p.src[start:p.pos]}
		return
	}

	for _, op := range twoCharOps {
		if strings.HasPrefix(p.src[p.pos:], op) {
			p.pos += 2
			p.tok = token{kind: tokOp, text: op}
			return
		}
	}
	switch c {
	case '+', '-', '*', '/', '%', '<', '>', '(', ')', '[', ']', '.', ',':
		p.pos++
		p.tok = token{kind: tokOp, text: string(c)}
		return
	}
	p.err = fmt.Errorf("%w: character %q", ErrExprNotAllowed, string(c))
}

func (p *exprParser) accept(kind tokKind, text string) bool {
	if p.err == nil && p.tok.kind == kind && p.tok.text == text {
		p.next()
		return true
	}
	return false
}

func (p *exprParser) expect(text string) error {
	if p.err != nil {
		return p.err
	}
	if p.tok.kind == tokOp && p.tok.text == text {
		p.next()
		return p.err
	}
	return fmt.Errorf("%w: expected %q", ErrExprNotAllowed, text)
}

// --- AST ---

type exprNode interface {
	eval(state *WorkflowState) (any, error)
}

type literalNode struct{ value any }

func (n literalNode) eval(*WorkflowState) (any, error) { return n.value, nil }

type identNode struct{ name string }

func (n identNode) eval(state *WorkflowState) (any, error) {
	switch n.name {
	case "state":
		return state, nil
	case "context":
		return state.Context, nil
	}
	return nil, fmt.Errorf("%w: name %q", ErrExprNotAllowed, n.name)
}

type subscriptNode struct {
	value exprNode
	index exprNode
}

func (n subscriptNode) eval(state *WorkflowState) (any, error) {
	container, err := n.value.eval(state)
	if err != nil {
		return nil, err
	}
	key, err := n.index.eval(state)
	if err != nil {
		return nil, err
	}
	switch c := container.(type) {
	case map[string]any:
		k, ok := key.(string)
		if !ok {
			return nil, fmt.Errorf("map subscript needs a string key, got %T", key)
		}
		v, ok := c[k]
		if !ok {
			return nil, fmt.Errorf("key %q not found", k)
		}
		return v, nil
	case []any:
		f, ok := toNumber(key)
		if !ok || f != math.Trunc(f) {
			return nil, fmt.Errorf("list subscript needs an integer index, got %v", key)
		}
		i := int(f)
		if i < 0 {
			i += len(c)
		}
		if i < 0 || i >= len(c) {
			return nil, fmt.Errorf("list index %d out of range", i)
		}
		return c[i], nil
	case string:
		f, ok := toNumber(key)
		if !ok || f != math.Trunc(f) {
			return nil, fmt.Errorf("string subscript needs an integer index, got %v", key)
		}
		i := int(f)
		if i < 0 {
			i += len(c)
		}
		if i < 0 || i >= len(c) {
			return nil, fmt.Errorf("string index %d out of range", i)
		}
		return string(c[i]), nil
	}
	return nil, fmt.Errorf("value of type %T is not subscriptable", container)
}

// contextGetNode is the one permitted call form: context.get(key) or
// context.get(key, default).
type contextGetNode struct {
	key exprNode
	def exprNode
}

func (n contextGetNode) eval(state *WorkflowState) (any, error) {
	key, err := n.key.eval(state)
	if err != nil {
		return nil, err
	}
	k, ok := key.(string)
	if !ok {
		return nil, fmt.Errorf("context.get needs a string key, got %T", key)
	}
	if v, present := state.Context[k]; present {
		return v, nil
	}
	if n.def == nil {
		return nil, nil
	}
	return n.def.eval(state)
}

type unaryNotNode struct{ operand exprNode }

func (n unaryNotNode) eval(state *WorkflowState) (any, error) {
	v, err := n.operand.eval(state)
	if err != nil {
		return nil, err
	}
	return !Truthy(v), nil
}

type boolOpNode struct {
	op     string // "and" | "or"
	values []exprNode
}

func (n boolOpNode) eval(state *WorkflowState) (any, error) {
	var result any
	for i, operand := range n.values {
		v, err := operand.eval(state)
		if err != nil {
			return nil, err
		}
		result = v
		if i == len(n.values)-1 {
			break
		}
		if n.op == "and" && !Truthy(v) {
			return v, nil
		}
		if n.op == "or" && Truthy(v) {
			return v, nil
		}
	}
	return result, nil
}

type binOpNode struct {
	op    string
	left  exprNode
	right exprNode
}

func (n binOpNode) eval(state *WorkflowState) (any, error) {
	left, err := n.left.eval(state)
	if err != nil {
		return nil, err
	}
	right, err := n.right.eval(state)
	if err != nil {
		return nil, err
	}
	return applyBinOp(n.op, left, right)
}

// compareNode implements Python chained comparisons: a < b < c holds when
// every adjacent pair holds.
type compareNode struct {
	left        exprNode
	ops         []string
	comparators []exprNode
}

func (n compareNode) eval(state *WorkflowState) (any, error) {
	left, err := n.left.eval(state)
	if err != nil {
		return nil, err
	}
	for i, op := range n.ops {
		right, err := n.comparators[i].eval(state)
		if err != nil {
			return nil, err
		}
		ok, err := applyCompare(op, left, right)
		if err != nil {
			return nil, err
		}
		if !ok {
			return false, nil
		}
		left = right
	}
	return true, nil
}

// --- parser ---

func (p *exprParser) parseOr() (exprNode, error) {
	node, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	values := []exprNode{node}
	for p.accept(tokIdent, "or") {
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		values = append(values, next)
	}
	if len(values) == 1 {
		return node, nil
	}
	return boolOpNode{op: "or", values: values}, nil
}

func (p *exprParser) parseAnd() (exprNode, error) {
	node, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	values := []exprNode{node}
	for p.accept(tokIdent, "and") {
		next, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		values = append(values, next)
	}
	if len(values) == 1 {
		return node, nil
	}
	return boolOpNode{op: "and", values: values}, nil
}

func (p *exprParser) parseNot() (exprNode, error) {
	if p.accept(tokIdent, "not") {
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return unaryNotNode{operand: operand}, nil
	}
	return p.parseComparison()
}

var compareOps = map[string]bool{
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
}

func (p *exprParser) parseComparison() (exprNode, error) {
	left, err := p.parseArith()
	if err != nil {
		return nil, err
	}
	var ops []string
	var comparators []exprNode
	for p.err == nil && p.tok.kind == tokOp && compareOps[p.tok.text] {
		op := p.tok.text
		p.next()
		right, err := p.parseArith()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
		comparators = append(comparators, right)
	}
	if len(ops) == 0 {
		return left, nil
	}
	return compareNode{left: left, ops: ops, comparators: comparators}, nil
}

func (p *exprParser) parseArith() (exprNode, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.err == nil && p.tok.kind == tokOp && (p.tok.text == "+" || p.tok.text == "-") {
		op := p.tok.text
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = binOpNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseTerm() (exprNode, error) {
	left, err := p.parsePower()
	if err != nil {
		return nil, err
	}
	for p.err == nil && p.tok.kind == tokOp &&
		(p.tok.text == "*" || p.tok.text == "/" || p.tok.text == "%") {
		op := p.tok.text
		p.next()
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		left = binOpNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parsePower() (exprNode, error) {
	left, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	// ** is right-associative.
	if p.err == nil && p.tok.kind == tokOp && p.tok.text == "**" {
		p.next()
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		return binOpNode{op: "**", left: left, right: right}, nil
	}
	return left, nil
}

func (p *exprParser) parsePostfix() (exprNode, error) {
	node, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for p.err == nil {
		switch {
		case p.accept(tokOp, "["):
			index, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			node = subscriptNode{value: node, index: index}
		case p.accept(tokOp, "."):
			// Attribute access is forbidden except context.get(...).
			ident, ok := node.(identNode)
			if !ok || ident.name != "context" || p.tok.kind != tokIdent || p.tok.text != "get" {
				return nil, fmt.Errorf("%w: attribute access", ErrExprNotAllowed)
			}
			p.next()
			if err := p.expect("("); err != nil {
				return nil, fmt.Errorf("%w: attribute access", ErrExprNotAllowed)
			}
			get := contextGetNode{}
			get.key, err = p.parseOr()
			if err != nil {
				return nil, err
			}
			if p.accept(tokOp, ",") {
				get.def, err = p.parseOr()
				if err != nil {
					return nil, err
				}
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			node = get
		case p.err == nil && p.tok.kind == tokOp && p.tok.text == "(":
			return nil, fmt.Errorf("%w: function call", ErrExprNotAllowed)
		default:
			return node, p.err
		}
	}
	return node, p.err
}

func (p *exprParser) parseAtom() (exprNode, error) {
	if p.err != nil {
		return nil, p.err
	}
	switch p.tok.kind {
	case tokNumber:
		v := p.tok.num
		p.next()
		return literalNode{value: v}, nil
	case tokString:
		v := p.tok.str
		p.next()
		return literalNode{value: v}, nil
	case tokIdent:
		name := p.tok.text
		switch name {
		case "True", "true":
			p.next()
			return literalNode{value: true}, nil
		case "False", "false":
			p.next()
			return literalNode{value: false}, nil
		case "None", "null":
			p.next()
			return literalNode{value: nil}, nil
		case "state", "context":
			p.next()
			return identNode{name: name}, nil
		}
		return nil, fmt.Errorf("%w: name %q", ErrExprNotAllowed, name)
	case tokOp:
		if p.tok.text == "(" {
			p.next()
			node, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return node, nil
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return nil, fmt.Errorf("%w: unexpected %q", ErrExprNotAllowed, p.tok.text)
}

// --- operators ---

func toNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

func applyBinOp(op string, left, right any) (any, error) {
	if op == "+" {
		if ls, ok := left.(string); ok {
			rs, ok := right.(string)
			if !ok {
				return nil, fmt.Errorf("cannot add string and %T", right)
			}
			return ls + rs, nil
		}
		if ll, ok := left.([]any); ok {
			rl, ok := right.([]any)
			if !ok {
				return nil, fmt.Errorf("cannot add list and %T", right)
			}
			out := make([]any, 0, len(ll)+len(rl))
			out = append(out, ll...)
			return append(out, rl...), nil
		}
	}

	l, lok := toNumber(left)
	r, rok := toNumber(right)
	if !lok || !rok {
		return nil, fmt.Errorf("operator %q needs numeric operands, got %T and %T", op, left, right)
	}
	switch op {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	case "/":
		if r == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return l / r, nil
	case "%":
		if r == 0 {
			return nil, fmt.Errorf("modulo by zero")
		}
		m := math.Mod(l, r)
		if m != 0 && (m < 0) != (r < 0) {
			m += r
		}
		return m, nil
	case "**":
		return math.Pow(l, r), nil
	}
	return nil, fmt.Errorf("%w: operator %q", ErrExprNotAllowed, op)
}

func applyCompare(op string, left, right any) (bool, error) {
	if l, lok := toNumber(left); lok {
		if r, rok := toNumber(right); rok {
			switch op {
			case "==":
				return l == r, nil
			case "!=":
				return l != r, nil
			case "<":
				return l < r, nil
			case "<=":
				return l <= r, nil
			case ">":
				return l > r, nil
			case ">=":
				return l >= r, nil
			}
		}
	}
	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok {
			switch op {
			case "==":
				return ls == rs, nil
			case "!=":
				return ls != rs, nil
			case "<":
				return ls < rs, nil
			case "<=":
				return ls <= rs, nil
			case ">":
				return ls > rs, nil
			case ">=":
				return ls >= rs, nil
			}
		}
	}
	switch op {
	case "==":
		return reflect.DeepEqual(left, right), nil
	case "!=":
		return !reflect.DeepEqual(left, right), nil
	}
	return false, fmt.Errorf("cannot order %T and %T", left, right)
}
