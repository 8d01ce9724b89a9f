// Package cond implements the restricted boolean expression language used
// by flow step conditionals.
//
// The grammar is intentionally tiny: comparisons, boolean operators, and
// parentheses over a whitelisted set of identifiers. There are no function
// calls, no arithmetic, and no assignment, so configuration files cannot
// inject behaviour. Expressions are parsed once at config load time and
// evaluated against a per-session environment.
package cond

import (
	"fmt"
	"sort"
)

// Env supplies identifier bindings for evaluation. Keys are the bare
// identifiers ("complexity", "quality_score", "step_count") and the
// step-qualified forms ("<step_name>.quality_score", "<step_name>.status").
// Values must be string, float64, int, or bool.
type Env map[string]any

// Expr is a parsed conditional expression, immutable after Parse.
type Expr struct {
	root node
	src  string
}

// Parse compiles src into an Expr. A nil error guarantees Eval will never
// fail with a syntax problem; only unknown identifiers or type mismatches
// can surface at evaluation time.
func Parse(src string) (*Expr, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.next(); err != nil {
		return nil, err
	}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at offset %d", p.tok.text, p.tok.pos)
	}
	return &Expr{root: root, src: src}, nil
}

// Eval evaluates the expression against env. The result must be boolean;
// a non-boolean root (e.g. a bare string literal) is an evaluation error.
func (e *Expr) Eval(env Env) (bool, error) {
	v, err := e.root.eval(env)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q does not evaluate to a boolean", e.src)
	}
	return b, nil
}

// String returns the original source text.
func (e *Expr) String() string {
	return e.src
}

// Identifiers returns the sorted set of identifiers referenced by the
// expression. Config validation uses this to reject references to
// undeclared steps before any session runs.
func (e *Expr) Identifiers() []string {
	set := map[string]struct{}{}
	e.root.collect(set)
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// node is one AST node.
type node interface {
	eval(env Env) (any, error)
	collect(ids map[string]struct{})
}

type litNode struct {
	val any // string, float64, or bool
}

func (n *litNode) eval(Env) (any, error)       { return n.val, nil }
func (n *litNode) collect(map[string]struct{}) {}

type identNode struct {
	name string // possibly step-qualified ("critic.quality_score")
}

func (n *identNode) eval(env Env) (any, error) {
	v, ok := env[n.name]
	if !ok {
		return nil, fmt.Errorf("unknown identifier %q", n.name)
	}
	switch val := v.(type) {
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case float64, string, bool:
		return val, nil
	default:
		return nil, fmt.Errorf("identifier %q has unsupported type %T", n.name, v)
	}
}

func (n *identNode) collect(ids map[string]struct{}) {
	ids[n.name] = struct{}{}
}

type notNode struct {
	operand node
}

func (n *notNode) eval(env Env) (any, error) {
	v, err := n.operand.eval(env)
	if err != nil {
		return nil, err
	}
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("operand of ! is not boolean")
	}
	return !b, nil
}

func (n *notNode) collect(ids map[string]struct{}) {
	n.operand.collect(ids)
}

type boolNode struct {
	op          string // "&&" or "||"
	left, right node
}

func (n *boolNode) eval(env Env) (any, error) {
	lv, err := n.left.eval(env)
	if err != nil {
		return nil, err
	}
	lb, ok := lv.(bool)
	if !ok {
		return nil, fmt.Errorf("left operand of %s is not boolean", n.op)
	}
	// Short-circuit. An evaluation error on the unreached side is not
	// surfaced, matching how the operators behave in ordinary languages.
	if n.op == "&&" && !lb {
		return false, nil
	}
	if n.op == "||" && lb {
		return true, nil
	}
	rv, err := n.right.eval(env)
	if err != nil {
		return nil, err
	}
	rb, ok := rv.(bool)
	if !ok {
		return nil, fmt.Errorf("right operand of %s is not boolean", n.op)
	}
	return rb, nil
}

func (n *boolNode) collect(ids map[string]struct{}) {
	n.left.collect(ids)
	n.right.collect(ids)
}

type cmpNode struct {
	op          string // ==, !=, <, <=, >, >=
	left, right node
}

func (n *cmpNode) eval(env Env) (any, error) {
	lv, err := n.left.eval(env)
	if err != nil {
		return nil, err
	}
	rv, err := n.right.eval(env)
	if err != nil {
		return nil, err
	}

	// Numeric comparison: both sides must coerce to float64.
	lf, lIsNum := lv.(float64)
	rf, rIsNum := rv.(float64)
	if lIsNum && rIsNum {
		switch n.op {
		case "==":
			return lf == rf, nil
		case "!=":
			return lf != rf, nil
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}

	// String comparison: equality and lexicographic ordering.
	ls, lIsStr := lv.(string)
	rs, rIsStr := rv.(string)
	if lIsStr && rIsStr {
		switch n.op {
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

	// Boolean comparison: equality only.
	lb, lIsBool := lv.(bool)
	rb, rIsBool := rv.(bool)
	if lIsBool && rIsBool {
		switch n.op {
		case "==":
			return lb == rb, nil
		case "!=":
			return lb != rb, nil
		default:
			return nil, fmt.Errorf("operator %s not defined for booleans", n.op)
		}
	}

	return nil, fmt.Errorf("cannot compare %s and %s with %s",
		typeName(lv), typeName(rv), n.op)
}

func (n *cmpNode) collect(ids map[string]struct{}) {
	n.left.collect(ids)
	n.right.collect(ids)
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}
