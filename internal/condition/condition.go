// Package condition implements the closed predicate language used by route
// step templates. Predicates are a small JSON-encoded expression tree over
// named context fields; evaluation is pure and can never execute arbitrary
// logic supplied through routing configuration.
package condition

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Supported operators.
const (
	OpEq     = "eq"
	OpNe     = "ne"
	OpGt     = "gt"
	OpGte    = "gte"
	OpLt     = "lt"
	OpLte    = "lte"
	OpIn     = "in"
	OpExists = "exists"
	OpAnd    = "and"
	OpOr     = "or"
	OpNot    = "not"
)

// Predicate is one node of the expression tree. Leaf operators (eq, ne, gt,
// gte, lt, lte, in, exists) compare the context field named by Field against
// Value; combinators (and, or, not) operate on Args.
type Predicate struct {
	Op    string       `json:"op"`
	Field string       `json:"field,omitempty"`
	Value any          `json:"value,omitempty"`
	Args  []*Predicate `json:"args,omitempty"`
}

// Parse decodes a JSON predicate.
func Parse(data []byte) (*Predicate, error) {
	var p Predicate
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("malformed predicate: %w", err)
	}
	return &p, nil
}

// Evaluate computes the boolean value of p against the given context facts.
// A nil predicate evaluates to true (the step always applies). Errors report
// structurally invalid predicates; callers decide how to degrade.
func Evaluate(p *Predicate, facts map[string]any) (bool, error) {
	if p == nil {
		return true, nil
	}

	switch p.Op {
	case OpAnd:
		if len(p.Args) == 0 {
			return false, fmt.Errorf("operator %q requires at least one argument", p.Op)
		}
		for _, arg := range p.Args {
			ok, err := Evaluate(arg, facts)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case OpOr:
		if len(p.Args) == 0 {
			return false, fmt.Errorf("operator %q requires at least one argument", p.Op)
		}
		for _, arg := range p.Args {
			ok, err := Evaluate(arg, facts)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case OpNot:
		if len(p.Args) != 1 {
			return false, fmt.Errorf("operator %q requires exactly one argument", p.Op)
		}
		ok, err := Evaluate(p.Args[0], facts)
		if err != nil {
			return false, err
		}
		return !ok, nil

	case OpExists:
		_, found := lookup(facts, p.Field)
		return found, nil

	case OpEq, OpNe:
		actual, found := lookup(facts, p.Field)
		if !found {
			// An absent field equals nothing; ne of an absent field holds.
			return p.Op == OpNe, nil
		}
		eq := valuesEqual(actual, p.Value)
		if p.Op == OpNe {
			return !eq, nil
		}
		return eq, nil

	case OpGt, OpGte, OpLt, OpLte:
		actual, found := lookup(facts, p.Field)
		if !found {
			return false, nil
		}
		cmp, err := compare(actual, p.Value)
		if err != nil {
			return false, fmt.Errorf("field %q: %w", p.Field, err)
		}
		switch p.Op {
		case OpGt:
			return cmp > 0, nil
		case OpGte:
			return cmp >= 0, nil
		case OpLt:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}

	case OpIn:
		values, ok := p.Value.([]any)
		if !ok {
			return false, fmt.Errorf("operator %q requires a list value", p.Op)
		}
		actual, found := lookup(facts, p.Field)
		if !found {
			return false, nil
		}
		for _, v := range values {
			if valuesEqual(actual, v) {
				return true, nil
			}
		}
		return false, nil

	default:
		return false, fmt.Errorf("unknown operator %q", p.Op)
	}
}

// lookup resolves a dotted field path through nested map[string]any values.
func lookup(facts map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var current any = facts
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

// valuesEqual compares two scalars, coercing numeric types so that a JSON
// float64 matches a Go int from in-process callers.
func valuesEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

// compare orders two values: numerically when both are numbers,
// lexicographically when both are strings.
func compare(a, b any) (int, error) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return 0, fmt.Errorf("cannot compare number with %T", b)
		}
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), nil
	}
	return 0, fmt.Errorf("cannot order %T against %T", a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
