package rules

import (
	"fmt"
	"strings"
)

// Operator compares a payload field against a literal.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpIn       Operator = "in"
	OpContains Operator = "contains"
	OpExists   Operator = "exists"
)

// Condition is a tagged expression tree evaluated against a task
// payload. Exactly one of the leaf fields (Field+Op) or the composite
// fields (All/Any/Not) is set. Evaluation is total and side-effect
// free: a missing field or a type mismatch is "no match", never an
// error.
type Condition struct {
	Field string   `json:"field,omitempty"`
	Op    Operator `json:"op,omitempty"`
	Value any      `json:"value,omitempty"`

	All []Condition `json:"all,omitempty"`
	Any []Condition `json:"any,omitempty"`
	Not *Condition  `json:"not,omitempty"`
}

// Matches evaluates the condition against payload.
func (c Condition) Matches(payload map[string]any) bool {
	switch {
	case len(c.All) > 0:
		for _, sub := range c.All {
			if !sub.Matches(payload) {
				return false
			}
		}
		return true
	case len(c.Any) > 0:
		for _, sub := range c.Any {
			if sub.Matches(payload) {
				return true
			}
		}
		return false
	case c.Not != nil:
		return !c.Not.Matches(payload)
	}

	value, ok := lookupField(payload, c.Field)
	if c.Op == OpExists {
		return ok
	}
	if !ok {
		return false
	}

	switch c.Op {
	case OpEq:
		return compareEq(value, c.Value)
	case OpNe:
		return !compareEq(value, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		return compareOrdered(value, c.Value, c.Op)
	case OpIn:
		items, ok := c.Value.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if compareEq(value, item) {
				return true
			}
		}
		return false
	case OpContains:
		return contains(value, c.Value)
	default:
		return false
	}
}

// Validate rejects structurally malformed conditions.
func (c Condition) Validate() error {
	composite := 0
	if len(c.All) > 0 {
		composite++
	}
	if len(c.Any) > 0 {
		composite++
	}
	if c.Not != nil {
		composite++
	}
	if composite > 1 {
		return fmt.Errorf("condition may use only one of all/any/not")
	}
	if composite == 1 {
		if c.Field != "" || c.Op != "" {
			return fmt.Errorf("composite condition must not carry field/op")
		}
		for _, sub := range c.All {
			if err := sub.Validate(); err != nil {
				return err
			}
		}
		for _, sub := range c.Any {
			if err := sub.Validate(); err != nil {
				return err
			}
		}
		if c.Not != nil {
			return c.Not.Validate()
		}
		return nil
	}

	if strings.TrimSpace(c.Field) == "" {
		return fmt.Errorf("leaf condition requires a field path")
	}
	switch c.Op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpContains, OpExists:
		return nil
	default:
		return fmt.Errorf("unknown operator %q", c.Op)
	}
}

// lookupField walks a dot path ("payload.amount") into nested maps.
func lookupField(payload map[string]any, path string) (any, bool) {
	if payload == nil || path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var current any = payload
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
	return current, true
}

func compareEq(a, b any) bool {
	if fa, fb, ok := bothNumbers(a, b); ok {
		return fa == fb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	default:
		// Slices and maps are not comparable; treat as no match.
		return false
	}
}

func compareOrdered(a, b any, op Operator) bool {
	fa, fb, ok := bothNumbers(a, b)
	if !ok {
		sa, aok := a.(string)
		sb, bok := b.(string)
		if !aok || !bok {
			return false
		}
		return orderedStrings(sa, sb, op)
	}
	switch op {
	case OpGt:
		return fa > fb
	case OpGte:
		return fa >= fb
	case OpLt:
		return fa < fb
	case OpLte:
		return fa <= fb
	}
	return false
}

func orderedStrings(a, b string, op Operator) bool {
	switch op {
	case OpGt:
		return a > b
	case OpGte:
		return a >= b
	case OpLt:
		return a < b
	case OpLte:
		return a <= b
	}
	return false
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		n, ok := needle.(string)
		if !ok {
			return false
		}
		return strings.Contains(h, n)
	case []any:
		for _, item := range h {
			if compareEq(item, needle) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// bothNumbers coerces the numeric types JSON decoding produces.
func bothNumbers(a, b any) (float64, float64, bool) {
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	return fa, fb, aok && bok
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
	default:
		return 0, false
	}
}
