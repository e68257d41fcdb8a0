// Package filter evaluates boolean metadata expressions against record metadata.
//
// A nil *Expr matches everything. Leaves compare one metadata field; compounds
// combine children with AND or OR over the full child list. A leaf whose field
// is absent from the metadata never matches, whatever the operator.
package filter

import (
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"strings"
)

type Operator string

const (
	OpEq                   Operator = "eq"
	OpNe                   Operator = "ne"
	OpGt                   Operator = "gt"
	OpGte                  Operator = "gte"
	OpLt                   Operator = "lt"
	OpLte                  Operator = "lte"
	OpIn                   Operator = "in"
	OpNin                  Operator = "nin"
	OpContains             Operator = "contains"
	OpIsEmpty              Operator = "is_empty"
	OpTextMatch            Operator = "text_match"
	OpTextMatchInsensitive Operator = "text_match_insensitive"
	OpAny                  Operator = "any"
	OpAll                  Operator = "all"
)

// Normalize maps unknown operators to OpEq.
func (o Operator) Normalize() Operator {
	switch o {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNin, OpContains,
		OpIsEmpty, OpTextMatch, OpTextMatchInsensitive, OpAny, OpAll:
		return o
	default:
		return OpEq
	}
}

type Condition string

const (
	And Condition = "and"
	Or  Condition = "or"
)

// Expr is either a leaf (Field set) or a compound (Condition set).
type Expr struct {
	Condition Condition
	Exprs     []*Expr

	Field string
	Op    Operator
	Value any
}

func (e *Expr) IsCompound() bool {
	return e != nil && e.Condition != ""
}

func Leaf(field string, op Operator, value any) *Expr {
	return &Expr{Field: field, Op: op, Value: value}
}

func Eq(field string, value any) *Expr  { return Leaf(field, OpEq, value) }
func Ne(field string, value any) *Expr  { return Leaf(field, OpNe, value) }
func In(field string, values any) *Expr { return Leaf(field, OpIn, values) }

// AllOf joins exprs with AND, skipping nil operands. A single operand is returned as is.
func AllOf(exprs ...*Expr) *Expr {
	return compound(And, exprs)
}

// AnyOf joins exprs with OR, skipping nil operands.
func AnyOf(exprs ...*Expr) *Expr {
	return compound(Or, exprs)
}

func compound(cond Condition, exprs []*Expr) *Expr {
	kept := make([]*Expr, 0, len(exprs))
	for _, e := range exprs {
		if e != nil {
			kept = append(kept, e)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return &Expr{Condition: cond, Exprs: kept}
	}
}

// Evaluate reports whether metadata satisfies expr.
func Evaluate(expr *Expr, metadata map[string]any) bool {
	if expr == nil {
		return true
	}
	if expr.IsCompound() {
		if len(expr.Exprs) == 0 {
			return true
		}
		results := make([]bool, len(expr.Exprs))
		for i, child := range expr.Exprs {
			results[i] = Evaluate(child, metadata)
		}
		if expr.Condition == Or {
			for _, r := range results {
				if r {
					return true
				}
			}
			return false
		}
		for _, r := range results {
			if !r {
				return false
			}
		}
		return true
	}

	value, ok := metadata[expr.Field]
	if !ok {
		return false
	}
	return evaluateLeaf(expr.Op.Normalize(), value, expr.Value)
}

func evaluateLeaf(op Operator, value, filterValue any) bool {
	switch op {
	case OpGt, OpGte, OpLt, OpLte:
		want, ok := toFloat(filterValue)
		if !ok {
			slog.Debug("filter_invalid_value", "operator", string(op), "expected", "number", "got", fmt.Sprintf("%T", filterValue))
			return false
		}
		got, ok := toFloat(value)
		if !ok {
			return false
		}
		switch op {
		case OpGt:
			return got > want
		case OpGte:
			return got >= want
		case OpLt:
			return got < want
		default:
			return got <= want
		}

	case OpEq, OpNe:
		if !isScalar(filterValue) {
			slog.Debug("filter_invalid_value", "operator", string(op), "expected", "scalar", "got", fmt.Sprintf("%T", filterValue))
			return false
		}
		if op == OpEq {
			return equalValues(value, filterValue)
		}
		return !equalValues(value, filterValue)

	case OpIn, OpNin:
		items, ok := scalarList(filterValue)
		if !ok {
			slog.Debug("filter_invalid_value", "operator", string(op), "expected", "list", "got", fmt.Sprintf("%T", filterValue))
			return false
		}
		found := containsValue(items, value)
		if op == OpIn {
			return found
		}
		return !found

	case OpContains, OpAny, OpAll:
		items, ok := scalarList(filterValue)
		if !ok {
			return false
		}
		if op != OpContains && !allStrings(items) {
			return false
		}
		if op == OpAll {
			for _, item := range items {
				if !holds(value, item) {
					return false
				}
			}
			return true
		}
		for _, item := range items {
			if holds(value, item) {
				return true
			}
		}
		return false

	case OpIsEmpty:
		if value == nil {
			return true
		}
		if s, ok := value.(string); ok {
			return s == ""
		}
		if list, ok := toList(value); ok {
			return len(list) == 0
		}
		return false

	case OpTextMatch, OpTextMatchInsensitive:
		needle, ok := filterValue.(string)
		if !ok {
			return false
		}
		haystack := fmt.Sprint(value)
		if op == OpTextMatchInsensitive {
			return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
		}
		return strings.Contains(haystack, needle)
	}
	return false
}

// holds reports whether item is part of value: list membership or substring.
func holds(value, item any) bool {
	if s, ok := value.(string); ok {
		needle, isString := item.(string)
		return isString && strings.Contains(s, needle)
	}
	list, ok := toList(value)
	if !ok {
		return false
	}
	return containsValue(list, item)
}

func containsValue(items []any, value any) bool {
	for _, item := range items {
		if equalValues(item, value) {
			return true
		}
	}
	return false
}

func equalValues(a, b any) bool {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		return af == bf
	}
	if aNum != bNum {
		return false
	}
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return as == bs
	}
	return reflect.DeepEqual(a, b)
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool:
		return true
	}
	_, ok := toFloat(v)
	return ok
}

func allStrings(items []any) bool {
	for _, item := range items {
		if _, ok := item.(string); !ok {
			return false
		}
	}
	return true
}

func scalarList(v any) ([]any, bool) {
	list, ok := toList(v)
	if !ok {
		return nil, false
	}
	for _, item := range list {
		if !isScalar(item) {
			return nil, false
		}
	}
	return list, true
}

func toList(v any) ([]any, bool) {
	switch typed := v.(type) {
	case []any:
		return typed, true
	case []string:
		out := make([]any, len(typed))
		for i, s := range typed {
			out[i] = s
		}
		return out, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		if math.IsNaN(n) {
			return 0, false
		}
		return n, true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
