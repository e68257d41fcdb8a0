package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// SQL renders expr as a PostgreSQL predicate over the JSONB column.
// Placeholders start at $startArg. Field names are passed as arguments, so
// column is the only identifier interpolated into the statement.
func SQL(expr *Expr, column string, startArg int) (string, []any) {
	b := &sqlBuilder{column: column, next: startArg}
	return b.build(expr), b.args
}

type sqlBuilder struct {
	column string
	next   int
	args   []any
}

func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	placeholder := "$" + strconv.Itoa(b.next)
	b.next++
	return placeholder
}

func (b *sqlBuilder) build(expr *Expr) string {
	if expr == nil {
		return "TRUE"
	}
	if expr.IsCompound() {
		if len(expr.Exprs) == 0 {
			return "TRUE"
		}
		parts := make([]string, 0, len(expr.Exprs))
		for _, child := range expr.Exprs {
			parts = append(parts, b.build(child))
		}
		joiner := " AND "
		if expr.Condition == Or {
			joiner = " OR "
		}
		return "(" + strings.Join(parts, joiner) + ")"
	}
	return b.leaf(expr)
}

// leaf renders one comparison. The predicate never rejects a row Evaluate
// accepts; it may accept rows Evaluate rejects, so callers re-check results
// with Evaluate.
func (b *sqlBuilder) leaf(expr *Expr) string {
	col := b.column
	key := b.arg(expr.Field) + "::text"
	j := jsonField{
		present: fmt.Sprintf("(%s ? %s)", col, key),
		value:   fmt.Sprintf("%s->%s", col, key),
		text:    fmt.Sprintf("(%s->>%s)", col, key),
		typ:     fmt.Sprintf("jsonb_typeof(%s->%s)", col, key),
	}

	switch op := expr.Op.Normalize(); op {
	case OpGt, OpGte, OpLt, OpLte:
		n, ok := toFloat(expr.Value)
		if !ok {
			return "FALSE"
		}
		return fmt.Sprintf("(CASE WHEN %s = 'number' THEN %s::double precision %s %s ELSE FALSE END)",
			j.typ, j.text, sqlComparison(op), b.arg(n))

	case OpEq, OpNe:
		if !isScalar(expr.Value) {
			return "FALSE"
		}
		match := b.membership(j, []any{expr.Value})
		if op == OpEq {
			return match
		}
		return fmt.Sprintf("(%s AND NOT COALESCE(%s, FALSE))", j.present, match)

	case OpIn, OpNin:
		items, ok := scalarList(expr.Value)
		if !ok {
			return "FALSE"
		}
		match := b.membership(j, items)
		if op == OpIn {
			return match
		}
		return fmt.Sprintf("(%s AND NOT COALESCE(%s, FALSE))", j.present, match)

	case OpContains, OpAny, OpAll:
		items, ok := scalarList(expr.Value)
		if !ok || (op != OpContains && !allStrings(items)) {
			return "FALSE"
		}
		if len(items) == 0 {
			if op == OpAll {
				return j.present
			}
			return "FALSE"
		}
		parts := make([]string, 0, len(items))
		for _, item := range items {
			s, isString := item.(string)
			if !isString {
				// Numeric and boolean elements are matched by Evaluate.
				parts = append(parts, fmt.Sprintf("(%s = 'array')", j.typ))
				continue
			}
			needle := b.arg(s) + "::text"
			parts = append(parts, fmt.Sprintf("(CASE %s WHEN 'string' THEN strpos(%s, %s) > 0 WHEN 'array' THEN %s ? %s ELSE FALSE END)",
				j.typ, j.text, needle, j.value, needle))
		}
		joiner := " OR "
		if op == OpAll {
			joiner = " AND "
		}
		return "(" + strings.Join(parts, joiner) + ")"

	case OpIsEmpty:
		return fmt.Sprintf("(%s AND (%s = 'null'::jsonb OR %s = '' OR %s = '[]'::jsonb))",
			j.present, j.value, j.text, j.value)

	case OpTextMatch, OpTextMatchInsensitive:
		s, ok := expr.Value.(string)
		if !ok {
			return "FALSE"
		}
		haystack, needle := j.text, b.arg(s)+"::text"
		if op == OpTextMatchInsensitive {
			haystack, needle = "lower"+haystack, "lower("+needle+")"
		}
		// Non-string values are compared on their Go rendering by Evaluate.
		return fmt.Sprintf("(CASE WHEN %s = 'string' THEN strpos(%s, %s) > 0 ELSE %s END)",
			j.typ, haystack, needle, j.present)
	}
	return "FALSE"
}

// jsonField holds the SQL fragments addressing one metadata key.
type jsonField struct {
	present string
	value   string
	text    string
	typ     string
}

// membership matches the stored value against items with Evaluate's equality:
// numbers compare numerically, strings and booleans only against their own
// JSON type. A missing key yields NULL or FALSE.
func (b *sqlBuilder) membership(j jsonField, items []any) string {
	var (
		numbers []float64
		strs    []string
		bools   []string
	)
	for _, item := range items {
		if n, ok := toFloat(item); ok {
			numbers = append(numbers, n)
			continue
		}
		switch v := item.(type) {
		case string:
			strs = append(strs, v)
		case bool:
			bools = append(bools, strconv.FormatBool(v))
		}
	}

	parts := make([]string, 0, 3)
	if len(strs) > 0 {
		parts = append(parts, fmt.Sprintf("(%s = 'string' AND %s)", j.typ, anyOf(b, j.text, strs, "text")))
	}
	if len(bools) > 0 {
		parts = append(parts, fmt.Sprintf("(%s = 'boolean' AND %s)", j.typ, anyOf(b, j.text, bools, "text")))
	}
	if len(numbers) > 0 {
		parts = append(parts, fmt.Sprintf("(CASE WHEN %s = 'number' THEN %s ELSE FALSE END)",
			j.typ, anyOf(b, j.text+"::double precision", numbers, "double precision")))
	}
	switch len(parts) {
	case 0:
		return "FALSE"
	case 1:
		return parts[0]
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// anyOf compares lhs with a single placeholder, or with ANY of an array one.
func anyOf[T any](b *sqlBuilder, lhs string, values []T, sqlType string) string {
	if len(values) == 1 {
		return fmt.Sprintf("%s = %s", lhs, b.arg(values[0]))
	}
	return fmt.Sprintf("%s = ANY(%s::%s[])", lhs, b.arg(values), sqlType)
}

func sqlComparison(op Operator) string {
	switch op {
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpLt:
		return "<"
	default:
		return "<="
	}
}
