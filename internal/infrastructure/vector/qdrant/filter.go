package qdrant

import (
	"math"
	"strings"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/filter"
)

const metaPrefix = "meta."

// translateFilter renders the part of expr Qdrant can evaluate. The result
// never excludes a point expr would accept; callers re-evaluate expr on the
// returned chunks. nil means no restriction.
func translateFilter(expr *filter.Expr) map[string]any {
	if expr == nil {
		return nil
	}
	if expr.IsCompound() {
		children := make([]any, 0, len(expr.Exprs))
		for _, child := range expr.Exprs {
			translated := translateFilter(child)
			if translated == nil {
				if expr.Condition == filter.Or {
					return nil
				}
				continue
			}
			children = append(children, translated)
		}
		if len(children) == 0 {
			return nil
		}
		key := "must"
		if expr.Condition == filter.Or {
			key = "should"
		}
		return map[string]any{key: children}
	}
	return translateLeaf(expr)
}

func translateLeaf(expr *filter.Expr) map[string]any {
	key := metaPrefix + expr.Field
	if strings.TrimSpace(expr.Field) == "" {
		return nil
	}
	if expr.Field == domain.MetaDocumentID {
		return translateDocumentID(expr)
	}
	switch expr.Op.Normalize() {
	case filter.OpEq:
		if !matchable(expr.Value) {
			return nil
		}
		return map[string]any{"key": key, "match": map[string]any{"value": expr.Value}}
	case filter.OpNe:
		if !matchable(expr.Value) {
			return nil
		}
		return map[string]any{"must_not": []any{
			map[string]any{"key": key, "match": map[string]any{"value": expr.Value}},
		}}
	case filter.OpIn:
		values, ok := stringList(expr.Value)
		if !ok {
			return nil
		}
		return map[string]any{"key": key, "match": map[string]any{"any": values}}
	}
	return nil
}

// matchable reports whether Qdrant keyword/bool matching has the same
// meaning as filter equality for value.
func matchable(value any) bool {
	switch value.(type) {
	case string, bool:
		return true
	default:
		return false
	}
}

func stringList(value any) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return v, len(v) > 0
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, len(out) > 0
	default:
		return nil, false
	}
}

// translateDocumentID matches the top-level document_id payload field, which
// chunks carry, or the copy in meta.
func translateDocumentID(expr *filter.Expr) map[string]any {
	var ids []int64
	var ok bool
	switch expr.Op.Normalize() {
	case filter.OpEq:
		ids, ok = integerList([]any{expr.Value})
	case filter.OpIn:
		ids, ok = integerList(expr.Value)
	}
	if !ok {
		return nil
	}
	return map[string]any{"should": []any{
		map[string]any{"key": domain.MetaDocumentID, "match": map[string]any{"any": ids}},
		map[string]any{"key": metaPrefix + domain.MetaDocumentID, "match": map[string]any{"any": ids}},
	}}
}

func integerList(value any) ([]int64, bool) {
	var items []any
	switch v := value.(type) {
	case []int64:
		return v, len(v) > 0
	case []any:
		items = v
	default:
		return nil, false
	}
	out := make([]int64, 0, len(items))
	for _, item := range items {
		switch n := item.(type) {
		case int:
			out = append(out, int64(n))
		case int64:
			out = append(out, n)
		case float64:
			if n != math.Trunc(n) {
				return nil, false
			}
			out = append(out, int64(n))
		default:
			return nil, false
		}
	}
	return out, len(out) > 0
}
