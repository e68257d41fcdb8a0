package filter

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Parse builds an expression from the document DSL:
//
//	{"$and": [...]} / {"$or": [...]} / {"field": {"$op": value}} / {"field": value}
//
// Several keys in one object are AND-ed in key order.
func Parse(raw map[string]any) (*Expr, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]*Expr, 0, len(keys))
	for _, key := range keys {
		value := raw[key]
		switch key {
		case "$and", "$or":
			children, err := parseList(key, value)
			if err != nil {
				return nil, err
			}
			cond := And
			if key == "$or" {
				cond = Or
			}
			parts = append(parts, &Expr{Condition: cond, Exprs: children})
		default:
			if strings.HasPrefix(key, "$") {
				return nil, fmt.Errorf("parse filter: unsupported top-level operator %q", key)
			}
			leaves, err := parseField(key, value)
			if err != nil {
				return nil, err
			}
			parts = append(parts, leaves...)
		}
	}

	if len(parts) == 1 {
		return parts[0], nil
	}
	return &Expr{Condition: And, Exprs: parts}, nil
}

// ParseJSON is Parse over a JSON document.
func ParseJSON(data []byte) (*Expr, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse filter json: %w", err)
	}
	return Parse(raw)
}

func parseList(key string, value any) ([]*Expr, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("parse filter: %s expects a list, got %T", key, value)
	}
	out := make([]*Expr, 0, len(items))
	for idx, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("parse filter: %s[%d] expects an object, got %T", key, idx, item)
		}
		child, err := Parse(obj)
		if err != nil {
			return nil, err
		}
		if child != nil {
			out = append(out, child)
		}
	}
	return out, nil
}

func parseField(field string, value any) ([]*Expr, error) {
	ops, ok := value.(map[string]any)
	if !ok || !operatorObject(ops) {
		return []*Expr{Eq(field, value)}, nil
	}

	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*Expr, 0, len(names))
	for _, name := range names {
		op := Operator(strings.TrimPrefix(name, "$")).Normalize()
		out = append(out, Leaf(field, op, ops[name]))
	}
	return out, nil
}

func operatorObject(obj map[string]any) bool {
	if len(obj) == 0 {
		return false
	}
	for k := range obj {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

// DSL renders expr back into the document form accepted by Parse.
func (e *Expr) DSL() map[string]any {
	if e == nil {
		return map[string]any{}
	}
	if e.IsCompound() {
		children := make([]any, 0, len(e.Exprs))
		for _, child := range e.Exprs {
			children = append(children, child.DSL())
		}
		return map[string]any{"$" + string(e.Condition): children}
	}
	return map[string]any{
		e.Field: map[string]any{"$" + string(e.Op.Normalize()): e.Value},
	}
}

func (e *Expr) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.DSL())
}

func (e *Expr) String() string {
	if e == nil {
		return "true"
	}
	if e.IsCompound() {
		parts := make([]string, 0, len(e.Exprs))
		for _, child := range e.Exprs {
			parts = append(parts, child.String())
		}
		return "(" + strings.Join(parts, " "+strings.ToUpper(string(e.Condition))+" ") + ")"
	}
	return fmt.Sprintf("%s %s %v", e.Field, e.Op.Normalize(), e.Value)
}
