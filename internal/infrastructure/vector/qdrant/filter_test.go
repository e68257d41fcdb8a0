package qdrant

import (
	"testing"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/filter"
)

func TestTranslateFilterDropsUntranslatableOrBranches(t *testing.T) {
	expr := filter.AnyOf(filter.Eq("domain_type", "document"), filter.Leaf("amount", filter.OpGt, 1))
	if got := translateFilter(expr); got != nil {
		t.Fatalf("expected OR with untranslatable branch to be skipped, got %v", got)
	}
}

func TestTranslateFilterKeepsTranslatableAndParts(t *testing.T) {
	expr := filter.AllOf(
		filter.Eq("crm_data_type", "crm_account"),
		filter.In("unique_id", []any{"a-1", "a-2"}),
		filter.Leaf("name", filter.OpTextMatch, "acme"),
	)
	got := translateFilter(expr)
	must, ok := got["must"].([]any)
	if !ok || len(must) != 2 {
		t.Fatalf("expected two translated parts, got %v", got)
	}
	in := must[1].(map[string]any)
	if in["key"] != "meta.unique_id" {
		t.Fatalf("unexpected key %v", in["key"])
	}
	values := in["match"].(map[string]any)["any"].([]string)
	if len(values) != 2 || values[0] != "a-1" {
		t.Fatalf("unexpected values %v", values)
	}
}

func TestTranslateFilterSkipsNumericEquality(t *testing.T) {
	if got := translateFilter(filter.Eq("amount", 3)); got != nil {
		t.Fatalf("expected numeric equality to stay client side, got %v", got)
	}
}

func TestTranslateFilterNil(t *testing.T) {
	if translateFilter(nil) != nil {
		t.Fatalf("expected nil")
	}
}

func TestTranslateFilterMatchesTopLevelDocumentID(t *testing.T) {
	got := translateFilter(filter.In("document_id", []int64{3, 4}))
	should, ok := got["should"].([]any)
	if !ok || len(should) != 2 {
		t.Fatalf("expected top-level and meta alternatives, got %v", got)
	}
	top := should[0].(map[string]any)
	if top["key"] != "document_id" {
		t.Fatalf("unexpected key %v", top["key"])
	}
	ids := top["match"].(map[string]any)["any"].([]int64)
	if len(ids) != 2 || ids[0] != 3 {
		t.Fatalf("unexpected ids %v", ids)
	}
	if should[1].(map[string]any)["key"] != "meta.document_id" {
		t.Fatalf("expected meta fallback, got %v", should[1])
	}
}

func TestTranslateFilterSkipsNonIntegerDocumentID(t *testing.T) {
	if got := translateFilter(filter.Eq("document_id", "3")); got != nil {
		t.Fatalf("expected string document ids to stay client side, got %v", got)
	}
}
