// Package authority holds the per-turn set of CRM records a user may see.
package authority

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/filter"
)

// Grant is one entry of the CRM authorization list.
type Grant struct {
	DataID string `json:"dataId"`
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// Authority is immutable after construction and safe for concurrent reads.
type Authority struct {
	items  map[domain.CrmDataType]map[string]struct{}
	bypass bool
}

// New builds an Authority from grants. High-seas accounts are visible to every
// user and land in the account set. Grants with an empty type or id are
// skipped, unknown types are logged and skipped.
func New(grants []Grant, highSeasAccounts []string) *Authority {
	a := &Authority{items: make(map[domain.CrmDataType]map[string]struct{})}
	for _, g := range grants {
		if g.Type == "" || g.DataID == "" {
			continue
		}
		t, ok := domain.ParseCrmDataType(g.Type)
		if !ok {
			slog.Warn("authority_unknown_data_type", "type", g.Type, "data_id", g.DataID)
			continue
		}
		a.add(t, g.DataID)
	}
	for _, id := range highSeasAccounts {
		if id != "" {
			a.add(domain.CrmAccount, id)
		}
	}
	return a
}

// FromSets builds an Authority directly from id sets.
func FromSets(sets map[domain.CrmDataType][]string) *Authority {
	a := &Authority{items: make(map[domain.CrmDataType]map[string]struct{}, len(sets))}
	for t, ids := range sets {
		for _, id := range ids {
			a.add(t, id)
		}
	}
	return a
}

// Empty grants nothing beyond exempt data types.
func Empty() *Authority {
	return &Authority{items: map[domain.CrmDataType]map[string]struct{}{}}
}

// Bypass grants everything.
func Bypass() *Authority {
	return &Authority{items: map[domain.CrmDataType]map[string]struct{}{}, bypass: true}
}

func (a *Authority) add(t domain.CrmDataType, id string) {
	set, ok := a.items[t]
	if !ok {
		set = make(map[string]struct{})
		a.items[t] = set
	}
	set[id] = struct{}{}
}

func (a *Authority) IsBypass() bool {
	return a != nil && a.bypass
}

func (a *Authority) IsAuthorized(t domain.CrmDataType, id string) bool {
	if t.IsExempt() || a.IsBypass() {
		return true
	}
	if a == nil {
		return false
	}
	_, ok := a.items[t][id]
	return ok
}

// IsEmpty reports whether no type has a non-empty id set. Bypass is never empty.
func (a *Authority) IsEmpty() bool {
	if a.IsBypass() {
		return false
	}
	if a == nil {
		return true
	}
	for _, set := range a.items {
		if len(set) > 0 {
			return false
		}
	}
	return true
}

// IDs returns the sorted authorized ids for t.
func (a *Authority) IDs(t domain.CrmDataType) []string {
	if a == nil {
		return nil
	}
	set := a.items[t]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Stats returns per-type id counts for logging.
func (a *Authority) Stats() map[string]int {
	out := make(map[string]int)
	if a == nil {
		return out
	}
	for t, set := range a.items {
		out[string(t)] = len(set)
	}
	return out
}

// Filter builds the row-level authorization predicate:
//
//	domain_type != "crm" OR crm_data_type IN exempt OR
//	  (crm_data_type == T AND unique_id IN ids(T)) for each granted T
//
// Bypass returns nil, which matches every record.
func (a *Authority) Filter() *filter.Expr {
	if a.IsBypass() {
		return nil
	}

	exempt := make([]string, 0, 3)
	for _, t := range domain.ExemptCrmDataTypes() {
		exempt = append(exempt, string(t))
	}
	clauses := []*filter.Expr{
		filter.Ne(domain.MetaDomainType, domain.DomainTypeCRM),
		filter.In(domain.MetaCrmDataType, exempt),
	}

	for _, t := range domain.CrmDataTypes() {
		if t.IsExempt() {
			continue
		}
		ids := a.IDs(t)
		if len(ids) == 0 {
			continue
		}
		clauses = append(clauses, filter.AllOf(
			filter.Eq(domain.MetaCrmDataType, string(t)),
			filter.In(domain.MetaUniqueID, ids),
		))
	}
	return filter.AnyOf(clauses...)
}

// PermitsMetadata reports whether a record with meta passes Filter.
func (a *Authority) PermitsMetadata(meta map[string]any) bool {
	return filter.Evaluate(a.Filter(), meta)
}

// IdentifyCRMDataType returns the CRM type of a record and its most specific id.
func IdentifyCRMDataType(meta map[string]any) (domain.CrmDataType, string, bool) {
	raw, ok := meta[domain.MetaCrmDataType]
	if !ok {
		return "", "", false
	}
	name, ok := raw.(string)
	if !ok {
		return "", "", false
	}
	t, ok := domain.ParseCrmDataType(name)
	if !ok {
		return "", "", false
	}
	for _, field := range t.IDFields() {
		v, ok := meta[field]
		if !ok || v == nil {
			continue
		}
		id := fmt.Sprint(v)
		if id != "" {
			return t, id, true
		}
	}
	return t, "", false
}
