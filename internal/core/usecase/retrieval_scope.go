package usecase

import (
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/authority"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/filter"
)

// RetrievalScope is the per-turn visibility of the caller.
type RetrievalScope struct {
	Authority *authority.Authority
	// Allowlist restricts document-derived records. Empty means unrestricted.
	Allowlist []int64
}

// Filter composes the authority predicate with the document allow-list.
// CRM records are governed by the authority only.
func (s RetrievalScope) Filter() *filter.Expr {
	var authFilter *filter.Expr
	if s.Authority == nil {
		authFilter = authority.Empty().Filter()
	} else {
		authFilter = s.Authority.Filter()
	}
	return filter.AllOf(authFilter, AllowlistFilter(s.Allowlist))
}

func AllowlistFilter(ids []int64) *filter.Expr {
	if len(ids) == 0 {
		return nil
	}
	return filter.AnyOf(
		filter.Eq(domain.MetaDomainType, domain.DomainTypeCRM),
		filter.In(domain.MetaDocumentID, ids),
	)
}
