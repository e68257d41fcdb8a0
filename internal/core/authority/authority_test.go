package authority

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/filter"
)

func crmRecord(t domain.CrmDataType, id string) map[string]any {
	return map[string]any{
		domain.MetaDomainType:  domain.DomainTypeCRM,
		domain.MetaCrmDataType: string(t),
		domain.MetaUniqueID:    id,
	}
}

func TestNewSkipsIncompleteAndUnknownGrants(t *testing.T) {
	a := New([]Grant{
		{DataID: "o-1", Type: "crm_opportunity", UserID: "u"},
		{DataID: "", Type: "crm_opportunity"},
		{DataID: "x-1", Type: ""},
		{DataID: "z-1", Type: "crm_unknown"},
		{DataID: "c-1", Type: "crm_contact"},
	}, []string{"acc-sea"})

	assert.True(t, a.IsAuthorized(domain.CrmOpportunity, "o-1"))
	assert.True(t, a.IsAuthorized(domain.CrmContact, "c-1"))
	assert.True(t, a.IsAuthorized(domain.CrmAccount, "acc-sea"))
	assert.False(t, a.IsAuthorized(domain.CrmOpportunity, "o-2"))
	assert.Equal(t, map[string]int{"crm_opportunity": 1, "crm_contact": 1, "crm_account": 1}, a.Stats())
}

func TestExemptTypesAlwaysAuthorized(t *testing.T) {
	a := Empty()
	for _, et := range domain.ExemptCrmDataTypes() {
		assert.True(t, a.IsAuthorized(et, "anything"), et)
	}
	assert.False(t, a.IsAuthorized(domain.CrmAccount, "a-1"))
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, Empty().IsEmpty())
	assert.True(t, New(nil, nil).IsEmpty())
	assert.False(t, Bypass().IsEmpty())
	assert.False(t, FromSets(map[domain.CrmDataType][]string{domain.CrmOrder: {"s-1"}}).IsEmpty())

	var nilAuthority *Authority
	assert.True(t, nilAuthority.IsEmpty())
}

func TestBypassHasNoFilter(t *testing.T) {
	a := Bypass()
	assert.Nil(t, a.Filter())
	assert.True(t, a.IsAuthorized(domain.CrmAccount, "any"))
	assert.True(t, a.PermitsMetadata(crmRecord(domain.CrmOpportunity, "o-9")))
}

func TestEmptyAuthorityFilter(t *testing.T) {
	a := Empty()

	assert.False(t, a.PermitsMetadata(crmRecord(domain.CrmOpportunity, "o-1")))
	assert.True(t, a.PermitsMetadata(crmRecord(domain.CrmStage, "st-1")))
	assert.True(t, a.PermitsMetadata(map[string]any{domain.MetaDomainType: "document"}))
	assert.False(t, a.PermitsMetadata(map[string]any{"title": "untagged"}))
}

func TestFilterMatchesPointChecks(t *testing.T) {
	a := FromSets(map[domain.CrmDataType][]string{
		domain.CrmAccount:     {"a-1", "a-2"},
		domain.CrmOpportunity: {"o-1"},
	})

	expr := a.Filter()
	require.NotNil(t, expr)

	ids := []string{"a-1", "a-2", "o-1", "o-2", "x"}
	for _, dt := range domain.CrmDataTypes() {
		for _, id := range ids {
			rec := crmRecord(dt, id)
			assert.Equalf(t, a.IsAuthorized(dt, id), filter.Evaluate(expr, rec), "%s/%s", dt, id)
		}
	}
}

func TestIdentifyCRMDataTypePrefersSpecificField(t *testing.T) {
	dt, id, ok := IdentifyCRMDataType(map[string]any{
		domain.MetaCrmDataType: "crm_order",
		"sales_order_number":   "SO-7",
		domain.MetaUniqueID:    "u-7",
	})
	require.True(t, ok)
	assert.Equal(t, domain.CrmOrder, dt)
	assert.Equal(t, "SO-7", id)

	dt, id, ok = IdentifyCRMDataType(map[string]any{domain.MetaCrmDataType: "crm_contact", domain.MetaUniqueID: 42})
	require.True(t, ok)
	assert.Equal(t, domain.CrmContact, dt)
	assert.Equal(t, "42", id)

	_, _, ok = IdentifyCRMDataType(map[string]any{domain.MetaCrmDataType: "crm_contact"})
	assert.False(t, ok)

	_, _, ok = IdentifyCRMDataType(map[string]any{"name": "x"})
	assert.False(t, ok)
}
