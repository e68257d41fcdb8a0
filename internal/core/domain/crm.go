package domain

// CrmDataType tags records that originate from CRM data.
type CrmDataType string

const (
	CrmAccount            CrmDataType = "crm_account"
	CrmOpportunity        CrmDataType = "crm_opportunity"
	CrmContact            CrmDataType = "crm_contact"
	CrmInternalOwner      CrmDataType = "crm_internal_owner"
	CrmOpportunityUpdates CrmDataType = "crm_opportunity_updates"
	CrmOrder              CrmDataType = "crm_order"
	CrmPaymentPlan        CrmDataType = "crm_payment_plan"
	CrmStage              CrmDataType = "crm_stage"
	CrmSalesRecord        CrmDataType = "crm_sales_record"
)

// Metadata keys carried by entities, relationships and chunks.
const (
	MetaDomainType  = "domain_type"
	MetaCrmDataType = "crm_data_type"
	MetaUniqueID    = "unique_id"
	MetaDocumentID  = "document_id"
	MetaTopic       = "topic"

	DomainTypeCRM = "crm"
)

// RoleAdmin is the authorization role that bypasses per-record checks.
const RoleAdmin = "admin"

var crmDataTypes = []CrmDataType{
	CrmAccount,
	CrmOpportunity,
	CrmContact,
	CrmInternalOwner,
	CrmOpportunityUpdates,
	CrmOrder,
	CrmPaymentPlan,
	CrmStage,
	CrmSalesRecord,
}

// CrmDataTypes returns all known CRM data types in declaration order.
func CrmDataTypes() []CrmDataType {
	out := make([]CrmDataType, len(crmDataTypes))
	copy(out, crmDataTypes)
	return out
}

// ParseCrmDataType reports whether raw names a known CRM data type.
func ParseCrmDataType(raw string) (CrmDataType, bool) {
	for _, t := range crmDataTypes {
		if string(t) == raw {
			return t, true
		}
	}
	return "", false
}

// ExemptCrmDataTypes are never access-controlled.
func ExemptCrmDataTypes() []CrmDataType {
	return []CrmDataType{CrmInternalOwner, CrmSalesRecord, CrmStage}
}

func (t CrmDataType) IsExempt() bool {
	switch t {
	case CrmInternalOwner, CrmSalesRecord, CrmStage:
		return true
	default:
		return false
	}
}

// IDFields lists metadata keys holding the record id, most specific first.
func (t CrmDataType) IDFields() []string {
	switch t {
	case CrmAccount:
		return []string{"account_id", "customer_id", MetaUniqueID}
	case CrmContact:
		return []string{"contact_id", MetaUniqueID}
	case CrmInternalOwner:
		return []string{"internal_owner", MetaUniqueID}
	case CrmOpportunity:
		return []string{"opportunity_id", MetaUniqueID}
	case CrmOpportunityUpdates:
		return []string{"opportunity_id", "updates_group_id", MetaUniqueID}
	case CrmOrder:
		return []string{"sales_order_number", MetaUniqueID}
	case CrmPaymentPlan:
		return []string{"name", MetaUniqueID}
	case CrmStage:
		return []string{"stage_id", MetaUniqueID}
	case CrmSalesRecord:
		return []string{"sales_record_id", MetaUniqueID}
	default:
		return []string{MetaUniqueID}
	}
}
