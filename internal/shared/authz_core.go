package shared

// Core platform permissions.
const (
	PermUsersManage = "users.manage"

	PermRolesView   = "roles.view"
	PermRolesManage = "roles.manage"

	PermMenuManage = "menu.manage"
	PermAuditView  = "audit.view"
)

// Domain permissions gated by menu items.
const (
	PermPropertiesView     = "properties.view"
	PermPropertiesManage   = "properties.manage"
	PermInvestmentsView    = "investments.view"
	PermKYCReview          = "kyc.review"
	PermCRMView            = "crm.view"
	PermEmailTemplates     = "email_templates.manage"
	PermCustomFieldsManage = "custom_fields.manage"
	PermCurrencyView       = "currency.view"
)

// Conventional role names.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleInvestor   = "investor"
	RoleGuest      = "guest"
)

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermUsersManage,
		PermRolesView,
		PermRolesManage,
		PermMenuManage,
		PermAuditView,
	}
}

// DomainScopes lists the business permissions referenced by the default menu.
func DomainScopes() []string {
	return []string{
		PermPropertiesView,
		PermPropertiesManage,
		PermInvestmentsView,
		PermKYCReview,
		PermCRMView,
		PermEmailTemplates,
		PermCustomFieldsManage,
		PermCurrencyView,
	}
}
