// Package menuadmin applies audited changes to menu visibility and role
// permissions on behalf of an administrator.
package menuadmin

import (
	"net/http"

	"github.com/aqarfund/aqar/internal/auth"
	"github.com/aqarfund/aqar/internal/menu"
	"github.com/aqarfund/aqar/internal/rbac"
	"github.com/aqarfund/aqar/internal/shared"
)

// MaxBulkChanges caps a single bulk request.
const MaxBulkChanges = 500

// Failure reasons reported for bulk changes.
const (
	ReasonNotFound   = "not_found"
	ReasonValidation = "validation"
	ReasonInternal   = "internal"
)

// Actor is the administrator performing a change.
type Actor struct {
	UserID    int64
	SourceIP  string
	UserAgent string
}

// ActorFromRequest builds an Actor from the authenticated identity and the
// request origin.
func ActorFromRequest(r *http.Request) (Actor, error) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity.Anonymous() {
		return Actor{}, shared.ErrUnauthorized
	}
	origin := shared.OriginFromContext(r.Context())
	if origin.IP == "" && origin.UserAgent == "" {
		origin = shared.OriginFromRequest(r)
	}
	return Actor{UserID: identity.UserID, SourceIP: origin.IP, UserAgent: origin.UserAgent}, nil
}

// VisibilityChange is one role × menu item toggle.
type VisibilityChange struct {
	RoleID     int64 `json:"role_id"`
	MenuItemID int64 `json:"menu_item_id"`
	Visible    bool  `json:"visible"`
}

// VisibilityResult reports an applied toggle.
type VisibilityResult struct {
	VisibilityChange
	PreviousValue *bool `json:"previous_value"`
	AuditID       int64 `json:"audit_id"`
}

// ChangeError describes a failed entry of a bulk request.
type ChangeError struct {
	Index      int    `json:"index"`
	RoleID     int64  `json:"role_id"`
	MenuItemID int64  `json:"menu_item_id"`
	Reason     string `json:"reason"`
	Message    string `json:"message"`
}

// BulkResult summarises a bulk request.
type BulkResult struct {
	Applied int           `json:"applied"`
	Failed  []ChangeError `json:"failed"`
}

// MatrixCell is one role's view of a menu item. Explicit is nil when no
// visibility row exists.
type MatrixCell struct {
	RoleID    int64 `json:"role_id"`
	Explicit  *bool `json:"explicit"`
	Effective bool  `json:"effective"`
}

// MatrixRow is one menu item across all active roles.
type MatrixRow struct {
	Item  menu.Item    `json:"item"`
	Cells []MatrixCell `json:"cells"`
}

// Matrix is the full role × menu item visibility grid.
type Matrix struct {
	Roles []rbac.Role `json:"roles"`
	Rows  []MatrixRow `json:"rows"`
}
