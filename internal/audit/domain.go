package audit

import (
	"strconv"
	"time"

	"github.com/aqarfund/aqar/internal/shared"
)

// Entry kinds.
const (
	KindMenuVisibility = "menu_visibility"
	KindRolePermission = "role_permission"
)

// Entry is one append-only audit row. MenuItemID is set for menu_visibility
// entries and PermissionID for role_permission entries. PreviousValue is nil
// when no prior state existed.
type Entry struct {
	ID            int64     `json:"id"`
	Kind          string    `json:"kind"`
	ActorUserID   int64     `json:"actor_user_id"`
	RoleID        int64     `json:"role_id"`
	MenuItemID    *int64    `json:"menu_item_id,omitempty"`
	PermissionID  *int64    `json:"permission_id,omitempty"`
	PreviousValue *bool     `json:"previous_value"`
	NewValue      bool      `json:"new_value"`
	ChangedAt     time.Time `json:"changed_at"`
	SourceIP      string    `json:"source_ip"`
	UserAgent     string    `json:"user_agent"`
}

// Filters narrows an audit listing. Zero values mean "any".
type Filters struct {
	RoleID      *int64
	MenuItemID  *int64
	ActorUserID *int64
	Kind        string
	From        time.Time
	To          time.Time
	Page        int
	PageSize    int
}

// Page is one window of the audit log, newest first.
type Page struct {
	Entries []Entry       `json:"entries"`
	Paging  shared.Paging `json:"paging"`
}

// ValidKind reports whether kind is a known entry kind.
func ValidKind(kind string) bool {
	return kind == KindMenuVisibility || kind == KindRolePermission
}

// Validate checks filter consistency.
func (f Filters) Validate() error {
	if f.Kind != "" && !ValidKind(f.Kind) {
		return shared.NewValidationError("kind", "must be one of "+KindMenuVisibility+" "+KindRolePermission)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return shared.NewValidationError("range", "from must not be after to")
	}
	if f.Page > shared.MaxPage {
		return shared.NewValidationError("page", "must not exceed "+strconv.Itoa(shared.MaxPage))
	}
	return nil
}
