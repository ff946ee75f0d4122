// Package visibility decides which menu items and permissions an identity
// can see.
package visibility

import (
	"github.com/aqarfund/aqar/internal/menu"
	"github.com/aqarfund/aqar/internal/rbac"
)

// Key identifies one role × menu item visibility row.
type Key struct {
	RoleID     int64
	MenuItemID int64
}

// Rules holds explicit visibility rows. A missing key means no row exists.
type Rules map[Key]bool

// Lookup returns the explicit value for the pair and whether a row exists.
func (r Rules) Lookup(roleID, menuItemID int64) (visible, ok bool) {
	visible, ok = r[Key{RoleID: roleID, MenuItemID: menuItemID}]
	return visible, ok
}

// IsMenuItemVisible applies the visibility rules to a single item:
// inactive items are hidden; a required permission the caller lacks hides
// the item regardless of rows; otherwise any role with an explicit true row,
// or with no row on a public item that needs no permission, makes it visible.
// Without roles only public items that need no permission are visible.
func IsMenuItemVisible(item menu.Item, roleIDs []int64, perms rbac.PermissionSet, rules Rules) bool {
	if !item.IsActive {
		return false
	}
	if item.RequiredPermission != "" && !perms.Has(item.RequiredPermission) {
		return false
	}
	openByDefault := item.IsPublic && item.RequiredPermission == ""
	if len(roleIDs) == 0 {
		return openByDefault
	}
	for _, roleID := range roleIDs {
		visible, ok := rules.Lookup(roleID, item.ID)
		if ok && visible {
			return true
		}
		if !ok && openByDefault {
			return true
		}
	}
	return false
}

// FilterAccessible keeps the visible items whose parent chain is also kept.
// items must be in hierarchy order.
func FilterAccessible(items []menu.Item, roleIDs []int64, perms rbac.PermissionSet, rules Rules) []menu.Item {
	included := make(map[int64]struct{}, len(items))
	out := make([]menu.Item, 0, len(items))
	for _, item := range items {
		if item.ParentID != nil {
			if _, ok := included[*item.ParentID]; !ok {
				continue
			}
		}
		if !IsMenuItemVisible(item, roleIDs, perms, rules) {
			continue
		}
		included[item.ID] = struct{}{}
		out = append(out, item)
	}
	return out
}
