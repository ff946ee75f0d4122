package visibility

import (
	"context"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/aqarfund/aqar/internal/menu"
	"github.com/aqarfund/aqar/internal/rbac"
)

// RoleStore supplies a user's roles and permission names.
type RoleStore interface {
	GetUserRoles(ctx context.Context, userID int64) ([]rbac.Role, error)
	UserPermissionNames(ctx context.Context, userID int64) ([]string, error)
}

// MenuSource supplies menu items in hierarchy order.
type MenuSource interface {
	List(ctx context.Context) ([]menu.Item, error)
}

// RuleStore supplies explicit visibility rows.
type RuleStore interface {
	RulesForRoles(ctx context.Context, roleIDs []int64) (Rules, error)
}

// Resolver answers visibility and permission questions for a user. It never writes.
type Resolver struct {
	roles RoleStore
	menus MenuSource
	rules RuleStore
	cache *Cache
}

// NewResolver constructs a Resolver. cache may be nil.
func NewResolver(roles RoleStore, menus MenuSource, rules RuleStore, cache *Cache) *Resolver {
	return &Resolver{roles: roles, menus: menus, rules: rules, cache: cache}
}

// EffectivePermissions returns the union of permissions over the user's active roles.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID int64) (rbac.PermissionSet, error) {
	var names []string
	err := r.cache.FetchJSON(ctx, &names, func(ctx context.Context) (any, error) {
		return r.roles.UserPermissionNames(ctx, userID)
	}, "perms", strconv.FormatInt(userID, 10))
	if err != nil {
		return nil, err
	}
	return rbac.NewPermissionSet(names...), nil
}

// HasPermission reports whether the user holds name.
func (r *Resolver) HasPermission(ctx context.Context, userID int64, name string) (bool, error) {
	set, err := r.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.Has(name), nil
}

// HasAnyPermission reports whether the user holds at least one of names.
func (r *Resolver) HasAnyPermission(ctx context.Context, userID int64, names ...string) (bool, error) {
	set, err := r.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.HasAny(names...), nil
}

// AccessibleMenuItems returns the items visible to the user in hierarchy
// order. A child is only returned when its parent is.
func (r *Resolver) AccessibleMenuItems(ctx context.Context, userID int64) ([]menu.Item, error) {
	var items []menu.Item
	err := r.cache.FetchJSON(ctx, &items, func(ctx context.Context) (any, error) {
		return r.resolveMenu(ctx, userID)
	}, "menu", strconv.FormatInt(userID, 10))
	if err != nil {
		return nil, err
	}
	return items, nil
}

// AccessibleMenuTree nests AccessibleMenuItems.
func (r *Resolver) AccessibleMenuTree(ctx context.Context, userID int64) ([]*menu.Node, error) {
	items, err := r.AccessibleMenuItems(ctx, userID)
	if err != nil {
		return nil, err
	}
	return menu.BuildTree(items), nil
}

func (r *Resolver) resolveMenu(ctx context.Context, userID int64) ([]menu.Item, error) {
	var (
		roles []rbac.Role
		perms rbac.PermissionSet
		items []menu.Item
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		roles, err = r.roles.GetUserRoles(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		perms, err = r.EffectivePermissions(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		items, err = r.menus.List(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	roleIDs := make([]int64, 0, len(roles))
	for _, role := range roles {
		roleIDs = append(roleIDs, role.ID)
	}
	rules, err := r.rules.RulesForRoles(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	return FilterAccessible(items, roleIDs, perms, rules), nil
}
