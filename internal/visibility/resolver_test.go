package visibility

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqarfund/aqar/internal/menu"
	"github.com/aqarfund/aqar/internal/rbac"
)

type stubRoles struct {
	mu        sync.Mutex
	roles     map[int64][]rbac.Role
	perms     map[int64][]string
	permCalls int
}

func (s *stubRoles) GetUserRoles(ctx context.Context, userID int64) ([]rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roles[userID], nil
}

func (s *stubRoles) UserPermissionNames(ctx context.Context, userID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permCalls++
	return s.perms[userID], nil
}

func (s *stubRoles) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permCalls
}

type stubMenus struct{ items []menu.Item }

func (s stubMenus) List(ctx context.Context) ([]menu.Item, error) {
	return menu.Order(s.items), nil
}

type stubRules struct {
	mu    sync.Mutex
	rules Rules
}

func (s *stubRules) RulesForRoles(ctx context.Context, roleIDs []int64) (Rules, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Rules{}
	for _, id := range roleIDs {
		for key, visible := range s.rules {
			if key.RoleID == id {
				out[key] = visible
			}
		}
	}
	return out, nil
}

func (s *stubRules) set(key Key, visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[key] = visible
}

type resolverFixture struct {
	roles    *stubRoles
	rules    *stubRules
	resolver *Resolver
	cache    *Cache
	redis    *miniredis.Miniredis
}

func newFixture(t *testing.T, withCache bool) *resolverFixture {
	t.Helper()
	roles := &stubRoles{
		roles: map[int64][]rbac.Role{
			1: {{ID: 1, Name: "super_admin", IsActive: true}},
			2: {{ID: 2, Name: "admin", IsActive: true}},
		},
		perms: map[int64][]string{
			1: {"menu.manage", "properties.manage"},
			2: {"properties.manage"},
		},
	}
	menus := stubMenus{items: []menu.Item{
		{ID: 10, Key: "dashboard", IsPublic: true, IsActive: true},
		{ID: 11, Key: "properties", RequiredPermission: "properties.manage", IsActive: true},
		{ID: 12, Key: "menu-admin", RequiredPermission: "menu.manage", IsActive: true},
		{ID: 13, Key: "visibility", ParentID: ptr(12), IsActive: true},
	}}
	rules := &stubRules{rules: Rules{
		{RoleID: 1, MenuItemID: 11}: true,
		{RoleID: 1, MenuItemID: 12}: true,
		{RoleID: 1, MenuItemID: 13}: true,
		{RoleID: 2, MenuItemID: 12}: true,
		{RoleID: 2, MenuItemID: 13}: true,
	}}
	fx := &resolverFixture{roles: roles, rules: rules}
	if withCache {
		fx.redis = miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: fx.redis.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		fx.cache = NewCache(client, time.Minute, nil, nil)
	}
	fx.resolver = NewResolver(roles, menus, rules, fx.cache)
	return fx
}

func keysOf(items []menu.Item) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Key)
	}
	return out
}

func TestAccessibleMenuItemsPerRole(t *testing.T) {
	fx := newFixture(t, false)
	ctx := context.Background()

	items, err := fx.resolver.AccessibleMenuItems(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"dashboard", "properties", "menu-admin", "visibility"}, keysOf(items))

	// admin holds properties.manage but has no row for the properties item,
	// and lacks menu.manage so the child of menu-admin is dropped too.
	items, err = fx.resolver.AccessibleMenuItems(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"dashboard"}, keysOf(items))

	items, err = fx.resolver.AccessibleMenuItems(ctx, 404)
	require.NoError(t, err)
	assert.Equal(t, []string{"dashboard"}, keysOf(items))
}

func TestAccessibleMenuTreeNestsChildren(t *testing.T) {
	fx := newFixture(t, false)
	tree, err := fx.resolver.AccessibleMenuTree(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, tree, 3)
	assert.Equal(t, "menu-admin", tree[2].Item.Key)
	require.Len(t, tree[2].Children, 1)
	assert.Equal(t, "visibility", tree[2].Children[0].Item.Key)
}

func TestEffectivePermissionsAndChecks(t *testing.T) {
	fx := newFixture(t, false)
	ctx := context.Background()

	set, err := fx.resolver.EffectivePermissions(ctx, 404)
	require.NoError(t, err)
	assert.Empty(t, set)

	ok, err := fx.resolver.HasPermission(ctx, 2, " PROPERTIES.manage")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = fx.resolver.HasAnyPermission(ctx, 2, "menu.manage", "audit.view")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = fx.resolver.HasAnyPermission(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCachedResolverServesFromRedisUntilInvalidated(t *testing.T) {
	fx := newFixture(t, true)
	ctx := context.Background()

	_, err := fx.resolver.EffectivePermissions(ctx, 2)
	require.NoError(t, err)
	_, err = fx.resolver.EffectivePermissions(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, fx.roles.calls())

	items, err := fx.resolver.AccessibleMenuItems(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"dashboard"}, keysOf(items))

	fx.rules.set(Key{RoleID: 2, MenuItemID: 11}, true)
	items, err = fx.resolver.AccessibleMenuItems(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"dashboard"}, keysOf(items), "stale until invalidated")

	require.NoError(t, fx.cache.Invalidate(ctx))
	items, err = fx.resolver.AccessibleMenuItems(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"dashboard", "properties"}, keysOf(items))

	ver, err := fx.cache.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ver)
}

func TestCachedResolverFallsBackWhenRedisIsDown(t *testing.T) {
	fx := newFixture(t, true)
	fx.redis.Close()

	items, err := fx.resolver.AccessibleMenuItems(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, items, 4)
}
