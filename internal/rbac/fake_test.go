package rbac

import (
	"context"
	"sort"
	"sync"

	"github.com/aqarfund/aqar/internal/shared"
)

type memRepo struct {
	mu       sync.Mutex
	roles    map[int64]Role
	perms    map[int64]Permission
	grants   map[int64]map[int64]struct{}
	users    map[int64][]int64
	nextID   int64
	failWith error
}

func newMemRepo() *memRepo {
	return &memRepo{
		roles:  map[int64]Role{},
		perms:  map[int64]Permission{},
		grants: map[int64]map[int64]struct{}{},
		users:  map[int64][]int64{},
		nextID: 100,
	}
}

func (m *memRepo) addRole(id int64, name string, active bool) {
	m.roles[id] = Role{ID: id, Name: name, IsActive: active}
}

func (m *memRepo) addPermission(id int64, name string) {
	m.perms[id] = Permission{ID: id, Name: name, IsActive: true}
}

func (m *memRepo) grant(roleID int64, permIDs ...int64) {
	if m.grants[roleID] == nil {
		m.grants[roleID] = map[int64]struct{}{}
	}
	for _, id := range permIDs {
		m.grants[roleID][id] = struct{}{}
	}
}

func (m *memRepo) ListRoles(ctx context.Context) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memRepo) ListPermissions(ctx context.Context) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Permission, 0, len(m.perms))
	for _, p := range m.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memRepo) GetRole(ctx context.Context, id int64) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	return r, nil
}

func (m *memRepo) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return nil, shared.ErrNotFound
	}
	out := []Permission{}
	for id := range m.grants[roleID] {
		out = append(out, m.perms[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memRepo) PermissionNamesByRole(ctx context.Context) (map[int64][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[int64][]string{}
	for roleID, ids := range m.grants {
		if !m.roles[roleID].IsActive {
			continue
		}
		for id := range ids {
			out[roleID] = append(out[roleID], m.perms[id].Name)
		}
	}
	return out, nil
}

func (m *memRepo) UserRoles(ctx context.Context, userID int64) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	out := []Role{}
	for _, id := range m.users[userID] {
		if r := m.roles[id]; r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepo) UserPermissionNames(ctx context.Context, userID int64) ([]string, error) {
	roles, err := m.UserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set := map[string]struct{}{}
	for _, r := range roles {
		for id := range m.grants[r.ID] {
			set[m.perms[id].Name] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memRepo) CreateRole(ctx context.Context, name, description string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Name == name {
			return Role{}, shared.NewValidationError("name", "role name already exists")
		}
	}
	m.nextID++
	role := Role{ID: m.nextID, Name: name, Description: description, IsActive: true}
	m.roles[role.ID] = role
	return role, nil
}

func (m *memRepo) CreatePermission(ctx context.Context, name, description string) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	perm := Permission{ID: m.nextID, Name: name, Description: description, IsActive: true}
	m.perms[perm.ID] = perm
	return perm, nil
}

func (m *memRepo) SetRoleActive(ctx context.Context, id int64, active bool) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	r.IsActive = active
	m.roles[id] = r
	return r, nil
}

func (m *memRepo) ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var missing []int64
	for _, id := range roleIDs {
		if _, ok := m.roles[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return shared.NotFoundField("role_ids", "unknown role ids: "+joinIDs(missing))
	}
	m.users[userID] = append([]int64(nil), roleIDs...)
	return nil
}

func (m *memRepo) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) (PermissionDiff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return PermissionDiff{}, shared.ErrNotFound
	}
	var missing []int64
	for _, id := range permissionIDs {
		if _, ok := m.perms[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return PermissionDiff{}, shared.NotFoundField("permission_ids", "unknown permission ids: "+joinIDs(missing))
	}
	current := make([]int64, 0, len(m.grants[roleID]))
	for id := range m.grants[roleID] {
		current = append(current, id)
	}
	diff := diffIDs(current, permissionIDs)
	m.grants[roleID] = map[int64]struct{}{}
	for _, id := range permissionIDs {
		m.grants[roleID][id] = struct{}{}
	}
	return diff, nil
}

type countingInvalidator struct {
	mu    sync.Mutex
	calls int
}

func (c *countingInvalidator) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func (c *countingInvalidator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// repoPermissions adapts memRepo to PermissionSource without a cache.
type repoPermissions struct{ repo *memRepo }

func (p repoPermissions) EffectivePermissions(ctx context.Context, userID int64) (PermissionSet, error) {
	names, err := p.repo.UserPermissionNames(ctx, userID)
	if err != nil {
		return nil, err
	}
	return NewPermissionSet(names...), nil
}

type decisionLog struct {
	mu        sync.Mutex
	decisions []string
}

func (d *decisionLog) ObserveAuthzDecision(check, outcome string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.decisions = append(d.decisions, check+":"+outcome)
}

func (d *decisionLog) all() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.decisions...)
}
