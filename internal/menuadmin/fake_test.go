package menuadmin

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/aqarfund/aqar/internal/audit"
	"github.com/aqarfund/aqar/internal/menu"
	"github.com/aqarfund/aqar/internal/rbac"
	"github.com/aqarfund/aqar/internal/shared"
	"github.com/aqarfund/aqar/internal/visibility"
)

type memState struct {
	roles      map[int64]bool
	items      map[int64]bool
	perms      map[int64]bool
	visibility visibility.Rules
	grants     map[int64]map[int64]bool
	audit      []audit.Entry
}

func (s memState) clone() memState {
	out := memState{
		roles:      s.roles,
		items:      s.items,
		perms:      s.perms,
		visibility: visibility.Rules{},
		grants:     map[int64]map[int64]bool{},
		audit:      append([]audit.Entry(nil), s.audit...),
	}
	for k, v := range s.visibility {
		out.visibility[k] = v
	}
	for role, ids := range s.grants {
		out.grants[role] = map[int64]bool{}
		for id := range ids {
			out.grants[role][id] = true
		}
	}
	return out
}

// memStore applies a transaction to a copy of the state and only keeps it
// when fn succeeds.
type memStore struct {
	mu        sync.Mutex
	state     memState
	failAudit error
	failItem  int64
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		roles:      map[int64]bool{1: true, 2: true, 3: true},
		items:      map[int64]bool{10: true, 11: true, 12: true, 13: true, 14: true},
		perms:      map[int64]bool{20: true, 21: true, 22: true},
		visibility: visibility.Rules{},
		grants:     map[int64]map[int64]bool{},
	}}
}

func (m *memStore) InTx(ctx context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{store: m, state: m.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

func (m *memStore) auditEntries() []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Entry(nil), m.state.audit...)
}

func (m *memStore) rule(roleID, itemID int64) (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.visibility.Lookup(roleID, itemID)
}

type memTx struct {
	store *memStore
	state memState
}

func (t *memTx) RoleExists(ctx context.Context, roleID int64) (bool, error) {
	return t.state.roles[roleID], nil
}

func (t *memTx) MenuItemExists(ctx context.Context, menuItemID int64) (bool, error) {
	if t.store.failItem == menuItemID {
		return false, shared.Infra("menuadmin: check menu_items", errors.New("connection reset"))
	}
	return t.state.items[menuItemID], nil
}

func (t *memTx) LockVisibility(ctx context.Context, roleID, menuItemID int64) (*bool, error) {
	if v, ok := t.state.visibility.Lookup(roleID, menuItemID); ok {
		return &v, nil
	}
	return nil, nil
}

func (t *memTx) UpsertVisibility(ctx context.Context, roleID, menuItemID int64, visible bool) error {
	t.state.visibility[visibility.Key{RoleID: roleID, MenuItemID: menuItemID}] = visible
	return nil
}

func (t *memTx) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) (rbac.PermissionDiff, error) {
	if !t.state.roles[roleID] {
		return rbac.PermissionDiff{}, shared.ErrNotFound
	}
	want := map[int64]bool{}
	for _, id := range permissionIDs {
		if !t.state.perms[id] {
			return rbac.PermissionDiff{}, shared.NotFoundField("permission_ids", "unknown permission ids")
		}
		want[id] = true
	}
	var diff rbac.PermissionDiff
	have := t.state.grants[roleID]
	for id := range want {
		if !have[id] {
			diff.Granted = append(diff.Granted, id)
		}
	}
	for id := range have {
		if !want[id] {
			diff.Revoked = append(diff.Revoked, id)
		}
	}
	sort.Slice(diff.Granted, func(i, j int) bool { return diff.Granted[i] < diff.Granted[j] })
	sort.Slice(diff.Revoked, func(i, j int) bool { return diff.Revoked[i] < diff.Revoked[j] })
	t.state.grants[roleID] = want
	return diff, nil
}

func (t *memTx) AppendAudit(ctx context.Context, entry audit.Entry) (int64, error) {
	if t.store.failAudit != nil {
		return 0, t.store.failAudit
	}
	entry.ID = int64(len(t.state.audit) + 1)
	t.state.audit = append(t.state.audit, entry)
	return entry.ID, nil
}

type stubAuthorizer struct {
	perms map[int64]rbac.PermissionSet
	calls int
}

func (s *stubAuthorizer) HasPermission(ctx context.Context, userID int64, name string) (bool, error) {
	s.calls++
	return s.perms[userID].Has(name), nil
}

type stubRoles struct {
	roles []rbac.Role
	perms map[int64]rbac.PermissionSet
}

func (s stubRoles) ListRoles(ctx context.Context) ([]rbac.Role, error) { return s.roles, nil }

func (s stubRoles) PermissionsByRole(ctx context.Context) (map[int64]rbac.PermissionSet, error) {
	return s.perms, nil
}

type stubMenus struct{ items []menu.Item }

func (s stubMenus) List(ctx context.Context) ([]menu.Item, error) { return menu.Order(s.items), nil }

type storeRules struct{ store *memStore }

func (s storeRules) AllRules(ctx context.Context) (visibility.Rules, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	return s.store.state.clone().visibility, nil
}

type stubAudit struct{ last audit.Filters }

func (s *stubAudit) List(ctx context.Context, filters audit.Filters) (audit.Page, error) {
	s.last = filters
	return audit.Page{Entries: []audit.Entry{}}, nil
}

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) Invalidate(ctx context.Context) error {
	c.calls++
	return nil
}

type mutationLog struct{ outcomes []string }

func (m *mutationLog) ObserveMutation(op, outcome string) {
	m.outcomes = append(m.outcomes, op+":"+outcome)
}
