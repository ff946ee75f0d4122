package menuadmin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqarfund/aqar/internal/audit"
	"github.com/aqarfund/aqar/internal/menu"
	"github.com/aqarfund/aqar/internal/rbac"
	"github.com/aqarfund/aqar/internal/shared"
)

const (
	superAdminID = 1
	investorID   = 3
)

type fixture struct {
	store       *memStore
	authz       *stubAuthorizer
	invalidator *countingInvalidator
	recorder    *mutationLog
	audit       *stubAudit
	service     *Service
}

func ptr(id int64) *int64 { return &id }

func newFixture() *fixture {
	fx := &fixture{
		store: newMemStore(),
		authz: &stubAuthorizer{perms: map[int64]rbac.PermissionSet{
			superAdminID: rbac.NewPermissionSet(shared.PermMenuManage, shared.PermRolesManage, shared.PermAuditView, shared.PermPropertiesManage),
			investorID:   rbac.NewPermissionSet(shared.PermInvestmentsView),
		}},
		invalidator: &countingInvalidator{},
		recorder:    &mutationLog{},
		audit:       &stubAudit{},
	}
	fx.service = NewService(Deps{
		Store:      fx.store,
		Authorizer: fx.authz,
		Roles: stubRoles{
			roles: []rbac.Role{
				{ID: 1, Name: "super_admin", IsActive: true},
				{ID: 2, Name: "admin", IsActive: true},
				{ID: 3, Name: "investor", IsActive: true},
				{ID: 4, Name: "retired", IsActive: false},
			},
			perms: map[int64]rbac.PermissionSet{
				1: rbac.NewPermissionSet(shared.PermMenuManage, shared.PermPropertiesManage),
				2: rbac.NewPermissionSet(shared.PermPropertiesManage),
			},
		},
		Menus: stubMenus{items: []menu.Item{
			{ID: 10, Key: "dashboard", IsPublic: true, IsActive: true},
			{ID: 11, Key: "properties", RequiredPermission: shared.PermPropertiesManage, IsActive: true},
			{ID: 12, Key: "admin", IsActive: true},
			{ID: 13, Key: "menu-visibility", ParentID: ptr(12), IsPublic: true, IsActive: true},
		}},
		Rules:       storeRules{store: fx.store},
		Audit:       fx.audit,
		Invalidator: fx.invalidator,
		Recorder:    fx.recorder,
	})
	return fx
}

func admin() Actor {
	return Actor{UserID: superAdminID, SourceIP: "203.0.113.7", UserAgent: "aqar-admin/1.0"}
}

func TestSetMenuVisibilityWritesRowAndAudit(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	result, err := fx.service.SetMenuVisibility(ctx, admin(), VisibilityChange{RoleID: 2, MenuItemID: 11, Visible: true})
	require.NoError(t, err)
	assert.Nil(t, result.PreviousValue)
	assert.Equal(t, int64(1), result.AuditID)

	visible, ok := fx.store.rule(2, 11)
	assert.True(t, ok)
	assert.True(t, visible)

	entries := fx.store.auditEntries()
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, audit.KindMenuVisibility, entry.Kind)
	assert.Equal(t, int64(superAdminID), entry.ActorUserID)
	assert.Equal(t, int64(11), *entry.MenuItemID)
	assert.Nil(t, entry.PreviousValue)
	assert.True(t, entry.NewValue)
	assert.Equal(t, "203.0.113.7", entry.SourceIP)
	assert.Equal(t, "aqar-admin/1.0", entry.UserAgent)
	assert.False(t, entry.ChangedAt.IsZero())
	assert.Equal(t, 1, fx.invalidator.calls)
}

func TestSetMenuVisibilityIsIdempotentButAuditsEachCall(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	change := VisibilityChange{RoleID: 2, MenuItemID: 11, Visible: true}

	_, err := fx.service.SetMenuVisibility(ctx, admin(), change)
	require.NoError(t, err)
	second, err := fx.service.SetMenuVisibility(ctx, admin(), change)
	require.NoError(t, err)

	require.NotNil(t, second.PreviousValue)
	assert.True(t, *second.PreviousValue)
	visible, _ := fx.store.rule(2, 11)
	assert.True(t, visible)

	entries := fx.store.auditEntries()
	require.Len(t, entries, 2)
	assert.Nil(t, entries[0].PreviousValue)
	require.NotNil(t, entries[1].PreviousValue)
	assert.True(t, *entries[1].PreviousValue)
}

func TestSetMenuVisibilityRequiresMenuManage(t *testing.T) {
	fx := newFixture()

	_, err := fx.service.SetMenuVisibility(context.Background(), Actor{UserID: investorID}, VisibilityChange{RoleID: 2, MenuItemID: 11, Visible: true})

	assert.ErrorIs(t, err, shared.ErrForbidden)
	assert.Empty(t, fx.store.auditEntries())
	_, ok := fx.store.rule(2, 11)
	assert.False(t, ok)
	assert.Equal(t, []string{"set_visibility:denied"}, fx.recorder.outcomes)
}

func TestSetMenuVisibilityUnknownReferences(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	_, err := fx.service.SetMenuVisibility(ctx, admin(), VisibilityChange{RoleID: 99, MenuItemID: 11})
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = fx.service.SetMenuVisibility(ctx, admin(), VisibilityChange{RoleID: 2, MenuItemID: 999})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "menu_item_id")

	_, err = fx.service.SetMenuVisibility(ctx, admin(), VisibilityChange{RoleID: 0, MenuItemID: -1})
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Fields, 2)
	assert.Empty(t, fx.store.auditEntries())
	assert.Zero(t, fx.invalidator.calls)
}

func TestSetMenuVisibilityRollsBackWhenAuditFails(t *testing.T) {
	fx := newFixture()
	fx.store.failAudit = shared.Infra("audit: record", errors.New("disk full"))

	_, err := fx.service.SetMenuVisibility(context.Background(), admin(), VisibilityChange{RoleID: 2, MenuItemID: 11, Visible: true})

	assert.ErrorIs(t, err, shared.ErrInfrastructure)
	_, ok := fx.store.rule(2, 11)
	assert.False(t, ok)
}

func TestBulkSetMenuVisibilityIsolatesFailures(t *testing.T) {
	fx := newFixture()
	changes := []VisibilityChange{
		{RoleID: 2, MenuItemID: 10, Visible: true},
		{RoleID: 2, MenuItemID: 11, Visible: true},
		{RoleID: 2, MenuItemID: 999, Visible: true},
		{RoleID: 2, MenuItemID: 12, Visible: false},
		{RoleID: 2, MenuItemID: 13, Visible: true},
	}

	result, err := fx.service.BulkSetMenuVisibility(context.Background(), admin(), changes)
	require.NoError(t, err)

	assert.Equal(t, 4, result.Applied)
	require.Len(t, result.Failed, 1)
	failure := result.Failed[0]
	assert.Equal(t, 2, failure.Index)
	assert.Equal(t, ReasonNotFound, failure.Reason)
	assert.Equal(t, int64(999), failure.MenuItemID)
	assert.Len(t, fx.store.auditEntries(), 4)
	for _, id := range []int64{10, 11, 12, 13} {
		_, ok := fx.store.rule(2, id)
		assert.True(t, ok, "item %d", id)
	}
	assert.Equal(t, 1, fx.authz.calls)
	assert.Equal(t, 1, fx.invalidator.calls)
}

func TestBulkSetMenuVisibilityReasons(t *testing.T) {
	fx := newFixture()
	fx.store.failItem = 14

	result, err := fx.service.BulkSetMenuVisibility(context.Background(), admin(), []VisibilityChange{
		{RoleID: -1, MenuItemID: 10},
		{RoleID: 2, MenuItemID: 14},
	})
	require.NoError(t, err)
	assert.Zero(t, result.Applied)
	require.Len(t, result.Failed, 2)
	assert.Equal(t, ReasonValidation, result.Failed[0].Reason)
	assert.Equal(t, ReasonInternal, result.Failed[1].Reason)
	assert.NotContains(t, result.Failed[1].Message, "connection reset")
	assert.Zero(t, fx.invalidator.calls)
}

func TestBulkSetMenuVisibilityAbortsWhenForbidden(t *testing.T) {
	fx := newFixture()

	_, err := fx.service.BulkSetMenuVisibility(context.Background(), Actor{UserID: investorID}, []VisibilityChange{{RoleID: 2, MenuItemID: 10}})

	assert.ErrorIs(t, err, shared.ErrForbidden)
	assert.Empty(t, fx.store.auditEntries())
}

func TestBulkSetMenuVisibilityValidatesSize(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	_, err := fx.service.BulkSetMenuVisibility(ctx, admin(), nil)
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = fx.service.BulkSetMenuVisibility(ctx, admin(), make([]VisibilityChange, MaxBulkChanges+1))
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestSetRolePermissionsAuditsEachChange(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	diff, err := fx.service.SetRolePermissions(ctx, admin(), 2, []int64{20, 21})
	require.NoError(t, err)
	assert.Equal(t, []int64{20, 21}, diff.Granted)

	diff, err = fx.service.SetRolePermissions(ctx, admin(), 2, []int64{21, 22})
	require.NoError(t, err)
	assert.Equal(t, []int64{22}, diff.Granted)
	assert.Equal(t, []int64{20}, diff.Revoked)

	entries := fx.store.auditEntries()
	require.Len(t, entries, 4)
	last := entries[3]
	assert.Equal(t, audit.KindRolePermission, last.Kind)
	assert.Equal(t, int64(20), *last.PermissionID)
	assert.True(t, *last.PreviousValue)
	assert.False(t, last.NewValue)
	assert.Nil(t, last.MenuItemID)
	assert.Equal(t, 2, fx.invalidator.calls)

	_, err = fx.service.SetRolePermissions(ctx, admin(), 2, []int64{21, 22})
	require.NoError(t, err)
	assert.Len(t, fx.store.auditEntries(), 4)
	assert.Equal(t, 2, fx.invalidator.calls)
}

func TestSetRolePermissionsErrors(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	_, err := fx.service.SetRolePermissions(ctx, admin(), 99, []int64{20})
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = fx.service.SetRolePermissions(ctx, admin(), 2, []int64{20, 404})
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.Empty(t, fx.store.auditEntries())

	_, err = fx.service.SetRolePermissions(ctx, Actor{UserID: investorID}, 2, []int64{20})
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestVisibilityMatrix(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	_, err := fx.service.BulkSetMenuVisibility(ctx, admin(), []VisibilityChange{
		{RoleID: 1, MenuItemID: 11, Visible: true},
		{RoleID: 2, MenuItemID: 12, Visible: true},
		{RoleID: 3, MenuItemID: 10, Visible: false},
	})
	require.NoError(t, err)

	matrix, err := fx.service.VisibilityMatrix(ctx, admin())
	require.NoError(t, err)

	require.Len(t, matrix.Roles, 3)
	require.Len(t, matrix.Rows, 4)
	cell := func(itemKey string, roleID int64) MatrixCell {
		for _, row := range matrix.Rows {
			if row.Item.Key != itemKey {
				continue
			}
			for _, c := range row.Cells {
				if c.RoleID == roleID {
					return c
				}
			}
		}
		t.Fatalf("no cell for %s/%d", itemKey, roleID)
		return MatrixCell{}
	}

	assert.True(t, cell("dashboard", 2).Effective)
	assert.Nil(t, cell("dashboard", 2).Explicit)
	assert.False(t, cell("dashboard", 3).Effective)
	assert.False(t, *cell("dashboard", 3).Explicit)
	assert.True(t, cell("properties", 1).Effective)
	assert.False(t, cell("properties", 2).Effective)
	assert.True(t, cell("admin", 2).Effective)
	assert.True(t, cell("menu-visibility", 2).Effective)
	assert.False(t, cell("menu-visibility", 3).Effective)
}

func TestReadOperationsRequirePermissions(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	investor := Actor{UserID: investorID}

	_, err := fx.service.VisibilityMatrix(ctx, investor)
	assert.ErrorIs(t, err, shared.ErrForbidden)
	_, err = fx.service.GetAuditLog(ctx, investor, audit.Filters{})
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, err = fx.service.GetAuditLog(ctx, admin(), audit.Filters{RoleID: ptr(2), PageSize: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(2), *fx.audit.last.RoleID)

	_, err = fx.service.VisibilityMatrix(ctx, Actor{})
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
}
