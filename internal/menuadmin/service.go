package menuadmin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aqarfund/aqar/internal/audit"
	"github.com/aqarfund/aqar/internal/menu"
	"github.com/aqarfund/aqar/internal/rbac"
	"github.com/aqarfund/aqar/internal/shared"
	"github.com/aqarfund/aqar/internal/visibility"
)

// Authorizer answers permission checks for the acting user.
type Authorizer interface {
	HasPermission(ctx context.Context, userID int64, name string) (bool, error)
}

// RoleSource lists roles and their permission sets for the matrix.
type RoleSource interface {
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	PermissionsByRole(ctx context.Context) (map[int64]rbac.PermissionSet, error)
}

// MenuSource lists menu items in hierarchy order.
type MenuSource interface {
	List(ctx context.Context) ([]menu.Item, error)
}

// RuleReader reads every visibility row.
type RuleReader interface {
	AllRules(ctx context.Context) (visibility.Rules, error)
}

// AuditReader pages through the audit log.
type AuditReader interface {
	List(ctx context.Context, filters audit.Filters) (audit.Page, error)
}

// MutationRecorder observes mutation outcomes.
type MutationRecorder interface {
	ObserveMutation(op, outcome string)
}

// Deps bundles the collaborators of Service.
type Deps struct {
	Store       Store
	Authorizer  Authorizer
	Roles       RoleSource
	Menus       MenuSource
	Rules       RuleReader
	Audit       AuditReader
	Invalidator rbac.Invalidator
	Recorder    MutationRecorder
	Logger      *slog.Logger
}

// Service is the admin mutation service.
type Service struct {
	deps Deps
	now  func() time.Time
}

// NewService constructs a Service.
func NewService(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps, now: func() time.Time { return time.Now().UTC() }}
}

// SetMenuVisibility sets one role × menu item row and appends an audit
// entry in the same transaction. Setting the current value again still
// writes an audit entry.
func (s *Service) SetMenuVisibility(ctx context.Context, actor Actor, change VisibilityChange) (VisibilityResult, error) {
	if err := s.authorize(ctx, actor, shared.PermMenuManage); err != nil {
		s.observe("set_visibility", err)
		return VisibilityResult{}, err
	}
	result, err := s.applyVisibility(ctx, actor, change)
	s.observe("set_visibility", err)
	if err != nil {
		return VisibilityResult{}, err
	}
	s.invalidate(ctx)
	return result, nil
}

// BulkSetMenuVisibility applies each change in its own transaction. The
// permission check runs once and fails the whole call; individual failures
// are reported without rolling back the other changes.
func (s *Service) BulkSetMenuVisibility(ctx context.Context, actor Actor, changes []VisibilityChange) (BulkResult, error) {
	if len(changes) == 0 {
		return BulkResult{}, shared.NewValidationError("changes", "must contain at least one change")
	}
	if len(changes) > MaxBulkChanges {
		return BulkResult{}, shared.NewValidationError("changes", fmt.Sprintf("must contain at most %d changes", MaxBulkChanges))
	}
	if err := s.authorize(ctx, actor, shared.PermMenuManage); err != nil {
		s.observe("bulk_set_visibility", err)
		return BulkResult{}, err
	}

	result := BulkResult{Failed: []ChangeError{}}
	for i, change := range changes {
		if _, err := s.applyVisibility(ctx, actor, change); err != nil {
			reason := classify(err)
			if reason == ReasonInternal {
				s.deps.Logger.Error("menuadmin bulk change", slog.Int("index", i), slog.Any("error", err))
			}
			result.Failed = append(result.Failed, ChangeError{
				Index:      i,
				RoleID:     change.RoleID,
				MenuItemID: change.MenuItemID,
				Reason:     reason,
				Message:    shared.UserSafeMessage(err),
			})
			continue
		}
		result.Applied++
	}
	s.observeOutcome("bulk_set_visibility", bulkOutcome(result))
	if result.Applied > 0 {
		s.invalidate(ctx)
	}
	return result, nil
}

// SetRolePermissions replaces a role's grants and writes one audit entry per
// permission granted or revoked, atomically.
func (s *Service) SetRolePermissions(ctx context.Context, actor Actor, roleID int64, permissionIDs []int64) (rbac.PermissionDiff, error) {
	if err := s.authorize(ctx, actor, shared.PermRolesManage); err != nil {
		s.observe("set_role_permissions", err)
		return rbac.PermissionDiff{}, err
	}
	if roleID <= 0 {
		err := shared.NewValidationError("role_id", "must be positive")
		s.observe("set_role_permissions", err)
		return rbac.PermissionDiff{}, err
	}
	var diff rbac.PermissionDiff
	err := s.deps.Store.InTx(ctx, func(tx Tx) error {
		var err error
		diff, err = tx.ReplaceRolePermissions(ctx, roleID, permissionIDs)
		if err != nil {
			return err
		}
		changedAt := s.now()
		record := func(permID int64, granted bool) error {
			id := permID
			previous := !granted
			_, err := tx.AppendAudit(ctx, audit.Entry{
				Kind:          audit.KindRolePermission,
				ActorUserID:   actor.UserID,
				RoleID:        roleID,
				PermissionID:  &id,
				PreviousValue: &previous,
				NewValue:      granted,
				ChangedAt:     changedAt,
				SourceIP:      actor.SourceIP,
				UserAgent:     actor.UserAgent,
			})
			return err
		}
		for _, id := range diff.Granted {
			if err := record(id, true); err != nil {
				return err
			}
		}
		for _, id := range diff.Revoked {
			if err := record(id, false); err != nil {
				return err
			}
		}
		return nil
	})
	s.observe("set_role_permissions", err)
	if err != nil {
		return rbac.PermissionDiff{}, err
	}
	if !diff.Empty() {
		s.invalidate(ctx)
	}
	return diff, nil
}

// SetRolePermissionsFromRequest adapts SetRolePermissions to an HTTP request.
func (s *Service) SetRolePermissionsFromRequest(r *http.Request, roleID int64, permissionIDs []int64) (rbac.PermissionDiff, error) {
	actor, err := ActorFromRequest(r)
	if err != nil {
		return rbac.PermissionDiff{}, err
	}
	return s.SetRolePermissions(r.Context(), actor, roleID, permissionIDs)
}

// GetAuditLog returns one page of the audit log, newest first.
func (s *Service) GetAuditLog(ctx context.Context, actor Actor, filters audit.Filters) (audit.Page, error) {
	if err := s.authorize(ctx, actor, shared.PermAuditView); err != nil {
		return audit.Page{}, err
	}
	return s.deps.Audit.List(ctx, filters)
}

// VisibilityMatrix returns every menu item with, per active role, the
// explicit row value and the effective visibility.
func (s *Service) VisibilityMatrix(ctx context.Context, actor Actor) (Matrix, error) {
	if err := s.authorize(ctx, actor, shared.PermMenuManage); err != nil {
		return Matrix{}, err
	}
	var (
		roles []rbac.Role
		perms map[int64]rbac.PermissionSet
		items []menu.Item
		rules visibility.Rules
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		roles, err = s.deps.Roles.ListRoles(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		perms, err = s.deps.Roles.PermissionsByRole(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		items, err = s.deps.Menus.List(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		rules, err = s.deps.Rules.AllRules(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Matrix{}, err
	}

	active := make([]rbac.Role, 0, len(roles))
	effective := make(map[int64]map[int64]struct{}, len(roles))
	for _, role := range roles {
		if !role.IsActive {
			continue
		}
		active = append(active, role)
		set := perms[role.ID]
		if set == nil {
			set = rbac.NewPermissionSet()
		}
		visible := visibility.FilterAccessible(items, []int64{role.ID}, set, rules)
		ids := make(map[int64]struct{}, len(visible))
		for _, item := range visible {
			ids[item.ID] = struct{}{}
		}
		effective[role.ID] = ids
	}

	matrix := Matrix{Roles: active, Rows: make([]MatrixRow, 0, len(items))}
	for _, item := range items {
		row := MatrixRow{Item: item, Cells: make([]MatrixCell, 0, len(active))}
		for _, role := range active {
			cell := MatrixCell{RoleID: role.ID}
			if value, ok := rules.Lookup(role.ID, item.ID); ok {
				v := value
				cell.Explicit = &v
			}
			_, cell.Effective = effective[role.ID][item.ID]
			row.Cells = append(row.Cells, cell)
		}
		matrix.Rows = append(matrix.Rows, row)
	}
	return matrix, nil
}

func (s *Service) applyVisibility(ctx context.Context, actor Actor, change VisibilityChange) (VisibilityResult, error) {
	if err := validateChange(change); err != nil {
		return VisibilityResult{}, err
	}
	result := VisibilityResult{VisibilityChange: change}
	err := s.deps.Store.InTx(ctx, func(tx Tx) error {
		exists, err := tx.RoleExists(ctx, change.RoleID)
		if err != nil {
			return err
		}
		if !exists {
			return shared.NotFoundField("role_id", "role does not exist")
		}
		exists, err = tx.MenuItemExists(ctx, change.MenuItemID)
		if err != nil {
			return err
		}
		if !exists {
			return shared.NotFoundField("menu_item_id", "menu item does not exist")
		}
		previous, err := tx.LockVisibility(ctx, change.RoleID, change.MenuItemID)
		if err != nil {
			return err
		}
		if err := tx.UpsertVisibility(ctx, change.RoleID, change.MenuItemID, change.Visible); err != nil {
			return err
		}
		itemID := change.MenuItemID
		auditID, err := tx.AppendAudit(ctx, audit.Entry{
			Kind:          audit.KindMenuVisibility,
			ActorUserID:   actor.UserID,
			RoleID:        change.RoleID,
			MenuItemID:    &itemID,
			PreviousValue: previous,
			NewValue:      change.Visible,
			ChangedAt:     s.now(),
			SourceIP:      actor.SourceIP,
			UserAgent:     actor.UserAgent,
		})
		if err != nil {
			return err
		}
		result.PreviousValue = previous
		result.AuditID = auditID
		return nil
	})
	if err != nil {
		return VisibilityResult{}, err
	}
	return result, nil
}

func (s *Service) authorize(ctx context.Context, actor Actor, perm string) error {
	if actor.UserID <= 0 {
		return shared.ErrUnauthorized
	}
	ok, err := s.deps.Authorizer.HasPermission(ctx, actor.UserID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return shared.ErrForbidden
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.deps.Invalidator == nil {
		return
	}
	if err := s.deps.Invalidator.Invalidate(ctx); err != nil {
		s.deps.Logger.Warn("menuadmin cache invalidate", slog.Any("error", err))
	}
}

func (s *Service) observe(op string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrForbidden), errors.Is(err, shared.ErrUnauthorized):
		outcome = "denied"
	case shared.IsClientError(err):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	s.observeOutcome(op, outcome)
}

func (s *Service) observeOutcome(op, outcome string) {
	if s.deps.Recorder != nil {
		s.deps.Recorder.ObserveMutation(op, outcome)
	}
}

func validateChange(change VisibilityChange) error {
	fields := map[string]string{}
	if change.RoleID <= 0 {
		fields["role_id"] = "must be positive"
	}
	if change.MenuItemID <= 0 {
		fields["menu_item_id"] = "must be positive"
	}
	if len(fields) > 0 {
		return &shared.ValidationError{Fields: fields}
	}
	return nil
}

// classify maps a per-change error to a bulk failure reason. Missing
// references match both ErrValidation and ErrNotFound and are reported as
// not_found.
func classify(err error) string {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, shared.ErrValidation):
		return ReasonValidation
	default:
		return ReasonInternal
	}
}

func bulkOutcome(result BulkResult) string {
	switch {
	case len(result.Failed) == 0:
		return "ok"
	case result.Applied == 0:
		return "rejected"
	default:
		return "partial"
	}
}
