package rbac

import (
	"context"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/aqarfund/aqar/internal/shared"
)

// Invalidator drops cached authorization results after a mutation.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// CreateRoleInput carries the fields accepted when creating a role.
type CreateRoleInput struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
}

// CreatePermissionInput carries the fields accepted when creating a permission.
type CreatePermissionInput struct {
	Name        string `json:"name" validate:"required,max=150"`
	Description string `json:"description" validate:"max=500"`
}

// Service orchestrates role and permission operations.
type Service struct {
	repo        Repository
	invalidator Invalidator
	validator   *validator.Validate
	logger      *slog.Logger
}

// NewService constructs a Service. invalidator may be nil.
func NewService(repo Repository, invalidator Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, invalidator: invalidator, validator: shared.NewValidator(), logger: logger}
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// ListPermissions returns all permissions ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// GetRolePermissions lists a role's permissions; ErrNotFound for an unknown role.
func (s *Service) GetRolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	return s.repo.RolePermissions(ctx, roleID)
}

// GetUserRoles returns the active roles of a user, possibly none.
func (s *Service) GetUserRoles(ctx context.Context, userID int64) ([]Role, error) {
	return s.repo.UserRoles(ctx, userID)
}

// RoleNames returns the lower-cased names of the user's active roles.
func (s *Service) RoleNames(ctx context.Context, userID int64) ([]string, error) {
	roles, err := s.repo.UserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	return normalizeRoleNames(names), nil
}

// UserPermissionNames returns the raw effective permission names of a user.
func (s *Service) UserPermissionNames(ctx context.Context, userID int64) ([]string, error) {
	return s.repo.UserPermissionNames(ctx, userID)
}

// PermissionsByRole returns the permission set of every active role.
func (s *Service) PermissionsByRole(ctx context.Context) (map[int64]PermissionSet, error) {
	raw, err := s.repo.PermissionNamesByRole(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]PermissionSet, len(raw))
	for roleID, names := range raw {
		out[roleID] = NewPermissionSet(names...)
	}
	return out, nil
}

// AssignRolesToUser atomically replaces the user's roles. Unknown role ids
// fail the whole call.
func (s *Service) AssignRolesToUser(ctx context.Context, userID int64, roleIDs []int64) error {
	if userID <= 0 {
		return shared.NewValidationError("user_id", "must be positive")
	}
	if err := s.repo.ReplaceUserRoles(ctx, userID, dedupeIDs(roleIDs)); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// SetRolePermissions atomically replaces the role's permissions.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) (PermissionDiff, error) {
	diff, err := s.repo.ReplaceRolePermissions(ctx, roleID, dedupeIDs(permissionIDs))
	if err != nil {
		return PermissionDiff{}, err
	}
	if !diff.Empty() {
		s.invalidate(ctx)
	}
	return diff, nil
}

// CreateRole validates and inserts a new role.
func (s *Service) CreateRole(ctx context.Context, input CreateRoleInput) (Role, error) {
	input.Name = strings.ToLower(strings.TrimSpace(input.Name))
	input.Description = strings.TrimSpace(input.Description)
	if err := shared.ValidateStruct(s.validator, input); err != nil {
		return Role{}, err
	}
	return s.repo.CreateRole(ctx, input.Name, input.Description)
}

// CreatePermission validates and inserts a new permission.
func (s *Service) CreatePermission(ctx context.Context, input CreatePermissionInput) (Permission, error) {
	input.Name = NormalizePermission(input.Name)
	input.Description = strings.TrimSpace(input.Description)
	if err := shared.ValidateStruct(s.validator, input); err != nil {
		return Permission{}, err
	}
	if strings.ContainsAny(input.Name, " \t") {
		return Permission{}, shared.NewValidationError("name", "must not contain whitespace")
	}
	return s.repo.CreatePermission(ctx, input.Name, input.Description)
}

// SetRoleActive soft-disables or re-enables a role.
func (s *Service) SetRoleActive(ctx context.Context, id int64, active bool) (Role, error) {
	role, err := s.repo.SetRoleActive(ctx, id, active)
	if err != nil {
		return Role{}, err
	}
	s.invalidate(ctx)
	return role, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx); err != nil {
		s.logger.Warn("rbac cache invalidate", slog.Any("error", err))
	}
}
