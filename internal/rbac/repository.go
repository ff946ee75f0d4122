package rbac

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aqarfund/aqar/internal/platform/db"
	"github.com/aqarfund/aqar/internal/shared"
)

const (
	constraintRoleName       = "uq_roles_name"
	constraintPermissionName = "uq_permissions_name"
)

// Repository is the persistence contract of the role/permission store.
type Repository interface {
	ListRoles(ctx context.Context) ([]Role, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	RolePermissions(ctx context.Context, roleID int64) ([]Permission, error)
	PermissionNamesByRole(ctx context.Context) (map[int64][]string, error)
	UserRoles(ctx context.Context, userID int64) ([]Role, error)
	UserPermissionNames(ctx context.Context, userID int64) ([]string, error)
	CreateRole(ctx context.Context, name, description string) (Role, error)
	CreatePermission(ctx context.Context, name, description string) (Permission, error)
	SetRoleActive(ctx context.Context, id int64, active bool) (Role, error)
	ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64) error
	ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) (PermissionDiff, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL-backed repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const roleColumns = `r.id, r.name, r.description, r.is_active, r.created_at, r.updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.Description, &role.IsActive, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}

func scanPermission(row pgx.Row) (Permission, error) {
	var perm Permission
	err := row.Scan(&perm.ID, &perm.Name, &perm.Description, &perm.IsActive, &perm.CreatedAt)
	return perm, err
}

func collectRoles(rows pgx.Rows, op string) ([]Role, error) {
	defer rows.Close()
	roles := make([]Role, 0)
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, shared.Infra(op, err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Infra(op, err)
	}
	return roles, nil
}

func collectPermissions(rows pgx.Rows, op string) ([]Permission, error) {
	defer rows.Close()
	perms := make([]Permission, 0)
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, shared.Infra(op, err)
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Infra(op, err)
	}
	return perms, nil
}

// ListRoles returns all roles ordered by name.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles r ORDER BY r.name`)
	if err != nil {
		return nil, shared.Infra("rbac: list roles", err)
	}
	return collectRoles(rows, "rbac: list roles")
}

// ListPermissions returns all permissions ordered by name.
func (r *PGRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description, is_active, created_at FROM permissions ORDER BY name`)
	if err != nil {
		return nil, shared.Infra("rbac: list permissions", err)
	}
	return collectPermissions(rows, "rbac: list permissions")
}

// GetRole fetches a role by ID.
func (r *PGRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, shared.Infra("rbac: get role", err)
	}
	return role, nil
}

// RolePermissions lists the permissions granted to a role.
func (r *PGRepository) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	exists, err := rowExists(ctx, r.pool, "roles", roleID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, shared.ErrNotFound
	}
	rows, err := r.pool.Query(ctx, `
SELECT p.id, p.name, p.description, p.is_active, p.created_at
FROM role_permissions rp
JOIN permissions p ON p.id = rp.permission_id
WHERE rp.role_id = $1
ORDER BY p.name`, roleID)
	if err != nil {
		return nil, shared.Infra("rbac: role permissions", err)
	}
	return collectPermissions(rows, "rbac: role permissions")
}

// PermissionNamesByRole returns active permission names keyed by active role.
func (r *PGRepository) PermissionNamesByRole(ctx context.Context) (map[int64][]string, error) {
	rows, err := r.pool.Query(ctx, `
SELECT rp.role_id, lower(p.name)
FROM role_permissions rp
JOIN roles r ON r.id = rp.role_id AND r.is_active
JOIN permissions p ON p.id = rp.permission_id AND p.is_active
ORDER BY rp.role_id, p.name`)
	if err != nil {
		return nil, shared.Infra("rbac: permissions by role", err)
	}
	defer rows.Close()
	out := make(map[int64][]string)
	for rows.Next() {
		var roleID int64
		var name string
		if err := rows.Scan(&roleID, &name); err != nil {
			return nil, shared.Infra("rbac: permissions by role", err)
		}
		out[roleID] = append(out[roleID], name)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Infra("rbac: permissions by role", err)
	}
	return out, nil
}

// UserRoles returns the active roles held by a user.
func (r *PGRepository) UserRoles(ctx context.Context, userID int64) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+roleColumns+`
FROM user_roles ur
JOIN roles r ON r.id = ur.role_id
WHERE ur.user_id = $1 AND r.is_active
ORDER BY r.name`, userID)
	if err != nil {
		return nil, shared.Infra("rbac: user roles", err)
	}
	return collectRoles(rows, "rbac: user roles")
}

// UserPermissionNames returns the union of permission names over the user's active roles.
func (r *PGRepository) UserPermissionNames(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
SELECT DISTINCT lower(p.name)
FROM user_roles ur
JOIN roles r ON r.id = ur.role_id AND r.is_active
JOIN role_permissions rp ON rp.role_id = r.id
JOIN permissions p ON p.id = rp.permission_id AND p.is_active
WHERE ur.user_id = $1
ORDER BY 1`, userID)
	if err != nil {
		return nil, shared.Infra("rbac: user permissions", err)
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, shared.Infra("rbac: user permissions", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Infra("rbac: user permissions", err)
	}
	return names, nil
}

// CreateRole inserts a new role.
func (r *PGRepository) CreateRole(ctx context.Context, name, description string) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, `
INSERT INTO roles AS r (name, description) VALUES ($1, $2)
RETURNING `+roleColumns, name, description))
	if err != nil {
		if db.IsUniqueViolation(err, constraintRoleName) {
			return Role{}, shared.NewValidationError("name", "role name already exists")
		}
		return Role{}, shared.Infra("rbac: create role", err)
	}
	return role, nil
}

// CreatePermission inserts a new permission.
func (r *PGRepository) CreatePermission(ctx context.Context, name, description string) (Permission, error) {
	perm, err := scanPermission(r.pool.QueryRow(ctx, `
INSERT INTO permissions (name, description) VALUES ($1, $2)
RETURNING id, name, description, is_active, created_at`, name, description))
	if err != nil {
		if db.IsUniqueViolation(err, constraintPermissionName) {
			return Permission{}, shared.NewValidationError("name", "permission name already exists")
		}
		return Permission{}, shared.Infra("rbac: create permission", err)
	}
	return perm, nil
}

// SetRoleActive toggles the soft-disable flag of a role.
func (r *PGRepository) SetRoleActive(ctx context.Context, id int64, active bool) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, `
UPDATE roles AS r SET is_active = $2, updated_at = NOW() WHERE r.id = $1
RETURNING `+roleColumns, id, active))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, shared.Infra("rbac: set role active", err)
	}
	return role, nil
}

// ReplaceUserRoles replaces the user's role set in one transaction.
func (r *PGRepository) ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	roleIDs = dedupeIDs(roleIDs)
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		exists, err := rowExists(ctx, tx, "users", userID)
		if err != nil {
			return err
		}
		if !exists {
			return shared.ErrNotFound
		}
		missing, err := MissingIDs(ctx, tx, "roles", roleIDs)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return shared.NotFoundField("role_ids", "unknown role ids: "+joinIDs(missing))
		}
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
			return shared.Infra("rbac: clear user roles", err)
		}
		if len(roleIDs) == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO user_roles (user_id, role_id)
SELECT $1, unnest($2::bigint[])`, userID, roleIDs); err != nil {
			return shared.Infra("rbac: insert user roles", err)
		}
		return nil
	})
}

// ReplaceRolePermissions replaces a role's grant set in one transaction.
func (r *PGRepository) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) (PermissionDiff, error) {
	var diff PermissionDiff
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		diff, err = ReplaceRolePermissionsTx(ctx, tx, roleID, permissionIDs)
		return err
	})
	return diff, err
}

// ReplaceRolePermissionsTx replaces a role's grant set using q, which is
// expected to be an open transaction. The role row is locked for the
// duration so concurrent replaces serialise.
func ReplaceRolePermissionsTx(ctx context.Context, q db.Querier, roleID int64, permissionIDs []int64) (PermissionDiff, error) {
	var locked int64
	err := q.QueryRow(ctx, `SELECT id FROM roles WHERE id = $1 FOR UPDATE`, roleID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PermissionDiff{}, shared.ErrNotFound
		}
		return PermissionDiff{}, shared.Infra("rbac: lock role", err)
	}
	wanted := dedupeIDs(permissionIDs)
	missing, err := MissingIDs(ctx, q, "permissions", wanted)
	if err != nil {
		return PermissionDiff{}, err
	}
	if len(missing) > 0 {
		return PermissionDiff{}, shared.NotFoundField("permission_ids", "unknown permission ids: "+joinIDs(missing))
	}

	rows, err := q.Query(ctx, `SELECT permission_id FROM role_permissions WHERE role_id = $1`, roleID)
	if err != nil {
		return PermissionDiff{}, shared.Infra("rbac: current grants", err)
	}
	current, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return PermissionDiff{}, shared.Infra("rbac: current grants", err)
	}

	diff := diffIDs(current, wanted)
	if len(diff.Revoked) > 0 {
		if _, err := q.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = ANY($2::bigint[])`, roleID, diff.Revoked); err != nil {
			return PermissionDiff{}, shared.Infra("rbac: revoke permissions", err)
		}
	}
	if len(diff.Granted) > 0 {
		if _, err := q.Exec(ctx, `
INSERT INTO role_permissions (role_id, permission_id)
SELECT $1, unnest($2::bigint[])`, roleID, diff.Granted); err != nil {
			return PermissionDiff{}, shared.Infra("rbac: grant permissions", err)
		}
	}
	return diff, nil
}

// MissingIDs returns the ids that have no row in table. table must be one
// of the fixed identifiers used by this package.
func MissingIDs(ctx context.Context, q db.Querier, table string, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := q.Query(ctx, fmt.Sprintf(`
SELECT want.id
FROM unnest($1::bigint[]) AS want(id)
LEFT JOIN %s t ON t.id = want.id
WHERE t.id IS NULL
ORDER BY want.id`, pgx.Identifier{table}.Sanitize()), ids)
	if err != nil {
		return nil, shared.Infra("rbac: check "+table, err)
	}
	missing, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, shared.Infra("rbac: check "+table, err)
	}
	return missing, nil
}

func rowExists(ctx context.Context, q db.Querier, table string, id int64) (bool, error) {
	missing, err := MissingIDs(ctx, q, table, []int64{id})
	if err != nil {
		return false, err
	}
	return len(missing) == 0, nil
}

func diffIDs(current, wanted []int64) PermissionDiff {
	have := make(map[int64]struct{}, len(current))
	for _, id := range current {
		have[id] = struct{}{}
	}
	want := make(map[int64]struct{}, len(wanted))
	var diff PermissionDiff
	for _, id := range wanted {
		want[id] = struct{}{}
		if _, ok := have[id]; !ok {
			diff.Granted = append(diff.Granted, id)
		}
	}
	for _, id := range dedupeIDs(current) {
		if _, ok := want[id]; !ok {
			diff.Revoked = append(diff.Revoked, id)
		}
	}
	return diff
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}
