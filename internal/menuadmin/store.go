package menuadmin

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aqarfund/aqar/internal/audit"
	"github.com/aqarfund/aqar/internal/platform/db"
	"github.com/aqarfund/aqar/internal/rbac"
	"github.com/aqarfund/aqar/internal/shared"
)

// Store runs work inside a single transaction.
type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the set of statements a mutation may run atomically.
type Tx interface {
	RoleExists(ctx context.Context, roleID int64) (bool, error)
	MenuItemExists(ctx context.Context, menuItemID int64) (bool, error)
	LockVisibility(ctx context.Context, roleID, menuItemID int64) (*bool, error)
	UpsertVisibility(ctx context.Context, roleID, menuItemID int64, visible bool) error
	ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) (rbac.PermissionDiff, error)
	AppendAudit(ctx context.Context, entry audit.Entry) (int64, error)
}

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore constructs a PostgreSQL-backed store.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// InTx runs fn in a RepeatableRead transaction.
func (s *PGStore) InTx(ctx context.Context, fn func(Tx) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

func (t pgTx) RoleExists(ctx context.Context, roleID int64) (bool, error) {
	missing, err := rbac.MissingIDs(ctx, t.tx, "roles", []int64{roleID})
	return len(missing) == 0, err
}

func (t pgTx) MenuItemExists(ctx context.Context, menuItemID int64) (bool, error) {
	missing, err := rbac.MissingIDs(ctx, t.tx, "menu_items", []int64{menuItemID})
	return len(missing) == 0, err
}

func (t pgTx) LockVisibility(ctx context.Context, roleID, menuItemID int64) (*bool, error) {
	var visible bool
	err := t.tx.QueryRow(ctx, `
SELECT visible FROM role_menu_visibility
WHERE role_id = $1 AND menu_item_id = $2
FOR UPDATE`, roleID, menuItemID).Scan(&visible)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, shared.Infra("menuadmin: lock visibility", err)
	}
	return &visible, nil
}

func (t pgTx) UpsertVisibility(ctx context.Context, roleID, menuItemID int64, visible bool) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO role_menu_visibility (role_id, menu_item_id, visible, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (role_id, menu_item_id) DO UPDATE SET visible = EXCLUDED.visible, updated_at = NOW()`,
		roleID, menuItemID, visible)
	if err != nil {
		return shared.Infra("menuadmin: upsert visibility", err)
	}
	return nil
}

func (t pgTx) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) (rbac.PermissionDiff, error) {
	return rbac.ReplaceRolePermissionsTx(ctx, t.tx, roleID, permissionIDs)
}

func (t pgTx) AppendAudit(ctx context.Context, entry audit.Entry) (int64, error) {
	return audit.Record(ctx, t.tx, entry)
}
