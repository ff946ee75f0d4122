package menu

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aqarfund/aqar/internal/platform/db"
	"github.com/aqarfund/aqar/internal/shared"
)

const constraintActiveKey = "uq_menu_items_active_key"

// hierarchyLockKey serializes writers of menu_items.parent_id and key.
const hierarchyLockKey int64 = 0x6d656e75

// Repository is the persistence contract of the menu registry.
type Repository interface {
	ListAll(ctx context.Context) ([]Item, error)
	Get(ctx context.Context, id int64) (Item, error)
	Insert(ctx context.Context, input Input) (Item, error)
	Update(ctx context.Context, id int64, input Input) (Item, error)
	SetActive(ctx context.Context, id int64, active bool) (Item, error)
	ActiveKeyOwner(ctx context.Context, key string) (int64, bool, error)
	PermissionExists(ctx context.Context, name string) (bool, error)
	// Locked runs fn with exclusive access to the hierarchy. Reads and
	// writes made through the Repository passed to fn commit together.
	Locked(ctx context.Context, fn func(Repository) error) error
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
	q    db.Querier
}

// NewRepository constructs a PostgreSQL-backed repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool, q: pool}
}

// Locked takes a transaction-scoped advisory lock and hands fn a repository
// bound to that transaction. Nested calls reuse the open transaction.
func (r *PGRepository) Locked(ctx context.Context, fn func(Repository) error) error {
	if r.pool == nil {
		return fn(r)
	}
	return db.WithTxLevel(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, hierarchyLockKey); err != nil {
			return shared.Infra("menu: hierarchy lock", err)
		}
		return fn(&PGRepository{q: tx})
	})
}

const itemColumns = `id, key, label_en, label_ar, path, parent_id, COALESCE(required_permission, ''), is_public, display_order, is_active, created_at, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	err := row.Scan(&item.ID, &item.Key, &item.LabelEn, &item.LabelAr, &item.Path, &item.ParentID,
		&item.RequiredPermission, &item.IsPublic, &item.DisplayOrder, &item.IsActive, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

// ListAll returns every item, active or not, in id order.
func (r *PGRepository) ListAll(ctx context.Context) ([]Item, error) {
	return ListItems(ctx, r.q)
}

// ListItems reads all menu items through q.
func ListItems(ctx context.Context, q db.Querier) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM menu_items ORDER BY id`)
	if err != nil {
		return nil, shared.Infra("menu: list items", err)
	}
	defer rows.Close()
	items := make([]Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, shared.Infra("menu: list items", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Infra("menu: list items", err)
	}
	return items, nil
}

// Get fetches a single item.
func (r *PGRepository) Get(ctx context.Context, id int64) (Item, error) {
	item, err := scanItem(r.q.QueryRow(ctx, `SELECT `+itemColumns+` FROM menu_items WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, shared.ErrNotFound
		}
		return Item{}, shared.Infra("menu: get item", err)
	}
	return item, nil
}

// Insert creates an item.
func (r *PGRepository) Insert(ctx context.Context, input Input) (Item, error) {
	item, err := scanItem(r.q.QueryRow(ctx, `
INSERT INTO menu_items (key, label_en, label_ar, path, parent_id, required_permission, is_public, display_order)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
RETURNING `+itemColumns,
		input.Key, input.LabelEn, input.LabelAr, input.Path, input.ParentID, input.RequiredPermission, input.IsPublic, input.DisplayOrder))
	if err != nil {
		return Item{}, mapWriteError("menu: insert item", err)
	}
	return item, nil
}

// Update overwrites the editable fields of an item.
func (r *PGRepository) Update(ctx context.Context, id int64, input Input) (Item, error) {
	item, err := scanItem(r.q.QueryRow(ctx, `
UPDATE menu_items
SET key = $2, label_en = $3, label_ar = $4, path = $5, parent_id = $6,
    required_permission = NULLIF($7, ''), is_public = $8, display_order = $9, updated_at = NOW()
WHERE id = $1
RETURNING `+itemColumns,
		id, input.Key, input.LabelEn, input.LabelAr, input.Path, input.ParentID, input.RequiredPermission, input.IsPublic, input.DisplayOrder))
	if err != nil {
		return Item{}, mapWriteError("menu: update item", err)
	}
	return item, nil
}

// SetActive toggles the soft-disable flag.
func (r *PGRepository) SetActive(ctx context.Context, id int64, active bool) (Item, error) {
	item, err := scanItem(r.q.QueryRow(ctx, `
UPDATE menu_items SET is_active = $2, updated_at = NOW() WHERE id = $1
RETURNING `+itemColumns, id, active))
	if err != nil {
		return Item{}, mapWriteError("menu: set active", err)
	}
	return item, nil
}

// ActiveKeyOwner returns the id of the active item using key, if any.
func (r *PGRepository) ActiveKeyOwner(ctx context.Context, key string) (int64, bool, error) {
	var id int64
	err := r.q.QueryRow(ctx, `SELECT id FROM menu_items WHERE key = $1 AND is_active`, key).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, shared.Infra("menu: key owner", err)
	}
	return id, true, nil
}

// PermissionExists reports whether a permission with name exists.
func (r *PGRepository) PermissionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM permissions WHERE lower(name) = lower($1))`, name).Scan(&exists)
	if err != nil {
		return false, shared.Infra("menu: permission exists", err)
	}
	return exists, nil
}

func mapWriteError(op string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return shared.ErrNotFound
	case db.IsUniqueViolation(err, constraintActiveKey):
		return shared.NewValidationError("key", "key already used by an active item")
	default:
		return shared.Infra(op, err)
	}
}
