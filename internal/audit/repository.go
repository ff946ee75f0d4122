package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aqarfund/aqar/internal/platform/db"
	"github.com/aqarfund/aqar/internal/shared"
)

// Repository reads the audit log.
type Repository interface {
	Window(ctx context.Context, filters Filters, limit, offset int) ([]Entry, error)
}

// Record appends entry through q, typically the caller's open transaction,
// and returns the new row id. ChangedAt defaults to the database clock.
func Record(ctx context.Context, q db.Querier, entry Entry) (int64, error) {
	if !ValidKind(entry.Kind) {
		return 0, shared.NewValidationError("kind", "unknown audit kind")
	}
	var changedAt any
	if !entry.ChangedAt.IsZero() {
		changedAt = entry.ChangedAt
	}
	var id int64
	err := q.QueryRow(ctx, `
INSERT INTO menu_visibility_audit
    (kind, actor_user_id, role_id, menu_item_id, permission_id, previous_value, new_value, changed_at, source_ip, user_agent)
VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8::timestamptz, NOW()), $9, $10)
RETURNING id`,
		entry.Kind, entry.ActorUserID, entry.RoleID, entry.MenuItemID, entry.PermissionID,
		entry.PreviousValue, entry.NewValue, changedAt, entry.SourceIP, entry.UserAgent).Scan(&id)
	if err != nil {
		return 0, shared.Infra("audit: record", err)
	}
	return id, nil
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL-backed repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Window returns up to limit entries matching filters, newest first.
func (r *PGRepository) Window(ctx context.Context, filters Filters, limit, offset int) ([]Entry, error) {
	where, args := buildWhere(filters)
	args = append(args, limit, offset)
	sql := fmt.Sprintf(`
SELECT id, kind, actor_user_id, role_id, menu_item_id, permission_id, previous_value, new_value, changed_at, source_ip, user_agent
FROM menu_visibility_audit
%s
ORDER BY changed_at DESC, id DESC
LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, shared.Infra("audit: list", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		err := row.Scan(&e.ID, &e.Kind, &e.ActorUserID, &e.RoleID, &e.MenuItemID, &e.PermissionID,
			&e.PreviousValue, &e.NewValue, &e.ChangedAt, &e.SourceIP, &e.UserAgent)
		return e, err
	})
	if err != nil {
		return nil, shared.Infra("audit: list", err)
	}
	return entries, nil
}

func buildWhere(f Filters) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.RoleID != nil {
		add("role_id = $%d", *f.RoleID)
	}
	if f.MenuItemID != nil {
		add("menu_item_id = $%d", *f.MenuItemID)
	}
	if f.ActorUserID != nil {
		add("actor_user_id = $%d", *f.ActorUserID)
	}
	if f.Kind != "" {
		add("kind = $%d", f.Kind)
	}
	if !f.From.IsZero() {
		add("changed_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("changed_at <= $%d", f.To)
	}
	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}
