package visibility

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aqarfund/aqar/internal/shared"
)

// PGRuleStore reads role_menu_visibility rows.
type PGRuleStore struct {
	pool *pgxpool.Pool
}

// NewRuleStore constructs a PostgreSQL-backed rule store.
func NewRuleStore(pool *pgxpool.Pool) *PGRuleStore {
	return &PGRuleStore{pool: pool}
}

// RulesForRoles returns the rows of the given roles.
func (s *PGRuleStore) RulesForRoles(ctx context.Context, roleIDs []int64) (Rules, error) {
	if len(roleIDs) == 0 {
		return Rules{}, nil
	}
	return s.query(ctx, `SELECT role_id, menu_item_id, visible FROM role_menu_visibility WHERE role_id = ANY($1::bigint[])`, roleIDs)
}

// AllRules returns every row.
func (s *PGRuleStore) AllRules(ctx context.Context) (Rules, error) {
	return s.query(ctx, `SELECT role_id, menu_item_id, visible FROM role_menu_visibility`)
}

func (s *PGRuleStore) query(ctx context.Context, sql string, args ...any) (Rules, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, shared.Infra("visibility: load rules", err)
	}
	defer rows.Close()
	rules := Rules{}
	for rows.Next() {
		var key Key
		var visible bool
		if err := rows.Scan(&key.RoleID, &key.MenuItemID, &visible); err != nil {
			return nil, shared.Infra("visibility: load rules", err)
		}
		rules[key] = visible
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Infra("visibility: load rules", err)
	}
	return rules, nil
}
