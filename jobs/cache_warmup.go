package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/aqarfund/aqar/internal/jobs"
	"github.com/aqarfund/aqar/internal/menu"
	"github.com/aqarfund/aqar/internal/rbac"
	"github.com/aqarfund/aqar/internal/shared"
)

// UserSource lists the users worth warming.
type UserSource interface {
	ActiveUserIDs(ctx context.Context, limit int) ([]int64, error)
}

// Warmer fills the resolver cache for a user as a side effect of reading.
type Warmer interface {
	EffectivePermissions(ctx context.Context, userID int64) (rbac.PermissionSet, error)
	AccessibleMenuItems(ctx context.Context, userID int64) ([]menu.Item, error)
}

// CacheWarmupJob pre-computes permission sets and menus so the first request
// after an invalidation is served from cache.
type CacheWarmupJob struct {
	Users   UserSource
	Warmer  Warmer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCacheWarmupJob wires dependencies for the warmup handler.
func NewCacheWarmupJob(users UserSource, warmer Warmer, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheWarmupJob {
	return &CacheWarmupJob{Users: users, Warmer: warmer, Logger: logger, Metrics: metrics}
}

// Handle processes TaskRBACCacheWarmup tasks. A failure for one user is
// logged and does not stop the run.
func (j *CacheWarmupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Users == nil || j.Warmer == nil {
		return errors.New("cache warmup: handler not configured")
	}
	payload := CacheWarmupPayload{Limit: defaultWarmupLimit}
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("cache warmup: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	if payload.Limit <= 0 {
		payload.Limit = defaultWarmupLimit
	}
	tracker := j.Metrics.Track(TaskRBACCacheWarmup)
	defer func() { resultErr = tracker.End(resultErr) }()

	logger := j.logger()
	ids, err := j.Users.ActiveUserIDs(ctx, payload.Limit)
	if err != nil {
		logger.Error("list warmup users", slog.Any("error", err))
		return err
	}
	warmed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := j.Warmer.EffectivePermissions(ctx, id); err != nil {
			logger.Warn("warm permissions", slog.Int64("user_id", id), slog.Any("error", err))
			continue
		}
		if _, err := j.Warmer.AccessibleMenuItems(ctx, id); err != nil {
			logger.Warn("warm menu", slog.Int64("user_id", id), slog.Any("error", err))
			continue
		}
		warmed++
	}
	logger.Info("cache warmup finished", slog.Int("users", len(ids)), slog.Int("warmed", warmed))
	return nil
}

func (j *CacheWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskRBACCacheWarmup))
	}
	return slog.Default()
}

// PGUserSource lists active users holding at least one role.
type PGUserSource struct {
	pool *pgxpool.Pool
}

// NewUserSource constructs a PGUserSource.
func NewUserSource(pool *pgxpool.Pool) *PGUserSource {
	return &PGUserSource{pool: pool}
}

// ActiveUserIDs implements UserSource.
func (s *PGUserSource) ActiveUserIDs(ctx context.Context, limit int) ([]int64, error) {
	const query = `
SELECT DISTINCT u.id
FROM users u
JOIN user_roles ur ON ur.user_id = u.id
WHERE u.is_active
ORDER BY u.id
LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, shared.Infra("jobs: list warmup users", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, shared.Infra("jobs: list warmup users", err)
	}
	return ids, nil
}
