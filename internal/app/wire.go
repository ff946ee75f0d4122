package app

import (
	"log/slog"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/aqarfund/aqar/internal/audit"
	audithttp "github.com/aqarfund/aqar/internal/audit/http"
	"github.com/aqarfund/aqar/internal/auth"
	"github.com/aqarfund/aqar/internal/menu"
	"github.com/aqarfund/aqar/internal/menuadmin"
	"github.com/aqarfund/aqar/internal/observability"
	"github.com/aqarfund/aqar/internal/rbac"
	"github.com/aqarfund/aqar/internal/rpcapi"
	"github.com/aqarfund/aqar/internal/visibility"
	"github.com/aqarfund/aqar/jobs"
)

// Engine is the assembled access-control core shared by the API server and
// the worker.
type Engine struct {
	Cache    *visibility.Cache
	RBAC     *rbac.Service
	Menus    *menu.Service
	Rules    *visibility.PGRuleStore
	Resolver *visibility.Resolver
	Audit    *audit.Service
	Admin    *menuadmin.Service
}

// NewEngine wires the stores, cache and services on top of pool and redisClient.
// metrics may be nil.
func NewEngine(cfg *Config, logger *slog.Logger, pool *pgxpool.Pool, redisClient *redis.Client, metrics *observability.Metrics) *Engine {
	ttl := visibility.DefaultTTL
	if cfg != nil && cfg.RBACCacheTTL > 0 {
		ttl = cfg.RBACCacheTTL
	}
	var recorder visibility.CacheRecorder
	var mutations menuadmin.MutationRecorder
	if metrics != nil {
		recorder, mutations = metrics, metrics
	}
	cache := visibility.NewCache(redisClient, ttl, logger, recorder)

	rbacService := rbac.NewService(rbac.NewRepository(pool), cache, logger)
	menuService := menu.NewService(menu.NewRepository(pool), cache, logger)
	rules := visibility.NewRuleStore(pool)
	resolver := visibility.NewResolver(rbacService, menuService, rules, cache)
	auditService := audit.NewService(audit.NewRepository(pool))

	admin := menuadmin.NewService(menuadmin.Deps{
		Store:       menuadmin.NewStore(pool),
		Authorizer:  resolver,
		Roles:       rbacService,
		Menus:       menuService,
		Rules:       rules,
		Audit:       auditService,
		Invalidator: cache,
		Recorder:    mutations,
		Logger:      logger,
	})
	return &Engine{
		Cache:    cache,
		RBAC:     rbacService,
		Menus:    menuService,
		Rules:    rules,
		Resolver: resolver,
		Audit:    auditService,
		Admin:    admin,
	}
}

// NewHTTPHandler builds the full API surface for engine. inspector and scans
// may be nil; without scans the integrity-scan endpoint is not mounted.
func NewHTTPHandler(cfg *Config, logger *slog.Logger, pool *pgxpool.Pool, engine *Engine, metrics *observability.Metrics, inspector *asynq.Inspector, scans jobs.ScanEnqueuer) (http.Handler, error) {
	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	if err != nil {
		return nil, err
	}
	var decisions rbac.DecisionRecorder
	if metrics != nil {
		decisions = metrics
	}
	guard := rbac.NewGuard(tokens, engine.RBAC, engine.Resolver, decisions)
	mw := rbac.Middleware{Guard: guard, Logger: logger}

	authService := auth.NewService(auth.NewRepository(pool), engine.RBAC, tokens)

	var integrityScan http.Handler
	if scans != nil {
		integrityScan = jobs.NewScanTrigger(scans, logger)
	}

	return NewRouter(RouterParams{
		Logger:           logger,
		Config:           cfg,
		Metrics:          metrics,
		RBACMiddleware:   mw,
		AuthHandler:      auth.NewHandler(logger, authService),
		MeHandler:        visibility.NewHandler(logger, engine.Resolver),
		RBACHandler:      rbac.NewHandler(logger, engine.RBAC, mw, engine.Admin),
		MenuHandler:      menu.NewHandler(logger, engine.Menus, mw),
		MenuAdminHandler: menuadmin.NewHandler(logger, engine.Admin, mw),
		AuditHandler:     audithttp.NewHandler(logger, engine.Audit, mw),
		RPCHandler:       rpcapi.NewGateway(logger, guard, engine.Resolver, engine.Admin),
		JobHandler:       jobs.NewHandler(inspector, logger),
		IntegrityScan:    integrityScan,
	}), nil
}
