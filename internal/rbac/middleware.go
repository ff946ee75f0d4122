package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aqarfund/aqar/internal/auth"
	"github.com/aqarfund/aqar/internal/platform/httpx"
	"github.com/aqarfund/aqar/internal/shared"
)

// Middleware wires Guard checks into chi handler chains.
type Middleware struct {
	Guard  *Guard
	Logger *slog.Logger
}

// RequireAuth verifies the bearer token and stores the identity in the request context.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearer(r.Header.Get("Authorization"))
		if err != nil {
			m.reject(w, r, "auth", err)
			return
		}
		identity, err := m.Guard.RequireAuth(token)
		if err != nil {
			m.reject(w, r, "auth", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), identity)))
	})
}

// RequireRole ensures the current user holds one of the given roles.
func (m Middleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return m.wrap("require role", func(ctx context.Context, identity auth.Identity) error {
		return m.Guard.RequireRole(ctx, identity, roles...)
	})
}

// RequirePermission ensures the current user holds the given permission.
func (m Middleware) RequirePermission(perm string) func(http.Handler) http.Handler {
	return m.wrap("require permission", func(ctx context.Context, identity auth.Identity) error {
		return m.Guard.RequirePermission(ctx, identity, perm)
	})
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.wrap("require any", func(ctx context.Context, identity auth.Identity) error {
		return m.Guard.RequireAnyPermission(ctx, identity, normalized...)
	})
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.wrap("require all", func(ctx context.Context, identity auth.Identity) error {
		return m.Guard.RequireAllPermissions(ctx, identity, normalized...)
	})
}

func (m Middleware) wrap(op string, check func(context.Context, auth.Identity) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				m.reject(w, r, op, shared.ErrUnauthorized)
				return
			}
			if err := check(r.Context(), identity); err != nil {
				m.reject(w, r, op, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) reject(w http.ResponseWriter, r *http.Request, op string, err error) {
	if !errors.Is(err, shared.ErrUnauthorized) && !errors.Is(err, shared.ErrForbidden) && m.Logger != nil {
		m.Logger.Error("rbac "+op, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
