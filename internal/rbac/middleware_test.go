package rbac

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqarfund/aqar/internal/shared"
)

func protectedRouter(m Middleware) http.Handler {
	r := chi.NewRouter()
	r.Use(m.RequireAuth)
	r.With(m.RequirePermission("menu.manage")).Get("/menu", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.With(m.RequireRole("super_admin"), m.RequireAll("menu.manage", "properties.manage")).Get("/admin", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	guard, _, _ := newTestGuard(t, seededRepo())
	router := protectedRouter(Middleware{Guard: guard})

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/menu", nil))

	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Contains(t, res.Header().Get("WWW-Authenticate"), "Bearer")
}

func TestMiddlewareForbidsWithoutDetail(t *testing.T) {
	repo := seededRepo()
	repo.users[7] = []int64{3}
	guard, tokens, _ := newTestGuard(t, repo)
	router := protectedRouter(Middleware{Guard: guard})
	signed, _, err := tokens.Issue(7, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/menu", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	assert.Equal(t, http.StatusForbidden, res.Code)
	assert.Contains(t, res.Body.String(), "insufficient permission")
	assert.NotContains(t, res.Body.String(), "menu.manage")
}

func TestMiddlewareAllowsSuperAdmin(t *testing.T) {
	repo := seededRepo()
	repo.users[1] = []int64{1}
	guard, tokens, _ := newTestGuard(t, repo)
	router := protectedRouter(Middleware{Guard: guard})
	signed, _, err := tokens.Issue(1, nil)
	require.NoError(t, err)

	for _, path := range []string{"/menu", "/admin"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		res := httptest.NewRecorder()
		router.ServeHTTP(res, req)
		assert.Equal(t, http.StatusNoContent, res.Code, path)
	}
}

func TestMiddlewareStoreFailureIsGeneric500(t *testing.T) {
	repo := seededRepo()
	repo.failWith = shared.Infra("rbac: user roles", errors.New("dial tcp 10.0.0.5:5432: refused"))
	guard, tokens, _ := newTestGuard(t, repo)
	router := protectedRouter(Middleware{Guard: guard})
	signed, _, err := tokens.Issue(7, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/menu", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	assert.Equal(t, http.StatusInternalServerError, res.Code)
	assert.NotContains(t, res.Body.String(), "10.0.0.5")
}
