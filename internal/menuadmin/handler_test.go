package menuadmin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqarfund/aqar/internal/auth"
	"github.com/aqarfund/aqar/internal/rbac"
	"github.com/aqarfund/aqar/internal/shared"
)

type stubRoleNames map[int64][]string

func (s stubRoleNames) RoleNames(ctx context.Context, userID int64) ([]string, error) {
	return s[userID], nil
}

type authorizerPerms struct{ authz *stubAuthorizer }

func (a authorizerPerms) EffectivePermissions(ctx context.Context, userID int64) (rbac.PermissionSet, error) {
	return a.authz.perms[userID], nil
}

func adminRouter(fx *fixture, userID int64) http.Handler {
	guard := rbac.NewGuard(nil, stubRoleNames{superAdminID: {"super_admin"}, investorID: {"investor"}}, authorizerPerms{authz: fx.authz}, nil)
	r := chi.NewRouter()
	r.Use(shared.OriginMiddleware)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), auth.Identity{UserID: userID})))
		})
	})
	r.Route("/api/admin/menu", NewHandler(nil, fx.service, rbac.Middleware{Guard: guard}).MountRoutes)
	return r
}

func TestHandlerSetVisibilityCapturesOrigin(t *testing.T) {
	fx := newFixture()
	router := adminRouter(fx, superAdminID)

	req := httptest.NewRequest(http.MethodPut, "/api/admin/menu/visibility", strings.NewReader(`{"role_id":2,"menu_item_id":11,"visible":true}`))
	req.RemoteAddr = "198.51.100.4:51234"
	req.Header.Set("User-Agent", "console/2")
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	entries := fx.store.auditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "198.51.100.4", entries[0].SourceIP)
	assert.Equal(t, "console/2", entries[0].UserAgent)
}

func TestHandlerUnknownItemIsBadRequest(t *testing.T) {
	fx := newFixture()
	router := adminRouter(fx, superAdminID)

	req := httptest.NewRequest(http.MethodPut, "/api/admin/menu/visibility", strings.NewReader(`{"role_id":2,"menu_item_id":999,"visible":true}`))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "menu_item_id")
}

func TestHandlerBulkReportsFailures(t *testing.T) {
	fx := newFixture()
	router := adminRouter(fx, superAdminID)

	body := `{"changes":[{"role_id":2,"menu_item_id":10,"visible":true},{"role_id":2,"menu_item_id":999,"visible":true}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/admin/menu/visibility/bulk", strings.NewReader(body))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	var result BulkResult
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Applied)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, ReasonNotFound, result.Failed[0].Reason)
}

func TestHandlerRequiresSuperAdmin(t *testing.T) {
	fx := newFixture()
	fx.authz.perms[investorID] = rbac.NewPermissionSet(shared.PermMenuManage)
	router := adminRouter(fx, investorID)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/admin/menu/matrix", nil))

	assert.Equal(t, http.StatusForbidden, res.Code)
}

func TestHandlerMatrix(t *testing.T) {
	fx := newFixture()
	router := adminRouter(fx, superAdminID)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/admin/menu/matrix", nil))

	require.Equal(t, http.StatusOK, res.Code)
	var matrix Matrix
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &matrix))
	assert.Len(t, matrix.Rows, 4)
}
