package audithttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/aqarfund/aqar/internal/auth"
	"github.com/aqarfund/aqar/internal/platform/httpx"
	"github.com/aqarfund/aqar/internal/shared"
)

const rateLimit = 10
const rateWindow = time.Minute

// MountRoutes registers the audit log and CSV export endpoints. The router
// is expected to run RequireAuth.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "export rate limit exceeded")
		}),
	)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(shared.PermAuditView))
		r.Get("/audit", h.handleList)
		r.With(limiter).Get("/audit/export.csv", h.handleExport)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && !identity.Anonymous() {
		return "user:" + strconv.FormatInt(identity.UserID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
