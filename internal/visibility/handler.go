package visibility

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aqarfund/aqar/internal/auth"
	"github.com/aqarfund/aqar/internal/menu"
	"github.com/aqarfund/aqar/internal/platform/httpx"
	"github.com/aqarfund/aqar/internal/shared"
)

// Handler serves the caller's own menu and permissions.
type Handler struct {
	logger   *slog.Logger
	resolver *Resolver
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, resolver *Resolver) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, resolver: resolver}
}

// MountRoutes registers the /me routes. The router is expected to run RequireAuth.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/menu", h.menu)
	r.Get("/permissions", h.permissions)
	r.Get("/permissions/{name}", h.permission)
}

func (h *Handler) menu(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	tree, err := h.resolver.AccessibleMenuTree(r.Context(), identity.UserID)
	if err != nil {
		h.fail(w, "menu", err)
		return
	}
	tag := menu.PreferredLanguage(r.Header.Get("Accept-Language"))
	w.Header().Set("Content-Language", tag.String())
	httpx.JSON(w, http.StatusOK, map[string]any{"items": menu.Localize(tree, tag)})
}

func (h *Handler) permissions(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	set, err := h.resolver.EffectivePermissions(r.Context(), identity.UserID)
	if err != nil {
		h.fail(w, "permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": set.Names()})
}

func (h *Handler) permission(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	name := chi.URLParam(r, "name")
	granted, err := h.resolver.HasPermission(r.Context(), identity.UserID, name)
	if err != nil {
		h.fail(w, "permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permission": name, "granted": granted})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !shared.IsClientError(err) {
		h.logger.Error("visibility "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
