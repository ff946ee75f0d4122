package menuadmin

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aqarfund/aqar/internal/platform/httpx"
	"github.com/aqarfund/aqar/internal/rbac"
	"github.com/aqarfund/aqar/internal/shared"
)

// Handler exposes the visibility matrix and toggles to super administrators.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers admin menu routes. The router is expected to run RequireAuth.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(shared.PermMenuManage))
		r.Use(h.rbac.RequireRole(shared.RoleSuperAdmin))
		r.Get("/matrix", h.matrix)
		r.Put("/visibility", h.setVisibility)
		r.Post("/visibility/bulk", h.bulkSetVisibility)
	})
}

type bulkRequest struct {
	Changes []VisibilityChange `json:"changes"`
}

func (h *Handler) matrix(w http.ResponseWriter, r *http.Request) {
	actor, err := ActorFromRequest(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	matrix, err := h.service.VisibilityMatrix(r.Context(), actor)
	if err != nil {
		h.fail(w, "matrix", err)
		return
	}
	httpx.JSON(w, http.StatusOK, matrix)
}

func (h *Handler) setVisibility(w http.ResponseWriter, r *http.Request) {
	actor, err := ActorFromRequest(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var change VisibilityChange
	if err := httpx.DecodeJSON(r, &change); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.SetMenuVisibility(r.Context(), actor, change)
	if err != nil {
		h.fail(w, "set visibility", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) bulkSetVisibility(w http.ResponseWriter, r *http.Request) {
	actor, err := ActorFromRequest(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req bulkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.BulkSetMenuVisibility(r.Context(), actor, req.Changes)
	if err != nil {
		h.fail(w, "bulk set visibility", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !shared.IsClientError(err) {
		h.logger.Error("menuadmin "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
