package menu

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aqarfund/aqar/internal/platform/httpx"
	"github.com/aqarfund/aqar/internal/rbac"
	"github.com/aqarfund/aqar/internal/shared"
)

// Handler exposes the menu registry to administrators.
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

// MountRoutes registers registry routes. The router is expected to run RequireAuth.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(shared.PermMenuManage))
		r.Get("/items", h.list)
		r.Post("/items", h.create)
		r.Get("/items/{id}", h.get)
		r.Put("/items/{id}", h.update)
		r.Patch("/items/{id}", h.setActive)
	})
}

type activeRequest struct {
	IsActive *bool `json:"is_active"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input Input
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.fail(w, "create", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var input Input
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.Update(r.Context(), id, input)
	if err != nil {
		h.fail(w, "update", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req activeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.IsActive == nil {
		httpx.RespondError(w, shared.NewValidationError("is_active", "is required"))
		return
	}
	item, err := h.service.SetActive(r.Context(), id, *req.IsActive)
	if err != nil {
		h.fail(w, "set active", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !shared.IsClientError(err) {
		h.logger.Error("menu "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
