package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aqarfund/aqar/internal/platform/httpx"
	"github.com/aqarfund/aqar/internal/shared"
)

// RolePermissionSetter performs an audited permission replace on behalf of
// the current user. When nil the handler falls back to the unaudited store call.
type RolePermissionSetter interface {
	SetRolePermissionsFromRequest(r *http.Request, roleID int64, permissionIDs []int64) (PermissionDiff, error)
}

// Handler exposes role and permission management over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    Middleware
	audited RolePermissionSetter
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac Middleware, audited RolePermissionSetter) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, audited: audited}
}

// MountRoutes registers RBAC routes. The router is expected to run RequireAuth.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermRolesView, shared.PermRolesManage))
		r.Get("/roles", h.listRoles)
		r.Get("/roles/{id}/permissions", h.rolePermissions)
		r.Get("/permissions", h.listPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(shared.PermRolesManage))
		r.Post("/roles", h.createRole)
		r.Patch("/roles/{id}", h.setRoleActive)
		r.Put("/roles/{id}/permissions", h.setRolePermissions)
		r.Post("/permissions", h.createPermission)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(shared.PermUsersManage))
		r.Get("/users/{id}/roles", h.userRoles)
		r.Put("/users/{id}/roles", h.assignUserRoles)
	})
}

type activeRequest struct {
	IsActive *bool `json:"is_active"`
}

type permissionIDsRequest struct {
	PermissionIDs []int64 `json:"permission_ids"`
}

type roleIDsRequest struct {
	RoleIDs []int64 `json:"role_ids"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) rolePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	perms, err := h.service.GetRolePermissions(r.Context(), id)
	if err != nil {
		h.fail(w, "role permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role_id": id, "permissions": perms})
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var input CreateRoleInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.CreateRole(r.Context(), input)
	if err != nil {
		h.fail(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var input CreatePermissionInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), input)
	if err != nil {
		h.fail(w, "create permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, perm)
}

func (h *Handler) setRoleActive(w http.ResponseWriter, r *http.Request) {
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
	role, err := h.service.SetRoleActive(r.Context(), id, *req.IsActive)
	if err != nil {
		h.fail(w, "set role active", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req permissionIDsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	var diff PermissionDiff
	if h.audited != nil {
		diff, err = h.audited.SetRolePermissionsFromRequest(r, id, req.PermissionIDs)
	} else {
		diff, err = h.service.SetRolePermissions(r.Context(), id, req.PermissionIDs)
	}
	if err != nil {
		h.fail(w, "set role permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"role_id": id,
		"granted": nonNil(diff.Granted),
		"revoked": nonNil(diff.Revoked),
	})
}

func (h *Handler) userRoles(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	roles, err := h.service.GetUserRoles(r.Context(), id)
	if err != nil {
		h.fail(w, "user roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": id, "roles": roles})
}

func (h *Handler) assignUserRoles(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req roleIDsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.AssignRolesToUser(r.Context(), id, req.RoleIDs); err != nil {
		h.fail(w, "assign user roles", err)
		return
	}
	roles, err := h.service.GetUserRoles(r.Context(), id)
	if err != nil {
		h.fail(w, "user roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": id, "roles": roles})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !shared.IsClientError(err) {
		h.logger.Error("rbac "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
