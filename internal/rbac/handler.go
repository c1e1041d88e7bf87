package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/edu-platform/edu-platform/internal/platform/httpx"
	"github.com/edu-platform/edu-platform/internal/shared"
)

// Handler exposes the RBAC JSON API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: httpx.NewValidator()}
}

// MountPermissionRoutes registers /permissions routes.
func (h *Handler) MountPermissionRoutes(r chi.Router) {
	r.Use(h.rbac.Require(shared.PermManagePermissions))
	r.Get("/", h.listPermissions)
	r.Post("/", h.createPermission)
	r.Get("/{id}", h.getPermission)
	r.Patch("/{id}", h.updatePermission)
	r.Delete("/{id}", h.deletePermission)
}

// MountRoleRoutes registers /roles routes.
func (h *Handler) MountRoleRoutes(r chi.Router) {
	r.Use(h.rbac.Require(shared.PermManageRoles))
	r.Get("/", h.listRoles)
	r.Post("/", h.createRole)
	r.Get("/{id}", h.getRole)
	r.Put("/{id}", h.updateRole)
	r.Patch("/{id}", h.patchRole)
	r.Delete("/{id}", h.deleteRole)
	r.Get("/{id}/permissions", h.listRolePermissions)
	r.Put("/{id}/permissions", h.replaceRolePermissions)
	r.Post("/{id}/permissions", h.addRolePermissions)
	r.Delete("/{id}/permissions", h.removeRolePermissions)
}

// MountUserRoleRoutes registers routes under /users/{id}/roles.
func (h *Handler) MountUserRoleRoutes(r chi.Router) {
	r.With(h.rbac.Require(shared.PermReadUsers)).Get("/", h.listUserRoles)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermManageRoles))
		r.Put("/", h.assignRoles)
		r.Post("/", h.addRoles)
		r.Delete("/", h.removeRoles)
	})
}

// MountIntegrityRoutes registers /rbac routes.
func (h *Handler) MountIntegrityRoutes(r chi.Router) {
	r.With(h.rbac.Require(shared.PermManageRoles)).Get("/integrity", h.integrity)
}

type permissionRequest struct {
	Name string `json:"name" validate:"required,max=128"`
}

type permissionPatchRequest struct {
	Name *string `json:"name" validate:"omitempty,min=1,max=128"`
}

type roleRequest struct {
	Name          string  `json:"name" validate:"required,max=128"`
	PermissionIDs []int64 `json:"permission_ids"`
}

type rolePatchRequest struct {
	Name          *string  `json:"name" validate:"omitempty,min=1,max=128"`
	PermissionIDs *[]int64 `json:"permission_ids"`
}

type permissionIDsRequest struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"required"`
}

type roleIDsRequest struct {
	RoleIDs []int64 `json:"role_ids" validate:"required"`
}

type userRolesResponse struct {
	UserID int64     `json:"user_id"`
	Roles  []RoleRef `json:"roles"`
}

type rolePermissionsResponse struct {
	RoleID      int64    `json:"role_id"`
	Permissions []string `json:"permissions"`
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, perm)
}

func (h *Handler) getPermission(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	perm, err := h.service.GetPermission(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perm)
}

func (h *Handler) updatePermission(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req permissionPatchRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	perm, err := h.service.UpdatePermission(r.Context(), id, PermissionPatch{Name: req.Name})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perm)
}

func (h *Handler) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.DeletePermission(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.Name, req.PermissionIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req roleRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	role, err := h.service.UpdateRole(r.Context(), id, req.Name, req.PermissionIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) patchRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req rolePatchRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	role, err := h.service.PatchRole(r.Context(), id, RolePatch{Name: req.Name, PermissionIDs: req.PermissionIDs})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) listRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	names, err := h.service.ListRolePermissionNames(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rolePermissionsResponse{RoleID: id, Permissions: names})
}

func (h *Handler) replaceRolePermissions(w http.ResponseWriter, r *http.Request) {
	h.mutateRolePermissions(w, r, h.service.ReplaceRolePermissions)
}

func (h *Handler) addRolePermissions(w http.ResponseWriter, r *http.Request) {
	h.mutateRolePermissions(w, r, h.service.AddRolePermissions)
}

func (h *Handler) removeRolePermissions(w http.ResponseWriter, r *http.Request) {
	h.mutateRolePermissions(w, r, h.service.RemoveRolePermissions)
}

func (h *Handler) mutateRolePermissions(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, roleID int64, ids []int64) (Role, error)) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req permissionIDsRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	role, err := op(r.Context(), id, req.PermissionIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) listUserRoles(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	roles, err := h.service.ListUserRoles(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, userRolesResponse{UserID: id, Roles: roles})
}

func (h *Handler) assignRoles(w http.ResponseWriter, r *http.Request) {
	h.mutateUserRoles(w, r, h.service.AssignRoles)
}

func (h *Handler) addRoles(w http.ResponseWriter, r *http.Request) {
	h.mutateUserRoles(w, r, h.service.AddRoles)
}

func (h *Handler) removeRoles(w http.ResponseWriter, r *http.Request) {
	h.mutateUserRoles(w, r, h.service.RemoveRoles)
}

func (h *Handler) mutateUserRoles(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, userID int64, ids []int64) ([]RoleRef, error)) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req roleIDsRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	roles, err := op(r.Context(), id, req.RoleIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, userRolesResponse{UserID: id, Roles: roles})
}

func (h *Handler) integrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.IntegrityReport(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusOf(err) == http.StatusInternalServerError && h.logger != nil {
		h.logger.Error("rbac request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
