package users

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/edu-platform/edu-platform/internal/platform/httpx"
	"github.com/edu-platform/edu-platform/internal/rbac"
	"github.com/edu-platform/edu-platform/internal/shared"
)

// Handler manages user management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: httpx.NewValidator()}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermReadUsers))
		r.Get("/", h.listUsers)
		r.Get("/count", h.countUsers)
		r.Get("/{id}", h.getUser)
	})
	r.With(h.rbac.Require(shared.PermCreateUsers)).Post("/", h.createUser)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermUpdateUsers))
		r.Patch("/{id}", h.updateUser)
		r.Post("/{id}/activate", h.activateUser)
		r.Post("/{id}/deactivate", h.deactivateUser)
	})
	r.With(h.rbac.Require(shared.PermDeleteUsers)).Delete("/{id}", h.deleteUser)
}

type createUserRequest struct {
	Email    string  `json:"email" validate:"required,email,max=254"`
	Username *string `json:"username" validate:"omitempty,max=64"`
	Password string  `json:"password" validate:"required,min=8,max=72"`
	IsActive *bool   `json:"is_active"`
}

type updateUserRequest struct {
	Email    *string `json:"email" validate:"omitempty,email,max=254"`
	Username *string `json:"username" validate:"omitempty,max=64"`
	Password *string `json:"password" validate:"omitempty,min=8,max=72"`
}

type countResponse struct {
	Count int `json:"count"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	users, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, users)
}

func (h *Handler) countUsers(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.Count(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, countResponse{Count: n})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	user, err := h.service.Create(r.Context(), actorID(r), NewUser{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
		IsActive: active,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, user)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateUserRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	user, err := h.service.Update(r.Context(), actorID(r), id, UserPatch{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) activateUser(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.Activate(r.Context(), actorID(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) deactivateUser(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.Deactivate(r.Context(), actorID(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), actorID(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusOf(err) == http.StatusInternalServerError && h.logger != nil {
		h.logger.Error("users request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func actorID(r *http.Request) int64 {
	return rbac.PrincipalFromContext(r.Context()).GetID()
}

func parseFilter(r *http.Request) (ListFilter, error) {
	q := r.URL.Query()
	skip, err := intParam(q.Get("skip"), "skip")
	if err != nil {
		return ListFilter{}, err
	}
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		return ListFilter{}, err
	}
	return ListFilter{Search: q.Get("search"), Window: shared.NewWindow(skip, limit)}, nil
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", shared.ErrValidation, name, raw)
	}
	return v, nil
}
