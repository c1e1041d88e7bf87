package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/edu-platform/edu-platform/internal/platform/httpx"
	"github.com/edu-platform/edu-platform/internal/rbac"
	"github.com/edu-platform/edu-platform/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Group(func(r chi.Router) {
		r.Use(h.service.Middleware)
		r.Post("/logout", h.handleLogout)
		r.Get("/me", h.handleMe)
	})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type meResponse struct {
	ID          int64          `json:"id"`
	Email       string         `json:"email"`
	Roles       []rbac.RoleRef `json:"roles"`
	Permissions []string       `json:"permissions"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	token, err := h.service.Login(r.Context(), req.Email, req.Password, r.RemoteAddr, r.UserAgent())
	if err != nil {
		if httpx.StatusOf(err) == http.StatusInternalServerError {
			h.logger.Error("login", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, token)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), shared.BearerToken(r)); err != nil {
		h.logger.Error("logout", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	roles := make([]rbac.RoleRef, 0, len(p.Roles))
	for _, role := range p.Roles {
		roles = append(roles, role.Ref())
	}
	httpx.JSON(w, http.StatusOK, meResponse{
		ID:          p.UserID,
		Email:       p.Email,
		Roles:       roles,
		Permissions: p.EffectivePermissions(),
	})
}
