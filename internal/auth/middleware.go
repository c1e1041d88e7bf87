package auth

import (
	"log/slog"
	"net/http"

	"github.com/edu-platform/edu-platform/internal/platform/httpx"
	"github.com/edu-platform/edu-platform/internal/rbac"
	"github.com/edu-platform/edu-platform/internal/shared"
)

// Middleware resolves the bearer token into a principal and stores it in the
// request context. Requests without a valid token are rejected with 401.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.Principal(r.Context(), shared.BearerToken(r))
		if err != nil {
			if httpx.StatusOf(err) != http.StatusUnauthorized {
				s.logger.Error("resolve principal", slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(rbac.ContextWithPrincipal(r.Context(), principal)))
	})
}
