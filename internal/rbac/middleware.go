package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/edu-platform/edu-platform/internal/platform/httpx"
	"github.com/edu-platform/edu-platform/internal/shared"
)

// Middleware wires RBAC authorization guards for HTTP handlers. The principal
// must already be in the request context (see auth.Middleware).
type Middleware struct {
	Logger  *slog.Logger
	Metrics *Metrics
}

// Require guards a route with a single permission.
func (m Middleware) Require(perm string) func(http.Handler) http.Handler {
	return m.RequireAll(perm)
}

// RequireAll ensures the principal holds every listed permission.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.guard(normalizePermissions(perms), true)
}

// RequireAny ensures the principal holds at least one listed permission.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.guard(normalizePermissions(perms), false)
}

func (m Middleware) guard(required []string, all bool) func(http.Handler) http.Handler {
	label := strings.Join(required, "|")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := PrincipalFromContext(r.Context())
			if principal == nil {
				httpx.RespondError(w, shared.ErrUnauthenticated)
				return
			}
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			allowed := hasAny(principal, required)
			if all {
				allowed = hasAll(principal, required)
			}
			m.Metrics.observe(label, allowed)
			if !allowed {
				if m.Logger != nil {
					m.Logger.Info("rbac deny",
						slog.Int64("user_id", principal.UserID),
						slog.String("required", label),
						slog.String("path", r.URL.Path))
				}
				httpx.RespondError(w, shared.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// normalizePermissions trims and de-duplicates names, keeping declaration order.
// Case is preserved because matching is exact.
func normalizePermissions(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func hasAny(p *Principal, required []string) bool {
	for _, name := range required {
		if HasPermission(p, name) {
			return true
		}
	}
	return false
}

func hasAll(p *Principal, required []string) bool {
	for _, name := range required {
		if !HasPermission(p, name) {
			return false
		}
	}
	return true
}
