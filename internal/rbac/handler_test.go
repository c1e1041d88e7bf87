package rbac

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edu-platform/edu-platform/internal/platform/httpx"
	"github.com/edu-platform/edu-platform/internal/shared"
)

type handlerFixture struct {
	router http.Handler
	svc    *Service
	repo   *memRepository
}

func newHandlerFixture(t *testing.T, perms ...string) *handlerFixture {
	t.Helper()
	svc, repo := newTestService()
	h := NewHandler(nil, svc, Middleware{})
	principal := principalWith(perms...)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(ContextWithPrincipal(req.Context(), principal)))
		})
	})
	r.Route("/permissions", h.MountPermissionRoutes)
	r.Route("/roles", h.MountRoleRoutes)
	r.Route("/users/{id}/roles", h.MountUserRoleRoutes)
	r.Route("/rbac", h.MountIntegrityRoutes)
	return &handlerFixture{router: r, svc: svc, repo: repo}
}

func (f *handlerFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestPermissionEndpoints(t *testing.T) {
	f := newHandlerFixture(t, shared.PermManagePermissions)

	rr := f.do(http.MethodPost, "/permissions/", `{"name":"manage_courses"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[Permission](t, rr)
	assert.Equal(t, "manage_courses", created.Name)

	rr = f.do(http.MethodPost, "/permissions/", `{"name":"Manage_Courses"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = f.do(http.MethodPost, "/permissions/", `{}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	problem := decode[httpx.ProblemDetail](t, rr)
	assert.Equal(t, "is required", problem.Fields["name"])

	rr = f.do(http.MethodPost, "/permissions/", `{"name":"x","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(http.MethodGet, "/permissions/", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]Permission](t, rr), 1)

	rr = f.do(http.MethodPatch, "/permissions/1", `{"name":"manage_lectures"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "manage_lectures", decode[Permission](t, rr).Name)

	rr = f.do(http.MethodGet, "/permissions/abc", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(http.MethodDelete, "/permissions/1", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = f.do(http.MethodGet, "/permissions/1", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPermissionEndpointsRequirePermission(t *testing.T) {
	f := newHandlerFixture(t, shared.PermManageRoles)

	rr := f.do(http.MethodPost, "/permissions/", `{"name":"manage_courses"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	perms, err := f.svc.ListPermissions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, perms, "denied request must not mutate")
}

func TestRoleEndpoints(t *testing.T) {
	f := newHandlerFixture(t, shared.PermManageRoles)
	p1 := mustPermission(t, f.svc, "manage_courses")
	p2 := mustPermission(t, f.svc, "manage_chapters")

	rr := f.do(http.MethodPost, "/roles/", `{"name":"Editor","permission_ids":[1,99]}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	role := decode[Role](t, rr)
	assert.Equal(t, []int64{p1.ID}, role.PermissionIDs())

	rr = f.do(http.MethodPost, "/roles/1/permissions", `{"permission_ids":[2]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.ElementsMatch(t, []int64{p1.ID, p2.ID}, decode[Role](t, rr).PermissionIDs())

	rr = f.do(http.MethodGet, "/roles/1/permissions", "")
	require.Equal(t, http.StatusOK, rr.Code)
	names := decode[rolePermissionsResponse](t, rr)
	assert.Equal(t, []string{"manage_courses", "manage_chapters"}, names.Permissions)

	rr = f.do(http.MethodDelete, "/roles/1/permissions", `{"permission_ids":[1]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []int64{p2.ID}, decode[Role](t, rr).PermissionIDs())

	rr = f.do(http.MethodPut, "/roles/1/permissions", `{"permission_ids":[]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[Role](t, rr).Permissions)

	rr = f.do(http.MethodPut, "/roles/1/permissions", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(http.MethodPatch, "/roles/1", `{"name":"Author"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Author", decode[Role](t, rr).Name)

	rr = f.do(http.MethodPut, "/roles/1", `{"name":"Author","permission_ids":[1,2]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[Role](t, rr).Permissions, 2)

	rr = f.do(http.MethodGet, "/roles/2", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(http.MethodDelete, "/roles/1", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = f.do(http.MethodGet, "/roles/", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[[]Role](t, rr))
}

func TestUserRoleEndpoints(t *testing.T) {
	f := newHandlerFixture(t, shared.PermManageRoles, shared.PermReadUsers)
	f.repo.addUser(42)
	editor := mustRole(t, f.svc, "Editor")
	viewer := mustRole(t, f.svc, "Viewer")

	rr := f.do(http.MethodPut, "/users/42/roles", `{"role_ids":[1,2,3]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode[userRolesResponse](t, rr)
	assert.Equal(t, int64(42), body.UserID)
	assert.Equal(t, []RoleRef{editor.Ref(), viewer.Ref()}, body.Roles)

	rr = f.do(http.MethodDelete, "/users/42/roles", `{"role_ids":[1]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []RoleRef{viewer.Ref()}, decode[userRolesResponse](t, rr).Roles)

	rr = f.do(http.MethodPost, "/users/42/roles", `{"role_ids":[1]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[userRolesResponse](t, rr).Roles, 2)

	rr = f.do(http.MethodGet, "/users/42/roles", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[userRolesResponse](t, rr).Roles, 2)

	rr = f.do(http.MethodGet, "/users/43/roles", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUserRoleReadOnlyPrincipal(t *testing.T) {
	f := newHandlerFixture(t, shared.PermReadUsers)
	f.repo.addUser(42)

	rr := f.do(http.MethodGet, "/users/42/roles", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(http.MethodPut, "/users/42/roles", `{"role_ids":[]}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestIntegrityEndpoint(t *testing.T) {
	f := newHandlerFixture(t, shared.PermManageRoles)
	mustPermission(t, f.svc, "orphan")
	mustRole(t, f.svc, "Empty")

	rr := f.do(http.MethodGet, "/rbac/integrity", "")
	require.Equal(t, http.StatusOK, rr.Code)
	report := decode[IntegrityReport](t, rr)
	assert.Len(t, report.EmptyRoles, 1)
	assert.Len(t, report.OrphanedPermissions, 1)
	assert.False(t, report.Clean())
}
