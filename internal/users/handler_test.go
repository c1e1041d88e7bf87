package users

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
	"github.com/edu-platform/edu-platform/internal/rbac"
	"github.com/edu-platform/edu-platform/internal/shared"
)

func newTestRouter(t *testing.T, actor int64, perms ...string) (http.Handler, *Service) {
	t.Helper()
	svc, _ := newTestService()
	role := rbac.Role{ID: 1, Name: "Test"}
	for i, p := range perms {
		role.Permissions = append(role.Permissions, rbac.Permission{ID: int64(i + 1), Name: p})
	}
	principal := &rbac.Principal{UserID: actor, Roles: []rbac.Role{role}}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(rbac.ContextWithPrincipal(req.Context(), principal)))
		})
	})
	r.Route("/users", NewHandler(nil, svc, rbac.Middleware{}).MountRoutes)
	return r, svc
}

func send(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestCreateUserEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, 100, shared.PermCreateUsers, shared.PermReadUsers)

	rr := send(router, http.MethodPost, "/users/", `{"email":"new@example.com","password":"password123","username":"newbie"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var user User
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &user))
	assert.Equal(t, "new@example.com", user.Email)
	assert.True(t, user.IsActive)
	assert.NotContains(t, rr.Body.String(), "password")

	rr = send(router, http.MethodPost, "/users/", `{"email":"not-an-email","password":"x"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	assert.Contains(t, problem.Fields, "email")
	assert.Contains(t, problem.Fields, "password")

	rr = send(router, http.MethodPost, "/users/", `{"email":"new@example.com","password":"password123"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = send(router, http.MethodGet, "/users/count?search=new", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"count":1}`, rr.Body.String())

	rr = send(router, http.MethodGet, "/users/?skip=-1", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUserEndpointsRequirePermissions(t *testing.T) {
	router, svc := newTestRouter(t, 100, shared.PermReadUsers)
	u := mustCreate(t, svc, "victim@example.com")

	rr := send(router, http.MethodGet, "/users/", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = send(router, http.MethodDelete, "/users/1", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = send(router, http.MethodPost, "/users/1/deactivate", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	still, err := svc.Get(context.Background(), u.ID)
	require.NoError(t, err)
	assert.True(t, still.IsActive)
}

func TestSelfActionsReturnBadRequest(t *testing.T) {
	router, svc := newTestRouter(t, 1, shared.PermUpdateUsers, shared.PermDeleteUsers)
	self := mustCreate(t, svc, "me@example.com")
	require.Equal(t, int64(1), self.ID)
	other := mustCreate(t, svc, "other@example.com")

	rr := send(router, http.MethodPost, "/users/1/deactivate", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = send(router, http.MethodDelete, "/users/1", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = send(router, http.MethodPost, "/users/2/deactivate", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = send(router, http.MethodPatch, "/users/2", `{"username":"renamed"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = send(router, http.MethodDelete, "/users/2", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	_, err := svc.Get(context.Background(), other.ID)
	assert.Error(t, err)
}
