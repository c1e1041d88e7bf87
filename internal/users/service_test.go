package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/edu-platform/edu-platform/internal/shared"
)

type mockRepository struct {
	mu     sync.Mutex
	users  map[int64]User
	hashes map[int64]string
	nextID int64

	lastFilter ListFilter
}

func newMockRepository() *mockRepository {
	return &mockRepository{users: map[int64]User{}, hashes: map[int64]string{}}
}

func (m *mockRepository) matches(u User, search string) bool {
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return true
	}
	if strings.Contains(strings.ToLower(u.Email), search) {
		return true
	}
	return u.Username != nil && strings.Contains(strings.ToLower(*u.Username), search)
}

func (m *mockRepository) List(_ context.Context, filter ListFilter) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = filter
	out := []User{}
	for id := int64(1); id <= m.nextID; id++ {
		u, ok := m.users[id]
		if ok && m.matches(u, filter.Search) {
			out = append(out, u)
		}
	}
	if filter.Skip >= len(out) {
		return []User{}, nil
	}
	out = out[filter.Skip:]
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *mockRepository) Count(_ context.Context, search string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, u := range m.users {
		if m.matches(u, search) {
			n++
		}
	}
	return n, nil
}

func (m *mockRepository) Get(_ context.Context, id int64) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, fmt.Errorf("%w: user %d", shared.ErrNotFound, id)
	}
	return u, nil
}

func (m *mockRepository) GetByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, fmt.Errorf("%w: user %s", shared.ErrNotFound, email)
}

func (m *mockRepository) Insert(_ context.Context, rec userRecord) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == *rec.Email {
			return User{}, fmt.Errorf("%w: email", shared.ErrConflict)
		}
	}
	m.nextID++
	now := time.Now()
	u := User{ID: m.nextID, Email: *rec.Email, Username: rec.Username, IsActive: *rec.IsActive, CreatedAt: now, UpdatedAt: now}
	m.users[u.ID] = u
	m.hashes[u.ID] = *rec.PasswordHash
	return u, nil
}

func (m *mockRepository) Update(_ context.Context, id int64, rec userRecord) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, fmt.Errorf("%w: user %d", shared.ErrNotFound, id)
	}
	if rec.Email != nil {
		for _, other := range m.users {
			if other.ID != id && other.Email == *rec.Email {
				return User{}, fmt.Errorf("%w: email", shared.ErrConflict)
			}
		}
		u.Email = *rec.Email
	}
	if rec.Username != nil {
		u.Username = rec.Username
	}
	if rec.PasswordHash != nil {
		m.hashes[id] = *rec.PasswordHash
	}
	if rec.IsActive != nil {
		u.IsActive = *rec.IsActive
	}
	u.UpdatedAt = time.Now()
	m.users[id] = u
	return u, nil
}

func (m *mockRepository) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return fmt.Errorf("%w: user %d", shared.ErrNotFound, id)
	}
	delete(m.users, id)
	return nil
}

func newTestService() (*Service, *mockRepository) {
	repo := newMockRepository()
	return NewService(repo, bcrypt.MinCost, nil, nil), repo
}

func mustCreate(t *testing.T, svc *Service, email string) User {
	t.Helper()
	u, err := svc.Create(context.Background(), 0, NewUser{Email: email, Password: "password123", IsActive: true})
	require.NoError(t, err)
	return u
}

func TestCreateHashesPasswordAndNormalisesEmail(t *testing.T) {
	svc, repo := newTestService()

	u, err := svc.Create(context.Background(), 1, NewUser{Email: "  Alice@Example.COM ", Password: "password123", IsActive: true})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.True(t, u.IsActive)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.hashes[u.ID]), []byte("password123")))

	_, err = svc.Create(context.Background(), 1, NewUser{Email: "alice@example.com", Password: "password123"})
	assert.True(t, errors.Is(err, shared.ErrConflict))
}

func TestCreateRejectsShortPassword(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Create(context.Background(), 1, NewUser{Email: "a@b.c", Password: "short"})
	assert.True(t, errors.Is(err, shared.ErrValidation))
}

func TestUpdateAppliesOnlyProvidedFields(t *testing.T) {
	svc, repo := newTestService()
	u := mustCreate(t, svc, "bob@example.com")
	oldHash := repo.hashes[u.ID]

	name := " bobby "
	updated, err := svc.Update(context.Background(), 1, u.ID, UserPatch{Username: &name})
	require.NoError(t, err)
	require.NotNil(t, updated.Username)
	assert.Equal(t, "bobby", *updated.Username)
	assert.Equal(t, "bob@example.com", updated.Email)
	assert.Equal(t, oldHash, repo.hashes[u.ID])

	pw := "newpassword"
	_, err = svc.Update(context.Background(), 1, u.ID, UserPatch{Password: &pw})
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.hashes[u.ID]), []byte(pw)))

	_, err = svc.Update(context.Background(), 1, 99, UserPatch{Username: &name})
	assert.True(t, errors.Is(err, shared.ErrNotFound))
}

func TestSelfDeactivateAndSelfDeleteAreRefused(t *testing.T) {
	svc, _ := newTestService()
	u := mustCreate(t, svc, "self@example.com")

	_, err := svc.Deactivate(context.Background(), u.ID, u.ID)
	assert.ErrorIs(t, err, shared.ErrSelfAction)
	assert.ErrorIs(t, err, shared.ErrValidation)

	err = svc.Delete(context.Background(), u.ID, u.ID)
	assert.ErrorIs(t, err, shared.ErrSelfAction)

	still, err := svc.Get(context.Background(), u.ID)
	require.NoError(t, err)
	assert.True(t, still.IsActive)
}

func TestActivateDeactivateOtherUser(t *testing.T) {
	svc, _ := newTestService()
	admin := mustCreate(t, svc, "admin@example.com")
	u := mustCreate(t, svc, "student@example.com")

	off, err := svc.Deactivate(context.Background(), admin.ID, u.ID)
	require.NoError(t, err)
	assert.False(t, off.IsActive)

	on, err := svc.Activate(context.Background(), admin.ID, u.ID)
	require.NoError(t, err)
	assert.True(t, on.IsActive)

	require.NoError(t, svc.Delete(context.Background(), admin.ID, u.ID))
	_, err = svc.Get(context.Background(), u.ID)
	assert.True(t, errors.Is(err, shared.ErrNotFound))
}

func TestListClampsWindowAndSearches(t *testing.T) {
	svc, repo := newTestService()
	mustCreate(t, svc, "ann@example.com")
	mustCreate(t, svc, "ben@example.com")
	mustCreate(t, svc, "anna@school.org")

	users, err := svc.List(context.Background(), ListFilter{Search: "ann", Window: shared.Window{Limit: 10_000}})
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.Equal(t, 500, repo.lastFilter.Limit)

	users, err = svc.List(context.Background(), ListFilter{Window: shared.Window{Skip: 1, Limit: 1}})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "ben@example.com", users[0].Email)

	n, err := svc.Count(context.Background(), "example")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
