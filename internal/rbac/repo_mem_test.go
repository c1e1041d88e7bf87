package rbac

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/edu-platform/edu-platform/internal/shared"
)

// memRepository is an in-memory Repository. Transactions run serially against
// a copy of the state that replaces the original only on success.
type memRepository struct {
	mu    sync.Mutex
	state *memState
}

func newMemRepository() *memRepository {
	return &memRepository{state: newMemState()}
}

func (m *memRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	draft := m.state.clone()
	if err := fn(ctx, draft); err != nil {
		return err
	}
	m.state = draft
	return nil
}

func (m *memRepository) addUser(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = m.state.clone()
	m.state.users[id] = struct{}{}
}

func (m *memRepository) deleteUser(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = m.state.clone()
	delete(m.state.users, id)
	delete(m.state.userRoles, id)
}

func (m *memRepository) read() *memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *memRepository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return m.read().GetPermission(ctx, id)
}

func (m *memRepository) PermissionByKey(ctx context.Context, key string) (Permission, error) {
	return m.read().PermissionByKey(ctx, key)
}

func (m *memRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	return m.read().ListPermissions(ctx)
}

func (m *memRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	return m.read().GetRole(ctx, id)
}

func (m *memRepository) RoleByKey(ctx context.Context, key string) (Role, error) {
	return m.read().RoleByKey(ctx, key)
}

func (m *memRepository) ListRoles(ctx context.Context) ([]Role, error) {
	return m.read().ListRoles(ctx)
}

func (m *memRepository) PermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error) {
	return m.read().PermissionsForRole(ctx, roleID)
}

func (m *memRepository) RolesForUser(ctx context.Context, userID int64) ([]Role, error) {
	return m.read().RolesForUser(ctx, userID)
}

func (m *memRepository) RoleAssignmentCounts(ctx context.Context) (map[int64]int, error) {
	return m.read().RoleAssignmentCounts(ctx)
}

// memState is never mutated once published by WithTx.
type memState struct {
	nextPermID int64
	nextRoleID int64
	perms      map[int64]Permission
	permKeys   map[int64]string
	roles      map[int64]Role
	roleKeys   map[int64]string
	rolePerms  map[int64]map[int64]struct{}
	users      map[int64]struct{}
	userRoles  map[int64]map[int64]struct{}
}

func newMemState() *memState {
	return &memState{
		perms:     map[int64]Permission{},
		permKeys:  map[int64]string{},
		roles:     map[int64]Role{},
		roleKeys:  map[int64]string{},
		rolePerms: map[int64]map[int64]struct{}{},
		users:     map[int64]struct{}{},
		userRoles: map[int64]map[int64]struct{}{},
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	c.nextPermID, c.nextRoleID = s.nextPermID, s.nextRoleID
	for k, v := range s.perms {
		c.perms[k] = v
	}
	for k, v := range s.permKeys {
		c.permKeys[k] = v
	}
	for k, v := range s.roles {
		c.roles[k] = v
	}
	for k, v := range s.roleKeys {
		c.roleKeys[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, set := range s.rolePerms {
		c.rolePerms[k] = copySet(set)
	}
	for k, set := range s.userRoles {
		c.userRoles[k] = copySet(set)
	}
	return c
}

func copySet(in map[int64]struct{}) map[int64]struct{} {
	out := make(map[int64]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

func sortedKeys(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (s *memState) GetPermission(_ context.Context, id int64) (Permission, error) {
	p, ok := s.perms[id]
	if !ok {
		return Permission{}, fmt.Errorf("%w: permission %d", shared.ErrNotFound, id)
	}
	return p, nil
}

func (s *memState) PermissionByKey(_ context.Context, key string) (Permission, error) {
	for id, k := range s.permKeys {
		if k == key {
			return s.perms[id], nil
		}
	}
	return Permission{}, fmt.Errorf("%w: permission %q", shared.ErrNotFound, key)
}

func (s *memState) ListPermissions(_ context.Context) ([]Permission, error) {
	ids := make([]int64, 0, len(s.perms))
	for id := range s.perms {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]Permission, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.perms[id])
	}
	return out, nil
}

func (s *memState) role(id int64) Role {
	role := s.roles[id]
	role.Permissions = []Permission{}
	for _, pid := range sortedKeys(s.rolePerms[id]) {
		role.Permissions = append(role.Permissions, s.perms[pid])
	}
	return role
}

func (s *memState) GetRole(_ context.Context, id int64) (Role, error) {
	if _, ok := s.roles[id]; !ok {
		return Role{}, fmt.Errorf("%w: role %d", shared.ErrNotFound, id)
	}
	return s.role(id), nil
}

func (s *memState) RoleByKey(_ context.Context, key string) (Role, error) {
	for id, k := range s.roleKeys {
		if k == key {
			return s.role(id), nil
		}
	}
	return Role{}, fmt.Errorf("%w: role %q", shared.ErrNotFound, key)
}

func (s *memState) ListRoles(_ context.Context) ([]Role, error) {
	ids := make([]int64, 0, len(s.roles))
	for id := range s.roles {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]Role, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.role(id))
	}
	return out, nil
}

func (s *memState) PermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error) {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	return role.Permissions, nil
}

func (s *memState) RolesForUser(_ context.Context, userID int64) ([]Role, error) {
	if _, ok := s.users[userID]; !ok {
		return nil, fmt.Errorf("%w: user %d", shared.ErrNotFound, userID)
	}
	out := []Role{}
	for _, id := range sortedKeys(s.userRoles[userID]) {
		out = append(out, s.role(id))
	}
	return out, nil
}

func (s *memState) RoleAssignmentCounts(_ context.Context) (map[int64]int, error) {
	counts := map[int64]int{}
	for _, set := range s.userRoles {
		for id := range set {
			counts[id]++
		}
	}
	return counts, nil
}

func (s *memState) LockPermission(ctx context.Context, id int64) error {
	_, err := s.GetPermission(ctx, id)
	return err
}

func (s *memState) LockRole(ctx context.Context, id int64) error {
	_, err := s.GetRole(ctx, id)
	return err
}

func (s *memState) LockUser(_ context.Context, id int64) error {
	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("%w: user %d", shared.ErrNotFound, id)
	}
	return nil
}

func (s *memState) InsertPermission(_ context.Context, name, key string) (Permission, error) {
	for _, k := range s.permKeys {
		if k == key {
			return Permission{}, fmt.Errorf("%w: permission %q", shared.ErrConflict, name)
		}
	}
	s.nextPermID++
	p := Permission{ID: s.nextPermID, Name: name, CreatedAt: time.Now()}
	s.perms[p.ID] = p
	s.permKeys[p.ID] = key
	return p, nil
}

func (s *memState) RenamePermission(_ context.Context, id int64, name, key string) error {
	p := s.perms[id]
	p.Name = name
	s.perms[id] = p
	s.permKeys[id] = key
	return nil
}

func (s *memState) DetachPermission(_ context.Context, permissionID int64) error {
	for _, set := range s.rolePerms {
		delete(set, permissionID)
	}
	return nil
}

func (s *memState) DeletePermission(_ context.Context, id int64) error {
	delete(s.perms, id)
	delete(s.permKeys, id)
	return nil
}

func (s *memState) InsertRole(_ context.Context, name, key string) (int64, error) {
	for _, k := range s.roleKeys {
		if k == key {
			return 0, fmt.Errorf("%w: role %q", shared.ErrConflict, name)
		}
	}
	s.nextRoleID++
	now := time.Now()
	s.roles[s.nextRoleID] = Role{ID: s.nextRoleID, Name: name, CreatedAt: now, UpdatedAt: now}
	s.roleKeys[s.nextRoleID] = key
	s.rolePerms[s.nextRoleID] = map[int64]struct{}{}
	return s.nextRoleID, nil
}

func (s *memState) RenameRole(_ context.Context, id int64, name, key string) error {
	role := s.roles[id]
	role.Name = name
	s.roles[id] = role
	s.roleKeys[id] = key
	return nil
}

func (s *memState) DetachRole(_ context.Context, roleID int64) error {
	for _, set := range s.userRoles {
		delete(set, roleID)
	}
	return nil
}

func (s *memState) DeleteRole(_ context.Context, id int64) error {
	delete(s.roles, id)
	delete(s.roleKeys, id)
	delete(s.rolePerms, id)
	return nil
}

func (s *memState) ResolvePermissions(_ context.Context, ids []int64) ([]int64, error) {
	out := []int64{}
	for _, id := range ids {
		if _, ok := s.perms[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *memState) ResolveRoles(_ context.Context, ids []int64) ([]int64, error) {
	out := []int64{}
	for _, id := range ids {
		if _, ok := s.roles[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *memState) ReplaceRolePermissions(ctx context.Context, roleID int64, ids []int64) error {
	s.rolePerms[roleID] = map[int64]struct{}{}
	return s.AddRolePermissions(ctx, roleID, ids)
}

func (s *memState) AddRolePermissions(_ context.Context, roleID int64, ids []int64) error {
	set, ok := s.rolePerms[roleID]
	if !ok {
		set = map[int64]struct{}{}
		s.rolePerms[roleID] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return nil
}

func (s *memState) RemoveRolePermissions(_ context.Context, roleID int64, ids []int64) error {
	for _, id := range ids {
		delete(s.rolePerms[roleID], id)
	}
	return nil
}

func (s *memState) ReplaceUserRoles(ctx context.Context, userID int64, ids []int64) error {
	s.userRoles[userID] = map[int64]struct{}{}
	return s.AddUserRoles(ctx, userID, ids)
}

func (s *memState) AddUserRoles(_ context.Context, userID int64, ids []int64) error {
	set, ok := s.userRoles[userID]
	if !ok {
		set = map[int64]struct{}{}
		s.userRoles[userID] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return nil
}

func (s *memState) RemoveUserRoles(_ context.Context, userID int64, ids []int64) error {
	for _, id := range ids {
		delete(s.userRoles[userID], id)
	}
	return nil
}
