package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/edu-platform/edu-platform/internal/shared"
)

// Auditor records RBAC mutations. *shared.AuditLogger satisfies it.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates RBAC operations. Every mutation that reads and then
// rewrites an association set runs in a single transaction holding a row lock
// on the owning role or user.
type Service struct {
	repo    Repository
	auditor Auditor
	logger  *slog.Logger
}

// NewService constructs a Service. auditor and logger may be nil.
func NewService(repo Repository, auditor Auditor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, auditor: auditor, logger: logger}
}

// ListPermissions returns all permissions ordered by id.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// GetPermission fetches a permission by id.
func (s *Service) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return s.repo.GetPermission(ctx, id)
}

// CreatePermission inserts a new permission. Names are unique ignoring case.
func (s *Service) CreatePermission(ctx context.Context, name string) (Permission, error) {
	name, key, err := normalizeName("permission", name)
	if err != nil {
		return Permission{}, err
	}
	var created Permission
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := permissionKeyFree(ctx, tx, key, 0); err != nil {
			return err
		}
		created, err = tx.InsertPermission(ctx, name, key)
		return err
	})
	if err != nil {
		return Permission{}, err
	}
	s.audit(ctx, "rbac.permission.create", "permission", created.ID, map[string]any{"name": created.Name})
	return created, nil
}

// EnsurePermission returns the permission matching name, creating it when absent.
func (s *Service) EnsurePermission(ctx context.Context, name string) (Permission, bool, error) {
	name, key, err := normalizeName("permission", name)
	if err != nil {
		return Permission{}, false, err
	}
	existing, err := s.repo.PermissionByKey(ctx, key)
	if err == nil {
		return existing, false, nil
	}
	if !isNotFound(err) {
		return Permission{}, false, err
	}
	created, err := s.CreatePermission(ctx, name)
	if err != nil {
		return Permission{}, false, err
	}
	return created, true, nil
}

// UpdatePermission applies patch to the permission. Roles referencing it keep the reference.
func (s *Service) UpdatePermission(ctx context.Context, id int64, patch PermissionPatch) (Permission, error) {
	var updated Permission
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockPermission(ctx, id); err != nil {
			return err
		}
		current, err := tx.GetPermission(ctx, id)
		if err != nil {
			return err
		}
		updated = patch.apply(current)
		if patch.Name == nil {
			return nil
		}
		name, key, err := normalizeName("permission", updated.Name)
		if err != nil {
			return err
		}
		if err := permissionKeyFree(ctx, tx, key, id); err != nil {
			return err
		}
		if err := tx.RenamePermission(ctx, id, name, key); err != nil {
			return err
		}
		updated.Name = name
		return nil
	})
	if err != nil {
		return Permission{}, err
	}
	s.audit(ctx, "rbac.permission.update", "permission", id, map[string]any{"name": updated.Name})
	return updated, nil
}

// DeletePermission removes the permission and detaches it from every role first.
func (s *Service) DeletePermission(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockPermission(ctx, id); err != nil {
			return err
		}
		if err := tx.DetachPermission(ctx, id); err != nil {
			return err
		}
		return tx.DeletePermission(ctx, id)
	})
	if err != nil {
		return err
	}
	s.audit(ctx, "rbac.permission.delete", "permission", id, nil)
	return nil
}

// ListRoles returns all roles with their permissions.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches a role with its permissions.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// RoleByName looks a role up by name, ignoring case.
func (s *Service) RoleByName(ctx context.Context, name string) (Role, error) {
	_, key, err := normalizeName("role", name)
	if err != nil {
		return Role{}, err
	}
	return s.repo.RoleByKey(ctx, key)
}

// CreateRole inserts a role granting the existing subset of permissionIDs.
func (s *Service) CreateRole(ctx context.Context, name string, permissionIDs []int64) (Role, error) {
	name, key, err := normalizeName("role", name)
	if err != nil {
		return Role{}, err
	}
	var created Role
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := roleKeyFree(ctx, tx, key, 0); err != nil {
			return err
		}
		id, err := tx.InsertRole(ctx, name, key)
		if err != nil {
			return err
		}
		ids, err := tx.ResolvePermissions(ctx, uniqueIDs(permissionIDs))
		if err != nil {
			return err
		}
		if err := tx.AddRolePermissions(ctx, id, ids); err != nil {
			return err
		}
		created, err = tx.GetRole(ctx, id)
		return err
	})
	if err != nil {
		return Role{}, err
	}
	s.audit(ctx, "rbac.role.create", "role", created.ID, map[string]any{"name": created.Name, "permissions": created.PermissionNames()})
	return created, nil
}

// UpdateRole sets both name and permission set.
func (s *Service) UpdateRole(ctx context.Context, id int64, name string, permissionIDs []int64) (Role, error) {
	if permissionIDs == nil {
		permissionIDs = []int64{}
	}
	return s.PatchRole(ctx, id, RolePatch{Name: &name, PermissionIDs: &permissionIDs})
}

// PatchRole applies the non-nil fields of patch.
func (s *Service) PatchRole(ctx context.Context, id int64, patch RolePatch) (Role, error) {
	var updated Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockRole(ctx, id); err != nil {
			return err
		}
		current, err := tx.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			name, key, err := normalizeName("role", patch.apply(current.Name))
			if err != nil {
				return err
			}
			if err := roleKeyFree(ctx, tx, key, id); err != nil {
				return err
			}
			if err := tx.RenameRole(ctx, id, name, key); err != nil {
				return err
			}
		}
		if patch.PermissionIDs != nil {
			ids, err := tx.ResolvePermissions(ctx, uniqueIDs(*patch.PermissionIDs))
			if err != nil {
				return err
			}
			if err := tx.ReplaceRolePermissions(ctx, id, ids); err != nil {
				return err
			}
		}
		updated, err = tx.GetRole(ctx, id)
		return err
	})
	if err != nil {
		return Role{}, err
	}
	s.audit(ctx, "rbac.role.update", "role", id, map[string]any{"name": updated.Name, "permissions": updated.PermissionNames()})
	return updated, nil
}

// DeleteRole detaches the role from every user and removes it.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockRole(ctx, id); err != nil {
			return err
		}
		if err := tx.DetachRole(ctx, id); err != nil {
			return err
		}
		return tx.DeleteRole(ctx, id)
	})
	if err != nil {
		return err
	}
	s.audit(ctx, "rbac.role.delete", "role", id, nil)
	return nil
}

// ReplaceRolePermissions sets the role's permissions to the existing subset of permissionIDs.
func (s *Service) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) (Role, error) {
	return s.mutateRolePermissions(ctx, "rbac.role.permissions.replace", roleID, permissionIDs, TxRepository.ReplaceRolePermissions)
}

// AddRolePermissions grants the existing subset of permissionIDs. Already held ids are left alone.
func (s *Service) AddRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) (Role, error) {
	return s.mutateRolePermissions(ctx, "rbac.role.permissions.add", roleID, permissionIDs, TxRepository.AddRolePermissions)
}

// RemoveRolePermissions revokes permissionIDs from the role. Ids the role does not hold are ignored.
func (s *Service) RemoveRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) (Role, error) {
	return s.mutateRolePermissions(ctx, "rbac.role.permissions.remove", roleID, permissionIDs, TxRepository.RemoveRolePermissions)
}

type setMutation func(tx TxRepository, ctx context.Context, ownerID int64, ids []int64) error

func (s *Service) mutateRolePermissions(ctx context.Context, action string, roleID int64, permissionIDs []int64, mutate setMutation) (Role, error) {
	var updated Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockRole(ctx, roleID); err != nil {
			return err
		}
		ids, err := tx.ResolvePermissions(ctx, uniqueIDs(permissionIDs))
		if err != nil {
			return err
		}
		if err := mutate(tx, ctx, roleID, ids); err != nil {
			return err
		}
		updated, err = tx.GetRole(ctx, roleID)
		return err
	})
	if err != nil {
		return Role{}, err
	}
	s.audit(ctx, action, "role", roleID, map[string]any{"permission_ids": uniqueIDs(permissionIDs), "permissions": updated.PermissionNames()})
	return updated, nil
}

// ListRolePermissionNames returns the names of the role's permissions.
func (s *Service) ListRolePermissionNames(ctx context.Context, roleID int64) ([]string, error) {
	perms, err := s.repo.PermissionsForRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}
	return names, nil
}

// ListUserRoles returns the roles held by the user.
func (s *Service) ListUserRoles(ctx context.Context, userID int64) ([]RoleRef, error) {
	roles, err := s.repo.RolesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return refs(roles), nil
}

// UserRoles returns the user's roles with their permissions.
func (s *Service) UserRoles(ctx context.Context, userID int64) ([]Role, error) {
	return s.repo.RolesForUser(ctx, userID)
}

// AssignRoles replaces the user's roles with the existing subset of roleIDs.
func (s *Service) AssignRoles(ctx context.Context, userID int64, roleIDs []int64) ([]RoleRef, error) {
	return s.mutateUserRoles(ctx, "rbac.user.roles.replace", userID, roleIDs, TxRepository.ReplaceUserRoles)
}

// AddRoles grants the existing subset of roleIDs to the user.
func (s *Service) AddRoles(ctx context.Context, userID int64, roleIDs []int64) ([]RoleRef, error) {
	return s.mutateUserRoles(ctx, "rbac.user.roles.add", userID, roleIDs, TxRepository.AddUserRoles)
}

// RemoveRoles revokes roleIDs from the user.
func (s *Service) RemoveRoles(ctx context.Context, userID int64, roleIDs []int64) ([]RoleRef, error) {
	return s.mutateUserRoles(ctx, "rbac.user.roles.remove", userID, roleIDs, TxRepository.RemoveUserRoles)
}

func (s *Service) mutateUserRoles(ctx context.Context, action string, userID int64, roleIDs []int64, mutate setMutation) ([]RoleRef, error) {
	var roles []Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		ids, err := tx.ResolveRoles(ctx, uniqueIDs(roleIDs))
		if err != nil {
			return err
		}
		if err := mutate(tx, ctx, userID, ids); err != nil {
			return err
		}
		roles, err = tx.RolesForUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := refs(roles)
	names := make([]string, 0, len(out))
	for _, ref := range out {
		names = append(names, ref.Name)
	}
	s.audit(ctx, action, "user", userID, map[string]any{"role_ids": uniqueIDs(roleIDs), "roles": names})
	return out, nil
}

func (s *Service) audit(ctx context.Context, action, entity string, id int64, meta map[string]any) {
	if s.auditor == nil {
		return
	}
	entry := shared.AuditLog{
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	}
	if p := PrincipalFromContext(ctx); p != nil {
		entry.ActorID = p.UserID
	}
	if err := s.auditor.Record(ctx, entry); err != nil {
		s.logger.Warn("rbac audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func permissionKeyFree(ctx context.Context, tx TxRepository, key string, self int64) error {
	existing, err := tx.PermissionByKey(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	if existing.ID != self {
		return fmt.Errorf("%w: permission %q already exists", shared.ErrConflict, existing.Name)
	}
	return nil
}

func roleKeyFree(ctx context.Context, tx TxRepository, key string, self int64) error {
	existing, err := tx.RoleByKey(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	if existing.ID != self {
		return fmt.Errorf("%w: role %q already exists", shared.ErrConflict, existing.Name)
	}
	return nil
}

func refs(roles []Role) []RoleRef {
	out := make([]RoleRef, 0, len(roles))
	for _, role := range roles {
		out = append(out, role.Ref())
	}
	return out
}

func isNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}
