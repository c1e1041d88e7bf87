package rbac

import "context"

// Reader exposes the read side of the RBAC store, including the association
// lookups (PermissionsForRole, RolesForUser) backed by join-table queries.
type Reader interface {
	GetPermission(ctx context.Context, id int64) (Permission, error)
	PermissionByKey(ctx context.Context, key string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)

	GetRole(ctx context.Context, id int64) (Role, error)
	RoleByKey(ctx context.Context, key string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)

	// PermissionsForRole returns ErrNotFound when the role does not exist.
	PermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error)
	// RolesForUser returns the user's roles with their permissions, or ErrNotFound when the user does not exist.
	RolesForUser(ctx context.Context, userID int64) ([]Role, error)
	// RoleAssignmentCounts returns the number of users holding each role id.
	RoleAssignmentCounts(ctx context.Context) (map[int64]int, error)
}

// TxRepository exposes transactional operations. Lock* methods take a row lock
// on the owning row and return ErrNotFound when it is missing; Resolve* methods
// drop unknown ids and share-lock the rows they return.
type TxRepository interface {
	Reader

	LockPermission(ctx context.Context, id int64) error
	LockRole(ctx context.Context, id int64) error
	LockUser(ctx context.Context, id int64) error

	InsertPermission(ctx context.Context, name, key string) (Permission, error)
	RenamePermission(ctx context.Context, id int64, name, key string) error
	DetachPermission(ctx context.Context, permissionID int64) error
	DeletePermission(ctx context.Context, id int64) error

	InsertRole(ctx context.Context, name, key string) (int64, error)
	RenameRole(ctx context.Context, id int64, name, key string) error
	DetachRole(ctx context.Context, roleID int64) error
	DeleteRole(ctx context.Context, id int64) error

	ResolvePermissions(ctx context.Context, ids []int64) ([]int64, error)
	ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	AddRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	RemoveRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error

	ResolveRoles(ctx context.Context, ids []int64) ([]int64, error)
	ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64) error
	AddUserRoles(ctx context.Context, userID int64, roleIDs []int64) error
	RemoveUserRoles(ctx context.Context, userID int64, roleIDs []int64) error
}

// Repository is the persistence port consumed by Service.
type Repository interface {
	Reader
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}
