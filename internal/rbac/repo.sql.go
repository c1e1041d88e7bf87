package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edu-platform/edu-platform/internal/platform/db"
	"github.com/edu-platform/edu-platform/internal/shared"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository provides PostgreSQL backed persistence.
type PGRepository struct {
	*queries
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{queries: &queries{db: pool}, pool: pool}
}

// WithTx runs fn inside a READ COMMITTED transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &queries{db: tx})
	})
}

var _ Repository = (*PGRepository)(nil)

type queries struct {
	db dbtx
}

var _ TxRepository = (*queries)(nil)

func notFound(err error, what string, id any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %v", shared.ErrNotFound, what, id)
	}
	return err
}

func conflict(err error, what, name string) error {
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s %q already exists", shared.ErrConflict, what, name)
	}
	return err
}

func (q *queries) GetPermission(ctx context.Context, id int64) (Permission, error) {
	var p Permission
	err := q.db.QueryRow(ctx, `SELECT id, name, created_at FROM permissions WHERE id=$1`, id).
		Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err != nil {
		return Permission{}, notFound(err, "permission", id)
	}
	return p, nil
}

func (q *queries) PermissionByKey(ctx context.Context, key string) (Permission, error) {
	var p Permission
	err := q.db.QueryRow(ctx, `SELECT id, name, created_at FROM permissions WHERE name_key=$1`, key).
		Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err != nil {
		return Permission{}, notFound(err, "permission", key)
	}
	return p, nil
}

func (q *queries) ListPermissions(ctx context.Context) ([]Permission, error) {
	return q.scanPermissions(ctx, `SELECT id, name, created_at FROM permissions ORDER BY id`)
}

func (q *queries) PermissionsForRole(ctx context.Context, roleID int64) ([]Permission, error) {
	if err := q.exists(ctx, `SELECT EXISTS(SELECT 1 FROM roles WHERE id=$1)`, roleID, "role"); err != nil {
		return nil, err
	}
	return q.scanPermissions(ctx, `SELECT p.id, p.name, p.created_at
FROM role_permissions rp
JOIN permissions p ON p.id = rp.permission_id
WHERE rp.role_id=$1
ORDER BY p.id`, roleID)
}

func (q *queries) scanPermissions(ctx context.Context, sql string, args ...any) ([]Permission, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	perms := []Permission{}
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (q *queries) exists(ctx context.Context, sql string, id int64, what string) error {
	var ok bool
	if err := q.db.QueryRow(ctx, sql, id).Scan(&ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s %d", shared.ErrNotFound, what, id)
	}
	return nil
}

func (q *queries) GetRole(ctx context.Context, id int64) (Role, error) {
	roles, err := q.scanRoles(ctx, `SELECT id, name, created_at, updated_at FROM roles WHERE id=$1`, id)
	if err != nil {
		return Role{}, err
	}
	if len(roles) == 0 {
		return Role{}, fmt.Errorf("%w: role %d", shared.ErrNotFound, id)
	}
	return roles[0], nil
}

func (q *queries) RoleByKey(ctx context.Context, key string) (Role, error) {
	roles, err := q.scanRoles(ctx, `SELECT id, name, created_at, updated_at FROM roles WHERE name_key=$1`, key)
	if err != nil {
		return Role{}, err
	}
	if len(roles) == 0 {
		return Role{}, fmt.Errorf("%w: role %q", shared.ErrNotFound, key)
	}
	return roles[0], nil
}

func (q *queries) ListRoles(ctx context.Context) ([]Role, error) {
	return q.scanRoles(ctx, `SELECT id, name, created_at, updated_at FROM roles ORDER BY id`)
}

func (q *queries) RolesForUser(ctx context.Context, userID int64) ([]Role, error) {
	if err := q.exists(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id=$1)`, userID, "user"); err != nil {
		return nil, err
	}
	return q.scanRoles(ctx, `SELECT r.id, r.name, r.created_at, r.updated_at
FROM user_roles ur
JOIN roles r ON r.id = ur.role_id
WHERE ur.user_id=$1
ORDER BY r.id`, userID)
}

// scanRoles loads role rows and attaches their permissions with a single follow-up query.
func (q *queries) scanRoles(ctx context.Context, sql string, args ...any) ([]Role, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	roles := []Role{}
	index := map[int64]int{}
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		role.Permissions = []Permission{}
		index[role.ID] = len(roles)
		roles = append(roles, role)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return roles, nil
	}

	ids := make([]int64, 0, len(roles))
	for _, role := range roles {
		ids = append(ids, role.ID)
	}
	permRows, err := q.db.Query(ctx, `SELECT rp.role_id, p.id, p.name, p.created_at
FROM role_permissions rp
JOIN permissions p ON p.id = rp.permission_id
WHERE rp.role_id = ANY($1)
ORDER BY rp.role_id, p.id`, ids)
	if err != nil {
		return nil, err
	}
	defer permRows.Close()
	for permRows.Next() {
		var roleID int64
		var p Permission
		if err := permRows.Scan(&roleID, &p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		i := index[roleID]
		roles[i].Permissions = append(roles[i].Permissions, p)
	}
	return roles, permRows.Err()
}

func (q *queries) RoleAssignmentCounts(ctx context.Context) (map[int64]int, error) {
	rows, err := q.db.Query(ctx, `SELECT role_id, COUNT(*) FROM user_roles GROUP BY role_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[int64]int{}
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

func (q *queries) lock(ctx context.Context, sql string, id int64, what string) error {
	var got int64
	if err := q.db.QueryRow(ctx, sql, id).Scan(&got); err != nil {
		return notFound(err, what, id)
	}
	return nil
}

func (q *queries) LockPermission(ctx context.Context, id int64) error {
	return q.lock(ctx, `SELECT id FROM permissions WHERE id=$1 FOR UPDATE`, id, "permission")
}

func (q *queries) LockRole(ctx context.Context, id int64) error {
	return q.lock(ctx, `SELECT id FROM roles WHERE id=$1 FOR UPDATE`, id, "role")
}

func (q *queries) LockUser(ctx context.Context, id int64) error {
	return q.lock(ctx, `SELECT id FROM users WHERE id=$1 FOR UPDATE`, id, "user")
}

func (q *queries) InsertPermission(ctx context.Context, name, key string) (Permission, error) {
	p := Permission{Name: name}
	err := q.db.QueryRow(ctx, `INSERT INTO permissions (name, name_key) VALUES ($1, $2) RETURNING id, created_at`, name, key).
		Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return Permission{}, conflict(err, "permission", name)
	}
	return p, nil
}

func (q *queries) RenamePermission(ctx context.Context, id int64, name, key string) error {
	tag, err := q.db.Exec(ctx, `UPDATE permissions SET name=$2, name_key=$3 WHERE id=$1`, id, name, key)
	if err != nil {
		return conflict(err, "permission", name)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: permission %d", shared.ErrNotFound, id)
	}
	return nil
}

func (q *queries) DetachPermission(ctx context.Context, permissionID int64) error {
	_, err := q.db.Exec(ctx, `DELETE FROM role_permissions WHERE permission_id=$1`, permissionID)
	return err
}

func (q *queries) DeletePermission(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM permissions WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: permission %d", shared.ErrNotFound, id)
	}
	return nil
}

func (q *queries) InsertRole(ctx context.Context, name, key string) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `INSERT INTO roles (name, name_key) VALUES ($1, $2) RETURNING id`, name, key).Scan(&id)
	if err != nil {
		return 0, conflict(err, "role", name)
	}
	return id, nil
}

func (q *queries) RenameRole(ctx context.Context, id int64, name, key string) error {
	tag, err := q.db.Exec(ctx, `UPDATE roles SET name=$2, name_key=$3, updated_at=NOW() WHERE id=$1`, id, name, key)
	if err != nil {
		return conflict(err, "role", name)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: role %d", shared.ErrNotFound, id)
	}
	return nil
}

func (q *queries) DetachRole(ctx context.Context, roleID int64) error {
	_, err := q.db.Exec(ctx, `DELETE FROM user_roles WHERE role_id=$1`, roleID)
	return err
}

func (q *queries) DeleteRole(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM roles WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: role %d", shared.ErrNotFound, id)
	}
	return nil
}

func (q *queries) resolve(ctx context.Context, sql string, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return []int64{}, nil
	}
	rows, err := q.db.Query(ctx, sql, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	found := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found = append(found, id)
	}
	return found, rows.Err()
}

func (q *queries) ResolvePermissions(ctx context.Context, ids []int64) ([]int64, error) {
	return q.resolve(ctx, `SELECT id FROM permissions WHERE id = ANY($1) ORDER BY id FOR SHARE`, ids)
}

func (q *queries) ResolveRoles(ctx context.Context, ids []int64) ([]int64, error) {
	return q.resolve(ctx, `SELECT id FROM roles WHERE id = ANY($1) ORDER BY id FOR SHARE`, ids)
}

func (q *queries) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id=$1`, roleID); err != nil {
		return err
	}
	return q.AddRolePermissions(ctx, roleID, permissionIDs)
}

func (q *queries) AddRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if len(permissionIDs) == 0 {
		return q.touchRole(ctx, roleID)
	}
	_, err := q.db.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id)
SELECT $1, unnest($2::bigint[])
ON CONFLICT DO NOTHING`, roleID, permissionIDs)
	if err != nil {
		return err
	}
	return q.touchRole(ctx, roleID)
}

func (q *queries) RemoveRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if len(permissionIDs) > 0 {
		_, err := q.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id=$1 AND permission_id = ANY($2)`, roleID, permissionIDs)
		if err != nil {
			return err
		}
	}
	return q.touchRole(ctx, roleID)
}

func (q *queries) touchRole(ctx context.Context, roleID int64) error {
	_, err := q.db.Exec(ctx, `UPDATE roles SET updated_at=NOW() WHERE id=$1`, roleID)
	return err
}

func (q *queries) ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id=$1`, userID); err != nil {
		return err
	}
	return q.AddUserRoles(ctx, userID, roleIDs)
}

func (q *queries) AddUserRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	if len(roleIDs) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx, `INSERT INTO user_roles (user_id, role_id)
SELECT $1, unnest($2::bigint[])
ON CONFLICT DO NOTHING`, userID, roleIDs)
	return err
}

func (q *queries) RemoveUserRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	if len(roleIDs) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id=$1 AND role_id = ANY($2)`, userID, roleIDs)
	return err
}
