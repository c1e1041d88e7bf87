package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edu-platform/edu-platform/internal/platform/db"
	"github.com/edu-platform/edu-platform/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	List(ctx context.Context, filter ListFilter) ([]User, error)
	Count(ctx context.Context, search string) (int, error)
	Get(ctx context.Context, id int64) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	Insert(ctx context.Context, rec userRecord) (User, error)
	Update(ctx context.Context, id int64, rec userRecord) (User, error)
	Delete(ctx context.Context, id int64) error
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ RepositoryPort = (*Repository)(nil)

const userColumns = `id, email, username, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.Username, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func searchPattern(search string) string {
	search = strings.TrimSpace(search)
	if search == "" {
		return ""
	}
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(search) + "%"
}

// List returns users ordered by id.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users
WHERE $1 = '' OR email ILIKE $1 OR COALESCE(username, '') ILIKE $1
ORDER BY id
OFFSET $2 LIMIT $3`, searchPattern(filter.Search), filter.Skip, filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := []User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// Count returns the number of users matching search.
func (r *Repository) Count(ctx context.Context, search string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users
WHERE $1 = '' OR email ILIKE $1 OR COALESCE(username, '') ILIKE $1`, searchPattern(search)).Scan(&n)
	return n, err
}

// Get fetches a user by id.
func (r *Repository) Get(ctx context.Context, id int64) (User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
	if err != nil {
		return User{}, mapNotFound(err, id)
	}
	return user, nil
}

// GetByEmail fetches a user by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email))
	if err != nil {
		return User{}, mapNotFound(err, email)
	}
	return user, nil
}

// Insert creates a user row.
func (r *Repository) Insert(ctx context.Context, rec userRecord) (User, error) {
	active := rec.IsActive != nil && *rec.IsActive
	user, err := scanUser(r.pool.QueryRow(ctx, `INSERT INTO users (email, username, password_hash, is_active)
VALUES ($1, $2, $3, $4)
RETURNING `+userColumns, rec.Email, rec.Username, rec.PasswordHash, active))
	if err != nil {
		return User{}, mapConflict(err, rec.Email)
	}
	return user, nil
}

// Update applies the non-nil fields of rec.
func (r *Repository) Update(ctx context.Context, id int64, rec userRecord) (User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, `UPDATE users SET
    email = COALESCE($2, email),
    username = COALESCE($3, username),
    password_hash = COALESCE($4, password_hash),
    is_active = COALESCE($5, is_active),
    updated_at = NOW()
WHERE id=$1
RETURNING `+userColumns, id, rec.Email, rec.Username, rec.PasswordHash, rec.IsActive))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, mapNotFound(err, id)
		}
		return User{}, mapConflict(err, rec.Email)
	}
	return user, nil
}

// Delete removes a user; role assignments and sessions cascade.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %d", shared.ErrNotFound, id)
	}
	return nil
}

func mapNotFound(err error, key any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: user %v", shared.ErrNotFound, key)
	}
	return err
}

func mapConflict(err error, email *string) error {
	if db.IsUniqueViolation(err) {
		if email != nil {
			return fmt.Errorf("%w: email %q is already registered", shared.ErrConflict, *email)
		}
		return fmt.Errorf("%w: email is already registered", shared.ErrConflict)
	}
	return err
}
