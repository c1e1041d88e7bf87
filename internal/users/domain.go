package users

import (
	"time"

	"github.com/edu-platform/edu-platform/internal/shared"
)

// User represents a user account for management.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Username  *string   `json:"username"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUser carries the fields accepted when creating a user.
type NewUser struct {
	Email    string
	Username *string
	Password string
	IsActive bool
}

// UserPatch carries optional user fields; nil means unchanged.
type UserPatch struct {
	Email    *string
	Username *string
	Password *string
}

// ListFilter narrows List and Count. Search matches email or username, case-insensitively.
type ListFilter struct {
	Search string
	shared.Window
}

// userRecord is what the repository persists; PasswordHash is already hashed.
type userRecord struct {
	Email        *string
	Username     *string
	PasswordHash *string
	IsActive     *bool
}
