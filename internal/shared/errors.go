package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness violation such as a duplicate name.
	ErrConflict = errors.New("already exists")
	// ErrValidation indicates the request payload failed validation.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden indicates the principal lacks the required permission.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthenticated indicates no valid principal could be resolved.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSelfAction rejects destructive actions a principal attempts on its own account.
	ErrSelfAction = fmt.Errorf("%w: action not allowed on your own account", ErrValidation)
)
