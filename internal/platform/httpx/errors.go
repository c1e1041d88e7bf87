package httpx

import (
	"errors"
	"net/http"

	"github.com/edu-platform/edu-platform/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Forbidden responses never echo the underlying error so the permission model is not disclosed.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", "you do not have permission to perform this action")
	case errors.Is(err, shared.ErrInvalidCredentials):
		w.Header().Set("WWW-Authenticate", "Bearer")
		Problem(w, http.StatusUnauthorized, "Unauthorized", "incorrect email or password")
	case errors.Is(err, shared.ErrUnauthenticated):
		w.Header().Set("WWW-Authenticate", "Bearer")
		Problem(w, http.StatusUnauthorized, "Unauthorized", "could not validate credentials")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// StatusOf returns the HTTP status RespondError would write for err.
func StatusOf(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrUnauthenticated), errors.Is(err, shared.ErrInvalidCredentials):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
