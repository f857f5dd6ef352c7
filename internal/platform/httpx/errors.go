package httpx

import (
	"errors"
	"net/http"
)

// Error classes shared by packages that answer through RespondError.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrDuplicate  = errors.New("duplicate entry")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
)

// Status returns the HTTP status and problem code for err.
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrDuplicate):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity, "invalid_input"
	}
	return http.StatusInternalServerError, "internal"
}

// RespondError writes err as a problem document. Internal errors never leak
// their message.
func RespondError(w http.ResponseWriter, err error) {
	status, code := Status(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		detail = ""
	}
	TypedProblem(w, status, code, http.StatusText(status), detail)
}
