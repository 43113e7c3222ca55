// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807. Forbidden
// is matched before transient so a fail-closed denial stays a 403.
func RespondError(w http.ResponseWriter, err error) {
	var verr *shared.ValidationError
	switch {
	case errors.As(err, &verr):
		problem(w, ValidationProblem{
			ProblemDetail: ProblemDetail{Title: "Validation Failed", Status: http.StatusBadRequest, Detail: verr.Error()},
			Errors:        verr.Details,
		})
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, shared.ErrTransient):
		Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// ValidationProblem extends ProblemDetail with per-field messages.
type ValidationProblem struct {
	ProblemDetail
	Errors map[string]string `json:"errors,omitempty"`
}
