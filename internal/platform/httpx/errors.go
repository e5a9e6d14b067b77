// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/brightbooks/brightbooks/internal/shared"
)

// ErrBadRequest marks malformed request payloads.
var ErrBadRequest = errors.New("bad request")

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var (
		bre  *shared.BusinessRuleError
		cons *shared.ConsistencyError
		ext  *shared.ExternalServiceError
		vErr validator.ValidationErrors
	)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &bre):
		Problem(w, http.StatusUnprocessableEntity, "Business Rule Violation", bre.Error())
	case errors.As(err, &vErr), errors.Is(err, ErrBadRequest):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.As(err, &ext):
		Problem(w, http.StatusBadGateway, "Upstream Failure", ext.Error())
	case errors.As(err, &cons):
		Problem(w, http.StatusInternalServerError, "Consistency Violation", cons.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
