package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/auth"
	"github.com/brucewedding/SRHRemoteMonitorTools-sub000/internal/registry"
)

// Envelope error codes.
const (
	CodeBadRequest       = "BAD_REQUEST"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeInternal         = "INTERNAL"
)

// APIError is an error with the status and code it is reported under.
type APIError struct {
	Code       string
	Message    string
	Details    any
	StatusCode int
}

// Transport-level sentinels for handlers that have no richer cause.
var (
	ErrBadRequest        = errors.New(CodeBadRequest)
	ErrUnauthorizedError = errors.New(CodeUnauthorized)
	ErrForbiddenError    = errors.New(CodeForbidden)
	ErrNotFoundError     = errors.New(CodeNotFound)
)

// NewAPIError creates a new API error.
func NewAPIError(code string, message string, statusCode int, details any) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		Details:    details,
		StatusCode: statusCode,
	}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ToAPIError maps auth, registry and transport errors onto the envelope.
// Anything unrecognised is reported as INTERNAL without leaking its text.
func ToAPIError(err error) *APIError {
	var apiErr *APIError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrEmptyToken),
		errors.Is(err, auth.ErrInvalidToken), errors.Is(err, ErrUnauthorizedError):
		return NewAPIError(CodeUnauthorized, "Authentication required", http.StatusUnauthorized, nil)
	case errors.Is(err, ErrForbiddenError):
		return NewAPIError(CodeForbidden, "Token role does not allow this connection", http.StatusForbidden, nil)
	case errors.Is(err, ErrNotFoundError), errors.Is(err, registry.ErrUnknownConn):
		return NewAPIError(CodeNotFound, "Resource not found", http.StatusNotFound, nil)
	case errors.Is(err, ErrBadRequest), errors.Is(err, registry.ErrEmptySystemID), errors.Is(err, registry.ErrUnknownRole):
		return NewAPIError(CodeBadRequest, err.Error(), http.StatusBadRequest, nil)
	default:
		return NewAPIError(CodeInternal, "Internal server error", http.StatusInternalServerError, nil)
	}
}

// WriteAPIError writes err using the unified envelope.
func WriteAPIError(w http.ResponseWriter, err error) {
	apiErr := ToAPIError(err)
	if apiErr == nil {
		return
	}
	WriteError(w, apiErr.StatusCode, apiErr.Code, apiErr.Message, apiErr.Details)
}
