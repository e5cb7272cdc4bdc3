package app

import (
	"errors"
	"fmt"
	"net/http"

	"shelfmark/api/internal/auth"
	"shelfmark/api/internal/authpw"
	"shelfmark/api/internal/export"
	"shelfmark/api/internal/ordering"
	"shelfmark/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var errUnauthorized = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

// reorderError maps the ordering taxonomy onto the reorder wire contract.
// A missing or misplaced entry inside a batch is reported as 403, the same
// as a foreign owner.
func reorderError(err error) *DomainError {
	var fault *ordering.FaultError
	switch {
	case errors.Is(err, ordering.ErrUnauthorized):
		return errUnauthorized
	case errors.Is(err, ordering.ErrValidation):
		return domainError(http.StatusBadRequest, "INVALID_BATCH", err.Error(), nil)
	case errors.Is(err, ordering.ErrForbidden), errors.Is(err, ordering.ErrNotFound):
		return domainError(http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
	case errors.As(err, &fault):
		return domainError(http.StatusInternalServerError, "PERSISTENCE_FAULT", "Stored order is indeterminate; reload before editing", map[string]any{
			"failedIds": fault.FailedIDs,
			"partial":   fault.Partial,
		})
	default:
		return domainError(http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
	}
}

func accountError(err error) error {
	switch {
	case errors.Is(err, authpw.ErrInvalidInput):
		return validationError(err.Error())
	case errors.Is(err, authpw.ErrEmailTaken):
		return domainError(http.StatusConflict, "EMAIL_TAKEN", "Email already registered", nil)
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	default:
		return err
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, export.ErrUnsupportedFormat) {
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
