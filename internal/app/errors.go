package app

import (
	"errors"
	"fmt"
	"net/http"

	"fachschaft/api/internal/auth"
	"fachschaft/api/internal/calendar"
	"fachschaft/api/internal/export"
	"fachschaft/api/internal/files"
	"fachschaft/api/internal/gitrepo"
	"fachschaft/api/internal/store"
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

func errNotFound(what string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
}

func errUnauthorized() *DomainError {
	return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
}

func errValidation(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}

func errUnavailable(what string) *DomainError {
	return domainError(http.StatusServiceUnavailable, "UNAVAILABLE", what+" not configured", nil)
}

// mapError turns any error into the public envelope. Store and upstream
// details stay in the server log.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	switch {
	case errors.As(err, &domainErr):
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	case errors.Is(err, store.ErrNotFound), errors.Is(err, files.ErrNotFound), errors.Is(err, calendar.ErrUnknownCalendar),
		errors.Is(err, gitrepo.ErrNoHistory), errors.Is(err, gitrepo.ErrUnknownRevision):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case store.IsUniqueViolation(err):
		return http.StatusConflict, "CONFLICT", "Already exists", nil
	case store.IsForeignKeyViolation(err):
		return http.StatusBadRequest, "VALIDATION_ERROR", "Referenced entity does not exist", nil
	case store.IsCheckViolation(err):
		return http.StatusBadRequest, "VALIDATION_ERROR", "Constraint violated", nil
	case errors.Is(err, export.ErrInvalidTemplate):
		return http.StatusBadRequest, "INVALID_TEMPLATE", err.Error(), nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "VALIDATION_ERROR", "Unsupported format", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "UNAVAILABLE", "PDF export not available", nil
	case errors.Is(err, calendar.ErrUpstream), errors.Is(err, auth.ErrUserInfo):
		return http.StatusBadGateway, "UPSTREAM_ERROR", "Upstream service failed", nil
	default:
		return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
	}
}
