package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeNotFound          = "NOT_FOUND"
	CodeForbidden         = "FORBIDDEN"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeConflict          = "CONFLICT"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeValidation        = "VALIDATION_ERROR"
	CodeStorage           = "STORAGE_ERROR"
	CodeRateLimited       = "RATE_LIMITED"
	CodeUnauthorized      = "UNAUTHORIZED"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	// Err is the underlying cause. It is logged, never sent to clients.
	Err error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFound(what string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, what+" not found", nil)
}

func forbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, CodeForbidden, message, nil)
}

func invalidRequest(message string) *DomainError {
	return domainError(http.StatusBadRequest, CodeInvalidRequest, message, nil)
}

func conflict(message string) *DomainError {
	return domainError(http.StatusConflict, CodeConflict, message, nil)
}

func invalidTransition(from, to string) *DomainError {
	return domainError(http.StatusConflict, CodeInvalidTransition,
		fmt.Sprintf("Cannot change message status from %s to %s", from, to),
		map[string]string{"from": from, "to": to})
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidation, message, details)
}

func rateLimited() *DomainError {
	return domainError(http.StatusTooManyRequests, CodeRateLimited, "Too many messages, slow down", nil)
}

func storageError(err error) *DomainError {
	e := domainError(http.StatusInternalServerError, CodeStorage, "Storage failure", nil)
	e.Err = err
	return e
}

// storeErr classifies an error coming back from the store. Domain errors
// raised inside a transaction pass through untouched; sql.ErrNoRows becomes
// NOT_FOUND for the named entity; everything else is a storage failure.
func storeErr(err error, what string) error {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(what)
	}
	return storageError(err)
}
