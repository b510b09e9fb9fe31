package utils

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type AppError struct {
	Code    string
	Message string
	Origin  error // Original error that caused this error, if any
}

func (appErr *AppError) Error() string {
	if appErr.Origin != nil {
		return appErr.Message + ": " + appErr.Origin.Error()
	}
	return appErr.Message
}

func (appErr *AppError) Unwrap() error {
	return appErr.Origin
}

// Standard error codes for the application
const (
	// Resource errors
	ErrNotFound     = "NOT_FOUND"
	ErrDuplicate    = "DUPLICATE"
	ErrInvalidInput = "INVALID_INPUT"
	ErrValidation   = "VALIDATION"
	ErrNotLiked     = "NOT_LIKED"

	// Authentication/Authorization errors
	ErrUnauthorized = "UNAUTHORIZED"
	ErrForbidden    = "FORBIDDEN" // User is authenticated but doesn't have permission
	ErrInvalidToken = "INVALID_TOKEN"
	ErrTokenExpired = "TOKEN_EXPIRED"

	// Collaborator errors (media host, mail)
	ErrUpstream = "UPSTREAM_FAILURE"

	ErrDatabase = "database_error"
)

// Error creation helper functions
func NewAppError(code string, message string, originalErr error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Origin:  originalErr,
	}
}

func NewNotFoundError(what string) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("No %s found with that ID", what),
	}
}

// NewValidationError joins the individual messages the way a schema validator reports them.
func NewValidationError(messages ...string) *AppError {
	return &AppError{
		Code:    ErrValidation,
		Message: "Invalid input data. " + strings.Join(messages, ". "),
	}
}

func NewInvalidInputError(message string) *AppError {
	return &AppError{
		Code:    ErrInvalidInput,
		Message: message,
	}
}

func NewDuplicateError(message string, origin error) *AppError {
	return &AppError{
		Code:    ErrDuplicate,
		Message: message,
		Origin:  origin,
	}
}

func NewUnauthorizedError(reason string) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: reason,
	}
}

func NewForbiddenError() *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Message: "You do not have permission to perform this action",
	}
}

func NewUpstreamError(collaborator string, origin error) *AppError {
	return &AppError{
		Code:    ErrUpstream,
		Message: collaborator + " is unavailable, please try again later",
		Origin:  origin,
	}
}

// AsAppError unwraps err until it finds an *AppError.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Helper method to check if an error is of a specific type
func IsErrorCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// Helper method to check if an error is related to authentication
func IsAuthError(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == ErrUnauthorized ||
			appErr.Code == ErrForbidden ||
			appErr.Code == ErrInvalidToken ||
			appErr.Code == ErrTokenExpired
	}
	return false
}

// AppErrorToHTTPStatus converts an AppError code to an HTTP status code.
func AppErrorToHTTPStatus(errorCode string) int {
	switch errorCode {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrInvalidInput, ErrValidation, ErrNotLiked:
		return http.StatusBadRequest
	case ErrUnauthorized, ErrInvalidToken, ErrTokenExpired:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrDuplicate:
		return http.StatusConflict
	case ErrDatabase, ErrUpstream:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
