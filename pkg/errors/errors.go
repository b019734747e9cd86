package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so cloned sentinels still compare equal.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
	ErrInvalidFormat      = New("INVALID_FORMAT", http.StatusBadRequest, "file format not allowed")
	ErrMissingParent      = New("MISSING_PARENT", http.StatusNotFound, "question set not found")
	ErrAlreadyDeleted     = New("ALREADY_DELETED", http.StatusConflict, "file already in recycle bin")
	ErrNotDeleted         = New("NOT_DELETED", http.StatusBadRequest, "file is not in recycle bin")
	ErrNotInRecycleBin    = New("NOT_IN_RECYCLE_BIN", http.StatusBadRequest, "file must be in recycle bin before permanent deletion")
	ErrConversionFailed   = New("CONVERSION_FAILED", http.StatusUnprocessableEntity, "no file could be converted")
	ErrStorage            = New("STORAGE_FAILURE", http.StatusInternalServerError, "storage operation failed")
	ErrTransactionFailure = New("TRANSACTION_FAILURE", http.StatusInternalServerError, "transaction failed")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WrapAs wraps cause with the code and status of a sentinel.
func WrapAs(sentinel *Error, cause error, message string) *Error {
	if message == "" {
		message = sentinel.Message
	}
	return Wrap(cause, sentinel.Code, sentinel.Status, message)
}
