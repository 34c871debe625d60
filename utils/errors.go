package utils

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an AppError for callers that need to decide
// between retrying, re-authenticating and giving up.
type ErrorKind string

const (
	// KindConnection marks transient network or remote-server failures.
	// Retryable by the caller; no state mutation was committed.
	KindConnection ErrorKind = "connection"
	// KindAuth marks credentials rejected by the remote server or an
	// invalid session/token. Surfaced to the user, never auto-retried.
	KindAuth ErrorKind = "auth"
	// KindProtocol marks a malformed or unparseable remote response.
	KindProtocol ErrorKind = "protocol"
	// KindValidation marks bad caller input, rejected before any
	// network call.
	KindValidation ErrorKind = "validation"
	// KindNotFound marks a missing resource.
	KindNotFound ErrorKind = "not_found"
	// KindInternal marks everything else.
	KindInternal ErrorKind = "internal"
)

// AppError is an application error carrying the HTTP status code the
// controllers should answer with, a failure kind, and optional context.
type AppError struct {
	Code    int
	Kind    ErrorKind
	Message string
	Err     error
	Context map[string]interface{}
}

// NewAppError creates a new AppError.
func NewAppError(code int, kind ErrorKind, message string, err error) *AppError {
	return &AppError{Code: code, Kind: kind, Message: message, Err: err}
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the underlying error to errors.Is/As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithContext attaches a context value to the error.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Common constructors. Connection and protocol failures answer 502
// since the remote mail server, not this service, misbehaved.

func ConnectionError(message string, err error) *AppError {
	return NewAppError(502, KindConnection, message, err)
}

func AuthError(message string, err error) *AppError {
	return NewAppError(401, KindAuth, message, err)
}

func ProtocolError(message string, err error) *AppError {
	return NewAppError(502, KindProtocol, message, err)
}

func ValidationError(message string, err error) *AppError {
	return NewAppError(400, KindValidation, message, err)
}

func NotFoundError(message string, err error) *AppError {
	return NewAppError(404, KindNotFound, message, err)
}

func InternalError(message string, err error) *AppError {
	return NewAppError(500, KindInternal, message, err)
}

// kindOf extracts the ErrorKind from err, or KindInternal.
func kindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsConnectionError reports whether err is a transient remote failure.
func IsConnectionError(err error) bool { return kindOf(err) == KindConnection }

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool { return kindOf(err) == KindAuth }

// IsProtocolError reports whether err is a malformed-response failure.
func IsProtocolError(err error) bool { return kindOf(err) == KindProtocol }

// IsValidationError reports whether err is a bad-input failure.
func IsValidationError(err error) bool { return kindOf(err) == KindValidation }

// IsNotFoundError reports whether err is a missing-resource failure.
func IsNotFoundError(err error) bool { return kindOf(err) == KindNotFound }
