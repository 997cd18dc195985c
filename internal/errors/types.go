// Package errors defines the closed set of domain errors shared by the
// playground packages. Callers classify errors with Classify or the Is*
// helpers instead of matching on messages.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the category of a playground error.
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeAlreadyExists ErrorType = "already_exists"
	ErrorTypeIO            ErrorType = "io"
	ErrorTypeNetwork       ErrorType = "network"
	ErrorTypeConfig        ErrorType = "config"
	ErrorTypeBoot          ErrorType = "boot"
	ErrorTypeInternal      ErrorType = "internal"
)

// ValidationReason explains why user input was rejected.
type ValidationReason string

const (
	ReasonInvalidName     ValidationReason = "InvalidName"
	ReasonUnsupportedType ValidationReason = "UnsupportedType"
	ReasonMalformed       ValidationReason = "Malformed"
)

// Common error codes.
const (
	ErrCodeValidationFailed = "ERR_VALIDATION_FAILED"
	ErrCodeFileNotFound     = "ERR_FILE_NOT_FOUND"
	ErrCodeFileExists       = "ERR_FILE_EXISTS"
	ErrCodeIO               = "ERR_IO"
	ErrCodeFetch            = "ERR_FETCH"
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
	ErrCodeBootFailed       = "ERR_BOOT_FAILED"
	ErrCodeInternalError    = "ERR_INTERNAL"
)

// PlaygroundError is a structured error type with context.
type PlaygroundError struct {
	Type        ErrorType
	Code        string
	Message     string
	Reason      ValidationReason
	Path        string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface.
func (e *PlaygroundError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.Reason != "" {
		parts = append(parts, "reason:"+string(e.Reason))
	}
	if e.Path != "" {
		parts = append(parts, e.Path)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *PlaygroundError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a PlaygroundError of the same type and code.
func (e *PlaygroundError) Is(target error) bool {
	var t *PlaygroundError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *PlaygroundError) WithContext(key string, value interface{}) *PlaygroundError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// NewValidationError rejects user input before any I/O happens.
func NewValidationError(reason ValidationReason, message string) *PlaygroundError {
	return &PlaygroundError{
		Type:        ErrorTypeValidation,
		Code:        ErrCodeValidationFailed,
		Message:     message,
		Reason:      reason,
		Recoverable: true,
	}
}

// NewFileNotFoundError reports a path missing from the sandbox or the tree.
func NewFileNotFoundError(path string) *PlaygroundError {
	return &PlaygroundError{
		Type:        ErrorTypeNotFound,
		Code:        ErrCodeFileNotFound,
		Message:     "file not found",
		Path:        path,
		Recoverable: true,
	}
}

// NewFileAlreadyExistsError reports a create on an existing path.
func NewFileAlreadyExistsError(path string) *PlaygroundError {
	return &PlaygroundError{
		Type:        ErrorTypeAlreadyExists,
		Code:        ErrCodeFileExists,
		Message:     "file already exists",
		Path:        path,
		Recoverable: true,
	}
}

// NewIOError creates a transient I/O error.
func NewIOError(op, path string, cause error) *PlaygroundError {
	return &PlaygroundError{
		Type:        ErrorTypeIO,
		Code:        ErrCodeIO,
		Message:     op,
		Path:        path,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewNetworkError creates an error for a failed fetch.
func NewNetworkError(message string, cause error) *PlaygroundError {
	return &PlaygroundError{
		Type:        ErrorTypeNetwork,
		Code:        ErrCodeFetch,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(message string) *PlaygroundError {
	return &PlaygroundError{
		Type:        ErrorTypeConfig,
		Code:        ErrCodeConfigInvalid,
		Message:     message,
		Recoverable: false,
	}
}

// NewBootError creates a session-ending sandbox boot error.
func NewBootError(message string, cause error) *PlaygroundError {
	return &PlaygroundError{
		Type:        ErrorTypeBoot,
		Code:        ErrCodeBootFailed,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(message string, cause error) *PlaygroundError {
	return &PlaygroundError{
		Type:        ErrorTypeInternal,
		Code:        ErrCodeInternalError,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// Kind is the closed set of outcomes callers switch over.
type Kind int

const (
	KindOK Kind = iota
	KindValidation
	KindNotFound
	KindAlreadyExists
	KindIO
	KindFatal
)

// String returns the string representation of the Kind
func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindIO:
		return "io"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify maps any error onto the closed Kind set. Errors that are not
// PlaygroundErrors are treated as transient I/O, except context
// cancellation which is reported as KindOK since nothing failed.
func Classify(err error) Kind {
	if err == nil {
		return KindOK
	}
	if errors.Is(err, context.Canceled) {
		return KindOK
	}

	var pe *PlaygroundError
	if !errors.As(err, &pe) {
		return KindIO
	}

	switch pe.Type {
	case ErrorTypeValidation:
		return KindValidation
	case ErrorTypeNotFound:
		return KindNotFound
	case ErrorTypeAlreadyExists:
		return KindAlreadyExists
	case ErrorTypeIO, ErrorTypeNetwork:
		return KindIO
	default:
		return KindFatal
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var pe *PlaygroundError
	if errors.As(err, &pe) {
		return pe.Recoverable
	}

	return false
}

// IsValidation checks if an error rejected user input.
func IsValidation(err error) bool {
	return Classify(err) == KindValidation
}

// IsNotFound checks if an error reports a missing path.
func IsNotFound(err error) bool {
	return Classify(err) == KindNotFound
}

// IsAlreadyExists checks if an error reports an existing path.
func IsAlreadyExists(err error) bool {
	return Classify(err) == KindAlreadyExists
}

// IsFatal checks if an error must end the playground session.
func IsFatal(err error) bool {
	var pe *PlaygroundError
	if errors.As(err, &pe) {
		return pe.Type == ErrorTypeBoot
	}

	return false
}

// ReasonOf returns the validation reason carried by err, if any.
func ReasonOf(err error) (ValidationReason, bool) {
	var pe *PlaygroundError
	if errors.As(err, &pe) && pe.Type == ErrorTypeValidation {
		return pe.Reason, true
	}

	return "", false
}
