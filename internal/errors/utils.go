package errors

import (
	"errors"
)

// Wrap wraps an error with additional context, creating a PlaygroundError if the input is not already one
func Wrap(err error, errType ErrorType, code, message string) *PlaygroundError {
	if err == nil {
		return nil
	}

	// If it's already a PlaygroundError, preserve its properties but update the message
	var pe *PlaygroundError
	if errors.As(err, &pe) {
		return &PlaygroundError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Reason:      pe.Reason,
			Path:        pe.Path,
			Cause:       pe,
			Context:     pe.Context,
			Recoverable: pe.Recoverable,
		}
	}

	return &PlaygroundError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType != ErrorTypeBoot && errType != ErrorTypeInternal && errType != ErrorTypeConfig,
	}
}

// WrapIO wraps an error as a transient I/O error. Domain errors pass through
// untouched so callers can still match not-found and already-exists.
func WrapIO(err error, op, path string) error {
	if err == nil {
		return nil
	}

	var pe *PlaygroundError
	if errors.As(err, &pe) {
		return err
	}

	return NewIOError(op, path, err)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}

// Join returns an error that wraps the given errors.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
