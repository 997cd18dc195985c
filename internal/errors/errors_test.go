package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected Kind
	}{
		{"nil", nil, KindOK},
		{"canceled", context.Canceled, KindOK},
		{"validation", NewValidationError(ReasonInvalidName, "bad"), KindValidation},
		{"not found", NewFileNotFoundError("/w/a.ts"), KindNotFound},
		{"already exists", NewFileAlreadyExistsError("/w/src"), KindAlreadyExists},
		{"io", NewIOError("write", "/w/a.ts", errors.New("disk")), KindIO},
		{"network", NewNetworkError("fetch", errors.New("timeout")), KindIO},
		{"plain error", errors.New("boom"), KindIO},
		{"boot", NewBootError("boot", errors.New("busy")), KindFatal},
		{"wrapped not found", fmt.Errorf("read: %w", NewFileNotFoundError("/w/x")), KindNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Classify(tc.err))
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "validation", KindValidation.String())
	assert.Equal(t, "already_exists", KindAlreadyExists.String())
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestPlaygroundErrorMessage(t *testing.T) {
	err := NewValidationError(ReasonUnsupportedType, "unsupported file type: a.exe")
	assert.Contains(t, err.Error(), "[ERR_VALIDATION_FAILED]")
	assert.Contains(t, err.Error(), "reason:UnsupportedType")
	assert.Contains(t, err.Error(), "a.exe")

	ioErr := NewIOError("write", "/w/main.ts", errors.New("disk full"))
	assert.Contains(t, ioErr.Error(), "/w/main.ts")
	assert.Contains(t, ioErr.Error(), "disk full")
}

func TestPlaygroundErrorIs(t *testing.T) {
	a := NewFileNotFoundError("/a")
	b := NewFileNotFoundError("/b")
	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, NewFileAlreadyExistsError("/a")))
}

func TestReasonOf(t *testing.T) {
	reason, ok := ReasonOf(fmt.Errorf("create: %w", NewValidationError(ReasonInvalidName, "x")))
	require.True(t, ok)
	assert.Equal(t, ReasonInvalidName, reason)

	_, ok = ReasonOf(NewFileNotFoundError("/x"))
	assert.False(t, ok)
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsNotFound(NewFileNotFoundError("/x")))
	assert.True(t, IsAlreadyExists(NewFileAlreadyExistsError("/x")))
	assert.True(t, IsValidation(NewValidationError(ReasonInvalidName, "x")))
	assert.True(t, IsFatal(NewBootError("x", nil)))
	assert.False(t, IsFatal(NewIOError("read", "/x", nil)))
	assert.True(t, IsRecoverable(NewIOError("read", "/x", nil)))
	assert.False(t, IsRecoverable(errors.New("plain")))
}

func TestWrapIOKeepsDomainErrors(t *testing.T) {
	nf := NewFileNotFoundError("/x")
	assert.Same(t, nf, WrapIO(nf, "read", "/x"))

	wrapped := WrapIO(errors.New("eio"), "read", "/x")
	assert.Equal(t, KindIO, Classify(wrapped))
	assert.Nil(t, WrapIO(nil, "read", "/x"))
}

func TestWrapPreservesPath(t *testing.T) {
	wrapped := Wrap(NewFileNotFoundError("/w/a"), ErrorTypeIO, ErrCodeIO, "sync")
	require.NotNil(t, wrapped)
	assert.Equal(t, "/w/a", wrapped.Path)
	assert.True(t, IsNotFound(wrapped.Cause))
	assert.Nil(t, Wrap(nil, ErrorTypeIO, ErrCodeIO, "x"))
}
