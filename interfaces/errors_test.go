package interfaces

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackendError struct{ code string }

func (e *fakeBackendError) Error() string { return "backend said " + e.code }

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorKind
	}{
		{name: "nil", err: nil, expected: KindUnknown},
		{name: "plain", err: errors.New("boom"), expected: KindUnknown},
		{name: "invalid argument", err: InvalidArgumentf("tenant id is %s", "zero"), expected: KindInvalidArgument},
		{name: "invalid driver info", err: fmt.Errorf("wrap: %w", ErrInvalidDriverInfo), expected: KindInvalidArgument},
		{name: "snapshot unsupported", err: ErrSnapshotUnsupported, expected: KindInvalidArgument},
		{name: "not found", err: NotFoundf("stream %s", "s1"), expected: KindNotFound},
		{name: "conflict", err: Conflictf("controller %d", 1), expected: KindConflict},
		{name: "cancelled", err: Cancelled(context.Canceled), expected: KindCancelled},
		{name: "raw deadline", err: context.DeadlineExceeded, expected: KindCancelled},
		{name: "backend", err: BackendFailure("upload", errors.New("disk full")), expected: KindBackendFailure},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KindOf(tt.err))
		})
	}
}

func TestBackendFailure(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		assert.NoError(t, BackendFailure("op", nil))
	})

	t.Run("context errors become cancelled", func(t *testing.T) {
		err := BackendFailure("download", fmt.Errorf("read: %w", context.Canceled))
		assert.ErrorIs(t, err, ErrCancelled)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("classified errors pass through", func(t *testing.T) {
		notFound := NotFoundf("missing")
		assert.Same(t, notFound, BackendFailure("download", notFound))
	})

	t.Run("backend types do not leak", func(t *testing.T) {
		err := BackendFailure("upload", &fakeBackendError{code: "SlowDown"})
		require.ErrorIs(t, err, ErrBackendFailure)
		var backendErr *fakeBackendError
		assert.False(t, errors.As(err, &backendErr))
		assert.Contains(t, err.Error(), "SlowDown")
		assert.Contains(t, err.Error(), "upload")
	})
}

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "not_found", KindNotFound.String())
	assert.Equal(t, "backend_failure", KindBackendFailure.String())
	assert.Equal(t, "unknown", ErrorKind(99).String())
}
