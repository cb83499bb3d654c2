package interfaces

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned when operation parameters fail validation:
	// zero identifiers, a missing data stream, a blank version on Snapshot.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned when an operation addresses content that does not
	// exist, or when a controller or tenant mapping cannot be resolved.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when registering a controller id that is already loaded.
	ErrConflict = errors.New("conflict")

	// ErrCancelled is returned when the operation context is cancelled or its
	// deadline expires before the operation completes.
	ErrCancelled = errors.New("operation cancelled")

	// ErrBackendFailure is returned when the underlying storage medium fails.
	// Callers may retry at their discretion.
	ErrBackendFailure = errors.New("storage backend failure")

	// ErrInvalidDriverInfo is returned when a driver-info string is malformed
	// or names an unsupported backend.
	ErrInvalidDriverInfo = fmt.Errorf("%w: invalid driver info", ErrInvalidArgument)

	// ErrSnapshotUnsupported is returned when Snapshot is requested from a
	// driver that does not implement VersioningStorageDriver.
	ErrSnapshotUnsupported = fmt.Errorf("%w: driver does not support versioning", ErrInvalidArgument)
)

// ErrorKind classifies an error returned by a driver or the controller registry.
type ErrorKind int

const (
	// KindUnknown is reported for nil errors and errors outside the taxonomy.
	KindUnknown ErrorKind = iota
	KindInvalidArgument
	KindNotFound
	KindConflict
	KindCancelled
	KindBackendFailure
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindCancelled:
		return "cancelled"
	case KindBackendFailure:
		return "backend_failure"
	default:
		return "unknown"
	}
}

// KindOf reports the taxonomy kind of err.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, ErrBackendFailure):
		return KindBackendFailure
	default:
		return KindUnknown
	}
}

// InvalidArgumentf formats an ErrInvalidArgument error.
func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// NotFoundf formats an ErrNotFound error.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflictf formats an ErrConflict error.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Cancelled wraps a context error as ErrCancelled, keeping the context cause.
func Cancelled(err error) error {
	if err == nil {
		return ErrCancelled
	}
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}

// BackendFailure translates a backend fault for operation op into the taxonomy.
// Context errors become Cancelled and errors that already carry a kind pass
// through unchanged. Everything else is reported as ErrBackendFailure with the
// backend error flattened to text so backend-specific types do not leak.
func BackendFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled(err)
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrBackendFailure, op, err)
}
