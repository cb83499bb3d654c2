package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/ruteri/drive-storage-backend/interfaces"
	"github.com/stretchr/testify/assert"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid argument", interfaces.InvalidArgumentf("bad stream"), http.StatusBadRequest},
		{"invalid driver info", interfaces.ErrInvalidDriverInfo, http.StatusBadRequest},
		{"snapshot unsupported", interfaces.ErrSnapshotUnsupported, http.StatusNotImplemented},
		{"not found", interfaces.NotFoundf("missing"), http.StatusNotFound},
		{"conflict", interfaces.Conflictf("taken"), http.StatusConflict},
		{"cancelled", interfaces.Cancelled(context.Canceled), StatusClientClosedRequest},
		{"deadline", context.DeadlineExceeded, StatusClientClosedRequest},
		{"backend", interfaces.BackendFailure("put", errors.New("disk full")), http.StatusBadGateway},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, StatusForError(tt.err))
		})
	}
}

func TestErrorForStatusKeepsKind(t *testing.T) {
	for _, err := range []error{
		interfaces.InvalidArgumentf("bad stream"),
		interfaces.NotFoundf("missing"),
		interfaces.Conflictf("taken"),
		interfaces.Cancelled(context.Canceled),
		interfaces.BackendFailure("put", errors.New("disk full")),
		interfaces.ErrSnapshotUnsupported,
	} {
		status := StatusForError(err)
		remote := ErrorForStatus(status, err.Error())
		assert.Equal(t, interfaces.KindOf(err), interfaces.KindOf(remote), "status %d", status)
		assert.Equal(t, status, StatusForError(remote))
	}

	// Statuses outside the mapping become backend failures.
	err := ErrorForStatus(http.StatusServiceUnavailable, "draining")
	assert.ErrorIs(t, err, interfaces.ErrBackendFailure)
	assert.Contains(t, err.Error(), "503")
}
