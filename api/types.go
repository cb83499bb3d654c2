package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ruteri/drive-storage-backend/interfaces"
)

// Header constants used in drive gateway requests and responses.
const (
	// FileNameHeader carries the query-escaped file name stored with a stream.
	FileNameHeader = "X-Drive-File-Name"

	// AlternateIDHeader carries the caller-defined alternate identifier.
	AlternateIDHeader = "X-Drive-Alternate-Id"

	// DriverVersionHeader reports the version of the driver serving the request.
	DriverVersionHeader = "X-Drive-Driver-Version"

	// ErrorKindHeader is set on every error response. A HEAD response of 404
	// without it means the stream does not exist.
	ErrorKindHeader = "X-Drive-Error-Kind"

	// VersionParam is the query parameter addressing a file version.
	VersionParam = "version"

	// VolumeIDParam names the legacy volume of an upgrade request.
	VolumeIDParam = "volume_id"

	// DefaultDriveID addresses the tenant's default drive in gateway URLs.
	DefaultDriveID = "default"
)

// StatusClientClosedRequest is reported when the request was cancelled before
// the driver finished.
const StatusClientClosedRequest = 499

// ErrorResponse is the JSON body of every failed gateway request.
type ErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ListStreamsResponse is returned when listing the streams of a file.
type ListStreamsResponse struct {
	Streams []string `json:"streams"`
}

// DriveInfoResponse describes the driver behind a drive.
type DriveInfoResponse struct {
	DriveID       string `json:"drive_id"`
	ControllerID  string `json:"controller_id"`
	DriverVersion string `json:"driver_version"`
	Versioning    bool   `json:"versioning"`
}

// ControllerInfo describes a loaded drive controller.
type ControllerInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StatusForError maps an error kind to the HTTP status the gateway reports.
func StatusForError(err error) int {
	if errors.Is(err, interfaces.ErrSnapshotUnsupported) {
		return http.StatusNotImplemented
	}
	switch interfaces.KindOf(err) {
	case interfaces.KindInvalidArgument:
		return http.StatusBadRequest
	case interfaces.KindNotFound:
		return http.StatusNotFound
	case interfaces.KindConflict:
		return http.StatusConflict
	case interfaces.KindCancelled:
		return StatusClientClosedRequest
	case interfaces.KindBackendFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorForStatus reverses StatusForError so error kinds survive the wire.
func ErrorForStatus(status int, message string) error {
	switch status {
	case http.StatusBadRequest:
		return interfaces.InvalidArgumentf("%s", message)
	case http.StatusNotFound:
		return interfaces.NotFoundf("%s", message)
	case http.StatusConflict:
		return interfaces.Conflictf("%s", message)
	case StatusClientClosedRequest:
		return interfaces.Cancelled(errors.New(message))
	case http.StatusNotImplemented:
		return fmt.Errorf("%w: %s", interfaces.ErrSnapshotUnsupported, message)
	default:
		return interfaces.BackendFailure("drive gateway", fmt.Errorf("status %d: %s", status, message))
	}
}
