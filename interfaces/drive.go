package interfaces

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// DriveFileMetadata is persisted alongside stream data. Empty fields mean absent.
type DriveFileMetadata struct {
	FileName    string `json:"fileName,omitempty" yaml:"fileName,omitempty"`
	ContentType string `json:"contentType,omitempty" yaml:"contentType,omitempty"`
}

// WithDefaults returns a copy of m with the content type defaulted.
// A nil receiver yields metadata carrying only DefaultContentType.
func (m *DriveFileMetadata) WithDefaults() DriveFileMetadata {
	var out DriveFileMetadata
	if m != nil {
		out = *m
	}
	if out.ContentType == "" {
		out.ContentType = DefaultContentType
	}
	return out
}

// DriveFile is the result of a download. The caller owns Data and must close it.
type DriveFile struct {
	Data     io.ReadCloser
	Metadata *DriveFileMetadata
}

// StorageDriver is the operation surface every backend implements.
// All operations validate their parameters before any backend I/O and report
// failures through the error kinds in this package.
type StorageDriver interface {
	// DriverVersion identifies the storage generation this driver writes.
	DriverVersion() string

	// UpgradePartition migrates a partition written by a prior storage
	// generation, located by volumeID, to this driver's layout. Running it on
	// an already upgraded partition succeeds without changes.
	UpgradePartition(ctx context.Context, tenantID, volumeID, partitionID uuid.UUID) error

	// Upload persists data under the key, replacing any existing content.
	Upload(ctx context.Context, params UploadOperationParameters) error

	// Download opens the content and metadata stored under the key.
	Download(ctx context.Context, params DownloadOperationParameters) (*DriveFile, error)

	// Delete removes the addressed stream, or the whole file. Deleting content
	// that does not exist succeeds.
	Delete(ctx context.Context, params DeleteOperationParameters) error

	// ListStreams returns the sorted stream names stored for a file.
	ListStreams(ctx context.Context, params ListStreamsOperationParameters) ([]string, error)

	// Exists reports whether content is stored under the exact key,
	// including the version qualifier when present.
	Exists(ctx context.Context, params ExistsOperationParameters) (bool, error)
}

// VersioningStorageDriver is implemented by drivers that can snapshot files
// into immutable versions. Callers type-assert for it.
type VersioningStorageDriver interface {
	StorageDriver

	// Snapshot copies the current content of every stream of the file into the
	// version named by params. Live streams are not modified.
	Snapshot(ctx context.Context, params SnapshotOperationParameters) error
}

// DriveController produces configured storage drivers. Controllers hold no
// per-tenant state.
type DriveController interface {
	// ControllerID uniquely identifies the controller.
	ControllerID() uuid.UUID

	// DisplayName is a human readable name for the controller.
	DisplayName() string

	// GetDriver parses driverInfo and returns a driver configured from it.
	GetDriver(ctx context.Context, driverInfo string) (StorageDriver, error)
}

// DriveAssignment binds a drive of a tenant to a controller and the
// connection info its driver is built from.
type DriveAssignment struct {
	DriveID      uuid.UUID
	ControllerID uuid.UUID
	DriverInfo   string
	Default      bool
}

// TenantDirectory supplies the tenant-to-drive policy used by the controller manager.
type TenantDirectory interface {
	// TenantDrives returns the drives assigned to the tenant in a stable order.
	// Unknown tenants yield ErrNotFound.
	TenantDrives(ctx context.Context, tenantID uuid.UUID) ([]DriveAssignment, error)
}

// DriveControllerManager is the registry of loaded controllers.
type DriveControllerManager interface {
	// DriveControllers returns a snapshot of the loaded controllers.
	DriveControllers() map[uuid.UUID]DriveController

	// LoadDriveController registers a controller. A duplicate id yields ErrConflict.
	LoadDriveController(controller DriveController) error

	// UnloadDriveController removes a controller. An unknown id yields ErrNotFound.
	UnloadDriveController(controllerID uuid.UUID) error

	// ListDriveControllers returns the loaded controllers assigned to a tenant.
	ListDriveControllers(ctx context.Context, tenantID uuid.UUID) ([]DriveController, error)

	// GetDefaultDriveController resolves the tenant's default controller.
	GetDefaultDriveController(ctx context.Context, tenantID uuid.UUID) (DriveController, error)

	// GetDriveController resolves the controller serving a specific drive of the tenant.
	GetDriveController(ctx context.Context, tenantID, driveID uuid.UUID) (DriveController, error)
}
