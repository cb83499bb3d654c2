// Package drive offers scalar-argument shorthands over the storage driver
// contract. Each helper builds the normalized operation parameters and calls
// the corresponding driver operation, so blank stream names and versions
// behave exactly as they do through the parameter constructors.
//
// Passing a nil driver is a programming error and panics.
package drive

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/ruteri/drive-storage-backend/interfaces"
)

// Upload stores data as the given stream of the file.
func Upload(ctx context.Context, d interfaces.StorageDriver, tenantID, partitionID, fileID uuid.UUID, streamName, alternateID string, data io.Reader, metadata *interfaces.DriveFileMetadata) error {
	mustDriver(d)
	return d.Upload(ctx, interfaces.NewUploadOperationParameters(
		tenantID, partitionID, fileID, streamName, data, metadata, interfaces.WithAlternateID(alternateID)))
}

// UploadDefault stores data as the default stream of the file.
func UploadDefault(ctx context.Context, d interfaces.StorageDriver, tenantID, partitionID, fileID uuid.UUID, data io.Reader, metadata *interfaces.DriveFileMetadata) error {
	return Upload(ctx, d, tenantID, partitionID, fileID, "", "", data, metadata)
}

// Download opens the live content of a stream.
func Download(ctx context.Context, d interfaces.StorageDriver, tenantID, partitionID, fileID uuid.UUID, streamName, alternateID string) (*interfaces.DriveFile, error) {
	mustDriver(d)
	return d.Download(ctx, interfaces.NewDownloadOperationParameters(
		tenantID, partitionID, fileID, streamName, interfaces.WithAlternateID(alternateID)))
}

// DownloadVersion opens a stream as captured in version.
func DownloadVersion(ctx context.Context, d interfaces.StorageDriver, tenantID, partitionID, fileID uuid.UUID, streamName, version string) (*interfaces.DriveFile, error) {
	mustDriver(d)
	return d.Download(ctx, interfaces.NewDownloadOperationParameters(
		tenantID, partitionID, fileID, streamName, interfaces.WithVersion(version)))
}

// Delete removes one live stream.
func Delete(ctx context.Context, d interfaces.StorageDriver, tenantID, partitionID, fileID uuid.UUID, streamName, alternateID string) error {
	mustDriver(d)
	return d.Delete(ctx, interfaces.NewDeleteOperationParameters(
		tenantID, partitionID, fileID, streamName, interfaces.WithAlternateID(alternateID)))
}

// DeleteFile removes every stream and version of the file.
func DeleteFile(ctx context.Context, d interfaces.StorageDriver, tenantID, partitionID, fileID uuid.UUID, alternateID string) error {
	mustDriver(d)
	return d.Delete(ctx, interfaces.NewDeleteFileOperationParameters(
		tenantID, partitionID, fileID, interfaces.WithAlternateID(alternateID)))
}

// DeleteVersion removes one version of the file.
func DeleteVersion(ctx context.Context, d interfaces.StorageDriver, tenantID, partitionID, fileID uuid.UUID, version string) error {
	mustDriver(d)
	return d.Delete(ctx, interfaces.NewDeleteFileOperationParameters(
		tenantID, partitionID, fileID, interfaces.WithVersion(version)))
}

// ListStreams returns the live stream names of the file.
func ListStreams(ctx context.Context, d interfaces.StorageDriver, tenantID, partitionID, fileID uuid.UUID, alternateID string) ([]string, error) {
	mustDriver(d)
	return d.ListStreams(ctx, interfaces.NewListStreamsOperationParameters(
		tenantID, partitionID, fileID, interfaces.WithAlternateID(alternateID)))
}

// Exists reports whether a live stream exists.
func Exists(ctx context.Context, d interfaces.StorageDriver, tenantID, partitionID, fileID uuid.UUID, streamName, alternateID string) (bool, error) {
	mustDriver(d)
	return d.Exists(ctx, interfaces.NewExistsOperationParameters(
		tenantID, partitionID, fileID, streamName, interfaces.WithAlternateID(alternateID)))
}

// Snapshot captures every live stream of the file as version. Drivers without
// versioning fail with interfaces.ErrSnapshotUnsupported.
func Snapshot(ctx context.Context, d interfaces.StorageDriver, tenantID, partitionID, fileID uuid.UUID, alternateID, version string) error {
	mustDriver(d)
	v, ok := d.(interfaces.VersioningStorageDriver)
	if !ok {
		return interfaces.ErrSnapshotUnsupported
	}
	return v.Snapshot(ctx, interfaces.NewSnapshotOperationParameters(
		tenantID, partitionID, fileID, version, interfaces.WithAlternateID(alternateID)))
}

// UpgradePartition migrates a partition stored under volumeID to the driver's
// current layout for tenantID.
func UpgradePartition(ctx context.Context, d interfaces.StorageDriver, tenantID, volumeID, partitionID uuid.UUID) error {
	mustDriver(d)
	return d.UpgradePartition(ctx, tenantID, volumeID, partitionID)
}

func mustDriver(d interfaces.StorageDriver) {
	if d == nil {
		panic("drive: nil storage driver")
	}
}
