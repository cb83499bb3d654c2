package interfaces

import (
	"io"
	"strings"

	"github.com/google/uuid"
)

const (
	// DefaultStreamName is the stream addressed when no stream name is given.
	DefaultStreamName = "default"

	// DefaultContentType is persisted and reported when an upload carries no content type.
	DefaultContentType = "application/octet-stream"
)

// NormalizeStreamName trims surrounding whitespace and collapses a blank name
// to DefaultStreamName.
func NormalizeStreamName(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return DefaultStreamName
	}
	return trimmed
}

// NormalizeVersion trims surrounding whitespace. A blank version normalizes
// to "", meaning no version.
func NormalizeVersion(version string) string {
	return strings.TrimSpace(version)
}

// IsDefaultStreamName reports whether name, after normalization, addresses
// the default stream. The comparison is case-insensitive.
func IsDefaultStreamName(name string) bool {
	return strings.EqualFold(NormalizeStreamName(name), DefaultStreamName)
}

// ParameterOption sets optional fields on operation parameters.
type ParameterOption func(*parameterOptions)

type parameterOptions struct {
	version     string
	alternateID string
}

// WithVersion addresses a specific version of the file. Blank values mean no version.
func WithVersion(version string) ParameterOption {
	return func(o *parameterOptions) {
		o.version = version
	}
}

// WithAlternateID attaches a caller-defined secondary identifier. Drivers
// carry it through without interpreting it.
func WithAlternateID(alternateID string) ParameterOption {
	return func(o *parameterOptions) {
		o.alternateID = alternateID
	}
}

// DefaultOperationParameters identifies a file within a tenant partition.
// Values are normalized when constructed and cannot be changed afterwards.
type DefaultOperationParameters struct {
	tenantID    uuid.UUID
	partitionID uuid.UUID
	fileID      uuid.UUID
	alternateID string
	version     string
}

// NewDefaultOperationParameters builds normalized file-level parameters.
// Identifiers are not validated here; drivers validate per operation.
func NewDefaultOperationParameters(tenantID, partitionID, fileID uuid.UUID, opts ...ParameterOption) DefaultOperationParameters {
	var o parameterOptions
	for _, opt := range opts {
		opt(&o)
	}
	return DefaultOperationParameters{
		tenantID:    tenantID,
		partitionID: partitionID,
		fileID:      fileID,
		alternateID: o.alternateID,
		version:     NormalizeVersion(o.version),
	}
}

// TenantID returns the tenant identifier.
func (p DefaultOperationParameters) TenantID() uuid.UUID { return p.tenantID }

// PartitionID returns the partition identifier.
func (p DefaultOperationParameters) PartitionID() uuid.UUID { return p.partitionID }

// FileID returns the file identifier.
func (p DefaultOperationParameters) FileID() uuid.UUID { return p.fileID }

// AlternateID returns the caller-supplied secondary identifier, if any.
func (p DefaultOperationParameters) AlternateID() string { return p.alternateID }

// Version returns the normalized version, or "" when unversioned.
func (p DefaultOperationParameters) Version() string { return p.version }

// IsVersioned reports whether a non-blank version is present.
func (p DefaultOperationParameters) IsVersioned() bool { return p.version != "" }

// StreamOperationParameters identifies a single stream of a file.
type StreamOperationParameters struct {
	DefaultOperationParameters
	streamName string
}

// NewStreamOperationParameters builds normalized stream-level parameters.
// A blank streamName addresses the default stream.
func NewStreamOperationParameters(tenantID, partitionID, fileID uuid.UUID, streamName string, opts ...ParameterOption) StreamOperationParameters {
	return StreamOperationParameters{
		DefaultOperationParameters: NewDefaultOperationParameters(tenantID, partitionID, fileID, opts...),
		streamName:                 NormalizeStreamName(streamName),
	}
}

// StreamName returns the normalized stream name.
func (p StreamOperationParameters) StreamName() string {
	if p.streamName == "" {
		return DefaultStreamName
	}
	return p.streamName
}

// IsDefaultStream reports whether the parameters address the default stream.
func (p StreamOperationParameters) IsDefaultStream() bool {
	return IsDefaultStreamName(p.StreamName())
}

// StorageStreamName is the name drivers persist the stream under. All
// spellings of the default stream map to DefaultStreamName.
func (p StreamOperationParameters) StorageStreamName() string {
	if p.IsDefaultStream() {
		return DefaultStreamName
	}
	return p.StreamName()
}

// UploadOperationParameters carries the data and metadata for Upload.
type UploadOperationParameters struct {
	StreamOperationParameters

	// Data is read to EOF by the driver. It is required.
	Data io.Reader

	// Metadata is optional. A missing content type is persisted as DefaultContentType.
	Metadata *DriveFileMetadata
}

// NewUploadOperationParameters builds upload parameters for the given stream.
func NewUploadOperationParameters(tenantID, partitionID, fileID uuid.UUID, streamName string, data io.Reader, metadata *DriveFileMetadata, opts ...ParameterOption) UploadOperationParameters {
	return UploadOperationParameters{
		StreamOperationParameters: NewStreamOperationParameters(tenantID, partitionID, fileID, streamName, opts...),
		Data:                      data,
		Metadata:                  metadata,
	}
}

// DownloadOperationParameters addresses the stream to download.
type DownloadOperationParameters struct {
	StreamOperationParameters
}

// NewDownloadOperationParameters builds download parameters.
func NewDownloadOperationParameters(tenantID, partitionID, fileID uuid.UUID, streamName string, opts ...ParameterOption) DownloadOperationParameters {
	return DownloadOperationParameters{NewStreamOperationParameters(tenantID, partitionID, fileID, streamName, opts...)}
}

// ExistsOperationParameters addresses the stream to check.
type ExistsOperationParameters struct {
	StreamOperationParameters
}

// NewExistsOperationParameters builds exists parameters.
func NewExistsOperationParameters(tenantID, partitionID, fileID uuid.UUID, streamName string, opts ...ParameterOption) ExistsOperationParameters {
	return ExistsOperationParameters{NewStreamOperationParameters(tenantID, partitionID, fileID, streamName, opts...)}
}

// DeleteOperationParameters addresses either one stream or, when AllStreams
// reports true, every stream of the file.
type DeleteOperationParameters struct {
	StreamOperationParameters
	allStreams bool
}

// NewDeleteOperationParameters builds parameters deleting a single stream.
func NewDeleteOperationParameters(tenantID, partitionID, fileID uuid.UUID, streamName string, opts ...ParameterOption) DeleteOperationParameters {
	return DeleteOperationParameters{
		StreamOperationParameters: NewStreamOperationParameters(tenantID, partitionID, fileID, streamName, opts...),
	}
}

// NewDeleteFileOperationParameters builds parameters deleting the whole
// stream family of a file. Without a version, live streams and every version
// are removed; with a version, only that version is removed.
func NewDeleteFileOperationParameters(tenantID, partitionID, fileID uuid.UUID, opts ...ParameterOption) DeleteOperationParameters {
	return DeleteOperationParameters{
		StreamOperationParameters: NewStreamOperationParameters(tenantID, partitionID, fileID, "", opts...),
		allStreams:                true,
	}
}

// AllStreams reports whether the delete addresses the whole file.
func (p DeleteOperationParameters) AllStreams() bool { return p.allStreams }

// ListStreamsOperationParameters addresses the file whose streams are listed.
type ListStreamsOperationParameters struct {
	DefaultOperationParameters
}

// NewListStreamsOperationParameters builds list parameters. With a version,
// the streams captured in that version are listed.
func NewListStreamsOperationParameters(tenantID, partitionID, fileID uuid.UUID, opts ...ParameterOption) ListStreamsOperationParameters {
	return ListStreamsOperationParameters{NewDefaultOperationParameters(tenantID, partitionID, fileID, opts...)}
}

// SnapshotOperationParameters addresses the file to snapshot and the version to create.
type SnapshotOperationParameters struct {
	DefaultOperationParameters
}

// NewSnapshotOperationParameters builds snapshot parameters. The version is
// required; a blank version fails validation in the driver.
func NewSnapshotOperationParameters(tenantID, partitionID, fileID uuid.UUID, version string, opts ...ParameterOption) SnapshotOperationParameters {
	opts = append(opts[:len(opts):len(opts)], WithVersion(version))
	return SnapshotOperationParameters{NewDefaultOperationParameters(tenantID, partitionID, fileID, opts...)}
}
