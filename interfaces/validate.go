package interfaces

import (
	"strings"

	"github.com/google/uuid"
)

// MaxNameLength bounds stream names and versions, which drivers use as path
// segments and object key components.
const MaxNameLength = 255

// The validators below are called by drivers before any backend I/O. What is
// valid depends on the operation, so the parameter types do not validate
// themselves.

// ValidateIdentifiers rejects zero tenant, partition and file identifiers.
func ValidateIdentifiers(p DefaultOperationParameters) error {
	switch {
	case p.TenantID() == uuid.Nil:
		return InvalidArgumentf("tenant id must not be the zero uuid")
	case p.PartitionID() == uuid.Nil:
		return InvalidArgumentf("partition id must not be the zero uuid")
	case p.FileID() == uuid.Nil:
		return InvalidArgumentf("file id must not be the zero uuid")
	}
	return nil
}

// ValidateName rejects names that cannot be used as a single path segment.
func ValidateName(kind, name string) error {
	switch {
	case name == "":
		return InvalidArgumentf("%s must not be blank", kind)
	case len(name) > MaxNameLength:
		return InvalidArgumentf("%s exceeds %d bytes", kind, MaxNameLength)
	case name == "." || name == "..":
		return InvalidArgumentf("%s %q is reserved", kind, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return InvalidArgumentf("%s %q contains a path separator or NUL", kind, name)
	}
	return nil
}

func validateVersion(p DefaultOperationParameters) error {
	if !p.IsVersioned() {
		return nil
	}
	return ValidateName("version", p.Version())
}

// ValidateStream validates a single-stream key.
func ValidateStream(p StreamOperationParameters) error {
	if err := ValidateIdentifiers(p.DefaultOperationParameters); err != nil {
		return err
	}
	if err := ValidateName("stream name", p.StreamName()); err != nil {
		return err
	}
	return validateVersion(p.DefaultOperationParameters)
}

// ValidateUpload validates upload parameters. Data is required and versions
// are produced only by Snapshot.
func ValidateUpload(p UploadOperationParameters) error {
	if err := ValidateStream(p.StreamOperationParameters); err != nil {
		return err
	}
	if p.Data == nil {
		return InvalidArgumentf("upload data must not be nil")
	}
	if p.IsVersioned() {
		return InvalidArgumentf("upload must not target version %q; versions are created by snapshot", p.Version())
	}
	return nil
}

// ValidateDelete validates delete parameters. Whole-file deletes ignore the stream name.
func ValidateDelete(p DeleteOperationParameters) error {
	if p.AllStreams() {
		if err := ValidateIdentifiers(p.DefaultOperationParameters); err != nil {
			return err
		}
		return validateVersion(p.DefaultOperationParameters)
	}
	return ValidateStream(p.StreamOperationParameters)
}

// ValidateListStreams validates list parameters.
func ValidateListStreams(p ListStreamsOperationParameters) error {
	if err := ValidateIdentifiers(p.DefaultOperationParameters); err != nil {
		return err
	}
	return validateVersion(p.DefaultOperationParameters)
}

// ValidateSnapshot validates snapshot parameters. A version is required.
func ValidateSnapshot(p SnapshotOperationParameters) error {
	if err := ValidateIdentifiers(p.DefaultOperationParameters); err != nil {
		return err
	}
	if !p.IsVersioned() {
		return InvalidArgumentf("snapshot requires a non-blank version")
	}
	return validateVersion(p.DefaultOperationParameters)
}

// ValidateUpgrade rejects zero identifiers for UpgradePartition.
func ValidateUpgrade(tenantID, volumeID, partitionID uuid.UUID) error {
	switch {
	case tenantID == uuid.Nil:
		return InvalidArgumentf("tenant id must not be the zero uuid")
	case volumeID == uuid.Nil:
		return InvalidArgumentf("volume id must not be the zero uuid")
	case partitionID == uuid.Nil:
		return InvalidArgumentf("partition id must not be the zero uuid")
	}
	return nil
}
