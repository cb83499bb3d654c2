// Package interfaces defines the contracts and value types of the drive
// storage system.
//
// This package contains no backend code. It fixes the shape every storage
// driver, controller and controller registry agrees on, so that callers get
// identical semantics regardless of which backend is attached.
//
// # Addressing
//
// Content is addressed by tenant, partition, file, stream and an optional
// version. Parameter objects are normalized when they are constructed:
//
//   - blank stream names address the "default" stream
//   - stream names and versions are trimmed of surrounding whitespace
//   - a blank version means "no version"
//
// Identifier validation is left to drivers, since what is valid depends on
// the operation.
//
// # Driver Interfaces
//
//   - StorageDriver: Upload, Download, Delete, ListStreams, Exists, UpgradePartition
//   - VersioningStorageDriver: StorageDriver plus Snapshot; callers type-assert for it
//   - DriveController: builds a StorageDriver from an opaque driver-info string
//   - DriveControllerManager: registry of loaded controllers and tenant resolution
//   - TenantDirectory: the tenant-to-drive policy consulted by the manager
//
// # Error Kinds
//
// Failures are reported as errors wrapping one of:
//
//   - ErrInvalidArgument: zero identifiers, missing data, blank snapshot version
//   - ErrNotFound: missing content, unknown controller or tenant mapping
//   - ErrConflict: duplicate controller registration
//   - ErrCancelled: the context was cancelled before completion
//   - ErrBackendFailure: the storage medium failed
//
// Use errors.Is or KindOf to branch on them.
//
// # Driver Info
//
// Drivers are located with URIs:
//
//	mem://
//	file:///var/lib/drive
//	sqlite:///var/lib/drive/drive.db
//	s3://bucket/prefix?region=us-west-2
//	ipfs://127.0.0.1:5001/drive
//	vault://vault.example.com:8200/secret/drive
//	http://drive.example.com:8080?drive=default
//	multi://?driver=file%3A%2F%2F%2Fa&driver=sqlite%3A%2F%2F%2Fb.db
package interfaces
