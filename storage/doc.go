// Package storage provides the storage drivers behind the drive contract.
//
// Every driver stores opaque byte streams addressed by tenant, partition,
// file and stream name, with an optional snapshot version:
//
//   - MemoryDriver for tests and ephemeral deployments
//   - FileDriver on the local file system
//   - SQLiteDriver on a single SQLite database
//   - S3Driver on Amazon S3 or a compatible service
//   - IPFSDriver on the mutable file system of an IPFS node
//   - VaultDriver on a HashiCorp Vault KV v2 mount
//   - MultiStorageDriver replicating across other drivers
//
// All drivers except VaultDriver implement interfaces.VersioningStorageDriver.
//
// # Driver Info Format
//
// Drivers are created by StorageDriverFactory from driver-info strings:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Examples:
//
//   - mem://
//   - file:///var/lib/drive
//   - sqlite:///var/lib/drive/drive.db
//   - s3://bucket-name/prefix?region=us-west-2
//   - ipfs://127.0.0.1:5001/drive?timeout=30s
//   - vault://vault.example.com:8200/secret/drive
//   - https://gateway.example.com/?drive=default
//   - multi://?driver=file:///var/lib/drive&driver=s3://bucket/drive
//
// # Layout
//
// The hierarchical drivers share one layout:
//
//	<tenant>/<partition>/<file>/streams/<stream>
//	<tenant>/<partition>/<file>/versions/<version>/<stream>
//
// The default stream is stored under the name "default". Older deployments
// keyed content by volume instead of tenant; UpgradePartition moves such
// content into the tenant and is a no-op when nothing is left to move.
//
// # Errors
//
// Drivers return the error kinds declared in the interfaces package. Backend
// faults are flattened to text with interfaces.BackendFailure, so callers can
// rely on errors.Is against the sentinels but never on backend error types.
//
// # Metrics
//
// WithMetrics wraps any driver with Prometheus counters and latency
// histograms. The wrapper keeps the versioning capability of the driver.
package storage
