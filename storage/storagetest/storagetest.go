// Package storagetest provides a conformance suite for storage drivers.
package storagetest

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/ruteri/drive-storage-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty driver for one test.
type Factory func(t *testing.T) interfaces.StorageDriver

type key struct {
	tenant, partition, file uuid.UUID
}

func newKey() key {
	return key{tenant: uuid.New(), partition: uuid.New(), file: uuid.New()}
}

func upload(t *testing.T, d interfaces.StorageDriver, k key, stream, content string, meta *interfaces.DriveFileMetadata) {
	t.Helper()
	err := d.Upload(context.Background(), interfaces.NewUploadOperationParameters(
		k.tenant, k.partition, k.file, stream, strings.NewReader(content), meta))
	require.NoError(t, err)
}

func download(t *testing.T, d interfaces.StorageDriver, k key, stream string, opts ...interfaces.ParameterOption) (string, *interfaces.DriveFileMetadata) {
	t.Helper()
	file, err := d.Download(context.Background(), interfaces.NewDownloadOperationParameters(
		k.tenant, k.partition, k.file, stream, opts...))
	require.NoError(t, err)
	defer file.Data.Close()
	data, err := io.ReadAll(file.Data)
	require.NoError(t, err)
	return string(data), file.Metadata
}

func exists(t *testing.T, d interfaces.StorageDriver, k key, stream string, opts ...interfaces.ParameterOption) bool {
	t.Helper()
	ok, err := d.Exists(context.Background(), interfaces.NewExistsOperationParameters(
		k.tenant, k.partition, k.file, stream, opts...))
	require.NoError(t, err)
	return ok
}

func list(t *testing.T, d interfaces.StorageDriver, k key, opts ...interfaces.ParameterOption) []string {
	t.Helper()
	names, err := d.ListStreams(context.Background(), interfaces.NewListStreamsOperationParameters(
		k.tenant, k.partition, k.file, opts...))
	require.NoError(t, err)
	return names
}

// unreadable fails the test when a driver reads upload data it should have
// rejected.
type unreadable struct{ t *testing.T }

func (r unreadable) Read([]byte) (int, error) {
	r.t.Errorf("upload data read before the parameters were validated")
	return 0, io.ErrUnexpectedEOF
}

// RunDriverTests exercises the base StorageDriver contract.
func RunDriverTests(t *testing.T, newDriver Factory) {
	t.Run("DriverVersion", func(t *testing.T) {
		assert.NotEmpty(t, newDriver(t).DriverVersion())
	})

	t.Run("UploadDownloadRoundTrip", func(t *testing.T) {
		d := newDriver(t)
		k := newKey()
		meta := &interfaces.DriveFileMetadata{FileName: "report.pdf", ContentType: "application/pdf"}

		upload(t, d, k, "content", "hello drive", meta)

		data, got := download(t, d, k, "content")
		assert.Equal(t, "hello drive", data)
		assert.Equal(t, "report.pdf", got.FileName)
		assert.Equal(t, "application/pdf", got.ContentType)
	})

	t.Run("MetadataDefaults", func(t *testing.T) {
		d := newDriver(t)
		k := newKey()

		upload(t, d, k, "", "no metadata", nil)
		_, meta := download(t, d, k, "")
		require.NotNil(t, meta)
		assert.Equal(t, interfaces.DefaultContentType, meta.ContentType)
		assert.Empty(t, meta.FileName)

		upload(t, d, k, "named", "name only", &interfaces.DriveFileMetadata{FileName: "a.txt"})
		_, meta = download(t, d, k, "named")
		assert.Equal(t, "a.txt", meta.FileName)
		assert.Equal(t, interfaces.DefaultContentType, meta.ContentType)
	})

	t.Run("EmptyContent", func(t *testing.T) {
		d := newDriver(t)
		k := newKey()

		upload(t, d, k, "empty", "", nil)
		data, _ := download(t, d, k, "empty")
		assert.Empty(t, data)
		assert.True(t, exists(t, d, k, "empty"))
	})

	t.Run("DefaultStreamAliases", func(t *testing.T) {
		d := newDriver(t)
		k := newKey()

		upload(t, d, k, "", "default content", nil)
		for _, name := range []string{"", "  ", interfaces.DefaultStreamName, "DEFAULT"} {
			data, _ := download(t, d, k, name)
			assert.Equal(t, "default content", data, "stream %q", name)
			assert.True(t, exists(t, d, k, name), "stream %q", name)
		}
		assert.Equal(t, []string{interfaces.DefaultStreamName}, list(t, d, k))
	})

	t.Run("Overwrite", func(t *testing.T) {
		d := newDriver(t)
		k := newKey()

		upload(t, d, k, "s", "first", &interfaces.DriveFileMetadata{FileName: "one"})
		upload(t, d, k, "s", "second", nil)
		data, meta := download(t, d, k, "s")
		assert.Equal(t, "second", data)
		assert.Empty(t, meta.FileName)
	})

	t.Run("LongStreamName", func(t *testing.T) {
		d := newDriver(t)
		k := newKey()
		name := strings.Repeat("s", 64)

		upload(t, d, k, name, "long", nil)
		assert.True(t, exists(t, d, k, name))
		assert.Equal(t, []string{name}, list(t, d, k))
	})

	t.Run("StreamsAreIndependent", func(t *testing.T) {
		d := newDriver(t)
		k := newKey()

		upload(t, d, k, "b", "bee", nil)
		upload(t, d, k, "a", "ay", nil)
		upload(t, d, k, "", "default", nil)

		assert.Equal(t, []string{"a", "b", interfaces.DefaultStreamName}, list(t, d, k))
		data, _ := download(t, d, k, "a")
		assert.Equal(t, "ay", data)
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		d := newDriver(t)
		k := newKey()
		other := k
		other.tenant = uuid.New()

		upload(t, d, k, "s", "mine", nil)
		assert.False(t, exists(t, d, other, "s"))
		assert.Empty(t, list(t, d, other))

		_, err := d.Download(context.Background(), interfaces.NewDownloadOperationParameters(other.tenant, other.partition, other.file, "s"))
		assert.ErrorIs(t, err, interfaces.ErrNotFound)
	})

	t.Run("MissingContent", func(t *testing.T) {
		d := newDriver(t)
		k := newKey()

		_, err := d.Download(context.Background(), interfaces.NewDownloadOperationParameters(k.tenant, k.partition, k.file, "missing"))
		assert.ErrorIs(t, err, interfaces.ErrNotFound)
		assert.False(t, exists(t, d, k, "missing"))
		assert.Empty(t, list(t, d, k))
	})

	t.Run("DeleteStream", func(t *testing.T) {
		d := newDriver(t)
		k := newKey()

		upload(t, d, k, "keep", "1", nil)
		upload(t, d, k, "drop", "2", nil)

		require.NoError(t, d.Delete(context.Background(), interfaces.NewDeleteOperationParameters(k.tenant, k.partition, k.file, "drop")))
		assert.False(t, exists(t, d, k, "drop"))
		assert.True(t, exists(t, d, k, "keep"))
		assert.Equal(t, []string{"keep"}, list(t, d, k))

		// Deleting again is not an error.
		require.NoError(t, d.Delete(context.Background(), interfaces.NewDeleteOperationParameters(k.tenant, k.partition, k.file, "drop")))
	})

	t.Run("DeleteFile", func(t *testing.T) {
		d := newDriver(t)
		k := newKey()

		upload(t, d, k, "a", "1", nil)
		upload(t, d, k, "b", "2", nil)

		require.NoError(t, d.Delete(context.Background(), interfaces.NewDeleteFileOperationParameters(k.tenant, k.partition, k.file)))
		assert.Empty(t, list(t, d, k))
		assert.False(t, exists(t, d, k, "a"))

		require.NoError(t, d.Delete(context.Background(), interfaces.NewDeleteFileOperationParameters(k.tenant, k.partition, k.file)))
	})

	t.Run("InvalidArguments", func(t *testing.T) {
		d := newDriver(t)
		k := newKey()
		ctx := context.Background()

		uploads := []struct {
			name   string
			params interfaces.UploadOperationParameters
		}{
			{"zero tenant", interfaces.NewUploadOperationParameters(uuid.Nil, k.partition, k.file, "s", unreadable{t}, nil)},
			{"zero partition", interfaces.NewUploadOperationParameters(k.tenant, uuid.Nil, k.file, "s", unreadable{t}, nil)},
			{"zero file", interfaces.NewUploadOperationParameters(k.tenant, k.partition, uuid.Nil, "s", unreadable{t}, nil)},
			{"separator in stream", interfaces.NewUploadOperationParameters(k.tenant, k.partition, k.file, "a/b", unreadable{t}, nil)},
			{"nil data", interfaces.NewUploadOperationParameters(k.tenant, k.partition, k.file, "s", nil, nil)},
		}
		for _, tt := range uploads {
			err := d.Upload(ctx, tt.params)
			assert.ErrorIs(t, err, interfaces.ErrInvalidArgument, tt.name)
		}
		assert.Empty(t, list(t, d, k))

		_, err := d.Download(ctx, interfaces.NewDownloadOperationParameters(k.tenant, uuid.Nil, k.file, "s"))
		assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

		_, err = d.ListStreams(ctx, interfaces.NewListStreamsOperationParameters(k.tenant, k.partition, uuid.Nil))
		assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

		err = d.UpgradePartition(ctx, k.tenant, uuid.Nil, k.partition)
		assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
	})

	t.Run("DotPrefixedStreamNames", func(t *testing.T) {
		d := newDriver(t)
		k := newKey()

		// Names a driver might use for its own scratch space are ordinary
		// stream names to callers.
		upload(t, d, k, ".upload-notes", "notes", nil)
		upload(t, d, k, ".tmp", "scratch", nil)

		assert.True(t, exists(t, d, k, ".upload-notes"))
		assert.Equal(t, []string{".tmp", ".upload-notes"}, list(t, d, k))
		data, _ := download(t, d, k, ".upload-notes")
		assert.Equal(t, "notes", data)

		require.NoError(t, d.Delete(context.Background(), interfaces.NewDeleteOperationParameters(k.tenant, k.partition, k.file, ".tmp")))
		assert.Equal(t, []string{".upload-notes"}, list(t, d, k))
	})

	t.Run("Cancelled", func(t *testing.T) {
		d := newDriver(t)
		k := newKey()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := d.Upload(ctx, interfaces.NewUploadOperationParameters(k.tenant, k.partition, k.file, "s", strings.NewReader("x"), nil))
		assert.ErrorIs(t, err, interfaces.ErrCancelled)

		_, err = d.Exists(ctx, interfaces.NewExistsOperationParameters(k.tenant, k.partition, k.file, "s"))
		assert.ErrorIs(t, err, interfaces.ErrCancelled)
	})

	t.Run("UpgradeWithoutLegacyContent", func(t *testing.T) {
		d := newDriver(t)
		k := newKey()

		upload(t, d, k, "s", "current", nil)
		require.NoError(t, d.UpgradePartition(context.Background(), k.tenant, uuid.New(), k.partition))
		require.NoError(t, d.UpgradePartition(context.Background(), k.tenant, k.tenant, k.partition))

		data, _ := download(t, d, k, "s")
		assert.Equal(t, "current", data)
	})

	t.Run("UpgradeMovesVolumeContent", func(t *testing.T) {
		d := newDriver(t)
		volume := newKey()
		tenant := volume
		tenant.tenant = uuid.New()

		// Content written by a generation that keyed files by volume.
		upload(t, d, volume, "legacy", "old bytes", &interfaces.DriveFileMetadata{FileName: "old.bin"})

		require.NoError(t, d.UpgradePartition(context.Background(), tenant.tenant, volume.tenant, volume.partition))

		data, meta := download(t, d, tenant, "legacy")
		assert.Equal(t, "old bytes", data)
		assert.Equal(t, "old.bin", meta.FileName)
		assert.False(t, exists(t, d, volume, "legacy"))

		// Running it again finds nothing left to move.
		require.NoError(t, d.UpgradePartition(context.Background(), tenant.tenant, volume.tenant, volume.partition))
		data, _ = download(t, d, tenant, "legacy")
		assert.Equal(t, "old bytes", data)
	})
}

// RunVersioningTests exercises the snapshot capability.
func RunVersioningTests(t *testing.T, newDriver Factory) {
	versioning := func(t *testing.T) interfaces.VersioningStorageDriver {
		d, ok := newDriver(t).(interfaces.VersioningStorageDriver)
		require.True(t, ok, "driver does not support versioning")
		return d
	}

	snapshot := func(t *testing.T, d interfaces.VersioningStorageDriver, k key, version string) error {
		return d.Snapshot(context.Background(), interfaces.NewSnapshotOperationParameters(k.tenant, k.partition, k.file, version))
	}

	t.Run("SnapshotMultipleStreams", func(t *testing.T) {
		d := versioning(t)
		k := newKey()

		upload(t, d, k, "", "default v1", &interfaces.DriveFileMetadata{FileName: "doc.txt", ContentType: "text/plain"})
		upload(t, d, k, "thumbnail", "thumb v1", nil)

		require.NoError(t, snapshot(t, d, k, "123"))

		upload(t, d, k, "", "default v2", nil)
		upload(t, d, k, "extra", "new stream", nil)

		data, meta := download(t, d, k, "", interfaces.WithVersion("123"))
		assert.Equal(t, "default v1", data)
		assert.Equal(t, "doc.txt", meta.FileName)
		assert.Equal(t, "text/plain", meta.ContentType)

		data, _ = download(t, d, k, "thumbnail", interfaces.WithVersion("123"))
		assert.Equal(t, "thumb v1", data)

		assert.Equal(t, []string{interfaces.DefaultStreamName, "thumbnail"}, list(t, d, k, interfaces.WithVersion("123")))
		assert.False(t, exists(t, d, k, "extra", interfaces.WithVersion("123")))

		data, _ = download(t, d, k, "")
		assert.Equal(t, "default v2", data)
		assert.Equal(t, []string{interfaces.DefaultStreamName, "extra", "thumbnail"}, list(t, d, k))
	})

	t.Run("SnapshotDotPrefixedNames", func(t *testing.T) {
		d := versioning(t)
		k := newKey()

		upload(t, d, k, ".upload-notes", "notes v1", nil)
		upload(t, d, k, "a", "a v1", nil)
		require.NoError(t, snapshot(t, d, k, ".upload-v1"))
		require.NoError(t, snapshot(t, d, k, ".tmp"))

		for _, version := range []string{".upload-v1", ".tmp"} {
			assert.Equal(t, []string{".upload-notes", "a"}, list(t, d, k, interfaces.WithVersion(version)), version)
			data, _ := download(t, d, k, ".upload-notes", interfaces.WithVersion(version))
			assert.Equal(t, "notes v1", data, version)
		}

		require.NoError(t, d.Delete(context.Background(), interfaces.NewDeleteFileOperationParameters(
			k.tenant, k.partition, k.file, interfaces.WithVersion(".upload-v1"))))
		assert.Empty(t, list(t, d, k, interfaces.WithVersion(".upload-v1")))
		assert.Equal(t, []string{".upload-notes", "a"}, list(t, d, k, interfaces.WithVersion(".tmp")))
	})

	t.Run("SnapshotOverwritesVersion", func(t *testing.T) {
		d := versioning(t)
		k := newKey()

		upload(t, d, k, "a", "one", nil)
		upload(t, d, k, "b", "one", nil)
		require.NoError(t, snapshot(t, d, k, "v"))

		require.NoError(t, d.Delete(context.Background(), interfaces.NewDeleteOperationParameters(k.tenant, k.partition, k.file, "b")))
		upload(t, d, k, "a", "two", nil)
		require.NoError(t, snapshot(t, d, k, "v"))

		data, _ := download(t, d, k, "a", interfaces.WithVersion("v"))
		assert.Equal(t, "two", data)
		assert.Equal(t, []string{"a"}, list(t, d, k, interfaces.WithVersion("v")))
	})

	t.Run("SnapshotWithoutStreams", func(t *testing.T) {
		d := versioning(t)
		k := newKey()

		err := snapshot(t, d, k, "v1")
		assert.ErrorIs(t, err, interfaces.ErrNotFound)
	})

	t.Run("SnapshotRequiresVersion", func(t *testing.T) {
		d := versioning(t)
		k := newKey()
		upload(t, d, k, "a", "x", nil)

		assert.ErrorIs(t, snapshot(t, d, k, ""), interfaces.ErrInvalidArgument)
		assert.ErrorIs(t, snapshot(t, d, k, "a/b"), interfaces.ErrInvalidArgument)
	})

	t.Run("UploadToVersionRejected", func(t *testing.T) {
		d := versioning(t)
		k := newKey()

		err := d.Upload(context.Background(), interfaces.NewUploadOperationParameters(
			k.tenant, k.partition, k.file, "a", bytes.NewReader([]byte("x")), nil, interfaces.WithVersion("v1")))
		assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
	})

	t.Run("DeleteVersionedStream", func(t *testing.T) {
		d := versioning(t)
		k := newKey()

		upload(t, d, k, "a", "1", nil)
		upload(t, d, k, "b", "2", nil)
		require.NoError(t, snapshot(t, d, k, "v"))

		require.NoError(t, d.Delete(context.Background(), interfaces.NewDeleteOperationParameters(
			k.tenant, k.partition, k.file, "a", interfaces.WithVersion("v"))))

		assert.False(t, exists(t, d, k, "a", interfaces.WithVersion("v")))
		assert.True(t, exists(t, d, k, "b", interfaces.WithVersion("v")))
		assert.True(t, exists(t, d, k, "a"))
	})

	t.Run("DeleteVersion", func(t *testing.T) {
		d := versioning(t)
		k := newKey()

		upload(t, d, k, "a", "1", nil)
		require.NoError(t, snapshot(t, d, k, "v1"))
		require.NoError(t, snapshot(t, d, k, "v2"))

		require.NoError(t, d.Delete(context.Background(), interfaces.NewDeleteFileOperationParameters(
			k.tenant, k.partition, k.file, interfaces.WithVersion("v1"))))

		assert.Empty(t, list(t, d, k, interfaces.WithVersion("v1")))
		assert.Equal(t, []string{"a"}, list(t, d, k, interfaces.WithVersion("v2")))
		assert.Equal(t, []string{"a"}, list(t, d, k))
	})

	t.Run("DeleteFileRemovesVersions", func(t *testing.T) {
		d := versioning(t)
		k := newKey()

		upload(t, d, k, "a", "1", nil)
		require.NoError(t, snapshot(t, d, k, "v1"))

		require.NoError(t, d.Delete(context.Background(), interfaces.NewDeleteFileOperationParameters(k.tenant, k.partition, k.file)))

		assert.Empty(t, list(t, d, k))
		assert.Empty(t, list(t, d, k, interfaces.WithVersion("v1")))
		assert.False(t, exists(t, d, k, "a", interfaces.WithVersion("v1")))
	})

	t.Run("MissingVersion", func(t *testing.T) {
		d := versioning(t)
		k := newKey()
		upload(t, d, k, "a", "1", nil)

		_, err := d.Download(context.Background(), interfaces.NewDownloadOperationParameters(
			k.tenant, k.partition, k.file, "a", interfaces.WithVersion("nope")))
		assert.ErrorIs(t, err, interfaces.ErrNotFound)
	})
}
