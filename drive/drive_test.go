package drive

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/ruteri/drive-storage-backend/interfaces"
	"github.com/ruteri/drive-storage-backend/registry"
	"github.com/ruteri/drive-storage-backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestConvenienceRoundTrip(t *testing.T) {
	d := storage.NewMemoryDriver(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	tenantID, partitionID, fileID := uuid.New(), uuid.New(), uuid.New()

	require.NoError(t, UploadDefault(ctx, d, tenantID, partitionID, fileID, strings.NewReader("main"), nil))
	require.NoError(t, Upload(ctx, d, tenantID, partitionID, fileID, "thumb", "alt-1", strings.NewReader("small"),
		&interfaces.DriveFileMetadata{FileName: "t.png", ContentType: "image/png"}))

	file, err := Download(ctx, d, tenantID, partitionID, fileID, " DEFAULT ", "")
	require.NoError(t, err)
	data, err := io.ReadAll(file.Data)
	require.NoError(t, err)
	file.Data.Close()
	assert.Equal(t, "main", string(data))
	assert.Equal(t, interfaces.DefaultContentType, file.Metadata.ContentType)

	names, err := ListStreams(ctx, d, tenantID, partitionID, fileID, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "thumb"}, names)

	require.NoError(t, Snapshot(ctx, d, tenantID, partitionID, fileID, "", "v1"))
	require.NoError(t, Delete(ctx, d, tenantID, partitionID, fileID, "thumb", ""))

	ok, err := Exists(ctx, d, tenantID, partitionID, fileID, "thumb", "")
	require.NoError(t, err)
	assert.False(t, ok)

	file, err = DownloadVersion(ctx, d, tenantID, partitionID, fileID, "thumb", "v1")
	require.NoError(t, err)
	data, err = io.ReadAll(file.Data)
	require.NoError(t, err)
	file.Data.Close()
	assert.Equal(t, "small", string(data))
	assert.Equal(t, "t.png", file.Metadata.FileName)

	require.NoError(t, DeleteVersion(ctx, d, tenantID, partitionID, fileID, "v1"))
	_, err = DownloadVersion(ctx, d, tenantID, partitionID, fileID, "thumb", "v1")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	require.NoError(t, DeleteFile(ctx, d, tenantID, partitionID, fileID, ""))
	names, err = ListStreams(ctx, d, tenantID, partitionID, fileID, "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestConvenienceBuildsCanonicalParameters(t *testing.T) {
	ctx := context.Background()
	tenantID, partitionID, fileID, volumeID := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	d := new(registry.MockStorageDriver)
	d.On("Exists", mock.Anything, mock.MatchedBy(func(p interfaces.ExistsOperationParameters) bool {
		return p.TenantID() == tenantID && p.StreamName() == "default" && p.IsDefaultStream() &&
			p.AlternateID() == "alt" && !p.IsVersioned()
	})).Return(true, nil)
	d.On("Delete", mock.Anything, mock.MatchedBy(func(p interfaces.DeleteOperationParameters) bool {
		return p.AllStreams() && p.AlternateID() == "alt"
	})).Return(nil)
	d.On("UpgradePartition", mock.Anything, tenantID, volumeID, partitionID).Return(nil)

	ok, err := Exists(ctx, d, tenantID, partitionID, fileID, "   ", "alt")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, DeleteFile(ctx, d, tenantID, partitionID, fileID, "alt"))
	require.NoError(t, UpgradePartition(ctx, d, tenantID, volumeID, partitionID))

	// Snapshot needs the versioning capability.
	assert.ErrorIs(t, Snapshot(ctx, d, tenantID, partitionID, fileID, "", "v1"), interfaces.ErrSnapshotUnsupported)

	d.AssertExpectations(t)
}

func TestConvenienceSnapshotVersioning(t *testing.T) {
	ctx := context.Background()
	tenantID, partitionID, fileID := uuid.New(), uuid.New(), uuid.New()

	d := new(registry.MockVersioningStorageDriver)
	d.On("Snapshot", mock.Anything, mock.MatchedBy(func(p interfaces.SnapshotOperationParameters) bool {
		return p.Version() == "v2" && p.AlternateID() == "alt"
	})).Return(nil)

	require.NoError(t, Snapshot(ctx, d, tenantID, partitionID, fileID, "alt", " v2 "))
	d.AssertExpectations(t)
}

func TestConvenienceNilDriverPanics(t *testing.T) {
	assert.Panics(t, func() {
		_ = UploadDefault(context.Background(), nil, uuid.New(), uuid.New(), uuid.New(), strings.NewReader("x"), nil)
	})
}
