package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/ruteri/drive-storage-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockStorageDriver implements interfaces.StorageDriver for testing
type MockStorageDriver struct {
	mock.Mock
	name string
}

func (m *MockStorageDriver) DriverVersion() string {
	return "mock"
}

func (m *MockStorageDriver) UpgradePartition(ctx context.Context, tenantID, volumeID, partitionID uuid.UUID) error {
	args := m.Called(ctx, tenantID, volumeID, partitionID)
	return args.Error(0)
}

func (m *MockStorageDriver) Upload(ctx context.Context, params interfaces.UploadOperationParameters) error {
	// Drain the reader so the mock sees what a real driver would store.
	data, _ := io.ReadAll(params.Data)
	args := m.Called(ctx, string(data))
	return args.Error(0)
}

func (m *MockStorageDriver) Download(ctx context.Context, params interfaces.DownloadOperationParameters) (*interfaces.DriveFile, error) {
	args := m.Called(ctx, params.StreamName())
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.DriveFile), args.Error(1)
}

func (m *MockStorageDriver) Delete(ctx context.Context, params interfaces.DeleteOperationParameters) error {
	args := m.Called(ctx, params.StreamName())
	return args.Error(0)
}

func (m *MockStorageDriver) ListStreams(ctx context.Context, params interfaces.ListStreamsOperationParameters) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStorageDriver) Exists(ctx context.Context, params interfaces.ExistsOperationParameters) (bool, error) {
	args := m.Called(ctx, params.StreamName())
	return args.Bool(0), args.Error(1)
}

func (m *MockStorageDriver) Name() string {
	return m.name
}

func driveFile(content string) *interfaces.DriveFile {
	return &interfaces.DriveFile{
		Data:     io.NopCloser(strings.NewReader(content)),
		Metadata: &interfaces.DriveFileMetadata{ContentType: interfaces.DefaultContentType},
	}
}

func TestMultiStorageDriver_Download(t *testing.T) {
	tenantID, partitionID, fileID := uuid.New(), uuid.New(), uuid.New()
	testErr := interfaces.BackendFailure("fetch", errors.New("connection refused"))
	notFound := interfaces.NotFoundf("missing")

	tests := []struct {
		name         string
		setupMocks   func() []*MockStorageDriver
		expectedData string
		expectedErr  error
	}{
		{
			name: "first driver successful",
			setupMocks: func() []*MockStorageDriver {
				mock1 := &MockStorageDriver{name: "mock-A"}
				mock1.On("Download", mock.Anything, "s").Return(driveFile("test data"), nil)

				// This mock should not be called as the first one succeeds
				mock2 := &MockStorageDriver{name: "mock-B"}

				return []*MockStorageDriver{mock1, mock2}
			},
			expectedData: "test data",
		},
		{
			name: "first driver fails, second succeeds",
			setupMocks: func() []*MockStorageDriver {
				mock1 := &MockStorageDriver{name: "mock-A"}
				mock1.On("Download", mock.Anything, "s").Return(nil, testErr)

				mock2 := &MockStorageDriver{name: "mock-B"}
				mock2.On("Download", mock.Anything, "s").Return(driveFile("test data"), nil)

				return []*MockStorageDriver{mock1, mock2}
			},
			expectedData: "test data",
		},
		{
			name: "missing everywhere",
			setupMocks: func() []*MockStorageDriver {
				mock1 := &MockStorageDriver{name: "mock-A"}
				mock1.On("Download", mock.Anything, "s").Return(nil, notFound)

				mock2 := &MockStorageDriver{name: "mock-B"}
				mock2.On("Download", mock.Anything, "s").Return(nil, notFound)

				return []*MockStorageDriver{mock1, mock2}
			},
			expectedErr: interfaces.ErrNotFound,
		},
		{
			name: "all drivers fail",
			setupMocks: func() []*MockStorageDriver {
				mock1 := &MockStorageDriver{name: "mock-A"}
				mock1.On("Download", mock.Anything, "s").Return(nil, testErr)

				mock2 := &MockStorageDriver{name: "mock-B"}
				mock2.On("Download", mock.Anything, "s").Return(nil, notFound)

				return []*MockStorageDriver{mock1, mock2}
			},
			expectedErr: interfaces.ErrBackendFailure,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			mocks := tt.setupMocks()
			drivers := make([]interfaces.StorageDriver, 0, len(mocks))
			for _, m := range mocks {
				drivers = append(drivers, m)
			}
			multi := NewMultiStorageDriver(drivers, testLogger())

			file, err := multi.Download(context.Background(), interfaces.NewDownloadOperationParameters(tenantID, partitionID, fileID, "s"))

			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Nil(t, file)
			} else {
				require.NoError(t, err)
				data, err := io.ReadAll(file.Data)
				require.NoError(t, err)
				assert.Equal(t, tt.expectedData, string(data))
			}

			for _, m := range mocks {
				m.AssertExpectations(t)
			}
		})
	}
}

func TestMultiStorageDriver_Upload(t *testing.T) {
	tenantID, partitionID, fileID := uuid.New(), uuid.New(), uuid.New()
	testErr := interfaces.BackendFailure("store", errors.New("disk full"))

	tests := []struct {
		name          string
		results       []error
		expectedError bool
	}{
		{name: "all drivers successful", results: []error{nil, nil, nil}},
		{name: "one driver fails", results: []error{nil, testErr, nil}, expectedError: true},
		{name: "all drivers fail", results: []error{testErr, testErr}, expectedError: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			var mocks []*MockStorageDriver
			var drivers []interfaces.StorageDriver
			for i, result := range tt.results {
				m := &MockStorageDriver{name: fmt.Sprintf("mock-%d", i)}
				// Every child receives its own full copy of the data.
				m.On("Upload", mock.Anything, "test data").Return(result)
				mocks = append(mocks, m)
				drivers = append(drivers, m)
			}
			multi := NewMultiStorageDriver(drivers, slog.New(slog.NewTextHandler(io.Discard, nil)))

			err := multi.Upload(context.Background(), interfaces.NewUploadOperationParameters(
				tenantID, partitionID, fileID, "", strings.NewReader("test data"), nil))

			if tt.expectedError {
				assert.ErrorIs(t, err, interfaces.ErrBackendFailure)
			} else {
				assert.NoError(t, err)
			}
			for _, m := range mocks {
				m.AssertExpectations(t)
			}
		})
	}
}

func TestMultiStorageDriver_UploadRejectedBeforeFanOut(t *testing.T) {
	tenantID, partitionID, fileID := uuid.New(), uuid.New(), uuid.New()

	tests := []struct {
		name   string
		params interfaces.UploadOperationParameters
	}{
		{"zero tenant", interfaces.NewUploadOperationParameters(uuid.Nil, partitionID, fileID, "s", strings.NewReader("x"), nil)},
		{"zero partition", interfaces.NewUploadOperationParameters(tenantID, uuid.Nil, fileID, "s", strings.NewReader("x"), nil)},
		{"zero file", interfaces.NewUploadOperationParameters(tenantID, partitionID, uuid.Nil, "s", strings.NewReader("x"), nil)},
		{"nil data", interfaces.NewUploadOperationParameters(tenantID, partitionID, fileID, "s", nil, nil)},
		{"versioned upload", interfaces.NewUploadOperationParameters(tenantID, partitionID, fileID, "s", strings.NewReader("x"), nil, interfaces.WithVersion("v1"))},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			a, b := &MockStorageDriver{name: "mock-a"}, &MockStorageDriver{name: "mock-b"}
			multi := NewMultiStorageDriver([]interfaces.StorageDriver{a, b}, slog.New(slog.NewTextHandler(io.Discard, nil)))

			err := multi.Upload(context.Background(), tt.params)
			assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
			a.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)
			b.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)
		})
	}
}

func TestMultiStorageDriver_ExistsAndList(t *testing.T) {
	tenantID, partitionID, fileID := uuid.New(), uuid.New(), uuid.New()

	mock1 := &MockStorageDriver{name: "mock-A"}
	mock1.On("Exists", mock.Anything, "s").Return(false, nil)
	mock1.On("ListStreams", mock.Anything).Return([]string{"b", "default"}, nil)

	mock2 := &MockStorageDriver{name: "mock-B"}
	mock2.On("Exists", mock.Anything, "s").Return(true, nil)
	mock2.On("ListStreams", mock.Anything).Return([]string{"a", "b"}, nil)

	multi := NewMultiStorageDriver([]interfaces.StorageDriver{mock1, mock2}, testLogger())

	ok, err := multi.Exists(context.Background(), interfaces.NewExistsOperationParameters(tenantID, partitionID, fileID, "s"))
	require.NoError(t, err)
	assert.True(t, ok)

	names, err := multi.ListStreams(context.Background(), interfaces.NewListStreamsOperationParameters(tenantID, partitionID, fileID))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "default"}, names)

	mock1.AssertExpectations(t)
	mock2.AssertExpectations(t)
}

func TestMultiStorageDriver_Capability(t *testing.T) {
	mem := NewMemoryDriver(testLogger())
	plain := &MockStorageDriver{name: "plain"}

	_, ok := NewMultiStorageDriver([]interfaces.StorageDriver{mem, NewMemoryDriver(testLogger())}, testLogger()).(interfaces.VersioningStorageDriver)
	assert.True(t, ok)

	_, ok = NewMultiStorageDriver([]interfaces.StorageDriver{mem, plain}, testLogger()).(interfaces.VersioningStorageDriver)
	assert.False(t, ok)

	empty := NewMultiStorageDriver(nil, testLogger())
	_, err := empty.ListStreams(context.Background(), interfaces.NewListStreamsOperationParameters(uuid.New(), uuid.New(), uuid.New()))
	assert.ErrorIs(t, err, interfaces.ErrBackendFailure)
}

func TestMultiStorageDriver_UpgradePropagates(t *testing.T) {
	tenantID, volumeID, partitionID := uuid.New(), uuid.New(), uuid.New()

	mock1 := &MockStorageDriver{name: "mock-A"}
	mock1.On("UpgradePartition", mock.Anything, tenantID, volumeID, partitionID).Return(nil)
	mock2 := &MockStorageDriver{name: "mock-B"}
	mock2.On("UpgradePartition", mock.Anything, tenantID, volumeID, partitionID).Return(interfaces.Conflictf("busy"))

	multi := NewMultiStorageDriver([]interfaces.StorageDriver{mock1, mock2}, testLogger())
	err := multi.UpgradePartition(context.Background(), tenantID, volumeID, partitionID)
	assert.ErrorIs(t, err, interfaces.ErrConflict)
	assert.Contains(t, err.Error(), "mock-B")
}
