package registry

import (
	"context"

	"github.com/google/uuid"
	"github.com/ruteri/drive-storage-backend/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockStorageDriver mocks the StorageDriver interface
type MockStorageDriver struct {
	mock.Mock
}

// DriverVersion mocks the DriverVersion method
func (m *MockStorageDriver) DriverVersion() string {
	args := m.Called()
	return args.String(0)
}

// UpgradePartition mocks the UpgradePartition method
func (m *MockStorageDriver) UpgradePartition(ctx context.Context, tenantID, volumeID, partitionID uuid.UUID) error {
	args := m.Called(ctx, tenantID, volumeID, partitionID)
	return args.Error(0)
}

// Upload mocks the Upload method
func (m *MockStorageDriver) Upload(ctx context.Context, params interfaces.UploadOperationParameters) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}

// Download mocks the Download method
func (m *MockStorageDriver) Download(ctx context.Context, params interfaces.DownloadOperationParameters) (*interfaces.DriveFile, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.DriveFile), args.Error(1)
}

// Delete mocks the Delete method
func (m *MockStorageDriver) Delete(ctx context.Context, params interfaces.DeleteOperationParameters) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}

// ListStreams mocks the ListStreams method
func (m *MockStorageDriver) ListStreams(ctx context.Context, params interfaces.ListStreamsOperationParameters) ([]string, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// Exists mocks the Exists method
func (m *MockStorageDriver) Exists(ctx context.Context, params interfaces.ExistsOperationParameters) (bool, error) {
	args := m.Called(ctx, params)
	return args.Bool(0), args.Error(1)
}

// Close mocks the Close method
func (m *MockStorageDriver) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockVersioningStorageDriver mocks the VersioningStorageDriver interface
type MockVersioningStorageDriver struct {
	MockStorageDriver
}

// Snapshot mocks the Snapshot method
func (m *MockVersioningStorageDriver) Snapshot(ctx context.Context, params interfaces.SnapshotOperationParameters) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}

// MockDriveController mocks the DriveController interface
type MockDriveController struct {
	mock.Mock
}

// ControllerID mocks the ControllerID method
func (m *MockDriveController) ControllerID() uuid.UUID {
	args := m.Called()
	return args.Get(0).(uuid.UUID)
}

// DisplayName mocks the DisplayName method
func (m *MockDriveController) DisplayName() string {
	args := m.Called()
	return args.String(0)
}

// GetDriver mocks the GetDriver method
func (m *MockDriveController) GetDriver(ctx context.Context, driverInfo string) (interfaces.StorageDriver, error) {
	args := m.Called(ctx, driverInfo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(interfaces.StorageDriver), args.Error(1)
}

// MockTenantDirectory mocks the TenantDirectory interface
type MockTenantDirectory struct {
	mock.Mock
}

// TenantDrives mocks the TenantDrives method
func (m *MockTenantDirectory) TenantDrives(ctx context.Context, tenantID uuid.UUID) ([]interfaces.DriveAssignment, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.DriveAssignment), args.Error(1)
}

// MockDriverFactory mocks the DriverFactory interface
type MockDriverFactory struct {
	mock.Mock
}

// DriverFor mocks the DriverFor method
func (m *MockDriverFactory) DriverFor(ctx context.Context, driverInfo string) (interfaces.StorageDriver, error) {
	args := m.Called(ctx, driverInfo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(interfaces.StorageDriver), args.Error(1)
}
