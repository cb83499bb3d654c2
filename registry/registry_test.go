package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/ruteri/drive-storage-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(t *testing.T, name string, factory DriverFactory, schemes ...string) *DriveController {
	t.Helper()
	c, err := NewDriveController(uuid.New(), name, factory, schemes...)
	require.NoError(t, err)
	return c
}

func TestNewDriveController(t *testing.T) {
	factory := new(MockDriverFactory)

	_, err := NewDriveController(uuid.Nil, "zero", factory)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	_, err = NewDriveController(uuid.New(), "no factory", nil)
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	c, err := NewDriveController(uuid.New(), "local", factory, "SQLite", " file ")
	require.NoError(t, err)
	assert.Equal(t, "local", c.DisplayName())
	assert.Equal(t, []string{"file", "sqlite"}, c.Schemes())
	assert.Nil(t, newTestController(t, "any", factory).Schemes())
}

func TestDriveController_GetDriver(t *testing.T) {
	driver := new(MockStorageDriver)
	ctx := context.Background()

	tests := []struct {
		name        string
		schemes     []string
		driverInfo  string
		setupMocks  func(f *MockDriverFactory)
		expectError error
	}{
		{
			name:       "accepted scheme",
			schemes:    []string{"file"},
			driverInfo: "file:///var/lib/drive",
			setupMocks: func(f *MockDriverFactory) {
				f.On("DriverFor", mock.Anything, "file:///var/lib/drive").Return(driver, nil)
			},
		},
		{
			name:       "any scheme",
			driverInfo: "mem://",
			setupMocks: func(f *MockDriverFactory) {
				f.On("DriverFor", mock.Anything, "mem://").Return(driver, nil)
			},
		},
		{
			name:        "rejected scheme",
			schemes:     []string{"file"},
			driverInfo:  "s3://bucket/prefix",
			setupMocks:  func(f *MockDriverFactory) {},
			expectError: interfaces.ErrInvalidDriverInfo,
		},
		{
			name:        "malformed info",
			driverInfo:  "not a uri",
			setupMocks:  func(f *MockDriverFactory) {},
			expectError: interfaces.ErrInvalidDriverInfo,
		},
		{
			name:       "factory failure",
			driverInfo: "sqlite:///nonexistent/dir/drive.db",
			setupMocks: func(f *MockDriverFactory) {
				f.On("DriverFor", mock.Anything, mock.Anything).Return(nil, interfaces.BackendFailure("open", errors.New("no such directory")))
			},
			expectError: interfaces.ErrBackendFailure,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			factory := new(MockDriverFactory)
			tt.setupMocks(factory)
			c := newTestController(t, tt.name, factory, tt.schemes...)

			d, err := c.GetDriver(ctx, tt.driverInfo)
			if tt.expectError != nil {
				assert.ErrorIs(t, err, tt.expectError)
				assert.Nil(t, d)
			} else {
				require.NoError(t, err)
				assert.Same(t, driver, d)
			}
			factory.AssertExpectations(t)
		})
	}
}

func TestDriveControllerManager_LoadUnload(t *testing.T) {
	m := NewDriveControllerManager(NewStaticDirectory(nil), testLogger())
	c := newTestController(t, "a", new(MockDriverFactory))

	require.NoError(t, m.LoadDriveController(c))
	assert.ErrorIs(t, m.LoadDriveController(c), interfaces.ErrConflict)
	assert.ErrorIs(t, m.LoadDriveController(nil), interfaces.ErrInvalidArgument)

	controllers := m.DriveControllers()
	require.Len(t, controllers, 1)
	assert.Same(t, c, controllers[c.ControllerID()])

	// The returned map is a copy.
	delete(controllers, c.ControllerID())
	assert.Len(t, m.DriveControllers(), 1)

	require.NoError(t, m.UnloadDriveController(c.ControllerID()))
	assert.ErrorIs(t, m.UnloadDriveController(c.ControllerID()), interfaces.ErrNotFound)
	assert.Empty(t, m.DriveControllers())
}

func TestDriveControllerManager_Resolution(t *testing.T) {
	factory := new(MockDriverFactory)
	primary := newTestController(t, "primary", factory)
	archive := newTestController(t, "archive", factory)
	unloaded := newTestController(t, "unloaded", factory)

	tenantID := uuid.New()
	noDefaultTenant := uuid.New()
	defaultDrive, archiveDrive, secondDrive, orphanDrive := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	directory := NewStaticDirectory(map[uuid.UUID][]interfaces.DriveAssignment{
		tenantID: {
			{DriveID: archiveDrive, ControllerID: archive.ControllerID(), DriverInfo: "mem://archive"},
			{DriveID: defaultDrive, ControllerID: primary.ControllerID(), DriverInfo: "mem://primary", Default: true},
			{DriveID: secondDrive, ControllerID: archive.ControllerID(), DriverInfo: "mem://second"},
			{DriveID: orphanDrive, ControllerID: unloaded.ControllerID(), DriverInfo: "mem://orphan"},
		},
		noDefaultTenant: {
			{DriveID: uuid.New(), ControllerID: primary.ControllerID(), DriverInfo: "mem://x"},
		},
	})

	m := NewDriveControllerManager(directory, testLogger())
	require.NoError(t, m.LoadDriveController(primary))
	require.NoError(t, m.LoadDriveController(archive))
	ctx := context.Background()

	t.Run("default controller", func(t *testing.T) {
		c, err := m.GetDefaultDriveController(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, primary.ControllerID(), c.ControllerID())
	})

	t.Run("drive controller", func(t *testing.T) {
		c, err := m.GetDriveController(ctx, tenantID, secondDrive)
		require.NoError(t, err)
		assert.Equal(t, archive.ControllerID(), c.ControllerID())
	})

	t.Run("errors", func(t *testing.T) {
		_, err := m.GetDefaultDriveController(ctx, uuid.Nil)
		assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

		_, err = m.GetDefaultDriveController(ctx, uuid.New())
		assert.ErrorIs(t, err, interfaces.ErrNotFound)

		_, err = m.GetDefaultDriveController(ctx, noDefaultTenant)
		assert.ErrorIs(t, err, interfaces.ErrNotFound)

		_, err = m.GetDriveController(ctx, tenantID, uuid.New())
		assert.ErrorIs(t, err, interfaces.ErrNotFound)

		_, err = m.GetDriveController(ctx, tenantID, uuid.Nil)
		assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

		_, err = m.GetDriveController(ctx, tenantID, orphanDrive)
		assert.ErrorIs(t, err, interfaces.ErrNotFound)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err = m.GetDefaultDriveController(cancelled, tenantID)
		assert.ErrorIs(t, err, interfaces.ErrCancelled)
	})

	t.Run("list controllers", func(t *testing.T) {
		controllers, err := m.ListDriveControllers(ctx, tenantID)
		require.NoError(t, err)
		require.Len(t, controllers, 2)
		assert.Equal(t, archive.ControllerID(), controllers[0].ControllerID())
		assert.Equal(t, primary.ControllerID(), controllers[1].ControllerID())

		_, err = m.ListDriveControllers(ctx, uuid.New())
		assert.ErrorIs(t, err, interfaces.ErrNotFound)
	})
}

func TestDriveControllerManager_OpenDriver(t *testing.T) {
	tenantID, driveID := uuid.New(), uuid.New()
	driver := new(MockStorageDriver)
	driver.On("DriverVersion").Return("mock")
	driver.On("Close").Return(nil).Once()

	controllerID := uuid.New()
	controller := new(MockDriveController)
	controller.On("ControllerID").Return(controllerID)
	controller.On("DisplayName").Return("mock")
	controller.On("GetDriver", mock.Anything, "mem://tenant").Return(driver, nil).Once()

	directory := new(MockTenantDirectory)
	directory.On("TenantDrives", mock.Anything, tenantID).Return([]interfaces.DriveAssignment{
		{DriveID: driveID, ControllerID: controllerID, DriverInfo: "mem://tenant", Default: true},
	}, nil)

	m := NewDriveControllerManager(directory, testLogger())
	ctx := context.Background()

	_, err := m.OpenDefaultDriver(ctx, tenantID)
	assert.ErrorIs(t, err, interfaces.ErrNotFound, "controller is not loaded yet")

	require.NoError(t, m.LoadDriveController(controller))

	d1, err := m.OpenDefaultDriver(ctx, tenantID)
	require.NoError(t, err)
	d2, err := m.OpenDriver(ctx, tenantID, driveID)
	require.NoError(t, err)
	assert.Same(t, d1, d2, "drivers are cached per controller and driver info")

	a, err := m.Assignment(ctx, tenantID, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, driveID, a.DriveID)

	// Unloading evicts and closes the cached driver.
	require.NoError(t, m.UnloadDriveController(controllerID))
	_, err = m.OpenDefaultDriver(ctx, tenantID)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	controller.AssertExpectations(t)
	driver.AssertExpectations(t)
	directory.AssertExpectations(t)
}

func TestDriveControllerManager_Concurrency(t *testing.T) {
	tenantID := uuid.New()
	factory := new(MockDriverFactory)
	controllers := make([]*DriveController, 16)
	assignments := make([]interfaces.DriveAssignment, 0, len(controllers))
	for i := range controllers {
		controllers[i] = newTestController(t, "c", factory)
		assignments = append(assignments, interfaces.DriveAssignment{
			DriveID:      uuid.New(),
			ControllerID: controllers[i].ControllerID(),
			DriverInfo:   "mem://",
			Default:      i == 0,
		})
	}

	m := NewDriveControllerManager(TenantDirectoryFunc(func(ctx context.Context, id uuid.UUID) ([]interfaces.DriveAssignment, error) {
		return assignments, nil
	}), testLogger())
	require.NoError(t, m.LoadDriveController(controllers[0]))

	var wg sync.WaitGroup
	for _, c := range controllers[1:] {
		c := c
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.LoadDriveController(c))
		}()
		go func() {
			defer wg.Done()
			_, err := m.GetDefaultDriveController(context.Background(), tenantID)
			assert.NoError(t, err)
			_, err = m.ListDriveControllers(context.Background(), tenantID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	listed, err := m.ListDriveControllers(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Len(t, listed, len(controllers))
}

func TestStaticDirectory(t *testing.T) {
	tenantA, tenantB := uuid.New(), uuid.New()
	source := map[uuid.UUID][]interfaces.DriveAssignment{
		tenantA: {{DriveID: uuid.New(), ControllerID: uuid.New(), DriverInfo: "mem://", Default: true}},
		tenantB: {},
	}
	d := NewStaticDirectory(source)
	source[tenantA][0].DriverInfo = "changed"

	drives, err := d.TenantDrives(context.Background(), tenantA)
	require.NoError(t, err)
	require.Len(t, drives, 1)
	assert.Equal(t, "mem://", drives[0].DriverInfo)

	drives, err = d.TenantDrives(context.Background(), tenantB)
	require.NoError(t, err)
	assert.Empty(t, drives)

	_, err = d.TenantDrives(context.Background(), uuid.New())
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	assert.ElementsMatch(t, []uuid.UUID{tenantA, tenantB}, d.Tenants())
}
