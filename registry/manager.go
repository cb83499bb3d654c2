package registry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/ruteri/drive-storage-backend/interfaces"
)

type driverKey struct {
	controllerID uuid.UUID
	driverInfo   string
}

// DriveControllerManager is the registry of loaded drive controllers. Loads and
// unloads take the write lock; lookups share the read lock.
type DriveControllerManager struct {
	directory interfaces.TenantDirectory
	log       *slog.Logger

	mu          sync.RWMutex
	controllers map[uuid.UUID]interfaces.DriveController
	drivers     map[driverKey]interfaces.StorageDriver
}

var _ interfaces.DriveControllerManager = (*DriveControllerManager)(nil)

// NewDriveControllerManager creates an empty manager resolving tenants through directory.
func NewDriveControllerManager(directory interfaces.TenantDirectory, log *slog.Logger) *DriveControllerManager {
	if log == nil {
		log = slog.Default()
	}
	return &DriveControllerManager{
		directory:   directory,
		log:         log,
		controllers: make(map[uuid.UUID]interfaces.DriveController),
		drivers:     make(map[driverKey]interfaces.StorageDriver),
	}
}

// DriveControllers returns a copy of the loaded controllers.
func (m *DriveControllerManager) DriveControllers() map[uuid.UUID]interfaces.DriveController {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[uuid.UUID]interfaces.DriveController, len(m.controllers))
	for id, c := range m.controllers {
		out[id] = c
	}
	return out
}

func (m *DriveControllerManager) LoadDriveController(controller interfaces.DriveController) error {
	if controller == nil {
		return interfaces.InvalidArgumentf("controller must not be nil")
	}
	id := controller.ControllerID()
	if id == uuid.Nil {
		return interfaces.InvalidArgumentf("controller id must not be the zero uuid")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.controllers[id]; ok {
		return interfaces.Conflictf("controller %s is already loaded", id)
	}
	m.controllers[id] = controller

	m.log.Info("Loaded drive controller",
		slog.String("controller_id", id.String()),
		slog.String("name", controller.DisplayName()))
	return nil
}

// UnloadDriveController removes a controller and closes the drivers opened
// through it.
func (m *DriveControllerManager) UnloadDriveController(controllerID uuid.UUID) error {
	m.mu.Lock()
	if _, ok := m.controllers[controllerID]; !ok {
		m.mu.Unlock()
		return interfaces.NotFoundf("controller %s is not loaded", controllerID)
	}
	delete(m.controllers, controllerID)

	var evicted []interfaces.StorageDriver
	for key, d := range m.drivers {
		if key.controllerID == controllerID {
			evicted = append(evicted, d)
			delete(m.drivers, key)
		}
	}
	m.mu.Unlock()

	for _, d := range evicted {
		m.closeDriver(d)
	}
	m.log.Info("Unloaded drive controller",
		slog.String("controller_id", controllerID.String()),
		slog.Int("evicted_drivers", len(evicted)))
	return nil
}

// ListDriveControllers returns the loaded controllers serving the tenant's
// drives, in assignment order and without duplicates.
func (m *DriveControllerManager) ListDriveControllers(ctx context.Context, tenantID uuid.UUID) ([]interfaces.DriveController, error) {
	assignments, err := m.assignments(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[uuid.UUID]struct{}, len(assignments))
	out := make([]interfaces.DriveController, 0, len(assignments))
	for _, a := range assignments {
		if _, dup := seen[a.ControllerID]; dup {
			continue
		}
		if c, ok := m.controllers[a.ControllerID]; ok {
			seen[a.ControllerID] = struct{}{}
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *DriveControllerManager) GetDefaultDriveController(ctx context.Context, tenantID uuid.UUID) (interfaces.DriveController, error) {
	a, err := m.Assignment(ctx, tenantID, uuid.Nil)
	if err != nil {
		return nil, err
	}
	return m.controller(a.ControllerID)
}

func (m *DriveControllerManager) GetDriveController(ctx context.Context, tenantID, driveID uuid.UUID) (interfaces.DriveController, error) {
	if driveID == uuid.Nil {
		return nil, interfaces.InvalidArgumentf("drive id must not be the zero uuid")
	}
	a, err := m.Assignment(ctx, tenantID, driveID)
	if err != nil {
		return nil, err
	}
	return m.controller(a.ControllerID)
}

// Assignment returns the tenant's assignment for driveID. uuid.Nil selects the
// tenant's default drive.
func (m *DriveControllerManager) Assignment(ctx context.Context, tenantID, driveID uuid.UUID) (interfaces.DriveAssignment, error) {
	assignments, err := m.assignments(ctx, tenantID)
	if err != nil {
		return interfaces.DriveAssignment{}, err
	}
	for _, a := range assignments {
		if (driveID == uuid.Nil && a.Default) || (driveID != uuid.Nil && a.DriveID == driveID) {
			return a, nil
		}
	}
	if driveID == uuid.Nil {
		return interfaces.DriveAssignment{}, interfaces.NotFoundf("tenant %s has no default drive", tenantID)
	}
	return interfaces.DriveAssignment{}, interfaces.NotFoundf("tenant %s has no drive %s", tenantID, driveID)
}

// OpenDriver resolves the tenant's drive to a storage driver. uuid.Nil selects
// the default drive. Drivers are cached per controller and driver info.
func (m *DriveControllerManager) OpenDriver(ctx context.Context, tenantID, driveID uuid.UUID) (interfaces.StorageDriver, error) {
	a, err := m.Assignment(ctx, tenantID, driveID)
	if err != nil {
		return nil, err
	}
	return m.OpenAssignment(ctx, a)
}

// OpenDefaultDriver resolves the tenant's default drive to a storage driver.
func (m *DriveControllerManager) OpenDefaultDriver(ctx context.Context, tenantID uuid.UUID) (interfaces.StorageDriver, error) {
	return m.OpenDriver(ctx, tenantID, uuid.Nil)
}

// Close closes every cached driver. Loaded controllers stay registered.
func (m *DriveControllerManager) Close() error {
	m.mu.Lock()
	drivers := m.drivers
	m.drivers = make(map[driverKey]interfaces.StorageDriver)
	m.mu.Unlock()

	for _, d := range drivers {
		m.closeDriver(d)
	}
	return nil
}

// OpenAssignment returns the driver for a resolved assignment, creating it
// through the assigned controller on first use.
func (m *DriveControllerManager) OpenAssignment(ctx context.Context, a interfaces.DriveAssignment) (interfaces.StorageDriver, error) {
	key := driverKey{controllerID: a.ControllerID, driverInfo: a.DriverInfo}

	m.mu.RLock()
	c, loaded := m.controllers[a.ControllerID]
	d, cached := m.drivers[key]
	m.mu.RUnlock()

	if !loaded {
		return nil, interfaces.NotFoundf("controller %s is not loaded", a.ControllerID)
	}
	if cached {
		return d, nil
	}

	d, err := c.GetDriver(ctx, a.DriverInfo)
	if err != nil {
		return nil, fmt.Errorf("controller %s: %w", a.ControllerID, err)
	}

	m.mu.Lock()
	if _, ok := m.controllers[a.ControllerID]; !ok {
		m.mu.Unlock()
		m.closeDriver(d)
		return nil, interfaces.NotFoundf("controller %s was unloaded", a.ControllerID)
	}
	if existing, ok := m.drivers[key]; ok {
		m.mu.Unlock()
		m.closeDriver(d)
		return existing, nil
	}
	m.drivers[key] = d
	m.mu.Unlock()

	m.log.Debug("Opened storage driver",
		slog.String("controller_id", a.ControllerID.String()),
		slog.String("drive_id", a.DriveID.String()),
		slog.String("driver_version", d.DriverVersion()))
	return d, nil
}

func (m *DriveControllerManager) assignments(ctx context.Context, tenantID uuid.UUID) ([]interfaces.DriveAssignment, error) {
	if tenantID == uuid.Nil {
		return nil, interfaces.InvalidArgumentf("tenant id must not be the zero uuid")
	}
	if m.directory == nil {
		return nil, interfaces.NotFoundf("no tenant directory configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, interfaces.Cancelled(err)
	}
	return m.directory.TenantDrives(ctx, tenantID)
}

func (m *DriveControllerManager) controller(id uuid.UUID) (interfaces.DriveController, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.controllers[id]
	if !ok {
		return nil, interfaces.NotFoundf("controller %s is not loaded", id)
	}
	return c, nil
}

func (m *DriveControllerManager) closeDriver(d interfaces.StorageDriver) {
	c, ok := d.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		m.log.Warn("Failed to close storage driver", "err", err)
	}
}
