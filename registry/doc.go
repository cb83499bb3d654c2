// Package registry implements drive controllers and the controller manager
// that resolves a tenant's drives to configured storage drivers.
//
// A DriveController turns driver-info strings into storage drivers using a
// DriverFactory, typically *storage.StorageDriverFactory, and may restrict the
// schemes it accepts. The DriveControllerManager keeps the loaded controllers
// in a map guarded by a read-write mutex and consults an
// interfaces.TenantDirectory to find which drives, and therefore which
// controllers, serve a tenant.
//
// The manager also caches the drivers it opens, keyed by controller and
// driver info. Unloading a controller evicts and closes its cached drivers;
// operations already running on those drivers may fail.
//
// Typical wiring:
//
//	factory := storage.NewStorageDriverFactory(logger, metrics)
//	controller, _ := registry.NewDriveController(id, "local", factory, "file", "sqlite")
//
//	manager := registry.NewDriveControllerManager(directory, logger)
//	_ = manager.LoadDriveController(controller)
//
//	driver, err := manager.OpenDefaultDriver(ctx, tenantID)
package registry
