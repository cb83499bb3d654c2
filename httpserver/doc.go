/*
Package httpserver implements the drive gateway HTTP server.

The gateway exposes the storage driver operations of every tenant drive over
HTTP. Requests name a tenant and a drive (a drive UUID or "default"); the
server resolves the drive through a registry.DriveControllerManager, opens the
storage driver of the assigned controller and runs the operation against it.
The route table and the error to status mapping are documented in package api;
clients.DriveClient is the matching Go client.

# Endpoints

  - Drive routes under /api/tenants/{tenant_id}/drives/{drive_id}
  - GET /api/tenants/{tenant_id}/drives - controllers serving a tenant
  - GET /api/controllers - loaded controllers
  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Gracefully mark server as not ready
  - GET /undrain - Mark server as ready
  - /debug/pprof - when EnablePprof is set

Metrics are served by a separate listener on MetricsAddr.

# Example Usage

	cfg := &httpserver.HTTPServerConfig{
		ListenAddr:               ":8080",
		MetricsAddr:              ":8090",
		Log:                      logger,
		DrainDuration:            30 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             60 * time.Second,
	}

	manager := registry.NewDriveControllerManager(directory, logger)
	srv, err := httpserver.New(cfg, metricsSrv, httpserver.NewHandler(manager, logger))
	if err != nil {
		log.Fatal(err)
	}
	srv.RunInBackground()
	defer srv.Shutdown()
*/
package httpserver
