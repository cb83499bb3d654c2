// Command driveserver serves the tenant drives declared in a drive assignment
// file over the drive gateway HTTP API.
//
//	driveserver --config /etc/drive/drives.yaml --listen-addr 0.0.0.0:8080
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/drive-storage-backend/cmd/flags"
	"github.com/ruteri/drive-storage-backend/common"
	"github.com/ruteri/drive-storage-backend/config"
	"github.com/ruteri/drive-storage-backend/httpserver"
	"github.com/ruteri/drive-storage-backend/metrics"
	"github.com/ruteri/drive-storage-backend/registry"
	"github.com/ruteri/drive-storage-backend/storage"
	"github.com/urfave/cli/v2"
)

var flagPreopen = &cli.BoolFlag{
	Name:  "preopen-drives",
	Value: false,
	Usage: "open every configured drive at startup and fail if any cannot be opened",
}

func main() {
	app := &cli.App{
		Name:  "driveserver",
		Usage: "Serve tenant drives over HTTP",
		Flags: append([]cli.Flag{
			flags.ListenAddrFlag,
			flags.ConfigFlag,
			flags.LogServiceFlagFn("driveserver"),
			flagPreopen,
		}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)
			serverCfg := flags.ConfigureServer(cCtx, logger, cCtx.String(flags.ListenAddrFlag.Name))

			configPath := cCtx.String(flags.ConfigFlag.Name)
			logger.Info("Loading drive configuration", "path", configPath)
			cfg, err := config.Load(configPath)
			if err != nil {
				logger.Error("Failed to load drive configuration", "err", err)
				return err
			}

			metricsSrv, err := metrics.New(common.PackageName, serverCfg.MetricsAddr)
			if err != nil {
				logger.Error("Failed to create metrics server", "err", err)
				return err
			}

			storageFactory := storage.NewStorageDriverFactory(logger, metricsSrv.Drivers())
			directory := registry.NewStaticDirectory(cfg.Assignments())
			manager := registry.NewDriveControllerManager(directory, logger)
			defer manager.Close()

			for _, c := range cfg.Controllers {
				controller, err := registry.NewDriveController(uuid.MustParse(c.ID), c.Name, storageFactory, c.Schemes...)
				if err != nil {
					logger.Error("Failed to create drive controller", "controller_id", c.ID, "err", err)
					return err
				}
				if err := manager.LoadDriveController(controller); err != nil {
					logger.Error("Failed to load drive controller", "controller_id", c.ID, "err", err)
					return err
				}
			}

			if cCtx.Bool(flagPreopen.Name) {
				if err := preopenDrives(cCtx.Context, logger, manager, directory); err != nil {
					return err
				}
			}

			handler := httpserver.NewHandler(manager, logger)
			server, err := httpserver.New(serverCfg, metricsSrv, handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server",
				"controllers", len(cfg.Controllers),
				"tenants", len(cfg.Tenants))
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// preopenDrives opens the driver of every configured drive.
func preopenDrives(ctx context.Context, logger *slog.Logger, manager *registry.DriveControllerManager, directory *registry.StaticDirectory) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	for _, tenantID := range directory.Tenants() {
		drives, err := directory.TenantDrives(ctx, tenantID)
		if err != nil {
			return err
		}
		for _, a := range drives {
			d, err := manager.OpenAssignment(ctx, a)
			if err != nil {
				logger.Error("Failed to open drive",
					"tenant_id", tenantID.String(),
					"drive_id", a.DriveID.String(),
					"err", err)
				return err
			}
			logger.Info("Opened drive",
				"tenant_id", tenantID.String(),
				"drive_id", a.DriveID.String(),
				"driver_version", d.DriverVersion())
		}
	}
	return nil
}
