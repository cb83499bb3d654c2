// Command drivectl runs storage driver operations against any drive the
// driver factory can open, including a remote gateway.
//
//	drivectl --driver http://127.0.0.1:8080?drive=default \
//	    --tenant $TENANT --partition $PARTITION --file $FILE upload --stream thumb ./thumb.png
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/ruteri/drive-storage-backend/cmd/flags"
	"github.com/ruteri/drive-storage-backend/drive"
	"github.com/ruteri/drive-storage-backend/interfaces"
	"github.com/ruteri/drive-storage-backend/storage"
	"github.com/urfave/cli/v2"
)

var flagTenant = &cli.StringFlag{
	Name:     "tenant",
	Required: true,
	EnvVars:  []string{"DRIVE_TENANT"},
	Usage:    "tenant UUID",
}
var flagPartition = &cli.StringFlag{
	Name:     "partition",
	Required: true,
	Usage:    "partition UUID",
}
var flagFile = &cli.StringFlag{
	Name:  "file",
	Usage: "file UUID",
}
var flagStream = &cli.StringFlag{
	Name:  "stream",
	Value: interfaces.DefaultStreamName,
	Usage: "stream name",
}
var flagVersion = &cli.StringFlag{
	Name:  "version",
	Usage: "file version",
}
var flagAlternateID = &cli.StringFlag{
	Name:  "alternate-id",
	Usage: "caller-defined alternate identifier passed to the driver",
}

var usage = `Operate on one file of a tenant drive.

The drive is selected with --driver and accepts every driver info the server
accepts in its drive assignment file.`

type command struct {
	driver    interfaces.StorageDriver
	tenant    uuid.UUID
	partition uuid.UUID
	file      uuid.UUID
}

func main() {
	app := &cli.App{
		Name:  "drivectl",
		Usage: usage,
		Flags: append([]cli.Flag{
			flags.DriverFlag,
			flags.LogServiceFlagFn("drivectl"),
			flagTenant,
			flagPartition,
			flagFile,
		}, flags.LogFlags...),
		Commands: []*cli.Command{
			{
				Name:      "upload",
				Usage:     "store a local file (or stdin) as a stream",
				ArgsUsage: "[path]",
				Flags: []cli.Flag{
					flagStream,
					flagAlternateID,
					&cli.StringFlag{Name: "name", Usage: "file name stored with the stream, defaults to the base name of path"},
					&cli.StringFlag{Name: "content-type", Usage: "content type stored with the stream"},
				},
				Action: withCommand(func(cCtx *cli.Context, c *command) error {
					var in io.Reader = os.Stdin
					name := cCtx.String("name")
					if path := cCtx.Args().First(); path != "" && path != "-" {
						f, err := os.Open(path)
						if err != nil {
							return err
						}
						defer f.Close()
						in = f
						if name == "" {
							name = filepath.Base(path)
						}
					}
					return drive.Upload(cCtx.Context, c.driver, c.tenant, c.partition, c.file,
						cCtx.String(flagStream.Name), cCtx.String(flagAlternateID.Name), in,
						&interfaces.DriveFileMetadata{FileName: name, ContentType: cCtx.String("content-type")})
				}),
			},
			{
				Name:      "download",
				Usage:     "write a stream to a local file (or stdout)",
				ArgsUsage: "[path]",
				Flags:     []cli.Flag{flagStream, flagVersion},
				Action: withCommand(func(cCtx *cli.Context, c *command) error {
					file, err := drive.DownloadVersion(cCtx.Context, c.driver, c.tenant, c.partition, c.file,
						cCtx.String(flagStream.Name), cCtx.String(flagVersion.Name))
					if err != nil {
						return err
					}
					defer file.Data.Close()

					var out io.Writer = os.Stdout
					if path := cCtx.Args().First(); path != "" && path != "-" {
						f, err := os.Create(path)
						if err != nil {
							return err
						}
						defer f.Close()
						out = f
					}
					if _, err := io.Copy(out, file.Data); err != nil {
						return err
					}
					if file.Metadata != nil {
						fmt.Fprintf(os.Stderr, "name=%q content-type=%q\n", file.Metadata.FileName, file.Metadata.ContentType)
					}
					return nil
				}),
			},
			{
				Name:  "exists",
				Usage: "report whether a stream exists",
				Flags: []cli.Flag{flagStream, flagVersion},
				Action: withCommand(func(cCtx *cli.Context, c *command) error {
					ok, err := c.driver.Exists(cCtx.Context, interfaces.NewExistsOperationParameters(c.tenant, c.partition, c.file,
						cCtx.String(flagStream.Name), interfaces.WithVersion(cCtx.String(flagVersion.Name))))
					if err != nil {
						return err
					}
					fmt.Println(ok)
					if !ok {
						return cli.Exit("", 1)
					}
					return nil
				}),
			},
			{
				Name:  "ls",
				Usage: "list the streams of a file",
				Flags: []cli.Flag{flagVersion},
				Action: withCommand(func(cCtx *cli.Context, c *command) error {
					names, err := drive.ListStreams(cCtx.Context, c.driver, c.tenant, c.partition, c.file, cCtx.String(flagVersion.Name))
					if err != nil {
						return err
					}
					return json.NewEncoder(os.Stdout).Encode(names)
				}),
			},
			{
				Name:  "rm",
				Usage: "delete one stream",
				Flags: []cli.Flag{flagStream, flagVersion, flagAlternateID},
				Action: withCommand(func(cCtx *cli.Context, c *command) error {
					return c.driver.Delete(cCtx.Context, interfaces.NewDeleteOperationParameters(c.tenant, c.partition, c.file,
						cCtx.String(flagStream.Name),
						interfaces.WithVersion(cCtx.String(flagVersion.Name)),
						interfaces.WithAlternateID(cCtx.String(flagAlternateID.Name))))
				}),
			},
			{
				Name:  "rm-file",
				Usage: "delete every stream and version of a file, or one version with --version",
				Flags: []cli.Flag{flagVersion, flagAlternateID},
				Action: withCommand(func(cCtx *cli.Context, c *command) error {
					if v := cCtx.String(flagVersion.Name); v != "" {
						return drive.DeleteVersion(cCtx.Context, c.driver, c.tenant, c.partition, c.file, v)
					}
					return drive.DeleteFile(cCtx.Context, c.driver, c.tenant, c.partition, c.file, cCtx.String(flagAlternateID.Name))
				}),
			},
			{
				Name:      "snapshot",
				Usage:     "capture the live streams of a file as a version",
				ArgsUsage: "<version>",
				Flags:     []cli.Flag{flagAlternateID},
				Action: withCommand(func(cCtx *cli.Context, c *command) error {
					if cCtx.NArg() != 1 {
						return cli.Exit("snapshot requires exactly one version argument", 2)
					}
					return drive.Snapshot(cCtx.Context, c.driver, c.tenant, c.partition, c.file,
						cCtx.String(flagAlternateID.Name), cCtx.Args().First())
				}),
			},
			{
				Name:  "upgrade",
				Usage: "move a partition stored under a legacy volume id to the tenant layout",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "volume", Required: true, Usage: "legacy volume UUID"},
				},
				Action: withDriver(func(cCtx *cli.Context, d interfaces.StorageDriver, tenant, partition uuid.UUID) error {
					volume, err := uuid.Parse(cCtx.String("volume"))
					if err != nil {
						return fmt.Errorf("invalid volume id: %w", err)
					}
					return drive.UpgradePartition(cCtx.Context, d, tenant, volume, partition)
				}),
			},
			{
				Name:  "info",
				Usage: "print the driver version and capabilities of the drive",
				Action: withDriver(func(cCtx *cli.Context, d interfaces.StorageDriver, tenant, partition uuid.UUID) error {
					_, versioning := d.(interfaces.VersioningStorageDriver)
					return json.NewEncoder(os.Stdout).Encode(map[string]any{
						"driver_version": d.DriverVersion(),
						"versioning":     versioning,
					})
				}),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// withDriver opens the drive selected by --driver for the duration of action.
func withDriver(action func(cCtx *cli.Context, d interfaces.StorageDriver, tenant, partition uuid.UUID) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		logger := flags.SetupLogger(cCtx)

		tenant, err := uuid.Parse(cCtx.String(flagTenant.Name))
		if err != nil {
			return fmt.Errorf("invalid tenant id: %w", err)
		}
		partition, err := uuid.Parse(cCtx.String(flagPartition.Name))
		if err != nil {
			return fmt.Errorf("invalid partition id: %w", err)
		}

		d, err := storage.NewStorageDriverFactory(logger, nil).DriverFor(cCtx.Context, cCtx.String(flags.DriverFlag.Name))
		if err != nil {
			return fmt.Errorf("could not open driver: %w", err)
		}
		if closer, ok := d.(io.Closer); ok {
			defer closer.Close()
		}

		if err := action(cCtx, d, tenant, partition); err != nil {
			logger.Debug("Command failed", "kind", interfaces.KindOf(err).String(), "err", err)
			return err
		}
		return nil
	}
}

// withCommand additionally requires --file.
func withCommand(action func(cCtx *cli.Context, c *command) error) cli.ActionFunc {
	return withDriver(func(cCtx *cli.Context, d interfaces.StorageDriver, tenant, partition uuid.UUID) error {
		file, err := uuid.Parse(cCtx.String(flagFile.Name))
		if err != nil {
			return fmt.Errorf("invalid file id: %w", err)
		}
		return action(cCtx, &command{driver: d, tenant: tenant, partition: partition, file: file})
	})
}
