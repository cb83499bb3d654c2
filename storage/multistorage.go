package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/drive-storage-backend/interfaces"
	"golang.org/x/sync/errgroup"
)

// MultiStorageDriver replicates content across several drivers. Mutations are
// applied to every child concurrently and fail if any child fails. Reads fall
// back through the children in order and return the first hit.
type MultiStorageDriver struct {
	drivers []interfaces.StorageDriver
	log     *slog.Logger
}

// versioningMultiStorageDriver is returned when every child supports snapshots.
type versioningMultiStorageDriver struct {
	*MultiStorageDriver
}

var (
	_ interfaces.StorageDriver           = (*MultiStorageDriver)(nil)
	_ interfaces.VersioningStorageDriver = versioningMultiStorageDriver{}
)

// NewMultiStorageDriver creates a replicating driver over drivers. The result
// implements interfaces.VersioningStorageDriver only if every child does.
func NewMultiStorageDriver(drivers []interfaces.StorageDriver, logger *slog.Logger) interfaces.StorageDriver {
	m := &MultiStorageDriver{
		drivers: drivers,
		log:     loggerOrDefault(logger),
	}
	if len(drivers) == 0 {
		return m
	}
	for _, d := range drivers {
		if _, ok := d.(interfaces.VersioningStorageDriver); !ok {
			return m
		}
	}
	return versioningMultiStorageDriver{m}
}

// DriverVersion joins the versions of the children.
func (m *MultiStorageDriver) DriverVersion() string {
	versions := make([]string, 0, len(m.drivers))
	for _, d := range m.drivers {
		versions = append(versions, d.DriverVersion())
	}
	return "multi(" + strings.Join(versions, ",") + ")"
}

// Name returns the name of this driver.
func (m *MultiStorageDriver) Name() string {
	return "multi-storage"
}

// LocationURI returns a combined location of all children.
func (m *MultiStorageDriver) LocationURI() string {
	var locations []string
	for _, d := range m.drivers {
		if l, ok := d.(interface{ LocationURI() string }); ok {
			locations = append(locations, l.LocationURI())
		} else {
			locations = append(locations, driverName(d))
		}
	}
	return "multi:[" + strings.Join(locations, ",") + "]"
}

// Close closes every child that holds resources.
func (m *MultiStorageDriver) Close() error {
	var errs []error
	for _, d := range m.drivers {
		if c, ok := d.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", driverName(d), err))
			}
		}
	}
	return errors.Join(errs...)
}

// Upload buffers the data once and uploads a copy to every child.
func (m *MultiStorageDriver) Upload(ctx context.Context, params interfaces.UploadOperationParameters) error {
	if err := interfaces.ValidateUpload(params); err != nil {
		return err
	}
	if err := m.requireDrivers(); err != nil {
		return err
	}

	data, err := readAll(ctx, params.Data)
	if err != nil {
		return interfaces.BackendFailure("read upload data", err)
	}

	return m.forEach(ctx, "upload", func(ctx context.Context, d interfaces.StorageDriver) error {
		child := interfaces.NewUploadOperationParameters(
			params.TenantID(), params.PartitionID(), params.FileID(), params.StreamName(),
			bytes.NewReader(data), params.Metadata, interfaces.WithAlternateID(params.AlternateID()))
		return d.Upload(ctx, child)
	})
}

func (m *MultiStorageDriver) Delete(ctx context.Context, params interfaces.DeleteOperationParameters) error {
	if err := interfaces.ValidateDelete(params); err != nil {
		return err
	}
	if err := m.requireDrivers(); err != nil {
		return err
	}
	return m.forEach(ctx, "delete", func(ctx context.Context, d interfaces.StorageDriver) error {
		return d.Delete(ctx, params)
	})
}

func (m *MultiStorageDriver) UpgradePartition(ctx context.Context, tenantID, volumeID, partitionID uuid.UUID) error {
	if err := interfaces.ValidateUpgrade(tenantID, volumeID, partitionID); err != nil {
		return err
	}
	if err := m.requireDrivers(); err != nil {
		return err
	}
	return m.forEach(ctx, "upgrade partition", func(ctx context.Context, d interfaces.StorageDriver) error {
		return d.UpgradePartition(ctx, tenantID, volumeID, partitionID)
	})
}

// Download returns the stream from the first child that has it.
func (m *MultiStorageDriver) Download(ctx context.Context, params interfaces.DownloadOperationParameters) (*interfaces.DriveFile, error) {
	if err := interfaces.ValidateStream(params.StreamOperationParameters); err != nil {
		return nil, err
	}
	if err := m.requireDrivers(); err != nil {
		return nil, err
	}

	start := time.Now()
	var errs []error
	for _, d := range m.drivers {
		file, err := d.Download(ctx, params)
		if err == nil {
			m.log.Debug("Fetched stream",
				slog.String("driver_name", driverName(d)),
				slog.Duration("duration", time.Since(start)))
			return file, nil
		}
		if interfaces.KindOf(err) == interfaces.KindCancelled {
			return nil, err
		}
		if !errors.Is(err, interfaces.ErrNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", driverName(d), err))
			m.log.Debug("Failed to fetch from driver",
				slog.String("driver_name", driverName(d)),
				"err", err)
		}
	}

	if len(errs) == 0 {
		return nil, interfaces.NotFoundf("stream %q of file %s", params.StreamName(), params.FileID())
	}
	m.log.Error("All drivers failed to fetch stream",
		slog.Int("failed_drivers", len(errs)),
		slog.Duration("duration", time.Since(start)))
	return nil, interfaces.BackendFailure("download", errors.Join(errs...))
}

// Exists reports whether any child has the stream.
func (m *MultiStorageDriver) Exists(ctx context.Context, params interfaces.ExistsOperationParameters) (bool, error) {
	if err := interfaces.ValidateStream(params.StreamOperationParameters); err != nil {
		return false, err
	}
	if err := m.requireDrivers(); err != nil {
		return false, err
	}

	var errs []error
	for _, d := range m.drivers {
		ok, err := d.Exists(ctx, params)
		if err == nil && ok {
			return true, nil
		}
		if err != nil {
			if interfaces.KindOf(err) == interfaces.KindCancelled {
				return false, err
			}
			errs = append(errs, fmt.Errorf("%s: %w", driverName(d), err))
		}
	}
	if len(errs) == len(m.drivers) {
		return false, interfaces.BackendFailure("exists", errors.Join(errs...))
	}
	return false, nil
}

// ListStreams returns the union of the stream names reported by the children.
func (m *MultiStorageDriver) ListStreams(ctx context.Context, params interfaces.ListStreamsOperationParameters) ([]string, error) {
	if err := interfaces.ValidateListStreams(params); err != nil {
		return nil, err
	}
	if err := m.requireDrivers(); err != nil {
		return nil, err
	}

	names := make(map[string]struct{})
	var errs []error
	for _, d := range m.drivers {
		list, err := d.ListStreams(ctx, params)
		if err != nil {
			if interfaces.KindOf(err) == interfaces.KindCancelled {
				return nil, err
			}
			errs = append(errs, fmt.Errorf("%s: %w", driverName(d), err))
			continue
		}
		for _, name := range list {
			names[name] = struct{}{}
		}
	}
	if len(errs) == len(m.drivers) {
		return nil, interfaces.BackendFailure("list streams", errors.Join(errs...))
	}
	return sortedNames(names), nil
}

// Snapshot snapshots the file on every child.
func (v versioningMultiStorageDriver) Snapshot(ctx context.Context, params interfaces.SnapshotOperationParameters) error {
	if err := interfaces.ValidateSnapshot(params); err != nil {
		return err
	}
	return v.forEach(ctx, "snapshot", func(ctx context.Context, d interfaces.StorageDriver) error {
		return d.(interfaces.VersioningStorageDriver).Snapshot(ctx, params)
	})
}

// forEach runs op on every child concurrently and returns the first failure.
func (m *MultiStorageDriver) forEach(ctx context.Context, op string, fn func(context.Context, interfaces.StorageDriver) error) error {
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for _, d := range m.drivers {
		d := d
		g.Go(func() error {
			if err := fn(gctx, d); err != nil {
				m.log.Warn("Driver operation failed",
					slog.String("op", op),
					slog.String("driver_name", driverName(d)),
					"err", err)
				return fmt.Errorf("%s: %w", driverName(d), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return interfaces.Cancelled(ctx.Err())
		}
		return err
	}

	m.log.Debug("Replicated operation",
		slog.String("op", op),
		slog.Int("drivers", len(m.drivers)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (m *MultiStorageDriver) requireDrivers() error {
	if len(m.drivers) == 0 {
		return interfaces.BackendFailure("multi-storage", errors.New("no drivers configured"))
	}
	return nil
}

func driverName(d interfaces.StorageDriver) string {
	if n, ok := d.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", d)
}
