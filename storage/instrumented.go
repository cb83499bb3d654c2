package storage

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/drive-storage-backend/interfaces"
	"github.com/ruteri/drive-storage-backend/metrics"
)

// instrumentedDriver records Prometheus metrics around every call of the
// wrapped driver.
type instrumentedDriver struct {
	next    interfaces.StorageDriver
	name    string
	metrics *metrics.DriverMetrics
}

type instrumentedVersioningDriver struct {
	*instrumentedDriver
}

// WithMetrics wraps d so its operations are counted and timed under name. The
// wrapper keeps the versioning capability of d. A nil m returns d unchanged.
func WithMetrics(d interfaces.StorageDriver, name string, m *metrics.DriverMetrics) interfaces.StorageDriver {
	if m == nil {
		return d
	}
	w := &instrumentedDriver{next: d, name: name, metrics: m}
	if _, ok := d.(interfaces.VersioningStorageDriver); ok {
		return instrumentedVersioningDriver{w}
	}
	return w
}

func (d *instrumentedDriver) DriverVersion() string {
	return d.next.DriverVersion()
}

func (d *instrumentedDriver) Name() string {
	return d.name
}

// Close closes the wrapped driver if it holds resources.
func (d *instrumentedDriver) Close() error {
	if c, ok := d.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (d *instrumentedDriver) UpgradePartition(ctx context.Context, tenantID, volumeID, partitionID uuid.UUID) (err error) {
	defer d.observe("upgrade_partition", time.Now(), &err)
	return d.next.UpgradePartition(ctx, tenantID, volumeID, partitionID)
}

func (d *instrumentedDriver) Upload(ctx context.Context, params interfaces.UploadOperationParameters) (err error) {
	defer d.observe("upload", time.Now(), &err)
	if params.Data != nil {
		counter := &countingReader{r: params.Data}
		params.Data = counter
		defer func() { d.metrics.AddBytes(d.name, "in", counter.n) }()
	}
	return d.next.Upload(ctx, params)
}

func (d *instrumentedDriver) Download(ctx context.Context, params interfaces.DownloadOperationParameters) (file *interfaces.DriveFile, err error) {
	defer d.observe("download", time.Now(), &err)
	file, err = d.next.Download(ctx, params)
	if err == nil && file != nil && file.Data != nil {
		file.Data = &countingReadCloser{
			ReadCloser: file.Data,
			done:       func(n int64) { d.metrics.AddBytes(d.name, "out", n) },
		}
	}
	return file, err
}

func (d *instrumentedDriver) Delete(ctx context.Context, params interfaces.DeleteOperationParameters) (err error) {
	defer d.observe("delete", time.Now(), &err)
	return d.next.Delete(ctx, params)
}

func (d *instrumentedDriver) ListStreams(ctx context.Context, params interfaces.ListStreamsOperationParameters) (names []string, err error) {
	defer d.observe("list_streams", time.Now(), &err)
	return d.next.ListStreams(ctx, params)
}

func (d *instrumentedDriver) Exists(ctx context.Context, params interfaces.ExistsOperationParameters) (ok bool, err error) {
	defer d.observe("exists", time.Now(), &err)
	return d.next.Exists(ctx, params)
}

func (d instrumentedVersioningDriver) Snapshot(ctx context.Context, params interfaces.SnapshotOperationParameters) (err error) {
	defer d.observe("snapshot", time.Now(), &err)
	return d.next.(interfaces.VersioningStorageDriver).Snapshot(ctx, params)
}

func (d *instrumentedDriver) observe(op string, start time.Time, err *error) {
	d.metrics.Observe(d.name, op, start, *err)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// countingReadCloser reports the bytes read once the reader is closed.
type countingReadCloser struct {
	io.ReadCloser
	n    int64
	done func(int64)
}

func (c *countingReadCloser) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReadCloser) Close() error {
	if c.done != nil {
		c.done(c.n)
		c.done = nil
	}
	return c.ReadCloser.Close()
}
