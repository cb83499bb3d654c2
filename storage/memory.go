package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/ruteri/drive-storage-backend/interfaces"
)

const memoryDriverVersion = "1.0"

type memoryStream struct {
	data     []byte
	metadata interfaces.DriveFileMetadata
}

type memoryFile struct {
	live     map[string]memoryStream
	versions map[string]map[string]memoryStream
}

func (f *memoryFile) empty() bool {
	return len(f.live) == 0 && len(f.versions) == 0
}

// MemoryDriver keeps all content in process memory. It is intended for tests
// and ephemeral deployments. All file state is guarded by a single lock, so
// snapshots are trivially point-in-time.
type MemoryDriver struct {
	mu    sync.RWMutex
	files map[fileKey]*memoryFile
	log   *slog.Logger
}

var _ interfaces.VersioningStorageDriver = (*MemoryDriver)(nil)

// NewMemoryDriver creates an empty in-memory driver.
func NewMemoryDriver(log *slog.Logger) *MemoryDriver {
	return &MemoryDriver{
		files: make(map[fileKey]*memoryFile),
		log:   loggerOrDefault(log),
	}
}

// DriverVersion returns the in-memory storage generation.
func (d *MemoryDriver) DriverVersion() string {
	return memoryDriverVersion
}

// UpgradePartition moves files that a generation-1 writer stored under the
// volume id into the tenant. Files already present under the tenant win.
func (d *MemoryDriver) UpgradePartition(ctx context.Context, tenantID, volumeID, partitionID uuid.UUID) error {
	if err := interfaces.ValidateUpgrade(tenantID, volumeID, partitionID); err != nil {
		return err
	}
	if err := checkContext(ctx); err != nil {
		return err
	}
	if tenantID == volumeID {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	moved := 0
	for key, file := range d.files {
		if key.tenantID != volumeID || key.partitionID != partitionID {
			continue
		}
		target := fileKey{tenantID: tenantID, partitionID: partitionID, fileID: key.fileID}
		if _, exists := d.files[target]; !exists {
			d.files[target] = file
			moved++
		}
		delete(d.files, key)
	}

	d.log.Debug("Upgraded partition in memory",
		slog.String("tenant_id", tenantID.String()),
		slog.String("volume_id", volumeID.String()),
		slog.String("partition_id", partitionID.String()),
		slog.Int("files", moved))
	return nil
}

// Upload stores the data for the stream, replacing existing content.
func (d *MemoryDriver) Upload(ctx context.Context, params interfaces.UploadOperationParameters) error {
	if err := interfaces.ValidateUpload(params); err != nil {
		return err
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	data, err := io.ReadAll(withContext(ctx, params.Data))
	if err != nil {
		return interfaces.BackendFailure("read upload data", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := keyOf(params.DefaultOperationParameters)
	file, ok := d.files[key]
	if !ok {
		file = &memoryFile{live: make(map[string]memoryStream), versions: make(map[string]map[string]memoryStream)}
		d.files[key] = file
	}
	file.live[params.StorageStreamName()] = memoryStream{
		data:     data,
		metadata: params.Metadata.WithDefaults(),
	}

	d.log.Debug("Stored stream in memory",
		append(keyAttrs(params.DefaultOperationParameters),
			slog.String("stream", params.StorageStreamName()),
			slog.Int("size", len(data)))...)
	return nil
}

// Download returns a copy of the stored stream.
func (d *MemoryDriver) Download(ctx context.Context, params interfaces.DownloadOperationParameters) (*interfaces.DriveFile, error) {
	if err := interfaces.ValidateStream(params.StreamOperationParameters); err != nil {
		return nil, err
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	stream, ok := d.lookup(params.StreamOperationParameters)
	if !ok {
		return nil, interfaces.NotFoundf("stream %q of file %s", params.StreamName(), params.FileID())
	}

	meta := stream.metadata
	return &interfaces.DriveFile{
		Data:     io.NopCloser(bytes.NewReader(bytes.Clone(stream.data))),
		Metadata: &meta,
	}, nil
}

// Delete removes a stream, a version or a whole file. Missing content is not an error.
func (d *MemoryDriver) Delete(ctx context.Context, params interfaces.DeleteOperationParameters) error {
	if err := interfaces.ValidateDelete(params); err != nil {
		return err
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := keyOf(params.DefaultOperationParameters)
	file, ok := d.files[key]
	if !ok {
		return nil
	}

	switch {
	case params.AllStreams() && !params.IsVersioned():
		delete(d.files, key)
		return nil
	case params.AllStreams():
		delete(file.versions, params.Version())
	case params.IsVersioned():
		if streams, ok := file.versions[params.Version()]; ok {
			delete(streams, params.StorageStreamName())
			if len(streams) == 0 {
				delete(file.versions, params.Version())
			}
		}
	default:
		delete(file.live, params.StorageStreamName())
	}

	if file.empty() {
		delete(d.files, key)
	}
	return nil
}

// ListStreams lists the live streams of a file, or the streams of a version.
func (d *MemoryDriver) ListStreams(ctx context.Context, params interfaces.ListStreamsOperationParameters) ([]string, error) {
	if err := interfaces.ValidateListStreams(params); err != nil {
		return nil, err
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make(map[string]struct{})
	if file, ok := d.files[keyOf(params.DefaultOperationParameters)]; ok {
		streams := file.live
		if params.IsVersioned() {
			streams = file.versions[params.Version()]
		}
		for name := range streams {
			names[name] = struct{}{}
		}
	}
	return sortedNames(names), nil
}

// Exists reports whether the stream is stored.
func (d *MemoryDriver) Exists(ctx context.Context, params interfaces.ExistsOperationParameters) (bool, error) {
	if err := interfaces.ValidateStream(params.StreamOperationParameters); err != nil {
		return false, err
	}
	if err := checkContext(ctx); err != nil {
		return false, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.lookup(params.StreamOperationParameters)
	return ok, nil
}

// Snapshot copies every live stream of the file into the requested version.
func (d *MemoryDriver) Snapshot(ctx context.Context, params interfaces.SnapshotOperationParameters) error {
	if err := interfaces.ValidateSnapshot(params); err != nil {
		return err
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	file, ok := d.files[keyOf(params.DefaultOperationParameters)]
	if !ok || len(file.live) == 0 {
		return interfaces.NotFoundf("file %s has no streams to snapshot", params.FileID())
	}

	// Stream byte slices are never mutated in place, so sharing them is safe.
	version := make(map[string]memoryStream, len(file.live))
	for name, stream := range file.live {
		version[name] = stream
	}
	file.versions[params.Version()] = version

	d.log.Debug("Created snapshot in memory",
		append(keyAttrs(params.DefaultOperationParameters), slog.Int("streams", len(version)))...)
	return nil
}

// Name returns an identifier for logging.
func (d *MemoryDriver) Name() string {
	return fmt.Sprintf("memory-%p", d)
}

func (d *MemoryDriver) lookup(p interfaces.StreamOperationParameters) (memoryStream, bool) {
	file, ok := d.files[keyOf(p.DefaultOperationParameters)]
	if !ok {
		return memoryStream{}, false
	}
	streams := file.live
	if p.IsVersioned() {
		streams = file.versions[p.Version()]
	}
	stream, ok := streams[p.StorageStreamName()]
	return stream, ok
}
