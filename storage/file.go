package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/im7mortal/kmutex"
	"github.com/ruteri/drive-storage-backend/interfaces"
)

const fileDriverVersion = "2.0"

// FileDriver implements a storage driver on the local file system.
//
// Content is laid out as
//
//	<base>/<tenant>/<partition>/<file>/streams/<stream>/{data,metadata.json}
//	<base>/<tenant>/<partition>/<file>/versions/<version>/<stream>/{data,metadata.json}
//
// Writes go to a temporary file that is renamed into place, so readers never
// observe partial content. Mutations of one file are serialized by a per-file
// lock; snapshots hard-link the live data into the version directory.
type FileDriver struct {
	baseDir     string
	locks       *kmutex.Kmutex
	log         *slog.Logger
	locationURI string
}

var _ interfaces.VersioningStorageDriver = (*FileDriver)(nil)

// NewFileDriver creates a file storage driver rooted at baseDir, creating the
// directory if it does not exist.
func NewFileDriver(baseDir string, log *slog.Logger) (*FileDriver, error) {
	if baseDir == "" {
		return nil, interfaces.InvalidArgumentf("file driver requires a base directory")
	}
	if err := os.MkdirAll(baseDir, defaultPerm); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileDriver{
		baseDir:     baseDir,
		locks:       kmutex.New(),
		log:         loggerOrDefault(log),
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// DriverVersion returns the on-disk layout generation.
func (d *FileDriver) DriverVersion() string {
	return fileDriverVersion
}

// Name returns a unique identifier for this driver.
func (d *FileDriver) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(d.baseDir))
}

// LocationURI returns the driver-info string that identifies this driver.
func (d *FileDriver) LocationURI() string {
	return d.locationURI
}

// Upload writes the stream data and metadata, replacing existing content.
func (d *FileDriver) Upload(ctx context.Context, params interfaces.UploadOperationParameters) error {
	if err := interfaces.ValidateUpload(params); err != nil {
		return err
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	meta, err := encodeMetadata(params.Metadata)
	if err != nil {
		return interfaces.BackendFailure("encode metadata", err)
	}

	fileDir := d.fileDir(params.DefaultOperationParameters)
	streamDir := filepath.Join(fileDir, streamsDir, params.StorageStreamName())

	d.locks.Lock(fileDir)
	defer d.locks.Unlock(fileDir)

	if err := os.MkdirAll(streamDir, defaultPerm); err != nil {
		return interfaces.BackendFailure("create stream directory", err)
	}

	// Data is staged before anything is renamed so a failed upload leaves the
	// previous content intact.
	dataTmp, size, err := writeTemp(streamDir, withContext(ctx, params.Data))
	if err != nil {
		return interfaces.BackendFailure("write stream data", err)
	}
	metaTmp, _, err := writeTemp(streamDir, bytes.NewReader(meta))
	if err != nil {
		os.Remove(dataTmp)
		return interfaces.BackendFailure("write stream metadata", err)
	}

	if err := os.Rename(dataTmp, filepath.Join(streamDir, dataName)); err != nil {
		os.Remove(dataTmp)
		os.Remove(metaTmp)
		return interfaces.BackendFailure("commit stream data", err)
	}
	if err := os.Rename(metaTmp, filepath.Join(streamDir, metadataName)); err != nil {
		os.Remove(metaTmp)
		return interfaces.BackendFailure("commit stream metadata", err)
	}

	d.log.Debug("Stored stream in file",
		append(keyAttrs(params.DefaultOperationParameters),
			slog.String("path", streamDir),
			slog.Int64("size", size))...)
	return nil
}

// Download opens the stream data. The returned reader must be closed by the caller.
func (d *FileDriver) Download(ctx context.Context, params interfaces.DownloadOperationParameters) (*interfaces.DriveFile, error) {
	if err := interfaces.ValidateStream(params.StreamOperationParameters); err != nil {
		return nil, err
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	fileDir := d.fileDir(params.DefaultOperationParameters)
	streamDir := d.streamDir(params.StreamOperationParameters)

	// The lock keeps data and metadata paired; the open handle keeps reading
	// the old content if the stream is replaced afterwards.
	d.locks.Lock(fileDir)
	defer d.locks.Unlock(fileDir)

	f, err := os.Open(filepath.Join(streamDir, dataName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, interfaces.NotFoundf("stream %q of file %s", params.StreamName(), params.FileID())
	} else if err != nil {
		return nil, interfaces.BackendFailure("open stream data", err)
	}

	rawMeta, err := os.ReadFile(filepath.Join(streamDir, metadataName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		f.Close()
		return nil, interfaces.BackendFailure("read stream metadata", err)
	}
	meta, err := decodeMetadata(rawMeta)
	if err != nil {
		f.Close()
		return nil, interfaces.BackendFailure("decode stream metadata", err)
	}

	d.log.Debug("Fetched stream from file", slog.String("path", streamDir))
	return &interfaces.DriveFile{Data: f, Metadata: meta}, nil
}

// Delete removes a stream, a version or a whole file. Missing content is not an error.
func (d *FileDriver) Delete(ctx context.Context, params interfaces.DeleteOperationParameters) error {
	if err := interfaces.ValidateDelete(params); err != nil {
		return err
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	fileDir := d.fileDir(params.DefaultOperationParameters)

	var target string
	switch {
	case params.AllStreams() && !params.IsVersioned():
		target = fileDir
	case params.AllStreams():
		target = filepath.Join(fileDir, versionsDir, params.Version())
	default:
		target = d.streamDir(params.StreamOperationParameters)
	}

	d.locks.Lock(fileDir)
	defer d.locks.Unlock(fileDir)

	if err := os.RemoveAll(target); err != nil {
		return interfaces.BackendFailure("delete", err)
	}
	d.pruneEmpty(filepath.Dir(target), fileDir)

	d.log.Debug("Deleted from file", slog.String("path", target))
	return nil
}

// ListStreams lists the live streams of a file, or the streams of a version.
func (d *FileDriver) ListStreams(ctx context.Context, params interfaces.ListStreamsOperationParameters) ([]string, error) {
	if err := interfaces.ValidateListStreams(params); err != nil {
		return nil, err
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	fileDir := d.fileDir(params.DefaultOperationParameters)
	dir := filepath.Join(fileDir, streamsDir)
	if params.IsVersioned() {
		dir = filepath.Join(fileDir, versionsDir, params.Version())
	}

	d.locks.Lock(fileDir)
	defer d.locks.Unlock(fileDir)

	names, err := listStreamDirs(dir)
	if err != nil {
		return nil, interfaces.BackendFailure("list streams", err)
	}
	return names, nil
}

// Exists reports whether the stream data is present.
func (d *FileDriver) Exists(ctx context.Context, params interfaces.ExistsOperationParameters) (bool, error) {
	if err := interfaces.ValidateStream(params.StreamOperationParameters); err != nil {
		return false, err
	}
	if err := checkContext(ctx); err != nil {
		return false, err
	}

	_, err := os.Stat(filepath.Join(d.streamDir(params.StreamOperationParameters), dataName))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, interfaces.BackendFailure("stat stream", err)
	}
}

// Snapshot captures every live stream of the file as the requested version.
// The version is staged in a temporary directory and renamed into place.
func (d *FileDriver) Snapshot(ctx context.Context, params interfaces.SnapshotOperationParameters) error {
	if err := interfaces.ValidateSnapshot(params); err != nil {
		return err
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	fileDir := d.fileDir(params.DefaultOperationParameters)
	liveDir := filepath.Join(fileDir, streamsDir)
	parent := filepath.Join(fileDir, versionsDir)
	versionDir := filepath.Join(parent, params.Version())

	d.locks.Lock(fileDir)
	defer d.locks.Unlock(fileDir)

	names, err := listStreamDirs(liveDir)
	if err != nil {
		return interfaces.BackendFailure("list streams", err)
	}
	if len(names) == 0 {
		return interfaces.NotFoundf("file %s has no streams to snapshot", params.FileID())
	}

	if err := os.MkdirAll(parent, defaultPerm); err != nil {
		return interfaces.BackendFailure("create versions directory", err)
	}
	// Staging lives beside streams/ and versions/ so no stream or version
	// name can collide with it.
	tmpRoot := filepath.Join(fileDir, stagingDir)
	if err := os.MkdirAll(tmpRoot, defaultPerm); err != nil {
		return interfaces.BackendFailure("create snapshot staging", err)
	}
	defer os.Remove(tmpRoot)
	staging, err := os.MkdirTemp(tmpRoot, "snapshot-*")
	if err != nil {
		return interfaces.BackendFailure("create snapshot staging", err)
	}
	defer os.RemoveAll(staging)

	for _, name := range names {
		if err := checkContext(ctx); err != nil {
			return err
		}
		dst := filepath.Join(staging, name)
		if err := os.MkdirAll(dst, defaultPerm); err != nil {
			return interfaces.BackendFailure("create snapshot stream", err)
		}
		for _, part := range []string{dataName, metadataName} {
			err := linkOrCopy(filepath.Join(liveDir, name, part), filepath.Join(dst, part))
			if err != nil && !(part == metadataName && errors.Is(err, fs.ErrNotExist)) {
				return interfaces.BackendFailure("copy snapshot stream", err)
			}
		}
	}

	if err := os.RemoveAll(versionDir); err != nil {
		return interfaces.BackendFailure("replace version", err)
	}
	if err := os.Rename(staging, versionDir); err != nil {
		return interfaces.BackendFailure("commit version", err)
	}

	d.log.Debug("Created snapshot in file",
		append(keyAttrs(params.DefaultOperationParameters),
			slog.String("path", versionDir),
			slog.Int("streams", len(names)))...)
	return nil
}

// UpgradePartition migrates content keyed by volume into the tenant. It
// handles generation-1 files stored as <base>/<volume>/<partition>/<file>/<stream>
// with a "<stream>-metadata" sidecar, and current-layout directories written
// under the volume id. Streams that already exist under the tenant are kept
// and the legacy copy is discarded.
func (d *FileDriver) UpgradePartition(ctx context.Context, tenantID, volumeID, partitionID uuid.UUID) error {
	if err := interfaces.ValidateUpgrade(tenantID, volumeID, partitionID); err != nil {
		return err
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	legacyPartition := filepath.Join(d.baseDir, volumeID.String(), partitionID.String())
	entries, err := os.ReadDir(legacyPartition)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return interfaces.BackendFailure("read legacy partition", err)
	}

	migrated := 0
	for _, entry := range entries {
		if err := checkContext(ctx); err != nil {
			return err
		}
		fileID, err := uuid.Parse(entry.Name())
		if err != nil || !entry.IsDir() {
			continue
		}
		n, err := d.upgradeFile(tenantID, volumeID, partitionID, fileID)
		if err != nil {
			return err
		}
		migrated += n
	}

	if tenantID != volumeID {
		os.Remove(legacyPartition)
		os.Remove(filepath.Dir(legacyPartition))
	}

	d.log.Info("Upgraded partition",
		slog.String("tenant_id", tenantID.String()),
		slog.String("volume_id", volumeID.String()),
		slog.String("partition_id", partitionID.String()),
		slog.Int("streams", migrated))
	return nil
}

func (d *FileDriver) upgradeFile(tenantID, volumeID, partitionID, fileID uuid.UUID) (int, error) {
	src := filepath.Join(d.baseDir, volumeID.String(), partitionID.String(), fileID.String())
	dst := filepath.Join(d.baseDir, tenantID.String(), partitionID.String(), fileID.String())

	d.locks.Lock(dst)
	defer d.locks.Unlock(dst)

	entries, err := os.ReadDir(src)
	if err != nil {
		return 0, interfaces.BackendFailure("read legacy file", err)
	}

	migrated := 0
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || strings.HasSuffix(name, legacySuffix) {
			continue
		}
		stream := interfaces.NormalizeStreamName(name)
		if err := interfaces.ValidateName("stream name", stream); err != nil {
			d.log.Warn("Skipping legacy stream", slog.String("path", filepath.Join(src, name)), "err", err)
			continue
		}

		legacyData := filepath.Join(src, name)
		legacyMeta := legacyData + legacySuffix
		streamDir := filepath.Join(dst, streamsDir, stream)

		if _, err := os.Stat(filepath.Join(streamDir, dataName)); err == nil {
			os.Remove(legacyData)
			os.Remove(legacyMeta)
			continue
		}

		rawMeta, err := os.ReadFile(legacyMeta)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return migrated, interfaces.BackendFailure("read legacy metadata", err)
		}
		meta, err := decodeMetadata(rawMeta)
		if err != nil {
			return migrated, interfaces.BackendFailure("decode legacy metadata", err)
		}
		encoded, err := encodeMetadata(meta)
		if err != nil {
			return migrated, interfaces.BackendFailure("encode metadata", err)
		}

		if err := os.MkdirAll(streamDir, defaultPerm); err != nil {
			return migrated, interfaces.BackendFailure("create stream directory", err)
		}
		metaTmp, _, err := writeTemp(streamDir, bytes.NewReader(encoded))
		if err != nil {
			return migrated, interfaces.BackendFailure("write stream metadata", err)
		}
		if err := os.Rename(metaTmp, filepath.Join(streamDir, metadataName)); err != nil {
			os.Remove(metaTmp)
			return migrated, interfaces.BackendFailure("commit stream metadata", err)
		}
		if err := os.Rename(legacyData, filepath.Join(streamDir, dataName)); err != nil {
			return migrated, interfaces.BackendFailure("move legacy stream", err)
		}
		os.Remove(legacyMeta)
		migrated++
	}

	if src != dst {
		n, err := d.mergeCurrentLayout(src, dst)
		if err != nil {
			return migrated, err
		}
		migrated += n
		if err := os.RemoveAll(src); err != nil {
			return migrated, interfaces.BackendFailure("remove legacy file", err)
		}
	}
	return migrated, nil
}

// mergeCurrentLayout moves stream and version directories that were written
// in the current layout under the volume id. Entries that already exist under
// the tenant are left for the caller to discard.
func (d *FileDriver) mergeCurrentLayout(src, dst string) (int, error) {
	merged := 0
	for _, sub := range []string{streamsDir, versionsDir} {
		entries, err := os.ReadDir(filepath.Join(src, sub))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			return merged, interfaces.BackendFailure("read legacy file", err)
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			target := filepath.Join(dst, sub, entry.Name())
			if _, err := os.Stat(target); err == nil {
				continue
			}
			if err := os.MkdirAll(filepath.Dir(target), defaultPerm); err != nil {
				return merged, interfaces.BackendFailure("create directory", err)
			}
			if err := os.Rename(filepath.Join(src, sub, entry.Name()), target); err != nil {
				return merged, interfaces.BackendFailure("move legacy entry", err)
			}
			merged++
		}
	}
	return merged, nil
}

func (d *FileDriver) fileDir(p interfaces.DefaultOperationParameters) string {
	return filepath.Join(d.baseDir, p.TenantID().String(), p.PartitionID().String(), p.FileID().String())
}

func (d *FileDriver) streamDir(p interfaces.StreamOperationParameters) string {
	fileDir := d.fileDir(p.DefaultOperationParameters)
	if p.IsVersioned() {
		return filepath.Join(fileDir, versionsDir, p.Version(), p.StorageStreamName())
	}
	return filepath.Join(fileDir, streamsDir, p.StorageStreamName())
}

// pruneEmpty removes empty directories from dir up to and including stop.
func (d *FileDriver) pruneEmpty(dir, stop string) {
	for {
		if !strings.HasPrefix(dir, stop) {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		if dir == stop {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// listStreamDirs returns the sorted names of stream directories holding data.
func listStreamDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	} else if err != nil {
		return nil, err
	}

	names := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, entry.Name(), dataName)); err == nil {
			names[entry.Name()] = struct{}{}
		}
	}
	return sortedNames(names), nil
}

// writeTemp copies r into a new temporary file in dir and returns its path.
func writeTemp(dir string, r io.Reader) (string, int64, error) {
	f, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(f, r)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(f.Name(), defaultFPerm)
	}
	if err != nil {
		os.Remove(f.Name())
		return "", 0, err
	}
	return f.Name(), n, nil
}

// linkOrCopy hard-links src to dst, copying when links are not supported.
func linkOrCopy(src, dst string) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	} else if errors.Is(err, fs.ErrNotExist) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, _, err := writeTemp(filepath.Dir(dst), in)
	if err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}
