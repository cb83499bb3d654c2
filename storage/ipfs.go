package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/drive-storage-backend/interfaces"
)

const ipfsDriverVersion = "2.0"

// IPFSDriver implements a storage driver on the mutable file system (MFS) of
// an IPFS node. It uses the same directory layout as FileDriver below a root
// MFS directory. Snapshots are a single MFS copy of the streams directory, so
// a version always reflects one consistent root.
type IPFSDriver struct {
	shell       *shell.Shell
	host        string
	port        string
	root        string
	log         *slog.Logger
	locationURI string
}

var _ interfaces.VersioningStorageDriver = (*IPFSDriver)(nil)

// NewIPFSDriver creates an IPFS driver talking to the node API at host:port.
// All content lives below the MFS directory root.
func NewIPFSDriver(host, port, root string, timeout time.Duration, log *slog.Logger) (*IPFSDriver, error) {
	if host == "" || port == "" {
		return nil, interfaces.InvalidArgumentf("ipfs driver requires host and port")
	}
	apiURL := fmt.Sprintf("%s:%s", host, port)

	root = "/" + strings.Trim(root, "/")
	if root == "/" {
		root = "/drive"
	}

	sh := shell.NewShell(apiURL)
	if timeout > 0 {
		sh.SetTimeout(timeout)
	}

	return &IPFSDriver{
		shell:       sh,
		host:        host,
		port:        port,
		root:        root,
		log:         loggerOrDefault(log),
		locationURI: fmt.Sprintf("ipfs://%s%s?timeout=%s", apiURL, root, timeout),
	}, nil
}

// DriverVersion returns the MFS layout generation.
func (d *IPFSDriver) DriverVersion() string {
	return ipfsDriverVersion
}

// Name returns a unique identifier for this driver.
func (d *IPFSDriver) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", d.host, d.port)
}

// LocationURI returns the driver-info string for this driver.
func (d *IPFSDriver) LocationURI() string {
	return d.locationURI
}

func (d *IPFSDriver) Upload(ctx context.Context, params interfaces.UploadOperationParameters) error {
	if err := interfaces.ValidateUpload(params); err != nil {
		return err
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	start := time.Now()
	streamDir := d.streamDir(params.StreamOperationParameters)

	meta, err := encodeMetadata(params.Metadata)
	if err != nil {
		return interfaces.BackendFailure("encode metadata", err)
	}

	writeOpts := []shell.FilesOpt{
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true),
	}
	if err := d.shell.FilesWrite(ctx, path.Join(streamDir, dataName), withContext(ctx, params.Data), writeOpts...); err != nil {
		d.log.Error("Failed to write stream to IPFS",
			slog.String("path", streamDir),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return interfaces.BackendFailure("write stream data", err)
	}
	if err := d.shell.FilesWrite(ctx, path.Join(streamDir, metadataName), bytes.NewReader(meta), writeOpts...); err != nil {
		return interfaces.BackendFailure("write stream metadata", err)
	}

	d.log.Debug("Stored stream in IPFS",
		slog.String("path", streamDir),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (d *IPFSDriver) Download(ctx context.Context, params interfaces.DownloadOperationParameters) (*interfaces.DriveFile, error) {
	if err := interfaces.ValidateStream(params.StreamOperationParameters); err != nil {
		return nil, err
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	streamDir := d.streamDir(params.StreamOperationParameters)

	reader, err := d.shell.FilesRead(ctx, path.Join(streamDir, dataName))
	if isIPFSNotFound(err) {
		return nil, interfaces.NotFoundf("stream %q of file %s", params.StreamName(), params.FileID())
	} else if err != nil {
		return nil, interfaces.BackendFailure("read stream data", err)
	}

	var rawMeta []byte
	metaReader, err := d.shell.FilesRead(ctx, path.Join(streamDir, metadataName))
	switch {
	case err == nil:
		rawMeta, err = io.ReadAll(metaReader)
		metaReader.Close()
		if err != nil {
			reader.Close()
			return nil, interfaces.BackendFailure("read stream metadata", err)
		}
	case !isIPFSNotFound(err):
		reader.Close()
		return nil, interfaces.BackendFailure("read stream metadata", err)
	}

	meta, err := decodeMetadata(rawMeta)
	if err != nil {
		reader.Close()
		return nil, interfaces.BackendFailure("decode stream metadata", err)
	}
	return &interfaces.DriveFile{Data: reader, Metadata: meta}, nil
}

func (d *IPFSDriver) Exists(ctx context.Context, params interfaces.ExistsOperationParameters) (bool, error) {
	if err := interfaces.ValidateStream(params.StreamOperationParameters); err != nil {
		return false, err
	}
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	return d.exists(ctx, path.Join(d.streamDir(params.StreamOperationParameters), dataName))
}

func (d *IPFSDriver) Delete(ctx context.Context, params interfaces.DeleteOperationParameters) error {
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
		target = path.Join(fileDir, versionsDir, params.Version())
	default:
		target = d.streamDir(params.StreamOperationParameters)
	}

	if err := d.shell.FilesRm(ctx, target, true); err != nil && !isIPFSNotFound(err) {
		return interfaces.BackendFailure("remove", err)
	}
	return nil
}

func (d *IPFSDriver) ListStreams(ctx context.Context, params interfaces.ListStreamsOperationParameters) ([]string, error) {
	if err := interfaces.ValidateListStreams(params); err != nil {
		return nil, err
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	fileDir := d.fileDir(params.DefaultOperationParameters)
	dir := path.Join(fileDir, streamsDir)
	if params.IsVersioned() {
		dir = path.Join(fileDir, versionsDir, params.Version())
	}

	names, err := d.ls(ctx, dir)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return sortedNames(set), nil
}

// Snapshot replaces the version with an MFS copy of the streams directory.
func (d *IPFSDriver) Snapshot(ctx context.Context, params interfaces.SnapshotOperationParameters) error {
	if err := interfaces.ValidateSnapshot(params); err != nil {
		return err
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	fileDir := d.fileDir(params.DefaultOperationParameters)
	liveDir := path.Join(fileDir, streamsDir)
	versionDir := path.Join(fileDir, versionsDir, params.Version())

	names, err := d.ls(ctx, liveDir)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return interfaces.NotFoundf("file %s has no streams to snapshot", params.FileID())
	}

	if err := d.shell.FilesMkdir(ctx, path.Join(fileDir, versionsDir), shell.FilesMkdir.Parents(true)); err != nil {
		return interfaces.BackendFailure("create versions directory", err)
	}
	if err := d.shell.FilesRm(ctx, versionDir, true); err != nil && !isIPFSNotFound(err) {
		return interfaces.BackendFailure("replace version", err)
	}
	if err := d.shell.FilesCp(ctx, liveDir, versionDir); err != nil {
		return interfaces.BackendFailure("copy streams", err)
	}

	d.log.Debug("Created snapshot in IPFS",
		append(keyAttrs(params.DefaultOperationParameters), slog.String("path", versionDir))...)
	return nil
}

// UpgradePartition moves file directories stored under the volume id to the
// tenant. Streams and versions already present under the tenant are kept.
func (d *IPFSDriver) UpgradePartition(ctx context.Context, tenantID, volumeID, partitionID uuid.UUID) error {
	if err := interfaces.ValidateUpgrade(tenantID, volumeID, partitionID); err != nil {
		return err
	}
	if err := checkContext(ctx); err != nil {
		return err
	}
	if tenantID == volumeID {
		return nil
	}

	srcPartition := path.Join(d.root, volumeID.String(), partitionID.String())
	dstPartition := path.Join(d.root, tenantID.String(), partitionID.String())

	files, err := d.ls(ctx, srcPartition)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}

	if err := d.shell.FilesMkdir(ctx, dstPartition, shell.FilesMkdir.Parents(true)); err != nil {
		return interfaces.BackendFailure("create partition", err)
	}

	for _, file := range files {
		if err := checkContext(ctx); err != nil {
			return err
		}
		if err := d.upgradeFile(ctx, path.Join(srcPartition, file), path.Join(dstPartition, file)); err != nil {
			return err
		}
	}

	if err := d.shell.FilesRm(ctx, srcPartition, true); err != nil && !isIPFSNotFound(err) {
		return interfaces.BackendFailure("remove legacy partition", err)
	}

	d.log.Info("Upgraded partition",
		slog.String("tenant_id", tenantID.String()),
		slog.String("volume_id", volumeID.String()),
		slog.String("partition_id", partitionID.String()),
		slog.Int("files", len(files)))
	return nil
}

func (d *IPFSDriver) upgradeFile(ctx context.Context, src, dst string) error {
	exists, err := d.exists(ctx, dst)
	if err != nil {
		return err
	}
	if !exists {
		if err := d.shell.FilesMv(ctx, src, dst); err != nil {
			return interfaces.BackendFailure("move file", err)
		}
		return nil
	}

	// Merge streams and versions the tenant does not already hold. The
	// caller removes what is left of src.
	for _, sub := range []string{streamsDir, versionsDir} {
		names, err := d.ls(ctx, path.Join(src, sub))
		if err != nil {
			return err
		}
		if len(names) == 0 {
			continue
		}
		if err := d.shell.FilesMkdir(ctx, path.Join(dst, sub), shell.FilesMkdir.Parents(true)); err != nil {
			return interfaces.BackendFailure("create directory", err)
		}
		for _, name := range names {
			target := path.Join(dst, sub, name)
			exists, err := d.exists(ctx, target)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			if err := d.shell.FilesMv(ctx, path.Join(src, sub, name), target); err != nil {
				return interfaces.BackendFailure("move legacy entry", err)
			}
		}
	}
	return nil
}

func (d *IPFSDriver) exists(ctx context.Context, p string) (bool, error) {
	_, err := d.shell.FilesStat(ctx, p)
	switch {
	case err == nil:
		return true, nil
	case isIPFSNotFound(err):
		return false, nil
	default:
		return false, interfaces.BackendFailure("stat", err)
	}
}

// ls returns the entry names of an MFS directory, or none if it does not exist.
func (d *IPFSDriver) ls(ctx context.Context, dir string) ([]string, error) {
	entries, err := d.shell.FilesLs(ctx, dir)
	if isIPFSNotFound(err) {
		return nil, nil
	} else if err != nil {
		return nil, interfaces.BackendFailure("list directory", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names, nil
}

func (d *IPFSDriver) fileDir(p interfaces.DefaultOperationParameters) string {
	return path.Join(d.root, p.TenantID().String(), p.PartitionID().String(), p.FileID().String())
}

func (d *IPFSDriver) streamDir(p interfaces.StreamOperationParameters) string {
	fileDir := d.fileDir(p.DefaultOperationParameters)
	if p.IsVersioned() {
		return path.Join(fileDir, versionsDir, p.Version(), p.StorageStreamName())
	}
	return path.Join(fileDir, streamsDir, p.StorageStreamName())
}

func isIPFSNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "no link named")
}
