package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/vault/api"
	"github.com/ruteri/drive-storage-backend/interfaces"
)

const vaultDriverVersion = "1.0"

// VaultDriver implements a storage driver on a HashiCorp Vault KV v2 mount.
// Each stream is one secret holding the base64-encoded content and its
// metadata. Vault offers no multi-secret copy, so the driver does not
// implement Snapshot and rejects versioned requests.
type VaultDriver struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

var _ interfaces.StorageDriver = (*VaultDriver)(nil)

// NewVaultDriver creates a Vault driver.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: path within the mount (e.g. "drive")
//   - token: Vault token used for every request
//   - log: structured logger
func NewVaultDriver(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultDriver, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{Timeout: 30 * time.Second}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")
	if mountPath == "" {
		return nil, interfaces.InvalidArgumentf("vault driver requires a mount path")
	}

	return &VaultDriver{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         loggerOrDefault(log),
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

// DriverVersion returns the secret layout generation.
func (d *VaultDriver) DriverVersion() string {
	return vaultDriverVersion
}

// Name returns a unique identifier for this driver.
func (d *VaultDriver) Name() string {
	return fmt.Sprintf("vault-%s-%s", d.mountPath, d.dataPath)
}

// LocationURI returns the driver-info string for this driver.
func (d *VaultDriver) LocationURI() string {
	return d.locationURI
}

func (d *VaultDriver) Upload(ctx context.Context, params interfaces.UploadOperationParameters) error {
	if err := interfaces.ValidateUpload(params); err != nil {
		return err
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	start := time.Now()
	data, err := readAll(ctx, params.Data)
	if err != nil {
		return interfaces.BackendFailure("read upload data", err)
	}
	meta := params.Metadata.WithDefaults()

	secretPath := d.dataKV(d.streamPath(params.DefaultOperationParameters, params.StorageStreamName()))
	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"content":     base64.StdEncoding.EncodeToString(data),
			"fileName":    meta.FileName,
			"contentType": meta.ContentType,
		},
	}

	if _, err := d.client.Logical().WriteWithContext(ctx, secretPath, secretData); err != nil {
		d.log.Error("Failed to write to Vault", slog.String("path", secretPath), "err", err)
		return interfaces.BackendFailure("write secret", err)
	}

	d.log.Debug("Stored stream in Vault",
		slog.String("path", secretPath),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Download reads a stream secret. Vault holds no versions, so a
// version-qualified key is never found and deleting one is a no-op.
func (d *VaultDriver) Download(ctx context.Context, params interfaces.DownloadOperationParameters) (*interfaces.DriveFile, error) {
	if err := interfaces.ValidateStream(params.StreamOperationParameters); err != nil {
		return nil, err
	}
	if params.IsVersioned() {
		return nil, interfaces.NotFoundf("version %q of file %s", params.Version(), params.FileID())
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	secretPath := d.dataKV(d.streamPath(params.DefaultOperationParameters, params.StorageStreamName()))
	secret, err := d.client.Logical().ReadWithContext(ctx, secretPath)
	if err != nil {
		return nil, interfaces.BackendFailure("read secret", err)
	}
	if secret == nil || secret.Data == nil || secret.Data["data"] == nil {
		return nil, interfaces.NotFoundf("stream %q of file %s", params.StreamName(), params.FileID())
	}

	fields, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, interfaces.BackendFailure("read secret", fmt.Errorf("invalid data format in Vault response"))
	}
	encoded, _ := fields["content"].(string)
	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, interfaces.BackendFailure("decode secret", err)
	}

	meta := interfaces.DriveFileMetadata{}
	meta.FileName, _ = fields["fileName"].(string)
	meta.ContentType, _ = fields["contentType"].(string)
	meta = meta.WithDefaults()

	return &interfaces.DriveFile{Data: nopCloser(content), Metadata: &meta}, nil
}

func (d *VaultDriver) Exists(ctx context.Context, params interfaces.ExistsOperationParameters) (bool, error) {
	if err := interfaces.ValidateStream(params.StreamOperationParameters); err != nil {
		return false, err
	}
	if params.IsVersioned() {
		return false, nil
	}
	if err := checkContext(ctx); err != nil {
		return false, err
	}

	secret, err := d.client.Logical().ReadWithContext(ctx,
		d.metadataKV(d.streamPath(params.DefaultOperationParameters, params.StorageStreamName())))
	if err != nil {
		return false, interfaces.BackendFailure("read secret metadata", err)
	}
	return secret != nil && secret.Data != nil, nil
}

// Delete permanently removes the secret of a stream, or of every stream of the file.
func (d *VaultDriver) Delete(ctx context.Context, params interfaces.DeleteOperationParameters) error {
	if err := interfaces.ValidateDelete(params); err != nil {
		return err
	}
	if params.IsVersioned() {
		return nil
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	streams := []string{params.StorageStreamName()}
	if params.AllStreams() {
		var err error
		if streams, err = d.list(ctx, d.filePath(params.DefaultOperationParameters)); err != nil {
			return err
		}
	}

	for _, stream := range streams {
		if err := d.deleteSecret(ctx, d.streamPath(params.DefaultOperationParameters, stream)); err != nil {
			return err
		}
	}
	return nil
}

func (d *VaultDriver) ListStreams(ctx context.Context, params interfaces.ListStreamsOperationParameters) ([]string, error) {
	if err := interfaces.ValidateListStreams(params); err != nil {
		return nil, err
	}
	if params.IsVersioned() {
		return []string{}, nil
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	names, err := d.list(ctx, d.filePath(params.DefaultOperationParameters))
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return sortedNames(set), nil
}

// UpgradePartition rewrites secrets stored under the volume id to the tenant.
// Secrets that already exist under the tenant are kept.
func (d *VaultDriver) UpgradePartition(ctx context.Context, tenantID, volumeID, partitionID uuid.UUID) error {
	if err := interfaces.ValidateUpgrade(tenantID, volumeID, partitionID); err != nil {
		return err
	}
	if err := checkContext(ctx); err != nil {
		return err
	}
	if tenantID == volumeID {
		return nil
	}

	srcPartition := d.join(volumeID.String(), partitionID.String())
	dstPartition := d.join(tenantID.String(), partitionID.String())

	files, err := d.list(ctx, srcPartition)
	if err != nil {
		return err
	}

	moved := 0
	for _, file := range files {
		streams, err := d.list(ctx, path.Join(srcPartition, file, streamsDir))
		if err != nil {
			return err
		}
		for _, stream := range streams {
			if err := checkContext(ctx); err != nil {
				return err
			}
			src := path.Join(srcPartition, file, streamsDir, stream)
			dst := path.Join(dstPartition, file, streamsDir, stream)

			existing, err := d.client.Logical().ReadWithContext(ctx, d.metadataKV(dst))
			if err != nil {
				return interfaces.BackendFailure("read secret metadata", err)
			}
			if existing == nil {
				secret, err := d.client.Logical().ReadWithContext(ctx, d.dataKV(src))
				if err != nil {
					return interfaces.BackendFailure("read secret", err)
				}
				if secret != nil && secret.Data != nil {
					if _, err := d.client.Logical().WriteWithContext(ctx, d.dataKV(dst), map[string]interface{}{"data": secret.Data["data"]}); err != nil {
						return interfaces.BackendFailure("write secret", err)
					}
					moved++
				}
			}
			if err := d.deleteSecret(ctx, src); err != nil {
				return err
			}
		}
	}

	d.log.Info("Upgraded partition",
		slog.String("tenant_id", tenantID.String()),
		slog.String("volume_id", volumeID.String()),
		slog.String("partition_id", partitionID.String()),
		slog.Int("streams", moved))
	return nil
}

// list returns the child names below a logical path, without trailing slashes.
func (d *VaultDriver) list(ctx context.Context, logicalPath string) ([]string, error) {
	secret, err := d.client.Logical().ListWithContext(ctx, d.metadataKV(logicalPath))
	if err != nil {
		return nil, interfaces.BackendFailure("list secrets", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}
	keys, _ := secret.Data["keys"].([]interface{})
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		if s, ok := k.(string); ok {
			names = append(names, strings.TrimSuffix(s, "/"))
		}
	}
	return names, nil
}

func (d *VaultDriver) deleteSecret(ctx context.Context, logicalPath string) error {
	if _, err := d.client.Logical().DeleteWithContext(ctx, d.metadataKV(logicalPath)); err != nil {
		return interfaces.BackendFailure("delete secret", err)
	}
	return nil
}

func (d *VaultDriver) join(elem ...string) string {
	if d.dataPath != "" {
		elem = append([]string{d.dataPath}, elem...)
	}
	return path.Join(elem...)
}

func (d *VaultDriver) filePath(p interfaces.DefaultOperationParameters) string {
	return d.join(p.TenantID().String(), p.PartitionID().String(), p.FileID().String(), streamsDir)
}

func (d *VaultDriver) streamPath(p interfaces.DefaultOperationParameters, stream string) string {
	return path.Join(d.filePath(p), stream)
}

func (d *VaultDriver) dataKV(logicalPath string) string {
	return path.Join(d.mountPath, "data", logicalPath)
}

func (d *VaultDriver) metadataKV(logicalPath string) string {
	return path.Join(d.mountPath, "metadata", logicalPath)
}
