package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/ruteri/drive-storage-backend/interfaces"
)

// Layout segment names shared by the hierarchical drivers.
const (
	streamsDir   = "streams"
	versionsDir  = "versions"
	dataName     = "data"
	metadataName = "metadata.json"
	legacySuffix = "-metadata"
	stagingDir   = ".tmp"
	tempPrefix   = ".upload-"
	defaultPerm  = 0o755
	defaultFPerm = 0o644
)

// fileKey identifies a file independent of stream and version.
type fileKey struct {
	tenantID    uuid.UUID
	partitionID uuid.UUID
	fileID      uuid.UUID
}

func keyOf(p interfaces.DefaultOperationParameters) fileKey {
	return fileKey{tenantID: p.TenantID(), partitionID: p.PartitionID(), fileID: p.FileID()}
}

// ctxReader fails reads once ctx is done so long uploads observe cancellation
// between chunks.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func withContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func readAll(ctx context.Context, r io.Reader) ([]byte, error) {
	return io.ReadAll(withContext(ctx, r))
}

func nopCloser(data []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(data))
}

// checkContext reports ctx cancellation as ErrCancelled.
func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return interfaces.Cancelled(err)
	}
	return nil
}

// encodeMetadata serializes metadata with the content type defaulted.
func encodeMetadata(meta *interfaces.DriveFileMetadata) ([]byte, error) {
	m := meta.WithDefaults()
	data, err := json.Marshal(&m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return data, nil
}

// decodeMetadata parses persisted metadata. Missing or empty input yields the defaults.
func decodeMetadata(data []byte) (*interfaces.DriveFileMetadata, error) {
	var m interfaces.DriveFileMetadata
	if len(data) > 0 {
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	out := m.WithDefaults()
	return &out, nil
}

func sortedNames(set map[string]struct{}) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func loggerOrDefault(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.Default()
	}
	return log
}

// keyAttrs returns the log attributes for an operation key.
func keyAttrs(p interfaces.DefaultOperationParameters) []any {
	attrs := []any{
		slog.String("tenant_id", p.TenantID().String()),
		slog.String("partition_id", p.PartitionID().String()),
		slog.String("file_id", p.FileID().String()),
	}
	if p.IsVersioned() {
		attrs = append(attrs, slog.String("version", p.Version()))
	}
	return attrs
}
