package storage

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"github.com/ruteri/drive-storage-backend/interfaces"

	_ "modernc.org/sqlite"
)

const sqliteDriverVersion = "1.0"

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	sqlUpsertStream = `INSERT INTO streams
		(tenant_id, partition_id, file_id, version, stream, file_name, content_type, data, updated_at)
		VALUES (?, ?, ?, '', ?, ?, ?, COALESCE(?, X''), ?)
		ON CONFLICT (tenant_id, partition_id, file_id, version, stream) DO UPDATE SET
			file_name = excluded.file_name,
			content_type = excluded.content_type,
			data = excluded.data,
			updated_at = excluded.updated_at`

	sqlSelectStream = `SELECT file_name, content_type, data FROM streams
		WHERE tenant_id = ? AND partition_id = ? AND file_id = ? AND version = ? AND stream = ?`

	sqlStreamExists = `SELECT 1 FROM streams
		WHERE tenant_id = ? AND partition_id = ? AND file_id = ? AND version = ? AND stream = ?`

	sqlDeleteStream = `DELETE FROM streams
		WHERE tenant_id = ? AND partition_id = ? AND file_id = ? AND version = ? AND stream = ?`

	sqlDeleteVersion = `DELETE FROM streams
		WHERE tenant_id = ? AND partition_id = ? AND file_id = ? AND version = ?`

	sqlDeleteFile = `DELETE FROM streams
		WHERE tenant_id = ? AND partition_id = ? AND file_id = ?`

	sqlListStreams = `SELECT stream FROM streams
		WHERE tenant_id = ? AND partition_id = ? AND file_id = ? AND version = ?
		ORDER BY stream`

	sqlSnapshotFile = `INSERT INTO streams
		(tenant_id, partition_id, file_id, version, stream, file_name, content_type, data, updated_at)
		SELECT tenant_id, partition_id, file_id, ?, stream, file_name, content_type, data, ?
		FROM streams
		WHERE tenant_id = ? AND partition_id = ? AND file_id = ? AND version = ''`

	sqlMovePartition = `INSERT OR IGNORE INTO streams
		(tenant_id, partition_id, file_id, version, stream, file_name, content_type, data, updated_at)
		SELECT ?, partition_id, file_id, version, stream, file_name, content_type, data, updated_at
		FROM streams
		WHERE tenant_id = ? AND partition_id = ?`

	sqlDeletePartition = `DELETE FROM streams WHERE tenant_id = ? AND partition_id = ?`
)

// SQLiteDriver stores streams as rows of a single SQLite table. Live streams
// use an empty version; snapshots copy rows inside one transaction.
type SQLiteDriver struct {
	db      *sql.DB
	dbPath  string
	log     *slog.Logger
	nowFunc func() time.Time
}

var _ interfaces.VersioningStorageDriver = (*SQLiteDriver)(nil)

// NewSQLiteDriver opens the database at dbPath and applies pending migrations.
func NewSQLiteDriver(ctx context.Context, dbPath string, log *slog.Logger) (*SQLiteDriver, error) {
	if dbPath == "" {
		return nil, interfaces.InvalidArgumentf("sqlite driver requires a database path")
	}
	log = loggerOrDefault(log)

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	// Single writer; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, log); err != nil {
		db.Close()
		return nil, err
	}

	log.Info("sqlite driver initialized", slog.String("db_path", dbPath))

	return &SQLiteDriver{
		db:      db,
		dbPath:  dbPath,
		log:     log,
		nowFunc: time.Now,
	}, nil
}

func runMigrations(ctx context.Context, db *sql.DB, log *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	for _, r := range results {
		log.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}
	return nil
}

// Close releases the database handle.
func (d *SQLiteDriver) Close() error {
	return d.db.Close()
}

// DriverVersion returns the schema generation.
func (d *SQLiteDriver) DriverVersion() string {
	return sqliteDriverVersion
}

// Name returns a unique identifier for this driver.
func (d *SQLiteDriver) Name() string {
	return fmt.Sprintf("sqlite-%s", d.dbPath)
}

func (d *SQLiteDriver) Upload(ctx context.Context, params interfaces.UploadOperationParameters) error {
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
	meta := params.Metadata.WithDefaults()

	_, err = d.db.ExecContext(ctx, sqlUpsertStream,
		params.TenantID().String(), params.PartitionID().String(), params.FileID().String(),
		params.StorageStreamName(), meta.FileName, meta.ContentType, data, d.nowFunc().UnixNano())
	if err != nil {
		return interfaces.BackendFailure("upsert stream", err)
	}

	d.log.Debug("Stored stream in sqlite",
		append(keyAttrs(params.DefaultOperationParameters),
			slog.String("stream", params.StorageStreamName()),
			slog.Int("size", len(data)))...)
	return nil
}

func (d *SQLiteDriver) Download(ctx context.Context, params interfaces.DownloadOperationParameters) (*interfaces.DriveFile, error) {
	if err := interfaces.ValidateStream(params.StreamOperationParameters); err != nil {
		return nil, err
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	var (
		meta interfaces.DriveFileMetadata
		data []byte
	)
	err := d.db.QueryRowContext(ctx, sqlSelectStream, streamArgs(params.StreamOperationParameters)...).
		Scan(&meta.FileName, &meta.ContentType, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.NotFoundf("stream %q of file %s", params.StreamName(), params.FileID())
	} else if err != nil {
		return nil, interfaces.BackendFailure("select stream", err)
	}

	meta = meta.WithDefaults()
	return &interfaces.DriveFile{
		Data:     io.NopCloser(bytes.NewReader(data)),
		Metadata: &meta,
	}, nil
}

func (d *SQLiteDriver) Delete(ctx context.Context, params interfaces.DeleteOperationParameters) error {
	if err := interfaces.ValidateDelete(params); err != nil {
		return err
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	ids := []any{params.TenantID().String(), params.PartitionID().String(), params.FileID().String()}

	var err error
	switch {
	case params.AllStreams() && !params.IsVersioned():
		_, err = d.db.ExecContext(ctx, sqlDeleteFile, ids...)
	case params.AllStreams():
		_, err = d.db.ExecContext(ctx, sqlDeleteVersion, append(ids, params.Version())...)
	default:
		_, err = d.db.ExecContext(ctx, sqlDeleteStream, streamArgs(params.StreamOperationParameters)...)
	}
	if err != nil {
		return interfaces.BackendFailure("delete", err)
	}
	return nil
}

func (d *SQLiteDriver) ListStreams(ctx context.Context, params interfaces.ListStreamsOperationParameters) ([]string, error) {
	if err := interfaces.ValidateListStreams(params); err != nil {
		return nil, err
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx, sqlListStreams,
		params.TenantID().String(), params.PartitionID().String(), params.FileID().String(), params.Version())
	if err != nil {
		return nil, interfaces.BackendFailure("list streams", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, interfaces.BackendFailure("scan stream", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, interfaces.BackendFailure("list streams", err)
	}
	return names, nil
}

func (d *SQLiteDriver) Exists(ctx context.Context, params interfaces.ExistsOperationParameters) (bool, error) {
	if err := interfaces.ValidateStream(params.StreamOperationParameters); err != nil {
		return false, err
	}
	if err := checkContext(ctx); err != nil {
		return false, err
	}

	var one int
	err := d.db.QueryRowContext(ctx, sqlStreamExists, streamArgs(params.StreamOperationParameters)...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	} else if err != nil {
		return false, interfaces.BackendFailure("stream exists", err)
	}
	return true, nil
}

// Snapshot replaces the requested version with a copy of the live rows in a
// single transaction.
func (d *SQLiteDriver) Snapshot(ctx context.Context, params interfaces.SnapshotOperationParameters) error {
	if err := interfaces.ValidateSnapshot(params); err != nil {
		return err
	}
	if err := checkContext(ctx); err != nil {
		return err
	}

	tenant, partition, file := params.TenantID().String(), params.PartitionID().String(), params.FileID().String()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return interfaces.BackendFailure("begin snapshot", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, sqlDeleteVersion, tenant, partition, file, params.Version()); err != nil {
		return interfaces.BackendFailure("replace version", err)
	}
	res, err := tx.ExecContext(ctx, sqlSnapshotFile, params.Version(), d.nowFunc().UnixNano(), tenant, partition, file)
	if err != nil {
		return interfaces.BackendFailure("copy streams", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return interfaces.BackendFailure("copy streams", err)
	}
	if n == 0 {
		return interfaces.NotFoundf("file %s has no streams to snapshot", params.FileID())
	}
	if err := tx.Commit(); err != nil {
		return interfaces.BackendFailure("commit snapshot", err)
	}

	d.log.Debug("Created snapshot in sqlite",
		append(keyAttrs(params.DefaultOperationParameters), slog.Int64("streams", n))...)
	return nil
}

// UpgradePartition re-keys rows stored under the volume id to the tenant.
// Rows that already exist under the tenant are kept.
func (d *SQLiteDriver) UpgradePartition(ctx context.Context, tenantID, volumeID, partitionID uuid.UUID) error {
	if err := interfaces.ValidateUpgrade(tenantID, volumeID, partitionID); err != nil {
		return err
	}
	if err := checkContext(ctx); err != nil {
		return err
	}
	if tenantID == volumeID {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return interfaces.BackendFailure("begin upgrade", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, sqlMovePartition, tenantID.String(), volumeID.String(), partitionID.String())
	if err != nil {
		return interfaces.BackendFailure("move partition", err)
	}
	if _, err := tx.ExecContext(ctx, sqlDeletePartition, volumeID.String(), partitionID.String()); err != nil {
		return interfaces.BackendFailure("remove legacy rows", err)
	}
	if err := tx.Commit(); err != nil {
		return interfaces.BackendFailure("commit upgrade", err)
	}

	moved, _ := res.RowsAffected()
	d.log.Info("Upgraded partition",
		slog.String("tenant_id", tenantID.String()),
		slog.String("volume_id", volumeID.String()),
		slog.String("partition_id", partitionID.String()),
		slog.Int64("rows", moved))
	return nil
}

func streamArgs(p interfaces.StreamOperationParameters) []any {
	return []any{
		p.TenantID().String(), p.PartitionID().String(), p.FileID().String(),
		p.Version(), p.StorageStreamName(),
	}
}
