package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ruteri/drive-storage-backend/api/clients"
	"github.com/ruteri/drive-storage-backend/interfaces"
	"github.com/ruteri/drive-storage-backend/metrics"
)

// StorageDriverFactory creates storage drivers from driver-info strings.
type StorageDriverFactory struct {
	log     *slog.Logger
	metrics *metrics.DriverMetrics

	mu     sync.Mutex
	memory map[string]*MemoryDriver
}

// NewStorageDriverFactory creates a new factory. When m is not nil every
// created driver is wrapped with WithMetrics.
func NewStorageDriverFactory(logger *slog.Logger, m *metrics.DriverMetrics) *StorageDriverFactory {
	return &StorageDriverFactory{
		log:     loggerOrDefault(logger),
		metrics: m,
		memory:  make(map[string]*MemoryDriver),
	}
}

// DriverFor creates a storage driver from driver info.
// The format is [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - mem:// - in-process memory; mem://name shares one driver per name
//   - file:///absolute/path or file://./relative/path - local filesystem
//   - sqlite:///path/drive.db - SQLite database
//   - s3://[KEY:SECRET@]bucket/prefix?region=&endpoint=&path_style=true
//   - ipfs://host:port/root?timeout=30s - IPFS mutable file system
//   - vault://host:port/mount/path?tls=false&token_env=VAULT_TOKEN - Vault KV v2
//   - http(s)://host:port/?drive=<drive id|default> - remote drive gateway
//   - multi://?driver=<uri>&driver=<uri> - replication across drivers
//
// Malformed or unsupported driver info fails with ErrInvalidDriverInfo.
func (sf *StorageDriverFactory) DriverFor(ctx context.Context, driverInfo string) (interfaces.StorageDriver, error) {
	loc, err := interfaces.ParseDriverLocation(driverInfo)
	if err != nil {
		return nil, err
	}

	sf.log.Debug("Creating storage driver", slog.String("driver_info", loc.String()))

	var d interfaces.StorageDriver
	switch loc.Scheme {
	case interfaces.SchemeMemory:
		d = sf.createMemoryDriver(loc)
	case interfaces.SchemeFile:
		d, err = sf.createFileDriver(loc)
	case interfaces.SchemeSQLite:
		d, err = sf.createSQLiteDriver(ctx, loc)
	case interfaces.SchemeS3:
		d, err = sf.createS3Driver(loc)
	case interfaces.SchemeIPFS:
		d, err = sf.createIPFSDriver(loc)
	case interfaces.SchemeVault:
		d, err = sf.createVaultDriver(loc)
	case interfaces.SchemeHTTP, interfaces.SchemeHTTPS:
		d, err = sf.createDriveClient(loc)
	case interfaces.SchemeMulti:
		// Children are instrumented individually.
		return sf.createMultiDriver(ctx, loc)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", interfaces.ErrInvalidDriverInfo, loc.Scheme)
	}
	if err != nil {
		return nil, err
	}

	return WithMetrics(d, loc.Scheme+"-"+driverName(d), sf.metrics), nil
}

// CreateMultiDriver creates a replicating driver from a list of driver infos.
// Every entry must produce a driver.
func (sf *StorageDriverFactory) CreateMultiDriver(ctx context.Context, driverInfos []string) (interfaces.StorageDriver, error) {
	if len(driverInfos) == 0 {
		return nil, fmt.Errorf("%w: multi driver requires at least one child", interfaces.ErrInvalidDriverInfo)
	}

	drivers := make([]interfaces.StorageDriver, 0, len(driverInfos))
	for _, info := range driverInfos {
		d, err := sf.DriverFor(ctx, info)
		if err != nil {
			sf.log.Warn("Failed to create storage driver", "err", err, slog.String("driver_info", info))
			closeDrivers(drivers)
			return nil, err
		}
		drivers = append(drivers, d)
	}
	return NewMultiStorageDriver(drivers, sf.log), nil
}

// createMemoryDriver returns a fresh driver for mem:// and a shared one for mem://name.
func (sf *StorageDriverFactory) createMemoryDriver(loc interfaces.DriverLocation) interfaces.StorageDriver {
	if loc.Host == "" {
		return NewMemoryDriver(sf.log)
	}

	sf.mu.Lock()
	defer sf.mu.Unlock()
	d, ok := sf.memory[loc.Host]
	if !ok {
		d = NewMemoryDriver(sf.log)
		sf.memory[loc.Host] = d
	}
	return d
}

// createFileDriver handles file:///absolute/path and file://./relative/path.
func (sf *StorageDriverFactory) createFileDriver(loc interfaces.DriverLocation) (interfaces.StorageDriver, error) {
	path := loc.LocalPath()
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file driver info", interfaces.ErrInvalidDriverInfo)
	}
	return NewFileDriver(path, sf.log)
}

func (sf *StorageDriverFactory) createSQLiteDriver(ctx context.Context, loc interfaces.DriverLocation) (interfaces.StorageDriver, error) {
	path := loc.LocalPath()
	if path == "" || strings.HasSuffix(path, "/") {
		return nil, fmt.Errorf("%w: sqlite driver info needs a database file path", interfaces.ErrInvalidDriverInfo)
	}
	return NewSQLiteDriver(ctx, path, sf.log)
}

// createS3Driver handles s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-west-2&endpoint=...
func (sf *StorageDriverFactory) createS3Driver(loc interfaces.DriverLocation) (interfaces.StorageDriver, error) {
	if loc.Host == "" {
		return nil, fmt.Errorf("%w: s3 driver info needs a bucket", interfaces.ErrInvalidDriverInfo)
	}

	opts := S3Options{
		BucketName: loc.Host,
		Prefix:     strings.TrimPrefix(loc.Path, "/"),
		Region:     loc.GetParamDefault("region", "us-east-1"),
		Endpoint:   loc.GetParam("endpoint"),
		PathStyle:  loc.GetParamBool("path_style"),
	}
	if loc.User != nil {
		opts.AccessKey = loc.User.Username()
		opts.SecretKey, _ = loc.User.Password()
		sf.log.Debug("Using embedded S3 credentials")
	}
	return NewS3Driver(opts, sf.log)
}

// createIPFSDriver handles ipfs://host:port/root?timeout=30s.
func (sf *StorageDriverFactory) createIPFSDriver(loc interfaces.DriverLocation) (interfaces.StorageDriver, error) {
	host, port, err := splitHostPort(loc.Host, "5001")
	if err != nil {
		return nil, err
	}
	timeout, err := loc.GetParamDuration("timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}
	return NewIPFSDriver(host, port, loc.Path, timeout, sf.log)
}

// createVaultDriver handles vault://host:port/mount/path?tls=false&token_env=VAULT_TOKEN.
func (sf *StorageDriverFactory) createVaultDriver(loc interfaces.DriverLocation) (interfaces.StorageDriver, error) {
	if loc.Host == "" {
		return nil, fmt.Errorf("%w: vault driver info needs an address", interfaces.ErrInvalidDriverInfo)
	}

	segments := strings.SplitN(strings.Trim(loc.Path, "/"), "/", 2)
	mount := segments[0]
	if mount == "" {
		return nil, fmt.Errorf("%w: vault driver info needs a mount path", interfaces.ErrInvalidDriverInfo)
	}
	var dataPath string
	if len(segments) > 1 {
		dataPath = segments[1]
	}

	scheme := "https"
	if strings.EqualFold(loc.GetParam("tls"), "false") {
		scheme = "http"
	}
	token := os.Getenv(loc.GetParamDefault("token_env", "VAULT_TOKEN"))

	return NewVaultDriver(scheme+"://"+loc.Host, mount, dataPath, token, sf.log)
}

// createDriveClient handles http(s)://host:port/?drive=<id|default>.
func (sf *StorageDriverFactory) createDriveClient(loc interfaces.DriverLocation) (interfaces.StorageDriver, error) {
	if loc.Host == "" {
		return nil, fmt.Errorf("%w: drive gateway driver info needs a host", interfaces.ErrInvalidDriverInfo)
	}
	timeout, err := loc.GetParamDuration("timeout", 60*time.Second)
	if err != nil {
		return nil, err
	}
	baseURL := loc.Scheme + "://" + loc.Host + strings.TrimSuffix(loc.Path, "/")
	return clients.NewDriveClient(baseURL, loc.GetParamDefault("drive", clients.DefaultDrive), timeout, sf.log)
}

func (sf *StorageDriverFactory) createMultiDriver(ctx context.Context, loc interfaces.DriverLocation) (interfaces.StorageDriver, error) {
	children := loc.Query["driver"]
	for _, child := range children {
		if c, err := interfaces.ParseDriverLocation(child); err == nil && c.Scheme == interfaces.SchemeMulti {
			return nil, fmt.Errorf("%w: multi drivers cannot be nested", interfaces.ErrInvalidDriverInfo)
		}
	}
	return sf.CreateMultiDriver(ctx, children)
}

func splitHostPort(hostport, defaultPort string) (string, string, error) {
	if hostport == "" {
		return "", "", fmt.Errorf("%w: missing host", interfaces.ErrInvalidDriverInfo)
	}
	if !strings.Contains(hostport, ":") {
		return hostport, defaultPort, nil
	}
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", interfaces.ErrInvalidDriverInfo, err)
	}
	if port == "" {
		port = defaultPort
	}
	return host, port, nil
}

func closeDrivers(drivers []interfaces.StorageDriver) {
	for _, d := range drivers {
		if c, ok := d.(interface{ Close() error }); ok {
			c.Close()
		}
	}
}
