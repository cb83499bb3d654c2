package interfaces

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Supported driver-info schemes.
const (
	SchemeMemory = "mem"
	SchemeFile   = "file"
	SchemeSQLite = "sqlite"
	SchemeS3     = "s3"
	SchemeIPFS   = "ipfs"
	SchemeVault  = "vault"
	SchemeHTTP   = "http"
	SchemeHTTPS  = "https"
	SchemeMulti  = "multi"
)

// DriverLocation is a parsed driver-info string.
// The format is [scheme]://[auth@]host[:port][/path][?params].
type DriverLocation struct {
	Raw    string     // Original driver info
	Scheme string     // Backend type
	Host   string     // Hostname, bucket, or first path segment
	Path   string     // Resource path
	Query  url.Values // Query parameters
	User   *url.Userinfo
}

// ParseDriverLocation parses and validates a driver-info string.
func ParseDriverLocation(driverInfo string) (DriverLocation, error) {
	raw := strings.TrimSpace(driverInfo)
	if raw == "" {
		return DriverLocation{}, fmt.Errorf("%w: empty", ErrInvalidDriverInfo)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return DriverLocation{}, fmt.Errorf("%w: %v", ErrInvalidDriverInfo, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case SchemeMemory, SchemeFile, SchemeSQLite, SchemeS3, SchemeIPFS, SchemeVault, SchemeHTTP, SchemeHTTPS, SchemeMulti:
	case "":
		return DriverLocation{}, fmt.Errorf("%w: missing scheme in %q", ErrInvalidDriverInfo, raw)
	default:
		return DriverLocation{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidDriverInfo, parsed.Scheme)
	}

	return DriverLocation{
		Raw:    raw,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		User:   parsed.User,
	}, nil
}

// String returns the original driver info with credentials redacted.
func (loc DriverLocation) String() string {
	if loc.User == nil {
		return loc.Raw
	}
	u, err := url.Parse(loc.Raw)
	if err != nil {
		return loc.Scheme + "://***"
	}
	return u.Redacted()
}

// LocalPath joins host and path for schemes that address the local file system.
// file:///var/lib/drive and file://./data both resolve as expected.
func (loc DriverLocation) LocalPath() string {
	if loc.Host == "" {
		return loc.Path
	}
	return loc.Host + "/" + strings.TrimPrefix(loc.Path, "/")
}

// GetParam returns a query parameter value.
func (loc DriverLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamDefault returns a query parameter value or def when it is unset.
func (loc DriverLocation) GetParamDefault(name, def string) string {
	if v := loc.Query.Get(name); v != "" {
		return v
	}
	return def
}

// GetParamBool returns a boolean query parameter value.
func (loc DriverLocation) GetParamBool(name string) bool {
	value := strings.ToLower(loc.Query.Get(name))
	return value == "true" || value == "1" || value == "yes"
}

// GetParamDuration parses a duration query parameter, falling back to def when unset.
func (loc DriverLocation) GetParamDuration(name string, def time.Duration) (time.Duration, error) {
	value := loc.Query.Get(name)
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: parameter %s: %v", ErrInvalidDriverInfo, name, err)
	}
	return d, nil
}
