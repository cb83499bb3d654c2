package interfaces

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDriverLocation(t *testing.T) {
	tests := []struct {
		name       string
		driverInfo string
		scheme     string
		host       string
		path       string
		wantErr    bool
	}{
		{name: "memory", driverInfo: "mem://", scheme: SchemeMemory},
		{name: "absolute file", driverInfo: "file:///var/lib/drive", scheme: SchemeFile, path: "/var/lib/drive"},
		{name: "relative file", driverInfo: "file://./data", scheme: SchemeFile, host: ".", path: "/data"},
		{name: "s3", driverInfo: "s3://bucket/prefix?region=eu-west-1", scheme: SchemeS3, host: "bucket", path: "/prefix"},
		{name: "upper case scheme", driverInfo: "SQLITE:///tmp/d.db", scheme: SchemeSQLite, path: "/tmp/d.db"},
		{name: "padded", driverInfo: "  mem://  ", scheme: SchemeMemory},
		{name: "empty", driverInfo: "", wantErr: true},
		{name: "no scheme", driverInfo: "/var/lib/drive", wantErr: true},
		{name: "unsupported scheme", driverInfo: "ftp://host/path", wantErr: true},
		{name: "malformed", driverInfo: "s3://bad host/%zz", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			loc, err := ParseDriverLocation(tt.driverInfo)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidDriverInfo)
				assert.ErrorIs(t, err, ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.scheme, loc.Scheme)
			assert.Equal(t, tt.host, loc.Host)
			assert.Equal(t, tt.path, loc.Path)
		})
	}
}

func TestDriverLocationHelpers(t *testing.T) {
	loc, err := ParseDriverLocation("s3://AKID:secret@bucket/prefix?region=us-west-2&path_style=yes&timeout=5s")
	require.NoError(t, err)

	assert.Equal(t, "us-west-2", loc.GetParam("region"))
	assert.Equal(t, "us-east-1", loc.GetParamDefault("missing", "us-east-1"))
	assert.True(t, loc.GetParamBool("path_style"))
	assert.False(t, loc.GetParamBool("missing"))
	assert.NotContains(t, loc.String(), "secret")

	d, err := loc.GetParamDuration("timeout", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	d, err = loc.GetParamDuration("other", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	bad, err := ParseDriverLocation("ipfs://127.0.0.1:5001/?timeout=soon")
	require.NoError(t, err)
	_, err = bad.GetParamDuration("timeout", time.Second)
	assert.ErrorIs(t, err, ErrInvalidDriverInfo)
}

func TestLocalPath(t *testing.T) {
	abs, err := ParseDriverLocation("file:///var/lib/drive")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/drive", abs.LocalPath())

	rel, err := ParseDriverLocation("file://./data/drive")
	require.NoError(t, err)
	assert.Equal(t, "./data/drive", rel.LocalPath())
}
