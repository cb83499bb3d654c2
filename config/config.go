// Package config loads the drive assignment file: the controllers a server
// loads and the drives assigned to each tenant. The file is YAML (.yaml,
// .yml) or TOML (.toml). Unknown keys are rejected.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/ruteri/drive-storage-backend/interfaces"
	"gopkg.in/yaml.v3"
)

// Supported file formats.
const (
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

// Config is the drive assignment file.
type Config struct {
	Controllers []ControllerConfig `yaml:"controllers" toml:"controllers"`
	Tenants     []TenantConfig     `yaml:"tenants" toml:"tenants"`
}

// ControllerConfig declares a drive controller. An empty Schemes list accepts
// every supported driver scheme.
type ControllerConfig struct {
	ID      string   `yaml:"id" toml:"id"`
	Name    string   `yaml:"name" toml:"name"`
	Schemes []string `yaml:"schemes" toml:"schemes"`
}

// TenantConfig lists the drives of one tenant.
type TenantConfig struct {
	ID     string        `yaml:"id" toml:"id"`
	Drives []DriveConfig `yaml:"drives" toml:"drives"`
}

// DriveConfig assigns a drive to a controller. A tenant with a single drive
// uses it as the default without setting Default.
type DriveConfig struct {
	ID         string `yaml:"id" toml:"id"`
	Controller string `yaml:"controller" toml:"controller"`
	DriverInfo string `yaml:"driver_info" toml:"driver_info"`
	Default    bool   `yaml:"default" toml:"default"`
}

// Load reads, parses and validates the file at path. The format follows the
// file extension.
func Load(path string) (*Config, error) {
	format, err := formatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates data in the given format.
func Parse(data []byte, format string) (*Config, error) {
	cfg := &Config{}

	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks identifiers, references between tenants and controllers,
// driver info syntax and default drive selection. All problems are reported.
func Validate(cfg *Config) error {
	var errs []error

	controllers := make(map[uuid.UUID]struct{}, len(cfg.Controllers))
	for i, c := range cfg.Controllers {
		id, err := parseID(c.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("controllers[%d].id: %w", i, err))
			continue
		}
		if _, dup := controllers[id]; dup {
			errs = append(errs, fmt.Errorf("controllers[%d].id: duplicate controller %s", i, id))
		}
		controllers[id] = struct{}{}
	}

	tenants := make(map[uuid.UUID]struct{}, len(cfg.Tenants))
	for i, t := range cfg.Tenants {
		id, err := parseID(t.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("tenants[%d].id: %w", i, err))
		} else {
			if _, dup := tenants[id]; dup {
				errs = append(errs, fmt.Errorf("tenants[%d].id: duplicate tenant %s", i, id))
			}
			tenants[id] = struct{}{}
		}

		drives := make(map[uuid.UUID]struct{}, len(t.Drives))
		defaults := 0
		for j, d := range t.Drives {
			prefix := fmt.Sprintf("tenants[%d].drives[%d]", i, j)

			if driveID, err := parseID(d.ID); err != nil {
				errs = append(errs, fmt.Errorf("%s.id: %w", prefix, err))
			} else {
				if _, dup := drives[driveID]; dup {
					errs = append(errs, fmt.Errorf("%s.id: duplicate drive %s", prefix, driveID))
				}
				drives[driveID] = struct{}{}
			}

			if controllerID, err := parseID(d.Controller); err != nil {
				errs = append(errs, fmt.Errorf("%s.controller: %w", prefix, err))
			} else if _, ok := controllers[controllerID]; !ok {
				errs = append(errs, fmt.Errorf("%s.controller: unknown controller %s", prefix, controllerID))
			}

			if _, err := interfaces.ParseDriverLocation(d.DriverInfo); err != nil {
				errs = append(errs, fmt.Errorf("%s.driver_info: %w", prefix, err))
			}

			if d.Default {
				defaults++
			}
		}

		if defaults > 1 || (len(t.Drives) > 1 && defaults == 0) {
			errs = append(errs, fmt.Errorf("tenants[%d]: exactly one default drive required, found %d", i, defaults))
		}
	}

	return errors.Join(errs...)
}

// ControllerIDs returns the parsed controller ids in file order. It must only
// be called on a validated config.
func (c *Config) ControllerIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(c.Controllers))
	for _, ctrl := range c.Controllers {
		out = append(out, uuid.MustParse(strings.TrimSpace(ctrl.ID)))
	}
	return out
}

// Assignments converts the tenants section into directory entries, in file
// order. It must only be called on a validated config.
func (c *Config) Assignments() map[uuid.UUID][]interfaces.DriveAssignment {
	out := make(map[uuid.UUID][]interfaces.DriveAssignment, len(c.Tenants))
	for _, t := range c.Tenants {
		drives := make([]interfaces.DriveAssignment, 0, len(t.Drives))
		for _, d := range t.Drives {
			drives = append(drives, interfaces.DriveAssignment{
				DriveID:      uuid.MustParse(strings.TrimSpace(d.ID)),
				ControllerID: uuid.MustParse(strings.TrimSpace(d.Controller)),
				DriverInfo:   strings.TrimSpace(d.DriverInfo),
				Default:      d.Default || len(t.Drives) == 1,
			})
		}
		out[uuid.MustParse(strings.TrimSpace(t.ID))] = drives
	}
	return out
}

func formatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("config file %s: unsupported extension, use .yaml, .yml or .toml", path)
	}
}

func parseID(value string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid uuid %q: %w", value, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, errors.New("must not be the zero uuid")
	}
	return id, nil
}
