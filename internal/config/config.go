// Package config loads scoreboard settings from a YAML or CUE file and the
// environment.
//
// Precedence, lowest first: built-in defaults, the config file, SCOREBOARD_*
// environment variables. Credentials (the Postgres DSN, static S3 keys) are
// only read from the environment.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/scoreboard/internal/blob"
	"github.com/roach88/scoreboard/internal/blob/core"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "SCOREBOARD_"

// Driver names a store adapter.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverPebble   Driver = "pebble"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Drivers lists the valid store drivers.
var Drivers = []Driver{DriverMemory, DriverPebble, DriverSQLite, DriverPostgres}

// Defaults.
const (
	DefaultDriver       = DriverSQLite
	DefaultDataDir      = "scoreboard-data"
	DefaultSQLitePath   = "scoreboard.db"
	DefaultPGTable      = "scoreboard_records"
	DefaultPollInterval = 250
	DefaultMetricsAddr  = ":9090"
)

// Config is the resolved configuration.
type Config struct {
	Driver         Driver      `yaml:"driver" json:"driver" env:"DRIVER"`
	DataDir        string      `yaml:"data_dir" json:"data_dir" env:"DATA_DIR"`
	SQLitePath     string      `yaml:"sqlite_path" json:"sqlite_path" env:"SQLITE_PATH"`
	PGDSN          string      `yaml:"-" json:"-" env:"PG_DSN"`
	PGTable        string      `yaml:"pg_table" json:"pg_table" env:"PG_TABLE"`
	PollIntervalMS int         `yaml:"poll_interval_ms" json:"poll_interval_ms" env:"POLL_INTERVAL_MS"`
	AuthTimeoutMS  int         `yaml:"auth_timeout_ms" json:"auth_timeout_ms" env:"AUTH_TIMEOUT_MS"`
	MetricsAddr    string      `yaml:"metrics_addr" json:"metrics_addr" env:"METRICS_ADDR"`
	Blob           blob.Config `yaml:"blob" json:"blob" envPrefix:"BLOB_"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Driver:         DefaultDriver,
		DataDir:        DefaultDataDir,
		SQLitePath:     DefaultSQLitePath,
		PGTable:        DefaultPGTable,
		PollIntervalMS: DefaultPollInterval,
		MetricsAddr:    DefaultMetricsAddr,
		Blob:           blob.Config{Driver: core.DriverFilesystem},
	}
}

// PollInterval returns PollIntervalMS as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// AuthTimeout returns AuthTimeoutMS as a duration.
func (c Config) AuthTimeout() time.Duration {
	return time.Duration(c.AuthTimeoutMS) * time.Millisecond
}

// Load resolves configuration from defaults, the optional file at path and
// the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFile decodes the file at path into cfg. The extension picks the
// format: .cue is validated against the embedded schema, anything else is
// strict YAML.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return decodeCUE(path, data, cfg)
	default:
		return decodeYAML(data, cfg)
	}
}

// ParseEnv overlays SCOREBOARD_* variables onto target.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func decodeYAML(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(cfg); err != nil {
		// An empty file is a valid, empty config.
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

//go:embed schema.cue
var schemaSource string

func decodeCUE(path string, data []byte, cfg *Config) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return fmt.Errorf("failed to parse CUE: %w", err)
	}

	unified := schema.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("config does not match schema: %w", err)
	}
	if err := unified.Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode CUE: %w", err)
	}
	return nil
}

// Validate checks driver names and that credentials needed by the chosen
// drivers are present.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverMemory, DriverPebble, DriverSQLite:
	case DriverPostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("%sPG_DSN is required for the postgres driver", EnvPrefix)
		}
	default:
		return fmt.Errorf("unknown driver %q (want one of %s)", c.Driver, joinDrivers())
	}

	if c.PollIntervalMS <= 0 {
		return fmt.Errorf("poll_interval_ms must be positive, got %d", c.PollIntervalMS)
	}
	if c.AuthTimeoutMS < 0 {
		return fmt.Errorf("auth_timeout_ms must not be negative, got %d", c.AuthTimeoutMS)
	}

	switch c.Blob.Driver {
	case "", core.DriverFilesystem, core.DriverMemory:
	case core.DriverS3:
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("%sBLOB_S3_BUCKET is required for the s3 backup driver", EnvPrefix)
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	return nil
}

func joinDrivers() string {
	names := make([]string, len(Drivers))
	for i, d := range Drivers {
		names[i] = string(d)
	}
	return strings.Join(names, ", ")
}
