// Package config loads Surface configuration from YAML files and SURFACE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage drivers
const (
	DriverMemory   = "memory"
	DriverBolt     = "bolt"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the root configuration structure.
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Server  ServerConfig  `mapstructure:"server"`
	Scanner ScannerConfig `mapstructure:"scanner"`
	OTEL    OTELConfig    `mapstructure:"otel"`
	Log     LogConfig     `mapstructure:"log"`
	Archive ArchiveConfig `mapstructure:"archive"`
	AWS     AWSConfig     `mapstructure:"aws"`
}

// StorageConfig selects the document store backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	// Path is the data directory for bolt and the database file for sqlite
	Path string `mapstructure:"path"`
	DSN  string `mapstructure:"dsn"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr           string `mapstructure:"addr"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
	BodyLimitBytes int64  `mapstructure:"body_limit_bytes"`
}

// ScannerConfig holds scan orchestration settings.
type ScannerConfig struct {
	Exclusive bool `mapstructure:"exclusive"`
	// Interval triggers periodic scans in serve mode; zero disables them
	Interval time.Duration `mapstructure:"interval"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	Insecure    bool          `mapstructure:"insecure"`
	ServiceName string        `mapstructure:"service_name"`
	Traces      TracesConfig  `mapstructure:"traces"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ArchiveConfig configures the S3-compatible findings archive.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Prefix    string `mapstructure:"prefix"`
}

// AWSConfig holds AWS discovery settings.
type AWSConfig struct {
	Regions []string `mapstructure:"regions"`
	Profile string   `mapstructure:"profile"`
}

// Default returns configuration with default values
func Default() *Config {
	return &Config{
		Storage: StorageConfig{Driver: DriverMemory, Path: ".surface"},
		Server: ServerConfig{
			Addr:           ":8080",
			MetricsAddr:    ":9090",
			BodyLimitBytes: 10 << 20,
		},
		Scanner: ScannerConfig{Exclusive: true},
		OTEL: OTELConfig{
			ServiceName: "surface",
			Traces:      TracesConfig{SampleRate: 1.0},
		},
		Log:     LogConfig{Level: "info", Format: "json"},
		Archive: ArchiveConfig{Prefix: "scans/"},
		AWS:     AWSConfig{Regions: []string{"us-east-1"}},
	}
}

// Load reads configuration with the following precedence (lowest to highest):
// defaults, config file (./surface.yaml, ~/.surface.yaml or the given path),
// SURFACE_* environment variables. An empty path searches standard locations.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetConfigName("surface")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "surface"))
		}
	}

	v.SetEnvPrefix("SURFACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.dsn", d.Storage.DSN)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.metrics_addr", d.Server.MetricsAddr)
	v.SetDefault("server.body_limit_bytes", d.Server.BodyLimitBytes)

	v.SetDefault("scanner.exclusive", d.Scanner.Exclusive)
	v.SetDefault("scanner.interval", d.Scanner.Interval)

	v.SetDefault("otel.endpoint", d.OTEL.Endpoint)
	v.SetDefault("otel.insecure", d.OTEL.Insecure)
	v.SetDefault("otel.service_name", d.OTEL.ServiceName)
	v.SetDefault("otel.traces.enabled", d.OTEL.Traces.Enabled)
	v.SetDefault("otel.traces.sample_rate", d.OTEL.Traces.SampleRate)
	v.SetDefault("otel.metrics.enabled", d.OTEL.Metrics.Enabled)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("archive.enabled", d.Archive.Enabled)
	v.SetDefault("archive.endpoint", d.Archive.Endpoint)
	v.SetDefault("archive.access_key", d.Archive.AccessKey)
	v.SetDefault("archive.secret_key", d.Archive.SecretKey)
	v.SetDefault("archive.bucket", d.Archive.Bucket)
	v.SetDefault("archive.use_ssl", d.Archive.UseSSL)
	v.SetDefault("archive.prefix", d.Archive.Prefix)

	v.SetDefault("aws.regions", d.AWS.Regions)
	v.SetDefault("aws.profile", d.AWS.Profile)
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverBolt, DriverSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage: path required for %s driver", c.Storage.Driver)
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage: dsn required for postgres driver")
		}
	default:
		return fmt.Errorf("storage: unknown driver %q", c.Storage.Driver)
	}
	if c.Scanner.Interval < 0 {
		return fmt.Errorf("scanner: interval must not be negative")
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	if c.Archive.Enabled && (c.Archive.Endpoint == "" || c.Archive.Bucket == "") {
		return fmt.Errorf("archive: endpoint and bucket required when enabled")
	}
	return nil
}

// LoadDotEnv loads variables from .env files into the process environment.
// Missing files are ignored and existing variables are not overridden.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}
