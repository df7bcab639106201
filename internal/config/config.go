// Package config provides YAML configuration loading and validation for the
// Athena dashboard server. Environment variables override the file so the
// desktop shell and container deployments can configure the server without
// one.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Run modes. Desktop mode persists to a local SQLite file; web mode keeps
// everything in memory unless a database URL is configured.
const (
	ModeWeb     = "web"
	ModeDesktop = "desktop"
)

// Storage drivers, matching the names accepted by storage.Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the top-level configuration structure for the dashboard server.
type Config struct {
	// Mode is "web" or "desktop". Defaults to "web".
	Mode string `yaml:"mode"`

	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Audit     AuditConfig     `yaml:"audit"`
	Sampler   SamplerConfig   `yaml:"sampler"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	// Port is the TCP port the HTTP server binds. Defaults to 5000.
	Port int `yaml:"port"`

	// Host is the bind address. Defaults to all interfaces in web mode and
	// to the loopback interface in desktop mode.
	Host string `yaml:"host"`

	// StaticDir, when set, is the directory holding the built client.
	StaticDir string `yaml:"static_dir"`

	// MetricsEnabled exposes Prometheus metrics at /metrics.
	MetricsEnabled *bool `yaml:"metrics_enabled"`
}

// StorageConfig selects and locates the persistence backend.
type StorageConfig struct {
	// Driver is "memory", "sqlite" or "postgres". When omitted it is derived
	// from Mode and DatabaseURL.
	Driver string `yaml:"driver"`

	// SQLitePath is the database file used by the sqlite driver. Defaults
	// to "athena.db".
	SQLitePath string `yaml:"sqlite_path"`

	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string `yaml:"database_url"`
}

// AuthConfig controls login tokens.
type AuthConfig struct {
	// SessionSecret signs login tokens. When empty the server generates a
	// random secret at startup, so tokens do not survive a restart.
	SessionSecret string `yaml:"session_secret"`

	// Required rejects /api requests without a valid bearer token.
	Required bool `yaml:"required"`

	// TokenTTL is the lifetime of a login token. Defaults to 24h.
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// BootstrapConfig describes the administrator created on first start.
type BootstrapConfig struct {
	// AdminUsername defaults to "admin".
	AdminUsername string `yaml:"admin_username"`

	// AdminPassword must be set for the account to be created.
	AdminPassword string `yaml:"admin_password"`

	AdminEmail string `yaml:"admin_email"`
}

// AuditConfig controls activity-log retention and archiving.
type AuditConfig struct {
	// MaxAge drops entries older than this. Zero keeps entries forever.
	MaxAge time.Duration `yaml:"max_age"`

	// MaxEntries keeps at most this many of the newest entries. Zero means
	// no limit.
	MaxEntries int `yaml:"max_entries"`

	// Schedule is the cron spec for retention runs. Defaults to "@daily".
	Schedule string `yaml:"schedule"`

	// JournalPath, when set, archives every committed entry to a
	// hash-chained JSON-lines file.
	JournalPath string `yaml:"journal_path"`
}

// SamplerConfig controls the AI health sampler.
type SamplerConfig struct {
	// Schedule is the cron spec for samples. Defaults to "@every 1m". Set
	// to "off" to disable sampling.
	Schedule string `yaml:"schedule"`
}

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validModes = map[string]bool{
	ModeWeb:     true,
	ModeDesktop: true,
}

var validDrivers = map[string]bool{
	DriverMemory:   true,
	DriverSQLite:   true,
	DriverPostgres: true,
}

// LoadConfig reads the YAML file at path (skipped when path is empty),
// applies environment overrides looked up through getenv, applies defaults,
// and validates the result. A nil getenv uses os.Getenv.
func LoadConfig(path string, getenv func(string) string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
		}
	}

	if getenv == nil {
		getenv = os.Getenv
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		if path == "" {
			return nil, fmt.Errorf("config: validation failed: %w", err)
		}
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: cannot load %q: %w", path, err)
	}
	return nil
}

// applyEnv overlays the environment variables the desktop shell and the
// container images set.
func applyEnv(cfg *Config, getenv func(string) string) error {
	var errs []error

	if v := getenv("APP_MODE"); v != "" {
		cfg.Mode = strings.ToLower(v)
	}
	if v := getenv("ELECTRON"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("ELECTRON %q: %w", v, err))
		} else if on {
			cfg.Mode = ModeDesktop
		}
	}
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PORT %q is not a number", v))
		} else {
			cfg.Server.Port = port
		}
	}
	if v := getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := getenv("SESSION_SECRET"); v != "" {
		cfg.Auth.SessionSecret = v
	}
	if v := getenv("AUTH_REQUIRED"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("AUTH_REQUIRED %q: %w", v, err))
		} else {
			cfg.Auth.Required = on
		}
	}
	if v := getenv("ADMIN_USERNAME"); v != "" {
		cfg.Bootstrap.AdminUsername = v
	}
	if v := getenv("ADMIN_PASSWORD"); v != "" {
		cfg.Bootstrap.AdminPassword = v
	}
	if v := getenv("STATIC_DIR"); v != "" {
		cfg.Server.StaticDir = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	return errors.Join(errs...)
}

// applyDefaults fills in zero-value optional fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = ModeWeb
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Server.Host == "" && cfg.Mode == ModeDesktop {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.MetricsEnabled == nil {
		on := true
		cfg.Server.MetricsEnabled = &on
	}
	if cfg.Storage.Driver == "" {
		switch {
		case cfg.Mode == ModeDesktop:
			cfg.Storage.Driver = DriverSQLite
		case cfg.Storage.DatabaseURL != "":
			cfg.Storage.Driver = DriverPostgres
		default:
			cfg.Storage.Driver = DriverMemory
		}
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "athena.db"
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}
	if cfg.Bootstrap.AdminUsername == "" {
		cfg.Bootstrap.AdminUsername = "admin"
	}
	if cfg.Audit.Schedule == "" {
		cfg.Audit.Schedule = "@daily"
	}
	if cfg.Sampler.Schedule == "" {
		cfg.Sampler.Schedule = "@every 1m"
	}
}

// validate checks that all required fields are populated and that enumerated
// fields contain only valid values.
func validate(cfg *Config) error {
	var errs []error

	if !validModes[cfg.Mode] {
		errs = append(errs, fmt.Errorf("mode %q must be one of: web, desktop", cfg.Mode))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d must be between 1 and 65535", cfg.Server.Port))
	}
	if !validDrivers[cfg.Storage.Driver] {
		errs = append(errs, fmt.Errorf("storage.driver %q must be one of: memory, sqlite, postgres", cfg.Storage.Driver))
	}
	if cfg.Storage.Driver == DriverPostgres && cfg.Storage.DatabaseURL == "" {
		errs = append(errs, errors.New("storage.database_url is required for the postgres driver"))
	}
	if cfg.Auth.TokenTTL < 0 {
		errs = append(errs, fmt.Errorf("auth.token_ttl %s must be positive", cfg.Auth.TokenTTL))
	}
	if cfg.Auth.Required && cfg.Auth.SessionSecret == "" {
		errs = append(errs, errors.New("auth.session_secret is required when auth.required is set"))
	}
	if cfg.Audit.MaxAge < 0 {
		errs = append(errs, fmt.Errorf("audit.max_age %s must not be negative", cfg.Audit.MaxAge))
	}
	if cfg.Audit.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("audit.max_entries %d must not be negative", cfg.Audit.MaxEntries))
	}

	return errors.Join(errs...)
}

// DSN returns the data source for the configured driver: the SQLite file
// path, the PostgreSQL URL, or "" for memory.
func (c *Config) DSN() string {
	switch c.Storage.Driver {
	case DriverSQLite:
		return c.Storage.SQLitePath
	case DriverPostgres:
		return c.Storage.DatabaseURL
	}
	return ""
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// SamplerEnabled reports whether the health sampler should run.
func (c *Config) SamplerEnabled() bool {
	return c.Sampler.Schedule != "off"
}
