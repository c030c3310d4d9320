// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/billmeter/domain/ident"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BILLMETER_"

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Identity IdentityConfig `yaml:"identity"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Keys     KeysConfig     `yaml:"keys"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	OpenAPI         *bool         `yaml:"openapi"` // default true
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// OpenAPIEnabled reports whether the API description and Swagger UI are served.
func (s ServerConfig) OpenAPIEnabled() bool {
	return s.OpenAPI == nil || *s.OpenAPI
}

// DatabaseConfig configures the event store.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // "sqlite", "postgres" or "mysql"
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoSchema      *bool         `yaml:"auto_schema"` // default true
}

// AutoSchemaEnabled reports whether the schema is applied on startup.
func (d DatabaseConfig) AutoSchemaEnabled() bool {
	return d.AutoSchema == nil || *d.AutoSchema
}

// IdentityConfig selects how user ids are parsed and stored.
type IdentityConfig struct {
	UserIDScheme string `yaml:"user_id_scheme"` // "uuid", "bigint" or "int"
}

// IngestConfig configures the AI token usage buffer.
type IngestConfig struct {
	BufferAITokenUsage bool          `yaml:"buffer_ai_token_usage"`
	BatchSize          int           `yaml:"batch_size"`
	FlushInterval      time.Duration `yaml:"flush_interval"`
}

// KeysConfig configures locally issued API keys.
type KeysConfig struct {
	Prefix     string `yaml:"prefix"`
	BcryptCost int    `yaml:"bcrypt_cost"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"` // default true
	Path    string `yaml:"path"`    // default /metrics
}

// IsEnabled reports whether /metrics is served.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return finish(&cfg)
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	BILLMETER_SERVER_HOST            - Server host (default: 0.0.0.0)
//	BILLMETER_SERVER_PORT            - Server port (default: 8080)
//	BILLMETER_SERVER_OPENAPI         - Serve /.well-known/openapi.json and /swagger/ (default: true)
//	BILLMETER_DATABASE_DRIVER        - sqlite, postgres or mysql (default: sqlite)
//	BILLMETER_DATABASE_DSN           - Data source name (default: billmeter.db)
//	BILLMETER_DATABASE_AUTO_SCHEMA   - Apply schema on startup (default: true)
//	BILLMETER_USER_ID_SCHEME         - uuid, bigint or int (default: uuid)
//	BILLMETER_INGEST_BUFFER          - Buffer AI_TOKEN_USAGE writes (default: false)
//	BILLMETER_INGEST_BATCH_SIZE      - Buffered records per flush (default: 500)
//	BILLMETER_INGEST_FLUSH_INTERVAL  - Buffer flush interval (default: 5s)
//	BILLMETER_LOG_LEVEL              - debug, info, warn, error (default: info)
//	BILLMETER_LOG_FORMAT             - json or console (default: json)
//	BILLMETER_METRICS_ENABLED        - Serve /metrics (default: true)
func LoadFromEnv() (*Config, error) {
	return finish(&Config{})
}

// LoadWithFallback loads path when it exists and falls back to the
// environment otherwise.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies BILLMETER_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := env("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := env("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := env("SERVER_OPENAPI"); v != "" {
		b := parseBool(v)
		cfg.Server.OpenAPI = &b
	}

	// Database configuration
	if v := env("DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := env("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := env("DATABASE_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.MaxOpenConns = n
		}
	}
	if v := env("DATABASE_AUTO_SCHEMA"); v != "" {
		b := parseBool(v)
		cfg.Database.AutoSchema = &b
	}

	if v := env("USER_ID_SCHEME"); v != "" {
		cfg.Identity.UserIDScheme = v
	}

	// Ingest configuration
	if v := env("INGEST_BUFFER"); v != "" {
		cfg.Ingest.BufferAITokenUsage = parseBool(v)
	}
	if v := env("INGEST_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.BatchSize = n
		}
	}
	if v := env("INGEST_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ingest.FlushInterval = d
		}
	}

	// Logging configuration
	if v := env("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := env("METRICS_ENABLED"); v != "" {
		b := parseBool(v)
		cfg.Metrics.Enabled = &b
	}
	if v := env("METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

func env(name string) string {
	return os.Getenv(EnvPrefix + name)
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "billmeter.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30 * time.Minute
	}

	if cfg.Identity.UserIDScheme == "" {
		cfg.Identity.UserIDScheme = string(ident.SchemeUUID)
	}

	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 500
	}
	if cfg.Ingest.FlushInterval == 0 {
		cfg.Ingest.FlushInterval = 5 * time.Second
	}

	if cfg.Keys.Prefix == "" {
		cfg.Keys.Prefix = "bm_"
	}
	if cfg.Keys.BcryptCost == 0 {
		cfg.Keys.BcryptCost = 10
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

var validDrivers = map[string]bool{
	"sqlite": true, "sqlite3": true,
	"postgres": true, "postgresql": true, "pg": true,
	"mysql": true, "mariadb": true,
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	if !validDrivers[strings.ToLower(cfg.Database.Driver)] {
		return fmt.Errorf("database.driver must be 'sqlite', 'postgres' or 'mysql', got %q", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for driver %q", cfg.Database.Driver)
	}
	if cfg.Database.MaxIdleConns > cfg.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) exceeds max_open_conns (%d)",
			cfg.Database.MaxIdleConns, cfg.Database.MaxOpenConns)
	}

	if _, err := ident.NewParser(ident.Scheme(cfg.Identity.UserIDScheme)); err != nil {
		return fmt.Errorf("identity.user_id_scheme: %w", err)
	}

	if cfg.Ingest.BatchSize < 1 {
		return fmt.Errorf("ingest.batch_size must be positive, got %d", cfg.Ingest.BatchSize)
	}
	if cfg.Ingest.FlushInterval < 0 {
		return fmt.Errorf("ingest.flush_interval must not be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", cfg.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", cfg.Metrics.Path)
	}

	return nil
}
