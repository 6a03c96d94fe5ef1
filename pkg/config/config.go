// Package config provides unified configuration for the toolgate
// service.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (TOOLGATE_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the toolgate service.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Queue         QueueConfig         `yaml:"queue"`
	Platform      PlatformConfig      `yaml:"platform"`
	Secrets       SecretsConfig       `yaml:"secrets"`
	MCP           MCPConfig           `yaml:"mcp"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`          // default: 8080
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 120s
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	Type     string         `yaml:"type"` // "memory" or "postgres", default: "memory"
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"` // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"` // default: 25
	MinConns       int32  `yaml:"min_conns"` // default: 5
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// QueueConfig holds work-queue settings.
type QueueConfig struct {
	Type           string      `yaml:"type"`             // "memory" or "redis", default: "memory"
	WorkersPerLane int         `yaml:"workers_per_lane"` // default: 4
	MaxAttempts    int         `yaml:"max_attempts"`     // default: 3
	Redis          RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings for the queue and the
// execution uniqueness lock.
type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"` // _file variant for password
	DB           int    `yaml:"db"`
}

// PlatformConfig holds the helpdesk platform endpoint used by internal
// tool actions.
type PlatformConfig struct {
	BaseURL    string        `yaml:"base_url"` // required
	APIKey     string        `yaml:"api_key"`
	APIKeyFile string        `yaml:"api_key_file"` // _file variant for api_key
	Timeout    time.Duration `yaml:"timeout"`      // default: 10s
}

// SecretsConfig controls resolution of {{secret.KEY}} references in
// external tool configuration.
type SecretsConfig struct {
	EnvPrefix string `yaml:"env_prefix"` // default: "TOOLGATE_SECRET_"
}

// MCPConfig holds the MCP server surface settings.
type MCPConfig struct {
	Enabled       bool   `yaml:"enabled"`        // default: true
	Path          string `yaml:"path"`           // default: "/mcp"
	ServerName    string `yaml:"server_name"`    // default: "toolgate"
	ServerVersion string `yaml:"server_version"` // default: "1.0.0"
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Storage: StorageConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				MaxConns: 25,
				MinConns: 5,
			},
		},
		Queue: QueueConfig{
			Type:           "memory",
			WorkersPerLane: 4,
			MaxAttempts:    3,
		},
		Platform: PlatformConfig{
			Timeout: 10 * time.Second,
		},
		Secrets: SecretsConfig{
			EnvPrefix: "TOOLGATE_SECRET_",
		},
		MCP: MCPConfig{
			Enabled:       true,
			Path:          "/mcp",
			ServerName:    "toolgate",
			ServerVersion: "1.0.0",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}
