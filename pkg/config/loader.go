package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, TOOLGATE_CONFIG env, ./config.yaml, /etc/toolgate/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. TOOLGATE_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/toolgate/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("TOOLGATE_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/toolgate/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps TOOLGATE_* environment variables to config
// fields. Environment values win over both defaults and the YAML file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TOOLGATE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TOOLGATE_STORAGE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("TOOLGATE_STORAGE_DSN"); v != "" {
		cfg.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("TOOLGATE_QUEUE"); v != "" {
		cfg.Queue.Type = v
	}
	if v := os.Getenv("TOOLGATE_QUEUE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.WorkersPerLane = n
		}
	}
	if v := os.Getenv("TOOLGATE_QUEUE_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.MaxAttempts = n
		}
	}
	if v := os.Getenv("TOOLGATE_REDIS_ADDR"); v != "" {
		cfg.Queue.Redis.Addr = v
	}
	if v := os.Getenv("TOOLGATE_REDIS_PASSWORD"); v != "" {
		cfg.Queue.Redis.Password = v
	}
	if v := os.Getenv("TOOLGATE_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Queue.Redis.DB = db
		}
	}
	if v := os.Getenv("TOOLGATE_PLATFORM_URL"); v != "" {
		cfg.Platform.BaseURL = v
	}
	if v := os.Getenv("TOOLGATE_PLATFORM_API_KEY"); v != "" {
		cfg.Platform.APIKey = v
	}
	if v := os.Getenv("TOOLGATE_PLATFORM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Platform.Timeout = d
		}
	}
	if v := os.Getenv("TOOLGATE_MCP_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.MCP.Enabled = enabled
		}
	}
}

// resolveFileReferences reads _file fields and populates the
// corresponding value fields. For each field ending in _file, if the
// value field is empty and the file field is set, the file is read,
// whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// storage.postgres.dsn_file -> storage.postgres.dsn
	if cfg.Storage.Postgres.DSNFile != "" && cfg.Storage.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Storage.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("storage.postgres.dsn_file: %w", err)
		}
		cfg.Storage.Postgres.DSN = val
	}

	// queue.redis.password_file -> queue.redis.password
	if cfg.Queue.Redis.PasswordFile != "" && cfg.Queue.Redis.Password == "" {
		val, err := readSecretFile(cfg.Queue.Redis.PasswordFile)
		if err != nil {
			return fmt.Errorf("queue.redis.password_file: %w", err)
		}
		cfg.Queue.Redis.Password = val
	}

	// platform.api_key_file -> platform.api_key
	if cfg.Platform.APIKeyFile != "" && cfg.Platform.APIKey == "" {
		val, err := readSecretFile(cfg.Platform.APIKeyFile)
		if err != nil {
			return fmt.Errorf("platform.api_key_file: %w", err)
		}
		cfg.Platform.APIKey = val
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding
// whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
