package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid
// values. Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	switch c.Storage.Type {
	case "memory", "postgres":
		// valid
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type))
	}
	if c.Storage.Type == "postgres" {
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	}

	switch c.Queue.Type {
	case "memory", "redis":
		// valid
	default:
		errs = append(errs, fmt.Errorf("queue.type must be \"memory\" or \"redis\", got %q", c.Queue.Type))
	}
	if c.Queue.Type == "redis" && c.Queue.Redis.Addr == "" {
		errs = append(errs, fmt.Errorf("queue.redis.addr is required when queue.type is \"redis\""))
	}
	if c.Queue.WorkersPerLane <= 0 {
		errs = append(errs, fmt.Errorf("queue.workers_per_lane must be > 0, got %d", c.Queue.WorkersPerLane))
	}
	if c.Queue.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("queue.max_attempts must be > 0, got %d", c.Queue.MaxAttempts))
	}

	if c.Platform.BaseURL == "" {
		errs = append(errs, fmt.Errorf("platform.base_url is required"))
	}

	if c.MCP.Enabled && c.MCP.Path == "" {
		errs = append(errs, fmt.Errorf("mcp.path is required when mcp.enabled is true"))
	}

	return errors.Join(errs...)
}
