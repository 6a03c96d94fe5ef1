// Command server runs the toolgate tool registry and execution
// pipeline.
//
// Configuration is layered: built-in defaults, then a YAML file
// (-config flag, TOOLGATE_CONFIG, ./config.yaml, or
// /etc/toolgate/config.yaml), then TOOLGATE_* environment overrides.
// See pkg/config for the full reference.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chatdesk/toolgate/pkg/catalog"
	"github.com/chatdesk/toolgate/pkg/config"
	"github.com/chatdesk/toolgate/pkg/debug"
	"github.com/chatdesk/toolgate/pkg/execution"
	"github.com/chatdesk/toolgate/pkg/executor"
	"github.com/chatdesk/toolgate/pkg/mcp"
	"github.com/chatdesk/toolgate/pkg/queue"
	"github.com/chatdesk/toolgate/pkg/storage"
	"github.com/chatdesk/toolgate/pkg/storage/memory"
	"github.com/chatdesk/toolgate/pkg/storage/postgres"
	transporthttp "github.com/chatdesk/toolgate/pkg/transport/http"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	debug.Init("", "")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := context.Background()

	// Storage.
	var store storage.Store
	switch cfg.Storage.Type {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Storage.Postgres.DSN,
			MaxConns:       cfg.Storage.Postgres.MaxConns,
			MinConns:       cfg.Storage.Postgres.MinConns,
			MigrateOnStart: cfg.Storage.Postgres.MigrateOnStart,
		})
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer pg.Close()
		store = pg
		slog.Info("storage enabled", "type", "postgres")
	default:
		store = memory.New()
		slog.Info("storage enabled", "type", "memory")
	}

	// Redis client, shared by the queue and the uniqueness lock.
	var rdb *redis.Client
	if cfg.Queue.Type == "redis" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.Redis.Addr,
			Password: cfg.Queue.Redis.Password,
			DB:       cfg.Queue.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
	}

	// Executors.
	platform := executor.NewHTTPPlatform(cfg.Platform.BaseURL, cfg.Platform.APIKey, cfg.Platform.Timeout)
	secrets := executor.EnvSecrets{Prefix: cfg.Secrets.EnvPrefix}
	internal := executor.NewInternal(platform)
	external := executor.NewExternal(nil, secrets)

	var locker queue.Locker
	if rdb != nil {
		locker = queue.NewRedisLocker(rdb, consumerName())
	} else {
		locker = queue.NewMemoryLocker()
	}

	worker := execution.NewWorker(store, locker, internal, external)

	// Queue consumers run the worker handler.
	var q queue.Queue
	if rdb != nil {
		rq := queue.NewRedis(rdb, worker.Handler(), consumerName())
		if err := rq.Start(cfg.Queue.WorkersPerLane); err != nil {
			return fmt.Errorf("starting queue consumers: %w", err)
		}
		defer rq.Close()
		q = rq
		slog.Info("queue enabled", "type", "redis", "workers_per_lane", cfg.Queue.WorkersPerLane)
	} else {
		mq := queue.NewMemory(worker.Handler(), cfg.Queue.WorkersPerLane)
		defer mq.Close()
		q = mq
		slog.Info("queue enabled", "type", "memory", "workers_per_lane", cfg.Queue.WorkersPerLane)
	}

	orch := execution.NewOrchestrator(store, q, worker)
	cat := catalog.New(store)

	var mcpSrv *mcp.Server
	if cfg.MCP.Enabled {
		mcpSrv = mcp.NewServer(store, cat, orch, mcp.ServerInfo{
			Name:    cfg.MCP.ServerName,
			Version: cfg.MCP.ServerVersion,
		})
	}

	adapterCfg := transporthttp.DefaultConfig()
	adapterCfg.MCPPath = cfg.MCP.Path
	if !cfg.Observability.Metrics.Enabled {
		adapterCfg.MetricsPath = ""
	} else {
		adapterCfg.MetricsPath = cfg.Observability.Metrics.Path
	}

	adapter := transporthttp.NewAdapter(store, cat, orch, mcpSrv, adapterCfg)

	srv := transporthttp.NewServer(adapter,
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithReadTimeout(cfg.Server.ReadTimeout),
		transporthttp.WithWriteTimeout(cfg.Server.WriteTimeout),
		transporthttp.WithShutdownTimeout(30*time.Second),
	)

	slog.Info("toolgate starting",
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Type,
		"queue", cfg.Queue.Type,
		"mcp_enabled", cfg.MCP.Enabled,
	)
	return srv.ListenAndServe()
}

// consumerName identifies this process to the Redis queue and locker.
func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return fmt.Sprintf("toolgate-%d", os.Getpid())
	}
	return host
}
