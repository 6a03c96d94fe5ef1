// Package postgres provides a PostgreSQL implementation of
// storage.Store. It uses pgx/v5 for connection pooling and JSONB for
// schemas, configs, payloads, and error snapshots.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatdesk/toolgate/pkg/api"
	"github.com/chatdesk/toolgate/pkg/storage"
)

// Store is a PostgreSQL-backed storage.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// SaveTool persists a new tool.
func (s *Store) SaveTool(ctx context.Context, tool *api.Tool) error {
	schemaJSON, err := json.Marshal(tool.Schema)
	if err != nil {
		return fmt.Errorf("marshaling schema: %w", err)
	}
	configJSON, err := json.Marshal(tool.Config)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	now := time.Now().UTC()
	if tool.CreatedAt.IsZero() {
		tool.CreatedAt = now
	}
	if tool.UpdatedAt.IsZero() {
		tool.UpdatedAt = now
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tools (
			id, tenant_id, name, slug, category, kind,
			schema, config, enabled, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		tool.ID, tool.TenantID, tool.Name, tool.Slug, tool.Category, string(tool.Kind),
		schemaJSON, configJSON, tool.Enabled, tool.CreatedAt, tool.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting tool: %w", err)
	}
	return nil
}

// GetTool retrieves a tool by ID, scoped by tenant when one is present
// in the context.
func (s *Store) GetTool(ctx context.Context, id string) (*api.Tool, error) {
	query := `
		SELECT id, tenant_id, name, slug, category, kind,
		       schema, config, enabled, last_executed_at, last_error,
		       created_at, updated_at
		FROM tools
		WHERE id = $1
	`
	args := []any{id}
	if tenantID := storage.GetTenant(ctx); tenantID != "" {
		query += " AND tenant_id = $2"
		args = append(args, tenantID)
	}

	tool, err := scanTool(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying tool: %w", err)
	}
	return tool, nil
}

// UpdateToolLastRun records execution bookkeeping on the tool.
func (s *Store) UpdateToolLastRun(ctx context.Context, toolID string, executedAt *time.Time, lastErr *api.ExecutionError) error {
	var errJSON []byte
	if lastErr != nil {
		data, err := json.Marshal(lastErr)
		if err != nil {
			return fmt.Errorf("marshaling last_error: %w", err)
		}
		errJSON = data
	}

	query := `
		UPDATE tools
		SET last_executed_at = COALESCE($2, last_executed_at),
		    last_error = CASE WHEN $2 IS NOT NULL THEN NULL ELSE COALESCE($3, last_error) END,
		    updated_at = $4
		WHERE id = $1
	`
	args := []any{toolID, executedAt, nullJSON(errJSON), time.Now().UTC()}
	if tenantID := storage.GetTenant(ctx); tenantID != "" {
		query += " AND tenant_id = $5"
		args = append(args, tenantID)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating tool bookkeeping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SaveAgent persists a new agent.
func (s *Store) SaveAgent(ctx context.Context, agent *api.Agent) error {
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		"INSERT INTO agents (id, tenant_id, name, created_at) VALUES ($1, $2, $3, $4)",
		agent.ID, agent.TenantID, agent.Name, agent.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by ID, scoped by tenant.
func (s *Store) GetAgent(ctx context.Context, id string) (*api.Agent, error) {
	query := "SELECT id, tenant_id, name, created_at FROM agents WHERE id = $1"
	args := []any{id}
	if tenantID := storage.GetTenant(ctx); tenantID != "" {
		query += " AND tenant_id = $2"
		args = append(args, tenantID)
	}

	var agent api.Agent
	err := s.pool.QueryRow(ctx, query, args...).Scan(&agent.ID, &agent.TenantID, &agent.Name, &agent.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent: %w", err)
	}
	return &agent, nil
}

// LinkTool links a tool to an agent. Linking the same pair twice is a
// no-op thanks to the composite primary key.
func (s *Store) LinkTool(ctx context.Context, agentID, toolID string) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO agent_tools (agent_id, tool_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		agentID, toolID,
	)
	if err != nil {
		return fmt.Errorf("linking tool: %w", err)
	}
	return nil
}

// UnlinkTool removes an agent↔tool link.
func (s *Store) UnlinkTool(ctx context.Context, agentID, toolID string) error {
	_, err := s.pool.Exec(ctx,
		"DELETE FROM agent_tools WHERE agent_id = $1 AND tool_id = $2",
		agentID, toolID,
	)
	if err != nil {
		return fmt.Errorf("unlinking tool: %w", err)
	}
	return nil
}

// Linked reports whether an explicit agent↔tool link exists.
func (s *Store) Linked(ctx context.Context, agentID, toolID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM agent_tools WHERE agent_id = $1 AND tool_id = $2)",
		agentID, toolID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("querying link: %w", err)
	}
	return exists, nil
}

// ListAgentTools returns all tools linked to the agent in slug order,
// without enablement or tenant filtering.
func (s *Store) ListAgentTools(ctx context.Context, agentID string) ([]*api.Tool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.tenant_id, t.name, t.slug, t.category, t.kind,
		       t.schema, t.config, t.enabled, t.last_executed_at, t.last_error,
		       t.created_at, t.updated_at
		FROM tools t
		JOIN agent_tools at ON at.tool_id = t.id
		WHERE at.agent_id = $1
		ORDER BY t.slug
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("querying agent tools: %w", err)
	}
	defer rows.Close()

	var out []*api.Tool
	for rows.Next() {
		tool, err := scanTool(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tool: %w", err)
		}
		out = append(out, tool)
	}
	return out, rows.Err()
}

// SaveExecution persists a new execution record.
func (s *Store) SaveExecution(ctx context.Context, exec *api.Execution) error {
	payloadJSON, err := json.Marshal(exec.Payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	now := time.Now().UTC()
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = now
	}
	if exec.UpdatedAt.IsZero() {
		exec.UpdatedAt = now
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tool_executions (
			id, tenant_id, tool_id, tool_slug, agent_id,
			payload, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		exec.ID, exec.TenantID, exec.ToolID, exec.ToolSlug, exec.AgentID,
		payloadJSON, string(exec.Status), exec.CreatedAt, exec.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID, scoped by tenant.
func (s *Store) GetExecution(ctx context.Context, id string) (*api.Execution, error) {
	query := `
		SELECT id, tenant_id, tool_id, tool_slug, agent_id,
		       payload, status, result, error, created_at, updated_at
		FROM tool_executions
		WHERE id = $1
	`
	args := []any{id}
	if tenantID := storage.GetTenant(ctx); tenantID != "" {
		query += " AND tenant_id = $2"
		args = append(args, tenantID)
	}

	exec, err := scanExecution(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying execution: %w", err)
	}
	return exec, nil
}

// TransitionExecution atomically moves an execution between statuses.
// The status predicate in the UPDATE makes the transition a
// compare-and-swap: a concurrent duplicate run observes zero affected
// rows and gets ErrStaleStatus.
func (s *Store) TransitionExecution(ctx context.Context, id string, from, to api.ExecutionStatus, result map[string]any, execErr *api.ExecutionError) error {
	var resultJSON []byte
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshaling result: %w", err)
		}
		resultJSON = data
	}
	var errJSON []byte
	if execErr != nil {
		data, err := json.Marshal(execErr)
		if err != nil {
			return fmt.Errorf("marshaling error: %w", err)
		}
		errJSON = data
	}

	query := `
		UPDATE tool_executions
		SET status = $3, result = $4, error = $5, updated_at = $6
		WHERE id = $1 AND status = $2
	`
	args := []any{id, string(from), string(to), nullJSON(resultJSON), nullJSON(errJSON), time.Now().UTC()}
	if tenantID := storage.GetTenant(ctx); tenantID != "" {
		query += " AND tenant_id = $7"
		args = append(args, tenantID)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transitioning execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a lost race from a missing record.
		if _, getErr := s.GetExecution(ctx, id); getErr != nil {
			return getErr
		}
		return storage.ErrStaleStatus
	}
	return nil
}

// ListExecutions returns an agent's executions, newest first.
func (s *Store) ListExecutions(ctx context.Context, agentID string, filter storage.ExecutionFilter) ([]*api.Execution, error) {
	query := `
		SELECT id, tenant_id, tool_id, tool_slug, agent_id,
		       payload, status, result, error, created_at, updated_at
		FROM tool_executions
		WHERE agent_id = $1
	`
	args := []any{agentID}
	argIdx := 2

	if tenantID := storage.GetTenant(ctx); tenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argIdx)
		args = append(args, tenantID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.ToolSlug != "" {
		query += fmt.Sprintf(" AND tool_slug = $%d", argIdx)
		args = append(args, filter.ToolSlug)
		argIdx++
	}
	if !filter.From.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.From)
		argIdx++
	}
	if !filter.To.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.To)
		argIdx++
	}

	limit := filter.PageSize
	if limit <= 0 {
		limit = storage.DefaultPageSize
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var out []*api.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

// ExecutionStats aggregates an agent's executions.
func (s *Store) ExecutionStats(ctx context.Context, agentID string, since *time.Time) (*storage.ExecutionStats, error) {
	query := `
		SELECT tool_slug, status, COUNT(*)
		FROM tool_executions
		WHERE agent_id = $1
	`
	args := []any{agentID}
	argIdx := 2

	if tenantID := storage.GetTenant(ctx); tenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argIdx)
		args = append(args, tenantID)
		argIdx++
	}
	if since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *since)
	}
	query += " GROUP BY tool_slug, status"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying execution stats: %w", err)
	}
	defer rows.Close()

	stats := &storage.ExecutionStats{ToolCounts: make(map[string]int)}
	for rows.Next() {
		var slug, status string
		var count int
		if err := rows.Scan(&slug, &status, &count); err != nil {
			return nil, fmt.Errorf("scanning stats row: %w", err)
		}
		stats.Total += count
		stats.ToolCounts[slug] += count
		switch api.ExecutionStatus(status) {
		case api.StatusSuccess:
			stats.Successful += count
		case api.StatusFailed:
			stats.Failed += count
		case api.StatusAccepted, api.StatusRunning:
			stats.Pending += count
		}
	}
	return stats, rows.Err()
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTool(row rowScanner) (*api.Tool, error) {
	var tool api.Tool
	var kind string
	var schemaJSON, configJSON []byte
	var lastErrJSON *[]byte

	err := row.Scan(
		&tool.ID, &tool.TenantID, &tool.Name, &tool.Slug, &tool.Category, &kind,
		&schemaJSON, &configJSON, &tool.Enabled, &tool.LastExecutedAt, &lastErrJSON,
		&tool.CreatedAt, &tool.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tool.Kind = api.ToolKind(kind)
	if err := json.Unmarshal(schemaJSON, &tool.Schema); err != nil {
		return nil, fmt.Errorf("unmarshaling schema: %w", err)
	}
	if err := json.Unmarshal(configJSON, &tool.Config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if lastErrJSON != nil {
		var execErr api.ExecutionError
		if err := json.Unmarshal(*lastErrJSON, &execErr); err == nil {
			tool.LastError = &execErr
		}
	}
	return &tool, nil
}

func scanExecution(row rowScanner) (*api.Execution, error) {
	var exec api.Execution
	var status string
	var payloadJSON []byte
	var resultJSON, errJSON *[]byte

	err := row.Scan(
		&exec.ID, &exec.TenantID, &exec.ToolID, &exec.ToolSlug, &exec.AgentID,
		&payloadJSON, &status, &resultJSON, &errJSON, &exec.CreatedAt, &exec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	exec.Status = api.ExecutionStatus(status)
	if err := json.Unmarshal(payloadJSON, &exec.Payload); err != nil {
		return nil, fmt.Errorf("unmarshaling payload: %w", err)
	}
	if resultJSON != nil {
		if err := json.Unmarshal(*resultJSON, &exec.Result); err != nil {
			return nil, fmt.Errorf("unmarshaling result: %w", err)
		}
	}
	if errJSON != nil {
		var execErr api.ExecutionError
		if err := json.Unmarshal(*errJSON, &execErr); err == nil {
			exec.Error = &execErr
		}
	}
	return &exec, nil
}

// nullJSON converts nil/empty byte slices to nil for nullable JSONB columns.
func nullJSON(b []byte) *[]byte {
	if len(b) == 0 {
		return nil
	}
	return &b
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
