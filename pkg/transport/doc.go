// Package transport holds the pieces shared by toolgate's HTTP
// surface: error-to-status mapping, the JSON error envelope, and the
// HTTP middleware chain.
//
// The transport layer bridges external clients and the execution
// pipeline. It deserializes incoming requests, resolves the calling
// agent from headers, dispatches to the orchestrator and catalog, and
// serializes results back as JSON.
//
// # Error mapping
//
// Core errors surface as api.APIError values; HTTPStatusFromError maps
// their type to a status code (invalid_request 400, not_found 404,
// not_authorized 403, invalid_state 409, server_error 500). Schema
// validation failures are the one special case: WriteError renders
// them as 422 with the full violation list so callers can fix every
// field at once.
//
// # Middleware
//
// Built-in middleware provides panic recovery, request ID assignment
// (X-Request-ID), and structured logging via log/slog. Prometheus
// request metrics come from pkg/observability and are applied by the
// HTTP adapter.
package transport
