// Package execution coordinates the tool execution pipeline: the
// Orchestrator accepts requests (authorize, validate, persist, enqueue)
// and the Worker drains the queue (lock, run attempts with bounded
// retries, record terminal state and tool bookkeeping).
//
// An execution record moves accepted→running→{success|failed}, or
// accepted→cancelled. Retrying a failed execution creates a new record;
// terminal records are never mutated.
package execution
