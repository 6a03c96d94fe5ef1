// Package executor runs single tool invocation attempts. Internal
// tools dispatch to a fixed set of helpdesk platform actions; external
// tools make one configured HTTP call per attempt. Executors do no
// retry bookkeeping of their own beyond transport-level HTTP retries;
// job retries, timeouts and state transitions belong to the execution
// worker.
package executor
