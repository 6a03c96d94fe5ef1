// Package api defines the core domain types of the toolgate service:
// tenant-scoped tools, agents, executions, and the structured error
// taxonomy shared across packages. It has no dependencies on storage,
// transport, or executor packages.
package api
