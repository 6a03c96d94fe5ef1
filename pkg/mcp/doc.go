// Package mcp exposes an agent's tool catalog in Model Context Protocol
// form: a pure manifest mapper for the JSON document surface, and a
// streamable HTTP MCP server whose tools/call runs executions through
// the orchestrator.
package mcp
