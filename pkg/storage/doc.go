// Package storage defines the persistence contract of the toolgate
// core: tools, agents, the agent↔tool link table, and the append-only
// execution audit trail, plus sentinel errors and tenant context
// helpers shared by the adapter implementations (memory, postgres).
//
// The core never depends on a concrete database: the orchestrator and
// worker receive a Store and use its explicit save/transition/bookkeep
// operations.
package storage
