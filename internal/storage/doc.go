// Package storage provides the dense in-memory backing store used by
// parameter-server shards.
//
// # Overview
//
// A shard keeps its slice of a logical table as one or more Matrix values:
// flat, row-major float32 buffers of rows x cols elements. Rows are exposed
// as slice views so that engines can read and accumulate in place without
// copying.
//
//	┌──────────────────────────────────────────┐
//	│ Matrix (rows x cols, row-major)          │
//	├──────────────────────────────────────────┤
//	│ row 0: [c0 c1 c2 ... cN]                 │
//	│ row 1: [c0 c1 c2 ... cN]                 │
//	│ ...                                      │
//	└──────────────────────────────────────────┘
//
// # Lifecycle
//
// Matrices are allocated once at shard start and live for the process
// lifetime. Contents are volatile: nothing is persisted and a restarted
// process rebuilds its tables from the deterministic initial fill.
//
// # Thread Safety
//
// Matrix carries no lock. A shard mutates its matrices only from its
// controller goroutine; engines that fan work out across goroutines must
// give each goroutine a disjoint set of rows (or a disjoint column range).
//
// # Error Handling
//
// ErrTooLarge: the requested shape is negative or exceeds MaxElements.
// Allocation is all-or-nothing; a partially built table is never exposed.
package storage
