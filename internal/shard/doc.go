// Package shard implements the server-side slices of a distributed table.
//
// # Overview
//
// A logical table of R rows by C float32 columns is spread across S servers.
// Each server holds one shard, created from the same Options and its own
// Placement. Two layouts are supported:
//
//	Row layout (S = 2)                 Column layout (S = 2)
//	┌──────────────────────┐           ┌───────────┬───────────┐
//	│ rows [0, R/2)  srv 0 │           │ cols      │ cols      │
//	├──────────────────────┤           │ [0, C/2)  │ [C/2, C)  │
//	│ rows [R/2, R)  srv 1 │           │ srv 0     │ srv 1     │
//	└──────────────────────┘           └───────────┴───────────┘
//
// The last shard absorbs the remainder when the split is uneven.
//
// # Operations
//
// A row shard serves Get (copy whole rows) and Add (accumulate deltas).
//
// A column shard keeps two matrices, one per embedding role, and serves:
//
//   - Get: the source-role slice of each row, tagged with its column offset
//   - Add: the shard's columns of each full-width delta, added to the source role
//   - DotProd: partial inner products of source/target pairs over its columns
//   - Adjust: scale-weighted exchange of counterparts for each pair
//
// Adjust reads only pre-update values: all deltas are accumulated into
// scratch matrices first and each distinct key is flushed exactly once.
//
// # Concurrency
//
// Tables are driven by a single goroutine owned by the consistency
// controller. Inner loops fan out over an errgroup, each goroutine writing a
// disjoint slice of memory. Shard wraps a Table with atomic operation
// counters that may be read from any goroutine.
package shard
