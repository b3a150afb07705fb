// Package graph runs a fixed directed acyclic graph of nodes over a shared
// state document.
//
// Nodes receive a read-only snapshot and return a partial update. Successors
// of a fork run concurrently, each on its own copy of the same snapshot. A
// join waits for every predecessor and merges their updates in edge
// declaration order, so the merged state never depends on which branch
// finished first. The "error" field is sticky: once set it is never replaced
// by a non-error value, and nodes declared with Gated are skipped while it is
// present.
//
// A node that returns an error or panics aborts the run with a
// NodeExecutionFault. Recoverable business failures are reported by setting
// the "error" field instead.
package graph
