// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package stats counts what a run does (operations, bytes, blocks, dispatches,
// time travel) and exposes the counts as Prometheus metrics.
//
// When Stats.MetricsAddr is set, the metrics are served at /metrics on that address.
// Dump() provides the same values as a flat map for reports and tests.
package stats

// BlockReason names why a worker blocked instead of making progress.
type BlockReason string

const (
	BlockBarrier   BlockReason = "barrier"    // waiting at a format phase barrier
	BlockNoWork    BlockReason = "no-work"    // nothing left for this operation to do
	BlockFileBusy  BlockReason = "file-busy"  // target file held by another worker
	BlockSpaceFull BlockReason = "space-full" // anchor has no room for the operation
)

// Dump returns a snapshot of every metric as "name{label=value,...}" => value
func Dump() (statMap map[string]uint64) {
	statMap = dump()
	return
}

// IncrementOperations counts one completed operation of kind op by entry
func IncrementOperations(entry string, op string) {
	incrementOperationsAndBytes(entry, op, 0)
}

// IncrementOperationsAndBytes counts one completed operation of kind op by entry
// that transferred bytes
func IncrementOperationsAndBytes(entry string, op string, bytes uint64) {
	incrementOperationsAndBytes(entry, op, bytes)
}

// IncrementBlocks counts a blocked operation attempt by entry
func IncrementBlocks(entry string, reason BlockReason) {
	incrementBlocks(entry, reason)
}

// IncrementStalls counts a stall warning for entry
func IncrementStalls(entry string) {
	incrementStalls(entry)
}

// IncrementDispatches counts a permit the waiter granted to entry
func IncrementDispatches(entry string) {
	incrementDispatches(entry)
}

// IncrementTimeTravel counts a backwards step of the monotonic clock
func IncrementTimeTravel() {
	incrementTimeTravel()
}

// SetQueueDepth records the free in-flight units entry's last permit observed
func SetQueueDepth(entry string, depth int) {
	setQueueDepth(entry, depth)
}

// SetSuspended records whether entry's rate queue is suspended
func SetSuspended(entry string, suspended bool) {
	setSuspended(entry, suspended)
}

// ObserveLatency records an operation latency (in seconds) for entry and op
func ObserveLatency(entry string, op string, seconds float64) {
	observeLatency(entry, op, seconds)
}
