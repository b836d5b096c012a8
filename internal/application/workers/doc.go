// Package workers implements the worker pool that executes queued runs.
//
// The pool manages a fixed number of goroutines that:
//   - Take run ids from an unbounded FIFO queue, so Submit never blocks
//   - Hand each id to the pool's handler and mark themselves busy meanwhile
//   - Drain the in-flight job before stopping on shutdown
//
// The health monitor tracks worker status and exports pool gauges.
package workers
