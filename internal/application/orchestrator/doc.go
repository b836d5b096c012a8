// Package orchestrator implements the run coordinator and the run state machine.
//
// The manager coordinates run execution by:
//   - Resolving the published version a trigger targets and creating the run
//   - Scheduling runs on the worker pool without blocking the caller
//   - Serializing each run's transitions and event appends behind a per-run lock
//   - Handling stop and rerun commands and emitting audit records for them
//   - Serving historical replay and live tailing of a run's event log
//
// The runner walks a version's canonical stage order, checking the stop flag
// before every stage and recording metrics after every completed stage.
package orchestrator
