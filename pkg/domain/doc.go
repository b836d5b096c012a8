// Package domain defines the pipeline control plane model shared by every
// component: stages and edges, pipeline specs and their versions, runs and
// the append-only run event log.
//
// The package also owns the two state machines' transition tables so that
// every storage backend applies the same legality rules:
//
//	versions: DRAFT -> IN_REVIEW -> PUBLISHED | REJECTED
//	runs:     QUEUED -> RUNNING -> SUCCEEDED | FAILED | STOPPED
package domain
