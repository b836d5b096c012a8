// Package ports declares the boundaries the engine consumes: persistence,
// the run event log, stage execution, auditing, artifacts and metrics.
package ports

import (
	"context"
	"time"

	"github.com/aescanero/conduit/pkg/domain"
)

// VersionMutation inspects and mutates a version inside a store's
// serialization boundary. Returning an error aborts the update.
type VersionMutation func(v *domain.PipelineVersion) error

// VersionStore persists pipeline versions and the per-pipeline active pointer.
type VersionStore interface {
	// CreateVersion assigns the next gapless version number for the pipeline
	// and stores v. ID, VersionNumber and CreatedAt are set on the returned copy.
	CreateVersion(ctx context.Context, v *domain.PipelineVersion) (*domain.PipelineVersion, error)

	GetVersion(ctx context.Context, id string) (*domain.PipelineVersion, error)

	ListVersions(ctx context.Context, pipelineID string) ([]*domain.PipelineVersion, error)

	// UpdateVersion applies fn atomically with respect to other updates of the same version.
	UpdateVersion(ctx context.Context, id string, fn VersionMutation) (*domain.PipelineVersion, error)

	// PublishVersion applies fn and moves the pipeline's active pointer to the
	// version in one step, serialized per pipeline.
	PublishVersion(ctx context.Context, id string, fn VersionMutation) (*domain.PipelineVersion, error)

	// ActiveVersion returns the version the pipeline's active pointer names,
	// or domain.ErrNoPublishedVersion.
	ActiveVersion(ctx context.Context, pipelineID string) (*domain.PipelineVersion, error)
}

// RunMutation inspects and mutates a run inside a store's serialization boundary.
type RunMutation func(r *domain.Run) error

// RunFilter narrows ListRuns.
type RunFilter struct {
	PipelineID string
	Status     domain.RunStatus
	Limit      int
}

// RunStore persists runs.
type RunStore interface {
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*domain.Run, error)

	// UpdateRun applies fn as a compare-and-swap on the stored record; updates
	// of one run never interleave.
	UpdateRun(ctx context.Context, id string, fn RunMutation) (*domain.Run, error)
}

// EventLog is the append-only, per-run ordered event log.
type EventLog interface {
	// Append assigns the next sequence number to event and stores it.
	Append(ctx context.Context, event *domain.RunEvent) error

	// List returns events with Seq > afterSeq in order.
	List(ctx context.Context, runID string, afterSeq int64) ([]domain.RunEvent, error)

	// Wait blocks until an event with Seq > afterSeq exists, the log is sealed,
	// the timeout elapses or ctx ends.
	Wait(ctx context.Context, runID string, afterSeq int64, timeout time.Duration) error

	// Seal marks the run's log complete; no further appends follow.
	Seal(ctx context.Context, runID string) error

	Sealed(ctx context.Context, runID string) (bool, error)
}

// StageExecutor is the black-box stage execution capability.
type StageExecutor interface {
	Execute(ctx context.Context, stage domain.Stage, input []any) (*domain.StageResult, error)
}

// AuditSink receives audit records; delivery is fire-and-forget.
type AuditSink interface {
	Record(ctx context.Context, rec domain.AuditRecord)
}

// ArtifactWriter stores a run's final output at a sink URI and returns the
// pointer to record on the run.
type ArtifactWriter interface {
	Write(ctx context.Context, uri string, records []any) (string, error)
}

// MetricsCollector records engine metrics.
type MetricsCollector interface {
	RecordRunTriggered(triggerType string)
	RecordRunFinished(status string, duration time.Duration)
	RecordStageExecuted(executorRef, status string, duration time.Duration)
	RecordVersionTransition(status string)
	SetActiveRuns(count int)
	SetSubscribers(count int)
	RecordWorkerPoolStatus(idle, busy, stopped int)
	SetQueueDepth(depth int)
	RecordLLMCall(model string, inputTokens, outputTokens int64, latency time.Duration)
}
