package domain

import "time"

// EventType identifies a run event.
type EventType string

const (
	EventTypeRunQueued      EventType = "run_queued"
	EventTypeRunStarted     EventType = "run_started"
	EventTypeStageStarted   EventType = "stage_started"
	EventTypeStageCompleted EventType = "stage_completed"
	EventTypeStageFailed    EventType = "stage_failed"
	EventTypeStopRequested  EventType = "stop_requested"
	EventTypeRunCompleted   EventType = "run_completed"
	EventTypeRunFailed      EventType = "run_failed"
	EventTypeRunStopped     EventType = "run_stopped"
)

// RunEvent is an append-only record of something that happened to a run.
// Seq is assigned by the event log and is strictly increasing per run,
// starting at 1.
type RunEvent struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	Seq       int64          `json:"seq"`
	EventType EventType      `json:"event_type"`
	StageID   string         `json:"stage_id,omitempty"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditRecord is emitted for every version transition and run command.
type AuditRecord struct {
	Actor        string         `json:"actor"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Details      map[string]any `json:"details,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// Audit actions.
const (
	AuditVersionCreate  = "pipeline.version.create"
	AuditVersionSubmit  = "pipeline.version.submit"
	AuditVersionPublish = "pipeline.version.publish"
	AuditVersionReject  = "pipeline.version.reject"
	AuditRunTrigger     = "run.trigger"
	AuditRunStop        = "run.stop"
	AuditRunRerun       = "run.rerun"
)
