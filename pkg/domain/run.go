package domain

import (
	"maps"
	"time"
)

// RunStatus is the execution state of a run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "QUEUED"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusSucceeded RunStatus = "SUCCEEDED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusStopped   RunStatus = "STOPPED"
)

var runTransitions = map[RunStatus][]RunStatus{
	RunStatusQueued:  {RunStatusRunning},
	RunStatusRunning: {RunStatusSucceeded, RunStatusFailed, RunStatusStopped},
}

// IsTerminal reports whether no transition leaves s.
func (s RunStatus) IsTerminal() bool {
	return len(runTransitions[s]) == 0
}

// CanTransition reports whether s -> to is legal.
func (s RunStatus) CanTransition(to RunStatus) bool {
	for _, next := range runTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Trigger types recorded on runs.
const (
	TriggerTypeManual   = "manual"
	TriggerTypeRerun    = "rerun"
	TriggerTypeSchedule = "schedule"
	TriggerTypeAPI      = "api"
)

// Run is one execution of a published pipeline version.
type Run struct {
	ID                string            `json:"id"`
	PipelineID        string            `json:"pipeline_id"`
	PipelineVersionID string            `json:"pipeline_version_id"`
	Status            RunStatus         `json:"status"`
	TriggerType       string            `json:"trigger_type"`
	InitiatedBy       string            `json:"initiated_by"`
	SourceRunID       string            `json:"source_run_id,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	StartTime         *time.Time        `json:"start_time,omitempty"`
	EndTime           *time.Time        `json:"end_time,omitempty"`
	DurationSeconds   float64           `json:"duration_seconds,omitempty"`
	StopRequested     bool              `json:"stop_requested"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	ArtifactPointers  map[string]string `json:"artifact_pointers"`
	MetricsSummary    MetricsSummary    `json:"metrics_summary"`
}

// StageMetric is recorded for every completed stage.
type StageMetric struct {
	StageID         string  `json:"stage_id"`
	DurationSeconds float64 `json:"duration_seconds"`
	OutputCount     int     `json:"output_count"`
}

// MetricsSummary accumulates while a run executes and is readable mid-run.
type MetricsSummary struct {
	InputCount      int           `json:"input_count"`
	OutputCount     int           `json:"output_count"`
	Stages          []StageMetric `json:"stages"`
	ExecutionMode   string        `json:"execution_mode,omitempty"`
	DurationSeconds float64       `json:"duration_seconds,omitempty"`
}

// Transition moves the run to the given status. Start and end times are
// stamped on entering RUNNING and any terminal status respectively.
func (r *Run) Transition(to RunStatus, now time.Time) error {
	if !r.Status.CanTransition(to) {
		return &TransitionError{
			Entity: "run",
			ID:     r.ID,
			From:   string(r.Status),
			To:     string(to),
			Err:    ErrInvalidTransition,
		}
	}

	r.Status = to
	switch {
	case to == RunStatusRunning:
		r.StartTime = &now
	case to.IsTerminal():
		r.EndTime = &now
		if r.StartTime != nil {
			r.DurationSeconds = now.Sub(*r.StartTime).Seconds()
			r.MetricsSummary.DurationSeconds = r.DurationSeconds
		}
	}
	return nil
}

// RecordStage appends a completed stage's metrics and merges its artifacts.
func (r *Run) RecordStage(metric StageMetric, artifacts map[string]string) {
	r.MetricsSummary.Stages = append(r.MetricsSummary.Stages, metric)
	r.MetricsSummary.OutputCount = metric.OutputCount
	if len(artifacts) == 0 {
		return
	}
	if r.ArtifactPointers == nil {
		r.ArtifactPointers = make(map[string]string, len(artifacts))
	}
	maps.Copy(r.ArtifactPointers, artifacts)
}

// Clone returns a copy that shares no mutable state with r.
func (r *Run) Clone() *Run {
	c := *r
	c.ArtifactPointers = maps.Clone(r.ArtifactPointers)
	c.MetricsSummary.Stages = append([]StageMetric(nil), r.MetricsSummary.Stages...)
	return &c
}

// StageResult is what a stage executor returns for one stage invocation.
type StageResult struct {
	Records   []any
	Artifacts map[string]string
}
