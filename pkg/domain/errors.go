package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the engine. Callers match them with errors.Is.
var (
	// ErrInvalidGraph indicates a proposed stage graph violates the linear chain rules.
	ErrInvalidGraph = errors.New("invalid graph")

	// ErrInvalidSpec indicates a structurally valid graph carries invalid stage or spec fields.
	ErrInvalidSpec = errors.New("invalid pipeline spec")

	// ErrInvalidTransition indicates a version or run state change that is not legal
	// from the current state.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrConcurrentPublish indicates a publish lost a race against another publish on
	// the same pipeline. It also matches ErrInvalidTransition.
	ErrConcurrentPublish = fmt.Errorf("concurrent publish conflict: %w", ErrInvalidTransition)

	// ErrNoPublishedVersion indicates a trigger named a pipeline without a usable
	// published version.
	ErrNoPublishedVersion = errors.New("no published version")

	// ErrStageExecution indicates a stage executor reported an unrecoverable error.
	ErrStageExecution = errors.New("stage execution failed")

	// ErrVersionNotFound indicates a pipeline version was not found.
	ErrVersionNotFound = errors.New("pipeline version not found")

	// ErrRunNotFound indicates a run was not found.
	ErrRunNotFound = errors.New("run not found")

	// ErrEventLogSealed indicates an append to a run whose event log is complete.
	ErrEventLogSealed = errors.New("run event log sealed")
)

// GraphReason identifies which structural rule a graph violated.
type GraphReason string

const (
	GraphReasonEmpty         GraphReason = "empty"
	GraphReasonDuplicateID   GraphReason = "duplicate_id"
	GraphReasonDanglingEdge  GraphReason = "dangling_edge"
	GraphReasonSelfLoop      GraphReason = "self_loop"
	GraphReasonBranching     GraphReason = "fan_in_fan_out"
	GraphReasonRootLeaf      GraphReason = "multi_root_leaf"
	GraphReasonCycleOrOrphan GraphReason = "cycle_or_orphan"
	GraphReasonOrderMismatch GraphReason = "order_mismatch"
)

// GraphError wraps ErrInvalidGraph with the violated rule.
type GraphError struct {
	Reason  GraphReason
	StageID string // offending stage, if any
	Message string
}

func (e *GraphError) Error() string {
	if e.StageID != "" {
		return fmt.Sprintf("invalid graph (%s) at stage %s: %s", e.Reason, e.StageID, e.Message)
	}
	return fmt.Sprintf("invalid graph (%s): %s", e.Reason, e.Message)
}

func (e *GraphError) Unwrap() error {
	return ErrInvalidGraph
}

// NewGraphError creates a graph error for the given rule.
func NewGraphError(reason GraphReason, stageID, message string) *GraphError {
	return &GraphError{Reason: reason, StageID: stageID, Message: message}
}

// GraphReasonOf extracts the violated rule from err, if err is a graph error.
func GraphReasonOf(err error) (GraphReason, bool) {
	var gerr *GraphError
	if errors.As(err, &gerr) {
		return gerr.Reason, true
	}
	return "", false
}

// TransitionError wraps ErrInvalidTransition with the attempted change.
type TransitionError struct {
	Entity string // "version" or "run"
	ID     string
	From   string
	To     string
	Err    error // ErrInvalidTransition or ErrConcurrentPublish
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot transition from %s to %s: %v", e.Entity, e.ID, e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for transition errors.
func (e *TransitionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// StageError wraps ErrStageExecution with the failing stage.
type StageError struct {
	StageID string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.StageID, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{ErrStageExecution, e.Err}
}

// IsNotFound reports whether err indicates a missing version or run.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrVersionNotFound) || errors.Is(err, ErrRunNotFound)
}
