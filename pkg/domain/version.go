package domain

import "time"

// VersionStatus is the review/publish state of a pipeline version.
type VersionStatus string

const (
	VersionStatusDraft     VersionStatus = "DRAFT"
	VersionStatusInReview  VersionStatus = "IN_REVIEW"
	VersionStatusPublished VersionStatus = "PUBLISHED"
	VersionStatusRejected  VersionStatus = "REJECTED"
)

// versionTransitions is the complete version state machine.
var versionTransitions = map[VersionStatus][]VersionStatus{
	VersionStatusDraft:    {VersionStatusInReview},
	VersionStatusInReview: {VersionStatusPublished, VersionStatusRejected},
}

// IsTerminal reports whether no transition leaves s.
func (s VersionStatus) IsTerminal() bool {
	return len(versionTransitions[s]) == 0
}

// CanTransition reports whether s -> to is legal.
func (s VersionStatus) CanTransition(to VersionStatus) bool {
	for _, next := range versionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// PipelineVersion is an immutable snapshot of a pipeline spec moving through
// review. IsActive is derived from the pipeline's active pointer.
type PipelineVersion struct {
	ID            string        `json:"id"`
	PipelineID    string        `json:"pipeline_id"`
	VersionNumber int           `json:"version_number"`
	Status        VersionStatus `json:"status"`
	IsActive      bool          `json:"is_active"`
	Spec          PipelineSpec  `json:"spec"`
	ChangeSummary string        `json:"change_summary"`
	CreatedBy     string        `json:"created_by"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	SubmittedAt   *time.Time    `json:"submitted_at,omitempty"`
	PublishedAt   *time.Time    `json:"published_at,omitempty"`
	RejectedAt    *time.Time    `json:"rejected_at,omitempty"`
}

// Transition moves the version to the given status, stamping the matching
// timestamp. The version is left untouched when the move is illegal.
func (v *PipelineVersion) Transition(to VersionStatus, now time.Time) error {
	if !v.Status.CanTransition(to) {
		return &TransitionError{
			Entity: "version",
			ID:     v.ID,
			From:   string(v.Status),
			To:     string(to),
			Err:    ErrInvalidTransition,
		}
	}

	v.Status = to
	v.UpdatedAt = now
	switch to {
	case VersionStatusInReview:
		v.SubmittedAt = &now
	case VersionStatusPublished:
		v.PublishedAt = &now
	case VersionStatusRejected:
		v.RejectedAt = &now
	}
	return nil
}

// Clone returns a copy that shares no mutable state with v.
func (v *PipelineVersion) Clone() *PipelineVersion {
	c := *v
	c.Spec = v.Spec.Clone()
	return &c
}
