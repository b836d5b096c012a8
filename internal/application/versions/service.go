// Package versions implements the pipeline version lifecycle:
// DRAFT -> IN_REVIEW -> PUBLISHED | REJECTED.
//
// Every new version passes the graph validator before a version number is
// allocated, versions are immutable snapshots, and publishing atomically moves
// the pipeline's single active pointer.
package versions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/conduit/internal/application/graph"
	"github.com/aescanero/conduit/pkg/domain"
	"github.com/aescanero/conduit/pkg/ports"
)

// Service governs pipeline version transitions
type Service struct {
	store     ports.VersionStore
	validator *graph.Validator
	audit     ports.AuditSink
	metrics   ports.MetricsCollector
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a new version lifecycle service
func NewService(
	store ports.VersionStore,
	validator *graph.Validator,
	audit ports.AuditSink,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *Service {
	return &Service{
		store:     store,
		validator: validator,
		audit:     audit,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateDraft validates spec and stores it as the pipeline's next DRAFT version.
// Nothing is persisted when validation fails.
func (s *Service) CreateDraft(ctx context.Context, pipelineID string, spec domain.PipelineSpec, changeSummary, author string) (*domain.PipelineVersion, error) {
	if pipelineID == "" {
		return nil, fmt.Errorf("%w: pipeline id is required", domain.ErrInvalidSpec)
	}

	if _, err := s.validator.Validate(spec.Stages, spec.Edges); err != nil {
		s.logger.Info("rejected draft with invalid graph",
			zap.String("pipeline_id", pipelineID),
			zap.Error(err))
		return nil, err
	}

	spec.Stages = append([]domain.Stage(nil), spec.Stages...)
	spec.ApplyDefaults()
	if err := spec.ValidateFields(); err != nil {
		return nil, err
	}

	version, err := s.store.CreateVersion(ctx, &domain.PipelineVersion{
		PipelineID:    pipelineID,
		Status:        domain.VersionStatusDraft,
		Spec:          spec,
		ChangeSummary: changeSummary,
		CreatedBy:     author,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create version: %w", err)
	}

	s.record(ctx, author, domain.AuditVersionCreate, version)
	s.logger.Info("draft version created",
		zap.String("pipeline_id", pipelineID),
		zap.String("version_id", version.ID),
		zap.Int("version_number", version.VersionNumber))

	return version, nil
}

// SubmitForReview moves a DRAFT version to IN_REVIEW.
func (s *Service) SubmitForReview(ctx context.Context, versionID, actor string) (*domain.PipelineVersion, error) {
	return s.transition(ctx, versionID, actor, domain.VersionStatusInReview, domain.AuditVersionSubmit)
}

// Reject moves an IN_REVIEW version to REJECTED. Rejected versions are final.
func (s *Service) Reject(ctx context.Context, versionID, actor string) (*domain.PipelineVersion, error) {
	return s.transition(ctx, versionID, actor, domain.VersionStatusRejected, domain.AuditVersionReject)
}

// ApproveAndPublish moves an IN_REVIEW version to PUBLISHED and makes it the
// pipeline's only active version.
func (s *Service) ApproveAndPublish(ctx context.Context, versionID, actor string) (*domain.PipelineVersion, error) {
	now := s.now()
	version, err := s.store.PublishVersion(ctx, versionID, func(v *domain.PipelineVersion) error {
		return v.Transition(domain.VersionStatusPublished, now)
	})
	if err != nil {
		if errors.Is(err, domain.ErrConcurrentPublish) {
			s.logger.Warn("publish lost a concurrent race",
				zap.String("version_id", versionID))
		}
		return nil, err
	}

	s.metrics.RecordVersionTransition(string(version.Status))
	s.record(ctx, actor, domain.AuditVersionPublish, version)
	s.logger.Info("version published",
		zap.String("pipeline_id", version.PipelineID),
		zap.String("version_id", version.ID),
		zap.Int("version_number", version.VersionNumber))

	return version, nil
}

func (s *Service) transition(ctx context.Context, versionID, actor string, to domain.VersionStatus, action string) (*domain.PipelineVersion, error) {
	now := s.now()
	version, err := s.store.UpdateVersion(ctx, versionID, func(v *domain.PipelineVersion) error {
		return v.Transition(to, now)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordVersionTransition(string(to))
	s.record(ctx, actor, action, version)
	s.logger.Info("version transitioned",
		zap.String("version_id", versionID),
		zap.String("status", string(to)))

	return version, nil
}

// Get returns a version by id.
func (s *Service) Get(ctx context.Context, versionID string) (*domain.PipelineVersion, error) {
	return s.store.GetVersion(ctx, versionID)
}

// List returns a pipeline's versions ordered by version number.
func (s *Service) List(ctx context.Context, pipelineID string) ([]*domain.PipelineVersion, error) {
	return s.store.ListVersions(ctx, pipelineID)
}

// Resolve picks the version a trigger runs: the explicit version when given,
// otherwise the pipeline's active version. The result is always PUBLISHED.
func (s *Service) Resolve(ctx context.Context, pipelineID, versionID string) (*domain.PipelineVersion, error) {
	if versionID == "" {
		return s.store.ActiveVersion(ctx, pipelineID)
	}

	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if version.PipelineID != pipelineID {
		return nil, fmt.Errorf("%w: %s does not belong to pipeline %s", domain.ErrVersionNotFound, versionID, pipelineID)
	}
	if version.Status != domain.VersionStatusPublished {
		return nil, fmt.Errorf("%w: version %s is %s", domain.ErrNoPublishedVersion, versionID, version.Status)
	}
	return version, nil
}

// CanonicalOrder re-derives the execution order of a stored version.
func (s *Service) CanonicalOrder(version *domain.PipelineVersion) ([]domain.Stage, error) {
	return s.validator.Validate(version.Spec.Stages, version.Spec.Edges)
}

func (s *Service) record(ctx context.Context, actor, action string, v *domain.PipelineVersion) {
	s.audit.Record(ctx, domain.AuditRecord{
		Actor:        actor,
		Action:       action,
		ResourceType: "pipeline_version",
		ResourceID:   v.ID,
		Details: map[string]any{
			"pipeline_id":    v.PipelineID,
			"version_number": v.VersionNumber,
			"status":         string(v.Status),
		},
		OccurredAt: s.now(),
	})
}
