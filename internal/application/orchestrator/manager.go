package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/conduit/internal/application/versions"
	"github.com/aescanero/conduit/internal/application/workers"
	"github.com/aescanero/conduit/pkg/domain"
	"github.com/aescanero/conduit/pkg/ports"
)

// ErrShuttingDown is returned by commands issued after Shutdown began
var ErrShuttingDown = errors.New("coordinator shutting down")

// Options configures a Manager
type Options struct {
	Workers             int
	HealthCheckInterval time.Duration
	// SubscribePollInterval bounds how long a live tail waits before
	// re-reading the log.
	SubscribePollInterval time.Duration
}

// TriggerRequest asks for a new run of a pipeline
type TriggerRequest struct {
	PipelineID  string
	VersionID   string // optional; defaults to the active version
	TriggerType string // optional; defaults to manual
	Actor       string
}

// Manager coordinates run execution
type Manager struct {
	versions  *versions.Service
	runs      ports.RunStore
	events    ports.EventLog
	executor  ports.StageExecutor
	artifacts ports.ArtifactWriter
	audit     ports.AuditSink
	metrics   ports.MetricsCollector
	logger    *zap.Logger
	pool      *workers.Pool

	// Track runs owned by this process
	executions sync.Map // map[string]*executionContext

	activeRuns   atomic.Int64
	subscribers  atomic.Int64
	shuttingDown atomic.Bool
	pollInterval time.Duration
	now          func() time.Time
}

// executionContext holds in-process state for a single run
type executionContext struct {
	runID string
	// mu serializes the run's transitions and event appends
	mu      sync.Mutex
	stop    atomic.Bool
	claimed atomic.Bool
	// requeued is set once a failed start has been re-submitted
	requeued atomic.Bool
}

// NewManager creates a new run coordinator. artifacts may be nil when no
// artifact store is configured.
func NewManager(
	versionService *versions.Service,
	runs ports.RunStore,
	events ports.EventLog,
	executor ports.StageExecutor,
	artifacts ports.ArtifactWriter,
	audit ports.AuditSink,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	opts Options,
) *Manager {
	if opts.SubscribePollInterval <= 0 {
		opts.SubscribePollInterval = time.Second
	}

	m := &Manager{
		versions:     versionService,
		runs:         runs,
		events:       events,
		executor:     executor,
		artifacts:    artifacts,
		audit:        audit,
		metrics:      metrics,
		logger:       logger,
		pollInterval: opts.SubscribePollInterval,
		now:          func() time.Time { return time.Now().UTC() },
	}
	m.pool = workers.NewPool(opts.Workers, m.execute, metrics, logger, opts.HealthCheckInterval)
	return m
}

// Start starts the worker pool and re-enqueues runs left QUEUED in the store
func (m *Manager) Start(ctx context.Context) error {
	if err := m.pool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	queued, err := m.runs.ListRuns(ctx, ports.RunFilter{Status: domain.RunStatusQueued})
	if err != nil {
		return fmt.Errorf("failed to list queued runs: %w", err)
	}
	// oldest first to keep trigger order
	for i := len(queued) - 1; i >= 0; i-- {
		m.execution(queued[i].ID)
		if err := m.pool.Submit(queued[i].ID); err != nil {
			return fmt.Errorf("failed to re-enqueue run: %w", err)
		}
	}
	if len(queued) > 0 {
		m.logger.Info("re-enqueued queued runs", zap.Int("count", len(queued)))
	}
	return nil
}

// execution returns the run's execution context, creating it
func (m *Manager) execution(runID string) *executionContext {
	val, _ := m.executions.LoadOrStore(runID, &executionContext{runID: runID})
	return val.(*executionContext)
}

// Trigger resolves the target version, creates a QUEUED run and schedules it.
// It returns before execution starts.
func (m *Manager) Trigger(ctx context.Context, req TriggerRequest) (*domain.Run, error) {
	if m.shuttingDown.Load() {
		return nil, ErrShuttingDown
	}

	triggerType := req.TriggerType
	switch triggerType {
	case "":
		triggerType = domain.TriggerTypeManual
	case domain.TriggerTypeManual, domain.TriggerTypeSchedule, domain.TriggerTypeAPI:
	default:
		return nil, fmt.Errorf("%w: unsupported trigger type %q", domain.ErrInvalidSpec, triggerType)
	}

	version, err := m.versions.Resolve(ctx, req.PipelineID, req.VersionID)
	if err != nil {
		return nil, err
	}

	return m.enqueue(ctx, version, triggerType, req.Actor, "", domain.AuditRunTrigger)
}

// Rerun schedules a brand-new run of the version an existing run used. The
// source run is left untouched.
func (m *Manager) Rerun(ctx context.Context, runID, actor string) (*domain.Run, error) {
	if m.shuttingDown.Load() {
		return nil, ErrShuttingDown
	}

	source, err := m.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	version, err := m.versions.Get(ctx, source.PipelineVersionID)
	if err != nil {
		return nil, err
	}

	return m.enqueue(ctx, version, domain.TriggerTypeRerun, actor, source.ID, domain.AuditRunRerun)
}

func (m *Manager) enqueue(ctx context.Context, version *domain.PipelineVersion, triggerType, actor, sourceRunID, action string) (*domain.Run, error) {
	run := &domain.Run{
		ID:                uuid.New().String(),
		PipelineID:        version.PipelineID,
		PipelineVersionID: version.ID,
		Status:            domain.RunStatusQueued,
		TriggerType:       triggerType,
		InitiatedBy:       actor,
		SourceRunID:       sourceRunID,
		CreatedAt:         m.now(),
		ArtifactPointers:  map[string]string{},
		MetricsSummary: domain.MetricsSummary{
			ExecutionMode: version.Spec.ExecutionMode,
			Stages:        []domain.StageMetric{},
		},
	}

	if err := m.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	ec := m.execution(run.ID)
	message := "Run queued"
	if sourceRunID != "" {
		message = "Rerun queued"
	}
	ec.mu.Lock()
	m.appendEvent(ctx, run.ID, domain.EventTypeRunQueued, "", message, nil)
	ec.mu.Unlock()

	details := map[string]any{
		"pipeline_id":         run.PipelineID,
		"pipeline_version_id": run.PipelineVersionID,
		"trigger_type":        triggerType,
	}
	if sourceRunID != "" {
		details["source_run_id"] = sourceRunID
	}
	m.audit.Record(ctx, domain.AuditRecord{
		Actor:        actor,
		Action:       action,
		ResourceType: "run",
		ResourceID:   run.ID,
		Details:      details,
		OccurredAt:   m.now(),
	})
	m.metrics.RecordRunTriggered(triggerType)

	if err := m.pool.Submit(run.ID); err != nil {
		m.logger.Error("failed to schedule run",
			zap.String("run_id", run.ID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to schedule run: %w", err)
	}

	m.logger.Info("run queued",
		zap.String("run_id", run.ID),
		zap.String("pipeline_id", run.PipelineID),
		zap.String("pipeline_version_id", run.PipelineVersionID),
		zap.String("trigger_type", triggerType))

	return run.Clone(), nil
}

// Stop requests a cooperative stop. It is idempotent and a no-op on a
// terminal run.
func (m *Manager) Stop(ctx context.Context, runID, actor string) (*domain.Run, error) {
	// runs not owned by this process still get a lock so the append and
	// transition below stay paired
	ec := &executionContext{runID: runID}
	if val, ok := m.executions.Load(runID); ok {
		ec = val.(*executionContext)
	}
	ec.mu.Lock()
	defer ec.mu.Unlock()

	var alreadyRequested, terminal bool
	run, err := m.runs.UpdateRun(ctx, runID, func(r *domain.Run) error {
		terminal = r.Status.IsTerminal()
		alreadyRequested = r.StopRequested
		if !terminal {
			r.StopRequested = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if terminal || alreadyRequested {
		return run, nil
	}

	ec.stop.Store(true)
	m.appendEvent(ctx, runID, domain.EventTypeStopRequested, "", "Stop requested", nil)
	m.audit.Record(ctx, domain.AuditRecord{
		Actor:        actor,
		Action:       domain.AuditRunStop,
		ResourceType: "run",
		ResourceID:   runID,
		Details:      map[string]any{"pipeline_id": run.PipelineID, "status": string(run.Status)},
		OccurredAt:   m.now(),
	})
	m.logger.Info("stop requested",
		zap.String("run_id", runID),
		zap.String("status", string(run.Status)))

	return run, nil
}

// GetRun returns a run by id
func (m *Manager) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	return m.runs.GetRun(ctx, runID)
}

// ListRuns returns runs matching filter
func (m *Manager) ListRuns(ctx context.Context, filter ports.RunFilter) ([]*domain.Run, error) {
	return m.runs.ListRuns(ctx, filter)
}

// MetricsSummary returns the run's metrics as of its latest completed stage
func (m *Manager) MetricsSummary(ctx context.Context, runID string) (*domain.MetricsSummary, error) {
	run, err := m.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &run.MetricsSummary, nil
}

// ListEvents replays the run's events with Seq > afterSeq
func (m *Manager) ListEvents(ctx context.Context, runID string, afterSeq int64) ([]domain.RunEvent, error) {
	if _, err := m.runs.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return m.events.List(ctx, runID, afterSeq)
}

// Subscribe replays the run's events after afterSeq and then tails new ones.
// The channel closes once the log is sealed and drained, or when ctx ends.
func (m *Manager) Subscribe(ctx context.Context, runID string, afterSeq int64) (<-chan domain.RunEvent, error) {
	if _, err := m.runs.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	out := make(chan domain.RunEvent)
	m.metrics.SetSubscribers(int(m.subscribers.Add(1)))

	go func() {
		defer close(out)
		defer func() { m.metrics.SetSubscribers(int(m.subscribers.Add(-1))) }()

		after := afterSeq
		for {
			// sealed is read before listing so a sealed, drained log ends the tail
			sealed, err := m.events.Sealed(ctx, runID)
			if err != nil {
				m.logger.Warn("failed to read log state", zap.String("run_id", runID), zap.Error(err))
				return
			}
			batch, err := m.events.List(ctx, runID, after)
			if err != nil {
				m.logger.Warn("failed to read run events", zap.String("run_id", runID), zap.Error(err))
				return
			}
			for _, ev := range batch {
				select {
				case out <- ev:
					after = ev.Seq
				case <-ctx.Done():
					return
				}
			}
			if len(batch) > 0 {
				continue
			}
			if sealed {
				return
			}
			if err := m.events.Wait(ctx, runID, after, m.pollInterval); err != nil {
				return
			}
		}
	}()

	return out, nil
}

// Ready reports whether the coordinator accepts work
func (m *Manager) Ready() bool {
	return !m.shuttingDown.Load() && m.pool.Health().IsHealthy()
}

// PoolStatus reports the worker pool's health
func (m *Manager) PoolStatus() *workers.HealthStatus {
	return m.pool.Health().GetStatus()
}

// Shutdown stops accepting runs and waits for in-flight runs to reach a stage
// boundary, where they end STOPPED.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down run coordinator")
	m.shuttingDown.Store(true)

	if err := m.pool.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down worker pool: %w", err)
	}

	m.logger.Info("run coordinator shut down complete")
	return nil
}

// appendEvent appends to the run's log. Callers hold the run's lock.
func (m *Manager) appendEvent(ctx context.Context, runID string, typ domain.EventType, stageID, message string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	ev := &domain.RunEvent{
		RunID:     runID,
		EventType: typ,
		StageID:   stageID,
		Message:   message,
		Payload:   payload,
		CreatedAt: m.now(),
	}
	if err := m.events.Append(ctx, ev); err != nil {
		m.logger.Error("failed to append run event",
			zap.String("run_id", runID),
			zap.String("event_type", string(typ)),
			zap.Error(err))
	}
}
