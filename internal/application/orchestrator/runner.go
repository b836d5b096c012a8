package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/conduit/pkg/domain"
)

const (
	stopMessage     = "stop requested"
	shutdownMessage = "coordinator shutting down"
)

// execute drives one run from QUEUED to a terminal status. It is the worker
// pool's handler.
func (m *Manager) execute(ctx context.Context, runID string) {
	ec := m.execution(runID)
	if !ec.claimed.CompareAndSwap(false, true) {
		m.logger.Warn("run already executing in this process", zap.String("run_id", runID))
		return
	}

	run, err := m.runs.GetRun(ctx, runID)
	if err != nil {
		m.logger.Error("failed to load run", zap.String("run_id", runID), zap.Error(err))
		m.executions.Delete(runID)
		return
	}

	started, err := m.start(ctx, ec)
	if err != nil {
		if ec.requeued.CompareAndSwap(false, true) && !m.shuttingDown.Load() {
			ec.claimed.Store(false)
			if serr := m.pool.Submit(runID); serr == nil {
				m.logger.Warn("failed to start run, re-enqueued once",
					zap.String("run_id", runID), zap.Error(err))
				return
			}
		}
		m.logger.Error("failed to start run, it stays QUEUED until the coordinator restarts",
			zap.String("run_id", runID), zap.Error(err))
		m.executions.Delete(runID)
		return
	}
	if !started {
		// another executor won the QUEUED -> RUNNING swap, or the run already finished
		m.executions.Delete(runID)
		return
	}

	version, err := m.versions.Get(ctx, run.PipelineVersionID)
	if err != nil {
		m.finish(ctx, ec, domain.RunStatusFailed, fmt.Sprintf("failed to load pipeline version: %v", err))
		return
	}
	order, err := m.versions.CanonicalOrder(version)
	if err != nil {
		m.finish(ctx, ec, domain.RunStatusFailed, err.Error())
		return
	}

	records := append([]any(nil), version.Spec.IO.Source.StaticData...)
	if _, err := m.runs.UpdateRun(ctx, runID, func(r *domain.Run) error {
		r.MetricsSummary.InputCount = len(records)
		r.MetricsSummary.ExecutionMode = version.Spec.ExecutionMode
		return nil
	}); err != nil {
		m.logger.Warn("failed to record input count", zap.String("run_id", runID), zap.Error(err))
	}

	for _, stage := range order {
		if reason, stop := m.shouldStop(ctx, ec); stop {
			m.finish(ctx, ec, domain.RunStatusStopped, reason)
			return
		}

		ec.mu.Lock()
		m.appendEvent(ctx, runID, domain.EventTypeStageStarted, stage.StageID,
			fmt.Sprintf("Stage %s started", stage.Name), nil)
		ec.mu.Unlock()

		stageStart := time.Now()
		result, err := m.runStage(ctx, runID, stage, records)
		duration := time.Since(stageStart)

		if err != nil {
			m.metrics.RecordStageExecuted(stage.ExecutorRef, "failed", duration)
			if !errors.Is(err, domain.ErrStageExecution) {
				err = &domain.StageError{StageID: stage.StageID, Err: err}
			}
			ec.mu.Lock()
			m.appendEvent(ctx, runID, domain.EventTypeStageFailed, stage.StageID,
				fmt.Sprintf("Stage %s failed", stage.Name),
				map[string]any{"error": err.Error(), "duration_seconds": duration.Seconds()})
			ec.mu.Unlock()
			m.finish(ctx, ec, domain.RunStatusFailed, err.Error())
			return
		}

		records = result.Records
		metric := domain.StageMetric{
			StageID:         stage.StageID,
			DurationSeconds: duration.Seconds(),
			OutputCount:     len(records),
		}
		m.metrics.RecordStageExecuted(stage.ExecutorRef, "completed", duration)

		ec.mu.Lock()
		if _, err := m.runs.UpdateRun(ctx, runID, func(r *domain.Run) error {
			r.RecordStage(metric, result.Artifacts)
			return nil
		}); err != nil {
			m.logger.Warn("failed to record stage metrics",
				zap.String("run_id", runID),
				zap.String("stage_id", stage.StageID),
				zap.Error(err))
		}
		m.appendEvent(ctx, runID, domain.EventTypeStageCompleted, stage.StageID,
			fmt.Sprintf("Stage %s completed", stage.Name),
			map[string]any{
				"stage_id":         stage.StageID,
				"duration_seconds": metric.DurationSeconds,
				"output_count":     metric.OutputCount,
			})
		ec.mu.Unlock()

		m.logger.Debug("stage completed",
			zap.String("run_id", runID),
			zap.String("stage_id", stage.StageID),
			zap.Duration("duration", duration),
			zap.Int("output_count", metric.OutputCount))
	}

	pointers, err := m.writeSink(ctx, runID, version.Spec.IO.Sink, records)
	if err != nil {
		m.finish(ctx, ec, domain.RunStatusFailed, err.Error())
		return
	}
	if _, err := m.runs.UpdateRun(ctx, runID, func(r *domain.Run) error {
		if r.ArtifactPointers == nil {
			r.ArtifactPointers = map[string]string{}
		}
		for k, v := range pointers {
			r.ArtifactPointers[k] = v
		}
		r.MetricsSummary.OutputCount = len(records)
		return nil
	}); err != nil {
		m.logger.Warn("failed to record artifacts", zap.String("run_id", runID), zap.Error(err))
	}

	m.finish(ctx, ec, domain.RunStatusSucceeded, "")
}

// runStage executes one stage. An executor panic becomes a stage error so
// the run still reaches FAILED.
func (m *Manager) runStage(ctx context.Context, runID string, stage domain.Stage, input []any) (result *domain.StageResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("stage executor panicked",
				zap.String("run_id", runID),
				zap.String("stage_id", stage.StageID),
				zap.Any("panic", r))
			result = nil
			err = &domain.StageError{StageID: stage.StageID, Err: fmt.Errorf("executor panicked: %v", r)}
		}
	}()

	result, err = m.executor.Execute(ctx, stage, input)
	if err == nil && result == nil {
		result = &domain.StageResult{}
	}
	return result, err
}

// start performs the QUEUED -> RUNNING compare-and-swap. It reports false
// without error when the run is no longer QUEUED.
func (m *Manager) start(ctx context.Context, ec *executionContext) (bool, error) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	now := m.now()
	_, err := m.runs.UpdateRun(ctx, ec.runID, func(r *domain.Run) error {
		if r.StopRequested {
			ec.stop.Store(true)
		}
		return r.Transition(domain.RunStatusRunning, now)
	})
	if errors.Is(err, domain.ErrInvalidTransition) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	m.metrics.SetActiveRuns(int(m.activeRuns.Add(1)))
	m.appendEvent(ctx, ec.runID, domain.EventTypeRunStarted, "", "Run started", nil)
	m.logger.Info("run started", zap.String("run_id", ec.runID))
	return true, nil
}

// shouldStop reads the stop flag at a stage boundary. The stored flag is
// consulted too so stops issued through another process are honoured.
func (m *Manager) shouldStop(ctx context.Context, ec *executionContext) (string, bool) {
	if ec.stop.Load() {
		return stopMessage, true
	}
	if m.shuttingDown.Load() {
		return shutdownMessage, true
	}
	run, err := m.runs.GetRun(ctx, ec.runID)
	if err == nil && run.StopRequested {
		ec.stop.Store(true)
		return stopMessage, true
	}
	return "", false
}

func (m *Manager) writeSink(ctx context.Context, runID string, sink domain.SinkConfig, records []any) (map[string]string, error) {
	pointers := map[string]string{"kind": sink.Kind}
	if sink.URI != "" {
		pointers["sink"] = sink.URI
	}
	if sink.Kind != "artifact_uri" {
		return pointers, nil
	}
	if m.artifacts == nil {
		return nil, errors.New("sink kind artifact_uri requires an artifact store")
	}

	uri, err := m.artifacts.Write(ctx, sink.URI, records)
	if err != nil {
		return nil, fmt.Errorf("failed to write output artifact: %w", err)
	}
	pointers["output_uri"] = uri
	m.logger.Info("output artifact written", zap.String("run_id", runID), zap.String("uri", uri))
	return pointers, nil
}

// finish moves the run to a terminal status, appends the closing event and
// seals the log.
func (m *Manager) finish(ctx context.Context, ec *executionContext, status domain.RunStatus, message string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	defer m.executions.Delete(ec.runID)
	defer func() { m.metrics.SetActiveRuns(int(m.activeRuns.Add(-1))) }()

	now := m.now()
	run, err := m.runs.UpdateRun(ctx, ec.runID, func(r *domain.Run) error {
		if err := r.Transition(status, now); err != nil {
			return err
		}
		r.ErrorMessage = message
		return nil
	})
	if err != nil {
		m.logger.Error("failed to record terminal status",
			zap.String("run_id", ec.runID),
			zap.String("status", string(status)),
			zap.Error(err))
		return
	}

	switch status {
	case domain.RunStatusSucceeded:
		m.appendEvent(ctx, ec.runID, domain.EventTypeRunCompleted, "", "Run completed successfully", nil)
	case domain.RunStatusStopped:
		m.appendEvent(ctx, ec.runID, domain.EventTypeRunStopped, "", "Run stopped: "+message, nil)
	default:
		m.appendEvent(ctx, ec.runID, domain.EventTypeRunFailed, "", "Run failed: "+message, nil)
	}
	if err := m.events.Seal(ctx, ec.runID); err != nil {
		m.logger.Error("failed to seal run events", zap.String("run_id", ec.runID), zap.Error(err))
	}

	m.metrics.RecordRunFinished(string(status), time.Duration(run.DurationSeconds*float64(time.Second)))
	m.logger.Info("run finished",
		zap.String("run_id", ec.runID),
		zap.String("status", string(status)),
		zap.Float64("duration_seconds", run.DurationSeconds),
		zap.String("error", message))
}
