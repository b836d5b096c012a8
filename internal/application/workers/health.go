package workers

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthStatus is a point-in-time snapshot of the run worker pool
type HealthStatus struct {
	TotalWorkers   int       `json:"total_workers"`
	IdleWorkers    int       `json:"idle_workers"`
	BusyWorkers    int       `json:"busy_workers"`
	StoppedWorkers int       `json:"stopped_workers"`
	QueueDepth     int       `json:"queue_depth"`
	Healthy        bool      `json:"healthy"`
	// Saturated means every worker is executing a run and more are queued
	Saturated bool      `json:"saturated"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthMonitor periodically publishes pool snapshots to the log and to
// the metrics collector
type HealthMonitor struct {
	pool     *Pool
	interval time.Duration
	logger   *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// NewHealthMonitor creates a monitor for pool; interval defaults to 30s
func NewHealthMonitor(pool *Pool, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthMonitor{
		pool:     pool,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins periodic reporting. Calling it again has no effect.
func (h *HealthMonitor) Start() {
	h.startOnce.Do(func() { go h.loop() })
}

// Stop ends periodic reporting
func (h *HealthMonitor) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *HealthMonitor) loop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.report(h.GetStatus())
		}
	}
}

func (h *HealthMonitor) report(status *HealthStatus) {
	h.pool.metrics.RecordWorkerPoolStatus(status.IdleWorkers, status.BusyWorkers, status.StoppedWorkers)
	h.pool.metrics.SetQueueDepth(status.QueueDepth)

	fields := []zap.Field{
		zap.Int("total", status.TotalWorkers),
		zap.Int("idle", status.IdleWorkers),
		zap.Int("busy", status.BusyWorkers),
		zap.Int("stopped", status.StoppedWorkers),
		zap.Int("queue_depth", status.QueueDepth),
	}
	switch {
	case !status.Healthy:
		h.logger.Warn("run worker pool is unhealthy", fields...)
	case status.Saturated:
		h.logger.Warn("run worker pool saturated, runs are waiting", fields...)
	default:
		h.logger.Debug("run worker pool health check", fields...)
	}
}

// GetStatus counts workers by state. A saturated pool is still healthy;
// only stopped workers make it unhealthy.
func (h *HealthMonitor) GetStatus() *HealthStatus {
	status := &HealthStatus{
		QueueDepth: h.pool.QueueDepth(),
		Timestamp:  time.Now().UTC(),
	}
	for _, ws := range h.pool.GetStatus() {
		status.TotalWorkers++
		switch ws {
		case WorkerStatusIdle:
			status.IdleWorkers++
		case WorkerStatusBusy:
			status.BusyWorkers++
		case WorkerStatusStopped:
			status.StoppedWorkers++
		}
	}
	status.Healthy = status.TotalWorkers > 0 && status.StoppedWorkers == 0
	status.Saturated = status.TotalWorkers > 0 && status.BusyWorkers == status.TotalWorkers && status.QueueDepth > 0
	return status
}

// IsHealthy reports whether no worker has stopped
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}
