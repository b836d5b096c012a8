package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aescanero/conduit/pkg/ports"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	runsTriggered      *prometheus.CounterVec
	runsFinished       *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	stagesExecuted     *prometheus.CounterVec
	stageDuration      *prometheus.HistogramVec
	versionTransitions *prometheus.CounterVec
	activeRuns         prometheus.Gauge
	subscribers        prometheus.Gauge
	queueDepth         prometheus.Gauge
	workerPoolIdle     prometheus.Gauge
	workerPoolBusy     prometheus.Gauge
	workerPoolStopped  prometheus.Gauge

	llmCalls   *prometheus.CounterVec
	llmTokens  *prometheus.CounterVec
	llmLatency *prometheus.HistogramVec
}

var _ ports.MetricsCollector = (*Collector)(nil)

// NewCollector creates a new Prometheus metrics collector registered on reg.
// Pass prometheus.DefaultRegisterer to expose the metrics on /metrics.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		runsTriggered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_runs_triggered_total",
				Help: "Total number of runs triggered",
			},
			[]string{"trigger_type"},
		),
		runsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_runs_finished_total",
				Help: "Total number of runs that reached a terminal status",
			},
			[]string{"status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conduit_run_duration_seconds",
				Help:    "Run duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		stagesExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_stages_executed_total",
				Help: "Total number of stage executions",
			},
			[]string{"executor_ref", "status"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conduit_stage_duration_seconds",
				Help:    "Stage execution duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"executor_ref"},
		),
		versionTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_version_transitions_total",
				Help: "Total number of pipeline version transitions by target status",
			},
			[]string{"status"},
		),
		activeRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conduit_active_runs",
				Help: "Number of runs currently executing",
			},
		),
		subscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conduit_event_subscribers",
				Help: "Number of live run event subscriptions",
			},
		),
		queueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conduit_queue_depth",
				Help: "Number of queued runs waiting for a worker",
			},
		),
		workerPoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conduit_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conduit_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conduit_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
		llmCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_llm_calls_total",
				Help: "Total number of LLM API calls",
			},
			[]string{"model"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_llm_tokens_total",
				Help: "Total number of LLM tokens used",
			},
			[]string{"model", "type"},
		),
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conduit_llm_latency_seconds",
				Help:    "LLM API call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"model"},
		),
	}
}

// RecordRunTriggered records a new run
func (c *Collector) RecordRunTriggered(triggerType string) {
	c.runsTriggered.WithLabelValues(triggerType).Inc()
}

// RecordRunFinished records a run reaching a terminal status
func (c *Collector) RecordRunFinished(status string, duration time.Duration) {
	c.runsFinished.WithLabelValues(status).Inc()
	c.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStageExecuted records a stage execution
func (c *Collector) RecordStageExecuted(executorRef, status string, duration time.Duration) {
	c.stagesExecuted.WithLabelValues(executorRef, status).Inc()
	c.stageDuration.WithLabelValues(executorRef).Observe(duration.Seconds())
}

// RecordVersionTransition records a version entering status
func (c *Collector) RecordVersionTransition(status string) {
	c.versionTransitions.WithLabelValues(status).Inc()
}

// SetActiveRuns sets the number of executing runs
func (c *Collector) SetActiveRuns(count int) {
	c.activeRuns.Set(float64(count))
}

// SetSubscribers sets the number of live subscriptions
func (c *Collector) SetSubscribers(count int) {
	c.subscribers.Set(float64(count))
}

// SetQueueDepth sets the number of runs waiting for a worker
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}

// RecordLLMCall records an LLM API call with its token usage
func (c *Collector) RecordLLMCall(model string, inputTokens, outputTokens int64, latency time.Duration) {
	c.llmCalls.WithLabelValues(model).Inc()
	c.llmTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	c.llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	c.llmLatency.WithLabelValues(model).Observe(latency.Seconds())
}
