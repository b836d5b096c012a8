package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/conduit/pkg/ports"
)

// ErrPoolClosed is returned by Submit once the pool is shutting down
var ErrPoolClosed = errors.New("worker pool closed")

// Handler executes one job. ctx is not cancelled by pool shutdown; the
// handler decides how to wind down.
type Handler func(ctx context.Context, runID string)

// Pool manages a pool of worker goroutines
type Pool struct {
	size    int
	handler Handler
	metrics ports.MetricsCollector
	logger  *zap.Logger
	health  *HealthMonitor

	workers []*worker
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	queue   []string
	started bool
	closed  bool
	wake    chan struct{}
	jobs    chan string
}

// worker represents a single worker goroutine
type worker struct {
	id      string
	pool    *Pool
	status  WorkerStatus
	mu      sync.RWMutex
	lastJob time.Time
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// NewPool creates a new worker pool
func NewPool(
	size int,
	handler Handler,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	healthCheckInterval time.Duration,
) *Pool {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		size:    size,
		handler: handler,
		metrics: metrics,
		logger:  logger,
		workers: make([]*worker, size),
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		jobs:    make(chan string),
	}

	pool.health = NewHealthMonitor(pool, healthCheckInterval, logger)

	return pool
}

// Start starts the worker pool
func (p *Pool) Start() error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("worker pool already started")
	}
	p.started = true
	p.mu.Unlock()

	p.logger.Info("starting worker pool", zap.Int("size", p.size))

	for i := 0; i < p.size; i++ {
		w := &worker{
			id:      fmt.Sprintf("worker-%d", i),
			pool:    p,
			status:  WorkerStatusIdle,
			lastJob: time.Now(),
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(p.ctx)
	}

	p.wg.Add(1)
	go p.dispatch()

	p.health.Start()

	p.logger.Info("worker pool started", zap.Int("workers", p.size))
	return nil
}

// Submit enqueues a run id. It never blocks.
func (p *Pool) Submit(runID string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.queue = append(p.queue, runID)
	depth := len(p.queue)
	p.mu.Unlock()

	p.metrics.SetQueueDepth(depth)

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// QueueDepth returns the number of jobs waiting for a worker
func (p *Pool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// dispatch moves queued ids to idle workers in FIFO order
func (p *Pool) dispatch() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			select {
			case <-p.wake:
				continue
			case <-p.ctx.Done():
				return
			}
		}
		next := p.queue[0]
		p.mu.Unlock()

		select {
		case p.jobs <- next:
			p.mu.Lock()
			p.queue = p.queue[1:]
			depth := len(p.queue)
			p.mu.Unlock()
			p.metrics.SetQueueDepth(depth)
		case <-p.ctx.Done():
			return
		}
	}
}

// Shutdown stops accepting jobs, lets in-flight jobs finish and stops the workers
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	p.mu.Lock()
	p.closed = true
	dropped := len(p.queue)
	p.mu.Unlock()

	p.health.Stop()
	p.cancel()

	if dropped > 0 {
		p.logger.Warn("queued jobs left unstarted", zap.Int("count", dropped))
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout")
	}
}

// GetStatus returns the status of all workers
func (p *Pool) GetStatus() map[string]WorkerStatus {
	status := make(map[string]WorkerStatus)
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		w.mu.RLock()
		status[w.id] = w.status
		w.mu.RUnlock()
	}
	return status
}

// Health returns the pool's health monitor
func (p *Pool) Health() *HealthMonitor {
	return p.health
}

// run is the main worker loop
func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()

	w.pool.logger.Debug("worker started", zap.String("worker_id", w.id))

	for {
		select {
		case <-ctx.Done():
			w.setStatus(WorkerStatusStopped)
			w.pool.logger.Debug("worker stopped", zap.String("worker_id", w.id))
			return
		case runID := <-w.pool.jobs:
			w.handle(runID)
		}
	}
}

func (w *worker) handle(runID string) {
	w.mu.Lock()
	w.status = WorkerStatusBusy
	w.lastJob = time.Now()
	w.mu.Unlock()
	defer w.setStatus(WorkerStatusIdle)

	defer func() {
		if r := recover(); r != nil {
			w.pool.logger.Error("job panicked",
				zap.String("worker_id", w.id),
				zap.String("run_id", runID),
				zap.Any("panic", r))
		}
	}()

	w.pool.handler(context.WithoutCancel(w.pool.ctx), runID)
}

func (w *worker) setStatus(s WorkerStatus) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}
