package audit

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/aescanero/conduit/pkg/domain"
	"github.com/aescanero/conduit/pkg/ports"
)

// LogSink writes audit records to a zap logger
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a new log audit sink
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

// Record logs rec at info level
func (s *LogSink) Record(ctx context.Context, rec domain.AuditRecord) {
	s.logger.Info("audit",
		zap.String("actor", rec.Actor),
		zap.String("action", rec.Action),
		zap.String("resource_type", rec.ResourceType),
		zap.String("resource_id", rec.ResourceID),
		zap.Any("details", rec.Details),
		zap.Time("occurred_at", rec.OccurredAt))
}

// Multi fans records out to every sink in order
type Multi []ports.AuditSink

// Record forwards rec to all sinks
func (m Multi) Record(ctx context.Context, rec domain.AuditRecord) {
	for _, sink := range m {
		sink.Record(ctx, rec)
	}
}

// Recorder keeps audit records in memory
type Recorder struct {
	mu      sync.Mutex
	records []domain.AuditRecord
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record stores rec
func (r *Recorder) Record(ctx context.Context, rec domain.AuditRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

// Records returns a copy of everything recorded so far
func (r *Recorder) Records() []domain.AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AuditRecord(nil), r.records...)
}

// Actions returns the recorded actions in order
func (r *Recorder) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.Action
	}
	return out
}

var (
	_ ports.AuditSink = (*LogSink)(nil)
	_ ports.AuditSink = Multi(nil)
	_ ports.AuditSink = (*Recorder)(nil)
)
