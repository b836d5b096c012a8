package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aescanero/conduit/pkg/domain"
	"github.com/aescanero/conduit/pkg/ports"
)

type runLog struct {
	events []domain.RunEvent
	sealed bool
	// wake is closed and replaced on every append and on seal
	wake chan struct{}
}

// EventLog implements ports.EventLog in memory
type EventLog struct {
	logs map[string]*runLog
	mu   sync.Mutex
	now  func() time.Time
}

var _ ports.EventLog = (*EventLog)(nil)

// NewEventLog creates a new in-memory event log
func NewEventLog() *EventLog {
	return &EventLog{
		logs: make(map[string]*runLog),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// get returns the run's log, creating it. Callers hold l.mu.
func (l *EventLog) get(runID string) *runLog {
	rl, ok := l.logs[runID]
	if !ok {
		rl = &runLog{wake: make(chan struct{})}
		l.logs[runID] = rl
	}
	return rl
}

// Append assigns the next sequence number and stores the event
func (l *EventLog) Append(ctx context.Context, event *domain.RunEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rl := l.get(event.RunID)
	if rl.sealed {
		return fmt.Errorf("%w: %s", domain.ErrEventLogSealed, event.RunID)
	}

	event.Seq = int64(len(rl.events)) + 1
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = l.now()
	}
	rl.events = append(rl.events, *event)

	close(rl.wake)
	rl.wake = make(chan struct{})
	return nil
}

// List returns events with Seq > afterSeq in order
func (l *EventLog) List(ctx context.Context, runID string, afterSeq int64) ([]domain.RunEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rl, ok := l.logs[runID]
	if !ok || afterSeq >= int64(len(rl.events)) {
		return []domain.RunEvent{}, nil
	}
	if afterSeq < 0 {
		afterSeq = 0
	}
	out := make([]domain.RunEvent, len(rl.events)-int(afterSeq))
	copy(out, rl.events[afterSeq:])
	return out, nil
}

// Wait blocks until an event after afterSeq exists, the log is sealed, the
// timeout elapses or ctx ends. Only ctx ending produces an error.
func (l *EventLog) Wait(ctx context.Context, runID string, afterSeq int64, timeout time.Duration) error {
	l.mu.Lock()
	rl, ok := l.logs[runID]
	// an unknown run only waits out the timeout; no entry is created for it
	var wake chan struct{}
	if ok {
		if rl.sealed || int64(len(rl.events)) > afterSeq {
			l.mu.Unlock()
			return nil
		}
		wake = rl.wake
	}
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-wake:
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Seal marks the run's log complete and wakes every waiter
func (l *EventLog) Seal(ctx context.Context, runID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rl := l.get(runID)
	if rl.sealed {
		return nil
	}
	rl.sealed = true
	close(rl.wake)
	rl.wake = make(chan struct{})
	return nil
}

// Sealed reports whether the run's log is complete
func (l *EventLog) Sealed(ctx context.Context, runID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rl, ok := l.logs[runID]
	return ok && rl.sealed, nil
}
