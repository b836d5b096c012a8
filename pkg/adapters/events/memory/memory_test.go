package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/conduit/pkg/domain"
)

func appendEvent(t *testing.T, l *EventLog, runID string, typ domain.EventType) domain.RunEvent {
	t.Helper()
	ev := &domain.RunEvent{RunID: runID, EventType: typ}
	require.NoError(t, l.Append(context.Background(), ev))
	return *ev
}

func TestAppend_AssignsIncreasingSeq(t *testing.T) {
	l := NewEventLog()

	first := appendEvent(t, l, "r", domain.EventTypeRunQueued)
	second := appendEvent(t, l, "r", domain.EventTypeRunStarted)
	other := appendEvent(t, l, "other", domain.EventTypeRunQueued)

	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(2), second.Seq)
	assert.Equal(t, int64(1), other.Seq)
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.CreatedAt.IsZero())
}

func TestList_AfterSeq(t *testing.T) {
	l := NewEventLog()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		appendEvent(t, l, "r", domain.EventTypeStageStarted)
	}

	all, err := l.List(ctx, "r", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	tail, err := l.List(ctx, "r", 3)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, int64(4), tail[0].Seq)
	assert.Equal(t, int64(5), tail[1].Seq)

	none, err := l.List(ctx, "r", 5)
	require.NoError(t, err)
	assert.Empty(t, none)

	missing, err := l.List(ctx, "unknown", 0)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestSeal_RejectsAppends(t *testing.T) {
	l := NewEventLog()
	ctx := context.Background()
	appendEvent(t, l, "r", domain.EventTypeRunQueued)

	sealed, err := l.Sealed(ctx, "r")
	require.NoError(t, err)
	assert.False(t, sealed)

	require.NoError(t, l.Seal(ctx, "r"))
	require.NoError(t, l.Seal(ctx, "r"))

	sealed, err = l.Sealed(ctx, "r")
	require.NoError(t, err)
	assert.True(t, sealed)

	err = l.Append(ctx, &domain.RunEvent{RunID: "r", EventType: domain.EventTypeRunStarted})
	assert.ErrorIs(t, err, domain.ErrEventLogSealed)
}

func TestWait_WakesOnAppend(t *testing.T) {
	l := NewEventLog()
	done := make(chan error, 1)

	go func() {
		done <- l.Wait(context.Background(), "r", 0, 5*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	appendEvent(t, l, "r", domain.EventTypeRunQueued)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not wake on append")
	}
}

func TestWait_ReturnsOnSealAndTimeout(t *testing.T) {
	l := NewEventLog()
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "r", 0, 30*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	require.NoError(t, l.Seal(ctx, "r"))
	start = time.Now()
	require.NoError(t, l.Wait(ctx, "r", 0, 5*time.Second))
	assert.Less(t, time.Since(start), time.Second)
}

func TestWait_ContextCancelled(t *testing.T) {
	l := NewEventLog()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Wait(ctx, "r", 0, 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAppend_ConcurrentWritersKeepSeqDense(t *testing.T) {
	l := NewEventLog()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Append(context.Background(), &domain.RunEvent{RunID: "r", EventType: domain.EventTypeStageStarted}))
		}()
	}
	wg.Wait()

	events, err := l.List(context.Background(), "r", 0)
	require.NoError(t, err)
	require.Len(t, events, 100)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
}

func TestWait_UnknownRunCreatesNoLog(t *testing.T) {
	l := NewEventLog()

	start := time.Now()
	require.NoError(t, l.Wait(context.Background(), "missing", 0, 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	l.mu.Lock()
	_, exists := l.logs["missing"]
	l.mu.Unlock()
	assert.False(t, exists)

	sealed, err := l.Sealed(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, sealed)
}
