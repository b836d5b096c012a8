package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/conduit/pkg/domain"
	"github.com/aescanero/conduit/pkg/ports"
)

// appendScript assigns the next sequence number and adds the entry with id
// 0-<seq>, refusing sealed logs. It returns the sequence or -1 when sealed.
var appendScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
  return -1
end
local seq = 1
local last = redis.call('XREVRANGE', KEYS[1], '+', '-', 'COUNT', 1)
if #last > 0 then
  seq = tonumber(string.match(last[1][1], '%-(%d+)$')) + 1
end
redis.call('XADD', KEYS[1], '0-' .. seq, 'data', ARGV[1])
local ttl = tonumber(ARGV[2])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return seq
`)

// StreamsEventLog implements ports.EventLog with one Redis Stream per run
type StreamsEventLog struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
	now    func() time.Time
}

var _ ports.EventLog = (*StreamsEventLog)(nil)

// NewStreamsEventLog creates a new Redis Streams event log. ttl bounds how
// long a run's events are retained after its last append; zero keeps them.
func NewStreamsEventLog(client *redis.Client, ttl time.Duration, logger *zap.Logger) *StreamsEventLog {
	return &StreamsEventLog{
		client: client,
		logger: logger,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Append adds the event to the run's stream and sets its Seq
func (e *StreamsEventLog) Append(ctx context.Context, event *domain.RunEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = e.now()
	}

	stored := *event
	stored.Seq = 0
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	keys := []string{getStreamKey(event.RunID), getSealedKey(event.RunID)}
	seq, err := appendScript.Run(ctx, e.client, keys, string(data), e.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}
	if seq < 0 {
		return fmt.Errorf("%w: %s", domain.ErrEventLogSealed, event.RunID)
	}
	event.Seq = seq

	e.logger.Debug("event appended",
		zap.String("run_id", event.RunID),
		zap.Int64("seq", seq),
		zap.String("type", string(event.EventType)))

	return nil
}

// List returns events with Seq > afterSeq in order
func (e *StreamsEventLog) List(ctx context.Context, runID string, afterSeq int64) ([]domain.RunEvent, error) {
	if afterSeq < 0 {
		afterSeq = 0
	}
	messages, err := e.client.XRange(ctx, getStreamKey(runID), streamID(afterSeq+1), "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	events := make([]domain.RunEvent, 0, len(messages))
	for _, message := range messages {
		ev, err := decodeMessage(message)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// Wait blocks on XREAD until an entry after afterSeq arrives or timeout
// elapses. A seal does not interrupt the block; callers re-check Sealed after
// each wait.
func (e *StreamsEventLog) Wait(ctx context.Context, runID string, afterSeq int64, timeout time.Duration) error {
	sealed, err := e.Sealed(ctx, runID)
	if err != nil {
		return err
	}
	if sealed {
		return nil
	}
	if timeout <= 0 {
		timeout = time.Second
	}

	_, err = e.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{getStreamKey(runID), streamID(afterSeq)},
		Count:   1,
		Block:   timeout,
	}).Result()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to wait on stream: %w", err)
	}
	return nil
}

// Seal marks the run's log complete
func (e *StreamsEventLog) Seal(ctx context.Context, runID string) error {
	if err := e.client.Set(ctx, getSealedKey(runID), "1", e.ttl).Err(); err != nil {
		return fmt.Errorf("failed to seal stream: %w", err)
	}
	return nil
}

// Sealed reports whether the run's log is complete
func (e *StreamsEventLog) Sealed(ctx context.Context, runID string) (bool, error) {
	n, err := e.client.Exists(ctx, getSealedKey(runID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check sealed marker: %w", err)
	}
	return n > 0, nil
}

func decodeMessage(message redis.XMessage) (domain.RunEvent, error) {
	var ev domain.RunEvent
	data, ok := message.Values["data"].(string)
	if !ok {
		return ev, fmt.Errorf("invalid message format: %s", message.ID)
	}
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return ev, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	seq, err := seqFromID(message.ID)
	if err != nil {
		return ev, err
	}
	ev.Seq = seq
	return ev, nil
}

// streamID returns the entry id holding sequence seq
func streamID(seq int64) string {
	return "0-" + strconv.FormatInt(seq, 10)
}

// seqFromID parses the sequence out of a 0-<seq> entry id
func seqFromID(id string) (int64, error) {
	ms, seq, ok := strings.Cut(id, "-")
	if !ok || ms != "0" {
		return 0, fmt.Errorf("unexpected stream entry id %q", id)
	}
	n, err := strconv.ParseInt(seq, 10, 64)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("unexpected stream entry id %q", id)
	}
	return n, nil
}

// getStreamKey returns the Redis stream key for a run
func getStreamKey(runID string) string {
	return fmt.Sprintf("conduit:events:%s", runID)
}

func getSealedKey(runID string) string {
	return fmt.Sprintf("conduit:events:%s:sealed", runID)
}
