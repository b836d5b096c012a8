package audit

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/conduit/pkg/domain"
	"github.com/aescanero/conduit/pkg/ports"
)

// DefaultStream is the stream audit records are appended to
const DefaultStream = "conduit:audit"

// RedisSink appends audit records to a capped Redis Stream
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

var _ ports.AuditSink = (*RedisSink)(nil)

// NewRedisSink creates a new Redis Stream audit sink. maxLen caps the stream
// approximately; zero leaves it uncapped.
func NewRedisSink(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisSink{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
	}
}

// Record appends rec. Failures are logged and dropped.
func (s *RedisSink) Record(ctx context.Context, rec domain.AuditRecord) {
	if err := s.client.XAdd(ctx, s.addArgs(rec)).Err(); err != nil {
		s.logger.Error("failed to append audit record",
			zap.String("stream", s.stream),
			zap.String("action", rec.Action),
			zap.String("resource_id", rec.ResourceID),
			zap.Error(err))
	}
}

func (s *RedisSink) addArgs(rec domain.AuditRecord) *redis.XAddArgs {
	details, err := json.Marshal(rec.Details)
	if err != nil {
		details = []byte("{}")
	}
	return &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: s.maxLen > 0,
		Values: map[string]interface{}{
			"actor":         rec.Actor,
			"action":        rec.Action,
			"resource_type": rec.ResourceType,
			"resource_id":   rec.ResourceID,
			"details":       string(details),
			"occurred_at":   rec.OccurredAt.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
		},
	}
}
