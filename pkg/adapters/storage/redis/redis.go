package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/conduit/pkg/domain"
	"github.com/aescanero/conduit/pkg/ports"
)

// maxRetries bounds optimistic transaction retries on contended keys
const maxRetries = 16

// Store implements ports.VersionStore and ports.RunStore using Redis.
// Records are stored as JSON; every read-modify-write runs inside a
// WATCH/MULTI transaction.
type Store struct {
	client *redis.Client
	logger *zap.Logger
	runTTL time.Duration
	now    func() time.Time
}

var (
	_ ports.VersionStore = (*Store)(nil)
	_ ports.RunStore     = (*Store)(nil)
)

// NewStore creates a new Redis store. runTTL of zero keeps runs forever.
func NewStore(client *redis.Client, runTTL time.Duration, logger *zap.Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
		runTTL: runTTL,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func versionKey(id string) string {
	return fmt.Sprintf("conduit:version:%s", id)
}

func pipelineSeqKey(pipelineID string) string {
	return fmt.Sprintf("conduit:pipeline:%s:seq", pipelineID)
}

func pipelineVersionsKey(pipelineID string) string {
	return fmt.Sprintf("conduit:pipeline:%s:versions", pipelineID)
}

func activeKey(pipelineID string) string {
	return fmt.Sprintf("conduit:pipeline:%s:active", pipelineID)
}

func runKey(id string) string {
	return fmt.Sprintf("conduit:run:%s", id)
}

const runIndexKey = "conduit:runs"

// CreateVersion allocates the next version number under WATCH on the
// pipeline's counter so numbers stay gapless.
func (s *Store) CreateVersion(ctx context.Context, v *domain.PipelineVersion) (*domain.PipelineVersion, error) {
	seqKey := pipelineSeqKey(v.PipelineID)
	stored := v.Clone()
	stored.ID = uuid.New().String()
	stored.IsActive = false

	txf := func(tx *redis.Tx) error {
		last, err := tx.Get(ctx, seqKey).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		now := s.now()
		stored.VersionNumber = last + 1
		stored.CreatedAt = now
		stored.UpdatedAt = now
		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("failed to marshal version: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, seqKey, stored.VersionNumber, 0)
			pipe.Set(ctx, versionKey(stored.ID), data, 0)
			pipe.RPush(ctx, pipelineVersionsKey(v.PipelineID), stored.ID)
			return nil
		})
		return err
	}

	if err := s.retry(ctx, txf, seqKey); err != nil {
		return nil, fmt.Errorf("failed to create version: %w", err)
	}

	s.logger.Debug("version stored",
		zap.String("pipeline_id", stored.PipelineID),
		zap.String("version_id", stored.ID),
		zap.Int("version_number", stored.VersionNumber))

	return stored.Clone(), nil
}

// retry runs txf under WATCH, retrying while another client touches keys
func (s *Store) retry(ctx context.Context, txf func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxRetries; i++ {
		err := s.client.Watch(ctx, txf, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("transaction retries exhausted on %v", keys)
}

func decodeVersion(data []byte) (*domain.PipelineVersion, error) {
	var v domain.PipelineVersion
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal version: %w", err)
	}
	return &v, nil
}

// GetVersion returns a version by id
func (s *Store) GetVersion(ctx context.Context, id string) (*domain.PipelineVersion, error) {
	data, err := s.client.Get(ctx, versionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrVersionNotFound, id)
		}
		return nil, fmt.Errorf("failed to get version: %w", err)
	}

	v, err := decodeVersion(data)
	if err != nil {
		return nil, err
	}
	active, err := s.activeID(ctx, v.PipelineID)
	if err != nil {
		return nil, err
	}
	v.IsActive = active == v.ID
	return v, nil
}

func (s *Store) activeID(ctx context.Context, pipelineID string) (string, error) {
	id, err := s.client.Get(ctx, activeKey(pipelineID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get active pointer: %w", err)
	}
	return id, nil
}

// ListVersions returns a pipeline's versions in version number order
func (s *Store) ListVersions(ctx context.Context, pipelineID string) ([]*domain.PipelineVersion, error) {
	ids, err := s.client.LRange(ctx, pipelineVersionsKey(pipelineID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.PipelineVersion{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = versionKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get versions: %w", err)
	}
	active, err := s.activeID(ctx, pipelineID)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.PipelineVersion, 0, len(values))
	for _, val := range values {
		raw, ok := val.(string)
		if !ok {
			continue
		}
		v, err := decodeVersion([]byte(raw))
		if err != nil {
			return nil, err
		}
		v.IsActive = v.ID == active
		out = append(out, v)
	}
	return out, nil
}

// UpdateVersion applies fn under WATCH on the version key
func (s *Store) UpdateVersion(ctx context.Context, id string, fn ports.VersionMutation) (*domain.PipelineVersion, error) {
	var result *domain.PipelineVersion
	key := versionKey(id)

	txf := func(tx *redis.Tx) error {
		next, err := s.loadForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(next); err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal version: %w", err)
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		}); err != nil {
			return err
		}
		result = next
		return nil
	}

	if err := s.retry(ctx, txf, key); err != nil {
		return nil, err
	}
	active, err := s.activeID(ctx, result.PipelineID)
	if err != nil {
		return nil, err
	}
	result.IsActive = active == result.ID
	return result, nil
}

func (s *Store) loadForUpdate(ctx context.Context, tx *redis.Tx, id string) (*domain.PipelineVersion, error) {
	data, err := tx.Get(ctx, versionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrVersionNotFound, id)
		}
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return decodeVersion(data)
}

// PublishVersion applies fn and moves the active pointer in one MULTI block.
// The transaction watches the pointer, so a publish that races another
// publish of the same pipeline fails with domain.ErrConcurrentPublish
// instead of retrying.
func (s *Store) PublishVersion(ctx context.Context, id string, fn ports.VersionMutation) (*domain.PipelineVersion, error) {
	v, err := s.GetVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	key := versionKey(id)
	pointer := activeKey(v.PipelineID)

	var result *domain.PipelineVersion
	txf := func(tx *redis.Tx) error {
		next, err := s.loadForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(next); err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal version: %w", err)
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.Set(ctx, pointer, id, 0)
			return nil
		}); err != nil {
			return err
		}
		result = next
		return nil
	}

	err = s.client.Watch(ctx, txf, key, pointer)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, &domain.TransitionError{
			Entity: "version",
			ID:     id,
			From:   string(v.Status),
			To:     string(domain.VersionStatusPublished),
			Err:    domain.ErrConcurrentPublish,
		}
	}
	if err != nil {
		return nil, err
	}

	result.IsActive = true
	return result, nil
}

// ActiveVersion returns the version named by the pipeline's active pointer
func (s *Store) ActiveVersion(ctx context.Context, pipelineID string) (*domain.PipelineVersion, error) {
	id, err := s.activeID(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("%w: pipeline %s", domain.ErrNoPublishedVersion, pipelineID)
	}
	return s.GetVersion(ctx, id)
}

// CreateRun stores a new run and indexes it by creation time
func (s *Store) CreateRun(ctx context.Context, run *domain.Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	created, err := s.client.SetNX(ctx, runKey(run.ID), data, s.runTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	if !created {
		return fmt.Errorf("run already exists: %s", run.ID)
	}

	if err := s.client.ZAdd(ctx, runIndexKey, redis.Z{
		Score:  float64(run.CreatedAt.UnixNano()),
		Member: run.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to index run: %w", err)
	}
	return nil
}

func decodeRun(data []byte) (*domain.Run, error) {
	var r domain.Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &r, nil
}

// GetRun returns a run by id
func (s *Store) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	data, err := s.client.Get(ctx, runKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return decodeRun(data)
}

// ListRuns returns runs matching filter, newest first. Index entries whose
// run expired are pruned on the way.
func (s *Store) ListRuns(ctx context.Context, filter ports.RunFilter) ([]*domain.Run, error) {
	const batch = 100
	out := make([]*domain.Run, 0)

	for start := int64(0); ; start += batch {
		ids, err := s.client.ZRevRange(ctx, runIndexKey, start, start+batch-1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list runs: %w", err)
		}
		if len(ids) == 0 {
			return out, nil
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = runKey(id)
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to get runs: %w", err)
		}

		var expired []any
		for i, val := range values {
			raw, ok := val.(string)
			if !ok {
				expired = append(expired, ids[i])
				continue
			}
			r, err := decodeRun([]byte(raw))
			if err != nil {
				return nil, err
			}
			if !matchesFilter(r, filter) {
				continue
			}
			out = append(out, r)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				return out, nil
			}
		}
		if len(expired) > 0 {
			if err := s.client.ZRem(ctx, runIndexKey, expired...).Err(); err != nil {
				s.logger.Warn("failed to prune run index", zap.Error(err))
			}
			start -= int64(len(expired))
		}
	}
}

func matchesFilter(r *domain.Run, filter ports.RunFilter) bool {
	if filter.PipelineID != "" && r.PipelineID != filter.PipelineID {
		return false
	}
	if filter.Status != "" && r.Status != filter.Status {
		return false
	}
	return true
}

// UpdateRun applies fn as a compare-and-swap under WATCH on the run key.
// On contention fn is re-applied to the fresh record.
func (s *Store) UpdateRun(ctx context.Context, id string, fn ports.RunMutation) (*domain.Run, error) {
	key := runKey(id)
	var result *domain.Run

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", domain.ErrRunNotFound, id)
			}
			return fmt.Errorf("failed to get run: %w", err)
		}
		next, err := decodeRun(data)
		if err != nil {
			return err
		}
		if err := fn(next); err != nil {
			return err
		}
		updated, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal run: %w", err)
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if s.runTTL > 0 {
				pipe.Set(ctx, key, updated, s.runTTL)
			} else {
				pipe.Set(ctx, key, updated, redis.KeepTTL)
			}
			return nil
		}); err != nil {
			return err
		}
		result = next
		return nil
	}

	if err := s.retry(ctx, txf, key); err != nil {
		return nil, err
	}
	return result, nil
}
