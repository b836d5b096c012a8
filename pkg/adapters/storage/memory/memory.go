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

// pipelineHead serializes version allocation and publishing for one pipeline.
type pipelineHead struct {
	mu         sync.Mutex
	lastNumber int
	activeID   string // guarded by Store.mu
	versionIDs []string
}

type runEntry struct {
	mu  sync.Mutex
	run *domain.Run
}

// Store implements ports.VersionStore and ports.RunStore in memory.
// Stored records are never handed out; every read returns a copy.
type Store struct {
	mu        sync.RWMutex
	versions  map[string]*domain.PipelineVersion
	pipelines map[string]*pipelineHead
	runs      map[string]*runEntry
	runOrder  []string
	now       func() time.Time
}

var (
	_ ports.VersionStore = (*Store)(nil)
	_ ports.RunStore     = (*Store)(nil)
)

// NewStore creates a new in-memory store
func NewStore() *Store {
	return &Store{
		versions:  make(map[string]*domain.PipelineVersion),
		pipelines: make(map[string]*pipelineHead),
		runs:      make(map[string]*runEntry),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) head(pipelineID string) *pipelineHead {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.pipelines[pipelineID]
	if !ok {
		h = &pipelineHead{}
		s.pipelines[pipelineID] = h
	}
	return h
}

// view copies a stored version and derives IsActive. Callers hold s.mu.
func (s *Store) view(v *domain.PipelineVersion) *domain.PipelineVersion {
	c := v.Clone()
	h := s.pipelines[v.PipelineID]
	c.IsActive = h != nil && h.activeID == v.ID
	return c
}

// CreateVersion stores v under the pipeline's next version number.
func (s *Store) CreateVersion(ctx context.Context, v *domain.PipelineVersion) (*domain.PipelineVersion, error) {
	h := s.head(v.PipelineID)
	h.mu.Lock()
	defer h.mu.Unlock()

	now := s.now()
	stored := v.Clone()
	stored.ID = uuid.New().String()
	stored.VersionNumber = h.lastNumber + 1
	stored.IsActive = false
	stored.CreatedAt = now
	stored.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[stored.ID] = stored
	h.lastNumber = stored.VersionNumber
	h.versionIDs = append(h.versionIDs, stored.ID)

	return s.view(stored), nil
}

// GetVersion returns a version by id
func (s *Store) GetVersion(ctx context.Context, id string) (*domain.PipelineVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.versions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrVersionNotFound, id)
	}
	return s.view(v), nil
}

// ListVersions returns a pipeline's versions in version number order
func (s *Store) ListVersions(ctx context.Context, pipelineID string) ([]*domain.PipelineVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.pipelines[pipelineID]
	if !ok {
		return []*domain.PipelineVersion{}, nil
	}
	out := make([]*domain.PipelineVersion, 0, len(h.versionIDs))
	for _, id := range h.versionIDs {
		out = append(out, s.view(s.versions[id]))
	}
	return out, nil
}

// UpdateVersion applies fn under the owning pipeline's lock
func (s *Store) UpdateVersion(ctx context.Context, id string, fn ports.VersionMutation) (*domain.PipelineVersion, error) {
	return s.mutateVersion(id, fn, false)
}

// PublishVersion applies fn and moves the active pointer in one step
func (s *Store) PublishVersion(ctx context.Context, id string, fn ports.VersionMutation) (*domain.PipelineVersion, error) {
	return s.mutateVersion(id, fn, true)
}

func (s *Store) mutateVersion(id string, fn ports.VersionMutation, activate bool) (*domain.PipelineVersion, error) {
	s.mu.RLock()
	current, ok := s.versions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrVersionNotFound, id)
	}

	h := s.head(current.PipelineID)
	h.mu.Lock()
	defer h.mu.Unlock()

	s.mu.RLock()
	next := s.versions[id].Clone()
	s.mu.RUnlock()

	if err := fn(next); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[id] = next
	if activate {
		h.activeID = id
	}
	return s.view(next), nil
}

// ActiveVersion returns the version named by the pipeline's active pointer
func (s *Store) ActiveVersion(ctx context.Context, pipelineID string) (*domain.PipelineVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.pipelines[pipelineID]
	if !ok || h.activeID == "" {
		return nil, fmt.Errorf("%w: pipeline %s", domain.ErrNoPublishedVersion, pipelineID)
	}
	return s.view(s.versions[h.activeID]), nil
}

// CreateRun stores a new run
func (s *Store) CreateRun(ctx context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run already exists: %s", run.ID)
	}
	s.runs[run.ID] = &runEntry{run: run.Clone()}
	s.runOrder = append(s.runOrder, run.ID)
	return nil
}

func (s *Store) entry(id string) (*runEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, id)
	}
	return e, nil
}

// GetRun returns a run by id
func (s *Store) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run.Clone(), nil
}

// ListRuns returns runs matching filter, newest first
func (s *Store) ListRuns(ctx context.Context, filter ports.RunFilter) ([]*domain.Run, error) {
	s.mu.RLock()
	entries := make([]*runEntry, 0, len(s.runOrder))
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		entries = append(entries, s.runs[s.runOrder[i]])
	}
	s.mu.RUnlock()

	out := make([]*domain.Run, 0)
	for _, e := range entries {
		e.mu.Lock()
		r := e.run.Clone()
		e.mu.Unlock()

		if filter.PipelineID != "" && r.PipelineID != filter.PipelineID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, r)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// UpdateRun applies fn to a copy and swaps it in only if fn succeeds
func (s *Store) UpdateRun(ctx context.Context, id string, fn ports.RunMutation) (*domain.Run, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.run.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	e.run = next
	return next.Clone(), nil
}
