package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/aescanero/conduit/pkg/domain"
	"github.com/aescanero/conduit/pkg/ports"
)

// Func executes one stage over its input records
type Func func(ctx context.Context, stage domain.Stage, input []any) (*domain.StageResult, error)

// Registry implements ports.StageExecutor by dispatching on executor_ref
type Registry struct {
	funcs  map[string]Func
	mu     sync.RWMutex
	logger *zap.Logger
}

var _ ports.StageExecutor = (*Registry)(nil)

// NewRegistry creates a registry with the builtin templates registered
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		funcs:  make(map[string]Func),
		logger: logger,
	}
	r.Register("builtin.identity", identity)
	r.Register("builtin.uppercase", uppercase)
	r.Register("builtin.sleep", sleep)
	r.Register("builtin.filter_null", filterNull)
	r.Register("builtin.fail", fail)
	return r
}

// Register binds ref to fn, replacing any previous binding
func (r *Registry) Register(ref string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[ref] = fn
}

// Refs returns the registered executor refs in sorted order
func (r *Registry) Refs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	refs := make([]string, 0, len(r.funcs))
	for ref := range r.funcs {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

// Execute runs the stage's executor. Unknown refs and executor errors are
// returned as *domain.StageError.
func (r *Registry) Execute(ctx context.Context, stage domain.Stage, input []any) (*domain.StageResult, error) {
	r.mu.RLock()
	fn, ok := r.funcs[stage.ExecutorRef]
	r.mu.RUnlock()
	if !ok {
		return nil, &domain.StageError{
			StageID: stage.StageID,
			Err:     fmt.Errorf("unknown executor_ref %q", stage.ExecutorRef),
		}
	}

	r.logger.Debug("executing stage",
		zap.String("stage_id", stage.StageID),
		zap.String("executor_ref", stage.ExecutorRef),
		zap.Int("input_count", len(input)))

	result, err := fn(ctx, stage, input)
	if err != nil {
		return nil, &domain.StageError{StageID: stage.StageID, Err: err}
	}
	if result == nil {
		result = &domain.StageResult{Records: []any{}}
	}
	return result, nil
}
