package executor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aescanero/conduit/pkg/domain"
)

func identity(ctx context.Context, stage domain.Stage, input []any) (*domain.StageResult, error) {
	return &domain.StageResult{Records: input}, nil
}

func uppercase(ctx context.Context, stage domain.Stage, input []any) (*domain.StageResult, error) {
	field := paramString(stage.Params, "field", "")
	out := make([]any, 0, len(input))
	for _, item := range input {
		switch v := item.(type) {
		case string:
			out = append(out, strings.ToUpper(v))
		case map[string]any:
			s, ok := v[field].(string)
			if field == "" || !ok {
				out = append(out, v)
				continue
			}
			copied := make(map[string]any, len(v))
			for k, val := range v {
				copied[k] = val
			}
			copied[field] = strings.ToUpper(s)
			out = append(out, copied)
		default:
			out = append(out, item)
		}
	}
	return &domain.StageResult{Records: out}, nil
}

func sleep(ctx context.Context, stage domain.Stage, input []any) (*domain.StageResult, error) {
	d := time.Duration(paramFloat(stage.Params, "seconds", 0.1) * float64(time.Second))
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return &domain.StageResult{Records: input}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func filterNull(ctx context.Context, stage domain.Stage, input []any) (*domain.StageResult, error) {
	out := make([]any, 0, len(input))
	for _, item := range input {
		if item != nil {
			out = append(out, item)
		}
	}
	return &domain.StageResult{Records: out}, nil
}

func fail(ctx context.Context, stage domain.Stage, input []any) (*domain.StageResult, error) {
	return nil, errors.New(paramString(stage.Params, "message", "stage failed by request"))
}

func paramString(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

// paramFloat accepts any JSON or YAML decoded number.
func paramFloat(params map[string]any, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}
