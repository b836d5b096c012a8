package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/conduit/pkg/adapters/llm"
	"github.com/aescanero/conduit/pkg/domain"
)

func stage(ref string, params map[string]any) domain.Stage {
	return domain.Stage{StageID: "s1", Name: "s1", ExecutorRef: ref, Params: params}
}

func run(t *testing.T, r *Registry, st domain.Stage, input []any) []any {
	t.Helper()
	res, err := r.Execute(context.Background(), st, input)
	require.NoError(t, err)
	return res.Records
}

func TestBuiltins(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	assert.Equal(t, []any{"a", 1}, run(t, r, stage("builtin.identity", nil), []any{"a", 1}))
	assert.Equal(t, []any{"A", 2}, run(t, r, stage("builtin.uppercase", nil), []any{"a", 2}))
	assert.Equal(t, []any{"x", 0}, run(t, r, stage("builtin.filter_null", nil), []any{nil, "x", nil, 0}))
}

func TestUppercase_Field(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	in := map[string]any{"name": "ada", "age": 36.0}

	out := run(t, r, stage("builtin.uppercase", map[string]any{"field": "name"}), []any{in})
	assert.Equal(t, []any{map[string]any{"name": "ADA", "age": 36.0}}, out)
	assert.Equal(t, "ada", in["name"])

	out = run(t, r, stage("builtin.uppercase", map[string]any{"field": "age"}), []any{in})
	assert.Equal(t, []any{in}, out)
}

func TestSleep(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	start := time.Now()
	out := run(t, r, stage("builtin.sleep", map[string]any{"seconds": 0.05}), []any{"x"})
	assert.Equal(t, []any{"x"}, out)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Execute(ctx, stage("builtin.sleep", map[string]any{"seconds": 10}), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, domain.ErrStageExecution)
}

func TestFailAndUnknown(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	_, err := r.Execute(context.Background(), stage("builtin.fail", map[string]any{"message": "bad input"}), nil)
	require.ErrorIs(t, err, domain.ErrStageExecution)
	var serr *domain.StageError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "s1", serr.StageID)
	assert.Contains(t, err.Error(), "bad input")

	_, err = r.Execute(context.Background(), stage("custom.missing", nil), nil)
	assert.ErrorIs(t, err, domain.ErrStageExecution)
}

func TestRegister_Custom(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.Register("custom.count", func(ctx context.Context, st domain.Stage, input []any) (*domain.StageResult, error) {
		return &domain.StageResult{
			Records:   []any{len(input)},
			Artifacts: map[string]string{"count": "memory"},
		}, nil
	})

	res, err := r.Execute(context.Background(), stage("custom.count", nil), []any{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []any{3}, res.Records)
	assert.Equal(t, "memory", res.Artifacts["count"])
	assert.Contains(t, r.Refs(), "custom.count")
	assert.Contains(t, r.Refs(), "builtin.identity")
}

type fakeLLM struct {
	prompts []string
	err     error
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.prompts = append(f.prompts, req.Prompt)
	return &llm.Completion{Model: "m", Text: "ok:" + req.Prompt, InputTokens: 1, OutputTokens: 1}, nil
}

func TestLLMPrompt(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	client := &fakeLLM{}
	r.RegisterLLM(client, nil)

	out := run(t, r, stage(LLMPromptRef, map[string]any{"prompt": "Summarize: {{input}}"}), []any{"doc", map[string]any{"k": "v"}})

	assert.Equal(t, []string{"Summarize: doc", `Summarize: {"k":"v"}`}, client.prompts)
	require.Len(t, out, 2)
	assert.Equal(t, map[string]any{"input": "doc", "completion": "ok:Summarize: doc"}, out[0])
}

func TestLLMPrompt_Failure(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.RegisterLLM(&fakeLLM{err: errors.New("rate limited")}, nil)

	_, err := r.Execute(context.Background(), stage(LLMPromptRef, nil), []any{"x"})
	assert.ErrorIs(t, err, domain.ErrStageExecution)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestRenderPrompt(t *testing.T) {
	p, err := renderPrompt("", "plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", p)

	p, err = renderPrompt("Classify", 42)
	require.NoError(t, err)
	assert.Equal(t, "Classify\n\n42", p)
}
