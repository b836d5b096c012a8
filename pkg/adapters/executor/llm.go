package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aescanero/conduit/pkg/adapters/llm"
	"github.com/aescanero/conduit/pkg/domain"
	"github.com/aescanero/conduit/pkg/ports"
)

// LLMPromptRef is the executor_ref bound by RegisterLLM
const LLMPromptRef = "builtin.llm_prompt"

// RegisterLLM binds builtin.llm_prompt to client.
//
// Each input record is rendered into params.prompt (the token {{input}} is
// replaced with the record, or the record is appended) and the stage emits one
// object {"input": record, "completion": text} per record. params.model,
// params.system and params.max_tokens override the client defaults.
func (r *Registry) RegisterLLM(client llm.Client, metrics ports.MetricsCollector) {
	r.Register(LLMPromptRef, func(ctx context.Context, stage domain.Stage, input []any) (*domain.StageResult, error) {
		template := paramString(stage.Params, "prompt", "")
		req := llm.Request{
			Model:     paramString(stage.Params, "model", ""),
			System:    paramString(stage.Params, "system", ""),
			MaxTokens: int64(paramFloat(stage.Params, "max_tokens", 0)),
		}

		out := make([]any, 0, len(input))
		for i, item := range input {
			prompt, err := renderPrompt(template, item)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", i, err)
			}
			req.Prompt = prompt

			completion, err := client.Complete(ctx, req)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", i, err)
			}
			if metrics != nil {
				metrics.RecordLLMCall(completion.Model, completion.InputTokens, completion.OutputTokens, completion.Latency)
			}
			out = append(out, map[string]any{
				"input":      item,
				"completion": completion.Text,
			})
		}
		return &domain.StageResult{Records: out}, nil
	})
}

func renderPrompt(template string, item any) (string, error) {
	var record string
	switch v := item.(type) {
	case string:
		record = v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode record: %w", err)
		}
		record = string(raw)
	}

	switch {
	case template == "":
		return record, nil
	case strings.Contains(template, "{{input}}"):
		return strings.ReplaceAll(template, "{{input}}", record), nil
	default:
		return template + "\n\n" + record, nil
	}
}
