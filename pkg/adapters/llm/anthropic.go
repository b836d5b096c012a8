package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// messageService is the part of the Anthropic SDK the client uses
type messageService interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicClient implements Client using the Anthropic Messages API
type AnthropicClient struct {
	messages     messageService
	sem          *semaphore.Weighted
	defaultModel string
	maxTokens    int64
	timeout      time.Duration
	logger       *zap.Logger
}

// NewAnthropicClient creates a new Anthropic client
func NewAnthropicClient(cfg *Config) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	return newAnthropicClient(&client.Messages, cfg), nil
}

func newAnthropicClient(messages messageService, cfg *Config) *AnthropicClient {
	limit := cfg.MaxConcurrentRequests
	if limit <= 0 {
		limit = 1
	}
	maxTokens := cfg.DefaultMaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnthropicClient{
		messages:     messages,
		sem:          semaphore.NewWeighted(limit),
		defaultModel: cfg.DefaultModel,
		maxTokens:    maxTokens,
		timeout:      cfg.RequestTimeout,
		logger:       logger,
	}
}

// Complete sends req as a single user message and joins the text blocks of
// the reply
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	start := time.Now()
	msg, err := c.messages.New(ctx, params)
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.String("model", model),
			zap.Error(err))
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &Completion{
		Model:        model,
		Text:         text.String(),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
		Latency:      time.Since(start),
	}, nil
}
