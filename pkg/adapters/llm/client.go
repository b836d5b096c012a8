package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Request is a single-turn completion request
type Request struct {
	Model     string
	System    string
	Prompt    string
	MaxTokens int64
}

// Completion is the text returned for a Request
type Completion struct {
	Model        string
	Text         string
	InputTokens  int64
	OutputTokens int64
	Latency      time.Duration
}

// Client completes prompts
type Client interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// Config holds LLM client configuration
type Config struct {
	Provider              string
	APIKey                string
	BaseURL               string
	DefaultModel          string
	DefaultMaxTokens      int64
	MaxConcurrentRequests int64
	RequestTimeout        time.Duration
	Logger                *zap.Logger
}

// NewClient creates a new LLM client based on provider
func NewClient(cfg *Config) (Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
