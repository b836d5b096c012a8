package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessages struct {
	params anthropic.MessageNewParams
	reply  *anthropic.Message
	err    error
}

func (f *fakeMessages) New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	f.params = body
	return f.reply, f.err
}

func TestComplete_JoinsTextBlocks(t *testing.T) {
	fake := &fakeMessages{reply: &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "hello "},
			{Type: "tool_use"},
			{Type: "text", Text: "world"},
		},
		Usage: anthropic.Usage{InputTokens: 12, OutputTokens: 3},
	}}
	c := newAnthropicClient(fake, &Config{DefaultModel: "claude-test", DefaultMaxTokens: 256})

	out, err := c.Complete(context.Background(), Request{Prompt: "hi", System: "be brief"})
	require.NoError(t, err)

	assert.Equal(t, "hello world", out.Text)
	assert.Equal(t, "claude-test", out.Model)
	assert.Equal(t, int64(12), out.InputTokens)
	assert.Equal(t, int64(3), out.OutputTokens)

	assert.Equal(t, anthropic.Model("claude-test"), fake.params.Model)
	assert.Equal(t, int64(256), fake.params.MaxTokens)
	require.Len(t, fake.params.System, 1)
	assert.Equal(t, "be brief", fake.params.System[0].Text)
	assert.Len(t, fake.params.Messages, 1)
}

func TestComplete_RequestOverridesDefaults(t *testing.T) {
	fake := &fakeMessages{reply: &anthropic.Message{}}
	c := newAnthropicClient(fake, &Config{DefaultModel: "a", RequestTimeout: time.Second})

	_, err := c.Complete(context.Background(), Request{Model: "b", MaxTokens: 10, Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, anthropic.Model("b"), fake.params.Model)
	assert.Equal(t, int64(10), fake.params.MaxTokens)
	assert.Empty(t, fake.params.System)
}

func TestComplete_WrapsErrors(t *testing.T) {
	boom := errors.New("boom")
	c := newAnthropicClient(&fakeMessages{err: boom}, &Config{})

	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, boom)
}

func TestNewClient_Providers(t *testing.T) {
	_, err := NewClient(&Config{Provider: "openai", APIKey: "k"})
	assert.Error(t, err)

	_, err = NewClient(&Config{Provider: "anthropic"})
	assert.Error(t, err)

	c, err := NewClient(&Config{Provider: "anthropic", APIKey: "k"})
	require.NoError(t, err)
	assert.NotNil(t, c)
}
