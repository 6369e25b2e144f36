// Package provider adapts an OpenAI-compatible chat model to the
// decision engine's completion contract.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/aegisflow/aegis/internal/config"
	"github.com/aegisflow/aegis/internal/decision"
	"github.com/aegisflow/aegis/internal/fault"
)

const defaultTimeout = 60 * time.Second

// NewChatModel creates a ChatModel from configuration. The endpoint is
// OpenAI-compatible; base_url selects the actual vendor.
func NewChatModel(ctx context.Context, cfg *config.Config) (model.ChatModel, error) {
	p := cfg.Provider
	d := cfg.Agents.Defaults

	if p.APIKey == "" {
		return nil, fault.Validation("provider.new", "no provider configured: set provider.api_key")
	}

	mc := &openai.ChatModelConfig{
		Model:       d.Model,
		APIKey:      p.APIKey,
		Temperature: toFloat32Ptr(d.Temperature),
		MaxTokens:   toIntPtr(d.MaxTokens),
	}
	if p.BaseURL != "" {
		mc.BaseURL = p.BaseURL
	}
	return openai.NewChatModel(ctx, mc)
}

// ModelCompleter runs verdict completions against a ChatModel.
type ModelCompleter struct {
	model   model.ChatModel
	timeout time.Duration
}

// NewModelCompleter wraps a ChatModel. A timeout of zero falls back to
// the default.
func NewModelCompleter(m model.ChatModel, timeout time.Duration) *ModelCompleter {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &ModelCompleter{model: m, timeout: timeout}
}

// NewFromConfig builds the completer straight from configuration.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*ModelCompleter, error) {
	m, err := NewChatModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.Provider.Timeout) * time.Second
	return NewModelCompleter(m, timeout), nil
}

// Complete implements decision.Completer.
func (c *ModelCompleter) Complete(ctx context.Context, req decision.CompletionRequest) (*decision.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := []*schema.Message{
		{Role: schema.System, Content: req.System},
		{Role: schema.User, Content: req.Prompt},
	}

	resp, err := c.model.Generate(ctx, messages)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fault.Integration("provider.complete", err).WithStage(decision.StageTimeout)
		}
		return nil, fault.Integration("provider.complete", err).WithStage(decision.StageProvider)
	}

	return decision.ParseVerdict([]byte(resp.Content))
}

var _ decision.Completer = (*ModelCompleter)(nil)

func toFloat32Ptr(f float64) *float32 {
	v := float32(f)
	return &v
}

func toIntPtr(i int) *int {
	return &i
}
