// Package llm wraps the reasoning backend used for classification, SQL
// generation and conversational replies.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/xaenox/analyst-bot/internal/models"
)

// ErrEmptyCompletion is returned when the backend answers with no content.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Backend completes a prompt at a given speed/quality tier.
type Backend interface {
	Complete(ctx context.Context, prompt string, tier models.Tier) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, prompt string, tier models.Tier) (string, error)

func (f BackendFunc) Complete(ctx context.Context, prompt string, tier models.Tier) (string, error) {
	return f(ctx, prompt, tier)
}

// Options configures an OpenAIBackend.
type Options struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Tiers        map[string]string
	MaxTokens    int
	Temperature  float64
	Timeout      time.Duration
}

// OpenAIBackend talks to any OpenAI-compatible chat completion endpoint.
type OpenAIBackend struct {
	client      *openai.Client
	models      map[models.Tier]string
	fallback    string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	logger      *zap.Logger
}

func NewOpenAIBackend(opts Options, logger *zap.Logger) *OpenAIBackend {
	clientConfig := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		clientConfig.BaseURL = opts.BaseURL
	}

	tiers := make(map[models.Tier]string, len(opts.Tiers))
	for name, model := range opts.Tiers {
		if tier, ok := models.ParseTier(name); ok && model != "" {
			tiers[tier] = model
		}
	}

	return &OpenAIBackend{
		client:      openai.NewClientWithConfig(clientConfig),
		models:      tiers,
		fallback:    opts.DefaultModel,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		timeout:     opts.Timeout,
		logger:      logger,
	}
}

// ModelFor resolves the model name serving a tier.
func (b *OpenAIBackend) ModelFor(tier models.Tier) string {
	if model, ok := b.models[tier]; ok {
		return model
	}
	return b.fallback
}

func (b *OpenAIBackend) Complete(ctx context.Context, prompt string, tier models.Tier) (string, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	model := b.ModelFor(tier)
	start := time.Now()

	resp, err := b.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   b.maxTokens,
			Temperature: float32(b.temperature),
		},
	)
	if err != nil {
		b.logger.Warn("Chat completion failed",
			zap.Error(err),
			zap.String("model", model),
			zap.String("tier", string(tier)),
			zap.Duration("elapsed", time.Since(start)))
		return "", fmt.Errorf("chat completion with %s: %w", model, err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}

	b.logger.Debug("Chat completion",
		zap.String("model", model),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("elapsed", time.Since(start)))
	return content, nil
}
