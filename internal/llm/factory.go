package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/archagent/internal/config"
)

// New builds the client selected by cfg.Provider.
func New(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "", "anthropic":
		c, err := NewAnthropicClient(AnthropicConfig{
			APIKey:        cfg.APIKey.Value(),
			BaseURL:       cfg.BaseURL,
			Model:         NormalizeModelID(cfg.Model),
			Timeout:       time.Duration(cfg.Timeout),
			MaxRetries:    cfg.MaxRetries,
			RatePerMinute: cfg.RatePerMinute,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case "openai":
		c, err := NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.APIKey.Value(),
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
		if err != nil {
			return nil, err
		}
		return WithRateLimit(c, cfg.RatePerMinute), nil
	case "gemini":
		c, err := NewGeminiClient(ctx, GeminiConfig{APIKey: cfg.APIKey.Value(), Model: cfg.Model})
		if err != nil {
			return nil, err
		}
		return WithRateLimit(c, cfg.RatePerMinute), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
