package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"genai-assessor/internal/metrics"
)

// NewProvider builds the configured provider wrapped with logging and
// metrics. Calls are never retried.
func NewProvider(ctx context.Context, cfg Config, log *zap.Logger, m *metrics.Metrics) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var base Provider
	var err error
	switch cfg.Provider {
	case "gemini":
		base, err = NewGeminiProvider(ctx, cfg.Gemini)
	case "openai":
		base, err = NewOpenAIProvider(cfg.OpenAI)
	case "anthropic":
		base, err = NewAnthropicProvider(cfg.Anthropic)
	case "mock":
		base = NewMockProvider()
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", cfg.Provider, err)
	}
	return WithObservability(base, log, m), nil
}
