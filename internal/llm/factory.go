package llm

import (
	"context"
	"fmt"
)

// NewProvider creates a Provider from configuration, wrapped with retry and
// call recording: caller → retry → logging → base.
func NewProvider(ctx context.Context, cfg Config, rec CallRecorder) (Provider, error) {
	var base Provider
	var err error

	switch cfg.Provider {
	case "openai":
		base, err = NewOpenAIProvider(cfg.OpenAI)
	case "anthropic":
		base, err = NewAnthropicProvider(cfg.Anthropic)
	case "gemini":
		base, err = NewGeminiProvider(ctx, cfg.Gemini)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", cfg.Provider, err)
	}

	retryCfg := cfg.Retry
	if retryCfg.Timeout == 0 {
		retryCfg.Timeout = cfg.Timeout
	}
	logged := WithLogging(base, rec)
	return WithRetry(logged, retryCfg), nil
}
