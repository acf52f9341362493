package llm

import (
	"fmt"
	"time"

	"github.com/pavelanni/viva/internal/retry"
)

// Config holds all LLM provider configuration.
type Config struct {
	// Provider selects which LLM provider to use: "openai", "anthropic" or "gemini".
	Provider string

	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Gemini    GeminiConfig
	Retry     retry.Config

	// Timeout bounds each provider attempt. It fills Retry.Timeout when that
	// is unset.
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// OpenAIConfig holds OpenAI-specific configuration.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string // OpenAI-compatible endpoints such as a local server
}

// AnthropicConfig holds Anthropic-specific configuration.
type AnthropicConfig struct {
	APIKey string
	Model  string
}

// GeminiConfig holds Gemini-specific configuration.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// DefaultConfig returns a Config with the defaults used by the server.
func DefaultConfig() Config {
	return Config{
		Provider:    "openai",
		OpenAI:      OpenAIConfig{Model: "gpt-4o-mini"},
		Anthropic:   AnthropicConfig{Model: "claude-haiku"},
		Gemini:      GeminiConfig{Model: "gemini-flash"},
		Retry:       retry.Once(),
		Timeout:     60 * time.Second,
		MaxTokens:   1024,
		Temperature: 0.3,
	}
}

// Validate checks that the selected provider has what it needs.
func (c Config) Validate() error {
	switch c.Provider {
	case "openai":
		// A local OpenAI-compatible server may not need a key.
		if c.OpenAI.APIKey == "" && c.OpenAI.BaseURL == "" {
			return fmt.Errorf("an API key or base URL is required for the openai provider")
		}
	case "anthropic":
		if c.Anthropic.APIKey == "" {
			return fmt.Errorf("an API key is required for the anthropic provider")
		}
	case "gemini":
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("an API key is required for the gemini provider")
		}
	default:
		return fmt.Errorf("unknown LLM provider: %q", c.Provider)
	}
	return nil
}
