// Package llm talks to chat-completion providers and turns their structured
// output into interview decisions.
package llm

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Provider is the core abstraction for LLM interaction.
type Provider interface {
	// Generate sends a prompt to the LLM and returns a structured response.
	// When req.Schema is set the provider asks for JSON conforming to it and
	// validates the result before returning.
	Generate(ctx context.Context, req Request) (*Response, error)

	// ModelID returns the model identifier this provider is configured to use.
	ModelID() string
}

// Request describes what to send to the LLM.
type Request struct {
	System   string
	Messages []Message

	// Schema is the JSON Schema the response must conform to.
	Schema *Schema

	// Check runs after schema validation for rules a schema cannot express,
	// such as score ranges that depend on the conversation. A failing check
	// is reported as *ErrInvalidResponse.
	Check func(json.RawMessage) error

	MaxTokens   int
	Temperature float64
}

// Message represents a single message in the conversation.
type Message struct {
	Role    Role
	Content string
}

// Role is the message sender role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Schema defines the JSON structure expected from the LLM. Use it by
// pointer; it compiles itself on first validation.
type Schema struct {
	// Name identifies this schema, e.g. "viva-turn".
	Name        string
	Description string
	Definition  map[string]any

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

// Response holds the LLM's output.
type Response struct {
	Content json.RawMessage
	Usage   Usage
	// Model is the actual model that served the request.
	Model string
	// StopReason is normalized to "end", "max_tokens" or "error".
	StopReason string
}

// Usage tracks token consumption for a single request.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}
