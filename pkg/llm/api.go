// Package llm provides the text-completion collaborator contract used by
// every pipeline stage, provider client implementations, and resilience
// middleware (retry, circuit breaker).
package llm

import (
	"context"
	"fmt"
)

// Role of a message in a completion conversation.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Temperature defaults by task kind.
const (
	// TemperatureDefault suits planning, reviews, and judgment tasks.
	TemperatureDefault float32 = 0.3
	// TemperatureDeterministic suits code generation and repair.
	TemperatureDeterministic float32 = 0.2
)

// Message is one turn of a completion conversation.
type Message struct {
	Role    Role
	Content string
}

// CompletionRequest is a request to generate a completion.
type CompletionRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// CompletionResponse is a provider-agnostic completion result. Callers are
// responsible for parsing Content as structured data; a parse failure is a
// soft error handled by the calling stage, never a pipeline failure.
type CompletionResponse struct {
	Content    string
	StopReason string
}

// Client is the uniform "ask for text, get text back" contract. Providers,
// the mock, and all middleware implement it.
type Client interface {
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)

	// ModelName identifies the underlying model for logging and metrics.
	ModelName() string
}

// NewRequest builds a completion request from a system and user prompt.
func NewRequest(systemPrompt, userPrompt string, maxTokens int, temperature float32) CompletionRequest {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	msgs := make([]Message, 0, 2)
	if systemPrompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: systemPrompt})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: userPrompt})
	return CompletionRequest{
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

// splitSystem extracts system messages into one system prompt and returns the
// remaining conversation. Providers that take the system prompt out-of-band
// (Anthropic, Gemini) share this.
func splitSystem(messages []Message) (systemPrompt string, rest []Message, err error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}
	for i := range messages {
		m := &messages[i]
		if m.Role == RoleSystem {
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += m.Content
			continue
		}
		rest = append(rest, *m)
	}
	if len(rest) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}
	if rest[len(rest)-1].Role != RoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got %s", rest[len(rest)-1].Role)
	}
	return systemPrompt, rest, nil
}
