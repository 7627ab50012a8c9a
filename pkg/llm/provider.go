// Package llm provides a small provider-agnostic interface to hosted
// language models, with retry and failover wrappers. The oracle uses it
// for task decomposition and plan scoring.
package llm

import (
	"context"
	"time"
)

// Provider sends completion requests to a model API.
type Provider interface {
	// Name returns the provider identifier (e.g., "anthropic", "gemini").
	Name() string

	// Complete sends a request and blocks until the full response arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest contains the parameters for one completion.
type CompletionRequest struct {
	// Model is the model ID. Empty selects the provider default.
	Model string

	// System is the system prompt, if any.
	System string

	// Messages is the conversation, ending with the prompt.
	Messages []Message

	// Temperature controls randomness. Nil uses the provider default.
	Temperature *float64

	// MaxTokens limits the response length. Zero uses the provider default.
	MaxTokens int

	// JSON asks the provider to return a JSON document when it supports a
	// structured output mode. Callers must still parse defensively.
	JSON bool
}

// Message is one conversation turn.
type Message struct {
	Role    MessageRole
	Content string
}

// MessageRole identifies the sender of a message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// UserMessage is shorthand for a single user turn.
func UserMessage(content string) []Message {
	return []Message{{Role: MessageRoleUser, Content: content}}
}

// CompletionResponse is the result of a completion.
type CompletionResponse struct {
	Content   string
	Model     string
	RequestID string
	Usage     TokenUsage
	Created   time.Time
}

// TokenUsage reports token consumption for a request.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Float64 returns a pointer to v, for optional request fields.
func Float64(v float64) *float64 {
	return &v
}
