// Package llm defines the provider-agnostic completion contract the
// execution runner speaks. Providers live in the providers subpackage.
package llm

import (
	"context"
	"fmt"
)

// Message is one turn of a conversation
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// CompletionRequest is a single non-streaming completion call
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// CompletionResponse carries the model's text and token accounting
type CompletionResponse struct {
	Text      string `json:"text"`
	TokensIn  int    `json:"tokens_in"`
	TokensOut int    `json:"tokens_out"`
}

// Handler is the core interface for LLM providers
type Handler interface {
	// Complete sends a request and returns the full response. Implementations
	// honor ctx cancellation and deadlines.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Provider returns the provider's short name for logging and error
	// attribution
	Provider() string
}

// StatusError is an HTTP-level provider failure with enough detail for the
// runner's classifier to pick a retry strategy.
type StatusError struct {
	ProviderName string
	StatusCode   int
	Message      string
	RetryAfter   string // raw Retry-After header when present
}

// Error implements error
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.ProviderName, e.StatusCode, e.Message)
}
