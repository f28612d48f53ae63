package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/promptforge-ai/demon-engine/internal/llm"
)

// GroqHandler implements llm.Handler against Groq's OpenAI-compatible API.
// Groq has no official Go SDK, so this speaks HTTP directly.
type GroqHandler struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewGroqHandler creates a Groq handler. Groq inference is fast; the default
// HTTP timeout is deliberately short and the runner's per-call deadline is
// usually shorter still.
func NewGroqHandler(apiKey, model string) *GroqHandler {
	if model == "" {
		model = "llama-3.1-70b-versatile"
	}
	return &GroqHandler{
		apiKey:  apiKey,
		model:   model,
		baseURL: "https://api.groq.com/openai/v1",
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type groqChatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type groqChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete implements llm.Handler
func (h *GroqHandler) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = h.model
	}
	body := groqChatRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = &req.MaxTokens
	}

	requestBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", h.baseURL+"/chat/completions", bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("groq request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return nil, &llm.StatusError{
			ProviderName: h.Provider(),
			StatusCode:   resp.StatusCode,
			Message:      string(payload),
			RetryAfter:   resp.Header.Get("Retry-After"),
		}
	}

	var parsed groqChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode groq response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("groq response contained no choices")
	}

	return &llm.CompletionResponse{
		Text:      parsed.Choices[0].Message.Content,
		TokensIn:  parsed.Usage.PromptTokens,
		TokensOut: parsed.Usage.CompletionTokens,
	}, nil
}

// Provider implements llm.Handler
func (h *GroqHandler) Provider() string { return "groq" }
