package providers

import (
	"context"
	"fmt"
	"strings"

	openrouter "github.com/revrost/go-openrouter"

	"github.com/promptforge-ai/demon-engine/internal/llm"
)

// OpenRouterHandler implements llm.Handler using the OpenRouter Go SDK.
// OpenRouter is the fallback routing target when a primary provider's
// circuit is open.
type OpenRouterHandler struct {
	client *openrouter.Client
	model  string
}

// NewOpenRouterHandler creates an OpenRouter handler
func NewOpenRouterHandler(apiKey, model string) *OpenRouterHandler {
	if model == "" {
		model = "meta-llama/llama-3.1-70b-instruct"
	}
	return &OpenRouterHandler{
		client: openrouter.NewClient(apiKey),
		model:  model,
	}
}

// Complete implements llm.Handler
func (h *OpenRouterHandler) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	messages := make([]openrouter.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, openrouter.ChatCompletionMessage{
			Role:    convertRole(msg.Role),
			Content: openrouter.Content{Text: msg.Content},
		})
	}

	model := req.Model
	if model == "" {
		model = h.model
	}

	request := openrouter.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		request.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		request.Temperature = float32(*req.Temperature)
	}

	response, err := h.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("openrouter request failed: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("openrouter response contained no choices")
	}

	return &llm.CompletionResponse{
		Text:      response.Choices[0].Message.Content.Text,
		TokensIn:  response.Usage.PromptTokens,
		TokensOut: response.Usage.CompletionTokens,
	}, nil
}

// Provider implements llm.Handler
func (h *OpenRouterHandler) Provider() string { return "openrouter" }

func convertRole(role string) string {
	switch strings.ToLower(role) {
	case "assistant":
		return openrouter.ChatMessageRoleAssistant
	case "system":
		return openrouter.ChatMessageRoleSystem
	default:
		return openrouter.ChatMessageRoleUser
	}
}
