package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/promptforge-ai/demon-engine/internal/llm"
)

// AnthropicHandler implements llm.Handler using the official Anthropic SDK
type AnthropicHandler struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicHandler creates an Anthropic handler
func NewAnthropicHandler(apiKey, model string) *AnthropicHandler {
	if model == "" {
		model = "claude-3-5-haiku-20241022"
	}
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &AnthropicHandler{client: &client, model: model}
}

// Complete implements llm.Handler
func (h *AnthropicHandler) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var system string
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			// System content rides the dedicated field in the Anthropic API
			system += msg.Content
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	model := req.Model
	if model == "" {
		model = h.model
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	message, err := h.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, &llm.StatusError{
				ProviderName: h.Provider(),
				StatusCode:   apiErr.StatusCode,
				Message:      apiErr.Error(),
			}
		}
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &llm.CompletionResponse{
		Text:      text,
		TokensIn:  int(message.Usage.InputTokens),
		TokensOut: int(message.Usage.OutputTokens),
	}, nil
}

// Provider implements llm.Handler
func (h *AnthropicHandler) Provider() string { return "anthropic" }
