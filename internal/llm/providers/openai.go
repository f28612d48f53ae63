package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/promptforge-ai/demon-engine/internal/llm"
)

// OpenAIHandler implements llm.Handler using the official OpenAI Go SDK
type OpenAIHandler struct {
	client *openai.Client
	model  string
}

// NewOpenAIHandler creates an OpenAI handler
func NewOpenAIHandler(apiKey, model string) *OpenAIHandler {
	if model == "" {
		model = "gpt-4o-mini"
	}
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &OpenAIHandler{client: &client, model: model}
}

// Complete implements llm.Handler
func (h *OpenAIHandler) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch strings.ToLower(msg.Role) {
		case "system":
			messages = append(messages, openai.SystemMessage(msg.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	model := req.Model
	if model == "" {
		model = h.model
	}

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(model),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	completion, err := h.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &llm.StatusError{
				ProviderName: h.Provider(),
				StatusCode:   apiErr.StatusCode,
				Message:      apiErr.Message,
			}
		}
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai response contained no choices")
	}

	return &llm.CompletionResponse{
		Text:      completion.Choices[0].Message.Content,
		TokensIn:  int(completion.Usage.PromptTokens),
		TokensOut: int(completion.Usage.CompletionTokens),
	}, nil
}

// Provider implements llm.Handler
func (h *OpenAIHandler) Provider() string { return "openai" }
