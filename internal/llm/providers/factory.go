package providers

import (
	"fmt"
	"os"

	"github.com/promptforge-ai/demon-engine/internal/llm"
)

// envKeys maps provider names to their conventional API key variables
var envKeys = map[string]string{
	"groq":       "GROQ_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

// New constructs the handler for the named provider. An empty apiKey falls
// back to the provider's conventional environment variable.
func New(provider, apiKey, model string) (llm.Handler, error) {
	if apiKey == "" {
		apiKey = os.Getenv(envKeys[provider])
	}
	switch provider {
	case "groq":
		return NewGroqHandler(apiKey, model), nil
	case "openai":
		return NewOpenAIHandler(apiKey, model), nil
	case "anthropic":
		return NewAnthropicHandler(apiKey, model), nil
	case "openrouter":
		return NewOpenRouterHandler(apiKey, model), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", provider)
	}
}
