// Package embeddings provides the text embedding capability consumed by the
// signal extractor and the compendium loader. Providers are deterministic for
// identical input; when the configured provider cannot be reached the caller
// gets ErrUnavailable rather than a silent degraded vector.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable signals that the embedding capability could not produce a
// vector. Requests that need an embedding must fail on this error; there is
// no zero-vector fallback.
var ErrUnavailable = errors.New("embedding capability unavailable")

// Embedder generates a vector embedding for a piece of text
type Embedder interface {
	// Embed returns the embedding of text. Deterministic for identical input.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the width of vectors produced by this embedder
	Dimensions() int

	// Provider returns a short provider name for logging
	Provider() string
}

// OllamaEmbedder calls a local Ollama instance's embedding endpoint
type OllamaEmbedder struct {
	BaseURL string
	Model   string
	client  *http.Client
}

// NewOllamaEmbedder creates an embedder against a local Ollama instance.
// Defaults: http://localhost:11434 and nomic-embed-text.
func NewOllamaEmbedder(baseURL, model string) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	return &OllamaEmbedder{
		BaseURL: baseURL,
		Model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed implements Embedder
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	// nomic-embed-text expects a task prefix on document content
	req := ollamaEmbeddingRequest{Model: e.Model, Prompt: "search_document: " + text}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", e.BaseURL+"/api/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: ollama API error %d: %s", ErrUnavailable, resp.StatusCode, string(body))
	}

	var ollamaResp ollamaEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode ollama response: %v", ErrUnavailable, err)
	}

	embedding := make([]float32, len(ollamaResp.Embedding))
	for i, v := range ollamaResp.Embedding {
		embedding[i] = float32(v)
	}
	return embedding, nil
}

// Dimensions implements Embedder
func (e *OllamaEmbedder) Dimensions() int { return 768 }

// Provider implements Embedder
func (e *OllamaEmbedder) Provider() string { return "ollama" }

// OpenAIEmbedder calls OpenAI's embeddings endpoint
type OpenAIEmbedder struct {
	APIKey  string
	BaseURL string
	Model   string
	client  *http.Client
}

// NewOpenAIEmbedder creates an embedder against OpenAI's API using
// text-embedding-3-small unless another model is given
func NewOpenAIEmbedder(apiKey, model string) *OpenAIEmbedder {
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIEmbedder{
		APIKey:  apiKey,
		BaseURL: "https://api.openai.com/v1",
		Model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type openAIEmbeddingRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed implements Embedder
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.APIKey == "" {
		return nil, fmt.Errorf("%w: openai: missing API key", ErrUnavailable)
	}

	req := openAIEmbeddingRequest{Input: text, Model: e.Model}
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", e.BaseURL+"/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.APIKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: openai: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: openai API error %d: %s", ErrUnavailable, resp.StatusCode, string(body))
	}

	var openaiResp openAIEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&openaiResp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode openai response: %v", ErrUnavailable, err)
	}
	if len(openaiResp.Data) == 0 {
		return nil, fmt.Errorf("%w: no embedding data in openai response", ErrUnavailable)
	}

	embedding := make([]float32, len(openaiResp.Data[0].Embedding))
	for i, v := range openaiResp.Data[0].Embedding {
		embedding[i] = float32(v)
	}
	return embedding, nil
}

// Dimensions implements Embedder
func (e *OpenAIEmbedder) Dimensions() int { return 1536 }

// Provider implements Embedder
func (e *OpenAIEmbedder) Provider() string { return "openai" }

// LocalEmbedder produces hash-based pseudo-embeddings. It exists for offline
// development and tests; it is only used when explicitly configured, never as
// an automatic fallback.
type LocalEmbedder struct {
	Dim int
}

// NewLocalEmbedder creates a deterministic local embedder with the given
// dimension (default 384)
func NewLocalEmbedder(dim int) *LocalEmbedder {
	if dim <= 0 {
		dim = 384
	}
	return &LocalEmbedder{Dim: dim}
}

// Embed implements Embedder. Output is a pure function of the input text.
func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	embedding := make([]float32, e.Dim)
	text = strings.ToLower(text)
	for i := 0; i < e.Dim; i++ {
		hash := 0
		for j, char := range text {
			hash = hash*31 + int(char) + i + j
		}
		// Normalize to [-1, 1]
		embedding[i] = float32((hash%2000)-1000) / 1000.0
	}
	return embedding, nil
}

// Dimensions implements Embedder
func (e *LocalEmbedder) Dimensions() int { return e.Dim }

// Provider implements Embedder
func (e *LocalEmbedder) Provider() string { return "local" }

// New constructs the embedder named by provider ("openai", "ollama", "local")
func New(provider, apiKey, baseURL, model string) (Embedder, error) {
	switch provider {
	case "openai":
		return NewOpenAIEmbedder(apiKey, model), nil
	case "ollama":
		return NewOllamaEmbedder(baseURL, model), nil
	case "local", "":
		return NewLocalEmbedder(0), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", provider)
	}
}
