package embedding

import (
	"context"
	"encoding/json"
	"time"
)

const (
	defaultOpenAIBase  = "https://api.openai.com/v1"
	defaultOpenAIModel = "text-embedding-3-small"
)

// OpenAIConfig configures the OpenAI-compatible embedding provider.
type OpenAIConfig struct {
	// APIKey is the bearer token for authentication.
	APIKey string

	// BaseURL overrides the API endpoint. Defaults to https://api.openai.com/v1
	// when empty. Local proxies serving the same /embeddings route work too.
	BaseURL string

	// Model is the embedding model to request.
	Model string

	// Dimensions, when positive, asks the API to shorten vectors to this
	// length (supported by text-embedding-3 models).
	Dimensions int

	// Timeout is the HTTP request timeout. Defaults to 30 s.
	Timeout time.Duration
}

// OpenAIEmbedder implements Embedder using an OpenAI-compatible embeddings
// API. It is safe for concurrent use.
type OpenAIEmbedder struct {
	cfg  OpenAIConfig
	http endpoint
}

// NewOpenAIEmbedder creates an Embedder backed by the OpenAI (or compatible)
// embeddings API.
func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	return &OpenAIEmbedder{
		cfg:  cfg,
		http: newEndpoint("embedder openai", cfg.Timeout, cfg.APIKey),
	}
}

type openAIRequest struct {
	Input      string `json:"input"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Embed calls POST {BaseURL}/embeddings.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}

	status, body, err := e.http.post(ctx, e.cfg.BaseURL+"/embeddings",
		openAIRequest{Input: text, Model: e.cfg.Model, Dimensions: e.cfg.Dimensions})
	if err != nil {
		return nil, err
	}

	var out openAIResponse
	decodeErr := json.Unmarshal(body, &out)
	switch {
	case out.Error != nil:
		return nil, e.http.fail(status, out.Error.Type+": "+out.Error.Message)
	case status >= 400:
		return nil, e.http.fail(status, excerpt(body))
	case decodeErr != nil:
		return nil, e.http.malformed("decode response: %w", decodeErr)
	case len(out.Data) == 0:
		return nil, e.http.malformed("no embedding data returned")
	}
	return out.Data[0].Embedding, nil
}

var _ Embedder = (*OpenAIEmbedder)(nil)
