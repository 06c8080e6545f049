package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TEIConfig configures a Hugging Face text-embeddings-inference server.
type TEIConfig struct {
	// BaseURL is the server root, e.g. http://localhost:8080.
	BaseURL string
	// Timeout is the HTTP request timeout. Defaults to 30 s.
	Timeout time.Duration
	// Normalize asks the server to L2-normalize vectors. Cosine scoring does
	// not depend on it.
	Normalize bool
}

// TEIEmbedder calls the /embed route of text-embeddings-inference, the
// server that hosts the 768-dimensional sentence encoder.
type TEIEmbedder struct {
	cfg  TEIConfig
	http endpoint
}

// NewTEIEmbedder returns an embedder for the server at cfg.BaseURL.
func NewTEIEmbedder(cfg TEIConfig) *TEIEmbedder {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &TEIEmbedder{cfg: cfg, http: newEndpoint("embedder tei", cfg.Timeout, "")}
}

type teiRequest struct {
	Inputs    string `json:"inputs"`
	Normalize bool   `json:"normalize"`
	Truncate  bool   `json:"truncate"`
}

type teiError struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

// Embed posts one input and returns the first vector of the response.
func (e *TEIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}

	status, body, err := e.http.post(ctx, e.cfg.BaseURL+"/embed",
		teiRequest{Inputs: text, Normalize: e.cfg.Normalize, Truncate: true})
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		var apiErr teiError
		detail := excerpt(body)
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			detail = apiErr.ErrorType + ": " + apiErr.Error
		}
		return nil, e.http.fail(status, detail)
	}

	var vectors [][]float32
	if err := json.Unmarshal(body, &vectors); err != nil {
		return nil, e.http.malformed("decode response: %w", err)
	}
	if len(vectors) == 0 {
		return nil, e.http.malformed("no embedding returned")
	}
	return vectors[0], nil
}

// Health reports whether the server answers GET /health with 200.
func (e *TEIEmbedder) Health(ctx context.Context) error {
	req, err := e.http.newRequest(ctx, http.MethodGet, e.cfg.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := e.http.client.Do(req)
	if err != nil {
		return fmt.Errorf("embedder tei: health: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedder tei: health: HTTP %d", resp.StatusCode)
	}
	return nil
}

var _ Embedder = (*TEIEmbedder)(nil)
