package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nexops/kernelengine/pkg/errs"
)

// remoteProvider calls an Ollama-style "/api/embeddings" HTTP endpoint.
// Grounded on the example pack's plain net/http provider-client shape
// (build request struct -> POST JSON -> decode response struct), adapted
// from a chat-completion client to a single-shot embedding call.
type remoteProvider struct {
	name       string
	model      string
	dim        int
	baseURL    string
	httpClient *http.Client
}

// NewRemote constructs a Provider that embeds text by calling baseURL's
// "/api/embeddings" endpoint with the given model name.
func NewRemote(name, model, baseURL string, dimension int) Provider {
	return &remoteProvider{
		name:       name,
		model:      model,
		dim:        dimension,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *remoteProvider) Name() string   { return p.name }
func (p *remoteProvider) Dimension() int { return p.dim }

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed posts to the remote embedding endpoint. Any transport failure or a
// dimension mismatch against the provider's declared Dimension surfaces as
// an errs.KindUnavailable error (§7).
func (p *remoteProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbeddingRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, errs.Unavailable(fmt.Errorf("embedding provider %s: encode request: %w", p.name, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, errs.Unavailable(fmt.Errorf("embedding provider %s: build request: %w", p.name, err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errs.Unavailable(fmt.Errorf("embedding provider %s: %w", p.name, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.Unavailable(fmt.Errorf("embedding provider %s: status %d", p.name, resp.StatusCode))
	}

	var out ollamaEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errs.Unavailable(fmt.Errorf("embedding provider %s: decode response: %w", p.name, err))
	}
	if len(out.Embedding) != p.dim {
		return nil, errs.Unavailable(fmt.Errorf("embedding provider %s: expected dimension %d, got %d", p.name, p.dim, len(out.Embedding)))
	}
	return out.Embedding, nil
}
