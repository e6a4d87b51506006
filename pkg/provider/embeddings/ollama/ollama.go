// Package ollama implements an embeddings provider backed by an Ollama
// server's native /api/embed endpoint.
//
// Ollama (https://ollama.com) serves local embedding models such as
// nomic-embed-text and the nomic v2 MoE models this project was built
// around. Only net/http and encoding/json are needed on top of the
// embeddings contract.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zanussbaum/fast-penguin/pkg/provider/embeddings"
)

// DefaultBaseURL is the default address of a locally running Ollama server.
const DefaultBaseURL = "http://localhost:11434"

var _ embeddings.Provider = (*Provider)(nil)

// Provider talks to one Ollama embedding model. It is safe for concurrent
// use.
//
// The embedding dimensionality is resolved by [Provider.Load]: known model
// names are looked up in a built-in table, everything else is probed with a
// single embed call against the live server.
type Provider struct {
	baseURL string
	model   string
	client  *http.Client

	// dim is written by Load and read by Dimensions; atomic so the server
	// can re-run Load while requests inspect readiness.
	dim atomic.Int64
}

// Option is a functional option for [New].
type Option func(*Provider)

// WithHTTPClient replaces the provider's HTTP client, e.g. to set a
// per-request timeout or inject a test transport.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithTimeout sets a request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.client.Timeout = d }
}

// New constructs a Provider for model served at baseURL. An empty baseURL
// means [DefaultBaseURL]; model must not be empty.
func New(baseURL, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama embeddings: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	p := &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Load implements embeddings.Provider. For recognised model names the
// dimension comes from a built-in table without touching the network; for
// anything else a single probe embed is issued and the returned vector's
// length is recorded. Either way a failure leaves the provider unloaded
// (Dimensions() == 0) and Load may be called again.
func (p *Provider) Load(ctx context.Context) error {
	if d := knownDimensions(p.model); d > 0 {
		p.dim.Store(int64(d))
		return nil
	}
	vecs, err := p.callEmbed(ctx, []string{"probe"})
	if err != nil {
		return fmt.Errorf("ollama embeddings: load %q: %w", p.model, err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return fmt.Errorf("ollama embeddings: load %q: empty probe embedding", p.model)
	}
	p.dim.Store(int64(len(vecs[0])))
	return nil
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.callEmbed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("ollama embeddings: embed: empty response")
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider. A nil or empty texts slice
// returns (nil, nil) without a network round trip.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.callEmbed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: embed batch: want %d embeddings, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

// Dimensions implements embeddings.Provider. Returns 0 before a successful
// Load of an unrecognised model.
func (p *Provider) Dimensions() int {
	return int(p.dim.Load())
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.model }

// embedRequest / embedResponse mirror Ollama's /api/embed wire format.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// callEmbed issues one POST /api/embed request.
func (p *Provider) callEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings in response")
	}
	return result.Embeddings, nil
}

// knownDimensions returns the output dimension for model names whose
// dimensionality is fixed and well known, avoiding a live probe. Returns 0
// for anything unrecognised.
func knownDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "nomic-embed-text"): // v1, v1.5 and v2-moe
		return 768
	case strings.Contains(lower, "mxbai-embed-large"):
		return 1024
	case strings.Contains(lower, "all-minilm"):
		return 384
	default:
		return 0
	}
}
