// Package embedclient is the Embedding Client (C1): a thin HTTP client over
// an OpenAI-compatible /v1/embeddings endpoint, plus a deterministic
// in-memory double for tests, grounded on the teacher's
// internal/embedding.EmbedText transport and internal/rag/embedder.Embedder
// interface.
package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"mnemosyne/internal/config"
	"mnemosyne/internal/errs"
)

// maxInputChars truncates embedding inputs to avoid context-window rejection
// by local embedding servers, matching the original Python service's
// truncation boundary.
const maxInputChars = 2000

// Client converts text into embedding vectors.
type Client interface {
	// Embed returns a single embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// BatchEmbed returns one embedding vector per input, in order.
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension reports the configured embedding width.
	Dimension() int
	// Ping verifies the embedding endpoint is reachable.
	Ping(ctx context.Context) error
}

// Config configures the HTTP embedding client.
type Config struct {
	BaseURL   string
	Path      string
	Model     string
	APIKey    string
	APIHeader string
	Dimension int
	Timeout   time.Duration
}

// FromConfig derives an embedding client Config from the resolved
// application config (spec §6: LOCAL_MODEL_HOST + EMBEDDING_MODEL serve as
// the default local embedding provider, OpenAI-compatible at /v1/embeddings).
func FromConfig(cfg config.Config) Config {
	return Config{
		BaseURL:   strings.TrimSuffix(cfg.LocalModelHost, "/"),
		Path:      "/v1/embeddings",
		Model:     cfg.EmbeddingModel,
		Dimension: cfg.EmbeddingDimension,
		Timeout:   30 * time.Second,
	}
}

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// httpClient is the production Client, calling a single chunk per request to
// stay compatible with local inference servers that reject batched input.
type httpClient struct {
	cfg Config

	mu       sync.Mutex
	lastCall time.Time
}

// New builds a production embedding Client from cfg.
func New(cfg Config) Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &httpClient{cfg: cfg}
}

func (c *httpClient) Dimension() int { return c.cfg.Dimension }

func (c *httpClient) Ping(ctx context.Context) error {
	_, err := c.Embed(ctx, "ping")
	if err != nil {
		return fmt.Errorf("embedclient: reachability check: %w", err)
	}
	return nil
}

func (c *httpClient) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := c.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (c *httpClient) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	truncated := make([]string, len(texts))
	for i, t := range texts {
		if len(t) > maxInputChars {
			t = t[:maxInputChars]
		}
		truncated[i] = t
	}

	out := make([][]float32, 0, len(truncated))
	for _, t := range truncated {
		vecs, err := c.call(ctx, []string{t})
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *httpClient) call(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.lastCall = time.Now()
	c.mu.Unlock()

	body, err := json.Marshal(embedReq{Model: c.cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("embedclient: marshal request: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	url := c.cfg.BaseURL + c.cfg.Path
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedclient: build request: %w", err)
	}
	if c.cfg.APIHeader == "Authorization" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	} else if c.cfg.APIHeader != "" {
		req.Header.Set(c.cfg.APIHeader, c.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrEmbeddingUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", errs.ErrEmbeddingUnavailable, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: %s: %s", errs.ErrEmbeddingUnavailable, resp.Status, string(respBody))
	}

	var er embedResp
	if err := json.Unmarshal(respBody, &er); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", errs.ErrEmbeddingUnavailable, err)
	}
	if len(er.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings, want %d", errs.ErrEmbeddingUnavailable, len(er.Data), len(texts))
	}
	out := make([][]float32, len(er.Data))
	for i := range er.Data {
		out[i] = er.Data[i].Embedding
	}
	return out, nil
}

// CosineSimilarity computes the cosine similarity of two equal-length
// vectors. Returns 0 if either vector has zero magnitude or the lengths
// differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// deterministic is a hash-based embedder for tests and offline development,
// grounded on the teacher's internal/rag/embedder.deterministicEmbedder.
type deterministic struct {
	dim  int
	seed uint64
}

// NewDeterministic builds a deterministic, L2-normalized Client suitable for
// tests: identical input always produces an identical vector without a
// running inference server.
func NewDeterministic(dim int, seed uint64) Client {
	if dim <= 0 {
		dim = 64
	}
	return &deterministic{dim: dim, seed: seed}
}

func (d *deterministic) Dimension() int                        { return d.dim }
func (d *deterministic) Ping(_ context.Context) error           { return nil }
func (d *deterministic) Embed(_ context.Context, s string) ([]float32, error) {
	return d.embedOne(s), nil
}

func (d *deterministic) BatchEmbed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

func (d *deterministic) embedOne(s string) []float32 {
	if len(s) > maxInputChars {
		s = s[:maxInputChars]
	}
	v := make([]float32, d.dim)
	b := []byte(s)
	if len(b) == 0 {
		return v
	}
	if len(b) < 3 {
		d.add(b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			d.add(b[i:i+3], v)
		}
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum > 0 {
		inv := float32(1.0 / math.Sqrt(sum))
		for i := range v {
			v[i] *= inv
		}
	}
	return v
}

func (d *deterministic) add(gram []byte, v []float32) {
	h := fnv.New64a()
	if d.seed != 0 {
		var tmp [8]byte
		for i := 0; i < 8; i++ {
			tmp[i] = byte(d.seed >> (8 * i))
		}
		_, _ = h.Write(tmp[:])
	}
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}
