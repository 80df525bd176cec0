package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2"
	"google.golang.org/genai"

	"github.com/geniehealth/dyk/internal/config"
)

// Embedder is the interface for generating embeddings.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// OllamaEmbedder generates embeddings via the Ollama API.
type OllamaEmbedder struct {
	Model   string
	BaseURL string
	client  *http.Client
}

// NewOllamaEmbedder creates a new Ollama embedder.
func NewOllamaEmbedder(model, baseURL string) *OllamaEmbedder {
	return &OllamaEmbedder{
		Model:   model,
		BaseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// Embed generates embeddings for the given texts.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	body := map[string]any{
		"model": e.Model,
		"input": texts,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.BaseURL+"/api/embed", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama embed returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding embeddings: %w", err)
	}

	return result.Embeddings, nil
}

// GeminiEmbedder generates embeddings via Google's Gemini API.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
}

// NewGeminiEmbedder creates a Gemini embedder. The API key is read from
// the environment variable named by apiKeyEnv.
func NewGeminiEmbedder(ctx context.Context, model, apiKeyEnv string) (*GeminiEmbedder, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%s not set", apiKeyEnv)
	}
	if model == "" {
		model = "gemini-embedding-001"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &GeminiEmbedder{client: client, model: model}, nil
}

// Embed generates embeddings for the given texts in one batched call.
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: "SEMANTIC_SIMILARITY",
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed returned %d vectors for %d texts", len(result.Embeddings), len(texts))
	}

	out := make([][]float64, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vec := make([]float64, len(emb.Values))
		for j, v := range emb.Values {
			vec[j] = float64(v)
		}
		out[i] = vec
	}
	return out, nil
}

// cachingEmbedder wraps an Embedder with an LRU cache so repeated texts
// are embedded once per process.
type cachingEmbedder struct {
	inner Embedder
	model string
	cache *lru.Cache[string, []float64]

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachingEmbedder wraps inner with an LRU cache of the given size.
// Cache keys include the model name so switching models never serves
// stale vectors.
func NewCachingEmbedder(inner Embedder, model string, size int) (Embedder, error) {
	cache, err := lru.New[string, []float64](size)
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}
	return &cachingEmbedder{inner: inner, model: model, cache: cache}, nil
}

func (c *cachingEmbedder) key(text string) string {
	return c.model + "\x00" + text
}

// Embed returns cached vectors where available and embeds the rest in a
// single call to the wrapped embedder.
func (c *cachingEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))

	var missing []string
	missingAt := make(map[string][]int)
	for i, text := range texts {
		if vec, ok := c.cache.Get(c.key(text)); ok {
			out[i] = vec
			c.hits.Add(1)
			continue
		}
		c.misses.Add(1)
		if _, seen := missingAt[text]; !seen {
			missing = append(missing, text)
		}
		missingAt[text] = append(missingAt[text], i)
	}

	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missing))
	}

	for i, text := range missing {
		c.cache.Add(c.key(text), vecs[i])
		for _, at := range missingAt[text] {
			out[at] = vecs[i]
		}
	}
	return out, nil
}

// CreateEmbedder creates the embedding backend from configuration,
// wrapped in an LRU cache when a cache size is configured.
func CreateEmbedder(ctx context.Context, cfg *config.Config) (Embedder, error) {
	var (
		inner Embedder
		model string
	)
	switch strings.ToLower(cfg.Embeddings.Provider) {
	case "gemini":
		model = cfg.Embeddings.GeminiModel
		gem, err := NewGeminiEmbedder(ctx, model, cfg.Embeddings.APIKeyEnv)
		if err != nil {
			return nil, err
		}
		inner = gem
	default:
		model = cfg.Embeddings.Model
		inner = NewOllamaEmbedder(model, cfg.Embeddings.OllamaURL)
	}

	if cfg.Embeddings.CacheSize <= 0 {
		return inner, nil
	}
	return NewCachingEmbedder(inner, model, cfg.Embeddings.CacheSize)
}
