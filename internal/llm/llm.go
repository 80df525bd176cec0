// Package llm provides chat-completion and embedding clients with rate
// limiting, retries and tolerant JSON response parsing.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/geniehealth/dyk/internal/config"
	"github.com/geniehealth/dyk/internal/ratelimit"
)

// Request is a single chat-completion call.
type Request struct {
	Model       string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, req Request) (string, error)
	IsConfigured() bool
}

// Stats is a snapshot of a provider's request counters. Requests counts
// attempts, so retries show up as additional requests. TotalTokens sums
// the usage reported by the API, when present.
type Stats struct {
	Requests    int64
	Successes   int64
	Failures    int64
	TotalTokens int64
}

// PermanentError is a 4xx response that retrying cannot fix.
type PermanentError struct {
	Status int
	Body   string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("client error %d: %s", e.Status, e.Body)
}

// OpenRouterProvider calls the OpenRouter chat completions API.
type OpenRouterProvider struct {
	BaseURL    string
	Referer    string
	APIKey     string
	MaxRetries int
	limiter    *ratelimit.Limiter
	client     *http.Client

	requests  atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
	tokens    atomic.Int64
}

// NewOpenRouterProvider creates an OpenRouter provider from configuration.
// The API key is read from the environment variable named in the config.
func NewOpenRouterProvider(cfg *config.Config, limiter *ratelimit.Limiter) *OpenRouterProvider {
	timeout := time.Duration(cfg.API.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenRouterProvider{
		BaseURL:    strings.TrimSuffix(cfg.API.BaseURL, "/"),
		Referer:    cfg.API.Referer,
		APIKey:     os.Getenv(cfg.API.APIKeyEnv),
		MaxRetries: cfg.API.MaxRetries,
		limiter:    limiter,
		client:     &http.Client{Timeout: timeout},
	}
}

// IsConfigured checks if the API key is set.
func (o *OpenRouterProvider) IsConfigured() bool {
	return o.APIKey != ""
}

// Generate sends a prompt and returns the completion text. Transient
// failures are retried with exponential backoff and jitter. 4xx
// responses other than 429 abort immediately.
func (o *OpenRouterProvider) Generate(ctx context.Context, req Request) (string, error) {
	if o.APIKey == "" {
		return "", fmt.Errorf("OpenRouter API key not configured")
	}

	retries := o.MaxRetries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if err := o.limiter.Acquire(ctx); err != nil {
			return "", err
		}

		o.requests.Add(1)
		text, err := o.complete(ctx, req)
		if err == nil {
			o.successes.Add(1)
			return text, nil
		}
		o.failures.Add(1)
		lastErr = err

		var perm *PermanentError
		if errors.As(err, &perm) {
			return "", err
		}

		if attempt < retries-1 {
			wait := backoff(attempt)
			log.Printf("retry %d/%d after %s: %v", attempt+1, retries, wait.Round(time.Millisecond), err)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return "", fmt.Errorf("chat completion failed after %d attempts: %w", retries, lastErr)
}

func (o *OpenRouterProvider) complete(ctx context.Context, req Request) (string, error) {
	body := map[string]any{
		"model": req.Model,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
		"temperature": req.Temperature,
		"max_tokens":  req.MaxTokens,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.APIKey)
	if o.Referer != "" {
		httpReq.Header.Set("HTTP-Referer", o.Referer)
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openrouter API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", &PermanentError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
		}
		return "", fmt.Errorf("openrouter API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int64 `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	o.tokens.Add(result.Usage.TotalTokens)
	return result.Choices[0].Message.Content, nil
}

// Stats returns a snapshot of the request counters.
func (o *OpenRouterProvider) Stats() Stats {
	return Stats{
		Requests:    o.requests.Load(),
		Successes:   o.successes.Load(),
		Failures:    o.failures.Load(),
		TotalTokens: o.tokens.Load(),
	}
}

// backoff returns 1s, 2s, 4s... for successive attempts, plus up to
// half the base as jitter so concurrent workers do not retry in step.
func backoff(attempt int) time.Duration {
	base := time.Second << uint(attempt)
	jitter := time.Duration(rand.Float64() * float64(base/2))
	return base + jitter
}

// OllamaProvider is a local Ollama LLM provider.
type OllamaProvider struct {
	Model   string
	BaseURL string
	client  *http.Client
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(model, baseURL string) *OllamaProvider {
	return &OllamaProvider{
		Model:   model,
		BaseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// IsConfigured checks if Ollama is running and the model is available.
func (o *OllamaProvider) IsConfigured() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", o.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}

	modelBase := strings.SplitN(o.Model, ":", 2)[0]
	for _, m := range result.Models {
		if strings.Contains(m.Name, modelBase) {
			return true
		}
	}
	log.Printf("Ollama model %q not found", o.Model)
	return false
}

// Generate sends a prompt to Ollama and returns the response.
func (o *OllamaProvider) Generate(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = o.Model
	}

	body := map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
		"stream": false,
		"options": map[string]any{
			"num_predict": req.MaxTokens,
			"temperature": req.Temperature,
		},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.BaseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	return result.Message.Content, nil
}

// CreateProvider creates an LLM provider based on configuration. When
// Ollama is selected but unreachable, OpenRouter is used as fallback.
// The returned provider is never nil; callers check IsConfigured.
func CreateProvider(cfg *config.Config) Provider {
	if strings.ToLower(cfg.API.Provider) == "ollama" {
		p := NewOllamaProvider(cfg.API.Model, cfg.API.OllamaURL)
		if p.IsConfigured() {
			log.Printf("Using Ollama with model: %s", cfg.API.Model)
			return p
		}
		log.Println("Ollama not available, trying OpenRouter fallback...")
	}

	limiter := ratelimit.New(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.RequestsPerSecond)
	p := NewOpenRouterProvider(cfg, limiter)
	if p.IsConfigured() {
		log.Printf("Using OpenRouter with default model: %s", cfg.API.Model)
	}
	return p
}
