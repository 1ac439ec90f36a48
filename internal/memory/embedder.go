package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hcengineering/huly-ai-agent/internal/errs"
)

// DefaultDimensions is the embedding width stored and indexed for every
// entity. All vectors in one store must share it.
const DefaultDimensions = 256

// EmbedderConfig holds embedding configuration.
type EmbedderConfig struct {
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int // output dimension, default DefaultDimensions
	CacheSize  int // LRU cache size, default 10000
}

// Embedder generates text embeddings.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int
}

// httpEmbedder implements Embedder against an OpenAI-compatible
// embeddings endpoint, with an LRU cache in front.
type httpEmbedder struct {
	config     EmbedderConfig
	httpClient *http.Client
	cache      *lru.Cache[string, []float32]
}

// NewEmbedder creates an HTTP-backed embedder.
func NewEmbedder(config EmbedderConfig) (Embedder, error) {
	if config.Model == "" {
		config.Model = "text-embedding-3-small"
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.Dimensions == 0 {
		config.Dimensions = DefaultDimensions
	}
	if config.CacheSize == 0 {
		config.CacheSize = 10000
	}

	cache, err := lru.New[string, []float32](config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	return &httpEmbedder{
		config: config,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		cache: cache,
	}, nil
}

// Embed generates an embedding for a single text.
func (e *httpEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}

	var embedding []float32
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		embedding, err = e.callAPI(ctx, text)
		if err == nil {
			break
		}
		if !errs.IsTransient(err) || attempt == 2 {
			break
		}
		backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("embed after retries: %w", err)
	}

	e.cache.Add(text, embedding)
	return embedding, nil
}

// Dimensions returns the configured embedding dimension.
func (e *httpEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// callAPI calls the embeddings endpoint for one input.
func (e *httpEmbedder) callAPI(ctx context.Context, text string) ([]float32, error) {
	reqBody := map[string]any{
		"model":      e.config.Model,
		"input":      []string{text},
		"dimensions": e.config.Dimensions,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.config.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, errs.Transientf("http request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == 429 || resp.StatusCode >= 500 {
			return nil, errs.Transientf("API error %d: %s", resp.StatusCode, string(bodyBytes))
		}
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Data) != 1 {
		return nil, fmt.Errorf("unexpected response size: %d", len(apiResp.Data))
	}
	embedding := apiResp.Data[0].Embedding
	if len(embedding) != e.config.Dimensions {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), e.config.Dimensions)
	}

	return embedding, nil
}
