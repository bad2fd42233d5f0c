package llm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultEmbeddingModel is the OpenAI-compatible default.
	DefaultEmbeddingModel = "text-embedding-3-small"
	// DefaultEmbeddingBaseURL is the OpenAI endpoint; any compatible
	// server works.
	DefaultEmbeddingBaseURL = "https://api.openai.com/v1"

	// HTTPEmbeddingDimension is the dimension of the default model.
	HTTPEmbeddingDimension = 1536
	// LocalDimension is the dimension of the offline provider.
	LocalDimension = 384

	// Batch limits
	DefaultBatchSize = 50
	MaxBatchSize     = 100
)

// HTTPEmbedder calls an OpenAI-compatible embeddings endpoint.
type HTTPEmbedder struct {
	apiKey     string
	baseURL    string
	model      string
	dimension  int
	httpClient *http.Client
	cache      *Cache
}

// NewHTTPEmbedder creates an embedder against baseURL. cache may be nil.
func NewHTTPEmbedder(apiKey, baseURL, model string, cache *Cache) (*HTTPEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: embedding API key not set", ErrNoProviderEnabled)
	}
	if baseURL == "" {
		baseURL = DefaultEmbeddingBaseURL
	}
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &HTTPEmbedder{
		apiKey:    apiKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		model:     model,
		dimension: HTTPEmbeddingDimension,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cache: cache,
	}, nil
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	hash := ComputeHash(text)
	if e.cache != nil {
		if v, ok := e.cache.Get(hash); ok {
			return v, nil
		}
	}

	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrProviderFailed)
	}
	return vectors[0], nil
}

func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateTexts(texts); err != nil {
		return nil, err
	}
	if len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	config := DefaultRetryConfig()
	vectors, err := retryWithBackoff(ctx, config, func() ([][]float32, error) {
		return e.callAPI(ctx, texts)
	})
	if err != nil {
		return nil, fmt.Errorf("%w after %d retries: %v", ErrProviderFailed, MaxRetries, err)
	}

	if e.cache != nil {
		for i, v := range vectors {
			e.cache.Set(ComputeHash(texts[i]), v)
		}
	}
	return vectors, nil
}

func (e *HTTPEmbedder) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := map[string]interface{}{
		"input": texts,
		"model": e.model,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(apiResp.Data))
	}

	vectors := make([][]float32, len(apiResp.Data))
	for i, d := range apiResp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func (e *HTTPEmbedder) Dimension() int {
	return e.dimension
}

func (e *HTTPEmbedder) Provider() string {
	return ProviderHTTP
}

func (e *HTTPEmbedder) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}

// LocalEmbedder produces deterministic hash-derived vectors. No semantic
// meaning, but stable across runs, which is what tests and offline
// operation need.
type LocalEmbedder struct {
	cache *Cache
}

// NewLocalEmbedder creates a LocalEmbedder. cache may be nil.
func NewLocalEmbedder(cache *Cache) *LocalEmbedder {
	return &LocalEmbedder{cache: cache}
}

func (l *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, ErrEmptyText
	}

	hash := ComputeHash(text)
	if l.cache != nil {
		if v, ok := l.cache.Get(hash); ok {
			return v, nil
		}
	}

	vector := make([]float32, LocalDimension)
	sum := sha256.Sum256([]byte(text))
	// Stretch the 32 hash bytes across the vector by re-hashing per block.
	for block := 0; block*len(sum) < LocalDimension; block++ {
		for i, b := range sum {
			pos := block*len(sum) + i
			if pos >= LocalDimension {
				break
			}
			vector[pos] = float32(b)/255.0 - 0.5
		}
		sum = sha256.Sum256(sum[:])
	}

	if l.cache != nil {
		l.cache.Set(hash, vector)
	}
	return vector, nil
}

func (l *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateTexts(texts); err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := l.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		vectors[i] = v
	}
	return vectors, nil
}

func (l *LocalEmbedder) Dimension() int {
	return LocalDimension
}

func (l *LocalEmbedder) Provider() string {
	return ProviderLocal
}

func (l *LocalEmbedder) Close() error {
	return nil
}
