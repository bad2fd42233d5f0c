package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Provider names
const (
	ProviderOpenRouter = "openrouter"
	ProviderHTTP       = "http"
	ProviderLocal      = "local"
)

const (
	// DefaultCompletionModel balances quality and cost for Vietnamese
	// summarization.
	DefaultCompletionModel = "openai/gpt-4o-mini"
	// DefaultOpenRouterBaseURL is the OpenRouter OpenAI-compatible endpoint.
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// OpenRouterCompleter calls an OpenAI-compatible chat completions endpoint.
type OpenRouterCompleter struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOpenRouterCompleter creates a completer against baseURL (OpenRouter by
// default). model falls back to DefaultCompletionModel.
func NewOpenRouterCompleter(apiKey, baseURL, model string) (*OpenRouterCompleter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: completion API key not set", ErrNoProviderEnabled)
	}
	if baseURL == "" {
		baseURL = DefaultOpenRouterBaseURL
	}
	if model == "" {
		model = DefaultCompletionModel
	}
	return &OpenRouterCompleter{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

// Complete sends the prompt as a single user message and returns the first
// choice, retried with exponential backoff.
func (c *OpenRouterCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", ErrEmptyText
	}

	config := DefaultRetryConfig()
	result, err := retryWithBackoff(ctx, config, func() (string, error) {
		return c.callAPI(ctx, prompt)
	})
	if err != nil {
		return "", fmt.Errorf("%w after %d retries: %v", ErrProviderFailed, MaxRetries, err)
	}
	return result, nil
}

func (c *OpenRouterCompleter) callAPI(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]interface{}{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("api call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return strings.TrimSpace(apiResp.Choices[0].Message.Content), nil
}

func (c *OpenRouterCompleter) Provider() string {
	return ProviderOpenRouter
}

func (c *OpenRouterCompleter) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// LocalCompleter is a deterministic offline completer: it answers with a
// truncation of the prompt's tail. Useful for tests and for running the
// pipeline without credentials; summaries fall back to the same truncation
// the builder would apply anyway.
type LocalCompleter struct {
	maxChars int
}

// NewLocalCompleter creates a LocalCompleter. maxChars bounds the returned
// completion length (0 means 300).
func NewLocalCompleter(maxChars int) *LocalCompleter {
	if maxChars <= 0 {
		maxChars = 300
	}
	return &LocalCompleter{maxChars: maxChars}
}

func (l *LocalCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if prompt == "" {
		return "", ErrEmptyText
	}
	runes := []rune(prompt)
	if len(runes) <= l.maxChars {
		return prompt, nil
	}
	return string(runes[:l.maxChars]), nil
}

func (l *LocalCompleter) Provider() string {
	return ProviderLocal
}

func (l *LocalCompleter) Close() error {
	return nil
}
