package llm

import (
	"fmt"
	"os"
)

// Environment variables consulted when Options fields are empty.
const (
	EnvOpenRouterAPIKey = "OPENROUTER_API_KEY"
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
)

// Options selects and configures the providers. Empty fields fall back to
// environment variables, then to the local offline providers.
type Options struct {
	CompletionProvider string // "openrouter" or "local"; "" = auto
	CompletionAPIKey   string
	CompletionBaseURL  string
	CompletionModel    string

	EmbeddingProvider string // "http" or "local"; "" = auto
	EmbeddingAPIKey   string
	EmbeddingBaseURL  string
	EmbeddingModel    string

	CacheSize int
}

// NewCompleter builds a Completer from options. Auto mode uses OpenRouter
// when a key is available and the local completer otherwise.
func NewCompleter(opts Options) (Completer, error) {
	apiKey := opts.CompletionAPIKey
	if apiKey == "" {
		apiKey = os.Getenv(EnvOpenRouterAPIKey)
	}

	switch opts.CompletionProvider {
	case ProviderOpenRouter:
		return NewOpenRouterCompleter(apiKey, opts.CompletionBaseURL, opts.CompletionModel)
	case ProviderLocal:
		return NewLocalCompleter(0), nil
	case "":
		if apiKey != "" {
			return NewOpenRouterCompleter(apiKey, opts.CompletionBaseURL, opts.CompletionModel)
		}
		return NewLocalCompleter(0), nil
	default:
		return nil, fmt.Errorf("unknown completion provider %q", opts.CompletionProvider)
	}
}

// NewEmbedder builds an Embedder from options, sharing one LRU cache
// across the provider's lifetime.
func NewEmbedder(opts Options) (Embedder, error) {
	apiKey := opts.EmbeddingAPIKey
	if apiKey == "" {
		apiKey = os.Getenv(EnvOpenAIAPIKey)
	}
	cache := NewCache(opts.CacheSize)

	switch opts.EmbeddingProvider {
	case ProviderHTTP:
		return NewHTTPEmbedder(apiKey, opts.EmbeddingBaseURL, opts.EmbeddingModel, cache)
	case ProviderLocal:
		return NewLocalEmbedder(cache), nil
	case "":
		if apiKey != "" {
			return NewHTTPEmbedder(apiKey, opts.EmbeddingBaseURL, opts.EmbeddingModel, cache)
		}
		return NewLocalEmbedder(cache), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", opts.EmbeddingProvider)
	}
}
