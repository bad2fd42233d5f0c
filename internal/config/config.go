// Package config loads the application configuration from YAML with
// environment overrides. The loaded Config is passed explicitly to
// constructors; nothing reads it through a global.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/vqhuy/lawrag-mcp/internal/builder"
	"github.com/vqhuy/lawrag-mcp/internal/llm"
	"github.com/vqhuy/lawrag-mcp/internal/router"
)

// Environment overrides, applied after the YAML file.
const (
	EnvDataDir  = "LAWRAG_DATA_DIR"
	EnvLogLevel = "LAWRAG_LOG_LEVEL"
)

// StorageConfig locates the three persistence layers. All paths are
// resolved relative to DataDir when not absolute.
type StorageConfig struct {
	DataDir    string `yaml:"data_dir"`
	DBFile     string `yaml:"db_file"`
	VectorFile string `yaml:"vector_file"`
	ObjectsDir string `yaml:"objects_dir"`
}

// LLMConfig configures the completion and embedding providers. API keys
// come from the environment, never from the file.
type LLMConfig struct {
	CompletionProvider string `yaml:"completion_provider"`
	CompletionBaseURL  string `yaml:"completion_base_url"`
	CompletionModel    string `yaml:"completion_model"`

	EmbeddingProvider string `yaml:"embedding_provider"`
	EmbeddingBaseURL  string `yaml:"embedding_base_url"`
	EmbeddingModel    string `yaml:"embedding_model"`

	CacheSize int `yaml:"cache_size"`
}

// BuilderConfig bounds the index build.
type BuilderConfig struct {
	MaxSummaryInputChars int `yaml:"max_summary_input_chars"`
	FallbackSummaryChars int `yaml:"fallback_summary_chars"`
	MaxParallel          int `yaml:"max_parallel"`
}

// RouterConfig bounds query routing.
type RouterConfig struct {
	TopK        int `yaml:"top_k"`
	MaxDepth    int `yaml:"max_depth"`
	MaxPassages int `yaml:"max_passages"`
}

// Config is the root configuration.
type Config struct {
	Storage  StorageConfig `yaml:"storage"`
	LLM      LLMConfig     `yaml:"llm"`
	Builder  BuilderConfig `yaml:"builder"`
	Router   RouterConfig  `yaml:"router"`
	LogLevel string        `yaml:"log_level"`
}

// Load reads the config at path. A missing file yields the defaults; a
// malformed file is an error. Environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir:    "data",
			DBFile:     "lawrag.db",
			VectorFile: "vectors.db",
			ObjectsDir: "objects",
		},
		LogLevel: "info",
	}
}

func applyDefaults(cfg *Config) {
	d := defaultConfig()
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = d.Storage.DataDir
	}
	if cfg.Storage.DBFile == "" {
		cfg.Storage.DBFile = d.Storage.DBFile
	}
	if cfg.Storage.VectorFile == "" {
		cfg.Storage.VectorFile = d.Storage.VectorFile
	}
	if cfg.Storage.ObjectsDir == "" {
		cfg.Storage.ObjectsDir = d.Storage.ObjectsDir
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = d.LogLevel
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
}

// resolve anchors a relative path under the data dir.
func (s StorageConfig) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.DataDir, path)
}

// DBPath returns the metadata database path.
func (s StorageConfig) DBPath() string { return s.resolve(s.DBFile) }

// VectorPath returns the vector database path.
func (s StorageConfig) VectorPath() string { return s.resolve(s.VectorFile) }

// ObjectsPath returns the artifact directory path.
func (s StorageConfig) ObjectsPath() string { return s.resolve(s.ObjectsDir) }

// LLMOptions converts the LLM section into provider factory options.
func (c *Config) LLMOptions() llm.Options {
	return llm.Options{
		CompletionProvider: c.LLM.CompletionProvider,
		CompletionBaseURL:  c.LLM.CompletionBaseURL,
		CompletionModel:    c.LLM.CompletionModel,
		EmbeddingProvider:  c.LLM.EmbeddingProvider,
		EmbeddingBaseURL:   c.LLM.EmbeddingBaseURL,
		EmbeddingModel:     c.LLM.EmbeddingModel,
		CacheSize:          c.LLM.CacheSize,
	}
}

// BuilderConfig converts the builder section.
func (c *Config) BuilderConfig() builder.Config {
	return builder.Config{
		MaxSummaryInputChars: c.Builder.MaxSummaryInputChars,
		FallbackSummaryChars: c.Builder.FallbackSummaryChars,
		MaxParallel:          c.Builder.MaxParallel,
	}
}

// RouterConfig converts the router section.
func (c *Config) RouterConfig() router.Config {
	return router.Config{
		TopK:        c.Router.TopK,
		MaxDepth:    c.Router.MaxDepth,
		MaxPassages: c.Router.MaxPassages,
	}
}
