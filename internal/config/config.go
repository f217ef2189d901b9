// Package config loads and validates scrivano configuration.
// Configuration is resolved in three layers: built-in defaults, the
// corpus-level .scrivano.yaml file, and SCRIVANO_* environment variables
// (highest priority).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the per-corpus configuration file, looked up at the
// corpus root.
const ConfigFileName = ".scrivano.yaml"

// DataDirName is the directory under the corpus root holding the index
// and logs.
const DataDirName = ".scrivano"

// Config represents the complete scrivano configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Search     SearchConfig     `yaml:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Cache      CacheConfig      `yaml:"cache"`
	LogLevel   string           `yaml:"log_level"`
}

// SearchConfig configures chunking and hybrid search parameters.
type SearchConfig struct {
	// Blend is the semantic weight in hybrid fusion (0.0-1.0).
	// hybrid = blend*semantic + (1-blend)*lexical. Default 0.5.
	Blend float64 `yaml:"blend"`

	// ChunkSize is the target chunk size in characters. Sections larger
	// than this are split at blank lines.
	ChunkSize int `yaml:"chunk_size"`

	// MaxResults is the default result limit for searches.
	MaxResults int `yaml:"max_results"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedding backend: "ollama" or "static".
	Provider string `yaml:"provider"`

	// Model is the embedding model name (ollama only).
	Model string `yaml:"model"`

	// Dimensions is the embedding dimension. 0 means auto-detect.
	Dimensions int `yaml:"dimensions"`

	// BatchSize is the number of chunk texts per embed_batch call.
	BatchSize int `yaml:"batch_size"`

	// OllamaHost is the Ollama API endpoint.
	OllamaHost string `yaml:"ollama_host"`
}

// CacheConfig configures the document store cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of (path, version) documents kept
	// in memory.
	MaxEntries int `yaml:"max_entries"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Version: 1,
		Search: SearchConfig{
			Blend:      0.5,
			ChunkSize:  1600,
			MaxResults: 10,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			Dimensions: 0,
			BatchSize:  32,
			OllamaHost: "http://localhost:11434",
		},
		Cache: CacheConfig{
			MaxEntries: 1024,
		},
		LogLevel: "info",
	}
}

// Load reads configuration for the corpus rooted at root.
// A missing config file is not an error; defaults apply.
func Load(root string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(root, ConfigFileName)
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies SCRIVANO_* environment variables on top of
// file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SCRIVANO_BLEND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.Blend = f
		}
	}
	if v := os.Getenv("SCRIVANO_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Embeddings.BatchSize = n
		}
	}
	if v := os.Getenv("SCRIVANO_EMBED_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("SCRIVANO_EMBED_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("SCRIVANO_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("SCRIVANO_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Search.Blend < 0 || c.Search.Blend > 1 {
		return fmt.Errorf("search.blend must be in [0,1], got %v", c.Search.Blend)
	}
	if c.Search.ChunkSize <= 0 {
		return fmt.Errorf("search.chunk_size must be positive, got %d", c.Search.ChunkSize)
	}
	if c.Search.MaxResults < 0 {
		return fmt.Errorf("search.max_results must be non-negative, got %d", c.Search.MaxResults)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}
	switch c.Embeddings.Provider {
	case "ollama", "static":
	default:
		return fmt.Errorf("embeddings.provider must be \"ollama\" or \"static\", got %q", c.Embeddings.Provider)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive, got %d", c.Cache.MaxEntries)
	}
	return nil
}

// DataDir returns the index data directory for a corpus root.
func DataDir(root string) string {
	return filepath.Join(root, DataDirName)
}

// IndexPath returns the SQLite index file path for a corpus root.
func IndexPath(root string) string {
	return filepath.Join(DataDir(root), "index.db")
}

// LockPath returns the pipeline lock file path for a corpus root.
func LockPath(root string) string {
	return filepath.Join(DataDir(root), "index.lock")
}

// LogPath returns the log file path for a corpus root.
func LogPath(root string) string {
	return filepath.Join(DataDir(root), "scrivano.log")
}
