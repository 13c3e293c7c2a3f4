// Package config loads recall settings from defaults, an optional YAML file,
// a .env file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Built-in defaults.
const (
	// InMemory as storage.vector_dir keeps the vector index in memory.
	InMemory = ":memory:"

	DefaultAddr             = ":8000"
	DefaultDBPath           = "data/recall.db"
	DefaultVectorSubdir     = "vectors"
	DefaultLLMProvider      = "ollama"
	DefaultEmbedProvider    = "ollama"
	DefaultSummaryThreshold = 2000
	DefaultRetainTurns      = 4
	DefaultLongTermK        = 1
	DefaultPromptBudget     = 4000
	DefaultChunkK           = 3
	DefaultChunkSize        = 1000
	DefaultChunkOverlap     = 150
	DefaultCleanupWorkers   = 4
	DefaultBufferMaxCost    = 64 << 20
)

// Providers accepted for generation and embeddings.
var (
	LLMProviders   = []string{"ollama", "claude", "mock"}
	EmbedProviders = []string{"ollama", "openai", "mock"}
)

// Config is the full recall configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Memory    MemoryConfig    `yaml:"memory"`
	Prompt    PromptConfig    `yaml:"prompt"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Session   SessionConfig   `yaml:"session"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// MaxUploadBytes caps multipart uploads. Zero means no limit.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// StorageConfig locates the sqlite database and the vector index.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
	// VectorDir persists the vector index. Empty places it in a "vectors"
	// directory next to DBPath; InMemory keeps it in memory.
	VectorDir       string `yaml:"vector_dir"`
	CompressVectors bool   `yaml:"compress_vectors"`
}

// VectorPath returns the directory the vector index persists to, or "" when
// it lives in memory. An in-memory database gets an in-memory index.
func (s StorageConfig) VectorPath() string {
	switch {
	case s.VectorDir == InMemory:
		return ""
	case s.VectorDir != "":
		return s.VectorDir
	case s.DBPath == "" || s.DBPath == InMemory:
		return ""
	}
	return filepath.Join(filepath.Dir(s.DBPath), DefaultVectorSubdir)
}

// MemoryConfig tunes short-term buffering and summarization.
type MemoryConfig struct {
	SummaryThreshold int           `yaml:"summary_threshold"`
	RetainTurns      int           `yaml:"retain_turns"`
	LongTermK        int           `yaml:"long_term_k"`
	BufferMaxCost    int64         `yaml:"buffer_max_cost"`
	BufferTTL        time.Duration `yaml:"buffer_ttl"`
}

// PromptConfig sets the prompt budget and chunk retrieval depth.
type PromptConfig struct {
	Budget int `yaml:"budget"`
	ChunkK int `yaml:"chunk_k"`
}

// LLMConfig selects the generation provider.
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	MaxTokens int64  `yaml:"max_tokens"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
}

// SessionConfig bounds background session cleanup.
type SessionConfig struct {
	CleanupConcurrency int64 `yaml:"cleanup_concurrency"`
}

// IngestConfig sizes document chunks.
type IngestConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// LogConfig sets the log level and format (text or json).
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Addr: DefaultAddr},
		Storage: StorageConfig{DBPath: DefaultDBPath},
		Memory: MemoryConfig{
			SummaryThreshold: DefaultSummaryThreshold,
			RetainTurns:      DefaultRetainTurns,
			LongTermK:        DefaultLongTermK,
			BufferMaxCost:    DefaultBufferMaxCost,
		},
		Prompt:    PromptConfig{Budget: DefaultPromptBudget, ChunkK: DefaultChunkK},
		LLM:       LLMConfig{Provider: DefaultLLMProvider},
		Embedding: EmbeddingConfig{Provider: DefaultEmbedProvider},
		Session:   SessionConfig{CleanupConcurrency: DefaultCleanupWorkers},
		Ingest:    IngestConfig{ChunkSize: DefaultChunkSize, ChunkOverlap: DefaultChunkOverlap},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration. An empty path skips the YAML file; a named
// file must exist. envFiles default to ".env" and are optional; they never
// override variables already set in the environment.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("RECALL_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("RECALL_DB"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("RECALL_VECTOR_DIR"); v != "" {
		c.Storage.VectorDir = v
	}
	if v := os.Getenv("RECALL_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("RECALL_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("RECALL_EMBED_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("RECALL_EMBED_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.Embedding.APIKey == "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv("OLLAMA_URL"); v != "" {
		if c.LLM.Provider == "ollama" && c.LLM.BaseURL == "" {
			c.LLM.BaseURL = v
		}
		if c.Embedding.Provider == "ollama" && c.Embedding.BaseURL == "" {
			c.Embedding.BaseURL = v + "/api"
		}
	}
	if v := os.Getenv("RECALL_SUMMARY_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RECALL_SUMMARY_THRESHOLD: %w", err)
		}
		c.Memory.SummaryThreshold = n
	}
	if v := os.Getenv("RECALL_PROMPT_BUDGET"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RECALL_PROMPT_BUDGET: %w", err)
		}
		c.Prompt.Budget = n
	}
	if v := os.Getenv("RECALL_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Server.Addr == "":
		return errors.New("server.addr is required")
	case c.Storage.DBPath == "":
		return errors.New("storage.db_path is required")
	case c.Memory.SummaryThreshold <= 0:
		return fmt.Errorf("memory.summary_threshold must be positive, got %d", c.Memory.SummaryThreshold)
	case c.Memory.RetainTurns <= 0:
		return fmt.Errorf("memory.retain_turns must be positive, got %d", c.Memory.RetainTurns)
	case c.Memory.LongTermK <= 0:
		return fmt.Errorf("memory.long_term_k must be positive, got %d", c.Memory.LongTermK)
	case c.Prompt.Budget <= 0:
		return fmt.Errorf("prompt.budget must be positive, got %d", c.Prompt.Budget)
	case c.Prompt.ChunkK <= 0:
		return fmt.Errorf("prompt.chunk_k must be positive, got %d", c.Prompt.ChunkK)
	case c.Ingest.ChunkSize <= 0:
		return fmt.Errorf("ingest.chunk_size must be positive, got %d", c.Ingest.ChunkSize)
	case c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize:
		return fmt.Errorf("ingest.chunk_overlap must be in [0, chunk_size), got %d", c.Ingest.ChunkOverlap)
	case !contains(LLMProviders, c.LLM.Provider):
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	case !contains(EmbedProviders, c.Embedding.Provider):
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	case c.LLM.Provider == "claude" && c.LLM.APIKey == "":
		return errors.New("llm provider claude needs ANTHROPIC_API_KEY")
	case c.Embedding.Provider == "openai" && c.Embedding.APIKey == "":
		return errors.New("embedding provider openai needs OPENAI_API_KEY")
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
