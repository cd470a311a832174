// Package config loads the process-wide configuration for the workflow engine.
//
// Configuration priority: defaults → YAML file → environment variables.
// All runtime state is read-only after startup; changing providers or model
// identifiers requires a restart.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration tree.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Store     StoreConfig     `yaml:"store"`
	Engine    EngineConfig    `yaml:"engine"`
	Redis     RedisConfig     `yaml:"redis"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	MetricsPort     int           `yaml:"metrics_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// CORSAllowedOrigins lists origins allowed to call the API.
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// LLMConfig selects the chat/embedding provider and per-class model identifiers.
type LLMConfig struct {
	// Provider is one of "openai", "anthropic", "ollama".
	Provider string `yaml:"provider"`
	// SmallModel and LargeModel are the per-class model identifiers.
	SmallModel     string `yaml:"small_model"`
	LargeModel     string `yaml:"large_model"`
	EmbeddingModel string `yaml:"embedding_model"`
	// ImageProvider is one of "dalle", "gemini", "nano-banana".
	ImageProvider string `yaml:"image_provider"`

	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OllamaBaseURL   string `yaml:"ollama_base_url"`
	GoogleAPIKey    string `yaml:"google_api_key"`

	Timeout time.Duration `yaml:"timeout"`
}

// RetrievalConfig tunes the semantic retriever.
type RetrievalConfig struct {
	// DocumentsDir is the root directory holding one subdirectory per corpus.
	DocumentsDir string `yaml:"documents_dir"`
	// DefaultCorpus is the corpus used when a request names none.
	DefaultCorpus string `yaml:"default_corpus"`
	// SnippetBudget caps the number of characters materialised per hit.
	SnippetBudget int `yaml:"snippet_budget"`
	// EmbedBatchSize caps how many documents are embedded per provider call.
	EmbedBatchSize int `yaml:"embed_batch_size"`
	// EmbedRateLimit paces embedding batches (batches per second, 0 = unpaced).
	EmbedRateLimit float64 `yaml:"embed_rate_limit"`
}

// StoreConfig selects the embedding store backend.
type StoreConfig struct {
	// DatabaseURL selects the SQL backend when non-empty; a postgres:// or
	// sqlite:// DSN. Empty means the file backend under CacheDir.
	DatabaseURL string `yaml:"database_url"`
	// CacheDir holds one embedding cache file per corpus for the file backend.
	CacheDir string `yaml:"cache_dir"`
}

// EngineConfig tunes workflow execution.
type EngineConfig struct {
	// MaxParallelAgents bounds concurrent node evaluation. 1 gives fully
	// deterministic replay; values up to 8 allow disjoint branches to overlap.
	MaxParallelAgents int `yaml:"max_parallel_agents"`
	// RequestTimeout is the wall-clock budget for one run.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// EventBuffer is the bounded per-run event queue size.
	EventBuffer int `yaml:"event_buffer"`
}

// RedisConfig enables the optional chat-completion cache when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level            string   `yaml:"level"`
	Format           string   `yaml:"format"`
	OutputPaths      []string `yaml:"output_paths"`
	EnableCaller     bool     `yaml:"enable_caller"`
	EnableStacktrace bool     `yaml:"enable_stacktrace"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SampleRate   float64 `yaml:"sample_rate"`
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	return cfg, nil
}

// applyEnv overrides configuration from the recognised environment variables.
func (c *Config) applyEnv() {
	setString(&c.LLM.Provider, "LLM_PROVIDER", strings.ToLower)
	setString(&c.LLM.SmallModel, "SMALL_MODEL", nil)
	setString(&c.LLM.LargeModel, "LARGE_MODEL", nil)
	setString(&c.LLM.EmbeddingModel, "EMBEDDING_MODEL", nil)
	setString(&c.LLM.ImageProvider, "IMAGE_PROVIDER", strings.ToLower)
	setString(&c.LLM.OpenAIAPIKey, "OPENAI_API_KEY", nil)
	setString(&c.LLM.OpenAIBaseURL, "OPENAI_BASE_URL", nil)
	setString(&c.LLM.AnthropicAPIKey, "ANTHROPIC_API_KEY", nil)
	setString(&c.LLM.OllamaBaseURL, "OLLAMA_BASE_URL", nil)
	setString(&c.LLM.GoogleAPIKey, "GOOGLE_API_KEY", nil)

	setString(&c.Server.Host, "HOST", nil)
	setInt(&c.Server.Port, "PORT")
	setInt(&c.Server.MetricsPort, "METRICS_PORT")

	setString(&c.Store.DatabaseURL, "DATABASE_URL", nil)
	setString(&c.Retrieval.DocumentsDir, "DOCUMENTS_DIR", nil)
	setString(&c.Retrieval.DefaultCorpus, "KNOWLEDGE_BASE", nil)

	setString(&c.Redis.Addr, "REDIS_ADDR", nil)
	setString(&c.Redis.Password, "REDIS_PASSWORD", nil)

	setString(&c.Log.Level, "LOG_LEVEL", strings.ToLower)
	setInt(&c.Engine.MaxParallelAgents, "MAX_PARALLEL_AGENTS")
}

// Validate checks that the configuration is usable. Missing credentials for
// the selected provider fail startup with a descriptive error.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai":
		if c.LLM.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
	case "anthropic":
		if c.LLM.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when LLM_PROVIDER=anthropic")
		}
	case "ollama":
		// Local provider, no credentials.
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q (supported: openai, anthropic, ollama)", c.LLM.Provider)
	}

	switch c.LLM.ImageProvider {
	case "", "dalle", "gemini", "nano-banana":
	default:
		return fmt.Errorf("unsupported IMAGE_PROVIDER %q (supported: dalle, gemini, nano-banana)", c.LLM.ImageProvider)
	}

	if c.Engine.MaxParallelAgents < 1 || c.Engine.MaxParallelAgents > 8 {
		return fmt.Errorf("max_parallel_agents must be between 1 and 8, got %d", c.Engine.MaxParallelAgents)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	return nil
}

func setString(dst *string, key string, transform func(string) string) {
	if v := os.Getenv(key); v != "" {
		if transform != nil {
			v = transform(v)
		}
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
