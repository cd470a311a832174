package config

import "time"

// Default returns the built-in configuration used when no file or environment
// override is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8000,
			MetricsPort:        9090,
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       0, // streaming responses manage their own deadline
			ShutdownTimeout:    30 * time.Second,
			CORSAllowedOrigins: []string{"*"},
		},
		LLM: LLMConfig{
			Provider:       "openai",
			SmallModel:     "gpt-4o-mini",
			LargeModel:     "gpt-4o",
			EmbeddingModel: "text-embedding-3-small",
			ImageProvider:  "nano-banana",
			OpenAIBaseURL:  "https://api.openai.com/v1",
			OllamaBaseURL:  "http://localhost:11434",
			Timeout:        120 * time.Second,
		},
		Retrieval: RetrievalConfig{
			DocumentsDir:   "documents",
			DefaultCorpus:  "legal",
			SnippetBudget:  2000,
			EmbedBatchSize: 16,
			EmbedRateLimit: 0,
		},
		Store: StoreConfig{
			CacheDir: ".",
		},
		Engine: EngineConfig{
			MaxParallelAgents: 1,
			RequestTimeout:    300 * time.Second,
			EventBuffer:       64,
		},
		Redis: RedisConfig{
			TTL: 15 * time.Minute,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "graphflow",
			SampleRate:  1.0,
		},
	}
}
