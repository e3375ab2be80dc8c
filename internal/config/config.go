package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	OpenAI    OpenAIConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Chat      ChatConfig
	Ingest    IngestConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type OpenAIConfig struct {
	APIKey         string
	ChatModel      string
	EmbedModel     string
	EmbedDimension int
}

type StorageConfig struct {
	DataDir string
}

type RetrievalConfig struct {
	Limit     int
	Threshold float64
	// LexicalScore is the fixed similarity assigned to lexical fallback
	// matches. Lexical search has no ranked score, so the value is a
	// sentinel, not a measurement.
	LexicalScore float64
}

type ChatConfig struct {
	MaxMessageLen   int
	MaxHistoryTurns int
	MaxTokens       int
}

type IngestConfig struct {
	// EmbedDelay paces sequential embedding calls during batch
	// population to respect upstream rate limits.
	EmbedDelay time.Duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		OpenAI: OpenAIConfig{
			ChatModel:      "gpt-4o-mini",
			EmbedModel:     "text-embedding-3-small",
			EmbedDimension: 1536,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Retrieval: RetrievalConfig{
			Limit:        8,
			Threshold:    0.65,
			LexicalScore: 0.75,
		},
		Chat: ChatConfig{
			MaxMessageLen:   2000,
			MaxHistoryTurns: 10,
			MaxTokens:       1024,
		},
		Ingest: IngestConfig{
			EmbedDelay: 200 * time.Millisecond,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "procdex")
	}
	return "./data"
}

// Load resolves configuration once: defaults, then an optional .env file,
// then PROCDEX_* environment variables. The resulting struct is injected
// into component constructors; nothing reads the environment afterwards.
//
// A missing OpenAI API key is not a load error. The service can run in
// lexical-only mode without one, and the LLM client reports the missing
// key when it is actually needed.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("loading env file %s: %w", envFile, err)
			}
		}
	}

	cfg := defaults()
	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	if cfg.Retrieval.Threshold < 0 || cfg.Retrieval.Threshold > 1 {
		return fmt.Errorf("retrieval threshold must be in [0,1], got %g", cfg.Retrieval.Threshold)
	}
	if cfg.Retrieval.Limit <= 0 {
		return fmt.Errorf("retrieval limit must be positive, got %d", cfg.Retrieval.Limit)
	}
	if cfg.Ingest.EmbedDelay < 0 {
		return fmt.Errorf("embed delay must not be negative, got %s", cfg.Ingest.EmbedDelay)
	}
	return nil
}
