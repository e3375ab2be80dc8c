package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDefaults verifies all default values when no environment is set.
func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4200 {
		t.Errorf("Server.Port = %d, want 4200", cfg.Server.Port)
	}
	if cfg.OpenAI.ChatModel != "gpt-4o-mini" {
		t.Errorf("OpenAI.ChatModel = %q, want %q", cfg.OpenAI.ChatModel, "gpt-4o-mini")
	}
	if cfg.OpenAI.EmbedModel != "text-embedding-3-small" {
		t.Errorf("OpenAI.EmbedModel = %q, want %q", cfg.OpenAI.EmbedModel, "text-embedding-3-small")
	}
	if cfg.OpenAI.EmbedDimension != 1536 {
		t.Errorf("OpenAI.EmbedDimension = %d, want 1536", cfg.OpenAI.EmbedDimension)
	}
	if cfg.Retrieval.Limit != 8 {
		t.Errorf("Retrieval.Limit = %d, want 8", cfg.Retrieval.Limit)
	}
	if cfg.Retrieval.Threshold != 0.65 {
		t.Errorf("Retrieval.Threshold = %g, want 0.65", cfg.Retrieval.Threshold)
	}
	if cfg.Retrieval.LexicalScore != 0.75 {
		t.Errorf("Retrieval.LexicalScore = %g, want 0.75", cfg.Retrieval.LexicalScore)
	}
	if cfg.Chat.MaxMessageLen != 2000 {
		t.Errorf("Chat.MaxMessageLen = %d, want 2000", cfg.Chat.MaxMessageLen)
	}
	if cfg.Chat.MaxHistoryTurns != 10 {
		t.Errorf("Chat.MaxHistoryTurns = %d, want 10", cfg.Chat.MaxHistoryTurns)
	}
	if cfg.Ingest.EmbedDelay != 200*time.Millisecond {
		t.Errorf("Ingest.EmbedDelay = %s, want 200ms", cfg.Ingest.EmbedDelay)
	}
}

// TestMissingAPIKeyIsNotFatal verifies the service loads without an OpenAI key.
func TestMissingAPIKeyIsNotFatal(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OpenAI.APIKey != "" {
		t.Errorf("OpenAI.APIKey = %q, want empty", cfg.OpenAI.APIKey)
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROCDEX_SERVER_PORT", "9999")
	t.Setenv("PROCDEX_OPENAI_API_KEY", "sk-test")
	t.Setenv("PROCDEX_RETRIEVAL_THRESHOLD", "0.5")
	t.Setenv("PROCDEX_INGEST_EMBED_DELAY", "50ms")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.OpenAI.APIKey != "sk-test" {
		t.Errorf("OpenAI.APIKey = %q, want %q", cfg.OpenAI.APIKey, "sk-test")
	}
	if cfg.Retrieval.Threshold != 0.5 {
		t.Errorf("Retrieval.Threshold = %g, want 0.5", cfg.Retrieval.Threshold)
	}
	if cfg.Ingest.EmbedDelay != 50*time.Millisecond {
		t.Errorf("Ingest.EmbedDelay = %s, want 50ms", cfg.Ingest.EmbedDelay)
	}
}

// TestEnvOverrideInvalidValue verifies unparseable values fall back to defaults.
func TestEnvOverrideInvalidValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROCDEX_SERVER_PORT", "not-a-port")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4200 {
		t.Errorf("Server.Port = %d, want default 4200", cfg.Server.Port)
	}
}

func TestEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "PROCDEX_OPENAI_CHAT_MODEL=gpt-4o\nPROCDEX_RETRIEVAL_LIMIT=3\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	// godotenv sets process env; restore after the test.
	t.Setenv("PROCDEX_OPENAI_CHAT_MODEL", "")
	t.Setenv("PROCDEX_RETRIEVAL_LIMIT", "")
	os.Unsetenv("PROCDEX_OPENAI_CHAT_MODEL")
	os.Unsetenv("PROCDEX_RETRIEVAL_LIMIT")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OpenAI.ChatModel != "gpt-4o" {
		t.Errorf("OpenAI.ChatModel = %q, want %q", cfg.OpenAI.ChatModel, "gpt-4o")
	}
	if cfg.Retrieval.Limit != 3 {
		t.Errorf("Retrieval.Limit = %d, want 3", cfg.Retrieval.Limit)
	}
}

func TestValidateRejectsBadThreshold(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROCDEX_RETRIEVAL_THRESHOLD", "1.5")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for threshold > 1, got nil")
	}
}

// clearEnv unsets every PROCDEX_* variable the loader knows about so tests
// do not observe the host environment.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
		os.Unsetenv(s.env)
	}
}
