package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
	kDuration
)

type keySpec struct {
	env    string
	typ    keyType
	secret bool
	apply  func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		env: "PROCDEX_SERVER_PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		env: "PROCDEX_API_TOKEN", typ: kString, secret: true,
		apply: func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
	},
	{
		env: "PROCDEX_OPENAI_API_KEY", typ: kString, secret: true,
		apply: func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
	},
	{
		env: "PROCDEX_OPENAI_CHAT_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.OpenAI.ChatModel = v.(string) },
	},
	{
		env: "PROCDEX_OPENAI_EMBED_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.OpenAI.EmbedModel = v.(string) },
	},
	{
		env: "PROCDEX_OPENAI_EMBED_DIMENSION", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.OpenAI.EmbedDimension = v.(int) },
	},
	{
		env: "PROCDEX_STORAGE_DATA_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		env: "PROCDEX_RETRIEVAL_LIMIT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Retrieval.Limit = v.(int) },
	},
	{
		env: "PROCDEX_RETRIEVAL_THRESHOLD", typ: kFloat,
		apply: func(cfg *Config, v any) { cfg.Retrieval.Threshold = v.(float64) },
	},
	{
		env: "PROCDEX_RETRIEVAL_LEXICAL_SCORE", typ: kFloat,
		apply: func(cfg *Config, v any) { cfg.Retrieval.LexicalScore = v.(float64) },
	},
	{
		env: "PROCDEX_CHAT_MAX_MESSAGE_LEN", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Chat.MaxMessageLen = v.(int) },
	},
	{
		env: "PROCDEX_CHAT_MAX_HISTORY_TURNS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Chat.MaxHistoryTurns = v.(int) },
	},
	{
		env: "PROCDEX_CHAT_MAX_TOKENS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Chat.MaxTokens = v.(int) },
	},
	{
		env: "PROCDEX_INGEST_EMBED_DELAY", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.Ingest.EmbedDelay = v.(time.Duration) },
	},
	{
		env: "PROCDEX_LOG_LEVEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
