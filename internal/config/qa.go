package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AnthropicPromptCacheConfig controls prompt-cache scoping for the Anthropic
// client. Enabled with no scope selected defaults to caching the system
// prompt and tool schema (see anthropic.New).
type AnthropicPromptCacheConfig struct {
	Enabled       bool `yaml:"enabled"`
	CacheSystem   bool `yaml:"cache_system"`
	CacheTools    bool `yaml:"cache_tools"`
	CacheMessages bool `yaml:"cache_messages"`
}

// AnthropicConfig configures the Anthropic chat provider.
type AnthropicConfig struct {
	APIKey      string                     `yaml:"api_key"`
	Model       string                     `yaml:"model"`
	BaseURL     string                     `yaml:"base_url"`
	ExtraParams map[string]any             `yaml:"extra_params"`
	PromptCache AnthropicPromptCacheConfig `yaml:"prompt_cache"`
}

// OpenAIConfig configures the OpenAI chat/embeddings provider.
type OpenAIConfig struct {
	APIKey         string         `yaml:"api_key"`
	Model          string         `yaml:"model"`
	EmbeddingModel string         `yaml:"embedding_model"`
	BaseURL        string         `yaml:"base_url"`
	API            string         `yaml:"api"`
	ExtraParams    map[string]any `yaml:"extra_params"`
	LogPayloads    bool           `yaml:"log_payloads"`
}

// RedisConfig configures the conversation cache's Redis backend. A zero
// value with Enabled=false falls back to an in-process cache.
type RedisConfig struct {
	Enabled               bool   `yaml:"enabled"`
	Addr                  string `yaml:"addr"`
	Password              string `yaml:"password"`
	DB                    int    `yaml:"db"`
	TLSInsecureSkipVerify bool   `yaml:"tls_insecure_skip_verify"`
}

// QdrantConfig configures the vector store backend.
type QdrantConfig struct {
	DSN        string `yaml:"dsn"`
	Collection string `yaml:"collection"`
	Dimensions int    `yaml:"dimensions"`
	Metric     string `yaml:"metric"`
}

// PostgresConfig configures the relational durable store.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// ObsConfig configures the OTLP tracing/metrics exporters observability.InitOTel
// wires up. Left empty (OTLP == "") disables export rather than failing
// startup, so operators can run the service without a collector present.
type ObsConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
	OTLP           string `yaml:"otlp_endpoint"`
}

// ClickHouseAnalyticsConfig configures the analytics durable sink. This is
// distinct from the teacher's metrics-query ClickHouseConfig (used to read
// OTel metric tables); this one is for writing query analytics rows.
type ClickHouseAnalyticsConfig struct {
	Enabled        bool   `yaml:"enabled"`
	DSN            string `yaml:"dsn"`
	Database       string `yaml:"database"`
	AnalyticsTable string `yaml:"analytics_table"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// AgentConfig holds the tunables spec.md enumerates as external
// configuration for the Q&A agent.
type AgentConfig struct {
	MaxSearchResults          int     `yaml:"max_search_results"`
	MinConfidenceScore        float64 `yaml:"min_confidence_score"`
	CacheTTLSeconds           int     `yaml:"cache_ttl_seconds"`
	MaxCachedTurns            int     `yaml:"max_cached_turns"`
	SummaryInterval           int     `yaml:"summary_interval"`
	SessionIdleTimeoutSeconds int     `yaml:"session_idle_timeout_seconds"`
	SessionHardCapSeconds     int     `yaml:"session_hard_cap_seconds"`
	RateLimitPerMinute        int     `yaml:"rate_limit_per_minute"`
	RateLimitBurst            int     `yaml:"rate_limit_burst"`
}

// QAConfig is the root configuration object for the Q&A agent service. It is
// independent of the legacy manifold Config above (a different product
// surface) and is loaded from its own YAML file plus environment overrides,
// following the same godotenv-then-yaml.v3 convention the rest of this
// package uses for its own settings.
type QAConfig struct {
	Server     ServiceConfig             `yaml:"server"`
	Redis      RedisConfig               `yaml:"redis"`
	Qdrant     QdrantConfig              `yaml:"qdrant"`
	Postgres   PostgresConfig            `yaml:"postgres"`
	ClickHouse ClickHouseAnalyticsConfig `yaml:"clickhouse"`
	Anthropic  AnthropicConfig           `yaml:"anthropic"`
	OpenAI     OpenAIConfig              `yaml:"openai"`
	Agent      AgentConfig               `yaml:"agent"`
	Obs        ObsConfig                 `yaml:"observability"`
	PromptsDir string                    `yaml:"prompts_dir"`
}

// LoadQAConfig reads a YAML file at path (if it exists), layers in a .env
// file from the working directory when present, then applies a small set of
// environment-variable overrides for secrets that should never live in a
// committed YAML file. Defaults are filled in for anything left unset.
func LoadQAConfig(path string) (*QAConfig, error) {
	_ = godotenv.Load()

	cfg := QAConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read qa config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse qa config %s: %w", path, err)
		}
	}

	applyQAEnvOverrides(&cfg)
	applyQADefaults(&cfg)
	return &cfg, nil
}

func applyQAEnvOverrides(cfg *QAConfig) {
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
		cfg.Anthropic.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		cfg.Redis.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_PASSWORD")); v != "" {
		cfg.Redis.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("QDRANT_DSN")); v != "" {
		cfg.Qdrant.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("POSTGRES_DSN")); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("CLICKHOUSE_DSN")); v != "" {
		cfg.ClickHouse.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("QA_SERVER_PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
}

func applyQADefaults(cfg *QAConfig) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Qdrant.Collection == "" {
		cfg.Qdrant.Collection = "kb_chunks"
	}
	if cfg.Qdrant.Dimensions == 0 {
		cfg.Qdrant.Dimensions = 1536
	}
	if cfg.Qdrant.Metric == "" {
		cfg.Qdrant.Metric = "cosine"
	}
	if cfg.Anthropic.Model == "" {
		cfg.Anthropic.Model = "claude-3-7-sonnet-latest"
	}
	if cfg.OpenAI.EmbeddingModel == "" {
		cfg.OpenAI.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Agent.MaxSearchResults <= 0 {
		cfg.Agent.MaxSearchResults = 3
	}
	if cfg.Agent.MinConfidenceScore <= 0 {
		cfg.Agent.MinConfidenceScore = 0.7
	}
	if cfg.Agent.CacheTTLSeconds <= 0 {
		cfg.Agent.CacheTTLSeconds = 1800
	}
	if cfg.Agent.MaxCachedTurns <= 0 {
		cfg.Agent.MaxCachedTurns = 20
	}
	if cfg.Agent.SummaryInterval <= 0 {
		cfg.Agent.SummaryInterval = 5
	}
	if cfg.Agent.SessionIdleTimeoutSeconds <= 0 {
		cfg.Agent.SessionIdleTimeoutSeconds = 30 * 60
	}
	if cfg.Agent.SessionHardCapSeconds <= 0 {
		cfg.Agent.SessionHardCapSeconds = 4 * 60 * 60
	}
	if cfg.Agent.RateLimitPerMinute <= 0 {
		cfg.Agent.RateLimitPerMinute = 60
	}
	if cfg.Agent.RateLimitBurst <= 0 {
		cfg.Agent.RateLimitBurst = 10
	}
	if cfg.PromptsDir == "" {
		cfg.PromptsDir = "config/prompts"
	}
	if cfg.Obs.ServiceName == "" {
		cfg.Obs.ServiceName = "qaservice"
	}
	if cfg.Obs.ServiceVersion == "" {
		cfg.Obs.ServiceVersion = "0.1.0"
	}
	if cfg.Obs.Environment == "" {
		cfg.Obs.Environment = "production"
	}
}
