package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the ActionChat broker.
type Config struct {
	Port      int
	Version   string
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
	Model     ModelConfig
	Embedding EmbeddingConfig
	Executor  ExecutorConfig
}

type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Empty = in-memory store.
	URL            string
	MaxConnections int
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type AuthConfig struct {
	// APIKeys maps static API keys to "orgId:userId" identities (comma
	// separated "key=org:user" pairs). Used for service callers.
	APIKeys string
	// JWTSecret validates user bearer tokens issued by the auth provider.
	JWTSecret string
}

type ModelConfig struct {
	Provider string // "openai"
	APIKey   string
	BaseURL  string // optional proxy endpoint
	Model    string // default model when the agent doesn't pin one
	MaxSteps int    // model ↔ tool loop ceiling per turn
}

type EmbeddingConfig struct {
	Provider string // "openai" (1536d) or "ollama" (768d)
	APIKey   string
	Endpoint string
	Model    string
}

type ExecutorConfig struct {
	// UpstreamTimeout bounds a single upstream HTTP/MCP dispatch.
	UpstreamTimeout time.Duration
	// TurnDeadline bounds a whole chat turn including the model stream.
	TurnDeadline time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("ACTIONCHAT_PORT", 8080),
		Version: envStr("ACTIONCHAT_VERSION", "0.4.0"),
		Database: DatabaseConfig{
			URL:            envStr("DATABASE_URL", ""),
			MaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 25),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "actionchat-broker"),
		},
		Auth: AuthConfig{
			APIKeys:   envStr("ACTIONCHAT_API_KEYS", ""),
			JWTSecret: envStr("ACTIONCHAT_JWT_SECRET", ""),
		},
		Model: ModelConfig{
			Provider: envStr("ACTIONCHAT_MODEL_PROVIDER", "openai"),
			APIKey:   envStr("OPENAI_API_KEY", ""),
			BaseURL:  envStr("ACTIONCHAT_MODEL_BASE_URL", ""),
			Model:    envStr("ACTIONCHAT_MODEL", "gpt-4o"),
			MaxSteps: envInt("ACTIONCHAT_MAX_STEPS", 8),
		},
		Embedding: EmbeddingConfig{
			Provider: envStr("ACTIONCHAT_EMBEDDING_PROVIDER", "openai"),
			APIKey:   envStr("OPENAI_API_KEY", ""),
			Endpoint: envStr("ACTIONCHAT_EMBEDDING_ENDPOINT", ""),
			Model:    envStr("ACTIONCHAT_EMBEDDING_MODEL", ""),
		},
		Executor: ExecutorConfig{
			UpstreamTimeout: envDuration("ACTIONCHAT_UPSTREAM_TIMEOUT", 30*time.Second),
			TurnDeadline:    envDuration("ACTIONCHAT_TURN_DEADLINE", 5*time.Minute),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
