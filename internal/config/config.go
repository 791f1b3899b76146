// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Run store settings.
	RunTTL           time.Duration // Idle time before a run is evicted.
	RunSweepInterval time.Duration

	// Pipeline settings.
	ResearchEnabled   bool // Kill-switch for the optional research stage.
	FanoutLimit       int  // Max concurrent sub-tasks per stage fan-out.
	SearchGlobalLimit int  // Max concurrent search-provider calls across all runs.

	// Search provider settings.
	ExaAPIKey  string
	ExaBaseURL string

	// LLM settings.
	LLMProvider     string // "openai" or "anthropic"
	LLMAPIKey       string
	LLMBaseURL      string // OpenAI-compatible gateways (e.g. DeepSeek) set this.
	LLMModel        string
	AnthropicAPIKey string

	// Embedding settings. Chat gateways rarely serve embeddings, so the
	// embedder has its own endpoint. An empty key disables embedding-based
	// match scoring and falls back to keyword scoring.
	EmbedAPIKey  string
	EmbedBaseURL string
	EmbedModel   string

	// Geocoder settings. An empty key disables city normalization.
	GoogleMapsKey   string
	GeocoderBaseURL string

	// Resume intake settings.
	ResumeTTL           time.Duration
	ResumeMaxBytes      int64
	ResumeJWTPrivateKey string // Path to Ed25519 private key PEM file.
	ResumeJWTPublicKey  string // Path to Ed25519 public key PEM file.

	// Role profile settings.
	RolesFile string // Optional YAML override; empty uses the embedded profiles.

	// Saved items settings.
	SavedDBPath string

	// Rate limit settings.
	RateLimitRPS   float64
	RateLimitBurst int

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("TEGAMI_PORT", 8787),
		ReadTimeout:         envDuration("TEGAMI_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("TEGAMI_WRITE_TIMEOUT", 30*time.Second),
		RunTTL:              envDuration("TEGAMI_RUN_TTL", 24*time.Hour),
		RunSweepInterval:    envDuration("TEGAMI_RUN_SWEEP_INTERVAL", 10*time.Minute),
		ResearchEnabled:     envBool("TEGAMI_RESEARCH_ENABLED", true),
		FanoutLimit:         envInt("TEGAMI_FANOUT_LIMIT", 4),
		SearchGlobalLimit:   envInt("TEGAMI_SEARCH_GLOBAL_LIMIT", 8),
		ExaAPIKey:           envStr("TEGAMI_EXA_API_KEY", ""),
		ExaBaseURL:          envStr("TEGAMI_EXA_BASE_URL", "https://api.exa.ai"),
		LLMProvider:         envStr("TEGAMI_LLM_PROVIDER", "openai"),
		LLMAPIKey:           envStr("TEGAMI_LLM_API_KEY", ""),
		LLMBaseURL:          envStr("TEGAMI_LLM_BASE_URL", "https://api.deepseek.com"),
		LLMModel:            envStr("TEGAMI_LLM_MODEL", "deepseek-chat"),
		AnthropicAPIKey:     envStr("TEGAMI_ANTHROPIC_API_KEY", ""),
		EmbedAPIKey:         envStr("TEGAMI_EMBED_API_KEY", ""),
		EmbedBaseURL:        envStr("TEGAMI_EMBED_BASE_URL", "https://api.openai.com/v1"),
		EmbedModel:          envStr("TEGAMI_EMBED_MODEL", "text-embedding-3-small"),
		GoogleMapsKey:       envStr("TEGAMI_GOOGLE_MAPS_KEY", ""),
		GeocoderBaseURL:     envStr("TEGAMI_GEOCODER_BASE_URL", "https://maps.googleapis.com"),
		ResumeTTL:           envDuration("TEGAMI_RESUME_TTL", 2*time.Hour),
		ResumeMaxBytes:      int64(envInt("TEGAMI_RESUME_MAX_BYTES", 10*1024*1024)),
		ResumeJWTPrivateKey: envStr("TEGAMI_RESUME_JWT_PRIVATE_KEY", ""),
		ResumeJWTPublicKey:  envStr("TEGAMI_RESUME_JWT_PUBLIC_KEY", ""),
		RolesFile:           envStr("TEGAMI_ROLES_FILE", ""),
		SavedDBPath:         envStr("TEGAMI_SAVED_DB_PATH", "tegami.db"),
		RateLimitRPS:        envFloat("TEGAMI_RATE_LIMIT_RPS", 1),
		RateLimitBurst:      envInt("TEGAMI_RATE_LIMIT_BURST", 5),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "tegami"),
		LogLevel:            envStr("TEGAMI_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("TEGAMI_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that configuration values are coherent.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: TEGAMI_PORT must be a valid TCP port")
	}
	if c.RunTTL <= 0 {
		return fmt.Errorf("config: TEGAMI_RUN_TTL must be positive")
	}
	if c.RunSweepInterval <= 0 {
		return fmt.Errorf("config: TEGAMI_RUN_SWEEP_INTERVAL must be positive")
	}
	if c.FanoutLimit <= 0 {
		return fmt.Errorf("config: TEGAMI_FANOUT_LIMIT must be positive")
	}
	if c.SearchGlobalLimit <= 0 {
		return fmt.Errorf("config: TEGAMI_SEARCH_GLOBAL_LIMIT must be positive")
	}
	switch c.LLMProvider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("config: TEGAMI_LLM_PROVIDER must be \"openai\" or \"anthropic\"")
	}
	if c.ResumeMaxBytes <= 0 {
		return fmt.Errorf("config: TEGAMI_RESUME_MAX_BYTES must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: TEGAMI_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
