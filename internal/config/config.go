package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	DatabaseURL          string
	ServerPort           string
	RedisURL             string
	RabbitMQURL          string
	RabbitMQPrefetch     int
	WorkerConcurrency    int
	BlobBackend          string
	GCSBucket            string
	AuthJWTSecret        string
	CORSAllowedOrigins   []string
	EnableHSTS           bool
	APIRateLimit         string
	QueueRetention       time.Duration
	SweepInterval        time.Duration
	StaleProcessingAfter time.Duration
	WorkerDebugMode      bool
	ServerDebugMode      bool
	LogDevelopment       bool
	OTELEnabled          bool
	OTELEndpoint         string
	LLM                  LLMConfig
}

// LLMConfig is the backend configuration injected into the outbound client and the
// dispatcher. It is built once by Load and never mutated afterwards.
type LLMConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	Temperature  float64
	TTSURL       string
	TTSModel     string
	TTSVoice     string
	TextTimeout  time.Duration
	AudioTimeout time.Duration
}

const (
	DefaultBaseURL      = "https://api.openai.com/v1"
	DefaultModel        = "gpt-4o-mini"
	DefaultTTSModel     = "tts-1"
	DefaultTTSVoice     = "alloy"
	DefaultTextTimeout  = 90 * time.Second
	DefaultAudioTimeout = 120 * time.Second

	BlobBackendPostgres = "postgres"
	BlobBackendGCS      = "gcs"
)

// APIBase returns the base URL without a trailing slash or chat completions suffix
func (c LLMConfig) APIBase() string {
	base := strings.TrimRight(c.BaseURL, "/")
	return strings.TrimRight(strings.TrimSuffix(base, "/chat/completions"), "/")
}

// ChatURL returns the chat completions endpoint
func (c LLMConfig) ChatURL() string {
	return c.APIBase() + "/chat/completions"
}

// SpeechURL returns the text-to-speech endpoint. When none is configured it is derived
// from the chat base URL.
func (c LLMConfig) SpeechURL() string {
	if c.TTSURL != "" {
		return c.TTSURL
	}
	return c.APIBase() + "/audio/speech"
}

// Enabled reports whether enough is configured to call the backend
func (c LLMConfig) Enabled() bool {
	return c.APIKey != "" && c.BaseURL != ""
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		ServerPort:           getEnv("SERVER_PORT", "8080"),
		RedisURL:             getEnv("REDIS_URL", ""),
		RabbitMQURL:          getEnv("RABBITMQ_URL", ""),
		RabbitMQPrefetch:     getEnvInt("RABBITMQ_PREFETCH", 1),
		WorkerConcurrency:    getEnvInt("WORKER_CONCURRENCY", 2),
		BlobBackend:          getEnv("BLOB_BACKEND", BlobBackendPostgres),
		GCSBucket:            getEnv("GCS_BUCKET", ""),
		AuthJWTSecret:        getEnv("AUTH_JWT_SECRET", ""),
		CORSAllowedOrigins:   getEnvList("CORS_ALLOWED_ORIGINS"),
		EnableHSTS:           getEnvBool("ENABLE_HSTS", false),
		APIRateLimit:         getEnv("API_RATE_LIMIT", "300-M"),
		QueueRetention:       getEnvDuration("QUEUE_RETENTION", 30*24*time.Hour),
		SweepInterval:        getEnvDuration("SWEEP_INTERVAL", time.Minute),
		StaleProcessingAfter: getEnvDuration("STALE_PROCESSING_AFTER", 10*time.Minute),
		WorkerDebugMode:      getEnvBool("WORKER_DEBUG_MODE", false),
		ServerDebugMode:      getEnvBool("SERVER_DEBUG_MODE", false),
		LogDevelopment:       getEnvBool("LOG_DEVELOPMENT", false),
		OTELEnabled:          getEnvBool("OTEL_ENABLED", false),
		OTELEndpoint:         getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		LLM: LLMConfig{
			APIKey:       getEnv("AI_API_KEY", getEnv("OPENAI_API_KEY", "")),
			BaseURL:      getEnv("AI_BASE_URL", DefaultBaseURL),
			Model:        getEnv("AI_MODEL", DefaultModel),
			Temperature:  getEnvFloat("AI_TEMPERATURE", 0.7),
			TTSURL:       getEnv("AI_TTS_URL", ""),
			TTSModel:     getEnv("AI_TTS_MODEL", DefaultTTSModel),
			TTSVoice:     getEnv("AI_TTS_VOICE", DefaultTTSVoice),
			TextTimeout:  getEnvDuration("AI_TEXT_TIMEOUT", DefaultTextTimeout),
			AudioTimeout: getEnvDuration("AI_AUDIO_TIMEOUT", DefaultAudioTimeout),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.RabbitMQURL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required for generation dispatch")
	}

	if cfg.WorkerConcurrency < 1 {
		return nil, fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", cfg.WorkerConcurrency)
	}

	switch cfg.BlobBackend {
	case BlobBackendPostgres:
	case BlobBackendGCS:
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("GCS_BUCKET is required when BLOB_BACKEND is %q", BlobBackendGCS)
		}
	default:
		return nil, fmt.Errorf("unsupported BLOB_BACKEND %q", cfg.BlobBackend)
	}

	if err := cfg.LLM.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks URL syntax only. Address checks belong to the outbound guard.
func (c LLMConfig) validate() error {
	for name, raw := range map[string]string{"AI_BASE_URL": c.BaseURL, "AI_TTS_URL": c.TTSURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return fmt.Errorf("%s is not a valid URL", name)
		}
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("AI_TEMPERATURE must be between 0 and 2")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
