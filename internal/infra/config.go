package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	// Queue backing store.
	QueueBackend  string // postgres | redis
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string

	// Worker scheduling.
	Concurrency         int
	PollInterval        time.Duration
	MaxRetries          int
	RetryDelay          time.Duration
	HealthCheckInterval time.Duration
	StaleJobThreshold   time.Duration
	ShutdownTimeout     time.Duration
	ErrorRateCeiling    float64

	// Provider credentials.
	NanoBananaAPIKey  string
	NanoBananaBaseURL string
	NanoBananaModel   string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		Port:          getEnv("PORT", "8080"),
		QueueBackend:  getEnv("QUEUE_BACKEND", "postgres"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		Concurrency:         getEnvInt("WORKER_CONCURRENCY", 3),
		PollInterval:        getEnvMillis("WORKER_POLL_INTERVAL_MS", 2000),
		MaxRetries:          getEnvInt("WORKER_MAX_RETRIES", 3),
		RetryDelay:          getEnvMillis("WORKER_RETRY_DELAY_MS", 5000),
		HealthCheckInterval: getEnvMillis("WORKER_HEALTH_CHECK_INTERVAL_MS", 30000),
		StaleJobThreshold:   getEnvMillis("WORKER_STALE_JOB_THRESHOLD_MS", 300000),
		ShutdownTimeout:     getEnvMillis("WORKER_SHUTDOWN_TIMEOUT_MS", 30000),
		ErrorRateCeiling:    getEnvFloat("WORKER_ERROR_RATE_CEILING", 50),

		NanoBananaAPIKey:  os.Getenv("NANOBANANA_API_KEY"),
		NanoBananaBaseURL: getEnv("NANOBANANA_BASE_URL", "https://api.nanobanana.ai"),
		NanoBananaModel:   getEnv("NANOBANANA_MODEL", "nano-banana-v2"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		AllowedOrigins:   splitCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
	}

	switch cfg.QueueBackend {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when QUEUE_BACKEND=postgres")
		}
	case "redis":
	default:
		return nil, fmt.Errorf("unsupported QUEUE_BACKEND %q", cfg.QueueBackend)
	}

	if cfg.Concurrency < 1 {
		return nil, fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvMillis(key string, fallback int) time.Duration {
	return time.Millisecond * time.Duration(getEnvInt(key, fallback))
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
