package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures process-level configuration. Values come from the
// environment so main stays lean.
type Config struct {
	Addr string

	// BaseURL is the externally reachable URL of this service. It is used
	// when registering webhooks with the platform and the provider.
	BaseURL string

	// PlatformURL and ProviderURL point at the two external systems of
	// record. ProviderURL is the API root; per-tenant credentials come from
	// the tenant record, not from here.
	PlatformURL string
	ProviderURL string

	PostgresURL string
	Redis       RedisConfig

	// Workers is the size of the scheduler worker pool.
	Workers int
}

// RedisConfig holds Redis connection settings for the task queue backend.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Config from environment variables with development
// defaults.
func FromEnv() Config {
	return Config{
		Addr:        envOr("VERISYNC_ADDR", ":8080"),
		BaseURL:     envOr("VERISYNC_BASE_URL", "http://localhost:8080"),
		PlatformURL: envOr("PLATFORM_API_URL", "https://api.platform.example"),
		ProviderURL: envOr("PROVIDER_API_URL", "https://api.provider.example"),
		PostgresURL: os.Getenv("POSTGRES_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envOrInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envOrInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Workers: envOrInt("VERISYNC_WORKERS", 8),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
