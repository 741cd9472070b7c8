// Package config loads the environment variables recognized by the
// service: plain env()/envInt() helpers with fallbacks, no config library.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port               int
	WorkerSecret       string
	RedisURL           string
	MetadataAPIKey     string
	SessionDir         string
	CacheTTL           time.Duration
	MaxJobAttempts     int
	LogLevel           string
	MaxPages           int
	OverridesFile      string
	JobTTL             time.Duration
	JobHardDeadline    time.Duration
	ShutdownGrace      time.Duration
	StuckJobAfter      time.Duration
	MaxConcurrentJob   int
	MetadataCacheTTL   time.Duration
	MetadataRatePerSec int
	MetadataTimeout    time.Duration
	SourceBaseURL      string
}

func Load() *Config {
	return &Config{
		Port:             envInt("PORT", 8080),
		WorkerSecret:     env("WORKER_SECRET", "change-me-in-production"),
		RedisURL:         env("REDIS_URL", "redis://localhost:6379/0"),
		MetadataAPIKey:   env("METADATA_API_KEY", ""),
		SessionDir:       env("SESSION_DIR", "/tmp/watchlistd/sessions"),
		CacheTTL:         envSeconds("CACHE_TTL_SECONDS", 43200),
		MaxJobAttempts:   envInt("MAX_JOB_ATTEMPTS", 3),
		LogLevel:         env("LOG_LEVEL", "info"),
		MaxPages:         envInt("MAX_PAGES", 2),
		OverridesFile:    env("OVERRIDES_FILE", ""),
		JobTTL:           24 * time.Hour,
		JobHardDeadline:  5 * time.Minute,
		ShutdownGrace:    30 * time.Second,
		StuckJobAfter:    10 * time.Minute,
		MaxConcurrentJob: envInt("MAX_CONCURRENT_SCRAPES", 3),

		MetadataCacheTTL:   envSeconds("METADATA_CACHE_TTL_SECONDS", 7*24*3600),
		MetadataRatePerSec: envInt("METADATA_RATE_PER_SEC", 40),
		MetadataTimeout:    envSeconds("METADATA_TIMEOUT_SECONDS", 5),
		SourceBaseURL:      env("SOURCE_BASE_URL", "https://www.imdb.com"),
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envSeconds(key string, fallbackSeconds int) time.Duration {
	return time.Duration(envInt(key, fallbackSeconds)) * time.Second
}
