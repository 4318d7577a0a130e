// Package config resolves process configuration from flags and environment
// variables, following the teacher's envOrDefault convention (flags default
// to an env var, which defaults to a hardcoded value) rather than a config
// file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every item enumerated in §6.
type Config struct {
	HTTPAddr   string
	DBDriver   string
	DBDSN      string
	RedisURL   string
	LogLevel   string

	MaxAttemptDuration time.Duration
	MaxRetries         int
	BackoffBaseMs      int64
	BackoffCapMs       int64
	MaxArchiveBytes    int64
	IdlePollIntervalMs int64
	WorkspaceRoot      string
	BotCredential      string

	CompilerBin  string
	WorkerCount  int

	// PublicBaseURL is this service's own externally-reachable address,
	// used to build artifact download links in PR review comments
	// (§4.6 step 3). Empty means the comment falls back to artifact IDs.
	PublicBaseURL string
}

// Default returns a Config populated from environment variables, falling
// back to the spec's defaults (§6) where unset.
func Default() Config {
	return Config{
		HTTPAddr: envOrDefault("TSC_DEPLOY_HTTP_ADDR", ":8080"),
		DBDriver: envOrDefault("TSC_DEPLOY_DB_DRIVER", "sqlite"),
		DBDSN:    envOrDefault("TSC_DEPLOY_DB_DSN", "./tsc-deploy.db"),
		RedisURL: envOrDefault("TSC_DEPLOY_REDIS_URL", ""),
		LogLevel: envOrDefault("TSC_DEPLOY_LOG_LEVEL", "info"),

		MaxAttemptDuration: envDuration("TSC_DEPLOY_MAX_ATTEMPT_DURATION", 20*time.Minute),
		MaxRetries:         envInt("TSC_DEPLOY_MAX_RETRIES", 3),
		BackoffBaseMs:      envInt64("TSC_DEPLOY_BACKOFF_BASE_MS", 1000),
		BackoffCapMs:       envInt64("TSC_DEPLOY_BACKOFF_CAP_MS", 30000),
		MaxArchiveBytes:    envInt64("TSC_DEPLOY_MAX_ARCHIVE_BYTES", 100<<20),
		IdlePollIntervalMs: envInt64("TSC_DEPLOY_IDLE_POLL_INTERVAL_MS", 5000),
		WorkspaceRoot:      envOrDefault("TSC_DEPLOY_WORKSPACE_ROOT", os.TempDir()),
		BotCredential:      envOrDefault("TSC_DEPLOY_BOT_CREDENTIAL", ""),

		CompilerBin: envOrDefault("TSC_DEPLOY_COMPILER_BIN", "tsc-circuit-compile"),
		WorkerCount: envInt("TSC_DEPLOY_WORKER_COUNT", 1),

		PublicBaseURL: envOrDefault("TSC_DEPLOY_PUBLIC_BASE_URL", ""),
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// Validate reports a configuration error before the server starts doing
// anything expensive (§9 design notes: fail fast on bad config).
func (c Config) Validate() error {
	if c.WorkerCount < 1 {
		return fmt.Errorf("config: worker count must be >= 1, got %d", c.WorkerCount)
	}
	if c.DBDriver != "sqlite" && c.DBDriver != "postgres" {
		return fmt.Errorf("config: unsupported db driver %q", c.DBDriver)
	}
	return nil
}
