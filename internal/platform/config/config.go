// Package config loads the engine's process-level settings from the
// environment, the way the teacher's internal/app.LoadConfig does.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/meshrun/engine/internal/platform/logger"
)

// Config is the engine process's environment-derived settings.
type Config struct {
	LogMode string

	PostgresDSN string
	RedisAddr   string

	StreamConsumerGroup string
	StreamConsumerName  string
	StreamBlockTimeout  time.Duration
	StreamClaimMinIdle  time.Duration
	StreamMaxDeliveries int

	HookSleepPollInterval time.Duration

	MetricsAddr string
}

// Load reads Config from the environment, falling back to the documented
// defaults and logging which source each value came from.
func Load(log *logger.Logger) Config {
	return Config{
		LogMode:     getEnv("LOG_MODE", "development", log),
		PostgresDSN: getEnv("POSTGRES_DSN", "postgres://localhost:5432/meshrun?sslmode=disable", log),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379", log),

		StreamConsumerGroup: getEnv("STREAM_CONSUMER_GROUP", "engine", log),
		StreamConsumerName:  getEnv("STREAM_CONSUMER_NAME", hostnameOr("engine-1"), log),
		StreamBlockTimeout:  time.Duration(getEnvAsInt("STREAM_BLOCK_MS", 5000, log)) * time.Millisecond,
		StreamClaimMinIdle:  time.Duration(getEnvAsInt("STREAM_CLAIM_MIN_IDLE_MS", 30000, log)) * time.Millisecond,
		StreamMaxDeliveries: getEnvAsInt("STREAM_MAX_DELIVERIES", 5, log),

		HookSleepPollInterval: time.Duration(getEnvAsInt("HOOK_SLEEP_POLL_SECONDS", 5, log)) * time.Second,

		MetricsAddr: getEnv("METRICS_ADDR", ":9090", log),
	}
}

func hostnameOr(fallback string) string {
	h, err := os.Hostname()
	if err != nil || strings.TrimSpace(h) == "" {
		return fallback
	}
	return h
}

func getEnv(key, defaultVal string, log *logger.Logger) string {
	if log != nil {
		log = log.With("env_var", key)
	}
	val, ok := os.LookupEnv(key)
	if !ok {
		if log != nil {
			log.Debug("environment variable not found, using default", "default", defaultVal)
		}
		return defaultVal
	}
	if log != nil {
		log.Debug("environment variable found, using environment", "value", val)
	}
	return val
}

func getEnvAsInt(key string, defaultVal int, log *logger.Logger) int {
	if log != nil {
		log = log.With("env_var", key)
	}
	valStr, ok := os.LookupEnv(key)
	if !ok {
		if log != nil {
			log.Debug("environment variable not found, using default", "default", defaultVal)
		}
		return defaultVal
	}
	i, err := strconv.Atoi(valStr)
	if err != nil {
		if log != nil {
			log.Debug("environment variable could not be parsed as int, using default", "providedVal", valStr, "defaultVal", defaultVal, "error", err)
		}
		return defaultVal
	}
	return i
}
