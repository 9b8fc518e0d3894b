// Package reliability holds load tests for the collector and trace store.
// They are skipped unless TRACEKIT_RELIABILITY_LEVEL is "basic" or "stress".
package reliability

import (
	"os"
	"strconv"
	"time"
)

// Config holds settings for reliability runs.
type Config struct {
	Level         string        // "basic" or "stress"
	Duration      time.Duration // How long sustained stress tests run.
	MaxGoroutines int           // Upper bound on producer goroutines.
	Traces        int           // Traces produced per scenario.
}

// loadConfig reads settings from the environment.
func loadConfig() Config {
	return Config{
		Level:         getEnv("TRACEKIT_RELIABILITY_LEVEL", ""),
		Duration:      parseDuration(getEnv("TRACEKIT_RELIABILITY_DURATION", "10s")),
		MaxGoroutines: parseInt(getEnv("TRACEKIT_RELIABILITY_MAX_GOROUTINES", "32"), 32),
		Traces:        parseInt(getEnv("TRACEKIT_RELIABILITY_TRACES", "5000"), 5000),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string, fallback int) int {
	if value, err := strconv.Atoi(s); err == nil && value > 0 {
		return value
	}
	return fallback
}

func parseDuration(s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return 10 * time.Second
}
