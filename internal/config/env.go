package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/httprunner/CaptureAgent/internal/env"
)

// Environment variables read by the capture commands.
const (
	EnvConfigPath  = "CAPTURE_CONFIG_PATH"
	EnvFilePrefix  = "CAPTURE_FILE_PREFIX"
	EnvOutputDir   = "CAPTURE_OUTPUT_DIR"
	EnvFrames      = "CAPTURE_FRAMES"
	EnvTimeout     = "CAPTURE_TIMEOUT"
	EnvLogLevel    = "CAPTURE_LOG_LEVEL"
	EnvSimFleet    = "CAPTURE_SIM_FLEET"
	EnvJournalPath = "CAPTURE_JOURNAL_PATH"
	EnvMetricsPath = "CAPTURE_METRICS_PATH"
	EnvJSONLPath   = "CAPTURE_JSONL_PATH"
	EnvProfilePath = "CAPTURE_PROFILE"
	EnvDefaultGain = "CAPTURE_DEFAULT_GAIN"
)

var ensureOnce sync.Once

func ensureEnvLoaded() {
	ensureOnce.Do(func() {
		env.Ensure()
	})
}

// String returns the trimmed environment variable or fallback when unset.
func String(key, fallback string) string {
	ensureEnvLoaded()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// Duration parses a time duration from environment or returns fallback.
// A bare integer is read as milliseconds.
func Duration(key string, fallback time.Duration) time.Duration {
	ensureEnvLoaded()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}

// Int returns an integer environment variable or fallback when invalid.
func Int(key string, fallback int) int {
	ensureEnvLoaded()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

// Float returns a float environment variable or fallback when invalid.
func Float(key string, fallback float64) float64 {
	ensureEnvLoaded()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

// Bool parses a boolean environment variable.
func Bool(key string, fallback bool) bool {
	ensureEnvLoaded()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		lower := strings.ToLower(val)
		if lower == "1" || lower == "true" || lower == "yes" {
			return true
		}
		if lower == "0" || lower == "false" || lower == "no" {
			return false
		}
	}
	return fallback
}
