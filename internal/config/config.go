// Package config provides configuration loading for the studio service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the studio service.
type Config struct {
	// Server configuration
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	ShutdownGrace time.Duration

	// Redis configuration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Store configuration: "memory" or "redis"
	StoreType string

	// Catalog configuration: "builtin" or "redis"
	CatalogSource string

	// CORS configuration
	CORSOrigins []string

	// Rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// Autosave
	AutosaveDelay time.Duration

	// Engine
	EngineMaxConcurrentRuns int

	// Preferences file
	PrefsPath string

	// Tracing
	OTLPEndpoint      string
	TracingEnabled    bool
	TracingSampleRate float64

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		// Server
		Port:          getEnv("PORT", "7080"),
		ReadTimeout:   getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:  getDuration("WRITE_TIMEOUT", 30*time.Second),
		ShutdownGrace: getDuration("SHUTDOWN_GRACE", 10*time.Second),

		// Redis
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		// Stores
		StoreType:     getEnv("STUDIO_STORE", "memory"), // "memory" or "redis"
		CatalogSource: getEnv("STUDIO_CATALOG", "builtin"),

		// CORS
		CORSOrigins: getStringSlice("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),

		// Rate limiting
		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 100.0),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 200),

		// Autosave
		AutosaveDelay: getDuration("AUTOSAVE_DELAY", time.Second),

		// Engine
		EngineMaxConcurrentRuns: getInt("ENGINE_MAX_CONCURRENT_RUNS", 8),

		// Preferences
		PrefsPath: getEnv("STUDIO_PREFS_PATH", defaultPrefsPath()),

		// Tracing
		OTLPEndpoint:      getEnv("OTLP_ENDPOINT", "localhost:4317"),
		TracingEnabled:    getBool("TRACING_ENABLED", false),
		TracingSampleRate: getFloat("TRACING_SAMPLE_RATE", 1.0),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

func defaultPrefsPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + "/helixsec-studio/prefs.json"
	}
	return "prefs.json"
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		return strings.Split(val, ",")
	}
	return defaultVal
}
