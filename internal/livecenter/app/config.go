package app

import (
	"os"
	"strconv"
	"time"
)

// Auth modes.
const (
	AuthModeRedirect = "redirect"
	AuthModeDev      = "dev"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverBolt   = "bbolt"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// DefaultDevUserID is the user the dev minter signs for unless overridden.
const DefaultDevUserID = "5080c21a-104b-4fe0-8f50-a3168e55c132"

type Config struct {
	BaseAPIURL     string        // Backend base URL (default: http://localhost:8000/api/v1)
	LoginURL       string        // External login page (default: http://localhost:5173/pages/auth/login)
	LoginRoute     string        // In-app login route, never a redirect target (default: /pages/auth/login)
	DefaultLanding string        // Route after login without a stashed path (default: /pages/room/new/RoomList)
	APITimeout     time.Duration // Per-attempt timeout (default: 30s)
	ReadRetries    int           // Retry budget for reads, negative disables (default: 3)
	RetryBackoff   time.Duration // Fixed delay between retries (default: 1s)
	RetryJitter    time.Duration // Random extra delay per retry (default: 0)
	RetryRate      int           // Retries per minute across all requests, 0 disables the limiter (default: 0)
	RetryBurst     int           // Retry limiter burst (default: 10)

	AuthMode  string // redirect or dev (default: redirect)
	DevSecret string // HS256 secret for dev mode (default: random per process)
	DevUserID string // Subject of dev tokens (default: DefaultDevUserID)
	DevRole   string // Role of dev tokens (default: ADMIN)

	StorageDriver    string        // Primary storage: sqlite, bbolt, memory (default: sqlite)
	StoragePath      string        // Primary storage file (default: livecenter.db)
	AltStorageDriver string        // Alternate storage: redis, sqlite, bbolt, memory or empty (default: none)
	AltStoragePath   string        // Alternate storage file for file drivers
	RedisAddr        string        // Redis address (default: localhost:6379)
	RedisPrefix      string        // Redis key prefix (default: livecenter:)
	RedisTTL         time.Duration // TTL of redis keys, 0 keeps them (default: 0)

	ExpiryCheckInterval time.Duration // Session watcher interval (default: 1m)

	// Set from the command line, not the environment.
	StartRoute string // Route the process starts on (default: DefaultLanding)
	EntryURL   string // URL the process was opened with, may carry ?token=

	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: json)
}

func LoadConfig() Config {
	return Config{
		BaseAPIURL:     getEnvOrDefault("LIVE_BASE_API_URL", "http://localhost:8000/api/v1"),
		LoginURL:       getEnvOrDefault("LIVE_LOGIN_URL", "http://localhost:5173/pages/auth/login"),
		LoginRoute:     getEnvOrDefault("LIVE_LOGIN_ROUTE", "/pages/auth/login"),
		DefaultLanding: getEnvOrDefault("LIVE_DEFAULT_LANDING", "/pages/room/new/RoomList"),
		APITimeout:     getEnvDurationOrDefault("LIVE_API_TIMEOUT", 30*time.Second),
		ReadRetries:    getEnvIntOrDefault("LIVE_READ_RETRIES", 3),
		RetryBackoff:   getEnvDurationOrDefault("LIVE_RETRY_BACKOFF", time.Second),
		RetryJitter:    getEnvDurationOrDefault("LIVE_RETRY_JITTER", 0),
		RetryRate:      getEnvIntOrDefault("LIVE_RETRY_RATE", 0),
		RetryBurst:     getEnvIntOrDefault("LIVE_RETRY_BURST", 10),

		AuthMode:  getEnvOrDefault("LIVE_AUTH_MODE", AuthModeRedirect),
		DevSecret: os.Getenv("LIVE_DEV_SECRET"),
		DevUserID: getEnvOrDefault("LIVE_DEV_USER_ID", DefaultDevUserID),
		DevRole:   getEnvOrDefault("LIVE_DEV_ROLE", "ADMIN"),

		StorageDriver:    getEnvOrDefault("LIVE_STORAGE_DRIVER", DriverSQLite),
		StoragePath:      getEnvOrDefault("LIVE_STORAGE_PATH", "livecenter.db"),
		AltStorageDriver: os.Getenv("LIVE_ALT_STORAGE_DRIVER"),
		AltStoragePath:   os.Getenv("LIVE_ALT_STORAGE_PATH"),
		RedisAddr:        getEnvOrDefault("LIVE_REDIS_ADDR", "localhost:6379"),
		RedisPrefix:      getEnvOrDefault("LIVE_REDIS_PREFIX", "livecenter:"),
		RedisTTL:         getEnvDurationOrDefault("LIVE_REDIS_TTL", 0),

		ExpiryCheckInterval: getEnvDurationOrDefault("LIVE_EXPIRY_CHECK_INTERVAL", time.Minute),

		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are milliseconds, matching the API_TIMEOUT=30000 style.
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}

	return defaultValue
}
