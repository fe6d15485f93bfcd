package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port int
	Host string
	Env  string // "development" or "production"

	// Data directory
	DataDir string

	// Database
	DatabasePath string

	// Storage quota. QuotaBudgetBytes is the hard capacity of the local
	// blob store; the fractions classify pressure against that budget.
	QuotaBudgetBytes      int64
	QuotaWarningFraction  float64
	QuotaCriticalFraction float64

	// Eviction tuning. EvictionFloor is the minimum number of sessions
	// eviction will leave behind; PreventiveKeep is how many survive a
	// preventive (pre-write) eviction pass.
	EvictionFloor  int
	PreventiveKeep int

	// Inline image recompression
	ImageQuality      int // jpeg quality 1-100
	ImageMaxDimension int // longest side in pixels

	// External chat API
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
}

var (
	cfg  *Config
	once sync.Once
)

// Get returns the global configuration (singleton)
func Get() *Config {
	once.Do(func() {
		cfg = load()
	})
	return cfg
}

// load reads configuration from environment variables
func load() *Config {
	dataDir := getEnv("MCD_DATA_DIR", "./data")
	appDir := filepath.Join(dataDir, "app", "my-chat-db")

	return &Config{
		// Server
		Port: getEnvInt("PORT", 12480),
		Host: getEnv("HOST", "0.0.0.0"),
		Env:  getEnv("ENV", "development"),

		// Data
		DataDir:      dataDir,
		DatabasePath: filepath.Join(appDir, "database.sqlite"),

		// Quota
		QuotaBudgetBytes:      getEnvInt64("MCD_QUOTA_BUDGET_BYTES", 200*1024*1024),
		QuotaWarningFraction:  getEnvFloat("MCD_QUOTA_WARNING_FRACTION", 0.50),
		QuotaCriticalFraction: getEnvFloat("MCD_QUOTA_CRITICAL_FRACTION", 0.80),

		// Eviction
		EvictionFloor:  getEnvInt("MCD_EVICTION_FLOOR", 3),
		PreventiveKeep: getEnvInt("MCD_PREVENTIVE_KEEP", 5),

		// Images
		ImageQuality:      getEnvInt("MCD_IMAGE_QUALITY", 80),
		ImageMaxDimension: getEnvInt("MCD_IMAGE_MAX_DIMENSION", 1024),

		// OpenAI
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
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
