// Package config loads runtime configuration for the RPG session engine
// from environment variables, with an optional .env file.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LLMConfig holds the generator backend connection and generation defaults.
type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration

	// Stage-specific token caps, keyed by prompt stage name.
	StageTokens map[string]int
}

// StorageConfig selects and configures the blob (object) store back-end.
type StorageConfig struct {
	Type     string // "local" or "s3"
	BasePath string // local back-end root directory

	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	Bucket    string
}

// KVConfig configures the Redis-compatible key/value back-end.
type KVConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

// Config is the root configuration object, assembled once at process start
// and passed down by dependency injection rather than accessed as a global.
type Config struct {
	Addr            string
	Env             string
	GracefulTimeout time.Duration

	Genre         string
	Tone          string
	FinalConflict string

	LLM     LLMConfig
	Storage StorageConfig
	KV      KVConfig

	LogLevel string
}

// Load reads configuration from the environment (and a best-effort .env
// file in the working directory). Missing values fall back to the defaults
// the RPG prototype shipped with.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("RPG_GRACEFUL_TIMEOUT_SEC", 15)
	llmTimeoutSec := getEnvInt("RPG_LLM_TIMEOUT_SEC", 120)

	return &Config{
		Addr:            getEnv("RPG_ADDR", ":8080"),
		Env:             getEnv("ENV", "development"),
		GracefulTimeout: time.Duration(gracefulSec) * time.Second,

		Genre:         getEnv("RPG_GENRE", "Cyberpunk/Lovecraftian"),
		Tone:          getEnv("RPG_TONE", "Dark & Gritty"),
		FinalConflict: getEnv("RPG_FINAL_CONFLICT", "The Awakening of the Old Ones"),

		LLM: LLMConfig{
			BaseURL:     getEnv("RPG_LLM_BASE_URL", "http://localhost:1025/v1"),
			APIKey:      getEnv("RPG_LLM_API_KEY", ""),
			Model:       getEnv("RPG_LLM_MODEL", "GLM-4.7-w8a8"),
			Temperature: getEnvFloat("RPG_LLM_TEMPERATURE", 0.2),
			MaxTokens:   getEnvInt("RPG_LLM_MAX_TOKENS", 48000),
			Timeout:     time.Duration(llmTimeoutSec) * time.Second,
			StageTokens: map[string]int{
				"genesis":   getEnvInt("RPG_STAGE_GENESIS_TOKENS", 8000),
				"narrator":  getEnvInt("RPG_STAGE_NARRATOR_TOKENS", 4000),
				"map_gen":   getEnvInt("RPG_STAGE_MAP_TOKENS", 2000),
				"cognition": getEnvInt("RPG_STAGE_COGNITION_TOKENS", 2000),
			},
		},

		Storage: StorageConfig{
			Type:      getEnv("RPG_STORAGE_TYPE", "local"),
			BasePath:  getEnv("RPG_STORAGE_PATH", "./saves"),
			Endpoint:  getEnv("RPG_S3_ENDPOINT", ""),
			AccessKey: getEnv("RPG_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("RPG_S3_SECRET_KEY", ""),
			Secure:    getEnvBool("RPG_S3_SECURE", false),
			Bucket:    getEnv("RPG_S3_BUCKET", "rpg-world-data"),
		},

		KV: KVConfig{
			Host:     getEnv("RPG_REDIS_HOST", "localhost"),
			Port:     getEnvInt("RPG_REDIS_PORT", 6379),
			Password: getEnv("RPG_REDIS_PASSWORD", ""),
			DB:       getEnvInt("RPG_REDIS_DB", 0),
			TTL:      time.Duration(getEnvInt("RPG_REDIS_TTL", 3600*24)) * time.Second,
		},

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// IsDevelopment reports whether the process is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// StageTokenCap returns the configured max-tokens cap for a prompt stage,
// falling back to the global LLM default when the stage is unknown.
func (c *Config) StageTokenCap(stage string) int {
	if n, ok := c.LLM.StageTokens[stage]; ok {
		return n
	}
	return c.LLM.MaxTokens
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
