package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/text/language"
)

// Config holds all application configuration
// Supports environment variables with sensible defaults
//
// Environment Variables:
// LLM Configuration:
// - LLM_API_KEY: API key for the LLM provider (required)
// - LLM_API_URL: API endpoint URL (default: https://openrouter.ai/api/v1)
// - LLM_MODEL: Model for translation calls (default: openai/gpt-4o-mini)
// - LLM_VISION_MODEL: Model for page-image extraction (default: LLM_MODEL)
// - LLM_MAX_TOKENS: Maximum tokens for responses (default: 8192)
// - LLM_TEMPERATURE: Temperature for responses (default: 0.1)
// - LLM_TIMEOUT: Request timeout in seconds (default: 90)
//
// Translate Configuration:
// - MAX_CHUNK_SIZE: Default max chunk size in bytes (default: 9000)
// - TRANSLATE_RETRIES: Attempts per chunk (default: 3)
// - TRANSLATE_CONCURRENCY: In-flight external calls per job (default: 4)
// - CHARS_PER_PAGE: Characters billed as one page (default: 3000)
// - MAX_FILE_SIZE: Upload limit in bytes (default: 20971520)
//
// Worker Configuration:
// - WORKER_COUNT: Execution pool size (default: 4)
// - RESULT_RETENTION: Terminal result retention, Go duration (default: 1h)
// - PURGE_CRON: Cron expression for result purging (default: @every 10m)
//
// Server Configuration:
// - HTTP_ADDR: Listen address (default: :8080)
// - DB_PATH: SQLite database path (default: ./data/doctrans.db)
// - LOG_LEVEL: debug/info/warn/error (default: info)

type Config struct {
	LLM       LLMConfig       `json:"llm"`
	Translate TranslateConfig `json:"translate"`
	Worker    WorkerConfig    `json:"worker"`
	Server    ServerConfig    `json:"server"`
}

// LLMConfig holds the configuration for the LLM client
// Works with any OpenAI-compatible provider (OpenRouter, OpenAI, etc.)
type LLMConfig struct {
	APIKey      string  `json:"api_key"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	VisionModel string  `json:"vision_model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
}

// TranslateConfig holds the pipeline configuration
type TranslateConfig struct {
	MaxChunkSize int           `json:"max_chunk_size"`
	Retries      int           `json:"retries"`
	Concurrency  int           `json:"concurrency"`
	CharsPerPage int           `json:"chars_per_page"`
	MaxFileSize  int64         `json:"max_file_size"`
	CallTimeout  time.Duration `json:"call_timeout"`
}

// WorkerConfig holds the background execution pool configuration
type WorkerConfig struct {
	WorkerCount     int           `json:"worker_count"`
	ResultRetention time.Duration `json:"result_retention"`
	PurgeCron       string        `json:"purge_cron"`
}

// ServerConfig holds the HTTP and storage configuration
type ServerConfig struct {
	HTTPAddr string `json:"http_addr"`
	DBPath   string `json:"db_path"`
	LogLevel string `json:"log_level"`
}

// chunkSizeOverrides lists languages whose scripts expand enough in byte
// terms to need a smaller chunk ceiling than the default.
var chunkSizeOverrides = map[language.Tag]int{
	language.Chinese:  6000,
	language.Japanese: 6000,
	language.Korean:   6000,
	language.Arabic:   7000,
	language.Russian:  7500,
}

// MaxChunkSizeFor returns the chunk ceiling for a target language.
func (c TranslateConfig) MaxChunkSizeFor(target language.Tag) int {
	base, _ := target.Base()
	for tag, size := range chunkSizeOverrides {
		b, _ := tag.Base()
		if b == base {
			return size
		}
	}
	return c.MaxChunkSize
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		LLM: LLMConfig{
			APIKey:      getEnvString("LLM_API_KEY", ""),
			APIURL:      getEnvString("LLM_API_URL", "https://openrouter.ai/api/v1"),
			Model:       getEnvString("LLM_MODEL", "openai/gpt-4o-mini"),
			VisionModel: getEnvString("LLM_VISION_MODEL", ""),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 8192),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.1),
			Timeout:     getEnvInt("LLM_TIMEOUT", 90),
		},
		Translate: TranslateConfig{
			MaxChunkSize: getEnvInt("MAX_CHUNK_SIZE", 9000),
			Retries:      getEnvInt("TRANSLATE_RETRIES", 3),
			Concurrency:  getEnvInt("TRANSLATE_CONCURRENCY", 4),
			CharsPerPage: getEnvInt("CHARS_PER_PAGE", 3000),
			MaxFileSize:  int64(getEnvInt("MAX_FILE_SIZE", 20*1024*1024)),
			CallTimeout:  time.Duration(getEnvInt("LLM_TIMEOUT", 90)) * time.Second,
		},
		Worker: WorkerConfig{
			WorkerCount:     getEnvInt("WORKER_COUNT", 4),
			ResultRetention: getEnvDuration("RESULT_RETENTION", time.Hour),
			PurgeCron:       getEnvString("PURGE_CRON", "@every 10m"),
		},
		Server: ServerConfig{
			HTTPAddr: getEnvString("HTTP_ADDR", ":8080"),
			DBPath:   getEnvString("DB_PATH", "./data/doctrans.db"),
			LogLevel: getEnvString("LOG_LEVEL", "info"),
		},
	}

	if config.LLM.VisionModel == "" {
		config.LLM.VisionModel = config.LLM.Model
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if c.Translate.MaxChunkSize <= 0 {
		return fmt.Errorf("MAX_CHUNK_SIZE must be positive")
	}
	if c.Worker.WorkerCount <= 0 {
		return fmt.Errorf("WORKER_COUNT must be positive")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration value from environment variables with default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
