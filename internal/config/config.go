// Package config provides configuration for the clinichat server and client.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the clinichat configuration.
type Config struct {
	// Server settings
	HTTPPort       int
	AllowedOrigins []string

	// Database
	DatabaseURL string

	// Audio storage
	AudioDir      string
	AudioMaxBytes int64

	// LLM settings
	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string
	LLMTimeout time.Duration

	// Translation worker
	TranslationSweepInterval time.Duration
	TranslationMaxAttempts   int

	// Client settings
	APIURL            string
	PollInterval      time.Duration
	RequestTimeout    time.Duration
	PendingDBPath     string
	RelinkInterval    time.Duration
	RelinkMaxAttempts int
	RecordChunkSize   int

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables.
// A .env file in the working directory is read first if present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:                 getEnvInt("HTTP_PORT", 8000),
		AllowedOrigins:           getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		DatabaseURL:              getEnv("DATABASE_URL", "file:clinichat.db?cache=shared&mode=rwc"),
		AudioDir:                 getEnv("AUDIO_DIR", "audio_storage"),
		AudioMaxBytes:            int64(getEnvInt("AUDIO_MAX_BYTES", 10*1024*1024)),
		LLMBaseURL:               getEnv("LLM_BASE_URL", "https://api.groq.com/openai"),
		LLMAPIKey:                getEnv("LLM_API_KEY", ""),
		LLMModel:                 getEnv("LLM_MODEL", "llama-3.1-8b-instant"),
		LLMTimeout:               time.Duration(getEnvInt("LLM_TIMEOUT_MS", 30000)) * time.Millisecond,
		TranslationSweepInterval: time.Duration(getEnvInt("TRANSLATION_SWEEP_INTERVAL_MS", 1000)) * time.Millisecond,
		TranslationMaxAttempts:   getEnvInt("TRANSLATION_MAX_ATTEMPTS", 3),
		APIURL:                   getEnv("CLINICHAT_API_URL", "http://localhost:8000"),
		PollInterval:             time.Duration(getEnvInt("CLIENT_POLL_INTERVAL_MS", 3000)) * time.Millisecond,
		RequestTimeout:           time.Duration(getEnvInt("CLIENT_REQUEST_TIMEOUT_MS", 10000)) * time.Millisecond,
		PendingDBPath:            getEnv("CLIENT_PENDING_DB", ""),
		RelinkInterval:           time.Duration(getEnvInt("CLIENT_RELINK_INTERVAL_MS", 0)) * time.Millisecond,
		RelinkMaxAttempts:        getEnvInt("CLIENT_RELINK_MAX_ATTEMPTS", 5),
		RecordChunkSize:          getEnvInt("CLIENT_RECORD_CHUNK_SIZE", 4096),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		LogFormat:                getEnv("LOG_FORMAT", "console"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, entry := range strings.Split(val, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
