// Package config loads the server configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	LLM      LLMConfig
	Debate   DebateConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	Mode         string // "debug" or "release"
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
	LogLevel     string
	Debug        bool
}

type DatabaseConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

type RedisConfig struct {
	URL     string
	Enabled bool
}

type LLMConfig struct {
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GoogleAPIKey    string
	MistralAPIKey   string
	TurnTimeout     time.Duration
}

type DebateConfig struct {
	MaxContextTokens int
}

// Load reads configuration from environment variables, with sensible
// defaults for local development.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("PORT", "8000"),
			Mode:         getEnv("GIN_MODE", "release"),
			ReadTimeout:  getDurationEnv("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationEnv("WRITE_TIMEOUT", 0),
			CORSOrigins:  getEnvSlice("CORS_ORIGINS", []string{"*"}),
			LogLevel:     getEnv("LOG_LEVEL", "info"),
			Debug:        getBoolEnv("DEBUG", false),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getIntEnv("DB_MAX_CONNECTIONS", 10),
			MinConns:        getIntEnv("DB_MIN_CONNECTIONS", 2),
			MaxConnLifetime: getDurationEnv("DB_CONN_LIFETIME", time.Hour),
			MaxConnIdleTime: getDurationEnv("DB_CONN_IDLE_TIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:     getEnv("REDIS_URL", ""),
			Enabled: os.Getenv("REDIS_URL") != "",
		},
		LLM: LLMConfig{
			OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
			AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
			GoogleAPIKey:    getEnv("GOOGLE_API_KEY", ""),
			MistralAPIKey:   getEnv("MISTRAL_API_KEY", ""),
			TurnTimeout:     getDurationEnv("TURN_TIMEOUT", 120*time.Second),
		},
		Debate: DebateConfig{
			MaxContextTokens: getIntEnv("MAX_CONTEXT_TOKENS", 100_000),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
