package bootstrap

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerAddr string

	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GeminiAPIKey string
	GeminiModel  string

	// Shared access code required on every connection. Empty disables
	// the gate.
	AccessCode string

	SystemPromptPath string

	SessionIdleTimeout time.Duration
	SessionMaxDuration time.Duration
	MaxSessions        int
	ConnectsPerMinute  int
	ShutdownGrace      time.Duration

	StaticDir string
	IndexHTML string

	LogLevel string
	Version  string
}

func LoadConfig() *Config {
	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),

		DatabaseDSN: getEnv("DATABASE_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.0-flash-live-001"),

		AccessCode: getEnv("ACCESS_CODE", ""),

		SystemPromptPath: getEnv("SYSTEM_PROMPT_PATH", ""),

		SessionIdleTimeout: getEnvDuration("SESSION_IDLE_TIMEOUT", 2*time.Minute),
		SessionMaxDuration: getEnvDuration("SESSION_MAX_DURATION", 20*time.Minute),
		MaxSessions:        getEnvInt("MAX_SESSIONS", 20),
		ConnectsPerMinute:  getEnvInt("CONNECTS_PER_MINUTE", 6),
		ShutdownGrace:      getEnvDuration("SHUTDOWN_GRACE", 15*time.Second),

		StaticDir: getEnv("STATIC_DIR", "./static"),
		IndexHTML: getEnv("INDEX_HTML", "./static/index.html"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		Version:  getEnv("VERSION", "dev"),
	}
}

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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
