package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type Config struct {
	Port            string
	DBUrl           string
	JWTSecret       string
	RedisURL        string
	NatsURL         string
	NodeID          string
	AppEnv          string
	HistoryPageSize int
	WSSendBuffer    int
}

// LoadConfig reads .env when present, then the process environment.
func LoadConfig(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Err(err).Msg("no .env file found")
	}

	jwtSecret, exists := os.LookupEnv("JWT_SECRET")
	if !exists || jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return &Config{
		Port:            getEnv("PORT", "8080"),
		DBUrl:           getEnv("DB_URL", ""),
		JWTSecret:       jwtSecret,
		RedisURL:        getEnv("REDIS_URL", ""),
		NatsURL:         getEnv("NATS_URL", ""),
		NodeID:          getEnv("NODE_ID", defaultNodeID()),
		AppEnv:          normalizeEnv(getEnv("APP_ENV", "production")),
		HistoryPageSize: getEnvInt("HISTORY_PAGE_SIZE", 20),
		WSSendBuffer:    getEnvInt("WS_SEND_BUFFER", 32),
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func normalizeEnv(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "develop", "development", "local":
		return "development"
	case "prod", "production":
		return "production"
	case "stage", "staging":
		return "staging"
	case "test", "testing":
		return "test"
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}

func defaultNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "chat-node"
	}
	return host
}

func (c *Config) IsDevelopment() bool {
	return c != nil && c.AppEnv == "development"
}
