package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	Port          string
	AllowedOrigin string

	// DatabaseURL selects the PostgreSQL store; empty means the seeded
	// in-memory store for dev/demo runs.
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AuthSecret            string
	AccessTokenTTLMinutes int

	DefaultTaxRate    float64
	LowStockThreshold int

	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables and an optional .env
// file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		Port:                  valueOrDefault(k.String("PORT"), "8080"),
		AllowedOrigin:         valueOrDefault(k.String("ALLOWED_ORIGIN"), "*"),
		DatabaseURL:           k.String("DATABASE_URL"),
		RedisAddr:             k.String("REDIS_ADDR"),
		RedisPassword:         k.String("REDIS_PASSWORD"),
		RedisDB:               parseInt(k.String("REDIS_DB"), 0),
		AuthSecret:            k.String("AUTH_SECRET"),
		AccessTokenTTLMinutes: parseInt(k.String("ACCESS_TOKEN_TTL_MINUTES"), 480),
		DefaultTaxRate:        parseFloat(k.String("DEFAULT_TAX_RATE"), 5),
		LowStockThreshold:     parseInt(k.String("LOW_STOCK_THRESHOLD"), 10),
		LogLevel:              valueOrDefault(k.String("LOG_LEVEL"), "info"),
		LogFormat:             valueOrDefault(k.String("LOG_FORMAT"), "json"),
	}

	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	if cfg.DefaultTaxRate < 0 || cfg.DefaultTaxRate > 100 {
		return nil, fmt.Errorf("DEFAULT_TAX_RATE must be between 0 and 100, got %v", cfg.DefaultTaxRate)
	}
	if cfg.LowStockThreshold < 1 {
		cfg.LowStockThreshold = 10
	}

	return cfg, nil
}

// Address returns the address the HTTP server should bind to.
func (c *Config) Address() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseInt(value string, fallback int) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
