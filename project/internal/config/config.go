package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port          string        `yaml:"port"`
	DatabaseURL   string        `yaml:"database_url"`
	LogLevel      string        `yaml:"log_level"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	ShopifyAPIKey    string `yaml:"shopify_api_key"`
	ShopifyAPISecret string `yaml:"-"`

	SupplierTimeout      time.Duration `yaml:"supplier_timeout"`
	SupplierMaxPerHost   int           `yaml:"supplier_max_per_host"`
	SupplierMaxBodyBytes int64         `yaml:"supplier_max_body_bytes"`

	CheckInterval  time.Duration `yaml:"check_interval"`
	MaxConcurrency int           `yaml:"max_concurrency"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

func defaults() *Config {
	return &Config{
		Port:                 "8080",
		DatabaseURL:          "",
		LogLevel:             "info",
		ShutdownGrace:        10 * time.Second,
		SupplierTimeout:      10 * time.Second,
		SupplierMaxPerHost:   4,
		SupplierMaxBodyBytes: 10 << 20,
		CheckInterval:        15 * time.Minute,
		MaxConcurrency:       8,
		KafkaTopic:           "supplysync.events",
		CORSAllowedOrigins:   []string{"https://admin.shopify.com"},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_FILE, .env files and the process environment, in that order of
// precedence (environment wins). Secrets are read from the environment only.
func Load() (*Config, error) {
	loadDotEnv()

	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.ShutdownGrace = getDuration("SHUTDOWN_GRACE", cfg.ShutdownGrace)
	cfg.ShopifyAPIKey = getEnv("SHOPIFY_API_KEY", cfg.ShopifyAPIKey)
	cfg.ShopifyAPISecret = getEnv("SHOPIFY_API_SECRET", "")
	cfg.SupplierTimeout = getDuration("SUPPLIER_TIMEOUT", cfg.SupplierTimeout)
	cfg.SupplierMaxPerHost = getInt("SUPPLIER_MAX_PER_HOST", cfg.SupplierMaxPerHost)
	cfg.SupplierMaxBodyBytes = int64(getInt("SUPPLIER_MAX_BODY_BYTES", int(cfg.SupplierMaxBodyBytes)))
	cfg.CheckInterval = getDuration("CHECK_INTERVAL", cfg.CheckInterval)
	cfg.MaxConcurrency = getInt("MAX_CONCURRENCY", cfg.MaxConcurrency)
	cfg.KafkaBrokers = getList("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.KafkaTopic)
	cfg.CORSAllowedOrigins = getList("CORS_ALLOWED_ORIGINS", cfg.CORSAllowedOrigins)

	if cfg.ShopifyAPISecret == "" {
		return nil, fmt.Errorf("SHOPIFY_API_SECRET is required")
	}
	if cfg.CheckInterval <= 0 {
		return nil, fmt.Errorf("check interval must be positive, got %s", cfg.CheckInterval)
	}
	return cfg, nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// loadDotEnv fills unset variables from .env.local and .env. Existing
// environment variables are never overridden.
func loadDotEnv() {
	for _, name := range []string{".env.local", ".env"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			slog.Warn("failed to load env file", "file", name, "error", err)
		}
	}
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if str := os.Getenv(key); str != "" {
		if value, err := strconv.Atoi(str); err == nil {
			return value
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if str := os.Getenv(key); str != "" {
		if value, err := time.ParseDuration(str); err == nil {
			return value
		}
	}
	return defaultValue
}

func getList(key string, defaultValue []string) []string {
	str := os.Getenv(key)
	if str == "" {
		return defaultValue
	}
	var values []string
	for _, part := range strings.Split(str, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}
