package config

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port         string
	LogLevel     string `mapstructure:"log_level"`
	JWTSecret    string `mapstructure:"jwt_secret"`
	HistoryLimit int    `mapstructure:"history_limit"`
	Database     DatabaseConfig
	Redis        RedisConfig
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
}

type DatabaseConfig struct {
	Driver   string
	Host     string
	User     string
	Password string
	Name     string
	Port     string
	Path     string
}

// RedisConfig enables the cross-instance relay when Addr is set.
type RedisConfig struct {
	Addr    string
	Channel string
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// Load reads configuration from .env, config.yaml and environment variables.
// Environment variables use the flat names the server always used (PORT, DB_HOST, ...).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using system environment variables")
	}

	v := viper.New()

	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("history_limit", 50)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "projectchat")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.path", "projectchat.db")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.channel", "projectchat:rooms")
	v.SetDefault("rate_limit.rps", 10.0)
	v.SetDefault("rate_limit.burst", 20)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindings := map[string]string{
		"port":              "PORT",
		"log_level":         "LOG_LEVEL",
		"jwt_secret":        "JWT_SECRET",
		"history_limit":     "HISTORY_LIMIT",
		"database.driver":   "DB_DRIVER",
		"database.host":     "DB_HOST",
		"database.user":     "DB_USER",
		"database.password": "DB_PASS",
		"database.name":     "DB_NAME",
		"database.port":     "DB_PORT",
		"database.path":     "DB_PATH",
		"redis.addr":        "REDIS_ADDR",
		"redis.channel":     "REDIS_CHANNEL",
		"rate_limit.rps":    "RATE_LIMIT_RPS",
		"rate_limit.burst":  "RATE_LIMIT_BURST",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	return &cfg, nil
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
