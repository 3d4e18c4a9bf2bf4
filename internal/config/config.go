// Package config loads the service configuration from an optional
// config.yaml, an optional .env file and the environment, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
// Nested keys map to environment variables with "." replaced by "_", so
// database.url is read from DATABASE_URL.
type Config struct {
	Port     string         `mapstructure:"port"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Assets   AssetsConfig   `mapstructure:"assets"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DatabaseConfig selects PostgreSQL when URL is set.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// SQLiteConfig selects SQLite when Path is set and no PostgreSQL URL is.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig enables the read-through cache and event publishing.
type RedisConfig struct {
	URL string        `mapstructure:"url"`
	TTL time.Duration `mapstructure:"ttl"`
}

type TradingConfig struct {
	InitialBalance decimal.Decimal `mapstructure:"initial_balance"`
	// PriceMaxAge rejects trades priced from older points; zero disables.
	PriceMaxAge time.Duration `mapstructure:"price_max_age"`
}

type AssetsConfig struct {
	File string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("database.url", "")
	v.SetDefault("sqlite.path", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", "30s")
	v.SetDefault("trading.initial_balance", "500")
	v.SetDefault("trading.price_max_age", "0s")
	v.SetDefault("assets.file", "")
}

// Load reads configuration from path/config.yaml (if present), a .env file
// in the working directory (if present) and environment variables.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		decimalHook,
	)))
	if err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	if c.Port == "" {
		return errors.New("config: port is required")
	}
	if c.Trading.InitialBalance.IsNegative() {
		return errors.New("config: trading.initial_balance must not be negative")
	}
	if c.Trading.PriceMaxAge < 0 {
		return errors.New("config: trading.price_max_age must not be negative")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses Level ("debug", "info", "warn", "error").
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("config: log.level: %w", err)
	}
	return lvl, nil
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

func decimalHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return decimal.NewFromString(strings.TrimSpace(v))
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	}
	return data, nil
}
