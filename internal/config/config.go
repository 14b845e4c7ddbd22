// Package config содержит логику чтения конфигурации сервиса эскроу-сделок.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress           string        `env:"RUN_ADDRESS"`
	DatabaseURI          string        `env:"DATABASE_URI"`
	PriceAPIURL          string        `env:"PRICE_API_URL"`
	PriceCurrency        string        `env:"PRICE_CURRENCY"`
	PriceRefreshSchedule string        `env:"PRICE_REFRESH_SCHEDULE"`
	TelegramBotToken     string        `env:"TELEGRAM_BOT_TOKEN"`
	AuthSecret           string        `env:"AUTH_SECRET"`
	FeeConfigFile        string        `env:"FEE_CONFIG_FILE"`
	BotMaxInflight       int           `env:"BOT_MAX_INFLIGHT"`
	LogLevel             string        `env:"LOG_LEVEL"`
	LoginMaxAge          time.Duration `env:"LOGIN_MAX_AGE"`
}

const (
	defaultRunAddress      = "localhost:8080"
	defaultPriceCurrency   = "inr"
	defaultRefreshSchedule = "@every 1m"
	defaultBotMaxInflight  = 8
	defaultLogLevel        = "info"
	defaultLoginMaxAge     = 24 * time.Hour
)

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	fromEnv := *cfg

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory store when empty")
	flag.StringVar(&cfg.PriceAPIURL, "p", "", "price API base URL")
	flag.StringVar(&cfg.TelegramBotToken, "t", "", "telegram bot token, bot disabled when empty")
	flag.StringVar(&cfg.FeeConfigFile, "f", "", "YAML file with initial fee settings")

	flag.Parse()

	if fromEnv.RunAddress != "" {
		cfg.RunAddress = fromEnv.RunAddress
	}
	if fromEnv.DatabaseURI != "" {
		cfg.DatabaseURI = fromEnv.DatabaseURI
	}
	if fromEnv.PriceAPIURL != "" {
		cfg.PriceAPIURL = fromEnv.PriceAPIURL
	}
	if fromEnv.TelegramBotToken != "" {
		cfg.TelegramBotToken = fromEnv.TelegramBotToken
	}
	if fromEnv.FeeConfigFile != "" {
		cfg.FeeConfigFile = fromEnv.FeeConfigFile
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.PriceCurrency == "" {
		cfg.PriceCurrency = defaultPriceCurrency
	}
	if cfg.PriceRefreshSchedule == "" {
		cfg.PriceRefreshSchedule = defaultRefreshSchedule
	}
	if cfg.BotMaxInflight <= 0 {
		cfg.BotMaxInflight = defaultBotMaxInflight
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.LoginMaxAge <= 0 {
		cfg.LoginMaxAge = defaultLoginMaxAge
	}

	return cfg, nil
}

// LoadFeeSeed читает начальные настройки комиссии из YAML-файла вида
//
//	fee_type: percentage
//	fee_value: 1.5
//
// Пустой путь означает отсутствие файла.
func LoadFeeSeed(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fee config: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse fee config: %w", err)
	}

	entries := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v.(type) {
		case string, int, float64, bool:
			entries[k] = fmt.Sprint(v)
		default:
			return nil, fmt.Errorf("parse fee config: %s must be a scalar", k)
		}
	}
	return entries, nil
}
