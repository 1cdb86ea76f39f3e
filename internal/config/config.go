// Package config содержит логику чтения конфигурации сервиса исполнения заказов.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	RedisURL    string `env:"REDIS_URL"`

	Env       string `env:"ENV" envDefault:"production"`
	JWTSecret string `env:"JWT_SECRET"`
	ClientURL string `env:"CLIENT_URL" envDefault:"http://localhost:3000"`
	Currency  string `env:"STORE_CURRENCY" envDefault:"NGN"`

	Paystack    PaystackConfig
	Flutterwave FlutterwaveConfig
	S3          S3Config
	SMTP        SMTPConfig
	Bank        BankConfig

	GatewayTimeout time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	StockSweepHour int           `env:"STOCK_SWEEP_HOUR" envDefault:"8"`
	MailRate       float64       `env:"MAIL_RATE" envDefault:"5"`
}

// PaystackConfig содержит параметры шлюза Paystack.
type PaystackConfig struct {
	BaseURL   string `env:"PAYSTACK_BASE_URL" envDefault:"https://api.paystack.co"`
	SecretKey string `env:"PAYSTACK_SECRET_KEY"`
}

// FlutterwaveConfig содержит параметры шлюза Flutterwave.
type FlutterwaveConfig struct {
	BaseURL     string `env:"FLUTTERWAVE_BASE_URL" envDefault:"https://api.flutterwave.com"`
	SecretKey   string `env:"FLUTTERWAVE_SECRET_KEY"`
	WebhookHash string `env:"FLUTTERWAVE_WEBHOOK_HASH"`
}

// S3Config содержит параметры хранилища изображений. Пустой бакет отключает загрузку файлов.
type S3Config struct {
	Bucket   string `env:"S3_BUCKET"`
	Region   string `env:"S3_REGION" envDefault:"us-east-1"`
	Endpoint string `env:"S3_ENDPOINT"`
}

// SMTPConfig содержит параметры отправки почты. Пустой адрес включает отправку в журнал.
type SMTPConfig struct {
	Addr     string `env:"SMTP_ADDR"`
	User     string `env:"SMTP_USER"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"EMAIL_FROM" envDefault:"no-reply@storefront.local"`
}

// BankConfig содержит реквизиты магазина для банковского перевода.
type BankConfig struct {
	Name          string `env:"BANK_NAME"`
	AccountName   string `env:"BANK_ACCOUNT_NAME"`
	AccountNumber string `env:"BANK_ACCOUNT_NUMBER"`
}

// Development сообщает, что сервис запущен в режиме разработки.
func (c *Config) Development() bool {
	return c.Env == "dev" || c.Env == "development"
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisURL := cfg.RedisURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisURL, "r", "redis://localhost:6379/0", "redis URL for the mail queue")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisURL != "" {
		cfg.RedisURL = envRedisURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if cfg.StockSweepHour < 0 || cfg.StockSweepHour > 23 {
		return nil, fmt.Errorf("STOCK_SWEEP_HOUR must be within 0..23, got %d", cfg.StockSweepHour)
	}
	if cfg.GatewayTimeout <= 0 {
		return nil, fmt.Errorf("GATEWAY_TIMEOUT must be positive, got %s", cfg.GatewayTimeout)
	}

	return cfg, nil
}
