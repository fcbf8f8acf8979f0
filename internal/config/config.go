package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when CONFIG_PATH is not set.
const DefaultPath = "internal/config/config.yaml"

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Platform  PlatformConfig  `yaml:"platform"`
	Whop      WhopConfig      `yaml:"whop"`
	Admin     AdminConfig     `yaml:"admin"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// PlatformConfig describes the marketplace operator: the pooled account
// payouts leave from and the fee it keeps on every settlement.
type PlatformConfig struct {
	CompanyID      string          `yaml:"company_id"`
	FeeRate        decimal.Decimal `yaml:"fee_rate"`
	Currency       string          `yaml:"currency"`
	SettlementLock time.Duration   `yaml:"settlement_lock_ttl"`
}

type WhopConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	WebhookSecret string        `yaml:"webhook_secret"`
	Timeout       time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type AdminConfig struct {
	Token string `yaml:"token"`
}

// Load reads yaml file, then applies .env and environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// secrets usually live in .env during development; missing file is fine
	_ = godotenv.Load()
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PathFromEnv returns CONFIG_PATH or the default location.
func PathFromEnv() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

func (c *Config) applyEnv() {
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		c.Postgres.DSN = c.Postgres.DSN + " password=" + pw
	}
	if v := os.Getenv("WHOP_API_KEY"); v != "" {
		c.Whop.APIKey = v
	}
	if v := os.Getenv("WHOP_WEBHOOK_SECRET"); v != "" {
		c.Whop.WebhookSecret = v
	}
	if v := os.Getenv("PLATFORM_COMPANY_ID"); v != "" {
		c.Platform.CompanyID = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Platform.FeeRate.IsZero() {
		c.Platform.FeeRate = decimal.RequireFromString("0.05")
	}
	if c.Platform.Currency == "" {
		c.Platform.Currency = "USD"
	}
	if c.Platform.SettlementLock == 0 {
		c.Platform.SettlementLock = 30 * time.Second
	}
	if c.Whop.BaseURL == "" {
		c.Whop.BaseURL = "https://api.whop.com/api/v1"
	}
	if c.Whop.Timeout == 0 {
		c.Whop.Timeout = 15 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 20
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 40
	}
}

// validate rejects settings that would let a settlement outlive its lock.
func (c *Config) validate() error {
	if c.Platform.SettlementLock <= c.Whop.Timeout {
		return fmt.Errorf("platform.settlement_lock_ttl (%s) must exceed whop.timeout (%s)",
			c.Platform.SettlementLock, c.Whop.Timeout)
	}
	return nil
}
