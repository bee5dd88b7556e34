package config

import (
	"fmt"
	"strings"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN           string `env:"DATABASE_DSN,required=true"`
	DBMaxOpenConns        int    `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns        int    `env:"DB_MAX_IDLE_CONNS,default=5"`
	RabbitMQURL           string `env:"RABBITMQ_URL"`
	RedisURL              string `env:"REDIS_URL"`
	BatchWebhookURL       string `env:"BATCH_WEBHOOK_URL"`
	WorkerConcurrency     int    `env:"WORKER_CONCURRENCY,default=2"`
	GenerateMaxAttempts   int    `env:"GENERATE_MAX_ATTEMPTS,default=3"`
	VerifyRateLimitPerSec int    `env:"VERIFY_RATE_LIMIT_PER_SEC,default=20"`
	APIPort               int    `env:"API_PORT,default=8080"`
	LogLevel              string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if strings.TrimSpace(cfg.DatabaseDSN) == "" {
		return nil, fmt.Errorf("failed to load config: DATABASE_DSN is empty")
	}
	return &cfg, nil
}

// GenerationEnabled reports whether both the broker and the job store are
// configured. Without them, submit and status answer unavailable.
func (c *Config) GenerationEnabled() bool {
	return strings.TrimSpace(c.RabbitMQURL) != "" && strings.TrimSpace(c.RedisURL) != ""
}

func (c *Config) RedisEnabled() bool {
	return strings.TrimSpace(c.RedisURL) != ""
}
