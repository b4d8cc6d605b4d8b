package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	BotToken      string `env:"BOT_TOKEN,required,notEmpty"`
	StoreDriver   string `env:"STORE_DRIVER" envDefault:"memory"` // postgres | sqlite | memory
	DatabaseURL   string `env:"DATABASE_URL"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"storyfold.db"`
	AnswerTimeout int    `env:"ANSWER_TIMEOUT" envDefault:"120"` // seconds
	Debug         bool   `env:"DEBUG"`
}

// Load reads .env if present, then parses the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	switch cfg.StoreDriver {
	case "postgres", "sqlite", "memory":
	default:
		return Config{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.StoreDriver == "postgres" && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required for the postgres driver")
	}
	return cfg, nil
}

func (c Config) Timeout() time.Duration {
	return time.Duration(c.AnswerTimeout) * time.Second
}
