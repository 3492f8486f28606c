package config

import (
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

type Config struct {
	AppEnv        string `env:"APP_ENV" envDefault:"development"`
	APIAddr       string `env:"API_ADDR" envDefault:":8080"`
	PostgresDSN   string `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	// EngineMode selects legacy (immediate) or queue (durable) execution
	// for trigger firings.
	EngineMode string `env:"WORKFLOW_ENGINE_MODE" envDefault:"queue"`
	// QueueAllowlist is a comma-separated list of org ids for which queue
	// mode applies. Empty enables every org.
	QueueAllowlist  string `env:"WORKFLOW_QUEUE_ALLOWLIST"`
	PollIntervalSec int    `env:"WORKFLOW_POLL_INTERVAL_SEC" envDefault:"30"`
	BatchSize       int    `env:"WORKFLOW_BATCH_SIZE" envDefault:"100"`
	MaxAttempts     int    `env:"WORKFLOW_MAX_ATTEMPTS" envDefault:"3"`

	InternalAPIKey string `env:"INTERNAL_API_KEY"`
	MigrationsDir  string `env:"MIGRATIONS_DIR" envDefault:"migrations"`
}

func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, errors.Wrap(err, "parse environment")
	}
	return c, nil
}

func (c Config) IsProduction() bool { return c.AppEnv == "production" }

// AllowlistOrgs parses the comma-separated allowlist, dropping blanks.
func (c Config) AllowlistOrgs() []string {
	var out []string
	for _, org := range strings.Split(c.QueueAllowlist, ",") {
		if org = strings.TrimSpace(org); org != "" {
			out = append(out, org)
		}
	}
	return out
}
