package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/robfig/cron/v3"
)

type Config struct {
	DatabaseDriver string `env:"DATABASE_DRIVER,default=postgres"`
	DatabaseDSN    string `env:"DATABASE_DSN,required=true"`
	RedisURL       string `env:"REDIS_URL,required=true"`
	RabbitMQURL    string `env:"RABBITMQ_URL"`

	GatewayURL        string `env:"GATEWAY_URL,required=true"`
	GatewayTimeoutRaw string `env:"GATEWAY_TIMEOUT,default=5s"`

	AccountID           string `env:"ACCOUNT_ID,default=default"`
	CostPerMessage      int64  `env:"COST_PER_MESSAGE,default=10"`
	Currency            string `env:"CURRENCY,default=credits"`
	InitialBalance      int64  `env:"INITIAL_BALANCE,default=0"`
	LowBalanceThreshold int64  `env:"LOW_BALANCE_THRESHOLD,default=50"`
	TemplatesFile       string `env:"TEMPLATES_FILE"`

	AlertWebhookURL    string `env:"ALERT_WEBHOOK_URL"`
	AlertWebhookSecret string `env:"ALERT_WEBHOOK_SECRET"`
	SMTPHost           string `env:"SMTP_HOST"`
	SMTPPort           int    `env:"SMTP_PORT,default=587"`
	SMTPUsername       string `env:"SMTP_USERNAME"`
	SMTPPassword       string `env:"SMTP_PASSWORD"`
	AlertEmailFrom     string `env:"ALERT_EMAIL_FROM"`
	AlertEmailToRaw    string `env:"ALERT_EMAIL_TO"`

	RateLimitPerSec   int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=4"`
	ReconcileEveryRaw string `env:"RECONCILE_INTERVAL,default=30s"`
	ReconcileStaleRaw string `env:"RECONCILE_STALE_AFTER,default=2m"`
	AuditSchedule     string `env:"AUDIT_SCHEDULE,default=0 3 * * *"`
	APIPort           int    `env:"API_PORT,default=8080"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`

	GatewayTimeout      time.Duration
	ReconcileInterval   time.Duration
	ReconcileStaleAfter time.Duration
	AlertEmailTo        []string
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// QueueEnabled reports whether sends go through RabbitMQ and the worker.
func (c *Config) QueueEnabled() bool {
	return strings.TrimSpace(c.RabbitMQURL) != ""
}

func (c *Config) EmailAlertsEnabled() bool {
	return c.SMTPHost != "" && c.AlertEmailFrom != "" && len(c.AlertEmailTo) > 0
}

func (c *Config) normalize() error {
	var err error
	if c.GatewayTimeout, err = parsePositiveDuration("GATEWAY_TIMEOUT", c.GatewayTimeoutRaw); err != nil {
		return err
	}
	if c.ReconcileInterval, err = parsePositiveDuration("RECONCILE_INTERVAL", c.ReconcileEveryRaw); err != nil {
		return err
	}
	if c.ReconcileStaleAfter, err = parsePositiveDuration("RECONCILE_STALE_AFTER", c.ReconcileStaleRaw); err != nil {
		return err
	}
	// A stale message must have outlived every gateway attempt.
	if c.ReconcileStaleAfter <= 4*c.GatewayTimeout {
		return fmt.Errorf("RECONCILE_STALE_AFTER (%s) must exceed four times GATEWAY_TIMEOUT (%s)", c.ReconcileStaleAfter, c.GatewayTimeout)
	}

	if c.CostPerMessage <= 0 {
		return fmt.Errorf("COST_PER_MESSAGE must be positive (got %d)", c.CostPerMessage)
	}
	if c.InitialBalance < 0 {
		return fmt.Errorf("INITIAL_BALANCE must not be negative (got %d)", c.InitialBalance)
	}
	if c.LowBalanceThreshold < 0 {
		return fmt.Errorf("LOW_BALANCE_THRESHOLD must not be negative (got %d)", c.LowBalanceThreshold)
	}
	if strings.TrimSpace(c.AccountID) == "" {
		return fmt.Errorf("ACCOUNT_ID must not be blank")
	}

	switch strings.ToLower(c.DatabaseDriver) {
	case "postgres", "postgresql", "sqlite":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite (got %q)", c.DatabaseDriver)
	}

	if _, err := cron.ParseStandard(c.AuditSchedule); err != nil {
		return fmt.Errorf("invalid AUDIT_SCHEDULE %q: %w", c.AuditSchedule, err)
	}

	c.AlertEmailTo = c.AlertEmailTo[:0]
	for _, addr := range strings.Split(c.AlertEmailToRaw, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			c.AlertEmailTo = append(c.AlertEmailTo, addr)
		}
	}
	return nil
}

func parsePositiveDuration(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive (got %s)", name, d)
	}
	return d, nil
}
