/**
 * @description
 * This file handles the configuration management for the onboarding-service.
 * It uses the Viper library to read settings from environment variables or a .env file.
 *
 * @dependencies
 * - github.com/spf13/viper: For configuration management.
 */
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
type Config struct {
	ServerPort              string `mapstructure:"SERVER_PORT"`
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	RedisURL                string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix          string `mapstructure:"REDIS_KEY_PREFIX"`
	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	LedgerAPIBaseURL        string `mapstructure:"LEDGER_API_BASE_URL"`
	LedgerSecretKey         string `mapstructure:"LEDGER_SECRET_KEY"`
	LedgerWebhookSecret     string `mapstructure:"LEDGER_WEBHOOK_SECRET"`
	LedgerTimeoutSeconds    int    `mapstructure:"LEDGER_TIMEOUT_SECONDS"`
	WebhookToleranceSeconds int    `mapstructure:"WEBHOOK_TOLERANCE_SECONDS"`
	PublicBaseURL           string `mapstructure:"PUBLIC_BASE_URL"`
	AuthJWKSURL             string `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience            string `mapstructure:"AUTH_AUDIENCE"`
	AuthIssuer              string `mapstructure:"AUTH_ISSUER"`
	CORSAllowedOrigins      string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	CardCurrency            string `mapstructure:"CARD_CURRENCY"`
	IdempotencyTTLMinutes   int    `mapstructure:"IDEMPOTENCY_TTL_MINUTES"`
	ReconcileSchedule       string `mapstructure:"RECONCILE_SCHEDULE"`
	ReconcileBatchSize      int    `mapstructure:"RECONCILE_BATCH_SIZE"`
	MigrationsEnabled       bool   `mapstructure:"MIGRATIONS_ENABLED"`
	RateLimitPerMinute      int    `mapstructure:"RATE_LIMIT_PER_MINUTE"`
}

var envKeys = []string{
	"SERVER_PORT",
	"DATABASE_URL",
	"REDIS_URL",
	"REDIS_KEY_PREFIX",
	"RABBITMQ_URL",
	"LEDGER_API_BASE_URL",
	"LEDGER_SECRET_KEY",
	"LEDGER_WEBHOOK_SECRET",
	"LEDGER_TIMEOUT_SECONDS",
	"WEBHOOK_TOLERANCE_SECONDS",
	"PUBLIC_BASE_URL",
	"AUTH_JWKS_URL",
	"AUTH_AUDIENCE",
	"AUTH_ISSUER",
	"CORS_ALLOWED_ORIGINS",
	"CARD_CURRENCY",
	"IDEMPOTENCY_TTL_MINUTES",
	"RECONCILE_SCHEDULE",
	"RECONCILE_BATCH_SIZE",
	"MIGRATIONS_ENABLED",
	"RATE_LIMIT_PER_MINUTE",
}

var (
	serviceRequired  = []string{"DATABASE_URL", "LEDGER_SECRET_KEY", "LEDGER_WEBHOOK_SECRET", "AUTH_JWKS_URL"}
	operatorRequired = []string{"DATABASE_URL", "LEDGER_SECRET_KEY"}
)

// LoadConfig reads configuration from file or environment variables.
func LoadConfig() (*Config, error) {
	return load(serviceRequired)
}

// LoadOperatorConfig loads the subset needed by operator tools, which talk to
// the database and the ledger but serve no HTTP.
func LoadOperatorConfig() (*Config, error) {
	return load(operatorRequired)
}

func load(required []string) (*Config, error) {
	viper.AddConfigPath(".")
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8090")
	viper.SetDefault("REDIS_KEY_PREFIX", "onboarding")
	viper.SetDefault("LEDGER_API_BASE_URL", "https://api.stripe.com")
	viper.SetDefault("LEDGER_TIMEOUT_SECONDS", 30)
	viper.SetDefault("WEBHOOK_TOLERANCE_SECONDS", 300)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	viper.SetDefault("CARD_CURRENCY", "usd")
	viper.SetDefault("IDEMPOTENCY_TTL_MINUTES", 60)
	viper.SetDefault("RECONCILE_SCHEDULE", "*/15 * * * *") // Every 15 minutes.
	viper.SetDefault("RECONCILE_BATCH_SIZE", 50)
	viper.SetDefault("MIGRATIONS_ENABLED", true)
	viper.SetDefault("RATE_LIMIT_PER_MINUTE", 30)

	// Bind envs explicitly so containers pick them up reliably
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.CardCurrency = strings.ToLower(strings.TrimSpace(config.CardCurrency))
	config.PublicBaseURL = strings.TrimRight(strings.TrimSpace(config.PublicBaseURL), "/")

	if err := config.validate(required); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate(required []string) error {
	values := map[string]string{
		"DATABASE_URL":          c.DatabaseURL,
		"LEDGER_SECRET_KEY":     c.LedgerSecretKey,
		"LEDGER_WEBHOOK_SECRET": c.LedgerWebhookSecret,
		"AUTH_JWKS_URL":         c.AuthJWKSURL,
	}
	var missing []string
	for _, key := range required {
		if strings.TrimSpace(values[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.LedgerTimeoutSeconds <= 0 {
		return errors.New("LEDGER_TIMEOUT_SECONDS must be positive")
	}
	if c.WebhookToleranceSeconds < 0 {
		return errors.New("WEBHOOK_TOLERANCE_SECONDS must not be negative")
	}
	if c.ReconcileBatchSize <= 0 {
		return errors.New("RECONCILE_BATCH_SIZE must be positive")
	}
	return nil
}

// LedgerTimeout is the per-call HTTP timeout for the ledger client.
func (c *Config) LedgerTimeout() time.Duration {
	return time.Duration(c.LedgerTimeoutSeconds) * time.Second
}

// WebhookTolerance is the accepted clock skew for webhook signatures.
func (c *Config) WebhookTolerance() time.Duration {
	return time.Duration(c.WebhookToleranceSeconds) * time.Second
}

// IdempotencyTTL is how long a reserved createAccount key is held.
func (c *Config) IdempotencyTTL() time.Duration {
	if c.IdempotencyTTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.IdempotencyTTLMinutes) * time.Minute
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
