// Package config defines the configuration surface for the Inkwell
// notification queue service. Configuration is loaded once at process start
// and is immutable thereafter; sub-components receive only the config
// subsets they require.
//
// Values come from the OS environment, with a local .env file as a fallback.
// A missing required value or invalid format fails the process at startup.
package config

import (
	"time"
)

// Config is the top-level configuration struct.
type Config struct {
	// System metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"inkwell-notifyd"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	Queue    QueueConfig
	Email    EmailConfig
}

// ServerConfig holds the admin HTTP server settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// AdminToken guards the admin surface. Empty disables the check, which
	// is only acceptable for APP_ENV=local.
	AdminToken string `envconfig:"ADMIN_TOKEN"`
}

// DatabaseConfig holds connection and pool tuning parameters.
type DatabaseConfig struct {
	URL string `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// QueueConfig holds the notification queue tuning parameters.
type QueueConfig struct {
	// Enabled is the kill switch: when false, the scheduler never starts and
	// every admin endpoint answers a disabled-state message.
	Enabled bool `envconfig:"QUEUE_ENABLED" default:"true"`

	// Timezone is the business's regional timezone used for hour-slot
	// matching and calendar-day keys, fixed per deployment.
	Timezone string `envconfig:"QUEUE_TIMEZONE" default:"UTC" validate:"required"`

	// BatchSize bounds concurrent deliveries within one dispatcher pass.
	BatchSize int `envconfig:"QUEUE_BATCH_SIZE" default:"20" validate:"min=1"`

	// BatchDelay is the pause between concurrent batches within one pass,
	// the sole rate limit toward the delivery provider.
	BatchDelay time.Duration `envconfig:"QUEUE_BATCH_DELAY" default:"1s"`

	// MaxRetries bounds delivery attempts per job (attempts = MaxRetries+1).
	MaxRetries int `envconfig:"QUEUE_MAX_RETRIES" default:"3" validate:"min=0"`

	// DispatchInterval is the dispatcher tick period. Production deployments
	// use the 2m default; development environments typically set 30s.
	DispatchInterval time.Duration `envconfig:"QUEUE_DISPATCH_INTERVAL" default:"2m"`

	// HourlyTolerance is how far past the top of the hour the batch tick may
	// fire and still run. A later tick is skipped outright.
	HourlyTolerance time.Duration `envconfig:"QUEUE_HOURLY_TOLERANCE" default:"5m"`

	// Retention is how long terminal jobs and claims are kept before the
	// daily maintenance pass purges them.
	Retention time.Duration `envconfig:"QUEUE_RETENTION" default:"720h"`

	// ClaimStaleAfter is the age past which a claim stuck in 'processing'
	// (worker crashed mid-flight) is reclaimed by maintenance.
	ClaimStaleAfter time.Duration `envconfig:"QUEUE_CLAIM_STALE_AFTER" default:"15m"`

	// ArchiveDir receives gzip JSONL archives of purged jobs. Empty skips
	// archival.
	ArchiveDir string `envconfig:"QUEUE_ARCHIVE_DIR"`
}

// EmailConfig holds delivery provider settings. An empty APIKey selects the
// stub provider, which logs instead of sending.
type EmailConfig struct {
	APIKey      string        `envconfig:"SENDGRID_API_KEY"`
	FromAddress string        `envconfig:"EMAIL_FROM_ADDRESS" default:"digest@inkwell.app"`
	FromName    string        `envconfig:"EMAIL_FROM_NAME" default:"Inkwell"`
	SendTimeout time.Duration `envconfig:"EMAIL_SEND_TIMEOUT" default:"10s"`
}

// IsProductionLike reports whether the deployment should behave like
// production (real scheduler cadence, token required).
func (c *Config) IsProductionLike() bool {
	return c.Environment == "staging" || c.Environment == "prod"
}
