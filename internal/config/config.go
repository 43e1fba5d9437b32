// Package config defines the configuration structure for the alert relay.
// Configuration is loaded once at process start and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	CLI flag (run command only) -> OS Environment -> Dotenv File -> AWS SSM Parameter Store
//
// A missing required value or invalid format is fatal at startup.
package config

import (
	"path/filepath"
	"time"

	"alertstream/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Components receive only the
// subset they need.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Verbose     bool   `envconfig:"VERBOSE" default:"false"`

	Feed          FeedConfig
	Session       SessionConfig
	Inbox         InboxConfig
	Message       MessageConfig
	Delivery      DeliveryConfig
	Dedup         DedupConfig
	Database      DatabaseConfig
	Webhook       WebhookConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// FeedConfig holds the remote social-feed endpoint and credentials.
type FeedConfig struct {
	PDSURL    string        `envconfig:"FEED_PDS_URL" validate:"required,url"`
	Handle    string        `envconfig:"FEED_HANDLE" validate:"required"`
	Password  SecretString  `envconfig:"FEED_PASSWORD" validate:"required"`
	UserAgent string        `envconfig:"FEED_USER_AGENT" default:"alertstream/1.0"`
	Timeout   time.Duration `envconfig:"FEED_TIMEOUT" default:"15s"`
}

// SessionConfig tunes the session manager.
type SessionConfig struct {
	DefaultTTL      time.Duration `envconfig:"SESSION_DEFAULT_TTL" default:"3600s" validate:"min=1s"`
	LoginMaxRetries int           `envconfig:"LOGIN_MAX_RETRIES" default:"3" validate:"min=0,max=10"`
}

// InboxConfig describes where alerts come from and where artifacts go.
type InboxConfig struct {
	Source               string `envconfig:"ALERT_SOURCE" default:"file" validate:"oneof=file database"`
	Root                 string `envconfig:"INBOX_ROOT" default:"inbox" validate:"required"`
	FilePrefix           string `envconfig:"ALERT_FILE_PREFIX" default:"alert_" validate:"required"`
	MediaDir             string `envconfig:"MEDIA_DIR" default:"media"`
	CheckIntervalSeconds int    `envconfig:"ALERT_CHECK_INTERVAL" default:"5" validate:"min=1"`
	Workers              int    `envconfig:"WORKERS" default:"2" validate:"min=1,max=16"`

	// ClaimTimeout is the age after which a ".processing" file is treated as
	// abandoned by a crashed process and returned to pending.
	ClaimTimeout time.Duration `envconfig:"CLAIM_TIMEOUT" default:"10m"`
}

// CheckInterval returns the poll interval.
func (c InboxConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

// MessageConfig holds formatting limits.
type MessageConfig struct {
	MaxChars           int      `envconfig:"MESSAGE_MAX_CHARS" default:"300" validate:"min=40"`
	Tags               []string `envconfig:"FEED_TAGS"`
	MaxAttachmentBytes int      `envconfig:"MAX_ATTACHMENT_BYTES" default:"1000000" validate:"min=1"`
	MaxAttachments     int      `envconfig:"MAX_ATTACHMENTS" default:"4" validate:"min=0,max=4"`
}

// DeliveryConfig is the per-alert transient retry budget.
type DeliveryConfig struct {
	MaxAttempts   int           `envconfig:"DELIVERY_MAX_ATTEMPTS" default:"3" validate:"min=1,max=10"`
	BackoffBase   time.Duration `envconfig:"DELIVERY_BACKOFF_BASE" default:"1s"`
	BackoffMax    time.Duration `envconfig:"DELIVERY_BACKOFF_MAX" default:"10s"`
	BackoffFactor float64       `envconfig:"DELIVERY_BACKOFF_FACTOR" default:"2" validate:"gte=1"`
	Timeout       time.Duration `envconfig:"DELIVERY_TIMEOUT" default:"20s"`
}

// DedupConfig locates the archive used for duplicate detection.
type DedupConfig struct {
	ArchiveDir string `envconfig:"ARCHIVE_DIR" default:"archive" validate:"required"`
	Compress   bool   `envconfig:"ARCHIVE_COMPRESS" default:"false"`
	Index      string `envconfig:"DEDUP_INDEX" default:"memory" validate:"oneof=memory sqlite"`
	SQLitePath string `envconfig:"DEDUP_SQLITE_PATH"`
}

// IndexPath returns the sqlite index location, defaulting into the archive.
func (c DedupConfig) IndexPath() string {
	if c.SQLitePath != "" {
		return c.SQLitePath
	}
	return filepath.Join(c.ArchiveDir, "dedup.db")
}

// DatabaseConfig holds the optional PostgreSQL alert source.
type DatabaseConfig struct {
	URL          SecretString  `envconfig:"DATABASE_URL"`
	MaxConns     int32         `envconfig:"DB_MAX_CONNS" default:"4" validate:"min=1"`
	BatchSize    int           `envconfig:"DB_BATCH_SIZE" default:"25" validate:"min=1"`
	ClaimTimeout time.Duration `envconfig:"DB_CLAIM_TIMEOUT" default:"10m"`
}

// WebhookConfig holds the optional webhook notification channel.
type WebhookConfig struct {
	URL       string        `envconfig:"WEBHOOK_URL" validate:"omitempty,url"`
	Secret    SecretString  `envconfig:"WEBHOOK_SECRET"`
	UserAgent string        `envconfig:"WEBHOOK_USER_AGENT" default:"alertstream-webhook/1.0"`
	Timeout   time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`

	// Platform forces a payload format instead of URL detection
	// (slack, discord, teams, google_chat, generic).
	Platform     string `envconfig:"WEBHOOK_PLATFORM" validate:"omitempty,oneof=slack discord teams google_chat generic"`
	MaxRedirects int    `envconfig:"WEBHOOK_MAX_REDIRECTS" default:"3" validate:"min=0"`
	AllowPrivate bool   `envconfig:"WEBHOOK_ALLOW_PRIVATE" default:"false"`
}

// AWSConfig holds AWS regional configuration and the outcome queue.
type AWSConfig struct {
	Region          string `envconfig:"AWS_REGION" default:"us-east-1"`
	OutcomeQueueURL string `envconfig:"OUTCOME_QUEUE_URL" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ObservabilityConfig holds telemetry and the optional HTTP surface.
type ObservabilityConfig struct {
	MetricsBackend  string `envconfig:"METRICS_BACKEND" default:"prometheus" validate:"oneof=none prometheus cloudwatch"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"AlertStream"`
	HTTPAddr        string `envconfig:"HTTP_ADDR"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a value could not be parsed into its target type.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
