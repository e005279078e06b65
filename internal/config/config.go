// Package config defines the process configuration for the booking API and
// the schedule worker. Configuration is loaded once at start-up and is
// immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format fails start-up.
package config

import (
	"time"

	"classbook/internal/types"
)

// SecretString is an alias for types.SecretString so config consumers do not
// need to import the types package for credentials.
type SecretString = types.SecretString

// Config is the top-level configuration of the booking API.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"classbook-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Tenancy       TenancyConfig
	Booking       BookingConfig
	Auth          AuthConfig
	Redis         RedisConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// WorkerConfig is the reduced configuration of the schedule worker. It does
// not serve HTTP and never validates tokens.
type WorkerConfig struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"classbook-schedule-worker"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Database      DatabaseConfig
	AWS           AWSConfig
	Booking       BookingConfig
	Observability ObservabilityConfig

	// JobLockTTL bounds how long a crashed worker can hold an expansion.
	JobLockTTL time.Duration `envconfig:"JOB_LOCK_TTL" default:"5m"`

	Build BuildInfo
}

// MigrateConfig is the configuration of the migrate command.
type MigrateConfig struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Database DatabaseConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2" validate:"min=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region         string `envconfig:"AWS_REGION" default:"us-east-1"`
	ExpansionQueue string `envconfig:"SQS_SCHEDULE_EXPANSION" validate:"required,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// TenancyConfig controls how request hosts map to tenants.
type TenancyConfig struct {
	MultiTenant bool `envconfig:"MULTI_TENANT" default:"true"`
	// BaseDomain is stripped from the host before the leftmost label is taken
	// as the tenant slug, e.g. "book.example.com".
	BaseDomain string `envconfig:"TENANT_BASE_DOMAIN" validate:"required_if=MultiTenant true"`
	// DefaultTenantSlug is used by single-tenant deployments. Empty means no
	// tenant filter is applied.
	DefaultTenantSlug string `envconfig:"DEFAULT_TENANT_SLUG"`

	LookupTimeout  time.Duration `envconfig:"TENANT_LOOKUP_TIMEOUT" default:"500ms"`
	BreakerTimeout time.Duration `envconfig:"TENANT_BREAKER_TIMEOUT" default:"30s"`
}

// BookingConfig holds rules shared by the coordinator and the expander.
type BookingConfig struct {
	// Timezone anchors quota windows and template wall-clock times.
	Timezone string `envconfig:"STUDIO_TIMEZONE" default:"UTC" validate:"timezone"`
}

// Location loads the configured timezone. Validation guarantees it exists.
func (c BookingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AuthConfig holds the token verification settings. Tokens are issued by an
// external identity service.
type AuthConfig struct {
	JWTSigningKey SecretString `envconfig:"JWT_SIGNING_KEY" validate:"required,min=32"`
	Issuer        string       `envconfig:"JWT_ISSUER" default:"classbook-identity"`
	Audience      string       `envconfig:"JWT_AUDIENCE" default:"classbook-api"`
}

// RedisConfig configures the rate limit store. An empty address disables
// rate limiting.
type RedisConfig struct {
	Addr           string        `envconfig:"REDIS_ADDR"`
	Password       SecretString  `envconfig:"REDIS_PASSWORD"`
	DB             int           `envconfig:"REDIS_DB" default:"0"`
	RequestsPerMin int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120" validate:"min=1"`
	Window         time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// SecurityConfig holds CORS settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds telemetry and monitoring settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Classbook"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
