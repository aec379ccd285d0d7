// Package config defines the process configuration for the OCS saver Lambdas.
// Configuration is loaded once at cold start and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"ocssaver/internal/types"
)

// SecretString is an alias for types.SecretString so credentials read from the
// environment stay redacted in logs.
type SecretString = types.SecretString

// Config is the top-level configuration. Each Lambda hands its components
// only the sub-structs they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"prod" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	AWS           AWSConfig
	Storage       StorageConfig
	Packager      PackagerConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// AWSConfig holds region, credential and endpoint settings shared by every
// AWS client. The credential trio is optional: when the key id or secret is
// missing the SDK default chain (Lambda role) is used.
type AWSConfig struct {
	Region          string       `envconfig:"AWS_REGION" default:"us-east-1" validate:"required"`
	AccessKeyID     string       `envconfig:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey SecretString `envconfig:"AWS_SECRET_ACCESS_KEY"`
	SessionToken    SecretString `envconfig:"AWS_SESSION_TOKEN"`

	// S3-compatible endpoint override for non-production stores (MinIO,
	// LocalStack). Enables path-style addressing when set.
	Endpoint string `envconfig:"S3_ENDPOINT" validate:"omitempty,url"`
}

// HasStaticCredentials reports whether an explicit key pair was configured.
func (c AWSConfig) HasStaticCredentials() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey.IsSet()
}

// StorageConfig locates the fragments and archives. Only the packager needs
// it; the processor writes through the delivery stream.
type StorageConfig struct {
	Bucket       string `envconfig:"S3_BUCKET" validate:"required"`
	OutputPrefix string `envconfig:"S3_PREFIX_OUTPUT" validate:"required"`
	SourcePrefix string `envconfig:"S3_PREFIX_SOURCE" validate:"required"`
}

// PackagerConfig tunes the consolidation run.
type PackagerConfig struct {
	FetchConcurrency     int    `envconfig:"FETCH_CONCURRENCY" default:"4" validate:"min=1,max=64"`
	ScratchDir           string `envconfig:"SCRATCH_DIR"` // empty means os.TempDir()
	RecoveredContentType string `envconfig:"RECOVERED_CONTENT_TYPE" default:"text/plain" validate:"required"`
	RequireFragments     bool   `envconfig:"REQUIRE_FRAGMENTS" default:"false"`
}

// ObservabilityConfig holds metrics settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"OCSSaver"`
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
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
