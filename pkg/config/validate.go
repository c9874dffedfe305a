package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "store.driver").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All validation errors are collected and
// returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateGuardrail(&cfg.Guardrail)...)
	errs = append(errs, validateQueue(&cfg.Queue)...)
	errs = append(errs, validateConsensus(&cfg.Consensus)...)
	errs = append(errs, validateAudit(&cfg.Audit)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateStore(cfg *StoreConfig) []FieldError {
	var errs []FieldError

	switch cfg.Driver {
	case "memory":
	case "sqlite", "sqlite3", "postgres":
		if cfg.DSN == "" {
			errs = append(errs, FieldError{
				Field:   "store.dsn",
				Message: fmt.Sprintf("must be set for driver %q", cfg.Driver),
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "store.driver",
			Message: fmt.Sprintf("must be one of: memory, sqlite, sqlite3, postgres (got %q)", cfg.Driver),
		})
	}

	if cfg.MaxOpenConns < 0 {
		errs = append(errs, FieldError{Field: "store.max_open_conns", Message: "must not be negative"})
	}
	if cfg.MaxIdleConns < 0 {
		errs = append(errs, FieldError{Field: "store.max_idle_conns", Message: "must not be negative"})
	}
	if cfg.BusyTimeout < 0 {
		errs = append(errs, FieldError{Field: "store.busy_timeout", Message: "must not be negative"})
	}

	return errs
}

func validateGuardrail(cfg *GuardrailConfig) []FieldError {
	var errs []FieldError

	switch cfg.Mode {
	case "file":
		if cfg.Path == "" {
			errs = append(errs, FieldError{Field: "guardrail.path", Message: "must be set in file mode"})
		}
	case "git":
		if cfg.Git.Repository == "" {
			errs = append(errs, FieldError{Field: "guardrail.git.repository", Message: "must be set in git mode"})
		}
		if cfg.Watch {
			errs = append(errs, FieldError{Field: "guardrail.watch", Message: "file watching is not supported in git mode"})
		}
		if err := validateSchedule(cfg.Git.PollSchedule); err != nil {
			errs = append(errs, FieldError{Field: "guardrail.git.poll_schedule", Message: err.Error()})
		}
		switch cfg.Git.Auth.Type {
		case "none":
		case "token":
			if cfg.Git.Auth.Token == "" {
				errs = append(errs, FieldError{Field: "guardrail.git.auth.token", Message: "must be set for token auth"})
			}
		default:
			errs = append(errs, FieldError{
				Field:   "guardrail.git.auth.type",
				Message: fmt.Sprintf("must be one of: none, token (got %q)", cfg.Git.Auth.Type),
			})
		}
		if cfg.Git.Depth < 0 {
			errs = append(errs, FieldError{Field: "guardrail.git.depth", Message: "must not be negative"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "guardrail.mode",
			Message: fmt.Sprintf("must be one of: file, git (got %q)", cfg.Mode),
		})
	}

	if cfg.MaxFileSize <= 0 {
		errs = append(errs, FieldError{Field: "guardrail.max_file_size", Message: "must be positive"})
	}
	if cfg.DefaultQuorumSize < 1 {
		errs = append(errs, FieldError{Field: "guardrail.default_quorum_size", Message: "must be at least 1"})
	}
	if cfg.WatchDebounce < 0 {
		errs = append(errs, FieldError{Field: "guardrail.watch_debounce", Message: "must not be negative"})
	}

	switch cfg.Cache.Backend {
	case "none", "memory":
	case "redis":
		if cfg.Cache.Redis.Address == "" {
			errs = append(errs, FieldError{Field: "guardrail.cache.redis.address", Message: "must be set for redis cache"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "guardrail.cache.backend",
			Message: fmt.Sprintf("must be one of: none, memory, redis (got %q)", cfg.Cache.Backend),
		})
	}
	if cfg.Cache.TTL < 0 {
		errs = append(errs, FieldError{Field: "guardrail.cache.ttl", Message: "must not be negative"})
	}

	return errs
}

func validateQueue(cfg *QueueConfig) []FieldError {
	var errs []FieldError

	if cfg.DefaultTTL <= 0 {
		errs = append(errs, FieldError{Field: "queue.default_ttl", Message: "must be positive"})
	}
	if err := validateSchedule(cfg.ExpirySchedule); err != nil {
		errs = append(errs, FieldError{Field: "queue.expiry_schedule", Message: err.Error()})
	}

	return errs
}

func validateConsensus(cfg *ConsensusConfig) []FieldError {
	var errs []FieldError

	errs = append(errs, validateWeights("consensus.weights", &cfg.Weights)...)
	errs = append(errs, validateQuorum("consensus.quorum", cfg.Quorum)...)

	for org, override := range cfg.OrgOverrides {
		prefix := fmt.Sprintf("consensus.org_overrides.%s", org)
		if override.Weights != nil {
			errs = append(errs, validateWeights(prefix+".weights", override.Weights)...)
		}
		errs = append(errs, validateQuorum(prefix+".quorum", override.Quorum)...)
	}

	return errs
}

func validateWeights(prefix string, w *WeightsConfig) []FieldError {
	var errs []FieldError
	fields := []struct {
		name  string
		value int
	}{
		{"owner", w.Owner},
		{"manager", w.Manager},
		{"analyst", w.Analyst},
		{"override", w.Override},
	}
	for _, f := range fields {
		if f.value < 0 {
			errs = append(errs, FieldError{Field: prefix + "." + f.name, Message: "must not be negative"})
		}
	}
	return errs
}

func validateQuorum(prefix string, quorum map[string]QuorumRuleConfig) []FieldError {
	var errs []FieldError
	for level, rule := range quorum {
		switch level {
		case "low", "medium", "high":
		default:
			errs = append(errs, FieldError{
				Field:   prefix + "." + level,
				Message: "unknown risk level, must be one of: low, medium, high",
			})
			continue
		}
		if rule.MinVotes < 1 {
			errs = append(errs, FieldError{Field: prefix + "." + level + ".min_votes", Message: "must be at least 1"})
		}
		if rule.MinWeight < 0 {
			errs = append(errs, FieldError{Field: prefix + "." + level + ".min_weight", Message: "must not be negative"})
		}
	}
	return errs
}

func validateAudit(cfg *AuditConfig) []FieldError {
	var errs []FieldError
	if cfg.BufferSize < 1 {
		errs = append(errs, FieldError{Field: "audit.buffer_size", Message: "must be at least 1"})
	}
	if cfg.WriteTimeout <= 0 {
		errs = append(errs, FieldError{Field: "audit.write_timeout", Message: "must be positive"})
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("must be one of: debug, info, warn, error (got %q)", cfg.Logging.Level),
		})
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("must be one of: json, text (got %q)", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.ListenAddress); err != nil {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.listen_address",
				Message: fmt.Sprintf("invalid address: %v", err),
			})
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "must start with /"})
		}
	}

	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Sampler {
		case "always", "never", "ratio":
		default:
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sampler",
				Message: fmt.Sprintf("must be one of: always, never, ratio (got %q)", cfg.Tracing.Sampler),
			})
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "must be between 0.0 and 1.0"})
		}
		switch cfg.Tracing.Exporter {
		case "otlp":
			if cfg.Tracing.Endpoint == "" {
				errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "must be set for otlp exporter"})
			}
		case "stdout":
		default:
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.exporter",
				Message: fmt.Sprintf("must be one of: otlp, stdout (got %q)", cfg.Tracing.Exporter),
			})
		}
	}

	if cfg.Health.Enabled && cfg.Health.CheckTimeout <= 0 {
		errs = append(errs, FieldError{Field: "telemetry.health.check_timeout", Message: "must be positive"})
	}

	return errs
}

func validateSchedule(spec string) error {
	if spec == "" {
		return fmt.Errorf("must be set")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %v", spec, err)
	}
	return nil
}
