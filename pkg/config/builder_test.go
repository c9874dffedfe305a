package config

import "time"

// ConfigBuilder provides a fluent API for building Config instances in tests.
// It starts with default values and allows selective overrides.
type ConfigBuilder struct {
	cfg Config
}

// NewTestConfig creates a ConfigBuilder backed by an in-memory store so the
// resulting configuration is valid without touching the filesystem.
func NewTestConfig() *ConfigBuilder {
	cfg := Default()
	cfg.Store.Driver = "memory"
	cfg.Store.DSN = ""
	return &ConfigBuilder{cfg: *cfg}
}

// Build returns the built Config instance.
func (b *ConfigBuilder) Build() *Config {
	return &b.cfg
}

// WithStore sets the store driver and DSN.
func (b *ConfigBuilder) WithStore(driver, dsn string) *ConfigBuilder {
	b.cfg.Store.Driver = driver
	b.cfg.Store.DSN = dsn
	return b
}

// WithGuardrailGit switches rule loading to a Git repository.
func (b *ConfigBuilder) WithGuardrailGit(repo string) *ConfigBuilder {
	b.cfg.Guardrail.Mode = "git"
	b.cfg.Guardrail.Git.Repository = repo
	return b
}

// WithCacheBackend sets the rule cache backend.
func (b *ConfigBuilder) WithCacheBackend(backend string) *ConfigBuilder {
	b.cfg.Guardrail.Cache.Backend = backend
	return b
}

// WithQueueTTL sets the default review deadline.
func (b *ConfigBuilder) WithQueueTTL(d time.Duration) *ConfigBuilder {
	b.cfg.Queue.DefaultTTL = d
	return b
}

// WithExpirySchedule sets the expiry sweep cron expression.
func (b *ConfigBuilder) WithExpirySchedule(spec string) *ConfigBuilder {
	b.cfg.Queue.ExpirySchedule = spec
	return b
}

// WithQuorum sets the thresholds for one risk level.
func (b *ConfigBuilder) WithQuorum(level string, minVotes, minWeight int) *ConfigBuilder {
	b.cfg.Consensus.Quorum[level] = QuorumRuleConfig{MinVotes: minVotes, MinWeight: minWeight}
	return b
}

// WithLogLevel sets the logging level.
func (b *ConfigBuilder) WithLogLevel(level string) *ConfigBuilder {
	b.cfg.Telemetry.Logging.Level = level
	return b
}

// WithTracing enables tracing with the given exporter and endpoint.
func (b *ConfigBuilder) WithTracing(exporter, endpoint string) *ConfigBuilder {
	b.cfg.Telemetry.Tracing.Enabled = true
	b.cfg.Telemetry.Tracing.Exporter = exporter
	b.cfg.Telemetry.Tracing.Endpoint = endpoint
	return b
}
