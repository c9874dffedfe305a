package config

import (
	"strings"
	"time"
)

// Default values for configuration fields.
const (
	// Store defaults
	DefaultStoreDriver       = "sqlite"
	DefaultStoreDSN          = "data/gatekeeper.db"
	DefaultStoreMaxOpenConns = 10
	DefaultStoreMaxIdleConns = 5
	DefaultStoreWALMode      = true
	DefaultStoreBusyTimeout  = 5 * time.Second

	// Guardrail defaults
	DefaultGuardrailMode          = "file"
	DefaultGuardrailPath          = "./guardrails"
	DefaultGuardrailWatchDebounce = 100 * time.Millisecond
	DefaultGuardrailMaxFileSize   = int64(1 << 20)
	DefaultGuardrailQuorumSize    = 2
	DefaultGitBranch              = "main"
	DefaultGitLocalPath           = "data/guardrails-repo"
	DefaultGitDepth               = 1
	DefaultGitPollSchedule        = "@every 1m"
	DefaultGitTimeout             = 30 * time.Second
	DefaultGitAuthType            = "none"
	DefaultGitAuthUsername        = "git"
	DefaultCacheBackend           = "memory"
	DefaultCacheTTL               = 5 * time.Minute
	DefaultRedisAddress           = "localhost:6379"
	DefaultRedisKeyPrefix         = "gatekeeper:rules:"

	// Queue defaults
	DefaultQueueTTL            = 24 * time.Hour
	DefaultQueueExpirySchedule = "@every 1m"

	// Consensus defaults
	DefaultWeightOwner    = 10
	DefaultWeightManager  = 2
	DefaultWeightAnalyst  = 0
	DefaultWeightOverride = 100
	DefaultAutoApply      = true

	// Directory defaults
	DefaultDirectoryPath = "./operators.yaml"

	// Audit defaults
	DefaultAuditBufferSize   = 1000
	DefaultAuditWriteTimeout = 5 * time.Second

	// Secrets defaults
	DefaultSecretsEnvPrefix = "GATEKEEPER_SECRET_"

	// Telemetry defaults
	DefaultLoggingLevel        = "info"
	DefaultLoggingFormat       = "json"
	DefaultMetricsAddress      = "127.0.0.1:9090"
	DefaultMetricsPath         = "/metrics"
	DefaultMetricsNamespace    = "gatekeeper"
	DefaultMetricsSubsystem    = "core"
	DefaultTracingSampler      = "ratio"
	DefaultTracingSampleRatio  = 1.0
	DefaultTracingExporter     = "otlp"
	DefaultTracingServiceName  = "gatekeeper"
	DefaultOTLPTimeout         = 10 * time.Second
	DefaultHealthLivenessPath  = "/health"
	DefaultHealthReadinessPath = "/ready"
	DefaultHealthCheckTimeout  = 5 * time.Second
)

// DefaultQuorum returns the built-in quorum thresholds per risk level.
func DefaultQuorum() map[string]QuorumRuleConfig {
	return map[string]QuorumRuleConfig{
		"low":    {MinVotes: 1, MinWeight: 2},
		"medium": {MinVotes: 2, MinWeight: 4},
		"high":   {MinVotes: 2, MinWeight: 6},
	}
}

// Default returns a configuration with every default applied, including
// boolean settings whose default is true. Files are decoded on top of it
// so that omitted booleans keep their defaults.
func Default() *Config {
	cfg := &Config{
		Store: StoreConfig{WALMode: DefaultStoreWALMode},
		Consensus: ConsensusConfig{
			Weights: WeightsConfig{
				Owner:    DefaultWeightOwner,
				Manager:  DefaultWeightManager,
				Analyst:  DefaultWeightAnalyst,
				Override: DefaultWeightOverride,
			},
			AutoApply: DefaultAutoApply,
		},
		Notify: NotifyConfig{Enabled: true},
		Audit:  AuditConfig{Enabled: true},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{Enabled: true},
			Tracing: TracingConfig{OTLP: OTLPConfig{Insecure: true}},
			Health:  HealthConfig{Enabled: true},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Store defaults
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DefaultStoreDriver
	}
	if cfg.Store.DSN == "" && cfg.Store.Driver != "memory" {
		cfg.Store.DSN = DefaultStoreDSN
	}
	if cfg.Store.MaxOpenConns == 0 {
		cfg.Store.MaxOpenConns = DefaultStoreMaxOpenConns
	}
	if cfg.Store.MaxIdleConns == 0 {
		cfg.Store.MaxIdleConns = DefaultStoreMaxIdleConns
	}
	if cfg.Store.BusyTimeout == 0 {
		cfg.Store.BusyTimeout = DefaultStoreBusyTimeout
	}

	// Guardrail defaults
	g := &cfg.Guardrail
	if g.Mode == "" {
		g.Mode = DefaultGuardrailMode
	}
	if g.Path == "" {
		g.Path = DefaultGuardrailPath
	}
	if g.WatchDebounce == 0 {
		g.WatchDebounce = DefaultGuardrailWatchDebounce
	}
	if g.MaxFileSize == 0 {
		g.MaxFileSize = DefaultGuardrailMaxFileSize
	}
	if g.DefaultQuorumSize == 0 {
		g.DefaultQuorumSize = DefaultGuardrailQuorumSize
	}
	if g.Git.Branch == "" {
		g.Git.Branch = DefaultGitBranch
	}
	if g.Git.LocalPath == "" {
		g.Git.LocalPath = DefaultGitLocalPath
	}
	if g.Git.Depth == 0 {
		g.Git.Depth = DefaultGitDepth
	}
	if g.Git.PollSchedule == "" {
		g.Git.PollSchedule = DefaultGitPollSchedule
	}
	if g.Git.Timeout == 0 {
		g.Git.Timeout = DefaultGitTimeout
	}
	if g.Git.Auth.Type == "" {
		g.Git.Auth.Type = DefaultGitAuthType
	}
	if g.Git.Auth.Username == "" {
		g.Git.Auth.Username = DefaultGitAuthUsername
	}
	if g.Cache.Backend == "" {
		g.Cache.Backend = DefaultCacheBackend
	}
	if g.Cache.TTL == 0 {
		g.Cache.TTL = DefaultCacheTTL
	}
	if g.Cache.Redis.Address == "" {
		g.Cache.Redis.Address = DefaultRedisAddress
	}
	if g.Cache.Redis.KeyPrefix == "" {
		g.Cache.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	// Queue defaults
	if cfg.Queue.DefaultTTL == 0 {
		cfg.Queue.DefaultTTL = DefaultQueueTTL
	}
	if cfg.Queue.ExpirySchedule == "" {
		cfg.Queue.ExpirySchedule = DefaultQueueExpirySchedule
	}

	// Consensus defaults. Weight zero is meaningful for analysts, so only
	// an entirely empty table is replaced.
	if cfg.Consensus.Weights == (WeightsConfig{}) {
		cfg.Consensus.Weights = WeightsConfig{
			Owner:    DefaultWeightOwner,
			Manager:  DefaultWeightManager,
			Analyst:  DefaultWeightAnalyst,
			Override: DefaultWeightOverride,
		}
	}
	quorum := make(map[string]QuorumRuleConfig, len(cfg.Consensus.Quorum))
	for level, rule := range cfg.Consensus.Quorum {
		quorum[strings.ToLower(strings.TrimSpace(level))] = rule
	}
	cfg.Consensus.Quorum = quorum
	for level, rule := range DefaultQuorum() {
		if _, ok := cfg.Consensus.Quorum[level]; !ok {
			cfg.Consensus.Quorum[level] = rule
		}
	}

	// Directory defaults
	if cfg.Directory.Path == "" {
		cfg.Directory.Path = DefaultDirectoryPath
	}

	// Audit defaults
	if cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = DefaultAuditBufferSize
	}
	if cfg.Audit.WriteTimeout == 0 {
		cfg.Audit.WriteTimeout = DefaultAuditWriteTimeout
	}

	if cfg.Secrets.EnvPrefix == "" {
		cfg.Secrets.EnvPrefix = DefaultSecretsEnvPrefix
	}

	// Telemetry defaults
	t := &cfg.Telemetry
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLoggingLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLoggingFormat
	}
	if t.Metrics.ListenAddress == "" {
		t.Metrics.ListenAddress = DefaultMetricsAddress
	}
	if t.Metrics.Path == "" {
		t.Metrics.Path = DefaultMetricsPath
	}
	if t.Metrics.Namespace == "" {
		t.Metrics.Namespace = DefaultMetricsNamespace
	}
	if t.Metrics.Subsystem == "" {
		t.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if t.Tracing.Sampler == "" {
		t.Tracing.Sampler = DefaultTracingSampler
	}
	if t.Tracing.SampleRatio == 0 {
		t.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if t.Tracing.Exporter == "" {
		t.Tracing.Exporter = DefaultTracingExporter
	}
	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = DefaultTracingServiceName
	}
	if t.Tracing.OTLP.Timeout == 0 {
		t.Tracing.OTLP.Timeout = DefaultOTLPTimeout
	}
	if t.Health.LivenessPath == "" {
		t.Health.LivenessPath = DefaultHealthLivenessPath
	}
	if t.Health.ReadinessPath == "" {
		t.Health.ReadinessPath = DefaultHealthReadinessPath
	}
	if t.Health.CheckTimeout == 0 {
		t.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}
