package config

import "time"

// Config is the root configuration structure for gatekeeper.
// It contains the backing store, guardrail rule source, approval queue,
// consensus engine, external collaborators and telemetry settings.
type Config struct {
	// Store selects and configures the backing store that serializes every
	// queue, vote and conflict mutation.
	Store StoreConfig `yaml:"store"`

	// Guardrail configures where guardrail rules are loaded from and how
	// they are cached and reloaded.
	Guardrail GuardrailConfig `yaml:"guardrail"`

	// Queue configures the approval queue state machine.
	Queue QueueConfig `yaml:"queue"`

	// Consensus configures vote weights and quorum thresholds.
	Consensus ConsensusConfig `yaml:"consensus"`

	// Directory configures the operator role and permission directory.
	Directory DirectoryConfig `yaml:"directory"`

	// Notify configures fire-and-forget notification dispatch.
	Notify NotifyConfig `yaml:"notify"`

	// Audit configures the activity log recorder.
	Audit AuditConfig `yaml:"audit"`

	// Secrets configures where ${secret:name} references are resolved from.
	Secrets SecretsConfig `yaml:"secrets"`

	// Telemetry contains configuration for logging, metrics, tracing and
	// health endpoints.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StoreConfig configures the backing store.
type StoreConfig struct {
	// Driver selects the backend.
	// Options: "memory", "sqlite" (pure Go), "sqlite3" (cgo), "postgres"
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// DSN is the data source name. For SQLite this is the database file path.
	// Default: "data/gatekeeper.db"
	DSN string `yaml:"dsn"`

	// MaxOpenConns is the maximum number of open connections (PostgreSQL only).
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections (PostgreSQL only).
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables Write-Ahead Logging (SQLite only).
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is how long SQLite waits on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// GuardrailConfig configures guardrail rule loading.
type GuardrailConfig struct {
	// Mode specifies where rules are loaded from.
	// Options: "file", "git"
	// Default: "file"
	Mode string `yaml:"mode"`

	// Path is a rule file or a directory of *.yaml rule files.
	// In git mode it is relative to the repository root.
	// Default: "./guardrails"
	Path string `yaml:"path"`

	// Watch reloads rules when files under Path change (file mode only).
	// Default: false
	Watch bool `yaml:"watch"`

	// WatchDebounce coalesces bursts of file events.
	// Default: 100ms
	WatchDebounce time.Duration `yaml:"watch_debounce"`

	// MaxFileSize caps the size of a single rule file in bytes.
	// Default: 1048576 (1MB)
	MaxFileSize int64 `yaml:"max_file_size"`

	// DefaultQuorumSize is used by REQUIRE_QUORUM rules without an explicit size.
	// Default: 2
	DefaultQuorumSize int `yaml:"default_quorum_size"`

	// Git configures the repository source when Mode is "git".
	Git GitConfig `yaml:"git"`

	// Cache configures the per-organization rule cache.
	Cache CacheConfig `yaml:"cache"`
}

// GitConfig configures Git-backed rule loading.
type GitConfig struct {
	// Repository URL (HTTPS, SSH or a local path).
	Repository string `yaml:"repository"`

	// Branch to track.
	// Default: "main"
	Branch string `yaml:"branch"`

	// LocalPath is where the repository is cloned.
	// Default: "data/guardrails-repo"
	LocalPath string `yaml:"local_path"`

	// Depth for shallow clones (0 = full clone).
	// Default: 1
	Depth int `yaml:"depth"`

	// PollSchedule is a cron expression controlling how often the repository
	// is pulled for changes.
	// Default: "@every 1m"
	PollSchedule string `yaml:"poll_schedule"`

	// Timeout bounds a single clone or pull.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// Auth configures repository authentication.
	Auth GitAuthConfig `yaml:"auth"`
}

// GitAuthConfig configures Git authentication.
type GitAuthConfig struct {
	// Type: "none", "token"
	// Default: "none"
	Type string `yaml:"type"`

	// Username for token authentication.
	// Default: "git"
	Username string `yaml:"username"`

	// Token for HTTPS authentication.
	Token string `yaml:"token"`
}

// CacheConfig configures the guardrail rule cache.
type CacheConfig struct {
	// Backend selects the cache.
	// Options: "none", "memory", "redis"
	// Default: "memory"
	Backend string `yaml:"backend"`

	// TTL bounds how long a cached rule set is served without reloading.
	// Zero means entries live until invalidated.
	// Default: 5m
	TTL time.Duration `yaml:"ttl"`

	// Redis configures the shared cache when Backend is "redis".
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures a Redis connection.
type RedisConfig struct {
	// Address is host:port.
	// Default: "localhost:6379"
	Address string `yaml:"address"`

	// Password is optional.
	Password string `yaml:"password"`

	// DB selects the logical database.
	// Default: 0
	DB int `yaml:"db"`

	// KeyPrefix namespaces cache keys.
	// Default: "gatekeeper:rules:"
	KeyPrefix string `yaml:"key_prefix"`
}

// QueueConfig configures the approval queue.
type QueueConfig struct {
	// DefaultTTL is the review deadline applied when a request omits one.
	// Default: 24h
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// AutoApproveAllowed resolves ALLOW verdicts without quorum directly to
	// APPROVED instead of queueing them for review.
	// Default: false
	AutoApproveAllowed bool `yaml:"auto_approve_allowed"`

	// ExpirySchedule is the cron expression for the expiry sweep.
	// Default: "@every 1m"
	ExpirySchedule string `yaml:"expiry_schedule"`
}

// ConsensusConfig configures the consensus engine.
type ConsensusConfig struct {
	// Weights is the vote weight table.
	Weights WeightsConfig `yaml:"weights"`

	// Quorum maps a risk level ("low", "medium", "high") to its thresholds.
	Quorum map[string]QuorumRuleConfig `yaml:"quorum"`

	// OrgOverrides replaces weights and thresholds for specific organizations.
	OrgOverrides map[string]OrgConsensusConfig `yaml:"org_overrides"`

	// AutoApply resolves the queue item as soon as consensus is reached.
	// Default: true
	AutoApply bool `yaml:"auto_apply"`
}

// WeightsConfig is the per-role vote weight table.
type WeightsConfig struct {
	// Default: 10
	Owner int `yaml:"owner"`

	// Default: 2
	Manager int `yaml:"manager"`

	// Default: 0
	Analyst int `yaml:"analyst"`

	// Override is the weight of an owner override vote.
	// Default: 100
	Override int `yaml:"override"`
}

// QuorumRuleConfig holds the thresholds for one risk level.
type QuorumRuleConfig struct {
	MinVotes  int `yaml:"min_votes"`
	MinWeight int `yaml:"min_weight"`
}

// OrgConsensusConfig overrides consensus settings for one organization.
// Unset fields fall back to the global configuration.
type OrgConsensusConfig struct {
	Weights *WeightsConfig              `yaml:"weights"`
	Quorum  map[string]QuorumRuleConfig `yaml:"quorum"`
}

// DirectoryConfig configures the operator directory.
type DirectoryConfig struct {
	// Path is a YAML file listing organizations and operators.
	// Default: "./operators.yaml"
	Path string `yaml:"path"`
}

// NotifyConfig configures notification dispatch.
type NotifyConfig struct {
	// Enabled controls whether notifications are emitted.
	// Default: true
	Enabled bool `yaml:"enabled"`
}

// AuditConfig configures the activity recorder.
type AuditConfig struct {
	// Enabled controls whether activity entries are written.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// BufferSize is the async channel capacity.
	// Default: 1000
	BufferSize int `yaml:"buffer_size"`

	// WriteTimeout bounds a single store write.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// SecretsConfig configures secret reference resolution. References may
// appear in store.dsn, guardrail.git.auth.token and
// guardrail.cache.redis.password.
type SecretsConfig struct {
	// EnvPrefix namespaces secrets read from the environment. The secret
	// "git-token" is read from GATEKEEPER_SECRET_GIT_TOKEN.
	// Default: "GATEKEEPER_SECRET_"
	EnvPrefix string `yaml:"env_prefix"`

	// Dir is a directory of secret files, one file per secret, readable
	// only by the owner. Empty disables file secrets.
	Dir string `yaml:"dir"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// ListenAddress serves the metrics and health endpoints in run mode.
	// Default: "127.0.0.1:9090"
	ListenAddress string `yaml:"listen_address"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "gatekeeper"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "core"
	Subsystem string `yaml:"subsystem"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// Exporter determines the trace exporter to use.
	// Options: "otlp", "stdout"
	// Default: "otlp"
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP collector endpoint, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "gatekeeper"
	ServiceName string `yaml:"service_name"`

	// OTLP contains OTLP exporter specific configuration.
	OTLP OTLPConfig `yaml:"otlp"`
}

// OTLPConfig contains OTLP exporter configuration.
type OTLPConfig struct {
	// Insecure disables TLS for OTLP connection.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// Timeout is the timeout for OTLP exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health check endpoint configuration.
type HealthConfig struct {
	// Enabled controls whether health check endpoints are enabled.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// LivenessPath is the path for the liveness probe endpoint.
	// Default: "/health"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the path for the readiness probe endpoint.
	// Default: "/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// CheckTimeout is the timeout for individual component health checks.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}
