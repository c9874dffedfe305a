package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable override.
const EnvPrefix = "GATEKEEPER_"

// LoadConfig loads configuration from a YAML file at the specified path.
// The file is decoded on top of Default(), remaining zero values receive
// defaults, and the result is validated. Environment variables are not
// consulted; use LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML bytes into a defaulted configuration without validating it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention GATEKEEPER_SECTION_FIELD (e.g., GATEKEEPER_STORE_DSN) and always
// take precedence over the file.
//
// An empty path skips the file and starts from Default().
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		var err error
		cfg, err = LoadConfig(path)
		if err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Store overrides
	envString("STORE_DRIVER", &cfg.Store.Driver)
	envString("STORE_DSN", &cfg.Store.DSN)
	envInt("STORE_MAX_OPEN_CONNS", &cfg.Store.MaxOpenConns)
	envBool("STORE_WAL_MODE", &cfg.Store.WALMode)
	envDuration("STORE_BUSY_TIMEOUT", &cfg.Store.BusyTimeout)

	// Guardrail overrides
	envString("GUARDRAIL_MODE", &cfg.Guardrail.Mode)
	envString("GUARDRAIL_PATH", &cfg.Guardrail.Path)
	envBool("GUARDRAIL_WATCH", &cfg.Guardrail.Watch)
	envString("GUARDRAIL_GIT_REPOSITORY", &cfg.Guardrail.Git.Repository)
	envString("GUARDRAIL_GIT_BRANCH", &cfg.Guardrail.Git.Branch)
	envString("GUARDRAIL_GIT_TOKEN", &cfg.Guardrail.Git.Auth.Token)
	envString("GUARDRAIL_CACHE_BACKEND", &cfg.Guardrail.Cache.Backend)
	envString("GUARDRAIL_CACHE_REDIS_ADDRESS", &cfg.Guardrail.Cache.Redis.Address)
	envString("GUARDRAIL_CACHE_REDIS_PASSWORD", &cfg.Guardrail.Cache.Redis.Password)

	// Queue overrides
	envDuration("QUEUE_DEFAULT_TTL", &cfg.Queue.DefaultTTL)
	envBool("QUEUE_AUTO_APPROVE_ALLOWED", &cfg.Queue.AutoApproveAllowed)
	envString("QUEUE_EXPIRY_SCHEDULE", &cfg.Queue.ExpirySchedule)

	// Consensus overrides
	envBool("CONSENSUS_AUTO_APPLY", &cfg.Consensus.AutoApply)

	// Directory overrides
	envString("DIRECTORY_PATH", &cfg.Directory.Path)

	// Secrets overrides
	envString("SECRETS_DIR", &cfg.Secrets.Dir)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_LISTEN_ADDRESS", &cfg.Telemetry.Metrics.ListenAddress)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_EXPORTER", &cfg.Telemetry.Tracing.Exporter)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envFloat("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)
}

func envString(key string, dst *string) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		*dst = val
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envFloat(key string, dst *float64) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
