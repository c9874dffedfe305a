package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatekeeper.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Default() is invalid: %v", err)
	}

	if cfg.Store.Driver != DefaultStoreDriver {
		t.Errorf("Store.Driver = %q, want %q", cfg.Store.Driver, DefaultStoreDriver)
	}
	if !cfg.Store.WALMode {
		t.Error("Store.WALMode should default to true")
	}
	if cfg.Queue.AutoApproveAllowed {
		t.Error("Queue.AutoApproveAllowed should default to false")
	}
	if !cfg.Consensus.AutoApply {
		t.Error("Consensus.AutoApply should default to true")
	}
	if got := cfg.Consensus.Quorum["high"]; got.MinVotes != 2 || got.MinWeight != 6 {
		t.Errorf("Quorum[high] = %+v, want {2 6}", got)
	}
	if cfg.Consensus.Weights.Override != DefaultWeightOverride {
		t.Errorf("Weights.Override = %d, want %d", cfg.Consensus.Weights.Override, DefaultWeightOverride)
	}
}

func TestApplyDefaults_Idempotent(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	first := *cfg
	ApplyDefaults(cfg)

	if cfg.Queue.DefaultTTL != first.Queue.DefaultTTL || cfg.Store.DSN != first.Store.DSN {
		t.Error("ApplyDefaults() is not idempotent")
	}
}

func TestApplyDefaults_KeepsZeroAnalystWeight(t *testing.T) {
	cfg := &Config{Consensus: ConsensusConfig{Weights: WeightsConfig{Owner: 5}}}
	ApplyDefaults(cfg)

	if cfg.Consensus.Weights.Owner != 5 || cfg.Consensus.Weights.Manager != 0 {
		t.Errorf("partially configured weights were replaced: %+v", cfg.Consensus.Weights)
	}
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: "postgres"
  dsn: "postgres://localhost/gatekeeper"
  wal_mode: false

guardrail:
  path: "./rules"
  watch: true

queue:
  default_ttl: "2h"
  auto_approve_allowed: true

consensus:
  quorum:
    high:
      min_votes: 3
      min_weight: 12

telemetry:
  logging:
    level: "debug"
    format: "text"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Store.Driver != "postgres" || cfg.Store.WALMode {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Guardrail.Path != "./rules" || !cfg.Guardrail.Watch {
		t.Errorf("Guardrail = %+v", cfg.Guardrail)
	}
	if cfg.Queue.DefaultTTL != 2*time.Hour || !cfg.Queue.AutoApproveAllowed {
		t.Errorf("Queue = %+v", cfg.Queue)
	}
	if got := cfg.Consensus.Quorum["high"]; got.MinVotes != 3 || got.MinWeight != 12 {
		t.Errorf("Quorum[high] = %+v", got)
	}
	// Unlisted levels keep their defaults.
	if got := cfg.Consensus.Quorum["low"]; got.MinVotes != 1 || got.MinWeight != 2 {
		t.Errorf("Quorum[low] = %+v", got)
	}
	// Omitted booleans keep true defaults.
	if !cfg.Consensus.AutoApply || !cfg.Audit.Enabled {
		t.Error("true-by-default booleans were reset")
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeConfig(t, "store: [unclosed")
		if _, err := LoadConfig(path); err == nil {
			t.Error("expected parse error")
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		path := writeConfig(t, `
store:
  driver: "mysql"
queue:
  expiry_schedule: "soon"
`)
		_, err := LoadConfig(path)
		var verr ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("LoadConfig() error = %v, want ValidationError", err)
		}
		if len(verr.Errors) != 2 {
			t.Errorf("got %d field errors, want 2: %v", len(verr.Errors), verr)
		}
	})
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: "sqlite"
  dsn: "file.db"
`)
	t.Setenv("GATEKEEPER_STORE_DSN", "env.db")
	t.Setenv("GATEKEEPER_QUEUE_DEFAULT_TTL", "90m")
	t.Setenv("GATEKEEPER_CONSENSUS_AUTO_APPLY", "false")
	t.Setenv("GATEKEEPER_TELEMETRY_LOGGING_LEVEL", "warn")
	t.Setenv("GATEKEEPER_SECRETS_DIR", "/run/secrets")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides() error = %v", err)
	}

	if cfg.Store.DSN != "env.db" {
		t.Errorf("Store.DSN = %q, want env.db", cfg.Store.DSN)
	}
	if cfg.Queue.DefaultTTL != 90*time.Minute {
		t.Errorf("Queue.DefaultTTL = %v, want 90m", cfg.Queue.DefaultTTL)
	}
	if cfg.Consensus.AutoApply {
		t.Error("Consensus.AutoApply should be overridden to false")
	}
	if cfg.Telemetry.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Telemetry.Logging.Level)
	}
	if cfg.Secrets.Dir != "/run/secrets" {
		t.Errorf("Secrets.Dir = %q, want /run/secrets", cfg.Secrets.Dir)
	}
	if cfg.Secrets.EnvPrefix != DefaultSecretsEnvPrefix {
		t.Errorf("Secrets.EnvPrefix = %q, want %q", cfg.Secrets.EnvPrefix, DefaultSecretsEnvPrefix)
	}
}

func TestLoadConfigWithEnvOverrides_NoFile(t *testing.T) {
	t.Setenv("GATEKEEPER_STORE_DRIVER", "memory")

	cfg, err := LoadConfigWithEnvOverrides("")
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides() error = %v", err)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q, want memory", cfg.Store.Driver)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *Config
		wantField string
	}{
		{"valid", NewTestConfig().Build(), ""},
		{"sqlite without dsn", NewTestConfig().WithStore("sqlite", "").Build(), "store.dsn"},
		{"git without repository", NewTestConfig().WithGuardrailGit("").Build(), "guardrail.git.repository"},
		{"unknown cache", NewTestConfig().WithCacheBackend("memcached").Build(), "guardrail.cache.backend"},
		{"zero ttl", NewTestConfig().WithQueueTTL(0).Build(), "queue.default_ttl"},
		{"bad schedule", NewTestConfig().WithExpirySchedule("* *").Build(), "queue.expiry_schedule"},
		{"quorum min votes", NewTestConfig().WithQuorum("medium", 0, 4).Build(), "consensus.quorum.medium.min_votes"},
		{"unknown risk level", NewTestConfig().WithQuorum("critical", 1, 1).Build(), "consensus.quorum.critical"},
		{"log level", NewTestConfig().WithLogLevel("verbose").Build(), "telemetry.logging.level"},
		{"otlp without endpoint", NewTestConfig().WithTracing("otlp", "").Build(), "telemetry.tracing.endpoint"},
		{"stdout exporter", NewTestConfig().WithTracing("stdout", "").Build(), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.cfg)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want ValidationError", err)
			}
			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() missing error for %s: %v", tt.wantField, verr)
			}
		})
	}
}

func TestValidationError_Format(t *testing.T) {
	single := ValidationError{Errors: []FieldError{{Field: "a", Message: "bad"}}}
	if single.Error() != "configuration validation failed: a: bad" {
		t.Errorf("single error = %q", single.Error())
	}

	multi := ValidationError{Errors: []FieldError{{Field: "a", Message: "bad"}, {Field: "b", Message: "worse"}}}
	if !strings.Contains(multi.Error(), "2 errors") || !strings.Contains(multi.Error(), "  - b: worse") {
		t.Errorf("multi error = %q", multi.Error())
	}
}
