// Package config provides configuration management for gatekeeper.
//
// Configuration is loaded from a YAML file, decoded on top of the built-in
// defaults, optionally overridden from the environment and then validated.
//
//	cfg, err := config.LoadConfig("gatekeeper.yaml")
//	cfg, err := config.LoadConfigWithEnvOverrides("gatekeeper.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention GATEKEEPER_SECTION_FIELD:
//
//   - GATEKEEPER_STORE_DSN overrides store.dsn
//   - GATEKEEPER_GUARDRAIL_PATH overrides guardrail.path
//   - GATEKEEPER_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Configuration Precedence
//
//  1. Default values (defaults.go)
//  2. Values from the YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// Validation collects every problem before failing:
//
//	configuration validation failed with 2 errors:
//	  - store.driver: must be one of: memory, sqlite, sqlite3, postgres (got "mysql")
//	  - queue.expiry_schedule: invalid cron expression "soon": ...
//
// # Example Configuration
//
//	store:
//	  driver: "sqlite"
//	  dsn: "data/gatekeeper.db"
//
//	guardrail:
//	  mode: "file"
//	  path: "./guardrails"
//	  watch: true
//
//	consensus:
//	  quorum:
//	    high: {min_votes: 3, min_weight: 12}
//
//	telemetry:
//	  logging:
//	    level: "info"
//	    format: "json"
package config
