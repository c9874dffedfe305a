// Package secrets resolves ${secret:name} references in configuration values.
//
// Providers are consulted in order; the first provider that supports a name
// and returns a value wins. Two providers are built in:
//
//   - EnvProvider reads GATEKEEPER_SECRET_<NAME>, with the name upper-cased
//     and hyphens replaced by underscores.
//   - FileProvider reads <dir>/<name> and refuses files readable by group or
//     others.
//
// Example:
//
//	r := secrets.NewResolver(secrets.NewEnvProvider("GATEKEEPER_SECRET_"))
//	dsn, err := r.Resolve(ctx, "postgres://gk:${secret:db-password}@db/gatekeeper")
package secrets
