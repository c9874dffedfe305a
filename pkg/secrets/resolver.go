package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"mercator-hq/gatekeeper/pkg/config"
)

var refPattern = regexp.MustCompile(`\$\{secret:([^}]+)\}`)

// Resolver looks secrets up across providers in order.
type Resolver struct {
	providers []Provider
	logger    *slog.Logger
}

// NewResolver creates a resolver over providers.
func NewResolver(providers ...Provider) *Resolver {
	return &Resolver{providers: providers, logger: slog.Default().With("component", "secrets")}
}

// FromConfig builds the env provider and, when a directory is configured,
// the file provider after it.
func FromConfig(cfg config.SecretsConfig) (*Resolver, error) {
	providers := []Provider{NewEnvProvider(cfg.EnvPrefix)}
	if cfg.Dir != "" {
		fp, err := NewFileProvider(cfg.Dir)
		if err != nil {
			return nil, err
		}
		providers = append(providers, fp)
	}
	return NewResolver(providers...), nil
}

// GetSecret returns the first value any provider holds for name.
func (r *Resolver) GetSecret(ctx context.Context, name string) (string, error) {
	var errs []error
	for _, p := range r.providers {
		value, err := p.GetSecret(ctx, name)
		if err == nil {
			r.logger.DebugContext(ctx, "secret resolved", "provider", p.Name(), "name", name)
			return value, nil
		}
		if !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return "", fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Resolve replaces every ${secret:name} reference in s. Any unresolved
// reference fails the whole value.
func (r *Resolver) Resolve(ctx context.Context, s string) (string, error) {
	var errs []error
	out := refPattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := refPattern.FindStringSubmatch(ref)[1]
		value, err := r.GetSecret(ctx, name)
		if err != nil {
			errs = append(errs, err)
			return ref
		}
		return value
	})
	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return out, nil
}

// ResolveConfig resolves references in the config fields that may hold
// credentials.
func (r *Resolver) ResolveConfig(ctx context.Context, cfg *config.Config) error {
	fields := []struct {
		name  string
		value *string
	}{
		{"store.dsn", &cfg.Store.DSN},
		{"guardrail.git.repository", &cfg.Guardrail.Git.Repository},
		{"guardrail.git.auth.token", &cfg.Guardrail.Git.Auth.Token},
		{"guardrail.cache.redis.password", &cfg.Guardrail.Cache.Redis.Password},
	}
	for _, f := range fields {
		if !refPattern.MatchString(*f.value) {
			continue
		}
		resolved, err := r.Resolve(ctx, *f.value)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.value = resolved
	}
	return nil
}
