package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound indicates that no provider holds the secret.
var ErrNotFound = errors.New("secret not found")

// Provider retrieves secrets from one backend.
type Provider interface {
	// GetSecret returns ErrNotFound when the backend has no such secret.
	GetSecret(ctx context.Context, name string) (string, error)

	// Name labels the provider in logs.
	Name() string
}

// EnvProvider reads secrets from environment variables.
type EnvProvider struct {
	Prefix string
}

// NewEnvProvider creates an environment provider. The secret "git-token"
// with prefix "GATEKEEPER_SECRET_" is read from GATEKEEPER_SECRET_GIT_TOKEN.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{Prefix: prefix}
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) GetSecret(_ context.Context, name string) (string, error) {
	key := p.envVar(name)
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s (env var %s)", ErrNotFound, name, key)
	}
	return value, nil
}

func (p *EnvProvider) envVar(name string) string {
	return p.Prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// FileProvider reads one secret per file from a directory.
type FileProvider struct {
	dir string
}

// NewFileProvider creates a file provider rooted at dir.
func NewFileProvider(dir string) (*FileProvider, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("secrets path is not a directory: %s", dir)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve secrets directory: %w", err)
	}
	return &FileProvider{dir: abs}, nil
}

func (p *FileProvider) Name() string { return "file" }

// GetSecret reads <dir>/<name>. The file must be a regular file with mode
// 0600 or 0400; surrounding whitespace is trimmed.
func (p *FileProvider) GetSecret(_ context.Context, name string) (string, error) {
	path := filepath.Join(p.dir, name)
	if filepath.Dir(path) != p.dir {
		return "", fmt.Errorf("invalid secret name %q", name)
	}

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat secret file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("secret %s is not a regular file", name)
	}
	if mode := info.Mode().Perm(); mode != 0o600 && mode != 0o400 {
		return "", fmt.Errorf("insecure permissions on %s: %o (expected 0600 or 0400)", path, mode)
	}

	// #nosec G304 - path is confined to the secrets directory above
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
