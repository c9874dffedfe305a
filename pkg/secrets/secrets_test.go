package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mercator-hq/gatekeeper/pkg/config"
)

func TestEnvProvider(t *testing.T) {
	t.Setenv("GK_TEST_GIT_TOKEN", "ghp_123")
	p := NewEnvProvider("GK_TEST_")

	got, err := p.GetSecret(context.Background(), "git-token")
	if err != nil {
		t.Fatalf("GetSecret() error = %v", err)
	}
	if got != "ghp_123" {
		t.Errorf("GetSecret() = %q, want ghp_123", got)
	}

	if _, err := p.GetSecret(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing secret error = %v, want ErrNotFound", err)
	}
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string, mode os.FileMode) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), mode); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(filepath.Join(dir, name), mode); err != nil {
			t.Fatal(err)
		}
	}
	write("redis-password", "s3cret\n", 0o600)
	write("readonly", "ro", 0o400)
	write("loose", "visible", 0o644)

	p, err := NewFileProvider(dir)
	if err != nil {
		t.Fatalf("NewFileProvider() error = %v", err)
	}

	tests := []struct {
		name     string
		secret   string
		want     string
		wantErr  bool
		notFound bool
	}{
		{name: "trimmed", secret: "redis-password", want: "s3cret"},
		{name: "read only", secret: "readonly", want: "ro"},
		{name: "insecure mode", secret: "loose", wantErr: true},
		{name: "missing", secret: "nope", wantErr: true, notFound: true},
		{name: "traversal", secret: "../etc/passwd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.GetSecret(context.Background(), tt.secret)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetSecret() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.notFound && !errors.Is(err, ErrNotFound) {
				t.Errorf("error = %v, want ErrNotFound", err)
			}
			if got != tt.want {
				t.Errorf("GetSecret() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := NewFileProvider(filepath.Join(dir, "redis-password")); err == nil {
		t.Error("NewFileProvider() on a file should fail")
	}
}

func TestResolver_Resolve(t *testing.T) {
	t.Setenv("GK_TEST_DB_USER", "gk")
	t.Setenv("GK_TEST_DB_PASSWORD", "pw")
	r := NewResolver(NewEnvProvider("GK_TEST_"))
	ctx := context.Background()

	got, err := r.Resolve(ctx, "postgres://${secret:db-user}:${secret:db-password}@db/gatekeeper")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "postgres://gk:pw@db/gatekeeper" {
		t.Errorf("Resolve() = %q", got)
	}

	plain, err := r.Resolve(ctx, "no references")
	if err != nil || plain != "no references" {
		t.Errorf("Resolve(plain) = %q, %v", plain, err)
	}

	if _, err := r.Resolve(ctx, "${secret:db-user}/${secret:absent}"); err == nil || !strings.Contains(err.Error(), "absent") {
		t.Errorf("Resolve(absent) error = %v", err)
	}
}

func TestResolver_ProviderOrder(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "git-token"), []byte("from-file"), 0o600); err != nil {
		t.Fatal(err)
	}

	r, err := FromConfig(config.SecretsConfig{EnvPrefix: "GK_ORDER_", Dir: dir})
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}

	got, err := r.GetSecret(context.Background(), "git-token")
	if err != nil || got != "from-file" {
		t.Errorf("file fallback = %q, %v", got, err)
	}

	t.Setenv("GK_ORDER_GIT_TOKEN", "from-env")
	got, err = r.GetSecret(context.Background(), "git-token")
	if err != nil || got != "from-env" {
		t.Errorf("env first = %q, %v", got, err)
	}
}

func TestResolver_ResolveConfig(t *testing.T) {
	t.Setenv("GK_CFG_GIT_TOKEN", "tok")
	t.Setenv("GK_CFG_REDIS", "rpw")

	cfg := config.Default()
	cfg.Store.DSN = "data/gatekeeper.db"
	cfg.Guardrail.Git.Auth.Token = "${secret:git-token}"
	cfg.Guardrail.Cache.Redis.Password = "${secret:redis}"

	r := NewResolver(NewEnvProvider("GK_CFG_"))
	if err := r.ResolveConfig(context.Background(), cfg); err != nil {
		t.Fatalf("ResolveConfig() error = %v", err)
	}
	if cfg.Guardrail.Git.Auth.Token != "tok" || cfg.Guardrail.Cache.Redis.Password != "rpw" {
		t.Errorf("resolved = %q / %q", cfg.Guardrail.Git.Auth.Token, cfg.Guardrail.Cache.Redis.Password)
	}
	if cfg.Store.DSN != "data/gatekeeper.db" {
		t.Errorf("DSN changed to %q", cfg.Store.DSN)
	}

	cfg.Store.DSN = "${secret:missing-dsn}"
	err := r.ResolveConfig(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "store.dsn") {
		t.Errorf("ResolveConfig(missing) error = %v, want store.dsn failure", err)
	}
}
