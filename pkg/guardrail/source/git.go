package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/guardrail"
)

// SyncResult describes a clone or pull.
type SyncResult struct {
	FromSHA    string
	ToSHA      string
	HadChanges bool
}

// GitSource loads rules from a Git repository. The repository is cloned
// into a local path on first use and pulled by Sync. The HEAD commit SHA is
// the rule-set version.
type GitSource struct {
	config      config.GitConfig
	rulesPath   string
	maxFileSize int64
	logger      *slog.Logger

	mu   sync.Mutex
	repo *gogit.Repository
}

// NewGitSource creates a Git-backed rule source. rulesPath is relative to
// the repository root.
func NewGitSource(cfg config.GitConfig, rulesPath string, maxFileSize int64, logger *slog.Logger) (*GitSource, error) {
	if cfg.Repository == "" {
		return nil, fmt.Errorf("repository URL cannot be empty")
	}
	if cfg.Branch == "" {
		return nil, fmt.Errorf("branch cannot be empty")
	}
	if cfg.LocalPath == "" {
		return nil, fmt.Errorf("local path cannot be empty")
	}
	if _, err := gitAuth(cfg.Auth); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultGitTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GitSource{
		config:      cfg,
		rulesPath:   rulesPath,
		maxFileSize: maxFileSize,
		logger:      logger.With("component", "guardrail.git"),
	}, nil
}

func gitAuth(cfg config.GitAuthConfig) (transport.AuthMethod, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "token":
		if cfg.Token == "" {
			return nil, fmt.Errorf("token auth requires non-empty token")
		}
		username := cfg.Username
		if username == "" {
			username = "git"
		}
		return &http.BasicAuth{Username: username, Password: cfg.Token}, nil
	default:
		return nil, fmt.Errorf("unknown auth type: %s", cfg.Type)
	}
}

// Sync clones the repository if needed, otherwise pulls the tracked branch.
func (g *GitSource) Sync(ctx context.Context) (*SyncResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sync(ctx)
}

func (g *GitSource) sync(ctx context.Context) (*SyncResult, error) {
	if g.repo == nil {
		if err := g.openOrClone(ctx); err != nil {
			return nil, err
		}
		sha, err := g.head()
		if err != nil {
			return nil, err
		}
		return &SyncResult{ToSHA: sha, HadChanges: true}, nil
	}

	fromSHA, err := g.head()
	if err != nil {
		return nil, err
	}

	worktree, err := g.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	auth, _ := gitAuth(g.config.Auth)

	pullCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	err = worktree.PullContext(pullCtx, &gogit.PullOptions{
		RemoteName:    "origin",
		ReferenceName: plumbing.NewBranchReferenceName(g.config.Branch),
		SingleBranch:  true,
		Auth:          auth,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return nil, fmt.Errorf("failed to pull: %w", err)
	}

	toSHA, err := g.head()
	if err != nil {
		return nil, err
	}
	result := &SyncResult{FromSHA: fromSHA, ToSHA: toSHA, HadChanges: fromSHA != toSHA}
	if result.HadChanges {
		g.logger.InfoContext(ctx, "guardrail repository updated", "from", fromSHA, "to", toSHA)
	}
	return result, nil
}

func (g *GitSource) openOrClone(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(g.config.LocalPath, ".git")); err == nil {
		repo, err := gogit.PlainOpen(g.config.LocalPath)
		if err != nil {
			return fmt.Errorf("failed to open existing repo: %w", err)
		}
		g.repo = repo
		return nil
	}

	if err := os.MkdirAll(g.config.LocalPath, 0o755); err != nil {
		return fmt.Errorf("failed to create repository directory: %w", err)
	}
	auth, _ := gitAuth(g.config.Auth)

	cloneCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	repo, err := gogit.PlainCloneContext(cloneCtx, g.config.LocalPath, false, &gogit.CloneOptions{
		URL:           g.config.Repository,
		ReferenceName: plumbing.NewBranchReferenceName(g.config.Branch),
		SingleBranch:  true,
		Depth:         g.config.Depth,
		Auth:          auth,
	})
	if err != nil {
		return fmt.Errorf("failed to clone repository: %w", err)
	}
	g.repo = repo
	g.logger.InfoContext(ctx, "cloned guardrail repository", "branch", g.config.Branch, "path", g.config.LocalPath)
	return nil
}

func (g *GitSource) head() (string, error) {
	ref, err := g.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to get HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// Load syncs the repository on first use and loads its rule files. Pulls
// are excluded while files are read.
func (g *GitSource) Load(ctx context.Context) (*guardrail.RuleSet, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.repo == nil {
		if _, err := g.sync(ctx); err != nil {
			return nil, err
		}
	}

	sha, err := g.head()
	if err != nil {
		return nil, err
	}

	files := NewFileSource(filepath.Join(g.config.LocalPath, g.rulesPath), g.maxFileSize, g.logger)
	rs, err := files.Load(ctx)
	if err != nil {
		return nil, err
	}
	rs.Version = sha
	return rs, nil
}
