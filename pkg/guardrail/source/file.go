package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"mercator-hq/gatekeeper/pkg/guardrail"
)

// SupportedVersions is the rule-file schema range this build understands.
const SupportedVersions = ">=1.0.0, <2.0.0"

var (
	// ErrUnsupportedVersion indicates a rule file with an incompatible schema version.
	ErrUnsupportedVersion = errors.New("unsupported rule file version")

	// ErrFileTooLarge indicates a rule file larger than the configured limit.
	ErrFileTooLarge = errors.New("rule file too large")
)

// LoadError identifies the file that failed to load.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load rule file %q: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Loader loads a complete rule set.
type Loader interface {
	Load(ctx context.Context) (*guardrail.RuleSet, error)
}

// FileSource loads rules from YAML files on disk.
// The path can be either a single file or a directory.
// If it's a directory, all .yaml and .yml files below it are loaded.
type FileSource struct {
	path        string
	maxFileSize int64
	constraint  *semver.Constraints
	logger      *slog.Logger
}

// NewFileSource creates a new file-based rule source. A maxFileSize of zero
// disables the size limit.
func NewFileSource(path string, maxFileSize int64, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	constraint, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		panic(err)
	}
	return &FileSource{
		path:        path,
		maxFileSize: maxFileSize,
		constraint:  constraint,
		logger:      logger.With("component", "guardrail.source"),
	}
}

// Path returns the configured path.
func (s *FileSource) Path() string {
	return s.path
}

// Load reads and compiles every rule file. Any malformed file fails the
// whole load. The returned version is a digest of the file contents.
func (s *FileSource) Load(ctx context.Context) (*guardrail.RuleSet, error) {
	files, err := s.files()
	if err != nil {
		return nil, err
	}

	digest := sha256.New()
	sets := make([]*guardrail.RuleSet, 0, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rs, data, err := s.loadFile(path)
		if err != nil {
			return nil, err
		}
		rel, _ := filepath.Rel(s.path, path)
		digest.Write([]byte(rel))
		digest.Write(data)
		sets = append(sets, rs)
	}

	version := "sha256:" + hex.EncodeToString(digest.Sum(nil))[:12]
	merged, err := guardrail.Merge(version, sets...)
	if err != nil {
		return nil, fmt.Errorf("failed to merge rule files under %q: %w", s.path, err)
	}

	s.logger.InfoContext(ctx, "loaded guardrail rules",
		"path", s.path,
		"files", len(files),
		"policies", len(merged.Policies),
		"version", version,
	)
	return merged, nil
}

func (s *FileSource) files() ([]string, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path %q: %w", s.path, err)
	}
	if !info.IsDir() {
		return []string{s.path}, nil
	}

	var files []string
	err = filepath.WalkDir(s.path, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != s.path {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && isRuleFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory %q: %w", s.path, err)
	}
	sort.Strings(files)
	return files, nil
}

func (s *FileSource) loadFile(path string) (*guardrail.RuleSet, []byte, error) {
	if s.maxFileSize > 0 {
		info, err := os.Stat(path)
		if err != nil {
			return nil, nil, &LoadError{Path: path, Err: err}
		}
		if info.Size() > s.maxFileSize {
			return nil, nil, &LoadError{Path: path, Err: fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, info.Size(), s.maxFileSize)}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, &LoadError{Path: path, Err: err}
	}

	rs, err := guardrail.Parse(data)
	if err != nil {
		return nil, nil, &LoadError{Path: path, Err: err}
	}
	if err := s.checkVersion(rs.Version); err != nil {
		return nil, nil, &LoadError{Path: path, Err: err}
	}

	s.logger.Debug("loaded rule file", "path", path, "policies", len(rs.Policies))
	return rs, data, nil
}

func (s *FileSource) checkVersion(v string) error {
	if v == "" {
		return fmt.Errorf("%w: version is required", ErrUnsupportedVersion)
	}
	version, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("%w: %q is not a semantic version", ErrUnsupportedVersion, v)
	}
	if !s.constraint.Check(version) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrUnsupportedVersion, v, SupportedVersions)
	}
	return nil
}

func isRuleFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
