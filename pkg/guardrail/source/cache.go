package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/guardrail"
	"mercator-hq/gatekeeper/pkg/telemetry/metrics"
)

// Cache stores compiled rule sets per organization.
type Cache interface {
	// Get returns ok=false on a miss.
	Get(ctx context.Context, orgID string) (rs *guardrail.RuleSet, ok bool, err error)

	// Set stores rs. A zero ttl never expires.
	Set(ctx context.Context, orgID string, rs *guardrail.RuleSet, ttl time.Duration) error

	Invalidate(ctx context.Context, orgID string) error
	InvalidateAll(ctx context.Context) error

	// Name labels cache metrics.
	Name() string
}

type memoryEntry struct {
	rs        *guardrail.RuleSet
	expiresAt time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Name() string { return "memory" }

func (c *MemoryCache) Get(_ context.Context, orgID string) (*guardrail.RuleSet, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[orgID]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, orgID)
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.rs, true, nil
}

func (c *MemoryCache) Set(_ context.Context, orgID string, rs *guardrail.RuleSet, ttl time.Duration) error {
	e := memoryEntry{rs: rs}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[orgID] = e
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, orgID string) error {
	c.mu.Lock()
	delete(c.entries, orgID)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) InvalidateAll(context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]memoryEntry)
	c.mu.Unlock()
	return nil
}

// RedisCache shares compiled rule sets between processes. Entries are
// stored as YAML and recompiled on read.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to Redis using cfg.
func NewRedisCache(cfg config.RedisConfig) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisCacheFromClient(client, cfg.KeyPrefix)
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Name() string { return "redis" }

func (c *RedisCache) key(orgID string) string { return c.prefix + orgID }

func (c *RedisCache) Get(ctx context.Context, orgID string) (*guardrail.RuleSet, bool, error) {
	data, err := c.client.Get(ctx, c.key(orgID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var rs guardrail.RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, false, fmt.Errorf("decode cached rules: %w", err)
	}
	if err := rs.Compile(); err != nil {
		return nil, false, fmt.Errorf("compile cached rules: %w", err)
	}
	return &rs, true, nil
}

func (c *RedisCache) Set(ctx context.Context, orgID string, rs *guardrail.RuleSet, ttl time.Duration) error {
	data, err := yaml.Marshal(rs)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	if err := c.client.Set(ctx, c.key(orgID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, orgID string) error {
	if err := c.client.Del(ctx, c.key(orgID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// CachedSource serves per-organization rule sets from a cache, falling back
// to the last loaded rule set. It implements guardrail.RuleProvider.
type CachedSource struct {
	loader  Loader
	cache   Cache
	ttl     time.Duration
	metrics *metrics.Collector
	logger  *slog.Logger

	mu          sync.RWMutex
	current     *guardrail.RuleSet
	lastLoadErr error
	loadedAt    time.Time
}

// NewCachedSource creates a CachedSource. A nil cache disables caching.
func NewCachedSource(loader Loader, cache Cache, ttl time.Duration, m *metrics.Collector, logger *slog.Logger) *CachedSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedSource{
		loader:  loader,
		cache:   cache,
		ttl:     ttl,
		metrics: m,
		logger:  logger.With("component", "guardrail.cache"),
	}
}

// Rules implements guardrail.RuleProvider.
func (s *CachedSource) Rules(ctx context.Context, orgID string) (*guardrail.RuleSet, error) {
	if s.cache != nil {
		rs, ok, err := s.cache.Get(ctx, orgID)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "rule cache read failed", "org_id", orgID, "error", err)
		case ok:
			s.metrics.RecordCacheHit(s.cache.Name())
			return rs, nil
		default:
			s.metrics.RecordCacheMiss(s.cache.Name())
		}
	}

	full, err := s.ensureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	rs := forOrg(full, orgID)

	if s.cache != nil {
		if err := s.cache.Set(ctx, orgID, rs, s.ttl); err != nil {
			s.logger.WarnContext(ctx, "rule cache write failed", "org_id", orgID, "error", err)
		}
	}
	return rs, nil
}

func (s *CachedSource) ensureLoaded(ctx context.Context) (*guardrail.RuleSet, error) {
	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()
	if current != nil {
		return current, nil
	}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

// Reload loads the rule set and invalidates every cached entry. On failure
// the previous rule set stays in effect.
func (s *CachedSource) Reload(ctx context.Context) error {
	rs, err := s.loader.Load(ctx)
	if err != nil {
		s.mu.Lock()
		s.lastLoadErr = err
		s.mu.Unlock()
		s.metrics.RecordRuleReload("error")
		return err
	}

	s.mu.Lock()
	s.current = rs
	s.lastLoadErr = nil
	s.loadedAt = time.Now()
	s.mu.Unlock()
	s.metrics.RecordRuleReload("success")

	if s.cache != nil {
		if err := s.cache.InvalidateAll(ctx); err != nil {
			s.logger.WarnContext(ctx, "rule cache invalidation failed", "error", err)
		} else {
			s.metrics.RecordCacheInvalidation(s.cache.Name())
		}
	}

	s.logger.InfoContext(ctx, "guardrail rules reloaded", "version", rs.Version, "policies", len(rs.Policies))
	return nil
}

// Invalidate drops the cached entry for one organization after a rule edit.
func (s *CachedSource) Invalidate(ctx context.Context, orgID string) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Invalidate(ctx, orgID); err != nil {
		return err
	}
	s.metrics.RecordCacheInvalidation(s.cache.Name())
	return nil
}

// Version returns the version of the loaded rule set, or "" before the first load.
func (s *CachedSource) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.Version
}

// LoadedAt returns when rules were last loaded successfully.
func (s *CachedSource) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// LastError returns the error of the most recent failed reload, cleared by a
// successful one.
func (s *CachedSource) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastLoadErr
}

// forOrg returns the policies visible to orgID.
func forOrg(rs *guardrail.RuleSet, orgID string) *guardrail.RuleSet {
	out := &guardrail.RuleSet{Version: rs.Version}
	for _, p := range rs.Policies {
		if p.OrgID == "" || p.OrgID == orgID {
			out.Policies = append(out.Policies, p)
		}
	}
	return out
}
