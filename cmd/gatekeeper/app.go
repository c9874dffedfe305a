package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/gatekeeper/pkg/audit"
	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/consensus"
	"mercator-hq/gatekeeper/pkg/directory"
	"mercator-hq/gatekeeper/pkg/governance"
	"mercator-hq/gatekeeper/pkg/guardrail"
	"mercator-hq/gatekeeper/pkg/guardrail/source"
	"mercator-hq/gatekeeper/pkg/notify"
	"mercator-hq/gatekeeper/pkg/queue"
	"mercator-hq/gatekeeper/pkg/secrets"
	"mercator-hq/gatekeeper/pkg/store"
	"mercator-hq/gatekeeper/pkg/store/sqlstore"
	"mercator-hq/gatekeeper/pkg/telemetry/logging"
	"mercator-hq/gatekeeper/pkg/telemetry/metrics"
	"mercator-hq/gatekeeper/pkg/telemetry/tracing"
)

// app holds every wired component for one command invocation.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store     store.Store
	loader    source.Loader
	git       *source.GitSource
	cache     source.Cache
	rules     *source.CachedSource
	dir       *directory.StaticDirectory
	recorder  *audit.Recorder
	notifier  notify.Notifier
	metrics   *metrics.Collector
	tracer    *tracing.Tracer
	guardrail *guardrail.Engine
	queue     *queue.Service
	consensus *consensus.Engine

	closers []func() error
}

// loadConfig reads the config file named by --config and resolves secret
// references. A missing default file falls back to built-in defaults; a
// missing explicit file is an error.
func loadConfig(ctx context.Context, explicit bool) (*config.Config, error) {
	path := cfgFile
	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := config.LoadConfigWithEnvOverrides(path)
	if err != nil {
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	resolver, err := secrets.FromConfig(cfg.Secrets)
	if err != nil {
		return nil, cli.NewConfigError("secrets", err.Error())
	}
	if err := resolver.ResolveConfig(ctx, cfg); err != nil {
		return nil, cli.NewConfigError("secrets", err.Error())
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)
	return logger, nil
}

func openStore(ctx context.Context, cfg *config.StoreConfig, logger *slog.Logger) (store.Store, error) {
	if cfg.Driver == "memory" {
		return store.NewMemoryStore(), nil
	}
	s, err := sqlstore.Open(ctx, &sqlstore.Config{
		Driver:       cfg.Driver,
		DSN:          cfg.DSN,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
		WALMode:      cfg.WALMode,
		BusyTimeout:  cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Driver, err)
	}
	return s, nil
}

func newRuleLoader(cfg *config.GuardrailConfig, logger *slog.Logger) (source.Loader, *source.GitSource, error) {
	switch cfg.Mode {
	case "git":
		g, err := source.NewGitSource(cfg.Git, cfg.Path, cfg.MaxFileSize, logger)
		if err != nil {
			return nil, nil, cli.NewConfigError("guardrail.git", err.Error())
		}
		return g, g, nil
	default:
		return source.NewFileSource(cfg.Path, cfg.MaxFileSize, logger), nil, nil
	}
}

func newRuleCache(cfg *config.CacheConfig) source.Cache {
	switch cfg.Backend {
	case "redis":
		return source.NewRedisCache(cfg.Redis)
	case "none":
		return nil
	default:
		return source.NewMemoryCache()
	}
}

// newApp wires the components. Commands that only read the store pass
// needRules=false so a missing rules path does not fail them.
func newApp(ctx context.Context, cfg *config.Config, needRules bool) (*app, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	a.metrics = metrics.NewCollector(&cfg.Telemetry.Metrics, prometheus.NewRegistry())
	a.tracer, err = tracing.New(&cfg.Telemetry.Tracing, tracing.WithServiceVersion(Version))
	if err != nil {
		return nil, cli.NewConfigError("telemetry.tracing", err.Error())
	}
	a.closers = append(a.closers, func() error { return a.tracer.Shutdown(context.Background()) })

	a.store, err = openStore(ctx, &cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	a.dir = directory.NewStaticDirectory(cfg.Directory.Path, logger)
	if err := a.dir.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load operator directory: %w", err)
	}

	var recorder governance.Recorder = governance.NopRecorder{}
	if cfg.Audit.Enabled {
		a.recorder, err = audit.NewRecorder(ctx, a.store, audit.FromConfig(cfg.Audit), logger)
		if err != nil {
			return nil, err
		}
		recorder = a.recorder
		// Registered last so it drains before the store closes.
		a.closers = append(a.closers, a.recorder.Close)
	}

	a.notifier = notify.Nop{}
	if cfg.Notify.Enabled {
		a.notifier = notify.NewLogNotifier(logger)
	}

	a.loader, a.git, err = newRuleLoader(&cfg.Guardrail, logger)
	if err != nil {
		return nil, err
	}
	a.cache = newRuleCache(&cfg.Guardrail.Cache)
	if closer, isCloser := a.cache.(interface{ Close() error }); isCloser {
		a.closers = append(a.closers, closer.Close)
	}
	a.rules = source.NewCachedSource(a.loader, a.cache, cfg.Guardrail.Cache.TTL, a.metrics, logger)
	if needRules {
		if err := a.rules.Reload(ctx); err != nil {
			return nil, fmt.Errorf("failed to load guardrail rules: %w", err)
		}
	}

	a.guardrail, err = guardrail.NewEngine(&guardrail.Config{DefaultQuorumSize: cfg.Guardrail.DefaultQuorumSize}, a.rules, a.dir, logger,
		guardrail.WithRecorder(recorder),
		guardrail.WithMetrics(a.metrics),
		guardrail.WithTracer(a.tracer),
	)
	if err != nil {
		return nil, err
	}

	a.queue, err = queue.NewService(&queue.Config{
		DefaultTTL:         cfg.Queue.DefaultTTL,
		AutoApproveAllowed: cfg.Queue.AutoApproveAllowed,
	}, a.store, a.guardrail, a.dir, logger,
		queue.WithNotifier(a.notifier),
		queue.WithRecorder(recorder),
		queue.WithMetrics(a.metrics),
		queue.WithTracer(a.tracer),
	)
	if err != nil {
		return nil, err
	}

	consensusCfg, err := consensus.FromConfig(&cfg.Consensus)
	if err != nil {
		return nil, err
	}
	a.consensus, err = consensus.NewEngine(consensusCfg, a.store, logger,
		consensus.WithApplier(a.queue),
		consensus.WithDirectory(a.dir),
		consensus.WithRecorder(recorder),
		consensus.WithNotifier(a.notifier),
		consensus.WithMetrics(a.metrics),
		consensus.WithTracer(a.tracer),
	)
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

// Close releases components in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// setup loads configuration and wires the app for a subcommand.
func setup(ctx context.Context, needRules bool) (*app, error) {
	cfg, err := loadConfig(ctx, rootCmd.PersistentFlags().Changed("config"))
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, needRules)
}
