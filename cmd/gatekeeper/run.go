package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/guardrail/source"
	"mercator-hq/gatekeeper/pkg/queue"
	"mercator-hq/gatekeeper/pkg/telemetry/health"
)

const shutdownTimeout = 10 * time.Second

var runFlags struct {
	listenAddress string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the gatekeeper background services",
	Long: `Run the long-lived gatekeeper process.

The process loads guardrail rules, watches rule and operator files for
changes, polls the rule repository in git mode, expires stale queue items
on the configured schedule and serves metrics and health endpoints.
It stops on SIGINT or SIGTERM.

Examples:
  # Start with the default config
  gatekeeper run

  # Override the metrics listen address
  gatekeeper run --listen 0.0.0.0:9090

  # Check config and rules without starting anything
  gatekeeper run --dry-run`,
	RunE: runServices,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override metrics and health listen address")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "load config and rules, then exit")
}

func runServices(cmd *cobra.Command, args []string) error {
	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	a, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	if runFlags.listenAddress != "" {
		cfg.Telemetry.Metrics.ListenAddress = runFlags.listenAddress
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Guardrail rules loaded (%s)\n", a.rules.Version())
	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Guardrail.Watch && a.git == nil {
		if err := watch(ctx, &wg, a, cfg.Guardrail.Path, cfg.Guardrail.WatchDebounce, a.rules.Reload); err != nil {
			return err
		}
		if cfg.Directory.Path != "" {
			if err := watch(ctx, &wg, a, cfg.Directory.Path, cfg.Guardrail.WatchDebounce, a.dir.Load); err != nil {
				return err
			}
		}
	}

	scheduler := queue.NewScheduler(a.queue, cfg.Queue.ExpirySchedule, a.logger)
	if a.git != nil {
		if err := scheduler.AddFunc("git-poll", cfg.Guardrail.Git.PollSchedule, pollRules(a)); err != nil {
			return cli.NewConfigError("guardrail.git.poll_schedule", err.Error())
		}
	}
	if err := scheduler.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	defer scheduler.Stop()
	if next := scheduler.NextRun(); next != nil {
		a.logger.Debug("scheduler started", "next_run", next)
	}

	srv, err := startHTTP(a, &wg)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	if srv != nil {
		fmt.Fprintf(out, "✓ Metrics endpoint: http://%s%s\n", srv.Addr, cfg.Telemetry.Metrics.Path)
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	<-ctx.Done()
	fmt.Fprintln(out, "\nShutting down gracefully...")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("http shutdown failed", "error", err)
			return cli.NewCommandError("run", err)
		}
	}

	fmt.Fprintln(out, "✓ Stopped")
	return nil
}

func watch(ctx context.Context, wg *sync.WaitGroup, a *app, path string, debounce time.Duration, onChange func(context.Context) error) error {
	w, err := source.NewWatcher(path, debounce, a.logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := w.Watch(ctx, onChange); err != nil {
			a.logger.Error("file watcher stopped", "path", path, "error", err)
		}
	}()
	return nil
}

// pollRules pulls the rule repository and reloads when HEAD moved.
func pollRules(a *app) func(context.Context) error {
	return func(ctx context.Context) error {
		res, err := a.git.Sync(ctx)
		if err != nil {
			return err
		}
		if !res.HadChanges {
			return nil
		}
		return a.rules.Reload(ctx)
	}
}

// startHTTP serves metrics and health endpoints. It returns a nil server
// when both are disabled.
func startHTTP(a *app, wg *sync.WaitGroup) (*http.Server, error) {
	cfg := a.cfg.Telemetry
	if !cfg.Metrics.Enabled && !cfg.Health.Enabled {
		return nil, nil
	}

	mux := http.NewServeMux()
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, a.metrics.Handler())
	}
	if cfg.Health.Enabled {
		checker := health.New(&cfg.Health)
		if p, ok := a.store.(health.Pinger); ok {
			checker.Register("store", health.PingCheck(p))
		}
		if p, ok := a.cache.(health.Pinger); ok {
			checker.Register("rule_cache", health.PingCheck(p))
		}
		checker.Register("rules", func(context.Context) error { return a.rules.LastError() })
		health.Mount(mux, checker, &cfg.Health, Version, GitCommit)
	}

	ln, err := net.Listen("tcp", cfg.Metrics.ListenAddress)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Metrics.ListenAddress, err)
	}
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.logger.Info("serving telemetry endpoints", "address", srv.Addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server failed", "error", err)
		}
	}()
	return srv, nil
}
