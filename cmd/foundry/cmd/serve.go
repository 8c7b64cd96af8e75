package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dshills/protocol-foundry/internal/api"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API.

Runs started with POST /invoke execute in the background and halt for a
human decision, delivered with POST /resume/{thread_id}. Halted and
finished threads are reloaded from the checkpoint store on startup.

Examples:
  # Defaults: 0.0.0.0:8000, SQLite checkpoints in ./foundry.db
  foundry serve

  # Redis checkpoints on a custom port
  FOUNDRY_STORE_DRIVER=redis foundry serve --port 9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	c.Flags().String("host", "0.0.0.0", "host address to bind to")
	c.Flags().IntP("port", "p", 8000, "port to listen on")
	_ = opts.v.BindPFlag("server.host", c.Flags().Lookup("host"))
	_ = opts.v.BindPFlag("server.port", c.Flags().Lookup("port"))
	return c
}

func runServe(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(context.Background()); err != nil {
			logger.Warn("closing resources", "error", err)
		}
	}()

	if err := a.tasks.Rehydrate(ctx); err != nil {
		logger.Warn("could not reload threads from the checkpoint store", "error", err)
	}

	srv := api.NewServer(a.tasks,
		api.WithLogger(logger),
		api.WithCORSOrigins(cfg.Server.CORSOrigins...),
		api.WithMetrics(promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{})),
		api.WithStoreStatus(a.store.status),
	)

	logger.Info("foundry ready",
		"addr", cfg.Server.Addr(),
		"provider", a.provider,
		"store", a.store.name,
		"degraded", a.store.status().Degraded,
		"max_concurrent_runs", cfg.Server.MaxConcurrentRuns,
	)

	serveErr := srv.ListenAndServe(ctx, cfg.Server.Addr(), cfg.Server.ShutdownTimeout)

	logger.Info("shutting down, waiting for in-flight runs")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.tasks.Shutdown(shutdownCtx); err != nil {
		logger.Warn("runs still in flight at shutdown", "error", err)
	}

	if serveErr != nil {
		return fmt.Errorf("server: %w", serveErr)
	}
	logger.Info("server stopped")
	return nil
}
