package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/trackside/internal/observability"
	"github.com/3leaps/trackside/internal/server"
	"github.com/3leaps/trackside/internal/server/handlers"
	"github.com/3leaps/trackside/pkg/itemstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve finalization over HTTP",
	Long: `Start the HTTP server.

Endpoints:
  POST /v1/finalize        finalize a workflow context (?force=true to rerun)
  GET  /v1/runs            list journaled runs
  GET  /v1/runs/{runID}    show one run
  GET  /health[/live|/ready|/startup]
  GET  /metrics            Prometheus metrics (metrics.enabled)
  GET  /version`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "Listen host (overrides server.host)")
	serveCmd.Flags().Int("port", 0, "Listen port (overrides server.port)")
}

// storeHealthChecker reports whether the item store answers.
type storeHealthChecker struct {
	store *itemstore.Store
}

func (c storeHealthChecker) CheckHealth(ctx context.Context) error {
	return c.store.Ping(ctx)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadedConfig()
	if err != nil {
		return err
	}
	log := observability.CLILogger

	host := cfg.Server.Host
	if h, _ := cmd.Flags().GetString("host"); h != "" {
		host = h
	}
	port := cfg.Server.Port
	if p, _ := cmd.Flags().GetInt("port"); p != 0 {
		port = p
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := buildEngine(ctx, cfg, prometheus.DefaultRegisterer, log)
	if err != nil {
		return err
	}
	defer eng.Close()

	handlers.InitHealthManager(versionInfo.Version)
	if cfg.Health.Enabled {
		handlers.GetHealthManager().RegisterChecker("item_store", storeHealthChecker{store: eng.store})
	}

	opts := []server.Option{
		server.WithFinalizer(eng.runner),
		server.WithRuns(eng.journal),
		server.WithLogger(log),
		server.WithVersion(handlers.VersionInfo{
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		}),
		server.WithTimeouts(server.Timeouts{
			Read:     cfg.Server.ReadTimeout,
			Write:    cfg.Server.WriteTimeout,
			Idle:     cfg.Server.IdleTimeout,
			Shutdown: cfg.Server.ShutdownTimeout,
		}),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, server.WithMetricsHandler(observability.MetricsHandler()))
	}

	srv := server.New(host, port, opts...)
	log.Info("Starting server", zap.String("addr", srv.Addr()), zap.String("version", versionInfo.Version))
	if err := srv.Start(ctx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "serve", err)
	}
	return nil
}
