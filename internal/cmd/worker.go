package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/trackside/internal/config"
	"github.com/3leaps/trackside/internal/observability"
	"github.com/3leaps/trackside/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume finalize tasks from the queue",
	Long: `Consume workflow:finalize tasks from the Redis-backed queue.

Tasks are produced by 'trackside finalize --enqueue' or by any client that
enqueues the same payload. A task for a job the run journal shows as
finalized is acknowledged without rerunning. When metrics.enabled is set,
Prometheus metrics are served on metrics.port.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().Int("concurrency", 0, "Concurrent tasks (overrides queue.concurrency)")
}

func queueOptions(q config.QueueConfig) worker.QueueOptions {
	return worker.QueueOptions{
		RedisAddr:     q.RedisAddr,
		RedisPassword: q.RedisPassword,
		RedisDB:       q.RedisDB,
		Queue:         q.Name,
		Concurrency:   q.Concurrency,
		MaxRetry:      q.MaxRetry,
	}
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, err := loadedConfig()
	if err != nil {
		return err
	}
	log := observability.CLILogger

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := buildEngine(ctx, cfg, prometheus.DefaultRegisterer, log)
	if err != nil {
		return err
	}
	defer eng.Close()

	if cfg.Metrics.Enabled {
		go serveMetrics(ctx, net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Metrics.Port)), log)
	}

	opts := queueOptions(cfg.Queue)
	if c, _ := cmd.Flags().GetInt("concurrency"); c > 0 {
		opts.Concurrency = c
	}
	if err := worker.Run(ctx, opts, worker.NewHandler(eng.runner, log), log); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "run worker", err)
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, log *zap.Logger) {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", observability.MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("Serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("Metrics listener failed", zap.Error(err))
	}
}
