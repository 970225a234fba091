// Package cmd implements the trackside command line.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/trackside/internal/config"
	"github.com/3leaps/trackside/internal/observability"
)

const serviceName = "trackside"

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata injected by main.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootCmd = &cobra.Command{
	Use:   "trackside",
	Short: "Finalize training, evaluation, and race submission jobs",
	Long: `trackside closes out jobs after their execution ends.

For each job it reconciles the execution service's view of the job, removes
the live video stream, archives process logs, charges compute minutes, and
writes the terminal job and model status. Race submissions are scored and the
owner's leaderboard ranking is updated when the new run is strictly better.

Run once from a workflow context file, serve the same operation over HTTP,
or consume it from a Redis-backed queue.`,
	SilenceUsage:      true,
	PersistentPreRunE: initRuntimeConfig,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default: ./trackside.yaml, then the user config dir)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError("invalid flags", err)
	})
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func initRuntimeConfig(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	observability.InitCLILogger(serviceName, verbose)

	path, _ := cmd.Flags().GetString("config")
	config.SetConfigFile(path)

	var overrides []map[string]any
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		overrides = append(overrides, map[string]any{"logging": map[string]any{"level": lvl}})
	}

	cfg, err := config.Load(commandContext(cmd), overrides...)
	if err != nil {
		return usageError("load config", err)
	}
	if !verbose {
		observability.SetLogLevel(serviceName, cfg.Logging.Level)
	}
	observability.CLILogger.Debug("Loaded configuration",
		zap.String("store_path", cfg.Store.Path),
		zap.String("bucket", cfg.Bucket.Name),
		zap.String("journal_dir", cfg.Journal.Dir),
	)
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// loadedConfig returns the configuration loaded by the root pre-run hook.
func loadedConfig() (*config.Config, error) {
	cfg := config.GetConfig()
	if cfg == nil {
		return nil, usageError("configuration not loaded", nil)
	}
	return cfg, nil
}
