package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/trackside/internal/observability"
	"github.com/3leaps/trackside/internal/runner"
	"github.com/3leaps/trackside/internal/worker"
	"github.com/3leaps/trackside/pkg/runjournal"
	"github.com/3leaps/trackside/pkg/workflow"
)

var finalizeCmd = &cobra.Command{
	Use:   "finalize",
	Short: "Finalize one job from a workflow context",
	Long: `Finalize one job from a workflow context document (JSON or YAML).

The resulting context is printed to stdout as JSON. Phase failures do not
change the exit status: they are reported in the context's errorDetails, the
same way the HTTP and queue transports report them.

Each run is recorded in the run journal. A job whose latest run was persisted
or found the job canceled is not finalized again unless --force is given.

Examples:
  # Finalize from a file
  trackside finalize --context job.json

  # Read the context from stdin
  cat job.yaml | trackside finalize --context -

  # Hand the job to a running worker instead
  trackside finalize --context job.json --enqueue`,
	RunE: runFinalize,
}

func init() {
	rootCmd.AddCommand(finalizeCmd)
	finalizeCmd.Flags().String("context", "", "Workflow context file, or - for stdin (required)")
	finalizeCmd.Flags().Bool("force", false, "Finalize even if the run journal shows the job already finalized")
	finalizeCmd.Flags().Bool("enqueue", false, "Queue the job for a worker instead of finalizing in-process")
	finalizeCmd.Flags().Bool("report", false, "Print the full run outcome (context, phase report, run record)")
	_ = finalizeCmd.MarkFlagRequired("context")
}

func runFinalize(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	log := observability.CLILogger

	cfg, err := loadedConfig()
	if err != nil {
		return err
	}
	src, _ := cmd.Flags().GetString("context")
	force, _ := cmd.Flags().GetBool("force")
	enqueue, _ := cmd.Flags().GetBool("enqueue")
	fullReport, _ := cmd.Flags().GetBool("report")

	wc, err := readContext(src, cmd.InOrStdin())
	if err != nil {
		return err
	}
	if err := wc.Validate(); err != nil {
		return usageError("invalid workflow context", err)
	}

	if enqueue {
		enq := worker.NewEnqueuer(queueOptions(cfg.Queue))
		defer func() { _ = enq.Close() }()
		id, err := enq.Enqueue(ctx, wc, force)
		if errors.Is(err, worker.ErrAlreadyQueued) {
			return usageError("job already queued", err)
		}
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "enqueue finalize task", err)
		}
		log.Info("Queued finalize task", zap.String("task_id", id), zap.String("job_name", wc.JobName))
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), id); err != nil {
			return exitError(foundry.ExitFileWriteError, "write output", err)
		}
		return nil
	}

	eng, err := buildEngine(ctx, cfg, prometheus.NewRegistry(), log)
	if err != nil {
		return err
	}
	defer eng.Close()

	out, err := eng.runner.Finalize(ctx, runner.Request{Context: wc, Source: runjournal.SourceCLI, Force: force})
	switch {
	case errors.Is(err, runner.ErrAlreadyFinalized):
		return usageError("job already finalized (use --force to rerun)", err)
	case err != nil:
		return exitError(foundry.ExitFileWriteError, "run journal", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	var doc any = out.Context
	if fullReport {
		doc = out
	}
	if err := enc.Encode(doc); err != nil {
		return exitError(foundry.ExitFileWriteError, "write output", err)
	}
	if ctx.Err() != nil {
		return exitError(foundry.ExitSignalInt, "finalize cancelled", ctx.Err())
	}
	return nil
}

// readContext loads a workflow context from path, or from stdin when path
// is "-".
func readContext(path string, stdin io.Reader) (workflow.Context, error) {
	var (
		data []byte
		err  error
	)
	if strings.TrimSpace(path) == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return workflow.Context{}, exitError(foundry.ExitFileNotFound, "read workflow context", err)
	}
	if err != nil {
		return workflow.Context{}, exitError(foundry.ExitFileReadError, "read workflow context", err)
	}
	wc, err := decodeContext(data)
	if err != nil {
		return workflow.Context{}, usageError("decode workflow context", err)
	}
	return wc, nil
}

// decodeContext accepts JSON or YAML.
func decodeContext(data []byte) (workflow.Context, error) {
	var wc workflow.Context
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return wc, fmt.Errorf("workflow context is empty")
	}
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &wc); err != nil {
			return wc, fmt.Errorf("parse workflow context (json): %w", err)
		}
		return wc, nil
	}
	if err := yaml.Unmarshal(trimmed, &wc); err != nil {
		return wc, fmt.Errorf("parse workflow context (yaml): %w", err)
	}
	return wc, nil
}
