package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/trackside/pkg/runjournal"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the finalization run journal",
	Long: `Inspect journaled finalization runs.

Every finalize (CLI, HTTP, or worker) writes one record:
  <journal.dir>/<run_id>/run.json

Run ids may be abbreviated to any unique prefix.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	RunE:  runRunsList,
}

var runsStatusCmd = &cobra.Command{
	Use:   "status <run_id>",
	Short: "Show one run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsStatus,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsStatusCmd)

	runsListCmd.Flags().Bool("json", false, "Output as JSON")
	runsListCmd.Flags().String("job", "", "Only show runs for this job name")
	runsStatusCmd.Flags().Bool("json", false, "Output as JSON")
}

func journalStore() (*runjournal.Store, error) {
	cfg, err := loadedConfig()
	if err != nil {
		return nil, err
	}
	return runjournal.NewStore(cfg.Journal.Dir), nil
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	job, _ := cmd.Flags().GetString("job")

	store, err := journalStore()
	if err != nil {
		return err
	}
	runs, err := store.List()
	if err != nil {
		return exitError(foundry.ExitFileReadError, "list runs", err)
	}
	if job != "" {
		filtered := runs[:0]
		for _, r := range runs {
			if r.JobName == job {
				filtered = append(filtered, r)
			}
		}
		runs = filtered
	}
	return printRuns(cmd.OutOrStdout(), runs, jsonOutput)
}

func printRuns(w io.Writer, runs []runjournal.RunRecord, jsonOutput bool) error {
	if jsonOutput {
		if runs == nil {
			runs = []runjournal.RunRecord{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(w, "No runs found")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()

	_, _ = fmt.Fprintln(tw, "RUN ID\tJOB\tKIND\tSTATE\tJOB STATUS\tSOURCE\tCREATED\tMINUTES")
	for _, r := range runs {
		status := string(r.JobStatus)
		if status == "" {
			status = "-"
		}
		source := string(r.Source)
		if source == "" {
			source = "-"
		}
		minutes := "-"
		if r.Charge != nil {
			minutes = fmt.Sprintf("%d", r.Charge.MinutesUsed)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortRunID(r.RunID),
			r.JobName,
			r.JobKind,
			r.State,
			status,
			source,
			r.CreatedAt.UTC().Format(time.RFC3339),
			minutes,
		)
	}
	return nil
}

func runRunsStatus(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, err := journalStore()
	if err != nil {
		return err
	}
	id, err := resolveRunID(store, args[0])
	if err != nil {
		return err
	}
	rec, err := store.Get(id)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "read run", err)
	}
	return printRun(cmd.OutOrStdout(), rec, jsonOutput)
}

func printRun(w io.Writer, rec *runjournal.RunRecord, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	_, _ = fmt.Fprintf(w, "run_id=%s\n", rec.RunID)
	_, _ = fmt.Fprintf(w, "job_name=%s\n", rec.JobName)
	_, _ = fmt.Fprintf(w, "job_kind=%s\n", rec.JobKind)
	_, _ = fmt.Fprintf(w, "profile_id=%s\n", rec.ProfileID)
	_, _ = fmt.Fprintf(w, "model_id=%s\n", rec.ModelID)
	if rec.LeaderboardID != "" {
		_, _ = fmt.Fprintf(w, "leaderboard_id=%s\n", rec.LeaderboardID)
	}
	_, _ = fmt.Fprintf(w, "state=%s\n", rec.State)
	if rec.JobStatus != "" {
		_, _ = fmt.Fprintf(w, "job_status=%s\n", rec.JobStatus)
	}
	_, _ = fmt.Fprintf(w, "created_at=%s\n", rec.CreatedAt.UTC().Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "ended_at=%s\n", formatOptionalTime(rec.EndedAt))
	if rec.Charge != nil {
		_, _ = fmt.Fprintf(w, "minutes_used=%d\n", rec.Charge.MinutesUsed)
		_, _ = fmt.Fprintf(w, "minutes_released=%d\n", rec.Charge.MinutesReleased)
		_, _ = fmt.Fprintf(w, "forced=%t\n", rec.Charge.Forced)
	}
	if rec.Error != "" {
		_, _ = fmt.Fprintf(w, "error=%s\n", rec.Error)
	}
	for _, p := range rec.Phases {
		outcome := "ok"
		switch {
		case p.Skipped:
			outcome = "skipped"
		case p.Error != "" && p.Swallowed:
			outcome = "swallowed: " + p.Error
		case p.Error != "":
			outcome = "failed: " + p.Error
		}
		_, _ = fmt.Fprintf(w, "phase.%s=%s\n", p.Phase, outcome)
	}
	return nil
}

func shortRunID(runID string) string {
	runID = strings.TrimSpace(runID)
	if len(runID) <= 12 {
		return runID
	}
	return runID[:12]
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// resolveRunID accepts a full run id or a unique prefix.
func resolveRunID(store *runjournal.Store, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", usageError("run_id is required", nil)
	}
	if _, err := store.Get(input); err == nil {
		return input, nil
	}

	runs, err := store.List()
	if err != nil {
		return "", exitError(foundry.ExitFileReadError, "list runs", err)
	}
	matches := make([]string, 0, 2)
	for _, r := range runs {
		if strings.HasPrefix(r.RunID, input) {
			matches = append(matches, r.RunID)
		}
	}
	switch len(matches) {
	case 0:
		return "", exitError(foundry.ExitFileNotFound, "run not found: "+input, runjournal.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return "", usageError(fmt.Sprintf("run id prefix %q is ambiguous (%d matches)", input, len(matches)), nil)
	}
}
