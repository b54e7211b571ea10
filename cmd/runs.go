package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/audit-cli/internal/audit"
	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/internal/monitoring"
	"github.com/sells-group/audit-cli/internal/resilience"
	"github.com/sells-group/audit-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect audit run history",
	Long:  "Commands for listing, viewing, retrying, and summarizing audit runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		target, _ := cmd.Flags().GetString("url")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.RunFilter{
			Status:    model.RunStatus(status),
			TargetURL: target,
			Limit:     limit,
		}
		if since > 0 {
			filter.Since = time.Now().Add(-since)
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs retry --

var runsRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-run failed audits from the dead letter queue",
	Long:  "Picks transient failures that are due for another attempt and runs them again. Successful retries leave the queue; failed ones reschedule with backoff.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		env, err := initAudit(ctx, "audit")
		if err != nil {
			return err
		}
		defer env.Close()

		id, _ := cmd.Flags().GetString("id")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := dlqEntriesToRetry(ctx, env.Store, id, limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Nothing to retry.")
			return nil
		}

		var succeeded, failed int
		for _, e := range entries {
			if err := retryEntry(ctx, env, e); err != nil {
				failed++
			} else {
				succeeded++
			}
			if ctx.Err() != nil {
				break
			}
		}

		zap.L().Info("retry pass complete",
			zap.Int("attempted", succeeded+failed),
			zap.Int("succeeded", succeeded),
			zap.Int("failed", failed),
		)
		return nil
	},
}

// dlqEntriesToRetry selects what to run: one specific entry by ID, or
// every transient failure that is due.
func dlqEntriesToRetry(ctx context.Context, st store.Store, id string, limit int) ([]resilience.DLQEntry, error) {
	if id != "" {
		entries, err := st.ListDLQ(ctx, resilience.DLQFilter{})
		if err != nil {
			return nil, eris.Wrap(err, "list dlq")
		}
		for _, e := range entries {
			if e.ID == id || e.RunID == id {
				return []resilience.DLQEntry{e}, nil
			}
		}
		return nil, eris.Errorf("no dead letter entry %s", id)
	}

	entries, err := st.ListDLQ(ctx, resilience.DLQFilter{
		ErrorType: "transient",
		DueOnly:   true,
		Limit:     limit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "list dlq")
	}
	return entries, nil
}

// retryEntry re-runs one dead-lettered audit. Success removes the entry;
// failure bumps its retry count and pushes the next attempt out.
func retryEntry(ctx context.Context, env *auditEnv, e resilience.DLQEntry) error {
	log := zap.L().With(
		zap.String("dlq_id", e.ID),
		zap.String("url", e.TargetURL),
		zap.Int("retry_count", e.RetryCount),
	)
	log.Info("retrying failed audit")

	result, err := env.Pipeline.Run(ctx, audit.Request{
		TargetURL: e.TargetURL,
		Company:   e.Company,
		Options:   defaultRunOptions(),
	})
	if err != nil {
		log.Error("retry failed", zap.Error(err))
		next := time.Now().UTC().Add(resilience.RetrySchedule(e.RetryCount + 1))
		if ierr := env.Store.IncrementDLQRetry(ctx, e.ID, next, err.Error()); ierr != nil {
			log.Warn("update dead letter entry", zap.Error(ierr))
		}
		return err
	}

	persistReport(ctx, env.Store, result)
	if rerr := env.Store.RemoveDLQ(ctx, e.ID); rerr != nil {
		log.Warn("remove dead letter entry", zap.Error(rerr))
	}
	log.Info("retry succeeded",
		zap.String("run_id", result.RunID),
		zap.String("grade", gradeLetter(result)),
	)
	return nil
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		hours, _ := cmd.Flags().GetInt("hours")
		snap, err := monitoring.NewCollector(st).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, snap)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (queued, capturing, complete, failed, ...)")
	runsListCmd.Flags().String("url", "", "filter by target URL")
	runsListCmd.Flags().Duration("since", 0, "only runs created in this window (e.g. 24h)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsRetryCmd.Flags().String("id", "", "retry one dead letter entry by entry or run ID")
	runsRetryCmd.Flags().Int("limit", 10, "max entries to retry in one pass")

	runsStatsCmd.Flags().Int("hours", 24, "lookback window in hours")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsRetryCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.AuditRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tURL\tCOMPANY\tSTATUS\tGRADE\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t---\t-------\t------\t-----\t-------\t--------")

	for _, r := range runs {
		grade := "-"
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()
		if r.Result != nil {
			if r.Result.Grade != nil {
				grade = fmt.Sprintf("%s (%d)", r.Result.Grade.Letter, r.Result.Grade.OverallScore)
			}
			if r.Result.DurationMs > 0 {
				dur = (time.Duration(r.Result.DurationMs) * time.Millisecond).Round(time.Second).String()
			}
		}

		company := r.Company.Name
		if len(company) > 30 {
			company = company[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.TargetURL,
			company,
			r.Status,
			grade,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes a metrics snapshot to w.
func formatRunStats(out io.Writer, s *monitoring.MetricsSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\t%dh\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.RunsTotal)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.RunsComplete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.RunsFailed)
	_, _ = fmt.Fprintf(w, "Cancelled:\t%d\n", s.RunsCancelled)
	_, _ = fmt.Fprintf(w, "Queued:\t%d\n", s.RunsQueued)
	_, _ = fmt.Fprintf(w, "Active:\t%d\n", s.RunsActive)
	if s.RunsComplete+s.RunsFailed > 0 {
		_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", s.FailRate*100)
	}
	if s.AvgScore > 0 {
		_, _ = fmt.Fprintf(w, "Avg score:\t%.1f\n", s.AvgScore)
	}
	letters := make([]string, 0, len(s.GradeCounts))
	for letter := range s.GradeCounts {
		letters = append(letters, letter)
	}
	sort.Strings(letters)
	for _, letter := range letters {
		_, _ = fmt.Fprintf(w, "  Grade %s:\t%d\n", letter, s.GradeCounts[letter])
	}
	_, _ = fmt.Fprintf(w, "LLM cost:\t$%.2f\n", s.CostUSD)
	_, _ = fmt.Fprintf(w, "DLQ depth:\t%d\n", s.DLQDepth)
	_, _ = fmt.Fprintf(w, "  Due:\t%d\n", s.DLQDue)
	_, _ = fmt.Fprintf(w, "  Exhausted:\t%d\n", s.DLQExhausted)
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
