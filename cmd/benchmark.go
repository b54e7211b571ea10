package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/audit-cli/internal/audit"
	"github.com/sells-group/audit-cli/internal/benchmark"
	"github.com/sells-group/audit-cli/internal/capture"
	"github.com/sells-group/audit-cli/internal/db"
	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/internal/store"
)

var (
	benchCompany  string
	benchIndustry string
	benchLocation string
	benchTier     string
	benchSize     string
	benchForce    bool
	benchDebug    bool
)

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Manage the benchmark site library",
}

var benchmarkRunCmd = &cobra.Command{
	Use:   "run <url>",
	Short: "Capture a reference site and store its strengths as a benchmark record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		env, err := initAudit(ctx, "benchmark")
		if err != nil {
			return err
		}
		defer env.Close()

		eng := capture.New(cfg.Capture)
		if err := eng.Start(ctx); err != nil {
			return eris.Wrap(err, "start capture engine")
		}
		defer eng.Stop() //nolint:errcheck

		seeder := benchmark.NewPipeline(env.Store, eng, env.AI, env.Catalog, env.Proc, env.Retry)

		var rec benchmark.Recorder
		if benchDebug {
			rec = audit.NewDebugRecorder(cfg.Capture.ArtifactDir, "benchmark-"+benchmark.RecordID(args[0]))
		}

		record, usage, err := seeder.Run(ctx, rec, benchmark.SeedRequest{
			URL: args[0],
			Company: model.Company{
				Name:     benchCompany,
				Industry: benchIndustry,
				Location: benchLocation,
			},
			Tier:     model.BenchmarkTier(benchTier),
			SizeHint: benchSize,
			Force:    benchForce,
		})
		if err != nil {
			return eris.Wrap(err, "seed benchmark")
		}

		zap.L().Info("benchmark seeded",
			zap.String("benchmark_id", record.ID),
			zap.String("industry", record.Industry),
			zap.Int("input_tokens", usage.InputTokens),
			zap.Int("output_tokens", usage.OutputTokens),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	},
}

var benchmarkListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored benchmark records",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		industry, _ := cmd.Flags().GetString("industry")
		recs, err := st.ListBenchmarks(ctx, industry)
		if err != nil {
			return eris.Wrap(err, "list benchmarks")
		}

		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No benchmark records found.")
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCOMPANY\tINDUSTRY\tTIER\tDESIGN\tCONTENT\tUX\tUPDATED")
		for _, r := range recs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
				r.ID, r.CompanyName, r.Industry, r.Tier,
				r.Scores["design"], r.Scores["content"], r.Scores["ux"],
				r.UpdatedAt.Format("2006-01-02"),
			)
		}
		return tw.Flush()
	},
}

var benchmarkImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Bulk-load benchmark records from a JSON file",
	Long:  "Reads a JSON array of benchmark records and upserts them by ID. Postgres stores load the whole batch in one statement.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}

		var recs []model.BenchmarkRecord
		if err := json.Unmarshal(data, &recs); err != nil {
			return eris.Wrapf(err, "parse %s", args[0])
		}
		if len(recs) == 0 {
			zap.L().Info("no benchmark records in file", zap.String("file", args[0]))
			return nil
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		n, err := importBenchmarks(ctx, st, recs)
		if err != nil {
			return err
		}

		zap.L().Info("benchmark records imported",
			zap.Int64("records", n),
			zap.String("file", args[0]),
		)
		return nil
	},
}

// importBenchmarks upserts the records. A Postgres store takes the bulk
// path through a temp table; anything else falls back to row-at-a-time
// saves.
func importBenchmarks(ctx context.Context, st store.Store, recs []model.BenchmarkRecord) (int64, error) {
	for i := range recs {
		if recs[i].ID == "" {
			recs[i].ID = benchmark.RecordID(recs[i].URL)
		}
		if recs[i].ID == "" {
			return 0, eris.Errorf("record %d has no id and no usable url", i)
		}
		if recs[i].Tier == "" {
			recs[i].Tier = model.BenchmarkTierManual
		}
	}

	ps, ok := st.(*store.PostgresStore)
	if !ok {
		for i := range recs {
			if err := st.SaveBenchmark(ctx, &recs[i]); err != nil {
				return int64(i), eris.Wrapf(err, "save benchmark %s", recs[i].ID)
			}
		}
		return int64(len(recs)), nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(recs))
	for i := range recs {
		recordJSON, err := json.Marshal(&recs[i])
		if err != nil {
			return 0, eris.Wrapf(err, "marshal benchmark %s", recs[i].ID)
		}
		rows = append(rows, []any{
			recs[i].ID, strings.ToLower(strings.TrimSpace(recs[i].Industry)), recordJSON, now, now,
		})
	}

	return db.BulkUpsert(ctx, ps.Pool(), db.UpsertConfig{
		Table:        "benchmarks",
		Columns:      []string{"id", "industry", "record", "created_at", "updated_at"},
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"industry", "record", "updated_at"},
	}, rows)
}

func init() {
	benchmarkRunCmd.Flags().StringVar(&benchCompany, "company", "", "benchmark company name (required)")
	benchmarkRunCmd.Flags().StringVar(&benchIndustry, "industry", "", "benchmark industry (required)")
	benchmarkRunCmd.Flags().StringVar(&benchLocation, "location", "", "benchmark company location")
	benchmarkRunCmd.Flags().StringVar(&benchTier, "tier", string(model.BenchmarkTierManual), "benchmark tier: manual, regional, or national")
	benchmarkRunCmd.Flags().StringVar(&benchSize, "size", "", "company size hint, e.g. \"10-50 employees\"")
	benchmarkRunCmd.Flags().BoolVar(&benchForce, "force", false, "re-capture and re-score even when a record exists")
	benchmarkRunCmd.Flags().BoolVar(&benchDebug, "debug", false, "record prompts and responses under the artifact dir")
	_ = benchmarkRunCmd.MarkFlagRequired("company")
	_ = benchmarkRunCmd.MarkFlagRequired("industry")

	benchmarkListCmd.Flags().String("industry", "", "filter by industry")

	benchmarkCmd.AddCommand(benchmarkRunCmd)
	benchmarkCmd.AddCommand(benchmarkListCmd)
	benchmarkCmd.AddCommand(benchmarkImportCmd)
	rootCmd.AddCommand(benchmarkCmd)
}
