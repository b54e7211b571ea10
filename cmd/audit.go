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
	"github.com/sells-group/audit-cli/internal/cost"
	"github.com/sells-group/audit-cli/internal/model"
)

var (
	auditCompany   string
	auditIndustry  string
	auditLocation  string
	auditPages     int
	auditCrossPage bool
	auditBenchCtx  bool
	auditDebug     bool
	auditJSON      bool
	auditTimeout   time.Duration
)

var auditCmd = &cobra.Command{
	Use:   "audit <url>",
	Short: "Audit a single website and grade it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if auditTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, auditTimeout)
			defer cancel()
		}

		env, err := initAudit(ctx, "audit")
		if err != nil {
			return err
		}
		defer env.Close()

		opts := model.RunOptions{
			MaxPagesPerModule:      auditPages,
			EnableCrossPageContext: auditCrossPage,
			EnableBenchmarkContext: auditBenchCtx,
			EnableDebug:            auditDebug,
			DisabledModules:        cfg.Analysis.DisabledModules,
		}
		if !cmd.Flags().Changed("cross-page-context") {
			opts.EnableCrossPageContext = cfg.Analysis.CrossPageContext
		}

		result, err := env.Pipeline.Run(ctx, audit.Request{
			TargetURL: args[0],
			Company: model.Company{
				Name:     auditCompany,
				Industry: auditIndustry,
				Location: auditLocation,
			},
			Options:  opts,
			Progress: logProgress,
		})
		if err != nil {
			return eris.Wrap(err, "audit run")
		}

		persistReport(ctx, env.Store, result)

		zap.L().Info("audit complete",
			zap.String("run_id", result.RunID),
			zap.String("url", result.TargetURL),
			zap.String("grade", gradeLetter(result)),
			zap.Int("total_tokens", result.TotalTokens),
			zap.Float64("total_cost", result.TotalCost),
			zap.Int64("duration_ms", result.DurationMs),
		)

		if auditJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}

		printAuditSummary(os.Stdout, result, env.Cost)
		return nil
	},
}

// logProgress surfaces pipeline stage events in the log stream. The
// pipeline already logs stage transitions at info, so these stay at debug.
func logProgress(ev model.ProgressEvent) {
	zap.L().Debug("progress",
		zap.String("stage", string(ev.Stage)),
		zap.String("step", ev.Step),
		zap.String("message", ev.Message),
	)
}

func gradeLetter(result *model.AnalysisResult) string {
	if result.Grade == nil {
		return "-"
	}
	return result.Grade.Letter
}

func printAuditSummary(w io.Writer, result *model.AnalysisResult, calc *cost.Calculator) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "URL:\t%s\n", result.TargetURL)
	fmt.Fprintf(tw, "Run:\t%s\n", result.RunID)
	fmt.Fprintf(tw, "Status:\t%s\n", result.Status)
	if result.Grade != nil {
		fmt.Fprintf(tw, "Grade:\t%s (%d/100)\n", result.Grade.Letter, result.Grade.OverallScore)
		if result.Grade.TopIssue != nil {
			fmt.Fprintf(tw, "Top issue:\t%s\n", result.Grade.TopIssue.Title)
		}
	}
	if result.Benchmark != nil && result.Benchmark.CompanyName != "" {
		fmt.Fprintf(tw, "Benchmark:\t%s\n", result.Benchmark.CompanyName)
	}
	fmt.Fprintf(tw, "Duration:\t%s\n", (time.Duration(result.DurationMs) * time.Millisecond).Round(time.Millisecond))
	fmt.Fprintf(tw, "Tokens:\t%d\n", result.TotalTokens)
	fmt.Fprintf(tw, "Cost:\t$%.4f\n", result.TotalCost)

	if len(result.Modules) > 0 {
		fmt.Fprintln(tw, "\nMODULE\tSCORE\tFINDINGS\tCOST")
		for _, m := range sortedModules(result.Modules) {
			if m.Failed() {
				fmt.Fprintf(tw, "%s\t-\t-\tfailed: %s\n", m.Module, m.Error)
				continue
			}
			fmt.Fprintf(tw, "%s\t%d\t%d\t$%.4f\n",
				m.Module, m.Score, len(m.Findings), calc.Usage(m.ModelID, m.Usage))
		}
	}

	if result.Grade != nil && len(result.Grade.QuickWins) > 0 {
		fmt.Fprintln(tw, "\nQUICK WINS")
		for _, qw := range result.Grade.QuickWins {
			fmt.Fprintf(tw, "[%s]\t%s\n", qw.Module, qw.Title)
		}
	}

	_ = tw.Flush()
}

func sortedModules(modules map[model.AnalyzerModule]*model.ModuleResult) []*model.ModuleResult {
	out := make([]*model.ModuleResult, 0, len(modules))
	for _, m := range modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Module < out[j].Module })
	return out
}

func init() {
	auditCmd.Flags().StringVar(&auditCompany, "company", "", "company name (required)")
	auditCmd.Flags().StringVar(&auditIndustry, "industry", "", "company industry, improves page selection and benchmark matching")
	auditCmd.Flags().StringVar(&auditLocation, "location", "", "company location, e.g. \"Austin, TX\"")
	auditCmd.Flags().IntVar(&auditPages, "pages", 0, "max pages per analyzer module (0 = config default)")
	auditCmd.Flags().BoolVar(&auditCrossPage, "cross-page-context", true, "run the cross-page consistency pass")
	auditCmd.Flags().BoolVar(&auditBenchCtx, "benchmark-context", true, "compare against the closest benchmark site")
	auditCmd.Flags().BoolVar(&auditDebug, "debug", false, "record prompts, responses, and the final result under the artifact dir")
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "print the full result as JSON instead of a summary")
	auditCmd.Flags().DurationVar(&auditTimeout, "timeout", 0, "overall run deadline (0 = config default)")
	_ = auditCmd.MarkFlagRequired("company")
	rootCmd.AddCommand(auditCmd)
}
