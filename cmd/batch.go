package main

import (
	"bufio"
	"context"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/audit-cli/internal/audit"
	"github.com/sells-group/audit-cli/internal/model"
)

var batchLimit int

var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Audit many websites from a file",
	Long:  "Reads one target per line: a URL, optionally followed by comma-separated company name, industry, and location. Blank lines and # comments are skipped.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		targets, err := parseBatchFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "parse %s", args[0])
		}

		env, err := initAudit(ctx, "audit")
		if err != nil {
			return err
		}
		defer env.Close()

		opts := defaultRunOptions()

		return processAuditBatch(ctx, targets, batchLimit, cfg.Batch.MaxConcurrentRuns, func(ctx context.Context, t batchTarget) (*model.AnalysisResult, error) {
			result, shared, err := env.Deduper.Audit(t.URL, opts, func() (*model.AnalysisResult, error) {
				return env.Pipeline.Run(ctx, audit.Request{
					TargetURL: t.URL,
					Company:   t.Company,
					Options:   opts,
				})
			})
			if err == nil && !shared {
				persistReport(ctx, env.Store, result)
			}
			return result, err
		})
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of targets to audit (0 = all)")
	rootCmd.AddCommand(batchCmd)
}

// batchTarget is one line of the batch file.
type batchTarget struct {
	URL     string
	Company model.Company
}

// auditFunc is the callback signature for running one audit in a batch.
type auditFunc func(ctx context.Context, t batchTarget) (*model.AnalysisResult, error)

// parseBatchFile reads targets from a file, one per line. Lines may carry
// a company name, industry, and location after the URL, comma-separated.
func parseBatchFile(path string) ([]batchTarget, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	var targets []batchTarget
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		targets = append(targets, parseBatchLine(line))
	}
	return targets, scanner.Err()
}

func parseBatchLine(line string) batchTarget {
	parts := strings.SplitN(line, ",", 4)
	t := batchTarget{URL: strings.TrimSpace(parts[0])}
	if len(parts) > 1 {
		t.Company.Name = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		t.Company.Industry = strings.TrimSpace(parts[2])
	}
	if len(parts) > 3 {
		t.Company.Location = strings.TrimSpace(parts[3])
	}
	if t.Company.Name == "" {
		t.Company.Name = hostName(t.URL)
	}
	return t
}

// hostName gives unnamed targets their site host as a company name.
func hostName(rawURL string) string {
	s := rawURL
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// processAuditBatch applies limit, then audits targets concurrently using
// the given run function. Individual failures never abort the batch.
func processAuditBatch(ctx context.Context, targets []batchTarget, limit, concurrency int, run auditFunc) error {
	if len(targets) == 0 {
		zap.L().Info("no targets in batch file")
		return nil
	}

	if limit > 0 && len(targets) > limit {
		targets = targets[:limit]
	}
	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("targets", len(targets)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64

	for _, t := range targets {
		g.Go(func() error {
			log := zap.L().With(zap.String("url", t.URL))

			result, err := run(gctx, t)
			if err != nil {
				failed.Add(1)
				log.Error("audit failed", zap.Error(err))
				return nil // don't abort batch on individual failure
			}

			succeeded.Add(1)
			log.Info("audit complete",
				zap.String("run_id", result.RunID),
				zap.String("grade", gradeLetter(result)),
				zap.Int("total_tokens", result.TotalTokens),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return nil
}
