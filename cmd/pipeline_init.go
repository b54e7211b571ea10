package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/audit-cli/internal/analyzer"
	"github.com/sells-group/audit-cli/internal/audit"
	"github.com/sells-group/audit-cli/internal/benchmark"
	"github.com/sells-group/audit-cli/internal/capture"
	"github.com/sells-group/audit-cli/internal/config"
	"github.com/sells-group/audit-cli/internal/cost"
	"github.com/sells-group/audit-cli/internal/discovery"
	"github.com/sells-group/audit-cli/internal/grader"
	"github.com/sells-group/audit-cli/internal/imageproc"
	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/internal/prompts"
	"github.com/sells-group/audit-cli/internal/resilience"
	"github.com/sells-group/audit-cli/internal/store"
	"github.com/sells-group/audit-cli/internal/synthesis"
	anthropicpkg "github.com/sells-group/audit-cli/pkg/anthropic"
	"github.com/sells-group/audit-cli/pkg/pagespeed"
)

// auditEnv holds the initialized store, API clients, and the pipeline
// needed by the audit/batch/runs/serve commands.
type auditEnv struct {
	Store    store.Store
	Pipeline *audit.Pipeline
	Deduper  *audit.Deduper
	Cost     *cost.Calculator

	// Benchmark seeding builds its own pipeline from these.
	AI      anthropicpkg.Client
	Catalog *prompts.Catalog
	Proc    *imageproc.Processor
	Retry   resilience.RetryConfig
}

// Close releases resources held by the environment.
func (ae *auditEnv) Close() {
	if ae.Store != nil {
		_ = ae.Store.Close()
	}
}

// initAudit sets up the store, all API clients, the prompt catalog, and
// the audit pipeline. mode selects which config fields Validate requires.
// Callers should defer env.Close().
func initAudit(ctx context.Context, mode string) (*auditEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key,
		anthropicpkg.WithTimeout(cfg.Anthropic.CallTimeout()),
		anthropicpkg.WithMaxRetries(cfg.Anthropic.MaxRetries),
	)

	var psiOpts []pagespeed.Option
	if cfg.PageSpeed.BaseURL != "" {
		psiOpts = append(psiOpts, pagespeed.WithBaseURL(cfg.PageSpeed.BaseURL))
	}
	psiClient := pagespeed.NewClient(cfg.PageSpeed.Key, psiOpts...)

	catalog := prompts.NewCatalog(prompts.ModelSet{
		Haiku:  cfg.Anthropic.HaikuModel,
		Sonnet: cfg.Anthropic.SonnetModel,
		Vision: cfg.Anthropic.VisionModel,
	})
	if cfg.Prompts.OverridePath != "" {
		if err := catalog.LoadOverrides(cfg.Prompts.OverridePath); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "load prompt overrides")
		}
		zap.L().Info("prompt overrides loaded", zap.String("path", cfg.Prompts.OverridePath))
	}

	proc := imageproc.New(cfg.Images)
	retry := retryFromConfig(cfg.Resilience.Retry)

	disc := discovery.New(cfg.Discovery)
	newCapturer := func(cc config.CaptureConfig) audit.Capturer {
		return capture.New(cc)
	}

	selector := audit.NewSelector(cfg.Analysis, anthropicClient, catalog, retry)
	bank := analyzer.NewBank(cfg.Analysis, anthropicClient, psiClient, catalog, proc, retry)
	synth := synthesis.New(anthropicClient, catalog, cfg.Synthesis, retry)

	// Benchmark matching is optional. Without a matcher, runs grade
	// against absolute score bands only.
	var matcher *benchmark.Matcher
	if cfg.Benchmark.Enabled {
		matcher = benchmark.NewMatcher(cfg.Benchmark, st, anthropicClient, catalog, retry)
	} else {
		zap.L().Info("benchmark matching disabled, runs skip that stage")
	}

	p := audit.New(cfg, st, disc, newCapturer, selector, bank, matcher, synth, grader.New())

	return &auditEnv{
		Store:    st,
		Pipeline: p,
		Deduper:  audit.NewDeduper(),
		Cost:     cost.NewCalculator(ratesFromConfig(cfg.Pricing)),
		AI:       anthropicClient,
		Catalog:  catalog,
		Proc:     proc,
		Retry:    retry,
	}, nil
}

// defaultRunOptions builds run options from config for runs started
// without per-run flags (batch, DLQ retries, the API).
func defaultRunOptions() model.RunOptions {
	return model.RunOptions{
		EnableCrossPageContext: cfg.Analysis.CrossPageContext,
		EnableBenchmarkContext: true,
		DisabledModules:        cfg.Analysis.DisabledModules,
	}
}

// retryFromConfig converts config backoff settings (plain ints in YAML)
// into a retry policy, keeping library defaults for anything unset.
func retryFromConfig(rc config.RetryConfig) resilience.RetryConfig {
	out := resilience.DefaultRetryConfig()
	if rc.MaxAttempts > 0 {
		out.MaxAttempts = rc.MaxAttempts
	}
	if rc.InitialBackoffMs > 0 {
		out.InitialBackoff = time.Duration(rc.InitialBackoffMs) * time.Millisecond
	}
	if rc.MaxBackoffMs > 0 {
		out.MaxBackoff = time.Duration(rc.MaxBackoffMs) * time.Millisecond
	}
	if rc.Multiplier > 0 {
		out.Multiplier = rc.Multiplier
	}
	if rc.JitterFraction > 0 {
		out.JitterFraction = rc.JitterFraction
	}
	return out
}

// ratesFromConfig maps configured pricing overrides onto calculator rates.
func ratesFromConfig(pc config.PricingConfig) cost.Rates {
	rates := cost.Rates{Anthropic: make(map[string]cost.ModelRate, len(pc.Anthropic))}
	for id, p := range pc.Anthropic {
		rates.Anthropic[id] = cost.ModelRate{
			Input:         p.Input,
			Output:        p.Output,
			CacheWriteMul: p.CacheWriteMul,
			CacheReadMul:  p.CacheReadMul,
		}
	}
	return rates
}

// persistReport renders a completed result to JSON, writes it to blob
// storage, and records it so the API can list and serve it. Report
// persistence never fails the run.
func persistReport(ctx context.Context, st store.Store, result *model.AnalysisResult) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		zap.L().Warn("marshal report", zap.String("run_id", result.RunID), zap.Error(err))
		return
	}

	blobURL, err := st.PutBlob(ctx, "reports/"+result.RunID+".json", data)
	if err != nil {
		zap.L().Warn("store report blob", zap.String("run_id", result.RunID), zap.Error(err))
		return
	}

	if err := st.SaveReport(ctx, &model.ReportRecord{
		RunID:     result.RunID,
		Format:    "json",
		URL:       blobURL,
		SizeBytes: int64(len(data)),
	}); err != nil {
		zap.L().Warn("save report record", zap.String("run_id", result.RunID), zap.Error(err))
	}
}
