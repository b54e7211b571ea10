// Package audit orchestrates a full website audit: discovery, page
// selection, capture, the analyzer bank, benchmark matching, synthesis,
// and grading. The pipeline owns the run lifecycle: stage ordering and
// deadlines, the failure policy, progress events, and persistence of run
// and stage rows. Stages communicate only through the run context
// artifact; no stage reaches back into an earlier stage's output to
// mutate it.
package audit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/audit-cli/internal/analyzer"
	"github.com/sells-group/audit-cli/internal/benchmark"
	"github.com/sells-group/audit-cli/internal/config"
	"github.com/sells-group/audit-cli/internal/grader"
	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/internal/prompts"
	"github.com/sells-group/audit-cli/internal/resilience"
	"github.com/sells-group/audit-cli/internal/synthesis"
)

// Store is the slice of persistence the pipeline needs. The full store
// satisfies it.
type Store interface {
	CreateRun(ctx context.Context, targetURL string, company model.Company) (*model.AuditRun, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, result *model.AnalysisResult) error
	CreateStage(ctx context.Context, runID, name string) (string, error)
	CompleteStage(ctx context.Context, stageID string, res *model.StageResult) error
	SaveLead(ctx context.Context, result *model.AnalysisResult) (string, error)
	PushDLQ(ctx context.Context, entry *resilience.DLQEntry) error
}

// Discoverer enumerates a site's candidate pages.
type Discoverer interface {
	Discover(ctx context.Context, seedURL string) (*model.DiscoveryResult, error)
}

// Capturer renders pages and persists their artifacts. The pipeline
// starts and stops one per run so browser state never crosses runs.
type Capturer interface {
	Start(ctx context.Context) error
	CaptureAll(ctx context.Context, runID string, urls []string) ([]model.Capture, error)
	Stop() error
}

// Request describes one audit run.
type Request struct {
	TargetURL string
	Company   model.Company
	Options   model.RunOptions

	// Progress receives stage events. May be nil; must be safe to call
	// from any goroutine.
	Progress model.ProgressFunc

	// ExternalProfiles feed the social analyzer profiles already known
	// from lead data.
	ExternalProfiles []analyzer.SocialProfile
}

// Pipeline runs audits end to end.
type Pipeline struct {
	cfg         *config.Config
	store       Store
	discoverer  Discoverer
	newCapturer func(config.CaptureConfig) Capturer
	selector    *Selector
	bank        *analyzer.Bank
	matcher     *benchmark.Matcher
	synth       *synthesis.Synthesizer
	grader      *grader.Grader
	log         *zap.Logger
}

// New wires the pipeline. newCapturer builds a fresh capture engine per
// run. matcher may be nil when benchmark matching is not configured; runs
// then skip that stage.
func New(
	cfg *config.Config,
	st Store,
	disc Discoverer,
	newCapturer func(config.CaptureConfig) Capturer,
	selector *Selector,
	bank *analyzer.Bank,
	matcher *benchmark.Matcher,
	synth *synthesis.Synthesizer,
	gr *grader.Grader,
) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		store:       st,
		discoverer:  disc,
		newCapturer: newCapturer,
		selector:    selector,
		bank:        bank,
		matcher:     matcher,
		synth:       synth,
		grader:      gr,
		log:         zap.L().With(zap.String("component", "audit")),
	}
}

// Run executes one audit. The returned result is non-nil whenever a run
// row was created: failed and cancelled runs carry everything the stages
// gathered so callers can inspect and retry. Errors are *RunError; a
// request rejected during validation creates no run row at all.
func (p *Pipeline) Run(ctx context.Context, req Request) (result *model.AnalysisResult, err error) {
	target, verr := normalizeTarget(req.TargetURL)
	if verr != nil {
		return nil, verr
	}
	if strings.TrimSpace(req.Company.Name) == "" {
		return nil, inputError("company name is required")
	}
	if allModulesDisabled(req.Options) {
		return nil, inputError("every analyzer module is disabled")
	}

	run, cerr := p.store.CreateRun(ctx, target, req.Company)
	if cerr != nil {
		return nil, &RunError{Kind: KindInternal, Err: eris.Wrap(cerr, "audit: create run")}
	}

	log := p.log.With(zap.String("run_id", run.ID), zap.String("url", target))
	log.Info("audit started",
		zap.String("company", req.Company.Name),
		zap.String("industry", req.Company.Industry))

	if d := p.cfg.Pipeline.RunTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	acx := &model.AnalysisContext{
		RunID:     run.ID,
		TargetURL: target,
		Company:   req.Company,
		StartedAt: time.Now().UTC(),
		Options:   req.Options,
		Progress:  req.Progress,
	}
	if dl, ok := ctx.Deadline(); ok {
		acx.Deadline = dl
	}

	result = &model.AnalysisResult{
		RunID:     run.ID,
		TargetURL: target,
		Company:   req.Company,
		StartedAt: acx.StartedAt,
	}

	var debug *DebugRecorder
	var rec prompts.Recorder
	if req.Options.EnableDebug {
		debug = NewDebugRecorder(p.artifactDir(req.Options), run.ID)
		rec = debug
	}

	// The first event carries the run ID so async callers can hand it
	// back before any stage output exists.
	acx.Emit(model.StageDiscovery, "run_created", "run created", map[string]any{
		"run_id": run.ID,
		"url":    target,
	})

	var totalUsage model.TokenUsage

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = &RunError{Kind: KindInternal, Err: eris.Errorf("audit: panic: %v", r)}
		}
		p.finish(ctx, log, acx, result, totalUsage, err, debug)
	}()

	setStatus := func(status model.RunStatus) {
		if serr := p.store.UpdateRunStatus(ctx, run.ID, status); serr != nil {
			log.Warn("status update failed", zap.String("status", string(status)), zap.Error(serr))
		}
	}

	trackStage := func(stage model.Stage, fn func(sctx context.Context) (string, *model.StageResult, error)) error {
		acx.Emit(stage, "stage_start", string(stage)+" started", nil)

		stageID, serr := p.store.CreateStage(ctx, run.ID, string(stage))
		if serr != nil {
			log.Warn("stage row create failed", zap.String("stage", string(stage)), zap.Error(serr))
		}

		sctx, cancel := p.stageContext(ctx)
		defer cancel()

		start := time.Now()
		summary, sr, fnErr := fn(sctx)
		duration := time.Since(start).Milliseconds()

		if sr == nil {
			sr = &model.StageResult{}
		}
		sr.Name = string(stage)
		sr.Duration = duration

		if fnErr != nil {
			sr.Status = model.StageStatusFailed
			sr.Error = fnErr.Error()
			acx.Emit(stage, "stage_error", fnErr.Error(), map[string]any{"kind": string(KindOf(fnErr))})
			log.Error("stage failed",
				zap.String("stage", string(stage)),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr))
		} else {
			sr.Status = model.StageStatusComplete
			acx.Emit(stage, "stage_complete", summary, nil)
			log.Info("stage complete",
				zap.String("stage", string(stage)),
				zap.Int64("duration_ms", duration),
				zap.String("summary", summary))
		}

		if stageID != "" {
			if cmpErr := p.store.CompleteStage(ctx, stageID, sr); cmpErr != nil {
				log.Warn("stage row update failed", zap.String("stage", string(stage)), zap.Error(cmpErr))
			}
		}
		totalUsage.Add(sr.TokenUsage)
		result.Stages = append(result.Stages, *sr)
		return fnErr
	}

	// Discovery. An empty page set is fatal: nothing downstream can work
	// without at least the homepage.
	setStatus(model.RunStatusDiscovering)
	if err = trackStage(model.StageDiscovery, func(sctx context.Context) (string, *model.StageResult, error) {
		disc, derr := p.discoverer.Discover(sctx, target)
		if disc != nil {
			acx.Discovery = disc
		}
		if derr != nil {
			return "", nil, stageError(ctx, model.StageDiscovery, KindDiscoveryEmpty, derr)
		}
		return fmt.Sprintf("%d pages discovered", len(disc.Pages)), &model.StageResult{
			Metadata: map[string]any{
				"pages":       len(disc.Pages),
				"has_sitemap": disc.HasSitemap,
				"has_robots":  disc.HasRobots,
			},
		}, nil
	}); err != nil {
		return result, err
	}

	// Selection. Never fatal on its own: the selector falls back to the
	// deterministic rule, so only run teardown aborts here.
	setStatus(model.RunStatusSelecting)
	_ = trackStage(model.StageSelection, func(sctx context.Context) (string, *model.StageResult, error) {
		sel, usage := p.selector.Select(sctx, rec, acx.Discovery, req.Company, req.Options)
		acx.Selection = sel
		return fmt.Sprintf("%d pages selected (%s)", len(sel.All()), sel.Strategy), &model.StageResult{
			TokenUsage: usage,
			Metadata: map[string]any{
				"pages":    len(sel.All()),
				"strategy": string(sel.Strategy),
			},
		}, nil
	})
	if err = runCancelled(ctx, model.StageSelection); err != nil {
		return result, err
	}

	// Capture. Individual pages may fail; losing every page is fatal.
	setStatus(model.RunStatusCapturing)
	if err = trackStage(model.StageCapture, func(sctx context.Context) (string, *model.StageResult, error) {
		eng := p.newCapturer(p.captureConfig(req.Options))
		if startErr := eng.Start(sctx); startErr != nil {
			return "", nil, stageError(ctx, model.StageCapture, KindAllCapturesFailed, startErr)
		}
		defer func() {
			if stopErr := eng.Stop(); stopErr != nil {
				log.Warn("capture engine stop failed", zap.Error(stopErr))
			}
		}()

		caps, capErr := eng.CaptureAll(sctx, run.ID, acx.Selection.All())
		acx.Captures = caps

		ok := 0
		for i := range caps {
			if caps[i].OK() {
				ok++
				continue
			}
			acx.Emit(model.StageCapture, "page_failed",
				fmt.Sprintf("%s: %s", caps[i].URL, caps[i].Error),
				map[string]any{"kind": string(KindCaptureFailure), "url": caps[i].URL})
		}
		if ok == 0 {
			if capErr == nil {
				capErr = eris.New("audit: no page could be captured")
			}
			return "", nil, stageError(ctx, model.StageCapture, KindAllCapturesFailed, capErr)
		}
		if capErr != nil {
			log.Warn("capture ended early, proceeding with partial set",
				zap.Int("captured", ok), zap.Error(capErr))
		}
		return fmt.Sprintf("%d/%d pages captured", ok, len(caps)), &model.StageResult{
			Metadata: map[string]any{"captured": ok, "failed": len(caps) - ok},
		}, nil
	}); err != nil {
		return result, err
	}
	if err = runCancelled(ctx, model.StageCapture); err != nil {
		return result, err
	}

	// Analysis. The bank degrades per module; only losing every module
	// is fatal.
	setStatus(model.RunStatusAnalyzing)
	if err = trackStage(model.StageAnalysis, func(sctx context.Context) (string, *model.StageResult, error) {
		in := &analyzer.Input{
			Company:          req.Company,
			TargetURL:        target,
			Discovery:        acx.Discovery,
			Selection:        acx.Selection,
			Captures:         captureMap(acx.Captures),
			Options:          req.Options,
			ExternalProfiles: req.ExternalProfiles,
			Recorder:         rec,
		}
		if req.Options.EnableCrossPageContext {
			in.CrossPage = analyzer.NewCrossPageBuilder()
		}

		results := p.bank.Run(sctx, in)
		acx.Modules = results

		var usage model.TokenUsage
		scores := make(map[string]any, len(results))
		failed := 0
		for m, res := range results {
			usage.Add(res.Usage)
			scores[string(m)] = res.Score
			if res.Failed() {
				failed++
				acx.Emit(model.StageAnalysis, "module_failed",
					fmt.Sprintf("%s: %s", m, res.Error),
					map[string]any{"kind": string(KindAnalyzerError), "module": string(m)})
			}
		}
		sr := &model.StageResult{
			TokenUsage: usage,
			Metadata:   map[string]any{"scores": scores, "failed_modules": failed},
		}

		if analyzer.AllFailed(results) {
			return "", sr, stageError(ctx, model.StageAnalysis, KindAllAnalyzersFailed,
				eris.New("audit: every analyzer module failed"))
		}
		return fmt.Sprintf("%d modules analyzed, %d failed", len(results), failed), sr, nil
	}); err != nil {
		return result, err
	}
	if err = runCancelled(ctx, model.StageAnalysis); err != nil {
		return result, err
	}

	// Benchmark. Advisory: a failed match downgrades the report, never
	// the run.
	if p.benchmarkEnabled(req.Options) {
		setStatus(model.RunStatusBenchmarking)
		bErr := trackStage(model.StageBenchmark, func(sctx context.Context) (string, *model.StageResult, error) {
			match, usage, merr := p.matcher.Match(sctx, rec, benchmark.MatchRequest{Company: req.Company})
			sr := &model.StageResult{TokenUsage: usage}
			if merr != nil {
				return "", sr, stageError(ctx, model.StageBenchmark, KindBenchmarkUnavailable, merr)
			}
			acx.Benchmark = match
			sr.Metadata = map[string]any{"benchmark_id": match.ID, "match_score": match.MatchScore}
			return fmt.Sprintf("matched %s (%d/100 fit)", match.CompanyName, match.MatchScore), sr, nil
		})
		if bErr != nil {
			if err = runCancelled(ctx, model.StageBenchmark); err != nil {
				return result, err
			}
			log.Warn("continuing without benchmark context", zap.Error(bErr))
		}
	} else {
		result.Stages = append(result.Stages, model.StageResult{
			Name:     string(model.StageBenchmark),
			Status:   model.StageStatusSkipped,
			Metadata: map[string]any{"reason": "disabled"},
		})
	}

	// Synthesis. The executive summary degrades to a template inside the
	// synthesizer; a hard stage failure costs consolidation, not the run.
	setStatus(model.RunStatusSynthesizing)
	synErr := trackStage(model.StageSynthesis, func(sctx context.Context) (string, *model.StageResult, error) {
		syn, usage, serr := p.synth.Synthesize(sctx, rec, synthesis.Input{
			Company:   req.Company,
			URL:       target,
			Modules:   acx.Modules,
			Benchmark: acx.Benchmark,
		})
		sr := &model.StageResult{TokenUsage: usage}
		if serr != nil {
			return "", sr, stageError(ctx, model.StageSynthesis, KindSynthesisTimeout, serr)
		}
		acx.Synthesis = syn
		if syn.FallbackSummary {
			acx.Emit(model.StageSynthesis, "summary_fallback",
				"executive summary timed out, template substituted",
				map[string]any{"kind": string(KindSynthesisTimeout)})
		}
		sr.Metadata = map[string]any{
			"issues":           len(syn.ConsolidatedIssues),
			"fallback_summary": syn.FallbackSummary,
		}
		return fmt.Sprintf("%d issues consolidated", len(syn.ConsolidatedIssues)), sr, nil
	})
	if synErr != nil {
		if err = runCancelled(ctx, model.StageSynthesis); err != nil {
			return result, err
		}
		log.Warn("continuing without synthesis", zap.Error(synErr))
	}

	// Grading. Pure computation over what the run gathered.
	setStatus(model.RunStatusGrading)
	if err = trackStage(model.StageGrading, func(_ context.Context) (string, *model.StageResult, error) {
		grade := p.grader.Grade(acx.Modules, deriveSignals(target, acx))
		acx.Grade = grade
		return fmt.Sprintf("grade %s (%d/100)", grade.Letter, grade.OverallScore), &model.StageResult{
			Metadata: map[string]any{"letter": grade.Letter, "overall": grade.OverallScore},
		}, nil
	}); err != nil {
		return result, err
	}

	return result, nil
}

// finish is the single exit point for every started run. It fixes the
// terminal status, persists the result, and emits the terminal event.
// Store writes here use a detached context so a cancelled run still
// records its own cancellation.
func (p *Pipeline) finish(ctx context.Context, log *zap.Logger, acx *model.AnalysisContext, result *model.AnalysisResult, usage model.TokenUsage, runErr error, debug *DebugRecorder) {
	result.Discovery = acx.Discovery
	result.Selection = acx.Selection
	result.Captures = acx.Captures
	result.Modules = acx.Modules
	result.Benchmark = acx.Benchmark
	result.Synthesis = acx.Synthesis
	result.Grade = acx.Grade
	result.TotalTokens = usage.Total()
	result.TotalCost = usage.Cost
	result.CompletedAt = time.Now().UTC()
	result.DurationMs = result.CompletedAt.Sub(result.StartedAt).Milliseconds()

	switch {
	case runErr == nil:
		result.Status = model.RunStatusComplete
	case KindOf(runErr) == KindCancelled:
		result.Status = model.RunStatusCancelled
		result.Reason = runErr.Error()
	default:
		result.Status = model.RunStatusFailed
		result.Reason = runErr.Error()
	}

	sctx := context.WithoutCancel(ctx)
	if uerr := p.store.UpdateRunStatus(sctx, result.RunID, result.Status); uerr != nil {
		log.Warn("final status update failed", zap.Error(uerr))
	}
	if uerr := p.store.UpdateRunResult(sctx, result.RunID, result); uerr != nil {
		log.Warn("result persist failed", zap.Error(uerr))
	}

	switch result.Status {
	case model.RunStatusComplete:
		if _, lerr := p.store.SaveLead(sctx, result); lerr != nil {
			log.Warn("lead save failed", zap.Error(lerr))
		}
		acx.Emit(model.StageDone, "run_complete",
			fmt.Sprintf("audit complete: grade %s (%d/100)", result.Grade.Letter, result.Grade.OverallScore), nil)
		log.Info("audit complete",
			zap.String("grade", result.Grade.Letter),
			zap.Int("score", result.Grade.OverallScore),
			zap.Int("total_tokens", result.TotalTokens),
			zap.Float64("total_cost", result.TotalCost),
			zap.Int64("duration_ms", result.DurationMs))
	case model.RunStatusCancelled:
		acx.Emit(model.StageError, "run_cancelled", result.Reason, nil)
		log.Warn("audit cancelled", zap.String("reason", result.Reason))
	default:
		acx.Emit(model.StageError, "run_failed", result.Reason,
			map[string]any{"kind": string(KindOf(runErr))})
		log.Error("audit failed", zap.String("reason", result.Reason))
		p.enqueueDLQ(sctx, log, result, runErr)
	}

	if debug != nil {
		debug.RecordResult(result)
	}
}

// enqueueDLQ parks a failed run for the retry worker. Transient failures
// retry on the backoff schedule; permanent ones sit for inspection.
func (p *Pipeline) enqueueDLQ(ctx context.Context, log *zap.Logger, result *model.AnalysisResult, runErr error) {
	var stage model.Stage
	var re *RunError
	if errors.As(runErr, &re) {
		stage = re.Stage
	}
	now := time.Now().UTC()
	entry := &resilience.DLQEntry{
		ID:           uuid.NewString(),
		RunID:        result.RunID,
		TargetURL:    result.TargetURL,
		Company:      result.Company,
		Error:        runErr.Error(),
		ErrorType:    resilience.ClassifyError(runErr),
		FailedStage:  string(stage),
		MaxRetries:   p.cfg.Resilience.DLQMaxRetries,
		NextRetryAt:  now.Add(resilience.RetrySchedule(0)),
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if derr := p.store.PushDLQ(ctx, entry); derr != nil {
		log.Warn("dlq push failed", zap.Error(derr))
	}
}

func (p *Pipeline) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := p.cfg.Pipeline.StageTimeout(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// captureConfig applies per-run overrides on top of the configured
// capture settings.
func (p *Pipeline) captureConfig(opts model.RunOptions) config.CaptureConfig {
	cc := p.cfg.Capture
	if opts.PageTimeout > 0 {
		cc.PageTimeoutSecs = int(opts.PageTimeout / time.Second)
	}
	if opts.CaptureConcurrency > 0 {
		cc.Concurrency = opts.CaptureConcurrency
	}
	if opts.ArtifactDir != "" {
		cc.ArtifactDir = opts.ArtifactDir
	}
	return cc
}

func (p *Pipeline) artifactDir(opts model.RunOptions) string {
	if opts.ArtifactDir != "" {
		return opts.ArtifactDir
	}
	return p.cfg.Capture.ArtifactDir
}

func (p *Pipeline) benchmarkEnabled(opts model.RunOptions) bool {
	return opts.EnableBenchmarkContext && p.cfg.Benchmark.Enabled && p.matcher != nil
}

// runCancelled converts a dead run context into the terminal error for
// stages whose own failures never abort the run.
func runCancelled(ctx context.Context, stage model.Stage) error {
	if ctx.Err() == nil {
		return nil
	}
	return &RunError{Kind: KindCancelled, Stage: stage, Err: ctx.Err()}
}

// normalizeTarget validates and canonicalizes the audit target. The rules
// mirror the discovery seed: scheme defaults to https, and only HTTP(S)
// URLs with a host are auditable.
func normalizeTarget(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", inputError("target URL is empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", inputError("target URL %q: %v", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", inputError("target URL %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return "", inputError("target URL %q has no host", raw)
	}
	return u.String(), nil
}

func allModulesDisabled(opts model.RunOptions) bool {
	for _, m := range model.AllModules() {
		if !opts.ModuleDisabled(m) {
			return false
		}
	}
	return true
}

// captureMap keys every capture by its requested URL, failed captures
// included: analyzers skip those but report what was attempted.
func captureMap(caps []model.Capture) map[string]*model.Capture {
	out := make(map[string]*model.Capture, len(caps))
	for i := range caps {
		out[caps[i].URL] = &caps[i]
	}
	return out
}

// deriveSignals computes the binary grade context from what the run saw.
// HTTPS holds when the target or the homepage's final URL is TLS, so a
// redirect to https counts. The site is accessible when its homepage
// rendered; mobile friendliness is the viewport meta on the homepage, or
// on the first rendered page when the homepage capture failed.
func deriveSignals(target string, acx *model.AnalysisContext) model.GradeSignals {
	sig := model.GradeSignals{
		HTTPS: strings.HasPrefix(target, "https://"),
	}

	var home string
	if acx.Discovery != nil {
		home = acx.Discovery.Homepage()
	}

	var homeCap, probe *model.Capture
	for i := range acx.Captures {
		c := &acx.Captures[i]
		if c.URL == home {
			homeCap = c
		}
		if probe == nil && c.OK() {
			probe = c
		}
	}

	sig.SiteAccessible = homeCap != nil && homeCap.OK()
	if homeCap != nil && homeCap.OK() {
		probe = homeCap
	}
	if probe == nil {
		return sig
	}

	if strings.HasPrefix(probe.FinalURL, "https://") {
		sig.HTTPS = true
	}
	if feats, err := analyzer.ExtractFeatures(probe); err == nil {
		sig.MobileFriendly = feats.HasViewport
	}
	return sig
}
