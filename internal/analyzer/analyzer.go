// Package analyzer runs the per-module website audits: visual design,
// technical SEO and content quality (fused into one model call), social
// presence, accessibility, and performance. Analyzers never fail the run.
// A module that cannot complete reports its fallback score with error
// metadata and the bank carries on with whatever succeeded.
package analyzer

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/audit-cli/internal/config"
	"github.com/sells-group/audit-cli/internal/imageproc"
	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/internal/prompts"
	"github.com/sells-group/audit-cli/internal/resilience"
	"github.com/sells-group/audit-cli/pkg/anthropic"
	"github.com/sells-group/audit-cli/pkg/pagespeed"
)

// Analyzer is one module of the bank. Analyze never returns an error: a
// module that cannot complete reports its fallback envelope instead.
type Analyzer interface {
	Module() model.AnalyzerModule
	Analyze(ctx context.Context, in *Input) *model.ModuleResult
}

// Recorder receives debug artifacts (prompts, raw responses, parsed
// output) from stages that talk to external services.
type Recorder interface {
	Record(stage, kind string, data []byte)
}

type nopRecorder struct{}

func (nopRecorder) Record(string, string, []byte) {}

// SocialProfile is a social media profile supplied from outside the site,
// e.g. from prior lead data. During the social audit, external follower
// counts win over anything inferred on-site.
type SocialProfile struct {
	Platform  string `json:"platform"`
	URL       string `json:"url"`
	Followers int    `json:"followers,omitempty"`
	Source    string `json:"source,omitempty"`
}

// Input is the read-only view the bank hands every analyzer. Captures are
// keyed by the URL the capture was requested for; failed captures are
// present with Error set and analyzers skip them.
type Input struct {
	Company   model.Company
	TargetURL string
	Discovery *model.DiscoveryResult
	Selection *model.PageSelection
	Captures  map[string]*model.Capture
	Options   model.RunOptions

	// ExternalProfiles augment the social analyzer with profiles known
	// from outside the site.
	ExternalProfiles []SocialProfile

	// CrossPage accumulates per-page context for sequential visual
	// analysis. Nil when cross-page context is disabled.
	CrossPage *CrossPageBuilder

	// Recorder receives debug artifacts. Nil disables recording.
	Recorder Recorder
}

func (in *Input) recorder() Recorder {
	if in.Recorder == nil {
		return nopRecorder{}
	}
	return in.Recorder
}

// okCaptures returns the completed captures for the given URLs, in
// selection order, capped at max (0 means no cap).
func (in *Input) okCaptures(urls []string, max int) []*model.Capture {
	var out []*model.Capture
	for _, u := range urls {
		c, ok := in.Captures[u]
		if !ok || !c.OK() {
			continue
		}
		out = append(out, c)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

// maxPages resolves the per-module page cap from run options, falling back
// to the configured default.
func (in *Input) maxPages(cfg config.AnalysisConfig) int {
	if in.Options.MaxPagesPerModule > 0 {
		return in.Options.MaxPagesPerModule
	}
	if cfg.MaxPagesPerModule > 0 {
		return cfg.MaxPagesPerModule
	}
	return 5
}

// Bank owns the analyzers and fans them out in parallel. The technical
// analyzer runs once and reports under both the seo and content modules.
type Bank struct {
	visual        *Visual
	technical     *Technical
	social        *Social
	accessibility *Accessibility
	performance   *Performance
	log           *zap.Logger
}

// NewBank wires the analyzer bank.
func NewBank(cfg config.AnalysisConfig, ai anthropic.Client, psi pagespeed.Client, catalog *prompts.Catalog, proc *imageproc.Processor, retry resilience.RetryConfig) *Bank {
	d := deps{ai: ai, catalog: catalog, retry: retry}
	return &Bank{
		visual:        NewVisual(cfg, d, proc),
		technical:     NewTechnical(cfg, d),
		social:        NewSocial(cfg, d),
		accessibility: NewAccessibility(cfg, d),
		performance:   NewPerformance(psi),
		log:           zap.L().With(zap.String("component", "analyzer")),
	}
}

// Run executes every enabled analyzer and returns results keyed by module.
// Disabled modules are absent from the map. Run itself never fails; check
// AllFailed and ctx.Err() afterwards.
func (b *Bank) Run(ctx context.Context, in *Input) map[model.AnalyzerModule]*model.ModuleResult {
	var (
		mu      sync.Mutex
		results = make(map[model.AnalyzerModule]*model.ModuleResult)
	)
	put := func(res *model.ModuleResult) {
		if res == nil {
			return
		}
		mu.Lock()
		results[res.Module] = res
		mu.Unlock()
	}

	g, gCtx := errgroup.WithContext(ctx)

	if !in.Options.ModuleDisabled(model.ModuleVisual) {
		g.Go(func() error {
			put(b.visual.Analyze(gCtx, in))
			return nil
		})
	}

	seoOn := !in.Options.ModuleDisabled(model.ModuleSEO)
	contentOn := !in.Options.ModuleDisabled(model.ModuleContent)
	if seoOn || contentOn {
		g.Go(func() error {
			seo, content := b.technical.Analyze(gCtx, in)
			if seoOn {
				put(seo)
			}
			if contentOn {
				put(content)
			}
			return nil
		})
	}

	if !in.Options.ModuleDisabled(model.ModuleSocial) {
		g.Go(func() error {
			put(b.social.Analyze(gCtx, in))
			return nil
		})
	}

	if !in.Options.ModuleDisabled(model.ModuleAccessibility) {
		g.Go(func() error {
			put(b.accessibility.Analyze(gCtx, in))
			return nil
		})
	}

	if !in.Options.ModuleDisabled(model.ModulePerformance) {
		g.Go(func() error {
			put(b.performance.Analyze(gCtx, in))
			return nil
		})
	}

	// Analyzer goroutines always return nil.
	_ = g.Wait()

	for m, res := range results {
		if res.Failed() {
			b.log.Warn("module failed, fallback score recorded",
				zap.String("module", string(m)),
				zap.String("error", res.Error))
		}
	}
	return results
}

// AllFailed reports whether every module that ran errored. An empty result
// set reports false; the orchestrator rejects runs that disable every
// module before analysis starts.
func AllFailed(results map[model.AnalyzerModule]*model.ModuleResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, res := range results {
		if !res.Failed() {
			return false
		}
	}
	return true
}
