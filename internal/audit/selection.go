package audit

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/audit-cli/internal/config"
	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/internal/prompts"
	"github.com/sells-group/audit-cli/internal/resilience"
	"github.com/sells-group/audit-cli/internal/urlfilter"
	"github.com/sells-group/audit-cli/pkg/anthropic"
)

// Selector decides which discovered pages each module examines. The model
// picks when it can; a deterministic hint-affinity rule stands in whenever
// the call fails or returns unusable lists, so selection never fails a
// run.
type Selector struct {
	cfg    config.AnalysisConfig
	runner prompts.Runner
	log    *zap.Logger
}

// NewSelector wires the page selector.
func NewSelector(cfg config.AnalysisConfig, ai anthropic.Client, catalog *prompts.Catalog, retry resilience.RetryConfig) *Selector {
	return &Selector{
		cfg: cfg,
		runner: prompts.Runner{
			AI:        ai,
			Catalog:   catalog,
			Retry:     retry,
			Component: "selection",
		},
		log: zap.L().With(zap.String("component", "selection")),
	}
}

type selectionJSON struct {
	SEOPages     []string `json:"seo_pages"`
	ContentPages []string `json:"content_pages"`
	VisualPages  []string `json:"visual_pages"`
	SocialPages  []string `json:"social_pages"`
}

// Select partitions the discovered pages into per-module lists. Sites
// small enough that every page fits the quota skip the model call. Any
// failure on the model path falls back to the deterministic rule, so the
// returned selection is always usable; the caller decides whether a dead
// run context still aborts. Token usage from a failed call still counts
// against the run.
func (s *Selector) Select(ctx context.Context, rec prompts.Recorder, disc *model.DiscoveryResult, company model.Company, opts model.RunOptions) (*model.PageSelection, model.TokenUsage) {
	n := s.quota(opts)

	if len(disc.Pages) <= n {
		s.log.Info("selection trivial, every page fits the quota",
			zap.Int("pages", len(disc.Pages)), zap.Int("quota", n))
		return s.fallback(disc, n), model.TokenUsage{}
	}

	var out selectionJSON
	usage, _, err := s.runner.RunJSON(ctx, rec, prompts.Call{
		Stage:    "selection",
		PromptID: "page-selection",
		Vars: map[string]string{
			"company":  company.Name,
			"industry": company.Industry,
			"url":      disc.Origin,
			"quota":    strconv.Itoa(n),
			"pages":    renderCandidates(disc),
		},
	}, &out)
	if err != nil {
		s.log.Warn("page selection call failed, using fallback", zap.Error(err))
		return s.fallback(disc, n), usage
	}

	sel := &model.PageSelection{
		SEOPages:     sanitizePages(out.SEOPages, disc, n),
		ContentPages: sanitizePages(out.ContentPages, disc, n),
		VisualPages:  sanitizePages(out.VisualPages, disc, n),
		SocialPages:  sanitizePages(out.SocialPages, disc, n),
		Strategy:     model.SelectionStrategyLLM,
	}
	if anyListEmpty(sel) {
		s.log.Warn("page selection returned an unusable list, using fallback")
		return s.fallback(disc, n), usage
	}
	return sel, usage
}

func (s *Selector) quota(opts model.RunOptions) int {
	if opts.MaxPagesPerModule > 0 {
		return opts.MaxPagesPerModule
	}
	if s.cfg.MaxPagesPerModule > 0 {
		return s.cfg.MaxPagesPerModule
	}
	return 5
}

// renderCandidates formats the discovered pages as "url - hint" lines for
// the prompt.
func renderCandidates(disc *model.DiscoveryResult) string {
	var sb strings.Builder
	for _, p := range disc.Pages {
		fmt.Fprintf(&sb, "%s - %s\n", p.URL, p.TypeHint)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// sanitizePages guards one module list against model drift: URLs outside
// the discovered set or rejected by the capture filter are dropped,
// duplicates collapse, the homepage leads every non-empty list, and the
// quota clips the rest. An empty return means the model gave nothing
// usable for this list.
func sanitizePages(urls []string, disc *model.DiscoveryResult, n int) []string {
	home := disc.Homepage()
	var kept []string
	seen := make(map[string]bool)
	sawHome := false
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == home {
			sawHome = true
			continue
		}
		if u == "" || seen[u] || !urlfilter.CheckCapture(u).Keep || !disc.Contains(u) {
			continue
		}
		seen[u] = true
		kept = append(kept, u)
	}
	if len(kept) == 0 && !sawHome {
		return nil
	}
	out := append([]string{home}, kept...)
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func anyListEmpty(sel *model.PageSelection) bool {
	return len(sel.SEOPages) == 0 || len(sel.ContentPages) == 0 ||
		len(sel.VisualPages) == 0 || len(sel.SocialPages) == 0
}

// Fallback affinities: page types that serve a module best, in preference
// order. Every list starts from the homepage. Social leans on the pages
// that usually carry profile links in header or footer.
var (
	affinitySEO     = []model.PageType{model.PageTypeServices, model.PageTypeAbout}
	affinityContent = []model.PageType{model.PageTypeBlog, model.PageTypeAbout, model.PageTypeServices}
	affinityVisual  = []model.PageType{model.PageTypeServices, model.PageTypeProducts}
	affinitySocial  = []model.PageType{model.PageTypeContact}
)

func (s *Selector) fallback(disc *model.DiscoveryResult, n int) *model.PageSelection {
	return &model.PageSelection{
		SEOPages:     pickByHint(disc, affinitySEO, n),
		ContentPages: pickByHint(disc, affinityContent, n),
		VisualPages:  pickByHint(disc, affinityVisual, n),
		SocialPages:  pickByHint(disc, affinitySocial, n),
		Strategy:     model.SelectionStrategyFallback,
	}
}

// pickByHint selects the homepage, then pages whose hint matches the
// affinity types in order, then fills the remaining quota in discovery
// order.
func pickByHint(disc *model.DiscoveryResult, types []model.PageType, n int) []string {
	if n <= 0 || len(disc.Pages) == 0 {
		return nil
	}
	home := disc.Homepage()
	out := []string{home}
	seen := map[string]bool{home: true}

	take := func(match func(model.DiscoveredPage) bool) {
		for _, p := range disc.Pages {
			if len(out) >= n {
				return
			}
			if seen[p.URL] || !match(p) {
				continue
			}
			seen[p.URL] = true
			out = append(out, p.URL)
		}
	}

	for _, t := range types {
		take(func(p model.DiscoveredPage) bool { return p.TypeHint == t })
	}
	take(func(model.DiscoveredPage) bool { return true })
	return out
}
