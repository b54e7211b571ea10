package analyzer

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/pkg/pagespeed"
)

// Core Web Vitals thresholds. "Good" is the official boundary; past
// "poor" the metric fails outright instead of needing improvement.
const (
	lcpGoodMs = 2500
	lcpPoorMs = 4000
	clsGood   = 0.1
	clsPoor   = 0.25
	inpGoodMs = 200
	inpPoorMs = 500
	tbtGoodMs = 200
	tbtPoorMs = 600
	fcpGoodMs = 1800
	fcpPoorMs = 3000

	speedIndexGoodMs = 3400
	speedIndexPoorMs = 5800

	// Lighthouse opportunities below this estimated saving are noise.
	opportunityFloorMs = 500
	maxOpportunities   = 3
)

// Performance audits the target URL through PageSpeed Insights under both
// strategies and derives findings from the Core Web Vitals thresholds.
// Real-user field data wins over lab simulation when Chrome has it. No
// model call is involved.
type Performance struct {
	psi pagespeed.Client
	log *zap.Logger
}

// NewPerformance wires the performance analyzer.
func NewPerformance(psi pagespeed.Client) *Performance {
	return &Performance{
		psi: psi,
		log: zap.L().With(zap.String("component", "analyzer.performance")),
	}
}

// Module implements Analyzer.
func (p *Performance) Module() model.AnalyzerModule { return model.ModulePerformance }

// Analyze implements Analyzer. One failed strategy degrades to the other;
// the module fails only when both do.
func (p *Performance) Analyze(ctx context.Context, in *Input) *model.ModuleResult {
	var (
		mobile, desktop       *pagespeed.Result
		mobileErr, desktopErr error
	)
	// Plain group: a failed strategy must not cancel the other.
	var g errgroup.Group
	g.Go(func() error {
		mobile, mobileErr = p.psi.Analyze(ctx, in.TargetURL, pagespeed.StrategyMobile)
		return nil
	})
	g.Go(func() error {
		desktop, desktopErr = p.psi.Analyze(ctx, in.TargetURL, pagespeed.StrategyDesktop)
		return nil
	})
	_ = g.Wait()

	if mobile == nil && desktop == nil {
		return model.ErrorResult(model.ModulePerformance,
			eris.Errorf("analyzer: pagespeed failed for both strategies: mobile: %v; desktop: %v", mobileErr, desktopErr))
	}
	if mobileErr != nil {
		p.log.Warn("pagespeed mobile strategy failed", zap.Error(mobileErr))
	}
	if desktopErr != nil {
		p.log.Warn("pagespeed desktop strategy failed", zap.Error(desktopErr))
	}

	subScores := make(map[string]int)
	var findings []model.Finding
	scoreSum, scoreN := 0, 0
	for _, res := range []*pagespeed.Result{mobile, desktop} {
		if res == nil {
			continue
		}
		subScores[string(res.Strategy)] = res.PerformanceScore
		scoreSum += res.PerformanceScore
		scoreN++
		findings = append(findings, cwvFindings(res, in.TargetURL)...)
		findings = append(findings, opportunityFindings(res, in.TargetURL)...)
	}

	return &model.ModuleResult{
		Module:    model.ModulePerformance,
		Score:     int(math.Round(float64(scoreSum) / float64(scoreN))),
		Findings:  findings,
		SubScores: subScores,
	}
}

// cwvFindings checks each vital against its thresholds. Field percentiles
// substitute for lab values where CrUX has them; TBT, FCP and Speed Index
// are lab-only metrics.
func cwvFindings(res *pagespeed.Result, target string) []model.Finding {
	vp := strategyViewport(res.Strategy)
	var out []model.Finding

	add := func(metric, title, desc string, sev model.Severity) {
		out = append(out, model.Finding{
			Module:         model.ModulePerformance,
			Category:       "performance",
			Title:          title,
			Description:    desc,
			Impact:         cwvImpact[metric],
			Recommendation: cwvRecommendation[metric],
			Severity:       sev,
			Priority:       model.Priority(sev),
			Difficulty:     model.DifficultyMedium,
			Viewport:       vp,
			AffectedPages:  []string{target},
			EvidenceRefs:   []string{fmt.Sprintf("psi:%s:%s", res.Strategy, metric)},
			SourceModule:   model.ModulePerformance,
			SourceType:     sourcePageSpeed,
		})
	}

	if f := res.Field; f != nil {
		if sev, ok := severityOver(float64(f.LCPMs), lcpGoodMs, lcpPoorMs); ok {
			add("lcp", "Slow Largest Contentful Paint",
				fmt.Sprintf("Field data puts LCP at %s for %s users; good is %s or less.", seconds(f.LCPMs), res.Strategy, seconds(lcpGoodMs)), sev)
		}
		if sev, ok := severityOver(f.CLS, clsGood, clsPoor); ok {
			add("cls", "Layout shifts during load",
				fmt.Sprintf("Field data reports a cumulative layout shift of %.2f on %s; good is %.1f or less.", f.CLS, res.Strategy, clsGood), sev)
		}
		if sev, ok := severityOver(float64(f.INPMs), inpGoodMs, inpPoorMs); ok {
			add("inp", "Slow interaction response",
				fmt.Sprintf("Field data puts Interaction to Next Paint at %dms on %s; good is %dms or less.", f.INPMs, res.Strategy, inpGoodMs), sev)
		}
	} else {
		if sev, ok := severityOver(float64(res.Lab.LCPMs), lcpGoodMs, lcpPoorMs); ok {
			add("lcp", "Slow Largest Contentful Paint",
				fmt.Sprintf("Lab measurement puts LCP at %s on %s; good is %s or less.", seconds(res.Lab.LCPMs), res.Strategy, seconds(lcpGoodMs)), sev)
		}
		if sev, ok := severityOver(res.Lab.CLS, clsGood, clsPoor); ok {
			add("cls", "Layout shifts during load",
				fmt.Sprintf("Lab measurement reports a cumulative layout shift of %.2f on %s; good is %.1f or less.", res.Lab.CLS, res.Strategy, clsGood), sev)
		}
	}

	if sev, ok := severityOver(float64(res.Lab.TBTMs), tbtGoodMs, tbtPoorMs); ok {
		add("tbt", "Main thread blocked during load",
			fmt.Sprintf("Total Blocking Time is %dms on %s; good is %dms or less.", res.Lab.TBTMs, res.Strategy, tbtGoodMs), sev)
	}
	if sev, ok := severityOver(float64(res.Lab.FCPMs), fcpGoodMs, fcpPoorMs); ok {
		add("fcp", "Slow First Contentful Paint",
			fmt.Sprintf("First Contentful Paint takes %s on %s; good is %s or less.", seconds(res.Lab.FCPMs), res.Strategy, seconds(fcpGoodMs)), sev)
	}
	if sev, ok := severityOver(float64(res.Lab.SpeedIndexMs), speedIndexGoodMs, speedIndexPoorMs); ok {
		add("speed-index", "Page is slow to become visually complete",
			fmt.Sprintf("Speed Index is %s on %s; good is %s or less.", seconds(res.Lab.SpeedIndexMs), res.Strategy, seconds(speedIndexGoodMs)), sev)
	}

	return out
}

func opportunityFindings(res *pagespeed.Result, target string) []model.Finding {
	opps := make([]pagespeed.Opportunity, 0, len(res.Opportunities))
	for _, o := range res.Opportunities {
		if o.SavingsMs >= opportunityFloorMs {
			opps = append(opps, o)
		}
	}
	sort.Slice(opps, func(i, j int) bool { return opps[i].SavingsMs > opps[j].SavingsMs })
	if len(opps) > maxOpportunities {
		opps = opps[:maxOpportunities]
	}

	vp := strategyViewport(res.Strategy)
	out := make([]model.Finding, 0, len(opps))
	for _, o := range opps {
		sev := model.SeverityMedium
		if o.SavingsMs >= 2000 {
			sev = model.SeverityHigh
		}
		desc := o.DisplayValue
		if desc == "" {
			desc = fmt.Sprintf("Estimated savings of %s", seconds(o.SavingsMs))
		}
		out = append(out, model.Finding{
			Module:         model.ModulePerformance,
			Category:       "performance",
			Title:          o.Title,
			Description:    fmt.Sprintf("%s (%s strategy).", desc, res.Strategy),
			Impact:         fmt.Sprintf("Lighthouse estimates %s of load time recoverable here.", seconds(o.SavingsMs)),
			Recommendation: o.Title + ".",
			Severity:       sev,
			Priority:       model.Priority(sev),
			Difficulty:     model.DifficultyMedium,
			Viewport:       vp,
			AffectedPages:  []string{target},
			EvidenceRefs:   []string{fmt.Sprintf("psi:%s:%s", res.Strategy, o.ID)},
			SourceModule:   model.ModulePerformance,
			SourceType:     sourcePageSpeed,
		})
	}
	return out
}

// severityOver classifies a metric against its good/poor thresholds.
// Values at or under good report no finding.
func severityOver(value, good, poor float64) (model.Severity, bool) {
	switch {
	case value > poor:
		return model.SeverityHigh, true
	case value > good:
		return model.SeverityMedium, true
	default:
		return "", false
	}
}

func strategyViewport(s pagespeed.Strategy) model.FindingViewport {
	if s == pagespeed.StrategyMobile {
		return model.FindingViewportMobile
	}
	return model.FindingViewportDesktop
}

func seconds(ms int) string {
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}

var cwvImpact = map[string]string{
	"lcp":         "Visitors stare at an incomplete page; every extra second of LCP measurably raises bounce rate.",
	"cls":         "Content jumps while loading, causing misclicks and an impression of brokenness.",
	"inp":         "Taps and clicks feel laggy, which users read as the site being broken.",
	"tbt":         "The page looks loaded but ignores input while scripts hold the main thread.",
	"fcp":         "Nothing renders for too long, so visitors on slow connections see a blank page.",
	"speed-index": "The visible page fills in slowly even if individual milestones pass.",
}

var cwvRecommendation = map[string]string{
	"lcp":         "Compress and preload the hero image, trim render-blocking resources, and serve static assets from a CDN.",
	"cls":         "Reserve space for images and embeds with explicit dimensions and avoid inserting content above existing content.",
	"inp":         "Break up long JavaScript tasks and defer non-essential handlers.",
	"tbt":         "Split large bundles, defer third-party scripts, and move work off the main thread.",
	"fcp":         "Inline critical CSS and cut server response time.",
	"speed-index": "Prioritize above-the-fold rendering and lazy-load everything below it.",
}
