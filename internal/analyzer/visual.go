package analyzer

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/audit-cli/internal/config"
	"github.com/sells-group/audit-cli/internal/imageproc"
	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/pkg/anthropic"
)

// visualPageCap bounds vision spend: at most this many pages get
// screenshot calls regardless of configuration.
const visualPageCap = 3

const (
	weightDesktop    = 0.4
	weightMobile     = 0.4
	weightResponsive = 0.2

	// consistencyStdDev is the per-page composite spread past which the
	// site gets an inconsistency finding. Needs minConsistencyPages
	// comparable pages to mean anything.
	consistencyStdDev   = 15.0
	minConsistencyPages = 3

	// responsiveFloor is the mean responsive score below which the
	// adaptation itself becomes a finding.
	responsiveFloor = 60.0
)

// Visual scores design quality from full-page screenshots, one vision
// call per page across both viewports. With cross-page context enabled
// pages run sequentially and each call sees what earlier pages already
// reported; otherwise pages run in parallel.
type Visual struct {
	deps
	proc *imageproc.Processor
	cfg  config.AnalysisConfig
	log  *zap.Logger
}

// NewVisual wires the visual analyzer.
func NewVisual(cfg config.AnalysisConfig, d deps, proc *imageproc.Processor) *Visual {
	return &Visual{
		deps: d,
		proc: proc,
		cfg:  cfg,
		log:  zap.L().With(zap.String("component", "analyzer.visual")),
	}
}

// Module implements Analyzer.
func (v *Visual) Module() model.AnalyzerModule { return model.ModuleVisual }

// visualResponse is the wire shape of one per-page vision call.
type visualResponse struct {
	DesktopScore     *int        `json:"desktop_score"`
	MobileScore      *int        `json:"mobile_score"`
	ResponsiveScore  *int        `json:"responsive_score"`
	DesktopIssues    []issueJSON `json:"desktop_issues"`
	MobileIssues     []issueJSON `json:"mobile_issues"`
	ResponsiveIssues []issueJSON `json:"responsive_issues"`
	SharedIssues     []issueJSON `json:"shared_issues"`
	Positives        []string    `json:"positives"`
}

// pageVisual is one page's parsed assessment.
type pageVisual struct {
	url        string
	desktop    int
	mobile     int
	responsive int
	findings   []model.Finding
	positives  []model.Positive
	usage      model.TokenUsage
	modelID    string
}

func (p *pageVisual) composite() float64 {
	return weightDesktop*float64(p.desktop) +
		weightMobile*float64(p.mobile) +
		weightResponsive*float64(p.responsive)
}

// Analyze implements Analyzer. A page whose vision call cannot produce a
// valid assessment fails the whole module; partial usage still counts.
func (v *Visual) Analyze(ctx context.Context, in *Input) *model.ModuleResult {
	max := visualPageCap
	if v.cfg.MaxVisualPages > 0 && v.cfg.MaxVisualPages < max {
		max = v.cfg.MaxVisualPages
	}
	pages := in.okCaptures(in.Selection.VisualPages, max)
	if len(pages) == 0 {
		return model.ErrorResult(model.ModuleVisual, eris.New("analyzer: no captured pages for visual analysis"))
	}

	sequential := in.Options.EnableCrossPageContext && in.CrossPage != nil
	perPage := make([]*pageVisual, len(pages))

	if sequential {
		for i, c := range pages {
			pageCtx := in.CrossPage.PageContext(c.URL, i)
			pv, err := v.analyzePage(ctx, in, c, pageCtx)
			perPage[i] = pv
			if err != nil {
				return v.fail(err, perPage)
			}
			in.CrossPage.AddPageContext(PageContextEntry{
				URL:    c.URL,
				Module: model.ModuleVisual,
				Scores: map[string]int{
					"desktop":    pv.desktop,
					"mobile":     pv.mobile,
					"responsive": pv.responsive,
				},
				Findings: pv.findings,
			})
		}
	} else {
		var mu sync.Mutex
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(visualPageCap)
		for i, c := range pages {
			g.Go(func() error {
				pv, err := v.analyzePage(gCtx, in, c, "")
				mu.Lock()
				perPage[i] = pv
				mu.Unlock()
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return v.fail(err, perPage)
		}
	}

	var dSum, mSum, rSum float64
	var composites []float64
	var findings []model.Finding
	var positives []model.Positive
	var usage model.TokenUsage
	var modelID string
	pageURLs := make([]string, len(pages))
	for i, pv := range perPage {
		dSum += float64(pv.desktop)
		mSum += float64(pv.mobile)
		rSum += float64(pv.responsive)
		composites = append(composites, pv.composite())
		findings = append(findings, pv.findings...)
		positives = append(positives, pv.positives...)
		usage.Add(pv.usage)
		modelID = pv.modelID
		pageURLs[i] = pv.url
	}
	n := float64(len(perPage))
	dMean, mMean, rMean := dSum/n, mSum/n, rSum/n

	if len(perPage) >= minConsistencyPages {
		if sd := stdDev(composites); sd > consistencyStdDev {
			findings = append(findings, model.Finding{
				Module:         model.ModuleVisual,
				Category:       "visual",
				Title:          "Inconsistent visual quality across pages",
				Description:    fmt.Sprintf("Per-page design scores spread by a standard deviation of %.1f across %d pages, well past the %.0f-point consistency bar.", sd, len(perPage), consistencyStdDev),
				Impact:         "Visitors moving between pages experience uneven polish, which reads as neglect and erodes trust.",
				Recommendation: "Bring the weakest pages up to the standard of the strongest: shared templates, consistent spacing, and one typography scale.",
				Severity:       model.SeverityMedium,
				Priority:       model.PriorityMedium,
				Difficulty:     model.DifficultyMedium,
				Viewport:       model.FindingViewportBoth,
				AffectedPages:  pageURLs,
				SourceModule:   model.ModuleVisual,
				SourceType:     sourceDeterministic,
			})
		}
	}
	if rMean < responsiveFloor {
		findings = append(findings, model.Finding{
			Module:         model.ModuleVisual,
			Category:       "visual",
			Title:          "Poor responsive implementation",
			Description:    fmt.Sprintf("The mean responsive score across analyzed pages is %.0f, below the %.0f floor for acceptable adaptation.", rMean, responsiveFloor),
			Impact:         "The majority of traffic is mobile; a layout that degrades between viewports loses those visitors first.",
			Recommendation: "Rework the breakpoints: fluid grids, readable mobile type sizes, and tap targets sized for fingers.",
			Severity:       model.SeverityHigh,
			Priority:       model.PriorityHigh,
			Difficulty:     model.DifficultyMajor,
			Viewport:       model.FindingViewportResponsive,
			AffectedPages:  pageURLs,
			SourceModule:   model.ModuleVisual,
			SourceType:     sourceDeterministic,
		})
	}

	return &model.ModuleResult{
		Module:   model.ModuleVisual,
		Score:    int(math.Round(weightDesktop*dMean + weightMobile*mMean + weightResponsive*rMean)),
		Findings: findings,
		SubScores: map[string]int{
			"desktop":    int(math.Round(dMean)),
			"mobile":     int(math.Round(mMean)),
			"responsive": int(math.Round(rMean)),
		},
		Positives: positives,
		ModelID:   modelID,
		Usage:     usage,
	}
}

// analyzePage runs one vision call for one page. On error the returned
// pageVisual still carries any usage the failed call consumed.
func (v *Visual) analyzePage(ctx context.Context, in *Input, c *model.Capture, pageCtx string) (*pageVisual, error) {
	var images []anthropic.ImageBlock
	var indexLines []string
	k := 1
	for _, vp := range []model.Viewport{model.ViewportDesktop, model.ViewportMobile} {
		sections, err := v.proc.Prepare(c.Screenshots[vp], vp)
		if err != nil {
			return &pageVisual{url: c.URL}, eris.Wrapf(err, "analyzer: prepare %s screenshot for %s", vp, c.URL)
		}
		for _, s := range sections {
			images = append(images, anthropic.ImageBlock{MediaType: "image/png", Data: s.Data})
			indexLines = append(indexLines, imageproc.Describe(k, vp, s))
			k++
		}
	}

	promptID := "visual-base"
	vars := map[string]string{
		"company":          in.Company.Name,
		"industry":         in.Company.Industry,
		"url":              c.URL,
		"design_tokens":    renderTokens(c.Tokens),
		"screenshot_index": strings.Join(indexLines, "\n"),
	}
	if pageCtx != "" {
		promptID = "visual-context-aware"
		vars["page_context"] = pageCtx
	}

	var out visualResponse
	usage, modelID, err := v.runJSON(ctx, in.recorder(), llmCall{
		stage:       "visual",
		promptID:    promptID,
		vars:        vars,
		images:      images,
		cacheSystem: true,
	}, &out)
	pv := &pageVisual{url: c.URL, usage: usage, modelID: modelID}
	if err != nil {
		return pv, err
	}
	if !scoreOK(out.DesktopScore) || !scoreOK(out.MobileScore) || !scoreOK(out.ResponsiveScore) {
		return pv, eris.Errorf("analyzer: visual scores missing or out of range for %s", c.URL)
	}

	pv.desktop = *out.DesktopScore
	pv.mobile = *out.MobileScore
	pv.responsive = *out.ResponsiveScore

	pages := []string{c.URL}
	desktopShot := c.Screenshots[model.ViewportDesktop]
	mobileShot := c.Screenshots[model.ViewportMobile]
	for _, i := range out.DesktopIssues {
		pv.findings = append(pv.findings, i.finding(model.ModuleVisual, model.FindingViewportDesktop, pages, desktopShot))
	}
	for _, i := range out.MobileIssues {
		pv.findings = append(pv.findings, i.finding(model.ModuleVisual, model.FindingViewportMobile, pages, mobileShot))
	}
	for _, i := range out.ResponsiveIssues {
		pv.findings = append(pv.findings, i.finding(model.ModuleVisual, model.FindingViewportResponsive, pages, desktopShot, mobileShot))
	}
	for _, i := range out.SharedIssues {
		pv.findings = append(pv.findings, i.finding(model.ModuleVisual, model.FindingViewportBoth, pages, desktopShot, mobileShot))
	}
	pv.positives = toPositives(c.URL, out.Positives)
	return pv, nil
}

func (v *Visual) fail(err error, perPage []*pageVisual) *model.ModuleResult {
	v.log.Warn("visual analysis failed", zap.Error(err))
	res := model.ErrorResult(model.ModuleVisual, err)
	for _, pv := range perPage {
		if pv != nil {
			res.Usage.Add(pv.usage)
			if res.ModelID == "" {
				res.ModelID = pv.modelID
			}
		}
	}
	return res
}

func renderTokens(tokens map[model.Viewport]model.DesignTokens) string {
	var parts []string
	for _, vp := range []model.Viewport{model.ViewportDesktop, model.ViewportMobile} {
		t, ok := tokens[vp]
		if !ok {
			continue
		}
		if len(t.Fonts) > 0 {
			parts = append(parts, fmt.Sprintf("%s fonts: %s", vp, strings.Join(t.Fonts, ", ")))
		}
		if len(t.Colors) > 0 {
			parts = append(parts, fmt.Sprintf("%s colors: %s", vp, strings.Join(t.Colors, ", ")))
		}
	}
	if len(parts) == 0 {
		return "none extracted"
	}
	return strings.Join(parts, "; ")
}

// stdDev is the population standard deviation.
func stdDev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))
	var variance float64
	for _, v := range vals {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(vals))
	return math.Sqrt(variance)
}
