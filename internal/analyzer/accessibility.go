package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/audit-cli/internal/config"
	"github.com/sells-group/audit-cli/internal/model"
)

// Accessibility measures deterministic WCAG signals across the captured
// pages and has the model interpret what the gaps mean for assistive
// technology users. The deterministic findings stand on their own even
// when the interpretation call fails.
type Accessibility struct {
	deps
	cfg config.AnalysisConfig
	log *zap.Logger
}

// NewAccessibility wires the accessibility analyzer.
func NewAccessibility(cfg config.AnalysisConfig, d deps) *Accessibility {
	return &Accessibility{
		deps: d,
		cfg:  cfg,
		log:  zap.L().With(zap.String("component", "analyzer.accessibility")),
	}
}

// Module implements Analyzer.
func (a *Accessibility) Module() model.AnalyzerModule { return model.ModuleAccessibility }

type accessibilityResponse struct {
	Score     *int        `json:"score"`
	Issues    []issueJSON `json:"issues"`
	Positives []string    `json:"positives"`
}

// Analyze implements Analyzer.
func (a *Accessibility) Analyze(ctx context.Context, in *Input) *model.ModuleResult {
	pages := in.okCaptures(in.Selection.All(), in.maxPages(a.cfg))
	if len(pages) == 0 {
		return model.ErrorResult(model.ModuleAccessibility, eris.New("analyzer: no captured pages for accessibility analysis"))
	}

	signals := make([]*AccessibilitySignals, 0, len(pages))
	for _, c := range pages {
		sig, err := ExtractAccessibility(c)
		if err != nil {
			a.log.Warn("signal extraction failed",
				zap.String("url", c.URL),
				zap.Error(err))
			continue
		}
		signals = append(signals, sig)
	}
	if len(signals) == 0 {
		return model.ErrorResult(model.ModuleAccessibility, eris.New("analyzer: no parsable pages for accessibility analysis"))
	}

	det := wcagFindings(signals)

	var out accessibilityResponse
	usage, modelID, err := a.runJSON(ctx, in.recorder(), llmCall{
		stage:    "accessibility",
		promptID: "accessibility",
		vars: map[string]string{
			"company": in.Company.Name,
			"url":     in.TargetURL,
			"signals": renderSignals(signals),
		},
	}, &out)
	if err == nil && !scoreOK(out.Score) {
		err = eris.New("analyzer: accessibility score missing or out of range")
	}
	if err != nil {
		a.log.Warn("accessibility analysis failed", zap.Error(err))
		return errorResultWith(model.ModuleAccessibility, err, det, usage, modelID)
	}

	findings := det
	findings = append(findings, findingsFrom(out.Issues, model.ModuleAccessibility)...)

	return &model.ModuleResult{
		Module:    model.ModuleAccessibility,
		Score:     *out.Score,
		Findings:  findings,
		Positives: toPositives("", out.Positives),
		ModelID:   modelID,
		Usage:     usage,
	}
}

// wcagFindings turns the aggregated signals into findings tagged with the
// WCAG success criterion they fail.
func wcagFindings(signals []*AccessibilitySignals) []model.Finding {
	det := func(title, desc, impact, rec string, sev model.Severity, diff model.Difficulty, pages []string, wcag string) model.Finding {
		return model.Finding{
			Module:         model.ModuleAccessibility,
			Category:       "accessibility",
			Title:          title,
			Description:    desc,
			Impact:         impact,
			Recommendation: rec,
			Severity:       sev,
			Priority:       model.Priority(sev),
			Difficulty:     diff,
			Viewport:       model.FindingViewportNA,
			AffectedPages:  pages,
			EvidenceRefs:   []string{wcag},
			SourceModule:   model.ModuleAccessibility,
			SourceType:     sourceDeterministic,
		}
	}

	var out []model.Finding

	totalImages, missingAlt := 0, 0
	totalInputs, unlabeled := 0, 0
	var altPages, labelPages, skipHeadings, langPages, tabindexPages, landmarkPages []string
	skipLinkAnywhere := false
	for _, s := range signals {
		totalImages += s.ImageCount
		missingAlt += s.ImagesMissingAlt
		if s.ImagesMissingAlt > 0 {
			altPages = append(altPages, s.URL)
		}
		totalInputs += s.InputCount
		unlabeled += s.InputsMissingLabel
		if s.InputsMissingLabel > 0 {
			labelPages = append(labelPages, s.URL)
		}
		if s.HeadingSkips > 0 {
			skipHeadings = append(skipHeadings, s.URL)
		}
		if s.MissingLang {
			langPages = append(langPages, s.URL)
		}
		if s.PositiveTabindex > 0 {
			tabindexPages = append(tabindexPages, s.URL)
		}
		if s.Landmarks == 0 {
			landmarkPages = append(landmarkPages, s.URL)
		}
		if s.HasSkipLink {
			skipLinkAnywhere = true
		}
	}

	if missingAlt > 0 {
		sev := model.SeverityMedium
		if float64(missingAlt)/float64(totalImages) >= 0.5 {
			sev = model.SeverityHigh
		}
		out = append(out, det(
			"Images without alternative text",
			fmt.Sprintf("%d of %d images across the analyzed pages have no alt attribute.", missingAlt, totalImages),
			"Screen reader users hear nothing, or a raw filename, where the image carries meaning.",
			"Add descriptive alt text to meaningful images and an explicit empty alt to decorative ones.",
			sev, model.DifficultyQuickWin, altPages, "wcag:1.1.1"))
	}
	if unlabeled > 0 {
		out = append(out, det(
			"Form inputs without labels",
			fmt.Sprintf("%d of %d form inputs have no associated label, aria-label, or title.", unlabeled, totalInputs),
			"Assistive technology cannot announce what each field expects, making the forms unusable.",
			"Associate every input with a visible label element, or aria-label where a visible one cannot fit.",
			model.SeverityHigh, model.DifficultyMedium, labelPages, "wcag:3.3.2"))
	}
	if len(skipHeadings) > 0 {
		out = append(out, det(
			"Heading levels skipped",
			fmt.Sprintf("Heading structure jumps levels on %s.", pathList(skipHeadings)),
			"Screen reader users navigating by heading lose the document outline when levels are skipped.",
			"Use heading levels in order; style them with CSS rather than picking a tag for its size.",
			model.SeverityMedium, model.DifficultyQuickWin, skipHeadings, "wcag:1.3.1"))
	}
	if len(langPages) > 0 {
		out = append(out, det(
			"Missing lang attribute",
			fmt.Sprintf("%d pages declare no language on the html element.", len(langPages)),
			"Screen readers fall back to their default voice, mispronouncing the entire page.",
			"Set lang=\"en\" (or the actual language) on the html element of every page.",
			model.SeverityMedium, model.DifficultyQuickWin, langPages, "wcag:3.1.1"))
	}
	if len(tabindexPages) > 0 {
		// One site-wide finding rather than one per page: positive
		// tabindex is a template-level habit with a single fix.
		out = append(out, det(
			"Positive tabindex values override focus order",
			fmt.Sprintf("Elements with tabindex greater than zero appear on %s.", pathList(tabindexPages)),
			"Keyboard users get a focus order that fights the visual order and is brittle to maintain.",
			"Remove positive tabindex values; rely on DOM order and tabindex=\"0\" or \"-1\" only.",
			model.SeverityLow, model.DifficultyQuickWin, tabindexPages, "wcag:2.4.3"))
	}
	if len(landmarkPages) > 0 {
		out = append(out, det(
			"No landmark regions",
			fmt.Sprintf("%d pages define no header, nav, main, or footer landmarks.", len(landmarkPages)),
			"Screen reader users cannot jump between page regions and must read linearly.",
			"Wrap page regions in the semantic HTML5 elements or equivalent ARIA roles.",
			model.SeverityLow, model.DifficultyMedium, landmarkPages, "wcag:1.3.1"))
	}
	if !skipLinkAnywhere {
		out = append(out, det(
			"No skip-to-content link",
			"None of the analyzed pages offer a skip link past the navigation.",
			"Keyboard users must tab through the full navigation on every page before reaching content.",
			"Add a visually-hidden-until-focused skip link as the first focusable element.",
			model.SeverityLow, model.DifficultyQuickWin, nil, "wcag:2.4.1"))
	}

	return out
}

func renderSignals(signals []*AccessibilitySignals) string {
	var sb strings.Builder
	for _, s := range signals {
		fmt.Fprintf(&sb, "- %s\n", s.URL)
		fmt.Fprintf(&sb, "  images: %d (%d missing alt) | form inputs: %d (%d unlabeled) | heading skips: %d\n",
			s.ImageCount, s.ImagesMissingAlt, s.InputCount, s.InputsMissingLabel, s.HeadingSkips)
		fmt.Fprintf(&sb, "  lang attribute: %s | positive tabindex: %d | aria attributes: %d | landmarks: %d | skip link: %v\n",
			presentAbsent(!s.MissingLang), s.PositiveTabindex, s.AriaAttributes, s.Landmarks, s.HasSkipLink)
	}
	return strings.TrimRight(sb.String(), "\n")
}
