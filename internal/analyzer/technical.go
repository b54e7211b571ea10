package analyzer

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/audit-cli/internal/config"
	"github.com/sells-group/audit-cli/internal/model"
)

const (
	thinContentWords = 150
	altRatioFloor    = 0.5
	htmlSampleCount  = 3
)

// Technical fuses the SEO and content audits into one model call over
// shared page features, and is the one analyzer that reports two module
// results. Deterministic site-wide signals are computed first and handed
// to the model as facts; they survive as findings even when the call
// fails.
type Technical struct {
	deps
	cfg config.AnalysisConfig
	log *zap.Logger
}

// NewTechnical wires the fused SEO and content analyzer.
func NewTechnical(cfg config.AnalysisConfig, d deps) *Technical {
	return &Technical{
		deps: d,
		cfg:  cfg,
		log:  zap.L().With(zap.String("component", "analyzer.technical")),
	}
}

// technicalResponse is the wire shape of the fused call.
type technicalResponse struct {
	OverallTechnicalScore *int        `json:"overall_technical_score"`
	SEOScore              *int        `json:"seo_score"`
	ContentScore          *int        `json:"content_score"`
	SEOIssues             []issueJSON `json:"seo_issues"`
	ContentIssues         []issueJSON `json:"content_issues"`
	CrossCuttingIssues    []issueJSON `json:"cross_cutting_issues"`
	EngagementHooks       []string    `json:"engagement_hooks"`
	HasBlog               bool        `json:"has_blog"`
	BlogFrequency         string      `json:"blog_frequency"`
	Positives             []string    `json:"positives"`
}

// Analyze runs the fused audit and returns the seo and content results.
// The single call's token usage is recorded once, on the seo result.
func (t *Technical) Analyze(ctx context.Context, in *Input) (seo, content *model.ModuleResult) {
	urls := unionURLs(in.Selection.SEOPages, in.Selection.ContentPages)
	pages := in.okCaptures(urls, in.maxPages(t.cfg))
	if len(pages) == 0 {
		err := eris.New("analyzer: no captured pages for technical analysis")
		return model.ErrorResult(model.ModuleSEO, err), model.ErrorResult(model.ModuleContent, err)
	}

	features := make([]*PageFeatures, 0, len(pages))
	for _, c := range pages {
		f, err := ExtractFeatures(c)
		if err != nil {
			t.log.Warn("feature extraction failed",
				zap.String("url", c.URL),
				zap.Error(err))
			continue
		}
		features = append(features, f)
	}
	if len(features) == 0 {
		err := eris.New("analyzer: no parsable pages for technical analysis")
		return model.ErrorResult(model.ModuleSEO, err), model.ErrorResult(model.ModuleContent, err)
	}

	detSEO, detContent := siteFindings(features, in.Discovery)

	var out technicalResponse
	usage, modelID, err := t.runJSON(ctx, in.recorder(), llmCall{
		stage:    "technical",
		promptID: "technical",
		vars: map[string]string{
			"company":         in.Company.Name,
			"industry":        in.Company.Industry,
			"url":             in.TargetURL,
			"site_signals":    renderSiteSignals(features, in.Discovery),
			"feature_summary": renderFeatureSummary(features),
			"html_samples":    renderHTMLSamples(pages, t.sampleBytes()),
		},
	}, &out)
	if err == nil && (!scoreOK(out.SEOScore) || !scoreOK(out.ContentScore) || !scoreOK(out.OverallTechnicalScore)) {
		err = eris.New("analyzer: technical scores missing or out of range")
	}
	if err != nil {
		t.log.Warn("technical analysis failed", zap.Error(err))
		return errorResultWith(model.ModuleSEO, err, detSEO, usage, modelID),
			errorResultWith(model.ModuleContent, err, detContent, model.TokenUsage{}, modelID)
	}

	seoFindings := detSEO
	seoFindings = append(seoFindings, findingsFrom(out.SEOIssues, model.ModuleSEO)...)
	seoFindings = append(seoFindings, findingsFrom(out.CrossCuttingIssues, model.ModuleSEO)...)

	contentFindings := detContent
	contentFindings = append(contentFindings, findingsFrom(out.ContentIssues, model.ModuleContent)...)

	seo = &model.ModuleResult{
		Module:    model.ModuleSEO,
		Score:     *out.SEOScore,
		Findings:  seoFindings,
		SubScores: map[string]int{"technical": *out.OverallTechnicalScore},
		ModelID:   modelID,
		Usage:     usage,
	}

	strengths := make(map[string][]string)
	if len(out.EngagementHooks) > 0 {
		strengths["engagement_hooks"] = out.EngagementHooks
	}
	if out.HasBlog {
		freq := out.BlogFrequency
		if freq == "" {
			freq = "unknown"
		}
		strengths["blog"] = []string{freq}
	}
	content = &model.ModuleResult{
		Module:    model.ModuleContent,
		Score:     *out.ContentScore,
		Findings:  contentFindings,
		Positives: toPositives("", out.Positives),
		Strengths: strengths,
		ModelID:   modelID,
	}
	return seo, content
}

func (t *Technical) sampleBytes() int {
	if t.cfg.HTMLSampleBytes > 0 {
		return t.cfg.HTMLSampleBytes
	}
	return 2000
}

func unionURLs(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, u := range list {
			if !seen[u] {
				seen[u] = true
				out = append(out, u)
			}
		}
	}
	return out
}

// siteFindings derives the deterministic findings from page features and
// discovery flags, split by the module they report under.
func siteFindings(features []*PageFeatures, disc *model.DiscoveryResult) (seo, content []model.Finding) {
	det := func(m model.AnalyzerModule, category, title, desc, impact, rec string,
		sev model.Severity, diff model.Difficulty, vp model.FindingViewport, pages []string, refs ...string) model.Finding {
		// Severity and Priority share the same value set; deterministic
		// findings treat them as equal.
		return model.Finding{
			Module:         m,
			Category:       category,
			Title:          title,
			Description:    desc,
			Impact:         impact,
			Recommendation: rec,
			Severity:       sev,
			Priority:       model.Priority(sev),
			Difficulty:     diff,
			Viewport:       vp,
			AffectedPages:  pages,
			EvidenceRefs:   refs,
			SourceModule:   m,
			SourceType:     sourceDeterministic,
		}
	}

	if disc != nil {
		if !disc.HasSitemap {
			seo = append(seo, det(model.ModuleSEO, "seo",
				"No sitemap.xml found",
				"The site does not publish a sitemap.xml, so search engines must discover pages by crawling links alone.",
				"Pages that are poorly linked may never be indexed, and new content is picked up more slowly.",
				"Generate a sitemap.xml listing every public page and reference it from robots.txt.",
				model.SeverityCritical, model.DifficultyQuickWin, model.FindingViewportNA, nil))
		}
		if !disc.HasRobots {
			seo = append(seo, det(model.ModuleSEO, "seo",
				"No robots.txt file found",
				"The site has no robots.txt, leaving crawler behavior entirely to defaults.",
				"There is no way to steer crawlers away from noise or point them at the sitemap.",
				"Add a robots.txt that allows crawling and references the sitemap.",
				model.SeverityHigh, model.DifficultyQuickWin, model.FindingViewportNA, nil))
		}
	}

	byTitle := make(map[string][]string)
	var missingTitle, missingH1, missingMeta, missingViewport []string
	var thin, noCTA []string
	schemaAnywhere := false
	totalImages, totalAlt := 0, 0
	for _, f := range features {
		if f.Title == "" {
			missingTitle = append(missingTitle, f.URL)
		} else {
			byTitle[f.Title] = append(byTitle[f.Title], f.URL)
		}
		if f.H1Count == 0 {
			missingH1 = append(missingH1, f.URL)
		}
		if f.MetaDescription == "" {
			missingMeta = append(missingMeta, f.URL)
		}
		if !f.HasViewport {
			missingViewport = append(missingViewport, f.URL)
		}
		if f.HasSchema {
			schemaAnywhere = true
		}
		if f.WordCount > 0 && f.WordCount < thinContentWords {
			thin = append(thin, f.URL)
		}
		if f.CTACount == 0 {
			noCTA = append(noCTA, f.URL)
		}
		totalImages += f.ImageCount
		totalAlt += f.ImagesWithAlt
	}

	var dupPages []string
	for _, urls := range byTitle {
		if len(urls) > 1 {
			dupPages = append(dupPages, urls...)
		}
	}
	if len(dupPages) > 0 {
		seo = append(seo, det(model.ModuleSEO, "seo",
			"Duplicate page titles",
			fmt.Sprintf("%d pages share a title with at least one other page.", len(dupPages)),
			"Search engines struggle to pick the right page for a query when titles repeat, diluting rankings.",
			"Write a unique, descriptive title for every page.",
			model.SeverityMedium, model.DifficultyQuickWin, model.FindingViewportNA, dupPages))
	}
	if len(missingTitle) > 0 {
		seo = append(seo, det(model.ModuleSEO, "seo",
			"Pages without a title tag",
			fmt.Sprintf("%d of %d analyzed pages have no title tag: %s.", len(missingTitle), len(features), pathList(missingTitle)),
			"Untitled pages show raw URLs in search results and lose click-through.",
			"Add a descriptive title tag to every page.",
			model.SeverityHigh, model.DifficultyQuickWin, model.FindingViewportNA, missingTitle))
	}
	if len(missingH1) > 0 {
		seo = append(seo, det(model.ModuleSEO, "seo",
			"Pages missing an H1 heading",
			fmt.Sprintf("%d of %d analyzed pages have no H1: %s.", len(missingH1), len(features), pathList(missingH1)),
			"The main heading is a primary relevance signal; without it the page topic is ambiguous to crawlers.",
			"Add exactly one H1 per page stating what the page is about.",
			model.SeverityMedium, model.DifficultyQuickWin, model.FindingViewportNA, missingH1))
	}
	if len(missingMeta) > 0 {
		seo = append(seo, det(model.ModuleSEO, "seo",
			"Pages missing a meta description",
			fmt.Sprintf("%d of %d analyzed pages have no meta description: %s.", len(missingMeta), len(features), pathList(missingMeta)),
			"Search engines substitute arbitrary page text for the snippet, which depresses click-through.",
			"Write a 120-160 character meta description for every page.",
			model.SeverityMedium, model.DifficultyQuickWin, model.FindingViewportNA, missingMeta))
	}
	if len(missingViewport) > 0 {
		seo = append(seo, det(model.ModuleSEO, "seo",
			"Pages missing the viewport meta tag",
			fmt.Sprintf("%d of %d analyzed pages have no viewport meta tag: %s.", len(missingViewport), len(features), pathList(missingViewport)),
			"Mobile browsers render these pages at desktop width, and mobile-first indexing penalizes them.",
			"Add <meta name=\"viewport\" content=\"width=device-width, initial-scale=1\"> to every page.",
			model.SeverityHigh, model.DifficultyQuickWin, model.FindingViewportMobile, missingViewport))
	}
	if !schemaAnywhere {
		seo = append(seo, det(model.ModuleSEO, "seo",
			"No structured data markup",
			"None of the analyzed pages carry JSON-LD or microdata markup.",
			"The site is ineligible for rich results like business info panels, reviews, and FAQ snippets.",
			"Add LocalBusiness or Organization JSON-LD to the homepage and page-appropriate schema elsewhere.",
			model.SeverityMedium, model.DifficultyMedium, model.FindingViewportNA, nil))
	}
	if totalImages >= 5 && float64(totalAlt)/float64(totalImages) < altRatioFloor {
		seo = append(seo, det(model.ModuleSEO, "seo",
			"Most images lack alt text",
			fmt.Sprintf("Only %d of %d images across the analyzed pages have alt text.", totalAlt, totalImages),
			"Images are invisible to image search, and the gap also fails accessibility checks.",
			"Add descriptive alt text to meaningful images; mark decorative ones with an empty alt.",
			model.SeverityMedium, model.DifficultyQuickWin, model.FindingViewportNA, nil))
	}

	if len(thin) > 0 {
		content = append(content, det(model.ModuleContent, "content",
			"Thin content pages",
			fmt.Sprintf("%d pages have fewer than %d words: %s.", len(thin), thinContentWords, pathList(thin)),
			"Pages with little text rarely rank and give visitors no reason to stay.",
			"Expand each thin page with substantive copy about the service or topic it covers.",
			model.SeverityMedium, model.DifficultyMedium, model.FindingViewportNA, thin))
	}
	if len(noCTA) > 0 {
		content = append(content, det(model.ModuleContent, "content",
			"Pages without a call to action",
			fmt.Sprintf("%d of %d analyzed pages present no clear call to action: %s.", len(noCTA), len(features), pathList(noCTA)),
			"Visitors who are ready to act are given no next step, which costs conversions directly.",
			"Add a prominent contact, quote, or booking action to every page.",
			model.SeverityHigh, model.DifficultyMedium, model.FindingViewportNA, noCTA))
	}

	if disc != nil {
		hasAbout, hasServices := false, false
		for _, p := range disc.Pages {
			switch p.TypeHint {
			case model.PageTypeAbout, model.PageTypeTeam:
				hasAbout = true
			case model.PageTypeServices, model.PageTypeProducts, model.PageTypePricing:
				hasServices = true
			}
		}
		if !hasAbout {
			content = append(content, det(model.ModuleContent, "content",
				"No About page discovered",
				"Discovery found no about or team page on the site.",
				"Visitors checking credibility find nothing about who runs the business.",
				"Add an About page covering the company story, team, and credentials.",
				model.SeverityMedium, model.DifficultyMedium, model.FindingViewportNA, nil))
		}
		if !hasServices {
			content = append(content, det(model.ModuleContent, "content",
				"No services or products page discovered",
				"Discovery found no page describing what the business sells.",
				"Prospects cannot evaluate the offering, and service-intent queries have no landing page.",
				"Add a dedicated page per core service or product line.",
				model.SeverityMedium, model.DifficultyMedium, model.FindingViewportNA, nil))
		}
	}

	return seo, content
}

// renderSiteSignals formats the deterministic measurements as the facts
// block of the fused prompt.
func renderSiteSignals(features []*PageFeatures, disc *model.DiscoveryResult) string {
	var sb strings.Builder
	if disc != nil {
		fmt.Fprintf(&sb, "- sitemap.xml: %s\n", presentAbsent(disc.HasSitemap))
		fmt.Fprintf(&sb, "- robots.txt: %s\n", presentAbsent(disc.HasRobots))
		fmt.Fprintf(&sb, "- pages discovered: %d\n", len(disc.Pages))
	}
	fmt.Fprintf(&sb, "- pages analyzed: %d\n", len(features))

	var missingH1, missingMeta, missingViewport, noCTA, thin int
	schemaPages, testimonialPages := 0, 0
	totalImages, totalAlt, totalWords := 0, 0, 0
	blogLinked := false
	for _, f := range features {
		if f.H1Count == 0 {
			missingH1++
		}
		if f.MetaDescription == "" {
			missingMeta++
		}
		if !f.HasViewport {
			missingViewport++
		}
		if f.CTACount == 0 {
			noCTA++
		}
		if f.WordCount > 0 && f.WordCount < thinContentWords {
			thin++
		}
		if f.HasSchema {
			schemaPages++
		}
		if f.HasTestimonials {
			testimonialPages++
		}
		if f.HasBlogLink {
			blogLinked = true
		}
		totalImages += f.ImageCount
		totalAlt += f.ImagesWithAlt
		totalWords += f.WordCount
	}

	fmt.Fprintf(&sb, "- pages missing an h1: %d\n", missingH1)
	fmt.Fprintf(&sb, "- pages missing a meta description: %d\n", missingMeta)
	fmt.Fprintf(&sb, "- pages missing viewport meta: %d\n", missingViewport)
	fmt.Fprintf(&sb, "- pages with structured data: %d\n", schemaPages)
	fmt.Fprintf(&sb, "- image alt coverage: %d of %d images\n", totalAlt, totalImages)
	fmt.Fprintf(&sb, "- average words per page: %d\n", totalWords/len(features))
	fmt.Fprintf(&sb, "- pages under %d words: %d\n", thinContentWords, thin)
	fmt.Fprintf(&sb, "- pages without a call to action: %d\n", noCTA)
	fmt.Fprintf(&sb, "- pages with testimonial markup: %d\n", testimonialPages)
	fmt.Fprintf(&sb, "- blog or news section linked: %v\n", blogLinked)
	return strings.TrimRight(sb.String(), "\n")
}

func renderFeatureSummary(features []*PageFeatures) string {
	var sb strings.Builder
	for _, f := range features {
		fmt.Fprintf(&sb, "- %s\n", f.URL)
		fmt.Fprintf(&sb, "  title: %q (%d chars) | meta description: %d chars | h1/h2/h3: %d/%d/%d\n",
			f.Title, len(f.Title), len(f.MetaDescription), f.H1Count, f.H2Count, f.H3Count)
		fmt.Fprintf(&sb, "  images: %d (%d with alt) | words: %d | CTAs: %d | schema: %v | og tags: %d | canonical: %v | viewport: %v\n",
			f.ImageCount, f.ImagesWithAlt, f.WordCount, f.CTACount, f.HasSchema, f.OGTagCount, f.HasCanonical, f.HasViewport)
		platforms := make([]string, 0, len(f.SocialLinks))
		for p := range f.SocialLinks {
			platforms = append(platforms, p)
		}
		fmt.Fprintf(&sb, "  social links: %s | testimonials: %v | blog link: %v\n",
			joinOrNone(platforms), f.HasTestimonials, f.HasBlogLink)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderHTMLSamples(pages []*model.Capture, sampleBytes int) string {
	var sb strings.Builder
	for i, c := range pages {
		if i == htmlSampleCount {
			break
		}
		sample := c.HTML
		if len(sample) > sampleBytes {
			sample = sample[:sampleBytes] + "\n[truncated]"
		}
		fmt.Fprintf(&sb, "--- %s ---\n%s\n\n", c.URL, sample)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func presentAbsent(ok bool) string {
	if ok {
		return "present"
	}
	return "absent"
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

// pathList renders up to four URL paths for finding descriptions.
func pathList(urls []string) string {
	const max = 4
	parts := make([]string, 0, max)
	for i, u := range urls {
		if i == max {
			parts = append(parts, fmt.Sprintf("+%d more", len(urls)-max))
			break
		}
		parts = append(parts, urlPath(u))
	}
	return strings.Join(parts, ", ")
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return raw
	}
	return u.Path
}
