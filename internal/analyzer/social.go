package analyzer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/audit-cli/internal/config"
	"github.com/sells-group/audit-cli/internal/model"
)

// Social audits the site's social media footprint: profiles linked
// on-site merged with externally supplied ones, plus per-page placement.
// One model call interprets completeness and activity for the industry.
type Social struct {
	deps
	cfg config.AnalysisConfig
	log *zap.Logger
}

// NewSocial wires the social analyzer.
func NewSocial(cfg config.AnalysisConfig, d deps) *Social {
	return &Social{
		deps: d,
		cfg:  cfg,
		log:  zap.L().With(zap.String("component", "analyzer.social")),
	}
}

// Module implements Analyzer.
func (s *Social) Module() model.AnalyzerModule { return model.ModuleSocial }

type socialResponse struct {
	Score             *int        `json:"score"`
	Issues            []issueJSON `json:"issues"`
	Positives         []string    `json:"positives"`
	ProfileAssessment string      `json:"profile_assessment"`
}

// Analyze implements Analyzer.
func (s *Social) Analyze(ctx context.Context, in *Input) *model.ModuleResult {
	pages := in.okCaptures(in.Selection.SocialPages, in.maxPages(s.cfg))
	if len(pages) == 0 {
		return model.ErrorResult(model.ModuleSocial, eris.New("analyzer: no captured pages for social analysis"))
	}

	profiles := make(map[string]*SocialProfile)
	presence := make(map[string][]string, len(pages))
	var withLinks, withoutLinks []string
	for _, c := range pages {
		f, err := ExtractFeatures(c)
		if err != nil {
			s.log.Warn("feature extraction failed",
				zap.String("url", c.URL),
				zap.Error(err))
			continue
		}
		platforms := make([]string, 0, len(f.SocialLinks))
		for platform, link := range f.SocialLinks {
			platforms = append(platforms, platform)
			if _, ok := profiles[platform]; !ok {
				profiles[platform] = &SocialProfile{Platform: platform, URL: link, Source: "site"}
			}
		}
		sort.Strings(platforms)
		presence[c.URL] = platforms
		if len(platforms) > 0 {
			withLinks = append(withLinks, c.URL)
		} else {
			withoutLinks = append(withoutLinks, c.URL)
		}
	}

	// External data wins follower counts; platforms only known externally
	// join the set outright.
	for _, ext := range in.ExternalProfiles {
		platform := strings.ToLower(strings.TrimSpace(ext.Platform))
		if platform == "" {
			continue
		}
		if p, ok := profiles[platform]; ok {
			if ext.Followers > 0 {
				p.Followers = ext.Followers
				p.Source = "site+external"
			}
			continue
		}
		added := ext
		added.Platform = platform
		if added.Source == "" {
			added.Source = "external"
		}
		profiles[platform] = &added
	}

	var det []model.Finding
	if len(profiles) == 0 {
		det = append(det, model.Finding{
			Module:         model.ModuleSocial,
			Category:       "social",
			Title:          "No social media presence detected",
			Description:    "No social profile links were found on any analyzed page and none were supplied externally.",
			Impact:         "The business is invisible on the channels where local customers check reputation and activity.",
			Recommendation: "Create profiles on the platforms that matter for the industry and link them from the site footer.",
			Severity:       model.SeverityHigh,
			Priority:       model.PriorityHigh,
			Difficulty:     model.DifficultyMedium,
			Viewport:       model.FindingViewportNA,
			SourceModule:   model.ModuleSocial,
			SourceType:     sourceDeterministic,
		})
	}
	if len(withLinks) > 0 && len(withoutLinks) > 0 {
		det = append(det, model.Finding{
			Module:         model.ModuleSocial,
			Category:       "social",
			Title:          "Social links missing from some pages",
			Description:    fmt.Sprintf("%d of %d analyzed pages link social profiles; the rest (%s) do not.", len(withLinks), len(withLinks)+len(withoutLinks), pathList(withoutLinks)),
			Impact:         "Visitors landing on the unlinked pages get no path to the social proof the site already has.",
			Recommendation: "Put the social icons in a shared footer or header so every page carries them.",
			Severity:       model.SeverityMedium,
			Priority:       model.PriorityMedium,
			Difficulty:     model.DifficultyQuickWin,
			Viewport:       model.FindingViewportNA,
			AffectedPages:  withoutLinks,
			SourceModule:   model.ModuleSocial,
			SourceType:     sourceDeterministic,
		})
	}

	var out socialResponse
	usage, modelID, err := s.runJSON(ctx, in.recorder(), llmCall{
		stage:    "social",
		promptID: "social",
		vars: map[string]string{
			"company":       in.Company.Name,
			"industry":      in.Company.Industry,
			"url":           in.TargetURL,
			"profiles":      renderProfiles(profiles),
			"page_presence": renderPresence(pages, presence),
		},
	}, &out)
	if err == nil && !scoreOK(out.Score) {
		err = eris.New("analyzer: social score missing or out of range")
	}
	if err != nil {
		s.log.Warn("social analysis failed", zap.Error(err))
		return errorResultWith(model.ModuleSocial, err, det, usage, modelID)
	}

	findings := det
	findings = append(findings, findingsFrom(out.Issues, model.ModuleSocial)...)

	strengths := make(map[string][]string)
	if len(profiles) > 0 {
		strengths["profiles"] = profileLines(profiles)
	}
	if strings.TrimSpace(out.ProfileAssessment) != "" {
		strengths["assessment"] = []string{strings.TrimSpace(out.ProfileAssessment)}
	}

	return &model.ModuleResult{
		Module:    model.ModuleSocial,
		Score:     *out.Score,
		Findings:  findings,
		Positives: toPositives("", out.Positives),
		Strengths: strengths,
		ModelID:   modelID,
		Usage:     usage,
	}
}

func renderProfiles(profiles map[string]*SocialProfile) string {
	if len(profiles) == 0 {
		return "none found"
	}
	var sb strings.Builder
	for _, line := range profileLines(profiles) {
		sb.WriteString("- " + line + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func profileLines(profiles map[string]*SocialProfile) []string {
	platforms := make([]string, 0, len(profiles))
	for p := range profiles {
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)

	lines := make([]string, 0, len(platforms))
	for _, platform := range platforms {
		p := profiles[platform]
		line := fmt.Sprintf("%s: %s", platform, p.URL)
		if p.Followers > 0 {
			line += fmt.Sprintf(" (followers: %d, source: %s)", p.Followers, p.Source)
		} else {
			line += fmt.Sprintf(" (source: %s)", p.Source)
		}
		lines = append(lines, line)
	}
	return lines
}

func renderPresence(pages []*model.Capture, presence map[string][]string) string {
	var sb strings.Builder
	for _, c := range pages {
		platforms, ok := presence[c.URL]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "- %s: %s\n", c.URL, joinOrNone(platforms))
	}
	if sb.Len() == 0 {
		return "no pages analyzed"
	}
	return strings.TrimRight(sb.String(), "\n")
}
