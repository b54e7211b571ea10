package synthesis

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/internal/prompts"
)

// summarize performs the executive summary call under its own deadline.
// The boolean reports whether the deterministic template substituted for
// the model. An error is returned only when the run itself is cancelled;
// a timed-out or malformed summary falls back instead.
func (s *Synthesizer) summarize(ctx context.Context, rec prompts.Recorder, in Input, issues []model.ConsolidatedIssue) (model.ExecutiveSummary, bool, model.TokenUsage, error) {
	sumCtx, cancel := context.WithTimeout(ctx, s.cfg.SummaryTimeout())
	defer cancel()

	var parsed model.ExecutiveSummary
	usage, _, err := s.runner.RunJSON(sumCtx, rec, prompts.Call{
		Stage:    "synthesis",
		PromptID: "executive-summary",
		Vars: map[string]string{
			"company":       in.Company.Name,
			"industry":      in.Company.Industry,
			"url":           in.URL,
			"module_scores": renderScores(in.Modules),
			"issues":        renderIssues(issues),
			"benchmark":     renderBenchmark(in.Benchmark),
		},
	}, &parsed)
	if err == nil && strings.TrimSpace(parsed.Headline) == "" {
		err = eris.New("synthesis: summary missing headline")
	}
	if err != nil {
		if cause := ctx.Err(); cause != nil {
			return model.ExecutiveSummary{}, false, usage, eris.Wrap(cause, "synthesis: run cancelled")
		}
		s.log.Warn("executive summary failed, using template", zap.Error(err))
		return templateSummary(in, issues), true, usage, nil
	}
	return parsed, false, usage, nil
}

// templateSummary is the deterministic fallback, built from the module
// scores and the top three consolidated issues.
func templateSummary(in Input, issues []model.ConsolidatedIssue) model.ExecutiveSummary {
	top := issues
	if len(top) > 3 {
		top = top[:3]
	}
	titles := make([]string, len(top))
	for i, issue := range top {
		titles[i] = issue.Title
	}

	var roadmap model.Roadmap
	for _, issue := range issues {
		switch {
		case issue.Difficulty == model.DifficultyQuickWin:
			roadmap.Days30 = appendCapped(roadmap.Days30, issue.Title, 3)
		case issue.Severity.Rank() >= model.SeverityHigh.Rank():
			roadmap.Days60 = appendCapped(roadmap.Days60, issue.Title, 3)
		default:
			roadmap.Days90 = appendCapped(roadmap.Days90, issue.Title, 3)
		}
	}

	name := strings.TrimSpace(in.Company.Name)
	if name == "" {
		name = in.URL
	}
	industry := strings.TrimSpace(in.Company.Industry)
	if industry == "" {
		industry = "local"
	}

	headline := fmt.Sprintf("%s's website audit surfaced %d consolidated issues.", name, len(issues))
	if avg, ok := averageModuleScore(in.Modules); ok {
		headline = fmt.Sprintf("%s's website averages %d/100 across the audited areas, with %d consolidated issues to address.", name, avg, len(issues))
	}

	var overview strings.Builder
	fmt.Fprintf(&overview, "The audit consolidated the module findings into %d issues. ", len(issues))
	if len(titles) > 0 {
		fmt.Fprintf(&overview, "The most pressing: %s. ", strings.Join(titles, "; "))
	}
	fmt.Fprintf(&overview, "Scores by area: %s.", renderScores(in.Modules))

	competitive := "No benchmark comparison was available for this run."
	if in.Benchmark != nil {
		competitive = fmt.Sprintf("Compared against %s, the site trails on the weaker areas above.", in.Benchmark.CompanyName)
	}

	return model.ExecutiveSummary{
		Headline:            headline,
		Overview:            overview.String(),
		CriticalFindings:    titles,
		Roadmap:             roadmap,
		ROIStatement:        "The highest-severity issues are costing inquiries today; the 30-day quick wins cost little to fix and recover the easiest share of that loss first.",
		CompetitivePosition: competitive,
		MarketOpportunity:   fmt.Sprintf("A stronger website in the %s market captures demand that currently goes to better-presented competitors.", industry),
		CallToAction:        "Start with the 30-day quick wins, then re-audit to verify the score change.",
	}
}

func renderScores(modules map[model.AnalyzerModule]*model.ModuleResult) string {
	parts := make([]string, 0, len(modules))
	for _, m := range model.AllModules() {
		res := modules[m]
		if res == nil {
			continue
		}
		part := fmt.Sprintf("%s: %d", m, res.Score)
		if res.Failed() {
			part += " (incomplete)"
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

func renderIssues(issues []model.ConsolidatedIssue) string {
	if len(issues) == 0 {
		return "none"
	}
	var b strings.Builder
	for _, issue := range issues {
		impact := issue.BusinessImpact
		if impact == "" {
			impact = issue.Description
		}
		fmt.Fprintf(&b, "- [%s] %s - %s\n", issue.Severity, issue.Title, impact)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderBenchmark(bm *model.BenchmarkMatch) string {
	if bm == nil {
		return "none"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s, %s tier, match %d/100): %s\n", bm.CompanyName, bm.URL, bm.ComparisonTier, bm.MatchScore, bm.MatchReasoning)
	for _, dim := range []string{"design", "content", "ux"} {
		items := bm.Strengths[dim]
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&b, "Their %s strengths: %s\n", dim, strings.Join(items, "; "))
	}
	if len(bm.Similarities) > 0 {
		fmt.Fprintf(&b, "Similarities: %s\n", strings.Join(bm.Similarities, "; "))
	}
	if len(bm.Differences) > 0 {
		fmt.Fprintf(&b, "Differences: %s\n", strings.Join(bm.Differences, "; "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func averageModuleScore(modules map[model.AnalyzerModule]*model.ModuleResult) (int, bool) {
	sum, n := 0, 0
	for _, res := range modules {
		if res == nil {
			continue
		}
		sum += res.Score
		n++
	}
	if n == 0 {
		return 0, false
	}
	return int(math.Round(float64(sum) / float64(n))), true
}

func appendCapped(dst []string, v string, limit int) []string {
	if len(dst) >= limit {
		return dst
	}
	return append(dst, v)
}
