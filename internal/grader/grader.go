// Package grader turns module scores, findings, and a few binary signals
// into the final site grade. Everything here is deterministic: the same
// inputs always produce the same letter.
package grader

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/audit-cli/internal/model"
)

// weights are the per-module contributions to the overall score. A
// module that did not run has its weight redistributed proportionally
// across the modules that did.
var weights = map[model.AnalyzerModule]float64{
	model.ModuleVisual:        0.25,
	model.ModuleSEO:           0.25,
	model.ModulePerformance:   0.20,
	model.ModuleContent:       0.15,
	model.ModuleAccessibility: 0.10,
	model.ModuleSocial:        0.05,
}

const (
	quickWinBonusThreshold = 3
	quickWinBonusPoints    = 2
	mobilePenalty          = -5
	httpsPenalty           = -5
	accessiblePenalty      = -10
)

// Grader computes the deterministic site grade.
type Grader struct {
	log *zap.Logger
}

// New builds a Grader.
func New() *Grader {
	return &Grader{log: zap.L().With(zap.String("component", "grader"))}
}

// Grade computes the weighted base over the modules present, applies the
// quick-win bonus and the signal penalties, and clamps to 0..100. The
// adjustments record nominal points; OverallScore is the clamped sum and
// the letter follows it. Failed modules weigh in at their fallback score
// rather than being redistributed away.
func (g *Grader) Grade(modules map[model.AnalyzerModule]*model.ModuleResult, signals model.GradeSignals) *model.GradeResult {
	res := &model.GradeResult{SubScores: make(map[model.AnalyzerModule]int)}

	var (
		totalWeight float64
		weighted    float64
		findings    []model.Finding
	)
	for _, m := range model.AllModules() {
		mr := modules[m]
		if mr == nil {
			continue
		}
		res.SubScores[m] = mr.Score
		totalWeight += weights[m]
		weighted += weights[m] * float64(mr.Score)
		findings = append(findings, mr.Findings...)
	}

	score := 0
	if totalWeight > 0 {
		score = int(math.Round(weighted / totalWeight))
	}

	res.QuickWins = quickWins(findings)
	res.TopIssue = topIssue(findings)

	if len(res.QuickWins) >= quickWinBonusThreshold {
		res.Bonuses = append(res.Bonuses, model.GradeAdjustment{
			Label:  "3+ quick wins identified",
			Points: quickWinBonusPoints,
		})
	}
	if !signals.MobileFriendly {
		res.Penalties = append(res.Penalties, model.GradeAdjustment{
			Label:  "Not mobile friendly",
			Points: mobilePenalty,
		})
	}
	if !signals.HTTPS {
		res.Penalties = append(res.Penalties, model.GradeAdjustment{
			Label:  "No HTTPS",
			Points: httpsPenalty,
		})
	}
	if !signals.SiteAccessible {
		res.Penalties = append(res.Penalties, model.GradeAdjustment{
			Label:  "Site inaccessible",
			Points: accessiblePenalty,
		})
	}
	for _, adj := range res.Bonuses {
		score += adj.Points
	}
	for _, adj := range res.Penalties {
		score += adj.Points
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	res.OverallScore = score
	res.Letter = letterFor(score)

	g.log.Info("site graded",
		zap.Int("overall", score),
		zap.String("letter", res.Letter),
		zap.Int("quick_wins", len(res.QuickWins)))
	return res
}

func letterFor(score int) string {
	switch {
	case score >= 85:
		return "A"
	case score >= 70:
		return "B"
	case score >= 55:
		return "C"
	case score >= 40:
		return "D"
	default:
		return "F"
	}
}

// moduleRank orders modules for tie-breaking: accessibility first, then
// performance, seo, visual with mobile ahead of desktop, content,
// social. Visual findings not pinned to desktop take the mobile slot.
func moduleRank(m model.AnalyzerModule, vp model.FindingViewport) int {
	switch m {
	case model.ModuleAccessibility:
		return 1
	case model.ModulePerformance:
		return 2
	case model.ModuleSEO:
		return 3
	case model.ModuleVisual:
		if vp == model.FindingViewportDesktop {
			return 5
		}
		return 4
	case model.ModuleContent:
		return 6
	case model.ModuleSocial:
		return 7
	default:
		return 8
	}
}

// topIssue picks the highest (severity, priority) finding, ties broken
// by module rank.
func topIssue(findings []model.Finding) *model.FindingRef {
	var best *model.Finding
	for i := range findings {
		f := &findings[i]
		if best == nil || outranks(f, best) {
			best = f
		}
	}
	if best == nil {
		return nil
	}
	ref := refOf(*best)
	return &ref
}

func outranks(a, b *model.Finding) bool {
	if a.Severity.Rank() != b.Severity.Rank() {
		return a.Severity.Rank() > b.Severity.Rank()
	}
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() > b.Priority.Rank()
	}
	return moduleRank(a.Module, a.Viewport) < moduleRank(b.Module, b.Viewport)
}

// quickWins lists every quick-win finding, ordered by severity then
// module rank.
func quickWins(findings []model.Finding) []model.FindingRef {
	var wins []model.Finding
	for _, f := range findings {
		if f.Difficulty == model.DifficultyQuickWin {
			wins = append(wins, f)
		}
	}
	if len(wins) == 0 {
		return nil
	}
	sort.SliceStable(wins, func(i, j int) bool {
		if wins[i].Severity.Rank() != wins[j].Severity.Rank() {
			return wins[i].Severity.Rank() > wins[j].Severity.Rank()
		}
		return moduleRank(wins[i].Module, wins[i].Viewport) < moduleRank(wins[j].Module, wins[j].Viewport)
	})
	refs := make([]model.FindingRef, len(wins))
	for i, f := range wins {
		refs[i] = refOf(f)
	}
	return refs
}

func refOf(f model.Finding) model.FindingRef {
	return model.FindingRef{
		Module:   f.Module,
		Title:    f.Title,
		Severity: f.Severity,
		Viewport: f.Viewport,
	}
}
