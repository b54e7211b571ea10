package benchmark

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/audit-cli/internal/config"
	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/internal/prompts"
	"github.com/sells-group/audit-cli/internal/resilience"
	"github.com/sells-group/audit-cli/pkg/anthropic"
)

// candidateCap bounds how many pre-scored candidates the model sees.
const candidateCap = 8

// ErrNoCandidates means no stored benchmark covers the target's industry
// or any related one.
var ErrNoCandidates = eris.New("benchmark: no candidate records")

// relatedIndustries maps an industry to the set tried when it has no
// stored benchmarks of its own. Keys and values are lowercase; lookups
// normalize first.
var relatedIndustries = map[string][]string{
	"restaurant":          {"cafe", "bakery", "catering"},
	"cafe":                {"restaurant", "bakery"},
	"bakery":              {"cafe", "restaurant"},
	"catering":            {"restaurant"},
	"hvac":                {"plumbing", "electrical", "home services"},
	"plumbing":            {"hvac", "electrical", "home services"},
	"electrical":          {"hvac", "plumbing", "home services"},
	"roofing":             {"construction", "home services"},
	"construction":        {"roofing", "remodeling", "home services"},
	"remodeling":          {"construction", "home services"},
	"landscaping":         {"lawn care", "home services"},
	"lawn care":           {"landscaping", "home services"},
	"home services":       {"hvac", "plumbing", "landscaping"},
	"dental":              {"medical", "orthodontics"},
	"orthodontics":        {"dental"},
	"medical":             {"dental", "chiropractic"},
	"chiropractic":        {"medical", "physical therapy"},
	"physical therapy":    {"chiropractic", "medical"},
	"law firm":            {"legal services", "accounting"},
	"legal services":      {"law firm", "accounting"},
	"accounting":          {"legal services", "financial services"},
	"financial services":  {"accounting", "insurance"},
	"insurance":           {"financial services"},
	"real estate":         {"property management", "mortgage"},
	"property management": {"real estate"},
	"mortgage":            {"real estate", "financial services"},
	"auto repair":         {"auto dealership", "tire shop"},
	"auto dealership":     {"auto repair"},
	"fitness":             {"gym", "wellness"},
	"gym":                 {"fitness", "wellness"},
	"salon":               {"spa", "barbershop"},
	"spa":                 {"salon", "wellness"},
	"barbershop":          {"salon"},
	"wellness":            {"fitness", "spa"},
	"retail":              {"ecommerce", "boutique"},
	"boutique":            {"retail"},
	"ecommerce":           {"retail"},
}

// MatchRequest describes the audit target. SizeHint is optional free
// text like "small" or "mid-market"; matching is neutral without it.
type MatchRequest struct {
	Company  model.Company
	SizeHint string
}

// Matcher picks the stored benchmark a prospect would accept as a fair
// comparison. Candidates are pre-scored deterministically from industry,
// size, and location; the model makes the final pick and frames the
// comparison.
type Matcher struct {
	deps
	store Store
	cfg   config.BenchmarkConfig
	log   *zap.Logger
}

// NewMatcher wires the benchmark matcher.
func NewMatcher(cfg config.BenchmarkConfig, store Store, ai anthropic.Client, catalog *prompts.Catalog, retry resilience.RetryConfig) *Matcher {
	return &Matcher{
		deps:  deps{ai: ai, catalog: catalog, retry: retry},
		store: store,
		cfg:   cfg,
		log:   zap.L().With(zap.String("component", "benchmark.matcher")),
	}
}

// candidate is a stored record plus its deterministic pre-score.
type candidate struct {
	model.BenchmarkRecord
	exactIndustry bool
	score         int
}

// Match returns the best-fit benchmark enriched with its stored
// strengths and scores. Errors here are advisory: the audit proceeds
// without comparison context when matching fails.
func (m *Matcher) Match(ctx context.Context, rec Recorder, req MatchRequest) (*model.BenchmarkMatch, model.TokenUsage, error) {
	cands, err := m.candidates(ctx, req.Company.Industry)
	if err != nil {
		return nil, model.TokenUsage{}, err
	}

	m.preScore(req, cands)
	if len(cands) > candidateCap {
		cands = cands[:candidateCap]
	}

	var out matchJSON
	usage, err := m.runJSON(ctx, rec, llmCall{
		stage:    "benchmark",
		promptID: "benchmark-match",
		vars: map[string]string{
			"company":    req.Company.Name,
			"industry":   req.Company.Industry,
			"location":   req.Company.Location,
			"candidates": renderCandidates(cands),
		},
	}, &out)
	if err != nil {
		return nil, usage, err
	}

	chosen := findCandidate(cands, out.BenchmarkID)
	if chosen == nil {
		return nil, usage, eris.Errorf("benchmark: model picked unknown candidate %q", out.BenchmarkID)
	}
	if !scoreOK(out.MatchScore) {
		return nil, usage, eris.Errorf("benchmark: match score missing or out of range for %s", chosen.ID)
	}

	match := &model.BenchmarkMatch{
		ID:             chosen.ID,
		CompanyName:    chosen.CompanyName,
		URL:            chosen.URL,
		Industry:       chosen.Industry,
		Tier:           chosen.Tier,
		MatchScore:     *out.MatchScore,
		ComparisonTier: parseComparisonTier(out.ComparisonTier),
		MatchReasoning: strings.TrimSpace(out.MatchReasoning),
		Similarities:   out.Similarities,
		Differences:    out.Differences,
		Scores:         chosen.Scores,
		Strengths:      chosen.Strengths,
	}
	m.log.Info("benchmark matched",
		zap.String("benchmark_id", match.ID),
		zap.Int("match_score", match.MatchScore),
		zap.String("comparison_tier", string(match.ComparisonTier)))
	return match, usage, nil
}

// candidates queries the exact industry first, then relaxes to related
// industries when nothing is stored for it. A failed related-industry
// query drops that industry rather than the whole match.
func (m *Matcher) candidates(ctx context.Context, industry string) ([]candidate, error) {
	norm := strings.ToLower(strings.TrimSpace(industry))
	exact, err := m.store.QueryBenchmarks(ctx, norm)
	if err != nil {
		return nil, eris.Wrapf(err, "benchmark: query benchmarks for %q", norm)
	}
	if len(exact) > 0 {
		out := make([]candidate, 0, len(exact))
		for _, r := range exact {
			out = append(out, candidate{BenchmarkRecord: r, exactIndustry: true})
		}
		return out, nil
	}

	var out []candidate
	for _, rel := range relatedIndustries[norm] {
		recs, err := m.store.QueryBenchmarks(ctx, rel)
		if err != nil {
			m.log.Warn("related industry query failed",
				zap.String("industry", rel), zap.Error(err))
			continue
		}
		for _, r := range recs {
			out = append(out, candidate{BenchmarkRecord: r})
		}
	}
	if len(out) == 0 {
		return nil, ErrNoCandidates
	}
	m.log.Debug("relaxed to related industries",
		zap.String("industry", norm), zap.Int("candidates", len(out)))
	return out, nil
}

// preScore ranks candidates in place, best first. Ties order by ID so
// the rendered list is stable across runs.
func (m *Matcher) preScore(req MatchRequest, cands []candidate) {
	for i := range cands {
		cands[i].score = m.scoreCandidate(req, cands[i])
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].ID < cands[j].ID
	})
}

// scoreCandidate weighs industry match, size hints, and location
// proximity per configuration. The default 50/25/25 split is a starting
// point, not a contract; operators tune it per market.
func (m *Matcher) scoreCandidate(req MatchRequest, c candidate) int {
	industry := 60.0
	if c.exactIndustry {
		industry = 100
	}

	size := 50.0
	if req.SizeHint != "" && c.SizeHint != "" {
		if strings.EqualFold(strings.TrimSpace(req.SizeHint), strings.TrimSpace(c.SizeHint)) {
			size = 100
		} else {
			size = 25
		}
	}

	loc := locationProximity(req.Company.Location, c.Location)

	total := m.cfg.IndustryWeight + m.cfg.SizeWeight + m.cfg.LocationWeight
	if total <= 0 {
		return 0
	}
	raw := (industry*m.cfg.IndustryWeight + size*m.cfg.SizeWeight + loc*m.cfg.LocationWeight) / total
	return clampScore(int(math.Round(raw)))
}

// locationProximity scores how close two free-text locations are. Exact
// match beats a shared trailing region (usually the state), which beats
// any shared segment. Unknown on either side is neutral.
func locationProximity(target, cand string) float64 {
	t := splitLocation(target)
	c := splitLocation(cand)
	switch {
	case len(t) == 0 || len(c) == 0:
		return 50
	case strings.Join(t, ",") == strings.Join(c, ","):
		return 100
	case t[len(t)-1] == c[len(c)-1]:
		return 70
	}
	for _, part := range t {
		if slices.Contains(c, part) {
			return 60
		}
	}
	return 20
}

func splitLocation(s string) []string {
	var out []string
	for _, part := range strings.Split(strings.ToLower(s), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

// renderCandidates formats the pre-scored list for the match prompt,
// best first.
func renderCandidates(cands []candidate) string {
	lines := make([]string, 0, len(cands))
	for _, c := range cands {
		line := fmt.Sprintf("- id: %s | %s (%s", c.ID, c.CompanyName, c.Industry)
		if c.Location != "" {
			line += ", " + c.Location
		}
		line += fmt.Sprintf(") | tier: %s | pre-score: %d", c.Tier, c.score)
		if c.SizeHint != "" {
			line += " | size: " + c.SizeHint
		}
		if avg := averageScore(c.Scores); avg > 0 {
			line += fmt.Sprintf(" | avg audit score: %d", avg)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func averageScore(scores map[string]int) int {
	if len(scores) == 0 {
		return 0
	}
	sum := 0
	for _, s := range scores {
		sum += s
	}
	return int(math.Round(float64(sum) / float64(len(scores))))
}

func findCandidate(cands []candidate, id string) *candidate {
	id = strings.TrimSpace(id)
	for i := range cands {
		if cands[i].ID == id {
			return &cands[i]
		}
	}
	return nil
}

// matchJSON is the wire shape of the benchmark-match response. The score
// is a pointer so a missing field is distinguishable from zero.
type matchJSON struct {
	BenchmarkID    string   `json:"benchmark_id"`
	MatchScore     *int     `json:"match_score"`
	ComparisonTier string   `json:"comparison_tier"`
	MatchReasoning string   `json:"match_reasoning"`
	Similarities   []string `json:"similarities"`
	Differences    []string `json:"differences"`
}

func parseComparisonTier(s string) model.ComparisonTier {
	switch model.ComparisonTier(strings.TrimSpace(strings.ToLower(s))) {
	case model.ComparisonAspirational:
		return model.ComparisonAspirational
	case model.ComparisonCompetitive:
		return model.ComparisonCompetitive
	default:
		return model.ComparisonPeer
	}
}
