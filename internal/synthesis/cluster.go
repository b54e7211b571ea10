package synthesis

import (
	"slices"
	"sort"
	"strings"
	"unicode"

	"github.com/sells-group/audit-cli/internal/model"
)

// topKeywordCount is how many frequency-ranked keywords represent a
// finding on the category clustering path.
const topKeywordCount = 5

// keywordOverlapMin is how many of those keywords two findings must
// share to merge on category alone.
const keywordOverlapMin = 3

// stopwords are excluded from similarity tokens: function words plus
// terms that appear in nearly every finding and would inflate overlap.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "for": {}, "from": {}, "has": {},
	"have": {}, "in": {}, "is": {}, "it": {}, "its": {}, "no": {},
	"not": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"their": {}, "this": {}, "to": {}, "with": {}, "you": {},
	"your": {}, "site": {}, "website": {},
}

func splitTokens(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, ok := stopwords[f]; ok {
			continue
		}
		out = append(out, f)
	}
	return out
}

func tokenSet(parts ...string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, part := range parts {
		for _, tok := range splitTokens(part) {
			set[tok] = struct{}{}
		}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

// topKeywords ranks a finding's title and description tokens by
// frequency, ties alphabetical so the result is stable.
func topKeywords(f model.Finding) []string {
	freq := map[string]int{}
	for _, tok := range splitTokens(f.Title) {
		freq[tok]++
	}
	for _, tok := range splitTokens(f.Description) {
		freq[tok]++
	}
	kws := make([]string, 0, len(freq))
	for tok := range freq {
		kws = append(kws, tok)
	}
	sort.Slice(kws, func(i, j int) bool {
		if freq[kws[i]] != freq[kws[j]] {
			return freq[kws[i]] > freq[kws[j]]
		}
		return kws[i] < kws[j]
	})
	if len(kws) > topKeywordCount {
		kws = kws[:topKeywordCount]
	}
	return kws
}

func overlapCount(a, b []string) int {
	n := 0
	for _, tok := range a {
		if slices.Contains(b, tok) {
			n++
		}
	}
	return n
}

// cluster groups near-duplicate findings under the first member seen,
// which stays the representative for title, category, and
// recommendation.
type cluster struct {
	rep     model.Finding
	members []model.Finding
	keys    map[string]struct{}
	top     []string
}

func newCluster(f model.Finding) *cluster {
	return &cluster{
		rep:     f,
		members: []model.Finding{f},
		keys:    tokenSet(f.Title, f.Description),
		top:     topKeywords(f),
	}
}

// matches applies the two clustering paths against the representative:
// same source type with token similarity above the threshold, or same
// category with enough top-keyword agreement. The category path is what
// folds a deterministic signal into the model finding it corroborates.
func (c *cluster) matches(f model.Finding, threshold float64) bool {
	if f.SourceType == c.rep.SourceType && jaccard(c.keys, tokenSet(f.Title, f.Description)) > threshold {
		return true
	}
	return f.Category != "" && f.Category == c.rep.Category &&
		overlapCount(c.top, topKeywords(f)) >= keywordOverlapMin
}

// buildClusters greedily assigns each finding to the first cluster it
// matches, in input order. Every finding lands in exactly one cluster.
func buildClusters(findings []model.Finding, threshold float64) []*cluster {
	var clusters []*cluster
	for _, f := range findings {
		placed := false
		for _, c := range clusters {
			if c.matches(f, threshold) {
				c.members = append(c.members, f)
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, newCluster(f))
		}
	}
	return clusters
}

// consolidate merges a cluster into one issue: max severity, easiest
// difficulty, longest description, unions of pages, evidence, and
// source modules. Business impact is filled by the rollup stage.
func (c *cluster) consolidate() model.ConsolidatedIssue {
	issue := model.ConsolidatedIssue{
		Title:          c.rep.Title,
		Category:       c.rep.Category,
		Description:    c.rep.Description,
		Recommendation: c.rep.Recommendation,
		Severity:       c.rep.Severity,
		Difficulty:     c.rep.Difficulty,
		MemberCount:    len(c.members),
	}
	for _, m := range c.members {
		if m.Severity.Rank() > issue.Severity.Rank() {
			issue.Severity = m.Severity
		}
		if difficultyRank(m.Difficulty) < difficultyRank(issue.Difficulty) {
			issue.Difficulty = m.Difficulty
		}
		if len(m.Description) > len(issue.Description) {
			issue.Description = m.Description
		}
		issue.AffectedPages = appendUnique(issue.AffectedPages, m.AffectedPages...)
		issue.EvidenceRefs = appendUnique(issue.EvidenceRefs, m.EvidenceRefs...)
		issue.SourceModules = appendUnique(issue.SourceModules, m.SourceModule)
	}
	return issue
}

// difficultyRank orders difficulties easiest first, so a cluster adopts
// the cheapest member's fix estimate.
func difficultyRank(d model.Difficulty) int {
	switch d {
	case model.DifficultyQuickWin:
		return 0
	case model.DifficultyMedium:
		return 1
	case model.DifficultyMajor:
		return 2
	default:
		return 3
	}
}

func appendUnique[T comparable](dst []T, vals ...T) []T {
	for _, v := range vals {
		if !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}
