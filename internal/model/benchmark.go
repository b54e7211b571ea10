package model

import "time"

// BenchmarkTier records how a benchmark entered the corpus.
type BenchmarkTier string

const (
	BenchmarkTierManual   BenchmarkTier = "manual"
	BenchmarkTierRegional BenchmarkTier = "regional"
	BenchmarkTierNational BenchmarkTier = "national"
)

// ComparisonTier relates the audit target to its matched benchmark.
type ComparisonTier string

const (
	ComparisonAspirational ComparisonTier = "aspirational"
	ComparisonPeer         ComparisonTier = "peer"
	ComparisonCompetitive  ComparisonTier = "competitive"
)

// BenchmarkRecord is a reference site analyzed in benchmark mode. Strengths
// and screenshots are cached resources: repeat analyses of the same
// benchmark reuse them instead of re-capturing and re-prompting.
type BenchmarkRecord struct {
	ID              string              `json:"id"`
	CompanyName     string              `json:"company_name"`
	URL             string              `json:"url"`
	Industry        string              `json:"industry"`
	Location        string              `json:"location,omitempty"`
	Tier            BenchmarkTier       `json:"tier"`
	SizeHint        string              `json:"size_hint,omitempty"`
	Scores          map[string]int      `json:"scores,omitempty"`
	Strengths       map[string][]string `json:"strengths,omitempty"`
	ScreenshotPaths map[string]string   `json:"screenshot_paths,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// BenchmarkMatch is the best-fit benchmark for a target plus the comparison
// context handed to synthesis and the report.
type BenchmarkMatch struct {
	ID             string              `json:"id"`
	CompanyName    string              `json:"company_name"`
	URL            string              `json:"url"`
	Industry       string              `json:"industry"`
	Tier           BenchmarkTier       `json:"tier"`
	MatchScore     int                 `json:"match_score"`
	ComparisonTier ComparisonTier      `json:"comparison_tier"`
	MatchReasoning string              `json:"match_reasoning"`
	Similarities   []string            `json:"similarities,omitempty"`
	Differences    []string            `json:"differences,omitempty"`
	Scores         map[string]int      `json:"scores,omitempty"`
	Strengths      map[string][]string `json:"strengths,omitempty"`
}
