package model

// AnalyzerModule identifies one analyzer in the bank.
type AnalyzerModule string

const (
	ModuleVisual        AnalyzerModule = "visual"
	ModuleSEO           AnalyzerModule = "seo"
	ModuleContent       AnalyzerModule = "content"
	ModuleSocial        AnalyzerModule = "social"
	ModuleAccessibility AnalyzerModule = "accessibility"
	ModulePerformance   AnalyzerModule = "performance"
)

// AllModules returns the analyzer modules in grading-weight order.
func AllModules() []AnalyzerModule {
	return []AnalyzerModule{
		ModuleVisual,
		ModuleSEO,
		ModulePerformance,
		ModuleContent,
		ModuleAccessibility,
		ModuleSocial,
	}
}

// Severity classifies how damaging a finding is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank returns a comparable weight, higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Priority classifies how urgently a finding should be addressed.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns a comparable weight, higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Difficulty estimates the effort to fix a finding.
type Difficulty string

const (
	DifficultyQuickWin Difficulty = "quick-win"
	DifficultyMedium   Difficulty = "medium"
	DifficultyMajor    Difficulty = "major"
	DifficultyUnknown  Difficulty = "unknown"
)

// FindingViewport scopes a finding to a viewport.
type FindingViewport string

const (
	FindingViewportDesktop    FindingViewport = "desktop"
	FindingViewportMobile     FindingViewport = "mobile"
	FindingViewportResponsive FindingViewport = "responsive"
	FindingViewportBoth       FindingViewport = "both"
	FindingViewportNA         FindingViewport = "n/a"
)

// Finding is the universal analyzer output: one atomic issue about one or
// more pages. An empty AffectedPages means site-wide.
type Finding struct {
	Module         AnalyzerModule  `json:"module"`
	Category       string          `json:"category"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Impact         string          `json:"impact"`
	Recommendation string          `json:"recommendation"`
	Severity       Severity        `json:"severity"`
	Priority       Priority        `json:"priority"`
	Difficulty     Difficulty      `json:"difficulty"`
	Viewport       FindingViewport `json:"viewport,omitempty"`
	AffectedPages  []string        `json:"affected_pages,omitempty"`
	EvidenceRefs   []string        `json:"evidence_refs,omitempty"`
	SourceModule   AnalyzerModule  `json:"source_module"`
	SourceType     string          `json:"source_type"`
}

// Positive is a strength called out by an analyzer, optionally tied to a
// page.
type Positive struct {
	Page string `json:"page,omitempty"`
	Text string `json:"text"`
}

// Fallback scores used when a module errors out.
const (
	FallbackScoreVisual      = 30
	FallbackScorePerformance = 30
	FallbackScoreDefault     = 50
)

// FallbackScore returns the fixed score a module reports when it fails.
func FallbackScore(m AnalyzerModule) int {
	switch m {
	case ModuleVisual, ModulePerformance:
		return FallbackScoreVisual
	default:
		return FallbackScoreDefault
	}
}

// ModuleResult is the per-analyzer envelope. Analyzers never fail the run:
// when Error is set, Score holds the module's fallback and Findings may
// carry a single self-describing error finding.
type ModuleResult struct {
	Module    AnalyzerModule      `json:"module"`
	Score     int                 `json:"score"`
	Findings  []Finding           `json:"findings"`
	Positives []Positive          `json:"positives,omitempty"`
	SubScores map[string]int      `json:"sub_scores,omitempty"`
	Strengths map[string][]string `json:"strengths,omitempty"`
	ModelID   string              `json:"model_id,omitempty"`
	Usage     TokenUsage          `json:"usage"`
	Error     string              `json:"error,omitempty"`
}

// Failed reports whether the module errored.
func (r *ModuleResult) Failed() bool {
	return r.Error != ""
}

// ErrorResult builds the envelope for a failed module: fallback score plus
// one finding describing the failure.
func ErrorResult(m AnalyzerModule, err error) *ModuleResult {
	return &ModuleResult{
		Module: m,
		Score:  FallbackScore(m),
		Findings: []Finding{{
			Module:       m,
			Category:     "analysis",
			Title:        string(m) + " analysis did not complete",
			Description:  err.Error(),
			Impact:       "This area was scored conservatively because the analysis could not finish.",
			Severity:     SeverityMedium,
			Priority:     PriorityMedium,
			Difficulty:   DifficultyUnknown,
			Viewport:     FindingViewportNA,
			SourceModule: m,
			SourceType:   "analyzer-error",
		}},
		Error: err.Error(),
	}
}
