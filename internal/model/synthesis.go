package model

// ConsolidatedIssue is a cluster of near-duplicate findings from one or
// more modules. Severity is the max among members; evidence refs and source
// modules are unions; the description is the longest member description.
type ConsolidatedIssue struct {
	Title          string           `json:"title"`
	Category       string           `json:"category"`
	Description    string           `json:"description"`
	BusinessImpact string           `json:"business_impact"`
	Recommendation string           `json:"recommendation"`
	Severity       Severity         `json:"severity"`
	Difficulty     Difficulty       `json:"difficulty"`
	AffectedPages  []string         `json:"affected_pages,omitempty"`
	EvidenceRefs   []string         `json:"evidence_refs,omitempty"`
	SourceModules  []AnalyzerModule `json:"source_modules"`
	MemberCount    int              `json:"member_count"`
}

// Roadmap is the 30/60/90-day action plan in the executive summary.
type Roadmap struct {
	Days30 []string `json:"days_30"`
	Days60 []string `json:"days_60"`
	Days90 []string `json:"days_90"`
}

// ExecutiveSummary is the narrative section of the report.
type ExecutiveSummary struct {
	Headline            string   `json:"headline"`
	Overview            string   `json:"overview"`
	CriticalFindings    []string `json:"critical_findings"`
	Roadmap             Roadmap  `json:"roadmap"`
	ROIStatement        string   `json:"roi_statement"`
	CompetitivePosition string   `json:"competitive_position"`
	MarketOpportunity   string   `json:"market_opportunity"`
	CallToAction        string   `json:"call_to_action"`
}

// SynthesisResult is the output of the synthesis stage. FallbackSummary is
// true when the summary LLM call timed out and the deterministic template
// was used instead.
type SynthesisResult struct {
	ConsolidatedIssues []ConsolidatedIssue `json:"consolidated_issues"`
	Summary            ExecutiveSummary    `json:"executive_summary"`
	FallbackSummary    bool                `json:"fallback_summary,omitempty"`
}
