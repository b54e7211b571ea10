package model

// GradeAdjustment is one named bonus or penalty applied to the weighted
// base score.
type GradeAdjustment struct {
	Label  string `json:"label"`
	Points int    `json:"points"`
}

// FindingRef points at a finding without duplicating its full body.
type FindingRef struct {
	Module   AnalyzerModule  `json:"module"`
	Title    string          `json:"title"`
	Severity Severity        `json:"severity"`
	Viewport FindingViewport `json:"viewport,omitempty"`
}

// GradeSignals are the binary context flags the grader consumes alongside
// module scores.
type GradeSignals struct {
	MobileFriendly bool `json:"mobile_friendly"`
	HTTPS          bool `json:"https"`
	SiteAccessible bool `json:"site_accessible"`
}

// GradeResult is the deterministic grading output.
type GradeResult struct {
	Letter       string                 `json:"letter"`
	OverallScore int                    `json:"overall_score"`
	SubScores    map[AnalyzerModule]int `json:"sub_scores"`
	Bonuses      []GradeAdjustment      `json:"bonuses,omitempty"`
	Penalties    []GradeAdjustment      `json:"penalties,omitempty"`
	QuickWins    []FindingRef           `json:"quick_wins,omitempty"`
	TopIssue     *FindingRef            `json:"top_issue,omitempty"`
}
