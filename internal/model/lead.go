package model

import "time"

// Lead is the sales-facing row derived from a completed audit: enough to
// rank outreach without loading the full result.
type Lead struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	TargetURL string    `json:"target_url"`
	Company   Company   `json:"company"`
	Grade     string    `json:"grade"`
	Score     int       `json:"score"`
	TopIssue  string    `json:"top_issue,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
