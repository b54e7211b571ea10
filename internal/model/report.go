package model

import "time"

// ReportRecord points at an exported audit report. The report body itself
// lives in the blob store; this row is what surfaces list and link.
type ReportRecord struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Format    string    `json:"format"`
	URL       string    `json:"url"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}
