// Package store persists audit runs, stage rows, leads, benchmark
// records, report records, the failed-run queue, and report blobs.
// SQLite is the zero-config default; Postgres serves shared deployments.
package store

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/internal/resilience"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status    model.RunStatus `json:"status,omitempty"`
	TargetURL string          `json:"target_url,omitempty"`
	Since     time.Time       `json:"since,omitzero"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// Store defines the persistence surface for the audit pipeline and the
// CLI/serve layers above it. Consumers depend on their own slice of it:
// the orchestrator and the benchmark matcher each declare the methods
// they need and both backends satisfy the whole.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, targetURL string, company model.Company) (*model.AuditRun, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, result *model.AnalysisResult) error
	GetRun(ctx context.Context, runID string) (*model.AuditRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.AuditRun, error)

	// Stages
	CreateStage(ctx context.Context, runID, name string) (string, error)
	CompleteStage(ctx context.Context, stageID string, res *model.StageResult) error

	// Leads
	SaveLead(ctx context.Context, result *model.AnalysisResult) (string, error)

	// Benchmarks
	QueryBenchmarks(ctx context.Context, industry string) ([]model.BenchmarkRecord, error)
	GetBenchmark(ctx context.Context, id string) (*model.BenchmarkRecord, error)
	SaveBenchmark(ctx context.Context, rec *model.BenchmarkRecord) error
	ListBenchmarks(ctx context.Context, industry string) ([]model.BenchmarkRecord, error)

	// Reports
	SaveReport(ctx context.Context, rec *model.ReportRecord) error
	GetReport(ctx context.Context, runID string) (*model.ReportRecord, error)

	// Dead letter queue
	PushDLQ(ctx context.Context, entry *resilience.DLQEntry) error
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error

	// Blobs
	PutBlob(ctx context.Context, blobPath string, data []byte) (string, error)
	GetBlob(ctx context.Context, blobPath string) ([]byte, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// leadFrom derives the sales row from a completed result.
func leadFrom(result *model.AnalysisResult) *model.Lead {
	lead := &model.Lead{
		ID:        uuid.New().String(),
		RunID:     result.RunID,
		TargetURL: result.TargetURL,
		Company:   result.Company,
		CreatedAt: time.Now().UTC(),
	}
	if result.Grade != nil {
		lead.Grade = result.Grade.Letter
		lead.Score = result.Grade.OverallScore
		if result.Grade.TopIssue != nil {
			lead.TopIssue = result.Grade.TopIssue.Title
		}
	}
	return lead
}

// cleanBlobPath normalizes a blob key. Keys are relative paths; anything
// trying to climb out of the namespace is rejected.
func cleanBlobPath(p string) (string, error) {
	p = strings.TrimPrefix(strings.TrimSpace(p), "/")
	if p == "" {
		return "", eris.New("store: blob path is empty")
	}
	cleaned := path.Clean(p)
	if cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return "", eris.Errorf("store: blob path %q escapes the namespace", p)
	}
	return cleaned, nil
}

// blobURL is the serving path for a stored blob.
func blobURL(cleaned string) string {
	return "/api/blobs/" + cleaned
}

// IsNotFound reports whether an error from a getter means the row does
// not exist, as opposed to a backend failure.
func IsNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found")
}
