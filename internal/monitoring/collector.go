package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/internal/resilience"
	"github.com/sells-group/audit-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Audit run metrics (within lookback window).
	RunsTotal     int     `json:"runs_total"`
	RunsComplete  int     `json:"runs_complete"`
	RunsFailed    int     `json:"runs_failed"`
	RunsCancelled int     `json:"runs_cancelled"`
	RunsQueued    int     `json:"runs_queued"`
	RunsActive    int     `json:"runs_active"`
	FailRate      float64 `json:"fail_rate"`
	CostUSD       float64 `json:"cost_usd"`
	AvgScore      float64 `json:"avg_score"`
	AvgTokens     int     `json:"avg_tokens"`

	// Grade letter distribution across graded runs in the window.
	GradeCounts map[string]int `json:"grade_counts,omitempty"`

	// Dead letter queue state.
	DLQDepth     int `json:"dlq_depth"`
	DLQDue       int `json:"dlq_due"`
	DLQExhausted int `json:"dlq_exhausted"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := snap.CollectedAt.Add(-time.Duration(lookbackHours) * time.Hour)

	// Fetch audit runs within the window.
	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		Since: cutoff,
		Limit: 10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var totalCost float64
	var totalScore float64
	var totalTokens int
	var gradedRuns int

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusCancelled:
			snap.RunsCancelled++
		case model.RunStatusQueued:
			snap.RunsQueued++
		default:
			snap.RunsActive++
		}
		if r.Result != nil {
			totalCost += r.Result.TotalCost
			totalTokens += r.Result.TotalTokens
			if r.Result.Grade != nil {
				totalScore += float64(r.Result.Grade.OverallScore)
				gradedRuns++
				if snap.GradeCounts == nil {
					snap.GradeCounts = make(map[string]int)
				}
				snap.GradeCounts[r.Result.Grade.Letter]++
			}
		}
	}

	snap.CostUSD = totalCost
	if snap.RunsTotal > 0 {
		// Cancelled runs are neither successes nor failures, so they stay
		// out of the failure rate denominator.
		finished := snap.RunsComplete + snap.RunsFailed
		if finished > 0 {
			snap.FailRate = float64(snap.RunsFailed) / float64(finished)
		}
		snap.AvgTokens = totalTokens / snap.RunsTotal
	}
	if gradedRuns > 0 {
		snap.AvgScore = totalScore / float64(gradedRuns)
	}

	// Dead letter queue state.
	entries, err := c.store.ListDLQ(ctx, resilience.DLQFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list dlq")
	}
	snap.DLQDepth = len(entries)
	for _, e := range entries {
		switch {
		case !e.CanRetry():
			snap.DLQExhausted++
		case e.Due(snap.CollectedAt):
			snap.DLQDue++
		}
	}

	return snap, nil
}
