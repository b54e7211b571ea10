package resilience

import (
	"time"

	"github.com/sells-group/audit-cli/internal/model"
)

// DLQEntry represents a failed audit run that can be retried later.
type DLQEntry struct {
	ID           string        `json:"id"`
	RunID        string        `json:"run_id"`
	TargetURL    string        `json:"target_url"`
	Company      model.Company `json:"company"`
	Error        string        `json:"error"`
	ErrorType    string        `json:"error_type"` // "transient" or "permanent"
	FailedStage  string        `json:"failed_stage,omitempty"`
	RetryCount   int           `json:"retry_count"`
	MaxRetries   int           `json:"max_retries"`
	NextRetryAt  time.Time     `json:"next_retry_at"`
	CreatedAt    time.Time     `json:"created_at"`
	LastFailedAt time.Time     `json:"last_failed_at"`
}

// DLQFilter specifies criteria for querying the dead letter queue.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"` // "transient", "permanent", or "" for all
	DueOnly   bool   `json:"due_only,omitempty"`   // only entries past next_retry_at with retries left
	Limit     int    `json:"limit,omitempty"`
}

// CanRetry returns true if this entry hasn't exceeded its max retry count.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// Due returns true if the entry is eligible to retry now.
func (e *DLQEntry) Due(now time.Time) bool {
	return e.CanRetry() && !now.Before(e.NextRetryAt)
}

// RetrySchedule computes the wait before the next retry attempt: 15 minutes
// doubled per prior attempt, capped at 4 hours.
func RetrySchedule(retryCount int) time.Duration {
	delay := 15 * time.Minute
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= 4*time.Hour {
			return 4 * time.Hour
		}
	}
	return delay
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
