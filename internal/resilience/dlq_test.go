package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/sells-group/audit-cli/internal/model"
)

func TestDLQEntry_CanRetry(t *testing.T) {
	tests := []struct {
		name       string
		retryCount int
		maxRetries int
		want       bool
	}{
		{"below max", 0, 3, true},
		{"at max", 3, 3, false},
		{"above max", 5, 3, false},
		{"one below max", 2, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := DLQEntry{
				RetryCount: tt.retryCount,
				MaxRetries: tt.maxRetries,
			}
			if got := e.CanRetry(); got != tt.want {
				t.Errorf("CanRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDLQEntry_Due(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		entry DLQEntry
		want  bool
	}{
		{"due and retryable", DLQEntry{RetryCount: 0, MaxRetries: 3, NextRetryAt: now.Add(-time.Minute)}, true},
		{"due exactly now", DLQEntry{RetryCount: 0, MaxRetries: 3, NextRetryAt: now}, true},
		{"not yet due", DLQEntry{RetryCount: 0, MaxRetries: 3, NextRetryAt: now.Add(time.Hour)}, false},
		{"exhausted", DLQEntry{RetryCount: 3, MaxRetries: 3, NextRetryAt: now.Add(-time.Hour)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.Due(now); got != tt.want {
				t.Errorf("Due() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetrySchedule(t *testing.T) {
	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 15 * time.Minute},
		{1, 30 * time.Minute},
		{2, time.Hour},
		{3, 2 * time.Hour},
		{4, 4 * time.Hour},
		{10, 4 * time.Hour}, // capped
	}
	for _, tt := range tests {
		if got := RetrySchedule(tt.retryCount); got != tt.want {
			t.Errorf("RetrySchedule(%d) = %v, want %v", tt.retryCount, got, tt.want)
		}
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"transient error", NewTransientError(errors.New("503"), 503), "transient"},
		{"permanent error", errors.New("invalid input"), "permanent"},
		{"connection reset", errors.New("connection reset by peer"), "transient"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDLQEntry_TargetURL(t *testing.T) {
	e := DLQEntry{
		TargetURL: "https://example.com",
		Company:   model.Company{Name: "Test Corp", Industry: "testing"},
	}
	if e.TargetURL != "https://example.com" {
		t.Errorf("expected target URL, got %q", e.TargetURL)
	}
}
