package model

import (
	"time"
)

// RunStatus represents the current state of an audit run.
type RunStatus string

const (
	RunStatusQueued       RunStatus = "queued"
	RunStatusDiscovering  RunStatus = "discovering"
	RunStatusSelecting    RunStatus = "selecting"
	RunStatusCapturing    RunStatus = "capturing"
	RunStatusAnalyzing    RunStatus = "analyzing"
	RunStatusBenchmarking RunStatus = "benchmarking"
	RunStatusSynthesizing RunStatus = "synthesizing"
	RunStatusGrading      RunStatus = "grading"
	RunStatusComplete     RunStatus = "complete"
	RunStatusFailed       RunStatus = "failed"
	RunStatusCancelled    RunStatus = "cancelled"
)

// Terminal reports whether the run has reached a final state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusComplete || s == RunStatusFailed || s == RunStatusCancelled
}

// Company identifies the audit target's business context.
type Company struct {
	Name     string `json:"name"`
	Industry string `json:"industry"`
	Location string `json:"location,omitempty"`
}

// RunOptions configures a single audit run. Stages read options from here;
// no stage consults the environment directly.
type RunOptions struct {
	MaxPagesPerModule      int           `json:"max_pages_per_module"`
	PageTimeout            time.Duration `json:"page_timeout"`
	CaptureConcurrency     int           `json:"capture_concurrency"`
	EnableCrossPageContext bool          `json:"enable_cross_page_context"`
	EnableBenchmarkContext bool          `json:"enable_benchmark_context"`
	EnableDebug            bool          `json:"enable_debug"`
	DisabledModules        []string      `json:"disabled_modules,omitempty"`
	ArtifactDir            string        `json:"artifact_dir,omitempty"`
}

// ModuleDisabled reports whether a module was switched off for this run.
func (o RunOptions) ModuleDisabled(m AnalyzerModule) bool {
	for _, d := range o.DisabledModules {
		if d == string(m) {
			return true
		}
	}
	return false
}

// AnalysisContext is the run-scoped artifact threaded through the pipeline.
// The orchestrator owns it: each stage reads earlier slices and writes only
// its own. Slices are never mutated after their owning stage completes.
type AnalysisContext struct {
	RunID     string       `json:"run_id"`
	TargetURL string       `json:"target_url"`
	Company   Company      `json:"company"`
	StartedAt time.Time    `json:"started_at"`
	Deadline  time.Time    `json:"deadline,omitzero"`
	Options   RunOptions   `json:"options"`
	Progress  ProgressFunc `json:"-"`

	Discovery *DiscoveryResult                 `json:"discovery,omitempty"`
	Selection *PageSelection                   `json:"selection,omitempty"`
	Captures  []Capture                        `json:"captures,omitempty"`
	Modules   map[AnalyzerModule]*ModuleResult `json:"modules,omitempty"`
	Benchmark *BenchmarkMatch                  `json:"benchmark,omitempty"`
	Synthesis *SynthesisResult                 `json:"synthesis,omitempty"`
	Grade     *GradeResult                     `json:"grade,omitempty"`
}

// Emit invokes the progress callback when one is set. Safe to call from any
// stage goroutine; the callback itself must be thread-safe.
func (a *AnalysisContext) Emit(stage Stage, step, message string, extra map[string]any) {
	if a.Progress == nil {
		return
	}
	a.Progress(ProgressEvent{
		Stage:     stage,
		Step:      step,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Extra:     extra,
	})
}

// SucceededCaptures returns the captures without an error, keyed by URL.
func (a *AnalysisContext) SucceededCaptures() map[string]*Capture {
	out := make(map[string]*Capture, len(a.Captures))
	for i := range a.Captures {
		if a.Captures[i].OK() {
			out[a.Captures[i].URL] = &a.Captures[i]
		}
	}
	return out
}

// AnalysisResult is the final envelope handed to callers and the report
// generator. A failed run still carries whatever the pipeline gathered
// before the failure.
type AnalysisResult struct {
	RunID       string                           `json:"run_id"`
	TargetURL   string                           `json:"target_url"`
	Company     Company                          `json:"company"`
	Status      RunStatus                        `json:"status"`
	Reason      string                           `json:"reason,omitempty"`
	Discovery   *DiscoveryResult                 `json:"discovery,omitempty"`
	Selection   *PageSelection                   `json:"selection,omitempty"`
	Captures    []Capture                        `json:"captures,omitempty"`
	Modules     map[AnalyzerModule]*ModuleResult `json:"modules,omitempty"`
	Benchmark   *BenchmarkMatch                  `json:"benchmark,omitempty"`
	Synthesis   *SynthesisResult                 `json:"synthesis,omitempty"`
	Grade       *GradeResult                     `json:"grade,omitempty"`
	Stages      []StageResult                    `json:"stages"`
	TotalTokens int                              `json:"total_tokens"`
	TotalCost   float64                          `json:"total_cost"`
	StartedAt   time.Time                        `json:"started_at"`
	CompletedAt time.Time                        `json:"completed_at,omitzero"`
	DurationMs  int64                            `json:"duration_ms"`
}

// AuditRun is the persisted record of a run.
type AuditRun struct {
	ID        string          `json:"id"`
	TargetURL string          `json:"target_url"`
	Company   Company         `json:"company"`
	Status    RunStatus       `json:"status"`
	Result    *AnalysisResult `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// StageStatus represents the current state of a pipeline stage.
type StageStatus string

const (
	StageStatusRunning  StageStatus = "running"
	StageStatusComplete StageStatus = "complete"
	StageStatusFailed   StageStatus = "failed"
	StageStatusSkipped  StageStatus = "skipped"
)

// StageResult holds the outcome of a pipeline stage.
type StageResult struct {
	Name       string         `json:"name"`
	Status     StageStatus    `json:"status"`
	Duration   int64          `json:"duration_ms"`
	TokenUsage TokenUsage     `json:"token_usage"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens         int     `json:"input_tokens"`
	OutputTokens        int     `json:"output_tokens"`
	CacheCreationTokens int     `json:"cache_creation_tokens"`
	CacheReadTokens     int     `json:"cache_read_tokens"`
	Cost                float64 `json:"cost"`
}

// Add merges token usage from another instance.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.CacheCreationTokens += other.CacheCreationTokens
	t.CacheReadTokens += other.CacheReadTokens
	t.Cost += other.Cost
}

// Total returns input + output tokens.
func (t TokenUsage) Total() int {
	return t.InputTokens + t.OutputTokens
}
