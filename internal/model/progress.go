package model

import "time"

// Stage names the pipeline stages as they appear in progress events.
type Stage string

const (
	StageDiscovery Stage = "discovery"
	StageSelection Stage = "selection"
	StageCapture   Stage = "capture"
	StageAnalysis  Stage = "analysis"
	StageBenchmark Stage = "benchmark"
	StageSynthesis Stage = "synthesis"
	StageGrading   Stage = "grading"
	StageDone      Stage = "done"
	StageError     Stage = "error"
)

// ProgressEvent is emitted to the run's progress callback as stages start,
// advance, and complete.
type ProgressEvent struct {
	Stage     Stage          `json:"stage"`
	Step      string         `json:"step"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// ProgressFunc receives progress events. It may be invoked from any stage
// goroutine and must be safe for concurrent use.
type ProgressFunc func(ProgressEvent)
