// Package benchmark picks the comparison site for an audit target and
// seeds the records it picks from. A match is advisory by contract: when
// nothing fits, the audit proceeds without comparative context.
package benchmark

import (
	"context"

	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/internal/prompts"
	"github.com/sells-group/audit-cli/internal/resilience"
	"github.com/sells-group/audit-cli/pkg/anthropic"
)

// Store is the slice of persistence this package needs. The full store
// satisfies it. GetBenchmark returns an error when no record exists.
type Store interface {
	QueryBenchmarks(ctx context.Context, industry string) ([]model.BenchmarkRecord, error)
	GetBenchmark(ctx context.Context, id string) (*model.BenchmarkRecord, error)
	SaveBenchmark(ctx context.Context, rec *model.BenchmarkRecord) error
}

// Recorder receives debug artifacts from LLM exchanges.
type Recorder interface {
	Record(stage, kind string, data []byte)
}

// deps bundles what both the matcher and the seeding pipeline need for
// model calls.
type deps struct {
	ai      anthropic.Client
	catalog *prompts.Catalog
	retry   resilience.RetryConfig
}

// llmCall describes one JSON-mode exchange with the model.
type llmCall struct {
	stage    string
	promptID string
	vars     map[string]string
	images   []anthropic.ImageBlock
}

// runJSON executes the call through the shared prompt runner with this
// package's error prefix.
func (d deps) runJSON(ctx context.Context, rec Recorder, call llmCall, out any) (model.TokenUsage, error) {
	r := prompts.Runner{AI: d.ai, Catalog: d.catalog, Retry: d.retry, Component: "benchmark"}
	usage, _, err := r.RunJSON(ctx, rec, prompts.Call{
		Stage:    call.stage,
		PromptID: call.promptID,
		Vars:     call.vars,
		Images:   call.images,
	}, out)
	return usage, err
}

// scoreOK reports whether the model supplied the score and kept it in
// range.
func scoreOK(s *int) bool {
	return s != nil && *s >= 0 && *s <= 100
}
