package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/audit-cli/internal/model"
)

// Kind classifies what went wrong with a run. Fatal kinds abort the run;
// the rest are attached to stage rows and progress events while the run
// continues degraded.
type Kind string

const (
	KindInputError           Kind = "input-error"
	KindDiscoveryEmpty       Kind = "discovery-empty"
	KindCaptureFailure       Kind = "capture-failure"
	KindAllCapturesFailed    Kind = "all-captures-failed"
	KindAnalyzerError        Kind = "analyzer-error"
	KindAllAnalyzersFailed   Kind = "all-analyzers-failed"
	KindBenchmarkUnavailable Kind = "benchmark-unavailable"
	KindSynthesisTimeout     Kind = "synthesis-timeout"
	KindCancelled            Kind = "cancelled"
	KindInternal             Kind = "internal-invariant-violation"
)

// RunError is a classified run failure. Stage names the stage that raised
// it; it is empty for request defects caught before the run started.
type RunError struct {
	Kind  Kind
	Stage model.Stage
	Err   error
}

func (e *RunError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("audit: %s", e.Kind)
	}
	return fmt.Sprintf("audit: %s: %v", e.Kind, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// inputError flags a request defect found before any stage ran. No run
// row exists for these, so nothing is persisted or retried.
func inputError(format string, args ...any) *RunError {
	return &RunError{Kind: KindInputError, Err: eris.Errorf(format, args...)}
}

// stageError classifies a failure inside a stage. ctx is the run context:
// when it is already dead the run is being torn down and whatever the
// stage tripped over reports as cancellation.
func stageError(ctx context.Context, stage model.Stage, kind Kind, err error) *RunError {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		kind = KindCancelled
	}
	return &RunError{Kind: kind, Stage: stage, Err: err}
}

// KindOf extracts the classification from an error chain. Unclassified
// errors report as internal faults.
func KindOf(err error) Kind {
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindInternal
}
