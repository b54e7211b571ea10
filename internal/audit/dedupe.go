package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"

	"golang.org/x/sync/singleflight"

	"github.com/sells-group/audit-cli/internal/model"
)

// Deduper collapses concurrent identical requests onto one in-flight
// execution. Entries never outlive their call: singleflight drops them
// when the shared call returns, panics included, so a crashed run cannot
// wedge later requests for the same key.
type Deduper struct {
	group singleflight.Group
}

// NewDeduper returns an empty deduper. One instance is shared by every
// entry point that can race: the serve surface, batch runs, and repeated
// benchmark seeding.
func NewDeduper() *Deduper { return &Deduper{} }

// Audit runs fn once per (target, options) key across concurrent callers
// and hands every caller the same result. shared reports whether this
// caller piggybacked on another caller's run.
func (d *Deduper) Audit(targetURL string, opts model.RunOptions, fn func() (*model.AnalysisResult, error)) (*model.AnalysisResult, bool, error) {
	v, err, shared := d.group.Do(RunKey(targetURL, opts), func() (any, error) {
		return fn()
	})
	res, _ := v.(*model.AnalysisResult)
	return res, shared, err
}

// Seed runs fn once per benchmark record across concurrent seeding
// requests for the same site.
func (d *Deduper) Seed(benchmarkID string, fn func() (*model.BenchmarkRecord, error)) (*model.BenchmarkRecord, bool, error) {
	v, err, shared := d.group.Do(benchmarkID+":match", func() (any, error) {
		return fn()
	})
	rec, _ := v.(*model.BenchmarkRecord)
	return rec, shared, err
}

// RunKey identifies a run by its target plus the options that change the
// outcome. Disabled-module order does not matter; everything else in the
// options does.
func RunKey(targetURL string, opts model.RunOptions) string {
	o := opts
	o.DisabledModules = slices.Clone(opts.DisabledModules)
	slices.Sort(o.DisabledModules)

	data, _ := json.Marshal(o)
	sum := sha256.Sum256(data)
	return targetURL + "@" + hex.EncodeToString(sum[:6])
}
