package audit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/audit-cli/internal/model"
)

func TestRunKey_StableAcrossModuleOrder(t *testing.T) {
	t.Parallel()

	a := RunKey("https://acme.example/", model.RunOptions{DisabledModules: []string{"visual", "performance"}})
	b := RunKey("https://acme.example/", model.RunOptions{DisabledModules: []string{"performance", "visual"}})
	assert.Equal(t, a, b)
}

func TestRunKey_ChangesWithTargetAndOptions(t *testing.T) {
	t.Parallel()

	base := RunKey("https://acme.example/", model.RunOptions{})

	assert.NotEqual(t, base, RunKey("https://other.example/", model.RunOptions{}))
	assert.NotEqual(t, base, RunKey("https://acme.example/", model.RunOptions{MaxPagesPerModule: 3}))
	assert.NotEqual(t, base, RunKey("https://acme.example/", model.RunOptions{EnableBenchmarkContext: true}))
	assert.NotEqual(t, base, RunKey("https://acme.example/", model.RunOptions{DisabledModules: []string{"social"}}))
}

func TestRunKey_DoesNotMutateOptions(t *testing.T) {
	t.Parallel()

	opts := model.RunOptions{DisabledModules: []string{"visual", "accessibility"}}
	RunKey("https://acme.example/", opts)
	assert.Equal(t, []string{"visual", "accessibility"}, opts.DisabledModules)
}

func TestDeduper_CollapsesConcurrentIdenticalRuns(t *testing.T) {
	t.Parallel()

	d := NewDeduper()
	opts := model.RunOptions{EnableBenchmarkContext: true}

	var executions atomic.Int32
	run := func() (*model.AnalysisResult, error) {
		executions.Add(1)
		time.Sleep(30 * time.Millisecond)
		return &model.AnalysisResult{RunID: "run-1"}, nil
	}

	const callers = 5
	results := make([]*model.AnalysisResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = d.Audit("https://acme.example/", opts, run)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), executions.Load())
	for i := range results {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
}

func TestDeduper_DistinctKeysRunSeparately(t *testing.T) {
	t.Parallel()

	d := NewDeduper()
	var executions atomic.Int32
	run := func() (*model.AnalysisResult, error) {
		executions.Add(1)
		return &model.AnalysisResult{}, nil
	}

	_, shared1, err := d.Audit("https://acme.example/", model.RunOptions{}, run)
	require.NoError(t, err)
	_, shared2, err := d.Audit("https://acme.example/", model.RunOptions{MaxPagesPerModule: 2}, run)
	require.NoError(t, err)

	assert.Equal(t, int32(2), executions.Load())
	assert.False(t, shared1)
	assert.False(t, shared2)
}

func TestDeduper_EntryClearedAfterCompletion(t *testing.T) {
	t.Parallel()

	d := NewDeduper()
	var executions atomic.Int32
	run := func() (*model.AnalysisResult, error) {
		executions.Add(1)
		return &model.AnalysisResult{}, nil
	}

	_, _, err := d.Audit("https://acme.example/", model.RunOptions{}, run)
	require.NoError(t, err)
	_, _, err = d.Audit("https://acme.example/", model.RunOptions{}, run)
	require.NoError(t, err)

	assert.Equal(t, int32(2), executions.Load(), "sequential runs must not share a stale entry")
}

func TestDeduper_SeedCollapsesByRecordID(t *testing.T) {
	t.Parallel()

	d := NewDeduper()
	var executions atomic.Int32
	seed := func() (*model.BenchmarkRecord, error) {
		executions.Add(1)
		time.Sleep(30 * time.Millisecond)
		return &model.BenchmarkRecord{ID: "bm-1"}, nil
	}

	const callers = 3
	recs := make([]*model.BenchmarkRecord, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			recs[i], _, errs[i] = d.Seed("bm-1", seed)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), executions.Load())
	for i := range recs {
		require.NoError(t, errs[i])
		require.Equal(t, "bm-1", recs[i].ID)
	}
}
