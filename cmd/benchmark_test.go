package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/audit-cli/internal/model"
)

func TestImportBenchmarks_SavesRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	recs := []model.BenchmarkRecord{
		{
			ID:          "bm-acme",
			CompanyName: "Acme Plumbing",
			URL:         "https://acme.com",
			Industry:    "Plumbing",
			Tier:        model.BenchmarkTierRegional,
			Scores:      map[string]int{"design": 84},
		},
		{
			CompanyName: "Beta HVAC",
			URL:         "https://www.beta-hvac.com",
			Industry:    "HVAC",
		},
	}

	n, err := importBenchmarks(ctx, env.Store, recs)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := env.Store.GetBenchmark(ctx, "bm-acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme Plumbing", got.CompanyName)
	assert.Equal(t, model.BenchmarkTierRegional, got.Tier)

	// Missing ID derives from the URL host; missing tier defaults to manual.
	derived, err := env.Store.GetBenchmark(ctx, "beta-hvac-com")
	require.NoError(t, err)
	assert.Equal(t, "Beta HVAC", derived.CompanyName)
	assert.Equal(t, model.BenchmarkTierManual, derived.Tier)
}

func TestImportBenchmarks_NoIDNoURL(t *testing.T) {
	env := newTestEnv(t)

	_, err := importBenchmarks(context.Background(), env.Store, []model.BenchmarkRecord{
		{CompanyName: "Mystery Co"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no id and no usable url")
}

func TestImportBenchmarks_Upserts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	recs := []model.BenchmarkRecord{{ID: "bm-1", CompanyName: "First", URL: "https://first.com", Industry: "Plumbing"}}
	_, err := importBenchmarks(ctx, env.Store, recs)
	require.NoError(t, err)

	recs[0].CompanyName = "First Renamed"
	_, err = importBenchmarks(ctx, env.Store, recs)
	require.NoError(t, err)

	got, err := env.Store.GetBenchmark(ctx, "bm-1")
	require.NoError(t, err)
	assert.Equal(t, "First Renamed", got.CompanyName)
}
