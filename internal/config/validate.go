package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the fields required for a given mode ("audit", "serve",
// "benchmark"). All problems are reported at once.
func (c *Config) Validate(mode string) error {
	var problems []string

	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	switch mode {
	case "audit", "benchmark":
		check(c.Anthropic.Key != "", "anthropic.key is required")
		check(c.Store.DatabaseURL != "", "store.database_url is required")
	case "serve":
		check(c.Server.Port > 0, "server.port must be > 0")
		check(c.Anthropic.Key != "", "anthropic.key is required")
		check(c.Store.DatabaseURL != "", "store.database_url is required")
		check(c.Batch.MaxConcurrentRuns >= 1 && c.Batch.MaxConcurrentRuns <= 20,
			"batch.max_concurrent_runs must be between 1 and 20")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	check(c.Capture.Concurrency >= 1 && c.Capture.Concurrency <= 4,
		"capture.concurrency must be between 1 and 4")
	check(c.Analysis.MaxVisualPages >= 1 && c.Analysis.MaxVisualPages <= 5,
		"analysis.max_visual_pages must be between 1 and 5")
	check(c.Analysis.MaxPagesPerModule >= 1,
		"analysis.max_pages_per_module must be >= 1")
	check(c.Synthesis.SimilarityThreshold >= 0 && c.Synthesis.SimilarityThreshold <= 1,
		"synthesis.similarity_threshold must be in [0,1]")
	check(c.Benchmark.IndustryWeight >= 0 && c.Benchmark.SizeWeight >= 0 && c.Benchmark.LocationWeight >= 0,
		"benchmark weights must be >= 0")

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}
