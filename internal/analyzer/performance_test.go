package analyzer

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/pkg/pagespeed"
)

func slowMobileResult() *pagespeed.Result {
	return &pagespeed.Result{
		Strategy:         pagespeed.StrategyMobile,
		PerformanceScore: 45,
		Field: &pagespeed.FieldData{
			LCPMs:           4800,
			CLS:             0.3,
			INPMs:           600,
			OverallCategory: "SLOW",
		},
		Lab: pagespeed.LabData{
			FCPMs:        3500,
			LCPMs:        5100,
			TBTMs:        900,
			SpeedIndexMs: 6000,
			CLS:          0.28,
		},
		Opportunities: []pagespeed.Opportunity{
			{ID: "render-blocking-resources", Title: "Eliminate render-blocking resources", SavingsMs: 2500, DisplayValue: "Potential savings of 2,500 ms"},
		},
	}
}

func fastDesktopResult() *pagespeed.Result {
	return &pagespeed.Result{
		Strategy:         pagespeed.StrategyDesktop,
		PerformanceScore: 80,
		Lab: pagespeed.LabData{
			FCPMs:        1500,
			LCPMs:        2000,
			TBTMs:        100,
			SpeedIndexMs: 3000,
			CLS:          0.05,
		},
	}
}

func TestPerformanceAnalyze_BothStrategies(t *testing.T) {
	ctx := context.Background()
	psi := &mockPagespeedClient{}
	psi.On("Analyze", ctx, "https://acme.example/", pagespeed.StrategyMobile).
		Return(slowMobileResult(), nil).Once()
	psi.On("Analyze", ctx, "https://acme.example/", pagespeed.StrategyDesktop).
		Return(fastDesktopResult(), nil).Once()

	in := &Input{TargetURL: "https://acme.example/"}
	res := NewPerformance(psi).Analyze(ctx, in)

	require.False(t, res.Failed())
	// round((45 + 80) / 2) = 63.
	assert.Equal(t, 63, res.Score)
	assert.Equal(t, map[string]int{"mobile": 45, "desktop": 80}, res.SubScores)

	// Every mobile vital is past its poor threshold, plus one opportunity.
	require.Len(t, res.Findings, 7)
	refs := make(map[string]model.Finding, len(res.Findings))
	for _, f := range res.Findings {
		require.Len(t, f.EvidenceRefs, 1)
		refs[f.EvidenceRefs[0]] = f
		assert.Equal(t, model.FindingViewportMobile, f.Viewport)
		assert.Equal(t, model.SeverityHigh, f.Severity)
		assert.Equal(t, "pagespeed", f.SourceType)
		assert.Equal(t, []string{"https://acme.example/"}, f.AffectedPages)
	}
	for _, ref := range []string{
		"psi:mobile:lcp", "psi:mobile:cls", "psi:mobile:inp",
		"psi:mobile:tbt", "psi:mobile:fcp", "psi:mobile:speed-index",
		"psi:mobile:render-blocking-resources",
	} {
		assert.Contains(t, refs, ref)
	}

	// Field percentiles drive the LCP finding, not the lab run.
	assert.Contains(t, refs["psi:mobile:lcp"].Description, "Field data")
	assert.Contains(t, refs["psi:mobile:lcp"].Description, "4.8s")
	assert.Contains(t, refs["psi:mobile:render-blocking-resources"].Description, "Potential savings of 2,500 ms")

	psi.AssertExpectations(t)
}

func TestPerformanceAnalyze_OneStrategyDegrades(t *testing.T) {
	ctx := context.Background()
	psi := &mockPagespeedClient{}
	psi.On("Analyze", ctx, "https://acme.example/", pagespeed.StrategyMobile).
		Return(nil, eris.New("quota exceeded")).Once()
	psi.On("Analyze", ctx, "https://acme.example/", pagespeed.StrategyDesktop).
		Return(fastDesktopResult(), nil).Once()

	in := &Input{TargetURL: "https://acme.example/"}
	res := NewPerformance(psi).Analyze(ctx, in)

	require.False(t, res.Failed())
	assert.Equal(t, 80, res.Score)
	assert.Equal(t, map[string]int{"desktop": 80}, res.SubScores)
	assert.Empty(t, res.Findings)
	psi.AssertExpectations(t)
}

func TestPerformanceAnalyze_BothFail(t *testing.T) {
	ctx := context.Background()
	psi := &mockPagespeedClient{}
	psi.On("Analyze", ctx, "https://acme.example/", pagespeed.StrategyMobile).
		Return(nil, eris.New("quota exceeded")).Once()
	psi.On("Analyze", ctx, "https://acme.example/", pagespeed.StrategyDesktop).
		Return(nil, eris.New("dns failure")).Once()

	in := &Input{TargetURL: "https://acme.example/"}
	res := NewPerformance(psi).Analyze(ctx, in)

	assert.True(t, res.Failed())
	assert.Equal(t, model.FallbackScorePerformance, res.Score)
	assert.Contains(t, res.Error, "both strategies")
	assert.Contains(t, res.Error, "quota exceeded")
	assert.Contains(t, res.Error, "dns failure")
	psi.AssertExpectations(t)
}

func TestSeverityOver(t *testing.T) {
	cases := []struct {
		name  string
		value float64
		sev   model.Severity
		found bool
	}{
		{"at good", 2500, "", false},
		{"just over good", 2501, model.SeverityMedium, true},
		{"at poor", 4000, model.SeverityMedium, true},
		{"over poor", 4001, model.SeverityHigh, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sev, found := severityOver(tc.value, 2500, 4000)
			assert.Equal(t, tc.found, found)
			assert.Equal(t, tc.sev, sev)
		})
	}
}

func TestOpportunityFindings_FilterSortCap(t *testing.T) {
	res := &pagespeed.Result{
		Strategy: pagespeed.StrategyMobile,
		Opportunities: []pagespeed.Opportunity{
			{ID: "tiny", Title: "Tiny", SavingsMs: 400},
			{ID: "medium-a", Title: "Medium A", SavingsMs: 600},
			{ID: "big-a", Title: "Big A", SavingsMs: 2200},
			{ID: "medium-b", Title: "Medium B", SavingsMs: 900},
			{ID: "big-b", Title: "Big B", SavingsMs: 3000},
		},
	}

	out := opportunityFindings(res, "https://acme.example/")

	require.Len(t, out, 3)
	assert.Equal(t, "Big B", out[0].Title)
	assert.Equal(t, "Big A", out[1].Title)
	assert.Equal(t, "Medium B", out[2].Title)
	assert.Equal(t, model.SeverityHigh, out[0].Severity)
	assert.Equal(t, model.SeverityHigh, out[1].Severity)
	assert.Equal(t, model.SeverityMedium, out[2].Severity)

	// No display value: the description falls back to the savings figure.
	assert.Contains(t, out[2].Description, "Estimated savings of 0.9s")
	assert.Equal(t, []string{"psi:mobile:medium-b"}, out[2].EvidenceRefs)
}

func TestCWVFindings_LabFallbackWhenNoFieldData(t *testing.T) {
	res := &pagespeed.Result{
		Strategy: pagespeed.StrategyDesktop,
		Lab: pagespeed.LabData{
			LCPMs:        4500,
			CLS:          0.05,
			TBTMs:        100,
			FCPMs:        1000,
			SpeedIndexMs: 2000,
		},
	}

	out := cwvFindings(res, "https://acme.example/")

	require.Len(t, out, 1)
	assert.Equal(t, "Slow Largest Contentful Paint", out[0].Title)
	assert.Contains(t, out[0].Description, "Lab measurement")
	assert.Equal(t, model.FindingViewportDesktop, out[0].Viewport)
	assert.Equal(t, []string{"psi:desktop:lcp"}, out[0].EvidenceRefs)
}
