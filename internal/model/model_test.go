package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFallbackScore(t *testing.T) {
	assert.Equal(t, 30, FallbackScore(ModuleVisual))
	assert.Equal(t, 30, FallbackScore(ModulePerformance))
	assert.Equal(t, 50, FallbackScore(ModuleSEO))
	assert.Equal(t, 50, FallbackScore(ModuleContent))
	assert.Equal(t, 50, FallbackScore(ModuleSocial))
	assert.Equal(t, 50, FallbackScore(ModuleAccessibility))
}

func TestErrorResult(t *testing.T) {
	r := ErrorResult(ModuleVisual, assert.AnError)

	assert.Equal(t, ModuleVisual, r.Module)
	assert.Equal(t, 30, r.Score)
	assert.True(t, r.Failed())
	assert.Len(t, r.Findings, 1)
	assert.Equal(t, "analyzer-error", r.Findings[0].SourceType)
}

func TestSeverityRank_Ordering(t *testing.T) {
	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Equal(t, 0, Severity("bogus").Rank())
}

func TestPageSelection_All(t *testing.T) {
	s := &PageSelection{
		SEOPages:     []string{"https://a.com/", "https://a.com/about"},
		ContentPages: []string{"https://a.com/", "https://a.com/blog"},
		VisualPages:  []string{"https://a.com/"},
	}

	all := s.All()
	assert.Equal(t, []string{"https://a.com/", "https://a.com/about", "https://a.com/blog"}, all)
	assert.True(t, s.Contains("https://a.com/blog"))
	assert.False(t, s.Contains("https://a.com/pricing"))
}

func TestDiscoveryResult_Homepage(t *testing.T) {
	d := &DiscoveryResult{
		Origin: "https://a.com",
		Pages: []DiscoveredPage{
			{URL: "https://a.com/about", TypeHint: PageTypeAbout},
			{URL: "https://a.com/", TypeHint: PageTypeHomepage},
		},
	}
	assert.Equal(t, "https://a.com/", d.Homepage())

	empty := &DiscoveryResult{Origin: "https://a.com"}
	assert.Equal(t, "https://a.com", empty.Homepage())
}

func TestCapture_OK(t *testing.T) {
	c := &Capture{
		URL:  "https://a.com/",
		HTML: "<html></html>",
		Screenshots: map[Viewport]string{
			ViewportDesktop: "/tmp/run/home-desktop.png",
			ViewportMobile:  "/tmp/run/home-mobile.png",
		},
	}
	assert.True(t, c.OK())

	c.Error = "timeout"
	assert.False(t, c.OK())

	c.Error = ""
	delete(c.Screenshots, ViewportMobile)
	assert.False(t, c.OK())
}

func TestTokenUsage_Add(t *testing.T) {
	a := TokenUsage{InputTokens: 100, OutputTokens: 50, Cost: 0.01}
	a.Add(TokenUsage{InputTokens: 20, OutputTokens: 10, CacheReadTokens: 5, Cost: 0.002})

	assert.Equal(t, 120, a.InputTokens)
	assert.Equal(t, 60, a.OutputTokens)
	assert.Equal(t, 5, a.CacheReadTokens)
	assert.Equal(t, 170, a.Total())
	assert.InDelta(t, 0.012, a.Cost, 1e-9)
}

func TestRunOptions_ModuleDisabled(t *testing.T) {
	o := RunOptions{DisabledModules: []string{"social", "performance"}}
	assert.True(t, o.ModuleDisabled(ModuleSocial))
	assert.True(t, o.ModuleDisabled(ModulePerformance))
	assert.False(t, o.ModuleDisabled(ModuleVisual))
}
