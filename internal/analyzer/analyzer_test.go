package analyzer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/audit-cli/internal/config"
	"github.com/sells-group/audit-cli/internal/imageproc"
	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/pkg/anthropic"
	"github.com/sells-group/audit-cli/pkg/pagespeed"
)

func testBank(ai anthropic.Client, psi pagespeed.Client) *Bank {
	return NewBank(config.AnalysisConfig{}, ai, psi, testCatalog(), imageproc.New(config.ImageConfig{}), testRetry())
}

// systemMatcher routes mock responses by the analyzer persona in the
// system prompt.
func systemMatcher(marker string) interface{} {
	return mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.System) > 0 && strings.Contains(req.System[0].Text, marker)
	})
}

func TestBankRun_AllModules(t *testing.T) {
	dir := t.TempDir()
	ai := &mockAnthropicClient{}
	psi := &mockPagespeedClient{}

	ai.On("CreateMessage", mock.Anything, systemMatcher("senior web designer")).
		Return(jsonResponse(visualBody(80, 70, 65), 500, 200), nil).Once()
	ai.On("CreateMessage", mock.Anything, systemMatcher("technical SEO and content strategy auditor")).
		Return(jsonResponse(`{"overall_technical_score": 68, "seo_score": 61, "content_score": 70}`, 900, 300), nil).Once()
	ai.On("CreateMessage", mock.Anything, systemMatcher("social media presence auditor")).
		Return(jsonResponse(`{"score": 55, "profile_assessment": "Thin."}`, 200, 80), nil).Once()
	ai.On("CreateMessage", mock.Anything, systemMatcher("web accessibility auditor")).
		Return(jsonResponse(`{"score": 60}`, 250, 90), nil).Once()

	psi.On("Analyze", mock.Anything, "https://acme.example/", pagespeed.StrategyMobile).
		Return(&pagespeed.Result{Strategy: pagespeed.StrategyMobile, PerformanceScore: 70,
			Lab: pagespeed.LabData{FCPMs: 1500, LCPMs: 2000, TBTMs: 100, SpeedIndexMs: 3000, CLS: 0.05}}, nil).Once()
	psi.On("Analyze", mock.Anything, "https://acme.example/", pagespeed.StrategyDesktop).
		Return(fastDesktopResult(), nil).Once()

	home := screenshotCapture(t, dir, "home", "https://acme.example/")
	in := &Input{
		Company:   model.Company{Name: "Acme Plumbing", Industry: "plumbing"},
		TargetURL: "https://acme.example/",
		Discovery: &model.DiscoveryResult{
			Origin:     "https://acme.example/",
			HasSitemap: true,
			HasRobots:  true,
			Pages:      []model.DiscoveredPage{{URL: home.URL, TypeHint: model.PageTypeHomepage}},
		},
		Selection: &model.PageSelection{
			SEOPages:     []string{home.URL},
			ContentPages: []string{home.URL},
			VisualPages:  []string{home.URL},
			SocialPages:  []string{home.URL},
		},
		Captures: map[string]*model.Capture{home.URL: home},
	}

	results := testBank(ai, psi).Run(context.Background(), in)

	require.Len(t, results, 6)
	for m, res := range results {
		assert.False(t, res.Failed(), string(m))
	}
	assert.Equal(t, 73, results[model.ModuleVisual].Score)
	assert.Equal(t, 61, results[model.ModuleSEO].Score)
	assert.Equal(t, 70, results[model.ModuleContent].Score)
	assert.Equal(t, 55, results[model.ModuleSocial].Score)
	assert.Equal(t, 60, results[model.ModuleAccessibility].Score)
	assert.Equal(t, 75, results[model.ModulePerformance].Score)

	assert.False(t, AllFailed(results))
	ai.AssertExpectations(t)
	psi.AssertExpectations(t)
}

func TestBankRun_DisabledModulesAbsent(t *testing.T) {
	ai := &mockAnthropicClient{}
	psi := &mockPagespeedClient{}

	psi.On("Analyze", mock.Anything, "https://acme.example/", pagespeed.StrategyMobile).
		Return(nil, assert.AnError).Once()
	psi.On("Analyze", mock.Anything, "https://acme.example/", pagespeed.StrategyDesktop).
		Return(fastDesktopResult(), nil).Once()

	in := &Input{
		TargetURL: "https://acme.example/",
		Selection: &model.PageSelection{},
		Captures:  map[string]*model.Capture{},
		Options: model.RunOptions{
			DisabledModules: []string{"visual", "seo", "content", "social", "accessibility"},
		},
	}

	results := testBank(ai, psi).Run(context.Background(), in)

	require.Len(t, results, 1)
	require.Contains(t, results, model.ModulePerformance)
	assert.Equal(t, 80, results[model.ModulePerformance].Score)
	ai.AssertNotCalled(t, "CreateMessage")
	psi.AssertExpectations(t)
}

func TestBankRun_TechnicalReportsUnderBothModules(t *testing.T) {
	ai := &mockAnthropicClient{}
	psi := &mockPagespeedClient{}

	ai.On("CreateMessage", mock.Anything, systemMatcher("technical SEO and content strategy auditor")).
		Return(jsonResponse(`{"overall_technical_score": 68, "seo_score": 61, "content_score": 70}`, 900, 300), nil).Once()

	in := &Input{
		Company:   model.Company{Name: "Acme Plumbing", Industry: "plumbing"},
		TargetURL: "https://acme.example/",
		Selection: &model.PageSelection{SEOPages: []string{"https://acme.example/"}},
		Captures: map[string]*model.Capture{
			"https://acme.example/": htmlCapture("https://acme.example/", richHTML),
		},
		Options: model.RunOptions{
			DisabledModules: []string{"visual", "social", "accessibility", "performance"},
		},
	}

	results := testBank(ai, psi).Run(context.Background(), in)

	require.Len(t, results, 2)
	assert.Contains(t, results, model.ModuleSEO)
	assert.Contains(t, results, model.ModuleContent)
	ai.AssertExpectations(t)
	psi.AssertNotCalled(t, "Analyze")
}

func TestBankRun_DisablingContentKeepsSEO(t *testing.T) {
	ai := &mockAnthropicClient{}
	psi := &mockPagespeedClient{}

	ai.On("CreateMessage", mock.Anything, systemMatcher("technical SEO and content strategy auditor")).
		Return(jsonResponse(`{"overall_technical_score": 68, "seo_score": 61, "content_score": 70}`, 900, 300), nil).Once()

	in := &Input{
		Company:   model.Company{Name: "Acme Plumbing", Industry: "plumbing"},
		TargetURL: "https://acme.example/",
		Selection: &model.PageSelection{SEOPages: []string{"https://acme.example/"}},
		Captures: map[string]*model.Capture{
			"https://acme.example/": htmlCapture("https://acme.example/", richHTML),
		},
		Options: model.RunOptions{
			DisabledModules: []string{"visual", "content", "social", "accessibility", "performance"},
		},
	}

	results := testBank(ai, psi).Run(context.Background(), in)

	require.Len(t, results, 1)
	assert.Contains(t, results, model.ModuleSEO)
	ai.AssertExpectations(t)
}

func TestAllFailed(t *testing.T) {
	ok := &model.ModuleResult{Module: model.ModuleSEO, Score: 70}
	failed := model.ErrorResult(model.ModuleVisual, assert.AnError)

	assert.True(t, AllFailed(map[model.AnalyzerModule]*model.ModuleResult{
		model.ModuleVisual: failed,
	}))
	assert.False(t, AllFailed(map[model.AnalyzerModule]*model.ModuleResult{
		model.ModuleVisual: failed,
		model.ModuleSEO:    ok,
	}))
	assert.False(t, AllFailed(nil))
}

func TestInputMaxPages(t *testing.T) {
	in := &Input{Options: model.RunOptions{MaxPagesPerModule: 2}}
	assert.Equal(t, 2, in.maxPages(config.AnalysisConfig{MaxPagesPerModule: 7}))

	in = &Input{}
	assert.Equal(t, 7, in.maxPages(config.AnalysisConfig{MaxPagesPerModule: 7}))
	assert.Equal(t, 5, in.maxPages(config.AnalysisConfig{}))
}
