package analyzer

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/audit-cli/internal/config"
	"github.com/sells-group/audit-cli/internal/imageproc"
	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/pkg/anthropic"
)

const crossPageMarker = "partway through a multi-page audit"

func visualAnalyzer(ai *mockAnthropicClient) *Visual {
	return NewVisual(config.AnalysisConfig{}, testDeps(ai), imageproc.New(config.ImageConfig{}))
}

func visualInput(t *testing.T, captures ...*model.Capture) *Input {
	t.Helper()
	in := &Input{
		Company:   model.Company{Name: "Acme Plumbing", Industry: "plumbing"},
		TargetURL: "https://acme.example/",
		Selection: &model.PageSelection{},
		Captures:  map[string]*model.Capture{},
	}
	for _, c := range captures {
		in.Selection.VisualPages = append(in.Selection.VisualPages, c.URL)
		in.Captures[c.URL] = c
	}
	return in
}

func visualBody(desktop, mobile, responsive int) string {
	return fmt.Sprintf(`{"desktop_score": %d, "mobile_score": %d, "responsive_score": %d,
 "positives": ["Strong hero imagery"]}`, desktop, mobile, responsive)
}

func TestVisualAnalyze_ParallelAggregation(t *testing.T) {
	dir := t.TempDir()
	ai := &mockAnthropicClient{}

	// Parallel mode derives a group context, so the ctx argument cannot be
	// matched literally.
	ai.On("CreateMessage", mock.Anything, mock.AnythingOfType("anthropic.MessageRequest")).
		Return(jsonResponse(visualBody(80, 70, 60), 100, 50), nil).Times(3)

	in := visualInput(t,
		screenshotCapture(t, dir, "home", "https://acme.example/"),
		screenshotCapture(t, dir, "about", "https://acme.example/about"),
		screenshotCapture(t, dir, "contact", "https://acme.example/contact"),
	)

	res := visualAnalyzer(ai).Analyze(context.Background(), in)

	require.False(t, res.Failed())
	// 0.4*80 + 0.4*70 + 0.2*60 = 72.
	assert.Equal(t, 72, res.Score)
	assert.Equal(t, map[string]int{"desktop": 80, "mobile": 70, "responsive": 60}, res.SubScores)

	// Identical page scores: no inconsistency finding, and responsive 60
	// sits exactly on the floor, not below it.
	assert.Empty(t, res.Findings)
	assert.Len(t, res.Positives, 3)
	assert.Equal(t, 300, res.Usage.InputTokens)
	ai.AssertExpectations(t)
}

func TestVisualAnalyze_CrossPageSequential(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	ai := &mockAnthropicClient{}

	first := func(req anthropic.MessageRequest) bool {
		return len(req.System) == 1 &&
			!strings.Contains(req.System[0].Text, crossPageMarker)
	}
	second := func(req anthropic.MessageRequest) bool {
		return len(req.System) == 1 &&
			strings.Contains(req.System[0].Text, crossPageMarker) &&
			strings.Contains(req.Messages[0].Content, "Pages already analyzed (1)") &&
			strings.Contains(req.Messages[0].Content, "https://acme.example/")
	}
	ai.On("CreateMessage", ctx, mock.MatchedBy(first)).
		Return(jsonResponse(visualBody(80, 70, 65), 100, 50), nil).Once()
	ai.On("CreateMessage", ctx, mock.MatchedBy(second)).
		Return(jsonResponse(visualBody(82, 72, 67), 100, 50), nil).Once()

	in := visualInput(t,
		screenshotCapture(t, dir, "home", "https://acme.example/"),
		screenshotCapture(t, dir, "about", "https://acme.example/about"),
	)
	in.Options.EnableCrossPageContext = true
	in.CrossPage = NewCrossPageBuilder()

	res := visualAnalyzer(ai).Analyze(ctx, in)

	require.False(t, res.Failed())
	assert.Equal(t, 2, in.CrossPage.Len())
	entries := in.CrossPage.Entries()
	assert.Equal(t, "https://acme.example/", entries[0].URL)
	assert.Equal(t, 80, entries[0].Scores["desktop"])
	ai.AssertExpectations(t)
}

func TestVisualAnalyze_ConsistencyFinding(t *testing.T) {
	dir := t.TempDir()
	ai := &mockAnthropicClient{}

	forPage := func(url string, body string) {
		ai.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
			return strings.Contains(req.Messages[0].Content, "Page: "+url+"\n")
		})).Return(jsonResponse(body, 100, 50), nil).Once()
	}
	forPage("https://acme.example/", visualBody(90, 90, 90))
	forPage("https://acme.example/about", visualBody(90, 90, 90))
	forPage("https://acme.example/contact", visualBody(40, 40, 40))

	in := visualInput(t,
		screenshotCapture(t, dir, "home", "https://acme.example/"),
		screenshotCapture(t, dir, "about", "https://acme.example/about"),
		screenshotCapture(t, dir, "contact", "https://acme.example/contact"),
	)

	res := visualAnalyzer(ai).Analyze(context.Background(), in)

	require.False(t, res.Failed())
	require.Len(t, res.Findings, 1)
	f := res.Findings[0]
	assert.Equal(t, "Inconsistent visual quality across pages", f.Title)
	assert.Equal(t, model.FindingViewportBoth, f.Viewport)
	assert.Equal(t, "deterministic", f.SourceType)
	assert.Len(t, f.AffectedPages, 3)
	ai.AssertExpectations(t)
}

func TestVisualAnalyze_TwoPagesSkipConsistencyCheck(t *testing.T) {
	dir := t.TempDir()
	ai := &mockAnthropicClient{}

	forPage := func(url string, body string) {
		ai.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
			return strings.Contains(req.Messages[0].Content, "Page: "+url+"\n")
		})).Return(jsonResponse(body, 100, 50), nil).Once()
	}
	// Spread well past the threshold, but two pages are not enough to
	// call the site inconsistent.
	forPage("https://acme.example/", visualBody(95, 95, 95))
	forPage("https://acme.example/about", visualBody(40, 40, 40))

	in := visualInput(t,
		screenshotCapture(t, dir, "home", "https://acme.example/"),
		screenshotCapture(t, dir, "about", "https://acme.example/about"),
	)

	res := visualAnalyzer(ai).Analyze(context.Background(), in)

	require.False(t, res.Failed())
	for _, f := range res.Findings {
		assert.NotEqual(t, "Inconsistent visual quality across pages", f.Title)
	}
	ai.AssertExpectations(t)
}

func TestVisualAnalyze_ResponsiveFinding(t *testing.T) {
	dir := t.TempDir()
	ai := &mockAnthropicClient{}
	ai.On("CreateMessage", mock.Anything, mock.AnythingOfType("anthropic.MessageRequest")).
		Return(jsonResponse(visualBody(80, 80, 50), 100, 50), nil).Once()

	in := visualInput(t, screenshotCapture(t, dir, "home", "https://acme.example/"))
	res := visualAnalyzer(ai).Analyze(context.Background(), in)

	require.False(t, res.Failed())
	assert.Equal(t, 74, res.Score)
	require.Len(t, res.Findings, 1)
	f := res.Findings[0]
	assert.Equal(t, "Poor responsive implementation", f.Title)
	assert.Equal(t, model.SeverityHigh, f.Severity)
	assert.Equal(t, model.FindingViewportResponsive, f.Viewport)
}

func TestVisualAnalyze_NoPages(t *testing.T) {
	ai := &mockAnthropicClient{}
	in := visualInput(t)

	res := visualAnalyzer(ai).Analyze(context.Background(), in)

	assert.True(t, res.Failed())
	assert.Equal(t, model.FallbackScoreVisual, res.Score)
	ai.AssertNotCalled(t, "CreateMessage")
}

func TestVisualAnalyze_InvalidScoresFailModule(t *testing.T) {
	dir := t.TempDir()
	ai := &mockAnthropicClient{}
	ai.On("CreateMessage", mock.Anything, mock.AnythingOfType("anthropic.MessageRequest")).
		Return(jsonResponse(visualBody(150, 70, 60), 200, 80), nil).Once()

	in := visualInput(t, screenshotCapture(t, dir, "home", "https://acme.example/"))
	res := visualAnalyzer(ai).Analyze(context.Background(), in)

	assert.True(t, res.Failed())
	assert.Equal(t, model.FallbackScoreVisual, res.Score)
	assert.Contains(t, res.Error, "out of range")

	// The failed call's usage still accrues.
	assert.Equal(t, 200, res.Usage.InputTokens)
}

func TestVisualAnalyze_CallFailure(t *testing.T) {
	dir := t.TempDir()
	ai := &mockAnthropicClient{}
	ai.On("CreateMessage", mock.Anything, mock.AnythingOfType("anthropic.MessageRequest")).
		Return(nil, eris.New("invalid api key")).Once()

	in := visualInput(t, screenshotCapture(t, dir, "home", "https://acme.example/"))
	res := visualAnalyzer(ai).Analyze(context.Background(), in)

	assert.True(t, res.Failed())
	assert.Contains(t, res.Error, "invalid api key")
}

func TestVisualAnalyze_PageCap(t *testing.T) {
	dir := t.TempDir()
	ai := &mockAnthropicClient{}
	ai.On("CreateMessage", mock.Anything, mock.AnythingOfType("anthropic.MessageRequest")).
		Return(jsonResponse(visualBody(80, 80, 80), 100, 50), nil).Times(3)

	in := visualInput(t,
		screenshotCapture(t, dir, "home", "https://acme.example/"),
		screenshotCapture(t, dir, "about", "https://acme.example/about"),
		screenshotCapture(t, dir, "services", "https://acme.example/services"),
		screenshotCapture(t, dir, "contact", "https://acme.example/contact"),
	)

	res := visualAnalyzer(ai).Analyze(context.Background(), in)

	require.False(t, res.Failed())
	ai.AssertExpectations(t)
}

func TestVisualAnalyze_SendsBothViewports(t *testing.T) {
	dir := t.TempDir()
	ai := &mockAnthropicClient{}

	var seen anthropic.MessageRequest
	ai.On("CreateMessage", mock.Anything, mock.AnythingOfType("anthropic.MessageRequest")).
		Run(func(args mock.Arguments) {
			seen = args.Get(1).(anthropic.MessageRequest)
		}).
		Return(jsonResponse(visualBody(80, 80, 80), 100, 50), nil).Once()

	in := visualInput(t, screenshotCapture(t, dir, "home", "https://acme.example/"))
	res := visualAnalyzer(ai).Analyze(context.Background(), in)

	require.False(t, res.Failed())
	require.Len(t, seen.Messages, 1)
	assert.Len(t, seen.Messages[0].Images, 2)
	assert.True(t, seen.JSONMode)
	require.Len(t, seen.System, 1)
	require.NotNil(t, seen.System[0].CacheControl)

	content := seen.Messages[0].Content
	assert.Contains(t, content, "Screenshot 1: DESKTOP")
	assert.Contains(t, content, "Screenshot 2: MOBILE")
	assert.Contains(t, content, "desktop fonts: Arial")
}

func TestRenderTokens(t *testing.T) {
	tokens := map[model.Viewport]model.DesignTokens{
		model.ViewportDesktop: {Fonts: []string{"Arial", "Georgia"}, Colors: []string{"#fff"}},
		model.ViewportMobile:  {Fonts: []string{"Arial"}},
	}
	out := renderTokens(tokens)
	assert.Equal(t, "desktop fonts: Arial, Georgia; desktop colors: #fff; mobile fonts: Arial", out)

	assert.Equal(t, "none extracted", renderTokens(nil))
}

func TestStdDev(t *testing.T) {
	assert.Zero(t, stdDev(nil))
	assert.Zero(t, stdDev([]float64{50}))
	assert.Zero(t, stdDev([]float64{50, 50, 50}))
	assert.InDelta(t, 23.57, stdDev([]float64{90, 90, 40}), 0.01)
}
