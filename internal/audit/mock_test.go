package audit

import (
	"context"
	"strings"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/audit-cli/internal/config"
	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/internal/prompts"
	"github.com/sells-group/audit-cli/internal/resilience"
	"github.com/sells-group/audit-cli/pkg/anthropic"
	"github.com/sells-group/audit-cli/pkg/pagespeed"
)

const (
	testHaikuModel  = "claude-haiku-4-5-20251001"
	testSonnetModel = "claude-sonnet-4-5-20250929"
)

// --- Anthropic mock ---

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

// --- PageSpeed mock ---

type mockPagespeedClient struct {
	mock.Mock
}

func (m *mockPagespeedClient) Analyze(ctx context.Context, targetURL string, strategy pagespeed.Strategy) (*pagespeed.Result, error) {
	args := m.Called(ctx, targetURL, strategy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pagespeed.Result), args.Error(1)
}

// --- Store mock ---

// mockStore satisfies both the pipeline's store slice and the benchmark
// matcher's, so one instance backs a whole wiring.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateRun(ctx context.Context, targetURL string, company model.Company) (*model.AuditRun, error) {
	args := m.Called(ctx, targetURL, company)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AuditRun), args.Error(1)
}

func (m *mockStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	return m.Called(ctx, runID, status).Error(0)
}

func (m *mockStore) UpdateRunResult(ctx context.Context, runID string, result *model.AnalysisResult) error {
	return m.Called(ctx, runID, result).Error(0)
}

func (m *mockStore) CreateStage(ctx context.Context, runID, name string) (string, error) {
	args := m.Called(ctx, runID, name)
	return args.String(0), args.Error(1)
}

func (m *mockStore) CompleteStage(ctx context.Context, stageID string, res *model.StageResult) error {
	return m.Called(ctx, stageID, res).Error(0)
}

func (m *mockStore) SaveLead(ctx context.Context, result *model.AnalysisResult) (string, error) {
	args := m.Called(ctx, result)
	return args.String(0), args.Error(1)
}

func (m *mockStore) PushDLQ(ctx context.Context, entry *resilience.DLQEntry) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *mockStore) QueryBenchmarks(ctx context.Context, industry string) ([]model.BenchmarkRecord, error) {
	args := m.Called(ctx, industry)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.BenchmarkRecord), args.Error(1)
}

func (m *mockStore) GetBenchmark(ctx context.Context, id string) (*model.BenchmarkRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BenchmarkRecord), args.Error(1)
}

func (m *mockStore) SaveBenchmark(ctx context.Context, rec *model.BenchmarkRecord) error {
	return m.Called(ctx, rec).Error(0)
}

// --- Discovery and capture mocks ---

type mockDiscoverer struct {
	mock.Mock
}

func (m *mockDiscoverer) Discover(ctx context.Context, seedURL string) (*model.DiscoveryResult, error) {
	args := m.Called(ctx, seedURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DiscoveryResult), args.Error(1)
}

type mockCapturer struct {
	mock.Mock
}

func (m *mockCapturer) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockCapturer) CaptureAll(ctx context.Context, runID string, urls []string) ([]model.Capture, error) {
	args := m.Called(ctx, runID, urls)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Capture), args.Error(1)
}

func (m *mockCapturer) Stop() error {
	return m.Called().Error(0)
}

// --- Fixtures ---

func testCatalog() *prompts.Catalog {
	return prompts.NewCatalog(prompts.ModelSet{
		Haiku:  testHaikuModel,
		Sonnet: testSonnetModel,
		Vision: testSonnetModel,
	})
}

func testRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond}
}

func testConfig() *config.Config {
	return &config.Config{
		Analysis:  config.AnalysisConfig{HTMLSampleBytes: 4096},
		Benchmark: config.BenchmarkConfig{Enabled: true},
		Synthesis: config.SynthesisConfig{SimilarityThreshold: 0.55, SummaryTimeoutSecs: 30},
		Pipeline:  config.PipelineConfig{StageTimeoutSecs: 30, RunTimeoutSecs: 120},
		Resilience: config.ResilienceConfig{
			Retry:         config.RetryConfig{MaxAttempts: 1, InitialBackoffMs: 1},
			DLQMaxRetries: 3,
		},
	}
}

// systemMatcher routes mock expectations by a distinctive phrase in the
// prompt's system text.
func systemMatcher(marker string) interface{} {
	return mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.System) > 0 && strings.Contains(req.System[0].Text, marker)
	})
}

func jsonResponse(modelID, body string, in, out int64) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Model:      modelID,
		StopReason: "end_turn",
		Content:    []anthropic.ContentBlock{{Type: "text", Text: body}},
		Usage:      anthropic.TokenUsage{InputTokens: in, OutputTokens: out},
	}
}

// discoveryFixture is a six page site: large enough that selection needs
// the model under the default quota of five.
func discoveryFixture() *model.DiscoveryResult {
	pages := []struct {
		url  string
		hint model.PageType
	}{
		{"https://acme.example/", model.PageTypeHomepage},
		{"https://acme.example/about", model.PageTypeAbout},
		{"https://acme.example/services", model.PageTypeServices},
		{"https://acme.example/contact", model.PageTypeContact},
		{"https://acme.example/blog", model.PageTypeBlog},
		{"https://acme.example/pricing", model.PageTypePricing},
	}
	out := &model.DiscoveryResult{
		Origin:     "https://acme.example/",
		HasSitemap: true,
		HasRobots:  true,
	}
	for _, p := range pages {
		out.Pages = append(out.Pages, model.DiscoveredPage{URL: p.url, TypeHint: p.hint})
	}
	return out
}

const viewportHTML = `<html><head><title>Acme Plumbing</title>` +
	`<meta name="viewport" content="width=device-width, initial-scale=1">` +
	`</head><body><h1>Acme</h1><a href="https://www.facebook.com/acme">fb</a></body></html>`

// okCapture builds a completed capture. Screenshot paths are never opened
// in these tests: the visual module stays disabled.
func okCapture(url, html string) model.Capture {
	return model.Capture{
		URL:        url,
		FinalURL:   url,
		HTTPStatus: 200,
		Title:      "Acme",
		HTML:       html,
		Screenshots: map[model.Viewport]string{
			model.ViewportDesktop: "unused-desktop.png",
			model.ViewportMobile:  "unused-mobile.png",
		},
	}
}

func failedCapture(url, reason string) model.Capture {
	return model.Capture{URL: url, Error: reason}
}
