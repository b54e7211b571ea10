package benchmark

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/internal/prompts"
	"github.com/sells-group/audit-cli/internal/resilience"
	"github.com/sells-group/audit-cli/pkg/anthropic"
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

// --- Store mock ---

type mockStore struct {
	mock.Mock
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
	args := m.Called(ctx, rec)
	return args.Error(0)
}

// --- Capturer mock ---

type mockCapturer struct {
	mock.Mock
}

func (m *mockCapturer) CaptureAll(ctx context.Context, runID string, urls []string) ([]model.Capture, error) {
	args := m.Called(ctx, runID, urls)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Capture), args.Error(1)
}

// --- Fixtures ---

func testCatalog() *prompts.Catalog {
	return prompts.NewCatalog(prompts.ModelSet{
		Haiku:  "claude-haiku-4-5-20251001",
		Sonnet: "claude-sonnet-4-5-20250929",
		Vision: "claude-sonnet-4-5-20250929",
	})
}

// testRetry keeps failing tests fast: one attempt, no backoff.
func testRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond}
}

// jsonResponse wraps a JSON body in a message response the way the API
// returns it.
func jsonResponse(body string, in, out int) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Model:      "claude-sonnet-4-5-20250929",
		Content:    []anthropic.ContentBlock{{Type: "text", Text: body}},
		StopReason: "end_turn",
		Usage:      anthropic.TokenUsage{InputTokens: int64(in), OutputTokens: int64(out)},
	}
}

// benchRecord builds a stored benchmark with scores and strengths already
// on it, the way the seeding pipeline leaves them.
func benchRecord(id, name, industry, location string) model.BenchmarkRecord {
	return model.BenchmarkRecord{
		ID:          id,
		CompanyName: name,
		URL:         "https://" + id + ".example",
		Industry:    industry,
		Location:    location,
		Tier:        model.BenchmarkTierRegional,
		Scores:      map[string]int{"design": 88, "content": 82, "ux": 90},
		Strengths: map[string][]string{
			"design": {"Full-width hero with a single call to action"},
		},
	}
}

// seedCapture builds a completed capture backed by real PNG files, as the
// strengths extraction reads screenshots from disk.
func seedCapture(t *testing.T, dir, url string) model.Capture {
	t.Helper()
	return model.Capture{
		URL:      url,
		FinalURL: url,
		Title:    "page",
		HTML:     "<html><head><title>t</title></head><body>ok</body></html>",
		Screenshots: map[model.Viewport]string{
			model.ViewportDesktop: writeTestPNG(t, filepath.Join(dir, "seed-desktop.png")),
			model.ViewportMobile:  writeTestPNG(t, filepath.Join(dir, "seed-mobile.png")),
		},
	}
}

func writeTestPNG(t *testing.T, path string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = 0x7f
	}

	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}
