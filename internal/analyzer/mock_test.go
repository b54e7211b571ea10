package analyzer

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
	"github.com/sells-group/audit-cli/pkg/pagespeed"
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

func testDeps(ai anthropic.Client) deps {
	return deps{ai: ai, catalog: testCatalog(), retry: testRetry()}
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

// htmlCapture builds a completed capture whose screenshots are never
// opened. Only the visual analyzer reads screenshot files.
func htmlCapture(url, html string) *model.Capture {
	return &model.Capture{
		URL:      url,
		FinalURL: url,
		Title:    "page",
		HTML:     html,
		Screenshots: map[model.Viewport]string{
			model.ViewportDesktop: "unused-desktop.png",
			model.ViewportMobile:  "unused-mobile.png",
		},
	}
}

// screenshotCapture builds a completed capture backed by real PNG files.
// The name keeps files distinct within one test's temp dir.
func screenshotCapture(t *testing.T, dir, name, url string) *model.Capture {
	t.Helper()
	c := htmlCapture(url, "<html><head><title>t</title></head><body>ok</body></html>")
	c.Screenshots = map[model.Viewport]string{
		model.ViewportDesktop: writeTestPNG(t, filepath.Join(dir, name+"-desktop.png")),
		model.ViewportMobile:  writeTestPNG(t, filepath.Join(dir, name+"-mobile.png")),
	}
	c.Tokens = map[model.Viewport]model.DesignTokens{
		model.ViewportDesktop: {Fonts: []string{"Arial"}, Colors: []string{"rgb(0, 0, 0)"}},
	}
	return c
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
