// Package capture renders selected pages in a headless browser and
// persists full-page screenshots per viewport. Each page gets a fresh
// incognito context per viewport so cookie banners and cached state
// never leak between pages. Screenshots land on disk before the Capture
// is returned; only paths travel through the pipeline.
package capture

import (
	"context"
	"os"
	"path/filepath"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/audit-cli/internal/config"
	"github.com/sells-group/audit-cli/internal/model"
)

// maxConcurrency caps the worker pool. Every extra worker holds two
// browser contexts and a full-page render in memory.
const maxConcurrency = 4

// Engine drives the shared headless browser.
type Engine struct {
	cfg     config.CaptureConfig
	log     *zap.Logger
	launch  *launcher.Launcher
	browser *rod.Browser
}

// New creates a capture engine. Call Start before CaptureAll.
func New(cfg config.CaptureConfig) *Engine {
	return &Engine{
		cfg: cfg,
		log: zap.L().With(zap.String("component", "capture")),
	}
}

// Start launches the browser and connects to it.
func (e *Engine) Start(ctx context.Context) error {
	l := launcher.New().Headless(true)
	if e.cfg.BrowserPath != "" {
		l = l.Bin(e.cfg.BrowserPath)
	}
	l = l.
		Set("no-sandbox").
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("no-first-run").
		Set("disable-default-apps").
		Set("disable-sync")

	controlURL, err := l.Launch()
	if err != nil {
		return eris.Wrap(err, "capture: launch browser")
	}
	e.launch = l

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return eris.Wrap(err, "capture: connect browser")
	}
	e.browser = browser

	e.log.Info("browser started")
	return nil
}

// Stop closes the browser and cleans up the launcher's user data dir.
func (e *Engine) Stop() error {
	var err error
	if e.browser != nil {
		err = e.browser.Close()
		e.browser = nil
	}
	if e.launch != nil {
		e.launch.Cleanup()
		e.launch = nil
	}
	return err
}

// CaptureAll renders every URL through the worker pool and returns one
// Capture per URL in input order. Individual page failures surface as
// Capture.Error entries, never as an error return; the error reports
// engine-level problems only.
func (e *Engine) CaptureAll(ctx context.Context, runID string, urls []string) ([]model.Capture, error) {
	if e.browser == nil {
		return nil, eris.New("capture: engine not started")
	}
	dir := RunDir(e.cfg.ArtifactDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "capture: create artifact dir")
	}

	results := make([]model.Capture, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency())

	for i, pageURL := range urls {
		g.Go(func() error {
			results[i] = e.capturePage(gctx, dir, pageURL)
			if results[i].Error != "" {
				e.log.Warn("page capture failed",
					zap.String("url", pageURL),
					zap.String("error", results[i].Error),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, ctx.Err()
}

func (e *Engine) concurrency() int {
	n := e.cfg.Concurrency
	if n < 1 {
		n = 1
	}
	if n > maxConcurrency {
		n = maxConcurrency
	}
	return n
}

// RunDir returns the artifact directory for one run.
func RunDir(artifactDir, runID string) string {
	return filepath.Join(artifactDir, runID)
}
