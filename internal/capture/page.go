package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/internal/urlfilter"
)

// networkSettle bounds the post-load wait for stragglers (analytics
// beacons, late XHR). The page is usable once the load event fires, so
// this is capped well below the page budget.
const (
	networkSettle     = 2 * time.Second
	networkIdleWindow = 300 * time.Millisecond
)

// capturePage renders one page at both viewports under a single page
// deadline. Desktop goes first and contributes the DOM snapshot, title
// and status; mobile repeats the render for its screenshot and tokens.
// Any failure stops the page and lands in Capture.Error.
func (e *Engine) capturePage(ctx context.Context, dir, pageURL string) model.Capture {
	c := model.Capture{
		URL:         pageURL,
		Screenshots: make(map[model.Viewport]string, 2),
		Tokens:      make(map[model.Viewport]model.DesignTokens, 2),
	}

	if d := urlfilter.CheckCapture(pageURL); !d.Keep {
		c.Error = "filtered: " + d.Reason
		return c
	}

	pctx, cancel := context.WithTimeout(ctx, e.cfg.PageTimeout())
	defer cancel()

	start := time.Now()
	slug := Slug(pageURL)

	for _, vp := range []model.Viewport{model.ViewportDesktop, model.ViewportMobile} {
		shot, err := e.captureViewport(pctx, pageURL, vp, &c)
		if err != nil {
			c.Error = captureError(err)
			break
		}
		path := filepath.Join(dir, fmt.Sprintf("%s-%s.png", slug, vp))
		if err := os.WriteFile(path, shot, 0o644); err != nil {
			c.Error = captureError(eris.Wrap(err, "capture: write screenshot"))
			break
		}
		c.Screenshots[vp] = path
	}

	c.LoadTimeMs = time.Since(start).Milliseconds()
	return c
}

// captureViewport renders pageURL in a fresh incognito context and
// returns the full-page PNG. Desktop fills the page-level fields on c.
func (e *Engine) captureViewport(ctx context.Context, pageURL string, vp model.Viewport, c *model.Capture) ([]byte, error) {
	inc, err := e.browser.Incognito()
	if err != nil {
		return nil, eris.Wrap(err, "capture: incognito context")
	}
	page, err := inc.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, eris.Wrap(err, "capture: create page")
	}
	defer page.Close() //nolint:errcheck
	page = page.Context(ctx)

	w, h := vp.Dimensions()
	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             w,
		Height:            h,
		DeviceScaleFactor: 1,
		Mobile:            vp == model.ViewportMobile,
	})
	if err != nil {
		return nil, eris.Wrap(err, "capture: set viewport")
	}

	// Subscribe before navigating so the document response is already
	// buffered when we collect the status after load.
	var status int
	waitStatus := page.EachEvent(func(ev *proto.NetworkResponseReceived) bool {
		if ev.Type == proto.NetworkResourceTypeDocument {
			status = ev.Response.Status
			return true
		}
		return false
	})

	if err := page.Navigate(pageURL); err != nil {
		return nil, eris.Wrapf(err, "capture: navigate %s", pageURL)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, eris.Wrap(err, "capture: wait load")
	}
	waitStatus()

	// Network idle or the settle cap, whichever comes first.
	page.Timeout(networkSettle).WaitRequestIdle(networkIdleWindow, nil, nil, nil)()

	if err := e.scrollPage(page); err != nil {
		e.log.Debug("lazy-load scroll failed",
			zap.String("url", pageURL),
			zap.Error(err),
		)
	}

	if tokens, err := extractTokens(page, e.cfg.TokenLimit); err != nil {
		e.log.Debug("design token extraction failed",
			zap.String("url", pageURL),
			zap.Error(err),
		)
	} else {
		c.Tokens[vp] = tokens
	}

	if vp == model.ViewportDesktop {
		c.HTTPStatus = status
		html, err := page.HTML()
		if err != nil {
			return nil, eris.Wrap(err, "capture: serialize dom")
		}
		c.HTML = html
		if info, err := page.Info(); err == nil {
			c.Title = info.Title
			c.FinalURL = info.URL
		}
	}

	shot, err := page.Screenshot(true, nil)
	if err != nil {
		return nil, eris.Wrap(err, "capture: screenshot")
	}
	return shot, nil
}

// scrollPage steps through the page to trigger lazy-loaded content,
// then returns to the top so the screenshot starts at the fold.
func (e *Engine) scrollPage(page *rod.Page) error {
	passes := e.cfg.ScrollPasses
	if passes <= 0 {
		return nil
	}
	_, err := page.Evaluate(&rod.EvalOptions{
		JS: `async (passes) => {
			const step = window.innerHeight;
			for (let i = 0; i < passes; i++) {
				window.scrollBy(0, step);
				await new Promise((r) => setTimeout(r, 250));
				if (window.scrollY + window.innerHeight >= document.body.scrollHeight) {
					break;
				}
			}
			window.scrollTo(0, 0);
			await new Promise((r) => setTimeout(r, 250));
		}`,
		JSArgs:       []interface{}{passes},
		ByValue:      true,
		AwaitPromise: true,
	})
	return err
}

// captureError flattens a capture failure into the Capture.Error
// field. Deadline hits collapse to the bare "timeout" marker that
// downstream reporting keys on.
func captureError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return err.Error()
}
