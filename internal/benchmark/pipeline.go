package benchmark

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/audit-cli/internal/imageproc"
	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/internal/prompts"
	"github.com/sells-group/audit-cli/internal/resilience"
	"github.com/sells-group/audit-cli/pkg/anthropic"
)

// Capturer renders pages and persists screenshots. The capture engine
// satisfies it.
type Capturer interface {
	CaptureAll(ctx context.Context, runID string, urls []string) ([]model.Capture, error)
}

// SeedRequest identifies the reference site to record.
type SeedRequest struct {
	URL      string
	Company  model.Company
	Tier     model.BenchmarkTier
	SizeHint string

	// Force re-captures and re-prompts even when a record exists.
	Force bool
}

// Pipeline produces the records the matcher picks from: capture the
// reference site, extract its strengths from screenshots, store the
// record. Grading never runs here.
type Pipeline struct {
	deps
	store    Store
	capturer Capturer
	proc     *imageproc.Processor
	log      *zap.Logger
}

// NewPipeline wires the benchmark seeding pipeline.
func NewPipeline(store Store, capturer Capturer, ai anthropic.Client, catalog *prompts.Catalog, proc *imageproc.Processor, retry resilience.RetryConfig) *Pipeline {
	return &Pipeline{
		deps:     deps{ai: ai, catalog: catalog, retry: retry},
		store:    store,
		capturer: capturer,
		proc:     proc,
		log:      zap.L().With(zap.String("component", "benchmark.pipeline")),
	}
}

// Run captures the reference site, extracts its strengths, and stores
// the record. Unless forced, a previously stored record short-circuits
// everything: no navigation, no model call, screenshots served from the
// paths already on the record.
func (p *Pipeline) Run(ctx context.Context, rec Recorder, req SeedRequest) (*model.BenchmarkRecord, model.TokenUsage, error) {
	id := RecordID(req.URL)
	if id == "" {
		return nil, model.TokenUsage{}, eris.Errorf("benchmark: no usable host in %q", req.URL)
	}

	if !req.Force {
		if existing, err := p.store.GetBenchmark(ctx, id); err == nil && existing != nil {
			p.log.Info("serving cached benchmark", zap.String("benchmark_id", id))
			return existing, model.TokenUsage{}, nil
		}
	}

	caps, err := p.capturer.CaptureAll(ctx, "benchmark-"+id, []string{req.URL})
	if err != nil {
		return nil, model.TokenUsage{}, eris.Wrapf(err, "benchmark: capture %s", req.URL)
	}
	var page *model.Capture
	for i := range caps {
		if caps[i].OK() {
			page = &caps[i]
			break
		}
	}
	if page == nil {
		return nil, model.TokenUsage{}, eris.Errorf("benchmark: capture failed for %s", req.URL)
	}

	strengths, usage, err := p.extractStrengths(ctx, rec, req, page)
	if err != nil {
		return nil, usage, err
	}

	now := time.Now().UTC()
	tier := req.Tier
	if tier == "" {
		tier = model.BenchmarkTierManual
	}
	record := &model.BenchmarkRecord{
		ID:          id,
		CompanyName: req.Company.Name,
		URL:         req.URL,
		Industry:    strings.ToLower(strings.TrimSpace(req.Company.Industry)),
		Location:    req.Company.Location,
		Tier:        tier,
		SizeHint:    req.SizeHint,
		Scores: map[string]int{
			"design":  *strengths.Scores.Design,
			"content": *strengths.Scores.Content,
			"ux":      *strengths.Scores.UX,
		},
		Strengths: cleanStrengths(strengths.Strengths),
		ScreenshotPaths: map[string]string{
			string(model.ViewportDesktop): page.Screenshots[model.ViewportDesktop],
			string(model.ViewportMobile):  page.Screenshots[model.ViewportMobile],
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.store.SaveBenchmark(ctx, record); err != nil {
		return nil, usage, eris.Wrapf(err, "benchmark: save record %s", id)
	}

	p.log.Info("benchmark record stored",
		zap.String("benchmark_id", id),
		zap.String("industry", record.Industry),
		zap.Int("design_score", record.Scores["design"]))
	return record, usage, nil
}

// extractStrengths runs the vision call over both viewports of the
// captured homepage.
func (p *Pipeline) extractStrengths(ctx context.Context, rec Recorder, req SeedRequest, c *model.Capture) (*strengthsJSON, model.TokenUsage, error) {
	var images []anthropic.ImageBlock
	var indexLines []string
	k := 1
	for _, vp := range []model.Viewport{model.ViewportDesktop, model.ViewportMobile} {
		sections, err := p.proc.Prepare(c.Screenshots[vp], vp)
		if err != nil {
			return nil, model.TokenUsage{}, eris.Wrapf(err, "benchmark: prepare %s screenshot", vp)
		}
		for _, s := range sections {
			images = append(images, anthropic.ImageBlock{MediaType: "image/png", Data: s.Data})
			indexLines = append(indexLines, imageproc.Describe(k, vp, s))
			k++
		}
	}

	var out strengthsJSON
	usage, err := p.runJSON(ctx, rec, llmCall{
		stage:    "strengths",
		promptID: "benchmark-strengths",
		vars: map[string]string{
			"company":          req.Company.Name,
			"industry":         req.Company.Industry,
			"url":              req.URL,
			"screenshot_index": strings.Join(indexLines, "\n"),
		},
		images: images,
	}, &out)
	if err != nil {
		return nil, usage, err
	}
	if !scoreOK(out.Scores.Design) || !scoreOK(out.Scores.Content) || !scoreOK(out.Scores.UX) {
		return nil, usage, eris.New("benchmark: strengths scores missing or out of range")
	}
	return &out, usage, nil
}

// strengthsJSON is the wire shape of the benchmark-strengths response.
type strengthsJSON struct {
	Scores struct {
		Design  *int `json:"design"`
		Content *int `json:"content"`
		UX      *int `json:"ux"`
	} `json:"scores"`
	Strengths map[string][]string `json:"strengths"`
}

// cleanStrengths keeps the three dimensions the prompt asks for and
// drops blank entries.
func cleanStrengths(raw map[string][]string) map[string][]string {
	out := make(map[string][]string, 3)
	for _, dim := range []string{"design", "content", "ux"} {
		var kept []string
		for _, s := range raw[dim] {
			if s = strings.TrimSpace(s); s != "" {
				kept = append(kept, s)
			}
		}
		if len(kept) > 0 {
			out[dim] = kept
		}
	}
	return out
}

// RecordID derives the stable storage ID for a benchmark site from its
// URL. The host alone identifies a benchmark; scheme, www and any path
// are irrelevant, so repeat seeds of the same site land on one record.
func RecordID(rawURL string) string {
	raw := strings.TrimSpace(rawURL)
	if raw != "" && !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	host := ""
	if u, err := url.Parse(raw); err == nil {
		host = u.Hostname()
	}
	if host == "" {
		host = raw
		if i := strings.Index(host, "://"); i >= 0 {
			host = host[i+3:]
		}
	}
	host = strings.TrimPrefix(strings.ToLower(host), "www.")

	var b strings.Builder
	hyphen := false
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			hyphen = false
		default:
			if !hyphen && b.Len() > 0 {
				b.WriteByte('-')
				hyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
