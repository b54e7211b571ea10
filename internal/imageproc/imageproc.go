// Package imageproc prepares full-page screenshots for vision calls.
// Long pages produce captures past the model's per-image limits, so
// oversize screenshots are split into labeled vertical sections and
// every buffer is downscaled until it fits the byte threshold.
package imageproc

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/nfnt/resize"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/audit-cli/internal/config"
	"github.com/sells-group/audit-cli/internal/model"
)

const (
	defaultMaxBytes     = 4 * 1024 * 1024
	defaultMaxDimension = 8000

	// minWidth stops the downscale loop before page text turns to mush.
	minWidth        = 320
	maxShrinkPasses = 5
)

// Section is one vision-ready image. Label is empty when the source
// fit whole, otherwise TOP/MIDDLE/BOTTOM/SECTION-k in page order.
type Section struct {
	Label string
	Path  string
	Data  []byte
}

// Processor applies the size and dimension limits of the vision model.
type Processor struct {
	maxBytes int
	maxDim   int
	log      *zap.Logger
}

// New creates a processor from the image config, falling back to the
// built-in limits for unset fields.
func New(cfg config.ImageConfig) *Processor {
	p := &Processor{
		maxBytes: cfg.MaxBytes,
		maxDim:   cfg.MaxDimension,
		log:      zap.L().With(zap.String("component", "imageproc")),
	}
	if p.maxBytes <= 0 {
		p.maxBytes = defaultMaxBytes
	}
	if p.maxDim <= 0 {
		p.maxDim = defaultMaxDimension
	}
	return p
}

// Prepare loads a screenshot from disk and returns it as one or more
// vision-ready sections. Files already under the byte threshold pass
// through untouched. Taller-than-cap images split into equal sections
// persisted next to the run's other artifacts under sections/; anything
// else is re-encoded at decreasing scale until it fits.
func (p *Processor) Prepare(path string, vp model.Viewport) ([]Section, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "imageproc: read %s", path)
	}
	if len(data) <= p.maxBytes {
		return []Section{{Path: path, Data: data}}, nil
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrapf(err, "imageproc: decode %s", path)
	}

	if img.Bounds().Dy() > p.maxDim {
		return p.split(img, path, vp)
	}

	buf, err := p.shrink(img)
	if err != nil {
		return nil, err
	}
	p.log.Debug("recompressed screenshot",
		zap.String("path", path),
		zap.Int("before", len(data)),
		zap.Int("after", len(buf)),
	)
	return []Section{{Path: path, Data: buf}}, nil
}

// split cuts a tall image into ceil(height/maxDim) sections and writes
// each one under {run-dir}/sections/.
func (p *Processor) split(img image.Image, path string, vp model.Viewport) ([]Section, error) {
	b := img.Bounds()
	n := (b.Dy() + p.maxDim - 1) / p.maxDim
	labels := sectionLabels(n)

	dir := filepath.Join(filepath.Dir(path), "sections")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "imageproc: create sections dir")
	}
	stem := sectionStem(path, vp)

	h := (b.Dy() + n - 1) / n
	sections := make([]Section, 0, n)
	for i := 0; i < n; i++ {
		top := b.Min.Y + i*h
		bottom := top + h
		if bottom > b.Max.Y {
			bottom = b.Max.Y
		}
		part := crop(img, image.Rect(b.Min.X, top, b.Max.X, bottom))

		buf, err := p.shrink(part)
		if err != nil {
			return nil, err
		}
		name := fmt.Sprintf("%s-screenshot-%d-%s-%s.png", stem, i+1, vp, strings.ToLower(labels[i]))
		secPath := filepath.Join(dir, name)
		if err := os.WriteFile(secPath, buf, 0o644); err != nil {
			return nil, eris.Wrap(err, "imageproc: write section")
		}
		sections = append(sections, Section{Label: labels[i], Path: secPath, Data: buf})
	}

	p.log.Debug("split oversize screenshot",
		zap.String("path", path),
		zap.Int("height", b.Dy()),
		zap.Int("sections", n),
	)
	return sections, nil
}

// shrink encodes img and, while the result is over the byte threshold,
// downscales by quarters. Gives up past maxShrinkPasses or minWidth and
// returns the smallest encoding it reached.
func (p *Processor) shrink(img image.Image) ([]byte, error) {
	buf, err := encodePNG(img)
	if err != nil {
		return nil, err
	}

	width := uint(img.Bounds().Dx())
	for pass := 0; len(buf) > p.maxBytes && pass < maxShrinkPasses; pass++ {
		width = width * 3 / 4
		if width < minWidth {
			break
		}
		img = resize.Resize(width, 0, img, resize.Lanczos3)
		buf, err = encodePNG(img)
		if err != nil {
			return nil, err
		}
	}
	if len(buf) > p.maxBytes {
		p.log.Warn("image still over byte threshold after downscale",
			zap.Int("bytes", len(buf)),
			zap.Int("threshold", p.maxBytes),
		)
	}
	return buf, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, eris.Wrap(err, "imageproc: encode png")
	}
	return buf.Bytes(), nil
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func crop(img image.Image, r image.Rectangle) image.Image {
	if si, ok := img.(subImager); ok {
		return si.SubImage(r)
	}
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), img, r.Min, draw.Src)
	return out
}

// sectionLabels names n page-ordered sections. Three or fewer use the
// positional names the vision prompt calls out; longer splits number
// the interior.
func sectionLabels(n int) []string {
	switch n {
	case 1:
		return []string{"TOP"}
	case 2:
		return []string{"TOP", "BOTTOM"}
	case 3:
		return []string{"TOP", "MIDDLE", "BOTTOM"}
	}
	labels := make([]string, n)
	labels[0] = "TOP"
	for i := 1; i < n-1; i++ {
		labels[i] = fmt.Sprintf("SECTION-%d", i+1)
	}
	labels[n-1] = "BOTTOM"
	return labels
}

// sectionStem recovers the page slug from a screenshot path like
// {run-dir}/{slug}-{viewport}.png.
func sectionStem(path string, vp model.Viewport) string {
	base := strings.TrimSuffix(filepath.Base(path), ".png")
	return strings.TrimSuffix(base, "-"+string(vp))
}

// Describe builds the index line for one prepared image, matching the
// ordering the vision prompt references.
func Describe(k int, vp model.Viewport, s Section) string {
	v := strings.ToUpper(string(vp))
	if s.Label == "" {
		return fmt.Sprintf("Screenshot %d: %s", k, v)
	}
	suffix := s.Label
	if !strings.Contains(suffix, "SECTION") {
		suffix += " SECTION"
	}
	return fmt.Sprintf("Screenshot %d: %s - %s", k, v, suffix)
}
