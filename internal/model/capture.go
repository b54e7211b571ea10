package model

// Viewport identifies one of the two capture viewports.
type Viewport string

const (
	ViewportDesktop Viewport = "desktop"
	ViewportMobile  Viewport = "mobile"
)

// Reference viewport dimensions.
const (
	DesktopWidth  = 1920
	DesktopHeight = 1080
	MobileWidth   = 375
	MobileHeight  = 812
)

// Dimensions returns the reference width and height for a viewport.
func (v Viewport) Dimensions() (width, height int) {
	if v == ViewportMobile {
		return MobileWidth, MobileHeight
	}
	return DesktopWidth, DesktopHeight
}

// DesignTokens holds the top distinct computed styles of visible elements,
// extracted while the page is live.
type DesignTokens struct {
	Fonts  []string `json:"fonts"`
	Colors []string `json:"colors"`
}

// Capture is the rendered state of one page: final URL after redirects,
// fully-rendered DOM, and one full-page screenshot per viewport. Screenshots
// are persisted to disk before the capture completes; only paths travel in
// the context.
type Capture struct {
	URL         string                    `json:"url"`
	FinalURL    string                    `json:"final_url"`
	HTTPStatus  int                       `json:"http_status"`
	LoadTimeMs  int64                     `json:"load_time_ms"`
	Title       string                    `json:"title"`
	HTML        string                    `json:"html,omitempty"`
	Screenshots map[Viewport]string       `json:"screenshots,omitempty"`
	Tokens      map[Viewport]DesignTokens `json:"design_tokens,omitempty"`
	Error       string                    `json:"error,omitempty"`
}

// OK reports whether the capture succeeded. A successful capture has both
// viewport screenshots and non-empty HTML.
func (c *Capture) OK() bool {
	return c.Error == "" &&
		c.HTML != "" &&
		c.Screenshots[ViewportDesktop] != "" &&
		c.Screenshots[ViewportMobile] != ""
}
