package analyzer

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/audit-cli/internal/model"
)

// PageFeatures are the deterministic signals extracted from one page's
// rendered HTML. The technical analyzer feeds them into its fused model
// call and derives site-wide findings from them directly; the pipeline
// reuses them for grade signals.
type PageFeatures struct {
	URL             string
	Title           string
	MetaDescription string
	H1Count         int
	H2Count         int
	H3Count         int
	ImageCount      int
	ImagesWithAlt   int
	HasSchema       bool
	OGTagCount      int
	HasCanonical    bool
	HasViewport     bool
	CTACount        int
	WordCount       int
	HasTestimonials bool
	HasBlogLink     bool
	HTTPS           bool

	// SocialLinks maps platform name to the first profile URL found.
	SocialLinks map[string]string
}

var ctaPattern = regexp.MustCompile(`(?i)\b(contact|get started|get a quote|free quote|book|schedule|call now|call us|request|sign up|subscribe|buy now|order|shop|donate|apply|join|demo|estimate|consultation|learn more)\b`)

var socialHosts = map[string]string{
	"facebook.com":  "facebook",
	"instagram.com": "instagram",
	"twitter.com":   "twitter",
	"x.com":         "twitter",
	"linkedin.com":  "linkedin",
	"youtube.com":   "youtube",
	"tiktok.com":    "tiktok",
	"pinterest.com": "pinterest",
	"yelp.com":      "yelp",
}

// ExtractFeatures parses a capture's rendered HTML into per-page features.
func ExtractFeatures(c *model.Capture) (*PageFeatures, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(c.HTML))
	if err != nil {
		return nil, eris.Wrapf(err, "analyzer: parse html for %s", c.URL)
	}

	final := c.FinalURL
	if final == "" {
		final = c.URL
	}

	f := &PageFeatures{
		URL:         c.URL,
		HTTPS:       strings.HasPrefix(final, "https://"),
		SocialLinks: make(map[string]string),
	}

	f.Title = strings.TrimSpace(doc.Find("title").First().Text())
	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		f.MetaDescription = strings.TrimSpace(desc)
	}

	f.H1Count = doc.Find("h1").Length()
	f.H2Count = doc.Find("h2").Length()
	f.H3Count = doc.Find("h3").Length()

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		f.ImageCount++
		if alt, ok := s.Attr("alt"); ok && strings.TrimSpace(alt) != "" {
			f.ImagesWithAlt++
		}
	})

	f.HasSchema = doc.Find(`script[type="application/ld+json"]`).Length() > 0 ||
		doc.Find("[itemscope]").Length() > 0
	f.OGTagCount = doc.Find(`meta[property^="og:"]`).Length()
	f.HasCanonical = doc.Find(`link[rel="canonical"]`).Length() > 0
	f.HasViewport = doc.Find(`meta[name="viewport"]`).Length() > 0

	doc.Find("a, button, input[type=submit]").Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		if text == "" {
			text, _ = s.Attr("value")
		}
		if ctaPattern.MatchString(text) {
			f.CTACount++
		}
	})

	f.HasTestimonials = doc.Find(`[class*="testimonial"], [id*="testimonial"], [class*="review"]`).Length() > 0 ||
		doc.Find("blockquote").Length() >= 2

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		lower := strings.ToLower(href)
		if strings.Contains(lower, "/blog") || strings.Contains(lower, "/news") ||
			strings.Contains(lower, "/articles") || strings.Contains(lower, "/insights") {
			f.HasBlogLink = true
		}
		if platform, ok := socialPlatform(href); ok {
			if _, seen := f.SocialLinks[platform]; !seen {
				f.SocialLinks[platform] = href
			}
		}
	})

	body := doc.Find("body").Clone()
	body.Find("script, style, noscript").Remove()
	f.WordCount = len(strings.Fields(body.Text()))

	return f, nil
}

// socialPlatform maps a link to the social platform it points at. Share
// and intent links do not count as profiles.
func socialPlatform(href string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.ToLower(strings.TrimPrefix(u.Host, "www."))

	platform := ""
	for h, p := range socialHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			platform = p
			break
		}
	}
	if platform == "" {
		return "", false
	}

	path := strings.ToLower(u.Path)
	if strings.Contains(path, "share") || strings.Contains(path, "intent") {
		return "", false
	}
	return platform, true
}

// AccessibilitySignals are the deterministic WCAG-relevant measurements
// for one page.
type AccessibilitySignals struct {
	URL                string
	ImageCount         int
	ImagesMissingAlt   int
	InputCount         int
	InputsMissingLabel int
	HeadingSkips       int
	MissingLang        bool
	PositiveTabindex   int
	AriaAttributes     int
	Landmarks          int
	HasSkipLink        bool
}

// ExtractAccessibility measures one capture's rendered HTML against the
// signals the accessibility analyzer interprets.
func ExtractAccessibility(c *model.Capture) (*AccessibilitySignals, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(c.HTML))
	if err != nil {
		return nil, eris.Wrapf(err, "analyzer: parse html for %s", c.URL)
	}

	sig := &AccessibilitySignals{URL: c.URL}

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		sig.ImageCount++
		// An empty alt is a deliberate decorative marker; only a missing
		// attribute counts against coverage.
		if _, ok := s.Attr("alt"); !ok {
			sig.ImagesMissingAlt++
		}
	})

	labelFor := make(map[string]bool)
	doc.Find("label[for]").Each(func(_ int, s *goquery.Selection) {
		if id, ok := s.Attr("for"); ok {
			labelFor[id] = true
		}
	})
	doc.Find("input, select, textarea").Each(func(_ int, s *goquery.Selection) {
		typ, _ := s.Attr("type")
		switch strings.ToLower(typ) {
		case "hidden", "submit", "button", "reset", "image":
			return
		}
		sig.InputCount++
		if id, ok := s.Attr("id"); ok && labelFor[id] {
			return
		}
		if s.ParentsFiltered("label").Length() > 0 {
			return
		}
		for _, attr := range []string{"aria-label", "aria-labelledby", "title"} {
			if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
				return
			}
		}
		sig.InputsMissingLabel++
	})

	prev := 0
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		name := goquery.NodeName(s)
		level := int(name[1] - '0')
		if prev > 0 && level > prev+1 {
			sig.HeadingSkips++
		}
		prev = level
	})

	lang, _ := doc.Find("html").Attr("lang")
	sig.MissingLang = strings.TrimSpace(lang) == ""

	doc.Find("[tabindex]").Each(func(_ int, s *goquery.Selection) {
		v, _ := s.Attr("tabindex")
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			sig.PositiveTabindex++
		}
	})

	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		for _, a := range s.Nodes[0].Attr {
			if strings.HasPrefix(a.Key, "aria-") {
				sig.AriaAttributes++
			}
		}
	})

	sig.Landmarks = doc.Find("header, nav, main, footer, aside").Length() +
		doc.Find(`[role="banner"], [role="navigation"], [role="main"], [role="contentinfo"], [role="complementary"], [role="search"]`).Length()

	doc.Find(`a[href^="#"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(strings.ToLower(s.Text()), "skip") {
			sig.HasSkipLink = true
			return false
		}
		return true
	})

	return sig, nil
}
