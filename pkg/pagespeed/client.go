// Package pagespeed provides a client for the Google PageSpeed Insights API.
package pagespeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/rotisserie/eris"
)

// Strategy selects the device profile Lighthouse runs under.
type Strategy string

const (
	StrategyMobile  Strategy = "mobile"
	StrategyDesktop Strategy = "desktop"
)

// Client defines the PageSpeed Insights operations.
type Client interface {
	// Analyze runs a PageSpeed audit for the URL under the given strategy.
	Analyze(ctx context.Context, targetURL string, strategy Strategy) (*Result, error)
}

// Result is the parsed PageSpeed response for one strategy.
type Result struct {
	Strategy         Strategy
	PerformanceScore int // Lighthouse performance category, 0-100

	// Field holds CrUX real-user data. Nil when Chrome has not collected
	// enough traffic for the origin.
	Field *FieldData
	Lab   LabData

	Opportunities []Opportunity
}

// FieldData holds Core Web Vitals percentiles from real users.
type FieldData struct {
	LCPMs           int
	CLS             float64
	INPMs           int
	OverallCategory string // "FAST", "AVERAGE" or "SLOW"
}

// LabData holds the simulated-load metrics from Lighthouse.
type LabData struct {
	FCPMs        int
	LCPMs        int
	TBTMs        int
	SpeedIndexMs int
	CLS          float64
}

// Opportunity is a Lighthouse improvement with estimated savings.
type Opportunity struct {
	ID           string
	Title        string
	SavingsMs    int
	DisplayValue string
}

// Option configures the PageSpeed client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new PageSpeed Insights client. The API key may be
// empty, which runs against the keyless quota.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://www.googleapis.com/pagespeedonline/v5",
		http: &http.Client{
			// Lighthouse runs take upwards of half a minute on slow pages.
			Timeout: 120 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo executes the request with exponential backoff on transient
// failures. Returns the body and status on success, or the last error.
func (c *httpClient) retryDo(ctx context.Context, req *http.Request) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 2 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retryReq := req.Clone(ctx)

		resp, err := c.http.Do(retryReq)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "pagespeed: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("pagespeed: status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

func (c *httpClient) Analyze(ctx context.Context, targetURL string, strategy Strategy) (*Result, error) {
	query := url.Values{}
	query.Set("url", targetURL)
	query.Set("strategy", string(strategy))
	query.Set("category", "performance")
	if c.apiKey != "" {
		query.Set("key", c.apiKey)
	}
	reqURL := fmt.Sprintf("%s/runPagespeed?%s", c.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "pagespeed: create request")
	}
	req.Header.Set("Accept", "application/json")

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "pagespeed: request failed")
	}

	if statusCode != http.StatusOK {
		return nil, eris.Errorf("pagespeed: unexpected status %d: %s", statusCode, truncate(string(body), 500))
	}

	var raw apiResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, eris.Wrap(err, "pagespeed: unmarshal response")
	}

	return parseResult(strategy, &raw), nil
}

// --- response parsing ---

// CrUX metric keys in loadingExperience.metrics.
const (
	metricLCP = "LARGEST_CONTENTFUL_PAINT_MS"
	metricCLS = "CUMULATIVE_LAYOUT_SHIFT_SCORE"
	metricINP = "INTERACTION_TO_NEXT_PAINT"
)

// Lighthouse audit IDs carrying lab metrics.
const (
	auditFCP        = "first-contentful-paint"
	auditLCP        = "largest-contentful-paint"
	auditTBT        = "total-blocking-time"
	auditSpeedIndex = "speed-index"
	auditCLS        = "cumulative-layout-shift"
)

type apiResponse struct {
	LighthouseResult struct {
		Categories struct {
			Performance struct {
				Score float64 `json:"score"`
			} `json:"performance"`
		} `json:"categories"`
		Audits map[string]auditEntry `json:"audits"`
	} `json:"lighthouseResult"`
	LoadingExperience struct {
		Metrics         map[string]metricEntry `json:"metrics"`
		OverallCategory string                 `json:"overall_category"`
	} `json:"loadingExperience"`
}

type auditEntry struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	NumericValue float64 `json:"numericValue"`
	DisplayValue string  `json:"displayValue"`
	Details      struct {
		Type             string  `json:"type"`
		OverallSavingsMs float64 `json:"overallSavingsMs"`
	} `json:"details"`
}

type metricEntry struct {
	Percentile int    `json:"percentile"`
	Category   string `json:"category"`
}

func parseResult(strategy Strategy, raw *apiResponse) *Result {
	result := &Result{
		Strategy:         strategy,
		PerformanceScore: int(raw.LighthouseResult.Categories.Performance.Score*100 + 0.5),
	}

	audits := raw.LighthouseResult.Audits
	result.Lab = LabData{
		FCPMs:        int(audits[auditFCP].NumericValue),
		LCPMs:        int(audits[auditLCP].NumericValue),
		TBTMs:        int(audits[auditTBT].NumericValue),
		SpeedIndexMs: int(audits[auditSpeedIndex].NumericValue),
		CLS:          audits[auditCLS].NumericValue,
	}

	if metrics := raw.LoadingExperience.Metrics; len(metrics) > 0 {
		field := &FieldData{OverallCategory: raw.LoadingExperience.OverallCategory}
		if m, ok := metrics[metricLCP]; ok {
			field.LCPMs = m.Percentile
		}
		if m, ok := metrics[metricCLS]; ok {
			// CrUX reports CLS percentile scaled by 100.
			field.CLS = float64(m.Percentile) / 100
		}
		if m, ok := metrics[metricINP]; ok {
			field.INPMs = m.Percentile
		}
		result.Field = field
	}

	for id, audit := range audits {
		if audit.Details.Type != "opportunity" || audit.Details.OverallSavingsMs <= 0 {
			continue
		}
		result.Opportunities = append(result.Opportunities, Opportunity{
			ID:           id,
			Title:        audit.Title,
			SavingsMs:    int(audit.Details.OverallSavingsMs),
			DisplayValue: audit.DisplayValue,
		})
	}
	sort.Slice(result.Opportunities, func(i, j int) bool {
		return result.Opportunities[i].SavingsMs > result.Opportunities[j].SavingsMs
	})

	return result
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
