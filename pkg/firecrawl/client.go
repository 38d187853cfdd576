// Package firecrawl is a minimal client for the Firecrawl /scrape endpoint,
// used to turn prospect websites into markdown for the enrichment agents.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultBaseURL = "https://api.firecrawl.dev/v1"
	// maxBody caps how much of a response is buffered.
	maxBody = 8 << 20
)

// ErrUnsuccessful is returned when Firecrawl answers 2xx with success=false.
var ErrUnsuccessful = eris.New("firecrawl: scrape unsuccessful")

// Client scrapes a single page.
type Client interface {
	Scrape(ctx context.Context, req ScrapeRequest) (*ScrapeResponse, error)
}

// ScrapeRequest is the body for POST /scrape. Zero values fall back to the
// defaults applied by Scrape.
type ScrapeRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats,omitempty"`
	OnlyMainContent *bool    `json:"onlyMainContent,omitempty"`
	ExcludeTags     []string `json:"excludeTags,omitempty"`
	WaitFor         int      `json:"waitFor,omitempty"`
	TimeoutMS       int      `json:"timeout,omitempty"`
}

// ScrapeResponse is the response from POST /scrape.
type ScrapeResponse struct {
	Success bool     `json:"success"`
	Warning string   `json:"warning,omitempty"`
	Error   string   `json:"error,omitempty"`
	Data    PageData `json:"data"`
}

// PageData is the scraped page.
type PageData struct {
	Markdown string         `json:"markdown"`
	Metadata map[string]any `json:"metadata"`
}

// Title returns the page title from metadata, if any.
func (p PageData) Title() string { return p.meta("title") }

// SourceURL returns the final URL after redirects, if reported.
func (p PageData) SourceURL() string { return p.meta("sourceURL") }

func (p PageData) meta(key string) string {
	if s, ok := p.Metadata[key].(string); ok {
		return s
	}
	return ""
}

// APIError is returned when Firecrawl responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("firecrawl: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the API root. Empty keeps the default.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithPageTimeout sets the server-side render timeout sent with each scrape.
func WithPageTimeout(d time.Duration) Option {
	return func(c *httpClient) { c.pageTimeout = d }
}

type httpClient struct {
	apiKey      string
	baseURL     string
	pageTimeout time.Duration
	http        *http.Client
}

// NewClient creates a Firecrawl client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:      apiKey,
		baseURL:     defaultBaseURL,
		pageTimeout: 30 * time.Second,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Scrape fetches req.URL as markdown. Navigation chrome is stripped unless
// the caller sets OnlyMainContent explicitly.
func (c *httpClient) Scrape(ctx context.Context, req ScrapeRequest) (*ScrapeResponse, error) {
	if req.URL == "" {
		return nil, eris.New("firecrawl: scrape: url is required")
	}
	if len(req.Formats) == 0 {
		req.Formats = []string{"markdown"}
	}
	if req.OnlyMainContent == nil {
		main := true
		req.OnlyMainContent = &main
	}
	if req.ExcludeTags == nil {
		req.ExcludeTags = []string{"nav", "footer", "script", "style"}
	}
	if req.TimeoutMS == 0 && c.pageTimeout > 0 {
		req.TimeoutMS = int(c.pageTimeout / time.Millisecond)
	}

	var resp ScrapeResponse
	if err := c.do(ctx, "/scrape", req, &resp); err != nil {
		return nil, eris.Wrapf(err, "firecrawl: scrape %s", req.URL)
	}
	if !resp.Success {
		if resp.Error != "" {
			return nil, eris.Wrap(ErrUnsuccessful, resp.Error)
		}
		return nil, ErrUnsuccessful
	}
	return &resp, nil
}

func (c *httpClient) do(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return eris.Wrap(err, "read response body")
	}
	if resp.StatusCode/100 != 2 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return eris.Wrap(json.Unmarshal(data, out), "decode response")
}
