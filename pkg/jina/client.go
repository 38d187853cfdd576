// Package jina wraps the Jina Reader (r.jina.ai), which renders any URL as
// plain markdown-ish text.
package jina

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultBaseURL = "https://r.jina.ai"
	maxBody        = 4 << 20
)

// Client reads pages through the reader.
type Client interface {
	Read(ctx context.Context, targetURL string) (string, error)
}

// APIError is returned when the reader responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jina: HTTP %d: %s", e.StatusCode, e.Body)
}

// RateLimited reports whether the reader throttled the request.
func (e *APIError) RateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the reader root. Empty keeps the default.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRenderTimeout asks the reader to give up rendering after d.
func WithRenderTimeout(d time.Duration) Option {
	return func(c *httpClient) { c.renderTimeout = d }
}

type httpClient struct {
	apiKey        string
	baseURL       string
	renderTimeout time.Duration
	http          *http.Client
}

// NewClient creates a reader client. The reader is usable without a key at
// a lower rate limit, so apiKey may be empty.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:        apiKey,
		baseURL:       defaultBaseURL,
		renderTimeout: 20 * time.Second,
		http: &http.Client{
			Timeout: 30 * time.Second,
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

func (c *httpClient) Read(ctx context.Context, targetURL string) (string, error) {
	if targetURL == "" {
		return "", eris.New("jina: url is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+targetURL, nil)
	if err != nil {
		return "", eris.Wrap(err, "jina: create request")
	}
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("X-Return-Format", "markdown")
	if c.renderTimeout > 0 {
		req.Header.Set("X-Timeout", strconv.Itoa(int(c.renderTimeout/time.Second)))
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrapf(err, "jina: read %s", targetURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", eris.Wrap(err, "jina: read response body")
	}
	if resp.StatusCode/100 != 2 {
		return "", &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return strings.TrimSpace(string(body)), nil
}
