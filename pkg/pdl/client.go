// Package pdl provides a client for the People Data Labs person enrichment API.
package pdl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.peopledatalabs.com/v5"

// Client defines the People Data Labs operations.
type Client interface {
	EnrichPerson(ctx context.Context, q EnrichQuery) (*Person, error)
}

// EnrichQuery identifies a person. Empty fields are omitted from the request.
type EnrichQuery struct {
	Email       string
	FirstName   string
	LastName    string
	Company     string
	LinkedInURL string
}

// Person is the subset of the PDL person record the pipeline uses.
type Person struct {
	FullName           string            `json:"full_name"`
	FirstName          string            `json:"first_name"`
	LastName           string            `json:"last_name"`
	WorkEmail          string            `json:"work_email"`
	PersonalEmails     []string          `json:"personal_emails"`
	MobilePhone        string            `json:"mobile_phone"`
	PhoneNumbers       []string          `json:"phone_numbers"`
	JobTitle           string            `json:"job_title"`
	JobCompanyName     string            `json:"job_company_name"`
	JobCompanySize     string            `json:"job_company_size"`
	JobCompanyIndustry string            `json:"job_company_industry"`
	JobCompanyWebsite  string            `json:"job_company_website"`
	LinkedInURL        string            `json:"linkedin_url"`
	LocationName       string            `json:"location_name"`
	Skills             []string          `json:"skills"`
	Experience         []json.RawMessage `json:"experience"`
}

// Email returns the work email, falling back to the first personal email.
func (p *Person) Email() string {
	if p.WorkEmail != "" {
		return p.WorkEmail
	}
	if len(p.PersonalEmails) > 0 {
		return p.PersonalEmails[0]
	}
	return ""
}

// Phone returns the mobile phone, falling back to the first listed number.
func (p *Person) Phone() string {
	if p.MobilePhone != "" {
		return p.MobilePhone
	}
	if len(p.PhoneNumbers) > 0 {
		return p.PhoneNumbers[0]
	}
	return ""
}

// APIError is returned when PDL responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pdl: HTTP %d: %s", e.StatusCode, e.Body)
}

// NotFound reports whether PDL had no match for the query.
func (e *APIError) NotFound() bool { return e.StatusCode == http.StatusNotFound }

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient sets a custom *http.Client.
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

// NewClient creates a new PDL client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) EnrichPerson(ctx context.Context, q EnrichQuery) (*Person, error) {
	params := url.Values{}
	for k, v := range map[string]string{
		"email":      q.Email,
		"first_name": q.FirstName,
		"last_name":  q.LastName,
		"company":    q.Company,
		"profile":    q.LinkedInURL,
	} {
		if v != "" {
			params.Set(k, v)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/person/enrich?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "pdl: create request")
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "pdl: execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "pdl: read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var out struct {
		Data *Person `json:"data"`
		Person
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrap(err, "pdl: decode response")
	}
	// v5 wraps the record in "data"; older responses are flat.
	if out.Data != nil {
		return out.Data, nil
	}
	return &out.Person, nil
}
