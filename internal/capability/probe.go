package capability

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ProbeResult reports whether one provider answered a test call.
type ProbeResult struct {
	Provider string `json:"provider"`
	OK       bool   `json:"ok"`
	Message  string `json:"message"`
}

// Probe exercises every provider once with a cheap request. The calls run
// concurrently; results come back in a fixed provider order.
func (a *Adapters) Probe(ctx context.Context) []ProbeResult {
	probes := []struct {
		provider string
		run      func(ctx context.Context) (bool, string)
	}{
		{"apollo", func(ctx context.Context) (bool, string) {
			r := a.SearchCompanies(ctx, CompanyQuery{Query: "test", PerPage: 1})
			return outcome(r, fmt.Sprintf("Found %d companies", len(r.Data)))
		}},
		{"hunter", func(ctx context.Context) (bool, string) {
			r := a.FindEmail(ctx, "John", "Doe", "example.com")
			email := r.Data.Email
			if email == "" {
				email = "none"
			}
			return outcome(r, fmt.Sprintf("Email: %s, confidence: %d", email, r.Data.Confidence))
		}},
		{"pdl", func(ctx context.Context) (bool, string) {
			r := a.EnrichPerson(ctx, PersonQuery{Email: "john.doe@example.com"})
			// A 404 means the API answered with no match.
			if r.Error == ProviderPDL+" error: 404" {
				return true, "Reachable, no match"
			}
			return outcome(r, fmt.Sprintf("Matched %s", r.Data.FullName))
		}},
		{"zerobounce", func(ctx context.Context) (bool, string) {
			r := a.VerifyEmail(ctx, "john.doe@example.com")
			return outcome(r, fmt.Sprintf("Status: %s", r.Data.Status))
		}},
		{"firecrawl", func(ctx context.Context) (bool, string) {
			if a.firecrawl == nil {
				return false, ProviderFirecrawl + " API key not configured"
			}
			r := a.ScrapeURL(ctx, "https://example.com")
			return outcome(r, fmt.Sprintf("Scraped %d chars", len(r.Data.Content)))
		}},
		{"jina", func(ctx context.Context) (bool, string) {
			r := a.ReadURL(ctx, "https://example.com")
			return outcome(r, fmt.Sprintf("Read %d chars", len(r.Data.Content)))
		}},
	}

	out := make([]ProbeResult, len(probes))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range probes {
		g.Go(func() error {
			ok, msg := p.run(gctx)
			out[i] = ProbeResult{Provider: p.provider, OK: ok, Message: msg}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func outcome[T any](r Result[T], success string) (bool, string) {
	if !r.OK() {
		return false, r.Error
	}
	return true, success
}
