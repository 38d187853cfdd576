package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sells-group/campaign-cli/internal/config"
	"github.com/sells-group/campaign-cli/internal/resilience"
	"github.com/sells-group/campaign-cli/pkg/apollo"
	"github.com/sells-group/campaign-cli/pkg/firecrawl"
	"github.com/sells-group/campaign-cli/pkg/hunter"
	"github.com/sells-group/campaign-cli/pkg/jina"
	"github.com/sells-group/campaign-cli/pkg/pdl"
	"github.com/sells-group/campaign-cli/pkg/zerobounce"
)

// Provider names as they appear in Result errors.
const (
	ProviderApollo     = "Apollo"
	ProviderHunter     = "Hunter"
	ProviderPDL        = "PDL"
	ProviderZeroBounce = "ZeroBounce"
	ProviderFirecrawl  = "Firecrawl"
	ProviderJina       = "Jina"
)

// Observer is notified after every provider call that reached the guard.
type Observer func(provider string, err error, elapsed time.Duration)

// Option configures Adapters.
type Option func(*Adapters)

// WithObserver registers a call observer.
func WithObserver(o Observer) Option {
	return func(a *Adapters) { a.observer = o }
}

// Adapters implements Capabilities over the provider clients. A nil client
// means the provider has no credential configured.
type Adapters struct {
	apollo     apollo.Client
	hunter     hunter.Client
	pdl        pdl.Client
	zerobounce zerobounce.Client
	firecrawl  firecrawl.Client
	jina       jina.Client

	guards   map[string]*resilience.Guard
	observer Observer
}

var _ Capabilities = (*Adapters)(nil)

// New builds the adapters from provider configuration. Each provider gets
// its own rate limiter and, when breakers is non-nil, a circuit breaker.
func New(cfg config.ProvidersConfig, breakers *resilience.Breakers, opts ...Option) *Adapters {
	a := &Adapters{
		guards: make(map[string]*resilience.Guard),
		// Jina Reader works without a key.
		jina: jina.NewClient(cfg.Jina.Key, jina.WithBaseURL(cfg.Jina.BaseURL)),
	}
	if cfg.Apollo.Key != "" {
		a.apollo = apollo.NewClient(cfg.Apollo.Key, apollo.WithBaseURL(cfg.Apollo.BaseURL))
	}
	if cfg.Hunter.Key != "" {
		a.hunter = hunter.NewClient(cfg.Hunter.Key, hunter.WithBaseURL(cfg.Hunter.BaseURL))
	}
	if cfg.PDL.Key != "" {
		a.pdl = pdl.NewClient(cfg.PDL.Key, pdl.WithBaseURL(cfg.PDL.BaseURL))
	}
	if cfg.ZeroBounce.Key != "" {
		a.zerobounce = zerobounce.NewClient(cfg.ZeroBounce.Key, zerobounce.WithBaseURL(cfg.ZeroBounce.BaseURL))
	}
	if cfg.Firecrawl.Key != "" {
		a.firecrawl = firecrawl.NewClient(cfg.Firecrawl.Key, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))
	}

	for name, pc := range map[string]config.ProviderConfig{
		ProviderApollo:     cfg.Apollo,
		ProviderHunter:     cfg.Hunter,
		ProviderPDL:        cfg.PDL,
		ProviderZeroBounce: cfg.ZeroBounce,
		ProviderFirecrawl:  cfg.Firecrawl,
		ProviderJina:       cfg.Jina,
	} {
		var cb *resilience.CircuitBreaker
		if breakers != nil {
			cb = breakers.Get(strings.ToLower(name))
		}
		a.guards[name] = resilience.NewGuard(pc.RPS, pc.Burst, cb)
	}

	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SearchCompanies finds companies by keyword, location and size.
func (a *Adapters) SearchCompanies(ctx context.Context, q CompanyQuery) Result[[]Company] {
	if a.apollo == nil {
		return notConfigured[[]Company](ProviderApollo)
	}
	return invoke(ctx, a, ProviderApollo, func(ctx context.Context) ([]Company, error) {
		req := apollo.CompanySearchRequest{PerPage: q.PerPage}
		if q.Query != "" {
			req.KeywordTags = []string{q.Query}
		}
		if q.Location != "" {
			req.Locations = []string{q.Location}
		}
		if q.EmployeeRange != "" {
			req.EmployeeRanges = []string{q.EmployeeRange}
		}
		resp, err := a.apollo.SearchCompanies(ctx, req)
		if err != nil {
			return nil, err
		}
		out := make([]Company, 0, len(resp.Organizations))
		for _, o := range resp.Organizations {
			out = append(out, Company{
				ID:          o.ID,
				Name:        o.Name,
				Website:     o.WebsiteURL,
				Domain:      o.PrimaryDomain,
				Industry:    o.Industry,
				Employees:   o.EstimatedNumEmployees,
				City:        o.City,
				State:       o.State,
				Country:     o.Country,
				Description: o.ShortDescription,
				LinkedInURL: o.LinkedInURL,
				FoundedYear: o.FoundedYear,
			})
		}
		return out, nil
	})
}

// SearchPeople finds people by title, optionally within one company domain.
func (a *Adapters) SearchPeople(ctx context.Context, q PeopleQuery) Result[[]Person] {
	if a.apollo == nil {
		return notConfigured[[]Person](ProviderApollo)
	}
	return invoke(ctx, a, ProviderApollo, func(ctx context.Context) ([]Person, error) {
		resp, err := a.apollo.SearchPeople(ctx, apollo.PeopleSearchRequest{
			Titles:  q.Titles,
			Domains: q.Domain,
			PerPage: q.PerPage,
		})
		if err != nil {
			return nil, err
		}
		out := make([]Person, 0, len(resp.People))
		for _, p := range resp.People {
			person := Person{
				ID:          p.ID,
				FirstName:   p.FirstName,
				LastName:    p.LastName,
				Name:        p.Name,
				Title:       p.Title,
				Email:       p.Email,
				LinkedInURL: p.LinkedInURL,
				City:        p.City,
				State:       p.State,
				Country:     p.Country,
			}
			if p.Organization != nil {
				person.Company = p.Organization.Name
				person.CompanyDomain = p.Organization.PrimaryDomain
			}
			out = append(out, person)
		}
		return out, nil
	})
}

// FindEmail looks up a person's address at a company domain.
func (a *Adapters) FindEmail(ctx context.Context, firstName, lastName, domain string) Result[EmailMatch] {
	if a.hunter == nil {
		return notConfigured[EmailMatch](ProviderHunter)
	}
	return invoke(ctx, a, ProviderHunter, func(ctx context.Context) (EmailMatch, error) {
		res, err := a.hunter.FindEmail(ctx, firstName, lastName, domain)
		if err != nil {
			return EmailMatch{}, err
		}
		return EmailMatch{Email: res.Email, Confidence: res.Confidence}, nil
	})
}

// ScrapeURL scrapes a page with Firecrawl, falling back to the Jina reader
// when Firecrawl has no credential.
func (a *Adapters) ScrapeURL(ctx context.Context, url string) Result[Page] {
	if a.firecrawl == nil {
		return a.ReadURL(ctx, url)
	}
	return invoke(ctx, a, ProviderFirecrawl, func(ctx context.Context) (Page, error) {
		resp, err := a.firecrawl.Scrape(ctx, firecrawl.ScrapeRequest{URL: url})
		if err != nil {
			return Page{}, err
		}
		return Page{Title: resp.Data.Title(), Content: resp.Data.Markdown, Metadata: resp.Data.Metadata, Source: "firecrawl"}, nil
	})
}

// ReadURL reads a page as text through the Jina reader, truncated to
// MaxReadChars characters.
func (a *Adapters) ReadURL(ctx context.Context, url string) Result[Page] {
	return invoke(ctx, a, ProviderJina, func(ctx context.Context) (Page, error) {
		text, err := a.jina.Read(ctx, url)
		if err != nil {
			return Page{}, err
		}
		return Page{Content: truncate(text, MaxReadChars), Source: "jina"}, nil
	})
}

// EnrichPerson fetches a fuller profile from People Data Labs.
func (a *Adapters) EnrichPerson(ctx context.Context, q PersonQuery) Result[EnrichedPerson] {
	if a.pdl == nil {
		return notConfigured[EnrichedPerson](ProviderPDL)
	}
	return invoke(ctx, a, ProviderPDL, func(ctx context.Context) (EnrichedPerson, error) {
		p, err := a.pdl.EnrichPerson(ctx, pdl.EnrichQuery{
			Email:       q.Email,
			FirstName:   q.FirstName,
			LastName:    q.LastName,
			Company:     q.Company,
			LinkedInURL: q.LinkedInURL,
		})
		if err != nil {
			return EnrichedPerson{}, err
		}
		return EnrichedPerson{
			FullName:        p.FullName,
			FirstName:       p.FirstName,
			LastName:        p.LastName,
			Email:           p.Email(),
			Phone:           p.Phone(),
			Title:           p.JobTitle,
			Company:         p.JobCompanyName,
			CompanySize:     p.JobCompanySize,
			CompanyIndustry: p.JobCompanyIndustry,
			CompanyWebsite:  p.JobCompanyWebsite,
			LinkedIn:        p.LinkedInURL,
			Location:        p.LocationName,
			Skills:          p.Skills,
		}, nil
	})
}

// VerifyEmail checks deliverability with ZeroBounce.
func (a *Adapters) VerifyEmail(ctx context.Context, email string) Result[EmailVerification] {
	if a.zerobounce == nil {
		r := notConfigured[EmailVerification](ProviderZeroBounce)
		r.Data.Status = "unknown"
		return r
	}
	return invoke(ctx, a, ProviderZeroBounce, func(ctx context.Context) (EmailVerification, error) {
		v, err := a.zerobounce.Validate(ctx, email)
		if err != nil {
			return EmailVerification{Status: "unknown"}, err
		}
		return EmailVerification{Status: v.Status, SubStatus: v.SubStatus, Valid: v.Valid()}, nil
	})
}

func notConfigured[T any](provider string) Result[T] {
	return Result[T]{Error: provider + " API key not configured"}
}

func invoke[T any](ctx context.Context, a *Adapters, provider string, fn func(ctx context.Context) (T, error)) Result[T] {
	start := time.Now()
	v, err := resilience.Call(ctx, a.guards[provider], func(ctx context.Context) (T, error) {
		v, err := fn(ctx)
		return v, classify(err)
	})
	if a.observer != nil {
		a.observer(provider, err, time.Since(start))
	}
	if err != nil {
		return Result[T]{Data: v, Error: describe(provider, err)}
	}
	return Result[T]{Data: v}
}

// classify marks retryable HTTP statuses transient so they count against
// the provider's circuit breaker.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if code := statusCode(err); resilience.IsTransientHTTPStatus(code) {
		return resilience.NewTransientError(err, code)
	}
	return err
}

func describe(provider string, err error) string {
	if code := statusCode(err); code != 0 {
		return fmt.Sprintf("%s error: %d", provider, code)
	}
	return fmt.Sprintf("%s failed: %s", provider, err.Error())
}

func statusCode(err error) int {
	var (
		apolloErr     *apollo.APIError
		hunterErr     *hunter.APIError
		pdlErr        *pdl.APIError
		zerobounceErr *zerobounce.APIError
		firecrawlErr  *firecrawl.APIError
		jinaErr       *jina.APIError
	)
	switch {
	case errors.As(err, &apolloErr):
		return apolloErr.StatusCode
	case errors.As(err, &hunterErr):
		return hunterErr.StatusCode
	case errors.As(err, &pdlErr):
		return pdlErr.StatusCode
	case errors.As(err, &zerobounceErr):
		return zerobounceErr.StatusCode
	case errors.As(err, &firecrawlErr):
		return firecrawlErr.StatusCode
	case errors.As(err, &jinaErr):
		return jinaErr.StatusCode
	}
	return 0
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
