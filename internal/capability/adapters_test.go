package capability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/campaign-cli/internal/config"
	"github.com/sells-group/campaign-cli/internal/resilience"
)

func provider(url string) config.ProviderConfig {
	return config.ProviderConfig{Key: "k", BaseURL: url}
}

func jsonServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNotConfigured(t *testing.T) {
	t.Parallel()

	a := New(config.ProvidersConfig{}, nil)
	ctx := context.Background()

	assert.Equal(t, "Apollo API key not configured", a.SearchCompanies(ctx, CompanyQuery{Query: "x"}).Error)
	assert.Equal(t, "Apollo API key not configured", a.SearchPeople(ctx, PeopleQuery{}).Error)
	assert.Equal(t, "Hunter API key not configured", a.FindEmail(ctx, "a", "b", "c.com").Error)
	assert.Equal(t, "PDL API key not configured", a.EnrichPerson(ctx, PersonQuery{}).Error)

	v := a.VerifyEmail(ctx, "a@b.com")
	assert.False(t, v.OK())
	assert.Equal(t, "ZeroBounce API key not configured", v.Error)
	assert.Equal(t, "unknown", v.Data.Status)
	assert.False(t, v.Data.Valid)
}

func TestSearchCompanies(t *testing.T) {
	t.Parallel()

	srv := jsonServer(t, http.StatusOK, `{"organizations":[{"id":"o1","name":"Acme","website_url":"https://acme.com","primary_domain":"acme.com","industry":"fintech","estimated_num_employees":40}]}`)
	a := New(config.ProvidersConfig{Apollo: provider(srv.URL)}, nil)

	r := a.SearchCompanies(context.Background(), CompanyQuery{Query: "fintech", Location: "Austin"})
	require.True(t, r.OK(), r.Error)
	require.Len(t, r.Data, 1)
	assert.Equal(t, Company{
		ID: "o1", Name: "Acme", Website: "https://acme.com", Domain: "acme.com",
		Industry: "fintech", Employees: 40,
	}, r.Data[0])
}

func TestSearchPeople(t *testing.T) {
	t.Parallel()

	srv := jsonServer(t, http.StatusOK, `{"people":[{"id":"p1","name":"Ada Lovelace","title":"CTO","organization":{"name":"Acme","primary_domain":"acme.com"}},{"id":"p2","name":"No Org"}]}`)
	a := New(config.ProvidersConfig{Apollo: provider(srv.URL)}, nil)

	r := a.SearchPeople(context.Background(), PeopleQuery{Titles: []string{"CTO"}})
	require.True(t, r.OK())
	require.Len(t, r.Data, 2)
	assert.Equal(t, "Acme", r.Data[0].Company)
	assert.Equal(t, "acme.com", r.Data[0].CompanyDomain)
	assert.Empty(t, r.Data[1].Company)
}

func TestProviderErrorStatus(t *testing.T) {
	t.Parallel()

	srv := jsonServer(t, http.StatusUnauthorized, `{"error":"bad key"}`)
	a := New(config.ProvidersConfig{Hunter: provider(srv.URL)}, nil)

	r := a.FindEmail(context.Background(), "a", "b", "c.com")
	assert.False(t, r.OK())
	assert.Equal(t, "Hunter error: 401", r.Error)
}

func TestProviderNetworkFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	a := New(config.ProvidersConfig{PDL: provider(url)}, nil)
	r := a.EnrichPerson(context.Background(), PersonQuery{Email: "a@b.com"})
	assert.False(t, r.OK())
	assert.True(t, strings.HasPrefix(r.Error, "PDL failed: "), r.Error)
}

func TestEnrichPerson(t *testing.T) {
	t.Parallel()

	srv := jsonServer(t, http.StatusOK, `{"data":{"full_name":"ada lovelace","work_email":"ada@acme.com","job_title":"cto","job_company_name":"acme","skills":["math"]}}`)
	a := New(config.ProvidersConfig{PDL: provider(srv.URL)}, nil)

	r := a.EnrichPerson(context.Background(), PersonQuery{Email: "ada@acme.com"})
	require.True(t, r.OK())
	assert.Equal(t, "ada@acme.com", r.Data.Email)
	assert.Equal(t, "cto", r.Data.Title)
	assert.Equal(t, []string{"math"}, r.Data.Skills)
}

func TestVerifyEmail(t *testing.T) {
	t.Parallel()

	valid := jsonServer(t, http.StatusOK, `{"status":"valid"}`)
	a := New(config.ProvidersConfig{ZeroBounce: provider(valid.URL)}, nil)
	r := a.VerifyEmail(context.Background(), "a@b.com")
	require.True(t, r.OK())
	assert.True(t, r.Data.Valid)

	invalid := jsonServer(t, http.StatusOK, `{"status":"invalid","sub_status":"mailbox_not_found"}`)
	a = New(config.ProvidersConfig{ZeroBounce: provider(invalid.URL)}, nil)
	r = a.VerifyEmail(context.Background(), "a@b.com")
	require.True(t, r.OK())
	assert.False(t, r.Data.Valid)
	assert.Equal(t, "mailbox_not_found", r.Data.SubStatus)
}

func TestScrapeURL_FallsBackToJina(t *testing.T) {
	t.Parallel()

	var hits []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, r.URL.Path)
		mu.Unlock()
		_, _ = w.Write([]byte("reader text"))
	}))
	defer srv.Close()

	a := New(config.ProvidersConfig{Jina: config.ProviderConfig{BaseURL: srv.URL}}, nil)
	r := a.ScrapeURL(context.Background(), "https://acme.com")
	require.True(t, r.OK(), r.Error)
	assert.Equal(t, "reader text", r.Data.Content)
	assert.Equal(t, "jina", r.Data.Source)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/https://acme.com"}, hits)
}

func TestScrapeURL_Firecrawl(t *testing.T) {
	t.Parallel()

	srv := jsonServer(t, http.StatusOK, `{"success":true,"data":{"markdown":"# Acme","metadata":{"title":"Acme"}}}`)
	a := New(config.ProvidersConfig{Firecrawl: provider(srv.URL)}, nil)

	r := a.ScrapeURL(context.Background(), "https://acme.com")
	require.True(t, r.OK())
	assert.Equal(t, "# Acme", r.Data.Content)
	assert.Equal(t, "firecrawl", r.Data.Source)
	assert.Equal(t, "Acme", r.Data.Title)
}

func TestScrapeURL_FirecrawlErrorDoesNotFallBack(t *testing.T) {
	t.Parallel()

	srv := jsonServer(t, http.StatusPaymentRequired, `{}`)
	a := New(config.ProvidersConfig{Firecrawl: provider(srv.URL)}, nil)

	r := a.ScrapeURL(context.Background(), "https://acme.com")
	assert.Equal(t, "Firecrawl error: 402", r.Error)
}

func TestReadURL_Truncates(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", MaxReadChars+50)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(long))
	}))
	defer srv.Close()

	a := New(config.ProvidersConfig{Jina: config.ProviderConfig{BaseURL: srv.URL}}, nil)
	r := a.ReadURL(context.Background(), "https://acme.com")
	require.True(t, r.OK())
	assert.Equal(t, MaxReadChars, len([]rune(r.Data.Content)))
}

func TestTransientFailuresOpenBreaker(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := resilience.DefaultBreakerConfig()
	cfg.FailureThreshold = 2
	cfg.ResetTimeout = time.Hour
	breakers := resilience.NewBreakers(cfg)

	var observed []string
	a := New(config.ProvidersConfig{Apollo: provider(srv.URL)}, breakers, WithObserver(func(p string, err error, _ time.Duration) {
		observed = append(observed, p+":"+resilience.Classify(err))
	}))

	ctx := context.Background()
	assert.Equal(t, "Apollo error: 503", a.SearchCompanies(ctx, CompanyQuery{Query: "x"}).Error)
	assert.Equal(t, "Apollo error: 503", a.SearchCompanies(ctx, CompanyQuery{Query: "x"}).Error)

	r := a.SearchCompanies(ctx, CompanyQuery{Query: "x"})
	assert.True(t, strings.HasPrefix(r.Error, "Apollo failed: "), r.Error)
	assert.Contains(t, r.Error, "circuit breaker is open")
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []resilience.BreakerState{
		{Name: "apollo", State: "open"},
		{Name: "firecrawl", State: "closed"},
		{Name: "hunter", State: "closed"},
		{Name: "jina", State: "closed"},
		{Name: "pdl", State: "closed"},
		{Name: "zerobounce", State: "closed"},
	}, breakers.Snapshot())
	assert.Equal(t, []string{"Apollo:transient", "Apollo:transient", "Apollo:permanent"}, observed)
}

func TestProbe(t *testing.T) {
	t.Parallel()

	apolloSrv := jsonServer(t, http.StatusOK, `{"organizations":[{"id":"o1","name":"Acme"}]}`)
	pdlSrv := jsonServer(t, http.StatusNotFound, `{}`)
	jinaSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("Example Domain"))
	}))
	defer jinaSrv.Close()

	a := New(config.ProvidersConfig{
		Apollo: provider(apolloSrv.URL),
		PDL:    provider(pdlSrv.URL),
		Jina:   config.ProviderConfig{BaseURL: jinaSrv.URL},
	}, nil)

	got := a.Probe(context.Background())
	assert.Equal(t, []ProbeResult{
		{Provider: "apollo", OK: true, Message: "Found 1 companies"},
		{Provider: "hunter", OK: false, Message: "Hunter API key not configured"},
		{Provider: "pdl", OK: true, Message: "Reachable, no match"},
		{Provider: "zerobounce", OK: false, Message: "ZeroBounce API key not configured"},
		{Provider: "firecrawl", OK: false, Message: "Firecrawl API key not configured"},
		{Provider: "jina", OK: true, Message: "Read 14 chars"},
	}, got)
}
