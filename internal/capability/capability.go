// Package capability wraps the enrichment providers behind a
// result-or-error surface the agent tools can hand straight to the model.
// Expected provider failures (missing key, non-2xx, network) never surface
// as Go errors; they become Result.Error strings.
package capability

import "context"

// MaxReadChars caps ReadURL content so it fits a model context window.
const MaxReadChars = 10000

// Result is either Data or a human-readable Error.
type Result[T any] struct {
	Data  T      `json:"data"`
	Error string `json:"error,omitempty"`
}

// OK reports whether the call succeeded.
func (r Result[T]) OK() bool { return r.Error == "" }

// Capabilities is the set of external lookups available to agent stages.
type Capabilities interface {
	SearchCompanies(ctx context.Context, q CompanyQuery) Result[[]Company]
	SearchPeople(ctx context.Context, q PeopleQuery) Result[[]Person]
	FindEmail(ctx context.Context, firstName, lastName, domain string) Result[EmailMatch]
	ScrapeURL(ctx context.Context, url string) Result[Page]
	ReadURL(ctx context.Context, url string) Result[Page]
	EnrichPerson(ctx context.Context, q PersonQuery) Result[EnrichedPerson]
	VerifyEmail(ctx context.Context, email string) Result[EmailVerification]
}

// CompanyQuery filters a company search.
type CompanyQuery struct {
	Query         string
	Location      string
	EmployeeRange string
	PerPage       int
}

// PeopleQuery filters a people search.
type PeopleQuery struct {
	Titles  []string
	Domain  string
	PerPage int
}

// PersonQuery identifies a person to enrich.
type PersonQuery struct {
	Email       string
	FirstName   string
	LastName    string
	Company     string
	LinkedInURL string
}

// Company is a company search hit.
type Company struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Website     string `json:"website,omitempty"`
	Domain      string `json:"domain,omitempty"`
	Industry    string `json:"industry,omitempty"`
	Employees   int    `json:"employees,omitempty"`
	City        string `json:"city,omitempty"`
	State       string `json:"state,omitempty"`
	Country     string `json:"country,omitempty"`
	Description string `json:"description,omitempty"`
	LinkedInURL string `json:"linkedin_url,omitempty"`
	FoundedYear int    `json:"founded_year,omitempty"`
}

// Person is a people search hit.
type Person struct {
	ID            string `json:"id"`
	FirstName     string `json:"firstName,omitempty"`
	LastName      string `json:"lastName,omitempty"`
	Name          string `json:"name"`
	Title         string `json:"title,omitempty"`
	Email         string `json:"email,omitempty"`
	LinkedInURL   string `json:"linkedin_url,omitempty"`
	Company       string `json:"company,omitempty"`
	CompanyDomain string `json:"companyDomain,omitempty"`
	City          string `json:"city,omitempty"`
	State         string `json:"state,omitempty"`
	Country       string `json:"country,omitempty"`
}

// EmailMatch is an email finder result. Email is empty when nothing matched.
type EmailMatch struct {
	Email      string `json:"email"`
	Confidence int    `json:"confidence"`
}

// Page is scraped or read web content.
type Page struct {
	Title    string         `json:"title,omitempty"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Source   string         `json:"source"`
}

// EnrichedPerson is a person profile from an enrichment provider.
type EnrichedPerson struct {
	FullName        string   `json:"fullName"`
	FirstName       string   `json:"firstName,omitempty"`
	LastName        string   `json:"lastName,omitempty"`
	Email           string   `json:"email,omitempty"`
	Phone           string   `json:"phone,omitempty"`
	Title           string   `json:"title,omitempty"`
	Company         string   `json:"company,omitempty"`
	CompanySize     string   `json:"companySize,omitempty"`
	CompanyIndustry string   `json:"companyIndustry,omitempty"`
	CompanyWebsite  string   `json:"companyWebsite,omitempty"`
	LinkedIn        string   `json:"linkedin,omitempty"`
	Location        string   `json:"location,omitempty"`
	Skills          []string `json:"skills,omitempty"`
}

// EmailVerification is a deliverability verdict.
type EmailVerification struct {
	Status    string `json:"status"`
	SubStatus string `json:"subStatus"`
	Valid     bool   `json:"valid"`
}
