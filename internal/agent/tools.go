package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"strings"

	"github.com/sells-group/campaign-cli/pkg/anthropic"
)

// Tool names offered to the model.
const (
	ToolSearchCompanies    = "searchCompanies"
	ToolSearchPeople       = "searchPeople"
	ToolScrapeWebsite      = "scrapeWebsite"
	ToolFindEmail          = "findEmail"
	ToolSaveLead           = "saveLead"
	ToolEnrichPerson       = "enrichPerson"
	ToolVerifyEmail        = "verifyEmail"
	ToolReadCompanyWebsite = "readCompanyWebsite"
	ToolUpdateLead         = "updateLead"
	ToolScoreLead          = "scoreLead"
)

// ToolCall is a decoded, validated tool invocation. The variant set is
// closed; stages switch on the concrete type.
type ToolCall interface {
	ToolName() string
	toolCall()
}

// SearchCompaniesCall searches for companies by keyword.
type SearchCompaniesCall struct {
	Query         string `json:"query"`
	Location      string `json:"location,omitempty"`
	EmployeeRange string `json:"employeeRange,omitempty"`
}

// SearchPeopleCall searches for people by title, optionally within a domain.
type SearchPeopleCall struct {
	Titles []string `json:"titles"`
	Domain string   `json:"domain,omitempty"`
}

// ScrapeWebsiteCall scrapes a page for team or about content.
type ScrapeWebsiteCall struct {
	URL string `json:"url"`
}

// FindEmailCall looks up a person's email at a domain.
type FindEmailCall struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Domain    string `json:"domain"`
}

// SaveLeadCall persists a discovered lead.
type SaveLeadCall struct {
	Name            string   `json:"name"`
	Company         string   `json:"company"`
	Position        string   `json:"position"`
	Email           string   `json:"email,omitempty"`
	LinkedInURL     string   `json:"linkedin_url,omitempty"`
	ConfidenceScore float64  `json:"confidence_score"`
	DiscoverySource string   `json:"discovery_source"`
	AISummary       string   `json:"ai_summary"`
	Signals         []string `json:"signals"`
}

// Score returns the confidence score rounded to an integer.
func (c SaveLeadCall) Score() int { return int(math.Round(c.ConfidenceScore)) }

// EnrichPersonCall enriches a person profile. At least one field is set.
type EnrichPersonCall struct {
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Company   string `json:"company,omitempty"`
}

// VerifyEmailCall checks deliverability of an address.
type VerifyEmailCall struct {
	Email string `json:"email"`
}

// ReadCompanyWebsiteCall reads a company page as text.
type ReadCompanyWebsiteCall struct {
	URL string `json:"url"`
}

// UpdateLeadCall merges enrichment data into a lead. Nil pointers leave the
// field untouched.
type UpdateLeadCall struct {
	LeadID      string   `json:"leadId"`
	Email       *string  `json:"email,omitempty"`
	LinkedInURL *string  `json:"linkedin_url,omitempty"`
	Signals     []string `json:"signals,omitempty"`
	AISummary   string   `json:"ai_summary,omitempty"`
}

// ScoreLeadCall replaces the scoring fields of a lead.
type ScoreLeadCall struct {
	LeadID          string   `json:"leadId"`
	ConfidenceScore float64  `json:"confidence_score"`
	AISummary       string   `json:"ai_summary"`
	Signals         []string `json:"signals"`
}

// Score returns the confidence score rounded to an integer.
func (c ScoreLeadCall) Score() int { return int(math.Round(c.ConfidenceScore)) }

func (SearchCompaniesCall) ToolName() string    { return ToolSearchCompanies }
func (SearchPeopleCall) ToolName() string       { return ToolSearchPeople }
func (ScrapeWebsiteCall) ToolName() string      { return ToolScrapeWebsite }
func (FindEmailCall) ToolName() string          { return ToolFindEmail }
func (SaveLeadCall) ToolName() string           { return ToolSaveLead }
func (EnrichPersonCall) ToolName() string       { return ToolEnrichPerson }
func (VerifyEmailCall) ToolName() string        { return ToolVerifyEmail }
func (ReadCompanyWebsiteCall) ToolName() string { return ToolReadCompanyWebsite }
func (UpdateLeadCall) ToolName() string         { return ToolUpdateLead }
func (ScoreLeadCall) ToolName() string          { return ToolScoreLead }

func (SearchCompaniesCall) toolCall()    {}
func (SearchPeopleCall) toolCall()       {}
func (ScrapeWebsiteCall) toolCall()      {}
func (FindEmailCall) toolCall()          {}
func (SaveLeadCall) toolCall()           {}
func (EnrichPersonCall) toolCall()       {}
func (VerifyEmailCall) toolCall()        {}
func (ReadCompanyWebsiteCall) toolCall() {}
func (UpdateLeadCall) toolCall()         {}
func (ScoreLeadCall) toolCall()          {}

func (c SearchCompaniesCall) validate() error { return nonBlank("query", c.Query) }

func (c SearchPeopleCall) validate() error {
	for _, t := range c.Titles {
		if strings.TrimSpace(t) != "" {
			return nil
		}
	}
	return fmt.Errorf("titles must contain at least one title")
}

func (c ScrapeWebsiteCall) validate() error      { return validURL(c.URL) }
func (c ReadCompanyWebsiteCall) validate() error { return validURL(c.URL) }
func (c VerifyEmailCall) validate() error        { return validEmail(c.Email) }

func (c FindEmailCall) validate() error {
	return firstErr(
		nonBlank("firstName", c.FirstName),
		nonBlank("lastName", c.LastName),
		nonBlank("domain", c.Domain),
	)
}

func (c SaveLeadCall) validate() error {
	return firstErr(
		nonBlank("name", c.Name),
		nonBlank("company", c.Company),
		nonBlank("position", c.Position),
		scoreRange(c.ConfidenceScore),
	)
}

func (c EnrichPersonCall) validate() error {
	if c.Email == "" && c.FirstName == "" && c.LastName == "" && c.Company == "" {
		return fmt.Errorf("at least one of email, firstName, lastName, company is required")
	}
	return nil
}

func (c UpdateLeadCall) validate() error { return nonBlank("leadId", c.LeadID) }

func (c ScoreLeadCall) validate() error {
	return firstErr(nonBlank("leadId", c.LeadID), scoreRange(c.ConfidenceScore))
}

// ValidationError reports tool input the model must correct.
type ValidationError struct {
	Tool   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s input: %s", e.Tool, e.Reason)
}

type validator interface {
	ToolCall
	validate() error
}

type toolDef struct {
	tool   anthropic.Tool
	decode func(raw json.RawMessage) (ToolCall, error)
}

func decodeAs[T validator](raw json.RawMessage) (ToolCall, error) {
	var call T
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&call); err != nil {
		return nil, err
	}
	if err := call.validate(); err != nil {
		return nil, err
	}
	return call, nil
}

// Decode parses and validates the raw input of a tool_use block.
func Decode(name string, raw json.RawMessage) (ToolCall, error) {
	def, ok := registry[name]
	if !ok {
		return nil, &ValidationError{Tool: name, Reason: "unknown tool"}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &ValidationError{Tool: name, Reason: "input must be a JSON object"}
	}
	for _, req := range def.tool.Required {
		v, ok := fields[req]
		if !ok || string(v) == "null" {
			return nil, &ValidationError{Tool: name, Reason: "missing required field " + req}
		}
	}

	call, err := def.decode(raw)
	if err != nil {
		return nil, &ValidationError{Tool: name, Reason: err.Error()}
	}
	return call, nil
}

// Tools returns the declarations for the named tools in the given order.
// Unknown names are skipped.
func Tools(names ...string) []anthropic.Tool {
	out := make([]anthropic.Tool, 0, len(names))
	for _, n := range names {
		if def, ok := registry[n]; ok {
			out = append(out, def.tool)
		}
	}
	return out
}

// DiscoveryTools are offered to the discovery stage.
func DiscoveryTools() []anthropic.Tool {
	return Tools(ToolSearchCompanies, ToolSearchPeople, ToolScrapeWebsite, ToolFindEmail, ToolSaveLead)
}

// EnrichmentTools are offered to the enrichment stage.
func EnrichmentTools() []anthropic.Tool {
	return Tools(ToolEnrichPerson, ToolVerifyEmail, ToolReadCompanyWebsite, ToolUpdateLead)
}

// QualificationTools are offered to the qualification stage.
func QualificationTools() []anthropic.Tool {
	return Tools(ToolScoreLead)
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func strList(desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
}

func score(desc string) map[string]any {
	return map[string]any{"type": "number", "minimum": 0, "maximum": 100, "description": desc}
}

var registry = map[string]toolDef{
	ToolSearchCompanies: {
		tool: anthropic.Tool{
			Name:        ToolSearchCompanies,
			Description: "Search for companies matching industry, location, and size criteria. Returns a list of companies with basic info.",
			Properties: map[string]any{
				"query":         str("Industry or keyword to search for"),
				"location":      str("Geographic location filter"),
				"employeeRange": str(`Employee count range like "11,50" or "51,200"`),
			},
			Required: []string{"query"},
		},
		decode: decodeAs[SearchCompaniesCall],
	},
	ToolSearchPeople: {
		tool: anthropic.Tool{
			Name:        ToolSearchPeople,
			Description: "Search for people at companies by job title. Returns names, titles, emails, and LinkedIn URLs.",
			Properties: map[string]any{
				"titles": strList(`Job titles to search for, e.g. ["CTO", "VP Engineering"]`),
				"domain": str(`Company domain to search within, e.g. "acme.com"`),
			},
			Required: []string{"titles"},
		},
		decode: decodeAs[SearchPeopleCall],
	},
	ToolScrapeWebsite: {
		tool: anthropic.Tool{
			Name:        ToolScrapeWebsite,
			Description: "Scrape a company website to extract team/about page info. Use for companies without good data from search.",
			Properties: map[string]any{
				"url": str("The URL to scrape (e.g., company about page or team page)"),
			},
			Required: []string{"url"},
		},
		decode: decodeAs[ScrapeWebsiteCall],
	},
	ToolFindEmail: {
		tool: anthropic.Tool{
			Name:        ToolFindEmail,
			Description: "Find the email address for a specific person at a company domain.",
			Properties: map[string]any{
				"firstName": str("First name of the person"),
				"lastName":  str("Last name of the person"),
				"domain":    str(`Company domain, e.g. "acme.com"`),
			},
			Required: []string{"firstName", "lastName", "domain"},
		},
		decode: decodeAs[FindEmailCall],
	},
	ToolSaveLead: {
		tool: anthropic.Tool{
			Name:        ToolSaveLead,
			Description: "Save a discovered lead to the database. Call this for each qualified person you find.",
			Properties: map[string]any{
				"name":             str("Full name of the person"),
				"company":          str("Company name"),
				"position":         str("Job title / position"),
				"email":            str("Email address if found"),
				"linkedin_url":     str("LinkedIn profile URL if found"),
				"confidence_score": score("How confident you are this person matches the ICP (0-100)"),
				"discovery_source": str(`How you found this lead, e.g. "Apollo company search", "Website scrape"`),
				"ai_summary":       str("1-2 sentence explanation of why this person is a good lead"),
				"signals":          strList(`Discovery signals, e.g. ["Matches target role", "Company in target industry", "Recently funded"]`),
			},
			Required: []string{"name", "company", "position", "confidence_score", "discovery_source", "ai_summary", "signals"},
		},
		decode: decodeAs[SaveLeadCall],
	},
	ToolEnrichPerson: {
		tool: anthropic.Tool{
			Name:        ToolEnrichPerson,
			Description: "Enrich a person profile with additional data from People Data Labs.",
			Properties: map[string]any{
				"email":     str("Email to look up"),
				"firstName": str("First name"),
				"lastName":  str("Last name"),
				"company":   str("Company name"),
			},
		},
		decode: decodeAs[EnrichPersonCall],
	},
	ToolVerifyEmail: {
		tool: anthropic.Tool{
			Name:        ToolVerifyEmail,
			Description: "Verify if an email address is valid and deliverable.",
			Properties: map[string]any{
				"email": str("Email to verify"),
			},
			Required: []string{"email"},
		},
		decode: decodeAs[VerifyEmailCall],
	},
	ToolReadCompanyWebsite: {
		tool: anthropic.Tool{
			Name:        ToolReadCompanyWebsite,
			Description: "Read a company website page for additional context.",
			Properties: map[string]any{
				"url": str("Company URL to read"),
			},
			Required: []string{"url"},
		},
		decode: decodeAs[ReadCompanyWebsiteCall],
	},
	ToolUpdateLead: {
		tool: anthropic.Tool{
			Name:        ToolUpdateLead,
			Description: "Update a lead record with enriched information.",
			Properties: map[string]any{
				"leadId":       str("The lead ID to update"),
				"email":        str("Updated/verified email"),
				"linkedin_url": str("LinkedIn URL if found"),
				"signals":      strList("Additional signals from enrichment"),
				"ai_summary":   str("Updated AI summary with enrichment data"),
			},
			Required: []string{"leadId"},
		},
		decode: decodeAs[UpdateLeadCall],
	},
	ToolScoreLead: {
		tool: anthropic.Tool{
			Name:        ToolScoreLead,
			Description: "Score and qualify a single lead. Call this for every lead in the list.",
			Properties: map[string]any{
				"leadId":           str("The lead ID to score"),
				"confidence_score": score("ICP fit score 0-100"),
				"ai_summary":       str("2-3 sentence analysis of why this score was given and how the lead fits the ICP"),
				"signals":          strList(`Qualifying signals, e.g. ["Perfect role match", "Right company size", "Target industry"]`),
			},
			Required: []string{"leadId", "confidence_score", "ai_summary", "signals"},
		},
		decode: decodeAs[ScoreLeadCall],
	},
}

func nonBlank(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	return nil
}

func scoreRange(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 100 {
		return fmt.Errorf("confidence_score must be between 0 and 100")
	}
	return nil
}

func validURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) URL")
	}
	return nil
}

func validEmail(raw string) error {
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != strings.TrimSpace(raw) {
		return fmt.Errorf("email must be a valid address")
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
