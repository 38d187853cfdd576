package model

import "time"

// LeadStatus represents the review state of a discovered lead.
type LeadStatus string

const (
	LeadStatusPendingReview LeadStatus = "pending_review"
	LeadStatusApproved      LeadStatus = "approved"
	LeadStatusRejected      LeadStatus = "rejected"
	LeadStatusImported      LeadStatus = "imported"
)

// DiscoveredLead is a candidate person record produced by discovery.
type DiscoveredLead struct {
	ID              string     `json:"id"`
	CampaignID      string     `json:"campaign_id"`
	RunID           string     `json:"run_id,omitempty"`
	Name            string     `json:"name"`
	Email           string     `json:"email,omitempty"`
	Company         string     `json:"company,omitempty"`
	Position        string     `json:"position,omitempty"`
	LinkedInURL     string     `json:"linkedin_url,omitempty"`
	ConfidenceScore int        `json:"confidence_score"`
	DiscoverySource string     `json:"discovery_source,omitempty"`
	Status          LeadStatus `json:"status"`
	AISummary       string     `json:"ai_summary,omitempty"`
	Signals         []string   `json:"signals"`
	DiscoveredAt    time.Time  `json:"discovered_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// LeadEnrichment is a partial update from the enrichment stage. Nil fields
// are left untouched; Signals are merged into the existing set.
type LeadEnrichment struct {
	Email       *string
	LinkedInURL *string
	AISummary   *string
	Signals     []string
}

// LeadScore replaces the scoring fields of a lead.
type LeadScore struct {
	ConfidenceScore int
	AISummary       string
	Signals         []string
}

// MergeSignals returns the ordered union of existing and incoming with
// duplicates and blanks removed. Existing order is preserved.
func MergeSignals(existing, incoming []string) []string {
	out := make([]string, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, list := range [][]string{existing, incoming} {
		for _, s := range list {
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// ClampScore bounds a confidence score to 0-100.
func ClampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
