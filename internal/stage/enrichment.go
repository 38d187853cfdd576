package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/campaign-cli/internal/agent"
	"github.com/sells-group/campaign-cli/internal/capability"
	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/progress"
)

// EnrichmentResult is the output of the enrichment stage.
type EnrichmentResult struct {
	Outcome
	Enriched int `json:"enriched"`
}

const enrichmentPrompt = `You are a lead enrichment agent. You have a list of recently discovered leads.
For each lead, use the available tools to:
1. Enrich their profile with additional data (company info, social profiles, skills)
2. Verify their email address if one exists
3. Optionally read their company website for additional context

After enriching, update each lead with the new information using its ID.

LEADS TO ENRICH:
%s

Be efficient. If enrichment tools are not configured, note that and move on.`

func enrichmentSystem(leads []model.DiscoveredLead) string {
	lines := make([]string, 0, len(leads))
	for i, l := range leads {
		lines = append(lines, fmt.Sprintf("%d. [ID: %s] %s, %s at %s (email: %s)",
			i+1, l.ID, l.Name, l.Position, l.Company, orDefault(l.Email, "unknown")))
	}
	return fmt.Sprintf(enrichmentPrompt, strings.Join(lines, "\n"))
}

// Enrich runs the enrichment stage over leadIDs. An empty list is a no-op.
func (r *Runner) Enrich(ctx context.Context, c *model.Campaign, runID string, leadIDs []string) (*EnrichmentResult, error) {
	res := &EnrichmentResult{}
	if len(leadIDs) == 0 {
		return res, nil
	}
	s, err := r.newSession(ctx, NameEnrichment, model.AgentLeadEnricher, c.ID, runID)
	if err != nil {
		return res, err
	}

	leads, err := r.store.GetLeads(ctx, leadIDs)
	if err != nil {
		return res, s.fail(ctx, model.ActionEnrichmentError, eris.Wrap(err, "stage: enrichment: load leads"))
	}
	if len(leads) == 0 {
		return res, nil
	}

	s.activity(ctx, model.ActionEnrichmentStarted,
		fmt.Sprintf("Enriching %d discovered leads", len(leads)), model.ActivityInfo)
	allowed := leadSet(leadIDs)
	enriched := make(map[string]bool, len(leads))
	out, err := s.execute(ctx, agent.Request{
		System:    enrichmentSystem(leads),
		Prompt:    "Enrich the leads listed above.",
		Tools:     agent.EnrichmentTools(),
		MaxRounds: r.rounds(r.cfg.Pipeline.EnrichmentMaxRounds, DefaultEnrichmentRounds),
	}, func(ctx context.Context, call agent.ToolCall) (string, error) {
		return s.enrichmentTool(ctx, allowed, enriched, call)
	})
	res.Outcome = out
	res.Enriched = len(enriched)
	if err != nil {
		return res, s.fail(ctx, model.ActionEnrichmentError, eris.Wrap(err, "stage: enrichment"))
	}
	s.activity(ctx, model.ActionEnrichmentComplete, fmt.Sprintf("Enriched %d leads", res.Enriched), model.ActivitySuccess)
	return res, nil
}

func (s *session) enrichmentTool(ctx context.Context, allowed, enriched map[string]bool, call agent.ToolCall) (string, error) {
	caps := s.r.caps
	switch call := call.(type) {
	case agent.EnrichPersonCall:
		return s.toolJSON(caps.EnrichPerson(ctx, capability.PersonQuery{
			Email:     call.Email,
			FirstName: call.FirstName,
			LastName:  call.LastName,
			Company:   call.Company,
		}))
	case agent.VerifyEmailCall:
		return s.toolJSON(caps.VerifyEmail(ctx, call.Email))
	case agent.ReadCompanyWebsiteCall:
		return s.toolJSON(caps.ReadURL(ctx, call.URL))
	case agent.UpdateLeadCall:
		if !allowed[call.LeadID] {
			return fmt.Sprintf("Error: lead %s is not part of this run", call.LeadID), nil
		}
		if _, err := s.guard.Check(ctx); err != nil {
			return "", err
		}
		upd := model.LeadEnrichment{
			Email:       call.Email,
			LinkedInURL: call.LinkedInURL,
			Signals:     call.Signals,
		}
		if call.AISummary != "" {
			upd.AISummary = &call.AISummary
		}
		lead, err := s.r.store.EnrichLead(ctx, call.LeadID, upd)
		if err != nil {
			return "", eris.Wrapf(err, "stage: update lead %s", call.LeadID)
		}
		enriched[call.LeadID] = true

		s.publish(ctx, progress.NewEvent(progress.KindLeadUpdated, s.campaignID, s.runID, lead))
		s.activity(ctx, model.ActionLeadEnriched,
			fmt.Sprintf("Enriched lead %s with new data", lead.Name), model.ActivitySuccess)
		return fmt.Sprintf("Lead %s updated successfully", call.LeadID), nil
	default:
		return fmt.Sprintf("Error: %s is not available during enrichment", call.ToolName()), nil
	}
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
