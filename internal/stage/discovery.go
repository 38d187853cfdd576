package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/agent"
	"github.com/sells-group/campaign-cli/internal/capability"
	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/progress"
)

// DiscoveryResult is the output of the discovery stage.
type DiscoveryResult struct {
	Outcome
	LeadIDs []string `json:"lead_ids"`
}

const discoveryPrompt = `You are a B2B lead discovery agent for a CRM platform.
Your job is to find REAL people who match the campaign criteria below.

CAMPAIGN CRITERIA:
- Industry: %s
- Target Roles: %s
- Company Size: %s
- Region: %s
- Search Criteria: %s
- Minimum Confidence: %d%%
- Max Leads to Find: %d

INSTRUCTIONS:
1. Start by searching for companies matching the industry, size, and region.
2. For each promising company, search for people with matching titles/roles.
3. Try to find email addresses for the best matches.
4. Optionally scrape company websites for additional context about the team.
5. Save each qualified lead using the saveLead tool.
6. Include an ai_summary explaining WHY this person is a good lead.
7. Include discovery signals (e.g., "Matches target role", "Company in target industry").

Be thorough but efficient. Focus on quality over quantity.
If a tool returns an error about missing API keys, skip that tool and use alternatives.`

func discoverySystem(c *model.Campaign) string {
	return fmt.Sprintf(discoveryPrompt,
		c.TargetIndustry,
		strings.Join(c.TargetRoles, ", "),
		c.TargetCompanySize,
		c.TargetRegion,
		c.SearchCriteria,
		c.ConfidenceThreshold,
		c.MaxLeadsPerRun,
	)
}

// Discover runs the discovery stage. Every saved lead is committed before
// the loop continues, so a later failure keeps what was found. A repeated
// attempt starts from the leads the run already committed: they count
// towards the lead cap and are part of the result.
func (r *Runner) Discover(ctx context.Context, c *model.Campaign, runID string) (*DiscoveryResult, error) {
	s, err := r.newSession(ctx, NameDiscovery, model.AgentLeadScout, c.ID, runID)
	if err != nil {
		return nil, err
	}
	prior, err := r.store.RunLeadIDs(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "stage: leads already saved by run %s", runID)
	}
	res := &DiscoveryResult{LeadIDs: prior}
	s.baseline.LeadsFound = 0
	s.leads = len(prior)
	if len(prior) > 0 {
		s.log.Info("stage: discovery resuming with saved leads", zap.Int("leads", len(prior)))
	}

	s.activity(ctx, model.ActionDiscoveryStarted,
		fmt.Sprintf("Searching for %s in %s", strings.Join(c.TargetRoles, ", "), c.TargetIndustry), model.ActivityInfo)

	out, err := s.execute(ctx, agent.Request{
		System:    discoverySystem(c),
		Prompt:    "Find leads that match this campaign.",
		Tools:     agent.DiscoveryTools(),
		MaxRounds: r.rounds(r.cfg.Pipeline.DiscoveryMaxRounds, DefaultDiscoveryRounds),
	}, func(ctx context.Context, call agent.ToolCall) (string, error) {
		return s.discoveryTool(ctx, c, res, call)
	})
	res.Outcome = out
	if err != nil {
		return res, s.fail(ctx, model.ActionDiscoveryError, eris.Wrap(err, "stage: discovery"))
	}

	s.activity(ctx, model.ActionDiscoveryCompleted,
		fmt.Sprintf("Discovered %d leads in %d steps", len(res.LeadIDs), out.ToolCalls), model.ActivitySuccess)
	return res, nil
}

func (s *session) discoveryTool(ctx context.Context, c *model.Campaign, res *DiscoveryResult, call agent.ToolCall) (string, error) {
	caps := s.r.caps
	switch call := call.(type) {
	case agent.SearchCompaniesCall:
		return s.toolJSON(caps.SearchCompanies(ctx, capability.CompanyQuery{
			Query:         call.Query,
			Location:      call.Location,
			EmployeeRange: call.EmployeeRange,
		}))
	case agent.SearchPeopleCall:
		return s.toolJSON(caps.SearchPeople(ctx, capability.PeopleQuery{Titles: call.Titles, Domain: call.Domain}))
	case agent.ScrapeWebsiteCall:
		return s.toolJSON(caps.ScrapeURL(ctx, call.URL))
	case agent.FindEmailCall:
		return s.toolJSON(caps.FindEmail(ctx, call.FirstName, call.LastName, call.Domain))
	case agent.SaveLeadCall:
		return s.saveLead(ctx, c, res, call)
	default:
		return fmt.Sprintf("Error: %s is not available during discovery", call.ToolName()), nil
	}
}

func (s *session) saveLead(ctx context.Context, c *model.Campaign, res *DiscoveryResult, call agent.SaveLeadCall) (string, error) {
	if c.MaxLeadsPerRun > 0 && len(res.LeadIDs) >= c.MaxLeadsPerRun {
		return fmt.Sprintf("Lead limit reached (%d); %s was not saved. Stop searching.", c.MaxLeadsPerRun, call.Name), nil
	}
	if _, err := s.guard.Check(ctx); err != nil {
		return "", err
	}

	lead := &model.DiscoveredLead{
		CampaignID:      c.ID,
		RunID:           s.runID,
		Name:            call.Name,
		Email:           call.Email,
		Company:         call.Company,
		Position:        call.Position,
		LinkedInURL:     call.LinkedInURL,
		ConfidenceScore: model.ClampScore(call.Score()),
		DiscoverySource: call.DiscoverySource,
		Status:          model.LeadStatusPendingReview,
		AISummary:       call.AISummary,
		Signals:         call.Signals,
	}
	if err := s.r.store.InsertLead(ctx, lead); err != nil {
		return "", eris.Wrapf(err, "stage: save lead %s", call.Name)
	}
	res.LeadIDs = append(res.LeadIDs, lead.ID)
	s.leads++

	s.publish(ctx, progress.NewEvent(progress.KindLeadCreated, c.ID, s.runID, lead))
	s.activity(ctx, model.ActionLeadDiscovered,
		fmt.Sprintf("Found %s (%s) at %s, confidence: %d%%", lead.Name, lead.Position, lead.Company, lead.ConfidenceScore),
		model.ActivitySuccess)
	return fmt.Sprintf("Lead saved: %s at %s (confidence: %d%%)", lead.Name, lead.Company, lead.ConfidenceScore), nil
}
