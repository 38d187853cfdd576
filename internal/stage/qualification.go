package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/campaign-cli/internal/agent"
	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/progress"
)

// QualificationResult is the output of the qualification stage.
type QualificationResult struct {
	Outcome
	Qualified int `json:"qualified"`
}

const qualificationPrompt = `You are a lead qualification agent. Analyze each lead below against the Ideal Customer Profile (ICP).

ICP CRITERIA:
- Industry: %s
- Target Roles: %s
- Company Size: %s
- Region: %s
- Additional Criteria: %s
- Minimum Confidence Threshold: %d%%

LEADS TO QUALIFY:
%s

FOR EACH LEAD:
1. Analyze how well they match the ICP
2. Assign a confidence_score (0-100) based on fit
3. Write an ai_summary explaining the score
4. Add relevant signals
5. Call scoreLead for each one`

func qualificationSystem(c *model.Campaign, leads []model.DiscoveredLead) string {
	blocks := make([]string, 0, len(leads))
	for i, l := range leads {
		blocks = append(blocks, fmt.Sprintf(`%d. ID: %s
   Name: %s
   Position: %s
   Company: %s
   Email: %s
   Current Score: %d
   Signals: %s
   Current Summary: %s`,
			i+1, l.ID, l.Name, l.Position, l.Company, orDefault(l.Email, "unknown"),
			l.ConfidenceScore, strings.Join(l.Signals, ", "), orDefault(l.AISummary, "none")))
	}
	return fmt.Sprintf(qualificationPrompt,
		c.TargetIndustry,
		strings.Join(c.TargetRoles, ", "),
		c.TargetCompanySize,
		c.TargetRegion,
		c.SearchCriteria,
		c.ConfidenceThreshold,
		strings.Join(blocks, "\n\n"),
	)
}

// Qualify runs the qualification stage over leadIDs. An empty list is a no-op.
func (r *Runner) Qualify(ctx context.Context, c *model.Campaign, runID string, leadIDs []string) (*QualificationResult, error) {
	res := &QualificationResult{}
	if len(leadIDs) == 0 {
		return res, nil
	}
	s, err := r.newSession(ctx, NameQualification, model.AgentLeadQualifier, c.ID, runID)
	if err != nil {
		return res, err
	}

	leads, err := r.store.GetLeads(ctx, leadIDs)
	if err != nil {
		return res, s.fail(ctx, model.ActionQualificationError, eris.Wrap(err, "stage: qualification: load leads"))
	}
	if len(leads) == 0 {
		return res, nil
	}

	s.activity(ctx, model.ActionQualificationStart,
		fmt.Sprintf("Qualifying %d leads against ICP", len(leads)), model.ActivityInfo)
	allowed := leadSet(leadIDs)
	scored := make(map[string]bool, len(leads))
	out, err := s.execute(ctx, agent.Request{
		System:    qualificationSystem(c, leads),
		Prompt:    "Score every lead listed above.",
		Tools:     agent.QualificationTools(),
		MaxRounds: r.rounds(r.cfg.Pipeline.QualificationMaxRounds, DefaultQualificationRounds),
	}, func(ctx context.Context, call agent.ToolCall) (string, error) {
		score, ok := call.(agent.ScoreLeadCall)
		if !ok {
			return fmt.Sprintf("Error: %s is not available during qualification", call.ToolName()), nil
		}
		return s.scoreLead(ctx, allowed, scored, score)
	})
	res.Outcome = out
	res.Qualified = len(scored)
	if err != nil {
		return res, s.fail(ctx, model.ActionQualificationError, eris.Wrap(err, "stage: qualification"))
	}
	s.activity(ctx, model.ActionQualificationDone, fmt.Sprintf("Qualified %d leads", res.Qualified), model.ActivitySuccess)
	return res, nil
}

func (s *session) scoreLead(ctx context.Context, allowed, scored map[string]bool, call agent.ScoreLeadCall) (string, error) {
	if !allowed[call.LeadID] {
		return fmt.Sprintf("Error: lead %s is not part of this run", call.LeadID), nil
	}
	if _, err := s.guard.Check(ctx); err != nil {
		return "", err
	}
	score := model.ClampScore(call.Score())
	err := s.r.store.ScoreLead(ctx, call.LeadID, model.LeadScore{
		ConfidenceScore: score,
		AISummary:       call.AISummary,
		Signals:         call.Signals,
	})
	if err != nil {
		return "", eris.Wrapf(err, "stage: score lead %s", call.LeadID)
	}
	scored[call.LeadID] = true

	s.publish(ctx, progress.NewEvent(progress.KindLeadUpdated, s.campaignID, s.runID, map[string]any{
		"id":               call.LeadID,
		"confidence_score": score,
		"ai_summary":       call.AISummary,
		"signals":          call.Signals,
	}))
	s.activity(ctx, model.ActionLeadQualified, fmt.Sprintf("Scored %s at %d%%", call.LeadID, score), model.ActivitySuccess)
	return fmt.Sprintf("Lead %s scored: %d%%: %s...", call.LeadID, score, truncateRunes(call.AISummary, 100)), nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
