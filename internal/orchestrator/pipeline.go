// Package orchestrator sequences the discovery, enrichment and qualification
// stages of a campaign run and owns the run's lifecycle transitions.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/config"
	"github.com/sells-group/campaign-cli/internal/cost"
	"github.com/sells-group/campaign-cli/internal/durable"
	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/progress"
	"github.com/sells-group/campaign-cli/internal/resilience"
	"github.com/sells-group/campaign-cli/internal/stage"
	"github.com/sells-group/campaign-cli/internal/store"
)

// Durable step names, also used as Temporal activity names.
const (
	StepLoad     = "load-campaign"
	StepDiscover = "run-discovery"
	StepEnrich   = "run-enrichment"
	StepQualify  = "run-qualification"
	StepFinalize = "finalize"
)

// Stages runs the three agent stages. *stage.Runner implements it.
type Stages interface {
	Discover(ctx context.Context, c *model.Campaign, runID string) (*stage.DiscoveryResult, error)
	Enrich(ctx context.Context, c *model.Campaign, runID string, leadIDs []string) (*stage.EnrichmentResult, error)
	Qualify(ctx context.Context, c *model.Campaign, runID string, leadIDs []string) (*stage.QualificationResult, error)
}

// LoadResult is the memoized output of the load step.
type LoadResult struct {
	Campaign  model.Campaign `json:"campaign"`
	Cancelled bool           `json:"cancelled"`
}

// Summary describes how a run ended.
type Summary struct {
	CampaignID string  `json:"campaign_id"`
	RunID      string  `json:"run_id"`
	LeadsFound int     `json:"leads_found"`
	Enriched   int     `json:"enriched"`
	Qualified  int     `json:"qualified"`
	TokensUsed int     `json:"tokens_used"`
	APICalls   int     `json:"api_calls"`
	CostUSD    float64 `json:"cost_usd"`
	Finalized  bool    `json:"finalized"`
	Cancelled  bool    `json:"cancelled"`
}

// Observer is told how every run handled by Run ended.
type Observer func(status model.RunStatus, elapsed time.Duration)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver registers a run observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// Pipeline drives one campaign run through its stages.
type Pipeline struct {
	cfg      config.Config
	store    store.Store
	stages   Stages
	costs    *cost.Calculator
	pub      progress.Publisher
	observer Observer
	now      func() time.Time
}

// New creates a Pipeline. A nil publisher discards progress events.
func New(cfg config.Config, st store.Store, stages Stages, costs *cost.Calculator, pub progress.Publisher, opts ...Option) *Pipeline {
	if pub == nil {
		pub = progress.Nop{}
	}
	if costs == nil {
		costs = cost.NewCalculator(cfg.Pricing)
	}
	p := &Pipeline{
		cfg:    cfg,
		store:  st,
		stages: stages,
		costs:  costs,
		pub:    pub,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Journal returns the checkpoint journal Run uses for runID.
func (p *Pipeline) Journal(runID string) *durable.Journal {
	retry := resilience.StepRetryConfig(p.cfg.Pipeline.StepMaxAttempts, p.cfg.Pipeline.StepBackoffMs)
	return durable.NewJournal(p.store, runID, retry)
}

// Run executes the whole pipeline for ev, resuming after the last step
// recorded in the run's journal. A run stopped mid-flight returns a
// cancelled summary and no error.
func (p *Pipeline) Run(ctx context.Context, ev model.CampaignStarted) (*Summary, error) {
	log := zap.L().With(zap.String("campaign_id", ev.CampaignID), zap.String("run_id", ev.RunID))
	log.Info("orchestrator: starting run")
	start := time.Now()

	sum, err := p.run(ctx, ev)
	status := model.RunStatusCompleted
	switch {
	case err != nil:
		status = model.RunStatusError
		log.Error("orchestrator: run failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
	case sum.Cancelled:
		status = model.RunStatusCancelled
		log.Info("orchestrator: run stopped", zap.Duration("elapsed", time.Since(start)))
	default:
		log.Info("orchestrator: run complete",
			zap.Int("leads_found", sum.LeadsFound),
			zap.Int("enriched", sum.Enriched),
			zap.Int("qualified", sum.Qualified),
			zap.Int("tokens", sum.TokensUsed),
			zap.Float64("cost_usd", sum.CostUSD),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
	if p.observer != nil {
		p.observer(status, time.Since(start))
	}
	return sum, err
}

func (p *Pipeline) run(ctx context.Context, ev model.CampaignStarted) (*Summary, error) {
	j := p.Journal(ev.RunID)

	load, err := durable.Step(ctx, j, StepLoad, func(ctx context.Context) (*LoadResult, error) {
		return p.Load(ctx, ev)
	})
	if err != nil {
		return p.abort(ctx, ev, err)
	}
	if load.Cancelled {
		return cancelled(ev), nil
	}
	c := &load.Campaign

	disc, err := durable.Step(ctx, j, StepDiscover, func(ctx context.Context) (*stage.DiscoveryResult, error) {
		return p.Discover(ctx, c, ev.RunID)
	})
	if err != nil {
		return p.abort(ctx, ev, err)
	}

	enr, err := durable.Step(ctx, j, StepEnrich, func(ctx context.Context) (*stage.EnrichmentResult, error) {
		return p.Enrich(ctx, c, ev.RunID, disc.LeadIDs)
	})
	if err != nil {
		return p.abort(ctx, ev, err)
	}

	qual, err := durable.Step(ctx, j, StepQualify, func(ctx context.Context) (*stage.QualificationResult, error) {
		return p.Qualify(ctx, c, ev.RunID, disc.LeadIDs)
	})
	if err != nil {
		return p.abort(ctx, ev, err)
	}

	sum, err := durable.Step(ctx, j, StepFinalize, func(ctx context.Context) (*Summary, error) {
		return p.Finalize(ctx, c, ev.RunID, disc, enr, qual)
	})
	if err != nil {
		return p.abort(ctx, ev, err)
	}

	if err := j.Clear(ctx); err != nil {
		zap.L().Warn("orchestrator: clear checkpoints", zap.String("run_id", ev.RunID), zap.Error(err))
	}
	return sum, nil
}

// abort decides what a step failure means for the run. A stopped run ends
// quietly, a shutdown leaves the run for resume, anything else fails it.
func (p *Pipeline) abort(ctx context.Context, ev model.CampaignStarted, err error) (*Summary, error) {
	if errors.Is(err, stage.ErrRunNotActive) {
		return cancelled(ev), nil
	}
	if ctx.Err() != nil {
		return nil, eris.Wrap(err, "orchestrator: interrupted")
	}
	if fErr := p.Fail(ctx, ev.CampaignID, ev.RunID, err); fErr != nil {
		zap.L().Error("orchestrator: record failure", zap.String("run_id", ev.RunID), zap.Error(fErr))
	}
	return nil, err
}

func cancelled(ev model.CampaignStarted) *Summary {
	return &Summary{CampaignID: ev.CampaignID, RunID: ev.RunID, Cancelled: true}
}

// Load marks the campaign and run as running. A run that was already
// stopped yields a cancelled result.
func (p *Pipeline) Load(ctx context.Context, ev model.CampaignStarted) (*LoadResult, error) {
	c, err := p.store.GetCampaign(ctx, ev.CampaignID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, resilience.Permanent(eris.Wrapf(err, "orchestrator: campaign not found: %s", ev.CampaignID))
		}
		return nil, eris.Wrap(err, "orchestrator: load campaign")
	}

	run, err := p.store.GetRun(ctx, ev.RunID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, resilience.Permanent(eris.Wrapf(err, "orchestrator: run not found: %s", ev.RunID))
		}
		return nil, eris.Wrap(err, "orchestrator: load run")
	}
	if run.CampaignID != c.ID {
		return nil, resilience.Permanent(eris.Errorf("orchestrator: run %s belongs to campaign %s", run.ID, run.CampaignID))
	}

	switch run.Status {
	case model.RunStatusCancelled:
		return &LoadResult{Campaign: *c, Cancelled: true}, nil
	case model.RunStatusCompleted, model.RunStatusError:
		return nil, resilience.Permanent(eris.Errorf("orchestrator: run %s already %s", run.ID, run.Status))
	case model.RunStatusPending:
		now := p.now().UTC()
		total := model.RunStepsTotal
		err := p.store.TransitionRun(ctx, run.ID, model.RunStatusRunning, model.RunUpdate{StartedAt: &now, StepsTotal: &total})
		if errors.Is(err, store.ErrIllegalTransition) {
			// Stopped between dispatch and start.
			return &LoadResult{Campaign: *c, Cancelled: true}, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "orchestrator: start run")
		}
	}

	if c.Status != model.CampaignStatusRunning {
		if err := p.store.TransitionCampaign(ctx, c.ID, model.CampaignStatusRunning); err != nil {
			return nil, eris.Wrap(err, "orchestrator: mark campaign running")
		}
		c.Status = model.CampaignStatusRunning
	}

	p.publishRun(ctx, ev.CampaignID, ev.RunID)
	p.activity(ctx, c.ID, firstAgent(ev.AgentIDs), model.ActionCampaignStarted,
		fmt.Sprintf("Started campaign %q", c.Name), model.ActivityInfo)
	return &LoadResult{Campaign: *c}, nil
}

// Discover runs the discovery stage. Its failure is fatal to the run. The
// lead list handed on is every lead the run committed, including those saved
// by an earlier attempt that failed.
func (p *Pipeline) Discover(ctx context.Context, c *model.Campaign, runID string) (*stage.DiscoveryResult, error) {
	res, err := p.stages.Discover(ctx, c, runID)
	if err != nil {
		return nil, err
	}
	ids, err := p.store.RunLeadIDs(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "orchestrator: list leads for run %s", runID)
	}
	if len(ids) != len(res.LeadIDs) {
		zap.L().Info("orchestrator: discovery lead list taken from ledger",
			zap.String("run_id", runID),
			zap.Int("stage_leads", len(res.LeadIDs)),
			zap.Int("run_leads", len(ids)),
		)
	}
	res.LeadIDs = ids
	return res, nil
}

// Enrich runs the enrichment stage. Failures degrade to an empty result
// unless the run was stopped.
func (p *Pipeline) Enrich(ctx context.Context, c *model.Campaign, runID string, leadIDs []string) (*stage.EnrichmentResult, error) {
	res, err := p.stages.Enrich(ctx, c, runID, leadIDs)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, stage.ErrRunNotActive) || ctx.Err() != nil {
		return nil, err
	}
	zap.L().Warn("orchestrator: enrichment failed, continuing", zap.String("run_id", runID), zap.Error(err))
	out := &stage.EnrichmentResult{}
	if res != nil {
		out.Outcome = res.Outcome
	}
	return out, nil
}

// Qualify runs the qualification stage with the same degrade policy as Enrich.
func (p *Pipeline) Qualify(ctx context.Context, c *model.Campaign, runID string, leadIDs []string) (*stage.QualificationResult, error) {
	res, err := p.stages.Qualify(ctx, c, runID, leadIDs)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, stage.ErrRunNotActive) || ctx.Err() != nil {
		return nil, err
	}
	zap.L().Warn("orchestrator: qualification failed, continuing", zap.String("run_id", runID), zap.Error(err))
	out := &stage.QualificationResult{}
	if res != nil {
		out.Outcome = res.Outcome
	}
	return out, nil
}

// Finalize completes the run, advances the campaign counters and adds the
// run to today's metrics in one transaction. Finalizing twice is a no-op.
func (p *Pipeline) Finalize(
	ctx context.Context,
	c *model.Campaign,
	runID string,
	disc *stage.DiscoveryResult,
	enr *stage.EnrichmentResult,
	qual *stage.QualificationResult,
) (*Summary, error) {
	if disc == nil {
		disc = &stage.DiscoveryResult{}
	}
	if enr == nil {
		enr = &stage.EnrichmentResult{}
	}
	if qual == nil {
		qual = &stage.QualificationResult{}
	}

	usage := disc.Usage.Add(enr.Usage).Add(qual.Usage)
	tokens := int(usage.Total())
	apiCalls := disc.APICalls + enr.APICalls + qual.APICalls
	usd := p.costs.Claude(p.cfg.Anthropic.Model, cost.Usage{
		InputTokens:      usage.InputTokens,
		OutputTokens:     usage.OutputTokens,
		CacheWriteTokens: usage.CacheCreationInputTokens,
		CacheReadTokens:  usage.CacheReadInputTokens,
	})
	now := p.now().UTC()

	sum := &Summary{
		CampaignID: c.ID,
		RunID:      runID,
		LeadsFound: len(disc.LeadIDs),
		Enriched:   enr.Enriched,
		Qualified:  qual.Qualified,
		TokensUsed: tokens,
		APICalls:   apiCalls,
		CostUSD:    usd,
	}

	applied, err := p.store.FinalizeRun(ctx, store.Finalization{
		RunID:      runID,
		CampaignID: c.ID,
		LeadsFound: sum.LeadsFound,
		TokensUsed: tokens,
		APICalls:   apiCalls,
		CostUSD:    usd,
		At:         now,
		Metrics: model.DailyMetrics{
			CampaignID:      c.ID,
			Date:            model.MetricsDate(now),
			LeadsDiscovered: sum.LeadsFound,
			LeadsEnriched:   sum.Enriched,
			LeadsQualified:  sum.Qualified,
			APICalls:        apiCalls,
			LLMTokens:       tokens,
			CostCents:       int(cost.Cents(usd)),
		},
	})
	if errors.Is(err, store.ErrIllegalTransition) {
		if run, gErr := p.store.GetRun(ctx, runID); gErr == nil && run.Status == model.RunStatusCancelled {
			return nil, eris.Wrapf(stage.ErrRunNotActive, "run %s was cancelled before finalize", runID)
		}
	}
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: finalize")
	}
	sum.Finalized = true
	if !applied {
		zap.L().Info("orchestrator: run already finalized", zap.String("run_id", runID))
		return sum, nil
	}

	p.publishRun(ctx, c.ID, runID)
	p.activity(ctx, c.ID, "", model.ActionCampaignCompleted,
		fmt.Sprintf("Campaign complete: %d leads found, %d enriched, %d qualified", sum.LeadsFound, sum.Enriched, sum.Qualified),
		model.ActivitySuccess)
	return sum, nil
}

// Fail moves the run to error and pauses the campaign. A run that already
// reached a terminal state is left alone.
func (p *Pipeline) Fail(ctx context.Context, campaignID, runID string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	now := p.now().UTC()

	err := p.store.TransitionRun(ctx, runID, model.RunStatusError, model.RunUpdate{CompletedAt: &now, ErrorMessage: msg})
	switch {
	case errors.Is(err, store.ErrIllegalTransition):
		zap.L().Info("orchestrator: run already terminal, not failing", zap.String("run_id", runID))
		return nil
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return eris.Wrap(err, "orchestrator: mark run error")
	}

	c, err := p.store.GetCampaign(ctx, campaignID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return eris.Wrap(err, "orchestrator: load campaign")
	case c.Status == model.CampaignStatusRunning:
		if err := p.store.TransitionCampaign(ctx, campaignID, model.CampaignStatusPaused); err != nil {
			return eris.Wrap(err, "orchestrator: pause campaign")
		}
	}

	p.publishRun(ctx, campaignID, runID)
	p.activity(ctx, campaignID, "", model.ActionCampaignFailed, "Campaign failed: "+msg, model.ActivityError)
	return nil
}

func (p *Pipeline) activity(ctx context.Context, campaignID, agentID, action, detail string, status model.ActivityStatus) {
	a := &model.Activity{
		AgentID:    agentID,
		AgentName:  model.AgentCampaignRunner,
		CampaignID: campaignID,
		Action:     action,
		Detail:     detail,
		Status:     status,
	}
	if err := p.store.InsertActivity(ctx, a); err != nil {
		zap.L().Warn("orchestrator: write activity", zap.String("action", action), zap.Error(err))
		return
	}
	p.publish(ctx, progress.NewEvent(progress.KindActivity, campaignID, "", a))
}

func (p *Pipeline) publishRun(ctx context.Context, campaignID, runID string) {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return
	}
	p.publish(ctx, progress.NewEvent(progress.KindRunStatus, campaignID, runID, run))
}

func (p *Pipeline) publish(ctx context.Context, ev progress.Event) {
	if err := p.pub.Publish(ctx, ev); err != nil {
		zap.L().Debug("orchestrator: publish progress", zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}

func firstAgent(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}
