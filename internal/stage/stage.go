// Package stage implements the discovery, enrichment and qualification
// agent stages of a campaign run.
package stage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/agent"
	"github.com/sells-group/campaign-cli/internal/capability"
	"github.com/sells-group/campaign-cli/internal/config"
	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/progress"
	"github.com/sells-group/campaign-cli/internal/store"
	"github.com/sells-group/campaign-cli/pkg/anthropic"
)

// Stage names recorded on steps.
const (
	NameDiscovery     = "discovery"
	NameEnrichment    = "enrichment"
	NameQualification = "qualification"
)

// Default round caps per stage.
const (
	DefaultDiscoveryRounds     = 25
	DefaultEnrichmentRounds    = 15
	DefaultQualificationRounds = 10
)

// ErrRunNotActive aborts a stage whose run left the running state.
var ErrRunNotActive = store.ErrRunInactive

// ToolLoop runs a bounded LLM tool loop.
type ToolLoop interface {
	Run(ctx context.Context, req agent.Request, handle agent.Handler) (*agent.Result, error)
}

// Outcome carries the counters common to every stage.
type Outcome struct {
	ToolCalls int                  `json:"tool_calls"`
	Rounds    int                  `json:"rounds"`
	APICalls  int                  `json:"api_calls"`
	Usage     anthropic.TokenUsage `json:"usage"`
}

// Tokens returns the total tokens billed for the stage.
func (o Outcome) Tokens() int { return int(o.Usage.Total()) }

// Runner executes stages against the ledger and capability adapters.
type Runner struct {
	store store.Store
	caps  capability.Capabilities
	loop  ToolLoop
	pub   progress.Publisher
	cfg   config.Config
}

// New creates a Runner. A nil publisher discards progress events.
func New(cfg config.Config, st store.Store, caps capability.Capabilities, loop ToolLoop, pub progress.Publisher) *Runner {
	if pub == nil {
		pub = progress.Nop{}
	}
	return &Runner{store: st, caps: caps, loop: loop, pub: pub, cfg: cfg}
}

func (r *Runner) rounds(configured, fallback int) int {
	if configured > 0 {
		return configured
	}
	return fallback
}

// Guard refuses writes once a run is no longer running.
type Guard struct {
	runs  store.RunStore
	runID string
}

// NewGuard returns a Guard for runID.
func NewGuard(runs store.RunStore, runID string) *Guard {
	return &Guard{runs: runs, runID: runID}
}

// Check returns the current run, or ErrRunNotActive when it is not running.
func (g *Guard) Check(ctx context.Context) (*model.Run, error) {
	run, err := g.runs.GetRun(ctx, g.runID)
	if err != nil {
		return nil, eris.Wrapf(err, "stage: load run %s", g.runID)
	}
	if run.Status != model.RunStatusRunning {
		return run, eris.Wrapf(ErrRunNotActive, "run %s is %s", g.runID, run.Status)
	}
	return run, nil
}

// StepRecorder assigns gapless step numbers within a run. Numbering resumes
// from the ledger's current maximum.
type StepRecorder struct {
	steps      store.StepStore
	runID      string
	campaignID string

	mu   sync.Mutex
	last int
}

// NewStepRecorder seeds a recorder from the run's highest step number.
func NewStepRecorder(ctx context.Context, steps store.StepStore, runID, campaignID string) (*StepRecorder, error) {
	last, err := steps.MaxStepNumber(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "stage: seed step counter for run %s", runID)
	}
	return &StepRecorder{steps: steps, runID: runID, campaignID: campaignID, last: last}, nil
}

// Record persists one tool call as the next step.
func (r *StepRecorder) Record(ctx context.Context, stageName string, rec agent.ToolRecord) (*model.Step, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	output, err := json.Marshal(rec.Output)
	if err != nil {
		return nil, eris.Wrap(err, "stage: marshal step output")
	}
	step := &model.Step{
		RunID:      r.runID,
		CampaignID: r.campaignID,
		StepNumber: r.last + 1,
		Stage:      stageName,
		ToolName:   rec.Name,
		ToolInput:  rec.Input,
		ToolOutput: output,
		Status:     model.StepStatusCompleted,
		DurationMS: rec.Duration.Milliseconds(),
	}
	if rec.IsError {
		step.Status = model.StepStatusError
		step.ErrorMessage = rec.Output
	}
	if err := r.steps.InsertStep(ctx, step); err != nil {
		return nil, err
	}
	r.last = step.StepNumber
	return step, nil
}

// Last returns the highest step number recorded so far.
func (r *StepRecorder) Last() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// session holds the per-stage state shared by tool handlers and hooks.
type session struct {
	r          *Runner
	name       string
	agentName  string
	campaignID string
	runID      string
	guard      *Guard
	steps      *StepRecorder
	log        *zap.Logger

	// Progress reports baseline plus what this session added. Discovery
	// zeroes baseline.LeadsFound and counts the run's leads itself.
	baseline model.RunProgress
	leads    int
	apiCalls int
}

func (r *Runner) newSession(ctx context.Context, name, agentName, campaignID, runID string) (*session, error) {
	guard := NewGuard(r.store, runID)
	run, err := guard.Check(ctx)
	if err != nil {
		return nil, err
	}
	steps, err := NewStepRecorder(ctx, r.store, runID, campaignID)
	if err != nil {
		return nil, err
	}
	return &session{
		r:          r,
		name:       name,
		agentName:  agentName,
		campaignID: campaignID,
		runID:      runID,
		guard:      guard,
		steps:      steps,
		log:        zap.L().With(zap.String("stage", name), zap.String("run_id", runID), zap.String("campaign_id", campaignID)),
		baseline: model.RunProgress{
			StepsCompleted: run.StepsCompleted,
			LeadsFound:     run.LeadsFound,
			TokensUsed:     run.LLMTokensUsed,
			APICalls:       run.APICallsMade,
		},
	}, nil
}

// execute runs the tool loop with step recording and progress hooks wired.
func (s *session) execute(ctx context.Context, req agent.Request, handle agent.Handler) (Outcome, error) {
	req.Stage = s.name
	req.Model = s.r.cfg.Anthropic.Model
	req.MaxTokens = s.r.cfg.Anthropic.MaxTokens
	req.OnToolCall = s.onToolCall
	req.OnRound = s.onRound

	start := time.Now()
	res, err := s.r.loop.Run(ctx, req, handle)
	out := Outcome{APICalls: s.apiCalls}
	if res != nil {
		out.ToolCalls = len(res.ToolCalls)
		out.Rounds = res.Rounds
		out.Usage = res.Usage
		out.APICalls += res.Rounds
	}
	s.log.Info("stage: tool loop finished",
		zap.Int("rounds", out.Rounds),
		zap.Int("tool_calls", out.ToolCalls),
		zap.Int("tokens", out.Tokens()),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err),
	)
	return out, err
}

func (s *session) onToolCall(ctx context.Context, rec agent.ToolRecord) error {
	if _, err := s.guard.Check(ctx); err != nil {
		return err
	}
	step, err := s.steps.Record(ctx, s.name, rec)
	if err != nil {
		return err
	}
	s.publish(ctx, progress.NewEvent(progress.KindStepRecorded, s.campaignID, s.runID, step))
	return nil
}

func (s *session) onRound(ctx context.Context, info agent.RoundInfo) error {
	if _, err := s.guard.Check(ctx); err != nil {
		return err
	}
	p := model.RunProgress{
		StepsCompleted: s.steps.Last(),
		LeadsFound:     s.baseline.LeadsFound + s.leads,
		TokensUsed:     s.baseline.TokensUsed + int(info.Usage.Total()),
		APICalls:       s.baseline.APICalls + s.apiCalls + info.Round,
	}
	if err := s.r.store.UpdateRunProgress(ctx, s.runID, p); err != nil {
		return eris.Wrapf(err, "stage: %s progress", s.name)
	}
	s.publish(ctx, progress.NewEvent(progress.KindRunProgress, s.campaignID, s.runID, p))
	return nil
}

// activity appends to the activity log. Failures are logged, not returned.
func (s *session) activity(ctx context.Context, action, detail string, status model.ActivityStatus) {
	a := &model.Activity{
		AgentName:  s.agentName,
		CampaignID: s.campaignID,
		Action:     action,
		Detail:     detail,
		Status:     status,
	}
	if err := s.r.store.InsertActivity(ctx, a); err != nil {
		s.log.Warn("stage: write activity", zap.String("action", action), zap.Error(err))
		return
	}
	s.publish(ctx, progress.NewEvent(progress.KindActivity, s.campaignID, s.runID, a))
}

func (s *session) publish(ctx context.Context, ev progress.Event) {
	if err := s.r.pub.Publish(ctx, ev); err != nil {
		s.log.Debug("stage: publish progress", zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}

// fail records the stage error activity unless the run was stopped.
func (s *session) fail(ctx context.Context, action string, err error) error {
	if errors.Is(err, ErrRunNotActive) {
		s.log.Info("stage: run no longer active, stopping", zap.Error(err))
		return err
	}
	s.activity(ctx, action, err.Error(), model.ActivityError)
	return err
}

// toolJSON encodes a capability result for the model.
func (s *session) toolJSON(v any) (string, error) {
	s.apiCalls++
	raw, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "stage: encode tool result")
	}
	return string(raw), nil
}

func leadSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
