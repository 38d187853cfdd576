package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	// Runs created within the lookback window.
	RunsTotal     int     `json:"runs_total"`
	RunsCompleted int     `json:"runs_completed"`
	RunsFailed    int     `json:"runs_failed"`
	RunsCancelled int     `json:"runs_cancelled"`
	RunsActive    int     `json:"runs_active"`
	FailRate      float64 `json:"fail_rate"`
	CostUSD       float64 `json:"cost_usd"`
	LeadsFound    int     `json:"leads_found"`
	AvgTokens     int     `json:"avg_tokens"`

	// Running runs started longer ago than the stuck threshold, at any age.
	StuckRuns []string `json:"stuck_runs,omitempty"`

	Campaigns map[string]*CampaignHealth `json:"campaigns,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// CampaignHealth is one campaign's share of the window.
type CampaignHealth struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	// EmptyRuns counts completed runs that found no leads.
	EmptyRuns  int     `json:"empty_runs"`
	LeadsFound int     `json:"leads_found"`
	CostUSD    float64 `json:"cost_usd"`
}

func (s *MetricsSnapshot) campaign(id string) *CampaignHealth {
	if s.Campaigns == nil {
		s.Campaigns = make(map[string]*CampaignHealth)
	}
	h, ok := s.Campaigns[id]
	if !ok {
		h = &CampaignHealth{}
		s.Campaigns[id] = h
	}
	return h
}

// RunLister is the slice of the run ledger the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers run metrics from the ledger.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect gathers a snapshot over the lookback window. Runs still running
// after stuckAfter are listed in StuckRuns; zero disables the check.
func (c *Collector) Collect(ctx context.Context, lookbackHours int, stuckAfter time.Duration) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var tokens int
	for _, r := range runs {
		h := snap.campaign(r.CampaignID)
		switch r.Status {
		case model.RunStatusCompleted:
			snap.RunsCompleted++
			h.Completed++
			if r.LeadsFound == 0 {
				h.EmptyRuns++
			}
		case model.RunStatusError:
			snap.RunsFailed++
			h.Failed++
		case model.RunStatusCancelled:
			snap.RunsCancelled++
		case model.RunStatusPending, model.RunStatusRunning:
			snap.RunsActive++
		}
		snap.CostUSD += r.CostUSD
		snap.LeadsFound += r.LeadsFound
		h.CostUSD += r.CostUSD
		h.LeadsFound += r.LeadsFound
		tokens += r.LLMTokensUsed
	}
	if finished := snap.RunsCompleted + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.RunsTotal > 0 {
		snap.AvgTokens = tokens / snap.RunsTotal
	}

	if stuckAfter > 0 {
		running, err := c.runs.ListRuns(ctx, store.RunFilter{
			Statuses: []model.RunStatus{model.RunStatusRunning},
			Limit:    1000,
		})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list running runs")
		}
		cutoff := now.Add(-stuckAfter)
		for _, r := range running {
			if r.StartedAt != nil && r.StartedAt.Before(cutoff) {
				snap.StuckRuns = append(snap.StuckRuns, r.ID)
			}
		}
	}

	return snap, nil
}
