package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

// Alert types.
const (
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertCostOverrun    AlertType = "cost_overrun"
	AlertStuckRuns      AlertType = "stuck_runs"
	AlertNoLeads        AlertType = "campaign_no_leads"
)

// minFinishedRuns is the sample size below which the failure rate is noise.
const minFinishedRuns = 5

// Alert is one raised condition.
type Alert struct {
	Type       AlertType      `json:"type"`
	Key        string         `json:"key"`
	CampaignID string         `json:"campaign_id,omitempty"`
	Severity   string         `json:"severity"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// rule inspects a snapshot and returns zero or more alerts.
type rule func(cfg config.MonitoringConfig, snap *MetricsSnapshot) []Alert

var rules = []rule{
	failureRateRule,
	costRule,
	stuckRule,
	noLeadsRule,
}

// Alerter evaluates snapshots against the configured thresholds and posts
// alerts to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates an Alerter.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate returns every alert the snapshot raises, stamped with the
// snapshot's collection time.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	ts := snap.CollectedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	var alerts []Alert
	for _, r := range rules {
		for _, al := range r(a.cfg, snap) {
			if al.Key == "" {
				al.Key = string(al.Type)
			}
			al.Timestamp = ts
			alerts = append(alerts, al)
		}
	}
	return alerts
}

func failureRateRule(cfg config.MonitoringConfig, snap *MetricsSnapshot) []Alert {
	finished := snap.RunsCompleted + snap.RunsFailed
	if finished < minFinishedRuns || snap.FailRate <= cfg.FailureRateThreshold {
		return nil
	}
	return []Alert{{
		Type:     AlertRunFailureRate,
		Severity: "high",
		Message: fmt.Sprintf("Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
			snap.FailRate*100, cfg.FailureRateThreshold*100, snap.RunsFailed, finished, snap.LookbackHours),
		Details: map[string]any{
			"failure_rate": snap.FailRate,
			"threshold":    cfg.FailureRateThreshold,
			"failed":       snap.RunsFailed,
			"finished":     finished,
		},
	}}
}

func costRule(cfg config.MonitoringConfig, snap *MetricsSnapshot) []Alert {
	if cfg.CostThresholdUSD <= 0 || snap.CostUSD <= cfg.CostThresholdUSD {
		return nil
	}
	return []Alert{{
		Type:     AlertCostOverrun,
		Severity: "high",
		Message: fmt.Sprintf("LLM cost $%.2f exceeds threshold $%.2f in last %dh",
			snap.CostUSD, cfg.CostThresholdUSD, snap.LookbackHours),
		Details: map[string]any{
			"cost_usd":      snap.CostUSD,
			"threshold_usd": cfg.CostThresholdUSD,
			"runs_total":    snap.RunsTotal,
		},
	}}
}

func stuckRule(cfg config.MonitoringConfig, snap *MetricsSnapshot) []Alert {
	if len(snap.StuckRuns) == 0 {
		return nil
	}
	return []Alert{{
		Type:     AlertStuckRuns,
		Severity: "medium",
		Message:  fmt.Sprintf("%d run(s) still running after %d minutes", len(snap.StuckRuns), cfg.StuckRunMinutes),
		Details:  map[string]any{"run_ids": snap.StuckRuns},
	}}
}

// noLeadsRule flags campaigns whose every completed run in the window came
// back empty, once there are at least EmptyRunThreshold of them.
func noLeadsRule(cfg config.MonitoringConfig, snap *MetricsSnapshot) []Alert {
	if cfg.EmptyRunThreshold <= 0 {
		return nil
	}
	ids := make([]string, 0, len(snap.Campaigns))
	for id := range snap.Campaigns {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Alert
	for _, id := range ids {
		h := snap.Campaigns[id]
		if h.Completed < cfg.EmptyRunThreshold || h.EmptyRuns != h.Completed {
			continue
		}
		out = append(out, Alert{
			Type:       AlertNoLeads,
			Key:        string(AlertNoLeads) + ":" + id,
			CampaignID: id,
			Severity:   "medium",
			Message: fmt.Sprintf("Campaign %s completed %d run(s) in the last %dh without finding a lead",
				id, h.Completed, snap.LookbackHours),
			Details: map[string]any{"completed": h.Completed, "cost_usd": h.CostUSD},
		})
	}
	return out
}

// webhookPayload carries a top-level "text" so chat webhooks render it.
type webhookPayload struct {
	Text string `json:"text"`
	Alert
}

// SendAlerts posts each alert to the webhook and returns how many were
// accepted. Without a webhook URL nothing is sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}
	sent := 0
	for _, al := range alerts {
		if err := a.post(ctx, al); err != nil {
			zap.L().Error("monitoring: failed to send alert", zap.String("key", al.Key), zap.Error(err))
			continue
		}
		zap.L().Info("monitoring: alert sent", zap.String("key", al.Key), zap.String("severity", al.Severity))
		sent++
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, al Alert) error {
	body, err := json.Marshal(webhookPayload{
		Text:  fmt.Sprintf("[%s] %s", al.Severity, al.Message),
		Alert: al,
	})
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
