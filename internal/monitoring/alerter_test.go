package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/campaign-cli/internal/config"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		CostThresholdUSD:     500.0,
	})

	snap := &MetricsSnapshot{
		RunsTotal:     100,
		RunsCompleted: 95,
		RunsFailed:    5,
		FailRate:      0.05,
		CostUSD:       100.0,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_RunFailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		CostThresholdUSD:     500.0,
	})

	snap := &MetricsSnapshot{
		RunsTotal:     20,
		RunsCompleted: 12,
		RunsFailed:    8,
		FailRate:      0.4,
		CostUSD:       50.0,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_StuckRuns(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{StuckRunMinutes: 60})

	alerts := a.Evaluate(&MetricsSnapshot{StuckRuns: []string{"r1", "r2"}, LookbackHours: 24})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStuckRuns, alerts[0].Type)
	assert.Equal(t, "2 run(s) still running after 60 minutes", alerts[0].Message)
}

func TestAlerter_Evaluate_CostOverrun(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		CostThresholdUSD:     100.0,
	})

	snap := &MetricsSnapshot{
		RunsTotal:     50,
		RunsCompleted: 48,
		RunsFailed:    2,
		FailRate:      0.04,
		CostUSD:       250.0,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCostOverrun, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "$250.00")
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		CostThresholdUSD:     100.0,
	})

	snap := &MetricsSnapshot{
		RunsTotal:     20,
		RunsCompleted: 10,
		RunsFailed:    10,
		FailRate:      0.5,
		CostUSD:       300.0,
		StuckRuns:     []string{"r1"},
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	assert.Len(t, alerts, 3)

	types := make(map[AlertType]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	assert.True(t, types[AlertRunFailureRate])
	assert.True(t, types[AlertStuckRuns])
	assert.True(t, types[AlertCostOverrun])
}

func TestAlerter_Evaluate_MinimumRunsRequired(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		CostThresholdUSD:     500.0,
	})

	// Three finished runs is below the sample minimum.
	snap := &MetricsSnapshot{
		RunsTotal:     3,
		RunsCompleted: 1,
		RunsFailed:    2,
		FailRate:      0.666,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertRunFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertStuckRuns, Severity: "medium", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "",
	})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertRunFailureRate, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "http://example.com",
	})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailureRate, Message: "test"}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_Evaluate_ZeroCostThreshold(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		CostThresholdUSD: 0, // disabled
	})

	alerts := a.Evaluate(&MetricsSnapshot{CostUSD: 999.0, LookbackHours: 24})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_NoLeads(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{EmptyRunThreshold: 3})
	collected := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	snap := &MetricsSnapshot{
		LookbackHours: 24,
		CollectedAt:   collected,
		Campaigns: map[string]*CampaignHealth{
			"dry":     {Completed: 3, EmptyRuns: 3, CostUSD: 1.2},
			"few":     {Completed: 2, EmptyRuns: 2},
			"healthy": {Completed: 5, EmptyRuns: 4, LeadsFound: 2},
		},
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertNoLeads, alerts[0].Type)
	assert.Equal(t, "dry", alerts[0].CampaignID)
	assert.Equal(t, "campaign_no_leads:dry", alerts[0].Key)
	assert.Equal(t, collected, alerts[0].Timestamp)
	assert.Contains(t, alerts[0].Message, "without finding a lead")
}

func TestAlerter_Evaluate_NoLeadsDisabled(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	alerts := a.Evaluate(&MetricsSnapshot{Campaigns: map[string]*CampaignHealth{
		"dry": {Completed: 10, EmptyRuns: 10},
	}})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_DefaultKey(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	alerts := a.Evaluate(&MetricsSnapshot{StuckRuns: []string{"r1"}})
	require.Len(t, alerts, 1)
	assert.Equal(t, "stuck_runs", alerts[0].Key)
	assert.False(t, alerts[0].Timestamp.IsZero())
}

func TestAlerter_SendAlerts_PayloadHasText(t *testing.T) {
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{
		Type: AlertNoLeads, Key: "campaign_no_leads:c1", CampaignID: "c1", Severity: "medium", Message: "dry campaign",
	}})
	require.Equal(t, 1, sent)
	assert.Equal(t, "[medium] dry campaign", body["text"])
	assert.Equal(t, "c1", body["campaign_id"])
	assert.Equal(t, "campaign_no_leads", body["type"])
}
