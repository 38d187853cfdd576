// Package monitoring raises run-health alerts from the run ledger.
package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/config"
)

// Checker periodically collects a snapshot and raises alerts. An alert key
// raised within the cooldown is suppressed.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	onAlert   func(Alert)
	now       func() time.Time

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// NewChecker creates a checker. onAlert, if set, sees every alert that
// passes the cooldown, whether or not delivery succeeds.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig, onAlert func(Alert)) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		onAlert:   onAlert,
		now:       time.Now,
		lastSeen:  make(map[string]time.Time),
	}
}

// Run checks once immediately and then on every interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker", zap.Duration("interval", interval))

	if ctx.Err() == nil {
		c.Check(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check runs one collect, evaluate and deliver cycle and returns the alerts
// that were raised after cooldown filtering.
func (c *Checker) Check(ctx context.Context) []Alert {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	lookback := c.cfg.LookbackWindowHours
	if lookback <= 0 {
		lookback = 24
	}

	snap, err := c.collector.Collect(ctx, lookback, time.Duration(c.cfg.StuckRunMinutes)*time.Minute)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return nil
	}

	alerts := c.fresh(c.alerter.Evaluate(snap))
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered", zap.Int("runs_total", snap.RunsTotal))
		return nil
	}
	if c.onAlert != nil {
		for _, a := range alerts {
			c.onAlert(a)
		}
	}
	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return alerts
}

func (c *Checker) fresh(alerts []Alert) []Alert {
	cooldown := time.Duration(c.cfg.AlertCooldownMinutes) * time.Minute
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	out := alerts[:0]
	for _, a := range alerts {
		if last, ok := c.lastSeen[a.Key]; ok && cooldown > 0 && now.Sub(last) < cooldown {
			continue
		}
		c.lastSeen[a.Key] = now
		out = append(out, a)
	}
	return out
}
