package workflow

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/config"
	"github.com/sells-group/campaign-cli/internal/durable"
	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/store"
)

// LocalDispatcher runs pipelines and fan-outs in-process. Pipeline steps
// are journaled in the store so Resume can pick up interrupted runs.
type LocalDispatcher struct {
	pipeline Pipeline
	flows    FanOut
	runs     store.RunStore
	runner   *durable.Runner

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewLocalDispatcher creates a LocalDispatcher with the configured
// per-kind concurrency limits.
func NewLocalDispatcher(p Pipeline, flows FanOut, runs store.RunStore, cfg config.WorkflowConfig) *LocalDispatcher {
	return &LocalDispatcher{
		pipeline: p,
		flows:    flows,
		runs:     runs,
		runner: durable.NewRunner(map[durable.Kind]int{
			durable.KindPipeline: cfg.PipelineConcurrency,
			durable.KindFanOut:   cfg.FanOutConcurrency,
		}),
		inflight: make(map[string]struct{}),
	}
}

// DispatchRun runs the pipeline for ev in the background. A run already in
// flight in this process is not started twice.
func (d *LocalDispatcher) DispatchRun(_ context.Context, ev model.CampaignStarted) error {
	d.mu.Lock()
	if _, ok := d.inflight[ev.RunID]; ok {
		d.mu.Unlock()
		zap.L().Debug("workflow: run already in flight", zap.String("run_id", ev.RunID))
		return nil
	}
	d.inflight[ev.RunID] = struct{}{}
	d.mu.Unlock()

	err := d.runner.Go(durable.KindPipeline, RunWorkflowID(ev.RunID), func(ctx context.Context) error {
		defer d.done(ev.RunID)
		_, err := d.pipeline.Run(ctx, ev)
		return err
	})
	if err != nil {
		d.done(ev.RunID)
		return eris.Wrapf(err, "workflow: dispatch run %s", ev.RunID)
	}
	return nil
}

func (d *LocalDispatcher) done(runID string) {
	d.mu.Lock()
	delete(d.inflight, runID)
	d.mu.Unlock()
}

func (d *LocalDispatcher) DispatchRecordCreated(_ context.Context, ev model.RecordCreated) error {
	return d.fanOut("record-created", FanOutInput{Record: &ev})
}

func (d *LocalDispatcher) DispatchWebhook(_ context.Context, ev model.WebhookReceived) error {
	return d.fanOut("webhook", FanOutInput{Webhook: &ev})
}

func (d *LocalDispatcher) DispatchScheduled(_ context.Context, tick model.ScheduledTick) error {
	return d.fanOut("scheduled", FanOutInput{Tick: &tick})
}

func (d *LocalDispatcher) fanOut(name string, in FanOutInput) error {
	err := d.runner.Go(durable.KindFanOut, name, func(ctx context.Context) error {
		res, err := fanOut(ctx, d.flows, in)
		if err != nil {
			return err
		}
		zap.L().Info("workflow: fan-out complete",
			zap.String("trigger", name),
			zap.Int("triggered", res.Triggered),
			zap.Int("failed", res.Failed),
		)
		return nil
	})
	return eris.Wrapf(err, "workflow: dispatch %s fan-out", name)
}

// Resume re-dispatches every pending or running run. It returns the
// number of runs dispatched.
func (d *LocalDispatcher) Resume(ctx context.Context) (int, error) {
	runs, err := d.runs.ListRuns(ctx, store.RunFilter{Statuses: model.ActiveRunStatuses, Limit: 1000})
	if err != nil {
		return 0, eris.Wrap(err, "workflow: list active runs")
	}
	n := 0
	for _, r := range runs {
		if err := d.DispatchRun(ctx, model.CampaignStarted{CampaignID: r.CampaignID, RunID: r.ID}); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		zap.L().Info("workflow: resumed runs", zap.Int("count", n))
	}
	return n, nil
}

// Wait blocks until all dispatched work has finished.
func (d *LocalDispatcher) Wait() {
	d.runner.Wait()
}

// Shutdown stops accepting work and waits for in-flight work until ctx
// expires, after which the work is cancelled and left for Resume.
func (d *LocalDispatcher) Shutdown(ctx context.Context) error {
	return d.runner.Shutdown(ctx)
}
