package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/config"
	"github.com/sells-group/campaign-cli/internal/model"
)

// Dial connects to the Temporal frontend named in cfg.
func Dial(cfg config.WorkflowConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalHostPort,
		Namespace: cfg.TemporalNamespace,
		Logger:    NewLogger(zap.L()),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: dial temporal %s", cfg.TemporalHostPort)
	}
	return c, nil
}

// RunWorkflowID is the workflow ID of a run. Re-delivering the same run
// start does not create a second execution.
func RunWorkflowID(runID string) string {
	return "campaign-run-" + runID
}

// TemporalDispatcher starts workflows on Temporal.
type TemporalDispatcher struct {
	client      client.Client
	cfg         config.WorkflowConfig
	maxAttempts int
}

// NewTemporalDispatcher creates a TemporalDispatcher.
func NewTemporalDispatcher(c client.Client, cfg config.Config) *TemporalDispatcher {
	return &TemporalDispatcher{client: c, cfg: cfg.Workflow, maxAttempts: cfg.Pipeline.StepMaxAttempts}
}

// DispatchRun starts CampaignRunWorkflow for ev.
func (d *TemporalDispatcher) DispatchRun(ctx context.Context, ev model.CampaignStarted) error {
	opts := client.StartWorkflowOptions{
		ID:        RunWorkflowID(ev.RunID),
		TaskQueue: d.cfg.PipelineTaskQueue,
	}
	in := RunInput{
		Event:       ev,
		StepTimeout: time.Duration(d.cfg.StepTimeoutSecs) * time.Second,
		MaxAttempts: d.maxAttempts,
	}
	if _, err := d.client.ExecuteWorkflow(ctx, opts, CampaignRunWorkflow, in); err != nil {
		return eris.Wrapf(err, "workflow: start run %s", ev.RunID)
	}
	zap.L().Debug("workflow: run dispatched", zap.String("workflow_id", opts.ID))
	return nil
}

func (d *TemporalDispatcher) DispatchRecordCreated(ctx context.Context, ev model.RecordCreated) error {
	return d.fanOut(ctx, FanOutInput{Record: &ev})
}

func (d *TemporalDispatcher) DispatchWebhook(ctx context.Context, ev model.WebhookReceived) error {
	return d.fanOut(ctx, FanOutInput{Webhook: &ev})
}

func (d *TemporalDispatcher) DispatchScheduled(ctx context.Context, tick model.ScheduledTick) error {
	return d.fanOut(ctx, FanOutInput{Tick: &tick})
}

func (d *TemporalDispatcher) fanOut(ctx context.Context, in FanOutInput) error {
	opts := client.StartWorkflowOptions{
		ID:        "flow-fanout-" + uuid.New().String(),
		TaskQueue: d.cfg.FanOutTaskQueue,
	}
	if _, err := d.client.ExecuteWorkflow(ctx, opts, FlowFanOutWorkflow, in); err != nil {
		return eris.Wrap(err, "workflow: start fan-out")
	}
	return nil
}

// Workers polls the pipeline and fan-out task queues.
type Workers struct {
	pipeline worker.Worker
	fanOut   worker.Worker
}

// NewWorkers creates one worker per task queue with the configured
// activity concurrency caps.
func NewWorkers(c client.Client, cfg config.WorkflowConfig, acts *Activities) *Workers {
	pw := worker.New(c, cfg.PipelineTaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: cfg.PipelineConcurrency,
	})
	acts.RegisterPipeline(pw)

	fw := worker.New(c, cfg.FanOutTaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: cfg.FanOutConcurrency,
	})
	acts.RegisterFanOut(fw)

	return &Workers{pipeline: pw, fanOut: fw}
}

// Start begins polling. If the second worker fails to start the first is
// stopped.
func (w *Workers) Start() error {
	if err := w.pipeline.Start(); err != nil {
		return eris.Wrap(err, "workflow: start pipeline worker")
	}
	if err := w.fanOut.Start(); err != nil {
		w.pipeline.Stop()
		return eris.Wrap(err, "workflow: start fan-out worker")
	}
	return nil
}

// Stop stops both workers, waiting for in-flight activities.
func (w *Workers) Stop() {
	w.fanOut.Stop()
	w.pipeline.Stop()
}

// zapLogger adapts zap to the Temporal SDK logger.
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewLogger returns a Temporal logger that writes through l.
func NewLogger(l *zap.Logger) log.Logger {
	return &zapLogger{s: l.Named("temporal").Sugar()}
}

func (l *zapLogger) Debug(msg string, keyvals ...interface{}) { l.s.Debugw(msg, keyvals...) }
func (l *zapLogger) Info(msg string, keyvals ...interface{})  { l.s.Infow(msg, keyvals...) }
func (l *zapLogger) Warn(msg string, keyvals ...interface{})  { l.s.Warnw(msg, keyvals...) }
func (l *zapLogger) Error(msg string, keyvals ...interface{}) { l.s.Errorw(msg, keyvals...) }

// With implements log.WithLogger.
func (l *zapLogger) With(keyvals ...interface{}) log.Logger {
	return &zapLogger{s: l.s.With(keyvals...)}
}
