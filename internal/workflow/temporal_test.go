package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/campaign-cli/internal/config"
	"github.com/sells-group/campaign-cli/internal/model"
)

func testConfig() config.Config {
	return config.Config{
		Pipeline: config.PipelineConfig{StepMaxAttempts: 4},
		Workflow: config.WorkflowConfig{
			PipelineTaskQueue: "campaign-pipeline",
			FanOutTaskQueue:   "flow-fanout",
			StepTimeoutSecs:   300,
		},
	}
}

func TestTemporalDispatcher_DispatchRun(t *testing.T) {
	c := &mocks.Client{}
	c.On("ExecuteWorkflow", mock.Anything,
		mock.MatchedBy(func(o client.StartWorkflowOptions) bool {
			return o.ID == "campaign-run-r1" && o.TaskQueue == "campaign-pipeline"
		}),
		mock.Anything,
		mock.MatchedBy(func(in RunInput) bool {
			return in.Event.RunID == "r1" && in.StepTimeout == 5*time.Minute && in.MaxAttempts == 4
		}),
	).Return(&mocks.WorkflowRun{}, nil).Once()

	d := NewTemporalDispatcher(c, testConfig())
	require.NoError(t, d.DispatchRun(context.Background(), testEvent))
	c.AssertExpectations(t)
}

func TestTemporalDispatcher_DispatchRunError(t *testing.T) {
	c := &mocks.Client{}
	c.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("frontend unavailable"))

	err := NewTemporalDispatcher(c, testConfig()).DispatchRun(context.Background(), testEvent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frontend unavailable")
}

func TestTemporalDispatcher_FanOut(t *testing.T) {
	c := &mocks.Client{}
	fanOutOpts := mock.MatchedBy(func(o client.StartWorkflowOptions) bool {
		return strings.HasPrefix(o.ID, "flow-fanout-") && o.TaskQueue == "flow-fanout"
	})
	c.On("ExecuteWorkflow", mock.Anything, fanOutOpts, mock.Anything,
		mock.MatchedBy(func(in FanOutInput) bool { return in.Record != nil })).Return(&mocks.WorkflowRun{}, nil).Once()
	c.On("ExecuteWorkflow", mock.Anything, fanOutOpts, mock.Anything,
		mock.MatchedBy(func(in FanOutInput) bool { return in.Webhook != nil })).Return(&mocks.WorkflowRun{}, nil).Once()
	c.On("ExecuteWorkflow", mock.Anything, fanOutOpts, mock.Anything,
		mock.MatchedBy(func(in FanOutInput) bool { return in.Tick != nil })).Return(&mocks.WorkflowRun{}, nil).Once()

	d := NewTemporalDispatcher(c, testConfig())
	ctx := context.Background()
	require.NoError(t, d.DispatchRecordCreated(ctx, model.RecordCreated{Event: model.EventLeadCreated}))
	require.NoError(t, d.DispatchWebhook(ctx, model.WebhookReceived{FlowID: "f1"}))
	require.NoError(t, d.DispatchScheduled(ctx, model.ScheduledTick{At: time.Now()}))
	c.AssertExpectations(t)
}

func TestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewLogger(zap.New(core))

	l.Info("workflow started", "workflow_id", "campaign-run-r1")
	l.Warn("retrying")

	entries := logs.FilterMessage("workflow started").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "temporal", entries[0].LoggerName)
	assert.Equal(t, "campaign-run-r1", entries[0].ContextMap()["workflow_id"])
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())

	withLogger := l.(*zapLogger).With("run_id", "r1")
	withLogger.Error("boom")
	errs := logs.FilterMessage("boom").All()
	require.Len(t, errs, 1)
	assert.Equal(t, "r1", errs[0].ContextMap()["run_id"])
}
