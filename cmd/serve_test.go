package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/trigger"
	"github.com/sells-group/campaign-cli/internal/workflow"
)

func newTestEnv(t *testing.T) *appEnv {
	t.Helper()
	withTestConfig(t)
	cfg.Anthropic.Key = "sk-test"
	env, err := initApp(context.Background(), "serve")
	require.NoError(t, err)
	t.Cleanup(env.Close)
	return env
}

func TestInitApp(t *testing.T) {
	env := newTestEnv(t)
	assert.NotNil(t, env.Store)
	assert.Nil(t, env.Redis)
	assert.NotNil(t, env.Broker)
	assert.NotNil(t, env.Adapters)
	assert.NotNil(t, env.Pipeline)
	assert.NotNil(t, env.Flows)
	require.NoError(t, env.Store.Ping(context.Background()))
}

func TestInitApp_InvalidConfig(t *testing.T) {
	withTestConfig(t)
	_, err := initApp(context.Background(), "serve")
	assert.ErrorContains(t, err, "anthropic.key is required")
}

func TestInitApp_RedisUnreachable(t *testing.T) {
	withTestConfig(t)
	cfg.Anthropic.Key = "sk-test"
	cfg.Redis.Addr = "127.0.0.1:1"
	_, err := initApp(context.Background(), "serve")
	assert.ErrorContains(t, err, "redis ping")
}

func TestInitDispatcher_Local(t *testing.T) {
	env := newTestEnv(t)
	d, closeFn, err := initDispatcher(context.Background(), env)
	require.NoError(t, err)
	defer closeFn()
	_, ok := d.(*workflow.LocalDispatcher)
	assert.True(t, ok)
}

func TestBuildHandler(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := &model.Campaign{Name: "Fintech CFOs"}
	require.NoError(t, env.Store.CreateCampaign(ctx, c))

	d := &recordingDispatcher{}
	h := buildHandler(env, trigger.NewRouter(env.Store, d, env.Flows, env.Broker))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/campaigns/"+c.ID+"/start", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Len(t, d.runs, 1)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/campaigns/{id}/start"`)
}

type recordingDispatcher struct {
	runs []model.CampaignStarted
}

func (d *recordingDispatcher) DispatchRun(_ context.Context, ev model.CampaignStarted) error {
	d.runs = append(d.runs, ev)
	return nil
}

func (d *recordingDispatcher) DispatchRecordCreated(context.Context, model.RecordCreated) error {
	return nil
}

func (d *recordingDispatcher) DispatchWebhook(context.Context, model.WebhookReceived) error {
	return nil
}

func (d *recordingDispatcher) DispatchScheduled(context.Context, model.ScheduledTick) error {
	return nil
}
