package stage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/campaign-cli/internal/agent"
	"github.com/sells-group/campaign-cli/internal/capability"
	"github.com/sells-group/campaign-cli/internal/config"
	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/progress"
	"github.com/sells-group/campaign-cli/internal/store"
	"github.com/sells-group/campaign-cli/pkg/anthropic"
)

type scriptedLLM struct {
	mu        sync.Mutex
	responses []*anthropic.MessageResponse
	err       error
	calls     int
}

func (c *scriptedLLM) CreateMessage(_ context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	if len(c.responses) == 0 {
		return &anthropic.MessageResponse{StopReason: anthropic.StopEndTurn}, nil
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func turn(uses ...anthropic.ContentBlock) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content:    uses,
		StopReason: anthropic.StopToolUse,
		Usage:      anthropic.TokenUsage{InputTokens: 1000, OutputTokens: 100},
	}
}

func use(id, name string, input any) anthropic.ContentBlock {
	raw, err := json.Marshal(input)
	if err != nil {
		panic(err)
	}
	return anthropic.ContentBlock{Type: anthropic.BlockToolUse, ID: id, Name: name, Input: raw}
}

type fakeCaps struct {
	mu          sync.Mutex
	calls       []string
	onSearch    func()
	companies   []capability.Company
	verifyState string
}

func (f *fakeCaps) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeCaps) SearchCompanies(_ context.Context, _ capability.CompanyQuery) capability.Result[[]capability.Company] {
	f.record("SearchCompanies")
	if f.onSearch != nil {
		f.onSearch()
	}
	return capability.Result[[]capability.Company]{Data: f.companies}
}

func (f *fakeCaps) SearchPeople(_ context.Context, _ capability.PeopleQuery) capability.Result[[]capability.Person] {
	f.record("SearchPeople")
	return capability.Result[[]capability.Person]{Data: []capability.Person{}, Error: "Apollo API key not configured"}
}

func (f *fakeCaps) FindEmail(_ context.Context, _, _, _ string) capability.Result[capability.EmailMatch] {
	f.record("FindEmail")
	return capability.Result[capability.EmailMatch]{Data: capability.EmailMatch{Email: "ada@acme.com", Confidence: 90}}
}

func (f *fakeCaps) ScrapeURL(_ context.Context, url string) capability.Result[capability.Page] {
	f.record("ScrapeURL")
	return capability.Result[capability.Page]{Data: capability.Page{Content: "team page", Source: "jina"}}
}

func (f *fakeCaps) ReadURL(_ context.Context, url string) capability.Result[capability.Page] {
	f.record("ReadURL")
	return capability.Result[capability.Page]{Data: capability.Page{Content: "about page", Source: "jina"}}
}

func (f *fakeCaps) EnrichPerson(_ context.Context, _ capability.PersonQuery) capability.Result[capability.EnrichedPerson] {
	f.record("EnrichPerson")
	return capability.Result[capability.EnrichedPerson]{Data: capability.EnrichedPerson{FullName: "Ada Lovelace"}}
}

func (f *fakeCaps) VerifyEmail(_ context.Context, _ string) capability.Result[capability.EmailVerification] {
	f.record("VerifyEmail")
	status := f.verifyState
	if status == "" {
		status = "valid"
	}
	return capability.Result[capability.EmailVerification]{Data: capability.EmailVerification{Status: status, Valid: status == "valid"}}
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedRun(t *testing.T, st store.Store, maxLeads int) (*model.Campaign, *model.Run) {
	t.Helper()
	ctx := context.Background()
	c := &model.Campaign{
		Name:                "Fintech CFOs",
		TargetIndustry:      "Fintech",
		TargetRoles:         []string{"CFO", "VP Finance"},
		TargetCompanySize:   "51-200",
		TargetRegion:        "Texas",
		ConfidenceThreshold: 70,
		MaxLeadsPerRun:      maxLeads,
	}
	require.NoError(t, st.CreateCampaign(ctx, c))
	run, err := st.CreateRun(ctx, c.ID)
	require.NoError(t, err)
	now := time.Now().UTC()
	total := model.RunStepsTotal
	require.NoError(t, st.TransitionRun(ctx, run.ID, model.RunStatusRunning, model.RunUpdate{StartedAt: &now, StepsTotal: &total}))
	return c, run
}

func newRunner(st store.Store, caps capability.Capabilities, llm anthropic.Client, pub progress.Publisher) *Runner {
	cfg := config.Config{Anthropic: config.AnthropicConfig{Model: "claude-sonnet-4-5-20250929", MaxTokens: 1024}}
	return New(cfg, st, caps, agent.NewExecutor(llm), pub)
}

func actions(t *testing.T, st store.Store, campaignID string) []string {
	t.Helper()
	acts, err := st.ListActivities(context.Background(), campaignID, 100)
	require.NoError(t, err)
	out := make([]string, 0, len(acts))
	for i := len(acts) - 1; i >= 0; i-- {
		out = append(out, acts[i].Action)
	}
	return out
}

func saveLeadInput(name string, score float64) map[string]any {
	return map[string]any{
		"name":             name,
		"company":          "Acme",
		"position":         "CFO",
		"confidence_score": score,
		"discovery_source": "Apollo people search",
		"ai_summary":       name + " runs finance at a target company.",
		"signals":          []string{"Matches target role", "Company in target industry"},
	}
}
