// Package agent runs bounded LLM tool-calling loops and owns the typed
// bridge between model tool_use blocks and Go tool calls.
package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/resilience"
	"github.com/sells-group/campaign-cli/pkg/anthropic"
)

const defaultMaxTokens = 4096

// Handler executes a decoded tool call and returns the text sent back to the
// model. A returned error aborts the loop.
type Handler func(ctx context.Context, call ToolCall) (string, error)

// ToolRecord describes one executed tool call.
type ToolRecord struct {
	ID       string
	Name     string
	Input    json.RawMessage
	Output   string
	IsError  bool
	Duration time.Duration
	Round    int
}

// RoundInfo is passed to OnRound after every model round.
type RoundInfo struct {
	Round     int
	ToolCalls int
	Usage     anthropic.TokenUsage
}

// Request configures a single tool loop.
type Request struct {
	Stage     string
	Model     string
	System    string
	Prompt    string
	Tools     []anthropic.Tool
	MaxRounds int
	MaxTokens int64

	// OnToolCall runs after each tool call returns, in emission order.
	OnToolCall func(ctx context.Context, rec ToolRecord) error
	// OnRound runs after each model round with cumulative counters.
	OnRound func(ctx context.Context, info RoundInfo) error
}

// Result summarizes a finished loop.
type Result struct {
	ToolCalls  []ToolRecord
	Rounds     int
	Usage      anthropic.TokenUsage
	StopReason string
}

// Executor drives the model through tool rounds.
type Executor struct {
	client anthropic.Client
}

// NewExecutor returns an Executor backed by client.
func NewExecutor(client anthropic.Client) *Executor {
	return &Executor{client: client}
}

// Run executes the loop until the model stops calling tools or MaxRounds
// model calls have been made. The partial Result is returned with any error.
func (e *Executor) Run(ctx context.Context, req Request, handle Handler) (*Result, error) {
	log := zap.L().With(zap.String("stage", req.Stage), zap.String("model", req.Model))

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	allowed := make(map[string]bool, len(req.Tools))
	for _, t := range req.Tools {
		allowed[t.Name] = true
	}

	res := &Result{}
	msgs := []anthropic.Message{anthropic.UserText(req.Prompt)}
	system := anthropic.SystemPrompt(req.System, anthropic.CacheDefault)

	for round := 1; round <= req.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrapf(err, "agent: %s round %d", req.Stage, round)
		}

		resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     req.Model,
			MaxTokens: maxTokens,
			System:    system,
			Messages:  msgs,
			Tools:     req.Tools,
		})
		if err != nil {
			return res, eris.Wrapf(classifyLLMError(err), "agent: %s round %d", req.Stage, round)
		}
		res.Rounds = round
		res.StopReason = resp.StopReason
		res.Usage = res.Usage.Add(resp.Usage)
		resp.Usage.LogUsage(req.Model, req.Stage)

		uses := resp.ToolUses()
		if len(uses) == 0 {
			if err := e.round(ctx, req, res, round); err != nil {
				return res, err
			}
			log.Debug("agent: model finished", zap.Int("rounds", round), zap.String("stop_reason", resp.StopReason))
			return res, nil
		}

		msgs = append(msgs, anthropic.Message{Role: anthropic.RoleAssistant, Blocks: echoBlocks(resp.Content)})
		results := make([]anthropic.ContentBlock, 0, len(uses))
		for _, use := range uses {
			rec, err := e.invoke(ctx, allowed, use, round, handle)
			if err != nil {
				return res, eris.Wrapf(err, "agent: %s tool %s", req.Stage, use.Name)
			}
			res.ToolCalls = append(res.ToolCalls, rec)
			if req.OnToolCall != nil {
				if err := req.OnToolCall(ctx, rec); err != nil {
					return res, err
				}
			}
			results = append(results, anthropic.ToolResult(use.ID, rec.Output, rec.IsError))
		}
		msgs = append(msgs, anthropic.Message{Role: anthropic.RoleUser, Blocks: results})

		if err := e.round(ctx, req, res, round); err != nil {
			return res, err
		}
	}

	log.Info("agent: round cap reached", zap.Int("max_rounds", req.MaxRounds), zap.Int("tool_calls", len(res.ToolCalls)))
	return res, nil
}

func (e *Executor) round(ctx context.Context, req Request, res *Result, round int) error {
	if req.OnRound == nil {
		return nil
	}
	return req.OnRound(ctx, RoundInfo{Round: round, ToolCalls: len(res.ToolCalls), Usage: res.Usage})
}

func (e *Executor) invoke(ctx context.Context, allowed map[string]bool, use anthropic.ContentBlock, round int, handle Handler) (ToolRecord, error) {
	rec := ToolRecord{ID: use.ID, Name: use.Name, Input: use.Input, Round: round}
	start := time.Now()

	if !allowed[use.Name] {
		rec.Output, rec.IsError = "Error: unknown tool "+use.Name, true
		rec.Duration = time.Since(start)
		return rec, nil
	}
	call, err := Decode(use.Name, use.Input)
	if err != nil {
		rec.Output, rec.IsError = "Error: "+err.Error(), true
		rec.Duration = time.Since(start)
		return rec, nil
	}

	out, err := handle(ctx, call)
	rec.Duration = time.Since(start)
	if err != nil {
		return rec, err
	}
	rec.Output = out
	return rec, nil
}

// echoBlocks returns the assistant content to replay, dropping empty text
// blocks the API rejects.
func echoBlocks(content []anthropic.ContentBlock) []anthropic.ContentBlock {
	out := make([]anthropic.ContentBlock, 0, len(content))
	for _, b := range content {
		if b.Type == anthropic.BlockText && b.Text == "" {
			continue
		}
		out = append(out, b)
	}
	return out
}

// classifyLLMError marks rate limits, overload and server errors transient.
func classifyLLMError(err error) error {
	code := anthropic.StatusCode(err)
	if code == 529 || resilience.IsTransientHTTPStatus(code) {
		te := resilience.NewTransientError(err, code)
		te.RetryAfter = anthropic.RetryAfter(err)
		return te
	}
	return err
}
