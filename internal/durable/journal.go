// Package durable is the in-process execution engine used when no external
// workflow service is configured. A Journal memoizes step results per run so
// a restarted pipeline resumes at its first incomplete step, and a Runner
// bounds how many pipelines and fan-outs execute at once.
package durable

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-cli/internal/resilience"
	"github.com/sells-group/campaign-cli/internal/store"
)

// Journal records completed step results for a single run.
type Journal struct {
	store store.CheckpointStore
	runID string
	retry resilience.RetryConfig
}

// NewJournal creates a journal for runID backed by cps. Each step is retried
// according to retry before its failure is returned.
func NewJournal(cps store.CheckpointStore, runID string, retry resilience.RetryConfig) *Journal {
	return &Journal{store: cps, runID: runID, retry: retry}
}

// RunID returns the run the journal belongs to.
func (j *Journal) RunID() string {
	return j.runID
}

// Clear drops every checkpoint for the run.
func (j *Journal) Clear(ctx context.Context) error {
	return j.store.DeleteCheckpoints(ctx, j.runID)
}

// Step runs fn at most once per (run, name). A previously saved result is
// decoded and returned without calling fn. A nil journal runs fn directly.
func Step[T any](ctx context.Context, j *Journal, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if j == nil {
		return fn(ctx)
	}
	log := zap.L().With(zap.String("run_id", j.runID), zap.String("step", name))

	cp, err := j.store.GetCheckpoint(ctx, j.runID, name)
	if err != nil {
		return zero, eris.Wrapf(err, "durable: load checkpoint %s", name)
	}
	if cp != nil {
		var val T
		if err := json.Unmarshal(cp.Data, &val); err != nil {
			return zero, eris.Wrapf(err, "durable: decode checkpoint %s", name)
		}
		log.Debug("replaying completed step")
		return val, nil
	}

	cfg := j.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger(j.runID, name)
	}
	val, err := resilience.DoVal(ctx, cfg, fn)
	if err != nil {
		return zero, err
	}

	data, err := json.Marshal(val)
	if err != nil {
		return zero, eris.Wrapf(err, "durable: encode checkpoint %s", name)
	}
	if err := j.store.SaveCheckpoint(ctx, j.runID, name, data); err != nil {
		// The step already took effect; losing the memo only costs a rerun.
		log.Warn("failed to save checkpoint", zap.Error(err))
	}
	return val, nil
}
