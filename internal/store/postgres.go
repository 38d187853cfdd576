package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/campaign-cli/internal/db"
	"github.com/sells-group/campaign-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var pgMetricsUpsert = mustMetricsUpsertSQL(db.Dollar)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS discovery_campaigns (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	status               TEXT NOT NULL DEFAULT 'draft',
	target_industry      TEXT NOT NULL DEFAULT '',
	target_roles         JSONB NOT NULL DEFAULT '[]',
	target_company_size  TEXT NOT NULL DEFAULT '',
	target_region        TEXT NOT NULL DEFAULT '',
	search_criteria      TEXT NOT NULL DEFAULT '',
	confidence_threshold INTEGER NOT NULL DEFAULT 70,
	max_leads_per_run    INTEGER NOT NULL DEFAULT 50,
	schedule_cron        TEXT NOT NULL DEFAULT '',
	agent_ids            JSONB NOT NULL DEFAULT '[]',
	leads_found          INTEGER NOT NULL DEFAULT 0,
	leads_approved       INTEGER NOT NULL DEFAULT 0,
	leads_rejected       INTEGER NOT NULL DEFAULT 0,
	total_runs           INTEGER NOT NULL DEFAULT 0,
	last_run_at          TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS agent_runs (
	id              TEXT PRIMARY KEY,
	campaign_id     TEXT NOT NULL REFERENCES discovery_campaigns(id),
	agent_type      TEXT NOT NULL DEFAULT 'full_pipeline',
	status          TEXT NOT NULL DEFAULT 'pending',
	started_at      TIMESTAMPTZ,
	completed_at    TIMESTAMPTZ,
	steps_completed INTEGER NOT NULL DEFAULT 0,
	steps_total     INTEGER NOT NULL DEFAULT 0,
	leads_found     INTEGER NOT NULL DEFAULT 0,
	llm_tokens_used INTEGER NOT NULL DEFAULT 0,
	api_calls_made  INTEGER NOT NULL DEFAULT 0,
	cost_usd        DOUBLE PRECISION NOT NULL DEFAULT 0,
	error_message   TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_agent_runs_campaign ON agent_runs(campaign_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_agent_runs_status ON agent_runs(status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_agent_runs_one_active ON agent_runs(campaign_id)
	WHERE status IN ('pending', 'running');

CREATE TABLE IF NOT EXISTS agent_steps (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL REFERENCES agent_runs(id),
	campaign_id   TEXT NOT NULL,
	step_number   INTEGER NOT NULL,
	stage         TEXT NOT NULL DEFAULT '',
	tool_name     TEXT NOT NULL,
	tool_input    JSONB NOT NULL DEFAULT '{}',
	tool_output   JSONB NOT NULL DEFAULT 'null',
	status        TEXT NOT NULL,
	duration_ms   BIGINT NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (run_id, step_number)
);

CREATE TABLE IF NOT EXISTS discovered_leads (
	id               TEXT PRIMARY KEY,
	campaign_id      TEXT NOT NULL REFERENCES discovery_campaigns(id),
	run_id           TEXT NOT NULL DEFAULT '',
	name             TEXT NOT NULL,
	email            TEXT NOT NULL DEFAULT '',
	company          TEXT NOT NULL DEFAULT '',
	position         TEXT NOT NULL DEFAULT '',
	linkedin_url     TEXT NOT NULL DEFAULT '',
	confidence_score INTEGER NOT NULL DEFAULT 0,
	discovery_source TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'pending_review',
	ai_summary       TEXT NOT NULL DEFAULT '',
	signals          JSONB NOT NULL DEFAULT '[]',
	discovered_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_discovered_leads_campaign ON discovered_leads(campaign_id, discovered_at DESC);
CREATE INDEX IF NOT EXISTS idx_discovered_leads_run ON discovered_leads(run_id, discovered_at);

CREATE TABLE IF NOT EXISTS agent_activities (
	id          TEXT PRIMARY KEY,
	agent_id    TEXT NOT NULL DEFAULT '',
	agent_name  TEXT NOT NULL,
	campaign_id TEXT NOT NULL DEFAULT '',
	action      TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'info',
	occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_agent_activities_campaign ON agent_activities(campaign_id, occurred_at DESC);

CREATE TABLE IF NOT EXISTS campaign_metrics (
	campaign_id      TEXT NOT NULL,
	metric_date      TEXT NOT NULL,
	leads_discovered INTEGER NOT NULL DEFAULT 0,
	leads_enriched   INTEGER NOT NULL DEFAULT 0,
	leads_qualified  INTEGER NOT NULL DEFAULT 0,
	leads_approved   INTEGER NOT NULL DEFAULT 0,
	leads_rejected   INTEGER NOT NULL DEFAULT 0,
	api_calls        INTEGER NOT NULL DEFAULT 0,
	llm_tokens       INTEGER NOT NULL DEFAULT 0,
	cost_cents       INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (campaign_id, metric_date)
);

CREATE TABLE IF NOT EXISTS flows (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'draft',
	trigger_type  TEXT NOT NULL DEFAULT 'manual',
	schedule_cron TEXT NOT NULL DEFAULT '',
	last_run_at   TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_flows_trigger ON flows(status, trigger_type);

CREATE TABLE IF NOT EXISTS flow_nodes (
	id         TEXT PRIMARY KEY,
	flow_id    TEXT NOT NULL REFERENCES flows(id),
	node_type  TEXT NOT NULL,
	label      TEXT NOT NULL DEFAULT '',
	config     JSONB NOT NULL DEFAULT '{}',
	position_x DOUBLE PRECISION NOT NULL DEFAULT 0,
	position_y DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS flow_connections (
	id             TEXT PRIMARY KEY,
	flow_id        TEXT NOT NULL REFERENCES flows(id),
	source_node_id TEXT NOT NULL,
	target_node_id TEXT NOT NULL,
	label          TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS run_checkpoints (
	run_id     TEXT NOT NULL,
	step       TEXT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, step)
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Campaigns ---

const pgCampaignColumns = `id, name, status, target_industry, target_roles, target_company_size,
	target_region, search_criteria, confidence_threshold, max_leads_per_run, schedule_cron,
	agent_ids, leads_found, leads_approved, leads_rejected, total_runs, last_run_at,
	created_at, updated_at`

func (s *PostgresStore) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = model.CampaignStatusDraft
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	roles, err := marshalStrings(c.TargetRoles)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal target roles")
	}
	agents, err := marshalStrings(c.AgentIDs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal agent ids")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO discovery_campaigns (id, name, status, target_industry, target_roles,
			target_company_size, target_region, search_criteria, confidence_threshold,
			max_leads_per_run, schedule_cron, agent_ids, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		c.ID, c.Name, string(c.Status), c.TargetIndustry, roles, c.TargetCompanySize,
		c.TargetRegion, c.SearchCriteria, c.ConfidenceThreshold, c.MaxLeadsPerRun,
		c.ScheduleCron, agents, now, now,
	)
	return eris.Wrapf(err, "postgres: insert campaign %s", c.ID)
}

func (s *PostgresStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgCampaignColumns+` FROM discovery_campaigns WHERE id = $1`, id)
	c, err := scanPGCampaign(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("campaign", id)
		}
		return nil, eris.Wrapf(err, "postgres: get campaign %s", id)
	}
	return c, nil
}

func (s *PostgresStore) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgCampaignColumns+` FROM discovery_campaigns ORDER BY created_at`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list campaigns")
	}
	defer rows.Close()

	var out []model.Campaign
	for rows.Next() {
		c, err := scanPGCampaign(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan campaign")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list campaigns iterate")
}

func (s *PostgresStore) TransitionCampaign(ctx context.Context, id string, to model.CampaignStatus) error {
	from := model.CampaignSourcesFor(to)
	if len(from) == 0 {
		return transitionError("campaign", id, "*", to)
	}

	args := []any{string(to), time.Now().UTC(), id}
	args = append(args, campaignStatusArgs(from)...)
	tag, err := s.pool.Exec(ctx,
		`UPDATE discovery_campaigns SET status = $1, updated_at = $2
		 WHERE id = $3 AND status IN (`+inClause(db.Dollar, 4, len(from))+`)`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition campaign %s", id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var cur string
	err = s.pool.QueryRow(ctx, `SELECT status FROM discovery_campaigns WHERE id = $1`, id).Scan(&cur)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound("campaign", id)
		}
		return eris.Wrapf(err, "postgres: get campaign status %s", id)
	}
	return transitionError("campaign", id, cur, to)
}

func scanPGCampaign(row scannable) (*model.Campaign, error) {
	var c model.Campaign
	var roles, agents []byte
	err := row.Scan(&c.ID, &c.Name, &c.Status, &c.TargetIndustry, &roles, &c.TargetCompanySize,
		&c.TargetRegion, &c.SearchCriteria, &c.ConfidenceThreshold, &c.MaxLeadsPerRun,
		&c.ScheduleCron, &agents, &c.LeadsFound, &c.LeadsApproved, &c.LeadsRejected,
		&c.TotalRuns, &c.LastRunAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if c.TargetRoles, err = unmarshalStrings(roles); err != nil {
		return nil, eris.Wrap(err, "unmarshal target roles")
	}
	if c.AgentIDs, err = unmarshalStrings(agents); err != nil {
		return nil, eris.Wrap(err, "unmarshal agent ids")
	}
	return &c, nil
}

// --- Runs ---

const pgRunColumns = `id, campaign_id, agent_type, status, started_at, completed_at,
	steps_completed, steps_total, leads_found, llm_tokens_used, api_calls_made, cost_usd,
	error_message, created_at, updated_at`

func (s *PostgresStore) CreateRun(ctx context.Context, campaignID string) (*model.Run, error) {
	run := &model.Run{
		ID:         uuid.New().String(),
		CampaignID: campaignID,
		AgentType:  model.AgentTypeFullPipeline,
		Status:     model.RunStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	run.UpdatedAt = run.CreatedAt

	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_runs (id, campaign_id, agent_type, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, campaignID, run.AgentType, string(run.Status), run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, eris.Wrapf(ErrRunActive, "campaign %s", campaignID)
		}
		return nil, eris.Wrapf(err, "postgres: insert run for campaign %s", campaignID)
	}
	return run, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgRunColumns+` FROM agent_runs WHERE id = $1`, id)
	r, err := scanPGRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("run", id)
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", id)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + pgRunColumns + ` FROM agent_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.CampaignID != "" {
		query += fmt.Sprintf(` AND campaign_id = $%d`, argIdx)
		args = append(args, filter.CampaignID)
		argIdx++
	}
	if len(filter.Statuses) > 0 {
		query += ` AND status IN (` + inClause(db.Dollar, argIdx, len(filter.Statuses)) + `)`
		args = append(args, runStatusArgs(filter.Statuses)...)
		argIdx += len(filter.Statuses)
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	query += ` ORDER BY created_at DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPGRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) TransitionRun(ctx context.Context, id string, to model.RunStatus, upd model.RunUpdate) error {
	from := model.RunSourcesFor(to)
	if len(from) == 0 {
		return transitionError("run", id, "*", to)
	}

	args := []any{string(to), upd.StartedAt, upd.CompletedAt, upd.StepsTotal, upd.ErrorMessage, time.Now().UTC(), id}
	args = append(args, runStatusArgs(from)...)
	tag, err := s.pool.Exec(ctx,
		`UPDATE agent_runs SET status = $1,
			started_at = COALESCE($2, started_at),
			completed_at = COALESCE($3, completed_at),
			steps_total = COALESCE($4, steps_total),
			error_message = COALESCE(NULLIF($5, ''), error_message),
			updated_at = $6
		 WHERE id = $7 AND status IN (`+inClause(db.Dollar, 8, len(from))+`)`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition run %s", id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	cur, err := s.runStatus(ctx, id)
	if err != nil {
		return err
	}
	return transitionError("run", id, cur, to)
}

func (s *PostgresStore) UpdateRunProgress(ctx context.Context, id string, p model.RunProgress) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agent_runs SET steps_completed = $1, leads_found = $2, llm_tokens_used = $3,
			api_calls_made = $4, updated_at = $5
		 WHERE id = $6 AND status = 'running'`,
		p.StepsCompleted, p.LeadsFound, p.TokensUsed, p.APICalls, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run progress %s", id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	cur, err := s.runStatus(ctx, id)
	if err != nil {
		return err
	}
	return eris.Wrapf(ErrRunInactive, "run %s is %s", id, cur)
}

func (s *PostgresStore) CancelActiveRuns(ctx context.Context, campaignID string, at time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agent_runs SET status = 'cancelled', completed_at = $1, updated_at = $1
		 WHERE campaign_id = $2 AND status IN ('pending', 'running')`,
		at, campaignID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: cancel runs for campaign %s", campaignID)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) FinalizeRun(ctx context.Context, f Finalization) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, eris.Wrap(err, "postgres: finalize: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE agent_runs SET status = 'completed', completed_at = $1, leads_found = $2,
			llm_tokens_used = $3, api_calls_made = $4, cost_usd = $5, updated_at = $1
		 WHERE id = $6 AND status = 'running'`,
		f.At, f.LeadsFound, f.TokensUsed, f.APICalls, f.CostUSD, f.RunID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: finalize run %s", f.RunID)
	}
	if tag.RowsAffected() == 0 {
		var cur string
		err := tx.QueryRow(ctx, `SELECT status FROM agent_runs WHERE id = $1`, f.RunID).Scan(&cur)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return false, notFound("run", f.RunID)
			}
			return false, eris.Wrapf(err, "postgres: get run status %s", f.RunID)
		}
		if model.RunStatus(cur) == model.RunStatusCompleted {
			return false, nil
		}
		return false, transitionError("run", f.RunID, cur, model.RunStatusCompleted)
	}

	_, err = tx.Exec(ctx,
		`UPDATE discovery_campaigns SET
			status = CASE WHEN status = 'running' THEN 'completed' ELSE status END,
			leads_found = leads_found + $1, total_runs = total_runs + 1,
			last_run_at = $2, updated_at = $2
		 WHERE id = $3`,
		f.LeadsFound, f.At, f.CampaignID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: finalize campaign %s", f.CampaignID)
	}

	if _, err := tx.Exec(ctx, pgMetricsUpsert, metricsArgs(f.Metrics)...); err != nil {
		return false, eris.Wrapf(err, "postgres: finalize metrics %s", f.CampaignID)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, eris.Wrap(err, "postgres: finalize: commit tx")
	}
	return true, nil
}

func (s *PostgresStore) runStatus(ctx context.Context, id string) (model.RunStatus, error) {
	var cur string
	err := s.pool.QueryRow(ctx, `SELECT status FROM agent_runs WHERE id = $1`, id).Scan(&cur)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", notFound("run", id)
		}
		return "", eris.Wrapf(err, "postgres: get run status %s", id)
	}
	return model.RunStatus(cur), nil
}

func scanPGRun(row scannable) (*model.Run, error) {
	var r model.Run
	err := row.Scan(&r.ID, &r.CampaignID, &r.AgentType, &r.Status, &r.StartedAt, &r.CompletedAt,
		&r.StepsCompleted, &r.StepsTotal, &r.LeadsFound, &r.LLMTokensUsed, &r.APICallsMade,
		&r.CostUSD, &r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// --- Steps ---

func (s *PostgresStore) InsertStep(ctx context.Context, step *model.Step) error {
	if step.ID == "" {
		step.ID = uuid.New().String()
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_steps (id, run_id, campaign_id, step_number, stage, tool_name,
			tool_input, tool_output, status, duration_ms, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		step.ID, step.RunID, step.CampaignID, step.StepNumber, step.Stage, step.ToolName,
		jsonOrDefault(step.ToolInput, "{}"), jsonOrDefault(step.ToolOutput, "null"),
		string(step.Status), step.DurationMS, step.ErrorMessage, step.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert step %d for run %s", step.StepNumber, step.RunID)
}

func (s *PostgresStore) MaxStepNumber(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(step_number), 0) FROM agent_steps WHERE run_id = $1`, runID,
	).Scan(&n)
	return n, eris.Wrapf(err, "postgres: max step number %s", runID)
}

func (s *PostgresStore) CountSteps(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM agent_steps WHERE run_id = $1`, runID).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count steps %s", runID)
}

func (s *PostgresStore) ListSteps(ctx context.Context, runID string) ([]model.Step, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, campaign_id, step_number, stage, tool_name, tool_input, tool_output,
			status, duration_ms, error_message, created_at
		 FROM agent_steps WHERE run_id = $1 ORDER BY step_number`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list steps %s", runID)
	}
	defer rows.Close()

	var out []model.Step
	for rows.Next() {
		var st model.Step
		var in, outJSON []byte
		if err := rows.Scan(&st.ID, &st.RunID, &st.CampaignID, &st.StepNumber, &st.Stage,
			&st.ToolName, &in, &outJSON, &st.Status, &st.DurationMS, &st.ErrorMessage,
			&st.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan step")
		}
		st.ToolInput, st.ToolOutput = in, outJSON
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list steps iterate")
}

// --- Leads ---

const pgLeadColumns = `id, campaign_id, run_id, name, email, company, position, linkedin_url,
	confidence_score, discovery_source, status, ai_summary, signals, discovered_at, updated_at`

func (s *PostgresStore) InsertLead(ctx context.Context, l *model.DiscoveredLead) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.Status == "" {
		l.Status = model.LeadStatusPendingReview
	}
	now := time.Now().UTC()
	l.DiscoveredAt, l.UpdatedAt = now, now
	l.Signals = model.MergeSignals(nil, l.Signals)

	signals, err := marshalStrings(l.Signals)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal signals")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO discovered_leads (`+pgLeadColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		l.ID, l.CampaignID, l.RunID, l.Name, l.Email, l.Company, l.Position, l.LinkedInURL,
		l.ConfidenceScore, l.DiscoverySource, string(l.Status), l.AISummary, signals, now, now,
	)
	return eris.Wrapf(err, "postgres: insert lead for campaign %s", l.CampaignID)
}

func (s *PostgresStore) GetLeads(ctx context.Context, ids []string) ([]model.DiscoveredLead, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgLeadColumns+` FROM discovered_leads WHERE id = ANY($1) ORDER BY discovered_at, id`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get leads")
	}
	return collectPGLeads(rows)
}

func (s *PostgresStore) ListLeads(ctx context.Context, campaignID string, limit int) ([]model.DiscoveredLead, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgLeadColumns+` FROM discovered_leads WHERE campaign_id = $1
		 ORDER BY discovered_at DESC, id LIMIT $2`, campaignID, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list leads %s", campaignID)
	}
	return collectPGLeads(rows)
}

func (s *PostgresStore) RunLeadIDs(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM discovered_leads WHERE run_id = $1 ORDER BY discovered_at, id`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: run leads %s", runID)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run lead")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: run leads iterate")
}

func (s *PostgresStore) EnrichLead(ctx context.Context, id string, e model.LeadEnrichment) (*model.DiscoveredLead, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: enrich lead: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	l, err := scanPGLead(tx.QueryRow(ctx,
		`SELECT `+pgLeadColumns+` FROM discovered_leads WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("lead", id)
		}
		return nil, eris.Wrapf(err, "postgres: get lead %s", id)
	}

	applyEnrichment(l, e)
	l.UpdatedAt = time.Now().UTC()
	signals, err := marshalStrings(l.Signals)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal signals")
	}

	_, err = tx.Exec(ctx,
		`UPDATE discovered_leads SET email = $1, linkedin_url = $2, ai_summary = $3, signals = $4, updated_at = $5
		 WHERE id = $6`,
		l.Email, l.LinkedInURL, l.AISummary, signals, l.UpdatedAt, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: enrich lead %s", id)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: enrich lead: commit tx")
	}
	return l, nil
}

func (s *PostgresStore) ScoreLead(ctx context.Context, id string, sc model.LeadScore) error {
	signals, err := marshalStrings(model.MergeSignals(nil, sc.Signals))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal signals")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE discovered_leads SET confidence_score = $1, ai_summary = $2, signals = $3, updated_at = $4
		 WHERE id = $5`,
		model.ClampScore(sc.ConfidenceScore), sc.AISummary, signals, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: score lead %s", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound("lead", id)
	}
	return nil
}

func (s *PostgresStore) ReviewLead(ctx context.Context, id string, decision model.LeadStatus, at time.Time) (bool, error) {
	col, err := reviewColumn(decision)
	if err != nil {
		return false, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, eris.Wrap(err, "postgres: review lead: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var campaignID string
	err = tx.QueryRow(ctx,
		`UPDATE discovered_leads SET status = $1, updated_at = $2
		 WHERE id = $3 AND status = 'pending_review' RETURNING campaign_id`,
		string(decision), at, id,
	).Scan(&campaignID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return false, eris.Wrapf(err, "postgres: review lead %s", id)
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM discovered_leads WHERE id = $1)`, id).Scan(&exists); err != nil {
			return false, eris.Wrapf(err, "postgres: lookup lead %s", id)
		}
		if !exists {
			return false, notFound("lead", id)
		}
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE discovery_campaigns SET `+col+` = `+col+` + 1, updated_at = $1 WHERE id = $2`,
		at, campaignID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: count review for campaign %s", campaignID)
	}
	if _, err := tx.Exec(ctx, pgMetricsUpsert, metricsArgs(reviewMetrics(campaignID, decision, at))...); err != nil {
		return false, eris.Wrapf(err, "postgres: review metrics %s", campaignID)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, eris.Wrap(err, "postgres: review lead: commit tx")
	}
	return true, nil
}

func collectPGLeads(rows pgx.Rows) ([]model.DiscoveredLead, error) {
	defer rows.Close()
	var out []model.DiscoveredLead
	for rows.Next() {
		l, err := scanPGLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: leads iterate")
}

func scanPGLead(row scannable) (*model.DiscoveredLead, error) {
	var l model.DiscoveredLead
	var signals []byte
	err := row.Scan(&l.ID, &l.CampaignID, &l.RunID, &l.Name, &l.Email, &l.Company, &l.Position,
		&l.LinkedInURL, &l.ConfidenceScore, &l.DiscoverySource, &l.Status, &l.AISummary,
		&signals, &l.DiscoveredAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if l.Signals, err = unmarshalStrings(signals); err != nil {
		return nil, eris.Wrap(err, "unmarshal signals")
	}
	return &l, nil
}

// --- Activities ---

func (s *PostgresStore) InsertActivity(ctx context.Context, a *model.Activity) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = model.ActivityInfo
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_activities (id, agent_id, agent_name, campaign_id, action, detail, status, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.AgentID, a.AgentName, a.CampaignID, a.Action, a.Detail, string(a.Status), a.Timestamp,
	)
	return eris.Wrapf(err, "postgres: insert activity %s", a.Action)
}

func (s *PostgresStore) ListActivities(ctx context.Context, campaignID string, limit int) ([]model.Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, agent_id, agent_name, campaign_id, action, detail, status, occurred_at
		 FROM agent_activities WHERE campaign_id = $1 ORDER BY occurred_at DESC LIMIT $2`,
		campaignID, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list activities %s", campaignID)
	}
	defer rows.Close()

	var out []model.Activity
	for rows.Next() {
		var a model.Activity
		if err := rows.Scan(&a.ID, &a.AgentID, &a.AgentName, &a.CampaignID, &a.Action,
			&a.Detail, &a.Status, &a.Timestamp); err != nil {
			return nil, eris.Wrap(err, "postgres: scan activity")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list activities iterate")
}

// --- Metrics ---

func (s *PostgresStore) UpsertDailyMetrics(ctx context.Context, m model.DailyMetrics) error {
	_, err := s.pool.Exec(ctx, pgMetricsUpsert, metricsArgs(m)...)
	return eris.Wrapf(err, "postgres: upsert metrics %s/%s", m.CampaignID, m.Date)
}

func (s *PostgresStore) ListDailyMetrics(ctx context.Context, campaignID string) ([]model.DailyMetrics, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT campaign_id, metric_date, leads_discovered, leads_enriched, leads_qualified,
			leads_approved, leads_rejected, api_calls, llm_tokens, cost_cents
		 FROM campaign_metrics WHERE campaign_id = $1 ORDER BY metric_date DESC`, campaignID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list metrics %s", campaignID)
	}
	defer rows.Close()

	var out []model.DailyMetrics
	for rows.Next() {
		var m model.DailyMetrics
		if err := rows.Scan(&m.CampaignID, &m.Date, &m.LeadsDiscovered, &m.LeadsEnriched,
			&m.LeadsQualified, &m.LeadsApproved, &m.LeadsRejected, &m.APICalls, &m.LLMTokens,
			&m.CostCents); err != nil {
			return nil, eris.Wrap(err, "postgres: scan metrics")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list metrics iterate")
}

// --- Flows ---

const pgFlowColumns = `id, name, description, status, trigger_type, schedule_cron, last_run_at, created_at`

func (s *PostgresStore) CreateFlow(ctx context.Context, f *model.Flow, nodes []model.FlowNode, conns []model.FlowConnection) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.Status == "" {
		f.Status = model.FlowStatusDraft
	}
	f.CreatedAt = time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: create flow: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO flows (id, name, description, status, trigger_type, schedule_cron, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.ID, f.Name, f.Description, string(f.Status), string(f.TriggerType), f.ScheduleCron, f.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert flow %s", f.ID)
	}
	for i := range nodes {
		n := &nodes[i]
		n.FlowID = f.ID
		if n.ID == "" {
			n.ID = uuid.New().String()
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO flow_nodes (id, flow_id, node_type, label, config, position_x, position_y)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			n.ID, n.FlowID, n.NodeType, n.Label, jsonOrDefault(n.Config, "{}"), n.PositionX, n.PositionY,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert flow node %s", n.ID)
		}
	}
	for i := range conns {
		c := &conns[i]
		c.FlowID = f.ID
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO flow_connections (id, flow_id, source_node_id, target_node_id, label)
			 VALUES ($1, $2, $3, $4, $5)`,
			c.ID, c.FlowID, c.SourceNodeID, c.TargetNodeID, c.Label,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert flow connection %s", c.ID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: create flow: commit tx")
}

func (s *PostgresStore) GetFlow(ctx context.Context, id string) (*model.Flow, error) {
	var f model.Flow
	err := s.pool.QueryRow(ctx, `SELECT `+pgFlowColumns+` FROM flows WHERE id = $1`, id).
		Scan(&f.ID, &f.Name, &f.Description, &f.Status, &f.TriggerType, &f.ScheduleCron, &f.LastRunAt, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("flow", id)
		}
		return nil, eris.Wrapf(err, "postgres: get flow %s", id)
	}
	return &f, nil
}

func (s *PostgresStore) ListActiveFlows(ctx context.Context, trigger model.TriggerType) ([]model.Flow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgFlowColumns+` FROM flows WHERE status = 'active' AND trigger_type = $1 ORDER BY created_at, id`,
		string(trigger))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list active flows %s", trigger)
	}
	defer rows.Close()

	var out []model.Flow
	for rows.Next() {
		var f model.Flow
		if err := rows.Scan(&f.ID, &f.Name, &f.Description, &f.Status, &f.TriggerType,
			&f.ScheduleCron, &f.LastRunAt, &f.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan flow")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list flows iterate")
}

func (s *PostgresStore) ListFlowNodes(ctx context.Context, flowID string) ([]model.FlowNode, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, flow_id, node_type, label, config, position_x, position_y
		 FROM flow_nodes WHERE flow_id = $1 ORDER BY position_y, position_x, id`, flowID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list flow nodes %s", flowID)
	}
	defer rows.Close()

	var out []model.FlowNode
	for rows.Next() {
		var n model.FlowNode
		var cfg []byte
		if err := rows.Scan(&n.ID, &n.FlowID, &n.NodeType, &n.Label, &cfg, &n.PositionX, &n.PositionY); err != nil {
			return nil, eris.Wrap(err, "postgres: scan flow node")
		}
		n.Config = cfg
		out = append(out, n)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list flow nodes iterate")
}

func (s *PostgresStore) ListFlowConnections(ctx context.Context, flowID string) ([]model.FlowConnection, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, flow_id, source_node_id, target_node_id, label
		 FROM flow_connections WHERE flow_id = $1 ORDER BY id`, flowID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list flow connections %s", flowID)
	}
	defer rows.Close()

	var out []model.FlowConnection
	for rows.Next() {
		var c model.FlowConnection
		if err := rows.Scan(&c.ID, &c.FlowID, &c.SourceNodeID, &c.TargetNodeID, &c.Label); err != nil {
			return nil, eris.Wrap(err, "postgres: scan flow connection")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list flow connections iterate")
}

func (s *PostgresStore) MarkFlowRun(ctx context.Context, flowID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE flows SET last_run_at = $1 WHERE id = $2`, at, flowID)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark flow run %s", flowID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("flow", flowID)
	}
	return nil
}

// --- Checkpoints ---

func (s *PostgresStore) GetCheckpoint(ctx context.Context, runID, step string) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	err := s.pool.QueryRow(ctx,
		`SELECT run_id, step, data, created_at FROM run_checkpoints WHERE run_id = $1 AND step = $2`,
		runID, step,
	).Scan(&cp.RunID, &cp.Step, &cp.Data, &cp.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get checkpoint %s/%s", runID, step)
	}
	return &cp, nil
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, runID, step string, data []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_checkpoints (run_id, step, data, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (run_id, step) DO UPDATE SET data = EXCLUDED.data, created_at = EXCLUDED.created_at`,
		runID, step, data, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save checkpoint %s/%s", runID, step)
}

func (s *PostgresStore) DeleteCheckpoints(ctx context.Context, runID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM run_checkpoints WHERE run_id = $1`, runID)
	return eris.Wrapf(err, "postgres: delete checkpoints %s", runID)
}

func jsonOrDefault(raw []byte, def string) []byte {
	if len(raw) == 0 {
		return []byte(def)
	}
	return raw
}
