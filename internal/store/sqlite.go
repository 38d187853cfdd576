package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/campaign-cli/internal/db"
	"github.com/sells-group/campaign-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var sqliteMetricsUpsert = mustMetricsUpsertSQL(db.Question)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer at a time; transactions would otherwise hit SQLITE_BUSY.
	sdb.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sdb.Exec(pragma); err != nil {
			sdb.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sdb}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS discovery_campaigns (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	status               TEXT NOT NULL DEFAULT 'draft',
	target_industry      TEXT NOT NULL DEFAULT '',
	target_roles         TEXT NOT NULL DEFAULT '[]',
	target_company_size  TEXT NOT NULL DEFAULT '',
	target_region        TEXT NOT NULL DEFAULT '',
	search_criteria      TEXT NOT NULL DEFAULT '',
	confidence_threshold INTEGER NOT NULL DEFAULT 70,
	max_leads_per_run    INTEGER NOT NULL DEFAULT 50,
	schedule_cron        TEXT NOT NULL DEFAULT '',
	agent_ids            TEXT NOT NULL DEFAULT '[]',
	leads_found          INTEGER NOT NULL DEFAULT 0,
	leads_approved       INTEGER NOT NULL DEFAULT 0,
	leads_rejected       INTEGER NOT NULL DEFAULT 0,
	total_runs           INTEGER NOT NULL DEFAULT 0,
	last_run_at          DATETIME,
	created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS agent_runs (
	id              TEXT PRIMARY KEY,
	campaign_id     TEXT NOT NULL REFERENCES discovery_campaigns(id),
	agent_type      TEXT NOT NULL DEFAULT 'full_pipeline',
	status          TEXT NOT NULL DEFAULT 'pending',
	started_at      DATETIME,
	completed_at    DATETIME,
	steps_completed INTEGER NOT NULL DEFAULT 0,
	steps_total     INTEGER NOT NULL DEFAULT 0,
	leads_found     INTEGER NOT NULL DEFAULT 0,
	llm_tokens_used INTEGER NOT NULL DEFAULT 0,
	api_calls_made  INTEGER NOT NULL DEFAULT 0,
	cost_usd        REAL NOT NULL DEFAULT 0,
	error_message   TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_agent_runs_campaign ON agent_runs(campaign_id, created_at);
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
	tool_input    TEXT NOT NULL DEFAULT '{}',
	tool_output   TEXT NOT NULL DEFAULT 'null',
	status        TEXT NOT NULL,
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
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
	signals          TEXT NOT NULL DEFAULT '[]',
	discovered_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_discovered_leads_campaign ON discovered_leads(campaign_id, discovered_at);
CREATE INDEX IF NOT EXISTS idx_discovered_leads_run ON discovered_leads(run_id, discovered_at);

CREATE TABLE IF NOT EXISTS agent_activities (
	id          TEXT PRIMARY KEY,
	agent_id    TEXT NOT NULL DEFAULT '',
	agent_name  TEXT NOT NULL,
	campaign_id TEXT NOT NULL DEFAULT '',
	action      TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'info',
	occurred_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_agent_activities_campaign ON agent_activities(campaign_id, occurred_at);

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
	last_run_at   DATETIME,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS flow_nodes (
	id         TEXT PRIMARY KEY,
	flow_id    TEXT NOT NULL REFERENCES flows(id),
	node_type  TEXT NOT NULL,
	label      TEXT NOT NULL DEFAULT '',
	config     TEXT NOT NULL DEFAULT '{}',
	position_x REAL NOT NULL DEFAULT 0,
	position_y REAL NOT NULL DEFAULT 0
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
	data       BLOB NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (run_id, step)
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Campaigns ---

func (s *SQLiteStore) CreateCampaign(ctx context.Context, c *model.Campaign) error {
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
		return eris.Wrap(err, "sqlite: marshal target roles")
	}
	agents, err := marshalStrings(c.AgentIDs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal agent ids")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO discovery_campaigns (id, name, status, target_industry, target_roles,
			target_company_size, target_region, search_criteria, confidence_threshold,
			max_leads_per_run, schedule_cron, agent_ids, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, string(c.Status), c.TargetIndustry, string(roles), c.TargetCompanySize,
		c.TargetRegion, c.SearchCriteria, c.ConfidenceThreshold, c.MaxLeadsPerRun,
		c.ScheduleCron, string(agents), now, now,
	)
	return eris.Wrapf(err, "sqlite: insert campaign %s", c.ID)
}

func (s *SQLiteStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pgCampaignColumns+` FROM discovery_campaigns WHERE id = ?`, id)
	c, err := scanSQLiteCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("campaign", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get campaign %s", id)
	}
	return c, nil
}

func (s *SQLiteStore) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pgCampaignColumns+` FROM discovery_campaigns ORDER BY created_at, id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list campaigns")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Campaign
	for rows.Next() {
		c, err := scanSQLiteCampaign(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan campaign")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list campaigns iterate")
}

func (s *SQLiteStore) TransitionCampaign(ctx context.Context, id string, to model.CampaignStatus) error {
	from := model.CampaignSourcesFor(to)
	if len(from) == 0 {
		return transitionError("campaign", id, "*", to)
	}

	args := []any{string(to), time.Now().UTC(), id}
	args = append(args, campaignStatusArgs(from)...)
	res, err := s.db.ExecContext(ctx,
		`UPDATE discovery_campaigns SET status = ?, updated_at = ?
		 WHERE id = ? AND status IN (`+inClause(db.Question, 1, len(from))+`)`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition campaign %s", id)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var cur string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM discovery_campaigns WHERE id = ?`, id).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("campaign", id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: get campaign status %s", id)
	}
	return transitionError("campaign", id, cur, to)
}

func scanSQLiteCampaign(row scannable) (*model.Campaign, error) {
	var c model.Campaign
	var roles, agents string
	err := row.Scan(&c.ID, &c.Name, &c.Status, &c.TargetIndustry, &roles, &c.TargetCompanySize,
		&c.TargetRegion, &c.SearchCriteria, &c.ConfidenceThreshold, &c.MaxLeadsPerRun,
		&c.ScheduleCron, &agents, &c.LeadsFound, &c.LeadsApproved, &c.LeadsRejected,
		&c.TotalRuns, &c.LastRunAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if c.TargetRoles, err = unmarshalStrings([]byte(roles)); err != nil {
		return nil, eris.Wrap(err, "unmarshal target roles")
	}
	if c.AgentIDs, err = unmarshalStrings([]byte(agents)); err != nil {
		return nil, eris.Wrap(err, "unmarshal agent ids")
	}
	return &c, nil
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, campaignID string) (*model.Run, error) {
	run := &model.Run{
		ID:         uuid.New().String(),
		CampaignID: campaignID,
		AgentType:  model.AgentTypeFullPipeline,
		Status:     model.RunStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	run.UpdatedAt = run.CreatedAt

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_runs (id, campaign_id, agent_type, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, campaignID, run.AgentType, string(run.Status), run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		var sqErr *sqlite.Error
		if errors.As(err, &sqErr) && sqErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return nil, eris.Wrapf(ErrRunActive, "campaign %s", campaignID)
		}
		return nil, eris.Wrapf(err, "sqlite: insert run for campaign %s", campaignID)
	}
	return run, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pgRunColumns+` FROM agent_runs WHERE id = ?`, id)
	r, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("run", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", id)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + pgRunColumns + ` FROM agent_runs WHERE 1=1`
	var args []any

	if filter.CampaignID != "" {
		query += ` AND campaign_id = ?`
		args = append(args, filter.CampaignID)
	}
	if len(filter.Statuses) > 0 {
		query += ` AND status IN (` + inClause(db.Question, 1, len(filter.Statuses)) + `)`
		args = append(args, runStatusArgs(filter.Statuses)...)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) TransitionRun(ctx context.Context, id string, to model.RunStatus, upd model.RunUpdate) error {
	from := model.RunSourcesFor(to)
	if len(from) == 0 {
		return transitionError("run", id, "*", to)
	}

	args := []any{string(to), upd.StartedAt, upd.CompletedAt, upd.StepsTotal, upd.ErrorMessage, time.Now().UTC(), id}
	args = append(args, runStatusArgs(from)...)
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_runs SET status = ?,
			started_at = COALESCE(?, started_at),
			completed_at = COALESCE(?, completed_at),
			steps_total = COALESCE(?, steps_total),
			error_message = COALESCE(NULLIF(?, ''), error_message),
			updated_at = ?
		 WHERE id = ? AND status IN (`+inClause(db.Question, 1, len(from))+`)`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition run %s", id)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	cur, err := s.runStatus(ctx, s.db, id)
	if err != nil {
		return err
	}
	return transitionError("run", id, cur, to)
}

func (s *SQLiteStore) UpdateRunProgress(ctx context.Context, id string, p model.RunProgress) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_runs SET steps_completed = ?, leads_found = ?, llm_tokens_used = ?,
			api_calls_made = ?, updated_at = ?
		 WHERE id = ? AND status = 'running'`,
		p.StepsCompleted, p.LeadsFound, p.TokensUsed, p.APICalls, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run progress %s", id)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	cur, err := s.runStatus(ctx, s.db, id)
	if err != nil {
		return err
	}
	return eris.Wrapf(ErrRunInactive, "run %s is %s", id, cur)
}

func (s *SQLiteStore) CancelActiveRuns(ctx context.Context, campaignID string, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_runs SET status = 'cancelled', completed_at = ?, updated_at = ?
		 WHERE campaign_id = ? AND status IN ('pending', 'running')`,
		at, at, campaignID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: cancel runs for campaign %s", campaignID)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) FinalizeRun(ctx context.Context, f Finalization) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: finalize: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE agent_runs SET status = 'completed', completed_at = ?, leads_found = ?,
			llm_tokens_used = ?, api_calls_made = ?, cost_usd = ?, updated_at = ?
		 WHERE id = ? AND status = 'running'`,
		f.At, f.LeadsFound, f.TokensUsed, f.APICalls, f.CostUSD, f.At, f.RunID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: finalize run %s", f.RunID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		cur, err := s.runStatus(ctx, tx, f.RunID)
		if err != nil {
			return false, err
		}
		if cur == model.RunStatusCompleted {
			return false, nil
		}
		return false, transitionError("run", f.RunID, cur, model.RunStatusCompleted)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE discovery_campaigns SET
			status = CASE WHEN status = 'running' THEN 'completed' ELSE status END,
			leads_found = leads_found + ?, total_runs = total_runs + 1,
			last_run_at = ?, updated_at = ?
		 WHERE id = ?`,
		f.LeadsFound, f.At, f.At, f.CampaignID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: finalize campaign %s", f.CampaignID)
	}

	if _, err := tx.ExecContext(ctx, sqliteMetricsUpsert, metricsArgs(f.Metrics)...); err != nil {
		return false, eris.Wrapf(err, "sqlite: finalize metrics %s", f.CampaignID)
	}

	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: finalize: commit tx")
	}
	return true, nil
}

type sqlQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) runStatus(ctx context.Context, q sqlQueryer, id string) (model.RunStatus, error) {
	var cur string
	err := q.QueryRowContext(ctx, `SELECT status FROM agent_runs WHERE id = ?`, id).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound("run", id)
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: get run status %s", id)
	}
	return model.RunStatus(cur), nil
}

func scanSQLiteRun(row scannable) (*model.Run, error) {
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

func (s *SQLiteStore) InsertStep(ctx context.Context, step *model.Step) error {
	if step.ID == "" {
		step.ID = uuid.New().String()
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_steps (id, run_id, campaign_id, step_number, stage, tool_name,
			tool_input, tool_output, status, duration_ms, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.RunID, step.CampaignID, step.StepNumber, step.Stage, step.ToolName,
		string(jsonOrDefault(step.ToolInput, "{}")), string(jsonOrDefault(step.ToolOutput, "null")),
		string(step.Status), step.DurationMS, step.ErrorMessage, step.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert step %d for run %s", step.StepNumber, step.RunID)
}

func (s *SQLiteStore) MaxStepNumber(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(step_number), 0) FROM agent_steps WHERE run_id = ?`, runID,
	).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: max step number %s", runID)
}

func (s *SQLiteStore) CountSteps(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agent_steps WHERE run_id = ?`, runID).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count steps %s", runID)
}

func (s *SQLiteStore) ListSteps(ctx context.Context, runID string) ([]model.Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, campaign_id, step_number, stage, tool_name, tool_input, tool_output,
			status, duration_ms, error_message, created_at
		 FROM agent_steps WHERE run_id = ? ORDER BY step_number`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list steps %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Step
	for rows.Next() {
		var st model.Step
		var in, outJSON string
		if err := rows.Scan(&st.ID, &st.RunID, &st.CampaignID, &st.StepNumber, &st.Stage,
			&st.ToolName, &in, &outJSON, &st.Status, &st.DurationMS, &st.ErrorMessage,
			&st.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan step")
		}
		st.ToolInput, st.ToolOutput = []byte(in), []byte(outJSON)
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list steps iterate")
}

// --- Leads ---

func (s *SQLiteStore) InsertLead(ctx context.Context, l *model.DiscoveredLead) error {
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
		return eris.Wrap(err, "sqlite: marshal signals")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO discovered_leads (`+pgLeadColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.CampaignID, l.RunID, l.Name, l.Email, l.Company, l.Position, l.LinkedInURL,
		l.ConfidenceScore, l.DiscoverySource, string(l.Status), l.AISummary, string(signals), now, now,
	)
	return eris.Wrapf(err, "sqlite: insert lead for campaign %s", l.CampaignID)
}

func (s *SQLiteStore) GetLeads(ctx context.Context, ids []string) ([]model.DiscoveredLead, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pgLeadColumns+` FROM discovered_leads WHERE id IN (`+inClause(db.Question, 1, len(ids))+`)
		 ORDER BY discovered_at, rowid`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get leads")
	}
	return collectSQLiteLeads(rows)
}

func (s *SQLiteStore) ListLeads(ctx context.Context, campaignID string, limit int) ([]model.DiscoveredLead, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pgLeadColumns+` FROM discovered_leads WHERE campaign_id = ?
		 ORDER BY discovered_at DESC, rowid DESC LIMIT ?`, campaignID, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list leads %s", campaignID)
	}
	return collectSQLiteLeads(rows)
}

func (s *SQLiteStore) RunLeadIDs(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM discovered_leads WHERE run_id = ? ORDER BY discovered_at, rowid`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: run leads %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run lead")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: run leads iterate")
}

func (s *SQLiteStore) EnrichLead(ctx context.Context, id string, e model.LeadEnrichment) (*model.DiscoveredLead, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: enrich lead: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	l, err := scanSQLiteLead(tx.QueryRowContext(ctx,
		`SELECT `+pgLeadColumns+` FROM discovered_leads WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("lead", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %s", id)
	}

	applyEnrichment(l, e)
	l.UpdatedAt = time.Now().UTC()
	signals, err := marshalStrings(l.Signals)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal signals")
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE discovered_leads SET email = ?, linkedin_url = ?, ai_summary = ?, signals = ?, updated_at = ?
		 WHERE id = ?`,
		l.Email, l.LinkedInURL, l.AISummary, string(signals), l.UpdatedAt, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: enrich lead %s", id)
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: enrich lead: commit tx")
	}
	return l, nil
}

func (s *SQLiteStore) ScoreLead(ctx context.Context, id string, sc model.LeadScore) error {
	signals, err := marshalStrings(model.MergeSignals(nil, sc.Signals))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal signals")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE discovered_leads SET confidence_score = ?, ai_summary = ?, signals = ?, updated_at = ?
		 WHERE id = ?`,
		model.ClampScore(sc.ConfidenceScore), sc.AISummary, string(signals), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: score lead %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("lead", id)
	}
	return nil
}

func (s *SQLiteStore) ReviewLead(ctx context.Context, id string, decision model.LeadStatus, at time.Time) (bool, error) {
	col, err := reviewColumn(decision)
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: review lead: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var campaignID string
	err = tx.QueryRowContext(ctx,
		`UPDATE discovered_leads SET status = ?, updated_at = ?
		 WHERE id = ? AND status = 'pending_review' RETURNING campaign_id`,
		string(decision), at, id,
	).Scan(&campaignID)
	if errors.Is(err, sql.ErrNoRows) {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM discovered_leads WHERE id = ?`, id).Scan(&exists); err != nil {
			return false, eris.Wrapf(err, "sqlite: lookup lead %s", id)
		}
		if exists == 0 {
			return false, notFound("lead", id)
		}
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: review lead %s", id)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE discovery_campaigns SET `+col+` = `+col+` + 1, updated_at = ? WHERE id = ?`,
		at, campaignID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: count review for campaign %s", campaignID)
	}
	if _, err := tx.ExecContext(ctx, sqliteMetricsUpsert, metricsArgs(reviewMetrics(campaignID, decision, at))...); err != nil {
		return false, eris.Wrapf(err, "sqlite: review metrics %s", campaignID)
	}
	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: review lead: commit tx")
	}
	return true, nil
}

func collectSQLiteLeads(rows *sql.Rows) ([]model.DiscoveredLead, error) {
	defer rows.Close() //nolint:errcheck
	var out []model.DiscoveredLead
	for rows.Next() {
		l, err := scanSQLiteLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: leads iterate")
}

func scanSQLiteLead(row scannable) (*model.DiscoveredLead, error) {
	var l model.DiscoveredLead
	var signals string
	err := row.Scan(&l.ID, &l.CampaignID, &l.RunID, &l.Name, &l.Email, &l.Company, &l.Position,
		&l.LinkedInURL, &l.ConfidenceScore, &l.DiscoverySource, &l.Status, &l.AISummary,
		&signals, &l.DiscoveredAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if l.Signals, err = unmarshalStrings([]byte(signals)); err != nil {
		return nil, eris.Wrap(err, "unmarshal signals")
	}
	return &l, nil
}

// --- Activities ---

func (s *SQLiteStore) InsertActivity(ctx context.Context, a *model.Activity) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = model.ActivityInfo
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_activities (id, agent_id, agent_name, campaign_id, action, detail, status, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.AgentID, a.AgentName, a.CampaignID, a.Action, a.Detail, string(a.Status), a.Timestamp,
	)
	return eris.Wrapf(err, "sqlite: insert activity %s", a.Action)
}

func (s *SQLiteStore) ListActivities(ctx context.Context, campaignID string, limit int) ([]model.Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, agent_name, campaign_id, action, detail, status, occurred_at
		 FROM agent_activities WHERE campaign_id = ? ORDER BY occurred_at DESC, rowid DESC LIMIT ?`,
		campaignID, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list activities %s", campaignID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Activity
	for rows.Next() {
		var a model.Activity
		if err := rows.Scan(&a.ID, &a.AgentID, &a.AgentName, &a.CampaignID, &a.Action,
			&a.Detail, &a.Status, &a.Timestamp); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan activity")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list activities iterate")
}

// --- Metrics ---

func (s *SQLiteStore) UpsertDailyMetrics(ctx context.Context, m model.DailyMetrics) error {
	_, err := s.db.ExecContext(ctx, sqliteMetricsUpsert, metricsArgs(m)...)
	return eris.Wrapf(err, "sqlite: upsert metrics %s/%s", m.CampaignID, m.Date)
}

func (s *SQLiteStore) ListDailyMetrics(ctx context.Context, campaignID string) ([]model.DailyMetrics, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT campaign_id, metric_date, leads_discovered, leads_enriched, leads_qualified,
			leads_approved, leads_rejected, api_calls, llm_tokens, cost_cents
		 FROM campaign_metrics WHERE campaign_id = ? ORDER BY metric_date DESC`, campaignID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list metrics %s", campaignID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.DailyMetrics
	for rows.Next() {
		var m model.DailyMetrics
		if err := rows.Scan(&m.CampaignID, &m.Date, &m.LeadsDiscovered, &m.LeadsEnriched,
			&m.LeadsQualified, &m.LeadsApproved, &m.LeadsRejected, &m.APICalls, &m.LLMTokens,
			&m.CostCents); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan metrics")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list metrics iterate")
}

// --- Flows ---

func (s *SQLiteStore) CreateFlow(ctx context.Context, f *model.Flow, nodes []model.FlowNode, conns []model.FlowConnection) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.Status == "" {
		f.Status = model.FlowStatusDraft
	}
	f.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: create flow: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO flows (id, name, description, status, trigger_type, schedule_cron, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Name, f.Description, string(f.Status), string(f.TriggerType), f.ScheduleCron, f.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert flow %s", f.ID)
	}
	for i := range nodes {
		n := &nodes[i]
		n.FlowID = f.ID
		if n.ID == "" {
			n.ID = uuid.New().String()
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO flow_nodes (id, flow_id, node_type, label, config, position_x, position_y)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			n.ID, n.FlowID, n.NodeType, n.Label, string(jsonOrDefault(n.Config, "{}")), n.PositionX, n.PositionY,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert flow node %s", n.ID)
		}
	}
	for i := range conns {
		c := &conns[i]
		c.FlowID = f.ID
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO flow_connections (id, flow_id, source_node_id, target_node_id, label)
			 VALUES (?, ?, ?, ?, ?)`,
			c.ID, c.FlowID, c.SourceNodeID, c.TargetNodeID, c.Label,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert flow connection %s", c.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: create flow: commit tx")
}

func (s *SQLiteStore) GetFlow(ctx context.Context, id string) (*model.Flow, error) {
	var f model.Flow
	err := s.db.QueryRowContext(ctx, `SELECT `+pgFlowColumns+` FROM flows WHERE id = ?`, id).
		Scan(&f.ID, &f.Name, &f.Description, &f.Status, &f.TriggerType, &f.ScheduleCron, &f.LastRunAt, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("flow", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get flow %s", id)
	}
	return &f, nil
}

func (s *SQLiteStore) ListActiveFlows(ctx context.Context, trigger model.TriggerType) ([]model.Flow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+pgFlowColumns+` FROM flows WHERE status = 'active' AND trigger_type = ? ORDER BY created_at, rowid`,
		string(trigger))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list active flows %s", trigger)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Flow
	for rows.Next() {
		var f model.Flow
		if err := rows.Scan(&f.ID, &f.Name, &f.Description, &f.Status, &f.TriggerType,
			&f.ScheduleCron, &f.LastRunAt, &f.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan flow")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list flows iterate")
}

func (s *SQLiteStore) ListFlowNodes(ctx context.Context, flowID string) ([]model.FlowNode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, flow_id, node_type, label, config, position_x, position_y
		 FROM flow_nodes WHERE flow_id = ? ORDER BY position_y, position_x, id`, flowID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list flow nodes %s", flowID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.FlowNode
	for rows.Next() {
		var n model.FlowNode
		var cfg string
		if err := rows.Scan(&n.ID, &n.FlowID, &n.NodeType, &n.Label, &cfg, &n.PositionX, &n.PositionY); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan flow node")
		}
		n.Config = []byte(cfg)
		out = append(out, n)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list flow nodes iterate")
}

func (s *SQLiteStore) ListFlowConnections(ctx context.Context, flowID string) ([]model.FlowConnection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, flow_id, source_node_id, target_node_id, label
		 FROM flow_connections WHERE flow_id = ? ORDER BY id`, flowID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list flow connections %s", flowID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.FlowConnection
	for rows.Next() {
		var c model.FlowConnection
		if err := rows.Scan(&c.ID, &c.FlowID, &c.SourceNodeID, &c.TargetNodeID, &c.Label); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan flow connection")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list flow connections iterate")
}

func (s *SQLiteStore) MarkFlowRun(ctx context.Context, flowID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE flows SET last_run_at = ? WHERE id = ?`, at, flowID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark flow run %s", flowID)
	}
	return checkRowsAffected(res, "flow", flowID)
}

// --- Checkpoints ---

func (s *SQLiteStore) GetCheckpoint(ctx context.Context, runID, step string) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, step, data, created_at FROM run_checkpoints WHERE run_id = ? AND step = ?`,
		runID, step,
	).Scan(&cp.RunID, &cp.Step, &cp.Data, &cp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get checkpoint %s/%s", runID, step)
	}
	return &cp, nil
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, runID, step string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_checkpoints (run_id, step, data, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (run_id, step) DO UPDATE SET data = excluded.data, created_at = excluded.created_at`,
		runID, step, data, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save checkpoint %s/%s", runID, step)
}

func (s *SQLiteStore) DeleteCheckpoints(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM run_checkpoints WHERE run_id = ?`, runID)
	return eris.Wrapf(err, "sqlite: delete checkpoints %s", runID)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return notFound(entity, id)
	}
	return nil
}
