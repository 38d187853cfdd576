package db

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Placeholder renders the n-th (1-based) bind parameter for a dialect.
type Placeholder func(n int) string

// Dollar renders Postgres-style $n placeholders.
func Dollar(n int) string { return "$" + strconv.Itoa(n) }

// Question renders SQLite-style ? placeholders.
func Question(int) string { return "?" }

// UpsertConfig defines a single-row INSERT ... ON CONFLICT statement.
type UpsertConfig struct {
	Table        string   // target table (e.g., "campaign_metrics")
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	AddCols      []string // counters accumulated as existing + excluded
	ReplaceCols  []string // columns overwritten with the excluded value
}

// UpsertSQL builds an upsert that both Postgres and SQLite accept. Counter
// columns listed in AddCols accumulate on conflict instead of being replaced.
func UpsertSQL(cfg UpsertConfig, ph Placeholder) (string, error) {
	if len(cfg.Columns) == 0 {
		return "", eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return "", eris.New("db: upsert: no conflict keys specified")
	}
	if len(cfg.AddCols)+len(cfg.ReplaceCols) == 0 {
		return "", eris.New("db: upsert: nothing to update on conflict")
	}

	known := make(map[string]bool, len(cfg.Columns))
	for _, c := range cfg.Columns {
		known[c] = true
	}

	table := sanitizeTable(cfg.Table)
	setClauses := make([]string, 0, len(cfg.AddCols)+len(cfg.ReplaceCols))
	for _, col := range cfg.AddCols {
		if !known[col] {
			return "", eris.Errorf("db: upsert: unknown column %q", col)
		}
		q := pgx.Identifier{col}.Sanitize()
		setClauses = append(setClauses, fmt.Sprintf("%s = %s.%s + EXCLUDED.%s", q, table, q, q))
	}
	for _, col := range cfg.ReplaceCols {
		if !known[col] {
			return "", eris.Errorf("db: upsert: unknown column %q", col)
		}
		q := pgx.Identifier{col}.Sanitize()
		setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}

	params := make([]string, len(cfg.Columns))
	for i := range cfg.Columns {
		params[i] = ph(i + 1)
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table,
		quoteAndJoin(cfg.Columns),
		strings.Join(params, ", "),
		quoteAndJoin(cfg.ConflictKeys),
		strings.Join(setClauses, ", "),
	), nil
}

// sanitizeTable handles schema-qualified table names like "public.agent_runs".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
