package store

import (
	"context"
	"database/sql"
	"fmt"
)

const defaultRunLimit = 50

type RunStore struct {
	db *sql.DB
}

func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

func (s *RunStore) DB() *sql.DB {
	return s.db
}

// Record inserts a run. Recording the same run id twice is a no-op.
func (s *RunStore) Record(ctx context.Context, run BriefingRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO briefing_runs (id, briefing_id, trigger_kind, outcome, detail, devices_commanded, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, run.ID, run.BriefingID, run.Trigger, string(run.Outcome), run.Detail, run.DevicesCommanded, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert briefing run: %w", err)
	}
	return nil
}

// Recent lists the newest runs first. An empty briefingID lists all runs.
func (s *RunStore) Recent(ctx context.Context, briefingID string, limit int) ([]BriefingRun, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultRunLimit
	}

	const columns = `id, briefing_id, trigger_kind, outcome, detail, devices_commanded, started_at, finished_at`
	var (
		rows *sql.Rows
		err  error
	)
	if briefingID == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+columns+` FROM briefing_runs ORDER BY started_at DESC LIMIT $1`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+columns+` FROM briefing_runs WHERE briefing_id=$1 ORDER BY started_at DESC LIMIT $2`, briefingID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list briefing runs: %w", err)
	}
	defer rows.Close()

	runs := make([]BriefingRun, 0)
	for rows.Next() {
		var run BriefingRun
		var outcome string
		if err := rows.Scan(&run.ID, &run.BriefingID, &run.Trigger, &outcome, &run.Detail, &run.DevicesCommanded, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan briefing run: %w", err)
		}
		run.Outcome = Outcome(outcome)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate briefing runs: %w", err)
	}
	return runs, nil
}

// CountByOutcome summarises the history, e.g. how many scheduled runs were dropped.
func (s *RunStore) CountByOutcome(ctx context.Context) (map[Outcome]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM briefing_runs GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("count briefing runs: %w", err)
	}
	defer rows.Close()

	counts := map[Outcome]int{}
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan briefing run count: %w", err)
		}
		counts[Outcome(outcome)] = n
	}
	return counts, rows.Err()
}
