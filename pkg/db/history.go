package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	RunRunning      = "running"
	RunOK           = "ok"
	RunFailed       = "failed"
	RunUnauthorized = "unauthorized"
)

// Run is one invocation of a rentbooks entry point.
type Run struct {
	ID         string
	Command    string
	Status     string
	Detail     string
	StartedAt  time.Time
	FinishedAt sql.NullTime
}

// Outcome is the recorded result of one matched bill message.
type Outcome struct {
	ID         int64
	RunID      string
	RuleID     string
	ThreadID   string
	Subject    string
	Status     string
	Target     string
	EntryDate  string
	Amount     string
	Detail     string
	RecordedAt time.Time
}

// Posting is a recorded ledger posting decision.
type Posting struct {
	RunID     string
	Ledger    string
	EntryDate string
	Vendor    string
	Amount    string
	Memo      string
	Result    string
}

// History records runs and their outcomes.
type History struct {
	conn *Connection
	now  func() time.Time
}

// NewHistory creates a new History instance.
func NewHistory(conn *Connection) *History {
	return &History{conn: conn, now: time.Now}
}

// StartRun records the start of a run and returns it with a fresh ID.
func (h *History) StartRun(ctx context.Context, command string) (Run, error) {
	run := Run{
		ID:        uuid.NewString(),
		Command:   command,
		Status:    RunRunning,
		StartedAt: h.now().UTC(),
	}

	_, err := h.conn.db.ExecContext(ctx,
		`INSERT INTO runs (id, command, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Command, run.Status, run.StartedAt,
	)
	if err != nil {
		return Run{}, fmt.Errorf("failed to start run: %w", err)
	}
	return run, nil
}

// FinishRun records the final status of a run.
func (h *History) FinishRun(ctx context.Context, runID, status, detail string) error {
	result, err := h.conn.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, detail = ?, finished_at = ? WHERE id = ?`,
		status, detail, h.now().UTC(), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// GetRun retrieves a run by ID. It returns nil when the run does not exist.
func (h *History) GetRun(ctx context.Context, runID string) (*Run, error) {
	var run Run
	err := h.conn.db.QueryRowContext(ctx,
		`SELECT id, command, status, detail, started_at, finished_at FROM runs WHERE id = ?`,
		runID,
	).Scan(&run.ID, &run.Command, &run.Status, &run.Detail, &run.StartedAt, &run.FinishedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// RecentRuns returns up to limit runs, newest first.
func (h *History) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := h.conn.db.QueryContext(ctx, `
		SELECT id, command, status, detail, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Command, &run.Status, &run.Detail, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RecordOutcome records what happened to one bill message.
func (h *History) RecordOutcome(ctx context.Context, o Outcome) error {
	_, err := h.conn.db.ExecContext(ctx, `
		INSERT INTO message_outcomes
			(run_id, rule_id, thread_id, subject, status, target, entry_date, amount, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.RunID, o.RuleID, o.ThreadID, o.Subject, o.Status,
		o.Target, o.EntryDate, o.Amount, o.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

// OutcomesByStatus lists outcomes with the given status, newest first.
func (h *History) OutcomesByStatus(ctx context.Context, status string, limit int) ([]Outcome, error) {
	rows, err := h.conn.db.QueryContext(ctx, `
		SELECT id, run_id, rule_id, thread_id, subject, status, target, entry_date, amount, detail, recorded_at
		FROM message_outcomes
		WHERE status = ?
		ORDER BY id DESC
		LIMIT ?
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []Outcome
	for rows.Next() {
		var o Outcome
		if err := rows.Scan(
			&o.ID,
			&o.RunID,
			&o.RuleID,
			&o.ThreadID,
			&o.Subject,
			&o.Status,
			&o.Target,
			&o.EntryDate,
			&o.Amount,
			&o.Detail,
			&o.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// RecordPosting records one ledger posting decision.
func (h *History) RecordPosting(ctx context.Context, p Posting) error {
	_, err := h.conn.db.ExecContext(ctx, `
		INSERT INTO postings (run_id, ledger, entry_date, vendor, amount, memo, result)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.RunID, p.Ledger, p.EntryDate, p.Vendor, p.Amount, p.Memo, p.Result)
	if err != nil {
		return fmt.Errorf("failed to record posting: %w", err)
	}
	return nil
}

// Stats summarizes the history.
type Stats struct {
	TotalRuns  int
	FailedRuns int
	Posted     int
	Duplicates int
	Reviewed   int
	Skipped    int
	Errored    int
	Postings   int
	LastRun    sql.NullString
}

// GetStats retrieves history statistics.
func (h *History) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats

	err := h.conn.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status IN ('failed', 'unauthorized') THEN 1 ELSE 0 END), 0)
		FROM runs
	`).Scan(&stats.TotalRuns, &stats.FailedRuns)
	if err != nil {
		return nil, fmt.Errorf("failed to get run counts: %w", err)
	}

	rows, err := h.conn.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM message_outcomes GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		switch status {
		case "posted":
			stats.Posted = count
		case "duplicate":
			stats.Duplicates = count
		case "review":
			stats.Reviewed = count
		case "skipped":
			stats.Skipped = count
		case "error":
			stats.Errored = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = h.conn.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM postings`).Scan(&stats.Postings)
	if err != nil {
		return nil, fmt.Errorf("failed to get posting count: %w", err)
	}

	err = h.conn.db.QueryRowContext(ctx, `SELECT MAX(started_at) FROM runs`).Scan(&stats.LastRun)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get last run time: %w", err)
	}

	return &stats, nil
}

// GetMetadata retrieves a metadata value, or "" when unset.
func (h *History) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := h.conn.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get metadata: %w", err)
	}
	return value, nil
}

// SetMetadata sets a metadata value.
func (h *History) SetMetadata(ctx context.Context, key, value string) error {
	_, err := h.conn.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata: %w", err)
	}
	return nil
}
