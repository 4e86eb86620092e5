// Package db keeps a local SQLite audit trail of rentbooks runs. The
// spreadsheets remain the only record of what was posted; nothing here is
// consulted when deciding whether to post.
package db

// Schema defines the SQL statements to create database tables.
const Schema = `
-- One row per CLI or webhook invocation
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,               -- UUID
    command TEXT NOT NULL,             -- 'bills', 'rent', 'mortgage', 'report', 'manage', 'expense'
    status TEXT NOT NULL DEFAULT 'running', -- 'running', 'ok', 'failed', 'unauthorized'
    detail TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_started
    ON runs(started_at);

-- What happened to each matched bill message
CREATE TABLE IF NOT EXISTS message_outcomes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    rule_id TEXT NOT NULL,
    thread_id TEXT NOT NULL,
    subject TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,              -- 'posted', 'duplicate', 'review', 'skipped', 'error'
    target TEXT NOT NULL DEFAULT '',   -- 'duplex' or 'main'
    entry_date TEXT NOT NULL DEFAULT '', -- MM/DD/YYYY
    amount TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL DEFAULT '',
    recorded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_outcomes_thread
    ON message_outcomes(thread_id);

CREATE INDEX IF NOT EXISTS idx_outcomes_status
    ON message_outcomes(status);

-- Every ledger posting decision
CREATE TABLE IF NOT EXISTS postings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    ledger TEXT NOT NULL,
    entry_date TEXT NOT NULL,          -- MM/DD/YYYY
    vendor TEXT NOT NULL,
    amount TEXT NOT NULL,
    memo TEXT NOT NULL DEFAULT '',
    result TEXT NOT NULL,              -- 'posted' or 'already posted'
    recorded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Key-value state, e.g. the month of the last sent update
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// InitializeSchema creates all tables if they don't exist.
func InitializeSchema(conn *Connection) error {
	if _, err := conn.db.Exec(Schema); err != nil {
		return err
	}
	return nil
}
