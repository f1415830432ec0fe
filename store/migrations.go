package store

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "001_initial",
		sql: `
CREATE TABLE IF NOT EXISTS repos (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	path         TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL,
	last_opened  TEXT NOT NULL,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS branches (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	repo_id             INTEGER NOT NULL REFERENCES repos(id) ON DELETE CASCADE,
	branch_name         TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'active'
		CHECK (status IN ('active','waiting_on_pr','waiting_on_person','blocked_by_issue','ready_to_merge','stale','abandoned')),
	blocker_type        TEXT CHECK (blocker_type IS NULL OR blocker_type IN ('pr','person','issue')),
	blocker_ref         TEXT,
	next_step           TEXT NOT NULL DEFAULT '',
	notes               TEXT NOT NULL DEFAULT '',
	manually_set_parent TEXT,
	last_seen           TEXT NOT NULL,
	hidden              INTEGER NOT NULL DEFAULT 0,
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL,
	UNIQUE (repo_id, branch_name)
);

CREATE INDEX IF NOT EXISTS idx_branches_repo ON branches(repo_id);

CREATE TABLE IF NOT EXISTS pr_cache (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	repo_id       INTEGER NOT NULL REFERENCES repos(id) ON DELETE CASCADE,
	pr_number     INTEGER NOT NULL,
	branch_name   TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	state         TEXT NOT NULL CHECK (state IN ('open','closed','merged','draft')),
	review_state  TEXT CHECK (review_state IS NULL OR review_state IN ('pending','changes_requested','approved')),
	checks_state  TEXT CHECK (checks_state IS NULL OR checks_state IN ('pending','success','failure')),
	comment_count INTEGER NOT NULL DEFAULT 0,
	html_url      TEXT NOT NULL DEFAULT '',
	fetched_at    TEXT NOT NULL,
	UNIQUE (repo_id, pr_number)
);

CREATE INDEX IF NOT EXISTS idx_pr_cache_branch ON pr_cache(repo_id, branch_name);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`,
	},
}

// migrate applies pending migrations in order, each in its own
// transaction, and records them in _migrations.
func migrate(ctx context.Context, db *sql.DB, now string) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS _migrations (
		name       TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create _migrations: %w", err)
	}
	applied := map[string]bool{}
	rows, err := db.QueryContext(ctx, `SELECT name FROM _migrations`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		applied[name] = true
	}
	if err := rows.Close(); err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.name] {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO _migrations (name, applied_at) VALUES (?, ?)`, m.name, now); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}
