package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"

	"github.com/mrbonezy/canopy/model"
)

const repoColumns = `id, path, display_name, last_opened, created_at`

func scanRepo(row interface{ Scan(...any) error }) (model.Repo, error) {
	var r model.Repo
	var lastOpened, createdAt string
	if err := row.Scan(&r.ID, &r.Path, &r.DisplayName, &lastOpened, &createdAt); err != nil {
		return model.Repo{}, err
	}
	r.LastOpened = parseTime(lastOpened)
	r.CreatedAt = parseTime(createdAt)
	return r, nil
}

// Repos returns repos, most recently opened first.
func (s *Store) Repos(ctx context.Context) ([]model.Repo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+repoColumns+` FROM repos ORDER BY last_opened DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Repo{}
	for rows.Next() {
		r, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Repo(ctx context.Context, id int64) (*model.Repo, error) {
	r, err := scanRepo(s.db.QueryRowContext(ctx, `SELECT `+repoColumns+` FROM repos WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// AddRepo registers path, or marks it opened if already known. The display
// name starts as the folder name.
func (s *Store) AddRepo(ctx context.Context, path string) (model.Repo, error) {
	path = filepath.Clean(strings.TrimSpace(path))
	now := s.stamp()
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO repos (path, display_name, last_opened, created_at) VALUES (?, ?, ?, ?)`,
		path, filepath.Base(path), now, now,
	); err != nil {
		return model.Repo{}, err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE repos SET last_opened = ? WHERE path = ?`, now, path); err != nil {
		return model.Repo{}, err
	}
	return scanRepo(s.db.QueryRowContext(ctx, `SELECT `+repoColumns+` FROM repos WHERE path = ?`, path))
}

// RemoveRepo deletes the repo and, by cascade, its branches and PR cache.
func (s *Store) RemoveRepo(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM repos WHERE id = ?`, id)
	return err
}

func (s *Store) TouchRepoOpened(ctx context.Context, id int64) error {
	return s.execRepo(ctx, `UPDATE repos SET last_opened = ? WHERE id = ?`, s.stamp(), id)
}

func (s *Store) UpdateRepoDisplayName(ctx context.Context, id int64, name string) error {
	return s.execRepo(ctx, `UPDATE repos SET display_name = ? WHERE id = ?`, strings.TrimSpace(name), id)
}

func (s *Store) execRepo(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRepoNotFound
	}
	return nil
}
