package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mrbonezy/canopy/model"
)

// CachedPR returns the most recently fetched cache entry for a branch, or
// nil when the branch has never had a PR cached.
func (s *Store) CachedPR(ctx context.Context, repoID int64, branch string) (*model.PRCacheEntry, error) {
	var e model.PRCacheEntry
	var state, fetchedAt string
	var review, checks sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT pr_number, branch_name, title, state, review_state, checks_state, comment_count, html_url, fetched_at
		FROM pr_cache
		WHERE repo_id = ? AND branch_name = ?
		ORDER BY fetched_at DESC, pr_number DESC
		LIMIT 1`, repoID, branch,
	).Scan(&e.PRNumber, &e.BranchName, &e.Title, &state, &review, &checks, &e.CommentCount, &e.HTMLURL, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.State = model.PRState(state)
	e.ReviewState = model.ReviewState(review.String)
	e.ChecksState = model.ChecksState(checks.String)
	e.FetchedAt = parseTime(fetchedAt)
	return &e, nil
}

// UpsertPRCache writes e keyed by (repo, PR number). A zero FetchedAt is
// stamped with the store clock.
func (s *Store) UpsertPRCache(ctx context.Context, repoID int64, e model.PRCacheEntry) error {
	fetchedAt := s.stamp()
	if !e.FetchedAt.IsZero() {
		fetchedAt = formatTime(e.FetchedAt)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pr_cache (repo_id, pr_number, branch_name, title, state, review_state, checks_state, comment_count, html_url, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (repo_id, pr_number) DO UPDATE SET
			branch_name   = excluded.branch_name,
			title         = excluded.title,
			state         = excluded.state,
			review_state  = excluded.review_state,
			checks_state  = excluded.checks_state,
			comment_count = excluded.comment_count,
			html_url      = excluded.html_url,
			fetched_at    = excluded.fetched_at`,
		repoID, e.PRNumber, e.BranchName, e.Title, string(e.State),
		nullString(string(e.ReviewState)), nullString(string(e.ChecksState)),
		e.CommentCount, e.HTMLURL, fetchedAt,
	)
	return err
}
