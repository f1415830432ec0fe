package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mrbonezy/canopy/model"
)

const branchColumns = `id, repo_id, branch_name, status, blocker_type, blocker_ref, next_step, notes,
	manually_set_parent, last_seen, hidden, created_at, updated_at`

func scanBranch(row interface{ Scan(...any) error }) (model.BranchRecord, error) {
	var r model.BranchRecord
	var status, lastSeen, createdAt, updatedAt string
	var blockerType, blockerRef, manual sql.NullString
	var hidden int
	if err := row.Scan(&r.ID, &r.RepoID, &r.BranchName, &status, &blockerType, &blockerRef,
		&r.NextStep, &r.Notes, &manual, &lastSeen, &hidden, &createdAt, &updatedAt); err != nil {
		return model.BranchRecord{}, err
	}
	r.Status = model.BranchStatus(status)
	r.BlockerType = model.BlockerType(blockerType.String)
	r.BlockerRef = blockerRef.String
	r.ManuallySetParent = manual.String
	r.LastSeen = parseTime(lastSeen)
	r.Hidden = hidden != 0
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

func (s *Store) queryBranches(ctx context.Context, query string, args ...any) ([]model.BranchRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.BranchRecord{}
	for rows.Next() {
		r, err := scanBranch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Branch returns the visible record for name, or nil.
func (s *Store) Branch(ctx context.Context, repoID int64, name string) (*model.BranchRecord, error) {
	r, err := scanBranch(s.db.QueryRowContext(ctx,
		`SELECT `+branchColumns+` FROM branches WHERE repo_id = ? AND branch_name = ? AND hidden = 0`, repoID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Branches returns the visible records of a repo ordered by name.
func (s *Store) Branches(ctx context.Context, repoID int64) ([]model.BranchRecord, error) {
	return s.queryBranches(ctx,
		`SELECT `+branchColumns+` FROM branches WHERE repo_id = ? AND hidden = 0 ORDER BY branch_name`, repoID)
}

// AllBranches includes hidden records.
func (s *Store) AllBranches(ctx context.Context, repoID int64) ([]model.BranchRecord, error) {
	return s.queryBranches(ctx,
		`SELECT `+branchColumns+` FROM branches WHERE repo_id = ? ORDER BY branch_name`, repoID)
}

// UpsertBranch creates the record if missing, then applies the non-nil
// fields of f. Pointers to empty values clear nullable columns.
func (s *Store) UpsertBranch(ctx context.Context, repoID int64, name string, f model.BranchFields) (model.BranchRecord, error) {
	if f.Status != nil && !f.Status.Valid() {
		return model.BranchRecord{}, fmt.Errorf("invalid status %q", *f.Status)
	}
	if f.BlockerType != nil && *f.BlockerType != "" && !f.BlockerType.Valid() {
		return model.BranchRecord{}, fmt.Errorf("invalid blocker type %q", *f.BlockerType)
	}
	now := s.stamp()
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO branches (repo_id, branch_name, last_seen, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		repoID, name, now, now, now,
	); err != nil {
		return model.BranchRecord{}, err
	}

	sets := []string{}
	args := []any{}
	if f.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*f.Status))
	}
	if f.BlockerType != nil {
		sets = append(sets, "blocker_type = ?")
		args = append(args, nullString(string(*f.BlockerType)))
	}
	if f.BlockerRef != nil {
		sets = append(sets, "blocker_ref = ?")
		args = append(args, nullString(*f.BlockerRef))
	}
	if f.NextStep != nil {
		sets = append(sets, "next_step = ?")
		args = append(args, *f.NextStep)
	}
	if f.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *f.Notes)
	}
	if f.ManuallySetParent != nil {
		sets = append(sets, "manually_set_parent = ?")
		args = append(args, nullString(*f.ManuallySetParent))
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = ?")
		args = append(args, now, repoID, name)
		query := `UPDATE branches SET ` + strings.Join(sets, ", ") + ` WHERE repo_id = ? AND branch_name = ?`
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return model.BranchRecord{}, err
		}
	}
	return scanBranch(s.db.QueryRowContext(ctx,
		`SELECT `+branchColumns+` FROM branches WHERE repo_id = ? AND branch_name = ?`, repoID, name))
}

func (s *Store) SetBranchHidden(ctx context.Context, repoID int64, name string, hidden bool) error {
	v := 0
	if hidden {
		v = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE branches SET hidden = ?, updated_at = ? WHERE repo_id = ? AND branch_name = ?`,
		v, s.stamp(), repoID, name)
	return err
}

// TouchLastSeen stamps last_seen for every name in one transaction.
func (s *Store) TouchLastSeen(ctx context.Context, repoID int64, names []string) error {
	if len(names) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `UPDATE branches SET last_seen = ? WHERE repo_id = ? AND branch_name = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	now := s.stamp()
	for _, name := range names {
		if _, err := stmt.ExecContext(ctx, now, repoID, name); err != nil {
			return fmt.Errorf("touch %s: %w", name, err)
		}
	}
	return tx.Commit()
}
