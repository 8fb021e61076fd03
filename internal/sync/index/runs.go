package index

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dl-alexandre/pullsync/internal/sync/changeset"
)

// RecordRun stores the outcome of a pass for profileID. cs may be nil when the
// pass failed before producing a ChangeSet; runErr then explains why.
func (d *DB) RecordRun(ctx context.Context, profileID string, startedAt time.Time, cs *changeset.ChangeSet, runErr error) (run Run, err error) {
	run = Run{
		ID:         uuid.NewString(),
		ProfileID:  profileID,
		StartedAt:  startedAt.Unix(),
		FinishedAt: time.Now().Unix(),
		Status:     RunStatusOK,
	}

	var records []changeset.Record
	if cs != nil {
		s := cs.Summary()
		run.DryRun = cs.DryRun
		run.Added, run.Changed, run.Removed = s.Added, s.Changed, s.Removed
		run.Errors, run.Bytes = s.Errors, s.Bytes
		records = cs.Records()
		if s.Errors > 0 {
			run.Status = RunStatusPartial
		}
	}
	if runErr != nil {
		run.Status = RunStatusFailed
		run.Error = runErr.Error()
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_runs (id, profile_id, started_at, finished_at, dry_run, status, added, changed, removed, errors, bytes, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.ProfileID, run.StartedAt, run.FinishedAt, run.DryRun, string(run.Status),
		run.Added, run.Changed, run.Removed, run.Errors, run.Bytes, run.Error)
	if err != nil {
		return Run{}, err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sync_records (run_id, kind, relative_path, path, size, outcome, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return Run{}, err
	}
	defer stmt.Close()

	for _, r := range records {
		detail := ""
		if r.Detail != nil {
			detail = r.Detail.Error()
		}
		if _, err = stmt.ExecContext(ctx, run.ID, r.Kind.String(), r.RelativePath, r.Path, r.Size, r.Outcome.String(), detail); err != nil {
			return Run{}, err
		}
	}

	if runErr == nil && !run.DryRun {
		if _, err = tx.ExecContext(ctx, `UPDATE sync_profiles SET last_sync_time = ? WHERE id = ?`, run.FinishedAt, profileID); err != nil {
			return Run{}, err
		}
	}
	if err = tx.Commit(); err != nil {
		return Run{}, err
	}
	return run, nil
}

// ListRuns returns the most recent runs for a profile, newest first. limit <= 0
// returns every run.
func (d *DB) ListRuns(ctx context.Context, profileID string, limit int) (runs []Run, err error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, profile_id, started_at, finished_at, dry_run, status, added, changed, removed, errors, bytes, error
		FROM sync_runs WHERE profile_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, profileID, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		var r Run
		var status string
		if err := rows.Scan(&r.ID, &r.ProfileID, &r.StartedAt, &r.FinishedAt, &r.DryRun, &status,
			&r.Added, &r.Changed, &r.Removed, &r.Errors, &r.Bytes, &r.Error); err != nil {
			return nil, err
		}
		r.Status = RunStatus(status)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// ListRunRecords returns the records stored for a run, ordered by kind then path.
func (d *DB) ListRunRecords(ctx context.Context, runID string) (records []RunRecord, err error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT run_id, kind, relative_path, path, size, outcome, error
		FROM sync_records WHERE run_id = ?
		ORDER BY kind, relative_path
	`, runID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.RunID, &r.Kind, &r.RelativePath, &r.Path, &r.Size, &r.Outcome, &r.Error); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
