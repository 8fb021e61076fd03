package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const profileColumns = `id, name, backend_type, base_uri, settings, remote_root, local_root,
	exclude_pattern, delete_missing, concurrency, created_at, last_sync_time`

// CreateProfile inserts p, assigning an ID and creation time when unset.
func (d *DB) CreateProfile(ctx context.Context, p *Profile) error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("profile name is required")
	}
	exists, err := d.ProfileExists(ctx, p.Name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrProfileExists, p.Name)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = time.Now().Unix()
	}
	return d.upsertProfile(ctx, *p)
}

// UpdateProfile overwrites an existing profile, matched by ID.
func (d *DB) UpdateProfile(ctx context.Context, p Profile) error {
	if _, err := d.getProfile(ctx, "id", p.ID); err != nil {
		return err
	}
	return d.upsertProfile(ctx, p)
}

func (d *DB) upsertProfile(ctx context.Context, p Profile) error {
	settings, err := json.Marshal(p.Settings)
	if err != nil {
		return err
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO sync_profiles (`+profileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			backend_type=excluded.backend_type,
			base_uri=excluded.base_uri,
			settings=excluded.settings,
			remote_root=excluded.remote_root,
			local_root=excluded.local_root,
			exclude_pattern=excluded.exclude_pattern,
			delete_missing=excluded.delete_missing,
			concurrency=excluded.concurrency,
			last_sync_time=excluded.last_sync_time
	`, p.ID, p.Name, p.BackendType, p.BaseURI, string(settings), p.RemoteRoot, p.LocalRoot,
		p.ExcludePattern, p.Delete, p.Concurrency, p.CreatedAt, p.LastSyncTime)
	return err
}

// GetProfile looks a profile up by name.
func (d *DB) GetProfile(ctx context.Context, name string) (*Profile, error) {
	return d.getProfile(ctx, "name", name)
}

func (d *DB) getProfile(ctx context.Context, column, value string) (*Profile, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM sync_profiles WHERE `+column+` = ?`, value)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, value)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *DB) ListProfiles(ctx context.Context) (profiles []Profile, err error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM sync_profiles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return profiles, nil
}

// DeleteProfile removes a profile together with its run history.
func (d *DB) DeleteProfile(ctx context.Context, name string) error {
	p, err := d.GetProfile(ctx, name)
	if err != nil {
		return err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_records WHERE run_id IN (SELECT id FROM sync_runs WHERE profile_id = ?)`, p.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_runs WHERE profile_id = ?`, p.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_profiles WHERE id = ?`, p.ID); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *DB) ProfileExists(ctx context.Context, name string) (bool, error) {
	row := d.db.QueryRowContext(ctx, `SELECT 1 FROM sync_profiles WHERE name = ? LIMIT 1`, name)
	var v int
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(s scanner) (Profile, error) {
	var p Profile
	var settings sql.NullString
	err := s.Scan(&p.ID, &p.Name, &p.BackendType, &p.BaseURI, &settings, &p.RemoteRoot, &p.LocalRoot,
		&p.ExcludePattern, &p.Delete, &p.Concurrency, &p.CreatedAt, &p.LastSyncTime)
	if err != nil {
		return Profile{}, err
	}
	if settings.Valid && settings.String != "" && settings.String != "null" {
		if err := json.Unmarshal([]byte(settings.String), &p.Settings); err != nil {
			return Profile{}, fmt.Errorf("decode settings for profile %s: %w", p.Name, err)
		}
	}
	return p, nil
}
