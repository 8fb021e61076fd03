// Package index persists sync profiles and run history in sqlite.
package index

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/dl-alexandre/pullsync/internal/utils"
)

type DB struct {
	db *sql.DB
}

// Open creates the database file and its directory as needed and applies the schema.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), utils.DirPerm); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	instance := &DB{db: db}
	if err := instance.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return instance, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, schemaSQL)
	return err
}

const schemaSQL = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS sync_profiles (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	backend_type TEXT NOT NULL,
	base_uri TEXT NOT NULL,
	settings TEXT,
	remote_root TEXT NOT NULL DEFAULT '',
	local_root TEXT NOT NULL,
	exclude_pattern TEXT NOT NULL DEFAULT '',
	delete_missing INTEGER NOT NULL DEFAULT 0,
	concurrency INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	last_sync_time INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sync_runs (
	id TEXT PRIMARY KEY,
	profile_id TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	dry_run INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	added INTEGER NOT NULL DEFAULT 0,
	changed INTEGER NOT NULL DEFAULT 0,
	removed INTEGER NOT NULL DEFAULT 0,
	errors INTEGER NOT NULL DEFAULT 0,
	bytes INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	FOREIGN KEY (profile_id) REFERENCES sync_profiles(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS sync_records (
	run_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	relative_path TEXT NOT NULL,
	path TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	outcome TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	FOREIGN KEY (run_id) REFERENCES sync_runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_runs_profile ON sync_runs(profile_id, started_at);
CREATE INDEX IF NOT EXISTS idx_records_run ON sync_records(run_id);
`
