package index

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dl-alexandre/pullsync/internal/sync/changeset"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestProfiles_CRUD(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	p := &Profile{
		Name:        "photos",
		BackendType: "webdav",
		BaseURI:     "https://dav.example.com/remote.php",
		Settings:    map[string]string{"username": "alice", "prefix": "files"},
		RemoteRoot:  "Photos",
		LocalRoot:   "/home/alice/Photos",
		Delete:      true,
		Concurrency: 8,
	}
	require.NoError(t, db.CreateProfile(ctx, p))
	assert.NotEmpty(t, p.ID)
	assert.NotZero(t, p.CreatedAt)

	err := db.CreateProfile(ctx, &Profile{Name: "photos", BackendType: "local", BaseURI: "/x", LocalRoot: "/y"})
	require.ErrorIs(t, err, ErrProfileExists)

	got, err := db.GetProfile(ctx, "photos")
	require.NoError(t, err)
	assert.Equal(t, *p, *got)

	got.ExcludePattern = `\.tmp`
	got.Delete = false
	require.NoError(t, db.UpdateProfile(ctx, *got))
	again, err := db.GetProfile(ctx, "photos")
	require.NoError(t, err)
	assert.Equal(t, `\.tmp`, again.ExcludePattern)
	assert.False(t, again.Delete)

	require.NoError(t, db.CreateProfile(ctx, &Profile{Name: "docs", BackendType: "local", BaseURI: "/srv/docs", LocalRoot: "/tmp/docs"}))
	list, err := db.ListProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "docs", list[0].Name)
	assert.Nil(t, list[0].Settings)

	require.NoError(t, db.DeleteProfile(ctx, "docs"))
	_, err = db.GetProfile(ctx, "docs")
	require.ErrorIs(t, err, ErrProfileNotFound)
	require.ErrorIs(t, db.DeleteProfile(ctx, "docs"), ErrProfileNotFound)
	require.ErrorIs(t, db.UpdateProfile(ctx, Profile{ID: "nope"}), ErrProfileNotFound)
}

func TestProfiles_NameRequired(t *testing.T) {
	require.Error(t, openTestDB(t).CreateProfile(context.Background(), &Profile{Name: "  "}))
}

func sampleChangeSet() *changeset.ChangeSet {
	cs := changeset.New()
	cs.Add(changeset.Record{Kind: changeset.KindAdded, RelativePath: "a.txt", Path: "/l/a.txt", Size: 2048})
	cs.Add(changeset.Record{Kind: changeset.KindChanged, RelativePath: "b.txt", Path: "/l/b.txt", Size: 10})
	cs.Add(changeset.Record{
		Kind:         changeset.KindRemoved,
		RelativePath: "c.txt",
		Path:         "/l/c.txt",
		Outcome:      changeset.OutcomeError,
		Detail:       changeset.NewErrorDetail("delete", "c.txt", errors.New("busy")),
	})
	return cs
}

func TestRecordRun(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	p := &Profile{Name: "p", BackendType: "local", BaseURI: "/r", LocalRoot: "/l"}
	require.NoError(t, db.CreateProfile(ctx, p))

	started := time.Now().Add(-time.Minute)
	run, err := db.RecordRun(ctx, p.ID, started, sampleChangeSet(), nil)
	require.NoError(t, err)
	assert.Equal(t, RunStatusPartial, run.Status)
	assert.Equal(t, 1, run.Added)
	assert.Equal(t, 1, run.Changed)
	assert.Equal(t, 1, run.Removed)
	assert.Equal(t, 1, run.Errors)
	assert.Equal(t, int64(2058), run.Bytes)

	records, err := db.ListRunRecords(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "added", records[0].Kind)
	assert.Equal(t, "removed", records[2].Kind)
	assert.Equal(t, "error", records[2].Outcome)
	assert.Contains(t, records[2].Error, "busy")

	touched, err := db.GetProfile(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, run.FinishedAt, touched.LastSyncTime)

	failed, err := db.RecordRun(ctx, p.ID, time.Now(), nil, errors.New("backend unavailable"))
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, failed.Status)

	runs, err := db.ListRuns(ctx, p.ID, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, failed.ID, runs[0].ID)
	assert.Equal(t, "backend unavailable", runs[0].Error)

	limited, err := db.ListRuns(ctx, p.ID, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, db.DeleteProfile(ctx, "p"))
	runs, err = db.ListRuns(ctx, p.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
	records, err = db.ListRunRecords(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRecordRun_DryRunKeepsLastSync(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	p := &Profile{Name: "p", BackendType: "local", BaseURI: "/r", LocalRoot: "/l"}
	require.NoError(t, db.CreateProfile(ctx, p))

	cs := sampleChangeSet()
	cs.DryRun = true
	run, err := db.RecordRun(ctx, p.ID, time.Now(), cs, nil)
	require.NoError(t, err)
	assert.True(t, run.DryRun)

	got, err := db.GetProfile(ctx, "p")
	require.NoError(t, err)
	assert.Zero(t, got.LastSyncTime)
}

func TestTables(t *testing.T) {
	profiles := ProfileList{{Name: "p", BackendType: "s3", BaseURI: "s3.example.com/", RemoteRoot: "/bucket-dir", LocalRoot: "/l"}}
	table := profiles.AsTableRenderer()
	require.Len(t, table.Rows(), 1)
	assert.Equal(t, "s3.example.com/bucket-dir", table.Rows()[0][2])
	assert.Equal(t, "never", table.Rows()[0][5])
	assert.Equal(t, "No profiles configured", ProfileList{}.AsTableRenderer().EmptyMessage())

	detail := ProfileDetail{Name: "p", Settings: map[string]string{"b": "2", "a": "1"}}.AsTableRenderer().Rows()
	assert.Equal(t, []string{"setting.a", "1"}, detail[len(detail)-2])

	runs := RunList{{ID: "run-1", StartedAt: 100, FinishedAt: 130, Status: RunStatusOK, DryRun: true, Bytes: 2048}}
	row := runs.AsTableRenderer().Rows()[0]
	assert.Equal(t, "ok (dry run)", row[1])
	assert.Equal(t, "2.0 kB", row[6])
	assert.Equal(t, "30s", row[7])
	assert.Equal(t, "run-1", row[8])

	records := RunRecordList{{Kind: "added", RelativePath: "a/b.txt", Size: 1500, Outcome: "ok"}}
	assert.Equal(t, []string{"added", "a/b.txt", "1.5 kB", "ok", ""}, records.AsTableRenderer().Rows()[0])
	assert.Equal(t, "No changes recorded for this run", RunRecordList{}.AsTableRenderer().EmptyMessage())
}
