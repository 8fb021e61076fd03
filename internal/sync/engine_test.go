package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dl-alexandre/pullsync/internal/storage"
	"github.com/dl-alexandre/pullsync/internal/sync/changeset"
	synctest "github.com/dl-alexandre/pullsync/internal/testing"
	"github.com/dl-alexandre/pullsync/internal/testing/mocks"
)

type runner func(e *Engine, ctx context.Context, remoteRoot, localRoot string, del bool) (*changeset.ChangeSet, error)

var modes = map[string]runner{
	"sequential": func(e *Engine, ctx context.Context, remoteRoot, localRoot string, del bool) (*changeset.ChangeSet, error) {
		return e.Sync(ctx, remoteRoot, localRoot, del)
	},
	"parallel": func(e *Engine, ctx context.Context, remoteRoot, localRoot string, del bool) (*changeset.ChangeSet, error) {
		return e.SyncParallel(ctx, remoteRoot, localRoot, del, 4)
	},
}

func forEachMode(t *testing.T, fn func(t *testing.T, run runner)) {
	for name, run := range modes {
		t.Run(name, func(t *testing.T) { fn(t, run) })
	}
}

func relPaths(records []changeset.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.RelativePath
	}
	return out
}

const T = int64(1600000000)

func TestSync_AddDetection(t *testing.T) {
	forEachMode(t, func(t *testing.T, run runner) {
		store := mocks.NewMockStorage()
		store.PutFile("a/b.txt", "0123456789", T)
		local := t.TempDir()

		cs, err := run(NewEngine(store, nil, Options{}), context.Background(), "", local, false)
		require.NoError(t, err)

		require.Len(t, cs.Added, 1)
		rec := cs.Added[0]
		assert.Equal(t, "a/b.txt", rec.RelativePath)
		assert.Equal(t, filepath.Join(local, "a", "b.txt"), rec.Path)
		assert.Equal(t, int64(10), rec.Size)
		assert.Equal(t, changeset.OutcomeOK, rec.Outcome)
		assert.NotEmpty(t, rec.ID)
		assert.Empty(t, cs.Changed)
		assert.Empty(t, cs.Removed)

		tree := synctest.ReadTree(t, local)
		assert.Equal(t, synctest.LocalFile{Content: "0123456789", ModTime: T}, tree["a/b.txt"])
		assert.Equal(t, 0, store.OpenStreams())
	})
}

func TestSync_Idempotent(t *testing.T) {
	forEachMode(t, func(t *testing.T, run runner) {
		store := mocks.NewMockStorage()
		store.PutFile("a.txt", "one", T)
		store.PutFile("dir/b.txt", "two", T+10)
		store.PutFile("dir/sub/c.txt", "three", T+20)
		store.PutDir("empty")
		local := t.TempDir()
		engine := NewEngine(store, nil, Options{})

		first, err := run(engine, context.Background(), "", local, true)
		require.NoError(t, err)
		assert.True(t, first.HasChanges())
		assert.Len(t, first.Added, 3)

		second, err := run(engine, context.Background(), "", local, true)
		require.NoError(t, err)
		assert.False(t, second.HasChanges())
		assert.False(t, second.HasErrors())
		assert.Equal(t, 3, store.Reads("a.txt")+store.Reads("dir/b.txt")+store.Reads("dir/sub/c.txt"))
	})
}

func TestSync_ChangeDetection(t *testing.T) {
	tests := []struct {
		name        string
		localBody   string
		localMTime  int64
		remoteBody  string
		remoteMTime int64
		changed     bool
	}{
		{"size differs, remote older", "12345", T + 100, "0123456789", T, true},
		{"same size, remote newer", "aaaaa", T, "bbbbb", T + 1, true},
		{"same size, same mtime", "aaaaa", T, "bbbbb", T, false},
		{"same size, local newer", "aaaaa", T + 1, "bbbbb", T, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forEachMode(t, func(t *testing.T, run runner) {
				store := mocks.NewMockStorage()
				store.PutFile("a/b.txt", tt.remoteBody, tt.remoteMTime)
				local := t.TempDir()
				synctest.WriteTree(t, local, map[string]synctest.LocalFile{
					"a/b.txt": {Content: tt.localBody, ModTime: tt.localMTime},
				})

				cs, err := run(NewEngine(store, nil, Options{}), context.Background(), "", local, false)
				require.NoError(t, err)
				assert.Empty(t, cs.Added)

				got := synctest.ReadTree(t, local)["a/b.txt"]
				if tt.changed {
					require.Len(t, cs.Changed, 1)
					assert.Equal(t, "a/b.txt", cs.Changed[0].RelativePath)
					assert.Equal(t, synctest.LocalFile{Content: tt.remoteBody, ModTime: tt.remoteMTime}, got)
				} else {
					assert.Empty(t, cs.Changed)
					assert.Equal(t, synctest.LocalFile{Content: tt.localBody, ModTime: tt.localMTime}, got)
				}
			})
		})
	}
}

func TestSync_Removal(t *testing.T) {
	for _, del := range []bool{false, true} {
		t.Run(fmt.Sprintf("delete=%v", del), func(t *testing.T) {
			forEachMode(t, func(t *testing.T, run runner) {
				store := mocks.NewMockStorage()
				store.PutFile("keep.txt", "k", T)
				local := t.TempDir()
				synctest.WriteTree(t, local, map[string]synctest.LocalFile{
					"keep.txt":    {Content: "k", ModTime: T},
					"old.txt":     {Content: "old"},
					"sub/old.txt": {Content: "old"},
				})

				cs, err := run(NewEngine(store, nil, Options{}), context.Background(), "", local, del)
				require.NoError(t, err)
				assert.ElementsMatch(t, []string{"old.txt", "sub/old.txt"}, relPaths(cs.Removed))
				for _, r := range cs.Removed {
					assert.Equal(t, changeset.OutcomeOK, r.Outcome)
				}

				tree := synctest.ReadTree(t, local)
				assert.Contains(t, tree, "keep.txt")
				_, oldExists := tree["old.txt"]
				_, subExists := tree["sub/old.txt"]
				assert.Equal(t, !del, oldExists)
				assert.Equal(t, !del, subExists)

				// directories are never pruned
				info, err := os.Stat(filepath.Join(local, "sub"))
				require.NoError(t, err)
				assert.True(t, info.IsDir())
			})
		})
	}
}

func TestSync_DirectoryMaterialization(t *testing.T) {
	forEachMode(t, func(t *testing.T, run runner) {
		store := mocks.NewMockStorage()
		store.PutDir("empty")
		store.PutDir("deep/er/still")
		local := t.TempDir()

		cs, err := run(NewEngine(store, nil, Options{}), context.Background(), "", local, false)
		require.NoError(t, err)
		assert.False(t, cs.HasChanges())
		assert.Empty(t, cs.Records())

		for _, d := range []string{"empty", "deep/er/still"} {
			info, err := os.Stat(filepath.Join(local, filepath.FromSlash(d)))
			require.NoError(t, err, d)
			assert.True(t, info.IsDir())
			assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
		}
	})
}

func TestSync_PartialFailureIsolation(t *testing.T) {
	forEachMode(t, func(t *testing.T, run runner) {
		store := mocks.NewMockStorage()
		store.PutFile("a.txt", "a", T)
		store.PutFile("b.txt", "b", T)
		store.PutFile("c.txt", "c", T)
		backing := mocks.NewMockStorage()
		backing.PutFile("a.txt", "a", T)
		backing.PutFile("c.txt", "c", T)
		store.ReadStreamFunc = func(ctx context.Context, p string) (io.ReadCloser, error) {
			if p == "b.txt" {
				return nil, errors.New("simulated download failure")
			}
			return backing.ReadStream(ctx, p)
		}
		local := t.TempDir()

		cs, err := run(NewEngine(store, nil, Options{}), context.Background(), "", local, false)
		require.NoError(t, err)
		require.Len(t, cs.Added, 3)
		assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, relPaths(cs.Added))

		failed := cs.Errors()
		require.Len(t, failed, 1)
		assert.Equal(t, "b.txt", failed[0].RelativePath)
		assert.Equal(t, filepath.Join(local, "b.txt"), failed[0].Path)
		require.NotNil(t, failed[0].Detail)
		assert.ErrorIs(t, failed[0].Detail, ErrEntryProcessing)
		assert.Equal(t, "download", failed[0].Detail.Operation)
		assert.Contains(t, failed[0].Detail.Message, "simulated download failure")

		tree := synctest.ReadTree(t, local)
		assert.Equal(t, "a", tree["a.txt"].Content)
		assert.Equal(t, "c", tree["c.txt"].Content)
		assert.NotContains(t, tree, "b.txt")
	})
}

func TestSync_TimestampFailureRepairedNextPass(t *testing.T) {
	forEachMode(t, func(t *testing.T, run runner) {
		store := mocks.NewMockStorage()
		store.PutFile("a.txt", "alpha", T)
		store.ModifiedAtFunc = func(context.Context, string) (int64, bool, error) {
			return 0, false, storage.Unavailable("stat", "a.txt", errors.New("timeout"))
		}
		local := t.TempDir()
		engine := NewEngine(store, nil, Options{})

		first, err := run(engine, context.Background(), "", local, false)
		require.NoError(t, err)
		failed := first.Errors()
		require.Len(t, failed, 1)
		assert.Equal(t, changeset.KindAdded, failed[0].Kind)

		store.ModifiedAtFunc = nil
		second, err := run(engine, context.Background(), "", local, false)
		require.NoError(t, err)
		assert.False(t, second.HasErrors())
		assert.Equal(t, []string{"a.txt"}, relPaths(second.Changed))

		tree := synctest.ReadTree(t, local)
		assert.Equal(t, synctest.LocalFile{Content: "alpha", ModTime: T}, tree["a.txt"])

		third, err := run(engine, context.Background(), "", local, false)
		require.NoError(t, err)
		assert.False(t, third.HasChanges())
	})
}

func TestSync_ListingFailureAborts(t *testing.T) {
	forEachMode(t, func(t *testing.T, run runner) {
		store := mocks.NewMockStorage()
		store.ListRecursiveFunc = func(context.Context, string) ([]storage.Entry, error) {
			return nil, errors.New("connection refused")
		}
		cs, err := run(NewEngine(store, nil, Options{}), context.Background(), "", t.TempDir(), true)
		require.ErrorIs(t, err, storage.ErrBackendUnavailable)
		assert.Nil(t, cs)
	})
}

func TestSync_MissingRemoteRoot(t *testing.T) {
	store := mocks.NewMockStorage()
	store.PutFile("a.txt", "a", T)
	local := t.TempDir()
	synctest.WriteTree(t, local, map[string]synctest.LocalFile{"precious.txt": {Content: "p"}})

	cs, err := NewEngine(store, nil, Options{}).Sync(context.Background(), "typo", local, true)
	require.ErrorIs(t, err, storage.ErrBackendUnavailable)
	require.ErrorIs(t, err, storage.ErrNotFound)
	assert.Nil(t, cs)
	assert.Contains(t, synctest.ReadTree(t, local), "precious.txt")
}

func TestSync_InvalidLocalRoot(t *testing.T) {
	store := mocks.NewMockStorage()
	engine := NewEngine(store, nil, Options{})
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	for _, root := range []string{"", filepath.Join(t.TempDir(), "missing"), file} {
		cs, err := engine.Sync(context.Background(), "", root, false)
		assert.ErrorIs(t, err, ErrInvalidLocalRoot, root)
		assert.Nil(t, cs)
	}
}

func TestSync_RemoteSubtree(t *testing.T) {
	forEachMode(t, func(t *testing.T, run runner) {
		store := mocks.NewMockStorage()
		store.PutFile("docs/guide/intro.md", "intro", T)
		store.PutFile("other/skip.txt", "skip", T)
		local := t.TempDir()

		cs, err := run(NewEngine(store, nil, Options{}), context.Background(), "/docs//", local, false)
		require.NoError(t, err)
		assert.Equal(t, []string{"guide/intro.md"}, relPaths(cs.Added))

		tree := synctest.ReadTree(t, local)
		assert.Contains(t, tree, "guide/intro.md")
		assert.Len(t, tree, 1)
	})
}

func TestSync_ExistsFailureKeepsFile(t *testing.T) {
	forEachMode(t, func(t *testing.T, run runner) {
		store := mocks.NewMockStorage()
		store.ExistsFunc = func(context.Context, string) (bool, error) {
			return false, storage.Unavailable("stat", "x", errors.New("timeout"))
		}
		local := t.TempDir()
		synctest.WriteTree(t, local, map[string]synctest.LocalFile{"orphan.txt": {Content: "o"}})

		cs, err := run(NewEngine(store, nil, Options{}), context.Background(), "", local, true)
		require.NoError(t, err)
		assert.Empty(t, cs.Removed)
		require.Len(t, cs.Failed, 1)
		assert.Equal(t, "orphan.txt", cs.Failed[0].RelativePath)
		assert.Equal(t, "exists", cs.Failed[0].Detail.Operation)
		assert.ErrorIs(t, cs.Failed[0].Detail, storage.ErrBackendUnavailable)
		assert.Contains(t, synctest.ReadTree(t, local), "orphan.txt")
	})
}

func TestSync_ExistsTrueKeepsUnlistedFile(t *testing.T) {
	store := mocks.NewMockStorage()
	store.ExistsFunc = func(context.Context, string) (bool, error) { return true, nil }
	local := t.TempDir()
	synctest.WriteTree(t, local, map[string]synctest.LocalFile{"late.txt": {Content: "l"}})

	cs, err := NewEngine(store, nil, Options{}).Sync(context.Background(), "", local, true)
	require.NoError(t, err)
	assert.Empty(t, cs.Removed)
	assert.Contains(t, synctest.ReadTree(t, local), "late.txt")
}

func TestSync_KindMismatchLeftAlone(t *testing.T) {
	forEachMode(t, func(t *testing.T, run runner) {
		store := mocks.NewMockStorage()
		store.PutDir("was-file")
		store.PutFile("was-dir", "remote file", T)
		store.PutOther("link")
		local := t.TempDir()
		synctest.WriteTree(t, local, map[string]synctest.LocalFile{
			"was-file":      {Content: "local file", ModTime: T - 10},
			"was-dir/inner": {Content: "x"},
		})

		cs, err := run(NewEngine(store, nil, Options{}), context.Background(), "", local, false)
		require.NoError(t, err)
		assert.Empty(t, cs.Added)
		assert.Empty(t, cs.Changed)
		assert.Equal(t, []string{"was-dir/inner"}, relPaths(cs.Removed))

		tree := synctest.ReadTree(t, local)
		assert.Equal(t, "local file", tree["was-file"].Content)
		_, err = os.Lstat(filepath.Join(local, "link"))
		assert.True(t, os.IsNotExist(err))
	})
}

func TestRun_ExcludePattern(t *testing.T) {
	store := mocks.NewMockStorage()
	store.PutFile("a.txt", "a", T)
	store.PutFile("cache/big.bin", "big", T)
	store.PutFile("x/.DS_Store", "junk", T)
	local := t.TempDir()
	synctest.WriteTree(t, local, map[string]synctest.LocalFile{
		".DS_Store":      {Content: "mine"},
		"cache/keep.bin": {Content: "mine"},
	})

	cs, err := NewEngine(store, nil, Options{}).Run(context.Background(), Request{
		LocalRoot:      local,
		Delete:         true,
		ExcludePattern: `\.DS_Store|cache`,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, relPaths(cs.Added))
	assert.Empty(t, cs.Removed)

	tree := synctest.ReadTree(t, local)
	assert.Contains(t, tree, ".DS_Store")
	assert.Contains(t, tree, "cache/keep.bin")
	assert.NotContains(t, tree, "cache/big.bin")
	assert.NotContains(t, tree, "x/.DS_Store")
}

func TestRun_InvalidExcludePattern(t *testing.T) {
	_, err := NewEngine(mocks.NewMockStorage(), nil, Options{}).Run(context.Background(), Request{
		LocalRoot:      t.TempDir(),
		ExcludePattern: "(",
	})
	require.Error(t, err)
}

func TestRun_DryRun(t *testing.T) {
	store := mocks.NewMockStorage()
	store.PutFile("new.txt", "new", T)
	store.PutFile("stale.txt", "longer content", T)
	store.PutDir("empty")
	local := t.TempDir()
	before := map[string]synctest.LocalFile{
		"stale.txt": {Content: "short", ModTime: T},
		"gone.txt":  {Content: "g", ModTime: T},
	}
	synctest.WriteTree(t, local, before)

	cs, err := NewEngine(store, nil, Options{}).Run(context.Background(), Request{
		LocalRoot: local,
		Delete:    true,
		DryRun:    true,
	})
	require.NoError(t, err)
	assert.True(t, cs.DryRun)
	assert.Equal(t, []string{"new.txt"}, relPaths(cs.Added))
	assert.Equal(t, []string{"stale.txt"}, relPaths(cs.Changed))
	assert.Equal(t, []string{"gone.txt"}, relPaths(cs.Removed))
	assert.Equal(t, int64(3), cs.Added[0].Size)

	assert.Equal(t, before, synctest.ReadTree(t, local))
	_, err = os.Stat(filepath.Join(local, "empty"))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 0, store.Reads("new.txt"))
}

func TestRun_LockHeld(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "locks", "profile.lock")
	require.NoError(t, os.MkdirAll(filepath.Dir(lockPath), 0o700))
	other := flock.New(lockPath)
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	store := mocks.NewMockStorage()
	store.PutFile("a.txt", "a", T)
	local := t.TempDir()
	engine := NewEngine(store, nil, Options{})

	_, err = engine.Run(context.Background(), Request{LocalRoot: local, LockFile: lockPath})
	require.ErrorIs(t, err, ErrSyncAlreadyRunning)
	assert.Empty(t, synctest.ReadTree(t, local))

	require.NoError(t, other.Unlock())
	cs, err := engine.Run(context.Background(), Request{LocalRoot: local, LockFile: lockPath})
	require.NoError(t, err)
	assert.Len(t, cs.Added, 1)
}

func TestRun_Cancelled(t *testing.T) {
	store := mocks.NewMockStorage()
	store.PutFile("a.txt", "a", T)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine(store, nil, Options{}).Sync(ctx, "", t.TempDir(), false)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSyncParallel_MatchesSequential(t *testing.T) {
	store := mocks.NewMockStorage()
	for d := 0; d < 5; d++ {
		for f := 0; f < 10; f++ {
			store.PutFile(fmt.Sprintf("d%d/nested/f%02d.txt", d, f), fmt.Sprintf("content %d/%d", d, f), T+int64(f))
		}
	}
	store.PutDir("d9/empty")
	engine := NewEngine(store, nil, Options{Concurrency: 8})

	seqRoot, parRoot := t.TempDir(), t.TempDir()
	seq, err := engine.Sync(context.Background(), "", seqRoot, false)
	require.NoError(t, err)
	par, err := engine.SyncParallel(context.Background(), "", parRoot, false, 8)
	require.NoError(t, err)

	seq.Sort()
	assert.Equal(t, relPaths(seq.Added), relPaths(par.Added))
	assert.Len(t, par.Added, 50)
	assert.Equal(t, synctest.ReadTree(t, seqRoot), synctest.ReadTree(t, parRoot))
	assert.Equal(t, 0, store.OpenStreams())
}

func TestEngine_DownloadAndContent(t *testing.T) {
	store := mocks.NewMockStorage()
	store.PutFile("docs/readme.md", "hello", T)
	engine := NewEngine(store, nil, Options{})

	data, err := engine.DownloadContent(context.Background(), "/docs/readme.md")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = engine.DownloadContent(context.Background(), "docs/missing.md")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = engine.DownloadContent(context.Background(), "docs")
	assert.ErrorIs(t, err, storage.ErrNotReadable)

	dest := filepath.Join(t.TempDir(), "out", "readme.md")
	n, err := engine.Download(context.Background(), "docs/readme.md", dest)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, T, info.ModTime().Unix())
}
