package retry

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dl-alexandre/pullsync/internal/storage"
	"github.com/dl-alexandre/pullsync/internal/testing/mocks"
)

func newStore(t *testing.T, backend storage.RemoteStorage, maxRetries int) (*Store, *[]time.Duration) {
	t.Helper()
	s := Wrap(backend, Config{MaxRetries: maxRetries, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}, nil)
	var slept []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return s, &slept
}

func TestRetry_RecoversFromTransientFailure(t *testing.T) {
	backend := mocks.NewMockStorage()
	backend.PutFile("a.txt", "hello", 100)
	calls := 0
	backend.ListRecursiveFunc = func(ctx context.Context, p string) ([]storage.Entry, error) {
		calls++
		if calls < 3 {
			return nil, storage.Transient("list", p, errors.New("503 Service Unavailable"))
		}
		return []storage.Entry{{Path: "a.txt", Kind: storage.KindFile, Size: 5}}, nil
	}

	s, slept := newStore(t, backend, 3)
	entries, err := s.ListRecursive(context.Background(), ".")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 3, calls)
	assert.Len(t, *slept, 2)
}

func TestRetry_GivesUpAfterMaxRetries(t *testing.T) {
	backend := mocks.NewMockStorage()
	calls := 0
	backend.ExistsFunc = func(ctx context.Context, p string) (bool, error) {
		calls++
		return false, storage.Transient("stat", p, errors.New("429 Too Many Requests"))
	}

	s, slept := newStore(t, backend, 2)
	_, err := s.Exists(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrBackendUnavailable)
	assert.ErrorIs(t, err, storage.ErrTransient)
	assert.Equal(t, 3, calls)
	assert.Len(t, *slept, 2)
}

func TestRetry_PermanentErrorsAreNotRetried(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"not found", storage.ErrNotFound},
		{"permission denied", storage.ErrPermissionDenied},
		{"unavailable", storage.Unavailable("auth", "", errors.New("401"))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := mocks.NewMockStorage()
			calls := 0
			backend.ReadStreamFunc = func(ctx context.Context, p string) (io.ReadCloser, error) {
				calls++
				return nil, tc.err
			}
			s, slept := newStore(t, backend, 5)
			_, err := s.ReadStream(context.Background(), "f")
			assert.ErrorIs(t, err, tc.err)
			assert.Equal(t, 1, calls)
			assert.Empty(t, *slept)
		})
	}
}

func TestRetry_StopsWhenCancelled(t *testing.T) {
	backend := mocks.NewMockStorage()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	backend.ModifiedAtFunc = func(context.Context, string) (int64, bool, error) {
		calls++
		cancel()
		return 0, false, storage.Transient("stat", "f", errors.New("timeout"))
	}

	s, _ := newStore(t, backend, 5)
	_, _, err := s.ModifiedAt(ctx, "f")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_PassesThroughResults(t *testing.T) {
	backend := mocks.NewMockStorage()
	backend.PutFile("dir/f.txt", "content", 1600000000)
	s, _ := newStore(t, backend, 1)
	ctx := context.Background()

	ts, ok, err := s.ModifiedAt(ctx, "dir/f.txt")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1600000000), ts)

	rc, err := s.ReadStream(ctx, "dir/f.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "content", string(data))

	assert.Same(t, backend, s.Unwrap())
	assert.NoError(t, s.Close())
}

func TestBackoff(t *testing.T) {
	cfg := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	for attempt, want := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second} {
		got := backoff(cfg, attempt)
		assert.GreaterOrEqual(t, got, want-want/4, "attempt %d", attempt)
		assert.LessOrEqual(t, got, want+want/4, "attempt %d", attempt)
	}
}

func TestWrap_Defaults(t *testing.T) {
	s := Wrap(mocks.NewMockStorage(), Config{MaxRetries: -1}, nil)
	assert.Equal(t, 0, s.cfg.MaxRetries)
	assert.Positive(t, s.cfg.BaseDelay)
	assert.GreaterOrEqual(t, s.cfg.MaxDelay, s.cfg.BaseDelay)
	assert.Equal(t, 0, DefaultConfig().MaxRetries)
}

func TestRetry_ZeroRetriesMakesOneAttempt(t *testing.T) {
	backend := mocks.NewMockStorage()
	calls := 0
	backend.ExistsFunc = func(ctx context.Context, p string) (bool, error) {
		calls++
		return false, storage.Transient("stat", p, errors.New("503 Service Unavailable"))
	}

	s, slept := newStore(t, backend, 0)
	_, err := s.Exists(context.Background(), "x")
	assert.ErrorIs(t, err, storage.ErrTransient)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
}
