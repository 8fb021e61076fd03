package mocks_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/dl-alexandre/pullsync/internal/storage"
	testhelpers "github.com/dl-alexandre/pullsync/internal/testing"
	"github.com/dl-alexandre/pullsync/internal/testing/mocks"
)

// TestMockStorage shows how to seed a MockStorage in tests
func TestMockStorage(t *testing.T) {
	ctx := testhelpers.TestContext()
	store := mocks.NewMockStorage()
	store.PutFile("docs/a.txt", "hello", 1000)
	store.PutDir("empty")
	store.PutOther("docs/link")

	entries, err := store.ListRecursive(ctx, "")
	testhelpers.AssertNoError(t, err, "listing")
	want := []storage.Entry{
		{Path: "docs", Kind: storage.KindDirectory},
		{Path: "docs/a.txt", Kind: storage.KindFile, Size: 5, ModifiedAt: 1000},
		{Path: "docs/link", Kind: storage.KindOther},
		{Path: "empty", Kind: storage.KindDirectory},
	}
	testhelpers.AssertEqual(t, len(entries), len(want), "entry count")
	for i := range want {
		testhelpers.AssertEqual(t, entries[i], want[i], "entry")
	}

	rc, err := store.ReadStream(ctx, "docs/a.txt")
	testhelpers.AssertNoError(t, err, "reading")
	testhelpers.AssertEqual(t, store.OpenStreams(), 1, "open streams")
	data, _ := io.ReadAll(rc)
	testhelpers.AssertEqual(t, string(data), "hello", "content")
	testhelpers.AssertNoError(t, rc.Close(), "closing")
	testhelpers.AssertEqual(t, store.OpenStreams(), 0, "open streams after close")
}

func TestMockStorage_Errors(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewMockStorage()
	store.PutFile("dir/f", "x", 1)

	_, err := store.ReadStream(ctx, "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ReadStream(missing) error = %v, want ErrNotFound", err)
	}
	_, err = store.ReadStream(ctx, "dir")
	if !errors.Is(err, storage.ErrNotReadable) {
		t.Errorf("ReadStream(dir) error = %v, want ErrNotReadable", err)
	}
	_, err = store.ListRecursive(ctx, "nowhere")
	if !errors.Is(err, storage.ErrBackendUnavailable) {
		t.Errorf("ListRecursive(nowhere) error = %v, want ErrBackendUnavailable", err)
	}

	ok, err := store.Exists(ctx, "dir")
	testhelpers.AssertNoError(t, err)
	testhelpers.AssertEqual(t, ok, true, "implicit directory exists")

	store.Remove("dir")
	ok, _ = store.Exists(ctx, "dir/f")
	testhelpers.AssertEqual(t, ok, false, "removed file")
}

// Example: overriding a single method to inject a failure
func TestMockStorage_Override(t *testing.T) {
	store := mocks.NewMockStorage()
	boom := errors.New("connection reset")
	store.ExistsFunc = func(context.Context, string) (bool, error) {
		return false, boom
	}

	_, err := store.Exists(context.Background(), "anything")
	if !errors.Is(err, boom) {
		t.Errorf("Exists() error = %v, want %v", err, boom)
	}
}
