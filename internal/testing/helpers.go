package testing

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestContext creates a standard test context
func TestContext() context.Context {
	return context.Background()
}

// LocalFile describes a file to create with WriteTree
type LocalFile struct {
	Content string
	ModTime int64
}

// WriteTree creates files below root, creating parent directories as needed.
// A zero ModTime leaves the file's modification time as written.
func WriteTree(t *testing.T, root string, files map[string]LocalFile) {
	t.Helper()
	for rel, f := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", rel, err)
		}
		if err := os.WriteFile(abs, []byte(f.Content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
		if f.ModTime != 0 {
			ts := time.Unix(f.ModTime, 0)
			if err := os.Chtimes(abs, ts, ts); err != nil {
				t.Fatalf("chtimes %s: %v", rel, err)
			}
		}
	}
}

// ReadTree returns every regular file below root keyed by slash separated relative path.
func ReadTree(t *testing.T, root string) map[string]LocalFile {
	t.Helper()
	out := make(map[string]LocalFile)
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = LocalFile{Content: string(data), ModTime: info.ModTime().Unix()}
		return nil
	})
	if err != nil {
		t.Fatalf("read tree %s: %v", root, err)
	}
	return out
}

// AssertNoError is a helper to fail the test if error is not nil
func AssertNoError(t *testing.T, err error, msgAndArgs ...interface{}) {
	t.Helper()
	if err != nil {
		if len(msgAndArgs) > 0 {
			t.Fatalf("%v: %v", msgAndArgs[0], err)
		} else {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}

// AssertEqual is a helper to fail the test if two values are not equal
func AssertEqual(t *testing.T, got, want interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if got != want {
		if len(msgAndArgs) > 0 {
			t.Fatalf("%v: got %v, want %v", msgAndArgs[0], got, want)
		} else {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
