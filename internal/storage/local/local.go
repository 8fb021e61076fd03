// Package local serves a directory tree, or an in-memory tree, as a RemoteStorage.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/dl-alexandre/pullsync/internal/storage"
)

// Storage adapts a billy filesystem to storage.RemoteStorage.
type Storage struct {
	fs billy.Filesystem
}

// New returns a backend rooted at baseDir, which must be an existing directory.
func New(baseDir string) (*Storage, error) {
	info, err := os.Stat(baseDir)
	if err != nil {
		return nil, storage.Unavailable("open", baseDir, err)
	}
	if !info.IsDir() {
		return nil, storage.Unavailable("open", baseDir, errors.New("not a directory"))
	}
	return &Storage{fs: osfs.New(baseDir)}, nil
}

// NewMemory returns a backend over an empty in-memory filesystem.
func NewMemory() *Storage {
	return NewWithFilesystem(memfs.New())
}

// NewWithFilesystem wraps an existing billy filesystem.
func NewWithFilesystem(fsys billy.Filesystem) *Storage {
	return &Storage{fs: fsys}
}

// Filesystem exposes the underlying billy filesystem, mainly so callers can seed a memory backend.
//
//nolint:ireturn // billy.Filesystem is an interface upstream.
func (s *Storage) Filesystem() billy.Filesystem {
	return s.fs
}

// WriteFile stores data at p and stamps it with modifiedAt (unix seconds) when non-zero.
func (s *Storage) WriteFile(p string, data []byte, modifiedAt int64) error {
	name := storage.CleanPath(p)
	if dir := filepath.Dir(name); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("billy: mkdirall %q: %w", dir, err)
		}
	}
	if err := util.WriteFile(s.fs, name, data, 0o644); err != nil {
		return fmt.Errorf("billy: writefile %q: %w", name, err)
	}
	if modifiedAt == 0 {
		return nil
	}
	ch, ok := s.fs.(billy.Change)
	if !ok {
		return nil
	}
	ts := time.Unix(modifiedAt, 0)
	if err := ch.Chtimes(name, ts, ts); err != nil {
		return fmt.Errorf("billy: chtimes %q: %w", name, err)
	}
	return nil
}

func (s *Storage) ListRecursive(ctx context.Context, p string) ([]storage.Entry, error) {
	root := storage.CleanPath(p)
	info, err := s.fs.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.Unavailable("list", p, storage.ErrNotFound)
		}
		return nil, storage.Unavailable("list", p, err)
	}
	if !info.IsDir() {
		return nil, storage.Unavailable("list", p, errors.New("not a directory"))
	}

	var entries []storage.Entry
	err = util.Walk(s.fs, root, func(current string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel := storage.CleanPath(current)
		if rel == root {
			return nil
		}
		entries = append(entries, toEntry(rel, fi))
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, storage.Unavailable("list", p, fmt.Errorf("billy: walk %q: %w", root, err))
	}
	return entries, nil
}

func (s *Storage) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := s.fs.Lstat(storage.CleanPath(p))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, storage.Unavailable("stat", p, err)
}

func (s *Storage) ReadStream(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := storage.CleanPath(p)
	info, err := s.fs.Stat(name)
	if err != nil {
		return nil, translateError(p, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %q", storage.ErrNotReadable, p)
	}
	f, err := s.fs.Open(name)
	if err != nil {
		return nil, translateError(p, err)
	}
	return f, nil
}

func (s *Storage) ModifiedAt(ctx context.Context, p string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	info, err := s.fs.Stat(storage.CleanPath(p))
	if err != nil {
		return 0, false, translateError(p, err)
	}
	if info.ModTime().IsZero() {
		return 0, false, nil
	}
	return info.ModTime().Unix(), true, nil
}

func toEntry(rel string, fi os.FileInfo) storage.Entry {
	e := storage.Entry{Path: rel, ModifiedAt: fi.ModTime().Unix()}
	switch {
	case fi.Mode().IsRegular():
		e.Kind = storage.KindFile
		e.Size = fi.Size()
	case fi.IsDir():
		e.Kind = storage.KindDirectory
	default:
		e.Kind = storage.KindOther
	}
	return e
}

func translateError(p string, err error) error {
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("%w: %q", storage.ErrNotFound, p)
	case os.IsPermission(err):
		return fmt.Errorf("%w: %q", storage.ErrPermissionDenied, p)
	default:
		return storage.Unavailable("read", p, err)
	}
}
