// Package executor materializes remote objects on the local filesystem.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dl-alexandre/pullsync/internal/storage"
	"github.com/dl-alexandre/pullsync/internal/utils"
)

// Executor downloads from a single backend.
type Executor struct {
	store storage.RemoteStorage
}

func New(store storage.RemoteStorage) *Executor {
	return &Executor{store: store}
}

// Download streams remotePath into dest. Content is written to a temporary file in
// dest's directory and renamed into place, so dest is either the old file or the
// complete new one. Missing parent directories are created only once the remote
// stream is open. The local modification time is then set to the backend's; if the
// timestamp cannot be read the file is stamped with the zero time, so the next
// size/mtime comparison sees it as stale. It returns the number of bytes written.
func (e *Executor) Download(ctx context.Context, remotePath, dest string) (n int64, err error) {
	rc, err := e.store.ReadStream(ctx, remotePath)
	if err != nil {
		return 0, err
	}
	if rc == nil {
		return 0, fmt.Errorf("%w: %q", storage.ErrNotReadable, remotePath)
	}
	defer func() {
		if closeErr := rc.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close remote stream: %w", closeErr)
		}
	}()

	dir := filepath.Dir(dest)
	if err := EnsureDir(dir); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(dir, utils.TempFilePattern)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	n, err = io.Copy(tmp, contextReader{ctx: ctx, r: rc})
	if err != nil {
		return n, fmt.Errorf("write %s: %w", dest, err)
	}
	if err := tmp.Chmod(utils.FilePerm); err != nil {
		return n, fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return n, fmt.Errorf("commit %s: %w", dest, err)
	}
	committed = true

	ts, ok, err := e.store.ModifiedAt(ctx, remotePath)
	if err != nil {
		_ = SetModTime(dest, 0)
		return n, fmt.Errorf("read remote timestamp: %w", err)
	}
	if ok {
		if err := SetModTime(dest, ts); err != nil {
			return n, err
		}
	}
	return n, nil
}

// DownloadContent reads the whole object at remotePath into memory.
func (e *Executor) DownloadContent(ctx context.Context, remotePath string) (data []byte, err error) {
	rc, err := e.store.ReadStream(ctx, remotePath)
	if err != nil {
		return nil, err
	}
	if rc == nil {
		return nil, fmt.Errorf("%w: %q", storage.ErrNotReadable, remotePath)
	}
	defer func() {
		if closeErr := rc.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close remote stream: %w", closeErr)
		}
	}()

	data, err = io.ReadAll(contextReader{ctx: ctx, r: rc})
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", remotePath, err)
	}
	return data, nil
}

// EnsureDir creates dir and any missing parents.
func EnsureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, utils.DirPerm); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}

// SetModTime stamps p with unix seconds ts for both access and modification time.
func SetModTime(p string, ts int64) error {
	t := time.Unix(ts, 0)
	if err := os.Chtimes(p, t, t); err != nil {
		return fmt.Errorf("set modification time on %s: %w", p, err)
	}
	return nil
}

// RemoveFile deletes a single local file. A file that is already gone is not an error.
func RemoveFile(p string) error {
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", p, err)
	}
	return nil
}

// RunConcurrent calls handler for each item with at most concurrency calls in flight.
// Dispatch stops once ctx is done; the context error is then returned. Handler
// errors are the handler's to record, so a failing item never stops the others.
func RunConcurrent[T any](ctx context.Context, items []T, concurrency int, handler func(context.Context, T)) error {
	if len(items) == 0 {
		return ctx.Err()
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			handler(gctx, item)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// SortByDepth orders slash separated paths parents first, then lexically.
func SortByDepth[T any](items []T, pathOf func(T) string) {
	sort.SliceStable(items, func(i, j int) bool {
		pi, pj := pathOf(items[i]), pathOf(items[j])
		di, dj := Depth(pi), Depth(pj)
		if di != dj {
			return di < dj
		}
		return pi < pj
	})
}

// Depth counts path elements in a slash separated path.
func Depth(p string) int {
	p = strings.Trim(p, "/")
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
