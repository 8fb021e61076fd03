// Package webdav serves a WebDAV collection as a RemoteStorage.
package webdav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/studio-b12/gowebdav"

	"github.com/dl-alexandre/pullsync/internal/storage"
	"github.com/dl-alexandre/pullsync/pkg/version"
)

// Config holds connection settings for a WebDAV server.
type Config struct {
	URI      string
	Prefix   string
	Username string
	Password string
	Timeout  time.Duration
	// Transport replaces the default HTTP transport, e.g. for request logging.
	Transport http.RoundTripper
}

// Storage is a gowebdav backed RemoteStorage. gowebdav calls are not context aware,
// so cancellation is observed between requests.
type Storage struct {
	client *gowebdav.Client
	prefix string
}

func New(cfg Config) (*Storage, error) {
	if cfg.URI == "" {
		return nil, storage.Unavailable("connect", "", errors.New("webdav uri is required"))
	}
	client := gowebdav.NewClient(cfg.URI, cfg.Username, cfg.Password)
	client.SetHeader("User-Agent", version.UserAgent())
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.Transport != nil {
		client.SetTransport(cfg.Transport)
	}
	return &Storage{client: client, prefix: storage.JoinPath(cfg.Prefix)}, nil
}

func (s *Storage) remote(p string) string {
	return "/" + storage.JoinPath(s.prefix, p)
}

// ListRecursive walks collections breadth first, one PROPFIND per collection.
func (s *Storage) ListRecursive(ctx context.Context, p string) ([]storage.Entry, error) {
	root := storage.JoinPath(p)
	var entries []storage.Entry
	queue := []string{root}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := queue[0]
		queue = queue[1:]

		children, err := s.client.ReadDir(s.remote(dir))
		if err != nil {
			return nil, storage.Unavailable("list", dir, translateError(dir, err))
		}
		for _, fi := range children {
			rel := storage.JoinPath(dir, fi.Name())
			entry := storage.Entry{Path: rel, ModifiedAt: unixOrZero(fi.ModTime())}
			if fi.IsDir() {
				entry.Kind = storage.KindDirectory
				queue = append(queue, rel)
			} else {
				entry.Kind = storage.KindFile
				entry.Size = fi.Size()
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *Storage) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := s.client.Stat(s.remote(p))
	if err == nil {
		return true, nil
	}
	if gowebdav.IsErrNotFound(err) {
		return false, nil
	}
	return false, storage.Unavailable("stat", p, err)
}

func (s *Storage) ReadStream(ctx context.Context, p string) (io.ReadCloser, error) {
	fi, err := s.stat(ctx, p)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%w: %q", storage.ErrNotReadable, p)
	}
	rc, err := s.client.ReadStream(s.remote(p))
	if err != nil {
		return nil, translateError(p, err)
	}
	return rc, nil
}

func (s *Storage) ModifiedAt(ctx context.Context, p string) (int64, bool, error) {
	fi, err := s.stat(ctx, p)
	if err != nil {
		return 0, false, err
	}
	ts := unixOrZero(fi.ModTime())
	return ts, ts != 0, nil
}

func (s *Storage) stat(ctx context.Context, p string) (os.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fi, err := s.client.Stat(s.remote(p))
	if err != nil {
		return nil, translateError(p, err)
	}
	return fi, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func translateError(p string, err error) error {
	switch {
	case gowebdav.IsErrNotFound(err):
		return fmt.Errorf("%w: %q", storage.ErrNotFound, p)
	case gowebdav.IsErrCode(err, http.StatusUnauthorized):
		return storage.Unavailable("auth", p, err)
	case gowebdav.IsErrCode(err, http.StatusForbidden):
		return fmt.Errorf("%w: %q: %w", storage.ErrPermissionDenied, p, err)
	case isTransient(err):
		return storage.Transient("read", p, err)
	default:
		return storage.Unavailable("read", p, err)
	}
}

func isTransient(err error) bool {
	for _, code := range storage.TransientStatuses {
		if gowebdav.IsErrCode(err, code) {
			return true
		}
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
