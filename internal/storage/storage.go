// Package storage defines the remote storage capability consumed by the sync engine.
// Concrete backends live in subpackages and are built by storage/factory.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
)

var (
	// ErrBackendUnavailable marks connectivity, authentication and listing failures.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrNotFound is returned when a requested remote path does not exist.
	ErrNotFound = errors.New("remote path not found")
	// ErrNotReadable is returned when a backend has no content for a path expected to be a file.
	ErrNotReadable = errors.New("remote path not readable")
	// ErrPermissionDenied is returned when the backend refuses access to a path.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrTransient marks availability failures worth retrying: throttling, 5xx
	// responses and timeouts. It is always paired with ErrBackendUnavailable.
	ErrTransient = errors.New("transient failure")
	// ErrUnknownBackendType is returned by the factory for unrecognized type tags.
	ErrUnknownBackendType = errors.New("unknown backend type")
)

// EntryKind is the closed set of remote entry kinds.
type EntryKind int

const (
	KindFile EntryKind = iota + 1
	KindDirectory
	// KindOther covers symlinks and anything else a backend can list but not serve as content.
	KindOther
)

func (k EntryKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "dir"
	case KindOther:
		return "other"
	default:
		return fmt.Sprintf("EntryKind(%d)", int(k))
	}
}

// Entry describes one object returned by a recursive listing.
type Entry struct {
	Path       string    `json:"path"`
	Kind       EntryKind `json:"kind"`
	Size       int64     `json:"size"`
	ModifiedAt int64     `json:"modifiedAt"`
}

// RemoteStorage is the capability a backend must provide to be synchronized from.
// Paths are slash separated and relative to the backend root.
type RemoteStorage interface {
	// ListRecursive returns every entry below path, directories included.
	ListRecursive(ctx context.Context, path string) ([]Entry, error)
	// Exists reports whether path names a file or directory.
	Exists(ctx context.Context, path string) (bool, error)
	// ReadStream opens path for reading. It fails with ErrNotFound when absent.
	ReadStream(ctx context.Context, path string) (io.ReadCloser, error)
	// ModifiedAt returns the last modification time as unix seconds. ok is false when
	// the backend has no timestamp for path.
	ModifiedAt(ctx context.Context, path string) (ts int64, ok bool, err error)
}

// Closer is implemented by backends holding resources that outlive a single call.
type Closer interface {
	Close() error
}

// CleanPath normalizes a backend path: slash separated, no leading or trailing slash,
// "." for the root.
func CleanPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return "."
	}
	return p
}

// JoinPath joins backend path elements, returning "" for the root.
func JoinPath(elem ...string) string {
	p := CleanPath(path.Join(elem...))
	if p == "." {
		return ""
	}
	return p
}

// Unavailable wraps err as a backend availability failure.
func Unavailable(op, p string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s %q: %w", ErrBackendUnavailable, op, p, err)
}

// Transient wraps err as a retryable availability failure.
func Transient(op, p string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w: %s %q: %w", ErrBackendUnavailable, ErrTransient, op, p, err)
}

// TransientStatuses are the HTTP statuses a backend reports as transient.
var TransientStatuses = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// IsTransientStatus reports whether code is one of TransientStatuses.
func IsTransientStatus(code int) bool {
	for _, c := range TransientStatuses {
		if c == code {
			return true
		}
	}
	return false
}
