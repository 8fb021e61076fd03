package mocks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/dl-alexandre/pullsync/internal/storage"
)

// MockFile is a file held by MockStorage.
type MockFile struct {
	Content    []byte
	ModifiedAt int64
	// NoTimestamp makes ModifiedAt report that no timestamp is available.
	NoTimestamp bool
}

// MockStorage is an in-memory storage.RemoteStorage. Each method can be replaced by
// setting the matching Func field, which is how tests inject failures.
type MockStorage struct {
	mu     sync.Mutex
	files  map[string]MockFile
	dirs   map[string]struct{}
	others map[string]struct{}

	openStreams int
	reads       map[string]int

	ListRecursiveFunc func(ctx context.Context, p string) ([]storage.Entry, error)
	ExistsFunc        func(ctx context.Context, p string) (bool, error)
	ReadStreamFunc    func(ctx context.Context, p string) (io.ReadCloser, error)
	ModifiedAtFunc    func(ctx context.Context, p string) (int64, bool, error)
}

var _ storage.RemoteStorage = (*MockStorage)(nil)

func NewMockStorage() *MockStorage {
	return &MockStorage{
		files:  make(map[string]MockFile),
		dirs:   make(map[string]struct{}),
		others: make(map[string]struct{}),
		reads:  make(map[string]int),
	}
}

// PutFile stores content at p with the given modification time.
func (m *MockStorage) PutFile(p, content string, modifiedAt int64) {
	m.PutMockFile(p, MockFile{Content: []byte(content), ModifiedAt: modifiedAt})
}

func (m *MockStorage) PutMockFile(p string, f MockFile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[storage.JoinPath(p)] = f
}

// PutDir records an explicit, possibly empty, directory.
func (m *MockStorage) PutDir(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[storage.JoinPath(p)] = struct{}{}
}

// PutOther records an entry that is neither file nor directory, such as a link.
func (m *MockStorage) PutOther(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.others[storage.JoinPath(p)] = struct{}{}
}

// Remove deletes p and everything below it.
func (m *MockStorage) Remove(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = storage.JoinPath(p)
	for _, set := range []map[string]struct{}{m.dirs, m.others} {
		for k := range set {
			if k == p || strings.HasPrefix(k, p+"/") {
				delete(set, k)
			}
		}
	}
	for k := range m.files {
		if k == p || strings.HasPrefix(k, p+"/") {
			delete(m.files, k)
		}
	}
}

// OpenStreams is the number of streams returned by ReadStream and not yet closed.
func (m *MockStorage) OpenStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openStreams
}

// Reads is the number of successful ReadStream calls for p.
func (m *MockStorage) Reads(p string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads[storage.JoinPath(p)]
}

func (m *MockStorage) ListRecursive(ctx context.Context, p string) ([]storage.Entry, error) {
	if m.ListRecursiveFunc != nil {
		return m.ListRecursiveFunc(ctx, p)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	root := storage.JoinPath(p)
	if root != "" && !m.isDirLocked(root) {
		return nil, storage.Unavailable("list", p, fmt.Errorf("%w: %q", storage.ErrNotFound, p))
	}
	under := func(k string) bool {
		return root == "" || strings.HasPrefix(k, root+"/")
	}

	seen := make(map[string]struct{})
	var entries []storage.Entry
	addDir := func(d string) {
		if d == "" || d == root || !under(d) {
			return
		}
		if _, ok := seen[d]; ok {
			return
		}
		seen[d] = struct{}{}
		entries = append(entries, storage.Entry{Path: d, Kind: storage.KindDirectory})
	}

	for d := range m.dirs {
		for cur := d; cur != "." && cur != ""; cur = path.Dir(cur) {
			addDir(cur)
		}
	}
	for k, f := range m.files {
		if !under(k) {
			continue
		}
		for cur := path.Dir(k); cur != "."; cur = path.Dir(cur) {
			addDir(cur)
		}
		entries = append(entries, storage.Entry{
			Path:       k,
			Kind:       storage.KindFile,
			Size:       int64(len(f.Content)),
			ModifiedAt: f.ModifiedAt,
		})
	}
	for k := range m.others {
		if under(k) {
			entries = append(entries, storage.Entry{Path: k, Kind: storage.KindOther})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (m *MockStorage) Exists(ctx context.Context, p string) (bool, error) {
	if m.ExistsFunc != nil {
		return m.ExistsFunc(ctx, p)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p = storage.JoinPath(p)
	if _, ok := m.files[p]; ok {
		return true, nil
	}
	if _, ok := m.others[p]; ok {
		return true, nil
	}
	return m.isDirLocked(p), nil
}

func (m *MockStorage) ReadStream(ctx context.Context, p string) (io.ReadCloser, error) {
	if m.ReadStreamFunc != nil {
		return m.ReadStreamFunc(ctx, p)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := storage.JoinPath(p)
	f, ok := m.files[key]
	if !ok {
		if m.isDirLocked(key) {
			return nil, fmt.Errorf("%w: %q", storage.ErrNotReadable, p)
		}
		return nil, fmt.Errorf("%w: %q", storage.ErrNotFound, p)
	}
	m.openStreams++
	m.reads[key]++
	return &trackedReader{Reader: bytes.NewReader(f.Content), owner: m}, nil
}

func (m *MockStorage) ModifiedAt(ctx context.Context, p string) (int64, bool, error) {
	if m.ModifiedAtFunc != nil {
		return m.ModifiedAtFunc(ctx, p)
	}
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := storage.JoinPath(p)
	if f, ok := m.files[key]; ok {
		if f.NoTimestamp {
			return 0, false, nil
		}
		return f.ModifiedAt, true, nil
	}
	if m.isDirLocked(key) {
		return 0, false, nil
	}
	return 0, false, fmt.Errorf("%w: %q", storage.ErrNotFound, p)
}

func (m *MockStorage) isDirLocked(p string) bool {
	if p == "" {
		return true
	}
	if _, ok := m.dirs[p]; ok {
		return true
	}
	prefix := p + "/"
	for k := range m.files {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	for k := range m.dirs {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

type trackedReader struct {
	*bytes.Reader
	owner  *MockStorage
	closed bool
}

func (r *trackedReader) Close() error {
	r.owner.mu.Lock()
	defer r.owner.mu.Unlock()
	if !r.closed {
		r.closed = true
		r.owner.openStreams--
	}
	return nil
}
