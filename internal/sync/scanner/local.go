// Package scanner enumerates a local directory tree.
package scanner

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dl-alexandre/pullsync/internal/sync/exclude"
	"github.com/dl-alexandre/pullsync/internal/utils"
)

// Scanner walks a local tree depth first. It is safe to reuse across roots.
type Scanner struct {
	opts       Options
	extensions []string
	matcher    *exclude.Matcher
}

// New validates opts. An invalid exclude pattern is reported here rather than mid-scan.
func New(opts Options) (*Scanner, error) {
	matcher, err := exclude.New(opts.ExcludePattern)
	if err != nil {
		return nil, err
	}
	return &Scanner{
		opts:       opts,
		extensions: parseExtensions(opts.Extensions),
		matcher:    matcher,
	}, nil
}

// ScanLocal is a convenience wrapper around New and Scan.
func ScanLocal(ctx context.Context, root string, opts Options) ([]LocalEntry, error) {
	s, err := New(opts)
	if err != nil {
		return nil, err
	}
	return s.Scan(ctx, root)
}

// Scan returns entries in pre-order: a directory, then its files, then its
// subdirectories in turn. With IncludeDirectories every visited directory is
// reported, the root included (RelativePath ""). Unreadable directories
// contribute nothing. Symlinks are neither followed nor reported. Only context
// cancellation is an error.
func (s *Scanner) Scan(ctx context.Context, root string) ([]LocalEntry, error) {
	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, nil
	}
	var entries []LocalEntry
	if err := s.walk(ctx, root, "", info, s.opts.MaxDepth, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

type child struct {
	name string
	info fs.FileInfo
}

func (s *Scanner) walk(ctx context.Context, dir, rel string, info fs.FileInfo, depth int, out *[]LocalEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.opts.IncludeDirectories {
		*out = append(*out, newEntry(dir, rel, info))
	}
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var files, dirs []child
	for _, d := range dirEntries {
		if d.Type()&os.ModeSymlink != 0 {
			continue
		}
		if s.matcher.MatchName(d.Name()) {
			continue
		}
		info, err := d.Info()
		if err != nil {
			continue
		}
		switch {
		case info.IsDir():
			dirs = append(dirs, child{name: d.Name(), info: info})
		case info.Mode().IsRegular():
			if s.matchesExtension(d.Name()) {
				files = append(files, child{name: d.Name(), info: info})
			}
		}
	}
	s.order(files)
	s.order(dirs)

	for _, f := range files {
		*out = append(*out, newEntry(filepath.Join(dir, f.name), path.Join(rel, f.name), f.info))
	}
	for _, d := range dirs {
		if depth == 0 {
			continue
		}
		next := depth - 1
		if depth == UnlimitedDepth {
			next = UnlimitedDepth
		}
		if err := s.walk(ctx, filepath.Join(dir, d.name), path.Join(rel, d.name), d.info, next, out); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) order(items []child) {
	if s.opts.SortByModTime {
		sort.SliceStable(items, func(i, j int) bool {
			ti, tj := items[i].info.ModTime(), items[j].info.ModTime()
			if ti.Equal(tj) {
				return items[i].name < items[j].name
			}
			return ti.Before(tj)
		})
		return
	}
	sort.Slice(items, func(i, j int) bool { return items[i].name < items[j].name })
}

func (s *Scanner) matchesExtension(name string) bool {
	if len(s.extensions) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, ext := range s.extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func parseExtensions(raw string) []string {
	var exts []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		part = strings.TrimPrefix(part, ".")
		if part == "" {
			continue
		}
		exts = append(exts, "."+part)
	}
	return exts
}

func newEntry(abs, rel string, info fs.FileInfo) LocalEntry {
	e := LocalEntry{
		ID:           utils.PathID(abs),
		AbsPath:      abs,
		RelativePath: rel,
		IsDir:        info.IsDir(),
		ModTime:      info.ModTime().Unix(),
	}
	if !e.IsDir {
		e.Size = info.Size()
	}
	return e
}
