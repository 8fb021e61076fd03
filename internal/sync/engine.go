// Package sync mirrors a remote tree into a local directory.
package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"

	"github.com/dl-alexandre/pullsync/internal/logging"
	"github.com/dl-alexandre/pullsync/internal/storage"
	"github.com/dl-alexandre/pullsync/internal/sync/changeset"
	"github.com/dl-alexandre/pullsync/internal/sync/diff"
	"github.com/dl-alexandre/pullsync/internal/sync/exclude"
	"github.com/dl-alexandre/pullsync/internal/sync/executor"
	"github.com/dl-alexandre/pullsync/internal/sync/scanner"
	"github.com/dl-alexandre/pullsync/internal/utils"
)

var (
	// ErrInvalidLocalRoot is returned when the local root is missing or not a directory.
	ErrInvalidLocalRoot = errors.New("invalid local root")
	// ErrEntryProcessing wraps every failure recorded against a single entry.
	ErrEntryProcessing = errors.New("entry processing failed")
	// ErrSyncAlreadyRunning is returned when another process holds the sync lock.
	ErrSyncAlreadyRunning = errors.New("sync already running")
)

// Engine pulls from one backend.
type Engine struct {
	store  storage.RemoteStorage
	exec   *executor.Executor
	logger logging.Logger
	opts   Options
}

// Options are engine-wide defaults.
type Options struct {
	// Concurrency bounds SyncParallel workers when a request does not set one.
	Concurrency int
}

// Request describes one pass.
type Request struct {
	RemoteRoot string
	LocalRoot  string
	Delete     bool
	// Parallel fans file downloads out over Concurrency workers.
	Parallel    bool
	Concurrency int
	// DryRun classifies entries without touching the local tree.
	DryRun         bool
	ExcludePattern string
	// LockFile, when set, is held exclusively for the duration of the pass.
	LockFile string
}

func NewEngine(store storage.RemoteStorage, logger logging.Logger, opts Options) *Engine {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = utils.DefaultConcurrency
	}
	return &Engine{
		store:  store,
		exec:   executor.New(store),
		logger: logger,
		opts:   opts,
	}
}

// Sync runs a sequential pass.
func (e *Engine) Sync(ctx context.Context, remoteRoot, localRoot string, deleteMissing bool) (*changeset.ChangeSet, error) {
	return e.Run(ctx, Request{RemoteRoot: remoteRoot, LocalRoot: localRoot, Delete: deleteMissing})
}

// SyncParallel runs a pass with file downloads spread over concurrency workers.
// The resulting ChangeSet is identical to what Sync would produce.
func (e *Engine) SyncParallel(ctx context.Context, remoteRoot, localRoot string, deleteMissing bool, concurrency int) (*changeset.ChangeSet, error) {
	return e.Run(ctx, Request{
		RemoteRoot:  remoteRoot,
		LocalRoot:   localRoot,
		Delete:      deleteMissing,
		Parallel:    true,
		Concurrency: concurrency,
	})
}

// Download fetches a single remote file to dest, preserving the remote timestamp.
func (e *Engine) Download(ctx context.Context, remotePath, dest string) (int64, error) {
	return e.exec.Download(ctx, storage.JoinPath(remotePath), dest)
}

// DownloadContent returns the content of a single remote file.
func (e *Engine) DownloadContent(ctx context.Context, remotePath string) ([]byte, error) {
	return e.exec.DownloadContent(ctx, storage.JoinPath(remotePath))
}

type item struct {
	entry storage.Entry
	rel   string
	local string
}

type pass struct {
	req        Request
	remoteRoot string
	localRoot  string
	matcher    *exclude.Matcher
	cs         *changeset.ChangeSet
	logger     logging.Logger
}

// Run executes one pass. Errors that invalidate the whole pass (bad local root,
// listing failure, lock contention) return a nil ChangeSet. Failures scoped to one
// entry are recorded in the ChangeSet instead. On cancellation the partial
// ChangeSet is returned together with the context error.
func (e *Engine) Run(ctx context.Context, req Request) (*changeset.ChangeSet, error) {
	localRoot, err := resolveLocalRoot(req.LocalRoot)
	if err != nil {
		return nil, err
	}
	matcher, err := exclude.New(req.ExcludePattern)
	if err != nil {
		return nil, err
	}

	if req.LockFile != "" {
		unlock, err := acquireLock(req.LockFile)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	p := &pass{
		req:        req,
		remoteRoot: storage.JoinPath(req.RemoteRoot),
		localRoot:  utils.AddTrailingSeparator(localRoot),
		matcher:    matcher,
		cs:         changeset.New(),
		logger:     e.logger.WithContext(ctx),
	}
	p.cs.DryRun = req.DryRun
	start := time.Now()

	p.logger.Info("Sync started",
		logging.F("remote", utils.AddTrailingSlash(p.remoteRoot)),
		logging.F("local", p.localRoot),
		logging.F("delete", req.Delete),
		logging.F("dryRun", req.DryRun),
		logging.F("parallel", req.Parallel))

	entries, err := e.store.ListRecursive(ctx, p.remoteRoot)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !errors.Is(err, storage.ErrBackendUnavailable) {
			err = storage.Unavailable("list", p.remoteRoot, err)
		}
		p.logger.Error("Remote listing failed", logging.F("error", err.Error()))
		return nil, err
	}

	items, listed := p.plan(entries)
	if req.Parallel {
		concurrency := req.Concurrency
		if concurrency <= 0 {
			concurrency = e.opts.Concurrency
		}
		err = e.processParallel(ctx, p, items, concurrency)
	} else {
		err = e.processSequential(ctx, p, items)
	}
	if err == nil {
		err = e.scanRemovals(ctx, p, listed)
	}
	if req.Parallel {
		p.cs.Sort()
	}
	if err != nil {
		p.logger.Warn("Sync interrupted", logging.F("error", err.Error()))
		return p.cs, err
	}

	summary := p.cs.Summary()
	p.logger.Info("Sync finished",
		logging.F("added", summary.Added),
		logging.F("changed", summary.Changed),
		logging.F("removed", summary.Removed),
		logging.F("errors", summary.Errors),
		logging.F("transferred", humanize.Bytes(uint64(max(summary.Bytes, 0)))),
		logging.F("duration", time.Since(start).Round(time.Millisecond).String()))
	return p.cs, nil
}

func resolveLocalRoot(root string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidLocalRoot)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidLocalRoot, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidLocalRoot, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidLocalRoot, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrInvalidLocalRoot, root)
	}
	return resolved, nil
}

func acquireLock(path string) (func(), error) {
	if err := executor.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s is held by another process", ErrSyncAlreadyRunning, path)
	}
	return func() { _ = lock.Unlock() }, nil
}

// plan maps remote entries onto local paths, parents first. It returns the
// relative paths seen remotely, which the removal scan must never touch.
func (p *pass) plan(entries []storage.Entry) ([]item, mapset.Set[string]) {
	listed := mapset.NewThreadUnsafeSet[string]()
	claimed := mapset.NewThreadUnsafeSet[string]()
	items := make([]item, 0, len(entries))

	for _, entry := range entries {
		rel, err := utils.RelativeTo(entry.Path, p.remoteRoot)
		if err != nil {
			p.fail(changeset.KindUnknown, "map", entry, "", "", err)
			continue
		}
		rel = storage.JoinPath(rel)
		if rel == "" {
			continue
		}
		listed.Add(rel)
		if p.matcher.IsExcluded(rel) {
			continue
		}

		local := filepath.Clean(p.localRoot + filepath.FromSlash(rel))
		if !utils.WithinRoot(p.localRoot, local) {
			p.fail(changeset.KindUnknown, "map", entry, rel, local,
				fmt.Errorf("%w: %q escapes the local root", utils.ErrNotUnderBase, entry.Path))
			continue
		}
		if !claimed.Add(local) {
			p.fail(changeset.KindUnknown, "map", entry, rel, local,
				fmt.Errorf("%q maps to a local path already claimed by another entry", entry.Path))
			continue
		}
		items = append(items, item{entry: entry, rel: rel, local: local})
	}

	executor.SortByDepth(items, func(it item) string { return it.rel })
	return items, listed
}

func (e *Engine) processSequential(ctx context.Context, p *pass, items []item) error {
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.apply(ctx, p, it)
	}
	return nil
}

// processParallel creates directories in depth order before any file download
// starts. Downloads also create missing parents, so ordering among files is free.
func (e *Engine) processParallel(ctx context.Context, p *pass, items []item, concurrency int) error {
	var files []item
	for _, it := range items {
		if it.entry.Kind == storage.KindFile {
			files = append(files, it)
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		e.apply(ctx, p, it)
	}
	p.logger.Debug("Dispatching downloads",
		logging.F("files", len(files)),
		logging.F("concurrency", concurrency))
	return executor.RunConcurrent(ctx, files, concurrency, func(ctx context.Context, it item) {
		e.apply(ctx, p, it)
	})
}

// apply classifies one remote entry and performs the resulting action.
func (e *Engine) apply(ctx context.Context, p *pass, it item) {
	state, err := diff.StatLocal(it.local)
	if err != nil {
		p.fail(changeset.KindUnknown, "stat", it.entry, it.rel, it.local, err)
		return
	}

	action := diff.Classify(it.entry, state)
	p.logger.Debug("Classified entry",
		logging.F("path", it.rel),
		logging.F("kind", it.entry.Kind.String()),
		logging.F("action", action.String()))

	var kind changeset.Kind
	switch action {
	case diff.ActionNone, diff.ActionSkip:
		return
	case diff.ActionMkdir:
		if p.req.DryRun {
			return
		}
		if err := executor.EnsureDir(it.local); err != nil {
			p.fail(changeset.KindUnknown, "mkdir", it.entry, it.rel, it.local, err)
		}
		return
	case diff.ActionAdd:
		kind = changeset.KindAdded
	case diff.ActionUpdate:
		kind = changeset.KindChanged
	default:
		p.fail(changeset.KindUnknown, "classify", it.entry, it.rel, it.local,
			fmt.Errorf("unhandled action %s", action))
		return
	}

	size := it.entry.Size
	if !p.req.DryRun {
		n, err := e.exec.Download(ctx, it.entry.Path, it.local)
		if err != nil {
			p.fail(kind, "download", it.entry, it.rel, it.local, err)
			return
		}
		size = n
	}
	p.cs.Add(changeset.Record{
		ID:           utils.PathID(it.local),
		Kind:         kind,
		Path:         it.local,
		RelativePath: it.rel,
		Size:         size,
		Outcome:      changeset.OutcomeOK,
	})
	p.logger.Info("Entry "+kind.String(),
		logging.F("path", it.rel),
		logging.F("size", humanize.Bytes(uint64(max(size, 0)))))
}

// scanRemovals walks the local tree once and handles files with no remote counterpart.
func (e *Engine) scanRemovals(ctx context.Context, p *pass, listed mapset.Set[string]) error {
	locals, err := scanner.ScanLocal(ctx, p.localRoot, scanner.Options{
		MaxDepth:       scanner.UnlimitedDepth,
		ExcludePattern: p.matcher.Pattern(),
	})
	if err != nil {
		return err
	}

	for _, local := range locals {
		if err := ctx.Err(); err != nil {
			return err
		}
		if listed.Contains(local.RelativePath) {
			continue
		}
		remotePath := storage.JoinPath(p.remoteRoot, local.RelativePath)
		entry := storage.Entry{Path: remotePath, Kind: storage.KindFile, Size: local.Size}

		exists, err := e.store.Exists(ctx, remotePath)
		if err != nil {
			p.fail(changeset.KindUnknown, "exists", entry, local.RelativePath, local.AbsPath, err)
			continue
		}
		if exists {
			continue
		}

		if p.req.Delete && !p.req.DryRun {
			if err := executor.RemoveFile(local.AbsPath); err != nil {
				p.fail(changeset.KindRemoved, "delete", entry, local.RelativePath, local.AbsPath, err)
				continue
			}
		}
		p.cs.Add(changeset.Record{
			ID:           local.ID,
			Kind:         changeset.KindRemoved,
			Path:         local.AbsPath,
			RelativePath: local.RelativePath,
			Size:         local.Size,
			Outcome:      changeset.OutcomeOK,
		})
		p.logger.Info("Entry removed",
			logging.F("path", local.RelativePath),
			logging.F("deleted", p.req.Delete && !p.req.DryRun))
	}
	return nil
}

func (p *pass) fail(kind changeset.Kind, op string, entry storage.Entry, rel, local string, err error) {
	if local == "" {
		local = p.localRoot
	}
	wrapped := fmt.Errorf("%w: %w", ErrEntryProcessing, err)
	p.cs.Add(changeset.Record{
		ID:           utils.PathID(local),
		Kind:         kind,
		Path:         local,
		RelativePath: rel,
		Size:         entry.Size,
		Outcome:      changeset.OutcomeError,
		Detail:       changeset.NewErrorDetail(op, entry.Path, wrapped),
	})
	p.logger.Warn("Entry failed",
		logging.F("operation", op),
		logging.F("path", entry.Path),
		logging.F("error", err.Error()))
}
