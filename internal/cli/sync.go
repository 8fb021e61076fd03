package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dl-alexandre/pullsync/internal/config"
	"github.com/dl-alexandre/pullsync/internal/logging"
	"github.com/dl-alexandre/pullsync/internal/storage"
	syncengine "github.com/dl-alexandre/pullsync/internal/sync"
	"github.com/dl-alexandre/pullsync/internal/sync/changeset"
	"github.com/dl-alexandre/pullsync/internal/sync/exclude"
	"github.com/dl-alexandre/pullsync/internal/sync/index"
	"github.com/dl-alexandre/pullsync/internal/types"
	"github.com/dl-alexandre/pullsync/internal/utils"
)

var (
	syncDelete      bool
	syncNoDelete    bool
	syncParallel    bool
	syncConcurrency int
	syncExclude     string

	onceType     string
	onceURI      string
	onceSettings []string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull a remote tree into a local directory",
	Long:  "Commands for running one-way syncs from a remote backend to the local filesystem",
}

var syncRunCmd = &cobra.Command{
	Use:   "run <profile>",
	Short: "Run a saved sync profile",
	Long: `Run a saved sync profile.

New and updated remote files are downloaded. Local files that no longer exist
remotely are reported, and deleted with --delete. Directories are never pruned.`,
	Args: cobra.ExactArgs(1),
	RunE: runSyncRun,
}

var syncStatusCmd = &cobra.Command{
	Use:   "status <profile>",
	Short: "Show what a sync would change without touching the local tree",
	Args:  cobra.ExactArgs(1),
	RunE:  runSyncStatus,
}

var syncOnceCmd = &cobra.Command{
	Use:   "once <remote-root> <local-root>",
	Short: "Run an ad hoc sync without saving a profile",
	Long: `Run an ad hoc sync without saving a profile.

Examples:
  pullsync sync once --type local --uri /mnt/share docs ./docs
  pullsync sync once --type webdav --uri https://dav.example.com --set username=me --set password=... / ./mirror`,
	Args: cobra.ExactArgs(2),
	RunE: runSyncOnce,
}

func init() {
	for _, c := range []*cobra.Command{syncRunCmd, syncOnceCmd} {
		c.Flags().BoolVar(&syncDelete, "delete", false, "Delete local files missing remotely")
		c.Flags().BoolVar(&syncParallel, "parallel", false, "Download files concurrently")
		c.Flags().IntVar(&syncConcurrency, "concurrency", 0, "Parallel download workers (implies --parallel)")
		c.Flags().StringVar(&syncExclude, "exclude", "", "Additional regular expression of names to skip")
	}
	syncRunCmd.Flags().BoolVar(&syncNoDelete, "no-delete", false, "Keep local files missing remotely even if the profile deletes")
	syncStatusCmd.Flags().StringVar(&syncExclude, "exclude", "", "Additional regular expression of names to skip")

	syncOnceCmd.Flags().StringVar(&onceType, "type", "local", "Backend type (local, memory, webdav, s3, gdrive)")
	syncOnceCmd.Flags().StringVar(&onceURI, "uri", "", "Backend base URI")
	syncOnceCmd.Flags().StringArrayVar(&onceSettings, "set", nil, "Backend setting as key=value (repeatable)")

	syncCmd.AddCommand(syncRunCmd)
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncOnceCmd)
	rootCmd.AddCommand(syncCmd)
}

// syncResult is what sync commands report.
type syncResult struct {
	Profile string               `json:"profile,omitempty"`
	RunID   string               `json:"runId,omitempty"`
	Summary changeset.Summary    `json:"summary"`
	Changes *changeset.ChangeSet `json:"changes"`
}

func (r syncResult) AsTableRenderer() types.TableRenderer {
	return r.Changes.AsTableRenderer()
}

func runSyncRun(cmd *cobra.Command, args []string) error {
	return runProfileSync(cmd, args[0], "sync.run", globalFlags.DryRun)
}

func runSyncStatus(cmd *cobra.Command, args []string) error {
	return runProfileSync(cmd, args[0], "sync.status", true)
}

func runProfileSync(cmd *cobra.Command, name, command string, dryRun bool) error {
	ctx, log := commandContext(cmd)
	out := newOutput(ctx, cmd)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := checkConcurrency(syncConcurrency); err != nil {
		return out.WriteFailure(command, err)
	}

	sess, err := openSession(ctx, log)
	if err != nil {
		return out.WriteFailure(command, err)
	}
	defer sess.Close()

	profile, err := sess.profile(ctx, name)
	if err != nil {
		return out.WriteFailure(command, err)
	}
	log = log.WithContext(ctx)

	req := syncengine.Request{
		RemoteRoot:     profile.RemoteRoot,
		LocalRoot:      profile.LocalRoot,
		Delete:         profile.Delete,
		Concurrency:    profile.Concurrency,
		DryRun:         dryRun,
		ExcludePattern: excludeFor(profile.ExcludePattern, syncExclude),
		LockFile:       config.LockPath(sess.configDir, profile.Name),
	}
	if cmd.Flags().Changed("delete") {
		req.Delete = syncDelete
	}
	if syncNoDelete {
		req.Delete = false
	}
	if syncConcurrency > 0 {
		req.Concurrency = syncConcurrency
	}
	req.Parallel = syncParallel || req.Concurrency > 0

	started := time.Now()
	store, release, err := sess.backend(ctx, profile)
	if err != nil {
		recordRun(ctx, sess, log, profile, started, nil, err)
		return out.WriteFailure(command, err)
	}
	defer release()

	cs, runErr := newEngine(store, log).Run(ctx, req)
	run := recordRun(ctx, sess, log, profile, started, cs, runErr)
	return writeSyncResult(out, command, syncResult{Profile: profile.Name, RunID: run.ID, Changes: cs}, runErr)
}

func runSyncOnce(cmd *cobra.Command, args []string) error {
	ctx, log := commandContext(cmd)
	out := newOutput(ctx, cmd)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := checkConcurrency(syncConcurrency); err != nil {
		return out.WriteFailure("sync.once", err)
	}
	settings, err := parseSettings(onceSettings)
	if err != nil {
		return out.WriteFailure("sync.once", err)
	}

	store, release, err := buildBackend(ctx, onceType, onceURI, settings)
	if err != nil {
		return out.WriteFailure("sync.once", err)
	}
	defer release()

	req := syncengine.Request{
		RemoteRoot:     args[0],
		LocalRoot:      args[1],
		Delete:         syncDelete,
		Parallel:       syncParallel || syncConcurrency > 0,
		Concurrency:    syncConcurrency,
		DryRun:         globalFlags.DryRun,
		ExcludePattern: excludeFor(syncExclude),
	}
	cs, runErr := newEngine(store, log.WithContext(ctx)).Run(ctx, req)
	return writeSyncResult(out, "sync.once", syncResult{Changes: cs}, runErr)
}

// excludeFor adds the default patterns to the given ones.
func excludeFor(patterns ...string) string {
	return exclude.Combine(append(exclude.DefaultPatterns(), patterns...))
}

// recordRun stores the pass in the history. A failure to record is logged, never
// returned, so it cannot mask the outcome of the sync itself.
func recordRun(ctx context.Context, sess *session, log logging.Logger, profile *index.Profile, started time.Time, cs *changeset.ChangeSet, runErr error) index.Run {
	run, err := sess.db.RecordRun(context.WithoutCancel(ctx), profile.ID, started, cs, runErr)
	if err != nil {
		log.Warn("Failed to record sync run",
			logging.F("profile", profile.Name),
			logging.F("error", err.Error()))
	}
	return run
}

func writeSyncResult(out *OutputWriter, command string, result syncResult, runErr error) error {
	if result.Changes == nil {
		result.Changes = changeset.New()
	}
	result.Summary = result.Changes.Summary()

	if runErr != nil {
		cliErr := classifySyncError(runErr)
		if cliErr.Context == nil {
			cliErr.Context = map[string]interface{}{}
		}
		cliErr.Context["summary"] = result.Summary
		if result.RunID != "" {
			cliErr.Context["runId"] = result.RunID
		}
		return out.WriteError(command, cliErr)
	}

	if result.Changes.HasErrors() {
		out.AddWarning(utils.ErrCodePartialFailure,
			fmt.Sprintf("%d entries failed", result.Summary.Errors), "error")
	}
	if err := out.WriteSuccess(command, result); err != nil {
		return err
	}
	if globalFlags.OutputFormat != types.OutputFormatJSON {
		out.Log("%s", result.Summary.String())
	}
	if result.Changes.HasErrors() {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodePartialFailure,
			result.Summary.String()).Build())
	}
	return nil
}

// classifySyncError extends utils.ClassifyError with the engine's own sentinels.
func classifySyncError(err error) types.CLIError {
	switch {
	case errors.Is(err, syncengine.ErrSyncAlreadyRunning):
		return utils.NewCLIError(utils.ErrCodeSyncLocked, err.Error()).WithRetryable(true).Build()
	case errors.Is(err, syncengine.ErrInvalidLocalRoot):
		return utils.NewCLIError(utils.ErrCodeInvalidPath, err.Error()).Build()
	case errors.Is(err, storage.ErrNotFound):
		// the remote root itself is missing
		return utils.NewCLIError(utils.ErrCodeFileNotFound, err.Error()).Build()
	default:
		return utils.ClassifyError(err)
	}
}
