package cli

import (
	"os"
	"path"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dl-alexandre/pullsync/internal/logging"
	"github.com/dl-alexandre/pullsync/internal/storage"
)

var catCmd = &cobra.Command{
	Use:   "cat <profile> <path>",
	Short: "Print a remote file of a profile to stdout",
	Long:  "Print a remote file to stdout. The path is relative to the remote root of the profile.",
	Args:  cobra.ExactArgs(2),
	RunE:  runCat,
}

var getCmd = &cobra.Command{
	Use:   "get <profile> <remote-path> <dest>",
	Short: "Download a single remote file of a profile",
	Long: `Download a single remote file, keeping its modification time.

The remote path is relative to the remote root of the profile. When dest is an
existing directory the file keeps its remote name.`,
	Args: cobra.ExactArgs(3),
	RunE: runGet,
}

func init() {
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(getCmd)
}

type downloadResult struct {
	Profile string `json:"profile"`
	Remote  string `json:"remote"`
	Path    string `json:"path"`
	Bytes   int64  `json:"bytes"`
}

func runCat(cmd *cobra.Command, args []string) error {
	ctx, log := commandContext(cmd)
	out := newOutput(ctx, cmd)

	sess, err := openSession(ctx, log)
	if err != nil {
		return out.WriteFailure("cat", err)
	}
	defer sess.Close()

	profile, err := sess.profile(ctx, args[0])
	if err != nil {
		return out.WriteFailure("cat", err)
	}
	store, release, err := sess.backend(ctx, profile)
	if err != nil {
		return out.WriteFailure("cat", err)
	}
	defer release()

	remote := storage.JoinPath(profile.RemoteRoot, args[1])
	data, err := newEngine(store, log).DownloadContent(ctx, remote)
	if err != nil {
		return out.WriteFailure("cat", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx, log := commandContext(cmd)
	out := newOutput(ctx, cmd)

	sess, err := openSession(ctx, log)
	if err != nil {
		return out.WriteFailure("get", err)
	}
	defer sess.Close()

	profile, err := sess.profile(ctx, args[0])
	if err != nil {
		return out.WriteFailure("get", err)
	}

	remote := storage.JoinPath(profile.RemoteRoot, args[1])
	dest, err := filepath.Abs(args[2])
	if err != nil {
		return out.WriteFailure("get", err)
	}
	if info, statErr := os.Stat(dest); statErr == nil && info.IsDir() {
		dest = filepath.Join(dest, path.Base(remote))
	}
	if globalFlags.DryRun {
		return out.WriteSuccess("get", downloadResult{Profile: profile.Name, Remote: remote, Path: dest})
	}

	store, release, err := sess.backend(ctx, profile)
	if err != nil {
		return out.WriteFailure("get", err)
	}
	defer release()

	n, err := newEngine(store, log).Download(ctx, remote, dest)
	if err != nil {
		return out.WriteFailure("get", err)
	}
	log.Info("Downloaded file",
		logging.F("remote", remote),
		logging.F("path", dest),
		logging.F("size", humanize.Bytes(uint64(max(n, 0)))))
	out.Log("Downloaded %s to %s (%s)", remote, dest, humanize.Bytes(uint64(max(n, 0))))
	return out.WriteSuccess("get", downloadResult{Profile: profile.Name, Remote: remote, Path: dest, Bytes: n})
}
