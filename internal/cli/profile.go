package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dl-alexandre/pullsync/internal/credentials"
	"github.com/dl-alexandre/pullsync/internal/logging"
	"github.com/dl-alexandre/pullsync/internal/storage"
	"github.com/dl-alexandre/pullsync/internal/storage/factory"
	"github.com/dl-alexandre/pullsync/internal/sync/exclude"
	"github.com/dl-alexandre/pullsync/internal/sync/index"
	"github.com/dl-alexandre/pullsync/internal/utils"
)

var (
	profileType        string
	profileURI         string
	profileSettings    []string
	profileExclude     string
	profileDelete      bool
	profileConcurrency int
	profileReplace     bool
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage saved sync profiles",
	Long:  "Commands for adding, listing, inspecting and removing sync profiles",
}

var profileAddCmd = &cobra.Command{
	Use:   "add <name> <remote-root> <local-root>",
	Short: "Save a sync profile",
	Long: `Save a sync profile.

Backend settings are passed as repeated --set key=value flags. Secret settings
(password, secretKey) are moved to the credential store.

Examples:
  pullsync profile add photos /photos ~/Pictures --type webdav --uri https://dav.example.com --set username=me --set password=...
  pullsync profile add backups backups/ ./backups --type s3 --uri s3.amazonaws.com --set bucket=b --set accessKey=... --set secretKey=...`,
	Args: cobra.ExactArgs(3),
	RunE: runProfileAdd,
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sync profiles",
	RunE:  runProfileList,
}

var profileShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a sync profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileShow,
}

var profileRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a sync profile, its history and its secrets",
	Args:    cobra.ExactArgs(1),
	RunE:    runProfileRemove,
}

func init() {
	profileAddCmd.Flags().StringVar(&profileType, "type", string(factory.BackendLocal), "Backend type (local, memory, webdav, s3, gdrive)")
	profileAddCmd.Flags().StringVar(&profileURI, "uri", "", "Backend base URI: directory, server URI, endpoint or root folder ID")
	profileAddCmd.Flags().StringArrayVar(&profileSettings, "set", nil, "Backend setting as key=value (repeatable)")
	profileAddCmd.Flags().StringVar(&profileExclude, "exclude", "", "Regular expression of relative paths to skip")
	profileAddCmd.Flags().BoolVar(&profileDelete, "delete", false, "Delete local files missing remotely")
	profileAddCmd.Flags().IntVar(&profileConcurrency, "concurrency", 0, "Parallel download workers (0 uses the configured default)")
	profileAddCmd.Flags().BoolVar(&profileReplace, "replace", false, "Overwrite an existing profile with the same name")

	profileCmd.AddCommand(profileAddCmd)
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileRemoveCmd)
	rootCmd.AddCommand(profileCmd)
}

func runProfileAdd(cmd *cobra.Command, args []string) error {
	ctx, log := commandContext(cmd)
	out := newOutput(ctx, cmd)

	name := strings.TrimSpace(args[0])
	if name == "" || strings.ContainsAny(name, `/\`) {
		return out.WriteError("profile.add", utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"profile name must be non-empty and must not contain path separators").Build())
	}
	backendType, err := factory.ParseBackendType(profileType)
	if err != nil {
		return out.WriteFailure("profile.add", err)
	}
	if err := checkConcurrency(profileConcurrency); err != nil {
		return out.WriteFailure("profile.add", err)
	}
	if profileExclude != "" {
		if _, err := exclude.New(profileExclude); err != nil {
			return out.WriteError("profile.add", utils.NewCLIError(utils.ErrCodeInvalidArgument, err.Error()).
				WithContext("exclude", profileExclude).Build())
		}
	}
	settings, err := parseSettings(profileSettings)
	if err != nil {
		return out.WriteFailure("profile.add", err)
	}

	sess, err := openSession(ctx, log)
	if err != nil {
		return out.WriteFailure("profile.add", err)
	}
	defer sess.Close()

	localRoot, err := filepath.Abs(args[2])
	if err != nil {
		return out.WriteError("profile.add", utils.NewCLIError(utils.ErrCodeInvalidPath, err.Error()).Build())
	}

	plain, secrets := credentials.Split(settings, factory.SecretSettings)
	profile := index.Profile{
		Name:           name,
		BackendType:    string(backendType),
		BaseURI:        profileURI,
		Settings:       plain,
		RemoteRoot:     storage.CleanPath(args[1]),
		LocalRoot:      localRoot,
		ExcludePattern: profileExclude,
		Delete:         profileDelete,
		Concurrency:    profileConcurrency,
	}

	existing, err := sess.db.GetProfile(ctx, name)
	switch {
	case err == nil && !profileReplace:
		return out.WriteError("profile.add", utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("profile '%s' already exists, use --replace to overwrite it", name)).Build())
	case err != nil && !errors.Is(err, index.ErrProfileNotFound):
		return out.WriteFailure("profile.add", err)
	}

	if len(secrets) > 0 || (existing != nil && needsSecrets(existing.Settings)) {
		mgr, err := sess.credentials()
		if err != nil {
			return out.WriteFailure("profile.add", err)
		}
		if w := mgr.Warning(); w != "" {
			out.AddWarning("CREDENTIAL_STORE_FALLBACK", w, "info")
		}
		if err := mgr.SaveSecrets(name, secrets); err != nil {
			return out.WriteFailure("profile.add", err)
		}
		if len(secrets) > 0 {
			profile.Settings[secretsMarker] = "true"
		}
	}

	if existing != nil {
		profile.ID = existing.ID
		profile.CreatedAt = existing.CreatedAt
		profile.LastSyncTime = existing.LastSyncTime
		err = sess.db.UpdateProfile(ctx, profile)
	} else {
		err = sess.db.CreateProfile(ctx, &profile)
	}
	if err != nil {
		return out.WriteFailure("profile.add", err)
	}

	log.Info("Profile saved",
		logging.F("profile", name),
		logging.F("backend", profile.BackendType),
		logging.F("secrets", credentials.Keys(secrets)))
	return out.WriteSuccess("profile.add", index.ProfileDetail(profile))
}

func runProfileList(cmd *cobra.Command, args []string) error {
	ctx, log := commandContext(cmd)
	out := newOutput(ctx, cmd)

	sess, err := openSession(ctx, log)
	if err != nil {
		return out.WriteFailure("profile.list", err)
	}
	defer sess.Close()

	profiles, err := sess.db.ListProfiles(ctx)
	if err != nil {
		return out.WriteFailure("profile.list", err)
	}
	return out.WriteSuccess("profile.list", index.ProfileList(profiles))
}

func runProfileShow(cmd *cobra.Command, args []string) error {
	ctx, log := commandContext(cmd)
	out := newOutput(ctx, cmd)

	sess, err := openSession(ctx, log)
	if err != nil {
		return out.WriteFailure("profile.show", err)
	}
	defer sess.Close()

	profile, err := sess.profile(ctx, args[0])
	if err != nil {
		return out.WriteFailure("profile.show", err)
	}
	return out.WriteSuccess("profile.show", index.ProfileDetail(*profile))
}

func runProfileRemove(cmd *cobra.Command, args []string) error {
	ctx, log := commandContext(cmd)
	out := newOutput(ctx, cmd)

	sess, err := openSession(ctx, log)
	if err != nil {
		return out.WriteFailure("profile.remove", err)
	}
	defer sess.Close()

	profile, err := sess.profile(ctx, args[0])
	if err != nil {
		return out.WriteFailure("profile.remove", err)
	}
	if globalFlags.DryRun {
		return out.WriteSuccess("profile.remove", map[string]interface{}{
			"profile": profile.Name,
			"dryRun":  true,
		})
	}
	if needsSecrets(profile.Settings) {
		mgr, err := sess.credentials()
		if err != nil {
			return out.WriteFailure("profile.remove", err)
		}
		if err := mgr.DeleteSecrets(profile.Name); err != nil && !errors.Is(err, credentials.ErrNotFound) {
			return out.WriteFailure("profile.remove", err)
		}
	}
	if err := sess.db.DeleteProfile(ctx, profile.Name); err != nil {
		return out.WriteFailure("profile.remove", err)
	}

	log.Info("Profile removed", logging.F("profile", profile.Name))
	out.Log("Removed profile %s", profile.Name)
	return out.WriteSuccess("profile.remove", map[string]interface{}{
		"profile": profile.Name,
	})
}
