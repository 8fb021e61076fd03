package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/dl-alexandre/pullsync/internal/config"
	"github.com/dl-alexandre/pullsync/internal/logging"
	"github.com/dl-alexandre/pullsync/internal/types"
	"github.com/dl-alexandre/pullsync/internal/utils"
	"github.com/dl-alexandre/pullsync/pkg/version"
)

var (
	globalFlags types.GlobalFlags
	logger      logging.Logger = logging.NewNoOpLogger()
	appConfig                  = config.DefaultConfig()
	// debugTransport is set with --debug and wraps every backend HTTP call.
	debugTransport http.RoundTripper
)

var rootCmd = &cobra.Command{
	Use:   "pullsync",
	Short: "pullsync - one-way sync from remote storage to a local directory",
	Long: `pullsync mirrors a remote file tree onto a local directory.

Remotes are reached through a storage backend (local, memory, webdav, s3,
gdrive). Saved profiles keep the backend settings, roots and options; secrets
go to the system keyring or an encrypted file, never to the profile index.

All commands support JSON output for automation and scripting.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		appConfig = cfg
		applyConfigDefaults(cmd, cfg)
		if err := validateGlobalFlags(); err != nil {
			return err
		}

		logConfig := logging.LogConfig{
			Level:           logging.INFO,
			OutputFile:      globalFlags.LogFile,
			EnableConsole:   !globalFlags.Quiet,
			EnableDebug:     globalFlags.Debug,
			RedactSensitive: true,
			EnableColor:     cfg.ColorOutput,
			EnableTimestamp: true,
			MaxFileSize:     logging.DefaultLogConfig().MaxFileSize,
		}
		if globalFlags.Verbose {
			logConfig.Level = logging.DEBUG
		}
		if globalFlags.OutputFormat == types.OutputFormatJSON && !globalFlags.Verbose && !globalFlags.Debug {
			logConfig.EnableConsole = false
		}

		l, transport, err := logging.NewDebugLoggerWithTransport(logConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = l
		if transport != nil {
			debugTransport = transport
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logger.Close()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "Print the version of pullsync with build details",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := newOutput(cmd.Context(), cmd)
		info := version.Get()
		if globalFlags.OutputFormat == types.OutputFormatJSON {
			return out.WriteSuccess("version", info)
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), info.String())
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar((*string)(&globalFlags.OutputFormat), "output", string(types.OutputFormatTable), "Output format (json, table)")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.Debug, "debug", false, "Enable debug output, including backend HTTP traffic")
	rootCmd.PersistentFlags().StringVar(&globalFlags.Config, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&globalFlags.LogFile, "log-file", "", "Path to log file")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.DryRun, "dry-run", false, "Show what would be done without making changes")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format (alias for --output json)")

	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, error) {
	if globalFlags.Config != "" {
		return config.LoadFrom(globalFlags.Config)
	}
	return config.Load()
}

// applyConfigDefaults fills flags the user did not set from the config file.
func applyConfigDefaults(cmd *cobra.Command, cfg *config.Config) {
	if !cmd.Flags().Changed("output") && cfg.DefaultOutputFormat != "" {
		globalFlags.OutputFormat = cfg.DefaultOutputFormat
	}
	switch cfg.LogLevel {
	case "quiet":
		if !cmd.Flags().Changed("quiet") {
			globalFlags.Quiet = true
		}
	case "verbose":
		if !cmd.Flags().Changed("verbose") {
			globalFlags.Verbose = true
		}
	case "debug":
		if !cmd.Flags().Changed("debug") {
			globalFlags.Debug = true
		}
	}
}

func validateGlobalFlags() error {
	// Handle --json flag as alias for --output json
	if globalFlags.JSON {
		globalFlags.OutputFormat = types.OutputFormatJSON
	}

	if globalFlags.OutputFormat != types.OutputFormatJSON && globalFlags.OutputFormat != types.OutputFormatTable {
		return utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid output format: %s", globalFlags.OutputFormat)).Build())
	}
	return nil
}

// Execute runs the root command and exits with the code mapped from the error.
func Execute() error {
	err := rootCmd.Execute()
	if err == nil {
		return nil
	}
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		os.Exit(utils.GetExitCode(appErr.CLIError.Code))
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(utils.ExitUnknown)
	return nil
}

// newOutput builds the writer for one command, carrying the trace ID of ctx.
func newOutput(ctx context.Context, cmd *cobra.Command) *OutputWriter {
	out := NewOutputWriter(globalFlags.OutputFormat, globalFlags.Quiet, globalFlags.Verbose).
		WithWriters(cmd.OutOrStdout(), cmd.ErrOrStderr())
	if ctx != nil {
		out.WithTraceID(logging.TraceIDFromContext(ctx))
	}
	return out
}

// commandContext attaches a trace ID to the command context and returns a logger
// bound to it.
func commandContext(cmd *cobra.Command) (context.Context, logging.Logger) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, traceID := logging.EnsureTraceID(ctx)
	return ctx, logger.WithTraceID(traceID)
}
