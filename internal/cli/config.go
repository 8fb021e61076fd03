package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dl-alexandre/pullsync/internal/config"
	"github.com/dl-alexandre/pullsync/internal/types"
	"github.com/dl-alexandre/pullsync/internal/utils"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  "Commands for managing pullsync configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the effective configuration, including environment overrides",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value.

Keys: defaultOutputFormat, defaultConcurrency, requestTimeout, logLevel,
colorOutput, credentialStore, historyLimit, maxRetries, retryBaseDelay.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset configuration to defaults",
	Long:  "Reset all configuration settings to their default values",
	RunE:  runConfigReset,
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configResetCmd)
}

// configView renders the configuration with its file path.
type configView struct {
	*config.Config
	File string `json:"path"`
}

func (v configView) AsTableRenderer() types.TableRenderer {
	return keyValueTable{
		{"path", v.File},
		{"defaultOutputFormat", string(v.DefaultOutputFormat)},
		{"defaultConcurrency", strconv.Itoa(v.DefaultConcurrency)},
		{"requestTimeout", strconv.Itoa(v.RequestTimeout)},
		{"logLevel", v.LogLevel},
		{"colorOutput", strconv.FormatBool(v.ColorOutput)},
		{"credentialStore", v.CredentialStore},
		{"historyLimit", strconv.Itoa(v.HistoryLimit)},
		{"maxRetries", strconv.Itoa(v.MaxRetries)},
		{"retryBaseDelay", strconv.Itoa(v.RetryBaseDelay)},
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := newOutput(cmd.Context(), cmd)
	return out.WriteSuccess("config.show", configView{Config: appConfig, File: appConfig.Path()})
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	out := newOutput(cmd.Context(), cmd)
	key, value := args[0], args[1]

	// Env overrides must not leak into the saved file.
	cfg, err := fileConfig()
	if err != nil {
		return out.WriteError("config.set", utils.NewCLIError(utils.ErrCodeUnknown, err.Error()).Build())
	}
	if err := cfg.Set(key, value); err != nil {
		return out.WriteError("config.set", utils.NewCLIError(utils.ErrCodeInvalidArgument, err.Error()).
			WithContext("key", key).Build())
	}
	if globalFlags.DryRun {
		return out.WriteSuccess("config.set", map[string]interface{}{"key": key, "value": value, "dryRun": true})
	}
	if err := cfg.Save(); err != nil {
		return out.WriteError("config.set", utils.NewCLIError(utils.ErrCodeUnknown,
			"Failed to save configuration: "+err.Error()).Build())
	}

	out.Log("Configuration updated: %s = %s", key, value)
	return out.WriteSuccess("config.set", map[string]interface{}{
		"key":   key,
		"value": value,
	})
}

func runConfigReset(cmd *cobra.Command, args []string) error {
	out := newOutput(cmd.Context(), cmd)

	cfg := config.DefaultConfig()
	if appConfig.Path() != "" {
		cfg = appConfig
		cfg.Reset()
	}
	if err := cfg.Save(); err != nil {
		return out.WriteError("config.reset", utils.NewCLIError(utils.ErrCodeUnknown,
			"Failed to reset configuration: "+err.Error()).Build())
	}

	out.Log("Configuration reset to defaults")
	return out.WriteSuccess("config.reset", configView{Config: cfg, File: cfg.Path()})
}

// fileConfig loads the config file alone, without PULLSYNC_* overrides.
func fileConfig() (*config.Config, error) {
	path := appConfig.Path()
	if path == "" {
		var err error
		if path, err = config.GetConfigPath(); err != nil {
			return nil, err
		}
	}
	return config.LoadFileOnly(path)
}
