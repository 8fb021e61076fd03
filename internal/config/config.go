package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dl-alexandre/pullsync/internal/types"
	"github.com/dl-alexandre/pullsync/internal/utils"
)

const (
	// ConfigFileName is the name of the config file
	ConfigFileName = "config.json"
	// IndexFileName is the sqlite database holding profiles and run history
	IndexFileName = "index.db"
	// EnvPrefix is the prefix for environment variables
	EnvPrefix = "PULLSYNC_"
)

// Config holds application configuration
type Config struct {
	// DefaultOutputFormat is the default output format (json, table)
	DefaultOutputFormat types.OutputFormat `json:"defaultOutputFormat"`

	// DefaultConcurrency is the worker count for parallel syncs
	DefaultConcurrency int `json:"defaultConcurrency"`

	// RequestTimeout is the default backend request timeout in seconds
	RequestTimeout int `json:"requestTimeout"`

	// LogLevel sets the logging verbosity (quiet, normal, verbose, debug)
	LogLevel string `json:"logLevel"`

	// ColorOutput enables color output for console logs
	ColorOutput bool `json:"colorOutput"`

	// CredentialStore selects where backend secrets live (auto, keyring, file)
	CredentialStore string `json:"credentialStore"`

	// HistoryLimit is how many runs `history` shows by default
	HistoryLimit int `json:"historyLimit"`

	// MaxRetries is the number of retries for transient backend failures
	MaxRetries int `json:"maxRetries"`

	// RetryBaseDelay is the base delay in milliseconds for exponential backoff
	RetryBaseDelay int `json:"retryBaseDelay"`

	path string
}

var validLogLevels = []string{"quiet", "normal", "verbose", "debug"}

var validCredentialStores = []string{"auto", "keyring", "file"}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DefaultOutputFormat: types.OutputFormatTable,
		DefaultConcurrency:  utils.DefaultConcurrency,
		RequestTimeout:      60,
		LogLevel:            "normal",
		ColorOutput:         true,
		CredentialStore:     "auto",
		HistoryLimit:        20,
		MaxRetries:          utils.DefaultMaxRetries,
		RetryBaseDelay:      utils.DefaultRetryDelayMs,
	}
}

// Load loads configuration with precedence: env vars > config file > defaults.
// CLI flags are applied by the caller on top of the result.
func Load() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom is Load with an explicit config file path.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.path = path

	if err := cfg.loadFromFile(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFileOnly reads path over the defaults, ignoring environment overrides.
func LoadFileOnly(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.path = path
	if err := cfg.loadFromFile(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv(EnvPrefix + "OUTPUT_FORMAT"); v != "" {
		c.DefaultOutputFormat = types.OutputFormat(v)
	}
	if v := os.Getenv(EnvPrefix + "CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DefaultConcurrency = n
		}
	}
	if v := os.Getenv(EnvPrefix + "REQUEST_TIMEOUT"); v != "" {
		if timeout, err := strconv.Atoi(v); err == nil {
			c.RequestTimeout = timeout
		}
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvPrefix + "COLOR_OUTPUT"); v != "" {
		c.ColorOutput = ParseBool(v)
	}
	if v := os.Getenv(EnvPrefix + "CREDENTIAL_STORE"); v != "" {
		c.CredentialStore = v
	}
	if v := os.Getenv(EnvPrefix + "HISTORY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.HistoryLimit = n
		}
	}
	if v := os.Getenv(EnvPrefix + "MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRetries = n
		}
	}
	if v := os.Getenv(EnvPrefix + "RETRY_BASE_DELAY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RetryBaseDelay = n
		}
	}
}

// Save writes the configuration back to the file it was loaded from.
func (c *Config) Save() error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	path := c.path
	if path == "" {
		var err error
		if path, err = GetConfigPath(); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), utils.DirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DefaultOutputFormat != types.OutputFormatJSON &&
		c.DefaultOutputFormat != types.OutputFormatTable {
		return fmt.Errorf("invalid output format: %s (must be 'json' or 'table')", c.DefaultOutputFormat)
	}

	if c.DefaultConcurrency < 1 || c.DefaultConcurrency > utils.MaxConcurrency {
		return fmt.Errorf("concurrency must be between 1 and %d, got: %d", utils.MaxConcurrency, c.DefaultConcurrency)
	}

	if c.RequestTimeout < 1 || c.RequestTimeout > 3600 {
		return fmt.Errorf("request timeout must be between 1 and 3600 seconds, got: %d", c.RequestTimeout)
	}

	if !contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if !contains(validCredentialStores, c.CredentialStore) {
		return fmt.Errorf("invalid credential store: %s (must be one of: %s)", c.CredentialStore, strings.Join(validCredentialStores, ", "))
	}

	if c.HistoryLimit < 1 || c.HistoryLimit > 1000 {
		return fmt.Errorf("history limit must be between 1 and 1000, got: %d", c.HistoryLimit)
	}

	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return fmt.Errorf("max retries must be between 0 and 10, got: %d", c.MaxRetries)
	}

	if c.RetryBaseDelay < 100 || c.RetryBaseDelay > 60000 {
		return fmt.Errorf("retry base delay must be between 100 and 60000 ms, got: %d", c.RetryBaseDelay)
	}
	return nil
}

// Set assigns a value by its JSON key, case-insensitively.
func (c *Config) Set(key, value string) error {
	atoi := func(name string) (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer", name)
		}
		return n, nil
	}

	var err error
	switch strings.ToLower(key) {
	case "defaultoutputformat":
		c.DefaultOutputFormat = types.OutputFormat(value)
	case "defaultconcurrency":
		c.DefaultConcurrency, err = atoi("defaultConcurrency")
	case "requesttimeout":
		c.RequestTimeout, err = atoi("requestTimeout")
	case "loglevel":
		c.LogLevel = value
	case "coloroutput":
		c.ColorOutput = ParseBool(value)
	case "credentialstore":
		c.CredentialStore = value
	case "historylimit":
		c.HistoryLimit, err = atoi("historyLimit")
	case "maxretries":
		c.MaxRetries, err = atoi("maxRetries")
	case "retrybasedelay":
		c.RetryBaseDelay, err = atoi("retryBaseDelay")
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	if err != nil {
		return err
	}
	return c.Validate()
}

// GetRetryBaseDelay returns the retry base delay as a duration
func (c *Config) GetRetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelay) * time.Millisecond
}

// Reset restores every field to its default, keeping the file path.
func (c *Config) Reset() {
	path := c.path
	*c = *DefaultConfig()
	c.path = path
}

// GetRequestTimeout returns the request timeout as a duration
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// Path is the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, ConfigFileName), nil
}

// GetConfigDir returns the path to the config directory
func GetConfigDir() (string, error) {
	if dir := os.Getenv(EnvPrefix + "CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", utils.AppName), nil
}

// IndexPath is where the profile database lives inside configDir.
func IndexPath(configDir string) string {
	return filepath.Join(configDir, IndexFileName)
}

// LockPath is the per-profile sync lock inside configDir.
func LockPath(configDir, profile string) string {
	return filepath.Join(configDir, "locks", profile+".lock")
}

// ParseBool parses a boolean value from a string
func ParseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
