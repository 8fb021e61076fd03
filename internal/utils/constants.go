package utils

// SchemaVersion is the version of the JSON output envelope
const SchemaVersion = "1.0"

// Local filesystem permissions
const (
	DirPerm  = 0700
	FilePerm = 0644
)

// Sync defaults
const (
	DefaultConcurrency = 4
	MaxConcurrency     = 64
)

// Retry defaults for transient backend failures
const (
	DefaultMaxRetries   = 0
	DefaultRetryDelayMs = 1000
	MaxRetryDelayMs     = 32000
)

// Application identity
const (
	AppName         = "pullsync"
	KeyringService  = "pullsync"
	TempFilePattern = ".pullsync-*.tmp"
)
