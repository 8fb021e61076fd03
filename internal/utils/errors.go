package utils

import (
	"context"
	"errors"
	"fmt"

	"github.com/dl-alexandre/pullsync/internal/storage"
	"github.com/dl-alexandre/pullsync/internal/types"
)

// Exit codes
const (
	ExitSuccess = 0
	// Backend errors (10-19)
	ExitBackendUnavailable = 10
	ExitUnknownBackendType = 11
	ExitAuthRequired       = 12
	// File operation errors (20-29)
	ExitFileNotFound     = 20
	ExitNotReadable      = 21
	ExitPermissionDenied = 22
	// Sync errors (30-39)
	ExitSyncLocked     = 30
	ExitPartialFailure = 31
	ExitCancelled      = 32
	// Validation errors (40-49)
	ExitInvalidArgument = 40
	ExitInvalidPath     = 41
	// Unknown
	ExitUnknown = 99
)

// Error codes (tool-owned, stable)
const (
	ErrCodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrCodeUnknownBackendType = "UNKNOWN_BACKEND_TYPE"
	ErrCodeAuthRequired       = "AUTH_REQUIRED"
	ErrCodeFileNotFound       = "FILE_NOT_FOUND"
	ErrCodeNotReadable        = "NOT_READABLE"
	ErrCodePermissionDenied   = "PERMISSION_DENIED"
	ErrCodeSyncLocked         = "SYNC_LOCKED"
	ErrCodePartialFailure     = "PARTIAL_FAILURE"
	ErrCodeCancelled          = "CANCELLED"
	ErrCodeInvalidArgument    = "INVALID_ARGUMENT"
	ErrCodeInvalidPath        = "INVALID_PATH"
	ErrCodeProfileNotFound    = "PROFILE_NOT_FOUND"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeUnknown            = "UNKNOWN"
)

// CLIErrorBuilder helps construct CLIError instances
type CLIErrorBuilder struct {
	err types.CLIError
}

// NewCLIError creates a new error builder
func NewCLIError(code, message string) *CLIErrorBuilder {
	return &CLIErrorBuilder{
		err: types.CLIError{
			Code:    code,
			Message: message,
		},
	}
}

func (b *CLIErrorBuilder) WithRetryable(retryable bool) *CLIErrorBuilder {
	b.err.Retryable = retryable
	return b
}

func (b *CLIErrorBuilder) WithContext(key string, value interface{}) *CLIErrorBuilder {
	if b.err.Context == nil {
		b.err.Context = make(map[string]interface{})
	}
	b.err.Context[key] = value
	return b
}

func (b *CLIErrorBuilder) Build() types.CLIError {
	return b.err
}

// GetExitCode returns the exit code for an error code
func GetExitCode(errorCode string) int {
	mapping := map[string]int{
		ErrCodeBackendUnavailable: ExitBackendUnavailable,
		ErrCodeUnknownBackendType: ExitUnknownBackendType,
		ErrCodeAuthRequired:       ExitAuthRequired,
		ErrCodeFileNotFound:       ExitFileNotFound,
		ErrCodeNotReadable:        ExitNotReadable,
		ErrCodePermissionDenied:   ExitPermissionDenied,
		ErrCodeSyncLocked:         ExitSyncLocked,
		ErrCodePartialFailure:     ExitPartialFailure,
		ErrCodeCancelled:          ExitCancelled,
		ErrCodeInvalidArgument:    ExitInvalidArgument,
		ErrCodeInvalidPath:        ExitInvalidPath,
		ErrCodeProfileNotFound:    ExitInvalidArgument,
	}
	if code, ok := mapping[errorCode]; ok {
		return code
	}
	return ExitUnknown
}

// AppError is a custom error type that carries CLI error info
type AppError struct {
	CLIError types.CLIError
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.CLIError.Code, e.CLIError.Message)
}

// NewAppError creates an AppError from a CLIError
func NewAppError(cliErr types.CLIError) *AppError {
	return &AppError{CLIError: cliErr}
}

// ClassifyError maps an error from the storage and sync layers onto a stable CLI error.
// Errors that already carry a CLIError are returned unchanged.
func ClassifyError(err error) types.CLIError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.CLIError
	}

	var code string
	retryable := false
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = ErrCodeCancelled
	case errors.Is(err, storage.ErrUnknownBackendType):
		code = ErrCodeUnknownBackendType
	case errors.Is(err, storage.ErrBackendUnavailable):
		code = ErrCodeBackendUnavailable
		retryable = true
	case errors.Is(err, storage.ErrNotFound):
		code = ErrCodeFileNotFound
	case errors.Is(err, storage.ErrNotReadable):
		code = ErrCodeNotReadable
	case errors.Is(err, storage.ErrPermissionDenied):
		code = ErrCodePermissionDenied
	case errors.Is(err, ErrNotUnderBase):
		code = ErrCodeInvalidPath
	default:
		code = ErrCodeUnknown
	}
	return NewCLIError(code, err.Error()).WithRetryable(retryable).Build()
}
