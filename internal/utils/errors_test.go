package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dl-alexandre/pullsync/internal/storage"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		retryable bool
	}{
		{"cancelled", fmt.Errorf("sync: %w", context.Canceled), ErrCodeCancelled, false},
		{"deadline", context.DeadlineExceeded, ErrCodeCancelled, false},
		{"unknown backend", fmt.Errorf("factory: %w", storage.ErrUnknownBackendType), ErrCodeUnknownBackendType, false},
		{"unavailable", storage.Unavailable("list", "docs", errors.New("dial tcp")), ErrCodeBackendUnavailable, true},
		{"not found", fmt.Errorf("read: %w", storage.ErrNotFound), ErrCodeFileNotFound, false},
		{"not readable", storage.ErrNotReadable, ErrCodeNotReadable, false},
		{"permission", storage.ErrPermissionDenied, ErrCodePermissionDenied, false},
		{"outside base", fmt.Errorf("entry: %w", ErrNotUnderBase), ErrCodeInvalidPath, false},
		{"other", errors.New("boom"), ErrCodeUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			if got.Code != tt.code {
				t.Errorf("code = %s, want %s", got.Code, tt.code)
			}
			if got.Retryable != tt.retryable {
				t.Errorf("retryable = %v, want %v", got.Retryable, tt.retryable)
			}
			if got.Message != tt.err.Error() {
				t.Errorf("message = %q, want %q", got.Message, tt.err.Error())
			}
		})
	}
}

func TestClassifyError_KeepsAppError(t *testing.T) {
	orig := NewCLIError(ErrCodeProfileNotFound, "no such profile").WithContext("profile", "x").Build()
	err := fmt.Errorf("wrapped: %w", NewAppError(orig))

	got := ClassifyError(err)
	if got.Code != ErrCodeProfileNotFound || got.Context["profile"] != "x" {
		t.Errorf("ClassifyError lost the CLI error: %+v", got)
	}
}

func TestGetExitCode(t *testing.T) {
	tests := map[string]int{
		ErrCodeBackendUnavailable: ExitBackendUnavailable,
		ErrCodeSyncLocked:         ExitSyncLocked,
		ErrCodePartialFailure:     ExitPartialFailure,
		ErrCodeProfileNotFound:    ExitInvalidArgument,
		ErrCodeInvalidPath:        ExitInvalidPath,
		"SOMETHING_ELSE":          ExitUnknown,
	}
	for code, want := range tests {
		if got := GetExitCode(code); got != want {
			t.Errorf("GetExitCode(%s) = %d, want %d", code, got, want)
		}
	}
}

func TestAppError(t *testing.T) {
	err := NewAppError(NewCLIError(ErrCodeInvalidArgument, "bad flag").WithRetryable(true).Build())
	if err.Error() != "INVALID_ARGUMENT: bad flag" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !err.CLIError.Retryable {
		t.Error("retryable lost")
	}
}
