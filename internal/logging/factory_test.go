package logging

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_SinkSelection(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		console bool
		file    string
		want    string
	}{
		{"nothing enabled", false, "", "*logging.NoOpLogger"},
		{"console", true, "", "*logging.ConsoleLogger"},
		{"file", false, filepath.Join(dir, "file.log"), "*logging.FileLogger"},
		{"console and file", true, filepath.Join(dir, "both.log"), "*logging.MultiLogger"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewLogger(LogConfig{Level: INFO, EnableConsole: tt.console, OutputFile: tt.file})
			if err != nil {
				t.Fatalf("NewLogger: %v", err)
			}
			t.Cleanup(func() { _ = l.Close() })

			switch l.(type) {
			case *NoOpLogger:
				if tt.want != "*logging.NoOpLogger" {
					t.Errorf("got NoOpLogger, want %s", tt.want)
				}
			case *ConsoleLogger:
				if tt.want != "*logging.ConsoleLogger" {
					t.Errorf("got ConsoleLogger, want %s", tt.want)
				}
			case *FileLogger:
				if tt.want != "*logging.FileLogger" {
					t.Errorf("got FileLogger, want %s", tt.want)
				}
			case *MultiLogger:
				if tt.want != "*logging.MultiLogger" {
					t.Errorf("got MultiLogger, want %s", tt.want)
				}
			default:
				t.Errorf("unexpected logger %T", l)
			}
		})
	}
}

func TestNewLogger_LogDirectoryIsCreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "nested", "pullsync.log")
	l, err := NewLogger(LogConfig{Level: INFO, OutputFile: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.Info("Sync started", F("profile", "docs"))
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if lines := readLogEntries(t, path); len(lines) != 1 || lines[0].Message != "Sync started" {
		t.Errorf("unexpected log content: %+v", lines)
	}
}

func TestNewLogger_UnwritableFile(t *testing.T) {
	dir := t.TempDir()
	// a regular file where a directory is expected
	blocker := filepath.Join(dir, "blocker")
	if err := writeFile(blocker, "x"); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLogger(LogConfig{Level: INFO, OutputFile: filepath.Join(blocker, "pullsync.log")}); err == nil {
		t.Fatal("expected an error for a log path below a regular file")
	}
}

func TestNewDebugLoggerWithTransport_OnlyWhenDebugging(t *testing.T) {
	l, transport, err := NewDebugLoggerWithTransport(LogConfig{Level: INFO})
	if err != nil {
		t.Fatalf("NewDebugLoggerWithTransport: %v", err)
	}
	if transport != nil {
		t.Error("transport built without EnableDebug")
	}
	_ = l.Close()

	l, transport, err = NewDebugLoggerWithTransport(LogConfig{
		Level:       INFO,
		OutputFile:  filepath.Join(t.TempDir(), "debug.log"),
		EnableDebug: true,
	})
	if err != nil {
		t.Fatalf("NewDebugLoggerWithTransport: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	if transport == nil {
		t.Fatal("no transport with EnableDebug")
	}
}

func TestMultiLogger_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	multi := NewMultiLogger(plainConsole(&a, DEBUG), plainConsole(&b, DEBUG))

	multi.Info("Downloaded file", F("path", "docs/a.txt"), F("size", "5 B"))

	if a.String() == "" || a.String() != b.String() {
		t.Fatalf("sinks diverged:\n%q\n%q", a.String(), b.String())
	}
	if !strings.Contains(a.String(), "Downloaded file path=docs/a.txt, size=5 B") {
		t.Errorf("unexpected line %q", a.String())
	}
}

func TestMultiLogger_SetLevelAppliesToEverySink(t *testing.T) {
	var a, b bytes.Buffer
	multi := NewMultiLogger(plainConsole(&a, DEBUG), plainConsole(&b, DEBUG))

	multi.SetLevel(WARN)
	multi.Debug("Processing entry")
	multi.Info("Added file")
	multi.Warn("Entry failed")

	for i, buf := range []*bytes.Buffer{&a, &b} {
		out := buf.String()
		if strings.Contains(out, "Processing entry") || strings.Contains(out, "Added file") {
			t.Errorf("sink %d logged below WARN: %q", i, out)
		}
		if !strings.Contains(out, "Entry failed") {
			t.Errorf("sink %d dropped the warning: %q", i, out)
		}
	}
}

func TestMultiLogger_TraceIDReachesEverySink(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "multi.log")
	file, err := NewFileLogger(FileLoggerConfig{FilePath: path, Level: INFO})
	if err != nil {
		t.Fatal(err)
	}
	multi := NewMultiLogger(plainConsole(&console, INFO), file)

	ctx := ContextWithTraceID(t.Context(), "0123456789abcdef")
	multi.WithContext(ctx).Info("Sync finished", F("added", 2))
	if err := multi.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if !strings.Contains(console.String(), "[01234567]") {
		t.Errorf("console line misses short trace id: %q", console.String())
	}
	entries := readLogEntries(t, path)
	if len(entries) != 1 || entries[0].TraceID != "0123456789abcdef" {
		t.Fatalf("file entries = %+v", entries)
	}
	if entries[0].Fields["added"] != float64(2) {
		t.Errorf("fields = %v", entries[0].Fields)
	}
}

func TestNoOpLogger(t *testing.T) {
	var l Logger = NewNoOpLogger()
	l.Error("ignored")
	if l.WithTraceID("x") != l || l.WithContext(t.Context()) != l {
		t.Error("NoOpLogger children should be the logger itself")
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func plainConsole(buf *bytes.Buffer, level LogLevel) *ConsoleLogger {
	return NewConsoleLogger(ConsoleLoggerConfig{Writer: buf, Level: level})
}
