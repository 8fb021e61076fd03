package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"

	"github.com/dl-alexandre/pullsync/internal/logging"
	"github.com/dl-alexandre/pullsync/internal/types"
	"github.com/dl-alexandre/pullsync/internal/utils"
)

// OutputWriter handles CLI output formatting
type OutputWriter struct {
	format   types.OutputFormat
	quiet    bool
	verbose  bool
	traceID  string
	stdout   io.Writer
	stderr   io.Writer
	warnings []types.CLIWarning
}

// NewOutputWriter creates a new output writer
func NewOutputWriter(format types.OutputFormat, quiet, verbose bool) *OutputWriter {
	return &OutputWriter{
		format:   format,
		quiet:    quiet,
		verbose:  verbose,
		traceID:  logging.NewTraceID(),
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		warnings: []types.CLIWarning{},
	}
}

// WithTraceID makes the envelope carry traceID, so output and logs correlate.
func (w *OutputWriter) WithTraceID(traceID string) *OutputWriter {
	if traceID != "" {
		w.traceID = traceID
	}
	return w
}

// WithWriters redirects output, mostly for tests.
func (w *OutputWriter) WithWriters(stdout, stderr io.Writer) *OutputWriter {
	w.stdout = stdout
	w.stderr = stderr
	return w
}

// TraceID is the ID stamped on every envelope.
func (w *OutputWriter) TraceID() string {
	return w.traceID
}

// AddWarning adds a warning to the output
func (w *OutputWriter) AddWarning(code, message, severity string) {
	w.warnings = append(w.warnings, types.CLIWarning{
		Code:     code,
		Message:  message,
		Severity: severity,
	})
}

// WriteSuccess writes a successful result
func (w *OutputWriter) WriteSuccess(command string, data interface{}) error {
	if w.format == types.OutputFormatJSON {
		return w.writeJSON(w.envelope(command, data, nil))
	}
	for _, warn := range w.warnings {
		w.Log("%s: %s", warn.Code, warn.Message)
	}
	return w.writeTable(command, data)
}

// WriteError writes an error result and returns it as an *utils.AppError, so the
// exit code follows the error code.
func (w *OutputWriter) WriteError(command string, cliErr types.CLIError) error {
	var err error
	if w.format == types.OutputFormatJSON {
		err = w.writeJSON(w.envelope(command, nil, []types.CLIError{cliErr}))
	} else {
		_, err = fmt.Fprintf(w.stderr, "Error [%s]: %s\n", cliErr.Code, cliErr.Message)
	}
	if err != nil {
		return err
	}
	return utils.NewAppError(cliErr)
}

// WriteFailure classifies err and writes it.
func (w *OutputWriter) WriteFailure(command string, err error) error {
	return w.WriteError(command, utils.ClassifyError(err))
}

func (w *OutputWriter) envelope(command string, data interface{}, errs []types.CLIError) types.CLIOutput {
	if errs == nil {
		errs = []types.CLIError{}
	}
	return types.CLIOutput{
		SchemaVersion: utils.SchemaVersion,
		TraceID:       w.traceID,
		Command:       command,
		Data:          data,
		Warnings:      w.warnings,
		Errors:        errs,
	}
}

func (w *OutputWriter) writeJSON(output types.CLIOutput) error {
	encoder := json.NewEncoder(w.stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func (w *OutputWriter) writeTable(command string, data interface{}) error {
	if renderable, ok := data.(types.TableRenderable); ok {
		return w.renderTable(renderable.AsTableRenderer())
	}
	if renderer, ok := data.(types.TableRenderer); ok {
		return w.renderTable(renderer)
	}
	// Fallback to JSON for unknown types
	return w.writeJSON(w.envelope(command, data, nil))
}

func (w *OutputWriter) renderTable(renderer types.TableRenderer) error {
	rows := renderer.Rows()
	if len(rows) == 0 {
		if !w.quiet {
			fmt.Fprintln(w.stdout, renderer.EmptyMessage())
		}
		return nil
	}

	table := tablewriter.NewWriter(w.stdout)
	table.SetHeader(renderer.Headers())
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, row := range rows {
		table.Append(row)
	}

	table.Render()
	return nil
}

// Log writes to stderr if not quiet
func (w *OutputWriter) Log(format string, args ...interface{}) {
	if !w.quiet {
		fmt.Fprintf(w.stderr, format+"\n", args...)
	}
}

// Verbose writes to stderr if verbose is enabled
func (w *OutputWriter) Verbose(format string, args ...interface{}) {
	if w.verbose {
		fmt.Fprintf(w.stderr, "[VERBOSE] "+format+"\n", args...)
	}
}

// keyValueTable renders an ordered list of fields.
type keyValueTable [][2]string

func (t keyValueTable) Headers() []string { return []string{"Field", "Value"} }

func (t keyValueTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, kv := range t {
		rows = append(rows, []string{kv[0], kv[1]})
	}
	return rows
}

func (t keyValueTable) EmptyMessage() string { return "Nothing to show" }
