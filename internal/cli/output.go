package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"acgo/internal/storage"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Check-in failed, channel test failed, import had failures
	ExitCommandError = 2 // Bad arguments, unreadable config, database errors
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error // optional
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Nil is ExitSuccess and
// any other error is ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// commandError wraps a service error as ExitCommandError.
func commandError(message string, err error) error {
	return WrapExitError(ExitCommandError, message, err)
}

// Response is the JSON envelope of every command.
type Response struct {
	Status string `json:"status"` // "ok" | "error"
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Printer renders command results as JSON or human-readable text.
type Printer struct {
	Format string
	Writer io.Writer
}

// Print writes data. In text mode text renders it; a nil text prints data with %v.
func (p *Printer) Print(data any, text func(w io.Writer) error) error {
	if p.Format == "json" {
		enc := json.NewEncoder(p.Writer)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(Response{Status: "ok", Data: data})
	}
	if text == nil {
		_, err := fmt.Fprintln(p.Writer, data)
		return err
	}
	return text(p.Writer)
}

// PrintError writes err in the configured format.
func (p *Printer) PrintError(err error) {
	if p.Format == "json" {
		_ = json.NewEncoder(p.Writer).Encode(Response{Status: "error", Error: err.Error()})
		return
	}
	fmt.Fprintf(p.Writer, "Error: %v\n", err)
}

func table(w io.Writer, header string, rows func(tw *tabwriter.Writer)) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, header)
	rows(tw)
	return tw.Flush()
}

func accountTable(w io.Writer, accounts []storage.Account) error {
	return table(w, "ID\tNAME\tCRON\tRETRY\tENABLED", func(tw *tabwriter.Writer) {
		for _, a := range accounts {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%dx%ds\t%t\n", a.ID, a.Name, a.CronExpr, a.RetryCount, a.RetryInterval, a.Enabled)
		}
	})
}

func codeString(code *int) string {
	if code == nil {
		return "-"
	}
	return fmt.Sprint(*code)
}
