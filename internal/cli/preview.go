package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"acgo/internal/app"
	"acgo/internal/checkin"
	"acgo/internal/reqspec"
	"acgo/internal/storage"

	"github.com/spf13/cobra"
)

// PreviewOptions holds flags for the preview command.
type PreviewOptions struct {
	*RootOptions
	AccountID int64
}

// NewPreviewCommand creates the preview command.
func NewPreviewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PreviewOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "preview [curl-command]",
		Short: "Show how a curl command is parsed",
		Long: "Parses a curl-style command (or a stored account's, with --account) and prints\n" +
			"the method, URL, headers, cookies and body that a check-in would send.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(cmd, opts, args)
		},
	}
	cmd.Flags().Int64Var(&opts.AccountID, "account", 0, "preview a stored account instead of an argument")
	return cmd
}

func runPreview(cmd *cobra.Command, opts *PreviewOptions, args []string) error {
	var (
		out []byte
		err error
	)
	switch {
	case opts.AccountID > 0 && len(args) == 0:
		err = withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app.App) error {
			out, err = a.Accounts().Preview(ctx, opts.AccountID)
			return err
		})
	case opts.AccountID == 0 && len(args) == 1:
		out, err = reqspec.Preview(args[0])
	default:
		return NewExitError(ExitCommandError, "give either a curl command or --account")
	}
	if err != nil {
		return commandError("preview", err)
	}
	p := printer(cmd, opts.RootOptions)
	return p.Print(json.RawMessage(out), func(w io.Writer) error {
		_, err := w.Write(out)
		return err
	})
}

// NewRunCommand creates the run command: an immediate check-in.
func NewRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <account-id>",
		Short: "Run one check-in now",
		Long: "Runs a check-in immediately, with retries, audit logging and notifications,\n" +
			"even when the account is disabled. Exits 1 when the check-in failed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var out checkin.Outcome
			err = withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				out, err = a.Accounts().RunNow(ctx, id)
				return err
			})
			if err != nil {
				return commandError("run", err)
			}
			if err := printer(cmd, opts).Print(out, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s %s (HTTP %s, %d attempt(s), run %s)\n",
					out.Status, out.Message, codeString(out.Code), out.Attempts, out.RunID)
				return err
			}); err != nil {
				return err
			}
			if out.Status != storage.StatusSuccess {
				return NewExitError(ExitFailure, out.Message)
			}
			return nil
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid account id %q", s))
	}
	return id, nil
}
