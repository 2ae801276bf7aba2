// Package cli implements the acgo command line: the serve daemon and the
// one-shot administrative commands that share its database.
package cli

import (
	"context"
	"fmt"
	"slices"

	"acgo/internal/app"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "json" | "text"
	Verbose    bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the acgo CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "acgo",
		Short: "acgo - scheduled HTTP check-ins",
		Long: "Runs curl-style HTTP requests on cron schedules with random time windows,\n" +
			"retries failed attempts, keeps an audit log and fans results out to notification channels.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config file (json|yaml); empty uses defaults and ACGO_* env")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "show info logs of one-shot commands")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewPreviewCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewAccountCommand(opts))
	cmd.AddCommand(NewLogsCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewCleanCommand(opts))
	cmd.AddCommand(NewNotifyTestCommand(opts))
	cmd.AddCommand(NewSettingsCommand(opts))

	return cmd
}

// withApp opens the app for a one-shot command. The app is never started:
// no triggers fire and no config watch runs.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app.App) error) error {
	var appOpts []app.Option
	if !opts.Verbose {
		appOpts = append(appOpts, app.WithLogLevel("warn"))
	}
	a, err := app.NewApp(opts.ConfigPath, appOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "open app", err)
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func printer(cmd *cobra.Command, opts *RootOptions) *Printer {
	return &Printer{Format: opts.Format, Writer: cmd.OutOrStdout()}
}
