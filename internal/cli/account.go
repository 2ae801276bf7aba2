package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"acgo/internal/app"
	"acgo/internal/storage"

	"github.com/spf13/cobra"
)

// AccountOptions holds the writable account flags shared by add and update.
type AccountOptions struct {
	*RootOptions
	Name          string
	Curl          string
	Cron          string
	RetryCount    int
	RetryInterval int
	Disabled      bool
}

func (o *AccountOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Name, "name", "", "account name")
	cmd.Flags().StringVar(&o.Curl, "curl", "", "curl-style request command")
	cmd.Flags().StringVar(&o.Cron, "cron", "", `5-field cron or R(HH:MM-HH:MM) window (default "`+storage.DefaultCronExpr+`")`)
	cmd.Flags().IntVar(&o.RetryCount, "retry-count", storage.DefaultRetryCount, "retries after a failed attempt")
	cmd.Flags().IntVar(&o.RetryInterval, "retry-interval", storage.DefaultRetryInterval, "seconds between attempts")
	cmd.Flags().BoolVar(&o.Disabled, "disabled", false, "store the account disabled")
}

// NewAccountCommand creates the account command group.
func NewAccountCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage check-in accounts",
		Long: "Creates, edits and lists accounts. A running daemon picks up changes on its next\n" +
			"resync (scheduler.resync_interval) or immediately on SIGHUP.",
	}
	cmd.AddCommand(
		newAccountAddCommand(opts),
		newAccountUpdateCommand(opts),
		newAccountRemoveCommand(opts),
		newAccountToggleCommand(opts, "enable", true),
		newAccountToggleCommand(opts, "disable", false),
		newAccountListCommand(opts),
		newAccountExportCommand(opts),
		newAccountImportCommand(opts),
		newAccountNextCommand(opts),
	)
	return cmd
}

func newAccountAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AccountOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled := !opts.Disabled
			in := app.AccountInput{
				Name:          opts.Name,
				CurlCommand:   opts.Curl,
				CronExpr:      opts.Cron,
				RetryCount:    &opts.RetryCount,
				RetryInterval: &opts.RetryInterval,
				Enabled:       &enabled,
			}
			var created storage.Account
			err := withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				var err error
				created, err = a.Accounts().Create(ctx, in)
				return err
			})
			if err != nil {
				return commandError("add account", err)
			}
			return printAccount(cmd, rootOpts, created)
		},
	}
	opts.bind(cmd)
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("curl")
	return cmd
}

func newAccountUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AccountOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change an account; only the given flags are applied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var p app.AccountPatch
			f := cmd.Flags()
			if f.Changed("name") {
				p.Name = &opts.Name
			}
			if f.Changed("curl") {
				p.CurlCommand = &opts.Curl
			}
			if f.Changed("cron") {
				p.CronExpr = &opts.Cron
			}
			if f.Changed("retry-count") {
				p.RetryCount = &opts.RetryCount
			}
			if f.Changed("retry-interval") {
				p.RetryInterval = &opts.RetryInterval
			}
			if f.Changed("disabled") {
				enabled := !opts.Disabled
				p.Enabled = &enabled
			}
			var updated storage.Account
			err = withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				var err error
				updated, err = a.Accounts().Update(ctx, id, p)
				return err
			})
			if err != nil {
				return commandError("update account", err)
			}
			return printAccount(cmd, rootOpts, updated)
		},
	}
	opts.bind(cmd)
	return cmd
}

func newAccountRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete an account and its logs",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			err = withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				return a.Accounts().Delete(ctx, id)
			})
			if err != nil {
				return commandError("delete account", err)
			}
			return printer(cmd, opts).Print(map[string]int64{"deleted": id}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "deleted account %d\n", id)
				return err
			})
		},
	}
}

func newAccountToggleCommand(opts *RootOptions, use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: fmt.Sprintf("Set an account's enabled flag to %t", enabled),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var acc storage.Account
			err = withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				var err error
				acc, err = a.Accounts().SetEnabled(ctx, id, enabled)
				return err
			})
			if err != nil {
				return commandError(use+" account", err)
			}
			return printAccount(cmd, opts, acc)
		},
	}
}

func newAccountListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List accounts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var accounts []storage.Account
			err := withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				var err error
				accounts, err = a.Accounts().List(ctx)
				return err
			})
			if err != nil {
				return commandError("list accounts", err)
			}
			return printer(cmd, opts).Print(accounts, func(w io.Writer) error {
				return accountTable(w, accounts)
			})
		},
	}
}

func newAccountExportCommand(opts *RootOptions) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every account as a JSON array",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var records []app.AccountInput
			err := withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				var err error
				records, err = a.Accounts().Export(ctx)
				return err
			})
			if err != nil {
				return commandError("export accounts", err)
			}
			b, err := json.MarshalIndent(records, "", "  ")
			if err != nil {
				return err
			}
			b = append(b, '\n')
			if outPath == "" || outPath == "-" {
				_, err = cmd.OutOrStdout().Write(b)
				return err
			}
			if err := os.WriteFile(outPath, b, 0o600); err != nil {
				return commandError("write export", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newAccountImportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Create accounts from an export file",
		Long: "Accepts a JSON array of accounts or an object holding one under \"accounts\" or \"data\".\n" +
			"Each record is validated on its own; clashing names get a numbered suffix. Exits 1 if any record failed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := readInput(cmd, args[0])
			if err != nil {
				return commandError("read import", err)
			}
			records, err := app.DecodeImport(b)
			if err != nil {
				return commandError("import accounts", err)
			}
			var rep app.ImportReport
			err = withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				var err error
				rep, err = a.Accounts().Import(ctx, records)
				return err
			})
			if err != nil {
				return commandError("import accounts", err)
			}
			if err := printer(cmd, opts).Print(rep, func(w io.Writer) error {
				fmt.Fprintf(w, "imported %d, renamed %d, failed %d\n", rep.Imported, rep.Renamed, rep.Failed)
				for _, e := range rep.Errors {
					fmt.Fprintf(w, "  %s\n", e)
				}
				return nil
			}); err != nil {
				return err
			}
			if rep.Failed > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d record(s) failed", rep.Failed))
			}
			return nil
		},
	}
}

func newAccountNextCommand(opts *RootOptions) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "next <id>",
		Short: "Show the next scheduled fire times",
		Long:  "Lists upcoming cron fire times in the scheduler timezone. A random window delay is added at fire time.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if n <= 0 {
				return NewExitError(ExitCommandError, "--count must be > 0")
			}
			var times []time.Time
			err = withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				var err error
				times, err = a.Accounts().NextRuns(ctx, id, n, a.Location())
				return err
			})
			if err != nil {
				return commandError("next runs", err)
			}
			return printer(cmd, opts).Print(times, func(w io.Writer) error {
				for _, t := range times {
					fmt.Fprintln(w, t.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "count", "n", 5, "number of fire times")
	return cmd
}

func printAccount(cmd *cobra.Command, opts *RootOptions, a storage.Account) error {
	return printer(cmd, opts).Print(a, func(w io.Writer) error {
		return accountTable(w, []storage.Account{a})
	})
}

// readInput reads a file, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
