package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"acgo/internal/app"
	"acgo/internal/storage"
	logx "acgo/pkg/logx"

	"github.com/spf13/cobra"
)

// LogsOptions holds flags for the logs command.
type LogsOptions struct {
	*RootOptions
	AccountID int64
	Status    string
	Limit     int
	Offset    int
}

type logsPage struct {
	Total int                `json:"total"`
	Logs  []storage.LogEntry `json:"logs"`
}

// NewLogsCommand creates the logs command.
func NewLogsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogsOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show check-in attempts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch opts.Status {
			case "", storage.StatusSuccess, storage.StatusFailed:
			default:
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid status %q", opts.Status))
			}
			f := storage.LogFilter{AccountID: opts.AccountID, Status: opts.Status, Limit: opts.Limit, Offset: opts.Offset}
			var page logsPage
			err := withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				var err error
				page.Logs, page.Total, err = a.Accounts().Logs(ctx, f)
				return err
			})
			if err != nil {
				return commandError("list logs", err)
			}
			return printer(cmd, rootOpts).Print(page, func(w io.Writer) error {
				if err := table(w, "ID\tTIME\tACCOUNT\tRUN\tTRY\tSTATUS\tCODE\tERROR", func(tw *tabwriter.Writer) {
					for _, e := range page.Logs {
						name := e.AccountName
						if name == "" {
							name = fmt.Sprint(e.AccountID)
						}
						run := e.RunID
						if len(run) > 8 {
							run = run[:8]
						}
						fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
							e.ID, e.ExecutedAt.Format(time.DateTime), name, run, e.Attempt,
							e.Status, codeString(e.ResponseCode), logx.Truncate(e.ErrorMessage, 60))
					}
				}); err != nil {
					return err
				}
				_, err := fmt.Fprintf(w, "%d of %d\n", len(page.Logs), page.Total)
				return err
			})
		},
	}
	cmd.Flags().Int64Var(&opts.AccountID, "account", 0, "only this account")
	cmd.Flags().StringVar(&opts.Status, "status", "", "only success|failed")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "rows to skip")
	return cmd
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show account and log counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var st storage.Stats
			err := withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				var err error
				st, err = a.Accounts().Stats(ctx)
				return err
			})
			if err != nil {
				return commandError("stats", err)
			}
			return printer(cmd, opts).Print(st, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "accounts: %d (%d enabled)\nlogs: %d (%d success)\n",
					st.TotalAccounts, st.EnabledAccounts, st.TotalLogs, st.SuccessLogs)
				return err
			})
		},
	}
}

// NewCleanCommand creates the clean command.
func NewCleanCommand(opts *RootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Apply log retention now",
		Long: "Runs the daily retention job now: when auto_clean_logs is on, only the newest\n" +
			"max_logs_count rows are kept. With --all every log row is deleted regardless.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var n int
			err := withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				var err error
				if all {
					n, err = a.Accounts().ClearLogs(ctx)
				} else {
					n, err = a.Accounts().Clean(ctx)
				}
				return err
			})
			if err != nil {
				return commandError("clean logs", err)
			}
			return printer(cmd, opts).Print(map[string]int{"deleted": n}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "deleted %d log row(s)\n", n)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "delete every log row")
	return cmd
}
