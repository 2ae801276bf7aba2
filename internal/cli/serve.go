package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"acgo/internal/app"
	logx "acgo/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
)

const stopTimeout = 10 * time.Second

// NewServeCommand creates the serve command: the long-running daemon.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler daemon",
		Long: "Installs a trigger per enabled account and runs check-ins until SIGINT or SIGTERM.\n" +
			"SIGHUP re-reads the accounts. Under systemd (Type=notify) readiness and watchdog pings are sent.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions) error {
	a, err := app.NewApp(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "open app", err)
	}
	log := a.Logger()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return WrapExitError(ExitCommandError, "start", err)
	}
	sdNotify(log, daemon.SdNotifyReady)

	var watchdog <-chan time.Time
	if every, err := daemon.SdWatchdogEnabled(false); err == nil && every > 0 {
		t := time.NewTicker(every / 2)
		defer t.Stop()
		watchdog = t.C
	}

	reason := app.StopUnknown
loop:
	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				rep, err := a.Reload(ctx)
				if err != nil {
					log.Warn("reload failed", logx.Err(err))
					continue
				}
				log.Info("accounts reloaded",
					logx.Int("installed", rep.Installed),
					logx.Int("failed", len(rep.Failed)),
				)
				continue
			case syscall.SIGINT:
				reason = app.StopSIGINT
			default:
				reason = app.StopSIGTERM
			}
			break loop
		case <-a.Done():
			reason = app.StopAppStop
			if a.Err() != nil {
				reason = app.StopFatalError
			}
			break loop
		case <-watchdog:
			sdNotify(log, daemon.SdNotifyWatchdog)
		}
	}

	sdNotify(log, daemon.SdNotifyStopping)
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	fatal := a.Err()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		return WrapExitError(ExitFailure, "fatal", fatal)
	}
	return nil
}

// sdNotify is a no-op outside systemd.
func sdNotify(log logx.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
}
