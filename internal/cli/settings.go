package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"acgo/internal/app"
	"acgo/internal/notifier"
	"acgo/internal/redact"
	"acgo/internal/settings"

	"github.com/spf13/cobra"
)

// settingsDoc is the file format of settings show and settings apply.
type settingsDoc struct {
	Notification settings.Notification `json:"notification"`
	System       settings.System       `json:"system"`
}

// NewNotifyTestCommand creates the notify-test command.
func NewNotifyTestCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "notify-test <channel>",
		Short:     "Send a sample notification through one channel",
		Long:      "Uses the saved channel settings even if the channel is disabled. Exits 1 when delivery failed.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: notifier.Channels(),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res notifier.Result
			err := withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				var err error
				res, err = a.Accounts().NotifyTest(ctx, args[0])
				return err
			})
			if err != nil {
				return commandError("notify test", err)
			}
			if err := printer(cmd, opts).Print(res, func(w io.Writer) error {
				if res.OK() {
					_, err := fmt.Fprintf(w, "%s: delivered in %s\n", res.Channel, res.Duration)
					return err
				}
				_, err := fmt.Fprintf(w, "%s: %s\n", res.Channel, res.Error)
				return err
			}); err != nil {
				return err
			}
			if !res.OK() {
				return WrapExitError(ExitFailure, "notify test "+res.Channel, res.Err)
			}
			return nil
		},
	}
}

// NewSettingsCommand creates the settings command group.
func NewSettingsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or replace notification and retention settings",
	}
	cmd.AddCommand(newSettingsShowCommand(opts), newSettingsApplyCommand(opts))
	return cmd
}

func newSettingsShowCommand(opts *RootOptions) *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the saved settings as JSON",
		Long:  "Secrets are masked unless --reveal is given. The output of --reveal can be edited and passed to settings apply.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var doc settingsDoc
			err := withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				var err error
				doc.Notification, doc.System, err = a.Accounts().Settings(ctx)
				return err
			})
			if err != nil {
				return commandError("load settings", err)
			}
			if !reveal {
				doc.Notification = maskSecrets(doc.Notification)
			}
			return printer(cmd, opts).Print(doc, func(w io.Writer) error {
				enc := json.NewEncoder(w)
				enc.SetEscapeHTML(false)
				enc.SetIndent("", "  ")
				return enc.Encode(doc)
			})
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print secrets in clear")
	return cmd
}

func newSettingsApplyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <file>",
		Short: "Replace the saved settings from a JSON file",
		Long: "Reads {\"notification\": {...}, \"system\": {...}} (the shape of settings show --reveal)\n" +
			"and writes every key. Omitted fields are saved as empty or false.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := readInput(cmd, args[0])
			if err != nil {
				return commandError("read settings", err)
			}
			var doc settingsDoc
			dec := json.NewDecoder(bytes.NewReader(b))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&doc); err != nil {
				return commandError("decode settings", err)
			}
			if containsMask(doc.Notification) {
				return NewExitError(ExitCommandError, "settings contain masked secrets; use the output of settings show --reveal")
			}
			err = withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				return a.Accounts().SaveSettings(ctx, doc.Notification, doc.System)
			})
			if err != nil {
				return commandError("save settings", err)
			}
			return printer(cmd, opts).Print(map[string]bool{"saved": true}, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, "settings saved")
				return err
			})
		},
	}
}

// secretFields lists pointers to every secret value of n.
func secretFields(n *settings.Notification) []*string {
	return []*string{
		&n.Webhook.URL,
		&n.Telegram.BotToken,
		&n.WeCom.WebhookKey,
		&n.DingTalk.AccessToken,
		&n.DingTalk.Secret,
		&n.Feishu.WebhookURL,
		&n.Feishu.Secret,
		&n.Redis.Password,
	}
}

func maskSecrets(n settings.Notification) settings.Notification {
	for _, p := range secretFields(&n) {
		if *p != "" {
			*p = redact.Cookie(*p)
		}
	}
	if len(n.Webhook.Headers) > 0 {
		n.Webhook.Headers = redact.Headers(n.Webhook.Headers)
	}
	return n
}

func containsMask(n settings.Notification) bool {
	for _, p := range secretFields(&n) {
		if strings.HasSuffix(*p, "***") {
			return true
		}
	}
	for _, v := range n.Webhook.Headers {
		if v == redact.Mask {
			return true
		}
	}
	return false
}
