package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"acgo/internal/notifier"
	"acgo/internal/settings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetExitCode(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitFailure},
		{"exit error", NewExitError(ExitCommandError, "bad"), ExitCommandError},
		{"wrapped", fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "inner", errors.New("x"))), ExitCommandError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, GetExitCode(tc.err))
		})
	}
}

func TestExitErrorMessage(t *testing.T) {
	t.Parallel()
	base := errors.New("disk full")
	err := WrapExitError(ExitCommandError, "save settings", base)
	assert.Equal(t, "save settings: disk full", err.Error())
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "bad", NewExitError(ExitFailure, "bad").Error())
}

func TestPrinter(t *testing.T) {
	t.Parallel()
	buf := &bytes.Buffer{}
	p := &Printer{Format: "json", Writer: buf}
	require.NoError(t, p.Print(map[string]int{"deleted": 3}, nil))

	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"deleted": float64(3)}, resp.Data)

	buf.Reset()
	p.PrintError(errors.New("nope"))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "nope", resp.Error)

	buf.Reset()
	p.Format = "text"
	require.NoError(t, p.Print("ignored", func(w io.Writer) error {
		_, err := io.WriteString(w, "custom\n")
		return err
	}))
	assert.Equal(t, "custom\n", buf.String())
}

func TestMaskSecrets(t *testing.T) {
	t.Parallel()
	n := settings.Notification{
		Telegram: settings.Telegram{BotToken: "123456:abc", UserID: "42"},
		Redis:    settings.Redis{Addr: "localhost:6379", Password: "pw"},
		Webhook:  settings.Webhook{Headers: map[string]string{"Authorization": "Bearer x", "X-Tag": "t"}},
	}
	m := maskSecrets(n)
	assert.Equal(t, "1234***", m.Telegram.BotToken)
	assert.Equal(t, "42", m.Telegram.UserID)
	assert.Equal(t, "***", m.Redis.Password)
	assert.Equal(t, "localhost:6379", m.Redis.Addr)
	assert.Equal(t, "t", m.Webhook.Headers["X-Tag"])
	assert.True(t, containsMask(m))
	assert.False(t, containsMask(n))
	assert.Equal(t, "Bearer x", n.Webhook.Headers["Authorization"], "input is not modified")
	assert.Contains(t, notifier.Channels(), "telegram")
}
