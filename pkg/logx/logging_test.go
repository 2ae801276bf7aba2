package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short", "abc", 10, "abc"},
		{"no limit", "abcdef", 0, "abcdef"},
		{"ellipsis", "abcdefghijklmnop", 10, "abcdefg..."},
		{"tiny limit", "abcdef", 3, "abc"},
		{"runes", "网络异常: connection refused", 5, "网络异常:"},
		{"runes ellipsis", "签到失败签到失败签到失败", 10, "签到失败签到失..."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Truncate(tc.in, tc.max))
		})
	}
}

func TestWriterFieldsAndLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "checkin"))

	log.Debug("hidden")
	assert.Zero(t, buf.Len())
	assert.False(t, log.Enabled(LevelDebug))

	log.Warn("attempt failed", Int64("account_id", 7), Err(errors.New("boom")), Err(nil))
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "attempt failed", line["message"])
	assert.Equal(t, "checkin", line["comp"])
	assert.Equal(t, float64(7), line["account_id"])
	errVal, ok := line["err"] // set by New
	if !ok {
		errVal = line["error"]
	}
	assert.Equal(t, "boom", errVal)
	assert.Contains(t, line["caller"], "logging_test.go:")
}

func TestZeroAndNop(t *testing.T) {
	t.Parallel()
	var zero Logger
	assert.True(t, zero.IsZero())
	zero.Info("dropped")
	assert.False(t, Nop().IsZero())
	Nop().Error("dropped")
}

// Not parallel: New sets zerolog package globals.
func TestServiceApplyFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acgo.log")
	svc, log := New(Config{Level: "error", File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	assert.False(t, log.Enabled(LevelInfo))
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	assert.True(t, log.Enabled(LevelDebug), "loggers from New follow Apply")
}
