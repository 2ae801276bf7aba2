package retention

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"acgo/internal/settings"
	"acgo/internal/storage"
	logx "acgo/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(t *testing.T, rows int) storage.Store {
	t.Helper()
	ctx := context.Background()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "acgo.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	a, err := st.CreateAccount(ctx, storage.Account{Name: "a", CurlCommand: "curl https://a.example"})
	require.NoError(t, err)
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < rows; i++ {
		_, err := st.AppendLog(ctx, storage.LogEntry{AccountID: a.ID, Status: storage.StatusSuccess, Attempt: 1, ExecutedAt: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}
	return st
}

func TestRunDisabledIsNoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := seeded(t, 20)
	require.NoError(t, st.SetConfig(ctx, settings.KeyMaxLogsCount, "5"))

	n, err := New(st, logx.Nop(), nil).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	count, err := st.CountLogs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, count)
}

func TestRunTrimsToMax(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := seeded(t, 530)
	require.NoError(t, st.SetConfig(ctx, settings.KeyAutoCleanLogs, "true"))

	n, err := New(st, logx.Nop(), nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, n)

	logs, total, err := st.ListLogs(ctx, storage.LogFilter{Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, 500, total)
	cutoff := time.Date(2026, 2, 1, 0, 30, 0, 0, time.UTC)
	for _, e := range logs {
		assert.False(t, e.ExecutedAt.Before(cutoff), "row %d at %v survived", e.ID, e.ExecutedAt)
	}
}

func TestRunUnparsableMaxFallsBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := seeded(t, 510)
	require.NoError(t, st.SetConfig(ctx, settings.KeyAutoCleanLogs, "true"))
	require.NoError(t, st.SetConfig(ctx, settings.KeyMaxLogsCount, "a lot"))

	n, err := New(st, logx.Nop(), nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := seeded(t, 12)

	n, err := New(st, logx.Nop(), nil).Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
}
