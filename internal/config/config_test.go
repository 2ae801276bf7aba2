package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestParseEmptyPathIsDefault(t *testing.T) {
	t.Parallel()
	cfg, err := NewConfigManager("").Parse()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, Validate(cfg))
}

func TestParseFormats(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name, file, body string
	}{
		{"json", "acgo.json", `{"scheduler":{"enabled":true,"timezone":"Asia/Shanghai"},"task_engine":{"workers":4}}`},
		{"yaml", "acgo.yaml", "scheduler:\n  enabled: true\n  timezone: Asia/Shanghai\ntask_engine:\n  workers: 4\n"},
		{"yml", "acgo.yml", "scheduler: {enabled: true, timezone: Asia/Shanghai}\ntask_engine: {workers: 4}\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := NewConfigManager(writeFile(t, tc.file, tc.body)).Parse()
			require.NoError(t, err)
			assert.Equal(t, "Asia/Shanghai", cfg.Scheduler.Timezone)
			assert.Equal(t, 4, cfg.TaskEngine.Workers)
			// omitted keys keep defaults
			assert.Equal(t, DefaultQueueSize, cfg.TaskEngine.QueueSize)
			assert.Equal(t, DefaultStorageDriver, cfg.Storage.Driver)
			assert.Equal(t, DefaultRetentionAt, cfg.Scheduler.RetentionAt)
		})
	}
}

func TestParseStrict(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name, file, body string
	}{
		{"unknown key", "a.json", `{"plugins":{}}`},
		{"trailing data", "a.json", `{} {}`},
		{"unknown yaml key", "a.yaml", "scheduler:\n  workers: 2\n"},
		{"bad yaml", "a.yaml", "scheduler: [\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewConfigManager(writeFile(t, tc.file, tc.body)).Parse()
			assert.Error(t, err)
		})
	}
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("ACGO_STORAGE_DRIVER", "postgres")
	t.Setenv("ACGO_STORAGE_PATH", "postgres://u:p@localhost/acgo")
	t.Setenv("ACGO_LOG_LEVEL", "debug")
	t.Setenv("ACGO_TIMEZONE", "UTC")

	p := writeFile(t, "acgo.json", `{"storage":{"driver":"sqlite","path":"./x.db"},"logging":{"level":"warn"}}`)
	cfg, err := NewConfigManager(p).Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "postgres://u:p@localhost/acgo", cfg.Storage.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "UTC", cfg.Scheduler.Timezone)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		mod   func(c *Config)
		valid bool
	}{
		{"default", func(*Config) {}, true},
		{"sqlite3", func(c *Config) { c.Storage.Driver = "sqlite3" }, true},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "file" }, false},
		{"empty path", func(c *Config) { c.Storage.Path = " " }, false},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Base" }, false},
		{"bad retention", func(c *Config) { c.Scheduler.RetentionAt = "3am" }, false},
		{"resync off", func(c *Config) { c.Scheduler.ResyncInterval = "0s" }, true},
		{"bad resync", func(c *Config) { c.Scheduler.ResyncInterval = "often" }, false},
		{"negative workers", func(c *Config) { c.TaskEngine.Workers = -1 }, false},
		{"bad attempt timeout", func(c *Config) { c.Checkin.AttemptTimeout = "soon" }, false},
		{"negative send timeout", func(c *Config) { c.Notifier.SendTimeout = "-1s" }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := Default()
			tc.mod(c)
			err := Validate(c)
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
	assert.Error(t, Validate(nil))
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := Default()

	changed, _, restart := SummarizeConfigChange(oldCfg, Default())
	assert.Empty(t, changed)
	assert.False(t, restart)

	newCfg := Default()
	newCfg.Logging.Level = "debug"
	newCfg.TaskEngine.Workers = 2
	changed, attrs, restart := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"logging", "task_engine"}, changed)
	assert.NotEmpty(t, attrs)
	assert.False(t, restart)

	newCfg.Storage.Path = "postgres://secret@db/acgo"
	changed, _, restart = SummarizeConfigChange(oldCfg, newCfg)
	assert.Contains(t, changed, "storage")
	assert.True(t, restart)
}

func TestDurationHelpers(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)

	d, err = ParseDurationOrDefault("x", "250ms", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = ParseDurationField("x", "-2s")
	assert.Error(t, err)
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "acgo.json", `{"task_engine":{"workers":2}}`)
	m := NewConfigManager(p)
	m.debounce = 20 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// The watcher registers asynchronously; keep rewriting until a reload lands.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			assert.Equal(t, 8, cfg.TaskEngine.Workers)
			assert.Equal(t, 8, m.Get().TaskEngine.Workers)
			return
		case <-tick.C:
			require.NoError(t, os.WriteFile(p, []byte(`{"task_engine":{"workers":8}}`), 0o600))
		case <-deadline:
			t.Fatal("no config published")
		}
	}
}

func TestWatchRejectsInvalid(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "acgo.json", `{}`)
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	require.NoError(t, os.WriteFile(p, []byte(`{"scheduler":{"timezone":"Mars/Base"}}`), 0o600))
	m.reload(context.Background())
	select {
	case <-ch:
		t.Fatal("invalid config was published")
	default:
	}
	assert.Equal(t, "", m.Get().Scheduler.Timezone)

	m.SetValidator(func(context.Context, *Config) error { return assert.AnError })
	require.NoError(t, os.WriteFile(p, []byte(`{"task_engine":{"workers":3}}`), 0o600))
	m.reload(context.Background())
	assert.Len(t, ch, 0)
}

func TestWatchNoPath(t *testing.T) {
	t.Parallel()
	assert.NoError(t, NewConfigManager("").Watch(context.Background()))
}
