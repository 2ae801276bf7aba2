// Package retention trims the audit log to the configured size.
package retention

import (
	"context"
	"fmt"
	"time"

	"acgo/internal/eventbus"
	"acgo/internal/settings"
	"acgo/internal/storage"
	logx "acgo/pkg/logx"
)

// Store is what the job reads and trims.
type Store interface {
	storage.KV
	TrimOldest(ctx context.Context, max int) (int, error)
	ClearLogs(ctx context.Context, before time.Time) (int, error)
}

// Result is published as retention.finished.
type Result struct {
	Enabled bool      `json:"enabled"`
	Max     int       `json:"max"`
	Deleted int       `json:"deleted"`
	At      time.Time `json:"at"`
}

type Job struct {
	store Store
	log   logx.Logger
	bus   eventbus.Bus
}

func New(store Store, log logx.Logger, bus eventbus.Bus) *Job {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Job{store: store, log: log, bus: bus}
}

// Run deletes the oldest rows beyond max_logs_count when auto_clean_logs
// is on. Settings are read fresh.
func (j *Job) Run(ctx context.Context) (int, error) {
	sys, warnings, err := settings.LoadSystem(ctx, j.store)
	if err != nil {
		return 0, fmt.Errorf("retention settings: %w", err)
	}
	for _, w := range warnings {
		j.log.Warn(w)
	}
	res := Result{Enabled: sys.AutoCleanLogs, Max: sys.MaxLogsCount, At: time.Now()}
	if !sys.AutoCleanLogs {
		j.log.Debug("auto clean disabled")
		j.publish(res)
		return 0, nil
	}

	n, err := j.store.TrimOldest(ctx, sys.MaxLogsCount)
	if err != nil {
		return 0, fmt.Errorf("trim logs: %w", err)
	}
	res.Deleted = n
	if n > 0 {
		j.log.Info("old check-in logs removed", logx.Int("deleted", n), logx.Int("max", sys.MaxLogsCount))
	}
	j.publish(res)
	return n, nil
}

// Clear deletes every log row regardless of settings.
func (j *Job) Clear(ctx context.Context) (int, error) {
	n, err := j.store.ClearLogs(ctx, time.Time{})
	if err != nil {
		return 0, fmt.Errorf("clear logs: %w", err)
	}
	j.log.Info("check-in logs cleared", logx.Int("deleted", n))
	return n, nil
}

func (j *Job) publish(res Result) {
	if j.bus == nil {
		return
	}
	j.bus.Publish(eventbus.Event{Type: "retention.finished", Time: res.At, Data: res})
}
