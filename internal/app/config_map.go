package app

import (
	"fmt"
	"strings"
	"time"

	"acgo/internal/checkin"
	"acgo/internal/config"
	"acgo/internal/notifier"
	"acgo/internal/storage"
	"acgo/internal/task/engine"
	"acgo/internal/task/scheduler"
	logx "acgo/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "sqlite", "sqlite3", "postgres":
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	if path == "" {
		return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
}

// mapTaskEngineConfig keeps the engine enabled regardless of the scheduler
// flag: manual runs never touch it, but a later hot reload may enable the
// scheduler and find the pool already up.
func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := cfg.TaskEngine
	defTimeout, err := parseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	workers := te.Workers
	if workers <= 0 {
		workers = config.DefaultWorkers
	}
	queue := te.QueueSize
	if queue <= 0 {
		queue = config.DefaultQueueSize
	}
	history := te.HistorySize
	if history <= 0 {
		history = config.DefaultHistorySize
	}
	return engine.Config{
		Enabled:        true,
		Workers:        workers,
		QueueSize:      queue,
		DefaultTimeout: defTimeout,
		HistorySize:    history,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	at := strings.TrimSpace(cfg.Scheduler.RetentionAt)
	if at == "" {
		at = config.DefaultRetentionAt
	}
	return scheduler.Config{
		Enabled:     cfg.Scheduler.Enabled,
		Timezone:    strings.TrimSpace(cfg.Scheduler.Timezone),
		RetentionAt: at,
	}
}

func mapCheckinConfig(cfg *config.Config) (checkin.Config, error) {
	d, err := parseDurationOrDefault("checkin.attempt_timeout", cfg.Checkin.AttemptTimeout, checkin.DefaultAttemptTimeout)
	if err != nil {
		return checkin.Config{}, err
	}
	return checkin.Config{AttemptTimeout: d}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	d, err := parseDurationOrDefault("notifier.send_timeout", cfg.Notifier.SendTimeout, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{SendTimeout: d, RatePerSec: cfg.Notifier.RatePerSec}, nil
}
