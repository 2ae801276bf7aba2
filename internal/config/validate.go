package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks a parsed config for values the services would reject at
// Apply time. It is the default hook run by Watch before a reload is committed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "sqlite", "sqlite3", "postgres":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if at := strings.TrimSpace(cfg.Scheduler.RetentionAt); at != "" {
		if _, err := time.Parse("15:04", at); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.retention_at: want HH:MM, got %q", at))
		}
	}

	if _, err := ParseDurationField("scheduler.resync_interval", cfg.Scheduler.ResyncInterval); err != nil {
		errs = append(errs, err)
	}

	if cfg.TaskEngine.Workers < 0 || cfg.TaskEngine.QueueSize < 0 || cfg.TaskEngine.HistorySize < 0 {
		errs = append(errs, errors.New("task_engine: sizes must be >= 0"))
	}
	if _, err := ParseDurationField("task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("checkin.attempt_timeout", cfg.Checkin.AttemptTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("notifier.send_timeout", cfg.Notifier.SendTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.Notifier.RatePerSec < 0 {
		errs = append(errs, errors.New("notifier.rate_per_sec must be >= 0"))
	}
	return errors.Join(errs...)
}
