package config

// Config is the process configuration file. Runtime settings that operators
// edit while the daemon runs (notification channels, retention) live in the
// storage KV instead; see internal/settings.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Checkin    CheckinConfig    `json:"checkin"`
	Notifier   NotifierConfig   `json:"notifier"`
}

type LoggingConfig struct {
	Level   string      `json:"level" env:"LOG_LEVEL"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the database.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/acgo.db" }
//
// Drivers: "sqlite" (pure Go), "sqlite3" (cgo), "postgres" (path is a DSN).
type StorageConfig struct {
	Driver      string `json:"driver" env:"STORAGE_DRIVER"`
	Path        string `json:"path" env:"STORAGE_PATH"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// SchedulerConfig controls the trigger service.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Trigger timezone (IANA). Empty means the process local zone.
	Timezone string `json:"timezone,omitempty" env:"TIMEZONE"`

	// RetentionAt is the daily HH:MM of the retention job.
	RetentionAt string `json:"retention_at,omitempty"`

	// ResyncInterval is how often the daemon re-reads accounts to pick up
	// edits made by other processes (the CLI). "0s" disables polling;
	// SIGHUP still reloads.
	ResyncInterval string `json:"resync_interval,omitempty"`
}

// TaskEngineConfig controls the worker pool scheduled check-ins run on.
//
// Defaults (when fields are omitted/zero):
//   - workers: 16
//   - queue_size: 256
//   - default_timeout: "0s" (disabled); account check-ins ignore it
//   - history_size: 200
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

type CheckinConfig struct {
	// AttemptTimeout bounds one HTTP attempt. Default 30s.
	AttemptTimeout string `json:"attempt_timeout,omitempty"`
}

type NotifierConfig struct {
	SendTimeout string `json:"send_timeout,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
}

const (
	DefaultStorageDriver = "sqlite"
	DefaultStoragePath   = "./data/acgo.db"
	DefaultRetentionAt   = "03:00"
	DefaultWorkers       = 16
	DefaultQueueSize     = 256
	DefaultHistorySize   = 200
)

// Default returns the configuration used when no file is given. Parsed files
// are decoded on top of it, so omitted keys keep these values.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{Driver: DefaultStorageDriver, Path: DefaultStoragePath},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			RetentionAt:    DefaultRetentionAt,
			ResyncInterval: "1m",
		},
		TaskEngine: TaskEngineConfig{
			Workers:     DefaultWorkers,
			QueueSize:   DefaultQueueSize,
			HistorySize: DefaultHistorySize,
		},
		Checkin:  CheckinConfig{AttemptTimeout: "30s"},
		Notifier: NotifierConfig{SendTimeout: "10s", RatePerSec: 5},
	}
}
