package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite":   pure-Go SQLite (modernc.org/sqlite), the default
//   - "sqlite3":  cgo SQLite (github.com/mattn/go-sqlite3), cgo builds only
//   - "postgres": PostgreSQL via pgx; Path holds the connection string
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
}

// Account defaults applied by CreateAccount when fields are zero.
const (
	DefaultCronExpr      = "0 8 * * *"
	DefaultRetryCount    = 3
	DefaultRetryInterval = 60
)

type Account struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	CurlCommand   string    `json:"curl_command"`
	CronExpr      string    `json:"cron_expr"`
	RetryCount    int       `json:"retry_count"`
	RetryInterval int       `json:"retry_interval"`
	Enabled       bool      `json:"enabled"`
	CreatedAt     time.Time `json:"created_at"`
}

// Log statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// LogEntry is one audit row: a single attempt, or the summary of a run
// that failed before any attempt. Request fields are stored redacted.
type LogEntry struct {
	ID             int64     `json:"id"`
	AccountID      int64     `json:"account_id"`
	AccountName    string    `json:"account_name,omitempty"`
	RunID          string    `json:"run_id"`
	Attempt        int       `json:"attempt"`
	Status         string    `json:"status"`
	ResponseCode   *int      `json:"response_code"`
	ResponseBody   string    `json:"response_body,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	ExecutedAt     time.Time `json:"executed_at"`
	RequestMethod  string    `json:"request_method,omitempty"`
	RequestURL     string    `json:"request_url,omitempty"`
	RequestHeaders string    `json:"request_headers,omitempty"`
	RequestCookies string    `json:"request_cookies,omitempty"`
	RequestData    string    `json:"request_data,omitempty"`
}

// LogFilter selects a page of logs, newest first. Zero values mean "any".
type LogFilter struct {
	AccountID int64
	Status    string
	Limit     int
	Offset    int
}

type Stats struct {
	TotalAccounts   int `json:"total_accounts"`
	EnabledAccounts int `json:"enabled_accounts"`
	TotalLogs       int `json:"total_logs"`
	SuccessLogs     int `json:"success_logs"`
}

type AccountStore interface {
	GetAccount(ctx context.Context, id int64) (Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	ListEnabledAccounts(ctx context.Context) ([]Account, error)
	CreateAccount(ctx context.Context, a Account) (Account, error)
	UpdateAccount(ctx context.Context, a Account) error
	DeleteAccount(ctx context.Context, id int64) error
	SetAccountEnabled(ctx context.Context, id int64, enabled bool) error
}

type LogStore interface {
	AppendLog(ctx context.Context, e LogEntry) (int64, error)
	CountLogs(ctx context.Context) (int, error)
	// TrimOldest keeps the max newest rows by executed_at (ties by id) and
	// deletes the rest in one transaction, returning how many were deleted.
	TrimOldest(ctx context.Context, max int) (int, error)
	// ClearLogs deletes logs executed before the cutoff, or all logs when
	// before is zero.
	ClearLogs(ctx context.Context, before time.Time) (int, error)
	ListLogs(ctx context.Context, f LogFilter) ([]LogEntry, int, error)
	GetLog(ctx context.Context, id int64) (LogEntry, error)
	Stats(ctx context.Context) (Stats, error)
}

// KV is the key/value configuration table.
type KV interface {
	GetConfig(ctx context.Context, key string) (value string, ok bool, err error)
	SetConfig(ctx context.Context, key, value string) error
	// SetConfigIfMissing inserts key only if absent and reports whether it did.
	SetConfigIfMissing(ctx context.Context, key, value string) (bool, error)
}

type Store interface {
	AccountStore
	LogStore
	KV
	Driver() string
	Close() error
}
