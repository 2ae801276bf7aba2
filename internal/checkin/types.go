package checkin

import (
	"context"
	"errors"
	"time"

	"acgo/internal/notifier"
	"acgo/internal/storage"
)

const (
	MaxBodyRunes  = 5000
	MaxErrorRunes = 500

	DefaultAttemptTimeout = 30 * time.Second
)

// StatusSkipped is returned for disabled accounts; it is never persisted.
const StatusSkipped = "skipped"

// Notification messages.
const (
	MsgSuccess         = "签到成功"
	MsgAccountNotFound = "account not found"
	MsgDisabled        = "账号已禁用"
)

var (
	// ErrTransport marks attempts that got no HTTP response.
	ErrTransport = errors.New("transport error")
	// ErrHTTPStatus marks attempts answered with a non-2xx status.
	ErrHTTPStatus = errors.New("unexpected HTTP status")
	// ErrPersistence is returned when an audit row or the account could not
	// be read or written. The run stops and is not retried.
	ErrPersistence = errors.New("persistence error")
)

type Config struct {
	AttemptTimeout time.Duration
}

// Store is the storage the runner needs.
type Store interface {
	GetAccount(ctx context.Context, id int64) (storage.Account, error)
	AppendLog(ctx context.Context, e storage.LogEntry) (int64, error)
}

// Notifier receives the terminal result of a run.
type Notifier interface {
	Fanout(ctx context.Context, ev notifier.Event) []notifier.Result
}

// Outcome is the result of one Run.
type Outcome struct {
	AccountID int64     `json:"account_id"`
	RunID     string    `json:"run_id"`
	Status    string    `json:"status"`
	Code      *int      `json:"code,omitempty"`
	Body      string    `json:"body,omitempty"`
	Error     string    `json:"error,omitempty"`
	Message   string    `json:"message,omitempty"`
	Attempts  int       `json:"attempts"`
	LogID     int64     `json:"log_id,omitempty"`
	At        time.Time `json:"at"`

	// Err classifies a failed outcome: reqspec.ErrSpecParse, ErrTransport
	// or ErrHTTPStatus.
	Err error `json:"-"`
}

// RunEvent is published as checkin.started and checkin.finished.
type RunEvent struct {
	AccountID int64     `json:"account_id"`
	Account   string    `json:"account"`
	RunID     string    `json:"run_id"`
	Status    string    `json:"status,omitempty"`
	Attempts  int       `json:"attempts,omitempty"`
	Code      *int      `json:"code,omitempty"`
	At        time.Time `json:"at"`
}
