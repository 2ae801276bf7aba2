package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"acgo/internal/eventbus"
	"acgo/internal/notifier"
	"acgo/internal/redact"
	"acgo/internal/reqspec"
	"acgo/internal/storage"
	logx "acgo/pkg/logx"

	"github.com/google/uuid"
)

// Runner executes check-ins. Runs for different accounts, or the same
// account, may proceed concurrently; no per-account lock is held.
type Runner struct {
	store  Store
	notify Notifier
	log    logx.Logger
	bus    eventbus.Bus

	mu  sync.Mutex
	cfg Config

	client *http.Client
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
	runID  func() string
}

type Option func(*Runner)

func WithHTTPClient(c *http.Client) Option {
	return func(r *Runner) {
		if c != nil {
			r.client = c
		}
	}
}

// WithSleep replaces the retry wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

func New(cfg Config, store Store, notify Notifier, log logx.Logger, bus eventbus.Bus, opts ...Option) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Runner{
		store:  store,
		notify: notify,
		log:    log,
		bus:    bus,
		client: &http.Client{},
		sleep:  sleepCtx,
		now:    time.Now,
		runID:  newRunID,
	}
	for _, o := range opts {
		o(r)
	}
	r.Apply(cfg)
	return r
}

func (r *Runner) Apply(cfg Config) {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

func (r *Runner) attemptTimeout() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.AttemptTimeout
}

func newRunID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes one check-in for accountID. The returned error is non-nil
// only for persistence failures (wrapping ErrPersistence) and cancellation;
// every other failure is reported in the Outcome.
func (r *Runner) Run(ctx context.Context, accountID int64, skipEnabledCheck bool) (Outcome, error) {
	out := Outcome{AccountID: accountID, RunID: r.runID(), At: r.now()}
	log := r.log.With(logx.Int64("account_id", accountID), logx.String("run_id", out.RunID))

	acc, err := r.store.GetAccount(ctx, accountID)
	if errors.Is(err, storage.ErrNotFound) {
		out.Status = storage.StatusFailed
		out.Error = MsgAccountNotFound
		out.Message = MsgAccountNotFound
		log.Warn("check-in for unknown account")
		return out, nil
	}
	if err != nil {
		out.Status = storage.StatusFailed
		out.Error = err.Error()
		return out, fmt.Errorf("%w: load account %d: %w", ErrPersistence, accountID, err)
	}
	log = log.With(logx.String("account", acc.Name))

	if !acc.Enabled && !skipEnabledCheck {
		out.Status = StatusSkipped
		out.Message = MsgDisabled
		log.Debug("account disabled, skipped")
		return out, nil
	}

	r.publish("checkin.started", RunEvent{AccountID: acc.ID, Account: acc.Name, RunID: out.RunID, At: out.At})
	defer func() {
		r.publish("checkin.finished", RunEvent{
			AccountID: acc.ID,
			Account:   acc.Name,
			RunID:     out.RunID,
			Status:    out.Status,
			Attempts:  out.Attempts,
			Code:      out.Code,
			At:        r.now(),
		})
	}()

	req, err := reqspec.Parse(acc.CurlCommand)
	if err != nil {
		return r.parseFailed(ctx, log, acc, out, err)
	}

	attempts := acc.RetryCount + 1
	if attempts < 1 {
		attempts = 1
	}
	interval := time.Duration(acc.RetryInterval) * time.Second

	for i := 1; i <= attempts; i++ {
		res := r.attempt(ctx, req)
		out.Attempts = i
		out.At = res.at
		out.Code = res.code
		out.Body = res.body
		out.Err = res.err

		entry := storage.LogEntry{
			AccountID:      acc.ID,
			RunID:          out.RunID,
			Attempt:        i,
			Status:         storage.StatusFailed,
			ResponseCode:   res.code,
			ResponseBody:   res.body,
			ExecutedAt:     res.at,
			RequestMethod:  req.Method,
			RequestURL:     req.URL,
			RequestHeaders: jsonText(redact.Headers(req.Headers)),
			RequestCookies: jsonText(redact.Cookies(req.Cookies)),
			RequestData:    req.Body,
		}
		if res.err == nil {
			entry.Status = storage.StatusSuccess
		} else {
			entry.ErrorMessage = truncateRunes(res.errText, MaxErrorRunes)
		}
		// A cancelled run still records the attempt that observed it.
		id, err := r.store.AppendLog(context.WithoutCancel(ctx), entry)
		if err != nil {
			out.Status = storage.StatusFailed
			out.Error = err.Error()
			log.Error("audit log write failed", logx.Int("attempt", i), logx.Err(err))
			return out, fmt.Errorf("%w: append log: %w", ErrPersistence, err)
		}
		out.LogID = id

		if res.err == nil {
			out.Status = storage.StatusSuccess
			out.Message = MsgSuccess
			out.Error = ""
			log.Info("check-in succeeded", logx.Int("attempt", i), logx.Int("code", *res.code))
			r.fanout(ctx, acc, out)
			return out, nil
		}

		out.Status = storage.StatusFailed
		out.Error = entry.ErrorMessage
		if i == attempts {
			break
		}
		log.Warn("check-in attempt failed, retrying",
			logx.Int("attempt", i),
			logx.Int("of", attempts),
			logx.Duration("retry_in", interval),
			logx.String("err", logx.Truncate(res.errText, 200)),
		)
		if err := r.sleep(ctx, interval); err != nil {
			log.Info("check-in cancelled during retry wait", logx.Err(err))
			return out, err
		}
	}

	if errors.Is(out.Err, ErrTransport) {
		out.Message = "网络异常: " + out.Error
	} else {
		out.Message = "签到失败: " + out.Error
	}
	log.Error("check-in failed", logx.Int("attempts", out.Attempts), logx.String("err", out.Error))
	r.fanout(ctx, acc, out)
	return out, nil
}

// parseFailed writes the single summarizing row for an unparsable spec.
func (r *Runner) parseFailed(ctx context.Context, log logx.Logger, acc storage.Account, out Outcome, perr error) (Outcome, error) {
	out.Status = storage.StatusFailed
	out.Err = perr
	out.Error = truncateRunes(perr.Error(), MaxErrorRunes)
	out.Message = "请求解析失败: " + out.Error
	log.Error("request spec rejected", logx.Err(perr))

	id, err := r.store.AppendLog(context.WithoutCancel(ctx), storage.LogEntry{
		AccountID:    acc.ID,
		RunID:        out.RunID,
		Attempt:      0,
		Status:       storage.StatusFailed,
		ErrorMessage: out.Error,
		ExecutedAt:   out.At,
	})
	if err != nil {
		return out, fmt.Errorf("%w: append log: %w", ErrPersistence, err)
	}
	out.LogID = id
	r.fanout(ctx, acc, out)
	return out, nil
}

func (r *Runner) fanout(ctx context.Context, acc storage.Account, out Outcome) {
	if r.notify == nil {
		return
	}
	// Notifications outlive a cancelled run context long enough to report it.
	nctx := context.WithoutCancel(ctx)
	r.notify.Fanout(nctx, notifier.Event{
		AccountName: acc.Name,
		Status:      out.Status,
		Code:        out.Code,
		Message:     out.Message,
		Body:        out.Body,
	})
}

func (r *Runner) publish(typ string, ev RunEvent) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

func jsonText(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func statusText(code int) string { return "HTTP " + strconv.Itoa(code) }
