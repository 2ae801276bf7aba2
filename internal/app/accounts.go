package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync/atomic"
	"time"

	"acgo/internal/checkin"
	"acgo/internal/notifier"
	"acgo/internal/reqspec"
	"acgo/internal/settings"
	"acgo/internal/storage"
	"acgo/internal/task/scheduler"
	logx "acgo/pkg/logx"
)

// ErrInvalidAccount wraps every validation failure of Create, Update and Import.
var ErrInvalidAccount = errors.New("invalid account")

// importRenameSuffix is appended, with a counter, to imported names that clash.
const importRenameSuffix = "_导入"

type accountScheduler interface {
	Install(accountID int64, expr string) error
	Remove(accountID int64)
	ReloadAll(accounts []storage.Account) scheduler.ReloadReport
}

type checkinRunner interface {
	Run(ctx context.Context, accountID int64, skipEnabledCheck bool) (checkin.Outcome, error)
}

type channelTester interface {
	Test(ctx context.Context, name string, n settings.Notification) notifier.Result
}

type logCleaner interface {
	Run(ctx context.Context) (int, error)
	Clear(ctx context.Context) (int, error)
}

// AccountInput is the writable part of an account. It is also the export and
// import record; nil fields take the account defaults.
type AccountInput struct {
	Name          string `json:"name"`
	CurlCommand   string `json:"curl_command"`
	CronExpr      string `json:"cron_expr,omitempty"`
	RetryCount    *int   `json:"retry_count,omitempty"`
	RetryInterval *int   `json:"retry_interval,omitempty"`
	Enabled       *bool  `json:"enabled,omitempty"`
}

// AccountPatch updates only the non-nil fields.
type AccountPatch struct {
	Name          *string
	CurlCommand   *string
	CronExpr      *string
	RetryCount    *int
	RetryInterval *int
	Enabled       *bool
}

// ImportReport summarizes an Import. Errors are per record, 1-based.
type ImportReport struct {
	Imported int      `json:"imported"`
	Failed   int      `json:"failed"`
	Renamed  int      `json:"renamed"`
	Errors   []string `json:"errors,omitempty"`
}

// AccountService is the administrative surface over accounts, logs and
// settings. Every mutation is validated before it is stored, and the
// scheduler is re-synchronized after it.
type AccountService struct {
	store  storage.Store
	sched  accountScheduler
	runner checkinRunner
	notify channelTester
	clean  logCleaner
	log    logx.Logger

	// fp fingerprints the enabled accounts of the last Resync.
	fp atomic.Uint64
}

func NewAccountService(store storage.Store, sched accountScheduler, runner checkinRunner, notify channelTester, clean logCleaner, log logx.Logger) *AccountService {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &AccountService{store: store, sched: sched, runner: runner, notify: notify, clean: clean, log: log}
}

func validateAccount(a storage.Account) error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAccount)
	}
	if strings.TrimSpace(a.CurlCommand) == "" {
		return fmt.Errorf("%w: curl_command is required", ErrInvalidAccount)
	}
	if _, err := reqspec.Parse(a.CurlCommand); err != nil {
		return fmt.Errorf("%w: curl_command: %w", ErrInvalidAccount, err)
	}
	if err := scheduler.Validate(a.CronExpr); err != nil {
		return fmt.Errorf("%w: cron_expr: %w", ErrInvalidAccount, err)
	}
	if a.RetryCount < 0 || a.RetryInterval < 0 {
		return fmt.Errorf("%w: retry_count and retry_interval must be >= 0", ErrInvalidAccount)
	}
	return nil
}

func (in AccountInput) account() storage.Account {
	a := storage.Account{
		Name:          strings.TrimSpace(in.Name),
		CurlCommand:   in.CurlCommand,
		CronExpr:      strings.TrimSpace(in.CronExpr),
		RetryCount:    storage.DefaultRetryCount,
		RetryInterval: storage.DefaultRetryInterval,
		Enabled:       true,
	}
	if a.CronExpr == "" {
		a.CronExpr = storage.DefaultCronExpr
	}
	if in.RetryCount != nil {
		a.RetryCount = *in.RetryCount
	}
	if in.RetryInterval != nil {
		a.RetryInterval = *in.RetryInterval
	}
	if in.Enabled != nil {
		a.Enabled = *in.Enabled
	}
	return a
}

// sync installs or removes the trigger to match the stored account.
func (s *AccountService) sync(a storage.Account) error {
	if !a.Enabled {
		s.sched.Remove(a.ID)
		return nil
	}
	return s.sched.Install(a.ID, a.CronExpr)
}

func (s *AccountService) Create(ctx context.Context, in AccountInput) (storage.Account, error) {
	a := in.account()
	if err := validateAccount(a); err != nil {
		return storage.Account{}, err
	}
	created, err := s.store.CreateAccount(ctx, a)
	if err != nil {
		return storage.Account{}, fmt.Errorf("create account: %w", err)
	}
	if err := s.sync(created); err != nil {
		// Validated above, so this is unexpected; do not leave an unscheduled enabled row.
		_ = s.store.DeleteAccount(ctx, created.ID)
		return storage.Account{}, fmt.Errorf("%w: cron_expr: %w", ErrInvalidAccount, err)
	}
	s.log.Info("account created", logx.Int64("account_id", created.ID), logx.String("account", created.Name))
	return created, nil
}

func (s *AccountService) Update(ctx context.Context, id int64, p AccountPatch) (storage.Account, error) {
	a, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return storage.Account{}, err
	}
	if p.Name != nil {
		a.Name = strings.TrimSpace(*p.Name)
	}
	if p.CurlCommand != nil {
		a.CurlCommand = *p.CurlCommand
	}
	if p.CronExpr != nil {
		a.CronExpr = strings.TrimSpace(*p.CronExpr)
	}
	if p.RetryCount != nil {
		a.RetryCount = *p.RetryCount
	}
	if p.RetryInterval != nil {
		a.RetryInterval = *p.RetryInterval
	}
	if p.Enabled != nil {
		a.Enabled = *p.Enabled
	}
	if err := validateAccount(a); err != nil {
		return storage.Account{}, err
	}
	if err := s.store.UpdateAccount(ctx, a); err != nil {
		return storage.Account{}, fmt.Errorf("update account: %w", err)
	}
	if err := s.sync(a); err != nil {
		return storage.Account{}, fmt.Errorf("%w: cron_expr: %w", ErrInvalidAccount, err)
	}
	s.log.Info("account updated", logx.Int64("account_id", a.ID), logx.String("account", a.Name))
	return a, nil
}

// Delete removes the trigger first so no new fire starts for a vanished row.
func (s *AccountService) Delete(ctx context.Context, id int64) error {
	if _, err := s.store.GetAccount(ctx, id); err != nil {
		return err
	}
	s.sched.Remove(id)
	if err := s.store.DeleteAccount(ctx, id); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	s.log.Info("account deleted", logx.Int64("account_id", id))
	return nil
}

func (s *AccountService) SetEnabled(ctx context.Context, id int64, enabled bool) (storage.Account, error) {
	a, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return storage.Account{}, err
	}
	a.Enabled = enabled
	if enabled {
		if err := scheduler.Validate(a.CronExpr); err != nil {
			return storage.Account{}, fmt.Errorf("%w: cron_expr: %w", ErrInvalidAccount, err)
		}
	}
	if err := s.store.SetAccountEnabled(ctx, id, enabled); err != nil {
		return storage.Account{}, err
	}
	if err := s.sync(a); err != nil {
		return storage.Account{}, err
	}
	s.log.Info("account toggled", logx.Int64("account_id", id), logx.Bool("enabled", enabled))
	return a, nil
}

func (s *AccountService) Get(ctx context.Context, id int64) (storage.Account, error) {
	return s.store.GetAccount(ctx, id)
}

func (s *AccountService) List(ctx context.Context) ([]storage.Account, error) {
	return s.store.ListAccounts(ctx)
}

// Resync rebuilds every account trigger from the store.
func (s *AccountService) Resync(ctx context.Context) (ReloadReport, error) {
	rep, _, err := s.resync(ctx, true)
	return rep, err
}

// ResyncIfChanged rebuilds the triggers only when the enabled accounts or
// their schedules differ from the last resync. It picks up edits made by
// another process against the same database.
func (s *AccountService) ResyncIfChanged(ctx context.Context) (ReloadReport, bool, error) {
	return s.resync(ctx, false)
}

func (s *AccountService) resync(ctx context.Context, force bool) (ReloadReport, bool, error) {
	accounts, err := s.store.ListEnabledAccounts(ctx)
	if err != nil {
		return ReloadReport{}, false, fmt.Errorf("list enabled accounts: %w", err)
	}
	fp := fingerprint(accounts)
	if !force && s.fp.Load() == fp {
		return ReloadReport{}, false, nil
	}
	rep := s.sched.ReloadAll(accounts)
	s.fp.Store(fp)
	return rep, true, nil
}

func fingerprint(accounts []storage.Account) uint64 {
	h := fnv.New64a()
	for _, a := range accounts {
		fmt.Fprintf(h, "%d|%s;", a.ID, a.CronExpr)
	}
	return h.Sum64()
}

// RunNow executes a check-in on the caller's goroutine, ignoring the enabled
// flag. It may overlap a scheduled run of the same account.
func (s *AccountService) RunNow(ctx context.Context, id int64) (checkin.Outcome, error) {
	if _, err := s.store.GetAccount(ctx, id); err != nil {
		return checkin.Outcome{}, err
	}
	return s.runner.Run(ctx, id, true)
}

// Preview renders the parsed request of a stored account.
func (s *AccountService) Preview(ctx context.Context, id int64) ([]byte, error) {
	a, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	return reqspec.Preview(a.CurlCommand)
}

// NextRuns lists the next n cron fire times of an account in loc. Jitter is
// applied on top at fire time and is not reflected here.
func (s *AccountService) NextRuns(ctx context.Context, id int64, n int, loc *time.Location) ([]time.Time, error) {
	a, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	return scheduler.NextRuns(a.CronExpr, n, time.Now(), loc)
}

// Export returns every account without ids or timestamps.
func (s *AccountService) Export(ctx context.Context) ([]AccountInput, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AccountInput, 0, len(accounts))
	for _, a := range accounts {
		rc, ri, en := a.RetryCount, a.RetryInterval, a.Enabled
		out = append(out, AccountInput{
			Name:          a.Name,
			CurlCommand:   a.CurlCommand,
			CronExpr:      a.CronExpr,
			RetryCount:    &rc,
			RetryInterval: &ri,
			Enabled:       &en,
		})
	}
	return out, nil
}

// DecodeImport accepts a bare JSON array of accounts or an object holding one
// under "accounts" or "data".
func DecodeImport(b []byte) ([]AccountInput, error) {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var list []AccountInput
		if err := json.Unmarshal(b, &list); err != nil {
			return nil, fmt.Errorf("decode accounts: %w", err)
		}
		return list, nil
	}
	var wrapped struct {
		Accounts []AccountInput `json:"accounts"`
		Data     []AccountInput `json:"data"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	switch {
	case wrapped.Accounts != nil:
		return wrapped.Accounts, nil
	case wrapped.Data != nil:
		return wrapped.Data, nil
	}
	return nil, errors.New("decode accounts: missing accounts array")
}

// Import creates each record independently. Name clashes with existing or
// earlier imported accounts are resolved by appending a numbered suffix.
func (s *AccountService) Import(ctx context.Context, records []AccountInput) (ImportReport, error) {
	existing, err := s.store.ListAccounts(ctx)
	if err != nil {
		return ImportReport{}, err
	}
	names := make(map[string]struct{}, len(existing)+len(records))
	for _, a := range existing {
		names[a.Name] = struct{}{}
	}

	var rep ImportReport
	for i, rec := range records {
		a := rec.account()
		if err := validateAccount(a); err != nil {
			rep.Failed++
			rep.Errors = append(rep.Errors, fmt.Sprintf("#%d: %v", i+1, err))
			continue
		}
		base := a.Name
		for n := 1; ; n++ {
			if _, taken := names[a.Name]; !taken {
				break
			}
			a.Name = fmt.Sprintf("%s%s%d", base, importRenameSuffix, n)
		}
		if a.Name != base {
			rep.Renamed++
		}

		created, err := s.store.CreateAccount(ctx, a)
		if err != nil {
			rep.Failed++
			rep.Errors = append(rep.Errors, fmt.Sprintf("#%d: %v", i+1, err))
			continue
		}
		if err := s.sync(created); err != nil {
			_ = s.store.DeleteAccount(ctx, created.ID)
			rep.Failed++
			rep.Errors = append(rep.Errors, fmt.Sprintf("#%d: cron_expr: %v", i+1, err))
			continue
		}
		names[a.Name] = struct{}{}
		rep.Imported++
	}
	s.log.Info("accounts imported",
		logx.Int("imported", rep.Imported),
		logx.Int("failed", rep.Failed),
		logx.Int("renamed", rep.Renamed),
	)
	return rep, nil
}

// NotifyTest sends a sample event through one channel using the saved
// settings, whether or not the channel is enabled.
func (s *AccountService) NotifyTest(ctx context.Context, channel string) (notifier.Result, error) {
	n, err := settings.LoadNotification(ctx, s.store)
	if err != nil {
		return notifier.Result{}, err
	}
	return s.notify.Test(ctx, channel, n), nil
}

// Clean applies the retention policy now.
func (s *AccountService) Clean(ctx context.Context) (int, error) { return s.clean.Run(ctx) }

// ClearLogs deletes every log row.
func (s *AccountService) ClearLogs(ctx context.Context) (int, error) { return s.clean.Clear(ctx) }

func (s *AccountService) Logs(ctx context.Context, f storage.LogFilter) ([]storage.LogEntry, int, error) {
	return s.store.ListLogs(ctx, f)
}

func (s *AccountService) Stats(ctx context.Context) (storage.Stats, error) {
	return s.store.Stats(ctx)
}

func (s *AccountService) Settings(ctx context.Context) (settings.Notification, settings.System, error) {
	n, err := settings.LoadNotification(ctx, s.store)
	if err != nil {
		return settings.Notification{}, settings.System{}, err
	}
	sys, _, err := settings.LoadSystem(ctx, s.store)
	if err != nil {
		return settings.Notification{}, settings.System{}, err
	}
	return n, sys, nil
}

func (s *AccountService) SaveSettings(ctx context.Context, n settings.Notification, sys settings.System) error {
	if err := n.Save(ctx, s.store); err != nil {
		return err
	}
	if err := sys.Save(ctx, s.store); err != nil {
		return err
	}
	s.log.Info("settings saved")
	return nil
}
