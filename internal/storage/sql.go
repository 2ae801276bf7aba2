package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "acgo/pkg/logx"
)

type sqlStore struct {
	db  *sql.DB
	d   dialect
	log logx.Logger
}

func (s *sqlStore) migrate() error {
	schema, err := s.d.schema()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err = s.db.ExecContext(ctx, schema)
	return err
}

func (s *sqlStore) Driver() string { return s.d.name }

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	return s.db.ExecContext(ctx, s.d.q(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.d.q(query), args...)
}

// ---- accounts ----

const accountCols = `id, name, curl_command, cron_expr, retry_count, retry_interval, enabled, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(r rowScanner) (Account, error) {
	var a Account
	err := r.Scan(&a.ID, &a.Name, &a.CurlCommand, &a.CronExpr, &a.RetryCount, &a.RetryInterval, &a.Enabled, timeDest{&a.CreatedAt})
	return a, err
}

func (s *sqlStore) GetAccount(ctx context.Context, id int64) (Account, error) {
	a, err := scanAccount(s.queryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	return a, err
}

func (s *sqlStore) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.listAccounts(ctx, `SELECT `+accountCols+` FROM accounts ORDER BY id`)
}

func (s *sqlStore) ListEnabledAccounts(ctx context.Context) ([]Account, error) {
	return s.listAccounts(ctx, `SELECT `+accountCols+` FROM accounts WHERE enabled = ? ORDER BY id`, true)
}

func (s *sqlStore) listAccounts(ctx context.Context, query string, args ...any) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, s.d.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateAccount inserts a and returns it with ID and CreatedAt set. Empty
// CronExpr gets DefaultCronExpr. Negative retry fields are clamped to 0.
func (s *sqlStore) CreateAccount(ctx context.Context, a Account) (Account, error) {
	if strings.TrimSpace(a.CronExpr) == "" {
		a.CronExpr = DefaultCronExpr
	}
	a.RetryCount = max(a.RetryCount, 0)
	a.RetryInterval = max(a.RetryInterval, 0)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	a.CreatedAt = a.CreatedAt.UTC()

	err := s.queryRow(ctx,
		`INSERT INTO accounts(name, curl_command, cron_expr, retry_count, retry_interval, enabled, created_at)
		 VALUES(?,?,?,?,?,?,?) RETURNING id`,
		a.Name, a.CurlCommand, a.CronExpr, a.RetryCount, a.RetryInterval, a.Enabled, s.d.timeValue(a.CreatedAt),
	).Scan(&a.ID)
	if err != nil {
		return Account{}, err
	}
	return a, nil
}

func (s *sqlStore) UpdateAccount(ctx context.Context, a Account) error {
	res, err := s.exec(ctx,
		`UPDATE accounts SET name = ?, curl_command = ?, cron_expr = ?, retry_count = ?, retry_interval = ?, enabled = ?
		 WHERE id = ?`,
		a.Name, a.CurlCommand, a.CronExpr, max(a.RetryCount, 0), max(a.RetryInterval, 0), a.Enabled, a.ID,
	)
	return affectedOne(res, err, "account", a.ID)
}

// DeleteAccount removes the account; its logs go with it.
func (s *sqlStore) DeleteAccount(ctx context.Context, id int64) error {
	res, err := s.exec(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	return affectedOne(res, err, "account", id)
}

func (s *sqlStore) SetAccountEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.exec(ctx, `UPDATE accounts SET enabled = ? WHERE id = ?`, enabled, id)
	return affectedOne(res, err, "account", id)
}

func affectedOne(res sql.Result, err error, what string, id int64) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return nil
}

// ---- logs ----

const logCols = `l.id, l.account_id, COALESCE(a.name, ''), l.run_id, l.attempt, l.status, l.response_code,
	l.response_body, l.error_message, l.executed_at, l.request_method, l.request_url,
	l.request_headers, l.request_cookies, l.request_data`

const logFrom = ` FROM checkin_logs l LEFT JOIN accounts a ON a.id = l.account_id`

func scanLog(r rowScanner) (LogEntry, error) {
	var (
		e                         LogEntry
		code                      sql.NullInt64
		body, errMsg, method, url sql.NullString
		headers, cookies, data    sql.NullString
	)
	err := r.Scan(&e.ID, &e.AccountID, &e.AccountName, &e.RunID, &e.Attempt, &e.Status, &code,
		&body, &errMsg, timeDest{&e.ExecutedAt}, &method, &url, &headers, &cookies, &data)
	if err != nil {
		return LogEntry{}, err
	}
	if code.Valid {
		c := int(code.Int64)
		e.ResponseCode = &c
	}
	e.ResponseBody = body.String
	e.ErrorMessage = errMsg.String
	e.RequestMethod = method.String
	e.RequestURL = url.String
	e.RequestHeaders = headers.String
	e.RequestCookies = cookies.String
	e.RequestData = data.String
	return e, nil
}

func (s *sqlStore) AppendLog(ctx context.Context, e LogEntry) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = time.Now()
	}
	if e.Attempt <= 0 {
		e.Attempt = 1
	}
	var code any
	if e.ResponseCode != nil {
		code = *e.ResponseCode
	}
	var id int64
	err := s.queryRow(ctx,
		`INSERT INTO checkin_logs(account_id, run_id, attempt, status, response_code, response_body, error_message,
		   executed_at, request_method, request_url, request_headers, request_cookies, request_data)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?) RETURNING id`,
		e.AccountID, e.RunID, e.Attempt, e.Status, code, nullStr(e.ResponseBody), nullStr(e.ErrorMessage),
		s.d.timeValue(e.ExecutedAt), nullStr(e.RequestMethod), nullStr(e.RequestURL),
		nullStr(e.RequestHeaders), nullStr(e.RequestCookies), nullStr(e.RequestData),
	).Scan(&id)
	return id, err
}

func (s *sqlStore) CountLogs(ctx context.Context) (int, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM checkin_logs`).Scan(&n)
	return n, err
}

func (s *sqlStore) TrimOldest(ctx context.Context, max int) (deleted int, err error) {
	if max < 0 {
		max = 0
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.d.lockLogs != "" {
		if _, err = tx.ExecContext(ctx, s.d.lockLogs); err != nil {
			return 0, err
		}
	}
	var count int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM checkin_logs`).Scan(&count); err != nil {
		return 0, err
	}
	excess := count - max
	if excess <= 0 {
		return 0, tx.Commit()
	}

	res, err := tx.ExecContext(ctx, s.d.q(
		`DELETE FROM checkin_logs WHERE id IN (
		   SELECT id FROM checkin_logs ORDER BY executed_at ASC, id ASC LIMIT ?
		 )`), excess)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *sqlStore) ClearLogs(ctx context.Context, before time.Time) (int, error) {
	var (
		res sql.Result
		err error
	)
	if before.IsZero() {
		res, err = s.exec(ctx, `DELETE FROM checkin_logs`)
	} else {
		res, err = s.exec(ctx, `DELETE FROM checkin_logs WHERE executed_at < ?`, s.d.timeValue(before))
	}
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListLogs returns one page of logs, newest first, plus the filtered total.
func (s *sqlStore) ListLogs(ctx context.Context, f LogFilter) ([]LogEntry, int, error) {
	var (
		where []string
		args  []any
	)
	if f.AccountID > 0 {
		where = append(where, "l.account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.Status != "" {
		where = append(where, "l.status = ?")
		args = append(args, f.Status)
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.queryRow(ctx, `SELECT COUNT(*)`+logFrom+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := max(f.Offset, 0)
	rows, err := s.db.QueryContext(ctx,
		s.d.q(`SELECT `+logCols+logFrom+cond+` ORDER BY l.executed_at DESC, l.id DESC LIMIT ? OFFSET ?`),
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		e, err := scanLog(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (s *sqlStore) GetLog(ctx context.Context, id int64) (LogEntry, error) {
	e, err := scanLog(s.queryRow(ctx, `SELECT `+logCols+logFrom+` WHERE l.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return LogEntry{}, fmt.Errorf("log %d: %w", id, ErrNotFound)
	}
	return e, err
}

func (s *sqlStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.queryRow(ctx, `SELECT
		(SELECT COUNT(*) FROM accounts),
		(SELECT COUNT(*) FROM accounts WHERE enabled = ?),
		(SELECT COUNT(*) FROM checkin_logs),
		(SELECT COUNT(*) FROM checkin_logs WHERE status = ?)`,
		true, StatusSuccess,
	).Scan(&st.TotalAccounts, &st.EnabledAccounts, &st.TotalLogs, &st.SuccessLogs)
	return st, err
}

// ---- configs ----

func (s *sqlStore) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.queryRow(ctx, `SELECT value FROM configs WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *sqlStore) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.exec(ctx,
		`INSERT INTO configs(key, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.d.timeValue(time.Now()),
	)
	return err
}

func (s *sqlStore) SetConfigIfMissing(ctx context.Context, key, value string) (bool, error) {
	res, err := s.exec(ctx,
		`INSERT INTO configs(key, value, updated_at) VALUES(?,?,?) ON CONFLICT(key) DO NOTHING`,
		key, value, s.d.timeValue(time.Now()),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}
