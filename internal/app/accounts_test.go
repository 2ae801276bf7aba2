package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"acgo/internal/checkin"
	"acgo/internal/notifier"
	"acgo/internal/settings"
	"acgo/internal/storage"
	"acgo/internal/task/scheduler"
	logx "acgo/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSched struct {
	mu        sync.Mutex
	installed map[int64]string
	reloads   int
}

func (f *fakeSched) Install(id int64, expr string) error {
	if err := scheduler.Validate(expr); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installed[id] = expr
	return nil
}

func (f *fakeSched) Remove(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.installed, id)
}

func (f *fakeSched) ReloadAll(accounts []storage.Account) scheduler.ReloadReport {
	f.mu.Lock()
	f.installed = map[int64]string{}
	f.reloads++
	f.mu.Unlock()
	rep := scheduler.ReloadReport{Failed: map[int64]error{}}
	for _, a := range accounts {
		if err := f.Install(a.ID, a.CronExpr); err != nil {
			rep.Failed[a.ID] = err
			continue
		}
		rep.Installed++
	}
	return rep
}

func (f *fakeSched) has(id int64) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.installed[id]
	return e, ok
}

type fakeRunner struct {
	calls []int64
	skip  []bool
}

func (f *fakeRunner) Run(_ context.Context, id int64, skip bool) (checkin.Outcome, error) {
	f.calls = append(f.calls, id)
	f.skip = append(f.skip, skip)
	return checkin.Outcome{AccountID: id, Status: storage.StatusSuccess, Message: checkin.MsgSuccess}, nil
}

type fakeTester struct {
	name string
	n    settings.Notification
}

func (f *fakeTester) Test(_ context.Context, name string, n settings.Notification) notifier.Result {
	f.name, f.n = name, n
	return notifier.Result{Channel: name}
}

type fakeCleaner struct{ runs, clears int }

func (f *fakeCleaner) Run(context.Context) (int, error)   { f.runs++; return 3, nil }
func (f *fakeCleaner) Clear(context.Context) (int, error) { f.clears++; return 7, nil }

type fixture struct {
	svc    *AccountService
	store  storage.Store
	sched  *fakeSched
	runner *fakeRunner
	tester *fakeTester
	clean  *fakeCleaner
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "acgo.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	f := fixture{
		store:  st,
		sched:  &fakeSched{installed: map[int64]string{}},
		runner: &fakeRunner{},
		tester: &fakeTester{},
		clean:  &fakeCleaner{},
	}
	f.svc = NewAccountService(st, f.sched, f.runner, f.tester, f.clean, logx.Nop())
	return f
}

func ptr[T any](v T) *T { return &v }

const curlOK = `curl 'https://forum.example/sign' -H 'Cookie: sid=abcdef123'`

func TestCreateAppliesDefaultsAndInstalls(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Create(ctx, AccountInput{Name: " forum ", CurlCommand: curlOK})
	require.NoError(t, err)
	assert.Equal(t, "forum", a.Name)
	assert.Equal(t, storage.DefaultCronExpr, a.CronExpr)
	assert.Equal(t, storage.DefaultRetryCount, a.RetryCount)
	assert.Equal(t, storage.DefaultRetryInterval, a.RetryInterval)
	assert.True(t, a.Enabled)

	expr, ok := f.sched.has(a.ID)
	require.True(t, ok)
	assert.Equal(t, storage.DefaultCronExpr, expr)

	b, err := f.svc.Create(ctx, AccountInput{Name: "off", CurlCommand: curlOK, RetryCount: ptr(0), Enabled: ptr(false)})
	require.NoError(t, err)
	assert.Zero(t, b.RetryCount)
	_, ok = f.sched.has(b.ID)
	assert.False(t, ok)
}

func TestCreateValidatesBeforeCommit(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   AccountInput
	}{
		{"no name", AccountInput{CurlCommand: curlOK}},
		{"no url", AccountInput{Name: "a", CurlCommand: "curl -H 'A: b'"}},
		{"bad quoting", AccountInput{Name: "a", CurlCommand: `curl 'https://a.example`}},
		{"bad window", AccountInput{Name: "a", CurlCommand: curlOK, CronExpr: "R(10:00-09:00) * * *"}},
		{"bad arity", AccountInput{Name: "a", CurlCommand: curlOK, CronExpr: "0 8 * *"}},
		{"negative retry", AccountInput{Name: "a", CurlCommand: curlOK, RetryCount: ptr(-1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			_, err := f.svc.Create(context.Background(), tc.in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidAccount))

			all, err := f.svc.List(context.Background())
			require.NoError(t, err)
			assert.Empty(t, all, "nothing stored")
		})
	}
}

func TestUpdateResyncsTrigger(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Create(ctx, AccountInput{Name: "a", CurlCommand: curlOK})
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, a.ID, AccountPatch{CronExpr: ptr("R(09:00-09:30) * * *")})
	require.NoError(t, err)
	expr, _ := f.sched.has(a.ID)
	assert.Equal(t, "R(09:00-09:30) * * *", expr)

	_, err = f.svc.Update(ctx, a.ID, AccountPatch{CronExpr: ptr("61 * * * *")})
	assert.True(t, errors.Is(err, ErrInvalidAccount))
	got, err := f.svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "R(09:00-09:30) * * *", got.CronExpr, "rejected update is not stored")

	_, err = f.svc.Update(ctx, a.ID, AccountPatch{Enabled: ptr(false)})
	require.NoError(t, err)
	_, ok := f.sched.has(a.ID)
	assert.False(t, ok)

	_, err = f.svc.Update(ctx, 999, AccountPatch{})
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestSetEnabledAndDelete(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Create(ctx, AccountInput{Name: "a", CurlCommand: curlOK, Enabled: ptr(false)})
	require.NoError(t, err)

	_, err = f.svc.SetEnabled(ctx, a.ID, true)
	require.NoError(t, err)
	_, ok := f.sched.has(a.ID)
	assert.True(t, ok)

	_, err = f.svc.SetEnabled(ctx, a.ID, false)
	require.NoError(t, err)
	_, ok = f.sched.has(a.ID)
	assert.False(t, ok)

	_, err = f.svc.SetEnabled(ctx, a.ID, true)
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, a.ID))
	_, ok = f.sched.has(a.ID)
	assert.False(t, ok)
	assert.True(t, errors.Is(f.svc.Delete(ctx, a.ID), storage.ErrNotFound))
}

func TestResyncInstallsEnabledOnly(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	on, err := f.store.CreateAccount(ctx, storage.Account{Name: "on", CurlCommand: curlOK, CronExpr: "0 8 * * *", Enabled: true})
	require.NoError(t, err)
	_, err = f.store.CreateAccount(ctx, storage.Account{Name: "off", CurlCommand: curlOK, CronExpr: "0 8 * * *"})
	require.NoError(t, err)
	bad, err := f.store.CreateAccount(ctx, storage.Account{Name: "bad", CurlCommand: curlOK, CronExpr: "nope", Enabled: true})
	require.NoError(t, err)

	rep, err := f.svc.Resync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Installed)
	assert.Contains(t, rep.Failed, bad.ID)
	_, ok := f.sched.has(on.ID)
	assert.True(t, ok)
}

func TestResyncIfChanged(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.store.CreateAccount(ctx, storage.Account{Name: "a", CurlCommand: curlOK, CronExpr: "0 8 * * *", Enabled: true})
	require.NoError(t, err)

	_, err = f.svc.Resync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.sched.reloads)

	_, changed, err := f.svc.ResyncIfChanged(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, f.sched.reloads)

	// Another process edits the row directly.
	a.CronExpr = "30 8 * * *"
	require.NoError(t, f.store.UpdateAccount(ctx, a))
	rep, changed, err := f.svc.ResyncIfChanged(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, rep.Installed)
	expr, ok := f.sched.has(a.ID)
	require.True(t, ok)
	assert.Equal(t, "30 8 * * *", expr)

	require.NoError(t, f.store.SetAccountEnabled(ctx, a.ID, false))
	_, changed, err = f.svc.ResyncIfChanged(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	_, ok = f.sched.has(a.ID)
	assert.False(t, ok)
}

func TestRunNowSkipsEnabledCheck(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Create(ctx, AccountInput{Name: "a", CurlCommand: curlOK, Enabled: ptr(false)})
	require.NoError(t, err)

	out, err := f.svc.RunNow(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusSuccess, out.Status)
	assert.Equal(t, []int64{a.ID}, f.runner.calls)
	assert.Equal(t, []bool{true}, f.runner.skip)

	_, err = f.svc.RunNow(ctx, 12345)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	assert.Len(t, f.runner.calls, 1)
}

func TestPreviewAndNextRuns(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Create(ctx, AccountInput{Name: "a", CurlCommand: curlOK, CronExpr: "R(09:00-09:30) * * *"})
	require.NoError(t, err)

	out, err := f.svc.Preview(ctx, a.ID)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"url": "https://forum.example/sign"`)

	runs, err := f.svc.NextRuns(ctx, a.ID, 3, time.UTC)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for _, r := range runs {
		assert.Equal(t, 9, r.Hour())
		assert.Equal(t, 0, r.Minute())
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	t.Parallel()
	src := newFixture(t)
	ctx := context.Background()
	_, err := src.svc.Create(ctx, AccountInput{Name: "a", CurlCommand: curlOK, RetryCount: ptr(0), RetryInterval: ptr(5)})
	require.NoError(t, err)
	_, err = src.svc.Create(ctx, AccountInput{Name: "b", CurlCommand: curlOK, Enabled: ptr(false)})
	require.NoError(t, err)

	exported, err := src.svc.Export(ctx)
	require.NoError(t, err)
	require.Len(t, exported, 2)

	dst := newFixture(t)
	_, err = dst.svc.Create(ctx, AccountInput{Name: "a", CurlCommand: curlOK})
	require.NoError(t, err)

	records := append(exported, AccountInput{Name: "broken", CurlCommand: "curl"}, AccountInput{Name: "a", CurlCommand: curlOK})
	rep, err := dst.svc.Import(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Imported)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 2, rep.Renamed)
	require.Len(t, rep.Errors, 1)
	assert.Contains(t, rep.Errors[0], "#3")

	all, err := dst.svc.List(ctx)
	require.NoError(t, err)
	names := map[string]storage.Account{}
	for _, a := range all {
		names[a.Name] = a
	}
	assert.Contains(t, names, "a_导入1")
	assert.Contains(t, names, "a_导入2")
	assert.Contains(t, names, "b")
	assert.Zero(t, names["a_导入1"].RetryCount)
	assert.Equal(t, 5, names["a_导入1"].RetryInterval)
	assert.False(t, names["b"].Enabled)
	_, ok := dst.sched.has(names["b"].ID)
	assert.False(t, ok)
}

func TestDecodeImport(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   string
		want int
		err  bool
	}{
		{"array", `[{"name":"a","curl_command":"curl https://a.example"}]`, 1, false},
		{"accounts", `{"accounts":[{"name":"a"},{"name":"b"}]}`, 2, false},
		{"export envelope", `{"success":true,"data":[{"name":"a"}]}`, 1, false},
		{"missing", `{"other":[]}`, 0, true},
		{"garbage", `nope`, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeImport([]byte(tc.in))
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tc.want)
		})
	}
}

func TestNotifyTestUsesSavedSettings(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetConfig(ctx, settings.KeyWebhookURL, "https://hook.example"))

	res, err := f.svc.NotifyTest(ctx, notifier.ChannelWebhook)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, notifier.ChannelWebhook, f.tester.name)
	assert.Equal(t, "https://hook.example", f.tester.n.Webhook.URL)
}

func TestCleanAndSettings(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	n, err := f.svc.Clean(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = f.svc.ClearLogs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	notif := settings.Notification{Feishu: settings.Feishu{Enabled: true, WebhookURL: "https://open.feishu.example/hook"}}
	require.NoError(t, f.svc.SaveSettings(ctx, notif, settings.System{AutoCleanLogs: true, MaxLogsCount: 50}))
	gotN, gotSys, err := f.svc.Settings(ctx)
	require.NoError(t, err)
	assert.True(t, gotN.Feishu.Enabled)
	assert.Equal(t, settings.System{AutoCleanLogs: true, MaxLogsCount: 50}, gotSys)
}
