package notifier

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"acgo/internal/eventbus"
	"acgo/internal/settings"
	"acgo/internal/storage"
	logx "acgo/pkg/logx"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

type mapKV map[string]string

func (k mapKV) GetConfig(_ context.Context, key string) (string, bool, error) {
	v, ok := k[key]
	return v, ok, nil
}

func (k mapKV) SetConfig(_ context.Context, key, value string) error {
	k[key] = value
	return nil
}

func (k mapKV) SetConfigIfMissing(_ context.Context, key, value string) (bool, error) {
	if _, ok := k[key]; ok {
		return false, nil
	}
	k[key] = value
	return true, nil
}

type captured struct {
	Method string
	Path   string
	Query  map[string][]string
	Header http.Header
	Body   []byte
	Form   map[string][]string
}

type capture struct {
	mu     sync.Mutex
	reqs   []captured
	status int
	reply  string
}

func (c *capture) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cr := captured{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Header: r.Header.Clone()}
		ct := r.Header.Get("Content-Type")
		switch {
		case strings.HasPrefix(ct, "multipart/form-data"):
			require.NoError(t, r.ParseMultipartForm(1<<20))
			cr.Form = r.MultipartForm.Value
		case strings.HasPrefix(ct, "application/x-www-form-urlencoded"):
			require.NoError(t, r.ParseForm())
			cr.Form = r.PostForm
		default:
			cr.Body, _ = io.ReadAll(r.Body)
		}
		c.mu.Lock()
		c.reqs = append(c.reqs, cr)
		status, reply := c.status, c.reply
		c.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}
}

func (c *capture) last(t *testing.T) captured {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.reqs)
	return c.reqs[len(c.reqs)-1]
}

func newServer(t *testing.T, c *capture) *httptest.Server {
	srv := httptest.NewServer(c.handler(t))
	t.Cleanup(srv.Close)
	return srv
}

func newDispatcher(kv mapKV, opts ...Option) *Dispatcher {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(Config{SendTimeout: 2 * time.Second, RatePerSec: 100}, kv, logx.Nop(), nil, opts...)
}

func code(n int) *int { return &n }

func TestText(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "✅ forum\n签到成功\n(HTTP 200)", Text(Event{AccountName: "forum", Status: storage.StatusSuccess, Code: code(200), Message: "签到成功"}))
	assert.Equal(t, "❌ forum\nnetwork error: timeout", Text(Event{AccountName: "forum", Status: storage.StatusFailed, Message: "network error: timeout"}))
}

func TestSign(t *testing.T) {
	t.Parallel()
	mac := hmac.New(sha256.New, []byte("SECret"))
	mac.Write([]byte("1700000000000\nSECret"))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, Sign("SECret", "1700000000000"))
	assert.NotEqual(t, want, Sign("SECret", "1700000000001"))
}

func TestFanoutWithNothingEnabled(t *testing.T) {
	t.Parallel()
	d := newDispatcher(mapKV{settings.KeyWebhookURL: "http://127.0.0.1:1"})
	assert.Nil(t, d.Fanout(context.Background(), Event{AccountName: "a", Status: storage.StatusSuccess}))
}

func TestWebhookJSON(t *testing.T) {
	t.Parallel()
	c := &capture{}
	srv := newServer(t, c)
	d := newDispatcher(mapKV{
		settings.KeyWebhookEnabled:         "true",
		settings.KeyWebhookURL:             srv.URL + "/hook",
		settings.KeyWebhookHeaders:         `{"X-Token":"abc"}`,
		settings.KeyWebhookIncludeResponse: "true",
	})

	res := d.Fanout(context.Background(), Event{AccountName: "forum", Status: storage.StatusSuccess, Code: code(200), Message: "签到成功", Body: `{"ok":1}`})
	require.Len(t, res, 1)
	require.NoError(t, res[0].Err)

	got := c.last(t)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/hook", got.Path)
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, "abc", got.Header.Get("X-Token"))

	var p map[string]any
	require.NoError(t, json.Unmarshal(got.Body, &p))
	assert.Equal(t, map[string]any{
		"title":         "forum",
		"account_name":  "forum",
		"status":        "success",
		"response_code": float64(200),
		"date":          "2026-03-04 05:06:07",
		"message":       "签到成功",
		"response_body": `{"ok":1}`,
	}, p)
}

func TestWebhookNullCodeAndNoBody(t *testing.T) {
	t.Parallel()
	c := &capture{}
	srv := newServer(t, c)
	d := newDispatcher(mapKV{settings.KeyWebhookEnabled: "true", settings.KeyWebhookURL: srv.URL})

	res := d.Fanout(context.Background(), Event{AccountName: "a", Status: storage.StatusFailed, Message: "network error: x", Body: "ignored"})
	require.Len(t, res, 1)
	require.NoError(t, res[0].Err)

	var p map[string]any
	require.NoError(t, json.Unmarshal(c.last(t).Body, &p))
	v, ok := p["response_code"]
	assert.True(t, ok)
	assert.Nil(t, v)
	assert.NotContains(t, p, "response_body")
}

func TestWebhookEncodings(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		method  string
		headers string
		check   func(t *testing.T, got captured)
	}{
		{
			name:    "form",
			method:  "POST",
			headers: `{"content-type":"application/x-www-form-urlencoded"}`,
			check: func(t *testing.T, got captured) {
				assert.Equal(t, []string{"forum"}, got.Form["account_name"])
				assert.Equal(t, []string{"500"}, got.Form["response_code"])
			},
		},
		{
			name:    "multipart",
			method:  "POST",
			headers: `{"Content-Type":"multipart/form-data"}`,
			check: func(t *testing.T, got captured) {
				assert.Contains(t, got.Header.Get("Content-Type"), "boundary=")
				assert.Equal(t, []string{"failed"}, got.Form["status"])
				assert.Equal(t, []string{"2026-03-04 05:06:07"}, got.Form["date"])
			},
		},
		{
			name:   "get",
			method: "get",
			check: func(t *testing.T, got captured) {
				assert.Equal(t, http.MethodGet, got.Method)
				assert.Equal(t, []string{"forum"}, got.Query["title"])
				assert.Equal(t, []string{"HTTP 500"}, got.Query["message"])
				assert.Equal(t, []string{"1"}, got.Query["keep"])
			},
		},
		{
			name:    "put falls back to get",
			method:  "PUT",
			headers: `{"Content-Type":"application/json"}`,
			check: func(t *testing.T, got captured) {
				assert.Equal(t, http.MethodGet, got.Method)
				assert.Equal(t, []string{"forum"}, got.Query["title"])
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := &capture{}
			srv := newServer(t, c)
			d := newDispatcher(mapKV{
				settings.KeyWebhookEnabled: "true",
				settings.KeyWebhookURL:     srv.URL + "/hook?keep=1",
				settings.KeyWebhookMethod:  tt.method,
				settings.KeyWebhookHeaders: tt.headers,
			})
			res := d.Fanout(context.Background(), Event{AccountName: "forum", Status: storage.StatusFailed, Code: code(500), Message: "HTTP 500"})
			require.Len(t, res, 1)
			require.NoError(t, res[0].Err)
			tt.check(t, c.last(t))
		})
	}
}

func TestDingTalkSigned(t *testing.T) {
	t.Parallel()
	c := &capture{reply: `{"errcode":0,"errmsg":"ok"}`}
	srv := newServer(t, c)
	d := newDispatcher(mapKV{
		settings.KeyDingTalkEnabled:     "true",
		settings.KeyDingTalkAccessToken: "tok",
		settings.KeyDingTalkSecret:      "SEC123",
		settings.KeyDingTalkAPIURL:      srv.URL + "/",
	})

	res := d.Fanout(context.Background(), Event{AccountName: "a", Status: storage.StatusSuccess, Code: code(200), Message: "ok"})
	require.Len(t, res, 1)
	require.NoError(t, res[0].Err)

	got := c.last(t)
	assert.Equal(t, "/robot/send", got.Path)
	assert.Equal(t, []string{"tok"}, got.Query["access_token"])
	ts := "1772600767000"
	assert.Equal(t, []string{ts}, got.Query["timestamp"])
	assert.Equal(t, []string{Sign("SEC123", ts)}, got.Query["sign"])

	var p struct {
		MsgType string `json:"msgtype"`
		Text    struct {
			Content string `json:"content"`
		} `json:"text"`
	}
	require.NoError(t, json.Unmarshal(got.Body, &p))
	assert.Equal(t, "text", p.MsgType)
	assert.Equal(t, "✅ a\nok\n(HTTP 200)", p.Text.Content)
}

func TestDingTalkUnsignedWithoutSecret(t *testing.T) {
	t.Parallel()
	c := &capture{}
	srv := newServer(t, c)
	d := newDispatcher(mapKV{
		settings.KeyDingTalkEnabled:     "true",
		settings.KeyDingTalkAccessToken: "tok",
		settings.KeyDingTalkAPIURL:      srv.URL,
	})
	res := d.Fanout(context.Background(), Event{AccountName: "a", Status: storage.StatusSuccess})
	require.Len(t, res, 1)
	require.NoError(t, res[0].Err)
	assert.NotContains(t, c.last(t).Query, "sign")
	assert.NotContains(t, c.last(t).Query, "timestamp")
}

func TestWeComRejected(t *testing.T) {
	t.Parallel()
	c := &capture{reply: `{"errcode":93000,"errmsg":"invalid webhook url"}`}
	srv := newServer(t, c)
	d := newDispatcher(mapKV{
		settings.KeyWeComEnabled:    "true",
		settings.KeyWeComWebhookKey: "k-1",
		settings.KeyWeComAPIURL:     srv.URL,
	})
	res := d.Fanout(context.Background(), Event{AccountName: "a", Status: storage.StatusFailed})
	require.Len(t, res, 1)
	assert.ErrorIs(t, res[0].Err, ErrRejected)
	got := c.last(t)
	assert.Equal(t, "/cgi-bin/webhook/send", got.Path)
	assert.Equal(t, []string{"k-1"}, got.Query["key"])
}

func TestFeishuSignedBody(t *testing.T) {
	t.Parallel()
	c := &capture{reply: `{"code":0,"msg":"success"}`}
	srv := newServer(t, c)
	d := newDispatcher(mapKV{
		settings.KeyFeishuEnabled:    "true",
		settings.KeyFeishuWebhookURL: srv.URL + "/open-apis/bot/v2/hook/x",
		settings.KeyFeishuSecret:     "fs",
	})
	res := d.Fanout(context.Background(), Event{AccountName: "a", Status: storage.StatusSuccess, Message: "m"})
	require.Len(t, res, 1)
	require.NoError(t, res[0].Err)

	var p map[string]any
	require.NoError(t, json.Unmarshal(c.last(t).Body, &p))
	assert.Equal(t, "text", p["msg_type"])
	assert.Equal(t, map[string]any{"text": "✅ a\nm"}, p["content"])
	assert.Equal(t, "1772600767", p["timestamp"])
	assert.Equal(t, Sign("fs", "1772600767"), p["sign"])
}

func TestTelegram(t *testing.T) {
	t.Parallel()
	c := &capture{reply: `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"},"text":"x"}}`}
	srv := newServer(t, c)
	d := newDispatcher(mapKV{
		settings.KeyTelegramEnabled:  "true",
		settings.KeyTelegramBotToken: "123:abc",
		settings.KeyTelegramUserID:   "42",
		settings.KeyTelegramAPIURL:   srv.URL,
	})
	res := d.Fanout(context.Background(), Event{AccountName: "<a>", Status: storage.StatusSuccess, Message: "ok"})
	require.Len(t, res, 1)
	require.NoError(t, res[0].Err)

	got := c.last(t)
	assert.Equal(t, "/bot123:abc/sendMessage", got.Path)
	var p map[string]any
	require.NoError(t, json.Unmarshal(got.Body, &p))
	assert.Equal(t, "42", p["chat_id"])
	assert.Equal(t, "HTML", p["parse_mode"])
	assert.Equal(t, "✅ &lt;a&gt;\nok", p["text"])
}

func TestTelegramAPIError(t *testing.T) {
	t.Parallel()
	c := &capture{status: http.StatusBadRequest, reply: `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`}
	srv := newServer(t, c)
	d := newDispatcher(nil)
	res := d.Test(context.Background(), ChannelTelegram, settings.Notification{
		Telegram: settings.Telegram{BotToken: "1:x", UserID: "9", APIURL: srv.URL},
	})
	assert.Error(t, res.Err)
	assert.Equal(t, ChannelTelegram, res.Channel)
}

type fakePublisher struct {
	mu      sync.Mutex
	channel string
	msg     []byte
	err     error
	closed  bool
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channel = channel
	f.msg, _ = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

func (f *fakePublisher) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func TestRedisPublish(t *testing.T) {
	t.Parallel()
	pub := &fakePublisher{}
	var dialed settings.Redis
	d := newDispatcher(mapKV{
		settings.KeyRedisEnabled:  "true",
		settings.KeyRedisAddr:     "127.0.0.1:6379",
		settings.KeyRedisPassword: "pw",
	}, WithRedisDialer(func(cfg settings.Redis) Publisher {
		dialed = cfg
		return pub
	}))

	res := d.Fanout(context.Background(), Event{AccountName: "a", Status: storage.StatusSuccess, Code: code(200), Body: "resp"})
	require.Len(t, res, 1)
	require.NoError(t, res[0].Err)

	assert.Equal(t, "pw", dialed.Password)
	assert.Equal(t, settings.DefaultRedisChannel, pub.channel)
	assert.True(t, pub.closed)
	var p map[string]any
	require.NoError(t, json.Unmarshal(pub.msg, &p))
	assert.Equal(t, "a", p["account_name"])
	assert.Equal(t, "resp", p["response_body"])
}

func TestChannelFailuresAreIndependent(t *testing.T) {
	t.Parallel()
	bad := &capture{status: http.StatusInternalServerError}
	good := &capture{reply: `{"errcode":0}`}
	badSrv := newServer(t, bad)
	goodSrv := newServer(t, good)
	pub := &fakePublisher{err: errors.New("connection refused")}

	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, "notifier.sent", "notifier.failed")
	defer unsub()

	d := New(Config{SendTimeout: 2 * time.Second, RatePerSec: 100}, mapKV{
		settings.KeyWebhookEnabled:  "true",
		settings.KeyWebhookURL:      badSrv.URL,
		settings.KeyWeComEnabled:    "true",
		settings.KeyWeComWebhookKey: "k",
		settings.KeyWeComAPIURL:     goodSrv.URL,
		settings.KeyRedisEnabled:    "true",
		settings.KeyRedisAddr:       "x:1",
	}, logx.Nop(), bus, WithRedisDialer(func(settings.Redis) Publisher { return pub }))

	res := d.Fanout(context.Background(), Event{AccountName: "a", Status: storage.StatusFailed})
	require.Len(t, res, 3)
	byName := map[string]Result{}
	for _, r := range res {
		byName[r.Channel] = r
	}
	assert.ErrorIs(t, byName[ChannelWebhook].Err, ErrStatus)
	assert.NoError(t, byName[ChannelWeCom].Err)
	assert.Error(t, byName[ChannelRedis].Err)

	counts := map[string]int{}
	for i := 0; i < 3; i++ {
		select {
		case e := <-events:
			counts[e.Type]++
		case <-time.After(time.Second):
			t.Fatal("missing notifier event")
		}
	}
	assert.Equal(t, map[string]int{"notifier.sent": 1, "notifier.failed": 2}, counts)
}

func TestTestChannel(t *testing.T) {
	t.Parallel()
	d := newDispatcher(nil)

	res := d.Test(context.Background(), "pager", settings.Notification{})
	assert.ErrorIs(t, res.Err, ErrUnknownChannel)

	res = d.Test(context.Background(), ChannelFeishu, settings.Notification{})
	assert.ErrorIs(t, res.Err, ErrNotConfigured)
	assert.NotEmpty(t, res.Error)
}

func TestTestIgnoresEnabledFlag(t *testing.T) {
	t.Parallel()
	c := &capture{}
	srv := newServer(t, c)
	d := newDispatcher(nil)
	res := d.Test(context.Background(), ChannelWebhook, settings.Notification{
		Webhook: settings.Webhook{URL: srv.URL, Method: "POST"},
	})
	require.NoError(t, res.Err)

	var p map[string]any
	require.NoError(t, json.Unmarshal(c.last(t).Body, &p))
	assert.Equal(t, "test notification", p["message"])
}

func TestChannels(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"webhook", "telegram", "dingtalk", "wecom", "feishu", "redis"}, Channels())
}
