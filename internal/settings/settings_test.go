package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapKV struct {
	m   map[string]string
	err error
}

func newMapKV(kv map[string]string) *mapKV {
	if kv == nil {
		kv = map[string]string{}
	}
	return &mapKV{m: kv}
}

func (k *mapKV) GetConfig(_ context.Context, key string) (string, bool, error) {
	if k.err != nil {
		return "", false, k.err
	}
	v, ok := k.m[key]
	return v, ok, nil
}

func (k *mapKV) SetConfig(_ context.Context, key, value string) error {
	k.m[key] = value
	return nil
}

func (k *mapKV) SetConfigIfMissing(_ context.Context, key, value string) (bool, error) {
	if _, ok := k.m[key]; ok {
		return false, nil
	}
	k.m[key] = value
	return true, nil
}

func TestLoadNotificationDefaults(t *testing.T) {
	t.Parallel()
	n, err := LoadNotification(context.Background(), newMapKV(nil))
	require.NoError(t, err)
	assert.False(t, n.Webhook.Enabled)
	assert.Equal(t, "POST", n.Webhook.Method)
	assert.Empty(t, n.Webhook.Headers)
	assert.Equal(t, DefaultTelegramAPIURL, n.Telegram.APIURL)
	assert.Equal(t, DefaultWeComAPIURL, n.WeCom.APIURL)
	assert.Equal(t, DefaultDingTalkAPIURL, n.DingTalk.APIURL)
	assert.Equal(t, DefaultRedisChannel, n.Redis.Channel)
	assert.Empty(t, n.Warnings)
}

func TestLoadNotificationFlagsAreLiteral(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want bool
	}{
		{"true", true},
		{"True", false},
		{"1", false},
		{"yes", false},
		{"", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			n, err := LoadNotification(context.Background(), newMapKV(map[string]string{KeyFeishuEnabled: tt.raw}))
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.Feishu.Enabled)
		})
	}
}

func TestLoadNotificationWebhook(t *testing.T) {
	t.Parallel()
	kv := newMapKV(map[string]string{
		KeyWebhookEnabled:         "true",
		KeyWebhookURL:             "https://hooks.example/x",
		KeyWebhookMethod:          "get",
		KeyWebhookHeaders:         `{"X-Token":"abc"}`,
		KeyWebhookIncludeResponse: "true",
		KeyTelegramAPIURL:         "https://tg.example/",
	})
	n, err := LoadNotification(context.Background(), kv)
	require.NoError(t, err)
	assert.Equal(t, Webhook{
		Enabled:         true,
		URL:             "https://hooks.example/x",
		Method:          "GET",
		Headers:         map[string]string{"X-Token": "abc"},
		IncludeResponse: true,
	}, n.Webhook)
	assert.Equal(t, "https://tg.example", n.Telegram.APIURL)
}

func TestLoadNotificationMalformedHeaders(t *testing.T) {
	t.Parallel()
	n, err := LoadNotification(context.Background(), newMapKV(map[string]string{KeyWebhookHeaders: "{not json"}))
	require.NoError(t, err)
	assert.Empty(t, n.Webhook.Headers)
	assert.Equal(t, []string{KeyWebhookHeaders}, n.Warnings)
}

func TestLoadNotificationStoreError(t *testing.T) {
	t.Parallel()
	boom := errors.New("disk gone")
	_, err := LoadNotification(context.Background(), &mapKV{m: map[string]string{}, err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestLoadSystem(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		kv       map[string]string
		want     System
		warnings int
	}{
		{"empty", nil, System{MaxLogsCount: 500}, 0},
		{"set", map[string]string{KeyAutoCleanLogs: "true", KeyMaxLogsCount: "20"}, System{AutoCleanLogs: true, MaxLogsCount: 20}, 0},
		{"zero", map[string]string{KeyMaxLogsCount: "0"}, System{MaxLogsCount: 0}, 0},
		{"garbage", map[string]string{KeyMaxLogsCount: "lots"}, System{MaxLogsCount: 500}, 1},
		{"negative", map[string]string{KeyMaxLogsCount: "-3"}, System{MaxLogsCount: 500}, 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, w, err := LoadSystem(context.Background(), newMapKV(tt.kv))
			require.NoError(t, err)
			assert.Equal(t, tt.want, s)
			assert.Len(t, w, tt.warnings)
		})
	}
}

func TestSeedKeepsExisting(t *testing.T) {
	t.Parallel()
	kv := newMapKV(map[string]string{KeyMaxLogsCount: "42"})
	require.NoError(t, Seed(context.Background(), kv, Defaults{AutoCleanLogs: true, MaxLogsCount: 500}))
	assert.Equal(t, "42", kv.m[KeyMaxLogsCount])
	assert.Equal(t, "true", kv.m[KeyAutoCleanLogs])
}

func TestDefaultsFromEnv(t *testing.T) {
	t.Setenv("AUTO_CLEAN_LOGS", "true")
	t.Setenv("MAX_LOGS_COUNT", "120")
	d, err := DefaultsFromEnv()
	require.NoError(t, err)
	assert.Equal(t, Defaults{AutoCleanLogs: true, MaxLogsCount: 120}, d)
}

func TestDefaultsFromEnvRejectsGarbage(t *testing.T) {
	t.Setenv("MAX_LOGS_COUNT", "many")
	_, err := DefaultsFromEnv()
	assert.Error(t, err)
}

func TestNotificationSaveRoundTrip(t *testing.T) {
	t.Parallel()
	kv := newMapKV(nil)
	in := Notification{
		Webhook:  Webhook{Enabled: true, URL: "https://h.example", Method: "POST", Headers: map[string]string{"A": "1"}},
		Telegram: Telegram{Enabled: true, BotToken: "t", UserID: "9", APIURL: DefaultTelegramAPIURL},
		WeCom:    WeCom{APIURL: DefaultWeComAPIURL},
		DingTalk: DingTalk{APIURL: DefaultDingTalkAPIURL},
		Redis:    Redis{Channel: DefaultRedisChannel},
	}
	require.NoError(t, in.Save(context.Background(), kv))
	out, err := LoadNotification(context.Background(), kv)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestSystemSave(t *testing.T) {
	t.Parallel()
	kv := newMapKV(nil)
	require.NoError(t, System{AutoCleanLogs: true, MaxLogsCount: 42}.Save(context.Background(), kv))
	sys, warnings, err := LoadSystem(context.Background(), kv)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, System{AutoCleanLogs: true, MaxLogsCount: 42}, sys)

	assert.Error(t, System{MaxLogsCount: -1}.Save(context.Background(), kv))
}
