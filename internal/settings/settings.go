// Package settings exposes typed views over the configs key/value table.
// Values are read fresh on every call; nothing is cached.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"acgo/internal/storage"

	"github.com/caarlos0/env/v11"
)

// Keys of the configs table.
const (
	KeyWebhookEnabled         = "webhook_enabled"
	KeyWebhookURL             = "webhook_url"
	KeyWebhookMethod          = "webhook_method"
	KeyWebhookHeaders         = "webhook_headers"
	KeyWebhookIncludeResponse = "webhook_include_response"

	KeyTelegramEnabled  = "telegram_enabled"
	KeyTelegramBotToken = "telegram_bot_token"
	KeyTelegramUserID   = "telegram_user_id"
	KeyTelegramAPIURL   = "telegram_api_url"

	KeyWeComEnabled    = "wecom_enabled"
	KeyWeComWebhookKey = "wecom_webhook_key"
	KeyWeComAPIURL     = "wecom_api_url"

	KeyDingTalkEnabled     = "dingtalk_enabled"
	KeyDingTalkAccessToken = "dingtalk_access_token"
	KeyDingTalkSecret      = "dingtalk_secret"
	KeyDingTalkAPIURL      = "dingtalk_api_url"

	KeyFeishuEnabled    = "feishu_enabled"
	KeyFeishuWebhookURL = "feishu_webhook_url"
	KeyFeishuSecret     = "feishu_secret"

	KeyRedisEnabled  = "redis_enabled"
	KeyRedisAddr     = "redis_addr"
	KeyRedisPassword = "redis_password"
	KeyRedisChannel  = "redis_channel"

	KeyAutoCleanLogs = "auto_clean_logs"
	KeyMaxLogsCount  = "max_logs_count"
)

// Default API bases used when the corresponding key is empty.
const (
	DefaultTelegramAPIURL = "https://api.telegram.org"
	DefaultWeComAPIURL    = "https://qyapi.weixin.qq.com"
	DefaultDingTalkAPIURL = "https://oapi.dingtalk.com"
	DefaultMaxLogsCount   = 500
	DefaultRedisChannel   = "acgo:checkin"
)

type Webhook struct {
	Enabled         bool              `json:"enabled"`
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	Headers         map[string]string `json:"headers"`
	IncludeResponse bool              `json:"include_response"`
}

type Telegram struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	UserID   string `json:"user_id"`
	APIURL   string `json:"api_url"`
}

type WeCom struct {
	Enabled    bool   `json:"enabled"`
	WebhookKey string `json:"webhook_key"`
	APIURL     string `json:"api_url"`
}

type DingTalk struct {
	Enabled     bool   `json:"enabled"`
	AccessToken string `json:"access_token"`
	Secret      string `json:"secret"`
	APIURL      string `json:"api_url"`
}

type Feishu struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
	Secret     string `json:"secret"`
}

type Redis struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	Channel  string `json:"channel"`
}

// Notification is the full channel configuration for one fanout.
type Notification struct {
	Webhook  Webhook  `json:"webhook"`
	Telegram Telegram `json:"telegram"`
	WeCom    WeCom    `json:"wecom"`
	DingTalk DingTalk `json:"dingtalk"`
	Feishu   Feishu   `json:"feishu"`
	Redis    Redis    `json:"redis"`

	// Warnings lists keys that held malformed values and fell back to defaults.
	Warnings []string `json:"-"`
}

type System struct {
	AutoCleanLogs bool `json:"auto_clean_logs"`
	MaxLogsCount  int  `json:"max_logs_count"`
}

// Defaults seed the configs table on first start.
type Defaults struct {
	AutoCleanLogs bool `env:"AUTO_CLEAN_LOGS" envDefault:"false"`
	MaxLogsCount  int  `env:"MAX_LOGS_COUNT" envDefault:"500"`
}

// DefaultsFromEnv reads AUTO_CLEAN_LOGS and MAX_LOGS_COUNT.
func DefaultsFromEnv() (Defaults, error) {
	var d Defaults
	if err := env.Parse(&d); err != nil {
		return Defaults{}, fmt.Errorf("settings defaults: %w", err)
	}
	if d.MaxLogsCount < 0 {
		d.MaxLogsCount = DefaultMaxLogsCount
	}
	return d, nil
}

// Seed inserts every missing system key. Existing values are left alone.
func Seed(ctx context.Context, kv storage.KV, d Defaults) error {
	seeds := []struct{ k, v string }{
		{KeyAutoCleanLogs, strconv.FormatBool(d.AutoCleanLogs)},
		{KeyMaxLogsCount, strconv.Itoa(d.MaxLogsCount)},
	}
	for _, s := range seeds {
		if _, err := kv.SetConfigIfMissing(ctx, s.k, s.v); err != nil {
			return fmt.Errorf("seed %s: %w", s.k, err)
		}
	}
	return nil
}

type reader struct {
	ctx context.Context
	kv  storage.KV
	err error
}

func (r *reader) str(key string) string {
	if r.err != nil {
		return ""
	}
	v, _, err := r.kv.GetConfig(r.ctx, key)
	if err != nil {
		r.err = fmt.Errorf("read %s: %w", key, err)
		return ""
	}
	return strings.TrimSpace(v)
}

func (r *reader) strOr(key, def string) string {
	if v := r.str(key); v != "" {
		return v
	}
	return def
}

// Only the literal "true" enables a flag.
func (r *reader) flag(key string) bool { return r.str(key) == "true" }

// LoadNotification reads every channel key.
func LoadNotification(ctx context.Context, kv storage.KV) (Notification, error) {
	r := &reader{ctx: ctx, kv: kv}
	var n Notification

	n.Webhook = Webhook{
		Enabled:         r.flag(KeyWebhookEnabled),
		URL:             r.str(KeyWebhookURL),
		Method:          strings.ToUpper(r.strOr(KeyWebhookMethod, "POST")),
		IncludeResponse: r.flag(KeyWebhookIncludeResponse),
		Headers:         map[string]string{},
	}
	if raw := r.str(KeyWebhookHeaders); raw != "" {
		if err := json.Unmarshal([]byte(raw), &n.Webhook.Headers); err != nil {
			n.Webhook.Headers = map[string]string{}
			n.Warnings = append(n.Warnings, KeyWebhookHeaders)
		}
	}
	n.Telegram = Telegram{
		Enabled:  r.flag(KeyTelegramEnabled),
		BotToken: r.str(KeyTelegramBotToken),
		UserID:   r.str(KeyTelegramUserID),
		APIURL:   strings.TrimRight(r.strOr(KeyTelegramAPIURL, DefaultTelegramAPIURL), "/"),
	}
	n.WeCom = WeCom{
		Enabled:    r.flag(KeyWeComEnabled),
		WebhookKey: r.str(KeyWeComWebhookKey),
		APIURL:     strings.TrimRight(r.strOr(KeyWeComAPIURL, DefaultWeComAPIURL), "/"),
	}
	n.DingTalk = DingTalk{
		Enabled:     r.flag(KeyDingTalkEnabled),
		AccessToken: r.str(KeyDingTalkAccessToken),
		Secret:      r.str(KeyDingTalkSecret),
		APIURL:      strings.TrimRight(r.strOr(KeyDingTalkAPIURL, DefaultDingTalkAPIURL), "/"),
	}
	n.Feishu = Feishu{
		Enabled:    r.flag(KeyFeishuEnabled),
		WebhookURL: r.str(KeyFeishuWebhookURL),
		Secret:     r.str(KeyFeishuSecret),
	}
	n.Redis = Redis{
		Enabled:  r.flag(KeyRedisEnabled),
		Addr:     r.str(KeyRedisAddr),
		Password: r.str(KeyRedisPassword),
		Channel:  r.strOr(KeyRedisChannel, DefaultRedisChannel),
	}
	if r.err != nil {
		return Notification{}, r.err
	}
	return n, nil
}

// LoadSystem reads the retention keys. Unparsable or negative max_logs_count
// falls back to the default and is reported in warnings.
func LoadSystem(ctx context.Context, kv storage.KV) (System, []string, error) {
	r := &reader{ctx: ctx, kv: kv}
	s := System{AutoCleanLogs: r.flag(KeyAutoCleanLogs), MaxLogsCount: DefaultMaxLogsCount}
	raw := r.str(KeyMaxLogsCount)
	if r.err != nil {
		return System{}, nil, r.err
	}

	var warnings []string
	if raw != "" {
		n, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			warnings = append(warnings, fmt.Sprintf("%s=%q is not an integer, using %d", KeyMaxLogsCount, raw, DefaultMaxLogsCount))
		case n < 0:
			warnings = append(warnings, fmt.Sprintf("%s=%d is negative, using %d", KeyMaxLogsCount, n, DefaultMaxLogsCount))
		default:
			s.MaxLogsCount = n
		}
	}
	return s, warnings, nil
}

// Save writes every channel key of n. Used by account import and the CLI.
func (n Notification) Save(ctx context.Context, kv storage.KV) error {
	headers, err := json.Marshal(n.Webhook.Headers)
	if err != nil {
		return err
	}
	pairs := []struct{ k, v string }{
		{KeyWebhookEnabled, strconv.FormatBool(n.Webhook.Enabled)},
		{KeyWebhookURL, n.Webhook.URL},
		{KeyWebhookMethod, n.Webhook.Method},
		{KeyWebhookHeaders, string(headers)},
		{KeyWebhookIncludeResponse, strconv.FormatBool(n.Webhook.IncludeResponse)},
		{KeyTelegramEnabled, strconv.FormatBool(n.Telegram.Enabled)},
		{KeyTelegramBotToken, n.Telegram.BotToken},
		{KeyTelegramUserID, n.Telegram.UserID},
		{KeyTelegramAPIURL, n.Telegram.APIURL},
		{KeyWeComEnabled, strconv.FormatBool(n.WeCom.Enabled)},
		{KeyWeComWebhookKey, n.WeCom.WebhookKey},
		{KeyWeComAPIURL, n.WeCom.APIURL},
		{KeyDingTalkEnabled, strconv.FormatBool(n.DingTalk.Enabled)},
		{KeyDingTalkAccessToken, n.DingTalk.AccessToken},
		{KeyDingTalkSecret, n.DingTalk.Secret},
		{KeyDingTalkAPIURL, n.DingTalk.APIURL},
		{KeyFeishuEnabled, strconv.FormatBool(n.Feishu.Enabled)},
		{KeyFeishuWebhookURL, n.Feishu.WebhookURL},
		{KeyFeishuSecret, n.Feishu.Secret},
		{KeyRedisEnabled, strconv.FormatBool(n.Redis.Enabled)},
		{KeyRedisAddr, n.Redis.Addr},
		{KeyRedisPassword, n.Redis.Password},
		{KeyRedisChannel, n.Redis.Channel},
	}
	for _, p := range pairs {
		if err := kv.SetConfig(ctx, p.k, p.v); err != nil {
			return fmt.Errorf("save %s: %w", p.k, err)
		}
	}
	return nil
}

// Save writes the retention keys.
func (s System) Save(ctx context.Context, kv storage.KV) error {
	if s.MaxLogsCount < 0 {
		return fmt.Errorf("%s must be >= 0, got %d", KeyMaxLogsCount, s.MaxLogsCount)
	}
	if err := kv.SetConfig(ctx, KeyAutoCleanLogs, strconv.FormatBool(s.AutoCleanLogs)); err != nil {
		return fmt.Errorf("save %s: %w", KeyAutoCleanLogs, err)
	}
	if err := kv.SetConfig(ctx, KeyMaxLogsCount, strconv.Itoa(s.MaxLogsCount)); err != nil {
		return fmt.Errorf("save %s: %w", KeyMaxLogsCount, err)
	}
	return nil
}
