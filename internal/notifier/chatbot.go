package notifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"acgo/internal/settings"

	tele "gopkg.in/telebot.v4"
)

// Sign returns base64(HMAC-SHA256(secret, "{timestamp}\n{secret}")), the
// scheme shared by DingTalk and Feishu robots.
func Sign(secret, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "\n" + secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (d *Dispatcher) sendDingTalk(ctx context.Context, n settings.Notification, ev Event) error {
	dt := n.DingTalk
	if dt.AccessToken == "" {
		return fmt.Errorf("%w: dingtalk_access_token is empty", ErrNotConfigured)
	}
	u := apiBase(dt.APIURL, settings.DefaultDingTalkAPIURL) + "/robot/send?access_token=" + url.QueryEscape(dt.AccessToken)
	if dt.Secret != "" {
		ts := strconv.FormatInt(d.now().UnixMilli(), 10)
		u += "&timestamp=" + ts + "&sign=" + url.QueryEscape(Sign(dt.Secret, ts))
	}
	return d.postBot(ctx, u, map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": Text(ev)},
	})
}

func (d *Dispatcher) sendWeCom(ctx context.Context, n settings.Notification, ev Event) error {
	wc := n.WeCom
	if wc.WebhookKey == "" {
		return fmt.Errorf("%w: wecom_webhook_key is empty", ErrNotConfigured)
	}
	u := apiBase(wc.APIURL, settings.DefaultWeComAPIURL) + "/cgi-bin/webhook/send?key=" + url.QueryEscape(wc.WebhookKey)
	return d.postBot(ctx, u, map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": Text(ev)},
	})
}

func (d *Dispatcher) sendFeishu(ctx context.Context, n settings.Notification, ev Event) error {
	fs := n.Feishu
	if fs.WebhookURL == "" {
		return fmt.Errorf("%w: feishu_webhook_url is empty", ErrNotConfigured)
	}
	body := map[string]any{
		"msg_type": "text",
		"content":  map[string]string{"text": Text(ev)},
	}
	if fs.Secret != "" {
		ts := strconv.FormatInt(d.now().Unix(), 10)
		body["timestamp"] = ts
		body["sign"] = Sign(fs.Secret, ts)
	}
	return d.postBot(ctx, fs.WebhookURL, body)
}

// botReply covers the DingTalk/WeCom (errcode) and Feishu (code) envelopes.
type botReply struct {
	ErrCode *int   `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
	Code    *int   `json:"code"`
	Msg     string `json:"msg"`
}

func (d *Dispatcher) postBot(ctx context.Context, u string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	body, err := d.do(req)
	if err != nil {
		return err
	}
	var r botReply
	if json.Unmarshal(body, &r) != nil {
		return nil
	}
	switch {
	case r.ErrCode != nil && *r.ErrCode != 0:
		return fmt.Errorf("%w: errcode %d: %s", ErrRejected, *r.ErrCode, r.ErrMsg)
	case r.Code != nil && *r.Code != 0:
		return fmt.Errorf("%w: code %d: %s", ErrRejected, *r.Code, r.Msg)
	}
	return nil
}

func apiBase(v, def string) string {
	v = strings.TrimRight(strings.TrimSpace(v), "/")
	if v == "" {
		return def
	}
	return v
}

// chatRecipient accepts numeric chat ids as well as @channel names.
type chatRecipient string

func (r chatRecipient) Recipient() string { return string(r) }

func (d *Dispatcher) sendTelegram(ctx context.Context, n settings.Notification, ev Event) error {
	tg := n.Telegram
	if tg.BotToken == "" || tg.UserID == "" {
		return fmt.Errorf("%w: telegram_bot_token and telegram_user_id are required", ErrNotConfigured)
	}

	// telebot has no per-call context; bound the client by the send deadline.
	client := *d.http
	if dl, ok := ctx.Deadline(); ok {
		client.Timeout = time.Until(dl)
	}
	bot, err := tele.NewBot(tele.Settings{
		URL:     apiBase(tg.APIURL, settings.DefaultTelegramAPIURL),
		Token:   tg.BotToken,
		Client:  &client,
		Offline: true,
	})
	if err != nil {
		return fmt.Errorf("telegram bot: %w", err)
	}
	_, err = bot.Send(chatRecipient(tg.UserID), html.EscapeString(Text(ev)), &tele.SendOptions{ParseMode: tele.ModeHTML})
	return err
}
