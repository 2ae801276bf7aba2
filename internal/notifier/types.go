package notifier

import (
	"errors"
	"time"
)

// Channel names accepted by Test.
const (
	ChannelWebhook  = "webhook"
	ChannelTelegram = "telegram"
	ChannelDingTalk = "dingtalk"
	ChannelWeCom    = "wecom"
	ChannelFeishu   = "feishu"
	ChannelRedis    = "redis"
)

var (
	ErrNotConfigured  = errors.New("channel not configured")
	ErrUnknownChannel = errors.New("unknown channel")
	ErrStatus         = errors.New("unexpected response status")
	ErrRejected       = errors.New("rejected by channel")
)

// Config controls the dispatcher.
type Config struct {
	SendTimeout time.Duration // per channel send; 0 means 10s
	RatePerSec  int           // shared send rate across channels; 0 means 5
}

// Event is one check-in outcome to announce.
type Event struct {
	AccountName string
	Status      string // success | failed
	Code        *int
	Message     string
	Body        string
}

// Result is the outcome of one channel send.
type Result struct {
	Channel  string        `json:"channel"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

func (r Result) OK() bool { return r.Err == nil }

// NotificationEvent is published on the event bus after every channel send.
type NotificationEvent struct {
	Channel string    `json:"channel"`
	Account string    `json:"account"`
	Status  string    `json:"status"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}
