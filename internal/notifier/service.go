package notifier

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"acgo/internal/eventbus"
	"acgo/internal/settings"
	"acgo/internal/storage"
	logx "acgo/pkg/logx"

	"golang.org/x/time/rate"
)

type sendFunc func(d *Dispatcher, ctx context.Context, n settings.Notification, ev Event) error

type channel struct {
	name    string
	enabled func(n settings.Notification) bool
	send    sendFunc
}

var channels = []channel{
	{ChannelWebhook, func(n settings.Notification) bool { return n.Webhook.Enabled }, (*Dispatcher).sendWebhook},
	{ChannelTelegram, func(n settings.Notification) bool { return n.Telegram.Enabled }, (*Dispatcher).sendTelegram},
	{ChannelDingTalk, func(n settings.Notification) bool { return n.DingTalk.Enabled }, (*Dispatcher).sendDingTalk},
	{ChannelWeCom, func(n settings.Notification) bool { return n.WeCom.Enabled }, (*Dispatcher).sendWeCom},
	{ChannelFeishu, func(n settings.Notification) bool { return n.Feishu.Enabled }, (*Dispatcher).sendFeishu},
	{ChannelRedis, func(n settings.Notification) bool { return n.Redis.Enabled }, (*Dispatcher).sendRedis},
}

// Channels lists the channel names in fanout order.
func Channels() []string {
	out := make([]string, 0, len(channels))
	for _, c := range channels {
		out = append(out, c.name)
	}
	return out
}

// Dispatcher fans one Event out to every enabled channel.
//
// It is safe for concurrent use.
type Dispatcher struct {
	kv  storage.KV
	log logx.Logger
	bus eventbus.Bus

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	http  *http.Client
	redis RedisDialer
	now   func() time.Time
}

type Option func(*Dispatcher)

// WithHTTPClient replaces the client used by HTTP channels.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.http = c
		}
	}
}

// WithRedisDialer replaces how the redis channel obtains a publisher.
func WithRedisDialer(fn RedisDialer) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.redis = fn
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func New(cfg Config, kv storage.KV, log logx.Logger, bus eventbus.Bus, opts ...Option) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		kv:    kv,
		log:   log,
		bus:   bus,
		http:  &http.Client{},
		redis: dialRedis,
		now:   time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	d.Apply(cfg)
	return d
}

func (d *Dispatcher) Apply(cfg Config) {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	d.mu.Lock()
	d.cfg = cfg
	// Token bucket: burst = rate per sec so one fanout is never throttled.
	d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	d.mu.Unlock()
}

func (d *Dispatcher) snapshot() (Config, *rate.Limiter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg, d.limiter
}

// Fanout sends ev to every enabled channel and waits for all of them.
// Settings are loaded fresh for each call.
func (d *Dispatcher) Fanout(ctx context.Context, ev Event) []Result {
	n, err := settings.LoadNotification(ctx, d.kv)
	if err != nil {
		d.log.Warn("notification settings unavailable", logx.Err(err))
		return nil
	}
	for _, k := range n.Warnings {
		d.log.Warn("malformed notification setting ignored", logx.String("key", k))
	}

	var active []channel
	for _, c := range channels {
		if c.enabled(n) {
			active = append(active, c)
		}
	}
	if len(active) == 0 {
		return nil
	}

	results := make([]Result, len(active))
	var wg sync.WaitGroup
	for i, c := range active {
		wg.Add(1)
		go func(i int, c channel) {
			defer wg.Done()
			results[i] = d.deliver(ctx, c, n, ev)
		}(i, c)
	}
	wg.Wait()
	return results
}

// Test sends a sample event to one channel using n, which need not be saved
// and whose enabled flag is ignored.
func (d *Dispatcher) Test(ctx context.Context, name string, n settings.Notification) Result {
	ev := Event{
		AccountName: "acgo",
		Status:      storage.StatusSuccess,
		Message:     "test notification",
	}
	for _, c := range channels {
		if c.name == name {
			return d.deliver(ctx, c, n, ev)
		}
	}
	return Result{Channel: name, Err: fmt.Errorf("%w: %q", ErrUnknownChannel, name), Error: fmt.Sprintf("unknown channel %q", name)}
}

func (d *Dispatcher) deliver(ctx context.Context, c channel, n settings.Notification, ev Event) (res Result) {
	cfg, lim := d.snapshot()
	start := d.now()
	res.Channel = c.name

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic: %v", r)
		}
		res.Duration = time.Since(start)
		if res.Err != nil {
			res.Error = res.Err.Error()
			d.log.Warn("notification failed",
				logx.String("channel", c.name),
				logx.String("account", ev.AccountName),
				logx.Err(res.Err),
			)
		} else {
			d.log.Debug("notification sent", logx.String("channel", c.name), logx.String("account", ev.AccountName))
		}
		d.publish(res, ev)
	}()

	cctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()
	if lim != nil {
		if err := lim.Wait(cctx); err != nil {
			res.Err = fmt.Errorf("rate limit: %w", err)
			return res
		}
	}
	res.Err = c.send(d, cctx, n, ev)
	return res
}

func (d *Dispatcher) publish(res Result, ev Event) {
	if d.bus == nil {
		return
	}
	typ := "notifier.sent"
	if res.Err != nil {
		typ = "notifier.failed"
	}
	now := d.now()
	d.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: NotificationEvent{
		Channel: res.Channel,
		Account: ev.AccountName,
		Status:  ev.Status,
		At:      now,
		Error:   res.Error,
	}})
}

// Text renders the chat-bot summary of ev.
func Text(ev Event) string {
	mark := "❌"
	if ev.Status == storage.StatusSuccess {
		mark = "✅"
	}
	s := mark + " " + ev.AccountName + "\n" + ev.Message
	if ev.Code != nil {
		s += fmt.Sprintf("\n(HTTP %d)", *ev.Code)
	}
	return s
}
