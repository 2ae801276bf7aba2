package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"acgo/internal/checkin"
	"acgo/internal/eventbus"
	"acgo/internal/notifier"
	"acgo/internal/retention"
	"acgo/internal/settings"
	"acgo/internal/storage"
	"acgo/internal/task/engine"
	"acgo/internal/task/scheduler"
	logx "acgo/pkg/logx"
)

type App struct {
	cfgm *ConfigManager
	sup  *Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine *engine.Service
	sched  *scheduler.Service
	notif  *notifier.Dispatcher
	runner *checkin.Runner
	ret    *retention.Job

	accounts *AccountService
}

// NewApp loads the config, opens storage, seeds the settings table and wires
// every service. Nothing runs in the background until Start.
// Option adjusts how NewApp builds the app.
type Option func(*options)

type options struct {
	logLevel string
}

// WithLogLevel overrides logging.level for this process. One-shot CLI
// commands use it to keep info logs off the terminal.
func WithLogLevel(level string) Option {
	return func(o *options) { o.logLevel = level }
}

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logCfg := mapLogConfig(cfg)
	if o.logLevel != "" {
		logCfg.Level = o.logLevel
	}
	logSvc, log := logx.New(logCfg)
	log = log.With(logx.String("comp", "app"))

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	ccfg, err := mapCheckinConfig(cfg)
	if err != nil {
		return nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	defaults, err := settings.DefaultsFromEnv()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := settings.Seed(context.Background(), store, defaults); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("seed settings: %w", err)
	}
	log.Debug("storage ready", logx.String("driver", store.Driver()))

	bus := eventbus.New()

	engineSvc := engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)
	notifSvc := notifier.New(ncfg, store, log.With(logx.String("comp", "notifier")), bus)
	runner := checkin.New(ccfg, store, notifSvc, log.With(logx.String("comp", "checkin")), bus)
	ret := retention.New(store, log.With(logx.String("comp", "retention")), bus)

	schedSvc := scheduler.New(mapSchedulerConfig(cfg), engineSvc,
		func(ctx context.Context, accountID int64) error {
			_, err := runner.Run(ctx, accountID, false)
			return err
		},
		func(ctx context.Context) error {
			_, err := ret.Run(ctx)
			return err
		},
		log.With(logx.String("comp", "scheduler")), bus)

	accounts := NewAccountService(store, schedSvc, runner, notifSvc, ret, log.With(logx.String("comp", "accounts")))

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		engine:   engineSvc,
		sched:    schedSvc,
		notif:    notifSvc,
		runner:   runner,
		ret:      ret,
		accounts: accounts,
	}, nil
}

func (a *App) Accounts() *AccountService { return a.accounts }

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Config() *Config { return a.cfgm.Get() }

// Location is the scheduler timezone of the current config.
func (a *App) Location() *time.Location {
	if tz := strings.TrimSpace(a.cfgm.Get().Scheduler.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.Local
}

func (a *App) Snapshot() Snapshot { return a.sched.Snapshot() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// validate rejects a hot-reloaded config the services could not apply.
func (a *App) validate(_ context.Context, cfg *Config) error {
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapCheckinConfig(cfg); err != nil {
		return err
	}
	_, err := mapStorageConfig(cfg)
	return err
}

// Start runs the engine and scheduler, installs a trigger per enabled
// account and begins watching the config file.
func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	if a.engine.Enabled() {
		a.engine.Start(a.sup.Context())
	}
	rep, err := a.accounts.Resync(ctx)
	if err != nil {
		return err
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}

	// Debug-level event log; components publish their own lifecycle events.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("accounts.resync", a.pollAccounts)

	a.log.Info("app started",
		logx.Int("installed", rep.Installed),
		logx.Int("failed", len(rep.Failed)),
		logx.Bool("scheduler", a.sched.Enabled()),
	)
	return nil
}

// Reload re-reads every account and rebuilds the triggers.
func (a *App) Reload(ctx context.Context) (ReloadReport, error) {
	return a.accounts.Resync(ctx)
}

// pollAccounts resyncs triggers when the accounts table changed underneath
// the daemon. The interval is re-read every round so hot reloads apply.
func (a *App) pollAccounts(ctx context.Context) {
	const idle = time.Minute
	for {
		every, err := parseDurationField("scheduler.resync_interval", a.cfgm.Get().Scheduler.ResyncInterval)
		if err != nil || every <= 0 {
			every = 0
		}
		wait := every
		if wait == 0 {
			wait = idle
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if every == 0 {
			continue
		}
		rep, changed, err := a.accounts.ResyncIfChanged(ctx)
		switch {
		case err != nil:
			a.log.Warn("account resync failed", logx.Err(err))
		case changed:
			a.log.Info("accounts changed; triggers rebuilt",
				logx.Int("installed", rep.Installed),
				logx.Int("failed", len(rep.Failed)),
			)
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *Config) {
	sections, attrs, restart := SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if engCfg, err := mapTaskEngineConfig(newCfg); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ctx, engCfg)
	}
	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}
	if ccfg, err := mapCheckinConfig(newCfg); err != nil {
		a.log.Warn("invalid checkin config; keeping previous", logx.Err(err))
	} else {
		a.runner.Apply(ccfg)
	}

	prevSched := a.sched.Enabled()
	a.sched.Apply(mapSchedulerConfig(newCfg))
	switch {
	case prevSched && !newCfg.Scheduler.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !prevSched && newCfg.Scheduler.Enabled:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts services down in dependency order, each step bounded so one
// component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline",
					logx.String("name", name),
					logx.Err(err),
					logx.Duration("took", time.Since(start)),
				)
			}()
		}
	}

	// Scheduler first so no new fire lands on a stopping engine.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// Close releases storage and log sinks of an app that was never started.
func (a *App) Close() error {
	err := a.store.Close()
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}
