package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"acgo/internal/eventbus"
	"acgo/internal/task/engine"
	logx "acgo/pkg/logx"
)

// New builds the trigger service. run executes account fires and retention
// the daily retention job; either may be nil.
func New(cfg Config, eng *engine.Service, run RunFunc, retention func(ctx context.Context) error, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:         cfg,
		log:         log,
		bus:         bus,
		engine:      eng,
		run:         run,
		retention:   retention,
		defs:        map[string]*scheduleDef{},
		timers:      map[*time.Timer]struct{}{},
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		lastEnqWarn: map[string]time.Time{},
	}
	s.delay = s.uniformDelay
	return s
}

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps the config. A timezone change restarts cron with every trigger
// re-registered; a retention time change reinstalls the retention trigger.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	oldAt := strings.TrimSpace(s.cfg.RetentionAt)
	s.cfg = cfg

	if s.c == nil {
		return
	}
	if oldAt != strings.TrimSpace(cfg.RetentionAt) {
		if err := s.installRetentionLocked(); err != nil {
			s.log.Error("retention trigger reinstall failed", logx.Err(err))
		}
	}
	if oldTZ != strings.TrimSpace(cfg.Timezone) {
		s.restartLocked()
	}
}

// Start installs the retention trigger and starts cron. Account triggers
// installed before Start are registered now.
func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}

	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithLocation(s.loc))
	if err := s.installRetentionLocked(); err != nil {
		s.log.Error("retention trigger install failed", logx.Err(err))
	}
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops triggering and abandons pending jitter waits. Runs already on
// the engine are not interrupted here.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.tmu.Lock()
	for t := range s.timers {
		t.Stop()
	}
	s.timers = map[*time.Timer]struct{}{}
	s.tmu.Unlock()

	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithLocation(s.loc))
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.c.Start()
	s.log.Info("service restarted", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// registerLocked adds d to the running cron. Call with s.mu held and s.c set.
func (s *Service) registerLocked(d *scheduleDef) {
	if s.c == nil {
		return
	}
	if d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	// Capture by value: d may be replaced in the registry while cron holds the job.
	name, jitter, job, overlap, timeout, state := d.name, d.trigger.Jitter, d.job, d.overlap, d.timeout, d.state
	d.entryID = s.c.Schedule(d.sched, cron.FuncJob(func() {
		s.fire(name, jitter, overlap, timeout, state, job)
	}))

	if s.log.Enabled(logx.LevelDebug) {
		s.log.Debug("schedule registered",
			logx.String("name", d.name),
			logx.String("spec", Spec(d.trigger.Cron)),
			logx.String("next", s.previewNextLocked(d.sched, 3)),
		)
	}
}

func (s *Service) unregisterLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

// fire is the cron callback. With a jitter bound the submit happens after a
// uniform random wait in [0, jitter] seconds; the wait is a timer, so it
// holds no engine worker.
func (s *Service) fire(name string, jitter *int, overlap engine.OverlapPolicy, timeout time.Duration, state *engine.RunState, job func(ctx context.Context) error) {
	submit := func() {
		s.submit(name, overlap, timeout, state, job)
	}
	if jitter == nil || *jitter <= 0 {
		submit()
		return
	}

	wait := s.delay(time.Duration(*jitter) * time.Second)
	s.log.Debug("schedule fire delayed", logx.String("name", name), logx.Duration("delay", wait))

	var t *time.Timer
	s.tmu.Lock()
	t = time.AfterFunc(wait, func() {
		s.tmu.Lock()
		_, live := s.timers[t]
		delete(s.timers, t)
		s.tmu.Unlock()
		if live {
			submit()
		}
	})
	s.timers[t] = struct{}{}
	s.tmu.Unlock()
}

func (s *Service) submit(name string, overlap engine.OverlapPolicy, timeout time.Duration, state *engine.RunState, job func(ctx context.Context) error) {
	if s.engine == nil {
		s.reportEnqueueError(name, fmt.Errorf("no task engine"))
		return
	}
	err := s.engine.Enqueue(engine.Task{
		Name:    name,
		Run:     job,
		Overlap: overlap,
		Timeout: timeout,
		State:   state,
	})
	if err != nil {
		s.reportEnqueueError(name, err)
	}
}

func (s *Service) uniformDelay(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	s.rmu.Lock()
	defer s.rmu.Unlock()
	return time.Duration(s.rng.Int63n(int64(max) + 1))
}

// previewNextLocked formats the next n fire times for debug logs.
func (s *Service) previewNextLocked(sched cron.Schedule, n int) string {
	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	t := time.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
