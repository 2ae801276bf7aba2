package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"acgo/internal/storage"
	"acgo/internal/task/engine"
	logx "acgo/pkg/logx"
)

// JobName is the registry key of an account trigger.
func JobName(accountID int64) string { return "account_" + strconv.FormatInt(accountID, 10) }

// Install resolves expr and replaces the account's trigger. On any error the
// existing trigger, if there is one, is left untouched.
func (s *Service) Install(accountID int64, expr string) error {
	trig, sched, err := parseTrigger(expr)
	if err != nil {
		return err
	}
	name := JobName(accountID)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Upsert by name: at most one live trigger per account.
	s.unregisterLocked(name)
	// No engine deadline: the check-in bounds its own attempts and retries.
	d := &scheduleDef{
		name:      name,
		kind:      kindAccount,
		accountID: accountID,
		expr:      expr,
		trigger:   trig,
		sched:     sched,
		overlap:   engine.OverlapAllow,
		timeout:   engine.NoTimeout,
		job:       s.accountJob(accountID),
	}
	s.defs[name] = d
	s.registerLocked(d)

	args := []logx.Field{logx.Int64("account", accountID), logx.String("spec", Spec(trig.Cron))}
	if trig.Jitter != nil {
		args = append(args, logx.Int("jitter_s", *trig.Jitter))
	}
	s.log.Info("account trigger installed", args...)
	return nil
}

func (s *Service) accountJob(accountID int64) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if s.run == nil {
			return errors.New("no runner configured")
		}
		return s.run(ctx, accountID)
	}
}

// Remove drops the account's trigger. Removing an absent trigger is a no-op.
// Runs already in flight, including pending jitter waits, continue.
func (s *Service) Remove(accountID int64) {
	name := JobName(accountID)
	s.mu.Lock()
	removed := s.unregisterLocked(name)
	s.mu.Unlock()
	if removed {
		s.log.Info("account trigger removed", logx.Int64("account", accountID))
	}
}

// Installed reports the trigger for an account, if any.
func (s *Service) Installed(accountID int64) (Trigger, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[JobName(accountID)]
	if !ok {
		return Trigger{}, false
	}
	return d.trigger, true
}

// ReloadAll drops every account trigger and installs one per enabled
// account. A bad schedule is logged and reported; it never stops the others.
// The retention trigger is kept.
func (s *Service) ReloadAll(accounts []storage.Account) ReloadReport {
	s.mu.Lock()
	for name, d := range s.defs {
		if d.kind == kindAccount {
			s.unregisterLocked(name)
		}
	}
	s.mu.Unlock()

	rep := ReloadReport{Failed: map[int64]error{}}
	for _, a := range accounts {
		if !a.Enabled {
			rep.Skipped++
			continue
		}
		if err := s.Install(a.ID, a.CronExpr); err != nil {
			rep.Failed[a.ID] = err
			s.log.Error("account trigger install failed",
				logx.Int64("account", a.ID),
				logx.String("name", a.Name),
				logx.String("expr", a.CronExpr),
				logx.Err(err),
			)
			continue
		}
		rep.Installed++
	}
	s.log.Info("account triggers reloaded",
		logx.Int("installed", rep.Installed),
		logx.Int("skipped", rep.Skipped),
		logx.Int("failed", len(rep.Failed)),
	)
	return rep
}

// installRetentionLocked (re)installs the daily retention trigger.
func (s *Service) installRetentionLocked() error {
	at := s.cfg.RetentionAt
	if at == "" {
		at = "03:00"
	}
	h, m, err := parseHHMM(at)
	if err != nil {
		return err
	}
	trig, sched, err := parseTrigger(fmt.Sprintf("%d %d * * *", m, h))
	if err != nil {
		return err
	}

	retention := s.retention
	job := func(ctx context.Context) error {
		if retention == nil {
			return nil
		}
		return retention(ctx)
	}

	var state *engine.RunState
	if old, ok := s.defs[RetentionName]; ok {
		state = old.state
	} else {
		state = &engine.RunState{}
	}
	s.unregisterLocked(RetentionName)
	d := &scheduleDef{
		name:    RetentionName,
		kind:    kindSystem,
		expr:    at,
		trigger: trig,
		sched:   sched,
		overlap: engine.OverlapSkipIfRunning,
		state:   state,
		job:     job,
	}
	s.defs[RetentionName] = d
	s.registerLocked(d)
	return nil
}

// Snapshot lists installed triggers with their next fire times, sorted by name.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Timezone: s.cfg.Timezone}
	if snap.Timezone == "" && s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	for _, d := range s.defs {
		it := ScheduleInfo{
			Name:      d.name,
			AccountID: d.accountID,
			Expr:      d.expr,
			Spec:      Spec(d.trigger.Cron),
			Jitter:    d.trigger.Jitter,
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	eng := s.engine
	s.mu.Unlock()

	sort.Slice(snap.Schedules, func(i, j int) bool { return snap.Schedules[i].Name < snap.Schedules[j].Name })

	if eng != nil {
		es := eng.Snapshot()
		snap.Workers = es.Workers
		snap.InFlight = es.InFlight
		snap.QueueLen = es.QueueLen
		snap.QueueCap = es.QueueCap
		snap.Dropped = es.Dropped
		snap.History = es.History
	}
	return snap
}

// entries counts live cron entries. Tests use it to check for duplicates.
func (s *Service) entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return 0
	}
	return len(s.c.Entries())
}
