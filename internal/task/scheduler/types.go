package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"acgo/internal/eventbus"
	"acgo/internal/task/engine"
	logx "acgo/pkg/logx"
)

// Config controls the trigger service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Shanghai"
	// RetentionAt is the daily HH:MM of the retention trigger. Default "03:00".
	RetentionAt string
}

// RunFunc executes one scheduled check-in for an account.
type RunFunc func(ctx context.Context, accountID int64) error

// Trigger is a resolved schedule: five cron fields and an optional jitter
// bound in seconds.
type Trigger struct {
	Cron   [5]string
	Jitter *int
}

const (
	kindAccount = "account"
	kindSystem  = "system"

	// RetentionName is the name of the daily retention trigger.
	RetentionName = "retention"
)

type scheduleDef struct {
	name      string
	kind      string
	accountID int64
	expr      string
	trigger   Trigger
	sched     cron.Schedule
	overlap   engine.OverlapPolicy
	timeout   time.Duration
	state     *engine.RunState
	job       func(ctx context.Context) error
	entryID   cron.EntryID
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	engine    *engine.Service
	run       RunFunc
	retention func(ctx context.Context) error

	c    *cron.Cron
	defs map[string]*scheduleDef

	// Pending jitter waits. Stop cancels them; Remove does not.
	tmu    sync.Mutex
	timers map[*time.Timer]struct{}

	rmu sync.Mutex
	rng *rand.Rand
	// delay picks the jitter wait for a bound; replaced in tests.
	delay func(max time.Duration) time.Duration

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name      string
	AccountID int64
	Expr      string
	Spec      string
	Jitter    *int
	Next      time.Time
	Prev      time.Time
}

type Snapshot struct {
	Enabled  bool
	Timezone string

	Workers  int
	InFlight int
	QueueLen int
	QueueCap int
	Dropped  uint64

	Schedules []ScheduleInfo
	History   []engine.HistoryItem
}

// ReloadReport summarizes a ReloadAll.
type ReloadReport struct {
	Installed int
	Skipped   int
	Failed    map[int64]error
}
