package engine

import (
	"context"
	"sync"
	"time"
)

// Config controls the worker pool that scheduled fires run on.
//
// Workers bounds how many check-in runs execute at once. A run that is
// sleeping between retries holds its worker, so Workers should comfortably
// exceed the number of accounts expected to be retrying at the same time.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout is used when Task.Timeout is 0. Zero means no timeout.
	DefaultTimeout time.Duration

	HistorySize int
}

type OverlapPolicy int

const (
	// OverlapAllow lets a task run while a previous run of the same name is
	// still in flight.
	OverlapAllow OverlapPolicy = iota
	// OverlapSkipIfRunning drops a fire when the previous one is queued or running.
	OverlapSkipIfRunning
)

// RunState tracks whether a task is already queued or in flight.
type RunState struct {
	mu       sync.Mutex
	inflight int
}

func (s *RunState) tryAcquire() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *RunState) release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

type HistoryItem struct {
	ID         string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

// TaskEvent is published on the event bus for task lifecycle events.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Task is a unit of work executed by the engine. State is required for
// OverlapSkipIfRunning; the engine keeps one per name when it is nil.
// NoTimeout as Task.Timeout runs the task without a deadline, ignoring
// Config.DefaultTimeout.
const NoTimeout time.Duration = -1

type Task struct {
	ID   string
	Name string
	// Timeout bounds one run. Zero uses Config.DefaultTimeout.
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Overlap OverlapPolicy
	State   *RunState
}

type Snapshot struct {
	Enabled  bool
	Workers  int
	InFlight int
	QueueLen int
	QueueCap int

	Dropped        uint64
	DefaultTimeout time.Duration

	History []HistoryItem
}
