// Package scheduler implements a single-threaded, deadline-ordered
// cooperative executor for periodic and one-shot callbacks.
package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Scheduler dispatches registered tasks in deadline order from a single
// Run loop. All exported methods are safe to call concurrently; Run blocks
// the calling goroutine until Stop is called.
type Scheduler struct {
	clk clock.Clock

	mu     sync.Mutex
	cond   *sync.Cond
	tasks  map[TaskID]*task
	nextID TaskID
	stop   bool

	// generation is bumped on every add/cancel/stop so a pending
	// deadline-wait goroutine can tell a wakeup was due to new state
	// rather than its own timer firing.
	generation uint64

	onDispatch func()
}

// SetOnDispatch wires an optional hook invoked once per executed task, after
// it has been rescheduled/removed but before its callback runs. Intended
// for an external counter (e.g. a Prometheus metric); nil disables it.
func (s *Scheduler) SetOnDispatch(fn func()) {
	s.mu.Lock()
	s.onDispatch = fn
	s.mu.Unlock()
}

// New creates a Scheduler driven by the real wall clock.
func New() *Scheduler {
	return NewWithClock(clock.New())
}

// NewWithClock creates a Scheduler driven by the given clock, letting tests
// substitute a clock.Mock for deterministic timing.
func NewWithClock(c clock.Clock) *Scheduler {
	s := &Scheduler{
		clk:   c,
		tasks: make(map[TaskID]*task),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// AddPeriodic registers a task that re-schedules itself period after each
// dispatch. Its first deadline is now, so it fires on the next Run
// iteration. period <= 0 degenerates to "run as soon as possible every
// cycle", per spec.
func (s *Scheduler) AddPeriodic(name string, period time.Duration, cb Callback) TaskID {
	return s.add(name, period, cb, true)
}

// AddOneShot registers a task that runs once at the next dispatch and is
// then removed.
func (s *Scheduler) AddOneShot(name string, cb Callback) TaskID {
	return s.add(name, 0, cb, false)
}

// Cancel removes a task if present. Safe to call from within a running
// task's own callback or from any other goroutine.
func (s *Scheduler) Cancel(id TaskID) {
	s.mu.Lock()
	delete(s.tasks, id)
	s.generation++
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Run blocks until Stop is called, dispatching ready tasks in deadline
// order as described in spec §4.4.
func (s *Scheduler) Run() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.stop {
		if len(s.tasks) == 0 {
			for len(s.tasks) == 0 && !s.stop {
				s.cond.Wait()
			}
			continue
		}

		now := s.clk.Now()
		ready := s.findNextReadyLocked(now)
		if ready == nil {
			s.waitUntilLocked(s.findEarliestDeadlineLocked())
			continue
		}

		if ready.repeat {
			ready.scheduleNextFrom(now)
		} else {
			delete(s.tasks, ready.id)
		}
		onDispatch := s.onDispatch

		s.mu.Unlock()
		if onDispatch != nil {
			onDispatch()
		}
		ready.callback()
		s.mu.Lock()
	}
}

// Stop signals Run to exit at its next wakeup. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stop = true
	s.generation++
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *Scheduler) add(name string, period time.Duration, cb Callback, repeat bool) TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	s.tasks[id] = &task{
		id:           id,
		name:         name,
		period:       period,
		callback:     cb,
		repeat:       repeat,
		nextDeadline: s.clk.Now(),
	}
	s.generation++
	s.cond.Broadcast()
	return id
}

// findNextReadyLocked returns the task with the earliest deadline that is
// <= now, tie-broken by the smallest TaskID. Must be called with mu held.
func (s *Scheduler) findNextReadyLocked(now time.Time) *task {
	var best *task
	ids := make([]TaskID, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		t := s.tasks[id]
		if t.nextDeadline.After(now) {
			continue
		}
		if best == nil || t.nextDeadline.Before(best.nextDeadline) {
			best = t
		}
	}
	return best
}

// findEarliestDeadlineLocked returns the smallest nextDeadline across all
// tasks. Must be called with mu held and at least one task present.
func (s *Scheduler) findEarliestDeadlineLocked() time.Time {
	var earliest time.Time
	first := true
	for _, t := range s.tasks {
		if first || t.nextDeadline.Before(earliest) {
			earliest = t.nextDeadline
			first = false
		}
	}
	return earliest
}

// waitUntilLocked blocks until the given deadline elapses on the
// Scheduler's clock, or until a concurrent Cancel/add/Stop changes state —
// whichever comes first. Must be called with mu held; re-acquires mu
// before returning.
func (s *Scheduler) waitUntilLocked(deadline time.Time) {
	startGen := s.generation
	d := deadline.Sub(s.clk.Now())
	if d < 0 {
		d = 0
	}

	timer := s.clk.Timer(d)
	defer timer.Stop()

	fired := make(chan struct{})
	go func() {
		<-timer.C
		s.mu.Lock()
		close(fired)
		s.mu.Unlock()
		s.cond.Broadcast()
	}()

	for s.generation == startGen && !s.stop {
		select {
		case <-fired:
			return
		default:
		}
		s.cond.Wait()
	}
}
