package scheduler

import "time"

// TaskID identifies a task within a Scheduler.
type TaskID uint64

// Callback is the user function invoked at each dispatch.
type Callback func()

// task is the Scheduler's internal bookkeeping for one registered callback.
// Immutable except for nextDeadline, which the dispatch loop advances.
type task struct {
	id           TaskID
	name         string
	period       time.Duration
	callback     Callback
	repeat       bool
	nextDeadline time.Time
}

// scheduleNextFrom advances a periodic task's deadline by one period from
// the given instant, guaranteeing bounded drift even if the prior callback
// overran its period.
func (t *task) scheduleNextFrom(now time.Time) {
	t.nextDeadline = now.Add(t.period)
}
