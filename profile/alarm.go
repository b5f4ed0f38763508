package profile

import (
	"sync"
	"time"
)

// Alarm is a single-shot timeout bound to a SerialQueue. The expiry callback
// is posted onto the queue rather than fired inline, so it is serialized
// with every other handler. An Alarm holds at most one armed timer;
// scheduling always cancels the previous one.
type Alarm struct {
	q     *SerialQueue
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// NewAlarm creates an alarm bound to the given queue
func NewAlarm(q *SerialQueue) *Alarm {
	return &Alarm{q: q}
}

// Schedule arms the alarm. A previously armed timer is cancelled first.
func (a *Alarm) Schedule(d time.Duration, fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cancelLocked()
	a.gen++
	gen := a.gen
	a.q.addPendingAlarms(1)
	a.timer = time.AfterFunc(d, func() {
		a.expire(gen, fn)
	})
}

func (a *Alarm) expire(gen uint64, fn func()) {
	a.q.Post(func() {
		a.mu.Lock()
		if a.gen != gen || a.timer == nil {
			// Cancelled or rescheduled after the timer fired but before
			// this handler ran; the accounting was already settled
			a.mu.Unlock()
			return
		}
		a.timer = nil
		a.mu.Unlock()

		a.q.addPendingAlarms(-1)
		fn()
	})
}

// Cancel disarms the alarm if it is armed. Safe to call when idle.
func (a *Alarm) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelLocked()
}

func (a *Alarm) cancelLocked() {
	if a.timer == nil {
		return
	}
	a.timer.Stop()
	a.timer = nil
	a.q.addPendingAlarms(-1)
}

// Scheduled reports whether the alarm is currently armed
func (a *Alarm) Scheduled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timer != nil
}
