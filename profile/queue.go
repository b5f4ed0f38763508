// Package profile implements the GATT profile client engine: handle
// resolution, notification subscriptions, per-device sessions, and
// timeout-guarded segmented transfers. All state is owned by one serial
// processing queue; transport callbacks, alarm expiries and public API
// calls are marshalled onto it, so the engine itself needs no locking.
package profile

import (
	"sync"
	"sync/atomic"
)

// SerialQueue is the single processing context of the engine. Every handler
// posted to it runs to completion before the next one starts, on one
// dedicated goroutine.
type SerialQueue struct {
	tasks         chan func()
	stopOnce      sync.Once
	done          chan struct{}
	pendingAlarms int32
}

// NewSerialQueue creates a queue and starts its processing goroutine
func NewSerialQueue() *SerialQueue {
	q := &SerialQueue{
		tasks: make(chan func(), 64),
		done:  make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *SerialQueue) loop() {
	for task := range q.tasks {
		task()
	}
	close(q.done)
}

// Post schedules a handler onto the queue. Safe to call from any goroutine.
func (q *SerialQueue) Post(task func()) {
	defer func() {
		// A stopped queue drops late posts (e.g. an alarm racing Stop)
		recover()
	}()
	q.tasks <- task
}

// Sync runs a handler on the queue and waits for it to finish. Used by
// cross-context entry points that need a result.
func (q *SerialQueue) Sync(task func()) {
	doneC := make(chan struct{})
	q.Post(func() {
		defer close(doneC)
		task()
	})
	select {
	case <-doneC:
	case <-q.done:
		// Queue already stopped; the task was dropped
	}
}

// Stop drains the queue and stops the processing goroutine
func (q *SerialQueue) Stop() {
	q.stopOnce.Do(func() {
		close(q.tasks)
	})
	<-q.done
}

// PendingAlarms returns the number of armed alarms bound to this queue
func (q *SerialQueue) PendingAlarms() int {
	return int(atomic.LoadInt32(&q.pendingAlarms))
}

func (q *SerialQueue) addPendingAlarms(delta int32) {
	atomic.AddInt32(&q.pendingAlarms, delta)
}
