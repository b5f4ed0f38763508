package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrackerTimeoutLifecycle(t *testing.T) {
	q := NewSerialQueue()
	defer q.Stop()

	tracker := NewOperationTracker(q)
	assert.Equal(t, ModeNone, tracker.Mode())
	assert.Equal(t, TimeoutNone, tracker.TimeoutKind())

	fired := make(chan TimeoutKind, 1)
	tracker.ArmTimeout(TimeoutFirstSegment, 5*time.Millisecond, func(kind TimeoutKind) {
		fired <- kind
	})
	assert.Equal(t, TimeoutFirstSegment, tracker.TimeoutKind())
	assert.Equal(t, 1, q.PendingAlarms())

	select {
	case kind := <-fired:
		assert.Equal(t, TimeoutFirstSegment, kind)
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}

	q.Sync(func() {
		assert.Equal(t, TimeoutNone, tracker.TimeoutKind())
	})
	assert.Equal(t, 0, q.PendingAlarms())
}

func TestTrackerCancelTimeout(t *testing.T) {
	q := NewSerialQueue()
	defer q.Stop()

	tracker := NewOperationTracker(q)
	tracker.ArmTimeout(TimeoutDataReady, 10*time.Millisecond, func(TimeoutKind) {
		t.Error("cancelled timeout fired")
	})
	tracker.CancelTimeout()
	assert.Equal(t, TimeoutNone, tracker.TimeoutKind())
	assert.Equal(t, 0, q.PendingAlarms())

	time.Sleep(30 * time.Millisecond)
	q.Sync(func() {})
}

func TestTrackerRearmReplacesTimeout(t *testing.T) {
	q := NewSerialQueue()
	defer q.Stop()

	tracker := NewOperationTracker(q)
	tracker.ArmTimeout(TimeoutFirstSegment, 5*time.Millisecond, func(TimeoutKind) {
		t.Error("replaced timeout fired")
	})

	fired := make(chan TimeoutKind, 1)
	tracker.ArmTimeout(TimeoutFollowingSegment, 20*time.Millisecond, func(kind TimeoutKind) {
		fired <- kind
	})
	assert.Equal(t, 1, q.PendingAlarms())

	select {
	case kind := <-fired:
		assert.Equal(t, TimeoutFollowingSegment, kind)
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}
	q.Sync(func() {})
	assert.Equal(t, 0, q.PendingAlarms())
}

func TestTrackerReleaseLeavesNoAlarms(t *testing.T) {
	q := NewSerialQueue()
	defer q.Stop()

	tracker := NewOperationTracker(q)
	tracker.ArmTimeout(TimeoutFirstSegment, time.Hour, func(TimeoutKind) {})
	tracker.Release()
	assert.Equal(t, 0, q.PendingAlarms())
}

func TestTrackerReplyBatchAccounting(t *testing.T) {
	q := NewSerialQueue()
	defer q.Stop()
	tracker := NewOperationTracker(q)

	done, all := tracker.ReplyCompleted(true, 3)
	assert.False(t, done)
	done, all = tracker.ReplyCompleted(false, 3)
	assert.False(t, done)
	done, all = tracker.ReplyCompleted(true, 3)
	assert.True(t, done)
	assert.False(t, all)

	// Counters reset for the next batch
	done, all = tracker.ReplyCompleted(true, 1)
	assert.True(t, done)
	assert.True(t, all)
}

func TestTrackerBusyAndCounter(t *testing.T) {
	q := NewSerialQueue()
	defer q.Stop()
	tracker := NewOperationTracker(q)

	assert.False(t, tracker.Busy())
	tracker.SetBusy(true)
	assert.True(t, tracker.Busy())

	tracker.SetLatestCounter(0x0102)
	assert.Equal(t, uint16(0x0102), tracker.LatestCounter())
}
