package profile

import (
	"time"
)

// TransferMode is the segmented-transfer mode chosen once per session from
// the remote's feature bits and never changed until disconnect or a timeout
// gives the stream up.
type TransferMode int

const (
	ModeNone TransferMode = iota
	ModeRealTime
	ModeOnDemand
)

func (m TransferMode) String() string {
	switch m {
	case ModeRealTime:
		return "real-time"
	case ModeOnDemand:
		return "on-demand"
	default:
		return "none"
	}
}

// TimeoutKind describes what a tracker's armed alarm is currently awaiting
type TimeoutKind int

const (
	TimeoutNone TimeoutKind = iota
	TimeoutFirstSegment
	TimeoutFollowingSegment
	TimeoutDataReady
)

func (k TimeoutKind) String() string {
	switch k {
	case TimeoutFirstSegment:
		return "first segment"
	case TimeoutFollowingSegment:
		return "following segment"
	case TimeoutDataReady:
		return "data ready"
	default:
		return "none"
	}
}

// OperationTracker represents the one in-flight control-point or segmented
// data operation of a remote device. It owns exactly one timeout alarm;
// arming a new timeout always cancels the previous one.
type OperationTracker struct {
	alarm       *Alarm
	mode        TransferMode
	timeoutKind TimeoutKind

	// latestCounter is the most recent operation change counter announced
	// by the remote; acks compare against it to catch mid-transfer updates
	latestCounter uint16

	// busy is set while an on-demand get-data procedure is outstanding
	busy bool

	// Reply batch accounting. Individual write completions arrive in any
	// order; the batch-complete decision fires exactly once when the
	// running counter reaches the expected total.
	replyCounter        int
	replySuccessCounter int
}

// NewOperationTracker creates a tracker whose alarm posts to the given queue
func NewOperationTracker(q *SerialQueue) *OperationTracker {
	return &OperationTracker{alarm: NewAlarm(q)}
}

// Mode returns the current transfer mode
func (t *OperationTracker) Mode() TransferMode {
	return t.mode
}

// SetMode records the transfer mode chosen for this session
func (t *OperationTracker) SetMode(mode TransferMode) {
	t.mode = mode
}

// TimeoutKind returns what the armed alarm is awaiting
func (t *OperationTracker) TimeoutKind() TimeoutKind {
	return t.timeoutKind
}

// ArmTimeout starts (or restarts) the tracker's alarm for the given wait
func (t *OperationTracker) ArmTimeout(kind TimeoutKind, d time.Duration, onTimeout func(kind TimeoutKind)) {
	t.timeoutKind = kind
	t.alarm.Schedule(d, func() {
		expired := t.timeoutKind
		t.timeoutKind = TimeoutNone
		onTimeout(expired)
	})
}

// CancelTimeout disarms the alarm
func (t *OperationTracker) CancelTimeout() {
	t.timeoutKind = TimeoutNone
	t.alarm.Cancel()
}

// LatestCounter returns the most recent counter announced by the remote
func (t *OperationTracker) LatestCounter() uint16 {
	return t.latestCounter
}

// SetLatestCounter records a newly announced counter
func (t *OperationTracker) SetLatestCounter(counter uint16) {
	t.latestCounter = counter
}

// Busy reports whether an on-demand procedure is outstanding
func (t *OperationTracker) Busy() bool {
	return t.busy
}

// SetBusy marks or clears the outstanding on-demand procedure
func (t *OperationTracker) SetBusy(busy bool) {
	t.busy = busy
}

// ReplyCompleted accounts one write completion of a reply batch. When the
// running counter reaches total, it reports done along with whether every
// write in the batch succeeded, and resets the counters for the next batch.
func (t *OperationTracker) ReplyCompleted(success bool, total int) (done bool, allSucceeded bool) {
	t.replyCounter++
	if success {
		t.replySuccessCounter++
	}

	if t.replyCounter != total {
		return false, false
	}

	allSucceeded = t.replySuccessCounter == total
	t.replyCounter = 0
	t.replySuccessCounter = 0
	return true, allSucceeded
}

// Release cancels the alarm. Must run before the owning session is
// discarded so no expiry handler touches freed state.
func (t *OperationTracker) Release() {
	t.CancelTimeout()
}
