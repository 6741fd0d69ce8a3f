package status

import "sync/atomic"

// Status is the lifecycle of a single bounded-wait run.
//
//	Created -> Running -> FastApplied
//	                   -> SlowScheduled -> SlowApplied
//	                                    -> Canceled
//	                   -> Canceled
//	                   -> Failed
type Status int64

const (
	Created Status = iota
	Running
	FastApplied
	SlowScheduled
	SlowApplied
	Canceled
	Failed
)

func (s Status) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case FastApplied:
		return "fast_applied"
	case SlowScheduled:
		return "slow_scheduled"
	case SlowApplied:
		return "slow_applied"
	case Canceled:
		return "canceled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Pending reports whether a result may still be applied later.
func (s Status) Pending() bool {
	return s == Created || s == Running || s == SlowScheduled
}

func (s Status) Terminal() bool {
	return s == FastApplied || s == SlowApplied || s == Canceled || s == Failed
}

func CAP(statusPointer *Status, from, to Status) bool {
	return atomic.CompareAndSwapInt64((*int64)(statusPointer), int64(from), int64(to))
}

func Load(statusPointer *Status) Status {
	return Status(atomic.LoadInt64((*int64)(statusPointer)))
}

// Cancel moves any pending status to Canceled.
func Cancel(statusPointer *Status) bool {
	for {
		current := Load(statusPointer)
		if !current.Pending() {
			return false
		}
		if CAP(statusPointer, current, Canceled) {
			return true
		}
	}
}

// Finish moves a pending status to the terminal status to. Only one caller wins.
func Finish(statusPointer *Status, to Status) bool {
	for {
		current := Load(statusPointer)
		if !current.Pending() {
			return false
		}
		if CAP(statusPointer, current, to) {
			return true
		}
	}
}
