// Package executor holds a callback that either runs once or is canceled,
// never both. Callbacks queued on a loop are wrapped in one so the producer
// can withdraw them until the loop picks them up.
package executor

import "sync/atomic"

type State uint32

const (
	StatePending State = iota
	StateExecuted
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateExecuted:
		return "executed"
	case StateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

type Executor struct {
	exec  func()
	state atomic.Uint32
	done  chan struct{}
}

func NewExecutor(exec func()) *Executor {
	return &Executor{
		exec: exec,
		done: make(chan struct{}),
	}
}

// Canceled returns an executor that will never run.
func Canceled() *Executor {
	e := NewExecutor(nil)
	e.Cancel()
	return e
}

func (e *Executor) State() State {
	return State(e.state.Load())
}

// Cancel wins only while the callback has not started.
func (e *Executor) Cancel() bool {
	if !e.state.CompareAndSwap(uint32(StatePending), uint32(StateCanceled)) {
		return false
	}
	close(e.done)
	return true
}

func (e *Executor) Canceled() bool {
	return e.State() == StateCanceled
}

func (e *Executor) Executed() bool {
	return e.State() == StateExecuted
}

// Exec runs the callback on the calling goroutine. A panic propagates to the
// caller after Done is closed.
func (e *Executor) Exec() bool {
	if !e.state.CompareAndSwap(uint32(StatePending), uint32(StateExecuted)) {
		return false
	}
	defer close(e.done)
	e.exec()
	return true
}

// Done is closed once the callback returned (or panicked) or was canceled.
func (e *Executor) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the executor settled or abort is closed, and reports
// whether the callback ran.
func (e *Executor) Wait(abort <-chan struct{}) bool {
	select {
	case <-e.done:
	case <-abort:
	}
	return e.Executed()
}
