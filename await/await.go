// Package await runs a computation off the owner goroutine and waits a bounded
// grace period for it. A result that arrives in time is applied on the caller
// before Run returns; a late one is posted to an Applier. Either way it is
// applied at most once, and never after its handle was canceled or a newer
// run started on the same Executor.
package await

import (
	"context"
	"sync/atomic"

	"github.com/RuiFG/trywait/common/executor"
	"github.com/RuiFG/trywait/common/status"
	"github.com/RuiFG/trywait/indicator"
	"github.com/bwmarrin/snowflake"
)

// Result applies a computed outcome to state owned by the caller.
type Result func()

// Task computes off the owner goroutine and returns the Result to apply.
// Returning indicator.ErrCanceled (or panicking with it) means the task
// noticed cancellation; any other error is a failure.
type Task func(ind *indicator.Indicator) (Result, error)

// Dispatcher runs fn on some worker goroutine.
type Dispatcher interface {
	Go(fn func()) error
}

// Applier runs fn later on the owner context, unless ctx is done by then.
type Applier interface {
	Invoke(ctx context.Context, fn func()) *executor.Executor
}

type resultBox struct {
	result Result
}

// tooSlow marks the slot once the caller stopped waiting. Compared by identity only.
var tooSlow = &resultBox{}

// Handle is returned by Run and tracks a single run.
type Handle struct {
	*indicator.Indicator
	executor   *Executor
	id         snowflake.ID
	generation uint64
	status     status.Status
	slot       atomic.Pointer[resultBox]
	finished   chan struct{}
}

func newHandle(e *Executor, id snowflake.ID, generation uint64) *Handle {
	return &Handle{
		Indicator:  indicator.New(),
		executor:   e,
		id:         id,
		generation: generation,
		status:     status.Created,
		finished:   make(chan struct{}),
	}
}

func (h *Handle) ID() snowflake.ID {
	return h.id
}

func (h *Handle) Generation() uint64 {
	return h.generation
}

func (h *Handle) Status() status.Status {
	return status.Load(&h.status)
}

// Pending reports whether the result may still be applied.
func (h *Handle) Pending() bool {
	return !h.Canceled() && h.Status().Pending()
}

// Cancel is idempotent; canceling a finished run is a no-op.
func (h *Handle) Cancel() {
	h.executor.assertOwner("Cancel")
	h.Indicator.Cancel()
	if status.Cancel(&h.status) {
		h.executor.metrics.canceled.Inc(1)
	}
}

// Finished is closed once the task returned on its worker. Inline runs close it before Run returns.
func (h *Handle) Finished() <-chan struct{} {
	return h.finished
}
