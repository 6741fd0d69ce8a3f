package await

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/RuiFG/trywait/common/safe"
	"github.com/RuiFG/trywait/common/status"
	"github.com/RuiFG/trywait/common/tracing"
	"github.com/RuiFG/trywait/indicator"
	"github.com/RuiFG/trywait/log"
	"github.com/benbjohnson/clock"
	"github.com/bwmarrin/snowflake"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Executor keeps at most one active run. Run and Cancel must be called from
// the same owner context, normally the loop the Applier posts to.
type Executor struct {
	logger     log.Logger
	dispatcher Dispatcher
	ownedPool  *poolDispatcher
	applier    Applier
	clock      clock.Clock
	node       *snowflake.Node
	metrics    *metrics
	ownerCheck func() bool

	current    atomic.Pointer[Handle]
	generation atomic.Uint64
}

func New(applier Applier, options Options) (*Executor, error) {
	if applier == nil {
		return nil, errors.New("applier is required")
	}
	options.defaults()
	node, err := snowflake.NewNode(options.NodeID)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create run id node")
	}
	e := &Executor{
		logger:     options.Logger,
		dispatcher: options.Dispatcher,
		applier:    applier,
		clock:      options.Clock,
		node:       node,
		metrics:    newMetrics(options.Scope),
		ownerCheck: options.OwnerCheck,
	}
	if e.dispatcher == nil {
		e.ownedPool = newPoolDispatcher(options.Workers)
		e.dispatcher = e.ownedPool
	}
	return e, nil
}

// Run starts task and blocks for at most grace.
//
// If the task's result is ready within grace it is applied on the calling
// goroutine before Run returns. Otherwise onGracePeriodExpired (may be nil)
// is called and the result is applied later through the Applier, under the
// ctx captured here. With inline set the task runs on the caller and no
// worker is used. Starting a run cancels the previous one.
func (e *Executor) Run(ctx context.Context, task Task, onGracePeriodExpired func(), grace time.Duration, inline bool) *Handle {
	e.assertOwner("Run")
	if ctx == nil {
		ctx = context.Background()
	}
	if grace < 0 {
		grace = 0
	}
	ctx, span := tracing.StartSpan(ctx, "await.Run", trace.WithAttributes(
		attribute.Int64("grace_ms", grace.Milliseconds()),
		attribute.Bool("inline", inline),
	))
	defer span.End()

	h := e.restart()
	logger := e.logger.With("run", h.id.String(), "generation", h.generation)
	e.metrics.runs.Inc(1)
	status.CAP(&h.status, status.Created, status.Running)

	if inline {
		e.metrics.inlineRuns.Inc(1)
		result, ok := e.compute(h, task, logger)
		close(h.finished)
		if ok {
			e.apply(h, result, status.FastApplied, logger)
		}
		return h
	}

	if err := e.dispatcher.Go(func() {
		e.work(ctx, h, task, logger)
	}); err != nil {
		logger.Errorw("failed to dispatch task.", "err", err)
		h.Indicator.Cancel()
		if status.Cancel(&h.status) {
			e.metrics.canceled.Inc(1)
		}
		close(h.finished)
		return h
	}

	if grace > 0 {
		timer := e.clock.Timer(grace)
		select {
		case <-h.finished:
		case <-timer.C:
		}
		timer.Stop()
	}

	if h.slot.CompareAndSwap(nil, tooSlow) {
		if status.CAP(&h.status, status.Running, status.SlowScheduled) {
			e.metrics.slowPath.Inc(1)
		}
		span.SetAttributes(attribute.Bool("slow", true))
		logger.Debugw("grace period expired.", "grace", grace)
		if onGracePeriodExpired != nil && !h.Canceled() {
			onGracePeriodExpired()
		}
		return h
	}
	e.apply(h, h.slot.Load().result, status.FastApplied, logger)
	return h
}

// Cancel cancels the current run, if any.
func (e *Executor) Cancel() {
	e.assertOwner("Cancel")
	if h := e.current.Load(); h != nil {
		h.Cancel()
	}
}

// Current returns the handle of the latest run, nil before the first one.
func (e *Executor) Current() *Handle {
	return e.current.Load()
}

// Close cancels the current run and stops the pool the Executor created.
// A Dispatcher passed in through Options is left alone.
func (e *Executor) Close() error {
	if h := e.current.Load(); h != nil {
		h.Indicator.Cancel()
		status.Cancel(&h.status)
	}
	if e.ownedPool != nil {
		e.ownedPool.Stop()
	}
	return nil
}

func (e *Executor) restart() *Handle {
	if previous := e.current.Load(); previous != nil {
		if previous.Pending() {
			e.metrics.superseded.Inc(1)
		}
		previous.Indicator.Cancel()
		if status.Cancel(&previous.status) {
			e.metrics.canceled.Inc(1)
		}
	}
	h := newHandle(e, e.node.Generate(), e.generation.Add(1))
	e.current.Store(h)
	return h
}

func (e *Executor) work(ctx context.Context, h *Handle, task Task, logger log.Logger) {
	defer close(h.finished)
	_, span := tracing.StartSpan(ctx, "await.task")
	defer span.End()

	result, ok := e.compute(h, task, logger)
	if !ok {
		return
	}
	if h.Canceled() {
		if status.Cancel(&h.status) {
			e.metrics.canceled.Inc(1)
		}
		return
	}
	if h.slot.CompareAndSwap(nil, &resultBox{result: result}) {
		return
	}
	if ctx.Err() != nil {
		h.Indicator.Cancel()
		if status.Cancel(&h.status) {
			e.metrics.canceled.Inc(1)
		}
		return
	}
	e.applier.Invoke(ctx, func() {
		e.apply(h, result, status.SlowApplied, logger)
	})
}

// compute runs the task and reports whether it produced something to apply.
func (e *Executor) compute(h *Handle, task Task, logger log.Logger) (Result, bool) {
	start := e.clock.Now()
	var result Result
	err := safe.Run(func() (err error) {
		result, err = task(h.Indicator)
		return err
	})
	e.metrics.taskLatency.Record(e.clock.Since(start))

	switch {
	case err == nil:
		if result == nil {
			result = func() {}
		}
		return result, true
	case indicator.IsCanceled(err):
		logger.Debugw("task canceled.")
		if status.Cancel(&h.status) {
			e.metrics.canceled.Inc(1)
		}
	default:
		logger.Errorw("task failed.", "err", err, "panic", safe.IsPanic(err))
		if status.Finish(&h.status, status.Failed) {
			e.metrics.failed.Inc(1)
		}
	}
	return nil, false
}

func (e *Executor) apply(h *Handle, result Result, to status.Status, logger log.Logger) {
	if h.generation != e.generation.Load() {
		h.Indicator.Cancel()
	}
	if h.Canceled() {
		if status.Cancel(&h.status) {
			e.metrics.canceled.Inc(1)
		}
		return
	}
	if !status.Finish(&h.status, to) {
		return
	}
	if to == status.FastApplied {
		e.metrics.fastPath.Inc(1)
	} else {
		e.metrics.slowApplied.Inc(1)
	}
	if err := safe.Run(func() error {
		result()
		return nil
	}); err != nil {
		logger.Errorw("failed to apply result.", "err", err)
	}
}

func (e *Executor) assertOwner(op string) {
	if e.ownerCheck != nil && !e.ownerCheck() {
		e.logger.DPanicw("called off the owner context.", "op", op)
	}
}
