// Package loop implements the apply context: a single goroutine that runs
// posted callbacks one at a time, in submission order. Components that own
// mutable state confine it to a Loop and hop back onto it from workers.
package loop

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/RuiFG/trywait/common/executor"
	"github.com/RuiFG/trywait/common/safe"
	"github.com/RuiFG/trywait/log"
	"github.com/eapache/queue"
	"github.com/pkg/errors"
)

var ErrStopped = errors.New("loop stopped")

type entry struct {
	ctx      context.Context
	executor *executor.Executor
}

type Loop struct {
	name       string
	logger     log.Logger
	ctx        context.Context
	cancelFunc context.CancelFunc

	mu      sync.Mutex
	pending *queue.Queue
	stopped bool
	started bool

	wakeup chan struct{}
	exited chan struct{}
	inLoop atomic.Bool
}

func New(name string) *Loop {
	ctx, cancelFunc := context.WithCancel(context.Background())
	return &Loop{
		name:       name,
		logger:     log.Named(name + ".loop"),
		ctx:        ctx,
		cancelFunc: cancelFunc,
		pending:    queue.New(),
		wakeup:     make(chan struct{}, 1),
		exited:     make(chan struct{}),
	}
}

func (l *Loop) Name() string {
	return l.name
}

// Start runs the loop on its own goroutine. Calling it twice is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	if l.started || l.stopped {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.mu.Unlock()
	go l.daemon()
}

// daemon drains the queue until Stop.
func (l *Loop) daemon() {
	defer close(l.exited)
	l.logger.Info("starting...")
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			l.logger.Info("stopped")
			return
		case <-l.wakeup:
			for l.ctx.Err() == nil {
				e, ok := l.poll()
				if !ok {
					break
				}
				l.execute(e)
			}
		}
	}
}

// Stop cancels everything still queued and waits for the loop goroutine to exit.
// It must not be called from the loop itself.
func (l *Loop) Stop() {
	l.cancelFunc()
	l.mu.Lock()
	started := l.started
	l.started = true
	l.mu.Unlock()
	if started {
		<-l.exited
		return
	}
	l.shutdown()
	close(l.exited)
}

// Invoke queues fn. The returned executor can be canceled until fn starts.
// fn is dropped if ctx is done by the time it reaches the head of the queue.
func (l *Loop) Invoke(ctx context.Context, fn func()) *executor.Executor {
	if ctx == nil {
		ctx = context.Background()
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return executor.Canceled()
	}
	e := executor.NewExecutor(fn)
	l.pending.Add(entry{ctx: ctx, executor: e})
	l.mu.Unlock()

	select {
	case l.wakeup <- struct{}{}:
	default:
	}
	return e
}

// Call runs fn on the loop and waits for it. It must not be called from the loop itself.
func (l *Loop) Call(fn func()) error {
	if !l.Invoke(context.Background(), fn).Wait(l.exited) {
		return ErrStopped
	}
	return nil
}

// InLoop reports whether the loop goroutine is currently running a callback.
// It is an assertion aid, not a goroutine identity check.
func (l *Loop) InLoop() bool {
	return l.inLoop.Load()
}

// Len is the number of queued callbacks.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending.Length()
}

func (l *Loop) Done() <-chan struct{} {
	return l.exited
}

func (l *Loop) poll() (entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending.Length() == 0 {
		return entry{}, false
	}
	return l.pending.Remove().(entry), true
}

func (l *Loop) execute(e entry) {
	if e.ctx.Err() != nil {
		e.executor.Cancel()
		return
	}
	l.inLoop.Store(true)
	defer l.inLoop.Store(false)
	if err := safe.Run(func() error {
		e.executor.Exec()
		return nil
	}); err != nil {
		l.logger.Errorw("callback panicked.", "err", err)
	}
}

func (l *Loop) shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	for l.pending.Length() > 0 {
		l.pending.Remove().(entry).executor.Cancel()
	}
}
