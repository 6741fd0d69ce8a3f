package await

import (
	"sync/atomic"

	"github.com/RuiFG/trywait/log"
	"github.com/alitto/pond/v2"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/uber-go/tally/v4"
)

var ErrDispatcherStopped = errors.New("dispatcher stopped")

type Options struct {
	Name string
	// Workers bounds the pool built when Dispatcher is nil; 0 means unbounded.
	Workers    int
	Dispatcher Dispatcher
	// Clock times the grace period, a mock may replace it in tests.
	Clock  clock.Clock
	Scope  tally.Scope
	Logger log.Logger
	// NodeID seeds run ids, 0..1023.
	NodeID int64
	// OwnerCheck reports whether the caller runs on the owner context.
	OwnerCheck func() bool
}

func (o *Options) defaults() {
	if o.Name == "" {
		o.Name = "trywait"
	}
	if o.Workers < 0 {
		o.Workers = 0
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Scope == nil {
		o.Scope = tally.NoopScope
	}
	if o.Logger == nil {
		o.Logger = log.Named(o.Name + ".await")
	}
	if o.NodeID == 0 {
		o.NodeID = 1
	}
}

// poolDispatcher submits to a pond pool owned by the Executor.
type poolDispatcher struct {
	pool    pond.Pool
	stopped atomic.Bool
}

func newPoolDispatcher(workers int) *poolDispatcher {
	return &poolDispatcher{pool: pond.NewPool(workers)}
}

func (d *poolDispatcher) Go(fn func()) error {
	if d.stopped.Load() {
		return ErrDispatcherStopped
	}
	d.pool.Submit(fn)
	return nil
}

func (d *poolDispatcher) Stop() {
	if d.stopped.CompareAndSwap(false, true) {
		d.pool.StopAndWait()
	}
}
