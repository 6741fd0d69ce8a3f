// Package indicator provides the one-way cancellation flag shared between the
// goroutine that starts a background computation and the worker running it.
package indicator

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrCanceled is returned by tasks that noticed their indicator was canceled.
// It is control flow, not a failure, and is never logged as an error.
var ErrCanceled = errors.New("indicator canceled")

// Indicator transitions once from active to canceled and never back.
type Indicator struct {
	canceled atomic.Bool
	once     sync.Once
	done     chan struct{}
}

func New() *Indicator {
	return &Indicator{done: make(chan struct{})}
}

// Cancel is idempotent.
func (i *Indicator) Cancel() {
	i.once.Do(func() {
		i.canceled.Store(true)
		close(i.done)
	})
}

func (i *Indicator) Canceled() bool {
	return i.canceled.Load()
}

func (i *Indicator) Done() <-chan struct{} {
	return i.done
}

// CheckCanceled is the polling point for cooperative cancellation.
func (i *Indicator) CheckCanceled() error {
	if i.Canceled() {
		return ErrCanceled
	}
	return nil
}

// Context derives a context canceled together with the indicator.
func (i *Indicator) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-i.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// IsCanceled reports whether err is, or wraps, ErrCanceled or a context cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}
