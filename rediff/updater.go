// Package rediff keeps word-level differences of a set of changes up to date.
// Comparisons run on workers through an await.Executor; results are applied
// on the owning loop, synchronously when they are fast enough.
package rediff

import (
	"context"
	"time"

	"github.com/RuiFG/trywait/await"
	"github.com/RuiFG/trywait/indicator"
	"github.com/RuiFG/trywait/log"
	"github.com/RuiFG/trywait/loop"
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// maxCached bounds the fingerprint cache; it is dropped wholesale when full.
const maxCached = 1024

type Options struct {
	Loop     *loop.Loop
	Executor *await.Executor
	Clock    clock.Clock
	Logger   log.Logger
	Enabled  bool
	// Debounce delays the rediff of scheduled changes.
	Debounce time.Duration
	// Postpone is the grace period of a rebuild.
	Postpone time.Duration
	// OnBusy is called on the loop whenever the busy state flips.
	OnBusy func(busy bool)
}

type chunk struct {
	left        string
	right       string
	fingerprint uint64
	cached      []Fragment
	hit         bool
}

// Updater must only be used from its loop, except for New and Dispose.
type Updater struct {
	ctx        context.Context
	cancelFunc context.CancelFunc
	loop       *loop.Loop
	executor   *await.Executor
	clock      clock.Clock
	logger     log.Logger
	debounce   time.Duration
	postpone   time.Duration
	onBusy     func(bool)
	compare    func(*indicator.Indicator, string, string) ([]Fragment, error)

	enabled      bool
	busy         bool
	all          []*Change
	scheduled    []*Change
	scheduledSet map[*Change]struct{}
	progress     *await.Handle
	alarm        *clock.Timer
	alarmVersion uint64
	cache        map[uint64][]Fragment
}

func New(options Options) (*Updater, error) {
	if options.Loop == nil || options.Executor == nil {
		return nil, errors.New("loop and executor are required")
	}
	if options.Clock == nil {
		options.Clock = clock.New()
	}
	if options.Logger == nil {
		options.Logger = log.Named(options.Loop.Name() + ".rediff")
	}
	ctx, cancelFunc := context.WithCancel(context.Background())
	return &Updater{
		ctx:          ctx,
		cancelFunc:   cancelFunc,
		loop:         options.Loop,
		executor:     options.Executor,
		clock:        options.Clock,
		logger:       options.Logger,
		debounce:     options.Debounce,
		postpone:     options.Postpone,
		onBusy:       options.OnBusy,
		compare:      Compare,
		enabled:      options.Enabled,
		scheduledSet: map[*Change]struct{}{},
		cache:        map[uint64][]Fragment{},
	}, nil
}

func (u *Updater) Enabled() bool {
	return u.enabled
}

func (u *Updater) Busy() bool {
	return u.busy
}

func (u *Updater) Changes() []*Change {
	return u.all
}

// SetChanges replaces the tracked changes and rebuilds everything.
func (u *Updater) SetChanges(changes []*Change) {
	u.all = append([]*Change(nil), changes...)
	u.Rebuild()
}

// SetEnabled rebuilds only when the setting actually flips.
func (u *Updater) SetEnabled(enabled bool) {
	if u.enabled == enabled {
		return
	}
	u.enabled = enabled
	u.Rebuild()
}

// Rebuild recomputes every unresolved change, trying to finish within the postpone period.
func (u *Updater) Rebuild() {
	u.cancelProgress()

	if u.enabled {
		u.put(u.all)
		u.launch(true)
		return
	}
	u.setBusy(false)
	u.clearScheduled()
	for _, change := range u.all {
		change.clearFragments()
	}
}

func (u *Updater) Disable() {
	u.enabled = false
	u.Stop()
}

// Stop drops running and scheduled work but keeps computed fragments.
func (u *Updater) Stop() {
	u.cancelProgress()
	u.clearScheduled()
	u.stopAlarm()
	u.setBusy(false)
}

// Schedule queues changes for a debounced rediff.
func (u *Updater) Schedule(changes ...*Change) {
	if !u.enabled {
		return
	}
	u.put(changes)
	u.schedule()
}

// Dispose stops the updater; results still queued on the loop are dropped.
func (u *Updater) Dispose() {
	u.cancelFunc()
	_ = u.loop.Call(u.Stop)
}

func (u *Updater) cancelProgress() {
	if u.progress != nil {
		u.progress.Cancel()
	}
	u.progress = nil
}

func (u *Updater) put(changes []*Change) {
	for _, change := range changes {
		if change.resolved {
			continue
		}
		if _, ok := u.scheduledSet[change]; ok {
			continue
		}
		u.scheduledSet[change] = struct{}{}
		u.scheduled = append(u.scheduled, change)
	}
}

func (u *Updater) clearScheduled() {
	u.scheduled = nil
	u.scheduledSet = map[*Change]struct{}{}
}

func (u *Updater) schedule() {
	if u.progress != nil || len(u.scheduled) == 0 {
		return
	}
	u.stopAlarm()
	u.alarmVersion++
	version := u.alarmVersion
	u.alarm = u.clock.AfterFunc(u.debounce, func() {
		u.loop.Invoke(u.ctx, func() {
			if version != u.alarmVersion {
				return
			}
			u.alarm = nil
			if u.progress != nil || len(u.scheduled) == 0 {
				return
			}
			u.launch(false)
		})
	})
}

func (u *Updater) stopAlarm() {
	if u.alarm != nil {
		u.alarm.Stop()
		u.alarm = nil
	}
	u.alarmVersion++
}

// launch takes everything scheduled, so a pending alarm has nothing left to do.
func (u *Updater) launch(trySync bool) {
	u.stopAlarm()
	u.setBusy(true)

	scheduled := u.scheduled
	u.clearScheduled()
	data := make([]chunk, len(scheduled))
	for i, change := range scheduled {
		fingerprint := change.fingerprint()
		cached, hit := u.cache[fingerprint]
		data[i] = chunk{left: change.left, right: change.right, fingerprint: fingerprint, cached: cached, hit: hit}
	}

	var grace time.Duration
	if trySync {
		grace = u.postpone
	}
	handle := u.executor.Run(u.ctx, func(ind *indicator.Indicator) (await.Result, error) {
		return u.perform(ind, scheduled, data)
	}, nil, grace, false)

	if handle.Pending() {
		u.progress = handle
	}
}

// perform runs on a worker and must only read its arguments.
func (u *Updater) perform(ind *indicator.Indicator, scheduled []*Change, data []chunk) (await.Result, error) {
	results := make([][]Fragment, len(data))
	for i, d := range data {
		if d.hit {
			results[i] = d.cached
			continue
		}
		fragments, err := u.compare(ind, d.left, d.right)
		if err != nil {
			return nil, err
		}
		results[i] = fragments
	}

	return func() {
		if !u.enabled || ind.Canceled() {
			return
		}
		u.progress = nil

		if len(u.cache)+len(data) > maxCached {
			u.cache = map[uint64][]Fragment{}
		}
		for i, change := range scheduled {
			if _, ok := u.scheduledSet[change]; ok {
				continue
			}
			change.setFragments(results[i])
			u.cache[data[i].fingerprint] = results[i]
		}

		u.setBusy(false)
		if len(u.scheduled) > 0 {
			u.launch(false)
		}
	}, nil
}

func (u *Updater) setBusy(busy bool) {
	if u.busy == busy {
		return
	}
	u.busy = busy
	if u.onBusy != nil {
		u.onBusy(busy)
	}
}
