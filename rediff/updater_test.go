package rediff

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RuiFG/trywait/await"
	"github.com/RuiFG/trywait/common/status"
	"github.com/RuiFG/trywait/indicator"
	"github.com/RuiFG/trywait/log"
	"github.com/RuiFG/trywait/loop"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fixture struct {
	loop     *loop.Loop
	executor *await.Executor
	updater  *Updater
	logs     *observer.ObservedLogs

	mu       sync.Mutex
	busy     []bool
	compares int32
}

func newFixture(t *testing.T, options Options) *fixture {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := log.New(zap.New(core))
	f := &fixture{loop: loop.New(t.Name()), logs: logs}
	f.loop.Start()

	executor, err := await.New(f.loop, await.Options{Logger: logger, OwnerCheck: f.loop.InLoop})
	require.NoError(t, err)
	f.executor = executor

	options.Loop = f.loop
	options.Executor = executor
	options.Logger = logger
	options.OnBusy = func(busy bool) {
		f.mu.Lock()
		f.busy = append(f.busy, busy)
		f.mu.Unlock()
	}
	updater, err := New(options)
	require.NoError(t, err)
	f.updater = updater
	f.countCompares(Compare)

	t.Cleanup(func() {
		updater.Dispose()
		_ = executor.Close()
		f.loop.Stop()
		assert.Equal(t, 0, logs.FilterLevelExact(zapcore.DPanicLevel).Len(), "updater left its loop")
	})
	return f
}

func (f *fixture) countCompares(compare func(*indicator.Indicator, string, string) ([]Fragment, error)) {
	f.updater.compare = func(ind *indicator.Indicator, left, right string) ([]Fragment, error) {
		atomic.AddInt32(&f.compares, 1)
		return compare(ind, left, right)
	}
}

func (f *fixture) call(t *testing.T, fn func()) {
	require.NoError(t, f.loop.Call(fn))
}

func (f *fixture) fragments(t *testing.T, change *Change) ([]Fragment, bool) {
	var (
		fragments []Fragment
		computed  bool
	)
	f.call(t, func() { fragments, computed = change.Fragments() })
	return fragments, computed
}

func (f *fixture) busyHistory() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.busy...)
}

func TestUpdater_RebuildAppliesWithinPostpone(t *testing.T) {
	f := newFixture(t, Options{Enabled: true, Postpone: time.Second})
	first := NewChange("the quick brown fox", "the quick red fox")
	second := NewChange("a b", "a b c")

	var firstComputed, secondComputed, busy bool
	f.call(t, func() {
		f.updater.SetChanges([]*Change{first, second})
		_, firstComputed = first.Fragments()
		_, secondComputed = second.Fragments()
		busy = f.updater.Busy()
	})
	assert.True(t, firstComputed)
	assert.True(t, secondComputed)
	assert.False(t, busy)
	assert.Equal(t, []bool{true, false}, f.busyHistory())
}

func TestUpdater_ScheduleIsDebounced(t *testing.T) {
	mock := clock.NewMock()
	f := newFixture(t, Options{Enabled: true, Postpone: time.Second, Debounce: 300 * time.Millisecond, Clock: mock})
	change := NewChange("one two", "one two")
	f.call(t, func() { f.updater.SetChanges([]*Change{change}) })
	fragments, computed := f.fragments(t, change)
	require.True(t, computed)
	assert.Empty(t, fragments)

	f.call(t, func() {
		change.SetText("one two", "one three")
		f.updater.Schedule(change)
	})
	fragments, _ = f.fragments(t, change)
	assert.Empty(t, fragments)

	mock.Add(300 * time.Millisecond)
	assert.Eventually(t, func() bool {
		fragments, _ := f.fragments(t, change)
		return len(fragments) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestUpdater_RebuildSurvivesArmedAlarm(t *testing.T) {
	mock := clock.NewMock()
	f := newFixture(t, Options{Enabled: true, Postpone: time.Millisecond, Debounce: 300 * time.Millisecond, Clock: mock})
	release := make(chan struct{})
	f.countCompares(func(ind *indicator.Indicator, left, right string) ([]Fragment, error) {
		if right == "x z" {
			<-release
		}
		return Compare(ind, left, right)
	})
	change := NewChange("x y", "x y")
	f.call(t, func() { f.updater.SetChanges([]*Change{change}) })
	assert.Eventually(t, func() bool {
		_, computed := f.fragments(t, change)
		return computed
	}, 2*time.Second, 5*time.Millisecond)

	var rebuild *await.Handle
	f.call(t, func() {
		change.SetText("x y", "x z")
		f.updater.Schedule(change)
		f.updater.Rebuild()
		rebuild = f.updater.progress
	})
	require.NotNil(t, rebuild)

	mock.Add(300 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	var progress *await.Handle
	f.call(t, func() { progress = f.updater.progress })
	assert.Same(t, rebuild, progress)
	assert.True(t, rebuild.Pending())

	close(release)
	assert.Eventually(t, func() bool {
		fragments, _ := f.fragments(t, change)
		return len(fragments) == 1
	}, 2*time.Second, 5*time.Millisecond)
	var busy bool
	f.call(t, func() { busy = f.updater.Busy() })
	assert.False(t, busy)
	assert.Equal(t, status.SlowApplied, rebuild.Status())
}

func TestUpdater_RelaunchesWorkScheduledDuringProgress(t *testing.T) {
	f := newFixture(t, Options{Enabled: true, Postpone: time.Millisecond, Debounce: time.Millisecond})
	release := make(chan struct{})
	f.countCompares(func(ind *indicator.Indicator, left, right string) ([]Fragment, error) {
		if left == "block" {
			<-release
		}
		return Compare(ind, left, right)
	})
	blocked := NewChange("block", "blocked")
	later := NewChange("x y", "x z")

	f.call(t, func() { f.updater.SetChanges([]*Change{blocked}) })
	var pending bool
	f.call(t, func() {
		pending = f.updater.progress != nil
		f.updater.Schedule(later)
	})
	assert.True(t, pending)
	_, computed := f.fragments(t, later)
	assert.False(t, computed)

	close(release)
	assert.Eventually(t, func() bool {
		_, blockedDone := f.fragments(t, blocked)
		_, laterDone := f.fragments(t, later)
		return blockedDone && laterDone
	}, 2*time.Second, 5*time.Millisecond)

	var busy bool
	f.call(t, func() { busy = f.updater.Busy() })
	assert.False(t, busy)
	assert.Equal(t, int32(2), atomic.LoadInt32(&f.compares))
}

func TestUpdater_DisableClearsFragments(t *testing.T) {
	f := newFixture(t, Options{Enabled: true, Postpone: time.Second})
	change := NewChange("a", "b")
	f.call(t, func() { f.updater.SetChanges([]*Change{change}) })
	_, computed := f.fragments(t, change)
	require.True(t, computed)

	f.call(t, func() { f.updater.SetEnabled(false) })
	_, computed = f.fragments(t, change)
	assert.False(t, computed)

	f.call(t, func() { f.updater.Schedule(change) })
	_, computed = f.fragments(t, change)
	assert.False(t, computed)
}

func TestUpdater_SetEnabledOnlyRebuildsOnToggle(t *testing.T) {
	f := newFixture(t, Options{Enabled: true, Postpone: time.Second})
	f.call(t, func() { f.updater.SetChanges([]*Change{NewChange("a", "b")}) })
	require.Equal(t, int32(1), atomic.LoadInt32(&f.compares))

	f.call(t, func() { f.updater.SetEnabled(true) })
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.compares))
}

func TestUpdater_StopCancelsProgress(t *testing.T) {
	f := newFixture(t, Options{Enabled: true, Postpone: time.Millisecond})
	started := make(chan struct{})
	var once sync.Once
	f.countCompares(func(ind *indicator.Indicator, left, right string) ([]Fragment, error) {
		once.Do(func() { close(started) })
		<-ind.Done()
		return nil, ind.CheckCanceled()
	})
	change := NewChange("a", "b")
	f.call(t, func() { f.updater.SetChanges([]*Change{change}) })
	<-started

	var handle *await.Handle
	f.call(t, func() {
		handle = f.updater.progress
		f.updater.Stop()
	})
	require.NotNil(t, handle)
	<-handle.Finished()
	f.call(t, func() {})

	assert.Equal(t, status.Canceled, handle.Status())
	assert.Equal(t, []bool{true, false}, f.busyHistory())
	_, computed := f.fragments(t, change)
	assert.False(t, computed)
	assert.Equal(t, 0, f.logs.FilterMessage("task failed.").Len())
}

func TestUpdater_ReusesFragmentsForUnchangedContent(t *testing.T) {
	f := newFixture(t, Options{Enabled: true, Postpone: time.Second})
	first := NewChange("a b", "a c")
	twin := NewChange("a b", "a c")
	f.call(t, func() { f.updater.SetChanges([]*Change{first}) })
	f.call(t, func() { f.updater.SetChanges([]*Change{first, twin}) })

	assert.Equal(t, int32(1), atomic.LoadInt32(&f.compares))
	left, _ := f.fragments(t, first)
	right, computed := f.fragments(t, twin)
	assert.True(t, computed)
	assert.Equal(t, left, right)
}

func TestUpdater_SkipsResolvedChanges(t *testing.T) {
	f := newFixture(t, Options{Enabled: true, Postpone: time.Second})
	resolved := NewChange("a", "b")
	resolved.SetResolved(true)
	f.call(t, func() { f.updater.SetChanges([]*Change{resolved}) })
	_, computed := f.fragments(t, resolved)
	assert.False(t, computed)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.compares))
}

func TestUpdater_DisposeDropsLateResults(t *testing.T) {
	f := newFixture(t, Options{Enabled: true, Postpone: time.Millisecond})
	release := make(chan struct{})
	f.countCompares(func(ind *indicator.Indicator, left, right string) ([]Fragment, error) {
		<-release
		return Compare(ind, left, right)
	})
	change := NewChange("a", "b")
	f.call(t, func() { f.updater.SetChanges([]*Change{change}) })

	f.updater.Dispose()
	close(release)
	handle := f.executor.Current()
	require.NotNil(t, handle)
	<-handle.Finished()
	f.call(t, func() {})

	_, computed := f.fragments(t, change)
	assert.False(t, computed)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
