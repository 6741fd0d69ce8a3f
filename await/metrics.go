package await

import "github.com/uber-go/tally/v4"

type metrics struct {
	runs        tally.Counter
	inlineRuns  tally.Counter
	fastPath    tally.Counter
	slowPath    tally.Counter
	slowApplied tally.Counter
	canceled    tally.Counter
	failed      tally.Counter
	superseded  tally.Counter
	taskLatency tally.Timer
}

func newMetrics(scope tally.Scope) *metrics {
	return &metrics{
		runs:        scope.Counter("runs"),
		inlineRuns:  scope.Counter("inline_runs"),
		fastPath:    scope.Counter("fast_path"),
		slowPath:    scope.Counter("slow_path"),
		slowApplied: scope.Counter("slow_applied"),
		canceled:    scope.Counter("canceled"),
		failed:      scope.Counter("failed"),
		superseded:  scope.Counter("superseded"),
		taskLatency: scope.Timer("task_latency"),
	}
}
