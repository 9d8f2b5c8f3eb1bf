package mailbus

import "time"

// TimeMetric measures one timed operation.
type TimeMetric interface {
	// StopAndPublish stops the timer, reports the elapsed time and returns it.
	StopAndPublish() time.Duration
}

// MetricFactory creates timers. Metrics never affect delivery.
type MetricFactory interface {
	Timer(name string) TimeMetric
}

// NoopMetricFactory creates timers that measure but publish nothing.
type NoopMetricFactory struct{}

// Timer starts a timer.
func (NoopMetricFactory) Timer(string) TimeMetric {
	return &noopTimer{start: time.Now()}
}

type noopTimer struct {
	start time.Time
}

func (t *noopTimer) StopAndPublish() time.Duration {
	return time.Since(t.start)
}

// listenerTimerName is the timer name used for deliveries to l.
func listenerTimerName(l Listener) string {
	return "mailbox-listener-" + ListenerName(l)
}
