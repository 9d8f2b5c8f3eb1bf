// Package prom reports mailbus listener timings as a Prometheus histogram.
package prom

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rbaliyan/mailbus"
)

// MetricName is the name of the listener duration histogram.
const MetricName = "mailbus_listener_duration_seconds"

// DefaultBuckets suit listeners running from sub-millisecond to seconds.
var DefaultBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 10}

var _ mailbus.MetricFactory = (*MetricFactory)(nil)

// MetricFactory implements mailbus.MetricFactory with one histogram vector
// labelled by timer name.
type MetricFactory struct {
	durations *prometheus.HistogramVec
}

// New registers the histogram with reg. If an identical collector is already
// registered, it is reused, so several dispatchers can share a registry.
func New(reg prometheus.Registerer) (*MetricFactory, error) {
	vec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    MetricName,
			Help:    "Time spent by mailbox listeners handling one event.",
			Buckets: DefaultBuckets,
		},
		[]string{"timer"},
	)
	if err := reg.Register(vec); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil, err
		}
		vec = existing
	}
	return &MetricFactory{durations: vec}, nil
}

// Timer implements mailbus.MetricFactory.
func (f *MetricFactory) Timer(name string) mailbus.TimeMetric {
	return &timer{observer: f.durations.WithLabelValues(name), start: time.Now()}
}

type timer struct {
	observer prometheus.Observer
	start    time.Time
}

func (t *timer) StopAndPublish() time.Duration {
	d := time.Since(t.start)
	t.observer.Observe(d.Seconds())
	return d
}
