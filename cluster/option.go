package cluster

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/mailbus/retry"
)

// Default configuration values.
const (
	DefaultReconcileInterval  = 30 * time.Second
	DefaultPublishConcurrency = 8
)

// Mode selects the remote topics an event is published to.
type Mode uint8

const (
	// ModeBroadcast publishes to the nodes interested in the event's path
	// and to every cluster member, so EACH_NODE listeners run everywhere.
	ModeBroadcast Mode = iota
	// ModeRegistered publishes only to the nodes interested in the path.
	ModeRegistered
)

type options struct {
	logger *slog.Logger

	// PathRegister
	topic             Topic
	reconcileInterval time.Duration
	retry             retry.Policy

	// Broadcaster
	mode               Mode
	publishConcurrency int
}

// Option configures a PathRegister or a Broadcaster.
type Option func(*options)

func newOptions(opts ...Option) *options {
	o := &options{
		logger:             slog.Default(),
		reconcileInterval:  DefaultReconcileInterval,
		retry:              retry.Default,
		mode:               ModeBroadcast,
		publishConcurrency: DefaultPublishConcurrency,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTopic sets the local topic. By default a random one is generated.
func WithTopic(t Topic) Option {
	return func(o *options) {
		if t != "" {
			o.topic = t
		}
	}
}

// WithReconcileInterval sets how often local registrations are re-sent to
// the backing store. The scheduler has a resolution of one second.
func WithReconcileInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.reconcileInterval = d
		}
	}
}

// WithRetry sets the retry policy of reconciliation.
func WithRetry(p retry.Policy) Option {
	return func(o *options) {
		o.retry = p
	}
}

// WithMode sets the publication mode of a Broadcaster.
func WithMode(m Mode) Option {
	return func(o *options) {
		o.mode = m
	}
}

// WithPublishConcurrency limits concurrent publications per event.
// Values less than 1 are ignored.
func WithPublishConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.publishConcurrency = n
		}
	}
}
