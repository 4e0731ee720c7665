package frwlock

import "go.uber.org/zap"

// options holds the construction-time configuration accepted by New. It is
// never exposed directly; callers build it up with Option values.
type options struct {
	logger  *zap.Logger
	metrics *Metrics
}

// Option configures an RwLock at construction time. See WithLogger and
// WithMetrics.
type Option func(*options)

// WithLogger installs a *zap.Logger that receives Debug-level structured
// entries for slow-path events: parking, unparking, fair handoffs, spin
// exhaustion and timeouts. A lock constructed without this option uses
// zap.NewNop(), so the uncontended fast path never pays for logging.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics installs a Metrics collector. See NewMetrics for how to wire
// it into a prometheus.Registerer. A lock constructed without this option
// pays only a single nil check per slow-path event.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func resolveOptions(opts []Option) *options {
	cfg := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return cfg
}
