package frwlock

import (
	"time"

	"go.uber.org/zap"

	"github.com/dijkstracula/frwlock/internal/raw"
)

// lockObserver fans slow-path events out to an optional zap.Logger and an
// optional Metrics bundle. It implements raw.Observer. A *lockObserver is
// always non-nil once a lock is constructed (see New); the nil checks live
// inside Metrics instead, so the observer itself is unconditionally wired
// and costs one virtual call per slow-path event, never per fast-path one.
type lockObserver struct {
	logger  *zap.Logger
	metrics *Metrics
}

var _ raw.Observer = (*lockObserver)(nil)

func (o *lockObserver) OnParked(keyKind string) {
	o.logger.Debug("parked", zap.String("key", keyKind))
	o.metrics.onParked(keyKind)
}

func (o *lockObserver) OnUnparked(keyKind string, fair bool, waited time.Duration) {
	o.logger.Debug("unparked",
		zap.String("key", keyKind),
		zap.Bool("fair", fair),
		zap.Duration("waited", waited),
	)
	o.metrics.onUnparked(keyKind, waited)
}

func (o *lockObserver) OnSpinExhausted(keyKind string) {
	o.logger.Debug("spin exhausted", zap.String("key", keyKind))
}

func (o *lockObserver) OnTimedOut(keyKind string) {
	o.logger.Debug("timed out", zap.String("key", keyKind))
}

func (o *lockObserver) OnFairRelease(keyKind string, held time.Duration) {
	o.logger.Debug("fair release", zap.String("key", keyKind), zap.Duration("held", held))
	o.metrics.onFairRelease()
}
