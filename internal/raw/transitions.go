package raw

import (
	"time"

	"github.com/dijkstracula/frwlock/internal/parkinglot"
)

// ExclusiveToShared downgrades an exclusive hold to a shared one without
// ever releasing the lock to an observably-unlocked state: the caller
// keeps one reader slot for itself and any queued readers up to the next
// queued writer are woken in the same step. A newly-arriving reader that
// raced in after the write lock was first taken may be granted here ahead
// of one that arrived before it; the fairness guarantee only binds FIFO
// order among waiters already parked at the moment of a given release, so
// this is within bounds.
func (l *RawRwLock) ExclusiveToShared() {
	var newState uint64
	for {
		s := l.state.Load()
		newState = (s &^ writerBit) + oneReader
		if l.state.CompareAndSwap(s, newState) {
			break
		}
	}
	if hasParked(newState) {
		l.wakeQueuedReaders()
	}
}

// UpgradableToShared downgrades an upgradable-read hold to a plain shared
// hold, opening the upgradable slot back up for a queued upgradable
// waiter.
func (l *RawRwLock) UpgradableToShared() {
	for {
		s := l.state.Load()
		ns := s &^ upgradableBit
		if l.state.CompareAndSwap(s, ns) {
			break
		}
	}
	l.maybeWakeUpgradable()
}

// TryUpgradableToExclusive attempts the upgrade without blocking: it only
// succeeds if this holder is the sole remaining reader right now.
func (l *RawRwLock) TryUpgradableToExclusive() bool {
	s := l.state.Load()
	if readers(s) != 1 {
		return false
	}
	return l.state.CompareAndSwap(s, writerBit|(s&(parkedBit|upgradableParkedBit)))
}

// UpgradableToExclusive blocks until the upgrade completes.
func (l *RawRwLock) UpgradableToExclusive() {
	l.upgradableToExclusiveImpl(nil)
}

// TryUpgradableToExclusiveFor blocks up to d for the upgrade to complete.
func (l *RawRwLock) TryUpgradableToExclusiveFor(d time.Duration) bool {
	deadline := time.Now().Add(d)
	return l.upgradableToExclusiveImpl(&deadline)
}

// TryUpgradableToExclusiveUntil blocks until deadline for the upgrade to
// complete.
func (l *RawRwLock) TryUpgradableToExclusiveUntil(deadline time.Time) bool {
	return l.upgradableToExclusiveImpl(&deadline)
}

func (l *RawRwLock) upgradableToExclusiveImpl(deadline *time.Time) bool {
	for attempt := 0; ; attempt++ {
		s := l.state.Load()
		if readers(s) == 1 {
			if l.state.CompareAndSwap(s, writerBit|(s&(parkedBit|upgradableParkedBit))) {
				return true
			}
			continue
		}

		if attempt < SpinLimit {
			if spin(attempt) {
				continue
			}
		}

		if !l.setParkedBitForUpgrade(s) {
			continue
		}
		l.notify("OnParked", "upgrade")
		parkStart := time.Now()

		result, tok := parkinglot.Park(
			l.sharedExclusiveKey(),
			func() bool {
				return readers(l.state.Load()) != 1
			},
			nil,
			func(_ uintptr, wasLast bool) {
				if wasLast {
					l.clearParkedBitIfEmpty()
				}
				l.notify("OnTimedOut", "upgrade")
			},
			parkToken{mode: modeUpgrading},
			deadline,
		)
		switch result {
		case parkinglot.ResultTimedOut:
			return false
		case parkinglot.ResultInvalid:
			continue
		case parkinglot.ResultUnparked:
			ut, ok := tok.(unparkToken)
			l.notifyUnparked("upgrade", ok && ut.granted, time.Since(parkStart))
			if ok && ut.granted {
				return true
			}
		}
	}
}

// setParkedBitForUpgrade is setParkedBit's counterpart for a holder
// waiting on its own upgrade: it only refuses to park (returning false, so
// the caller retries the fast path) when the reader count has already
// dropped to exactly one, not merely whenever ordinary shared/exclusive
// acquisition would be possible.
func (l *RawRwLock) setParkedBitForUpgrade(observed uint64) bool {
	for {
		if observed&parkedBit != 0 {
			return true
		}
		if readers(observed) == 1 {
			return false
		}
		if l.state.CompareAndSwap(observed, observed|parkedBit) {
			return true
		}
		observed = l.state.Load()
	}
}

// wakeQueuedReaders grants the lock to a run of consecutive modeShared
// waiters at the front of the shared/exclusive queue, stopping at (and
// never disturbing) the first writer or upgrade waiter.
func (l *RawRwLock) wakeQueuedReaders() {
	var granted uint64
	parkinglot.UnparkFilter(
		l.sharedExclusiveKey(),
		func(tok parkinglot.Token) parkinglot.FilterOp {
			pt, ok := tok.(parkToken)
			if !ok || pt.mode != modeShared {
				return parkinglot.FilterOpStop
			}
			granted++
			return parkinglot.FilterOpUnpark
		},
		func(res parkinglot.UnparkResult) parkinglot.Token {
			if res.UnparkedWaiters == 0 {
				return nil
			}
			for {
				s := l.state.Load()
				ns := s + granted*oneReader
				if !res.HaveMoreWaiters {
					ns &^= parkedBit
				}
				if l.state.CompareAndSwap(s, ns) {
					break
				}
			}
			return unparkToken{granted: true}
		},
	)
}
