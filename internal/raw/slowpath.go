package raw

import (
	"time"

	"github.com/dijkstracula/frwlock/internal/parkinglot"
)

// lockSharedSlow is entered once the shared fast path has failed at least
// once. It spins adaptively, then parks on the shared/exclusive key.
// Returns false only when deadline is non-nil and is reached first.
func (l *RawRwLock) lockSharedSlow(recursive bool, deadline *time.Time) bool {
	for attempt := 0; ; attempt++ {
		state := l.state.Load()
		ok := compatibleWithSharedFast(state)
		if recursive {
			ok = compatibleWithSharedRecursive(state)
		}
		if ok {
			if l.state.CompareAndSwap(state, state+oneReader) {
				return true
			}
			continue
		}

		if readers(state) == maxReaders {
			// Reader-count overflow: spin awaiting departures rather than
			// fail.
			if !spin(attempt) {
				time.Sleep(time.Microsecond)
				attempt = 0
			}
			continue
		}

		if attempt < SpinLimit && !hasParked(state) {
			if spin(attempt) {
				continue
			}
		}
		if attempt == SpinLimit {
			l.notify("OnSpinExhausted", "shared")
		}

		admissible := compatibleWithSharedFast
		if recursive {
			admissible = compatibleWithSharedRecursive
		}
		if !l.setParkedBit(state, admissible) {
			continue
		}
		l.notify("OnParked", "shared")
		parkStart := time.Now()

		result, tok := parkinglot.Park(
			l.sharedExclusiveKey(),
			func() bool {
				return hasParked(l.state.Load())
			},
			nil,
			func(_ uintptr, wasLast bool) {
				if wasLast {
					l.clearParkedBitIfEmpty()
				}
				l.notify("OnTimedOut", "shared")
			},
			parkToken{mode: modeShared},
			deadline,
		)
		switch result {
		case parkinglot.ResultTimedOut:
			return false
		case parkinglot.ResultInvalid:
			continue
		case parkinglot.ResultUnparked:
			ut, ok := tok.(unparkToken)
			l.notifyUnparked("shared", ok && ut.granted, time.Since(parkStart))
			if ok && ut.granted {
				return true
			}
			// Unfair wake: we were only given a chance to retry.
		}
	}
}

// lockExclusiveSlow mirrors lockSharedSlow for the exclusive fast path.
func (l *RawRwLock) lockExclusiveSlow(deadline *time.Time) bool {
	for attempt := 0; ; attempt++ {
		state := l.state.Load()
		if compatibleWithExclusive(state) {
			if l.state.CompareAndSwap(state, writerBit) {
				return true
			}
			continue
		}

		if attempt < SpinLimit && !hasParked(state) {
			if spin(attempt) {
				continue
			}
		}
		if attempt == SpinLimit {
			l.notify("OnSpinExhausted", "exclusive")
		}

		if !l.setParkedBit(state, compatibleWithExclusive) {
			continue
		}
		l.notify("OnParked", "exclusive")
		parkStart := time.Now()

		result, tok := parkinglot.Park(
			l.sharedExclusiveKey(),
			func() bool {
				return hasParked(l.state.Load())
			},
			nil,
			func(_ uintptr, wasLast bool) {
				if wasLast {
					l.clearParkedBitIfEmpty()
				}
				l.notify("OnTimedOut", "exclusive")
			},
			parkToken{mode: modeExclusive},
			deadline,
		)
		switch result {
		case parkinglot.ResultTimedOut:
			return false
		case parkinglot.ResultInvalid:
			continue
		case parkinglot.ResultUnparked:
			ut, ok := tok.(unparkToken)
			l.notifyUnparked("exclusive", ok && ut.granted, time.Since(parkStart))
			if ok && ut.granted {
				return true
			}
		}
	}
}

// lockUpgradableSlow mirrors the above for the upgradable fast path,
// parking on the upgradable key instead.
func (l *RawRwLock) lockUpgradableSlow(deadline *time.Time) bool {
	for attempt := 0; ; attempt++ {
		state := l.state.Load()
		if compatibleWithUpgradable(state) {
			if l.state.CompareAndSwap(state, state+oneReader+upgradableBit) {
				return true
			}
			continue
		}

		if readers(state) == maxReaders {
			if !spin(attempt) {
				time.Sleep(time.Microsecond)
				attempt = 0
			}
			continue
		}

		if attempt < SpinLimit && !hasUpgradableParked(state) {
			if spin(attempt) {
				continue
			}
		}
		if attempt == SpinLimit {
			l.notify("OnSpinExhausted", "upgradable")
		}

		if !l.setUpgradableParkedBit(state) {
			continue
		}
		l.notify("OnParked", "upgradable")
		parkStart := time.Now()

		result, tok := parkinglot.Park(
			l.upgradableKey(),
			func() bool {
				return hasUpgradableParked(l.state.Load())
			},
			nil,
			func(_ uintptr, wasLast bool) {
				if wasLast {
					l.clearUpgradableParkedBitIfEmpty()
				}
				l.notify("OnTimedOut", "upgradable")
			},
			parkToken{mode: modeShared}, // upgradable-key waiters are never distinguished further
			deadline,
		)
		switch result {
		case parkinglot.ResultTimedOut:
			return false
		case parkinglot.ResultInvalid:
			continue
		case parkinglot.ResultUnparked:
			ut, ok := tok.(unparkToken)
			l.notifyUnparked("upgradable", ok && ut.granted, time.Since(parkStart))
			if ok && ut.granted {
				return true
			}
		}
	}
}

// setParkedBit CAS-sets PARKED_BIT on the shared/exclusive key, re-trying
// only on a concurrent CAS loss; returns false if the state changed enough
// that the caller should re-evaluate from the top of its loop instead of
// parking (admissible, the caller's own admission predicate, now holds).
func (l *RawRwLock) setParkedBit(observed uint64, admissible func(uint64) bool) bool {
	for {
		if observed&parkedBit != 0 {
			return true
		}
		if admissible(observed) {
			return false
		}
		if l.state.CompareAndSwap(observed, observed|parkedBit) {
			return true
		}
		observed = l.state.Load()
	}
}

func (l *RawRwLock) setUpgradableParkedBit(observed uint64) bool {
	for {
		if observed&upgradableParkedBit != 0 {
			return true
		}
		if compatibleWithUpgradable(observed) {
			return false
		}
		if l.state.CompareAndSwap(observed, observed|upgradableParkedBit) {
			return true
		}
		observed = l.state.Load()
	}
}

// clearParkedBitIfEmpty and clearUpgradableParkedBitIfEmpty drop a parked
// bit once the key's queue has been observed empty. Every caller holds the
// relevant bucket lock while calling (a timed-out waiter's timedOut
// callback, or a wake path that found nobody to wake), which is what makes
// the clear safe: a concurrent parker that already set the bit but hasn't
// enqueued yet will run its validate under the same bucket lock, see the
// bit gone, and retry instead of sleeping with nobody left to wake it.
func (l *RawRwLock) clearParkedBitIfEmpty() {
	for {
		state := l.state.Load()
		if state&parkedBit == 0 {
			return
		}
		if l.state.CompareAndSwap(state, state&^parkedBit) {
			return
		}
	}
}

func (l *RawRwLock) clearUpgradableParkedBitIfEmpty() {
	for {
		state := l.state.Load()
		if state&upgradableParkedBit == 0 {
			return
		}
		if l.state.CompareAndSwap(state, state&^upgradableParkedBit) {
			return
		}
	}
}

func (l *RawRwLock) notify(event, keyKind string) {
	if l.obs == nil {
		return
	}
	switch event {
	case "OnParked":
		l.obs.OnParked(keyKind)
	case "OnSpinExhausted":
		l.obs.OnSpinExhausted(keyKind)
	case "OnTimedOut":
		l.obs.OnTimedOut(keyKind)
	}
}

// notifyUnparked reports a wake delivered by an Unpark* call, granted or
// not, with fair set when it was a direct handoff and waited measuring how
// long the caller was parked. A Park that failed validation never reaches it.
func (l *RawRwLock) notifyUnparked(keyKind string, fair bool, waited time.Duration) {
	if l.obs == nil {
		return
	}
	l.obs.OnUnparked(keyKind, fair, waited)
}

// notifyFairRelease reports a release that chose the eventual-fairness
// direct-handoff path instead of the unfair one, with held measuring the
// releaser's own critical-section duration.
func (l *RawRwLock) notifyFairRelease(keyKind string, held time.Duration) {
	if l.obs == nil {
		return
	}
	l.obs.OnFairRelease(keyKind, held)
}
