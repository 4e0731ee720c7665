package raw

import (
	"time"

	"github.com/dijkstracula/frwlock/internal/parkinglot"
)

// UnlockShared releases one shared hold. Whether the release is fair is
// decided by the per-lock eventual-fairness clock rather than by the
// caller; shared holds don't carry a single well-defined "held duration"
// the way an exclusive or upgradable hold does.
func (l *RawRwLock) UnlockShared() {
	l.unlockSharedImpl(false)
}

// UnlockSharedFair releases one shared hold, forcing a fair (direct
// handoff) wake if this release is the one that drains the last reader.
func (l *RawRwLock) UnlockSharedFair() {
	l.unlockSharedImpl(true)
}

func (l *RawRwLock) unlockSharedImpl(forceFair bool) {
	var newState uint64
	for {
		state := l.state.Load()
		newState = state - oneReader
		if l.state.CompareAndSwap(state, newState) {
			break
		}
	}

	// The reader count dropping to exactly one, with an upgradable holder
	// mid-upgrade and parked, means this release is what the upgrader has
	// been waiting on: hand off directly rather than running the ordinary
	// wake policy, which knows nothing about modeUpgrading waiters.
	if readers(newState) == 1 && hasUpgradable(newState) && hasParked(newState) {
		if l.tryHandoffUpgrade() {
			return
		}
	}

	if readers(newState) == 0 && hasParked(newState) {
		l.wakeExclusiveQueue(false)
		// The fairness clock is only consulted here, on the contended
		// branch: an uncontended release never pays for a clock read.
		if forceFair || l.fairness.due(0) {
			l.fairness.reseed()
			l.notifyFairRelease("shared", 0)
		}
	}
}

// UnlockExclusive releases an exclusive hold acquired held ago; held feeds
// the long-critical-section half of the eventual-fairness policy.
func (l *RawRwLock) UnlockExclusive(held time.Duration) {
	l.unlockExclusiveImpl(false, held)
}

// UnlockExclusiveFair releases an exclusive hold, always handing off
// directly to the next waiter instead of clearing the lock to empty.
func (l *RawRwLock) UnlockExclusiveFair(held time.Duration) {
	l.unlockExclusiveImpl(true, held)
}

func (l *RawRwLock) unlockExclusiveImpl(forceFair bool, held time.Duration) {
	// Uncontended: nothing parked on either key, so the word is exactly
	// writerBit and a single CAS clears it.
	if l.state.CompareAndSwap(writerBit, 0) {
		return
	}

	if forceFair || l.fairness.due(held) {
		// Fair: WRITER_BIT stays set until the handoff lands inside the
		// wake callback, so no third thread can barge in between.
		grantedWriter := l.wakeExclusiveQueue(true)
		l.fairness.reseed()
		l.notifyFairRelease("exclusive", held)
		if !grantedWriter {
			l.maybeWakeUpgradable()
		}
		return
	}

	// Unfair: drop WRITER_BIT first, opening a window in which this thread
	// (or any newcomer) may reacquire before the wake below grants whatever
	// is still grantable to the queue's front.
	for {
		s := l.state.Load()
		ns := s &^ writerBit
		if l.state.CompareAndSwap(s, ns) {
			break
		}
	}
	grantedWriter := l.wakeExclusiveQueue(false)
	if !grantedWriter {
		l.maybeWakeUpgradable()
	}
}

// UnlockUpgradable releases an upgradable-read hold.
func (l *RawRwLock) UnlockUpgradable(held time.Duration) {
	l.unlockUpgradableImpl(false, held)
}

// UnlockUpgradableFair releases an upgradable-read hold, forcing a fair
// wake of anyone it unblocks.
func (l *RawRwLock) UnlockUpgradableFair(held time.Duration) {
	l.unlockUpgradableImpl(true, held)
}

func (l *RawRwLock) unlockUpgradableImpl(forceFair bool, held time.Duration) {
	for {
		s := l.state.Load()
		ns := (s - oneReader) &^ upgradableBit
		if l.state.CompareAndSwap(s, ns) {
			break
		}
	}

	if l.maybeWakeUpgradable() {
		return
	}

	// Re-load rather than trust the pre-wake snapshot above: maybeWakeUpgradable
	// runs under the parking lot's bucket lock and, had it granted the slot,
	// would have changed what's eligible here. Since it didn't grant anything,
	// state can only have moved further towards empty in the meantime.
	s := l.state.Load()
	if readyForExclusive(s) && hasParked(s) {
		l.wakeExclusiveQueue(false)
		if forceFair || l.fairness.due(held) {
			l.fairness.reseed()
			l.notifyFairRelease("upgradable", held)
		}
	}
}

// wakeExclusiveQueue wakes the front of the shared/exclusive queue with a
// direct grant: a single writer, or a run of consecutive readers up to the
// next queued writer. The state transition happens inside the UnparkFilter
// callback, under the parking lot's bucket lock. A grant (rather than a
// bare retry-wake) is required for progress here: the fast-path admission
// predicates refuse both readers and writers while PARKED_BIT is set, so a
// woken waiter that found siblings still queued could never admit itself
// and would just park again with nobody left to wake it.
//
// holdingWriter tells the wake whose hands the lock is in. A fair
// exclusive releaser still owns WRITER_BIT throughout, so nothing can
// interpose and the grant is unconditional. Every other caller has already
// dropped its hold, and a third thread may have slipped in through a path
// PARKED_BIT doesn't gate - an upgradable acquire, possibly upgraded to
// exclusive by now - so the grant is delivered only on a state that can
// accept it; otherwise the woken waiters just retry and re-park. Returns
// true if a writer was granted.
func (l *RawRwLock) wakeExclusiveQueue(holdingWriter bool) bool {
	var grantedReaders uint64
	wantWriter := false
	grantedWriter := false

	parkinglot.UnparkFilter(
		l.sharedExclusiveKey(),
		func(tok parkinglot.Token) parkinglot.FilterOp {
			pt, ok := tok.(parkToken)
			if !ok {
				return parkinglot.FilterOpSkip
			}
			switch pt.mode {
			case modeExclusive, modeUpgrading:
				if wantWriter || grantedReaders > 0 {
					return parkinglot.FilterOpStop
				}
				wantWriter = true
				return parkinglot.FilterOpUnpark
			case modeShared:
				if wantWriter {
					return parkinglot.FilterOpStop
				}
				grantedReaders++
				return parkinglot.FilterOpUnpark
			default:
				return parkinglot.FilterOpSkip
			}
		},
		func(res parkinglot.UnparkResult) parkinglot.Token {
			if res.UnparkedWaiters == 0 {
				// Queue empty for this key: release normally. The
				// PARKED_BIT clear must happen here, under the bucket
				// lock, so an in-flight parker's validate sees it and
				// retries instead of sleeping unwakeably.
				for {
					s := l.state.Load()
					ns := s &^ parkedBit
					if holdingWriter {
						ns &^= writerBit
					}
					if l.state.CompareAndSwap(s, ns) {
						return nil
					}
				}
			}
			for {
				s := l.state.Load()
				if !holdingWriter {
					interposed := hasWriter(s) ||
						(wantWriter && (readers(s) != 0 || hasUpgradable(s)))
					if interposed {
						if !res.HaveMoreWaiters {
							if !l.state.CompareAndSwap(s, s&^parkedBit) {
								continue
							}
						}
						return unparkToken{granted: false}
					}
				}
				var ns uint64
				if wantWriter {
					ns = writerBit | (s & (parkedBit | upgradableParkedBit))
				} else {
					ns = (s &^ writerBit) + grantedReaders*oneReader
				}
				if !res.HaveMoreWaiters {
					ns &^= parkedBit
				}
				if l.state.CompareAndSwap(s, ns) {
					grantedWriter = wantWriter
					return unparkToken{granted: true}
				}
			}
		},
	)

	return grantedWriter
}

// maybeWakeUpgradable grants the upgradable slot to the front upgradable
// waiter, if one exists and the current state can accept a new upgradable
// holder, and reports whether it did. The eligibility check and the grant
// both happen inside the UnparkOne callback, under the parking lot's
// bucket lock: between the caller's release and this wake, another thread
// may have re-acquired (an unfairly-woken writer winning its retry, say),
// in which case the dequeued waiter is woken without a grant and retries
// its own slow path instead. Callers that go on to consider an
// exclusive-wake must re-load state afterwards and skip it when this
// returns true: the grant here already consumed the reader slot that wake
// would otherwise stomp on.
func (l *RawRwLock) maybeWakeUpgradable() bool {
	if !hasUpgradableParked(l.state.Load()) {
		return false
	}
	granted := false
	parkinglot.UnparkOne(l.upgradableKey(), func(res parkinglot.UnparkResult) parkinglot.Token {
		if res.UnparkedWaiters == 0 {
			// Same in-flight-parker race as the shared/exclusive key: the
			// bit is cleared under the bucket lock so a parker that set it
			// but hasn't enqueued yet fails validation and retries.
			l.clearUpgradableParkedBitIfEmpty()
			return nil
		}
		for {
			s := l.state.Load()
			if hasWriter(s) || hasUpgradable(s) || readers(s) == maxReaders {
				if !res.HaveMoreWaiters {
					l.clearUpgradableParkedBitIfEmpty()
				}
				return unparkToken{granted: false}
			}
			ns := s + oneReader + upgradableBit
			if !res.HaveMoreWaiters {
				ns &^= upgradableParkedBit
			}
			if l.state.CompareAndSwap(s, ns) {
				granted = true
				return unparkToken{granted: true}
			}
		}
	})
	return granted
}

// tryHandoffUpgrade looks for a waiter mid-upgrade (parked with
// modeUpgrading) on the shared/exclusive key and, if one is found, grants
// it the exclusive role directly: WRITER_BIT set, UPGRADABLE_BIT and the
// reader count both cleared. Returns false if no such waiter exists, in
// which case the caller falls back to the ordinary wake policy.
func (l *RawRwLock) tryHandoffUpgrade() bool {
	handed := false
	found := false

	parkinglot.UnparkFilter(
		l.sharedExclusiveKey(),
		func(tok parkinglot.Token) parkinglot.FilterOp {
			if found {
				return parkinglot.FilterOpSkip
			}
			pt, ok := tok.(parkToken)
			if ok && pt.mode == modeUpgrading {
				found = true
				return parkinglot.FilterOpUnpark
			}
			return parkinglot.FilterOpSkip
		},
		func(res parkinglot.UnparkResult) parkinglot.Token {
			if res.UnparkedWaiters != 1 {
				return nil
			}
			for {
				s := l.state.Load()
				if readers(s) != 1 {
					// A recursive reader slipped in since the releaser's
					// snapshot; the upgrader just retries and re-parks.
					return unparkToken{granted: false}
				}
				ns := writerBit | (s & (parkedBit | upgradableParkedBit))
				if !res.HaveMoreWaiters {
					ns &^= parkedBit
				}
				if l.state.CompareAndSwap(s, ns) {
					handed = true
					return unparkToken{granted: true}
				}
			}
		},
	)

	return handed
}
