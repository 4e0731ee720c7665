// Copyright 2020 Nathan Taylor (nbtaylor@gmail.com)
// Copyright 2026 The frwlock Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package raw

import (
	"time"
	"unsafe"

	"go.uber.org/atomic"
)

// Observer receives slow-path events for optional instrumentation. All
// methods must be cheap and non-blocking; a nil Observer (the default) is
// never even checked on the fast path, only in the already-contended slow
// paths.
type Observer interface {
	OnParked(keyKind string)
	OnUnparked(keyKind string, fair bool, waited time.Duration)
	OnSpinExhausted(keyKind string)
	OnTimedOut(keyKind string)
	OnFairRelease(keyKind string, held time.Duration)
}

// RawRwLock is the lock-free state machine at the heart of a task-fair,
// eventually-fair reader-writer lock. It holds no payload; pairing it with
// data and RAII-style release is the job of the frwlock package one level
// up. Every exported method here is unsafe in the sense that callers must
// pair every successful acquire with exactly one matching release.
type RawRwLock struct {
	state    atomic.Uint64
	fairness fairnessClock
	obs      Observer
}

// New returns an unlocked RawRwLock.
func New() *RawRwLock {
	return &RawRwLock{}
}

// SetObserver installs an instrumentation hook. Not safe to call
// concurrently with lock operations; intended to be set once at
// construction by the owning frwlock.RwLock.
func (l *RawRwLock) SetObserver(obs Observer) {
	l.obs = obs
}

// sharedExclusiveKey and upgradableKey are the two parking-lot keys this
// lock uses, derived from the address of the state word itself (and that
// address plus one, which can never collide with any other lock's primary
// key since state words are at least 8-byte aligned).
func (l *RawRwLock) sharedExclusiveKey() uintptr {
	return uintptr(unsafe.Pointer(&l.state))
}

func (l *RawRwLock) upgradableKey() uintptr {
	return l.sharedExclusiveKey() + 1
}

// State returns the raw state word, for tests and diagnostics only.
func (l *RawRwLock) State() uint64 {
	return l.state.Load()
}

// --- Fast paths -----------------------------------------------------------

// TryLockShared attempts the shared fast path. recursive selects the
// reentrant admission rule, which ignores PARKED_BIT so a goroutine that
// already holds a shared hold can always take another one.
func (l *RawRwLock) TryLockShared(recursive bool) bool {
	for {
		state := l.state.Load()
		ok := compatibleWithSharedFast(state)
		if recursive {
			ok = compatibleWithSharedRecursive(state)
		}
		if !ok {
			return false
		}
		if l.state.CompareAndSwap(state, state+oneReader) {
			return true
		}
	}
}

// TryLockExclusive attempts the exclusive fast path: succeeds only from a
// fully-zero state.
func (l *RawRwLock) TryLockExclusive() bool {
	return l.state.CompareAndSwap(0, writerBit)
}

// TryLockUpgradable attempts the upgradable fast path.
func (l *RawRwLock) TryLockUpgradable() bool {
	for {
		state := l.state.Load()
		if !compatibleWithUpgradable(state) {
			return false
		}
		if l.state.CompareAndSwap(state, state+oneReader+upgradableBit) {
			return true
		}
	}
}

// LockShared blocks until shared access is granted.
func (l *RawRwLock) LockShared(recursive bool) {
	if l.TryLockShared(recursive) {
		return
	}
	l.lockSharedSlow(recursive, nil)
}

// LockExclusive blocks until exclusive access is granted.
func (l *RawRwLock) LockExclusive() {
	if l.TryLockExclusive() {
		return
	}
	l.lockExclusiveSlow(nil)
}

// LockUpgradable blocks until upgradable-read access is granted.
func (l *RawRwLock) LockUpgradable() {
	if l.TryLockUpgradable() {
		return
	}
	l.lockUpgradableSlow(nil)
}

// TryLockSharedFor/Until, TryLockExclusiveFor/Until and
// TryLockUpgradableFor/Until are defined in timed.go, built atop the same
// slow paths with a deadline.
