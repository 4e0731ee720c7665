// Package frwlock provides a generic, fair, adaptive reader-writer lock
// over an arbitrary payload type T. It is the scoped-holder overlay the
// core state machine in internal/raw doesn't need to know about: RwLock[T]
// pairs a *raw.RawRwLock with the value it protects and hands out guard
// values whose Unlock releases exactly the hold that produced them.
//
// The lock itself never poisons: nothing here marks the lock broken when a
// panic unwinds through a critical section, and a deferred Unlock releases
// on every exit path just as it would on a normal return. Pair every
// guard-producing call with a deferred Unlock if panics are a concern in
// your critical section.
package frwlock

import (
	"time"

	"github.com/dijkstracula/frwlock/internal/raw"
)

// RwLock protects a value of type T behind a fair, adaptive reader-writer
// lock. The zero value is not usable; construct one with New.
type RwLock[T any] struct {
	raw raw.RawRwLock
	obs *lockObserver
	val T
}

// New returns an RwLock guarding val. By default it logs nothing and
// records no metrics; pass WithLogger and/or WithMetrics to wire those in.
func New[T any](val T, opts ...Option) *RwLock[T] {
	cfg := resolveOptions(opts)
	l := &RwLock[T]{val: val}
	l.obs = &lockObserver{logger: cfg.logger, metrics: cfg.metrics}
	l.raw.SetObserver(l.obs)
	return l
}

// --- Shared (read) acquisition ---------------------------------------------

// RLock blocks until shared access is granted. The returned guard is not
// reentrant: calling RLock again from the same goroutine while a writer is
// queued can deadlock. Use RLockRecursive for the reentrant mode.
func (l *RwLock[T]) RLock() *ReadGuard[T] {
	l.raw.LockShared(false)
	return l.newReadGuard(false)
}

// RLockRecursive blocks until shared access is granted, admitting itself
// whenever no writer currently holds the lock even if writers are already
// queued. Reentrant by design; waives task-fairness.
func (l *RwLock[T]) RLockRecursive() *ReadGuard[T] {
	l.raw.LockShared(true)
	return l.newReadGuard(true)
}

// TryRLock attempts shared access without blocking.
func (l *RwLock[T]) TryRLock() (*ReadGuard[T], bool) {
	if !l.raw.TryLockShared(false) {
		return nil, false
	}
	return l.newReadGuard(false), true
}

// TryRLockRecursive attempts recursive shared access without blocking.
func (l *RwLock[T]) TryRLockRecursive() (*ReadGuard[T], bool) {
	if !l.raw.TryLockShared(true) {
		return nil, false
	}
	return l.newReadGuard(true), true
}

// TryRLockFor attempts shared access, blocking for at most d.
func (l *RwLock[T]) TryRLockFor(d time.Duration) (*ReadGuard[T], bool) {
	if !l.raw.TryLockSharedFor(false, d) {
		return nil, false
	}
	return l.newReadGuard(false), true
}

// TryRLockUntil attempts shared access, blocking until deadline.
func (l *RwLock[T]) TryRLockUntil(deadline time.Time) (*ReadGuard[T], bool) {
	if !l.raw.TryLockSharedUntil(false, deadline) {
		return nil, false
	}
	return l.newReadGuard(false), true
}

func (l *RwLock[T]) newReadGuard(recursive bool) *ReadGuard[T] {
	return &ReadGuard[T]{raw: &l.raw, val: &l.val, recursive: recursive}
}

// --- Exclusive (write) acquisition ------------------------------------------

// Lock blocks until exclusive access is granted.
func (l *RwLock[T]) Lock() *WriteGuard[T] {
	l.raw.LockExclusive()
	return l.newWriteGuard()
}

// TryLock attempts exclusive access without blocking.
func (l *RwLock[T]) TryLock() (*WriteGuard[T], bool) {
	if !l.raw.TryLockExclusive() {
		return nil, false
	}
	return l.newWriteGuard(), true
}

// TryLockFor attempts exclusive access, blocking for at most d.
func (l *RwLock[T]) TryLockFor(d time.Duration) (*WriteGuard[T], bool) {
	if !l.raw.TryLockExclusiveFor(d) {
		return nil, false
	}
	return l.newWriteGuard(), true
}

// TryLockUntil attempts exclusive access, blocking until deadline.
func (l *RwLock[T]) TryLockUntil(deadline time.Time) (*WriteGuard[T], bool) {
	if !l.raw.TryLockExclusiveUntil(deadline) {
		return nil, false
	}
	return l.newWriteGuard(), true
}

func (l *RwLock[T]) newWriteGuard() *WriteGuard[T] {
	return &WriteGuard[T]{raw: &l.raw, val: &l.val, acquired: time.Now()}
}

// --- Upgradable-read acquisition ---------------------------------------------

// ULock blocks until upgradable-read access is granted. At most one
// upgradable holder exists at a time.
func (l *RwLock[T]) ULock() *UpgradableGuard[T] {
	l.raw.LockUpgradable()
	return l.newUpgradableGuard()
}

// TryULock attempts upgradable-read access without blocking.
func (l *RwLock[T]) TryULock() (*UpgradableGuard[T], bool) {
	if !l.raw.TryLockUpgradable() {
		return nil, false
	}
	return l.newUpgradableGuard(), true
}

// TryULockFor attempts upgradable-read access, blocking for at most d.
func (l *RwLock[T]) TryULockFor(d time.Duration) (*UpgradableGuard[T], bool) {
	if !l.raw.TryLockUpgradableFor(d) {
		return nil, false
	}
	return l.newUpgradableGuard(), true
}

// TryULockUntil attempts upgradable-read access, blocking until deadline.
func (l *RwLock[T]) TryULockUntil(deadline time.Time) (*UpgradableGuard[T], bool) {
	if !l.raw.TryLockUpgradableUntil(deadline) {
		return nil, false
	}
	return l.newUpgradableGuard(), true
}

func (l *RwLock[T]) newUpgradableGuard() *UpgradableGuard[T] {
	return &UpgradableGuard[T]{raw: &l.raw, val: &l.val, acquired: time.Now()}
}

// --- Raw (unsafe, unpaired) API ----------------------------------------------

// RawLockShared, RawUnlockShared and their exclusive/upgradable
// counterparts below bypass the guard types entirely: the caller is
// responsible for pairing every lock with exactly one matching unlock, in
// the same sense internal/raw's own exported methods are unsafe. Prefer
// the guard-returning methods above unless you specifically need to
// separate acquisition from release across a boundary a guard can't cross
// (e.g. a lock taken in one function and released in a callback).
func (l *RwLock[T]) RawLockShared(recursive bool)   { l.raw.LockShared(recursive) }
func (l *RwLock[T]) RawUnlockShared()               { l.raw.UnlockShared() }
func (l *RwLock[T]) RawUnlockSharedFair()           { l.raw.UnlockSharedFair() }
func (l *RwLock[T]) RawLockExclusive()              { l.raw.LockExclusive() }
func (l *RwLock[T]) RawUnlockExclusive(held time.Duration) {
	l.raw.UnlockExclusive(held)
}
func (l *RwLock[T]) RawUnlockExclusiveFair(held time.Duration) {
	l.raw.UnlockExclusiveFair(held)
}
func (l *RwLock[T]) RawLockUpgradable() { l.raw.LockUpgradable() }
func (l *RwLock[T]) RawUnlockUpgradable(held time.Duration) {
	l.raw.UnlockUpgradable(held)
}
func (l *RwLock[T]) RawUnlockUpgradableFair(held time.Duration) {
	l.raw.UnlockUpgradableFair(held)
}

// RawValue returns a pointer directly to the protected value, bypassing
// the lock entirely. Only safe to dereference while the caller
// independently knows it holds an appropriate raw hold.
func (l *RwLock[T]) RawValue() *T { return &l.val }

// State returns the raw state word, for diagnostics and tests only.
func (l *RwLock[T]) State() uint64 { return l.raw.State() }
