package frwlock

import (
	"time"

	"github.com/dijkstracula/frwlock/internal/raw"
)

// ReadGuard is evidence of a shared hold on an RwLock[T]. Its zero value is
// not meaningful; it is only ever produced by RwLock[T]'s RLock family or
// by MapReadGuard.
type ReadGuard[T any] struct {
	raw       *raw.RawRwLock
	val       *T
	recursive bool
	released  bool
}

// Value returns a pointer to the protected value, valid until Unlock.
func (g *ReadGuard[T]) Value() *T { return g.val }

// Unlock releases the shared hold. Calling it twice on the same guard is a
// programming error and panics, the same way releasing a lock you don't
// hold would in the raw API.
func (g *ReadGuard[T]) Unlock() { g.unlock(false) }

// UnlockFair releases the shared hold, forcing a fair (direct-handoff)
// wake if this release drains the last reader and waiters are queued.
func (g *ReadGuard[T]) UnlockFair() { g.unlock(true) }

func (g *ReadGuard[T]) unlock(fair bool) {
	if g.released {
		panic("frwlock: ReadGuard already unlocked")
	}
	g.released = true
	if fair {
		g.raw.UnlockSharedFair()
	} else {
		g.raw.UnlockShared()
	}
}

// WriteGuard is evidence of an exclusive hold on an RwLock[T].
type WriteGuard[T any] struct {
	raw      *raw.RawRwLock
	val      *T
	acquired time.Time
	released bool
}

// Value returns a pointer to the protected value, valid until Unlock or
// Downgrade.
func (g *WriteGuard[T]) Value() *T { return g.val }

// Unlock releases the exclusive hold.
func (g *WriteGuard[T]) Unlock() { g.unlock(false) }

// UnlockFair releases the exclusive hold, forcing a direct-handoff wake.
func (g *WriteGuard[T]) UnlockFair() { g.unlock(true) }

func (g *WriteGuard[T]) unlock(fair bool) {
	if g.released {
		panic("frwlock: WriteGuard already unlocked")
	}
	g.released = true
	held := time.Since(g.acquired)
	if fair {
		g.raw.UnlockExclusiveFair(held)
	} else {
		g.raw.UnlockExclusive(held)
	}
}

// Downgrade atomically converts the exclusive hold into a shared one: no
// other writer can interpose between the release of WRITER_BIT and the
// caller's own admission as a reader. g must not be used again afterwards.
func (g *WriteGuard[T]) Downgrade() *ReadGuard[T] {
	if g.released {
		panic("frwlock: Downgrade called on an already-unlocked WriteGuard")
	}
	g.released = true
	g.raw.ExclusiveToShared()
	return &ReadGuard[T]{raw: g.raw, val: g.val}
}

// UpgradableGuard is evidence of the single, distinguished upgradable-read
// hold on an RwLock[T].
type UpgradableGuard[T any] struct {
	raw      *raw.RawRwLock
	val      *T
	acquired time.Time
	released bool
}

// Value returns a pointer to the protected value, valid until Unlock,
// Downgrade or a successful Upgrade/TryUpgrade.
func (g *UpgradableGuard[T]) Value() *T { return g.val }

// Unlock releases the upgradable-read hold.
func (g *UpgradableGuard[T]) Unlock() { g.unlock(false) }

// UnlockFair releases the upgradable-read hold, forcing a direct-handoff
// wake of whatever it unblocks.
func (g *UpgradableGuard[T]) UnlockFair() { g.unlock(true) }

func (g *UpgradableGuard[T]) unlock(fair bool) {
	if g.released {
		panic("frwlock: UpgradableGuard already unlocked")
	}
	g.released = true
	held := time.Since(g.acquired)
	if fair {
		g.raw.UnlockUpgradableFair(held)
	} else {
		g.raw.UnlockUpgradable(held)
	}
}

// Downgrade releases the upgradable bit while retaining a plain shared
// hold, reopening the upgradable slot for whoever is queued next. g must
// not be used again afterwards.
func (g *UpgradableGuard[T]) Downgrade() *ReadGuard[T] {
	if g.released {
		panic("frwlock: Downgrade called on an already-unlocked UpgradableGuard")
	}
	g.released = true
	g.raw.UpgradableToShared()
	return &ReadGuard[T]{raw: g.raw, val: g.val}
}

// Upgrade blocks until the hold becomes exclusive. No other upgrader can
// interpose, though other plain readers may still be present while this
// call waits for them to depart. g must not be used again afterwards.
func (g *UpgradableGuard[T]) Upgrade() *WriteGuard[T] {
	if g.released {
		panic("frwlock: Upgrade called on an already-unlocked UpgradableGuard")
	}
	g.released = true
	g.raw.UpgradableToExclusive()
	return &WriteGuard[T]{raw: g.raw, val: g.val, acquired: time.Now()}
}

// TryUpgrade attempts the upgrade without blocking. On success it returns
// the new WriteGuard and a nil UpgradableGuard; g must not be used again.
// On failure it returns a nil WriteGuard and g itself, unchanged and still
// valid, so the caller can keep using it or retry later.
func (g *UpgradableGuard[T]) TryUpgrade() (*WriteGuard[T], *UpgradableGuard[T]) {
	return g.tryUpgrade(g.raw.TryUpgradableToExclusive)
}

// TryUpgradeFor attempts the upgrade, blocking for at most d. Same return
// contract as TryUpgrade.
func (g *UpgradableGuard[T]) TryUpgradeFor(d time.Duration) (*WriteGuard[T], *UpgradableGuard[T]) {
	return g.tryUpgrade(func() bool { return g.raw.TryUpgradableToExclusiveFor(d) })
}

// TryUpgradeUntil attempts the upgrade, blocking until deadline. Same
// return contract as TryUpgrade.
func (g *UpgradableGuard[T]) TryUpgradeUntil(deadline time.Time) (*WriteGuard[T], *UpgradableGuard[T]) {
	return g.tryUpgrade(func() bool { return g.raw.TryUpgradableToExclusiveUntil(deadline) })
}

func (g *UpgradableGuard[T]) tryUpgrade(attempt func() bool) (*WriteGuard[T], *UpgradableGuard[T]) {
	if g.released {
		panic("frwlock: TryUpgrade called on an already-unlocked UpgradableGuard")
	}
	if !attempt() {
		return nil, g
	}
	g.released = true
	return &WriteGuard[T]{raw: g.raw, val: g.val, acquired: time.Now()}, nil
}
