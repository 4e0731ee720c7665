package raw

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sync/errgroup"
)

func TestSmoke(t *testing.T) {
	l := New()

	l.LockShared(false)
	l.UnlockShared()
	assert.Equal(t, uint64(0), l.State())

	l.LockExclusive()
	l.UnlockExclusive(0)
	assert.Equal(t, uint64(0), l.State())

	l.LockUpgradable()
	l.UnlockUpgradable(0)
	assert.Equal(t, uint64(0), l.State())

	l.LockShared(false)
	l.LockShared(false)
	assert.Equal(t, 2*oneReader, l.State())
	l.UnlockShared()
	l.UnlockShared()
	assert.Equal(t, uint64(0), l.State())

	l.LockShared(false)
	l.LockUpgradable()
	assert.Equal(t, 2*oneReader+upgradableBit, l.State())
	l.UnlockUpgradable(0)
	l.UnlockShared()
	assert.Equal(t, uint64(0), l.State(), "final state word must be zero")
}

func TestMutualExclusionUnderContention(t *testing.T) {
	l := New()
	var counter int64

	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			for j := 0; j < 1000; j++ {
				if j%10 == 0 {
					l.LockExclusive()
					counter++
					l.UnlockExclusive(0)
				} else {
					l.LockShared(false)
					v := counter
					l.UnlockShared()
					assert.GreaterOrEqual(t, v, int64(0))
				}
			}
			return nil
		})
	}
	assert.NoError(t, g.Wait())
	assert.Equal(t, uint64(0), l.State(), "no deadlock, no leaked holder")
}

func TestDowngradeMonotonic(t *testing.T) {
	l := New()
	var counter int

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for j := 0; j < 100; j++ {
				l.LockExclusive()
				counter++
				written := counter
				l.ExclusiveToShared()
				observed := counter
				if observed != written {
					l.UnlockShared()
					return assertionError{"downgrade observed a value other than the one just written"}
				}
				l.UnlockShared()
			}
			return nil
		})
	}
	assert.NoError(t, g.Wait())
	assert.Equal(t, 800, counter)
	assert.Equal(t, uint64(0), l.State())
}

type assertionError struct{ msg string }

func (e assertionError) Error() string { return e.msg }

func TestUpgradableCoordination(t *testing.T) {
	l := New()
	counter := 0

	var g errgroup.Group

	// Writer: ten exclusive increments, briefly visible as -1 mid-update.
	g.Go(func() error {
		for i := 0; i < 10; i++ {
			l.LockExclusive()
			v := counter
			counter = -1
			counter = v + 1
			l.UnlockExclusive(0)
		}
		return nil
	})

	// Five upgradable readers: observe non-negative, upgrade, verify
	// unchanged, then mutate.
	for i := 0; i < 5; i++ {
		g.Go(func() error {
			l.LockUpgradable()
			before := counter
			if before < 0 {
				l.UnlockUpgradable(0)
				return assertionError{"upgradable reader observed a writer's in-flight value"}
			}
			l.UpgradableToExclusive()
			if counter != before {
				l.UnlockExclusive(0)
				return assertionError{"value changed between upgradable observation and upgrade"}
			}
			counter++
			l.UnlockExclusive(0)
			return nil
		})
	}

	// Five plain readers: always observe non-negative.
	for i := 0; i < 5; i++ {
		g.Go(func() error {
			l.LockShared(false)
			v := counter
			l.UnlockShared()
			if v < 0 {
				return assertionError{"plain reader observed a writer's in-flight value"}
			}
			return nil
		})
	}

	assert.NoError(t, g.Wait())
	assert.Equal(t, 15, counter, "10 writer increments + 5 upgrader increments")
	assert.Equal(t, uint64(0), l.State())
}

func TestRecursiveReadAcrossWaitingWriter(t *testing.T) {
	l := New()
	l.LockShared(true)

	writerDone := make(chan struct{})
	go func() {
		l.LockExclusive()
		l.UnlockExclusive(0)
		close(writerDone)
	}()

	// Give the writer a chance to queue and set PARKED_BIT.
	for i := 0; i < 200 && !hasParked(l.State()); i++ {
		time.Sleep(time.Millisecond)
	}
	assert.True(t, hasParked(l.State()), "writer should have parked by now")

	recursiveDone := make(chan struct{})
	go func() {
		l.LockShared(true) // must not block: recursive admission ignores PARKED_BIT
		l.UnlockShared()
		close(recursiveDone)
	}()

	select {
	case <-recursiveDone:
	case <-time.After(time.Second):
		t.Fatal("recursive shared acquire blocked behind a queued writer")
	}

	nonRecursiveBlocked := make(chan struct{})
	go func() {
		l.LockShared(false)
		l.UnlockShared()
		close(nonRecursiveBlocked)
	}()

	select {
	case <-nonRecursiveBlocked:
		t.Fatal("non-recursive shared acquire should have yielded to the queued writer")
	case <-time.After(50 * time.Millisecond):
	}

	l.UnlockShared() // release the original recursive hold; unblocks the writer
	<-writerDone
	<-nonRecursiveBlocked
	assert.Equal(t, uint64(0), l.State())
}

func TestTryUpgradeRaces(t *testing.T) {
	l := New()
	l.LockShared(false) // an extra plain reader present alongside the upgradable holder
	l.LockUpgradable()

	assert.False(t, l.TryUpgradableToExclusive(), "try-upgrade must fail with another reader present")
	assert.Equal(t, 2*oneReader+upgradableBit, l.State(), "failed try-upgrade leaves state untouched")

	l.UnlockShared()
	assert.True(t, l.TryUpgradableToExclusive(), "try-upgrade must succeed once the lone reader departs")
	assert.Equal(t, writerBit, l.State())

	l.UnlockExclusive(0)
	assert.Equal(t, uint64(0), l.State())
}

func TestNoPoisonOnUnwindRecovered(t *testing.T) {
	l := New()
	var value int

	func() {
		defer func() { recover() }()
		l.LockExclusive()
		defer l.UnlockExclusive(0)
		value = 42
		panic("simulated failure mid-critical-section")
	}()

	assert.Equal(t, uint64(0), l.State(), "release must still happen exactly once on an unwind")

	l.LockShared(false)
	assert.Equal(t, 42, value, "payload is untouched and observable after the unwind")
	l.UnlockShared()
}

func TestTimedAcquisitionTimesOut(t *testing.T) {
	l := New()
	l.LockExclusive()
	defer l.UnlockExclusive(0)

	ok := l.TryLockExclusiveFor(20 * time.Millisecond)
	assert.False(t, ok)

	ok = l.TryLockSharedFor(false, 20*time.Millisecond)
	assert.False(t, ok)
}

func TestFairReleaseOption(t *testing.T) {
	l := New()
	l.LockExclusive()

	woken := make(chan struct{})
	go func() {
		l.LockExclusive()
		l.UnlockExclusive(0)
		close(woken)
	}()

	for i := 0; i < 200 && !hasParked(l.State()); i++ {
		time.Sleep(time.Millisecond)
	}

	l.UnlockExclusiveFair(0)

	select {
	case <-woken:
	case <-time.After(time.Second):
		t.Fatal("fair release never handed off to the queued writer")
	}
}
