package frwlock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sync/errgroup"
)

func TestSmoke(t *testing.T) {
	l := New(struct{}{})

	g1 := l.RLock()
	g1.Unlock()

	w := l.Lock()
	w.Unlock()

	u := l.ULock()
	u.Unlock()

	r1 := l.RLock()
	r2 := l.RLock()
	r1.Unlock()
	r2.Unlock()

	r3 := l.RLock()
	u2 := l.ULock()
	r3.Unlock()
	u2.Unlock()

	assert.Equal(t, uint64(0), l.State())
}

func TestContendedFrob(t *testing.T) {
	l := New(0)

	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			for j := 0; j < 1000; j++ {
				if j%10 == 0 {
					w := l.Lock()
					*w.Value()++
					w.Unlock()
				} else {
					r := l.RLock()
					_ = *r.Value()
					r.Unlock()
				}
			}
			return nil
		})
	}
	assert.NoError(t, g.Wait())
	assert.Equal(t, uint64(0), l.State())
}

func TestNoPoisonOnUnwind(t *testing.T) {
	l := New(0)

	func() {
		defer func() { recover() }()
		w := l.Lock()
		defer w.Unlock()
		*w.Value() = 42
		panic("simulated failure mid-critical-section")
	}()

	assert.Equal(t, uint64(0), l.raw.State())
	r := l.RLock()
	defer r.Unlock()
	assert.Equal(t, 42, *r.Value(), "payload survives an unwound critical section intact")
}

func TestDowngradeMonotonic(t *testing.T) {
	l := New(0)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for j := 0; j < 100; j++ {
				w := l.Lock()
				*w.Value()++
				written := *w.Value()
				r := w.Downgrade()
				observed := *r.Value()
				r.Unlock()
				assert.Equal(t, written, observed)
			}
			return nil
		})
	}
	assert.NoError(t, g.Wait())

	r := l.RLock()
	defer r.Unlock()
	assert.Equal(t, 800, *r.Value())
}

func TestUpgradableCoordination(t *testing.T) {
	l := New(0)

	var g errgroup.Group
	g.Go(func() error {
		for i := 0; i < 10; i++ {
			w := l.Lock()
			v := *w.Value()
			*w.Value() = -1
			*w.Value() = v + 1
			w.Unlock()
		}
		return nil
	})

	for i := 0; i < 5; i++ {
		g.Go(func() error {
			u := l.ULock()
			before := *u.Value()
			assert.GreaterOrEqual(t, before, 0)
			w := u.Upgrade()
			assert.Equal(t, before, *w.Value())
			*w.Value()++
			w.Unlock()
			return nil
		})
	}

	for i := 0; i < 5; i++ {
		g.Go(func() error {
			r := l.RLock()
			v := *r.Value()
			r.Unlock()
			assert.GreaterOrEqual(t, v, 0)
			return nil
		})
	}

	assert.NoError(t, g.Wait())
	r := l.RLock()
	defer r.Unlock()
	assert.Equal(t, 15, *r.Value())
}

func TestRecursiveReadAcrossWaitingWriter(t *testing.T) {
	l := New(0)
	outer := l.RLockRecursive()

	writerDone := make(chan struct{})
	go func() {
		w := l.Lock()
		w.Unlock()
		close(writerDone)
	}()

	for i := 0; i < 200 && l.State()&1 == 0; i++ {
		time.Sleep(time.Millisecond)
	}
	assert.NotZero(t, l.State()&1, "writer should have parked by now")

	recursiveDone := make(chan struct{})
	go func() {
		inner := l.RLockRecursive()
		inner.Unlock()
		close(recursiveDone)
	}()
	select {
	case <-recursiveDone:
	case <-time.After(time.Second):
		t.Fatal("recursive read blocked behind a queued writer")
	}

	plainBlocked := make(chan struct{})
	go func() {
		plain := l.RLock()
		plain.Unlock()
		close(plainBlocked)
	}()
	select {
	case <-plainBlocked:
		t.Fatal("non-recursive read should have yielded to the queued writer")
	case <-time.After(50 * time.Millisecond):
	}

	outer.Unlock()
	<-writerDone
	<-plainBlocked
	assert.Equal(t, uint64(0), l.State())
}

func TestTryUpgradeRaces(t *testing.T) {
	l := New(0)
	r := l.RLock()
	u := l.ULock()

	write, same := u.TryUpgrade()
	assert.Nil(t, write)
	assert.Same(t, u, same, "failed try-upgrade returns the original guard")

	r.Unlock()
	write, same = same.TryUpgrade()
	assert.Nil(t, same)
	assert.NotNil(t, write)
	write.Unlock()

	assert.Equal(t, uint64(0), l.State())
}

func TestTimedAcquisitionTimesOut(t *testing.T) {
	l := New(0)
	w := l.Lock()
	defer w.Unlock()

	_, ok := l.TryLockFor(20 * time.Millisecond)
	assert.False(t, ok)

	_, ok = l.TryRLockFor(20 * time.Millisecond)
	assert.False(t, ok)
}

func TestMapGuardProjectsSubView(t *testing.T) {
	type pair struct {
		A, B int
	}
	l := New(pair{A: 1, B: 2})

	w := l.Lock()
	bView := MapWriteGuard(w, func(p *pair) *int { return &p.B })
	*bView.Value() = 20
	bView.Unlock()

	r := l.RLock()
	aView := MapReadGuard(r, func(p *pair) *int { return &p.A })
	assert.Equal(t, 1, *aView.Value())
	aView.Unlock()

	r2 := l.RLock()
	defer r2.Unlock()
	assert.Equal(t, pair{A: 1, B: 20}, *r2.Value())
}
