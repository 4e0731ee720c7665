package raw

import (
	"math/rand"
	"runtime"
	"time"

	"go.uber.org/atomic"
)

const (
	// FairIntervalMax bounds how long an unfair release is allowed to keep
	// winning the race against a queued waiter before this package forces
	// a fair release anyway. The actual interval used is re-rolled
	// uniformly in [0, FairIntervalMax) after every fair release.
	FairIntervalMax = time.Millisecond

	// LongCriticalSection is the held-duration above which a release is
	// always treated as fair, regardless of the timer: a critical section
	// this long has already paid for a context switch many times over.
	LongCriticalSection = time.Millisecond

	// SpinLimit bounds the number of adaptive-spin attempts a slow path
	// makes before parking. Grounded on the classic Go runtime mutex spin
	// budget (active_spin / active_spin_cnt in the runtime's futex and
	// semaphore-based lock implementations): a handful of active spins,
	// each backing off, buys a cheap escape from micro-contention without
	// risking a long busy-loop.
	SpinLimit = 40
)

// fairnessClock decides, per lock, whether the next contended release
// should be a fair (direct handoff) release even though the caller didn't
// explicitly ask for one. It is stored once per RawRwLock rather than once
// per OS thread: goroutines are not pinned to OS threads, so there is no
// cheap, meaningful place to hang per-thread state from in Go.
type fairnessClock struct {
	deadline atomic.Int64 // UnixNano; 0 means "due now"
}

// due reports whether a release with the given held duration should be
// forced fair by the eventual-fairness policy (as opposed to by explicit
// request).
func (f *fairnessClock) due(held time.Duration) bool {
	if held >= LongCriticalSection {
		return true
	}
	return time.Now().UnixNano() >= f.deadline.Load()
}

// reseed re-rolls the deadline; called after each fair release so the next
// threshold is a fresh random draw rather than a stale one.
func (f *fairnessClock) reseed() {
	interval := time.Duration(rand.Int63n(int64(FairIntervalMax)))
	f.deadline.Store(time.Now().Add(interval).UnixNano())
}

// spin performs one bounded, back-off adaptive spin attempt. It returns
// false once the caller has exhausted its spin budget and should park
// instead.
func spin(attempt int) bool {
	if attempt >= SpinLimit {
		return false
	}
	if attempt < 10 {
		for i := 0; i < 1<<uint(attempt); i++ {
			procyield()
		}
	} else {
		runtime.Gosched()
	}
	return true
}

// procyield is a cheap CPU-level pause hint. Go has no portable
// PAUSE/YIELD intrinsic exposed to user code, so this is an empty function
// and the busy-wait is spin()'s own loop of calls to it; the runtime's own
// scheduler-level Gosched is reserved for the later, coarser spin attempts
// in spin() above.
func procyield() {}
