// Package parkinglot implements a process-wide, hash-indexed wait queue
// keyed by address, in the spirit of the parking lot described (but not
// specified further) by the lock this package backs.
//
// Callers suspend themselves on a key with Park and are resumed by
// UnparkOne or UnparkFilter. Each key hashes to one of a fixed number of
// buckets; a bucket is a mutex-guarded FIFO list of waiters, each blocked
// on its own channel rather than an OS semaphore - the idiomatic Go
// equivalent of an OS-level wait queue.
//
// The sharding scheme (a fixed table of mutex-guarded buckets, each an
// intrusive list of channel-blocked waiters) is grounded on the sharded
// lock-queue pattern used elsewhere in this codebase's lineage for
// reducing contention on a single global lock, and on the ticket-lock
// waiter-channel idiom of keying a map of wake channels by an opaque id.
package parkinglot

import (
	"sync"
	"time"
)

// Token carries caller-defined data between Park and the UnparkOne /
// UnparkFilter callback that wakes it. Its meaning is entirely up to the
// caller; the parking lot itself never inspects it.
type Token any

// ParkResult is the outcome of a Park call.
type ParkResult int

const (
	// ResultUnparked means the caller was woken by an Unpark* call and
	// received its token; ParkResult and the accompanying Token are both
	// valid.
	ResultUnparked ParkResult = iota
	// ResultInvalid means validate returned false: the caller never
	// queued and never slept.
	ResultInvalid
	// ResultTimedOut means the deadline passed before any unpark
	// delivered a token.
	ResultTimedOut
)

// UnparkResult reports queue-state observed while waking waiters, passed
// to the unparking caller's callback so it can decide further bookkeeping
// (e.g. whether to clear a "someone is parked" bit).
type UnparkResult struct {
	// UnparkedWaiters is how many waiters this call woke.
	UnparkedWaiters int
	// HaveMoreWaiters is true if, after this call's wakes, at least one
	// further waiter remains queued on the same key.
	HaveMoreWaiters bool
}

// FilterOp is returned by an UnparkFilter callback for each queued waiter,
// in enqueue order.
type FilterOp int

const (
	// FilterOpStop ends the scan; waiters not yet visited stay queued.
	FilterOpStop FilterOp = iota
	// FilterOpUnpark wakes this waiter and continues scanning.
	FilterOpUnpark
	// FilterOpSkip leaves this waiter queued and continues scanning.
	FilterOpSkip
)

const numBuckets = 256 // power of two; see bucketFor

type waiter struct {
	next, prev *waiter
	key        uintptr
	parkToken  Token
	wake       chan Token
	linked     bool
}

type bucket struct {
	mu         sync.Mutex
	head, tail *waiter
}

var buckets [numBuckets]bucket

// bucketFor hashes an address key to one of the fixed buckets using
// Fibonacci hashing, which spreads pointer-derived keys (which tend to
// share low bits due to alignment) well across the table.
func bucketFor(key uintptr) *bucket {
	const fib64 = 0x9E3779B97F4A7C15
	h := (uint64(key) * fib64) >> 56
	return &buckets[h%numBuckets]
}

func (b *bucket) pushBack(w *waiter) {
	w.linked = true
	if b.tail == nil {
		b.head, b.tail = w, w
		return
	}
	w.prev = b.tail
	b.tail.next = w
	b.tail = w
}

// unlink removes w from its bucket's list. Caller holds b.mu.
func (b *bucket) unlink(w *waiter) {
	if w.prev != nil {
		w.prev.next = w.next
	} else {
		b.head = w.next
	}
	if w.next != nil {
		w.next.prev = w.prev
	} else {
		b.tail = w.prev
	}
	w.next, w.prev = nil, nil
	w.linked = false
}

func (b *bucket) firstForKey(key uintptr) *waiter {
	for w := b.head; w != nil; w = w.next {
		if w.key == key {
			return w
		}
	}
	return nil
}

// Park suspends the caller on key.
//
// validate runs under the bucket's internal lock immediately before
// enqueueing; if it returns false the caller never sleeps (this closes the
// classic wake/park race: if the state already changed in the caller's
// favor, validate sees it and Park returns ResultInvalid instead of
// sleeping forever). beforeSleep, if non-nil, runs after enqueueing but
// before blocking, with the bucket lock released.
//
// If deadline is non-nil and is reached before a wake arrives, timedOut is
// invoked under the bucket's internal lock, after this waiter has been
// removed, with wasLastWaiter reporting whether the key's queue is now
// empty - the place to clear any "someone is parked" bit, while no
// concurrent parker can enqueue. Park then returns ResultTimedOut.
func Park(
	key uintptr,
	validate func() bool,
	beforeSleep func(),
	timedOut func(key uintptr, wasLastWaiter bool),
	parkToken Token,
	deadline *time.Time,
) (ParkResult, Token) {
	b := bucketFor(key)
	b.mu.Lock()
	if validate != nil && !validate() {
		b.mu.Unlock()
		return ResultInvalid, nil
	}
	w := &waiter{key: key, parkToken: parkToken, wake: make(chan Token, 1)}
	b.pushBack(w)
	b.mu.Unlock()

	if beforeSleep != nil {
		beforeSleep()
	}

	if deadline == nil {
		return ResultUnparked, <-w.wake
	}

	d := time.Until(*deadline)
	if d <= 0 {
		// Deadline already passed: still give the queue one honest
		// chance to race a concurrent wake against our removal.
		d = 0
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case token := <-w.wake:
		return ResultUnparked, token
	case <-timer.C:
		b.mu.Lock()
		if w.linked {
			b.unlink(w)
			if timedOut != nil {
				timedOut(key, b.firstForKey(key) == nil)
			}
			b.mu.Unlock()
			return ResultTimedOut, nil
		}
		b.mu.Unlock()
		// A concurrent unpark already dequeued us; it is guaranteed to
		// have buffered (or be about to buffer) our token, so this
		// receive cannot block indefinitely.
		return ResultUnparked, <-w.wake
	}
}

// UnparkOne wakes at most one waiter parked on key, in FIFO order.
// callback runs under the bucket's internal lock with the observed
// UnparkResult and returns the token delivered to the woken waiter (or nil
// if nothing was woken); it is the appropriate place to perform the state
// mutation that constitutes a direct handoff, since no other thread can
// interleave while the bucket lock is held.
func UnparkOne(key uintptr, callback func(UnparkResult) Token) UnparkResult {
	b := bucketFor(key)
	b.mu.Lock()
	w := b.firstForKey(key)
	if w == nil {
		res := UnparkResult{}
		if callback != nil {
			callback(res)
		}
		b.mu.Unlock()
		return res
	}
	b.unlink(w)
	res := UnparkResult{
		UnparkedWaiters: 1,
		HaveMoreWaiters: b.firstForKey(key) != nil,
	}
	var token Token
	if callback != nil {
		token = callback(res)
	}
	w.wake <- token
	b.mu.Unlock()
	return res
}

// UnparkFilter walks waiters parked on key in enqueue order, applying
// filter to each; FilterOpUnpark marks that waiter to be woken once the
// scan finishes (or stops at FilterOpStop). callback observes the final
// UnparkResult, under the same bucket lock as filter and before any waiter
// actually wakes, and returns the token every woken waiter receives - the
// appropriate place to perform the state mutation that constitutes a
// direct handoff, since no other thread can interleave while the bucket
// lock is held.
func UnparkFilter(key uintptr, filter func(parkToken Token) FilterOp, callback func(UnparkResult) Token) {
	b := bucketFor(key)
	b.mu.Lock()
	var woken []*waiter
scan:
	for w := b.head; w != nil; {
		next := w.next
		if w.key == key {
			switch filter(w.parkToken) {
			case FilterOpUnpark:
				b.unlink(w)
				woken = append(woken, w)
			case FilterOpStop:
				break scan
			case FilterOpSkip:
				// leave queued, keep scanning
			}
		}
		w = next
	}
	res := UnparkResult{
		UnparkedWaiters: len(woken),
		HaveMoreWaiters: b.firstForKey(key) != nil,
	}
	var token Token
	if callback != nil {
		token = callback(res)
	}
	for _, w := range woken {
		w.wake <- token
	}
	b.mu.Unlock()
}
