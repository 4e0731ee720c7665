package raw

// mode identifies what a parked waiter is waiting for, so that wake policy
// can decide who to grant the lock to and in what order.
type mode int

const (
	modeShared mode = iota
	modeExclusive
	// modeUpgrading marks the single upgradable holder waiting for the
	// last other reader to depart so it can become the exclusive holder
	// (see transitions.go, upgradableToExclusiveImpl). It parks on the same
	// shared/exclusive key as ordinary readers and writers but must never
	// be granted or skipped the way they are.
	modeUpgrading
)

// parkToken is carried by every waiter parked by this package and
// inspected by whichever release wakes it.
type parkToken struct {
	mode mode
}

// unparkToken is delivered to a woken waiter. granted is true when the
// waker already performed the state transition on the waitee's behalf (a
// direct handoff / "be-fair" wake): the waitee must not retry the fast
// path, it already holds the lock. When granted is false the waiter simply
// lost a race for a chance to retry (the unfair wake policy) and loops
// back to its slow path.
type unparkToken struct {
	granted bool
}
