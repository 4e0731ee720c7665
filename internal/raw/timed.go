package raw

import "time"

// TryLockSharedFor blocks up to d for shared access.
func (l *RawRwLock) TryLockSharedFor(recursive bool, d time.Duration) bool {
	deadline := time.Now().Add(d)
	return l.TryLockSharedUntil(recursive, deadline)
}

// TryLockSharedUntil blocks until deadline for shared access.
func (l *RawRwLock) TryLockSharedUntil(recursive bool, deadline time.Time) bool {
	if l.TryLockShared(recursive) {
		return true
	}
	return l.lockSharedSlow(recursive, &deadline)
}

// TryLockExclusiveFor blocks up to d for exclusive access.
func (l *RawRwLock) TryLockExclusiveFor(d time.Duration) bool {
	deadline := time.Now().Add(d)
	return l.TryLockExclusiveUntil(deadline)
}

// TryLockExclusiveUntil blocks until deadline for exclusive access.
func (l *RawRwLock) TryLockExclusiveUntil(deadline time.Time) bool {
	if l.TryLockExclusive() {
		return true
	}
	return l.lockExclusiveSlow(&deadline)
}

// TryLockUpgradableFor blocks up to d for upgradable-read access.
func (l *RawRwLock) TryLockUpgradableFor(d time.Duration) bool {
	deadline := time.Now().Add(d)
	return l.TryLockUpgradableUntil(deadline)
}

// TryLockUpgradableUntil blocks until deadline for upgradable-read access.
func (l *RawRwLock) TryLockUpgradableUntil(deadline time.Time) bool {
	if l.TryLockUpgradable() {
		return true
	}
	return l.lockUpgradableSlow(&deadline)
}
