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

// Package raw implements the lock-free state word and park/unpark protocol
// underlying a task-fair, eventually-fair reader-writer lock.
//
// The entire lock state - how many readers hold it, whether a writer or an
// upgradable reader holds it, and whether anyone is parked waiting for it -
// lives in a single packed word:
//
//	|63       36|35                     4|3         |2         |1                    |0         |
//	   unused    \      SHARED_COUNT     / UPGRADABLE   WRITER     UPGRADABLE_PARKED    PARKED
//
// All fast-path acquire/release operations are a single compare-and-swap
// against this word. Contention escalates to the slow paths in slowpath.go,
// which park callers on the process-wide queue in ../parkinglot.
package raw

const (
	parkedBit           uint64 = 1 << 0
	upgradableParkedBit uint64 = 1 << 1
	writerBit           uint64 = 1 << 2
	upgradableBit       uint64 = 1 << 3

	readersShift uint64 = 4
	oneReader    uint64 = 1 << readersShift

	// readers are capped at a half-word: the bottom 4 bits are flags, the
	// next 32 bits (4..35) hold the count, and the top 28 bits (36..63) are
	// reserved/unused. Reader counts beyond a half-word are out of scope; the
	// field never grows past 32 bits.
	readersMask uint64 = 0xFFFFFFFF << readersShift
	maxReaders  uint64 = 0xFFFFFFFF
)

// readers extracts the SHARED_COUNT field.
func readers(state uint64) uint64 {
	return (state & readersMask) >> readersShift
}

func hasWriter(state uint64) bool {
	return state&writerBit != 0
}

func hasUpgradable(state uint64) bool {
	return state&upgradableBit != 0
}

func hasParked(state uint64) bool {
	return state&parkedBit != 0
}

func hasUpgradableParked(state uint64) bool {
	return state&upgradableParkedBit != 0
}

// compatibleWithSharedFast reports whether a non-recursive shared acquire
// may proceed on the fast path: no writer, and no one already parked on the
// shared/exclusive key (task-fairness: new readers yield to waiting
// writers).
func compatibleWithSharedFast(state uint64) bool {
	return !hasWriter(state) && !hasParked(state) && readers(state) != maxReaders
}

// compatibleWithSharedRecursive ignores PARKED_BIT: a recursive reader only
// ever yields to an actual writer, never to a merely-queued one.
func compatibleWithSharedRecursive(state uint64) bool {
	return !hasWriter(state) && readers(state) != maxReaders
}

func compatibleWithExclusive(state uint64) bool {
	return state == 0
}

func compatibleWithUpgradable(state uint64) bool {
	return !hasWriter(state) && !hasUpgradable(state) && !hasUpgradableParked(state) && readers(state) != maxReaders
}

// readyForExclusive reports whether state has no readers, no writer and no
// upgradable holder - the condition a release must reach before a parked
// exclusive waiter can be granted, independent of PARKED_BIT itself (which
// only records queue occupancy, not eligibility).
func readyForExclusive(state uint64) bool {
	return readers(state) == 0 && !hasWriter(state) && !hasUpgradable(state)
}
