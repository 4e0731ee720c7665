package raw

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadersRoundTrips(t *testing.T) {
	for i := uint64(0); i < 1000; i++ {
		state := i * oneReader
		assert.Equal(t, i, readers(state))
	}
}

func TestCompatibleWithSharedFast(t *testing.T) {
	assert.True(t, compatibleWithSharedFast(0))
	assert.True(t, compatibleWithSharedFast(3*oneReader))
	assert.False(t, compatibleWithSharedFast(writerBit))
	assert.False(t, compatibleWithSharedFast(parkedBit), "task-fairness: readers yield to a queued writer")
	assert.True(t, compatibleWithSharedFast(upgradableBit+oneReader), "an upgradable holder doesn't block plain readers")
}

func TestCompatibleWithSharedRecursiveIgnoresParkedBit(t *testing.T) {
	assert.True(t, compatibleWithSharedRecursive(parkedBit), "recursive readers overtake a merely-queued writer")
	assert.False(t, compatibleWithSharedRecursive(writerBit), "recursive readers still yield to an actual writer")
}

func TestCompatibleWithExclusive(t *testing.T) {
	assert.True(t, compatibleWithExclusive(0))
	assert.False(t, compatibleWithExclusive(oneReader))
	assert.False(t, compatibleWithExclusive(parkedBit))
	assert.False(t, compatibleWithExclusive(upgradableBit))
}

func TestCompatibleWithUpgradable(t *testing.T) {
	assert.True(t, compatibleWithUpgradable(0))
	assert.True(t, compatibleWithUpgradable(3*oneReader), "plain readers don't block an upgradable acquire")
	assert.False(t, compatibleWithUpgradable(writerBit))
	assert.False(t, compatibleWithUpgradable(upgradableBit+oneReader), "at most one upgradable holder")
	assert.False(t, compatibleWithUpgradable(upgradableParkedBit))
}

func TestReadyForExclusive(t *testing.T) {
	assert.True(t, readyForExclusive(0))
	assert.True(t, readyForExclusive(parkedBit), "PARKED_BIT alone doesn't block eligibility")
	assert.False(t, readyForExclusive(oneReader))
	assert.False(t, readyForExclusive(writerBit))
	assert.False(t, readyForExclusive(upgradableBit+oneReader))
}
