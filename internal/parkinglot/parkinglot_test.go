package parkinglot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sync/errgroup"
)

type wakeResult struct {
	enqueuePos int
	wakeToken  int
}

func TestParkUnparkOneFIFO(t *testing.T) {
	key := uintptr(0x1000)
	const n = 5
	results := make(chan wakeResult, n)

	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		ready := make(chan struct{})
		g.Go(func() error {
			_, tok := Park(key, func() bool { return true }, func() { close(ready) }, nil, i, nil)
			results <- wakeResult{enqueuePos: i, wakeToken: tok.(int)}
			return nil
		})
		<-ready // serialize enqueue order across goroutines
	}

	for call := 0; call < n; call++ {
		call := call
		res := UnparkOne(key, func(UnparkResult) Token { return call })
		assert.Equal(t, 1, res.UnparkedWaiters)
	}
	assert.NoError(t, g.Wait())
	close(results)

	for r := range results {
		assert.Equal(t, r.enqueuePos, r.wakeToken,
			"the i-th UnparkOne call must wake the i-th-enqueued waiter")
	}
}

func TestParkValidateFalseNeverSleeps(t *testing.T) {
	key := uintptr(0x1234)
	result, tok := Park(key, func() bool { return false }, nil, nil, "x", nil)
	assert.Equal(t, ResultInvalid, result)
	assert.Nil(t, tok)
}

func TestParkTimesOut(t *testing.T) {
	key := uintptr(0x5678)
	deadline := time.Now().Add(20 * time.Millisecond)
	result, _ := Park(key, func() bool { return true }, nil, func(k uintptr, wasLast bool) {
		assert.Equal(t, key, k)
		assert.True(t, wasLast)
	}, nil, &deadline)
	assert.Equal(t, ResultTimedOut, result)
}

func TestUnparkFilterStopsEarly(t *testing.T) {
	key := uintptr(0x9999)
	var g errgroup.Group
	woken := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		ready := make(chan struct{})
		g.Go(func() error {
			_, tok := Park(key, func() bool { return true }, func() { close(ready) }, nil, i, nil)
			woken <- tok.(int)
			return nil
		})
		<-ready
	}

	var scanned []int
	UnparkFilter(key, func(tok Token) FilterOp {
		scanned = append(scanned, tok.(int))
		if len(scanned) == 1 {
			return FilterOpUnpark
		}
		return FilterOpStop
	}, func(res UnparkResult) Token {
		assert.Equal(t, 1, res.UnparkedWaiters)
		assert.True(t, res.HaveMoreWaiters)
		return 0
	})
	assert.Equal(t, []int{0, 1}, scanned, "filter must scan in FIFO enqueue order, stopping where it said Stop")
	assert.Equal(t, 0, <-woken)

	// Drain the remaining two so the goroutines don't leak past the test.
	for i := 0; i < 2; i++ {
		UnparkOne(key, func(UnparkResult) Token { return i })
	}
	assert.NoError(t, g.Wait())
}
