package stm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGlobalClockMonotone(t *testing.T) {
	g := newGlobalClock()
	assert.Equal(t, uint64(0), g.snapshot())

	assert.Equal(t, uint64(1), g.tick())
	assert.Equal(t, uint64(2), g.tick())
	assert.Equal(t, uint64(2), g.snapshot())
}

func TestGlobalClockConcurrentTicksAreDistinct(t *testing.T) {
	g := newGlobalClock()
	const n = 500

	seen := make([]uint64, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			seen[i] = g.tick()
		}(i)
	}
	wg.Wait()

	unique := make(map[uint64]struct{}, n)
	for _, v := range seen {
		unique[v] = struct{}{}
	}
	assert.Len(t, unique, n, "every concurrent tick must return a distinct post-increment value")
	assert.Equal(t, uint64(n), g.snapshot())
}
