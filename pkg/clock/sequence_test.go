package clock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssignIsMonotonicAndContiguous(t *testing.T) {
	a := NewSequenceAllocator(0)

	first := a.Assign(1)
	assert.Equal(t, uint64(1), first)

	start := a.Assign(3)
	assert.Equal(t, uint64(2), start)
	assert.Equal(t, uint64(4), a.LastSequence())
}

func TestAssignUnderConcurrencyYieldsNSeqNumbers(t *testing.T) {
	a := NewSequenceAllocator(0)
	const writers = 64

	var wg sync.WaitGroup
	seen := make(chan uint64, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- a.Assign(1)
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[uint64]bool)
	for s := range seen {
		assert.False(t, unique[s], "sequence %d assigned twice", s)
		unique[s] = true
	}
	assert.Len(t, unique, writers)
	assert.Equal(t, uint64(writers), a.LastSequence())
}

func TestSetLastSequenceOnlyAdvances(t *testing.T) {
	a := NewSequenceAllocator(10)
	a.SetLastSequence(5)
	assert.Equal(t, uint64(10), a.LastSequence())

	a.SetLastSequence(20)
	assert.Equal(t, uint64(20), a.LastSequence())
}
