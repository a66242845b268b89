package ports

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocateIsIdempotentPerID(t *testing.T) {
	a := NewAllocator(8080)
	p1 := a.Allocate("sb-1")
	p2 := a.Allocate("sb-1")
	assert.Equal(t, p1, p2)
}

func TestAllocateAssignsDistinctPorts(t *testing.T) {
	a := NewAllocator(8080)
	p1 := a.Allocate("sb-1")
	p2 := a.Allocate("sb-2")
	assert.NotEqual(t, p1, p2)
}

func TestDeallocateReleasesIDMapping(t *testing.T) {
	a := NewAllocator(8080)
	p1 := a.Allocate("sb-1")
	a.Deallocate("sb-1")

	_, ok := a.Get("sb-1")
	assert.False(t, ok)

	p2 := a.Allocate("sb-2")
	assert.NotEqual(t, 0, p2)
	_ = p1
}

func TestGetReturnsFalseForUnknownID(t *testing.T) {
	a := NewAllocator(8080)
	_, ok := a.Get("missing")
	assert.False(t, ok)
}

func TestAllocatorIsSafeForConcurrentUse(t *testing.T) {
	a := NewAllocator(9000)
	var wg sync.WaitGroup
	results := make([]int, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = a.Allocate(string(rune('a' + i)))
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, p := range results {
		assert.False(t, seen[p], "port %d allocated twice", p)
		seen[p] = true
	}
}
