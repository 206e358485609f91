package cmap

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrComputeRunsOnce(t *testing.T) {
	m := New[string, int](16, StringHasher)
	var calls int32
	var wg sync.WaitGroup
	results := make([]int, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := m.GetOrCompute("key", func() (int, error) {
				atomic.AddInt32(&calls, 1)
				return 42, nil
			})
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 1, calls)
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
}

func TestGetOrComputePropagatesError(t *testing.T) {
	m := New[string, int](16, StringHasher)
	_, err := m.GetOrCompute("key", func() (int, error) { return 0, assert.AnError })
	assert.Equal(t, assert.AnError, err)
}

func TestGetReportsAbsentForUncomputedKey(t *testing.T) {
	m := New[string, int](16, StringHasher)
	_, ok := m.Get("key")
	assert.False(t, ok)
}

func TestLenAndValues(t *testing.T) {
	m := New[string, int](16, StringHasher)
	m.GetOrCompute("a", func() (int, error) { return 1, nil })
	m.GetOrCompute("b", func() (int, error) { return 2, nil })
	assert.Equal(t, 2, m.Len())
	assert.ElementsMatch(t, []int{1, 2}, m.Values())
}
