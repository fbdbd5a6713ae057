package quota

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncrementWithinLimit(t *testing.T) {
	c := New(Limits{Reads: 3, Writes: 1})

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Increment(Read, 1))
	}
	assert.Equal(t, int64(3), c.Used(Read))
	assert.Equal(t, int64(0), c.Used(Write))
}

func TestIncrementOverLimitStillCounts(t *testing.T) {
	c := New(Limits{Writes: 1})

	require.NoError(t, c.Increment(Write, 1))
	err := c.Increment(Write, 1)
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrExceeded))
	assert.True(t, IsExceeded(fmt.Errorf("wrapped: %w", err)))

	var exceeded *ExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, Write, exceeded.Kind)
	assert.Equal(t, int64(2), exceeded.Used)
	assert.Equal(t, int64(1), exceeded.Limit)

	assert.Equal(t, int64(2), c.Used(Write), "attempted usage is recorded")
}

func TestZeroLimitIsUnbounded(t *testing.T) {
	c := New(Limits{})
	require.NoError(t, c.Increment(API, 1_000_000))
}

func TestNilCounters(t *testing.T) {
	var c *Counters
	assert.NoError(t, c.Increment(Read, 10))
	assert.Equal(t, int64(0), c.Used(Read))
}

func TestUnknownKind(t *testing.T) {
	c := New(DefaultLimits())
	err := c.Increment(Kind("bogus"), 1)
	require.Error(t, err)
	assert.False(t, IsExceeded(err))
}

func TestConcurrentIncrements(t *testing.T) {
	c := New(Limits{Reads: 500})

	var wg sync.WaitGroup
	var mu sync.Mutex
	exceeded := 0
	for i := 0; i < 1000; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Increment(Read, 1); err != nil {
				mu.Lock()
				exceeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1000), c.Used(Read))
	assert.Equal(t, 500, exceeded)
}

func TestSnapshot(t *testing.T) {
	c := New(DefaultLimits())
	require.NoError(t, c.Increment(Read, 2))
	require.NoError(t, c.Increment(Write, 1))
	require.NoError(t, c.Increment(API, 100))

	assert.Equal(t, Snapshot{Reads: 2, Writes: 1, API: 100}, c.Snapshot())
}
