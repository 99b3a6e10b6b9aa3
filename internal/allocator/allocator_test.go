package allocator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rterrors "github.com/orizon-lang/classrt/internal/errors"
)

// TestSystemAllocator tests the system allocator implementation
func TestSystemAllocator(t *testing.T) {
	t.Run("ReserveAndRelease", func(t *testing.T) {
		a := NewSystemAllocator(WithMemoryLimit(0))

		h, err := a.Reserve("chain", 20)
		require.NoError(t, err)
		require.NotZero(t, h)

		stats := a.Stats()
		assert.Equal(t, uintptr(24), stats.BytesInUse, "size is aligned to 8")
		assert.Equal(t, 1, stats.ActiveAllocations)
		assert.Equal(t, uint64(1), stats.AllocationCount)

		a.Release(h)
		stats = a.Stats()
		assert.Zero(t, stats.BytesInUse)
		assert.Zero(t, stats.ActiveAllocations)
		assert.Equal(t, uint64(1), stats.FreeCount)
		assert.Equal(t, 1, stats.PeakAllocations)
	})

	t.Run("ReleaseUnknownHandle", func(t *testing.T) {
		a := NewSystemAllocator()
		a.Release(0)
		a.Release(42)
		assert.Zero(t, a.Stats().FreeCount)
	})

	t.Run("HandlesAreUnique", func(t *testing.T) {
		a := NewSystemAllocator(WithMemoryLimit(0))
		seen := make(map[Handle]bool)
		for i := 0; i < 100; i++ {
			h, err := a.Reserve("chain", 8)
			require.NoError(t, err)
			require.False(t, seen[h], "handle %d issued twice", h)
			seen[h] = true
		}
	})

	t.Run("Alignment", func(t *testing.T) {
		a := NewSystemAllocator(WithMemoryLimit(0), WithAlignment(16))
		_, err := a.Reserve("chain", 17)
		require.NoError(t, err)
		assert.Equal(t, uintptr(32), a.Stats().BytesInUse)
	})
}

func TestMemoryLimit(t *testing.T) {
	a := NewSystemAllocator(WithMemoryLimit(64))

	h1, err := a.Reserve("chain", 32)
	require.NoError(t, err)
	_, err = a.Reserve("chain", 32)
	require.NoError(t, err)

	_, err = a.Reserve("storage", 8)
	require.Error(t, err)
	assert.True(t, rterrors.IsOutOfMemory(err))
	assert.Equal(t, uint64(1), a.Stats().FailedCount)
	assert.Equal(t, uintptr(64), a.Stats().BytesInUse, "failed reservation must not be accounted")

	a.Release(h1)
	_, err = a.Reserve("storage", 8)
	assert.NoError(t, err)

	_, err = a.Reserve("huge", ^uintptr(0))
	assert.True(t, rterrors.IsOutOfMemory(err), "overflowing size must fail")
}

func TestConcurrentReservations(t *testing.T) {
	a := NewSystemAllocator(WithMemoryLimit(8 * 100))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, failed int
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Reserve("chain", 8)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				return
			}
			ok++
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, ok)
	assert.Equal(t, 100, failed)
	assert.Equal(t, uintptr(800), a.Stats().BytesInUse)
}

func TestCheckLeaks(t *testing.T) {
	a := NewSystemAllocator(WithMemoryLimit(0), WithDebug(true))
	assert.Equal(t, "No memory leaks detected", FormatLeaks(a.CheckLeaks()))

	h, err := a.Reserve("chain block for B", 16)
	require.NoError(t, err)

	leaks := a.CheckLeaks()
	require.Len(t, leaks, 1)
	assert.Equal(t, h, leaks[0].Handle)
	assert.Equal(t, "chain block for B", leaks[0].What)
	assert.NotEmpty(t, leaks[0].StackTrace)

	report := FormatLeaks(leaks)
	assert.Contains(t, report, "Detected 1 memory leaks")
	assert.Contains(t, report, "chain block for B")
	assert.Contains(t, report, "Stack trace:")

	a.Release(h)
	assert.Empty(t, a.CheckLeaks())
}

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uintptr(0), alignUp(0, 8))
	assert.Equal(t, uintptr(8), alignUp(1, 8))
	assert.Equal(t, uintptr(8), alignUp(8, 8))
	assert.Equal(t, uintptr(16), alignUp(9, 8))
}
