package pagealloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMmapAllocatorPagesSizeAndAlignment(t *testing.T) {
	var a MmapAllocator
	addr, mem, err := a.Pages(3)
	require.NoError(t, err)
	defer a.Free(mem)

	assert.Len(t, mem, 3*PageSize)
	assert.EqualValues(t, 0, addr%PageSize, "mmap regions must be page-aligned")
	assert.EqualValues(t, uintptr(0), addr%PageSize)
}

func TestMmapAllocatorPagesAreZeroed(t *testing.T) {
	var a MmapAllocator
	_, mem, err := a.Pages(1)
	require.NoError(t, err)
	defer a.Free(mem)

	for i, b := range mem {
		if b != 0 {
			t.Fatalf("byte %d not zero-initialized: %x", i, b)
		}
	}
}

func TestMmapAllocatorRejectsNonPositiveCount(t *testing.T) {
	var a MmapAllocator
	_, _, err := a.Pages(0)
	assert.Error(t, err)

	_, _, err = a.Pages(-1)
	assert.Error(t, err)
}

func TestMmapAllocatorFreeNoopOnEmpty(t *testing.T) {
	var a MmapAllocator
	assert.NoError(t, a.Free(nil))
}

func TestMmapAllocatorRoundTrip(t *testing.T) {
	var a MmapAllocator
	_, mem, err := a.Pages(1)
	require.NoError(t, err)

	mem[0] = 0xAB
	assert.EqualValues(t, 0xAB, mem[0])

	require.NoError(t, a.Free(mem))
}
