package virtioring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue() *Queue {
	return Bind(new(Page), new(Page), new(Page))
}

func TestPublishHeadAdvancesIdxByOne(t *testing.T) {
	q := newTestQueue()
	require.EqualValues(t, 0, q.Avail.Idx)

	q.PublishHead(0)
	assert.EqualValues(t, 1, q.Avail.Idx)
	assert.EqualValues(t, 0, q.Avail.Ring[0])

	q.PublishHead(0)
	assert.EqualValues(t, 2, q.Avail.Idx)
	assert.EqualValues(t, 0, q.Avail.Ring[1])
}

func TestDrainNextNoCompletion(t *testing.T) {
	q := newTestQueue()
	_, ok := q.DrainNext()
	assert.False(t, ok)
	assert.EqualValues(t, 0, q.Cursor())
}

func TestDrainNextOneCompletion(t *testing.T) {
	q := newTestQueue()
	q.Used.Ring[0] = UsedEntry{ID: 0, Len: 4}
	q.Used.Idx = 1

	entry, ok := q.DrainNext()
	require.True(t, ok)
	assert.EqualValues(t, 0, entry.ID)
	assert.EqualValues(t, 4, entry.Len)
	assert.EqualValues(t, 1, q.Cursor())

	_, ok = q.DrainNext()
	assert.False(t, ok)
}

func TestDrainNextWrapsAtDepth(t *testing.T) {
	q := newTestQueue()
	for i := 0; i < Depth+2; i++ {
		q.Used.Ring[uint16(i)%Depth] = UsedEntry{ID: 0, Len: uint32(i)}
		q.Used.Idx = uint16(i + 1)
		entry, ok := q.DrainNext()
		require.True(t, ok)
		assert.EqualValues(t, i, entry.Len)
	}
	assert.EqualValues(t, Depth+2, q.Cursor())
}

func TestReset(t *testing.T) {
	q := newTestQueue()
	q.PublishHead(0)
	q.Used.Idx = 1
	q.DrainNext()

	q.Reset()
	assert.EqualValues(t, 0, q.Avail.Idx)
	assert.EqualValues(t, 0, q.Used.Idx)
	assert.EqualValues(t, 0, q.Cursor())
}

func TestDescriptorFlags(t *testing.T) {
	q := newTestQueue()
	q.Desc[0] = Descriptor{Addr: 0x1000, Length: 24, Flags: DescFlagNext, Next: 1}
	q.Desc[1] = Descriptor{Addr: 0x2000, Length: 4, Flags: DescFlagWrite, Next: 0}

	assert.EqualValues(t, DescFlagNext, q.Desc[0].Flags)
	assert.EqualValues(t, 1, q.Desc[0].Next)
	assert.EqualValues(t, DescFlagWrite, q.Desc[1].Flags)
	assert.EqualValues(t, 0, q.Desc[1].Next)
}
