// Package virtioring implements the split virtqueue: a descriptor table and
// two rings, laid out bit-exact to the virtio specification, plus the
// driver-side bookkeeping (publish head, drain used entries) needed to
// submit one descriptor chain at a time and observe its completion.
package virtioring

import "unsafe"

// Depth is the queue's fixed depth N. A small power of two not exceeding
// the device's reported maximum, per invariant 5 of the data model; this
// core does not support dynamic queue sizing (Non-goal).
const Depth = 8

// Descriptor flags.
const (
	DescFlagNext  uint16 = 1 << 0 // chained: Next names another descriptor
	DescFlagWrite uint16 = 1 << 1 // device writes into this buffer
)

// Descriptor is one entry of the descriptor table: {address, length, flags,
// next}, 16 bytes, bit-exact to the virtio specification.
type Descriptor struct {
	Addr   uint64
	Length uint32
	Flags  uint16
	Next   uint16
}

var _ [16]byte = [unsafe.Sizeof(Descriptor{})]byte{}

// DescriptorTable is the fixed-depth array of descriptors.
type DescriptorTable [Depth]Descriptor

// AvailableRing is the driver-to-device notification area: a monotonically
// increasing 16-bit idx and a ring of published chain-head indices.
type AvailableRing struct {
	Flags uint16
	Idx   uint16
	Ring  [Depth]uint16
}

// UsedEntry is one completion record the device writes: the chain head id
// it consumed and the length it wrote back.
type UsedEntry struct {
	ID  uint32
	Len uint32
}

// UsedRing is the device-to-driver completion area.
type UsedRing struct {
	Flags uint16
	Idx   uint16
	Ring  [Depth]UsedEntry
}

// PageSize is the fixed page size backing each ring structure. Each of the
// three rings occupies exactly one page, zero-initialized and page-aligned.
const PageSize = 4096

// Page is one zero-initialized, page-aligned page of shared memory.
type Page [PageSize]byte

// Queue binds the three shared pages and tracks the driver-side used-ring
// read cursor. The cursor is monotonic and 32-bit; only its low 16 bits are
// ever compared against the device's 16-bit Used.Idx, which is sufficient
// because both counters advance in lockstep one entry at a time.
type Queue struct {
	Desc  *DescriptorTable
	Avail *AvailableRing
	Used  *UsedRing

	cursor uint32
}

// Bind interprets three already-allocated pages as the descriptor table,
// available ring, and used ring respectively. The pages must be
// zero-initialized before binding, matching the bring-up requirement that
// all three rings start zeroed.
func Bind(descPage, availPage, usedPage *Page) *Queue {
	return &Queue{
		Desc:  (*DescriptorTable)(unsafe.Pointer(descPage)),
		Avail: (*AvailableRing)(unsafe.Pointer(availPage)),
		Used:  (*UsedRing)(unsafe.Pointer(usedPage)),
	}
}

// Reset re-zeroes all three rings and the read cursor, for symmetry with
// bring-up; nothing in the core calls this (only tests do), since the
// driver never re-initializes a live queue.
func (q *Queue) Reset() {
	*q.Desc = DescriptorTable{}
	*q.Avail = AvailableRing{}
	*q.Used = UsedRing{}
	q.cursor = 0
}

// PublishHead publishes one descriptor-chain head to the available ring:
// write the ring slot, fence, then increment idx, then fence again — the
// ordering invariant 6 requires (ring[] write ordered before the idx that
// advertises it, and the whole publication ordered before the MMIO notify
// that follows).
func (q *Queue) PublishHead(head uint16) {
	q.Avail.Ring[q.Avail.Idx%Depth] = head
	Fence()
	q.Avail.Idx++
	Fence()
}

// Cursor returns the driver's current used-ring read position.
func (q *Queue) Cursor() uint32 { return q.cursor }

// DrainNext returns the next unread used-ring entry, if the device has
// written one since the last drain. It fences before comparing so it
// observes a completion the device published concurrently.
func (q *Queue) DrainNext() (UsedEntry, bool) {
	Fence()
	if uint16(q.cursor) == q.Used.Idx {
		return UsedEntry{}, false
	}
	e := q.Used.Ring[q.cursor%Depth]
	q.cursor++
	return e, true
}
