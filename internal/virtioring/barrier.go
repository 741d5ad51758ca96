package virtioring

import "sync/atomic"

var fenceWord uint32

// Fence issues a full memory fence: every load/store program-ordered before
// a Fence call becomes visible to the device before every load/store
// program-ordered after it. sync/atomic operations carry acquire/release
// semantics on every architecture Go targets, which is what stands in here
// for the dsb()/mfence instruction a bare-metal build would issue — the
// same tradeoff iansmith-mazarin's dsb() wrapper and usbarmory-tamago's
// atomic-backed register package both make to stay out of cgo/asm.
func Fence() {
	atomic.AddUint32(&fenceWord, 1)
}
