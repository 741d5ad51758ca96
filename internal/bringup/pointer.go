package bringup

import "unsafe"

// pointerOf returns the unsafe.Pointer to mem's backing array. mem must be
// at least one page long, as every Allocator.Pages(1) result is.
func pointerOf(mem []byte) unsafe.Pointer {
	return unsafe.Pointer(&mem[0])
}
