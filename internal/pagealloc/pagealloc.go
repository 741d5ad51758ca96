// Package pagealloc provides the page-sized, page-aligned memory the core
// driver needs for its virtqueue pages and framebuffer, standing in for the
// kernel memory allocator that spec.md names as an external collaborator
// out of scope for this core. MmapAllocator's regions are virtually
// contiguous only; physical contiguity is not guaranteed.
package pagealloc

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PageSize matches virtioring.PageSize; duplicated here so this package
// does not import virtioring.
const PageSize = 4096

// Allocator returns page-sized, zero-initialized, page-aligned regions.
// Addr is the region's base address in this process's (or, on real
// hardware, the kernel's) address space; Mem is the same region as a byte
// slice for direct access.
type Allocator interface {
	Pages(count int) (addr uintptr, mem []byte, err error)
	Free(mem []byte) error
}

// MmapAllocator backs Allocator with anonymous, page-aligned mmap regions,
// the same raw-syscall approach the teacher's queue runner uses to map
// ublk's shared ring pages, redirected here at standing in for the kernel
// allocator outside of an actual kernel build.
type MmapAllocator struct{}

func (MmapAllocator) Pages(count int) (uintptr, []byte, error) {
	if count <= 0 {
		return 0, nil, fmt.Errorf("pagealloc: count must be positive, got %d", count)
	}
	mem, err := unix.Mmap(-1, 0, count*PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return 0, nil, fmt.Errorf("pagealloc: mmap %d pages: %w", count, err)
	}
	return uintptr(unsafe.Pointer(&mem[0])), mem, nil
}

func (MmapAllocator) Free(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	return unix.Munmap(mem)
}

var _ Allocator = MmapAllocator{}
