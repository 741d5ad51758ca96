// Package gpu implements the core of a kernel-resident driver for a
// memory-mapped paravirtualized virtio-GPU exposing a single linear
// framebuffer: device handshake and virtqueue bring-up, the
// descriptor/avail/used submission protocol, the dual-mode (kernel-init
// blocking vs. user-syscall sleeping) submission engine, and the
// per-process ownership gate over the framebuffer.
package gpu

import (
	"github.com/drewdorris/xv6-d00m/internal/logging"
	"github.com/drewdorris/xv6-d00m/internal/pagealloc"
	"github.com/drewdorris/xv6-d00m/internal/regwin"
	"github.com/drewdorris/xv6-d00m/internal/virtioring"
)

// Config configures a Driver. ProbeWindow and UsedWindow correspond to the
// two fixed MMIO register windows named in the data model; against real
// hardware these are regwin.NewMMIOWindow(physAddr), against a test
// harness they are a *SimulatedDevice (and, for the absent window, a
// NewAbsentWindow()).
type Config struct {
	ProbeWindow regwin.Window
	UsedWindow  regwin.Window

	QueueDepth        int
	FramebufferWidth  uint32
	FramebufferHeight uint32
	ResourceID        uint32

	Logger        *logging.Logger
	Observer      *Metrics
	PageAllocator pagealloc.Allocator
}

// DefaultConfig returns the reference configuration: W=320, H=200,
// QueueDepth=8, ResourceID=666, matching spec.md §3/§4.5.
func DefaultConfig() *Config {
	return &Config{
		QueueDepth:        virtioring.Depth,
		FramebufferWidth:  320,
		FramebufferHeight: 200,
		ResourceID:        666,
		PageAllocator:     pagealloc.MmapAllocator{},
	}
}
