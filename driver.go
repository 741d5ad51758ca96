package gpu

import (
	"unsafe"

	"github.com/drewdorris/xv6-d00m/internal/bringup"
	"github.com/drewdorris/xv6-d00m/internal/faulterr"
	"github.com/drewdorris/xv6-d00m/internal/gpucmd"
	"github.com/drewdorris/xv6-d00m/internal/logging"
	"github.com/drewdorris/xv6-d00m/internal/ownership"
	"github.com/drewdorris/xv6-d00m/internal/pagealloc"
	"github.com/drewdorris/xv6-d00m/internal/submit"
	"github.com/drewdorris/xv6-d00m/internal/virtioring"
)

// NotOwned is the sentinel ownership value meaning no process currently
// holds the framebuffer.
const NotOwned = ownership.NotOwned

// irqSource is implemented by register windows that cannot fire a real
// interrupt line and need the driver to hand them its ISR directly.
// SimulatedDevice implements it; MMIOWindow does not.
type irqSource interface {
	SetIrqHandler(func())
}

// Driver is the single instance created at bring-up: it owns the
// virtqueue, the submission engine, the ownership gate, and the static
// per-command-kind request buffers. The framebuffer is the only field
// handed out for foreign writes; everything else is reached only through
// the methods below, which gate access with the driver lock (held inside
// the submission engine) and the ownership gate.
type Driver struct {
	cfg     Config
	engine  *submit.Engine
	gate    *ownership.Gate
	metrics *Metrics
	log     *logging.Logger

	resourceID uint32
	fb         []byte
	fbAddr     uintptr

	reqCreate   gpucmd.ResourceCreate2D
	reqAttach   gpucmd.ResourceAttachBacking
	reqScanout  gpucmd.SetScanout
	reqTransfer gpucmd.TransferToHost2D
	reqFlush    gpucmd.ResourceFlush
}

// New runs the full bring-up sequence against cfg's two MMIO windows,
// installs the control queue, reserves the framebuffer, and issues the
// four initial commands (create 2D resource, attach backing, set scanout,
// transfer + flush) over the blocking submission path. A nil cfg uses
// DefaultConfig. Any bring-up failure is fatal, per §4.2/§7.
func New(cfg *Config) (*Driver, error) {
	c := resolveConfig(cfg)

	log := c.Logger
	if log == nil {
		log = logging.Default()
	}
	m := c.Observer
	if m == nil {
		m = NewMetrics()
	}
	alloc := c.PageAllocator
	if alloc == nil {
		alloc = pagealloc.MmapAllocator{}
	}

	hs, err := bringup.Run(c.ProbeWindow, c.UsedWindow, c.QueueDepth, alloc, log)
	if err != nil {
		return nil, err
	}

	d := &Driver{
		cfg:        c,
		gate:       ownership.New(m),
		metrics:    m,
		log:        log,
		resourceID: c.ResourceID,
	}
	d.engine = submit.New(hs.Window, hs.Queue, hs.Response, log, m)

	// Real hardware routes the MMIO interrupt line to ServiceInterrupt
	// through the kernel trap dispatcher, out of scope here. Test windows
	// that simulate a device instead ask to be wired directly, since the
	// init commands below must already be able to complete.
	if src, ok := hs.Window.(irqSource); ok {
		src.SetIrqHandler(d.engine.ISR)
	}

	fbSize := int(c.FramebufferWidth) * int(c.FramebufferHeight) * 4
	pages := (fbSize + pagealloc.PageSize - 1) / pagealloc.PageSize
	fbAddr, fb, err := alloc.Pages(pages)
	if err != nil {
		return nil, faulterr.Fatal("gpu.New", faulterr.ErrCodeConfigMismatch, err)
	}
	d.fb = fb[:fbSize]
	d.fbAddr = fbAddr

	d.runInitCommands()

	log.Info("driver ready", "width", c.FramebufferWidth, "height", c.FramebufferHeight, "resource_id", c.ResourceID)
	return d, nil
}

func resolveConfig(cfg *Config) Config {
	if cfg == nil {
		return *DefaultConfig()
	}
	c := *cfg
	if c.QueueDepth == 0 {
		c.QueueDepth = virtioring.Depth
	}
	if c.FramebufferWidth == 0 {
		c.FramebufferWidth = 320
	}
	if c.FramebufferHeight == 0 {
		c.FramebufferHeight = 200
	}
	if c.ResourceID == 0 {
		c.ResourceID = 666
	}
	return c
}

func (d *Driver) submitInit(ptr unsafe.Pointer, size uintptr) {
	d.engine.SubmitInit(uintptr(ptr), uint32(size))
}

func (d *Driver) submitSyscall(ptr unsafe.Pointer, size uintptr) {
	d.engine.SubmitSyscall(uintptr(ptr), uint32(size))
}

// runInitCommands issues the five command kinds described in §4.5 once,
// in order, over the blocking path: create 2D resource, attach backing,
// set scanout, transfer, flush.
func (d *Driver) runInitCommands() {
	d.reqCreate = gpucmd.ResourceCreate2D{
		ControlHeader: gpucmd.ControlHeader{Type: gpucmd.CmdResourceCreate2D},
		ResourceID:    d.resourceID,
		Format:        gpucmd.FormatB8G8R8A8Unorm,
		Width:         d.cfg.FramebufferWidth,
		Height:        d.cfg.FramebufferHeight,
	}
	d.submitInit(unsafe.Pointer(&d.reqCreate), unsafe.Sizeof(d.reqCreate))

	d.reqAttach = gpucmd.ResourceAttachBacking{
		ControlHeader: gpucmd.ControlHeader{Type: gpucmd.CmdResourceAttachBacking},
		ResourceID:    d.resourceID,
		NrEntries:     1,
		Entry: gpucmd.MemEntry{
			Addr:   uint64(d.fbAddr),
			Length: uint32(len(d.fb)),
		},
	}
	d.submitInit(unsafe.Pointer(&d.reqAttach), unsafe.Sizeof(d.reqAttach))

	rect := gpucmd.Rect{X: 0, Y: 0, Width: d.cfg.FramebufferWidth, Height: d.cfg.FramebufferHeight}

	d.reqScanout = gpucmd.SetScanout{
		ControlHeader: gpucmd.ControlHeader{Type: gpucmd.CmdSetScanout},
		Rect:          rect,
		ScanoutID:     0,
		ResourceID:    d.resourceID,
	}
	d.submitInit(unsafe.Pointer(&d.reqScanout), unsafe.Sizeof(d.reqScanout))

	d.reqTransfer = gpucmd.TransferToHost2D{
		ControlHeader: gpucmd.ControlHeader{Type: gpucmd.CmdTransferToHost2D},
		Rect:          rect,
		Offset:        0,
		ResourceID:    d.resourceID,
	}
	d.submitInit(unsafe.Pointer(&d.reqTransfer), unsafe.Sizeof(d.reqTransfer))

	d.reqFlush = gpucmd.ResourceFlush{
		ControlHeader: gpucmd.ControlHeader{Type: gpucmd.CmdResourceFlush},
		Rect:          rect,
		ResourceID:    d.resourceID,
	}
	d.submitInit(unsafe.Pointer(&d.reqFlush), unsafe.Sizeof(d.reqFlush))
}

// Framebuffer returns the reserved pixel buffer: W*H BGRA8_UNORM pixels,
// row-major, no stride padding. It is the only driver-owned memory handed
// out for foreign writes; higher-level rendering code writes pixels here
// directly, then calls Transfer/Flush to push them to the device.
func (d *Driver) Framebuffer() []byte {
	return d.fb
}

// Acquire grants pid exclusive use of the framebuffer, per the ownership
// gate in §4.6. Idempotent per process.
func (d *Driver) Acquire(pid int) (granted bool, err error) {
	return d.gate.Acquire(pid)
}

// Release gives up pid's hold on the framebuffer. No-op if pid is not the
// current owner.
func (d *Driver) Release(pid int) {
	d.gate.Release(pid)
}

// Holds reports whether pid currently owns the framebuffer.
func (d *Driver) Holds(pid int) bool {
	return d.gate.Holds(pid)
}

// Transfer issues CMD_TRANSFER_TO_HOST_2D over the sleeping submission
// path. Requires pid to hold the ownership gate; blocks until the device
// completes the command.
func (d *Driver) Transfer(pid int) error {
	if !d.gate.Holds(pid) {
		return faulterr.New("gpu.Transfer", faulterr.ErrCodeOwnershipDenied, nil)
	}
	d.submitSyscall(unsafe.Pointer(&d.reqTransfer), unsafe.Sizeof(d.reqTransfer))
	return nil
}

// Flush issues CMD_RESOURCE_FLUSH over the sleeping submission path.
// Requires pid to hold the ownership gate; blocks until the device
// completes the command.
func (d *Driver) Flush(pid int) error {
	if !d.gate.Holds(pid) {
		return faulterr.New("gpu.Flush", faulterr.ErrCodeOwnershipDenied, nil)
	}
	d.submitSyscall(unsafe.Pointer(&d.reqFlush), unsafe.Sizeof(d.reqFlush))
	return nil
}

// ServiceInterrupt runs the interrupt service routine. It is what the trap
// dispatcher (external collaborator, out of scope) calls when the device's
// MMIO interrupt line fires.
func (d *Driver) ServiceInterrupt() {
	d.engine.ISR()
}

// Metrics returns a point-in-time snapshot of the ambient counters.
func (d *Driver) Metrics() MetricsSnapshot {
	return d.metrics.Snapshot()
}
