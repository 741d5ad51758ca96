// Package bringup runs the device handshake and virtqueue installation
// once, on the sole kernel thread, before any command can flow: probing
// both MMIO windows, validating the device identity, negotiating (zero)
// features, walking the status handshake, and installing the control
// queue.
package bringup

import (
	"fmt"

	"github.com/drewdorris/xv6-d00m/internal/faulterr"
	"github.com/drewdorris/xv6-d00m/internal/logging"
	"github.com/drewdorris/xv6-d00m/internal/pagealloc"
	"github.com/drewdorris/xv6-d00m/internal/regwin"
	"github.com/drewdorris/xv6-d00m/internal/virtioring"
)

// DeviceID values this driver cares about, for probe diagnostics.
const (
	deviceIDGPU   uint32 = 16
	deviceIDBlock uint32 = 2
)

// Classification is the diagnostic result of probing one MMIO window.
type Classification int

const (
	ClassAbsent Classification = iota
	ClassGPU
	ClassBlock
	ClassOther
)

func (c Classification) String() string {
	switch c {
	case ClassAbsent:
		return "absent"
	case ClassGPU:
		return "GPU"
	case ClassBlock:
		return "block"
	default:
		return "other"
	}
}

func classifyWindow(w regwin.Window) Classification {
	if w == nil {
		return ClassAbsent
	}
	if w.Load(regwin.RegMagic) != regwin.Magic {
		return ClassAbsent
	}
	switch w.Load(regwin.RegDeviceID) {
	case deviceIDGPU:
		return ClassGPU
	case deviceIDBlock:
		return ClassBlock
	default:
		return ClassOther
	}
}

// Result is the outcome of a successful bring-up: the selected window, the
// bound control queue, and the response slot.
type Result struct {
	Window   regwin.Window
	Queue    *virtioring.Queue
	Response *uint32
}

// Probe reads MAGIC on both windows, logs a classification for each, and
// selects the one whose DEVICE_ID is 16. Neither window being a GPU is a
// configuration mismatch.
func Probe(probeWin, usedWin regwin.Window, log *logging.Logger) (regwin.Window, error) {
	pc := classifyWindow(probeWin)
	uc := classifyWindow(usedWin)
	log.Info("probed MMIO window", "window", "probe", "class", pc.String())
	log.Info("probed MMIO window", "window", "used", "class", uc.String())

	switch {
	case uc == ClassGPU:
		return usedWin, nil
	case pc == ClassGPU:
		return probeWin, nil
	default:
		return nil, faulterr.New("bringup.Probe", faulterr.ErrCodeConfigMismatch,
			fmt.Errorf("no GPU window found (probe=%s used=%s)", pc, uc))
	}
}

func validateIdentity(w regwin.Window) error {
	if magic := w.Load(regwin.RegMagic); magic != regwin.Magic {
		return faulterr.New("bringup.validateIdentity", faulterr.ErrCodeConfigMismatch,
			fmt.Errorf("bad magic %#x", magic))
	}
	if v := w.Load(regwin.RegVersion); v != 2 {
		return faulterr.New("bringup.validateIdentity", faulterr.ErrCodeConfigMismatch,
			fmt.Errorf("unsupported version %d, want 2", v))
	}
	if id := w.Load(regwin.RegDeviceID); id != deviceIDGPU {
		return faulterr.New("bringup.validateIdentity", faulterr.ErrCodeConfigMismatch,
			fmt.Errorf("device id %d is not a GPU", id))
	}
	return nil
}

// Run performs the full handshake: probe, validate, reset, status
// handshake, feature negotiation, and queue installation for a depth-N
// control queue. Any failure is routed through faulterr.Fatal and returned;
// callers relying on the default OnFatal (panic) never observe the return.
func Run(probeWin, usedWin regwin.Window, depth int, alloc pagealloc.Allocator, log *logging.Logger) (*Result, error) {
	win, err := Probe(probeWin, usedWin, log)
	if err != nil {
		return nil, faulterr.Fatal("bringup.Run", faulterr.ErrCodeConfigMismatch, err)
	}
	if err := validateIdentity(win); err != nil {
		return nil, faulterr.Fatal("bringup.Run", faulterr.ErrCodeConfigMismatch, err)
	}

	win.Store(regwin.RegStatus, 0)

	status := regwin.StatusAcknowledge
	win.Store(regwin.RegStatus, status)
	status |= regwin.StatusDriver
	win.Store(regwin.RegStatus, status)
	log.Debug("status handshake", "status", status)

	_ = win.Load(regwin.RegDeviceFeatures)
	win.Store(regwin.RegDriverFeatures, 0)

	status |= regwin.StatusFeaturesOK
	win.Store(regwin.RegStatus, status)
	if readBack := win.Load(regwin.RegStatus); readBack&regwin.StatusFeaturesOK == 0 {
		return nil, faulterr.Fatal("bringup.Run", faulterr.ErrCodeConfigMismatch,
			fmt.Errorf("device rejected FEATURES_OK (status=%#x)", readBack))
	}

	win.Store(regwin.RegQueueSel, 0)
	if ready := win.Load(regwin.RegQueueReady); ready != 0 {
		return nil, faulterr.Fatal("bringup.Run", faulterr.ErrCodeConfigMismatch,
			fmt.Errorf("queue 0 already ready"))
	}
	maxQueue := win.Load(regwin.RegQueueNumMax)
	if maxQueue < uint32(depth) {
		return nil, faulterr.Fatal("bringup.Run", faulterr.ErrCodeConfigMismatch,
			fmt.Errorf("queue 0 max %d below required depth %d", maxQueue, depth))
	}

	res, err := installQueue(win, depth, alloc)
	if err != nil {
		return nil, faulterr.Fatal("bringup.Run", faulterr.ErrCodeConfigMismatch, err)
	}

	status |= regwin.StatusDriverOK
	win.Store(regwin.RegStatus, status)
	log.Info("device live", "device_id", deviceIDGPU)

	res.Window = win
	return res, nil
}

func installQueue(win regwin.Window, depth int, alloc pagealloc.Allocator) (*Result, error) {
	descAddr, descMem, err := alloc.Pages(1)
	if err != nil {
		return nil, fmt.Errorf("allocate descriptor table page: %w", err)
	}
	availAddr, availMem, err := alloc.Pages(1)
	if err != nil {
		return nil, fmt.Errorf("allocate available ring page: %w", err)
	}
	usedAddr, usedMem, err := alloc.Pages(1)
	if err != nil {
		return nil, fmt.Errorf("allocate used ring page: %w", err)
	}

	descPage := (*virtioring.Page)(pointerOf(descMem))
	availPage := (*virtioring.Page)(pointerOf(availMem))
	usedPage := (*virtioring.Page)(pointerOf(usedMem))

	queue := virtioring.Bind(descPage, availPage, usedPage)

	win.Store(regwin.RegQueueNum, uint32(depth))

	descLow, descHigh := regwin.SplitAddr64(uint64(descAddr))
	win.Store(regwin.RegQueueDescLow, descLow)
	win.Store(regwin.RegQueueDescHigh, descHigh)

	availLow, availHigh := regwin.SplitAddr64(uint64(availAddr))
	win.Store(regwin.RegDriverDescLow, availLow)
	win.Store(regwin.RegDriverDescHigh, availHigh)

	usedLow, usedHigh := regwin.SplitAddr64(uint64(usedAddr))
	win.Store(regwin.RegDeviceDescLow, usedLow)
	win.Store(regwin.RegDeviceDescHigh, usedHigh)

	win.Store(regwin.RegQueueReady, 1)

	response := new(uint32)

	return &Result{
		Queue:    queue,
		Response: response,
	}, nil
}
