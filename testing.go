package gpu

import (
	"sync"
	"unsafe"

	"github.com/drewdorris/xv6-d00m/internal/gpucmd"
	"github.com/drewdorris/xv6-d00m/internal/regwin"
	"github.com/drewdorris/xv6-d00m/internal/virtioring"
)

// SimulatedDevice is the test double §8 requires: it backs one MMIO
// register window with plain Go memory, parses the descriptor chains the
// driver publishes, and writes the used ring and response word the way a
// real virtio-gpu device would. It implements regwin.Window, so it can
// stand in for Config.UsedWindow (or, with DeviceID 2 or left absent, for
// Config.ProbeWindow in bring-up-selection tests).
type SimulatedDevice struct {
	mu sync.Mutex

	deviceID uint32
	status   uint32
	numMax   uint32
	numSel   uint32
	num      uint32
	ready    uint32
	irqStat  uint32

	descLow, descHigh   uint32
	availLow, availHigh uint32
	usedLow, usedHigh   uint32

	queue *virtioring.Queue

	commands       []uint32
	forcedResponse *uint32
	forcedUsedID   *uint32

	// irq is invoked, asynchronously, after the device finishes processing
	// a notified command — standing in for the MMIO interrupt line firing
	// and the trap dispatcher routing it to Driver.ServiceInterrupt. Driver
	// wires this via SetIrqHandler during bring-up, before issuing the
	// commands whose completion depends on it firing.
	irq func()
}

// SetIrqHandler registers the callback invoked after each command
// completes. Driver.New calls this itself when the configured window
// supports it; tests that build a SimulatedDevice without going through
// Driver.New may call it directly.
func (d *SimulatedDevice) SetIrqHandler(h func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.irq = h
}

// NewSimulatedDevice returns a simulated window reporting deviceID on
// Load(RegDeviceID). Use gpucmd is not required by callers; pass 16 for a
// GPU, 2 for a block device, anything else for "other".
func NewSimulatedDevice(deviceID uint32) *SimulatedDevice {
	return &SimulatedDevice{
		deviceID: deviceID,
		numMax:   64,
	}
}

// NewAbsentWindow returns a Window that reports no magic value present, as
// if no device were mapped at that physical address.
func NewAbsentWindow() regwin.Window {
	return absentWindow{}
}

type absentWindow struct{}

func (absentWindow) Load(uint32) uint32   { return 0 }
func (absentWindow) Store(uint32, uint32) {}

var _ regwin.Window = absentWindow{}
var _ regwin.Window = (*SimulatedDevice)(nil)

func joinAddr(low, high uint32) uint64 {
	return uint64(low) | uint64(high)<<32
}

func (d *SimulatedDevice) Load(offset uint32) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch offset {
	case regwin.RegMagic:
		return regwin.Magic
	case regwin.RegVersion:
		return 2
	case regwin.RegDeviceID:
		return d.deviceID
	case regwin.RegStatus:
		return d.status
	case regwin.RegDeviceFeatures:
		return 0
	case regwin.RegQueueNumMax:
		return d.numMax
	case regwin.RegQueueReady:
		return d.ready
	case regwin.RegInterruptStatus:
		return d.irqStat
	default:
		return 0
	}
}

func (d *SimulatedDevice) Store(offset uint32, val uint32) {
	d.mu.Lock()
	switch offset {
	case regwin.RegStatus:
		d.status = val
		d.mu.Unlock()
	case regwin.RegDriverFeatures:
		d.mu.Unlock()
	case regwin.RegQueueSel:
		d.numSel = val
		d.mu.Unlock()
	case regwin.RegQueueNum:
		d.num = val
		d.mu.Unlock()
	case regwin.RegQueueReady:
		d.ready = val
		if val != 0 {
			d.bindQueueLocked()
		}
		d.mu.Unlock()
	case regwin.RegQueueDescLow:
		d.descLow = val
		d.mu.Unlock()
	case regwin.RegQueueDescHigh:
		d.descHigh = val
		d.mu.Unlock()
	case regwin.RegDriverDescLow:
		d.availLow = val
		d.mu.Unlock()
	case regwin.RegDriverDescHigh:
		d.availHigh = val
		d.mu.Unlock()
	case regwin.RegDeviceDescLow:
		d.usedLow = val
		d.mu.Unlock()
	case regwin.RegDeviceDescHigh:
		d.usedHigh = val
		d.mu.Unlock()
	case regwin.RegInterruptACK:
		d.irqStat &^= val
		d.mu.Unlock()
	case regwin.RegQueueNotify:
		d.mu.Unlock()
		go d.deliver()
	default:
		d.mu.Unlock()
	}
}

func (d *SimulatedDevice) bindQueueLocked() {
	descAddr := joinAddr(d.descLow, d.descHigh)
	availAddr := joinAddr(d.availLow, d.availHigh)
	usedAddr := joinAddr(d.usedLow, d.usedHigh)
	descPage := (*virtioring.Page)(unsafe.Pointer(uintptr(descAddr)))
	availPage := (*virtioring.Page)(unsafe.Pointer(uintptr(availAddr)))
	usedPage := (*virtioring.Page)(unsafe.Pointer(uintptr(usedAddr)))
	d.queue = virtioring.Bind(descPage, availPage, usedPage)
}

// deliver processes the most recently published descriptor chain: reads
// the command type out of the request buffer, writes a response into the
// response slot, and advances the used ring — then calls the handler set
// by SetIrqHandler.
func (d *SimulatedDevice) deliver() {
	d.mu.Lock()
	q := d.queue
	if q == nil {
		d.mu.Unlock()
		return
	}

	head := q.Avail.Ring[(q.Avail.Idx-1)%virtioring.Depth]
	reqDesc := q.Desc[head]
	respDesc := q.Desc[reqDesc.Next]

	cmdType := *(*uint32)(unsafe.Pointer(uintptr(reqDesc.Addr)))
	d.commands = append(d.commands, cmdType)

	respVal := gpucmd.RespOKNoData
	if d.forcedResponse != nil {
		respVal = *d.forcedResponse
		d.forcedResponse = nil
	}
	respPtr := (*uint32)(unsafe.Pointer(uintptr(respDesc.Addr)))
	*respPtr = respVal

	usedID := uint32(head)
	if d.forcedUsedID != nil {
		usedID = *d.forcedUsedID
		d.forcedUsedID = nil
	}

	q.Used.Ring[q.Used.Idx%virtioring.Depth] = virtioring.UsedEntry{ID: usedID, Len: respDesc.Length}
	virtioring.Fence()
	q.Used.Idx++
	virtioring.Fence()

	d.irqStat |= 0x1
	irq := d.irq
	d.mu.Unlock()

	if irq != nil {
		irq()
	}
}

// Commands returns the command type codes processed so far, in order.
func (d *SimulatedDevice) Commands() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]uint32, len(d.commands))
	copy(out, d.commands)
	return out
}

// ForceNextResponse makes the next processed command write val into the
// response slot instead of RESP_OK_NODATA, for exercising the fatal
// unexpected-response path.
func (d *SimulatedDevice) ForceNextResponse(val uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forcedResponse = &val
}

// ForceNextUsedID makes the next processed command's used-ring entry name
// id instead of the true descriptor head, for exercising the fatal
// unexpected-descriptor path.
func (d *SimulatedDevice) ForceNextUsedID(id uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forcedUsedID = &id
}

// UsedIdx returns the device's current used-ring idx, for assertions
// against the driver's read cursor.
func (d *SimulatedDevice) UsedIdx() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queue == nil {
		return 0
	}
	return d.queue.Used.Idx
}

// AvailIdx returns the device's observed available-ring idx.
func (d *SimulatedDevice) AvailIdx() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queue == nil {
		return 0
	}
	return d.queue.Avail.Idx
}
