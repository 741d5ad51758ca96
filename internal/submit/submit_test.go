package submit

import (
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drewdorris/xv6-d00m/internal/faulterr"
	"github.com/drewdorris/xv6-d00m/internal/gpucmd"
	"github.com/drewdorris/xv6-d00m/internal/logging"
	"github.com/drewdorris/xv6-d00m/internal/regwin"
	"github.com/drewdorris/xv6-d00m/internal/virtioring"
)

// fakeWindow is a bare register window recording notify/irq register
// traffic, local to this package.
type fakeWindow struct {
	mu          sync.Mutex
	notifyCount int
	irqStatus   uint32
	ackedMask   uint32
}

func (w *fakeWindow) Load(offset uint32) uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if offset == regwin.RegInterruptStatus {
		return w.irqStatus
	}
	return 0
}

func (w *fakeWindow) Store(offset uint32, val uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch offset {
	case regwin.RegQueueNotify:
		w.notifyCount++
	case regwin.RegInterruptACK:
		w.ackedMask |= val
		w.irqStatus &^= val
	}
}

func newEngine() (*Engine, *fakeWindow, *virtioring.Queue, *uint32) {
	win := &fakeWindow{}
	q := virtioring.Bind(new(virtioring.Page), new(virtioring.Page), new(virtioring.Page))
	resp := new(uint32)
	log := logging.NewLogger(&logging.Config{Level: logging.LevelError})
	e := New(win, q, resp, log, nil)
	return e, win, q, resp
}

type request struct {
	Type uint32
}

func deliverOK(q *virtioring.Queue, resp *uint32, win *fakeWindow) {
	win.mu.Lock()
	win.irqStatus |= 0x1
	win.mu.Unlock()
	*resp = gpucmd.RespOKNoData
	q.Used.Ring[q.Used.Idx%virtioring.Depth] = virtioring.UsedEntry{ID: 0, Len: 4}
	virtioring.Fence()
	q.Used.Idx++
	virtioring.Fence()
}

func TestSubmitInitBlocksUntilISRCompletes(t *testing.T) {
	e, win, q, resp := newEngine()
	var req request
	req.Type = gpucmd.CmdResourceCreate2D

	done := make(chan struct{})
	go func() {
		e.SubmitInit(uintptr(unsafe.Pointer(&req)), uint32(unsafe.Sizeof(req)))
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	assert.True(t, e.InFlight())

	deliverOK(q, resp, win)
	e.ISR()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SubmitInit did not return after ISR")
	}
	assert.False(t, e.InFlight())
	assert.EqualValues(t, 1, win.notifyCount)
}

func TestSubmitSyscallSleepsUntilISRCompletes(t *testing.T) {
	e, win, q, resp := newEngine()
	var req request
	req.Type = gpucmd.CmdTransferToHost2D

	done := make(chan struct{})
	go func() {
		e.SubmitSyscall(uintptr(unsafe.Pointer(&req)), uint32(unsafe.Sizeof(req)))
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	assert.True(t, e.InFlight())

	deliverOK(q, resp, win)
	e.ISR()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SubmitSyscall did not return after ISR")
	}
	assert.False(t, e.InFlight())
}

func TestDescriptorChainShape(t *testing.T) {
	e, _, q, _ := newEngine()
	var req request
	e.mu.Lock()
	e.inFlight = true
	e.fillLocked(uintptr(unsafe.Pointer(&req)), uint32(unsafe.Sizeof(req)))
	e.mu.Unlock()

	assert.EqualValues(t, virtioring.DescFlagNext, q.Desc[0].Flags)
	assert.EqualValues(t, 1, q.Desc[0].Next)
	assert.EqualValues(t, unsafe.Sizeof(req), q.Desc[0].Length)

	assert.EqualValues(t, virtioring.DescFlagWrite, q.Desc[1].Flags)
	assert.EqualValues(t, 0, q.Desc[1].Next)
	assert.EqualValues(t, 4, q.Desc[1].Length)

	assert.EqualValues(t, 1, q.Avail.Idx)
}

func TestISRIdempotentOnSpuriousInvocation(t *testing.T) {
	e, _, _, _ := newEngine()
	e.ISR()
	assert.False(t, e.InFlight())
}

func TestISRFatalOnUnexpectedDescriptorID(t *testing.T) {
	orig := faulterr.OnFatal
	var captured error
	faulterr.OnFatal = func(err error) { captured = err }
	defer func() { faulterr.OnFatal = orig }()

	e, win, q, resp := newEngine()
	var req request
	done := make(chan struct{})
	go func() {
		e.SubmitSyscall(uintptr(unsafe.Pointer(&req)), uint32(unsafe.Sizeof(req)))
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)

	*resp = gpucmd.RespOKNoData
	q.Used.Ring[0] = virtioring.UsedEntry{ID: 99, Len: 4}
	q.Used.Idx = 1
	win.mu.Lock()
	win.irqStatus |= 0x1
	win.mu.Unlock()

	e.ISR()
	require.NotNil(t, captured)
	assert.True(t, faulterr.IsCode(captured, faulterr.ErrCodeProtocolViolation))
	assert.True(t, e.InFlight())
}

func TestISRFatalOnUnexpectedResponse(t *testing.T) {
	orig := faulterr.OnFatal
	var captured error
	faulterr.OnFatal = func(err error) { captured = err }
	defer func() { faulterr.OnFatal = orig }()

	e, win, q, resp := newEngine()
	var req request
	done := make(chan struct{})
	go func() {
		e.SubmitSyscall(uintptr(unsafe.Pointer(&req)), uint32(unsafe.Sizeof(req)))
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)

	*resp = 0xDEADBEEF
	q.Used.Ring[0] = virtioring.UsedEntry{ID: 0, Len: 4}
	q.Used.Idx = 1
	win.mu.Lock()
	win.irqStatus |= 0x1
	win.mu.Unlock()

	e.ISR()
	require.NotNil(t, captured)
	assert.True(t, faulterr.IsCode(captured, faulterr.ErrCodeProtocolViolation))
	assert.True(t, e.InFlight())
}

func TestConcurrentSyscallCallersAreSerialized(t *testing.T) {
	e, win, q, resp := newEngine()
	var req1, req2 request

	results := make(chan int, 2)
	go func() {
		e.SubmitSyscall(uintptr(unsafe.Pointer(&req1)), uint32(unsafe.Sizeof(req1)))
		results <- 1
	}()
	time.Sleep(5 * time.Millisecond)
	go func() {
		e.SubmitSyscall(uintptr(unsafe.Pointer(&req2)), uint32(unsafe.Sizeof(req2)))
		results <- 2
	}()
	time.Sleep(5 * time.Millisecond)

	// Only the first caller's chain should be published so far.
	assert.EqualValues(t, 1, q.Avail.Idx)

	deliverOK(q, resp, win)
	e.ISR()

	first := <-results
	assert.Equal(t, 1, first)

	time.Sleep(5 * time.Millisecond)
	assert.EqualValues(t, 2, q.Avail.Idx)

	deliverOK(q, resp, win)
	e.ISR()

	second := <-results
	assert.Equal(t, 2, second)
}
