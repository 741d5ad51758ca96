// Package submit implements the submission engine: the dual-mode path that
// builds a two-descriptor chain, publishes it, kicks the device, and awaits
// completion — either by spinning (kernel-init) or by sleeping on a
// condition variable (user syscall) — plus the interrupt service routine
// that drains the used ring and wakes whichever caller is waiting.
package submit

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/drewdorris/xv6-d00m/internal/faulterr"
	"github.com/drewdorris/xv6-d00m/internal/gpucmd"
	"github.com/drewdorris/xv6-d00m/internal/logging"
	"github.com/drewdorris/xv6-d00m/internal/metrics"
	"github.com/drewdorris/xv6-d00m/internal/regwin"
	"github.com/drewdorris/xv6-d00m/internal/virtioring"
)

// Engine serializes all device interaction under one driver-wide lock.
// Exactly one command may be in flight at a time; the lock is held across
// building and publishing the descriptor chain, and, in the syscall path,
// across the sleep.
type Engine struct {
	mu   sync.Mutex
	cond *sync.Cond

	win   regwin.Window
	queue *virtioring.Queue

	response *uint32
	inFlight bool

	log     *logging.Logger
	metrics *metrics.Counters

	// EnableInterrupts / DisableInterrupts stand in for the trap
	// dispatcher's interrupt-controller mask, an external collaborator.
	// They are called for parity with the spec's described control flow;
	// correctness here does not depend on them, since the Go scheduler
	// (not a hardware interrupt line) governs when the ISR actually runs.
	EnableInterrupts  func()
	DisableInterrupts func()
}

// New constructs an Engine bound to win (the active device's register
// window), queue (the installed control virtqueue), and response (the
// single response-word slot descriptor 1 points at).
func New(win regwin.Window, queue *virtioring.Queue, response *uint32, log *logging.Logger, m *metrics.Counters) *Engine {
	e := &Engine{win: win, queue: queue, response: response, log: log, metrics: m}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// fillLocked writes descriptor 0 (request, device-read, chained to
// descriptor 1) and descriptor 1 (response, device-write), resets the
// response slot to its sentinel, and publishes the chain. Must be called
// with mu held and inFlight already set to true.
func (e *Engine) fillLocked(reqAddr uintptr, reqLen uint32) {
	atomic.StoreUint32(e.response, gpucmd.ResponseSentinel)

	e.queue.Desc[0] = virtioring.Descriptor{
		Addr:   uint64(reqAddr),
		Length: reqLen,
		Flags:  virtioring.DescFlagNext,
		Next:   1,
	}
	e.queue.Desc[1] = virtioring.Descriptor{
		Addr:   uint64(uintptr(responsePointer(e.response))),
		Length: 4,
		Flags:  virtioring.DescFlagWrite,
		Next:   0,
	}

	virtioring.Fence()
	e.queue.PublishHead(0)
	e.win.Store(regwin.RegQueueNotify, 0)

	if e.metrics != nil {
		e.metrics.SubmitStarted()
	}
}

// SubmitInit runs the kernel-init blocking submission path. It must only be
// called from the single bring-up thread, before any other caller can
// contend for the engine — the "wait until dormant" step is therefore an
// assertion, not a sleep, since init is single-threaded by construction.
func (e *Engine) SubmitInit(reqAddr uintptr, reqLen uint32) {
	e.mu.Lock()
	if e.inFlight {
		panic("submit: init path observed a command already in flight")
	}
	e.inFlight = true
	e.fillLocked(reqAddr, reqLen)
	e.mu.Unlock()

	if e.EnableInterrupts != nil {
		e.EnableInterrupts()
	}

	for {
		virtioring.Fence()
		e.mu.Lock()
		done := !e.inFlight
		e.mu.Unlock()
		if done {
			break
		}
		runtime.Gosched()
	}

	if e.DisableInterrupts != nil {
		e.DisableInterrupts()
	}
}

// SubmitSyscall runs the user-syscall sleeping submission path: wait until
// dormant, publish, then sleep on the condition variable associated with
// the in-flight flag until the ISR clears it.
func (e *Engine) SubmitSyscall(reqAddr uintptr, reqLen uint32) {
	e.mu.Lock()
	for e.inFlight {
		e.cond.Wait()
	}
	e.inFlight = true
	e.fillLocked(reqAddr, reqLen)
	for e.inFlight {
		e.cond.Wait()
	}
	e.mu.Unlock()
}

// ISR services the device interrupt: acks it, drains the used ring,
// validates each completion, clears the in-flight flag, and wakes
// whichever caller is waiting. Fires exactly once per interrupt under
// normal operation, but drains any backlog defensively. A spurious
// invocation (used.idx already equal to the cursor) acks the interrupt and
// returns without touching in-flight, satisfying ISR idempotence.
func (e *Engine) ISR() {
	e.mu.Lock()

	status := e.win.Load(regwin.RegInterruptStatus)
	e.win.Store(regwin.RegInterruptACK, status&0x3)
	virtioring.Fence()
	if e.metrics != nil {
		e.metrics.InterruptObserved()
	}

	progressed := false
	for {
		entry, ok := e.queue.DrainNext()
		if !ok {
			break
		}
		progressed = true

		if entry.ID != 0 {
			e.mu.Unlock()
			if e.metrics != nil {
				e.metrics.ProtocolViolation()
			}
			faulterr.Fatal("submit.ISR", faulterr.ErrCodeProtocolViolation,
				errUnexpectedDescriptor(entry.ID))
			return
		}

		resp := atomic.LoadUint32(e.response)
		if resp != gpucmd.RespOKNoData {
			e.mu.Unlock()
			if e.metrics != nil {
				e.metrics.ProtocolViolation()
			}
			faulterr.Fatal("submit.ISR", faulterr.ErrCodeProtocolViolation,
				errUnexpectedResponse(resp))
			return
		}
	}

	if progressed {
		e.inFlight = false
		virtioring.Fence()
		if e.metrics != nil {
			e.metrics.SubmitCompleted()
		}
		e.cond.Broadcast()
	}

	e.mu.Unlock()
}

// InFlight reports the current in-flight flag, for tests and diagnostics.
func (e *Engine) InFlight() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}
