// Package ownership implements the per-process exclusive-use gate over the
// framebuffer: a process-identifier latch orthogonal to the driver lock.
package ownership

import (
	"sync"

	"github.com/drewdorris/xv6-d00m/internal/faulterr"
	"github.com/drewdorris/xv6-d00m/internal/metrics"
)

// NotOwned is the sentinel meaning no process currently holds the gate.
// The process model forbids pid 0 for a live process, so it doubles as
// "not a valid pid".
const NotOwned = 0

// Gate grants at most one process exclusive use of the framebuffer between
// Acquire and Release calls. It is guarded by its own lock, separate from
// the driver lock that serializes device submission.
type Gate struct {
	mu    sync.Mutex
	owner int

	observer *metrics.Counters
}

// New returns an unheld gate. observer may be nil.
func New(observer *metrics.Counters) *Gate {
	return &Gate{owner: NotOwned, observer: observer}
}

// Acquire grants pid exclusive use of the framebuffer. Idempotent: a
// process that already holds the gate acquiring again observes granted.
// pid <= 0 means there is no current process, a programmer error distinct
// from ordinary denial — it halts via faulterr.Fatal rather than returning
// a deniable result.
func (g *Gate) Acquire(pid int) (granted bool, err error) {
	if pid <= 0 {
		return false, faulterr.Fatal("ownership.Acquire", faulterr.ErrCodeNoProcess, nil)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.owner {
	case NotOwned:
		g.owner = pid
		return true, nil
	case pid:
		return true, nil
	default:
		if g.observer != nil {
			g.observer.OwnershipDenied()
		}
		return false, nil
	}
}

// Release gives up pid's hold on the gate. A no-op if pid does not
// currently hold it. pid <= 0 is the same null-process-context programmer
// error Acquire halts on.
func (g *Gate) Release(pid int) {
	if pid <= 0 {
		faulterr.Fatal("ownership.Release", faulterr.ErrCodeNoProcess, nil)
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.owner == pid {
		g.owner = NotOwned
	}
}

// Holds reports whether pid currently holds the gate. pid <= 0 is the same
// null-process-context programmer error Acquire halts on.
func (g *Gate) Holds(pid int) bool {
	if pid <= 0 {
		faulterr.Fatal("ownership.Holds", faulterr.ErrCodeNoProcess, nil)
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.owner == pid
}
