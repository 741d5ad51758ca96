// Package metrics provides the atomic counters observing bring-up,
// submission, and ownership activity, analogous to the teacher's Metrics
// type but without its latency histogram — there is no variable-size I/O
// in this domain to bucket.
package metrics

import "sync/atomic"

// Counters are the ambient observability surface for a Driver.
type Counters struct {
	CommandsSubmitted  atomic.Uint64
	CommandsCompleted  atomic.Uint64
	Interrupts         atomic.Uint64
	ProtocolViolations atomic.Uint64
	OwnershipDenials   atomic.Uint64
}

func New() *Counters { return &Counters{} }

func (c *Counters) SubmitStarted()     { c.CommandsSubmitted.Add(1) }
func (c *Counters) SubmitCompleted()   { c.CommandsCompleted.Add(1) }
func (c *Counters) InterruptObserved() { c.Interrupts.Add(1) }
func (c *Counters) ProtocolViolation() { c.ProtocolViolations.Add(1) }
func (c *Counters) OwnershipDenied()   { c.OwnershipDenials.Add(1) }

// Snapshot is a point-in-time copy, safe to read without racing the
// counters that continue to advance underneath it.
type Snapshot struct {
	CommandsSubmitted  uint64
	CommandsCompleted  uint64
	Interrupts         uint64
	ProtocolViolations uint64
	OwnershipDenials   uint64
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		CommandsSubmitted:  c.CommandsSubmitted.Load(),
		CommandsCompleted:  c.CommandsCompleted.Load(),
		Interrupts:         c.Interrupts.Load(),
		ProtocolViolations: c.ProtocolViolations.Load(),
		OwnershipDenials:   c.OwnershipDenials.Load(),
	}
}
