package core

import (
	"context"
	"sync/atomic"
	"time"
)

// Per-hart execution loop: one goroutine per Hart spawned by Machine.Start,
// with interrupt service and pending-event checks interleaved between Step
// calls.

// Run drives this hart until ctx is cancelled or a host-fatal error (not a
// guest trap) occurs. Guest traps raised by Step are caught here and
// delivered via the privileged state machine rather than propagated. A
// pending PAUSE or PREEMPT event is read-and-cleared atomically at each
// instruction boundary: PAUSE parks the goroutine until Machine.Resume
// releases it, PREEMPT sleeps for the recorded duration and continues.
func (h *Hart) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if ev := atomic.SwapUint32(&h.pendingEvent, 0); ev != 0 {
			if ev&eventPause != 0 {
				h.park(ctx)
			}
			if ev&eventPreempt != 0 {
				time.Sleep(time.Duration(atomic.LoadUint32(&h.preemptMS)) * time.Millisecond)
			}
			continue
		}

		h.ServiceInterrupts()

		if h.m != nil && h.m.hook.BeforeBlock(h, h.PC) {
			continue
		}

		if err := h.Step(); err != nil {
			te, ok := err.(*TrapError)
			if !ok {
				return err
			}
			h.deliverTrap(te.Cause, te.Tval)
		}
	}
}

// park is PAUSE's suspension point. It acknowledges the pause to the
// Machine.Pause caller's WaitGroup, then blocks until Machine.Resume closes
// the current resume channel, or ctx ends (e.g. the machine is shutting
// down while paused).
func (h *Hart) park(ctx context.Context) {
	h.m.pauseMu.Lock()
	resumeCh := h.m.resumeCh
	wg := h.m.parkWG
	h.m.pauseMu.Unlock()

	if wg != nil {
		wg.Done()
	}
	if resumeCh == nil {
		return
	}
	select {
	case <-resumeCh:
	case <-ctx.Done():
	}
}

// raiseEvent ORs bit into pendingEvent and wakes the hart if it is
// currently blocked in Wfi, so a pause or preempt request is never left
// stuck behind an indefinite wait for an interrupt that may never come.
func (h *Hart) raiseEvent(bit uint32) {
	for {
		old := atomic.LoadUint32(&h.pendingEvent)
		if old&bit != 0 {
			return
		}
		if atomic.CompareAndSwapUint32(&h.pendingEvent, old, old|bit) {
			h.wfiMu.Lock()
			h.wfiCond.Broadcast()
			h.wfiMu.Unlock()
			return
		}
	}
}

// RequestPreempt schedules a PREEMPT event: at its next instruction
// boundary the hart sleeps for d, then resumes on its own without any
// Machine-level acknowledgement. Used by a host scheduler to yield CPU
// time to other work without pausing the rest of the machine.
func (h *Hart) RequestPreempt(d time.Duration) {
	atomic.StoreUint32(&h.preemptMS, uint32(d.Milliseconds()))
	h.raiseEvent(eventPreempt)
}

// RunFor executes at most maxSteps instructions (each counting both the
// occasional interrupt-service/trap-delivery step and a normal Step), for
// use by tests that need deterministic, boundedly-terminating execution
// instead of a free-running goroutine.
func (h *Hart) RunFor(ctx context.Context, maxSteps int) error {
	for i := 0; i < maxSteps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		h.ServiceInterrupts()
		if err := h.Step(); err != nil {
			te, ok := err.(*TrapError)
			if !ok {
				return err
			}
			h.deliverTrap(te.Cause, te.Tval)
		}
	}
	return nil
}
