package core

import "sync/atomic"

// Privileged state machine: trap entry/return, interrupt selection, and the
// WFI wait/wake path, all delegation-aware via the hart's own medeleg/
// mideleg masks.

// raisedMip returns mip with any asynchronously-raised device/CLINT bits
// (h.pendingAsync) folded in.
func (h *Hart) raisedMip() uint64 {
	return h.csr.Mip | atomic.LoadUint64(&h.pendingAsync)
}

// RaiseAsyncInterrupt sets one of the pendingAsync bits (e.g. from the
// CLINT or an external controller) and wakes the hart if it is in WFI.
func (h *Hart) RaiseAsyncInterrupt(bit uint64) {
	old := atomic.LoadUint64(&h.pendingAsync)
	for old&bit == 0 {
		if atomic.CompareAndSwapUint64(&h.pendingAsync, old, old|bit) {
			h.wfiMu.Lock()
			h.wfiCond.Broadcast()
			h.wfiMu.Unlock()
			return
		}
		old = atomic.LoadUint64(&h.pendingAsync)
	}
}

// LowerAsyncInterrupt clears one of the pendingAsync bits.
func (h *Hart) LowerAsyncInterrupt(bit uint64) {
	for {
		old := atomic.LoadUint64(&h.pendingAsync)
		if old&bit == 0 {
			return
		}
		if atomic.CompareAndSwapUint64(&h.pendingAsync, old, old&^bit) {
			return
		}
	}
}

// pendingInterrupt selects the highest-priority deliverable interrupt and
// returns the cause plus the target privilege, or ok=false if none should
// fire right now.
func (h *Hart) pendingInterrupt() (cause Cause, target Privilege, ok bool) {
	pending := h.csr.Mie & h.raisedMip()
	if pending == 0 {
		return 0, 0, false
	}

	mDeliverable := pending &^ h.csr.Mideleg
	sDeliverable := pending & h.csr.Mideleg

	if mDeliverable != 0 && (PrivM > h.Priv || (h.Priv == PrivM && h.csr.Mstatus&StatusMIE != 0)) {
		bit := highestBit(mDeliverable)
		return InterruptCause(bit), PrivM, true
	}
	if sDeliverable != 0 && (PrivS > h.Priv || (h.Priv == PrivS && h.csr.Mstatus&StatusSIE != 0)) {
		bit := highestBit(sDeliverable)
		return InterruptCause(bit), PrivS, true
	}
	return 0, 0, false
}

func highestBit(bits uint64) uint64 {
	for b := uint64(63); ; b-- {
		if bits&(1<<b) != 0 {
			return b
		}
		if b == 0 {
			return 0
		}
	}
}

// ServiceInterrupts checks and, if appropriate, delivers the
// highest-priority pending interrupt. Called once per hart loop iteration
// before dispatch.
func (h *Hart) ServiceInterrupts() {
	cause, target, ok := h.pendingInterrupt()
	if !ok {
		return
	}
	h.enterTrap(cause, target, 0)
}

// deliverTrap delivers a synchronous or asynchronous trap by mutating hart
// state per the standard trap entry procedure. The target privilege comes
// from delegationTarget; ServiceInterrupts, which has already chosen the
// target, calls enterTrap directly instead.
func (h *Hart) deliverTrap(cause Cause, tval uint64) {
	target := h.delegationTarget(cause)
	h.enterTrap(cause, target, tval)
}

func (h *Hart) delegationTarget(cause Cause) Privilege {
	if h.Priv == PrivM {
		return PrivM
	}
	var delegated bool
	if cause.IsInterrupt() {
		delegated = h.csr.Mideleg&(1<<cause.Code()) != 0
	} else {
		delegated = h.csr.Medeleg&(1<<cause.Code()) != 0
	}
	if delegated {
		return PrivS
	}
	return PrivM
}

func (h *Hart) enterTrap(cause Cause, target Privilege, tval uint64) {
	if target == PrivM {
		h.csr.Mepc = h.PC
		h.csr.Mcause = uint64(cause)
		h.csr.Mtval = tval

		mie := (h.csr.Mstatus & StatusMIE) != 0
		h.csr.Mstatus &^= StatusMPIE
		if mie {
			h.csr.Mstatus |= StatusMPIE
		}
		h.csr.Mstatus &^= StatusMIE
		h.csr.Mstatus &^= StatusMPPMask
		h.csr.Mstatus |= uint64(h.Priv) << StatusMPPShift

		h.Priv = PrivM
		if h.csr.Mtvec&1 != 0 && cause.IsInterrupt() {
			h.PC = (h.csr.Mtvec &^ 3) + 4*cause.Code()
		} else {
			h.PC = h.csr.Mtvec &^ 3
		}
	} else {
		h.csr.Sepc = h.PC
		h.csr.Scause = uint64(cause)
		h.csr.Stval = tval

		sie := (h.csr.Mstatus & StatusSIE) != 0
		h.csr.Mstatus &^= StatusSPIE
		if sie {
			h.csr.Mstatus |= StatusSPIE
		}
		h.csr.Mstatus &^= StatusSIE
		h.csr.Mstatus &^= StatusSPP
		if h.Priv == PrivS {
			h.csr.Mstatus |= StatusSPP
		}

		h.Priv = PrivS
		if h.csr.Stvec&1 != 0 && cause.IsInterrupt() {
			h.PC = (h.csr.Stvec &^ 3) + 4*cause.Code()
		} else {
			h.PC = h.csr.Stvec &^ 3
		}
	}
	h.lrsc.valid = false
	h.running = false
}

// Mret implements the MRET instruction.
func (h *Hart) Mret() error {
	if h.Priv != PrivM {
		return Trap(CauseIllegalInsn, 0)
	}
	mpie := h.csr.Mstatus&StatusMPIE != 0
	mpp := Privilege((h.csr.Mstatus & StatusMPPMask) >> StatusMPPShift)

	h.csr.Mstatus &^= StatusMIE
	if mpie {
		h.csr.Mstatus |= StatusMIE
	}
	h.csr.Mstatus |= StatusMPIE
	h.csr.Mstatus &^= StatusMPPMask
	h.csr.Mstatus |= uint64(PrivU) << StatusMPPShift

	if mpp != PrivM {
		h.csr.Mstatus &^= StatusMPRV
	}

	h.Priv = mpp
	h.PC = h.csr.Mepc
	h.lrsc.valid = false
	h.running = false
	return nil
}

// Sret implements the SRET instruction.
func (h *Hart) Sret() error {
	if h.Priv == PrivU {
		return Trap(CauseIllegalInsn, 0)
	}
	if h.Priv == PrivS && h.csr.Mstatus&StatusTSR != 0 {
		return Trap(CauseIllegalInsn, 0)
	}
	spie := h.csr.Mstatus&StatusSPIE != 0
	var spp Privilege = PrivU
	if h.csr.Mstatus&StatusSPP != 0 {
		spp = PrivS
	}

	h.csr.Mstatus &^= StatusSIE
	if spie {
		h.csr.Mstatus |= StatusSIE
	}
	h.csr.Mstatus |= StatusSPIE
	h.csr.Mstatus &^= StatusSPP

	if spp != PrivM {
		h.csr.Mstatus &^= StatusMPRV
	}

	h.Priv = spp
	h.PC = h.csr.Sepc
	h.lrsc.valid = false
	h.running = false
	return nil
}

// Wfi blocks the calling goroutine on the hart's condition variable until
// an enabled interrupt becomes pending or a pause/preempt event is raised.
func (h *Hart) Wfi() {
	if h.Priv == PrivS && h.csr.Mstatus&StatusTW != 0 {
		return // with TW set, S-mode WFI completes at once without blocking
	}
	h.wfiMu.Lock()
	for atomic.LoadUint32(&h.pendingEvent) == 0 && h.csr.Mie&h.raisedMip() == 0 {
		h.wfiCond.Wait()
	}
	h.wfiMu.Unlock()
}
