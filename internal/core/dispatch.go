package core

// Fetch/dispatch: the hart's instruction pipeline front end, split into an
// explicit Fetch (TLB/MMU-aware, page-boundary aware) and a single
// opcode-keyed Dispatch used by every hart goroutine.

func (h *Hart) fetch16(vaddr uint64) (uint16, error) {
	off, err := h.Translate(vaddr, accessExec, AttrNone)
	if err != nil {
		return 0, err
	}
	if isMMIOTranslation(off) {
		phys := untagMMIO(off)
		var buf [2]byte
		if !h.m.Bus.ReadPhys(phys, buf[:]) {
			return 0, Trap(CauseInsnAccessFault, vaddr)
		}
		return uint16(buf[0]) | uint16(buf[1])<<8, nil
	}
	return uint16(loadRAMAtomic(h.m.Bus.RAM.Data, off, 2)), nil
}

// Fetch reads one instruction at PC, decoding the compressed/full-width
// distinction from the low two bits of the first halfword and expanding a
// 16-bit compressed instruction into its full-width equivalent
// before the rest of the pipeline ever sees it. A 32-bit instruction whose
// two halves straddle a page boundary is fetched as two independent
// halfword accesses, each separately translated.
func (h *Hart) Fetch() (insn uint32, length uint64, err error) {
	if h.PC&1 != 0 {
		return 0, 0, Trap(CauseInsnAddrMisaligned, h.PC)
	}
	lo, err := h.fetch16(h.PC)
	if err != nil {
		return 0, 0, err
	}
	if lo&3 != 3 {
		expanded, ok := h.expandCompressed(lo)
		if !ok {
			return 0, 0, Trap(CauseIllegalInsn, uint64(lo))
		}
		return expanded, 2, nil
	}
	hi, err := h.fetch16(h.PC + 2)
	if err != nil {
		return 0, 0, err
	}
	return uint32(lo) | uint32(hi)<<16, 4, nil
}

// Dispatch decodes insn's base opcode and routes it to the matching
// handler family. Every handler either advances h.PC itself (branches/jumps)
// or is expected to on success; a returned error is always either a
// *TrapError or a host-fatal error, never a partially-applied instruction.
func (h *Hart) Dispatch(insn uint32, length uint64) error {
	switch opcode(insn) {
	case opLui:
		return h.execLui(insn, length)
	case opAuipc:
		return h.execAuipc(insn, length)
	case opJal:
		return h.execJal(insn, length)
	case opJalr:
		if funct3(insn) != 0 {
			return Trap(CauseIllegalInsn, uint64(insn))
		}
		return h.execJalr(insn, length)
	case opBranch:
		return h.execBranch(insn, length)
	case opLoad:
		return h.execLoad(insn, length)
	case opStore:
		return h.execStore(insn, length)
	case opOpImm:
		return h.execOpImm(insn, length)
	case opOpImm32:
		return h.execOpImm32(insn, length)
	case opOp:
		return h.execOp(insn, length)
	case opOp32:
		return h.execOp32(insn, length)
	case opMiscMem:
		return h.execMiscMem(insn, length)
	case opSystem:
		return h.execSystem(insn, length)
	case opAMO:
		return h.execAMO(insn, length)
	case opLoadFP:
		return h.execLoadFP(insn, length)
	case opStoreFP:
		return h.execStoreFP(insn, length)
	case opOpFP:
		return h.execOpFP(insn, length)
	case opMadd, opMsub, opNmsub, opNmadd:
		return h.execFusedMulAdd(insn, length)
	}
	return Trap(CauseIllegalInsn, uint64(insn))
}

// Step fetches and dispatches exactly one instruction, leaving any fault as
// a *TrapError for the caller's trap.go delivery loop to consume. h.running
// is left true on a clean PC advance and cleared by enterTrap/Mret/Sret
// when control leaves the straight-line path.
func (h *Hart) Step() error {
	h.running = true
	insn, length, err := h.Fetch()
	if err != nil {
		return err
	}
	return h.Dispatch(insn, length)
}
