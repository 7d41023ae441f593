package core

// SYSTEM and MISC-MEM opcode handlers: ECALL/EBREAK, SRET/MRET/WFI, the six
// CSR instructions, SFENCE.VMA, FENCE/FENCE.I and the Zicbom/Zicboz cache
// management operations.

func (h *Hart) execSystem(insn uint32, length uint64) error {
	f3 := funct3(insn)
	if f3 != 0 {
		return h.execCsr(insn, length, f3)
	}

	switch insn {
	case 0x00000073: // ECALL
		return h.execEcall()
	case 0x00100073: // EBREAK
		return Trap(CauseBreakpoint, h.PC)
	case 0x10200073: // SRET
		if err := h.Sret(); err != nil {
			return err
		}
		return nil
	case 0x30200073: // MRET
		if err := h.Mret(); err != nil {
			return err
		}
		return nil
	case 0x10500073: // WFI
		h.Wfi()
		h.PC += length
		return nil
	}

	if funct7(insn) == 0b0001001 { // SFENCE.VMA
		if h.Priv == PrivU {
			return Trap(CauseIllegalInsn, uint64(insn))
		}
		if h.Priv == PrivS && h.csr.Mstatus&StatusTVM != 0 {
			return Trap(CauseIllegalInsn, uint64(insn))
		}
		r1 := rs1(insn)
		if r1 == 0 {
			h.FlushTLB(0, false)
		} else {
			h.FlushTLB(h.ReadReg(r1), true)
		}
		h.lrsc.valid = false
		h.PC += length
		return nil
	}

	return Trap(CauseIllegalInsn, uint64(insn))
}

func (h *Hart) execEcall() error {
	switch h.Priv {
	case PrivU:
		return Trap(CauseEcallFromU, 0)
	case PrivS:
		return Trap(CauseEcallFromS, 0)
	default:
		return Trap(CauseEcallFromM, 0)
	}
}

func (h *Hart) execCsr(insn uint32, length uint64, f3 uint32) error {
	csrID := insn >> 20
	rdReg := rd(insn)

	var op CsrOp
	var value uint64
	switch f3 {
	case 0b001: // CSRRW
		op, value = CsrSwap, h.ReadReg(rs1(insn))
	case 0b010: // CSRRS
		op, value = CsrSetBits, h.ReadReg(rs1(insn))
	case 0b011: // CSRRC
		op, value = CsrClearBits, h.ReadReg(rs1(insn))
	case 0b101: // CSRRWI
		op, value = CsrSwap, uint64(rs1(insn))
	case 0b110: // CSRRSI
		op, value = CsrSetBits, uint64(rs1(insn))
	case 0b111: // CSRRCI
		op, value = CsrClearBits, uint64(rs1(insn))
	default:
		return Trap(CauseIllegalInsn, uint64(insn))
	}

	// A plain CSRRW/CSRRWI with rd==x0 never reads, avoiding a spurious
	// read-side-effect trap on a write-only access pattern some CSRs rely on.
	if rdReg == 0 && op == CsrSwap {
		if !h.csrAccessAllowed(csrID) {
			return Trap(CauseIllegalInsn, uint64(insn))
		}
		if err := h.csrWrite(csrID, value); err != nil {
			return err
		}
		h.PC += length
		return nil
	}

	prev, err := h.CsrOp(csrID, value, op)
	if err != nil {
		return err
	}
	h.WriteReg(rdReg, prev)
	h.PC += length
	return nil
}

// execMiscMem implements FENCE, FENCE.I and the Zicbom/Zicboz cache-block
// operations, all encoded under the MISC-MEM opcode.
func (h *Hart) execMiscMem(insn uint32, length uint64) error {
	switch funct3(insn) {
	case 0b000: // FENCE / PAUSE
		// The atomics engine and RAM accessors already use sequentially
		// consistent operations (sync/atomic), so ordering is free; FENCE
		// only needs to exist as a no-op instruction boundary.
		h.PC += length
		return nil
	case 0b001: // FENCE.I
		h.PC += length
		return nil
	case 0b010:
		return h.execCbo(insn, length)
	}
	return Trap(CauseIllegalInsn, uint64(insn))
}

const (
	envcfgCBIE = uint64(3) << 4
	envcfgCBCFE = uint64(1) << 6
	envcfgCBZE = uint64(1) << 7
)

// execCbo implements CBO.CLEAN/FLUSH/INVAL (encoded via the immediate
// field, funct3==0b010) and CBO.ZERO (funct3==0b010 as well, distinguished
// by rs2 field per the Zicbom/Zicboz encoding), gated by menvcfg/senvcfg.
func (h *Hart) execCbo(insn uint32, length uint64) error {
	imm := (insn >> 20) & 0xfff
	addr := h.ReadReg(rs1(insn))

	switch imm {
	case 0b000000000000: // CBO.INVAL
		if !h.cboPermitted(envcfgCBIE) {
			return Trap(CauseIllegalInsn, uint64(insn))
		}
	case 0b000000000001: // CBO.CLEAN
		if !h.cboPermitted(envcfgCBCFE) {
			return Trap(CauseIllegalInsn, uint64(insn))
		}
	case 0b000000000010: // CBO.FLUSH
		if !h.cboPermitted(envcfgCBCFE) {
			return Trap(CauseIllegalInsn, uint64(insn))
		}
	case 0b000000000100: // CBO.ZERO
		if !h.cboPermitted(envcfgCBZE) {
			return Trap(CauseIllegalInsn, uint64(insn))
		}
		base := addr &^ 63
		var zero [64]byte
		if err := h.storeBlock(base, zero[:]); err != nil {
			return err
		}
	default:
		return Trap(CauseIllegalInsn, uint64(insn))
	}
	h.PC += length
	return nil
}

// cboPermitted checks menvcfg when the hart is below M and, in U-mode,
// senvcfg as well, matching the real permission chain for cache-block
// operations.
func (h *Hart) cboPermitted(bit uint64) bool {
	if h.Priv == PrivM {
		return true
	}
	if h.csr.Menvcfg&bit == 0 {
		return false
	}
	if h.Priv == PrivU && h.csr.Senvcfg&bit == 0 {
		return false
	}
	return true
}

func (h *Hart) storeBlock(base uint64, data []byte) error {
	for i := 0; i < len(data); i += 8 {
		if err := h.storeMem(base+uint64(i), 8, 0); err != nil {
			return err
		}
	}
	return nil
}
