package core

import "sync/atomic"

// Atomics engine: LR/SC reservation tracking plus the A-extension AMO
// family, using real compare-and-swap for SC and the AMOs, and clearing the
// LR/SC reservation regardless of SC's outcome rather than only on success.

func (h *Hart) execAMO(insn uint32, length uint64) error {
	f3 := funct3(insn)
	f5 := funct7(insn) >> 2

	addr := h.ReadReg(rs1(insn))

	switch f3 {
	case 0b010:
		if addr&3 != 0 {
			return Trap(CauseStoreAddrMisaligned, addr)
		}
		return h.execAMOWidth(insn, length, addr, f5, 4)
	case 0b011:
		if addr&7 != 0 {
			return Trap(CauseStoreAddrMisaligned, addr)
		}
		return h.execAMOWidth(insn, length, addr, f5, 8)
	}
	return Trap(CauseIllegalInsn, uint64(insn))
}

func (h *Hart) execAMOWidth(insn uint32, length uint64, addr uint64, f5 uint32, size uint64) error {
	rdReg := rd(insn)
	rs2Val := h.ReadReg(rs2(insn))

	switch f5 {
	case 0b00010: // LR.W/LR.D
		v, err := h.loadMem(addr, size)
		if err != nil {
			return err
		}
		h.lrsc = reservation{valid: true, addr: addr, observed: v}
		h.WriteReg(rdReg, signExtendIfWord(v, size))
		h.PC += length
		return nil

	case 0b00011: // SC.W/SC.D
		success := h.lrsc.valid && h.lrsc.addr == addr && h.compareAndSwapMem(addr, size, h.lrsc.observed, rs2Val)
		h.lrsc.valid = false // cleared regardless of outcome
		if success {
			h.WriteReg(rdReg, 0)
		} else {
			h.WriteReg(rdReg, 1)
		}
		h.PC += length
		return nil

	default:
		old, err := h.atomicRMW(addr, size, f5, rs2Val)
		if err != nil {
			return err
		}
		h.WriteReg(rdReg, signExtendIfWord(old, size))
		h.PC += length
		return nil
	}
}

func signExtendIfWord(v, size uint64) uint64 {
	if size == 4 {
		return signExtendN(v, 32)
	}
	return v
}

// compareAndSwapMem performs SC's atomic compare-and-swap, routing through
// RAM's lock-free CAS or an MMIO bounce-buffer commit.
func (h *Hart) compareAndSwapMem(addr, size, old, new uint64) bool {
	off, err := h.Translate(addr, accessWrite, AttrNone)
	if err != nil {
		return false
	}
	if isMMIOTranslation(off) {
		// MMIO has no hardware CAS; commit only if the bounced read still
		// matches old.
		phys := untagMMIO(off)
		cur, ok := h.m.Bus.Read64(phys)
		if size == 4 {
			var c32 uint32
			c32, ok = h.m.Bus.Read32(phys)
			cur = uint64(c32)
		}
		if !ok || cur != old {
			return false
		}
		if size == 4 {
			return h.m.Bus.Write32(phys, uint32(new))
		}
		return h.m.Bus.Write64(phys, new)
	}
	data := h.m.Bus.RAM.Data
	if size == 4 {
		p := (*uint32)(ptrAt(data, off))
		return atomic.CompareAndSwapUint32(p, uint32(old), uint32(new))
	}
	p := (*uint64)(ptrAt(data, off))
	return atomic.CompareAndSwapUint64(p, old, new)
}

// atomicRMW performs the SWAP/ADD/XOR/AND/OR/MIN/MAX/MINU/MAXU family via a
// lock-free retry loop on RAM, or a bounce-buffer read-compute-write on
// MMIO.
func (h *Hart) atomicRMW(addr, size uint64, f5 uint32, operand uint64) (uint64, error) {
	off, err := h.Translate(addr, accessWrite, AttrNone)
	if err != nil {
		return 0, err
	}

	compute := func(old uint64) uint64 { return amoCompute(f5, old, operand, size) }

	if isMMIOTranslation(off) {
		phys := untagMMIO(off)
		var old uint64
		var ok bool
		if size == 4 {
			var v uint32
			v, ok = h.m.Bus.Read32(phys)
			old = uint64(v)
		} else {
			old, ok = h.m.Bus.Read64(phys)
		}
		if !ok {
			return 0, Trap(CauseStoreAccessFault, addr)
		}
		newVal := compute(old)
		if size == 4 {
			ok = h.m.Bus.Write32(phys, uint32(newVal))
		} else {
			ok = h.m.Bus.Write64(phys, newVal)
		}
		if !ok {
			return 0, Trap(CauseStoreAccessFault, addr)
		}
		return old, nil
	}

	data := h.m.Bus.RAM.Data
	if size == 4 {
		p := (*uint32)(ptrAt(data, off))
		for {
			old := atomic.LoadUint32(p)
			newVal := uint32(compute(uint64(old)))
			if atomic.CompareAndSwapUint32(p, old, newVal) {
				return uint64(old), nil
			}
		}
	}
	p := (*uint64)(ptrAt(data, off))
	for {
		old := atomic.LoadUint64(p)
		newVal := compute(old)
		if atomic.CompareAndSwapUint64(p, old, newVal) {
			return old, nil
		}
	}
}

func amoCompute(f5 uint32, old, operand, size uint64) uint64 {
	if size == 4 {
		o, v := uint32(old), uint32(operand)
		var r uint32
		switch f5 {
		case 0b00001:
			r = v
		case 0b00000:
			r = o + v
		case 0b00100:
			r = o ^ v
		case 0b01100:
			r = o & v
		case 0b01000:
			r = o | v
		case 0b10000:
			if int32(o) < int32(v) {
				r = o
			} else {
				r = v
			}
		case 0b10100:
			if int32(o) > int32(v) {
				r = o
			} else {
				r = v
			}
		case 0b11000:
			if o < v {
				r = o
			} else {
				r = v
			}
		case 0b11100:
			if o > v {
				r = o
			} else {
				r = v
			}
		}
		return uint64(r)
	}

	o, v := old, operand
	switch f5 {
	case 0b00001:
		return v
	case 0b00000:
		return o + v
	case 0b00100:
		return o ^ v
	case 0b01100:
		return o & v
	case 0b01000:
		return o | v
	case 0b10000:
		if int64(o) < int64(v) {
			return o
		}
		return v
	case 0b10100:
		if int64(o) > int64(v) {
			return o
		}
		return v
	case 0b11000:
		if o < v {
			return o
		}
		return v
	case 0b11100:
		if o > v {
			return o
		}
		return v
	}
	return o
}
