package core

// Base integer + M-extension opcode handlers.

func (h *Hart) execLui(insn uint32, length uint64) error {
	h.WriteReg(rd(insn), immU(insn))
	h.PC += length
	return nil
}

func (h *Hart) execAuipc(insn uint32, length uint64) error {
	h.WriteReg(rd(insn), h.PC+immU(insn))
	h.PC += length
	return nil
}

func (h *Hart) execJal(insn uint32, length uint64) error {
	target := h.PC + immJ(insn)
	if target&1 != 0 {
		return Trap(CauseInsnAddrMisaligned, target)
	}
	h.WriteReg(rd(insn), h.PC+length)
	h.PC = target
	return nil
}

func (h *Hart) execJalr(insn uint32, length uint64) error {
	target := (h.ReadReg(rs1(insn)) + immI(insn)) &^ 1
	if target&1 != 0 {
		return Trap(CauseInsnAddrMisaligned, target)
	}
	ret := h.PC + length
	h.PC = target
	h.WriteReg(rd(insn), ret)
	return nil
}

func (h *Hart) execBranch(insn uint32, length uint64) error {
	a := h.ReadReg(rs1(insn))
	b := h.ReadReg(rs2(insn))
	var taken bool
	switch funct3(insn) {
	case 0b000: // BEQ
		taken = a == b
	case 0b001: // BNE
		taken = a != b
	case 0b100: // BLT
		taken = int64(a) < int64(b)
	case 0b101: // BGE
		taken = int64(a) >= int64(b)
	case 0b110: // BLTU
		taken = a < b
	case 0b111: // BGEU
		taken = a >= b
	default:
		return Trap(CauseIllegalInsn, uint64(insn))
	}
	if taken {
		target := h.PC + immB(insn)
		if target&1 != 0 {
			return Trap(CauseInsnAddrMisaligned, target)
		}
		h.PC = target
	} else {
		h.PC += length
	}
	return nil
}

func loadSize(f3 uint32) (size uint64, signed bool, ok bool) {
	switch f3 {
	case 0b000:
		return 1, true, true
	case 0b001:
		return 2, true, true
	case 0b010:
		return 4, true, true
	case 0b011:
		return 8, false, true
	case 0b100:
		return 1, false, true
	case 0b101:
		return 2, false, true
	case 0b110:
		return 4, false, true
	}
	return 0, false, false
}

func (h *Hart) execLoad(insn uint32, length uint64) error {
	size, signed, ok := loadSize(funct3(insn))
	if !ok {
		return Trap(CauseIllegalInsn, uint64(insn))
	}
	addr := h.ReadReg(rs1(insn)) + immI(insn)
	v, err := h.loadMem(addr, size)
	if err != nil {
		return err
	}
	if signed && size < 8 {
		v = signExtendN(v, uint(size*8))
	}
	h.WriteReg(rd(insn), v)
	h.PC += length
	return nil
}

func (h *Hart) execStore(insn uint32, length uint64) error {
	var size uint64
	switch funct3(insn) {
	case 0b000:
		size = 1
	case 0b001:
		size = 2
	case 0b010:
		size = 4
	case 0b011:
		size = 8
	default:
		return Trap(CauseIllegalInsn, uint64(insn))
	}
	addr := h.ReadReg(rs1(insn)) + immS(insn)
	if err := h.storeMem(addr, size, h.ReadReg(rs2(insn))); err != nil {
		return err
	}
	h.PC += length
	return nil
}

func (h *Hart) execOpImm(insn uint32, length uint64) error {
	a := h.ReadReg(rs1(insn))
	imm := immI(insn)
	var result uint64
	switch funct3(insn) {
	case 0b000: // ADDI
		result = a + imm
	case 0b010: // SLTI
		result = boolU64(int64(a) < int64(imm))
	case 0b011: // SLTIU
		result = boolU64(a < imm)
	case 0b100: // XORI
		result = a ^ imm
	case 0b110: // ORI
		result = a | imm
	case 0b111: // ANDI
		result = a & imm
	case 0b001: // SLLI
		result = a << shamt64(insn)
	case 0b101: // SRLI/SRAI
		if funct7(insn)&0x20 != 0 {
			result = uint64(int64(a) >> shamt64(insn))
		} else {
			result = a >> shamt64(insn)
		}
	default:
		return Trap(CauseIllegalInsn, uint64(insn))
	}
	h.WriteReg(rd(insn), result)
	h.PC += length
	return nil
}

func (h *Hart) execOpImm32(insn uint32, length uint64) error {
	a := uint32(h.ReadReg(rs1(insn)))
	imm := uint32(immI(insn))
	var result uint32
	switch funct3(insn) {
	case 0b000: // ADDIW
		result = a + imm
	case 0b001: // SLLIW
		result = a << shamt32(insn)
	case 0b101: // SRLIW/SRAIW
		if funct7(insn)&0x20 != 0 {
			result = uint32(int32(a) >> shamt32(insn))
		} else {
			result = a >> shamt32(insn)
		}
	default:
		return Trap(CauseIllegalInsn, uint64(insn))
	}
	h.WriteReg(rd(insn), signExtend32(result))
	h.PC += length
	return nil
}

func boolU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (h *Hart) execOp(insn uint32, length uint64) error {
	a := h.ReadReg(rs1(insn))
	b := h.ReadReg(rs2(insn))
	f7 := funct7(insn)

	if f7 == 0b0000001 {
		return h.execMExtension(insn, length, a, b, false)
	}

	var result uint64
	switch funct3(insn) {
	case 0b000: // ADD/SUB
		if f7&0x20 != 0 {
			result = a - b
		} else {
			result = a + b
		}
	case 0b001: // SLL
		result = a << (b & 0x3f)
	case 0b010: // SLT
		result = boolU64(int64(a) < int64(b))
	case 0b011: // SLTU
		result = boolU64(a < b)
	case 0b100: // XOR
		result = a ^ b
	case 0b101: // SRL/SRA
		if f7&0x20 != 0 {
			result = uint64(int64(a) >> (b & 0x3f))
		} else {
			result = a >> (b & 0x3f)
		}
	case 0b110: // OR
		result = a | b
	case 0b111: // AND
		result = a & b
	default:
		return Trap(CauseIllegalInsn, uint64(insn))
	}
	h.WriteReg(rd(insn), result)
	h.PC += length
	return nil
}

func (h *Hart) execOp32(insn uint32, length uint64) error {
	a := uint32(h.ReadReg(rs1(insn)))
	b := uint32(h.ReadReg(rs2(insn)))
	f7 := funct7(insn)

	if f7 == 0b0000001 {
		return h.execMExtension(insn, length, uint64(a), uint64(b), true)
	}

	var result uint32
	switch funct3(insn) {
	case 0b000:
		if f7&0x20 != 0 {
			result = a - b
		} else {
			result = a + b
		}
	case 0b001:
		result = a << (b & 0x1f)
	case 0b101:
		if f7&0x20 != 0 {
			result = uint32(int32(a) >> (b & 0x1f))
		} else {
			result = a >> (b & 0x1f)
		}
	default:
		return Trap(CauseIllegalInsn, uint64(insn))
	}
	h.WriteReg(rd(insn), signExtend32(result))
	h.PC += length
	return nil
}

// execMExtension implements MUL/DIV/REM and their word-width (*W) variants.
func (h *Hart) execMExtension(insn uint32, length uint64, a, b uint64, word bool) error {
	f3 := funct3(insn)
	var result uint64

	if word {
		sa, sb := int32(a), int32(b)
		switch f3 {
		case 0b000: // MULW
			result = signExtend32(uint32(sa * sb))
		case 0b100: // DIVW
			if sb == 0 {
				result = ^uint64(0)
			} else if sa == -2147483648 && sb == -1 {
				result = signExtend32(uint32(sa))
			} else {
				result = signExtend32(uint32(sa / sb))
			}
		case 0b101: // DIVUW
			ua, ub := uint32(a), uint32(b)
			if ub == 0 {
				result = ^uint64(0)
			} else {
				result = signExtend32(ua / ub)
			}
		case 0b110: // REMW
			if sb == 0 {
				result = signExtend32(uint32(sa))
			} else if sa == -2147483648 && sb == -1 {
				result = 0
			} else {
				result = signExtend32(uint32(sa % sb))
			}
		case 0b111: // REMUW
			ua, ub := uint32(a), uint32(b)
			if ub == 0 {
				result = signExtend32(ua)
			} else {
				result = signExtend32(ua % ub)
			}
		default:
			return Trap(CauseIllegalInsn, uint64(insn))
		}
		h.WriteReg(rd(insn), result)
		h.PC += length
		return nil
	}

	sa, sb := int64(a), int64(b)
	switch f3 {
	case 0b000: // MUL
		result = a * b
	case 0b001: // MULH
		result = uint64(mulHigh64(sa, sb))
	case 0b010: // MULHSU
		result = uint64(mulHighSU64(sa, b))
	case 0b011: // MULHU
		result = mulHighU64(a, b)
	case 0b100: // DIV
		if b == 0 {
			result = ^uint64(0)
		} else if sa == -9223372036854775808 && sb == -1 {
			result = a
		} else {
			result = uint64(sa / sb)
		}
	case 0b101: // DIVU
		if b == 0 {
			result = ^uint64(0)
		} else {
			result = a / b
		}
	case 0b110: // REM
		if b == 0 {
			result = a
		} else if sa == -9223372036854775808 && sb == -1 {
			result = 0
		} else {
			result = uint64(sa % sb)
		}
	case 0b111: // REMU
		if b == 0 {
			result = a
		} else {
			result = a % b
		}
	default:
		return Trap(CauseIllegalInsn, uint64(insn))
	}
	h.WriteReg(rd(insn), result)
	h.PC += length
	return nil
}

func mulHigh64(a, b int64) int64 {
	hi, _ := bitsMul64(uint64(a), uint64(b))
	if a < 0 {
		hi -= uint64(b)
	}
	if b < 0 {
		hi -= uint64(a)
	}
	return int64(hi)
}

func mulHighSU64(a int64, b uint64) int64 {
	hi, _ := bitsMul64(uint64(a), b)
	if a < 0 {
		hi -= b
	}
	return int64(hi)
}

func mulHighU64(a, b uint64) uint64 {
	hi, _ := bitsMul64(a, b)
	return hi
}

// bitsMul64 is a 64x64->128 unsigned multiply split into (hi, lo).
func bitsMul64(a, b uint64) (hi, lo uint64) {
	const mask32 = 0xffffffff
	aLo, aHi := a&mask32, a>>32
	bLo, bHi := b&mask32, b>>32

	t := aLo * bLo
	w0 := t & mask32
	k := t >> 32

	t = aHi*bLo + k
	w1 := t & mask32
	w2 := t >> 32

	t = aLo*bHi + w1
	k = t >> 32

	hi = aHi*bHi + w2 + k
	lo = (t << 32) + w0
	return hi, lo
}
