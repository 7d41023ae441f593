package core

import "math"

// F/D extension: load/store, arithmetic and fused multiply-add handlers,
// built around a NaN-boxed h.F register file and mstatus.FS dirtiness
// tracking. Only the S (single) and D (double) formats are implemented,
// matching the MisaExtF and MisaExtD bits this core advertises; Q/H formats
// are not modeled.

const nanBoxTop32 = uint64(0xffffffff) << 32

func (h *Hart) fpEnabled() bool {
	return (h.csr.Mstatus & StatusFSMask) != 0
}

func (h *Hart) markFPDirty() {
	h.csr.Mstatus = (h.csr.Mstatus &^ StatusFSMask) | (uint64(3) << StatusFSShift)
}

func readF32(bits uint64) float32 {
	if bits&nanBoxTop32 != nanBoxTop32 {
		return float32(math.NaN())
	}
	return math.Float32frombits(uint32(bits))
}

func writeF32(v float32) uint64 {
	return nanBoxTop32 | uint64(math.Float32bits(v))
}

func readF64(bits uint64) float64 {
	return math.Float64frombits(bits)
}

func writeF64(v float64) uint64 {
	return math.Float64bits(v)
}

func fpFunct5(insn uint32) uint32 { return insn >> 27 }
func fpFmt(insn uint32) uint32    { return (insn >> 25) & 0x3 }

const (
	fmtS = 0
	fmtD = 1
)

func (h *Hart) execLoadFP(insn uint32, length uint64) error {
	if !h.fpEnabled() {
		return Trap(CauseIllegalInsn, uint64(insn))
	}
	addr := h.ReadReg(rs1(insn)) + immI(insn)
	switch funct3(insn) {
	case 0b010: // FLW
		v, err := h.loadMem(addr, 4)
		if err != nil {
			return err
		}
		h.F[rd(insn)] = nanBoxTop32 | v
	case 0b011: // FLD
		v, err := h.loadMem(addr, 8)
		if err != nil {
			return err
		}
		h.F[rd(insn)] = v
	default:
		return Trap(CauseIllegalInsn, uint64(insn))
	}
	h.markFPDirty()
	h.PC += length
	return nil
}

func (h *Hart) execStoreFP(insn uint32, length uint64) error {
	if !h.fpEnabled() {
		return Trap(CauseIllegalInsn, uint64(insn))
	}
	addr := h.ReadReg(rs1(insn)) + immS(insn)
	switch funct3(insn) {
	case 0b010: // FSW
		if err := h.storeMem(addr, 4, h.F[rs2(insn)]&0xffffffff); err != nil {
			return err
		}
	case 0b011: // FSD
		if err := h.storeMem(addr, 8, h.F[rs2(insn)]); err != nil {
			return err
		}
	default:
		return Trap(CauseIllegalInsn, uint64(insn))
	}
	h.PC += length
	return nil
}

func (h *Hart) execFusedMulAdd(insn uint32, length uint64) error {
	if !h.fpEnabled() {
		return Trap(CauseIllegalInsn, uint64(insn))
	}
	d := fmtD
	if fpFmt(insn) == fmtS {
		d = fmtS
	}
	r1, r2, r3 := rs1(insn), rs2(insn), rs3(insn)
	neg := opcode(insn) == opNmsub || opcode(insn) == opNmadd
	subtract := opcode(insn) == opMsub || opcode(insn) == opNmsub

	if d == fmtS {
		a, b, c := readF32(h.F[r1]), readF32(h.F[r2]), readF32(h.F[r3])
		if subtract {
			c = -c
		}
		res := a*b + c
		if neg {
			res = -res
		}
		h.F[rd(insn)] = writeF32(res)
	} else {
		a, b, c := readF64(h.F[r1]), readF64(h.F[r2]), readF64(h.F[r3])
		if subtract {
			c = -c
		}
		res := a*b + c
		if neg {
			res = -res
		}
		h.F[rd(insn)] = writeF64(res)
	}
	h.markFPDirty()
	h.PC += length
	return nil
}

func (h *Hart) execOpFP(insn uint32, length uint64) error {
	if !h.fpEnabled() {
		return Trap(CauseIllegalInsn, uint64(insn))
	}
	f5 := fpFunct5(insn)
	fmt := fpFmt(insn)
	rdReg := rd(insn)
	r1, r2 := rs1(insn), rs2(insn)

	switch f5 {
	case 0b00000, 0b00001, 0b00010, 0b00011: // ADD/SUB/MUL/DIV
		return h.execFPArith(insn, length, f5, fmt)
	case 0b01011: // SQRT
		return h.execFPSqrt(insn, length, fmt)
	case 0b00100: // SGNJ/SGNJN/SGNJX
		return h.execFPSgnj(insn, length, fmt)
	case 0b00101: // MIN/MAX
		return h.execFPMinMax(insn, length, fmt)
	case 0b10100: // FEQ/FLT/FLE
		return h.execFPCompare(insn, length, fmt)
	case 0b11100: // FCLASS / FMV.X.W / FMV.X.D
		return h.execFPMoveToInt(insn, length, fmt)
	case 0b11110: // FMV.W.X / FMV.D.X
		if fmt == fmtS {
			h.F[rdReg] = nanBoxTop32 | (h.ReadReg(r1) & 0xffffffff)
		} else {
			h.F[rdReg] = h.ReadReg(r1)
		}
		h.markFPDirty()
		h.PC += length
		return nil
	case 0b01000: // FCVT.S.D / FCVT.D.S
		if fmt == fmtS {
			h.F[rdReg] = writeF32(float32(readF64(h.F[r1])))
		} else {
			h.F[rdReg] = writeF64(float64(readF32(h.F[r1])))
		}
		h.markFPDirty()
		h.PC += length
		return nil
	case 0b11000: // FCVT.{W,WU,L,LU}.{S,D}
		return h.execFPToInt(insn, length, fmt)
	case 0b11010: // FCVT.{S,D}.{W,WU,L,LU}
		return h.execIntToFP(insn, length, fmt)
	}
	return Trap(CauseIllegalInsn, uint64(insn))
}

func (h *Hart) execFPArith(insn uint32, length uint64, f5, fmt uint32) error {
	rdReg, r1, r2 := rd(insn), rs1(insn), rs2(insn)
	if fmt == fmtS {
		a, b := readF32(h.F[r1]), readF32(h.F[r2])
		var res float32
		switch f5 {
		case 0b00000:
			res = a + b
		case 0b00001:
			res = a - b
		case 0b00010:
			res = a * b
		case 0b00011:
			res = a / b
		}
		h.F[rdReg] = writeF32(res)
	} else {
		a, b := readF64(h.F[r1]), readF64(h.F[r2])
		var res float64
		switch f5 {
		case 0b00000:
			res = a + b
		case 0b00001:
			res = a - b
		case 0b00010:
			res = a * b
		case 0b00011:
			res = a / b
		}
		h.F[rdReg] = writeF64(res)
	}
	h.markFPDirty()
	h.PC += length
	return nil
}

func (h *Hart) execFPSqrt(insn uint32, length uint64, fmt uint32) error {
	rdReg, r1 := rd(insn), rs1(insn)
	if fmt == fmtS {
		h.F[rdReg] = writeF32(float32(math.Sqrt(float64(readF32(h.F[r1])))))
	} else {
		h.F[rdReg] = writeF64(math.Sqrt(readF64(h.F[r1])))
	}
	h.markFPDirty()
	h.PC += length
	return nil
}

func (h *Hart) execFPSgnj(insn uint32, length uint64, fmt uint32) error {
	rdReg, r1, r2 := rd(insn), rs1(insn), rs2(insn)
	f3 := funct3(insn)
	if fmt == fmtS {
		a, b := math.Float32bits(readF32(h.F[r1])), math.Float32bits(readF32(h.F[r2]))
		const signBit = uint32(1) << 31
		var res uint32
		switch f3 {
		case 0b000:
			res = (a &^ signBit) | (b & signBit)
		case 0b001:
			res = (a &^ signBit) | (^b & signBit)
		case 0b010:
			res = a ^ (b & signBit)
		}
		h.F[rdReg] = nanBoxTop32 | uint64(res)
	} else {
		a, b := math.Float64bits(readF64(h.F[r1])), math.Float64bits(readF64(h.F[r2]))
		const signBit = uint64(1) << 63
		var res uint64
		switch f3 {
		case 0b000:
			res = (a &^ signBit) | (b & signBit)
		case 0b001:
			res = (a &^ signBit) | (^b & signBit)
		case 0b010:
			res = a ^ (b & signBit)
		}
		h.F[rdReg] = res
	}
	h.markFPDirty()
	h.PC += length
	return nil
}

func (h *Hart) execFPMinMax(insn uint32, length uint64, fmt uint32) error {
	rdReg, r1, r2 := rd(insn), rs1(insn), rs2(insn)
	isMax := funct3(insn) == 1
	if fmt == fmtS {
		a, b := readF32(h.F[r1]), readF32(h.F[r2])
		var res float32
		if isMax {
			res = float32(math.Max(float64(a), float64(b)))
		} else {
			res = float32(math.Min(float64(a), float64(b)))
		}
		h.F[rdReg] = writeF32(res)
	} else {
		a, b := readF64(h.F[r1]), readF64(h.F[r2])
		var res float64
		if isMax {
			res = math.Max(a, b)
		} else {
			res = math.Min(a, b)
		}
		h.F[rdReg] = writeF64(res)
	}
	h.markFPDirty()
	h.PC += length
	return nil
}

func (h *Hart) execFPCompare(insn uint32, length uint64, fmt uint32) error {
	r1, r2 := rs1(insn), rs2(insn)
	var a, b float64
	if fmt == fmtS {
		a, b = float64(readF32(h.F[r1])), float64(readF32(h.F[r2]))
	} else {
		a, b = readF64(h.F[r1]), readF64(h.F[r2])
	}
	var res bool
	switch funct3(insn) {
	case 0b010: // FEQ
		res = a == b
	case 0b001: // FLT
		res = a < b
	case 0b000: // FLE
		res = a <= b
	}
	h.WriteReg(rd(insn), boolU64(res))
	h.PC += length
	return nil
}

func (h *Hart) execFPMoveToInt(insn uint32, length uint64, fmt uint32) error {
	r1 := rs1(insn)
	if funct3(insn) == 0b001 { // FCLASS
		var cls uint64
		if fmt == fmtS {
			cls = fclass(float64(readF32(h.F[r1])))
		} else {
			cls = fclass(readF64(h.F[r1]))
		}
		h.WriteReg(rd(insn), cls)
		h.PC += length
		return nil
	}
	// FMV.X.W / FMV.X.D
	if fmt == fmtS {
		h.WriteReg(rd(insn), signExtend32(uint32(h.F[r1])))
	} else {
		h.WriteReg(rd(insn), h.F[r1])
	}
	h.PC += length
	return nil
}

func fclass(v float64) uint64 {
	switch {
	case math.IsInf(v, -1):
		return 1 << 0
	case v < 0 && !math.IsNaN(v):
		return 1 << 1
	case math.IsInf(v, 1):
		return 1 << 7
	case math.IsNaN(v):
		return 1 << 9 // quiet NaN; signaling-NaN distinction not modeled
	case v == 0:
		return 1 << 4
	default:
		return 1 << 6
	}
}

func (h *Hart) execFPToInt(insn uint32, length uint64, fmt uint32) error {
	r1 := rs1(insn)
	var v float64
	if fmt == fmtS {
		v = float64(readF32(h.F[r1]))
	} else {
		v = readF64(h.F[r1])
	}
	unsigned := rs2(insn)&1 != 0
	wide := rs2(insn)&2 != 0

	var result uint64
	switch {
	case wide && !unsigned: // FCVT.L
		result = uint64(int64(v))
	case wide && unsigned: // FCVT.LU
		result = uint64(v)
	case !wide && !unsigned: // FCVT.W
		result = signExtend32(uint32(int32(v)))
	default: // FCVT.WU
		result = signExtend32(uint32(v))
	}
	h.WriteReg(rd(insn), result)
	h.PC += length
	return nil
}

func (h *Hart) execIntToFP(insn uint32, length uint64, fmt uint32) error {
	r1 := rs1(insn)
	x := h.ReadReg(r1)
	unsigned := rs2(insn)&1 != 0
	wide := rs2(insn)&2 != 0

	var v float64
	switch {
	case wide && !unsigned:
		v = float64(int64(x))
	case wide && unsigned:
		v = float64(x)
	case !wide && !unsigned:
		v = float64(int32(uint32(x)))
	default:
		v = float64(uint32(x))
	}

	if fmt == fmtS {
		h.F[rd(insn)] = writeF32(float32(v))
	} else {
		h.F[rd(insn)] = writeF64(v)
	}
	h.markFPDirty()
	h.PC += length
	return nil
}
