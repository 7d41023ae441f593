package core

// C-extension (RVC) expander: translates every 16-bit compressed
// instruction into its equivalent full-width encoding before Dispatch ever
// sees it, so the rest of the pipeline only ever handles 32-bit
// instructions.

func encodeR(funct7, rs2, rs1, funct3, rd, op uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | op
}

func encodeI(imm uint32, rs1, funct3, rd, op uint32) uint32 {
	return (imm&0xfff)<<20 | rs1<<15 | funct3<<12 | rd<<7 | op
}

func encodeS(imm uint32, rs2, rs1, funct3, op uint32) uint32 {
	lo := imm & 0x1f
	hi := (imm >> 5) & 0x7f
	return hi<<25 | rs2<<20 | rs1<<15 | funct3<<12 | lo<<7 | op
}

func encodeB(imm uint32, rs2, rs1, funct3, op uint32) uint32 {
	b11 := (imm >> 11) & 1
	b12 := (imm >> 12) & 1
	b4_1 := (imm >> 1) & 0xf
	b10_5 := (imm >> 5) & 0x3f
	return b12<<31 | b10_5<<25 | rs2<<20 | rs1<<15 | funct3<<12 | b4_1<<8 | b11<<7 | op
}

func encodeU(imm uint32, rd, op uint32) uint32 {
	return (imm & 0xfffff000) | rd<<7 | op
}

func encodeJ(imm uint32, rd, op uint32) uint32 {
	b19_12 := (imm >> 12) & 0xff
	b11 := (imm >> 11) & 1
	b10_1 := (imm >> 1) & 0x3ff
	b20 := (imm >> 20) & 1
	return b20<<31 | b10_1<<21 | b11<<20 | b19_12<<12 | rd<<7 | op
}

// c* field helpers operate on the 16-bit instruction word.
func cOp(i uint16) uint32     { return uint32(i) & 0x3 }
func cFunct3(i uint16) uint32 { return uint32(i>>13) & 0x7 }
func cRdRs1(i uint16) uint32  { return uint32(i>>7) & 0x1f }
func cRs2(i uint16) uint32    { return uint32(i>>2) & 0x1f }
func cRdRs1p(i uint16) uint32 { return uint32(i>>7)&0x7 + 8 }
func cRs2p(i uint16) uint32   { return uint32(i>>2)&0x7 + 8 }

func signExt(v uint32, bits uint) uint32 {
	shift := 32 - bits
	return uint32(int32(v<<shift) >> shift)
}

// expandCompressed decodes a 16-bit instruction per the RVC quadrants
// (C0/C1/C2) and returns its full-width equivalent. ok is false for a
// reserved/unimplemented encoding (illegal instruction at the caller).
func (h *Hart) expandCompressed(i uint16) (uint32, bool) {
	if i == 0 {
		return 0, false // all-zero is always illegal, never a nop
	}
	switch cOp(i) {
	case 0b00:
		return h.expandQuadrant0(i)
	case 0b01:
		return h.expandQuadrant1(i)
	case 0b10:
		return h.expandQuadrant2(i)
	}
	return 0, false
}

func (h *Hart) expandQuadrant0(i uint16) (uint32, bool) {
	rdp := cRdRs1p(i)
	rs1p := cRdRs1p(i)
	rs2p := cRs2p(i)

	switch cFunct3(i) {
	case 0b000: // C.ADDI4SPN
		nzuimm := ((uint32(i>>5) & 0x1) << 3) | ((uint32(i>>6) & 0x1) << 2) |
			((uint32(i>>7) & 0xf) << 6) | ((uint32(i>>11) & 0x3) << 4)
		if nzuimm == 0 {
			return 0, false
		}
		return encodeI(nzuimm, 2, 0, rdp, opOpImm), true
	case 0b001: // C.FLD
		imm := cLdImm(i)
		return encodeI(imm, rs1p, 0b011, rdp, opLoadFP), true
	case 0b010: // C.LW
		imm := cLwImm(i)
		return encodeI(imm, rs1p, 0b010, rdp, opLoad), true
	case 0b011: // C.LD
		imm := cLdImm(i)
		return encodeI(imm, rs1p, 0b011, rdp, opLoad), true
	case 0b101: // C.FSD
		imm := cLdImm(i)
		return encodeS(imm, rs2p, rs1p, 0b011, opStoreFP), true
	case 0b110: // C.SW
		imm := cLwImm(i)
		return encodeS(imm, rs2p, rs1p, 0b010, opStore), true
	case 0b111: // C.SD
		imm := cLdImm(i)
		return encodeS(imm, rs2p, rs1p, 0b011, opStore), true
	}
	return 0, false
}

func cLwImm(i uint16) uint32 {
	return ((uint32(i>>6) & 0x1) << 2) | ((uint32(i>>10) & 0x7) << 3) | ((uint32(i>>5) & 0x1) << 6)
}

func cLdImm(i uint16) uint32 {
	return ((uint32(i>>10) & 0x7) << 3) | ((uint32(i>>5) & 0x3) << 6)
}

func (h *Hart) expandQuadrant1(i uint16) (uint32, bool) {
	switch cFunct3(i) {
	case 0b000: // C.ADDI / C.NOP
		rd := cRdRs1(i)
		imm := signExt(((uint32(i>>2)&0x1f)|((uint32(i>>12)&1)<<5)), 6)
		return encodeI(imm, rd, 0, rd, opOpImm), true
	case 0b001: // C.ADDIW
		rd := cRdRs1(i)
		if rd == 0 {
			return 0, false
		}
		imm := signExt(((uint32(i>>2)&0x1f)|((uint32(i>>12)&1)<<5)), 6)
		return encodeI(imm, rd, 0, rd, opOpImm32), true
	case 0b010: // C.LI
		rd := cRdRs1(i)
		imm := signExt(((uint32(i>>2)&0x1f)|((uint32(i>>12)&1)<<5)), 6)
		return encodeI(imm, 0, 0, rd, opOpImm), true
	case 0b011:
		rd := cRdRs1(i)
		if rd == 2 { // C.ADDI16SP
			imm := signExt(
				((uint32(i>>6)&1)<<4)|((uint32(i>>2)&1)<<5)|
					((uint32(i>>5)&1)<<6)|((uint32(i>>3)&0x3)<<7)|
					((uint32(i>>12)&1)<<9), 10)
			if imm == 0 {
				return 0, false
			}
			return encodeI(imm, 2, 0, 2, opOpImm), true
		}
		// C.LUI
		imm := signExt(((uint32(i>>2)&0x1f)<<12)|((uint32(i>>12)&1)<<17), 18)
		if imm == 0 || rd == 0 {
			return 0, false
		}
		return encodeU(imm, rd, opLui), true
	case 0b100:
		rdp := cRdRs1p(i)
		sub := (i >> 10) & 0x3
		switch sub {
		case 0b00: // C.SRLI
			shamt := ((uint32(i>>2) & 0x1f) | (uint32(i>>12)&1)<<5)
			return encodeI(shamt, rdp, 0b101, rdp, opOpImm), true
		case 0b01: // C.SRAI
			shamt := ((uint32(i>>2) & 0x1f) | (uint32(i>>12)&1)<<5)
			return encodeI((1<<10)|shamt, rdp, 0b101, rdp, opOpImm), true
		case 0b10: // C.ANDI
			imm := signExt(((uint32(i>>2)&0x1f)|((uint32(i>>12)&1)<<5)), 6)
			return encodeI(imm, rdp, 0b111, rdp, opOpImm), true
		case 0b11:
			rs2p := cRs2p(i)
			wide := (i >> 12) & 1
			funct2 := (i >> 5) & 0x3
			if wide == 0 {
				switch funct2 {
				case 0b00: // C.SUB
					return encodeR(0b0100000, rs2p, rdp, 0, rdp, opOp), true
				case 0b01: // C.XOR
					return encodeR(0, rs2p, rdp, 0b100, rdp, opOp), true
				case 0b10: // C.OR
					return encodeR(0, rs2p, rdp, 0b110, rdp, opOp), true
				case 0b11: // C.AND
					return encodeR(0, rs2p, rdp, 0b111, rdp, opOp), true
				}
			} else {
				switch funct2 {
				case 0b00: // C.SUBW
					return encodeR(0b0100000, rs2p, rdp, 0, rdp, opOp32), true
				case 0b01: // C.ADDW
					return encodeR(0, rs2p, rdp, 0, rdp, opOp32), true
				}
				return 0, false
			}
		}
	case 0b101: // C.J
		imm := cjImm(i)
		return encodeJ(imm, 0, opJal), true
	case 0b110: // C.BEQZ
		rs1p := cRdRs1p(i)
		imm := cbImm(i)
		return encodeB(imm, 0, rs1p, 0b000, opBranch), true
	case 0b111: // C.BNEZ
		rs1p := cRdRs1p(i)
		imm := cbImm(i)
		return encodeB(imm, 0, rs1p, 0b001, opBranch), true
	}
	return 0, false
}

func cjImm(i uint16) uint32 {
	bits := ((uint32(i>>3) & 0x7) << 1) | ((uint32(i>>11) & 1) << 4) |
		((uint32(i>>2) & 1) << 5) | ((uint32(i>>7) & 1) << 6) |
		((uint32(i>>6) & 1) << 7) | ((uint32(i>>9) & 0x3) << 8) |
		((uint32(i>>8) & 1) << 10) | ((uint32(i>>12) & 1) << 11)
	return signExt(bits, 12)
}

func cbImm(i uint16) uint32 {
	bits := ((uint32(i>>3) & 0x3) << 1) | ((uint32(i>>10) & 0x3) << 3) |
		((uint32(i>>2) & 1) << 5) | ((uint32(i>>5) & 0x3) << 6) |
		((uint32(i>>12) & 1) << 8)
	return signExt(bits, 9)
}

func (h *Hart) expandQuadrant2(i uint16) (uint32, bool) {
	rd := cRdRs1(i)
	rs2 := cRs2(i)

	switch cFunct3(i) {
	case 0b000: // C.SLLI
		shamt := (uint32(i>>2) & 0x1f) | (uint32(i>>12)&1)<<5
		if rd == 0 {
			return 0, false
		}
		return encodeI(shamt, rd, 0b001, rd, opOpImm), true
	case 0b001: // C.FLDSP
		imm := ((uint32(i>>2) & 0x7) << 6) | ((uint32(i>>5) & 0x3) << 3) | ((uint32(i>>12) & 1) << 5)
		return encodeI(imm, 2, 0b011, rd, opLoadFP), true
	case 0b010: // C.LWSP
		if rd == 0 {
			return 0, false
		}
		imm := ((uint32(i>>2) & 0x3) << 6) | ((uint32(i>>4) & 0x7) << 2) | ((uint32(i>>12) & 1) << 5)
		return encodeI(imm, 2, 0b010, rd, opLoad), true
	case 0b011: // C.LDSP
		if rd == 0 {
			return 0, false
		}
		imm := ((uint32(i>>2) & 0x7) << 6) | ((uint32(i>>5) & 0x3) << 3) | ((uint32(i>>12) & 1) << 5)
		return encodeI(imm, 2, 0b011, rd, opLoad), true
	case 0b100:
		b12 := (i >> 12) & 1
		if b12 == 0 {
			if rs2 == 0 { // C.JR
				if rd == 0 {
					return 0, false
				}
				return encodeI(0, rd, 0, 0, opJalr), true
			}
			// C.MV
			return encodeR(0, rs2, 0, 0, rd, opOp), true
		}
		if rd == 0 && rs2 == 0 { // C.EBREAK
			return 0x00100073, true
		}
		if rs2 == 0 { // C.JALR
			return encodeI(0, rd, 0, 1, opJalr), true
		}
		// C.ADD
		return encodeR(0, rs2, rd, 0, rd, opOp), true
	case 0b101: // C.FSDSP
		imm := ((uint32(i>>7) & 0x7) << 6) | ((uint32(i>>10) & 0x7) << 3)
		return encodeS(imm, rs2, 2, 0b011, opStoreFP), true
	case 0b110: // C.SWSP
		imm := ((uint32(i>>9) & 0xf) << 2) | ((uint32(i>>7) & 0x3) << 6)
		return encodeS(imm, rs2, 2, 0b010, opStore), true
	case 0b111: // C.SDSP
		imm := ((uint32(i>>7) & 0x7) << 6) | ((uint32(i>>10) & 0x7) << 3)
		return encodeS(imm, rs2, 2, 0b011, opStore), true
	}
	return 0, false
}
