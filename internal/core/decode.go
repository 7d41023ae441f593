package core

// Base opcode field values (instr[6:0]).
const (
	opLoad     = 0b0000011
	opLoadFP   = 0b0000111
	opMiscMem  = 0b0001111
	opOpImm    = 0b0010011
	opAuipc    = 0b0010111
	opOpImm32  = 0b0011011
	opStore    = 0b0100011
	opStoreFP  = 0b0100111
	opAMO      = 0b0101111
	opOp       = 0b0110011
	opLui      = 0b0110111
	opOp32     = 0b0111011
	opMadd     = 0b1000011
	opMsub     = 0b1000111
	opNmsub    = 0b1001011
	opNmadd    = 0b1001111
	opOpFP     = 0b1010011
	opBranch   = 0b1100011
	opJalr     = 0b1100111
	opJal      = 0b1101111
	opSystem   = 0b1110011
)

func opcode(insn uint32) uint32 { return insn & 0x7f }
func rd(insn uint32) uint32     { return (insn >> 7) & 0x1f }
func funct3(insn uint32) uint32 { return (insn >> 12) & 0x7 }
func rs1(insn uint32) uint32    { return (insn >> 15) & 0x1f }
func rs2(insn uint32) uint32    { return (insn >> 20) & 0x1f }
func rs3(insn uint32) uint32    { return (insn >> 27) & 0x1f }
func funct7(insn uint32) uint32 { return (insn >> 25) & 0x7f }
func funct2(insn uint32) uint32 { return (insn >> 25) & 0x3 }

func immI(insn uint32) uint64 { return signExtendN(uint64(insn)>>20, 12) }

func immS(insn uint32) uint64 {
	v := ((insn >> 7) & 0x1f) | ((insn >> 25) << 5)
	return signExtendN(uint64(v), 12)
}

func immB(insn uint32) uint64 {
	v := ((insn >> 8) & 0xf << 1) |
		((insn >> 25) & 0x3f << 5) |
		((insn >> 7) & 0x1 << 11) |
		((insn >> 31) & 0x1 << 12)
	return signExtendN(uint64(v), 13)
}

func immU(insn uint32) uint64 {
	return signExtend32(insn & 0xfffff000)
}

func immJ(insn uint32) uint64 {
	v := ((insn >> 21) & 0x3ff << 1) |
		((insn >> 20) & 0x1 << 11) |
		((insn >> 12) & 0xff << 12) |
		((insn >> 31) & 0x1 << 20)
	return signExtendN(uint64(v), 21)
}

func shamt64(insn uint32) uint32 { return (insn >> 20) & 0x3f }
func shamt32(insn uint32) uint32 { return (insn >> 20) & 0x1f }
