package core

import "testing"

func TestExpandCAddi(t *testing.T) {
	h := newTestHart(t)
	// C.ADDI x5, 3: funct3=000, imm[5]=0, rd/rs1=5, imm[4:0]=00011, op=01
	insn := uint16(0b000<<13) | uint16(5<<7) | uint16(0b00011<<2) | uint16(0b01)
	expanded, ok := h.expandCompressed(insn)
	if !ok {
		t.Fatalf("expected C.ADDI to expand")
	}
	if opcode(expanded) != opOpImm {
		t.Fatalf("got opcode %#x, want OP-IMM", opcode(expanded))
	}
	if rd(expanded) != 5 || rs1(expanded) != 5 {
		t.Fatalf("expected rd=rs1=5, got rd=%d rs1=%d", rd(expanded), rs1(expanded))
	}
	if int64(immI(expanded)) != 3 {
		t.Fatalf("got imm %d, want 3", int64(immI(expanded)))
	}
}

func TestExpandCLi(t *testing.T) {
	h := newTestHart(t)
	// C.LI x6, 5
	insn := uint16(0b010<<13) | uint16(6<<7) | uint16(0b00101<<2) | uint16(0b01)
	expanded, ok := h.expandCompressed(insn)
	if !ok {
		t.Fatalf("expected C.LI to expand")
	}
	if rd(expanded) != 6 || rs1(expanded) != 0 {
		t.Fatalf("got rd=%d rs1=%d, want rd=6 rs1=0", rd(expanded), rs1(expanded))
	}
	if int64(immI(expanded)) != 5 {
		t.Fatalf("got imm %d, want 5", int64(immI(expanded)))
	}
}

func TestExpandCMv(t *testing.T) {
	h := newTestHart(t)
	// C.MV x5, x6: funct4=1000 (bit12=0), rd=5, rs2=6
	insn := uint16(0b100<<13) | uint16(5<<7) | uint16(6<<2) | uint16(0b10)
	expanded, ok := h.expandCompressed(insn)
	if !ok {
		t.Fatalf("expected C.MV to expand")
	}
	if opcode(expanded) != opOp {
		t.Fatalf("got opcode %#x, want OP", opcode(expanded))
	}
	if rd(expanded) != 5 || rs2(expanded) != 6 {
		t.Fatalf("got rd=%d rs2=%d, want rd=5 rs2=6", rd(expanded), rs2(expanded))
	}
}

func TestExpandAllZeroIsIllegal(t *testing.T) {
	h := newTestHart(t)
	if _, ok := h.expandCompressed(0); ok {
		t.Fatalf("the all-zero 16-bit word must never expand")
	}
}
