package core

import "testing"

func newTestHart(t *testing.T) *Hart {
	t.Helper()
	m := newTestMachine(t, pageSize*4)
	return m.Harts[0]
}

func TestCsrOpSwapReturnsPreviousValue(t *testing.T) {
	h := newTestHart(t)
	h.csr.Mscratch = 0x1234

	prev, err := h.CsrOp(csrMscratch, 0xabcd, CsrSwap)
	if err != nil {
		t.Fatalf("CsrOp: %v", err)
	}
	if prev != 0x1234 {
		t.Fatalf("got prev %#x, want %#x", prev, 0x1234)
	}
	if h.csr.Mscratch != 0xabcd {
		t.Fatalf("got Mscratch %#x, want %#x", h.csr.Mscratch, 0xabcd)
	}
}

func TestCsrOpSetAndClearBits(t *testing.T) {
	h := newTestHart(t)
	h.csr.Mie = 0

	if _, err := h.CsrOp(csrMie, MipMTIP, CsrSetBits); err != nil {
		t.Fatalf("CsrOp set: %v", err)
	}
	if h.csr.Mie&MipMTIP == 0 {
		t.Fatalf("expected MTIE to be set")
	}

	if _, err := h.CsrOp(csrMie, MipMTIP, CsrClearBits); err != nil {
		t.Fatalf("CsrOp clear: %v", err)
	}
	if h.csr.Mie&MipMTIP != 0 {
		t.Fatalf("expected MTIE to be cleared")
	}
}

func TestCsrAccessDeniedByPrivilege(t *testing.T) {
	h := newTestHart(t)
	h.Priv = PrivU

	_, err := h.CsrOp(csrMscratch, 0, CsrSwap)
	if err == nil {
		t.Fatalf("expected U-mode access to an M-only CSR to trap")
	}
	te, ok := err.(*TrapError)
	if !ok || te.Cause != CauseIllegalInsn {
		t.Fatalf("expected CauseIllegalInsn, got %v", err)
	}
}

func TestWriteSatpUnsupportedModeKeepsPriorValue(t *testing.T) {
	h := newTestHart(t)
	h.satpMode = MMUSv39
	h.csr.Satp = uint64(MMUSv39) << 60

	// MODE field 2 is reserved; the write must be entirely ignored.
	h.writeSatp(uint64(2) << 60)

	if h.satpMode != MMUSv39 {
		t.Fatalf("satpMode changed to %v despite an unsupported MODE write", h.satpMode)
	}
}

func TestWriteSatpModeChangeFlushesTLB(t *testing.T) {
	h := newTestHart(t)
	h.satpMode = MMUBare
	h.tlb.put(0x4000, 0x5000, accessRead)

	h.writeSatp(uint64(MMUSv39) << 60)

	if _, ok := h.tlb.lookup(0x4000, accessRead); ok {
		t.Fatalf("expected a satp mode change to flush the TLB")
	}
}

func TestWriteMstatusRejectsReservedMPP(t *testing.T) {
	h := newTestHart(t)
	h.writeMstatus(uint64(2) << StatusMPPShift) // reserved "H" encoding

	mpp := (h.csr.Mstatus & StatusMPPMask) >> StatusMPPShift
	if mpp == 2 {
		t.Fatalf("reserved MPP encoding must not be stored as-is")
	}
}

func TestReadMstatusSynthesizesSDBit(t *testing.T) {
	h := newTestHart(t)
	h.writeMstatus(uint64(3) << StatusFSShift) // FS = Dirty

	if h.readMstatus()&StatusSD64 == 0 {
		t.Fatalf("expected SD to be synthesized when FS is Dirty")
	}
}
