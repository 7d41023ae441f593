package core

import "testing"

func TestSoftTLBSlotZeroResetInvariant(t *testing.T) {
	tlb := newSoftTLB()
	if tlb.slots[0].vpnR != ^uint64(0) || tlb.slots[0].vpnW != ^uint64(0) || tlb.slots[0].vpnX != ^uint64(0) {
		t.Fatalf("slot 0 must be all-ones at reset, got %+v", tlb.slots[0])
	}
}

func TestSoftTLBPutAndLookupRead(t *testing.T) {
	tlb := newSoftTLB()
	tlb.put(0x1000, 0x2000, accessRead)

	off, ok := tlb.lookup(0x1000, accessRead)
	if !ok {
		t.Fatalf("expected a TLB hit after put")
	}
	if off != 0x2000 {
		t.Fatalf("got offset %#x, want %#x", off, 0x2000)
	}

	if _, ok := tlb.lookup(0x1000, accessWrite); ok {
		t.Fatalf("a read-only put must not satisfy a write lookup")
	}
}

func TestSoftTLBWritePutImpliesRead(t *testing.T) {
	tlb := newSoftTLB()
	tlb.put(0x3000, 0x4000, accessWrite)

	if _, ok := tlb.lookup(0x3000, accessRead); !ok {
		t.Fatalf("W-put must also satisfy a read lookup (W implies R)")
	}
	if _, ok := tlb.lookup(0x3000, accessWrite); !ok {
		t.Fatalf("W-put must satisfy a write lookup")
	}
}

func TestSoftTLBExecutePutInvalidatesWrite(t *testing.T) {
	tlb := newSoftTLB()
	tlb.put(0x5000, 0x6000, accessWrite)
	tlb.put(0x5000, 0x6000, accessExec)

	if _, ok := tlb.lookup(0x5000, accessWrite); ok {
		t.Fatalf("X-put must invalidate a conflicting W tag (W xor X)")
	}
	if _, ok := tlb.lookup(0x5000, accessExec); !ok {
		t.Fatalf("expected the X tag to be present after X-put")
	}
}

func TestSoftTLBFlushOneSignalsExecuteInvalidation(t *testing.T) {
	tlb := newSoftTLB()
	tlb.put(0x7000, 0x8000, accessExec)

	if invalidated := tlb.flushOne(0x7000 >> 12); !invalidated {
		t.Fatalf("flushing a VPN with a cached execute tag must report invalidation")
	}
	if _, ok := tlb.lookup(0x7000, accessExec); ok {
		t.Fatalf("expected the execute tag to be gone after flushOne")
	}
}

func TestSoftTLBFlushAllRestoresSlotZeroInvariant(t *testing.T) {
	tlb := newSoftTLB()
	tlb.put(0x9000, 0xa000, accessRead)
	tlb.flushAll()

	if tlb.slots[0].vpnR != ^uint64(0) {
		t.Fatalf("flushAll must restore the slot-0 all-ones invariant")
	}
	if _, ok := tlb.lookup(0x9000, accessRead); ok {
		t.Fatalf("flushAll must evict prior entries")
	}
}
