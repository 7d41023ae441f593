package core

import "testing"

func TestCLINTMsipRaisesSoftwareInterrupt(t *testing.T) {
	m := newTestMachine(t, pageSize*4)
	h := m.Harts[0]

	var buf [4]byte
	putLE32(buf[:], 1)
	if !m.CLINT.Write(clintMsipBase, buf[:]) {
		t.Fatalf("CLINT.Write(msip) failed")
	}
	if h.raisedMip()&MipMSIP == 0 {
		t.Fatalf("expected MSIP to be pending after an msip write")
	}

	putLE32(buf[:], 0)
	m.CLINT.Write(clintMsipBase, buf[:])
	if h.raisedMip()&MipMSIP != 0 {
		t.Fatalf("expected MSIP to be cleared after writing 0")
	}
}

func TestCLINTUpdateRaisesTimerInterrupt(t *testing.T) {
	m := newTestMachine(t, pageSize*4)
	h := m.Harts[0]
	m.CLINT.mtimecmp[0] = 1

	m.CLINT.Update()

	if h.raisedMip()&MipMTIP == 0 {
		t.Fatalf("expected MTIP to be raised once mtime reaches mtimecmp")
	}
}

func TestCLINTMtimeReadWrite(t *testing.T) {
	m := newTestMachine(t, pageSize*4)

	var buf [8]byte
	putLE64(buf[:], 0x1234)
	if !m.CLINT.Write(clintMtimeOffset, buf[:]) {
		t.Fatalf("CLINT.Write(mtime) failed")
	}
	if m.CLINT.Mtime() != 0x1234 {
		t.Fatalf("got mtime %#x, want %#x", m.CLINT.Mtime(), 0x1234)
	}
}
