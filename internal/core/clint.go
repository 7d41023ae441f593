package core

import "sync/atomic"

// Core-local timer/IPI controller. A SiFive-layout ACLINT:
// per-hart MSIP word at 0x0000+4*hart, per-hart 64-bit mtimecmp at
// 0x4000+8*hart, and a single shared mtime counter at 0xbff8.
type CLINT struct {
	harts []*Hart

	msip     []uint32
	mtimecmp []uint64
	mtime    uint64 // atomic
}

const (
	clintMsipBase     = 0x0000
	clintMtimecmpBase = 0x4000
	clintMtimeOffset  = 0xbff8
)

func NewCLINT(harts []*Hart) *CLINT {
	return &CLINT{
		harts:    harts,
		msip:     make([]uint32, len(harts)),
		mtimecmp: make([]uint64, len(harts)),
	}
}

func (c *CLINT) Mtime() uint64 {
	return atomic.LoadUint64(&c.mtime)
}

func (c *CLINT) Read(offset uint64, dst []byte) bool {
	switch {
	case offset >= clintMsipBase && offset < clintMsipBase+uint64(len(c.msip))*4:
		idx := (offset - clintMsipBase) / 4
		var buf [4]byte
		putLE32(buf[:], c.msip[idx])
		copy(dst, buf[:len(dst)])
		return true
	case offset >= clintMtimecmpBase && offset < clintMtimecmpBase+uint64(len(c.mtimecmp))*8:
		idx := (offset - clintMtimecmpBase) / 8
		var buf [8]byte
		putLE64(buf[:], c.mtimecmp[idx])
		copy(dst, buf[:len(dst)])
		return true
	case offset == clintMtimeOffset:
		var buf [8]byte
		putLE64(buf[:], atomic.LoadUint64(&c.mtime))
		copy(dst, buf[:len(dst)])
		return true
	}
	return false
}

func (c *CLINT) Write(offset uint64, src []byte) bool {
	switch {
	case offset >= clintMsipBase && offset < clintMsipBase+uint64(len(c.msip))*4:
		idx := (offset - clintMsipBase) / 4
		var buf [4]byte
		copy(buf[:], src)
		v := le32(buf[:])
		c.msip[idx] = v
		if v&1 != 0 {
			c.harts[idx].RaiseAsyncInterrupt(MipMSIP)
		} else {
			c.harts[idx].LowerAsyncInterrupt(MipMSIP)
		}
		return true
	case offset >= clintMtimecmpBase && offset < clintMtimecmpBase+uint64(len(c.mtimecmp))*8:
		idx := (offset - clintMtimecmpBase) / 8
		var buf [8]byte
		copy(buf[:], src)
		c.mtimecmp[idx] = le64(buf[:])
		c.harts[idx].LowerAsyncInterrupt(MipMTIP)
		return true
	case offset == clintMtimeOffset:
		var buf [8]byte
		copy(buf[:], src)
		atomic.StoreUint64(&c.mtime, le64(buf[:]))
		return true
	}
	return false
}

// Update advances mtime by one tick and raises MTIP/STIP on any hart whose
// compare value has now been reached.
func (c *CLINT) Update() {
	now := atomic.AddUint64(&c.mtime, 1)
	for i, hart := range c.harts {
		if now >= c.mtimecmp[i] && c.mtimecmp[i] != 0 {
			hart.RaiseAsyncInterrupt(MipMTIP)
		}
		if hart.csr.Stimecmp != 0 && now >= hart.csr.Stimecmp {
			hart.RaiseAsyncInterrupt(MipSTIP)
		}
	}
}

func (c *CLINT) Reset() {
	atomic.StoreUint64(&c.mtime, 0)
	for i := range c.msip {
		c.msip[i] = 0
		c.mtimecmp[i] = 0
	}
}
