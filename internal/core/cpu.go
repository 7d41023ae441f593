package core

import "sync"

// Memory layout and extension defaults.
const (
	RAMBase    = 0x80000000
	CLINTBase  = 0x02000000
	CLINTSize  = 0x10000
	SysconBase = 0x00100000
)

// misa extension bits (bit index = letter - 'A').
const (
	MisaExtI = 1 << ('I' - 'A')
	MisaExtM = 1 << ('M' - 'A')
	MisaExtA = 1 << ('A' - 'A')
	MisaExtF = 1 << ('F' - 'A')
	MisaExtD = 1 << ('D' - 'A')
	MisaExtC = 1 << ('C' - 'A')
	MisaExtS = 1 << ('S' - 'A')
	MisaExtU = 1 << ('U' - 'A')
)

// mstatus/sstatus bit positions used outside csr.go.
const (
	StatusSIE  = 1 << 1
	StatusMIE  = 1 << 3
	StatusSPIE = 1 << 5
	StatusUBE  = 1 << 6
	StatusMPIE = 1 << 7
	StatusSPP  = 1 << 8
	StatusVS   = 3 << 9
	StatusMPPShift = 11
	StatusMPPMask  = 3 << StatusMPPShift
	StatusFSShift  = 13
	StatusFSMask   = 3 << StatusFSShift
	StatusXSShift  = 15
	StatusXSMask   = 3 << StatusXSShift
	StatusMPRV = 1 << 17
	StatusSUM  = 1 << 18
	StatusMXR  = 1 << 19
	StatusTVM  = 1 << 20
	StatusTW   = 1 << 21
	StatusTSR  = 1 << 22
	StatusSD64 = uint64(1) << 63
)

// mip/mie bit positions (also doubles as the async-interrupt bit numbers).
const (
	MipSSIP = 1 << IrqSSoft
	MipMSIP = 1 << IrqMSoft
	MipSTIP = 1 << IrqSTimer
	MipMTIP = 1 << IrqMTimer
	MipSEIP = 1 << IrqSExt
	MipMEIP = 1 << IrqMExt
)

// CSR addresses actually implemented. Unlisted CSRs are simply illegal
// instructions, matching real silicon.
const (
	csrFflags    = 0x001
	csrFrm       = 0x002
	csrFcsr      = 0x003
	csrCycle     = 0xc00
	csrTime      = 0xc01
	csrInstret   = 0xc02
	csrSstatus   = 0x100
	csrSie       = 0x104
	csrStvec     = 0x105
	csrSCounterEn = 0x106
	csrSenvcfg   = 0x10a
	csrSscratch  = 0x140
	csrSepc      = 0x141
	csrScause    = 0x142
	csrStval     = 0x143
	csrSip       = 0x144
	csrStimecmp  = 0x14d
	csrStimecmph = 0x15d
	csrSatp      = 0x180
	csrMstatus   = 0x300
	csrMisa      = 0x301
	csrMedeleg   = 0x302
	csrMideleg   = 0x303
	csrMie       = 0x304
	csrMtvec     = 0x305
	csrMCounterEn = 0x306
	csrMenvcfg   = 0x30a
	csrMenvcfgh  = 0x31a
	csrMstatush  = 0x310
	csrMscratch  = 0x340
	csrMepc      = 0x341
	csrMcause    = 0x342
	csrMtval     = 0x343
	csrMip       = 0x344
	csrMseccfg   = 0x747
	csrSeed      = 0x015
	csrMiselect  = 0x350
	csrMireg     = 0x351
	csrSiselect  = 0x150
	csrSireg     = 0x151
	csrMvendorid = 0xf11
	csrMarchid   = 0xf12
	csrMimpid    = 0xf13
	csrMhartid   = 0xf14
)

// csrFile holds every CSR implemented by this core, grouped as plain
// storage; csr.go layers per-family read/write semantics (WARL masks,
// delegation, side effects) on top.
type csrFile struct {
	Mstatus  uint64
	Misa     uint64
	Medeleg  uint64
	Mideleg  uint64
	Mie      uint64
	Mip      uint64
	Mtvec    uint64
	Mscratch uint64
	Mepc     uint64
	Mcause   uint64
	Mtval    uint64
	Mcounteren uint64
	Menvcfg  uint64
	Mseccfg  uint64

	Stvec    uint64
	Sscratch uint64
	Sepc     uint64
	Scause   uint64
	Stval    uint64
	Scounteren uint64
	Senvcfg  uint64
	Satp     uint64
	Stimecmp uint64

	Fflags uint8
	Frm    uint8

	Miselect uint64
	Mireg    [8]uint64 // indirect register file backing miselect
	Siselect uint64
	Sireg    [8]uint64
}

// Hart is one hardware-thread execution context: registers, CSR file, TLB,
// MMU root, LR/SC reservation, pending-interrupt/event bitsets, and the WFI
// condition variable a blocked hart waits on.
type Hart struct {
	ID uint64

	X [32]uint64
	F [32]uint64 // NaN-boxed; valid only when misa.F or .D is set

	PC   uint64
	Priv Privilege
	XLEN int // 32 or 64

	csr csrFile

	satpMode MMUMode
	tlb      *softTLB

	lrsc reservation

	pendingAsync uint64 // atomic: interrupt bits raised by devices, OR'd into mip on read
	pendingEvent uint32 // atomic: eventPause | eventPreempt, read-and-cleared by the hart loop
	preemptMS    uint32 // atomic: sleep duration recorded by the last RequestPreempt

	wfiMu   sync.Mutex
	wfiCond *sync.Cond
	running bool

	m *Machine
}

func newHart(id uint64, m *Machine, extensions uint64) *Hart {
	h := &Hart{
		ID:   id,
		XLEN: 64,
		tlb:  newSoftTLB(),
		m:    m,
	}
	h.wfiCond = sync.NewCond(&h.wfiMu)
	h.Priv = PrivM
	h.csr.Misa = extensions | (2 << 62) // MXL=2 (64-bit) in the top field
	return h
}

// ReadReg returns x[0..31]; x0 always reads zero.
func (h *Hart) ReadReg(i uint32) uint64 {
	if i == 0 {
		return 0
	}
	return h.X[i]
}

// WriteReg writes x[i], forcing x0 to remain zero.
func (h *Hart) WriteReg(i uint32, v uint64) {
	if i == 0 {
		return
	}
	h.X[i] = v
}

func signExtend32(v uint32) uint64 {
	return uint64(int64(int32(v)))
}

func signExtendN(v uint64, bits uint) uint64 {
	shift := 64 - bits
	return uint64(int64(v<<shift) >> shift)
}
