package main

import (
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/kestrel-hv/rvcore/internal/core"
)

// console is a 16550-compatible UART exposed as a core.Device: the one
// concrete peripheral this command wires up, driving stdin/stdout through
// golang.org/x/term raw mode. It has no place in the core package itself
// but gives the CLI something the hart can actually poll or interrupt on.
type console struct {
	mu sync.Mutex

	rbr byte
	thr byte
	ier byte
	lcr byte
	mcr byte
	scr byte

	dll, dlm byte // divisor latch, valid only while LCR.DLAB is set

	rxReady bool
	rxQueue []byte

	oldState *term.State

	onInterrupt func()
}

const (
	uartRBR = 0
	uartTHR = 0
	uartDLL = 0
	uartIER = 1
	uartDLM = 1
	uartIIR = 2
	uartFCR = 2
	uartLCR = 3
	uartMCR = 4
	uartLSR = 5
	uartMSR = 6
	uartSCR = 7
)

const (
	lcrDLAB = 1 << 7
	lsrDR   = 1 << 0 // data ready
	lsrTHRE = 1 << 5 // transmit holding register empty
	lsrTEMT = 1 << 6 // transmitter empty
	ierRDA  = 1 << 0 // enable receive-data-available interrupt
)

func newConsole() *console {
	return &console{}
}

// enableRawMode puts the controlling terminal into raw mode so guest
// keystrokes arrive unbuffered; restoreMode undoes it at program exit.
func (c *console) enableRawMode() {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return
	}
	state, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err == nil {
		c.oldState = state
	}
}

func (c *console) restoreMode() {
	if c.oldState != nil {
		_ = term.Restore(int(os.Stdin.Fd()), c.oldState)
		c.oldState = nil
	}
}

// EnqueueInput feeds host-side bytes (read from stdin by the command's
// input pump) into the guest's receive path.
func (c *console) EnqueueInput(b []byte) {
	c.mu.Lock()
	c.rxQueue = append(c.rxQueue, b...)
	c.mu.Unlock()
	if c.onInterrupt != nil && c.ier&ierRDA != 0 {
		c.onInterrupt()
	}
}

func (c *console) Read(offset uint64, dst []byte) bool {
	if len(dst) != 1 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch offset {
	case uartRBR:
		if c.lcr&lcrDLAB != 0 {
			dst[0] = c.dll
			return true
		}
		if len(c.rxQueue) > 0 {
			dst[0] = c.rxQueue[0]
			c.rxQueue = c.rxQueue[1:]
		} else {
			dst[0] = 0
		}
	case uartIER:
		if c.lcr&lcrDLAB != 0 {
			dst[0] = c.dlm
		} else {
			dst[0] = c.ier
		}
	case uartIIR:
		dst[0] = 0x01 // no interrupt pending (minimal demo device)
	case uartLCR:
		dst[0] = c.lcr
	case uartMCR:
		dst[0] = c.mcr
	case uartLSR:
		status := byte(lsrTHRE | lsrTEMT)
		if len(c.rxQueue) > 0 {
			status |= lsrDR
		}
		dst[0] = status
	case uartMSR:
		dst[0] = 0
	case uartSCR:
		dst[0] = c.scr
	default:
		return false
	}
	return true
}

func (c *console) Write(offset uint64, src []byte) bool {
	if len(src) != 1 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	v := src[0]
	switch offset {
	case uartTHR:
		if c.lcr&lcrDLAB != 0 {
			c.dll = v
			return true
		}
		os.Stdout.Write([]byte{v})
	case uartIER:
		if c.lcr&lcrDLAB != 0 {
			c.dlm = v
		} else {
			c.ier = v
		}
	case uartFCR:
		// FIFO control: this demo device has no FIFO to configure.
	case uartLCR:
		c.lcr = v
	case uartMCR:
		c.mcr = v
	case uartSCR:
		c.scr = v
	default:
		return false
	}
	return true
}

func (c *console) Update() {}

func (c *console) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ier, c.lcr, c.mcr, c.scr = 0, 0, 0, 0
	c.rxQueue = nil
}

var _ core.Device = (*console)(nil)
