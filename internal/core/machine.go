package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Machine owns the shared RAM/MMIO fabric, the hart set, and the
// per-machine run lifecycle: an arbitrary hart count started together via
// golang.org/x/sync/errgroup.
type Machine struct {
	Bus   *Bus
	Harts []*Hart
	CLINT *CLINT

	Log *slog.Logger

	running bool
	stop    chan struct{}
	hook    JITHook

	pauseMu  sync.Mutex
	resumeCh chan struct{}
	parkWG   *sync.WaitGroup
}

// MachineConfig is the minimal construction input; internal/config layers
// a YAML-driven variant of this on top for the CLI front end.
type MachineConfig struct {
	RAMSize    uint64
	NumHarts   int
	Extensions uint64
	RAMOptions RAMOptions
	Hook       JITHook
}

// NewMachine allocates RAM, the MMIO bus, the CLINT, and every requested
// hart, wiring the CLINT's MMIO region at the conventional CLINTBase
// address.
func NewMachine(cfg MachineConfig, log *slog.Logger) (*Machine, error) {
	if cfg.NumHarts <= 0 {
		return nil, ErrNoHart
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(nilWriter{}, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	ram, err := NewPhysicalRAM(RAMBase, cfg.RAMSize, cfg.RAMOptions)
	if err != nil {
		return nil, err
	}

	bus := NewBus(ram)

	m := &Machine{
		Bus:  bus,
		Log:  log,
		stop: make(chan struct{}),
		hook: cfg.Hook,
	}
	if m.hook == nil {
		m.hook = noopJITHook{}
	}

	m.Harts = make([]*Hart, cfg.NumHarts)
	for i := range m.Harts {
		m.Harts[i] = newHart(uint64(i), m, cfg.Extensions)
	}

	m.CLINT = NewCLINT(m.Harts)
	if err := bus.Attach(&MmioRegion{
		Addr: CLINTBase, Size: CLINTSize, Device: m.CLINT, name: "clint",
		MinOpSize: 1, MaxOpSize: 8,
	}); err != nil {
		ram.Close()
		return nil, err
	}

	return m, nil
}

// AttachMMIO registers an additional device region. It returns
// ErrMachineRunning from the start of Start until Start returns; a machine
// parked by Pause still counts as running, so no region can be attached
// while paused.
func (m *Machine) AttachMMIO(r *MmioRegion) error {
	if m.running {
		return ErrMachineRunning
	}
	return m.Bus.Attach(r)
}

// Start runs every hart's Run loop plus the Bus's device event loop inside
// a single errgroup, returning when ctx is cancelled or any goroutine
// returns a non-nil host error. A guest halting via WFI-forever or an
// unrecoverable trap does not itself end Start; cancelling ctx does, while
// Pause only parks the harts.
func (m *Machine) Start(ctx context.Context) error {
	if m.running {
		return fmt.Errorf("%w: machine already running", ErrMachineRunning)
	}
	m.running = true
	m.Bus.running = true
	defer func() {
		m.running = false
		m.Bus.running = false
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range m.Harts {
		hart := h
		g.Go(func() error {
			return hart.Run(gctx)
		})
	}
	g.Go(func() error {
		m.Bus.RunEventLoop(gctx.Done())
		return nil
	})
	g.Go(func() error {
		// Wake harts blocked in WFI so their Run loops see the cancellation.
		<-gctx.Done()
		for _, h := range m.Harts {
			h.raiseEvent(eventPause)
		}
		return nil
	})

	err := g.Wait()
	close(m.stop)
	m.stop = make(chan struct{})
	if err == context.Canceled {
		return nil
	}
	return err
}

// Pause raises a PAUSE event on every hart and blocks until each has
// parked, so no hart is executing once Pause returns. A no-op if the
// machine isn't running or is already paused.
func (m *Machine) Pause() {
	if !m.running {
		return
	}
	m.pauseMu.Lock()
	if m.resumeCh != nil {
		m.pauseMu.Unlock()
		return
	}
	wg := &sync.WaitGroup{}
	wg.Add(len(m.Harts))
	m.resumeCh = make(chan struct{})
	m.parkWG = wg
	m.pauseMu.Unlock()

	for _, h := range m.Harts {
		h.raiseEvent(eventPause)
	}
	wg.Wait()
}

// Resume releases every hart parked by a prior Pause. A no-op if the
// machine isn't currently paused.
func (m *Machine) Resume() {
	m.pauseMu.Lock()
	ch := m.resumeCh
	m.resumeCh = nil
	m.parkWG = nil
	m.pauseMu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// Reset returns every hart and device to its power-on state. If the
// machine is running it pauses every hart first and resumes them
// afterward, so no hart observes or runs through a half-reset register
// file.
func (m *Machine) Reset() {
	wasRunning := m.running
	if wasRunning {
		m.Pause()
	}
	for _, h := range m.Harts {
		h.PC = 0
		h.Priv = PrivM
		h.X = [32]uint64{}
		h.csr = csrFile{Misa: h.csr.Misa}
		h.satpMode = MMUBare
		h.tlb.flushAll()
		h.lrsc.valid = false
		h.pendingAsync = 0
		h.pendingEvent = 0
		h.preemptMS = 0
	}
	m.Bus.ResetAll()
	if wasRunning {
		m.Resume()
	}
}

// Close releases RAM and any devices holding host resources.
func (m *Machine) Close() error {
	for i := len(m.Bus.regions) - 1; i >= 0; i-- {
		if f := m.Bus.regions[i].RemoveFunc; f != nil {
			f()
		}
	}
	m.Bus.regions = nil
	return m.Bus.RAM.Close()
}

type nilWriter struct{}

func (nilWriter) Write(p []byte) (int, error) { return len(p), nil }
