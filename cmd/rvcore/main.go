// Command rvcore boots a flat guest image on the RISC-V hart/MMU/bus core,
// wiring up a demo UART console. It exists to exercise internal/core end
// to end as a runnable binary; it is not itself part of the emulator core.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/kestrel-hv/rvcore/internal/bootimage"
	"github.com/kestrel-hv/rvcore/internal/config"
	"github.com/kestrel-hv/rvcore/internal/core"
)

const consoleBase = 0x10000000
const consoleSize = 0x100

func main() {
	var (
		configPath = flag.String("config", "", "path to a machine.yml configuration file")
		imagePath  = flag.String("image", "", "path to a flat boot image")
		loadAddr   = flag.Uint64("load-addr", core.RAMBase, "guest physical address to load the boot image at")
		logLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))

	if err := run(log, *configPath, *imagePath, *loadAddr); err != nil {
		log.Error("rvcore exited with an error", "err", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(log *slog.Logger, configPath, imagePath string, loadAddr uint64) error {
	cfg := &config.Machine{Harts: 1, RAMSizeMiB: 256, Extensions: config.Extensions{M: true, A: true, C: true}}
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	m, err := core.NewMachine(cfg.ToMachineConfig(), log)
	if err != nil {
		return fmt.Errorf("constructing machine: %w", err)
	}
	defer m.Close()

	term := newConsole()
	if err := m.AttachMMIO(&core.MmioRegion{
		Addr: consoleBase, Size: consoleSize, Device: term,
		MinOpSize: 1, MaxOpSize: 1,
	}); err != nil {
		return fmt.Errorf("attaching console: %w", err)
	}

	if imagePath != "" {
		if err := bootimage.LoadFile(m, imagePath, loadAddr); err != nil {
			return fmt.Errorf("loading boot image: %w", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	term.enableRawMode()
	defer term.restoreMode()

	go pumpStdin(ctx, term)

	log.Info("starting machine", "harts", len(m.Harts), "ram_bytes", m.Bus.RAM.Size())
	return m.Start(ctx)
}

func pumpStdin(ctx context.Context, c *console) {
	r := bufio.NewReader(os.Stdin)
	buf := make([]byte, 1)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := r.Read(buf)
		if n > 0 {
			c.EnqueueInput(buf[:n])
		}
		if err != nil {
			return
		}
	}
}
