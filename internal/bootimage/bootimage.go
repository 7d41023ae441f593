// Package bootimage loads a flat guest boot image into a machine's RAM,
// reporting progress with schollz/progressbar/v3.
package bootimage

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/kestrel-hv/rvcore/internal/core"
)

// LoadFile copies the contents of path into m's RAM at guest physical
// address loadAddr, rendering a progress bar to stderr.
func LoadFile(m *core.Machine, path string, loadAddr uint64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening boot image %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("statting boot image %s: %w", path, err)
	}

	bar := progressbar.DefaultBytes(info.Size(), fmt.Sprintf("loading %s", path))

	const chunkSize = 1 << 20
	buf := make([]byte, chunkSize)
	addr := loadAddr
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if !m.Bus.WritePhys(addr, buf[:n]) {
				return fmt.Errorf("writing boot image at 0x%x: %w", addr, core.ErrNoRegion)
			}
			addr += uint64(n)
			_, _ = bar.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("reading boot image %s: %w", path, readErr)
		}
	}
	return bar.Close()
}
