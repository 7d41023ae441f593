// Package config loads a Machine's construction parameters from a YAML
// document rather than a bespoke flag-only surface for every knob.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kestrel-hv/rvcore/internal/core"
)

// Machine is the on-disk shape of a machine definition.
type Machine struct {
	Harts      int    `yaml:"harts"`
	RAMSizeMiB uint64 `yaml:"ram_mib"`
	HugePages  bool   `yaml:"huge_pages"`
	Mergeable  bool   `yaml:"mergeable"`

	Extensions Extensions `yaml:"extensions"`

	Devices []Device `yaml:"devices"`
}

// Extensions lets the config file toggle individual ISA letters rather
// than hardcoding a fixed set in the binary.
type Extensions struct {
	M bool `yaml:"m"`
	A bool `yaml:"a"`
	F bool `yaml:"f"`
	D bool `yaml:"d"`
	C bool `yaml:"c"`
}

// Bits folds the YAML toggles into the misa extension bitmask, always
// including the mandatory I/S/U bits this core requires.
func (e Extensions) Bits() uint64 {
	bits := uint64(core.MisaExtI | core.MisaExtS | core.MisaExtU)
	if e.M {
		bits |= core.MisaExtM
	}
	if e.A {
		bits |= core.MisaExtA
	}
	if e.F {
		bits |= core.MisaExtF
	}
	if e.D {
		bits |= core.MisaExtD
	}
	if e.C {
		bits |= core.MisaExtC
	}
	return bits
}

// Device names an MMIO peripheral to attach beyond the CLINT the core
// always provides. The list is parsed only; cmd/rvcore does not attach
// these entries.
type Device struct {
	Kind string `yaml:"kind"`
	Addr uint64 `yaml:"addr"`
	Size uint64 `yaml:"size"`
}

// Load reads and parses a machine definition from path.
func Load(path string) (*Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading machine config: %w", err)
	}
	var m Machine
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parsing machine config %s: %w", path, err)
	}
	if m.Harts <= 0 {
		m.Harts = 1
	}
	if m.RAMSizeMiB == 0 {
		m.RAMSizeMiB = 256
	}
	return &m, nil
}

// ToMachineConfig builds the core package's construction input from the
// parsed YAML document.
func (m *Machine) ToMachineConfig() core.MachineConfig {
	return core.MachineConfig{
		RAMSize:    m.RAMSizeMiB * 1024 * 1024,
		NumHarts:   m.Harts,
		Extensions: m.Extensions.Bits(),
		RAMOptions: core.RAMOptions{
			HugePages:       m.HugePages,
			MergeableMemory: m.Mergeable,
		},
	}
}
