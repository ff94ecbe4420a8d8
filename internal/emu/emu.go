package emu

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/MoritzKleinschmidt/DMGEmulator/internal/apu"
	"github.com/MoritzKleinschmidt/DMGEmulator/internal/bus"
	"github.com/MoritzKleinschmidt/DMGEmulator/internal/cart"
	"github.com/MoritzKleinschmidt/DMGEmulator/internal/cpu"
	"github.com/MoritzKleinschmidt/DMGEmulator/internal/ppu"
)

// Buttons is the externally supplied input state.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

func (b Buttons) mask() byte {
	var m byte
	if b.Right {
		m |= bus.JoypRight
	}
	if b.Left {
		m |= bus.JoypLeft
	}
	if b.Up {
		m |= bus.JoypUp
	}
	if b.Down {
		m |= bus.JoypDown
	}
	if b.A {
		m |= bus.JoypA
	}
	if b.B {
		m |= bus.JoypB
	}
	if b.Select {
		m |= bus.JoypSelectBtn
	}
	if b.Start {
		m |= bus.JoypStart
	}
	return m
}

// FrameSink receives each completed frame: shade indices plus the palette
// registers at publish time.
type FrameSink interface {
	PushFrame(fb *[ppu.FrameWidth * ppu.FrameHeight]byte, pal ppu.Palettes)
}

// ButtonSource supplies fresh input once per frame.
type ButtonSource interface {
	Poll() Buttons
}

// Machine aggregates the cartridge, bus, CPU, and the frame loop. All
// components advance on the single cycle rail driven by Step.
type Machine struct {
	cfg    Config
	header *cart.Header
	cart   cart.Cartridge
	bus    *bus.Bus
	cpu    *cpu.CPU

	sink  FrameSink
	input ButtonSource

	frameDone bool
}

// New builds a machine from a ROM image. Header and controller problems
// surface here and prevent construction.
func New(rom []byte, cfg Config) (*Machine, error) {
	h, err := cart.ParseHeader(rom)
	if err != nil {
		return nil, err
	}
	c, err := cart.New(rom)
	if err != nil {
		return nil, err
	}

	m := &Machine{cfg: cfg, header: h, cart: c}
	m.bus = bus.NewWithCartridge(c)
	m.cpu = cpu.New(m.bus)
	if cfg.SerialOut != nil {
		m.bus.SetSerialWriter(cfg.SerialOut)
	}
	m.bus.PPU().SetFrameCallback(func(fb *[ppu.FrameWidth * ppu.FrameHeight]byte, pal ppu.Palettes) {
		m.frameDone = true
		if m.sink != nil {
			m.sink.PushFrame(fb, pal)
		}
	})

	// Without a boot ROM the machine starts in the documented post-boot state.
	m.cpu.ResetNoBoot()
	m.bus.SetPowerOnState()
	return m, nil
}

// Header returns the parsed cartridge header.
func (m *Machine) Header() *cart.Header { return m.header }

// Bus and CPU are exposed for tools and tests.
func (m *Machine) Bus() *bus.Bus { return m.bus }
func (m *Machine) CPU() *cpu.CPU { return m.cpu }

// APU exposes the audio unit for the sample sink.
func (m *Machine) APU() *apu.APU { return m.bus.APU() }

// SetFrameSink installs the per-frame consumer.
func (m *Machine) SetFrameSink(s FrameSink) { m.sink = s }

// SetButtonSource installs the input supplier polled at each V-blank.
func (m *Machine) SetButtonSource(s ButtonSource) { m.input = s }

// SetButtons pushes an input state directly (tools without a source).
func (m *Machine) SetButtons(b Buttons) { m.bus.SetJoypadState(b.mask()) }

// SetSerialWriter redirects serial output.
func (m *Machine) SetSerialWriter(w io.Writer) { m.bus.SetSerialWriter(w) }

// UseBootROM maps a DMG boot ROM and restarts execution from 0x0000.
func (m *Machine) UseBootROM(data []byte) {
	m.bus.SetBootROM(data)
	m.cpu.SP = 0xFFFE
	m.cpu.SetPC(0x0000)
	m.cpu.IME = false
}

// Step runs one loop iteration: service an interrupt or execute one
// instruction, then advance the clock, timer, and PPU by the same cost.
// An IllegalOpcodeError stops the simulation.
func (m *Machine) Step() (int, error) {
	if m.cfg.Trace {
		pc := m.cpu.PC
		fmt.Printf("[CPU] PC=%04X op=%02X AF=%04X BC=%04X DE=%04X HL=%04X SP=%04X\n",
			pc, m.bus.Read(pc), m.cpu.AF(), m.cpu.BC(), m.cpu.DE(), m.cpu.HL(), m.cpu.SP)
	}
	cycles, err := m.cpu.Step()
	if err != nil {
		return 0, err
	}
	m.bus.Tick(cycles)
	return cycles, nil
}

// StepFrame advances until the PPU publishes a frame, then refreshes the
// joypad register from the button source.
func (m *Machine) StepFrame() error {
	m.frameDone = false
	for !m.frameDone {
		if _, err := m.Step(); err != nil {
			return err
		}
	}
	if m.input != nil {
		m.bus.SetJoypadState(m.input.Poll().mask())
	}
	return nil
}

// Framebuffer exposes the current frame (headless capture).
func (m *Machine) Framebuffer() *[ppu.FrameWidth * ppu.FrameHeight]byte {
	return m.bus.PPU().Framebuffer()
}

// Palettes returns the current palette registers.
func (m *Machine) Palettes() ppu.Palettes {
	p := m.bus.PPU()
	return ppu.Palettes{BGP: p.BGP(), OBP0: p.OBP0(), OBP1: p.OBP1()}
}

// SaveRAM returns battery-backed cartridge RAM, or nil.
func (m *Machine) SaveRAM() []byte {
	if bb, ok := m.cart.(cart.BatteryBacked); ok {
		return bb.SaveRAM()
	}
	return nil
}

// LoadRAM restores battery-backed cartridge RAM.
func (m *Machine) LoadRAM(data []byte) {
	if bb, ok := m.cart.(cart.BatteryBacked); ok {
		bb.LoadRAM(data)
	}
}

// --- Save/Load state ---

type cpuState struct {
	A, F, B, C, D, E, H, L byte
	SP, PC                 uint16
	IME                    bool
	Halted, Stopped        bool
}

type machineState struct {
	CPU cpuState
	Bus []byte
}

func (m *Machine) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(machineState{
		CPU: cpuState{
			A: m.cpu.A, F: m.cpu.F, B: m.cpu.B, C: m.cpu.C,
			D: m.cpu.D, E: m.cpu.E, H: m.cpu.H, L: m.cpu.L,
			SP: m.cpu.SP, PC: m.cpu.PC, IME: m.cpu.IME,
			Halted: m.cpu.Halted(), Stopped: m.cpu.Stopped(),
		},
		Bus: m.bus.SaveState(),
	})
	return buf.Bytes()
}

func (m *Machine) LoadState(data []byte) {
	var s machineState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	m.cpu.A, m.cpu.F = s.CPU.A, s.CPU.F&0xF0
	m.cpu.B, m.cpu.C = s.CPU.B, s.CPU.C
	m.cpu.D, m.cpu.E = s.CPU.D, s.CPU.E
	m.cpu.H, m.cpu.L = s.CPU.H, s.CPU.L
	m.cpu.SP, m.cpu.PC = s.CPU.SP, s.CPU.PC
	m.cpu.IME = s.CPU.IME
	m.cpu.RestoreState(s.CPU.Halted, s.CPU.Stopped)
	m.bus.LoadState(s.Bus)
}
