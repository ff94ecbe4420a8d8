package emu

import (
	"bytes"
	"errors"
	"testing"

	"github.com/MoritzKleinschmidt/DMGEmulator/internal/cart"
	"github.com/MoritzKleinschmidt/DMGEmulator/internal/cpu"
	"github.com/MoritzKleinschmidt/DMGEmulator/internal/ppu"
)

// testROM builds a 32 KiB ROM-only image with the given code at 0x0100.
func testROM(code []byte) []byte {
	rom := make([]byte, 0x8000)
	copy(rom[0x0100:], code)
	return rom
}

func newMachine(t *testing.T, rom []byte) *Machine {
	t.Helper()
	m, err := New(rom, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestBootRegisterState(t *testing.T) {
	m := newMachine(t, testROM(nil))
	c := m.CPU()
	if c.AF() != 0x01B0 || c.BC() != 0x0013 || c.DE() != 0x00D8 || c.HL() != 0x014D {
		t.Fatalf("boot pairs got AF=%04X BC=%04X DE=%04X HL=%04X",
			c.AF(), c.BC(), c.DE(), c.HL())
	}
	if c.SP != 0xFFFE || c.PC != 0x0100 {
		t.Fatalf("boot SP/PC got %04X/%04X", c.SP, c.PC)
	}
	if got := m.Bus().Read(0xFF40); got != 0x91 {
		t.Fatalf("LCDC got %02X want 91", got)
	}
	if got := m.Bus().Read(0xFF04); got != 0x18 {
		t.Fatalf("DIV got %02X want 18", got)
	}
	if got := m.Bus().Read(0xFF41) & 0x03; got != m.Bus().PPU().Mode() {
		t.Fatalf("STAT mode bits %d != PPU mode %d", got, m.Bus().PPU().Mode())
	}
}

func TestLoadErrorsSurface(t *testing.T) {
	if _, err := New(make([]byte, 0x100), Config{}); !errors.Is(err, cart.ErrTruncated) {
		t.Fatalf("truncated ROM: got %v", err)
	}

	rom := testROM(nil)
	rom[0x0147] = 0xFE // HuC3: decodes but is not implemented
	var unsup *cart.UnsupportedMBCError
	if _, err := New(rom, Config{}); !errors.As(err, &unsup) {
		t.Fatalf("unsupported MBC: got %v", err)
	}
}

func TestVBlankEntryAndService(t *testing.T) {
	m := newMachine(t, testROM(nil)) // all-NOP program
	m.Bus().Write(0xFFFF, 0x01)      // enable VBlank
	m.Bus().SetIF(0)                 // drop the boot-time request
	m.CPU().IME = true

	// Run until LY reaches 144.
	for i := 0; i < 200000 && m.Bus().PPU().LY() != 144; i++ {
		if _, err := m.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	if ly := m.Bus().PPU().LY(); ly != 144 {
		t.Fatalf("LY never reached 144: %d", ly)
	}
	if m.Bus().PPU().Mode() != 1 {
		t.Fatalf("mode got %d want 1", m.Bus().PPU().Mode())
	}
	// The request was latched; the next boundary services it.
	cycles, err := m.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if cycles != 20 {
		t.Fatalf("service cost got %d want 20", cycles)
	}
	if m.CPU().PC != 0x0040 {
		t.Fatalf("PC got %04X want 0040", m.CPU().PC)
	}
	if m.Bus().IF()&0x01 != 0 {
		t.Fatalf("VBlank IF bit not acknowledged")
	}
}

type captureSink struct {
	frames int
	pal    ppu.Palettes
}

func (s *captureSink) PushFrame(fb *[ppu.FrameWidth * ppu.FrameHeight]byte, pal ppu.Palettes) {
	s.frames++
	s.pal = pal
}

type fixedInput struct{ b Buttons }

func (f *fixedInput) Poll() Buttons { return f.b }

func TestStepFramePublishesAndPollsInput(t *testing.T) {
	m := newMachine(t, testROM(nil))
	sink := &captureSink{}
	in := &fixedInput{b: Buttons{A: true}}
	m.SetFrameSink(sink)
	m.SetButtonSource(in)

	if err := m.StepFrame(); err != nil {
		t.Fatalf("StepFrame: %v", err)
	}
	if sink.frames != 1 {
		t.Fatalf("frames got %d want 1", sink.frames)
	}
	if sink.pal.BGP != 0xFC {
		t.Fatalf("palette snapshot BGP got %02X want FC", sink.pal.BGP)
	}
	// The input source was polled: with the button group selected, A reads low.
	m.Bus().Write(0xFF00, 0x10)
	if got := m.Bus().Read(0xFF00) & 0x01; got != 0 {
		t.Fatalf("A button not latched after frame poll")
	}
}

func TestIllegalOpcodeHaltsTheLoop(t *testing.T) {
	m := newMachine(t, testROM([]byte{0xD3}))
	err := m.StepFrame()
	var illegal *cpu.IllegalOpcodeError
	if !errors.As(err, &illegal) {
		t.Fatalf("got %v want IllegalOpcodeError", err)
	}
	if illegal.Opcode != 0xD3 || illegal.PC != 0x0100 {
		t.Fatalf("diagnostic got op=%#02x pc=%#04x", illegal.Opcode, illegal.PC)
	}
}

func TestSerialSinkReceivesBytes(t *testing.T) {
	var out bytes.Buffer
	m := newMachine(t, testROM([]byte{
		0x3E, 0x47, // LD A,'G'
		0xE0, 0x01, // LDH (SB),A
		0x3E, 0x81, // LD A,0x81
		0xE0, 0x02, // LDH (SC),A
	}))
	m.SetSerialWriter(&out)
	for i := 0; i < 4; i++ {
		if _, err := m.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	if out.String() != "G" {
		t.Fatalf("serial got %q want %q", out.String(), "G")
	}
}

func TestSaveStateRoundTrip(t *testing.T) {
	m := newMachine(t, testROM(nil))
	for i := 0; i < 1000; i++ {
		if _, err := m.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	m.Bus().Write(0xC123, 0x77)
	snap := m.SaveState()
	pc := m.CPU().PC
	dots := m.Bus().Clock().Dots()

	// Diverge, then restore.
	for i := 0; i < 500; i++ {
		if _, err := m.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	m.Bus().Write(0xC123, 0x00)
	m.LoadState(snap)

	if m.CPU().PC != pc {
		t.Fatalf("PC after restore got %04X want %04X", m.CPU().PC, pc)
	}
	if m.Bus().Clock().Dots() != dots {
		t.Fatalf("clock after restore got %d want %d", m.Bus().Clock().Dots(), dots)
	}
	if got := m.Bus().Read(0xC123); got != 0x77 {
		t.Fatalf("WRAM after restore got %02X want 77", got)
	}
}

func TestDotsTrackMCycles(t *testing.T) {
	m := newMachine(t, testROM(nil))
	total := 0
	for i := 0; i < 100; i++ {
		cycles, err := m.Step()
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		total += cycles
	}
	if got := m.Bus().Clock().Dots(); got != uint64(total) {
		t.Fatalf("dots got %d want %d", got, total)
	}
	if got := m.Bus().Clock().MCycles(); got != uint64(total/4) {
		t.Fatalf("m-cycles got %d want %d", got, total/4)
	}
}
