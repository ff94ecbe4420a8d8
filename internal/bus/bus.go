package bus

import (
	"bytes"
	"encoding/gob"
	"io"

	"github.com/MoritzKleinschmidt/DMGEmulator/internal/apu"
	"github.com/MoritzKleinschmidt/DMGEmulator/internal/cart"
	"github.com/MoritzKleinschmidt/DMGEmulator/internal/clock"
	"github.com/MoritzKleinschmidt/DMGEmulator/internal/ppu"
)

// Bus wires the CPU-visible address space to the cartridge, WRAM, HRAM,
// IO registers, PPU, APU, and the clock. It owns the interrupt registers
// and enforces the access-window rules (PPU mode gates, OAM DMA lockout).
type Bus struct {
	cart cart.Cartridge

	// Work RAM 8 KiB at 0xC000–0xDFFF; Echo 0xE000–0xFDFF mirrors C000–DDFF.
	wram [0x2000]byte

	// High RAM 0xFF80–0xFFFE.
	hram [0x7F]byte

	ppu *ppu.PPU
	apu *apu.APU
	clk *clock.Clock

	// Interrupt registers.
	ie    byte // IE at 0xFFFF
	ifReg byte // IF at 0xFF0F (lower 5 bits used)

	// Joypad: select bits as last written, pressed-button mask, and the
	// last computed active-low lower nibble for edge detection.
	joypSelect byte
	joypad     byte
	joypLower4 byte

	// Serial.
	sb byte      // FF01 data
	sc byte      // FF02 control; transfers complete immediately
	sw io.Writer // sink for serial output (optional)

	// OAM DMA: 160 bytes over 160 machine cycles. While active the CPU can
	// only reach HRAM; everything else reads 0xFF and drops writes.
	dma       byte // FF46 readback
	dmaActive bool
	dmaSrc    uint16
	dmaIndex  int
	dmaTick   int // dots within the current DMA byte

	// Boot ROM overlay.
	bootROM     []byte
	bootEnabled bool
}

// New constructs a Bus over the given ROM image, falling back to a plain
// ROM mapping when the header does not parse. Callers that need load
// errors surfaced parse the cartridge themselves and use NewWithCartridge.
func New(rom []byte) *Bus {
	c, err := cart.New(rom)
	if err != nil {
		c = cart.NewROMOnly(rom)
	}
	return NewWithCartridge(c)
}

// NewWithCartridge wires a provided cartridge implementation.
func NewWithCartridge(c cart.Cartridge) *Bus {
	b := &Bus{cart: c}
	b.ppu = ppu.New(func(bit int) { b.ifReg |= 1 << bit })
	b.apu = apu.New()
	b.clk = clock.New(func() { b.ifReg |= 1 << 2 })
	return b
}

// PPU exposes the internal PPU for rendering helpers and the frame sink.
func (b *Bus) PPU() *ppu.PPU { return b.ppu }

// APU exposes the audio unit for the sample sink.
func (b *Bus) APU() *apu.APU { return b.apu }

// Clock exposes the time source (read-mostly; STOP resets DIV through it).
func (b *Bus) Clock() *clock.Clock { return b.clk }

// Cart returns the cartridge for battery RAM persistence.
func (b *Bus) Cart() cart.Cartridge { return b.cart }

// DMAActive reports whether an OAM DMA copy is in flight.
func (b *Bus) DMAActive() bool { return b.dmaActive }

// Read services a CPU load. During OAM DMA only HRAM is reachable.
func (b *Bus) Read(addr uint16) byte {
	if b.dmaActive && !(addr >= 0xFF80 && addr <= 0xFFFE) {
		return 0xFF
	}
	return b.read(addr)
}

func (b *Bus) read(addr uint16) byte {
	switch {
	case addr < 0x8000:
		if b.bootEnabled && addr < 0x0100 && len(b.bootROM) >= 0x100 {
			return b.bootROM[addr]
		}
		return b.cart.Read(addr)
	case addr <= 0x9FFF:
		return b.ppu.CPURead(addr)
	case addr <= 0xBFFF:
		return b.cart.Read(addr)

	// Work RAM 0xC000–0xDFFF.
	case addr <= 0xDFFF:
		return b.wram[addr-0xC000]

	// Echo RAM 0xE000–0xFDFF mirrors 0xC000–0xDDFF.
	case addr <= 0xFDFF:
		return b.wram[addr-0xE000]

	// OAM via PPU (mode gate applied there).
	case addr >= 0xFE00 && addr <= 0xFE9F:
		return b.ppu.CPURead(addr)

	// Unusable region.
	case addr >= 0xFEA0 && addr <= 0xFEFF:
		return 0xFF

	case addr == 0xFF00:
		return b.readJOYP()
	case addr == 0xFF01:
		return b.sb
	case addr == 0xFF02:
		// Upper bits read as 1; bit 7 would reflect an in-flight transfer.
		return 0x7E | (b.sc & 0x81)
	case addr == 0xFF04:
		return b.clk.DIV()
	case addr == 0xFF05:
		return b.clk.TIMA()
	case addr == 0xFF06:
		return b.clk.TMA()
	case addr == 0xFF07:
		return b.clk.TAC()
	case addr == 0xFF0F:
		return 0xE0 | (b.ifReg & 0x1F)
	case addr >= 0xFF10 && addr <= 0xFF3F:
		return b.apu.Read(addr)
	case addr == 0xFF46:
		return b.dma
	case addr >= 0xFF40 && addr <= 0xFF4B:
		return b.ppu.CPURead(addr)
	case addr == 0xFF50:
		return 0xFF
	case addr >= 0xFF80 && addr <= 0xFFFE:
		return b.hram[addr-0xFF80]
	case addr == 0xFFFF:
		return b.ie
	}
	return 0xFF
}

// Write services a CPU store. During OAM DMA only HRAM accepts data; a
// write to FF46 restarting the copy is the one exception.
func (b *Bus) Write(addr uint16, value byte) {
	if b.dmaActive && !(addr >= 0xFF80 && addr <= 0xFFFE) && addr != 0xFF46 {
		return
	}
	b.write(addr, value)
}

func (b *Bus) write(addr uint16, value byte) {
	switch {
	// Cartridge control messages and external RAM.
	case addr < 0x8000:
		b.cart.Write(addr, value)
	case addr <= 0x9FFF:
		b.ppu.CPUWrite(addr, value)
	case addr <= 0xBFFF:
		b.cart.Write(addr, value)

	case addr <= 0xDFFF:
		b.wram[addr-0xC000] = value

	case addr <= 0xFDFF:
		mirror := addr - 0x2000
		if mirror <= 0xDDFF {
			b.wram[mirror-0xC000] = value
		}

	case addr >= 0xFE00 && addr <= 0xFE9F:
		b.ppu.CPUWrite(addr, value)

	case addr >= 0xFEA0 && addr <= 0xFEFF:
		// Unusable; dropped.

	case addr == 0xFF00:
		b.joypSelect = value & 0x30
		b.updateJoypadIRQ()
	case addr == 0xFF01:
		b.sb = value
	case addr == 0xFF02:
		b.sc = value & 0x81
		if b.sc&0x80 != 0 {
			// Immediate completion: hand the byte to the sink, raise the
			// serial interrupt, clear the start bit.
			if b.sw != nil {
				_, _ = b.sw.Write([]byte{b.sb})
			}
			b.ifReg |= 1 << 3
			b.sc &^= 0x80
		}
	case addr == 0xFF04:
		b.clk.ResetDIV()
	case addr == 0xFF05:
		b.clk.SetTIMA(value)
	case addr == 0xFF06:
		b.clk.SetTMA(value)
	case addr == 0xFF07:
		b.clk.SetTAC(value)
	case addr == 0xFF0F:
		b.ifReg = value & 0x1F
	case addr >= 0xFF10 && addr <= 0xFF3F:
		b.apu.Write(addr, value)
	case addr == 0xFF46:
		b.dma = value
		b.dmaActive = true
		b.dmaSrc = uint16(value) << 8
		b.dmaIndex = 0
		b.dmaTick = 0
	case addr >= 0xFF40 && addr <= 0xFF4B:
		b.ppu.CPUWrite(addr, value)
	case addr == 0xFF50:
		if value != 0x00 {
			b.bootEnabled = false
		}
	case addr >= 0xFF80 && addr <= 0xFFFE:
		b.hram[addr-0xFF80] = value
	case addr == 0xFFFF:
		b.ie = value
	}
}

// Read16 reads a little-endian pair.
func (b *Bus) Read16(addr uint16) uint16 {
	lo := uint16(b.Read(addr))
	hi := uint16(b.Read(addr + 1))
	return lo | hi<<8
}

// Write16 writes a little-endian pair.
func (b *Bus) Write16(addr uint16, v uint16) {
	b.Write(addr, byte(v))
	b.Write(addr+1, byte(v>>8))
}

// IF returns the raw request flags; IE the enable mask.
func (b *Bus) IF() byte { return b.ifReg & 0x1F }
func (b *Bus) IE() byte { return b.ie }

// SetIF overwrites the request flags (used when acknowledging a service).
func (b *Bus) SetIF(v byte) { b.ifReg = v & 0x1F }

// RequestInterrupt sets one IF bit.
func (b *Bus) RequestInterrupt(bit int) { b.ifReg |= 1 << bit }

// Tick advances the whole machine by the given number of T-cycles: the
// clock (and through it the timer), the PPU by the same dot count, the
// APU, and any in-flight OAM DMA at one byte per machine cycle.
func (b *Bus) Tick(cycles int) {
	for i := 0; i < cycles; i++ {
		b.clk.TickT()
		b.ppu.Tick(1)
		b.apu.Tick(1)

		if b.dmaActive {
			b.dmaTick++
			if b.dmaTick == 4 {
				b.dmaTick = 0
				if b.dmaIndex < 0xA0 {
					v := b.read(b.dmaSrc + uint16(b.dmaIndex))
					b.ppu.DMAWrite(b.dmaIndex, v)
					b.dmaIndex++
				}
				if b.dmaIndex >= 0xA0 {
					b.dmaActive = false
				}
			}
		}
	}
}

// Joypad button bitmasks for SetJoypadState. Set bits mean "pressed".
const (
	JoypRight     = 1 << 0
	JoypLeft      = 1 << 1
	JoypUp        = 1 << 2
	JoypDown      = 1 << 3
	JoypA         = 1 << 4
	JoypB         = 1 << 5
	JoypSelectBtn = 1 << 6
	JoypStart     = 1 << 7
)

// SetJoypadState sets which buttons are currently pressed.
func (b *Bus) SetJoypadState(mask byte) {
	b.joypad = mask
	b.updateJoypadIRQ()
}

// AnyButtonPressed reports whether any key is down; STOP waits on this.
func (b *Bus) AnyButtonPressed() bool { return b.joypad != 0 }

// SetSerialWriter sets a sink that receives bytes written via the serial port.
func (b *Bus) SetSerialWriter(w io.Writer) { b.sw = w }

// SetBootROM maps a DMG boot ROM at 0x0000-0x00FF until disabled via FF50.
func (b *Bus) SetBootROM(data []byte) {
	b.bootROM = nil
	b.bootEnabled = false
	if len(data) >= 0x100 {
		b.bootROM = make([]byte, 0x100)
		copy(b.bootROM, data[:0x100])
		b.bootEnabled = true
	}
}

// SetPowerOnState applies the documented DMG post-boot IO values.
func (b *Bus) SetPowerOnState() {
	b.joypSelect = 0x00 // JOYP reads 0xCF with nothing pressed
	b.joypLower4 = 0x0F
	b.sb = 0x00
	b.sc = 0x00
	b.ifReg = 0x01 // VBlank already requested at the handoff
	b.ie = 0x00
	b.dma = 0xFF
	b.clk.SetInternalDIV(0x1800) // DIV reads 0x18
	b.ppu.SetPowerOnState()
	b.apu.SetPowerOnState()
}

// lowerNibble computes the active-low button lines for the current select.
func (b *Bus) lowerNibble() byte {
	res := byte(0x0F)
	if b.joypSelect&0x10 == 0 { // P14 low selects the D-pad
		if b.joypad&JoypRight != 0 {
			res &^= 0x01
		}
		if b.joypad&JoypLeft != 0 {
			res &^= 0x02
		}
		if b.joypad&JoypUp != 0 {
			res &^= 0x04
		}
		if b.joypad&JoypDown != 0 {
			res &^= 0x08
		}
	}
	if b.joypSelect&0x20 == 0 { // P15 low selects the buttons
		if b.joypad&JoypA != 0 {
			res &^= 0x01
		}
		if b.joypad&JoypB != 0 {
			res &^= 0x02
		}
		if b.joypad&JoypSelectBtn != 0 {
			res &^= 0x04
		}
		if b.joypad&JoypStart != 0 {
			res &^= 0x08
		}
	}
	return res
}

func (b *Bus) readJOYP() byte {
	return 0xC0 | (b.joypSelect & 0x30) | b.lowerNibble()
}

// updateJoypadIRQ raises IF bit 4 on any 1->0 transition of a selected line.
func (b *Bus) updateJoypadIRQ() {
	newLower := b.lowerNibble()
	if b.joypLower4&^newLower != 0 {
		b.ifReg |= 1 << 4
	}
	b.joypLower4 = newLower
}

// --- Save/Load state ---

type busState struct {
	WRAM      [0x2000]byte
	HRAM      [0x7F]byte
	IE, IF    byte
	JoypSel   byte
	Joypad    byte
	JoypL4    byte
	SB, SC    byte
	DMA       byte
	DMAActive bool
	DMASrc    uint16
	DMAIdx    int
	DMATick   int
	BootEn    bool
	Clock     clock.State
}

func (b *Bus) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	_ = enc.Encode(busState{
		WRAM: b.wram, HRAM: b.hram,
		IE: b.ie, IF: b.ifReg,
		JoypSel: b.joypSelect, Joypad: b.joypad, JoypL4: b.joypLower4,
		SB: b.sb, SC: b.sc,
		DMA: b.dma, DMAActive: b.dmaActive, DMASrc: b.dmaSrc,
		DMAIdx: b.dmaIndex, DMATick: b.dmaTick,
		BootEn: b.bootEnabled,
		Clock:  b.clk.Snapshot(),
	})
	_ = enc.Encode(b.ppu.SaveState())
	_ = enc.Encode(b.cart.SaveState())
	return buf.Bytes()
}

func (b *Bus) LoadState(data []byte) {
	dec := gob.NewDecoder(bytes.NewReader(data))
	var s busState
	if err := dec.Decode(&s); err != nil {
		return
	}
	b.wram = s.WRAM
	b.hram = s.HRAM
	b.ie, b.ifReg = s.IE, s.IF
	b.joypSelect, b.joypad, b.joypLower4 = s.JoypSel, s.Joypad, s.JoypL4
	b.sb, b.sc = s.SB, s.SC
	b.dma, b.dmaActive, b.dmaSrc = s.DMA, s.DMAActive, s.DMASrc
	b.dmaIndex, b.dmaTick = s.DMAIdx, s.DMATick
	b.bootEnabled = s.BootEn
	b.clk.Restore(s.Clock)
	var ps []byte
	if err := dec.Decode(&ps); err == nil {
		b.ppu.LoadState(ps)
	}
	var cs []byte
	if err := dec.Decode(&cs); err == nil {
		b.cart.LoadState(cs)
	}
}
