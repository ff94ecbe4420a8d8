package cpu

import (
	"fmt"

	"github.com/MoritzKleinschmidt/DMGEmulator/internal/bus"
	"github.com/MoritzKleinschmidt/DMGEmulator/internal/interrupt"
)

// IllegalOpcodeError reports one of the eleven undefined opcodes. Hardware
// locks up on them; the simulation stops with this diagnostic instead.
type IllegalOpcodeError struct {
	Opcode byte
	PC     uint16
}

func (e *IllegalOpcodeError) Error() string {
	return fmt.Sprintf("cpu: illegal opcode %#02x at PC=%#04x", e.Opcode, e.PC)
}

// CPU is the SM83 core: eight 8-bit registers paired into AF/BC/DE/HL,
// SP, PC, and the interrupt master enable.
type CPU struct {
	A, F byte
	B, C byte
	D, E byte
	H, L byte

	SP uint16
	PC uint16

	IME     bool
	halted  bool
	stopped bool

	// EI takes effect after the instruction that follows it.
	eiPending bool
	// HALT entered with IME=0 and a pending interrupt: the next opcode
	// byte is fetched twice.
	haltBug bool

	bus *bus.Bus
}

// New creates a CPU wired to the bus, with SP/PC cleared (boot ROM entry).
func New(b *bus.Bus) *CPU {
	return &CPU{bus: b, SP: 0xFFFE, PC: 0x0000}
}

// Bus exposes the underlying bus for tests and tools.
func (c *CPU) Bus() *bus.Bus { return c.bus }

// SetPC allows tests or a boot stub to set the program counter.
func (c *CPU) SetPC(pc uint16) { c.PC = pc }

// Halted reports whether the core is sleeping in HALT.
func (c *CPU) Halted() bool { return c.halted }

// Stopped reports whether the core is in STOP.
func (c *CPU) Stopped() bool { return c.stopped }

// RestoreState reinstates the HALT/STOP latches from a savestate.
func (c *CPU) RestoreState(halted, stopped bool) {
	c.halted = halted
	c.stopped = stopped
}

// ResetNoBoot sets registers to the documented DMG post-boot state:
// AF=0x01B0 BC=0x0013 DE=0x00D8 HL=0x014D SP=0xFFFE PC=0x0100.
func (c *CPU) ResetNoBoot() {
	c.A, c.F = 0x01, 0xB0
	c.B, c.C = 0x00, 0x13
	c.D, c.E = 0x00, 0xD8
	c.H, c.L = 0x01, 0x4D
	c.SP = 0xFFFE
	c.PC = 0x0100
	c.IME = false
	c.halted = false
	c.stopped = false
	c.eiPending = false
	c.haltBug = false
}

// Flag bits in F. The low nibble of F is always zero.
const (
	flagZ byte = 1 << 7
	flagN byte = 1 << 6
	flagH byte = 1 << 5
	flagC byte = 1 << 4
)

func (c *CPU) setZNHC(z, n, h, carry bool) {
	var f byte
	if z {
		f |= flagZ
	}
	if n {
		f |= flagN
	}
	if h {
		f |= flagH
	}
	if carry {
		f |= flagC
	}
	c.F = f
}

func (c *CPU) flagSet(f byte) bool { return c.F&f != 0 }

// Paired register projections. Writing a pair updates both 8-bit views;
// writing F masks the low nibble.
func (c *CPU) AF() uint16     { return uint16(c.A)<<8 | uint16(c.F&0xF0) }
func (c *CPU) SetAF(v uint16) { c.A = byte(v >> 8); c.F = byte(v) & 0xF0 }
func (c *CPU) BC() uint16     { return uint16(c.B)<<8 | uint16(c.C) }
func (c *CPU) SetBC(v uint16) { c.B = byte(v >> 8); c.C = byte(v) }
func (c *CPU) DE() uint16     { return uint16(c.D)<<8 | uint16(c.E) }
func (c *CPU) SetDE(v uint16) { c.D = byte(v >> 8); c.E = byte(v) }
func (c *CPU) HL() uint16     { return uint16(c.H)<<8 | uint16(c.L) }
func (c *CPU) SetHL(v uint16) { c.H = byte(v >> 8); c.L = byte(v) }

// Memory helpers.
func (c *CPU) read8(addr uint16) byte     { return c.bus.Read(addr) }
func (c *CPU) write8(addr uint16, v byte) { c.bus.Write(addr, v) }

func (c *CPU) fetch8() byte {
	b := c.read8(c.PC)
	if c.haltBug {
		// The PC increment is skipped once, so this byte decodes twice.
		c.haltBug = false
		return b
	}
	c.PC++
	return b
}

func (c *CPU) fetch16() uint16 {
	lo := uint16(c.fetch8())
	hi := uint16(c.fetch8())
	return lo | hi<<8
}

func (c *CPU) read16(addr uint16) uint16     { return c.bus.Read16(addr) }
func (c *CPU) write16(addr uint16, v uint16) { c.bus.Write16(addr, v) }

// The stack grows downward; high byte lands at SP+1, low at SP.
func (c *CPU) push16(v uint16) {
	c.SP -= 2
	c.write16(c.SP, v)
}

func (c *CPU) pop16() uint16 {
	v := c.read16(c.SP)
	c.SP += 2
	return v
}

// getReg8/setReg8 map the 3-bit register encoding; index 6 is (HL).
func (c *CPU) getReg8(idx byte) byte {
	switch idx {
	case 0:
		return c.B
	case 1:
		return c.C
	case 2:
		return c.D
	case 3:
		return c.E
	case 4:
		return c.H
	case 5:
		return c.L
	case 6:
		return c.read8(c.HL())
	default:
		return c.A
	}
}

func (c *CPU) setReg8(idx byte, v byte) {
	switch idx {
	case 0:
		c.B = v
	case 1:
		c.C = v
	case 2:
		c.D = v
	case 3:
		c.E = v
	case 4:
		c.H = v
	case 5:
		c.L = v
	case 6:
		c.write8(c.HL(), v)
	default:
		c.A = v
	}
}

// ALU helpers. Each returns the result plus the four flag values.
func add8(a, b byte) (res byte, z, n, h, cy bool) {
	r := uint16(a) + uint16(b)
	res = byte(r)
	return res, res == 0, false, (a&0x0F)+(b&0x0F) > 0x0F, r > 0xFF
}

func adc8(a, b byte, carryIn bool) (res byte, z, n, h, cy bool) {
	ci := byte(0)
	if carryIn {
		ci = 1
	}
	r := uint16(a) + uint16(b) + uint16(ci)
	res = byte(r)
	return res, res == 0, false, (a&0x0F)+(b&0x0F)+ci > 0x0F, r > 0xFF
}

func sub8(a, b byte) (res byte, z, n, h, cy bool) {
	res = a - b
	return res, res == 0, true, a&0x0F < b&0x0F, a < b
}

func sbc8(a, b byte, carryIn bool) (res byte, z, n, h, cy bool) {
	ci := byte(0)
	if carryIn {
		ci = 1
	}
	r := int16(a) - int16(b) - int16(ci)
	res = byte(r)
	return res, res == 0, true, int16(a&0x0F)-int16(b&0x0F)-int16(ci) < 0, r < 0
}

// serviceInterrupt dispatches the highest-priority pending interrupt:
// acknowledge in IF, clear IME, push PC, jump to the vector. Five machine
// cycles.
func (c *CPU) serviceInterrupt(irq interrupt.Interrupt) int {
	c.bus.SetIF(c.bus.IF() &^ irq.Mask())
	c.halted = false
	c.IME = false
	c.push16(c.PC)
	c.PC = irq.Vector()
	return 20
}

// Step executes one instruction (or services one interrupt) and returns
// its cost in T-cycles. The caller advances the clock/PPU with the result.
// Undefined opcodes stop the simulation with an IllegalOpcodeError.
func (c *CPU) Step() (int, error) {
	enableIME := c.eiPending

	cycles, err := c.step()

	if enableIME && c.eiPending {
		c.IME = true
		c.eiPending = false
	}
	return cycles, err
}

func (c *CPU) step() (int, error) {
	// STOP waits for a button press; DIV was reset on entry.
	if c.stopped {
		if c.bus.AnyButtonPressed() {
			c.stopped = false
		} else {
			return 4, nil
		}
	}

	irq, pending := interrupt.Pending(c.bus.IE(), c.bus.IF())

	if c.halted {
		if !pending {
			return 4, nil
		}
		// A pending interrupt always wakes the core; it is serviced only
		// when IME is set.
		c.halted = false
		if c.IME {
			return c.serviceInterrupt(irq), nil
		}
	} else if c.IME && pending {
		return c.serviceInterrupt(irq), nil
	}

	opPC := c.PC
	op := c.fetch8()
	cycles, err := c.execute(op, opPC)
	return cycles, err
}
