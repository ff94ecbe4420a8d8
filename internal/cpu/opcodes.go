package cpu

// execute runs one decoded primary opcode and returns its T-cycle cost.
// opPC is the address the opcode was fetched from, for diagnostics.
func (c *CPU) execute(op byte, opPC uint16) (int, error) {
	switch op {
	case 0x00: // NOP
		return 4, nil

	case 0x10: // STOP
		// Consumes the following (normally zero) byte, resets DIV, and
		// parks the core until a button press.
		c.fetch8()
		c.bus.Clock().ResetDIV()
		c.stopped = true
		return 4, nil

	case 0x76: // HALT
		irqPending := c.bus.IE()&c.bus.IF()&0x1F != 0
		if !c.IME && irqPending {
			// HALT bug: the core does not halt and the next opcode byte
			// is read twice.
			c.haltBug = true
		} else {
			c.halted = true
		}
		return 4, nil

	// --- 8-bit loads ---

	// LD r,d8
	case 0x06, 0x0E, 0x16, 0x1E, 0x26, 0x2E, 0x36, 0x3E:
		dst := (op >> 3) & 7
		c.setReg8(dst, c.fetch8())
		if dst == 6 {
			return 12, nil
		}
		return 8, nil

	// LD r,r' / LD r,(HL) / LD (HL),r (0x76 is HALT, handled above)
	case 0x40, 0x41, 0x42, 0x43, 0x44, 0x45, 0x46, 0x47,
		0x48, 0x49, 0x4A, 0x4B, 0x4C, 0x4D, 0x4E, 0x4F,
		0x50, 0x51, 0x52, 0x53, 0x54, 0x55, 0x56, 0x57,
		0x58, 0x59, 0x5A, 0x5B, 0x5C, 0x5D, 0x5E, 0x5F,
		0x60, 0x61, 0x62, 0x63, 0x64, 0x65, 0x66, 0x67,
		0x68, 0x69, 0x6A, 0x6B, 0x6C, 0x6D, 0x6E, 0x6F,
		0x70, 0x71, 0x72, 0x73, 0x74, 0x75, 0x77,
		0x78, 0x79, 0x7A, 0x7B, 0x7C, 0x7D, 0x7E, 0x7F:
		dst := (op >> 3) & 7
		src := op & 7
		c.setReg8(dst, c.getReg8(src))
		if dst == 6 || src == 6 {
			return 8, nil
		}
		return 4, nil

	// LD (BC)/(DE),A and A,(BC)/(DE)
	case 0x02:
		c.write8(c.BC(), c.A)
		return 8, nil
	case 0x12:
		c.write8(c.DE(), c.A)
		return 8, nil
	case 0x0A:
		c.A = c.read8(c.BC())
		return 8, nil
	case 0x1A:
		c.A = c.read8(c.DE())
		return 8, nil

	// LD (HL±),A and A,(HL±)
	case 0x22:
		hl := c.HL()
		c.write8(hl, c.A)
		c.SetHL(hl + 1)
		return 8, nil
	case 0x2A:
		hl := c.HL()
		c.A = c.read8(hl)
		c.SetHL(hl + 1)
		return 8, nil
	case 0x32:
		hl := c.HL()
		c.write8(hl, c.A)
		c.SetHL(hl - 1)
		return 8, nil
	case 0x3A:
		hl := c.HL()
		c.A = c.read8(hl)
		c.SetHL(hl - 1)
		return 8, nil

	// LDH (FF00+n),A / A,(FF00+n) and the (FF00+C) forms
	case 0xE0:
		c.write8(0xFF00+uint16(c.fetch8()), c.A)
		return 12, nil
	case 0xF0:
		c.A = c.read8(0xFF00 + uint16(c.fetch8()))
		return 12, nil
	case 0xE2:
		c.write8(0xFF00+uint16(c.C), c.A)
		return 8, nil
	case 0xF2:
		c.A = c.read8(0xFF00 + uint16(c.C))
		return 8, nil

	// LD (a16),A / LD A,(a16)
	case 0xEA:
		c.write8(c.fetch16(), c.A)
		return 16, nil
	case 0xFA:
		c.A = c.read8(c.fetch16())
		return 16, nil

	// --- 16-bit loads ---

	case 0x01:
		c.SetBC(c.fetch16())
		return 12, nil
	case 0x11:
		c.SetDE(c.fetch16())
		return 12, nil
	case 0x21:
		c.SetHL(c.fetch16())
		return 12, nil
	case 0x31:
		c.SP = c.fetch16()
		return 12, nil
	case 0x08: // LD (a16),SP
		c.write16(c.fetch16(), c.SP)
		return 20, nil
	case 0xF9: // LD SP,HL
		c.SP = c.HL()
		return 8, nil

	case 0xF8: // LD HL,SP+e8
		off := int8(c.fetch8())
		res := uint16(int32(c.SP) + int32(off))
		// Z=0 N=0; H and C from the unsigned add of SP's low byte.
		_, _, _, h, cy := add8(byte(c.SP), byte(off))
		c.SetHL(res)
		c.setZNHC(false, false, h, cy)
		return 12, nil
	case 0xE8: // ADD SP,e8
		off := int8(c.fetch8())
		_, _, _, h, cy := add8(byte(c.SP), byte(off))
		c.SP = uint16(int32(c.SP) + int32(off))
		c.setZNHC(false, false, h, cy)
		return 16, nil

	// PUSH/POP
	case 0xC5:
		c.push16(c.BC())
		return 16, nil
	case 0xD5:
		c.push16(c.DE())
		return 16, nil
	case 0xE5:
		c.push16(c.HL())
		return 16, nil
	case 0xF5:
		c.push16(c.AF())
		return 16, nil
	case 0xC1:
		c.SetBC(c.pop16())
		return 12, nil
	case 0xD1:
		c.SetDE(c.pop16())
		return 12, nil
	case 0xE1:
		c.SetHL(c.pop16())
		return 12, nil
	case 0xF1:
		c.SetAF(c.pop16())
		return 12, nil

	// --- 8-bit ALU, register/(HL) operand ---

	case 0x80, 0x81, 0x82, 0x83, 0x84, 0x85, 0x86, 0x87, // ADD
		0x88, 0x89, 0x8A, 0x8B, 0x8C, 0x8D, 0x8E, 0x8F, // ADC
		0x90, 0x91, 0x92, 0x93, 0x94, 0x95, 0x96, 0x97, // SUB
		0x98, 0x99, 0x9A, 0x9B, 0x9C, 0x9D, 0x9E, 0x9F, // SBC
		0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5, 0xA6, 0xA7, // AND
		0xA8, 0xA9, 0xAA, 0xAB, 0xAC, 0xAD, 0xAE, 0xAF, // XOR
		0xB0, 0xB1, 0xB2, 0xB3, 0xB4, 0xB5, 0xB6, 0xB7, // OR
		0xB8, 0xB9, 0xBA, 0xBB, 0xBC, 0xBD, 0xBE, 0xBF: // CP
		src := op & 7
		c.alu((op>>3)&7, c.getReg8(src))
		if src == 6 {
			return 8, nil
		}
		return 4, nil

	// ALU with immediate operand
	case 0xC6, 0xCE, 0xD6, 0xDE, 0xE6, 0xEE, 0xF6, 0xFE:
		c.alu((op>>3)&7, c.fetch8())
		return 8, nil

	// INC r / DEC r
	case 0x04, 0x0C, 0x14, 0x1C, 0x24, 0x2C, 0x34, 0x3C:
		idx := (op >> 3) & 7
		old := c.getReg8(idx)
		v := old + 1
		c.setReg8(idx, v)
		c.setZNHC(v == 0, false, old&0x0F == 0x0F, c.flagSet(flagC))
		if idx == 6 {
			return 12, nil
		}
		return 4, nil
	case 0x05, 0x0D, 0x15, 0x1D, 0x25, 0x2D, 0x35, 0x3D:
		idx := (op >> 3) & 7
		old := c.getReg8(idx)
		v := old - 1
		c.setReg8(idx, v)
		c.setZNHC(v == 0, true, old&0x0F == 0x00, c.flagSet(flagC))
		if idx == 6 {
			return 12, nil
		}
		return 4, nil

	// --- 16-bit arithmetic ---

	case 0x03:
		c.SetBC(c.BC() + 1)
		return 8, nil
	case 0x13:
		c.SetDE(c.DE() + 1)
		return 8, nil
	case 0x23:
		c.SetHL(c.HL() + 1)
		return 8, nil
	case 0x33:
		c.SP++
		return 8, nil
	case 0x0B:
		c.SetBC(c.BC() - 1)
		return 8, nil
	case 0x1B:
		c.SetDE(c.DE() - 1)
		return 8, nil
	case 0x2B:
		c.SetHL(c.HL() - 1)
		return 8, nil
	case 0x3B:
		c.SP--
		return 8, nil

	case 0x09:
		c.addHL(c.BC())
		return 8, nil
	case 0x19:
		c.addHL(c.DE())
		return 8, nil
	case 0x29:
		c.addHL(c.HL())
		return 8, nil
	case 0x39:
		c.addHL(c.SP)
		return 8, nil

	// --- rotates on A and flag ops ---

	case 0x07: // RLCA
		bit7 := c.A >> 7
		c.A = c.A<<1 | bit7
		c.setZNHC(false, false, false, bit7 == 1)
		return 4, nil
	case 0x0F: // RRCA
		bit0 := c.A & 1
		c.A = c.A>>1 | bit0<<7
		c.setZNHC(false, false, false, bit0 == 1)
		return 4, nil
	case 0x17: // RLA
		bit7 := c.A >> 7
		carry := byte(0)
		if c.flagSet(flagC) {
			carry = 1
		}
		c.A = c.A<<1 | carry
		c.setZNHC(false, false, false, bit7 == 1)
		return 4, nil
	case 0x1F: // RRA
		bit0 := c.A & 1
		carry := byte(0)
		if c.flagSet(flagC) {
			carry = 1
		}
		c.A = c.A>>1 | carry<<7
		c.setZNHC(false, false, false, bit0 == 1)
		return 4, nil

	case 0x27: // DAA
		a := c.A
		cf := c.flagSet(flagC)
		if !c.flagSet(flagN) { // after addition
			if cf || a > 0x99 {
				a += 0x60
				cf = true
			}
			if c.flagSet(flagH) || a&0x0F > 0x09 {
				a += 0x06
			}
		} else { // after subtraction: only undo recorded borrows
			if cf {
				a -= 0x60
			}
			if c.flagSet(flagH) {
				a -= 0x06
			}
		}
		c.A = a
		c.setZNHC(a == 0, c.flagSet(flagN), false, cf)
		return 4, nil

	case 0x2F: // CPL
		c.A = ^c.A
		c.F = c.F&(flagZ|flagC) | flagN | flagH
		return 4, nil
	case 0x37: // SCF
		c.F = c.F&flagZ | flagC
		return 4, nil
	case 0x3F: // CCF
		c.F = (c.F & (flagZ | flagC)) ^ flagC
		return 4, nil

	// --- control transfer ---

	case 0xC3: // JP a16
		c.PC = c.fetch16()
		return 16, nil
	case 0xE9: // JP HL
		c.PC = c.HL()
		return 4, nil
	case 0xC2, 0xCA, 0xD2, 0xDA: // JP cc,a16
		addr := c.fetch16()
		if c.condition((op >> 3) & 3) {
			c.PC = addr
			return 16, nil
		}
		return 12, nil

	case 0x18: // JR e8
		off := int8(c.fetch8())
		c.PC = uint16(int32(c.PC) + int32(off))
		return 12, nil
	case 0x20, 0x28, 0x30, 0x38: // JR cc,e8
		off := int8(c.fetch8())
		if c.condition((op >> 3) & 3) {
			c.PC = uint16(int32(c.PC) + int32(off))
			return 12, nil
		}
		return 8, nil

	case 0xCD: // CALL a16
		addr := c.fetch16()
		c.push16(c.PC)
		c.PC = addr
		return 24, nil
	case 0xC4, 0xCC, 0xD4, 0xDC: // CALL cc,a16
		addr := c.fetch16()
		if c.condition((op >> 3) & 3) {
			c.push16(c.PC)
			c.PC = addr
			return 24, nil
		}
		return 12, nil

	case 0xC9: // RET
		c.PC = c.pop16()
		return 16, nil
	case 0xD9: // RETI
		c.PC = c.pop16()
		c.IME = true
		return 16, nil
	case 0xC0, 0xC8, 0xD0, 0xD8: // RET cc
		if c.condition((op >> 3) & 3) {
			c.PC = c.pop16()
			return 20, nil
		}
		return 8, nil

	case 0xC7, 0xCF, 0xD7, 0xDF, 0xE7, 0xEF, 0xF7, 0xFF: // RST
		c.push16(c.PC)
		c.PC = uint16(op & 0x38)
		return 16, nil

	// --- interrupt enable ---

	case 0xF3: // DI
		c.IME = false
		c.eiPending = false
		return 4, nil
	case 0xFB: // EI (takes effect after the following instruction)
		c.eiPending = true
		return 4, nil

	// --- CB prefix ---

	case 0xCB:
		return c.executeCB(c.fetch8()), nil

	// Undefined opcodes lock the hardware up.
	case 0xD3, 0xDB, 0xDD, 0xE3, 0xE4, 0xEB, 0xEC, 0xED, 0xF4, 0xFC, 0xFD:
		return 0, &IllegalOpcodeError{Opcode: op, PC: opPC}
	}

	// Unreachable: the cases above cover all 256 byte values.
	return 0, &IllegalOpcodeError{Opcode: op, PC: opPC}
}

// alu applies one of the eight accumulator operations selected by y.
func (c *CPU) alu(y byte, operand byte) {
	switch y {
	case 0: // ADD
		r, z, n, h, cy := add8(c.A, operand)
		c.A = r
		c.setZNHC(z, n, h, cy)
	case 1: // ADC
		r, z, n, h, cy := adc8(c.A, operand, c.flagSet(flagC))
		c.A = r
		c.setZNHC(z, n, h, cy)
	case 2: // SUB
		r, z, n, h, cy := sub8(c.A, operand)
		c.A = r
		c.setZNHC(z, n, h, cy)
	case 3: // SBC
		r, z, n, h, cy := sbc8(c.A, operand, c.flagSet(flagC))
		c.A = r
		c.setZNHC(z, n, h, cy)
	case 4: // AND
		c.A &= operand
		c.setZNHC(c.A == 0, false, true, false)
	case 5: // XOR
		c.A ^= operand
		c.setZNHC(c.A == 0, false, false, false)
	case 6: // OR
		c.A |= operand
		c.setZNHC(c.A == 0, false, false, false)
	case 7: // CP
		_, z, n, h, cy := sub8(c.A, operand)
		c.setZNHC(z, n, h, cy)
	}
}

// addHL implements ADD HL,rr: Z unchanged, H from bit 11, C from bit 15.
func (c *CPU) addHL(v uint16) {
	hl := c.HL()
	r := uint32(hl) + uint32(v)
	h := (hl&0x0FFF)+(v&0x0FFF) > 0x0FFF
	c.SetHL(uint16(r))
	c.setZNHC(c.flagSet(flagZ), false, h, r > 0xFFFF)
}

// condition decodes the cc field: NZ, Z, NC, C.
func (c *CPU) condition(cc byte) bool {
	switch cc {
	case 0:
		return !c.flagSet(flagZ)
	case 1:
		return c.flagSet(flagZ)
	case 2:
		return !c.flagSet(flagC)
	default:
		return c.flagSet(flagC)
	}
}

// executeCB runs one CB-prefixed opcode: rotates/shifts/swap, BIT, RES, SET.
func (c *CPU) executeCB(cb byte) int {
	reg := cb & 7
	group := cb >> 6
	y := (cb >> 3) & 7

	cycles := 8
	if reg == 6 {
		cycles = 16
		if group == 1 { // BIT (HL) only reads
			cycles = 12
		}
	}

	switch group {
	case 0: // rotates, shifts, swap
		v := c.getReg8(reg)
		var out byte
		var carry bool
		switch y {
		case 0: // RLC
			carry = v&0x80 != 0
			out = v<<1 | v>>7
		case 1: // RRC
			carry = v&0x01 != 0
			out = v>>1 | v<<7
		case 2: // RL
			carry = v&0x80 != 0
			out = v << 1
			if c.flagSet(flagC) {
				out |= 0x01
			}
		case 3: // RR
			carry = v&0x01 != 0
			out = v >> 1
			if c.flagSet(flagC) {
				out |= 0x80
			}
		case 4: // SLA
			carry = v&0x80 != 0
			out = v << 1
		case 5: // SRA
			carry = v&0x01 != 0
			out = v>>1 | v&0x80
		case 6: // SWAP
			out = v<<4 | v>>4
		case 7: // SRL
			carry = v&0x01 != 0
			out = v >> 1
		}
		c.setReg8(reg, out)
		c.setZNHC(out == 0, false, false, carry)
	case 1: // BIT y,r: Z from the tested bit, N=0, H=1, C unchanged
		v := c.getReg8(reg)
		c.F = c.F&flagC | flagH
		if v&(1<<y) == 0 {
			c.F |= flagZ
		}
	case 2: // RES y,r
		c.setReg8(reg, c.getReg8(reg)&^(1<<y))
	case 3: // SET y,r
		c.setReg8(reg, c.getReg8(reg)|1<<y)
	}
	return cycles
}
