package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC1 implements MBC1 ROM/RAM banking: 5-bit ROM bank register, 2-bit
// secondary register, and a mode select that decides whether the secondary
// bits steer RAM banking or the upper ROM bank lines.
type MBC1 struct {
	rom []byte
	ram []byte

	romBankLow5 byte // lower 5 bits of ROM bank number (0 remaps to 1)
	bankHigh2   byte // RAM bank (mode 1) or ROM bank bits 5-6 (mode 0)
	ramEnabled  bool
	mode        byte // 0: ROM banking (default), 1: RAM banking
}

func NewMBC1(rom []byte, ramSize int) *MBC1 {
	m := &MBC1{rom: rom}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	m.romBankLow5 = 1
	return m
}

func (m *MBC1) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		// Fixed bank 0, except mode 1 routes the high bits here too, so
		// large carts see banks 0x20/0x40/0x60 through this window.
		bank := 0
		if m.mode == 1 {
			bank = int(m.bankHigh2&0x03) << 5
		}
		off := bank*0x4000 + int(addr)
		if off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr < 0x8000:
		off := int(m.effectiveROMBank())*0x4000 + int(addr-0x4000)
		if off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return 0xFF
		}
		off := m.ramOffset(addr)
		if off < len(m.ram) {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC1) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr < 0x4000:
		// ROM bank low 5 bits; 0 maps to 1, which is why banks
		// 0x20/0x40/0x60 are unreachable through this window.
		m.romBankLow5 = value & 0x1F
		if m.romBankLow5 == 0 {
			m.romBankLow5 = 1
		}
	case addr < 0x6000:
		m.bankHigh2 = value & 0x03
	case addr < 0x8000:
		m.mode = value & 0x01
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled || len(m.ram) == 0 {
			return
		}
		off := m.ramOffset(addr)
		if off < len(m.ram) {
			m.ram[off] = value
		}
	}
}

func (m *MBC1) effectiveROMBank() byte {
	// low5 was already remapped away from 0, so 0x20/0x40/0x60 come out as
	// bank+1 here; the aliased banks themselves appear in the 0x0000 window
	// under mode 1.
	return m.romBankLow5 | (m.bankHigh2&0x03)<<5
}

func (m *MBC1) ramOffset(addr uint16) int {
	bank := 0
	if m.mode == 1 {
		bank = int(m.bankHigh2 & 0x03)
	}
	return bank*0x2000 + int(addr-0xA000)
}

// BatteryBacked implementation.
func (m *MBC1) SaveRAM() []byte {
	if len(m.ram) == 0 {
		return nil
	}
	out := make([]byte, len(m.ram))
	copy(out, m.ram)
	return out
}

func (m *MBC1) LoadRAM(data []byte) {
	if len(m.ram) == 0 || len(data) == 0 {
		return
	}
	copy(m.ram, data)
}

type mbc1State struct {
	RAM         []byte
	RomBankLow5 byte
	BankHigh2   byte
	RAMEnabled  bool
	Mode        byte
}

func (m *MBC1) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc1State{
		RAM: m.SaveRAM(), RomBankLow5: m.romBankLow5,
		BankHigh2: m.bankHigh2, RAMEnabled: m.ramEnabled, Mode: m.mode,
	})
	return buf.Bytes()
}

func (m *MBC1) LoadState(data []byte) {
	var s mbc1State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	m.LoadRAM(s.RAM)
	m.romBankLow5 = s.RomBankLow5
	m.bankHigh2 = s.BankHigh2
	m.ramEnabled = s.RAMEnabled
	m.mode = s.Mode
}
