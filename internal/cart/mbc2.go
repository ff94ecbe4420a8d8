package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC2 has a 4-bit ROM bank register and 512 half-bytes of built-in RAM.
// Address bit 8 selects between RAM enable (clear) and ROM bank (set) for
// writes into 0x0000–0x3FFF.
type MBC2 struct {
	rom []byte
	ram [512]byte // low nibbles only; high nibble reads back as 1s

	romBank    byte // 4 bits, 0 remaps to 1
	ramEnabled bool
}

func NewMBC2(rom []byte) *MBC2 {
	return &MBC2{rom: rom, romBank: 1}
}

func (m *MBC2) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		off := int(m.romBank)*0x4000 + int(addr-0x4000)
		if off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		// The 512 bytes echo through the whole window.
		return 0xF0 | (m.ram[addr&0x01FF] & 0x0F)
	default:
		return 0xFF
	}
}

func (m *MBC2) Write(addr uint16, value byte) {
	switch {
	case addr < 0x4000:
		if addr&0x0100 == 0 {
			m.ramEnabled = (value & 0x0F) == 0x0A
		} else {
			m.romBank = value & 0x0F
			if m.romBank == 0 {
				m.romBank = 1
			}
		}
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		m.ram[addr&0x01FF] = value & 0x0F
	}
}

// BatteryBacked implementation.
func (m *MBC2) SaveRAM() []byte {
	out := make([]byte, len(m.ram))
	copy(out, m.ram[:])
	return out
}

func (m *MBC2) LoadRAM(data []byte) {
	copy(m.ram[:], data)
}

type mbc2State struct {
	RAM        [512]byte
	RomBank    byte
	RAMEnabled bool
}

func (m *MBC2) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc2State{RAM: m.ram, RomBank: m.romBank, RAMEnabled: m.ramEnabled})
	return buf.Bytes()
}

func (m *MBC2) LoadState(data []byte) {
	var s mbc2State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	m.ram = s.RAM
	m.romBank = s.RomBank
	m.ramEnabled = s.RAMEnabled
}
