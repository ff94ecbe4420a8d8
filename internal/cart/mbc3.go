package cart

import (
	"bytes"
	"encoding/gob"
	"time"
)

// MBC3 banking:
// - 0000-1FFF: RAM/RTC enable (0x0A in low nibble)
// - 2000-3FFF: ROM bank, 7 bits (0 maps to 1)
// - 4000-5FFF: RAM bank (0-3) or RTC register select (0x08-0x0C)
// - 6000-7FFF: latch clock data on a 0x00 -> 0x01 write sequence
// - A000-BFFF: external RAM or the selected latched RTC register
type MBC3 struct {
	rom []byte
	ram []byte

	ramEnabled bool
	romBank    byte // 1..127
	ramSelect  byte // 0..3 RAM bank, or 0x08..0x0C RTC register

	hasRTC   bool
	rtc      rtcRegs
	latched  rtcRegs
	latchArm bool // last write to 6000-7FFF was 0x00

	now func() time.Time
}

// rtcRegs holds the five RTC registers in their hardware layout.
type rtcRegs struct {
	Sec, Min, Hour byte
	DayLow         byte
	DayHigh        byte // bit0 day bit8, bit6 halt, bit7 day carry
}

func NewMBC3(rom []byte, ramSize int, withRTC bool) *MBC3 {
	m := &MBC3{rom: rom, hasRTC: withRTC, now: time.Now}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	m.romBank = 1
	return m
}

// SetClock overrides the wall-clock source; tests pin it.
func (m *MBC3) SetClock(now func() time.Time) { m.now = now }

func (m *MBC3) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		off := int(m.romBank&0x7F)*0x4000 + int(addr-0x4000)
		if off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		if m.ramSelect >= 0x08 && m.ramSelect <= 0x0C {
			if !m.hasRTC {
				return 0xFF
			}
			return m.latched.read(m.ramSelect)
		}
		if len(m.ram) == 0 {
			return 0xFF
		}
		off := int(m.ramSelect&0x03)*0x2000 + int(addr-0xA000)
		if off < len(m.ram) {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC3) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr < 0x4000:
		v := value & 0x7F
		if v == 0 {
			v = 1
		}
		m.romBank = v
	case addr < 0x6000:
		m.ramSelect = value
	case addr < 0x8000:
		// Latch sequence: 0x00 then 0x01 snapshots the running clock.
		if value == 0x00 {
			m.latchArm = true
		} else if value == 0x01 && m.latchArm {
			m.latchArm = false
			if m.hasRTC {
				m.latched = m.currentRTC()
			}
		} else {
			m.latchArm = false
		}
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		if m.ramSelect >= 0x08 && m.ramSelect <= 0x0C {
			if m.hasRTC {
				m.rtc.write(m.ramSelect, value)
			}
			return
		}
		if len(m.ram) == 0 {
			return
		}
		off := int(m.ramSelect&0x03)*0x2000 + int(addr-0xA000)
		if off < len(m.ram) {
			m.ram[off] = value
		}
	}
}

// currentRTC derives the running clock from the stored registers plus wall
// time. The stored registers act as the value at the last write; good enough
// for the games that read the latch.
func (m *MBC3) currentRTC() rtcRegs {
	if m.rtc.DayHigh&0x40 != 0 { // halted
		return m.rtc
	}
	secs := m.now().Unix() % (512 * 24 * 3600)
	out := m.rtc
	total := int64(out.Sec) + int64(out.Min)*60 + int64(out.Hour)*3600 +
		(int64(out.DayLow)|int64(out.DayHigh&1)<<8)*24*3600 + secs
	out.Sec = byte(total % 60)
	out.Min = byte((total / 60) % 60)
	out.Hour = byte((total / 3600) % 24)
	days := total / (24 * 3600)
	out.DayLow = byte(days)
	out.DayHigh = (out.DayHigh &^ 0x01) | byte((days>>8)&1)
	if days >= 512 {
		out.DayHigh |= 0x80
	}
	return out
}

func (r *rtcRegs) read(sel byte) byte {
	switch sel {
	case 0x08:
		return r.Sec
	case 0x09:
		return r.Min
	case 0x0A:
		return r.Hour
	case 0x0B:
		return r.DayLow
	case 0x0C:
		return r.DayHigh
	}
	return 0xFF
}

func (r *rtcRegs) write(sel, value byte) {
	switch sel {
	case 0x08:
		r.Sec = value & 0x3F
	case 0x09:
		r.Min = value & 0x3F
	case 0x0A:
		r.Hour = value & 0x1F
	case 0x0B:
		r.DayLow = value
	case 0x0C:
		r.DayHigh = value & 0xC1
	}
}

// BatteryBacked implementation (RTC registers ride along in SaveState only).
func (m *MBC3) SaveRAM() []byte {
	if len(m.ram) == 0 {
		return nil
	}
	out := make([]byte, len(m.ram))
	copy(out, m.ram)
	return out
}

func (m *MBC3) LoadRAM(data []byte) {
	if len(m.ram) == 0 || len(data) == 0 {
		return
	}
	copy(m.ram, data)
}

type mbc3State struct {
	RAM        []byte
	RAMEnabled bool
	RomBank    byte
	RAMSelect  byte
	RTC        rtcRegs
	Latched    rtcRegs
	LatchArm   bool
}

func (m *MBC3) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc3State{
		RAM: m.SaveRAM(), RAMEnabled: m.ramEnabled, RomBank: m.romBank,
		RAMSelect: m.ramSelect, RTC: m.rtc, Latched: m.latched, LatchArm: m.latchArm,
	})
	return buf.Bytes()
}

func (m *MBC3) LoadState(data []byte) {
	var s mbc3State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	m.LoadRAM(s.RAM)
	m.ramEnabled = s.RAMEnabled
	m.romBank = s.RomBank
	m.ramSelect = s.RAMSelect
	m.rtc = s.RTC
	m.latched = s.Latched
	m.latchArm = s.LatchArm
}
