package cart

import "testing"

func TestMBC1_ROMBanking(t *testing.T) {
	// 2MB ROM with the bank number stamped at the start of each bank.
	rom := make([]byte, 2*1024*1024)
	for bank := 0; bank < 128; bank++ {
		rom[bank*0x4000] = byte(bank)
	}
	m := NewMBC1(rom, 0)

	if got := m.Read(0x0000); got != 0x00 {
		t.Fatalf("bank0 read got %02X want 00", got)
	}
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("default switchable bank got %02X want 01", got)
	}

	// Write 0x05 to 0x2100 selects bank 5.
	m.Write(0x2100, 0x05)
	if got := m.Read(0x4000); got != 0x05 {
		t.Fatalf("bank5 read got %02X want 05", got)
	}

	// Writing 0 maps to 1.
	m.Write(0x2100, 0x00)
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("bank0->1 remap failed: got %02X", got)
	}
}

func TestMBC1_Bank20Aliasing(t *testing.T) {
	rom := make([]byte, 2*1024*1024)
	for bank := 0; bank < 128; bank++ {
		rom[bank*0x4000] = byte(bank)
	}
	m := NewMBC1(rom, 0)

	// Select low5=0 with high bits 01: the switchable window reads bank
	// 0x21 because low5 0 remaps to 1.
	m.Write(0x2000, 0x00)
	m.Write(0x4000, 0x01)
	if got := m.Read(0x4000); got != 0x21 {
		t.Fatalf("bank 0x20 alias through 0x4000 got %02X want 21", got)
	}

	// In mode 0 the fixed window still shows bank 0.
	if got := m.Read(0x0000); got != 0x00 {
		t.Fatalf("mode0 fixed window got %02X want 00", got)
	}

	// Mode 1 maps bank 0x20 into the fixed window.
	m.Write(0x6000, 0x01)
	if got := m.Read(0x0000); got != 0x20 {
		t.Fatalf("mode1 fixed window got %02X want 20", got)
	}
}

func TestMBC1_RAMEnableAndBanking(t *testing.T) {
	rom := make([]byte, 128*1024)
	m := NewMBC1(rom, 32*1024)

	// Disabled RAM reads 0xFF and drops writes.
	m.Write(0xA000, 0x12)
	if got := m.Read(0xA000); got != 0xFF {
		t.Fatalf("disabled RAM read got %02X want FF", got)
	}

	// Only 0x0A in the low nibble enables.
	m.Write(0x0000, 0x1A)
	m.Write(0xA000, 0x34)
	if got := m.Read(0xA000); got != 0x34 {
		t.Fatalf("enable via 0x1A failed: got %02X", got)
	}
	m.Write(0x0000, 0x00)
	if got := m.Read(0xA000); got != 0xFF {
		t.Fatalf("disable failed: got %02X", got)
	}

	// Mode 1 RAM banking.
	m.Write(0x0000, 0x0A)
	m.Write(0x6000, 0x01)
	m.Write(0x4000, 0x02)
	m.Write(0xA000, 0x77)
	m.Write(0x4000, 0x00)
	if got := m.Read(0xA000); got == 0x77 {
		t.Fatalf("bank 0 should not see bank 2's byte")
	}
	m.Write(0x4000, 0x02)
	if got := m.Read(0xA000); got != 0x77 {
		t.Fatalf("RAM bank2 RW failed: got %02X", got)
	}
}

func TestMBC1_ControlWritesDoNotTouchROM(t *testing.T) {
	rom := make([]byte, 64*1024)
	rom[0x2100] = 0xAB
	m := NewMBC1(rom, 0)
	m.Write(0x2100, 0x02)
	if got := rom[0x2100]; got != 0xAB {
		t.Fatalf("ROM storage mutated by bank write: %02X", got)
	}
	if got := m.Read(0x2100); got != 0xAB {
		t.Fatalf("ROM read after bank write got %02X want AB", got)
	}
}
