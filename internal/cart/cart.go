package cart

// Cartridge is what the Bus needs for ROM/RAM banking. Addresses are CPU
// addresses: reads cover 0x0000–0x7FFF and 0xA000–0xBFFF, writes to
// 0x0000–0x7FFF are controller messages rather than memory writes.
type Cartridge interface {
	Read(addr uint16) byte
	Write(addr uint16, value byte)
	// SaveState/LoadState serialize banking registers and external RAM.
	SaveState() []byte
	LoadState(data []byte)
}

// BatteryBacked is implemented by cartridges whose external RAM survives
// power-off. SaveRAM returns a copy; LoadRAM accepts previously saved bytes.
type BatteryBacked interface {
	SaveRAM() []byte
	LoadRAM(data []byte)
}

// New parses the header and picks the matching controller implementation.
func New(rom []byte) (Cartridge, error) {
	h, err := ParseHeader(rom)
	if err != nil {
		return nil, err
	}
	switch h.Hardware.Kind {
	case KindROMOnly, KindRomRam:
		return NewROMOnly(rom), nil
	case KindMBC1:
		return NewMBC1(rom, h.RAMSizeBytes), nil
	case KindMBC2:
		return NewMBC2(rom), nil
	case KindMBC3:
		return NewMBC3(rom, h.RAMSizeBytes, h.Hardware.Timer), nil
	case KindMBC5:
		return NewMBC5(rom, h.RAMSizeBytes), nil
	}
	return nil, &UnsupportedMBCError{Kind: h.Hardware.Kind}
}
