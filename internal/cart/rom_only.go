package cart

// ROMOnly is a cartridge without a controller. The full 32 KiB image maps
// flat into 0x0000–0x7FFF; control writes and external RAM are inert.
type ROMOnly struct {
	rom []byte
}

func NewROMOnly(rom []byte) *ROMOnly {
	return &ROMOnly{rom: rom}
}

func (c *ROMOnly) Read(addr uint16) byte {
	switch {
	case addr < 0x8000:
		if int(addr) < len(c.rom) {
			return c.rom[addr]
		}
		return 0xFF
	default: // includes 0xA000–0xBFFF: no external RAM
		return 0xFF
	}
}

func (c *ROMOnly) Write(addr uint16, value byte) {
	// No banking registers and no RAM; every write is dropped.
}

func (c *ROMOnly) SaveState() []byte     { return nil }
func (c *ROMOnly) LoadState(data []byte) {}
