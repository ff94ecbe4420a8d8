package cart

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	headerStart = 0x0100
	headerEnd   = 0x014F
)

// ErrTruncated is returned when the ROM image is shorter than its header,
// or shorter than the ROM size the header declares.
var ErrTruncated = errors.New("cart: truncated ROM image")

// InvalidHardwareError reports an unknown cartridge type byte at 0x0147.
type InvalidHardwareError struct {
	Byte byte
}

func (e *InvalidHardwareError) Error() string {
	return fmt.Sprintf("cart: no hardware mapping for %#02x", e.Byte)
}

// InvalidRomSizeError reports an unknown ROM size code at 0x0148.
type InvalidRomSizeError struct {
	Byte byte
}

func (e *InvalidRomSizeError) Error() string {
	return fmt.Sprintf("cart: no ROM size mapping for %#02x", e.Byte)
}

// InvalidRamSizeError reports an unknown RAM size code at 0x0149.
type InvalidRamSizeError struct {
	Byte byte
}

func (e *InvalidRamSizeError) Error() string {
	return fmt.Sprintf("cart: no RAM size mapping for %#02x", e.Byte)
}

// UnsupportedMBCError reports a decoded but unimplemented controller.
type UnsupportedMBCError struct {
	Kind MBCKind
}

func (e *UnsupportedMBCError) Error() string {
	return fmt.Sprintf("cart: unsupported memory bank controller %s", e.Kind)
}

// MBCKind identifies the cartridge-resident controller family.
type MBCKind int

const (
	KindROMOnly MBCKind = iota
	KindMBC1
	KindMBC2
	KindMBC3
	KindMBC5
	KindMBC6
	KindMBC7
	KindMMM01
	KindRomRam
	KindPocketCamera
	KindBandaiTama5
	KindHuC1
	KindHuC3
)

func (k MBCKind) String() string {
	switch k {
	case KindROMOnly:
		return "ROM only"
	case KindMBC1:
		return "MBC1"
	case KindMBC2:
		return "MBC2"
	case KindMBC3:
		return "MBC3"
	case KindMBC5:
		return "MBC5"
	case KindMBC6:
		return "MBC6"
	case KindMBC7:
		return "MBC7"
	case KindMMM01:
		return "MMM01"
	case KindRomRam:
		return "ROM+RAM"
	case KindPocketCamera:
		return "Pocket Camera"
	case KindBandaiTama5:
		return "Bandai TAMA5"
	case KindHuC1:
		return "HuC1"
	case KindHuC3:
		return "HuC3"
	}
	return "unknown"
}

// Hardware is the decoded cartridge type byte: controller family plus the
// extra wiring (RAM, battery, RTC, rumble) the byte encodes.
type Hardware struct {
	Kind    MBCKind
	RAM     bool
	Battery bool
	Timer   bool
	Rumble  bool
}

func decodeHardware(b byte) (Hardware, error) {
	switch b {
	case 0x00:
		return Hardware{Kind: KindROMOnly}, nil
	case 0x01:
		return Hardware{Kind: KindMBC1}, nil
	case 0x02:
		return Hardware{Kind: KindMBC1, RAM: true}, nil
	case 0x03:
		return Hardware{Kind: KindMBC1, RAM: true, Battery: true}, nil
	case 0x05:
		return Hardware{Kind: KindMBC2}, nil
	case 0x06:
		return Hardware{Kind: KindMBC2, Battery: true}, nil
	case 0x08:
		return Hardware{Kind: KindRomRam, RAM: true}, nil
	case 0x09:
		return Hardware{Kind: KindRomRam, RAM: true, Battery: true}, nil
	case 0x0B:
		return Hardware{Kind: KindMMM01}, nil
	case 0x0C:
		return Hardware{Kind: KindMMM01, RAM: true}, nil
	case 0x0D:
		return Hardware{Kind: KindMMM01, RAM: true, Battery: true}, nil
	case 0x0F:
		return Hardware{Kind: KindMBC3, Timer: true, Battery: true}, nil
	case 0x10:
		return Hardware{Kind: KindMBC3, Timer: true, RAM: true, Battery: true}, nil
	case 0x11:
		return Hardware{Kind: KindMBC3}, nil
	case 0x12:
		return Hardware{Kind: KindMBC3, RAM: true}, nil
	case 0x13:
		return Hardware{Kind: KindMBC3, RAM: true, Battery: true}, nil
	case 0x19:
		return Hardware{Kind: KindMBC5}, nil
	case 0x1A:
		return Hardware{Kind: KindMBC5, RAM: true}, nil
	case 0x1B:
		return Hardware{Kind: KindMBC5, RAM: true, Battery: true}, nil
	case 0x1C:
		return Hardware{Kind: KindMBC5, Rumble: true}, nil
	case 0x1D:
		return Hardware{Kind: KindMBC5, RAM: true, Rumble: true}, nil
	case 0x1E:
		return Hardware{Kind: KindMBC5, RAM: true, Battery: true, Rumble: true}, nil
	case 0x20:
		return Hardware{Kind: KindMBC6}, nil
	case 0x22:
		return Hardware{Kind: KindMBC7, RAM: true, Battery: true, Rumble: true}, nil
	case 0xFC:
		return Hardware{Kind: KindPocketCamera}, nil
	case 0xFD:
		return Hardware{Kind: KindBandaiTama5}, nil
	case 0xFE:
		return Hardware{Kind: KindHuC3}, nil
	case 0xFF:
		return Hardware{Kind: KindHuC1, RAM: true, Battery: true}, nil
	}
	return Hardware{}, &InvalidHardwareError{Byte: b}
}

var nintendoLogo = [48]byte{
	0xCE, 0xED, 0x66, 0x66, 0xCC, 0x0D, 0x00, 0x0B, 0x03, 0x73, 0x00, 0x83, 0x00, 0x0C, 0x00, 0x0D,
	0x00, 0x08, 0x11, 0x1F, 0x88, 0x89, 0x00, 0x0E, 0xDC, 0xCC, 0x6E, 0xE6, 0xDD, 0xDD, 0xD9, 0x99,
	0xBB, 0xBB, 0x67, 0x63, 0x6E, 0x0E, 0xEC, 0xCC, 0xDD, 0xDC, 0x99, 0x9F, 0xBB, 0xB9, 0x33, 0x3E,
}

// Header is an immutable view over the first 336 bytes of ROM.
type Header struct {
	Title          string // trimmed ASCII, 0x0134–0x0143
	Logo           [48]byte
	LogoOK         bool
	CGBFlag        byte // 0x0143 (0x80/0xC0 mean CGB-aware)
	NewLicensee    string
	SGBFlag        byte
	Hardware       Hardware
	CartType       byte // raw 0x0147
	ROMSizeCode    byte
	RAMSizeCode    byte
	Destination    byte
	OldLicensee    byte
	ROMVersion     byte
	HeaderChecksum byte
	GlobalChecksum uint16

	ROMSizeBytes int
	ROMBanks     int
	RAMSizeBytes int
	RAMBanks     int
}

// CGB reports whether the cartridge declares Game Boy Color support.
func (h *Header) CGB() bool { return h.CGBFlag == 0x80 || h.CGBFlag == 0xC0 }

// ParseHeader validates and decodes the cartridge header. The MBC kind and
// the ROM/RAM size classes together drive bank register semantics, so a
// failure here prevents system construction.
func ParseHeader(rom []byte) (*Header, error) {
	if len(rom) < headerEnd+1 {
		return nil, ErrTruncated
	}

	hw, err := decodeHardware(rom[0x0147])
	if err != nil {
		return nil, err
	}
	romBytes, romBanks, err := decodeROMSize(rom[0x0148])
	if err != nil {
		return nil, err
	}
	ramBytes, ramBanks, err := decodeRAMSize(rom[0x0149])
	if err != nil {
		return nil, err
	}
	if len(rom) < romBytes {
		return nil, ErrTruncated
	}

	rawTitle := rom[0x0134:0x0144]
	title := strings.TrimRight(string(rawTitle), "\x00")

	h := &Header{
		Title:          title,
		CGBFlag:        rom[0x0143],
		NewLicensee:    string(rom[0x0144:0x0146]),
		SGBFlag:        rom[0x0146],
		Hardware:       hw,
		CartType:       rom[0x0147],
		ROMSizeCode:    rom[0x0148],
		RAMSizeCode:    rom[0x0149],
		Destination:    rom[0x014A],
		OldLicensee:    rom[0x014B],
		ROMVersion:     rom[0x014C],
		HeaderChecksum: rom[0x014D],
		GlobalChecksum: binary.BigEndian.Uint16(rom[0x014E:0x0150]),
		ROMSizeBytes:   romBytes,
		ROMBanks:       romBanks,
		RAMSizeBytes:   ramBytes,
		RAMBanks:       ramBanks,
	}
	copy(h.Logo[:], rom[0x0104:0x0104+48])
	h.LogoOK = h.Logo == nintendoLogo

	return h, nil
}

// HeaderChecksumOK recomputes the 0x0134–0x014C checksum (Pan Docs algorithm).
func HeaderChecksumOK(rom []byte) bool {
	if len(rom) < 0x014E {
		return false
	}
	var sum byte
	for addr := 0x0134; addr <= 0x014C; addr++ {
		sum = sum - rom[addr] - 1
	}
	return sum == rom[0x014D]
}

func decodeROMSize(code byte) (size, banks int, err error) {
	switch code {
	case 0x00:
		return 32 * 1024, 2, nil
	case 0x01:
		return 64 * 1024, 4, nil
	case 0x02:
		return 128 * 1024, 8, nil
	case 0x03:
		return 256 * 1024, 16, nil
	case 0x04:
		return 512 * 1024, 32, nil
	case 0x05:
		return 1 * 1024 * 1024, 64, nil
	case 0x06:
		return 2 * 1024 * 1024, 128, nil
	case 0x07:
		return 4 * 1024 * 1024, 256, nil
	case 0x08:
		return 8 * 1024 * 1024, 512, nil
	// Legacy oddball sizes seen on a few multicarts.
	case 0x52:
		return 1152 * 1024, 72, nil
	case 0x53:
		return 1280 * 1024, 80, nil
	case 0x54:
		return 1536 * 1024, 96, nil
	}
	return 0, 0, &InvalidRomSizeError{Byte: code}
}

func decodeRAMSize(code byte) (size, banks int, err error) {
	switch code {
	case 0x00:
		return 0, 0, nil
	case 0x01:
		// Listed as unused in most references; a handful of headers carry it.
		return 2 * 1024, 1, nil
	case 0x02:
		return 8 * 1024, 1, nil
	case 0x03:
		return 32 * 1024, 4, nil
	case 0x04:
		return 128 * 1024, 16, nil
	case 0x05:
		return 64 * 1024, 8, nil
	}
	return 0, 0, &InvalidRamSizeError{Byte: code}
}
