package ppu

import (
	"bytes"
	"encoding/gob"
)

// InterruptRequester is a callback to request IF bits (0:VBlank, 1:STAT).
type InterruptRequester func(bit int)

// FrameFunc receives the completed framebuffer (160x144 shade indices,
// 0 lightest .. 3 darkest) together with the palette registers at publish
// time. Called once per frame, on the scanline 153 -> 0 transition.
type FrameFunc func(fb *[FrameWidth * FrameHeight]byte, pal Palettes)

const (
	FrameWidth  = 160
	FrameHeight = 144

	dotsPerLine  = 456
	linesPerFram = 154

	oamScanDots = 80
	drawMinDots = 172
)

// Palettes snapshots the DMG palette registers for the frame sink.
type Palettes struct {
	BGP, OBP0, OBP1 byte
}

// Modes as they appear in STAT bits 1-0.
const (
	ModeHBlank  = 0
	ModeVBlank  = 1
	ModeOAMScan = 2
	ModeDrawing = 3
)

// sprite is one OAM entry selected for the current line.
type sprite struct {
	y, x  byte // raw OAM values (Y+16, X+8)
	tile  byte
	attr  byte
	index byte // OAM slot, ties broken toward the earlier one
}

// PPU owns VRAM, OAM, the LCD registers, the per-line sprite buffer, and
// the framebuffer. It is advanced dot by dot and raises VBlank/STAT
// interrupt requests through the callback.
type PPU struct {
	vram [0x2000]byte // 0x8000–0x9FFF
	oam  [0xA0]byte   // 0xFE00–0xFE9F

	lcdc byte // FF40
	stat byte // FF41 (mode bits 0-1, coincidence bit 2, enables bits 3-6)
	scy  byte // FF42
	scx  byte // FF43
	ly   byte // FF44
	lyc  byte // FF45
	bgp  byte // FF47
	obp0 byte // FF48
	obp1 byte // FF49
	wy   byte // FF4A
	wx   byte // FF4B

	dot      int // dots within current line [0..455]
	drawLen  int // mode 3 length for this line (172 + SCX fine-scroll penalty)
	statLine bool
	winLine  int  // window internal line counter
	winYHit  bool // WY matched somewhere this frame

	lineSprites []sprite

	fb      [FrameWidth * FrameHeight]byte
	offDots int // frame pacing while the LCD is disabled

	req     InterruptRequester
	onFrame FrameFunc
}

func New(req InterruptRequester) *PPU {
	p := &PPU{req: req}
	p.lineSprites = make([]sprite, 0, 10)
	p.drawLen = drawMinDots
	return p
}

// SetFrameCallback installs the per-frame sink.
func (p *PPU) SetFrameCallback(f FrameFunc) { p.onFrame = f }

// Framebuffer exposes the current frame contents (for headless capture).
func (p *PPU) Framebuffer() *[FrameWidth * FrameHeight]byte { return &p.fb }

// Mode returns the current STAT mode bits.
func (p *PPU) Mode() byte { return p.stat & 0x03 }

// LY returns the current scanline.
func (p *PPU) LY() byte { return p.ly }

// CPURead services CPU loads for VRAM, OAM, and the PPU IO registers.
// VRAM is invisible during mode 3, OAM during modes 2 and 3.
func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if p.Mode() == ModeDrawing {
			return 0xFF
		}
		return p.vram[addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if m := p.Mode(); m == ModeOAMScan || m == ModeDrawing {
			return 0xFF
		}
		return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
		// Bit 7 reads as 1 on DMG.
		return 0x80 | (p.stat & 0x7F)
	case addr == 0xFF42:
		return p.scy
	case addr == 0xFF43:
		return p.scx
	case addr == 0xFF44:
		return p.ly
	case addr == 0xFF45:
		return p.lyc
	case addr == 0xFF47:
		return p.bgp
	case addr == 0xFF48:
		return p.obp0
	case addr == 0xFF49:
		return p.obp1
	case addr == 0xFF4A:
		return p.wy
	case addr == 0xFF4B:
		return p.wx
	default:
		return 0xFF
	}
}

// CPUWrite services CPU stores. Writes into locked VRAM/OAM are dropped;
// LY is read-only; STAT's mode and coincidence bits are read-only.
func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if p.Mode() == ModeDrawing {
			return
		}
		p.vram[addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if m := p.Mode(); m == ModeOAMScan || m == ModeDrawing {
			return
		}
		p.oam[addr-0xFE00] = value
	case addr == 0xFF40:
		prev := p.lcdc
		p.lcdc = value
		if prev&0x80 != 0 && value&0x80 == 0 {
			p.lcdOff()
		} else if prev&0x80 == 0 && value&0x80 != 0 {
			p.lcdOn()
		}
	case addr == 0xFF41:
		p.stat = (p.stat & 0x07) | (value & 0x78)
		p.refreshSTATLine()
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		// LY is read-only.
	case addr == 0xFF45:
		p.lyc = value
		p.compareLYC()
	case addr == 0xFF47:
		p.bgp = value
	case addr == 0xFF48:
		p.obp0 = value
	case addr == 0xFF49:
		p.obp1 = value
	case addr == 0xFF4A:
		p.wy = value
	case addr == 0xFF4B:
		p.wx = value
	}
}

// DMAWrite stores into OAM regardless of mode; only the DMA engine uses it.
func (p *PPU) DMAWrite(index int, value byte) {
	if index >= 0 && index < len(p.oam) {
		p.oam[index] = value
	}
}

func (p *PPU) lcdOff() {
	// The screen blanks instantly and the line state resets.
	p.ly = 0
	p.dot = 0
	p.winLine = 0
	p.winYHit = false
	p.offDots = 0
	p.stat &^= 0x03 // mode 0
	p.statLine = false
	for i := range p.fb {
		p.fb[i] = 0
	}
}

func (p *PPU) lcdOn() {
	p.ly = 0
	p.dot = 0
	p.winLine = 0
	p.winYHit = false
	p.setMode(ModeOAMScan)
	p.scanOAM()
	p.drawLen = drawMinDots + int(p.scx&7)
	p.compareLYC()
}

// Tick advances the PPU by the given number of dots.
func (p *PPU) Tick(dots int) {
	for i := 0; i < dots; i++ {
		p.tickDot()
	}
}

func (p *PPU) tickDot() {
	if p.lcdc&0x80 == 0 {
		// LCD disabled: keep publishing blank frames on the normal cadence
		// so the driving loop paces correctly.
		p.offDots++
		if p.offDots >= dotsPerLine*linesPerFram {
			p.offDots = 0
			p.publishFrame()
		}
		return
	}

	p.dot++
	if p.dot >= dotsPerLine {
		p.dot = 0
		p.advanceLine()
		return
	}

	if p.ly < FrameHeight {
		if p.dot == oamScanDots {
			p.setMode(ModeDrawing)
		} else if p.dot >= oamScanDots+p.drawLen && p.Mode() == ModeDrawing {
			p.renderLine()
			p.setMode(ModeHBlank)
		}
	}
}

func (p *PPU) advanceLine() {
	p.ly++
	switch {
	case p.ly == FrameHeight:
		p.setMode(ModeVBlank)
		if p.req != nil {
			p.req(0)
		}
	case p.ly > 153:
		p.ly = 0
		p.winLine = 0
		p.winYHit = false
		p.publishFrame()
		p.startVisibleLine()
	case p.ly < FrameHeight:
		p.startVisibleLine()
	}
	p.compareLYC()
}

func (p *PPU) startVisibleLine() {
	p.setMode(ModeOAMScan)
	p.scanOAM()
	p.drawLen = drawMinDots + int(p.scx&7)
}

func (p *PPU) publishFrame() {
	if p.onFrame != nil {
		p.onFrame(&p.fb, Palettes{BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1})
	}
}

// scanOAM walks the 40 OAM entries and keeps the first ten whose Y range
// covers the new line. Earlier OAM index wins when the buffer is full.
func (p *PPU) scanOAM() {
	p.lineSprites = p.lineSprites[:0]
	height := byte(8)
	if p.lcdc&0x04 != 0 {
		height = 16
	}
	for i := 0; i < 40 && len(p.lineSprites) < 10; i++ {
		y := p.oam[i*4]
		top := int(y) - 16
		if int(p.ly) >= top && int(p.ly) < top+int(height) {
			p.lineSprites = append(p.lineSprites, sprite{
				y: y, x: p.oam[i*4+1], tile: p.oam[i*4+2], attr: p.oam[i*4+3],
				index: byte(i),
			})
		}
	}
}

func (p *PPU) setMode(mode byte) {
	if p.stat&0x03 == mode {
		return
	}
	p.stat = (p.stat &^ 0x03) | (mode & 0x03)
	p.refreshSTATLine()
}

func (p *PPU) compareLYC() {
	if p.ly == p.lyc {
		p.stat |= 1 << 2
	} else {
		p.stat &^= 1 << 2
	}
	p.refreshSTATLine()
}

// refreshSTATLine recomputes the merged STAT interrupt line from all
// enabled sources. The interrupt fires only on a 0 -> 1 transition of the
// merged line, which is what blocks back-to-back STAT interrupts while any
// source holds it high.
func (p *PPU) refreshSTATLine() {
	line := false
	if p.lcdc&0x80 != 0 {
		mode := p.stat & 0x03
		line = (mode == ModeHBlank && p.stat&(1<<3) != 0) ||
			(mode == ModeVBlank && p.stat&(1<<4) != 0) ||
			(mode == ModeOAMScan && p.stat&(1<<5) != 0) ||
			(p.stat&(1<<2) != 0 && p.stat&(1<<6) != 0)
	}
	if line && !p.statLine && p.req != nil {
		p.req(1)
	}
	p.statLine = line
}

// Register accessors used by the scanline renderer and the front end.
func (p *PPU) BGP() byte  { return p.bgp }
func (p *PPU) OBP0() byte { return p.obp0 }
func (p *PPU) OBP1() byte { return p.obp1 }
func (p *PPU) LCDC() byte { return p.lcdc }
func (p *PPU) SCY() byte  { return p.scy }
func (p *PPU) SCX() byte  { return p.scx }
func (p *PPU) WY() byte   { return p.wy }
func (p *PPU) WX() byte   { return p.wx }

// SetPowerOnState applies the documented DMG post-boot register values.
func (p *PPU) SetPowerOnState() {
	p.lcdc = 0x91
	p.stat = 0x85
	p.bgp = 0xFC
	p.obp0 = 0xFF
	p.obp1 = 0xFF
	p.setModeRaw(ModeOAMScan)
	p.scanOAM()
	p.compareLYC()
}

// setModeRaw changes the mode bits without edge side effects.
func (p *PPU) setModeRaw(mode byte) {
	p.stat = (p.stat &^ 0x03) | (mode & 0x03)
}

// --- Save/Load state ---

type ppuState struct {
	VRAM     [0x2000]byte
	OAM      [0xA0]byte
	LCDC     byte
	STAT     byte
	SCY, SCX byte
	LY, LYC  byte
	BGP      byte
	OBP0     byte
	OBP1     byte
	WY, WX   byte
	Dot      int
	DrawLen  int
	STATLine bool
	WinLine  int
	WinYHit  bool
	FB       [FrameWidth * FrameHeight]byte
}

func (p *PPU) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(ppuState{
		VRAM: p.vram, OAM: p.oam,
		LCDC: p.lcdc, STAT: p.stat, SCY: p.scy, SCX: p.scx,
		LY: p.ly, LYC: p.lyc, BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1,
		WY: p.wy, WX: p.wx,
		Dot: p.dot, DrawLen: p.drawLen, STATLine: p.statLine,
		WinLine: p.winLine, WinYHit: p.winYHit, FB: p.fb,
	})
	return buf.Bytes()
}

func (p *PPU) LoadState(data []byte) {
	var s ppuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	p.vram, p.oam = s.VRAM, s.OAM
	p.lcdc, p.stat, p.scy, p.scx = s.LCDC, s.STAT, s.SCY, s.SCX
	p.ly, p.lyc, p.bgp, p.obp0, p.obp1 = s.LY, s.LYC, s.BGP, s.OBP0, s.OBP1
	p.wy, p.wx = s.WY, s.WX
	p.dot, p.drawLen, p.statLine = s.Dot, s.DrawLen, s.STATLine
	p.winLine, p.winYHit = s.WinLine, s.WinYHit
	p.fb = s.FB
	if p.ly < FrameHeight && p.Mode() == ModeOAMScan {
		p.scanOAM()
	}
}
