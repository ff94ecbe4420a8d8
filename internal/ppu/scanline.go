package ppu

// Scanline production. The background and window layers run through the
// fetcher/FIFO; the object layer is merged per pixel using the hardware
// priority rules.

// RenderBGScanline renders 160 BG color indices for the given line.
// mapBase is 0x9800 or 0x9C00; tileData8000 selects the addressing mode.
func RenderBGScanline(mem VRAMReader, mapBase uint16, tileData8000 bool, scx, scy, ly byte) [FrameWidth]byte {
	var out [FrameWidth]byte

	bgY := uint16(ly) + uint16(scy)
	fineY := byte(bgY & 7)
	mapY := (bgY >> 3) & 31

	startX := uint16(scx)
	tileX := (startX >> 3) & 31
	fineX := int(startX & 7)

	tileIndexAddr := mapBase + mapY*32 + tileX

	var q fifo
	f := newBGFetcher(mem, &q)
	f.Configure(mapBase, tileData8000, tileIndexAddr, fineY)
	f.Fetch()
	// Discard the SCX fine-scroll pixels; this is the mode 3 penalty.
	for i := 0; i < fineX; i++ {
		_, _ = q.Pop()
	}

	for x := 0; x < FrameWidth; x++ {
		if q.Len() == 0 {
			tileX = (tileX + 1) & 31
			tileIndexAddr = mapBase + mapY*32 + tileX
			f.Configure(mapBase, tileData8000, tileIndexAddr, fineY)
			f.Fetch()
		}
		px, _ := q.Pop()
		out[x] = px
	}
	return out
}

// RenderWindowScanline renders the window layer from wxStart (WX-7) using
// winLine as the line within the window. Pixels left of wxStart stay 0 so
// the caller can blend over the background.
func RenderWindowScanline(mem VRAMReader, mapBase uint16, tileData8000 bool, wxStart int, winLine byte) [FrameWidth]byte {
	var out [FrameWidth]byte
	if wxStart >= FrameWidth {
		return out
	}
	if wxStart < 0 {
		wxStart = 0
	}
	mapY := (uint16(winLine) >> 3) & 31
	fineY := winLine & 7
	tileX := uint16(0)
	tileIndexAddr := mapBase + mapY*32 + tileX
	var q fifo
	f := newBGFetcher(mem, &q)
	f.Configure(mapBase, tileData8000, tileIndexAddr, fineY)
	f.Fetch()
	for x := wxStart; x < FrameWidth; x++ {
		if q.Len() == 0 {
			tileX = (tileX + 1) & 31
			tileIndexAddr = mapBase + mapY*32 + tileX
			f.Configure(mapBase, tileData8000, tileIndexAddr, fineY)
			f.Fetch()
		}
		px, _ := q.Pop()
		out[x] = px
	}
	return out
}

// renderLine composes the current scanline into the framebuffer. Runs at
// the mode 3 -> 0 boundary, when the line's pixels are final.
func (p *PPU) renderLine() {
	mem := vramFunc(func(addr uint16) byte { return p.vram[addr-0x8000] })
	y := int(p.ly)

	// Background layer; LCDC bit 0 clear blanks it to color 0.
	var bg [FrameWidth]byte
	if p.lcdc&0x01 != 0 {
		mapBase := uint16(0x9800)
		if p.lcdc&0x08 != 0 {
			mapBase = 0x9C00
		}
		bg = RenderBGScanline(mem, mapBase, p.lcdc&0x10 != 0, p.scx, p.scy, p.ly)
	}

	// Window layer. The internal line counter only advances on lines where
	// the window is actually drawn.
	if p.lcdc&0x01 != 0 && p.lcdc&0x20 != 0 {
		if p.ly == p.wy {
			p.winYHit = true
		}
		wxStart := int(p.wx) - 7
		if p.winYHit && wxStart < FrameWidth {
			mapBase := uint16(0x9800)
			if p.lcdc&0x40 != 0 {
				mapBase = 0x9C00
			}
			win := RenderWindowScanline(mem, mapBase, p.lcdc&0x10 != 0, wxStart, byte(p.winLine))
			from := wxStart
			if from < 0 {
				from = 0
			}
			for x := from; x < FrameWidth; x++ {
				bg[x] = win[x]
			}
			p.winLine++
		}
	}

	// Object layer.
	var objColor [FrameWidth]byte // raw 2-bit color index, 0 = transparent
	var objAttr [FrameWidth]byte
	var objX [FrameWidth]int // X of the winning sprite; smaller X wins
	if p.lcdc&0x02 != 0 {
		for i := range objX {
			objX[i] = 256
		}
		height := 8
		if p.lcdc&0x04 != 0 {
			height = 16
		}
		for _, s := range p.lineSprites {
			sx := int(s.x) - 8
			row := y - (int(s.y) - 16)
			if s.attr&0x40 != 0 { // Y flip
				row = height - 1 - row
			}
			tile := s.tile
			if height == 16 {
				// 8x16 pairs ignore the tile index low bit.
				tile &= 0xFE
				if row >= 8 {
					tile |= 0x01
					row -= 8
				}
			}
			base := 0x8000 + uint16(tile)*16 + uint16(row)*2
			lo := mem.Read(base)
			hi := mem.Read(base + 1)
			for px := 0; px < 8; px++ {
				x := sx + px
				if x < 0 || x >= FrameWidth {
					continue
				}
				// Sprite-to-sprite: smaller X wins, then earlier OAM index.
				// The buffer is already in OAM order, so strictly-smaller
				// keeps the earlier sprite on ties.
				if objColor[x] != 0 && objX[x] <= sx {
					continue
				}
				bit := byte(7 - px)
				if s.attr&0x20 != 0 { // X flip
					bit = byte(px)
				}
				ci := ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
				if ci == 0 {
					continue
				}
				objColor[x] = ci
				objAttr[x] = s.attr
				objX[x] = sx
			}
		}
	}

	// Per-pixel merge: BG color 0 always loses to an opaque sprite pixel;
	// otherwise the sprite's priority bit decides.
	row := p.fb[y*FrameWidth : (y+1)*FrameWidth]
	for x := 0; x < FrameWidth; x++ {
		shade := shadeFor(p.bgp, bg[x])
		if ci := objColor[x]; ci != 0 {
			if bg[x] == 0 || objAttr[x]&0x80 == 0 {
				pal := p.obp0
				if objAttr[x]&0x10 != 0 {
					pal = p.obp1
				}
				shade = shadeFor(pal, ci)
			}
		}
		row[x] = shade
	}
}

// shadeFor maps a 2-bit color index through a DMG palette register.
func shadeFor(pal, ci byte) byte {
	return (pal >> (ci * 2)) & 0x03
}
