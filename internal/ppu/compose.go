package ppu

import "sort"

// defaultShades are the four DMG monochrome colors in the classic
// bluish-green palette that the original hardware and most emulator UIs use
// as a default, expressed as RGBA quads. CGB colors (BCPRAM/OCPRAM) decode
// straight from BGR555 and don't use this table. A CGB running in
// DMG-compatibility mode may substitute a different 4-color set per
// SetDMGPalette, mimicking the boot ROM's built-in compatibility palettes.
var defaultShades = [4][4]byte{
	{0xE0, 0xF8, 0xD0, 0xFF},
	{0x88, 0xC0, 0x70, 0xFF},
	{0x34, 0x68, 0x56, 0xFF},
	{0x08, 0x18, 0x20, 0xFF},
}

// SetDMGPalette overrides the four-shade grayscale substitute used when
// rendering in monochrome mode (BGP/OBP0/OBP1 paths). Passing a zero value
// restores the classic bluish-green default.
func (p *PPU) SetDMGPalette(pal [4][4]byte) {
	if pal == ([4][4]byte{}) {
		p.dmgPalette = defaultShades
		return
	}
	p.dmgPalette = pal
}

// paletteShade applies a 2-bit color index through one of BGP/OBP0/OBP1's
// four 2-bit fields to obtain a final 0-3 shade index.
func paletteShade(palette byte, colorIndex byte) byte {
	return (palette >> (colorIndex * 2)) & 0x03
}

// cgbColor decodes a little-endian BGR555 color from palette RAM (2 bytes
// per color, 4 colors per palette) into RGBA.
func cgbColor(ram []byte, pal, colorIndex byte) (r, g, b, a byte) {
	off := int(pal&0x07)*8 + int(colorIndex&0x03)*2
	if off+1 >= len(ram) {
		return 0xFF, 0xFF, 0xFF, 0xFF
	}
	lo, hi := ram[off], ram[off+1]
	word := uint16(lo) | uint16(hi)<<8
	r5 := byte(word & 0x1F)
	g5 := byte((word >> 5) & 0x1F)
	b5 := byte((word >> 10) & 0x1F)
	// Scale 5-bit channel to 8-bit.
	scale := func(v byte) byte { return (v << 3) | (v >> 2) }
	return scale(r5), scale(g5), scale(b5), 0xFF
}

// Sprite is a decoded OAM entry, active on the scanline it was selected for.
type Sprite struct {
	Y, X     byte // already OAM-relative (Y+16, X+8 as stored)
	Tile     byte
	Attr     byte
	OAMIndex int
}

func (p *PPU) spritesOnLine(ly byte, use8x16 bool) []Sprite {
	h := byte(8)
	if use8x16 {
		h = 16
	}
	var out []Sprite
	for i := 0; i < 40; i++ {
		base := i * 4
		oy := p.oam[base]
		ox := p.oam[base+1]
		tile := p.oam[base+2]
		attr := p.oam[base+3]
		top := int(oy) - 16
		if int(ly) < top || int(ly) >= top+int(h) {
			continue
		}
		out = append(out, Sprite{Y: oy, X: ox, Tile: tile, Attr: attr, OAMIndex: i})
		if len(out) == 10 {
			break
		}
	}
	return out
}

// ComposeSpriteLine renders up to 10 active sprites onto a 160-wide line of
// color indices (0 = transparent). bgci holds the background/window color
// indices (pre-palette) for the same line, used to resolve the
// priority-behind-background attribute bit. colorModel selects OAM-index
// scan order (color hardware); false selects X-ascending with OAM-index
// tiebreak (monochrome hardware).
func ComposeSpriteLine(mem VRAMReader, sprites []Sprite, ly byte, bgci [160]byte, colorModel bool) [160]byte {
	var out [160]byte
	ordered := make([]Sprite, len(sprites))
	copy(ordered, sprites)
	if colorModel {
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].OAMIndex < ordered[j].OAMIndex })
	} else {
		sort.SliceStable(ordered, func(i, j int) bool {
			if ordered[i].X != ordered[j].X {
				return ordered[i].X < ordered[j].X
			}
			return ordered[i].OAMIndex < ordered[j].OAMIndex
		})
	}

	use8x16 := false
	for _, s := range ordered {
		// height inferred from caller's spritesOnLine selection; recompute row within tile(s)
		row := int(ly) - (int(s.Y) - 16)
		tile := s.Tile
		if row >= 8 {
			use8x16 = true
			tile |= 1
			row -= 8
		} else if row < 0 {
			continue
		}
		yflip := (s.Attr & 0x40) != 0
		xflip := (s.Attr & 0x20) != 0
		behindBG := (s.Attr & 0x80) != 0
		if yflip {
			if use8x16 {
				row = 15 - (row + 8)
				if row < 0 {
					row += 8
				}
			} else {
				row = 7 - row
			}
		}
		base := uint16(0x8000) + uint16(tile)*16 + uint16(row)*2
		lo := mem.Read(base)
		hi := mem.Read(base + 1)
		for px := 0; px < 8; px++ {
			x := int(s.X) - 8 + px
			if x < 0 || x >= 160 || out[x] != 0 {
				continue
			}
			bit := byte(7 - px)
			if xflip {
				bit = byte(px)
			}
			ci := ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
			if ci == 0 {
				continue
			}
			if behindBG && bgci[x] != 0 {
				continue
			}
			out[x] = ci
		}
	}
	return out
}

// BankVRAMReader reads VRAM bytes from a specific bank, used by the
// color-model BG/window scanline renderers to pull tile data and the
// parallel attribute map stored in VRAM bank 1.
type BankVRAMReader interface {
	VRAMReader
	ReadBank(bank int, addr uint16) byte
}

// RenderBGScanlineCGB renders one background scanline with CGB tile
// attributes (palette, flips, bank, priority) read from mapBase in VRAM
// bank 1. Returns color indices, palette numbers, and priority flags.
func RenderBGScanlineCGB(mem BankVRAMReader, mapBase, attrBase uint16, tileData8000 bool, scx, scy, ly byte) (ci [160]byte, pal [160]byte, pri [160]bool) {
	bgY := uint16(ly) + uint16(scy)
	fineY := byte(bgY & 7)
	mapY := (bgY >> 3) & 31
	for x := 0; x < 160; x++ {
		bgX := (uint16(scx) + uint16(x)) & 0xFF
		tileX := (bgX >> 3) & 31
		mapAddr := mapBase + mapY*32 + tileX
		tileNum := mem.ReadBank(0, mapAddr)
		attr := mem.ReadBank(1, attrBase+mapY*32+tileX)
		bank := int((attr >> 3) & 1)
		yflip := (attr & 0x40) != 0
		xflip := (attr & 0x20) != 0
		row := fineY
		if yflip {
			row = 7 - row
		}
		var base uint16
		if tileData8000 {
			base = 0x8000 + uint16(tileNum)*16 + uint16(row)*2
		} else {
			base = 0x9000 + uint16(int8(tileNum))*16 + uint16(row)*2
		}
		lo := mem.ReadBank(bank, base)
		hi := mem.ReadBank(bank, base+1)
		fineX := bgX & 7
		bit := byte(7 - fineX)
		if xflip {
			bit = byte(fineX)
		}
		ci[x] = ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
		pal[x] = attr & 0x07
		pri[x] = (attr & 0x80) != 0
	}
	return
}

// RenderWindowScanlineCGB is RenderBGScanlineCGB's window-layer counterpart;
// winLine is the window's own internal line counter (not the LCD's LY).
func RenderWindowScanlineCGB(mem BankVRAMReader, mapBase, attrBase uint16, tileData8000 bool, wxStart int, winLine byte) (ci [160]byte, pal [160]byte, pri [160]bool) {
	if wxStart >= 160 {
		return
	}
	if wxStart < 0 {
		wxStart = 0
	}
	mapY := (uint16(winLine) >> 3) & 31
	fineY := winLine & 7
	for x := wxStart; x < 160; x++ {
		winX := uint16(x - wxStart)
		tileX := (winX >> 3) & 31
		mapAddr := mapBase + mapY*32 + tileX
		tileNum := mem.ReadBank(0, mapAddr)
		attr := mem.ReadBank(1, attrBase+mapY*32+tileX)
		bank := int((attr >> 3) & 1)
		yflip := (attr & 0x40) != 0
		xflip := (attr & 0x20) != 0
		row := fineY
		if yflip {
			row = 7 - row
		}
		var base uint16
		if tileData8000 {
			base = 0x8000 + uint16(tileNum)*16 + uint16(row)*2
		} else {
			base = 0x9000 + uint16(int8(tileNum))*16 + uint16(row)*2
		}
		lo := mem.ReadBank(bank, base)
		hi := mem.ReadBank(bank, base+1)
		fineX := winX & 7
		bit := byte(7 - fineX)
		if xflip {
			bit = byte(fineX)
		}
		ci[x] = ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
		pal[x] = attr & 0x07
		pri[x] = (attr & 0x80) != 0
	}
	return
}

// LineRegs captures a handful of per-scanline values at the moment a line
// was rendered, mainly so tests (and debugging tools) can observe the
// window's internal line counter without reaching into PPU internals.
type LineRegs struct {
	WinLine int
}

// LineRegs returns the captured register snapshot for scanline y (0..143).
func (p *PPU) LineRegs(y int) LineRegs {
	if y < 0 || y >= visibleLine {
		return LineRegs{}
	}
	return p.lineRegs[y]
}

// renderScanline composites background, window, and sprites for line y
// into the RGBA framebuffer. Called once, at HBlank entry.
func (p *PPU) renderScanline(y byte) {
	if int(y) >= visibleLine {
		return
	}
	cgb := p.cgbEnabled()

	bgMapBase := uint16(0x9800)
	if (p.lcdc & 0x08) != 0 {
		bgMapBase = 0x9C00
	}
	winMapBase := uint16(0x9800)
	if (p.lcdc & 0x40) != 0 {
		winMapBase = 0x9C00
	}
	tileData8000 := (p.lcdc & 0x10) != 0
	bgOn := (p.lcdc & 0x01) != 0
	winOn := (p.lcdc&0x20) != 0 && (p.lcdc&0x01) != 0

	var ci, winCI [160]byte
	var bgPal, winPal [160]byte
	var bgPri, winPri [160]bool

	if bgOn {
		if cgb {
			// The attribute byte for each tile lives in VRAM bank 1 at the
			// same map address as the tile number in bank 0.
			ci, bgPal, bgPri = RenderBGScanlineCGB(p, bgMapBase, bgMapBase, tileData8000, p.scx, p.scy, y)
		} else {
			ci = RenderBGScanlineUsingFetcher(p, bgMapBase, tileData8000, p.scx, p.scy, y)
		}
	}

	windowVisible := winOn && y >= p.wy && (int(p.wx)-7) < 160
	var lr LineRegs
	if windowVisible {
		wxStart := int(p.wx) - 7
		lr.WinLine = p.windowLine
		if cgb {
			winCI, winPal, winPri = RenderWindowScanlineCGB(p, winMapBase, winMapBase, tileData8000, wxStart, byte(p.windowLine))
		} else {
			winCI = RenderWindowScanlineUsingFetcher(p, winMapBase, tileData8000, wxStart, byte(p.windowLine))
		}
		p.windowLine++
	}
	p.lineRegs[y] = lr

	spritesOn := (p.lcdc & 0x02) != 0
	use8x16 := (p.lcdc & 0x04) != 0
	var sprites []Sprite
	if spritesOn {
		sprites = p.spritesOnLine(y, use8x16)
	}

	wxStart := int(p.wx) - 7
	rowStart := int(y) * 160 * 4
	for x := 0; x < 160; x++ {
		index := ci[x]
		pal := bgPal[x]
		pri := bgPri[x]
		if windowVisible && x >= wxStart {
			index = winCI[x]
			pal = winPal[x]
			pri = winPri[x]
		}
		bgColorIndexForPriority := index

		var r, g, b, a byte
		if cgb {
			r, g, b, a = cgbColor(p.bcpRAM[:], pal, index)
		} else {
			sh := paletteShade(p.bgp, index)
			r, g, b, a = p.dmgPalette[sh][0], p.dmgPalette[sh][1], p.dmgPalette[sh][2], p.dmgPalette[sh][3]
		}

		if spritesOn {
			if sp, ok := p.spritePixelAt(sprites, y, x, use8x16, bgColorIndexForPriority, pri); ok {
				if cgb {
					r, g, b, a = cgbColor(p.ocpRAM[:], sp.palette, sp.colorIndex)
				} else {
					obp := p.obp0
					if (sp.attr & 0x10) != 0 {
						obp = p.obp1
					}
					sh := paletteShade(obp, sp.colorIndex)
					r, g, b, a = p.dmgPalette[sh][0], p.dmgPalette[sh][1], p.dmgPalette[sh][2], p.dmgPalette[sh][3]
				}
			}
		}

		off := rowStart + x*4
		p.fb[off+0], p.fb[off+1], p.fb[off+2], p.fb[off+3] = r, g, b, a
	}
}

type spriteHit struct {
	attr       byte
	colorIndex byte
	palette    byte
}

// spritePixelAt finds the winning sprite pixel at (y,x), applying the
// priority-behind-background rule and OAM/X scan-order precedence.
func (p *PPU) spritePixelAt(sprites []Sprite, y byte, x int, use8x16 bool, bgColorIndex byte, bgPriority bool) (spriteHit, bool) {
	colorModel := p.cgbEnabled()
	ordered := make([]Sprite, len(sprites))
	copy(ordered, sprites)
	if colorModel {
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].OAMIndex < ordered[j].OAMIndex })
	} else {
		sort.SliceStable(ordered, func(i, j int) bool {
			if ordered[i].X != ordered[j].X {
				return ordered[i].X < ordered[j].X
			}
			return ordered[i].OAMIndex < ordered[j].OAMIndex
		})
	}
	for _, s := range ordered {
		if x < int(s.X)-8 || x >= int(s.X) {
			continue
		}
		h := 8
		if use8x16 {
			h = 16
		}
		row := int(y) - (int(s.Y) - 16)
		if row < 0 || row >= h {
			continue
		}
		tile := s.Tile
		if use8x16 {
			tile &^= 1
		}
		if (s.Attr & 0x40) != 0 {
			row = h - 1 - row
		}
		subTile := tile
		rowInTile := row
		if use8x16 && row >= 8 {
			subTile |= 1
			rowInTile -= 8
		}
		bank := 0
		if cgb := p.cgbEnabled(); cgb && (s.Attr&0x08) != 0 {
			bank = 1
		}
		base := uint16(0x8000) + uint16(subTile)*16 + uint16(rowInTile)*2
		lo := p.vram[bank][base-0x8000]
		hi := p.vram[bank][base+1-0x8000]
		col := x - (int(s.X) - 8)
		bit := byte(7 - col)
		if (s.Attr & 0x20) != 0 {
			bit = byte(col)
		}
		colorIndex := ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
		if colorIndex == 0 {
			continue
		}
		if (s.Attr&0x80) != 0 && bgColorIndex != 0 {
			continue
		}
		return spriteHit{attr: s.Attr, colorIndex: colorIndex, palette: s.Attr & 0x07}, true
	}
	return spriteHit{}, false
}

// cgbEnabled reports the color-mode flag set by SetColorMode; used to
// decide between DMG grayscale and CGB BGR555 output.
func (p *PPU) cgbEnabled() bool { return p.colorMode }
