package ppu

import (
	"bytes"
	"encoding/gob"
)

// InterruptRequester is a callback signature to request IF bits (0:VBlank, 1:STAT, etc.).
type InterruptRequester func(bit int)

// Sprite/mode timing, per the scanline state machine: 80+172+204 = 456 dots/line,
// 10 extra 456-dot slices for VBlank (144..153).
const (
	oamCycles   = 80
	pixelCycles = 172
	hblankEnd   = oamCycles + pixelCycles
	dotsPerLine = 456
	visibleLine = 144
	totalLines  = 154
)

// PPU models VRAM/OAM, LCDC/STAT regs, LY/LYC, scanline timing, and
// compositing of background, window, and sprite layers into an RGBA
// framebuffer.
type PPU struct {
	// memory: two 8 KiB banks; bank 1 only meaningful in color mode
	// (tile attributes for the BG/window map, plus a second tile set).
	vram [2][0x2000]byte // 0x8000-0x9FFF each
	oam  [0xA0]byte      // 0xFE00-0xFE9F, 40 entries * 4 bytes

	vbk byte // FF4F bit0: active VRAM bank for CPU access

	// regs
	lcdc byte // FF40
	stat byte // FF41 (mode bits 0-1, coincidence flag bit2, enables bits3-6)
	scy  byte // FF42
	scx  byte // FF43
	ly   byte // FF44
	lyc  byte // FF45
	bgp  byte // FF47
	obp0 byte // FF48
	obp1 byte // FF49
	wy   byte // FF4A
	wx   byte // FF4B

	// color-model background/object palette RAM: 8 palettes * 4 colors * 2 bytes (little-endian 15-bit RGB)
	bcps   byte
	bcpRAM [64]byte
	ocps   byte
	ocpRAM [64]byte

	// windowLine tracks the window's own internal line counter, which only
	// advances on scanlines where the window was actually drawn.
	windowLine int
	lineRegs   [visibleLine]LineRegs

	// colorMode switches compositing from DMG grayscale (BGP/OBP0/OBP1) to
	// CGB BGR555 palette RAM and per-tile attributes.
	colorMode bool

	// dmgPalette is the active 4-shade substitute for monochrome rendering;
	// overridable via SetDMGPalette for CGB DMG-compatibility palettes.
	dmgPalette [4][4]byte

	dot int // dots within current line [0..455]

	fb         []byte // RGBA, 160*144*4
	frameReady bool   // set true on VBlank entry (LY==144), consumed by the caller

	req InterruptRequester
}

// SetColorMode switches between DMG grayscale and CGB palette compositing.
// The console façade calls this once, based on the cartridge header's CGB flag.
func (p *PPU) SetColorMode(enabled bool) { p.colorMode = enabled }

func New(req InterruptRequester) *PPU {
	return &PPU{req: req, fb: make([]byte, 160*144*4), dmgPalette: defaultShades}
}

// Framebuffer returns the current RGBA framebuffer (160x144, row-major, 4 bytes/pixel).
func (p *PPU) Framebuffer() []byte { return p.fb }

// ConsumeFrameReady reports whether a new frame completed (VBlank was entered)
// since the last call, clearing the flag.
func (p *PPU) ConsumeFrameReady() bool {
	v := p.frameReady
	p.frameReady = false
	return v
}

// Read implements VRAMReader, giving the scanline renderers raw access to
// VRAM bank 0 regardless of CPU-visibility rules (the PPU itself is always
// allowed to read during rendering).
func (p *PPU) Read(addr uint16) byte {
	if addr < 0x8000 || addr > 0x9FFF {
		return 0xFF
	}
	return p.vram[0][addr-0x8000]
}

// ReadBank implements BankVRAMReader for the CGB-aware scanline renderers.
func (p *PPU) ReadBank(bank int, addr uint16) byte {
	if addr < 0x8000 || addr > 0x9FFF {
		return 0xFF
	}
	return p.vram[bank&1][addr-0x8000]
}

func (p *PPU) activeBank() int {
	if (p.vbk & 1) != 0 {
		return 1
	}
	return 0
}

// CPURead returns bytes for VRAM, OAM, and PPU IO registers. Returns 0xFF for others.
func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if (p.stat & 0x03) == 3 {
			return 0xFF
		}
		return p.vram[p.activeBank()][addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return 0xFF
		}
		return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
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
	case addr == 0xFF4F:
		return 0xFE | (p.vbk & 1)
	case addr == 0xFF68:
		return p.bcps
	case addr == 0xFF69:
		return p.bcpRAM[p.bcps&0x3F]
	case addr == 0xFF6A:
		return p.ocps
	case addr == 0xFF6B:
		return p.ocpRAM[p.ocps&0x3F]
	default:
		return 0xFF
	}
}

// CPUWrite handles writes to VRAM, OAM, and PPU IO regs. Others are ignored here.
func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if (p.stat & 0x03) == 3 {
			return
		}
		p.vram[p.activeBank()][addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return
		}
		p.oam[addr-0xFE00] = value
	case addr == 0xFF40:
		prev := p.lcdc
		p.lcdc = value
		if (p.lcdc&0x80) == 0 && (prev&0x80) != 0 {
			p.ly = 0
			p.dot = 0
			p.windowLine = 0
			p.setMode(0)
			p.updateLYC()
		} else if (p.lcdc&0x80) != 0 && (prev&0x80) == 0 {
			p.ly = 0
			p.dot = 0
			p.windowLine = 0
			p.setMode(2)
			p.updateLYC()
		}
	case addr == 0xFF41:
		p.stat = (p.stat & 0x07) | (value & 0x78)
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		p.ly = 0
		p.dot = 0
		p.updateLYC()
		if (p.lcdc & 0x80) != 0 {
			p.setMode(2)
		}
	case addr == 0xFF45:
		p.lyc = value
		p.updateLYC()
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
	case addr == 0xFF4F:
		p.vbk = value & 1
	case addr == 0xFF68:
		p.bcps = value & 0xBF
	case addr == 0xFF69:
		p.bcpRAM[p.bcps&0x3F] = value
		if (p.bcps & 0x80) != 0 {
			p.bcps = (p.bcps & 0x80) | ((p.bcps + 1) & 0x3F)
		}
	case addr == 0xFF6A:
		p.ocps = value & 0xBF
	case addr == 0xFF6B:
		p.ocpRAM[p.ocps&0x3F] = value
		if (p.ocps & 0x80) != 0 {
			p.ocps = (p.ocps & 0x80) | ((p.ocps + 1) & 0x3F)
		}
	}
}

// Tick advances PPU state by the given number of dots (CPU cycles).
func (p *PPU) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		if (p.lcdc & 0x80) == 0 { // LCD off
			continue
		}
		p.dot++
		var mode byte
		if p.ly >= visibleLine {
			mode = 1
		} else {
			switch {
			case p.dot < oamCycles:
				mode = 2
			case p.dot < hblankEnd:
				mode = 3
			default:
				mode = 0
			}
		}
		enteringHBlank := mode == 0 && (p.stat&0x03) != 0
		p.setMode(mode)
		if enteringHBlank {
			p.renderScanline(p.ly)
		}

		if p.dot >= dotsPerLine {
			p.dot = 0
			p.ly++
			if p.ly == visibleLine {
				p.frameReady = true
				if p.req != nil {
					p.req(0)
				} // VBlank IF
				if (p.stat & (1 << 4)) != 0 {
					if p.req != nil {
						p.req(1)
					}
				} // STAT VBlank
			} else if p.ly > 153 {
				p.ly = 0
				p.windowLine = 0
			}
			p.updateLYC()
			if p.ly >= visibleLine {
				p.setMode(1)
			} else {
				p.setMode(2)
			}
		}
	}
}

func (p *PPU) setMode(mode byte) {
	prev := p.stat & 0x03
	if prev == mode {
		return
	}
	p.stat = (p.stat &^ 0x03) | (mode & 0x03)
	switch mode {
	case 0: // HBlank
		if (p.stat & (1 << 3)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	case 2: // OAM
		if (p.stat & (1 << 5)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	}
}

func (p *PPU) updateLYC() {
	if p.ly == p.lyc {
		p.stat |= 1 << 2
		if (p.stat & (1 << 6)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	} else {
		p.stat &^= 1 << 2
	}
}

// Expose palettes and scroll for renderer convenience (optional helpers)
func (p *PPU) BGP() byte  { return p.bgp }
func (p *PPU) OBP0() byte { return p.obp0 }
func (p *PPU) OBP1() byte { return p.obp1 }
func (p *PPU) LCDC() byte { return p.lcdc }
func (p *PPU) SCY() byte  { return p.scy }
func (p *PPU) SCX() byte  { return p.scx }
func (p *PPU) WY() byte   { return p.wy }
func (p *PPU) WX() byte   { return p.wx }

// --- Save/Load state ---

type ppuState struct {
	VRAM       [2][0x2000]byte
	OAM        [0xA0]byte
	VBK        byte
	LCDC, STAT byte
	SCY, SCX   byte
	LY, LYC    byte
	BGP        byte
	OBP0, OBP1 byte
	WY, WX     byte
	BCPS       byte
	BCPRAM     [64]byte
	OCPS       byte
	OCPRAM     [64]byte
	WindowLine int
	Dot        int
	ColorMode  bool
}

func (p *PPU) SaveState() []byte {
	s := ppuState{
		VRAM: p.vram, OAM: p.oam, VBK: p.vbk,
		LCDC: p.lcdc, STAT: p.stat, SCY: p.scy, SCX: p.scx,
		LY: p.ly, LYC: p.lyc, BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1,
		WY: p.wy, WX: p.wx, BCPS: p.bcps, BCPRAM: p.bcpRAM,
		OCPS: p.ocps, OCPRAM: p.ocpRAM, WindowLine: p.windowLine, Dot: p.dot,
		ColorMode: p.colorMode,
	}
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

func (p *PPU) LoadState(data []byte) {
	if len(data) == 0 {
		return
	}
	var s ppuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	p.vram, p.oam, p.vbk = s.VRAM, s.OAM, s.VBK
	p.lcdc, p.stat, p.scy, p.scx = s.LCDC, s.STAT, s.SCY, s.SCX
	p.ly, p.lyc, p.bgp, p.obp0, p.obp1 = s.LY, s.LYC, s.BGP, s.OBP0, s.OBP1
	p.wy, p.wx = s.WY, s.WX
	p.bcps, p.bcpRAM, p.ocps, p.ocpRAM = s.BCPS, s.BCPRAM, s.OCPS, s.OCPRAM
	p.windowLine, p.dot = s.WindowLine, s.Dot
	p.colorMode = s.ColorMode
}
