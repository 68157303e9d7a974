// Package emu ties the CPU, Bus, PPU and APU together behind a single
// console façade: load a cartridge, step whole frames, push input, and
// persist battery RAM / save states.
package emu

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mwilcox/pocketemu/internal/bus"
	"github.com/mwilcox/pocketemu/internal/cart"
	"github.com/mwilcox/pocketemu/internal/cpu"
)

// Buttons is the set of pressed face/d-pad buttons for one input sample.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

func (b Buttons) mask() byte {
	var m byte
	if b.A {
		m |= bus.JoypA
	}
	if b.B {
		m |= bus.JoypB
	}
	if b.Start {
		m |= bus.JoypStart
	}
	if b.Select {
		m |= bus.JoypSelectBtn
	}
	if b.Up {
		m |= bus.JoypUp
	}
	if b.Down {
		m |= bus.JoypDown
	}
	if b.Left {
		m |= bus.JoypLeft
	}
	if b.Right {
		m |= bus.JoypRight
	}
	return m
}

// cgbCompatSetNames/cgbCompatSets are the curated substitute palettes applied
// when a DMG-only cartridge is colorized by a CGB-capable core, selected by
// title/checksum heuristics in compat_tables.go.
var cgbCompatSetNames = []string{"Green", "Sepia", "Blue", "Red", "Pastel", "Classic"}

var cgbCompatSets = [6][4][4]byte{
	{{224, 248, 208, 255}, {136, 192, 112, 255}, {52, 104, 86, 255}, {8, 24, 32, 255}},      // Green
	{{255, 241, 223, 255}, {216, 181, 137, 255}, {151, 108, 73, 255}, {60, 40, 30, 255}},    // Sepia
	{{225, 237, 255, 255}, {139, 171, 219, 255}, {69, 99, 150, 255}, {20, 28, 58, 255}},     // Blue
	{{255, 224, 224, 255}, {219, 120, 120, 255}, {150, 50, 50, 255}, {58, 16, 16, 255}},     // Red
	{{255, 240, 245, 255}, {216, 196, 222, 255}, {159, 150, 199, 255}, {90, 82, 120, 255}},  // Pastel
	{{255, 255, 255, 255}, {170, 170, 170, 255}, {85, 85, 85, 255}, {0, 0, 0, 255}},         // Classic (plain grayscale)
}

// Machine is the console façade described by run_for_one_frame/handle_input
// in the spec: it owns the Bus/CPU pair and exposes a frame-at-a-time,
// cooperative-scheduling API to a host loop.
type Machine struct {
	cfg Config

	bus *bus.Bus
	cpu *cpu.CPU

	w, h int

	romPath  string
	romTitle string
	bootROM  []byte

	wantCGB     bool // cartridge/engine desires color rendering
	useCGBBG    bool // PPU is currently compositing via CGB palette RAM
	isCGBCompat bool // cartridge is DMG-only, eligible for substitute colorization
	compatID    int

	lastErr error
}

// New constructs an idle Machine with no cartridge loaded.
func New(cfg Config) *Machine {
	return &Machine{cfg: cfg, w: 160, h: 144}
}

// LoadCartridge decodes rom's header, constructs the matching MBC, and wires
// a fresh Bus+CPU pair. A malformed header or unsupported MBC type is
// propagated as a fatal *cart.EmulationError; there is no safe fallback.
func (m *Machine) LoadCartridge(rom []byte, boot []byte) error {
	b, err := bus.New(rom)
	if err != nil {
		return err
	}
	h, err := cart.ParseHeader(rom)
	if err != nil {
		return err
	}
	m.bus = b
	m.cpu = cpu.New(b)
	m.bootROM = boot
	m.romTitle = strings.TrimRight(h.Title, "\x00")
	m.isCGBCompat = h.CGBFlag != 0x80 && h.CGBFlag != 0xC0
	m.wantCGB = true
	m.useCGBBG = false
	m.lastErr = nil

	if pid, ok := autoCompatPaletteFromHeader(h); ok {
		m.compatID = pid
	}

	if len(boot) > 0 {
		b.SetBootROM(boot)
		m.cpu.SetPC(0x0000)
	} else {
		m.cpu.ResetNoBoot(!m.isCGBCompat)
		m.applyPostBootPPUDefaults()
	}
	m.bus.PPU().SetColorMode(false)
	if m.isCGBCompat {
		m.bus.PPU().SetDMGPalette(cgbCompatSets[m.compatID])
	} else {
		m.bus.PPU().SetDMGPalette([4][4]byte{})
	}
	return nil
}

// LoadROMFromFile reads rom bytes from path and loads them, recording the
// path for companion .sav/save-state lookups.
func (m *Machine) LoadROMFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := m.LoadCartridge(data, m.bootROM); err != nil {
		return err
	}
	m.romPath = path
	return nil
}

// SetBootROM stashes a boot ROM image to be used by the next LoadCartridge
// or ResetWithBoot call.
func (m *Machine) SetBootROM(boot []byte) { m.bootROM = boot }

// ROMPath returns the path LoadROMFromFile loaded the current cartridge
// from, or "" if it was loaded via LoadCartridge directly.
func (m *Machine) ROMPath() string { return m.romPath }

// ROMTitle returns the cartridge header title, trimmed of padding.
func (m *Machine) ROMTitle() string { return m.romTitle }

// LoadBattery feeds external-RAM save data into the loaded cartridge, if it
// is battery-backed. Returns false if there is no cartridge or no RAM.
func (m *Machine) LoadBattery(data []byte) bool {
	if m.bus == nil {
		return false
	}
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return false
	}
	if len(bb.SaveRAM()) == 0 {
		return false
	}
	bb.LoadRAM(data)
	return true
}

// SaveBattery returns a copy of the cartridge's external RAM, if any.
func (m *Machine) SaveBattery() ([]byte, bool) {
	if m.bus == nil {
		return nil, false
	}
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return nil, false
	}
	data := bb.SaveRAM()
	if data == nil {
		return nil, false
	}
	return data, true
}

// CopyCartRAM mirrors the spec's copy_cart_ram operation: a snapshot of
// external RAM, or nil if the cartridge carries none.
func (m *Machine) CopyCartRAM() []byte {
	data, ok := m.SaveBattery()
	if !ok {
		return nil
	}
	return data
}

// SetSerialWriter routes bytes shifted out of the serial port (used by test
// ROMs to report pass/fail strings) to w.
func (m *Machine) SetSerialWriter(w io.Writer) {
	if m.bus != nil {
		m.bus.SetSerialWriter(w)
	}
}

// SetButtons forwards input state to the joypad register.
func (m *Machine) SetButtons(b Buttons) {
	if m.bus != nil {
		m.bus.SetJoypadState(b.mask())
	}
}

// StepFrame runs CPU instructions, letting the Bus catch up the PPU/timer/
// APU on every instruction's cycle cost, until the PPU publishes a complete
// frame. A fatal decode or construction error stops stepping; LastError
// reports it.
func (m *Machine) StepFrame() {
	if m.cpu == nil || m.bus == nil {
		return
	}
	for {
		_, err := m.cpu.Step()
		if err != nil {
			m.lastErr = err
			return
		}
		if m.bus.PPU().ConsumeFrameReady() {
			return
		}
	}
}

// StepFrameNoRender is StepFrame for hosts that only care about CPU/serial
// side effects (blargg-style test ROMs), not the framebuffer.
func (m *Machine) StepFrameNoRender() { m.StepFrame() }

// LastError returns the fatal error (if any) that halted the most recent
// StepFrame/StepFrameNoRender call.
func (m *Machine) LastError() error { return m.lastErr }

// Framebuffer returns the 160x144 RGBA pixel buffer, refreshed each frame.
func (m *Machine) Framebuffer() []byte {
	if m.bus == nil {
		return make([]byte, m.w*m.h*4)
	}
	return m.bus.PPU().Framebuffer()
}

// applyPostBootPPUDefaults writes the PPU register values the DMG boot ROM
// leaves behind (LCD on, BG/OBJ palettes at their boot-ROM defaults), for
// code paths that skip running an actual boot ROM image.
func (m *Machine) applyPostBootPPUDefaults() {
	m.bus.Write(0xFF40, 0x91) // LCDC: LCD on, BG on, tile data at 0x8000; OBJ and window off
	m.bus.Write(0xFF47, 0xFC) // BGP
	m.bus.Write(0xFF48, 0xFF) // OBP0
	m.bus.Write(0xFF49, 0xFF) // OBP1
}

// ResetPostBoot resets CPU registers to their documented post-boot-ROM
// values (skipping the boot ROM itself) and clears any color substitution.
func (m *Machine) ResetPostBoot() {
	if m.cpu == nil {
		return
	}
	m.cpu.ResetNoBoot(false)
	m.applyPostBootPPUDefaults()
	m.useCGBBG = false
	m.bus.PPU().SetColorMode(false)
	m.bus.PPU().SetDMGPalette([4][4]byte{})
}

// ResetCGBPostBoot resets like ResetPostBoot, optionally re-enabling
// CGB-style color rendering: native CGB palette RAM for CGB-flagged
// cartridges, or the compat substitute palette for DMG-only ones.
func (m *Machine) ResetCGBPostBoot(withColor bool) {
	if m.cpu == nil {
		return
	}
	m.cpu.ResetNoBoot(withColor && !m.isCGBCompat)
	m.applyPostBootPPUDefaults()
	m.useCGBBG = withColor && !m.isCGBCompat
	m.bus.PPU().SetColorMode(m.useCGBBG)
	if withColor && m.isCGBCompat {
		m.bus.PPU().SetDMGPalette(cgbCompatSets[m.compatID])
	} else {
		m.bus.PPU().SetDMGPalette([4][4]byte{})
	}
}

// ResetWithBoot restarts execution from the stashed boot ROM, if any,
// falling back to a post-boot register reset otherwise.
func (m *Machine) ResetWithBoot() {
	if m.cpu == nil {
		return
	}
	if len(m.bootROM) == 0 {
		m.ResetPostBoot()
		return
	}
	m.bus.SetBootROM(m.bootROM)
	m.cpu.ResetNoBoot(!m.isCGBCompat)
	m.cpu.SetPC(0x0000)
}

// WantCGBColors reports whether this cartridge/engine combination wants
// color rendering turned on.
func (m *Machine) WantCGBColors() bool { return m.wantCGB }

// IsCGBCompat reports whether the loaded cartridge is DMG-only and thus a
// candidate for substitute-palette colorization rather than native CGB
// palette RAM.
func (m *Machine) IsCGBCompat() bool { return m.isCGBCompat }

// UseCGBBG reports whether the PPU is currently compositing backgrounds via
// CGB palette RAM (as opposed to BGP-indexed grayscale/substitute shades).
func (m *Machine) UseCGBBG() bool { return m.useCGBBG }

// SetUseCGBBG toggles CGB palette-RAM compositing.
func (m *Machine) SetUseCGBBG(v bool) {
	m.useCGBBG = v
	if m.bus != nil {
		m.bus.PPU().SetColorMode(v)
	}
}

// SetUseFetcherBG threads the fetcher/FIFO background render-path toggle
// through to config; the PPU only implements the fetcher path currently, so
// this exists for host/config compatibility rather than switching code
// paths.
func (m *Machine) SetUseFetcherBG(v bool) { m.cfg.UseFetcherBG = v }

// CurrentCompatPalette returns the active compat-palette ID.
func (m *Machine) CurrentCompatPalette() int { return m.compatID }

// CompatPaletteName returns the display name for a compat-palette ID.
func (m *Machine) CompatPaletteName(id int) string {
	if id < 0 || id >= len(cgbCompatSetNames) {
		return "Unknown"
	}
	return cgbCompatSetNames[id]
}

// SetCompatPalette selects a compat palette by ID, applying it immediately
// if the loaded cartridge is DMG-only.
func (m *Machine) SetCompatPalette(id int) {
	if id < 0 || id >= len(cgbCompatSets) {
		return
	}
	m.compatID = id
	if m.isCGBCompat && m.bus != nil {
		m.bus.PPU().SetDMGPalette(cgbCompatSets[id])
	}
}

// CycleCompatPalette advances the compat palette by delta, wrapping.
func (m *Machine) CycleCompatPalette(delta int) {
	n := len(cgbCompatSets)
	id := ((m.compatID+delta)%n + n) % n
	m.SetCompatPalette(id)
}

// APUBufferedStereo returns the number of stereo sample pairs currently
// buffered and ready to pull.
func (m *Machine) APUBufferedStereo() int {
	if m.bus == nil {
		return 0
	}
	return m.bus.APU().StereoAvailable()
}

// APUPullStereo drains up to max interleaved L/R int16 samples.
func (m *Machine) APUPullStereo(max int) []int16 {
	if m.bus == nil {
		return nil
	}
	return m.bus.APU().PullStereo(max)
}

// APUCapBufferedStereo discards buffered audio beyond n frames, bounding
// playback latency after a pause or seek.
func (m *Machine) APUCapBufferedStereo(n int) {
	if m.bus == nil {
		return
	}
	a := m.bus.APU()
	if extra := a.StereoAvailable() - n; extra > 0 {
		a.PullStereo(extra)
	}
}

// APUClearAudioLatency drops all currently buffered audio.
func (m *Machine) APUClearAudioLatency() {
	if m.bus == nil {
		return
	}
	a := m.bus.APU()
	if n := a.StereoAvailable(); n > 0 {
		a.PullStereo(n)
	}
}

type saveBlob struct {
	CPU []byte
	Bus []byte
}

// SaveStateToFile serializes CPU+Bus (which itself carries PPU/APU/cart
// state) into a single gob-encoded blob on disk.
func (m *Machine) SaveStateToFile(path string) error {
	if m.cpu == nil || m.bus == nil {
		return fmt.Errorf("emu: no cartridge loaded")
	}
	blob := saveBlob{CPU: m.cpu.SaveState(), Bus: m.bus.SaveState()}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&blob); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// LoadStateFromFile restores a blob written by SaveStateToFile.
func (m *Machine) LoadStateFromFile(path string) error {
	if m.cpu == nil || m.bus == nil {
		return fmt.Errorf("emu: no cartridge loaded")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var blob saveBlob
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&blob); err != nil {
		return err
	}
	m.cpu.LoadState(blob.CPU)
	m.bus.LoadState(blob.Bus)
	return nil
}
