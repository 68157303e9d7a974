package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC3 implements ROM/RAM banking plus the optional real-time clock found on
// cart types 0x0F/0x10. Banking behavior:
// - 0000-1FFF: RAM/RTC enable (0x0A in low nibble)
// - 2000-3FFF: ROM bank low 7 bits (0 maps to 1)
// - 4000-5FFF: RAM bank (0-3) or RTC reg select (08-0C)
// - 6000-7FFF: latch clock on a 0->1 edge write
// - A000-BFFF: external RAM, or the latched RTC register when 0x08-0x0C selected
// ROM: bank 0 fixed at 0000-3FFF; switchable 4000-7FFF uses bank (1..127)

// rtcRegs holds the five clock-counter bytes driving Game Boy Camera/Pokémon
// style real-time play-time tracking.
type rtcRegs struct {
	Seconds  byte
	Minutes  byte
	Hours    byte
	DaysLow  byte
	DaysHigh byte // bit0: day counter bit 8, bit6: halt, bit7: day overflow carry
}

const mbc3CyclesPerSecond = 1 << 22 // simplified wall-clock approximation

type MBC3 struct {
	rom []byte
	ram []byte

	ramEnabled bool
	romBank    byte // 7 bits (1..127)
	ramBank    byte // 0..3 (others select an RTC register when hasRTC)

	hasRTC     bool
	rtc        rtcRegs
	latched    rtcRegs
	latchState byte // tracks the 0->1 edge on 0x6000-0x7FFF writes
	cycleAccum int64
}

func NewMBC3(rom []byte, ramSize int, hasRTC bool) *MBC3 {
	m := &MBC3{rom: rom, hasRTC: hasRTC}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	m.romBank = 1
	return m
}

func (m *MBC3) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank & 0x7F)
		if bank == 0 {
			bank = 1
		}
		off := bank*0x4000 + int(addr-0x4000)
		if off >= 0 && off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		if m.hasRTC && m.ramBank >= 0x08 && m.ramBank <= 0x0C {
			return m.readRTC(m.ramBank)
		}
		if len(m.ram) == 0 {
			return 0xFF
		}
		rb := int(m.ramBank & 0x03)
		off := rb*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC3) readRTC(reg byte) byte {
	switch reg {
	case 0x08:
		return m.latched.Seconds
	case 0x09:
		return m.latched.Minutes
	case 0x0A:
		return m.latched.Hours
	case 0x0B:
		return m.latched.DaysLow
	case 0x0C:
		return m.latched.DaysHigh
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
		if m.hasRTC && value >= 0x08 && value <= 0x0C {
			m.ramBank = value
		} else {
			m.ramBank = value & 0x03
		}
	case addr < 0x8000:
		if m.hasRTC {
			if m.latchState == 0 && value == 1 {
				m.latched = m.rtc
			}
			m.latchState = value
		}
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		if m.hasRTC && m.ramBank >= 0x08 && m.ramBank <= 0x0C {
			m.writeRTC(m.ramBank, value)
			return
		}
		if len(m.ram) == 0 {
			return
		}
		rb := int(m.ramBank & 0x03)
		off := rb*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			m.ram[off] = value
		}
	}
}

func (m *MBC3) writeRTC(reg, value byte) {
	switch reg {
	case 0x08:
		m.rtc.Seconds = value & 0x3F
	case 0x09:
		m.rtc.Minutes = value & 0x3F
	case 0x0A:
		m.rtc.Hours = value & 0x1F
	case 0x0B:
		m.rtc.DaysLow = value
	case 0x0C:
		m.rtc.DaysHigh = value & 0xC1
	}
}

// TickRTC advances the live clock registers by the given CPU cycle count.
// Ticking is skipped while the halt bit (DaysHigh bit6) is set.
func (m *MBC3) TickRTC(cycles int) {
	if !m.hasRTC || m.rtc.DaysHigh&0x40 != 0 {
		return
	}
	m.cycleAccum += int64(cycles)
	for m.cycleAccum >= mbc3CyclesPerSecond {
		m.cycleAccum -= mbc3CyclesPerSecond
		m.tickSecond()
	}
}

func (m *MBC3) tickSecond() {
	m.rtc.Seconds++
	if m.rtc.Seconds < 60 {
		return
	}
	m.rtc.Seconds = 0
	m.rtc.Minutes++
	if m.rtc.Minutes < 60 {
		return
	}
	m.rtc.Minutes = 0
	m.rtc.Hours++
	if m.rtc.Hours < 24 {
		return
	}
	m.rtc.Hours = 0
	days := uint16(m.rtc.DaysLow) | uint16(m.rtc.DaysHigh&0x01)<<8
	days++
	if days > 0x1FF {
		days = 0
		m.rtc.DaysHigh |= 0x80 // day counter overflow carry
	}
	m.rtc.DaysLow = byte(days)
	m.rtc.DaysHigh = (m.rtc.DaysHigh &^ 0x01) | byte(days>>8)&0x01
}

// BatteryBacked implementation
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
	RamEnabled bool
	RomBank    byte
	RamBank    byte
	HasRTC     bool
	RTC        rtcRegs
	Latched    rtcRegs
	LatchState byte
	CycleAccum int64
}

func (m *MBC3) SaveState() []byte {
	var buf bytes.Buffer
	s := mbc3State{
		RAM: m.ram, RamEnabled: m.ramEnabled, RomBank: m.romBank, RamBank: m.ramBank,
		HasRTC: m.hasRTC, RTC: m.rtc, Latched: m.latched, LatchState: m.latchState, CycleAccum: m.cycleAccum,
	}
	if err := gob.NewEncoder(&buf).Encode(&s); err != nil {
		return nil
	}
	return buf.Bytes()
}

func (m *MBC3) LoadState(data []byte) {
	var s mbc3State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	if len(s.RAM) > 0 && len(m.ram) == len(s.RAM) {
		copy(m.ram, s.RAM)
	}
	m.ramEnabled = s.RamEnabled
	m.romBank = s.RomBank
	m.ramBank = s.RamBank
	m.hasRTC = s.HasRTC
	m.rtc = s.RTC
	m.latched = s.Latched
	m.latchState = s.LatchState
	m.cycleAccum = s.CycleAccum
}
