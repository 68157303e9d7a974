package cart

import "testing"

func TestMBC3_RTC_LatchAndRead(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000, true)

	m.Write(0x0000, 0x0A) // RAM/RTC enable
	m.rtc.Seconds, m.rtc.Minutes, m.rtc.Hours = 5, 6, 7
	m.rtc.DaysLow, m.rtc.DaysHigh = 0x01, 0x01

	m.Write(0x6000, 0x00)
	m.Write(0x6000, 0x01) // latch (0->1 edge)

	m.Write(0x4000, 0x08) // select seconds
	if got := m.Read(0xA000); got != 5 {
		t.Fatalf("latched sec got %d want 5", got)
	}

	// Live register changes after the latch must not affect the latched copy.
	m.rtc.Seconds = 30
	if got := m.Read(0xA000); got != 5 {
		t.Fatalf("latched sec changed unexpectedly: got %d", got)
	}

	m.Write(0x4000, 0x0B) // select day-low
	if got := m.Read(0xA000); got != 0x01 {
		t.Fatalf("latched day low got %#02x want 0x01", got)
	}

	m.Write(0x4000, 0x0C) // select day-high/carry/halt
	got := m.Read(0xA000)
	if got&0x01 == 0 {
		t.Fatalf("latched day-high bit0 not set")
	}
	if got&0x40 != 0 {
		t.Fatalf("halt bit set unexpectedly")
	}
}

func TestMBC3_RTC_TickRollover(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000, true)
	m.rtc.Seconds, m.rtc.Minutes, m.rtc.Hours = 59, 59, 23
	m.rtc.DaysLow, m.rtc.DaysHigh = 0xFF, 0x01 // day 511 (0x1FF)

	m.TickRTC(mbc3CyclesPerSecond) // +1s: rolls seconds, minutes, hours, and wraps the day counter with carry
	if m.rtc.Seconds != 0 || m.rtc.Minutes != 0 || m.rtc.Hours != 0 {
		t.Fatalf("rollover got %02d:%02d:%02d", m.rtc.Hours, m.rtc.Minutes, m.rtc.Seconds)
	}
	if m.rtc.DaysLow != 0 || m.rtc.DaysHigh&0x01 != 0 {
		t.Fatalf("day counter did not wrap to 0, got low=%d high=%#02x", m.rtc.DaysLow, m.rtc.DaysHigh)
	}
	if m.rtc.DaysHigh&0x80 == 0 {
		t.Fatalf("overflow carry bit not set after day wrap")
	}
}

func TestMBC3_RTC_HaltStopsTicking(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000, true)
	m.rtc.DaysHigh = 0x40 // halt bit set
	m.TickRTC(mbc3CyclesPerSecond * 10)
	if m.rtc.Seconds != 0 {
		t.Fatalf("halted RTC should not advance, seconds=%d", m.rtc.Seconds)
	}
}

func TestMBC3_SaveState_RoundTrips_RTC(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x2000, true)
	m.Write(0x0000, 0x0A)
	m.rtc.Seconds, m.rtc.Minutes, m.rtc.Hours = 12, 34, 5
	m.Write(0xA000, 0x7A) // falls through to RAM bank 0 (ramBank defaults to 0)

	data := m.SaveState()
	n := NewMBC3(rom, 0x2000, true)
	n.LoadState(data)
	if n.rtc.Seconds != 12 || n.rtc.Minutes != 34 || n.rtc.Hours != 5 {
		t.Fatalf("RTC did not round-trip: got %02d:%02d:%02d", n.rtc.Hours, n.rtc.Minutes, n.rtc.Seconds)
	}
	if n.Read(0xA000) != 0x7A {
		t.Fatalf("RAM did not round-trip through SaveState/LoadState")
	}
}

func TestMBC3_RAMBanking_WithoutRTC(t *testing.T) {
	rom := make([]byte, 0x8000)
	m := NewMBC3(rom, 0x8000, false)
	m.Write(0x0000, 0x0A)
	m.Write(0x4000, 0x02) // bank 2
	m.Write(0xA000, 0x99)
	m.Write(0x4000, 0x00) // bank 0
	if got := m.Read(0xA000); got == 0x99 {
		t.Fatalf("RAM bank 0 should be distinct from bank 2")
	}
	m.Write(0x4000, 0x02)
	if got := m.Read(0xA000); got != 0x99 {
		t.Fatalf("RAM bank 2 did not retain its value, got %#02x", got)
	}
}
