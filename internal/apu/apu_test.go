package apu

import "testing"

// TestAPU_PCM12_ChannelAmplitudes exercises the CGB-only FF76 (PCM12)
// readback: channel 2's digital output in the high nibble, channel 1's in
// the low nibble, each 0 when the channel (or its DAC) is off.
func TestAPU_PCM12_ChannelAmplitudes(t *testing.T) {
	a := New(48000)

	if got := a.PCM12(); got != 0x00 {
		t.Fatalf("PCM12 with both channels silent got %#02x want 0x00", got)
	}

	a.ch1.enabled = true
	a.ch1.duty = 2 // 50% pattern, phase 0 is a high sample
	a.ch1.phase = 0
	a.ch1.curVol = 0x0A

	a.ch2.enabled = true
	a.ch2.duty = 2
	a.ch2.phase = 0
	a.ch2.curVol = 0x0F

	if got := a.PCM12(); got != 0xFA {
		t.Fatalf("PCM12 got %#02x want 0xFA (ch2=F, ch1=A)", got)
	}

	// A duty-low phase mutes the channel's digital output even while enabled.
	a.ch1.phase = 1 // dutyTable[2][1] == 0
	if got := a.PCM12(); got&0x0F != 0 {
		t.Fatalf("PCM12 low nibble got %#02x want 0 while duty phase is low", got&0x0F)
	}
}

// TestAPU_PCM34_ChannelAmplitudes exercises FF77 (PCM34): channel 4 in the
// high nibble, channel 3 (wave) in the low nibble.
func TestAPU_PCM34_ChannelAmplitudes(t *testing.T) {
	a := New(48000)

	a.ch3.enabled = true
	a.ch3.dacEn = true
	a.ch3.volCode = 1 // 100%, no shift
	a.ch3.pos = 0
	a.ch3.ram[0] = 0xB7 // high nibble (sample 0) = 0xB

	a.ch4.enabled = true
	a.ch4.curVol = 0x09
	a.ch4.lfsr = 0x7FFE // bit0 clear -> digital output "on"

	if got := a.PCM34(); got != 0x9B {
		t.Fatalf("PCM34 got %#02x want 0x9B (ch4=9, ch3=B)", got)
	}

	a.ch3.volCode = 0 // volume code 0 mutes the DAC regardless of dacEn
	if got := a.PCM34(); got&0x0F != 0 {
		t.Fatalf("PCM34 low nibble got %#02x want 0 when volCode is 0", got&0x0F)
	}
}
