package cpu

import "fmt"

// DecodeError is returned by Step when it fetches an opcode that has no
// defined operation (an unassigned entry in the primary or CB-prefixed
// opcode table). It is fatal: the core has no sensible behavior to fall
// back to, so callers should stop stepping and surface the diagnostic.
type DecodeError struct {
	PC     uint16
	Opcode byte
	CB     bool
	Dump   RegisterDump
}

// RegisterDump captures the full visible register state at the moment
// decoding failed, for inclusion in crash diagnostics.
type RegisterDump struct {
	A, F, B, C, D, E, H, L byte
	SP, PC                 uint16
	IME                    bool
	IE, IF                 byte
}

func (e *DecodeError) Error() string {
	prefix := ""
	if e.CB {
		prefix = "CB "
	}
	d := e.Dump
	return fmt.Sprintf(
		"cpu: unassigned %sopcode %#02x at PC=%#04x (A=%02X F=%02X B=%02X C=%02X D=%02X E=%02X H=%02X L=%02X SP=%04X IME=%t IE=%02X IF=%02X)",
		prefix, e.Opcode, e.PC, d.A, d.F, d.B, d.C, d.D, d.E, d.H, d.L, d.SP, d.IME, d.IE, d.IF,
	)
}

// dumpRegisters snapshots the CPU's architectural state for diagnostics.
func (c *CPU) dumpRegisters() RegisterDump {
	var ie, ifReg byte
	if c.bus != nil {
		ie = c.bus.Read(0xFFFF)
		ifReg = c.bus.Read(0xFF0F)
	}
	return RegisterDump{
		A: c.A, F: c.F, B: c.B, C: c.C, D: c.D, E: c.E, H: c.H, L: c.L,
		SP: c.SP, PC: c.PC, IME: c.IME, IE: ie, IF: ifReg,
	}
}
