// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"

	"github.com/relabs-tech/crack_monitor/internal/measurement"
)

// BitField documents part of a register.
type BitField struct {
	Bits        string `json:"bits"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Values      string `json:"values,omitempty"`
}

// RegisterInfo describes one register of an I²C sensor. Width is 1 or 2
// bytes; 2-byte registers are big-endian on the wire.
type RegisterInfo struct {
	Address     uint8      `json:"address"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Access      string     `json:"access"` // "R" or "RW"
	Width       int        `json:"width"`
	BitFields   []BitField `json:"bit_fields,omitempty"`
}

// Writable reports whether the register may be written.
func (r RegisterInfo) Writable() bool { return r.Access == "RW" }

// AS5600Registers lists the inspectable AS5600 registers. BURN (0xFF)
// permanently programs the chip and is not listed.
func AS5600Registers() []RegisterInfo {
	return []RegisterInfo{
		{Address: 0x00, Name: "ZMCO", Description: "Number of permanent burns", Access: "R", Width: 1,
			BitFields: []BitField{{Bits: "1:0", Name: "ZMCO", Description: "burn count", Values: "0-3"}}},
		{Address: 0x01, Name: "ZPOS", Description: "Start position", Access: "RW", Width: 2},
		{Address: 0x03, Name: "MPOS", Description: "Stop position", Access: "RW", Width: 2},
		{Address: 0x05, Name: "MANG", Description: "Maximum angle", Access: "RW", Width: 2},
		{Address: 0x07, Name: "CONF", Description: "Configuration", Access: "RW", Width: 2,
			BitFields: []BitField{
				{Bits: "13", Name: "WD", Description: "Watchdog", Values: "0=off, 1=on"},
				{Bits: "12:10", Name: "FTH", Description: "Fast filter threshold"},
				{Bits: "9:8", Name: "SF", Description: "Slow filter", Values: "0=16x, 1=8x, 2=4x, 3=2x"},
				{Bits: "7:6", Name: "PWMF", Description: "PWM frequency"},
				{Bits: "5:4", Name: "OUTS", Description: "Output stage", Values: "0=analog full, 1=analog reduced, 2=PWM"},
				{Bits: "3:2", Name: "HYST", Description: "Hysteresis", Values: "0=off, 1=1 LSB, 2=2 LSB, 3=3 LSB"},
				{Bits: "1:0", Name: "PM", Description: "Power mode", Values: "0=NOM, 1=LPM1, 2=LPM2, 3=LPM3"},
			}},
		{Address: 0x0B, Name: "STATUS", Description: "Magnet status", Access: "R", Width: 1,
			BitFields: []BitField{
				{Bits: "5", Name: "MD", Description: "Magnet detected"},
				{Bits: "4", Name: "ML", Description: "Magnet too weak"},
				{Bits: "3", Name: "MH", Description: "Magnet too strong"},
			}},
		{Address: as5600RegRawAngleMSB, Name: "RAW_ANGLE", Description: "Unscaled angle, 12 bit", Access: "R", Width: 2},
		{Address: 0x0E, Name: "ANGLE", Description: "Scaled angle, 12 bit", Access: "R", Width: 2},
		{Address: 0x1A, Name: "AGC", Description: "Automatic gain control", Access: "R", Width: 1},
		{Address: 0x1B, Name: "MAGNITUDE", Description: "CORDIC magnitude, 12 bit", Access: "R", Width: 2},
	}
}

// MCP9808Registers lists the MCP9808 registers.
func MCP9808Registers() []RegisterInfo {
	return []RegisterInfo{
		{Address: 0x01, Name: "CONFIG", Description: "Configuration", Access: "RW", Width: 2,
			BitFields: []BitField{
				{Bits: "10:9", Name: "THYST", Description: "Limit hysteresis", Values: "0=0°C, 1=1.5°C, 2=3°C, 3=6°C"},
				{Bits: "8", Name: "SHDN", Description: "Shutdown", Values: "0=continuous, 1=shutdown"},
			}},
		{Address: 0x02, Name: "T_UPPER", Description: "Alert upper boundary", Access: "RW", Width: 2},
		{Address: 0x03, Name: "T_LOWER", Description: "Alert lower boundary", Access: "RW", Width: 2},
		{Address: 0x04, Name: "T_CRIT", Description: "Critical temperature", Access: "RW", Width: 2},
		{Address: mcp9808RegTemperature, Name: "T_A", Description: "Ambient temperature", Access: "R", Width: 2,
			BitFields: []BitField{
				{Bits: "15:13", Name: "FLAGS", Description: "T_A vs T_CRIT, T_UPPER, T_LOWER"},
				{Bits: "12", Name: "SIGN", Description: "Sign"},
				{Bits: "11:0", Name: "TEMP", Description: "Temperature, 0.0625°C/LSB"},
			}},
		{Address: 0x06, Name: "MFG_ID", Description: "Manufacturer ID (0x0054)", Access: "R", Width: 2},
		{Address: 0x07, Name: "DEVICE_ID", Description: "Device ID and revision (0x04xx)", Access: "R", Width: 2},
		{Address: 0x08, Name: "RESOLUTION", Description: "Resolution", Access: "RW", Width: 1,
			BitFields: []BitField{{Bits: "1:0", Name: "RES", Description: "Resolution", Values: "0=0.5°C, 1=0.25°C, 2=0.125°C, 3=0.0625°C"}}},
	}
}

// FindRegister returns the entry for address in regs.
func FindRegister(regs []RegisterInfo, address uint8) (RegisterInfo, bool) {
	for _, r := range regs {
		if r.Address == address {
			return r, true
		}
	}
	return RegisterInfo{}, false
}

// ReadRegister reads reg from the device at addr.
func ReadRegister(bus i2c.Bus, addr uint16, device string, reg RegisterInfo) (uint16, error) {
	d := &i2c.Dev{Bus: bus, Addr: addr}
	buf := make([]byte, reg.Width)
	if err := d.Tx([]byte{reg.Address}, buf); err != nil {
		return 0, &measurement.BusError{Device: device, Op: "read " + reg.Name, Err: err}
	}
	if reg.Width == 1 {
		return uint16(buf[0]), nil
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

// WriteRegister writes value to reg. Read-only registers are refused.
func WriteRegister(bus i2c.Bus, addr uint16, device string, reg RegisterInfo, value uint16) error {
	if !reg.Writable() {
		return fmt.Errorf("%s: register %s (0x%02X) is read-only", device, reg.Name, reg.Address)
	}
	w := []byte{reg.Address, byte(value)}
	if reg.Width == 2 {
		w = []byte{reg.Address, byte(value >> 8), byte(value)}
	} else if value > 0xFF {
		return fmt.Errorf("%s: value 0x%X does not fit register %s", device, value, reg.Name)
	}
	d := &i2c.Dev{Bus: bus, Addr: addr}
	if err := d.Tx(w, nil); err != nil {
		return &measurement.BusError{Device: device, Op: "write " + reg.Name, Err: err}
	}
	return nil
}
