// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/relabs-tech/crack_monitor/internal/measurement"
)

// MCP9808DefaultAddr is the address used on the monitor PCB (A0..A2 high).
const MCP9808DefaultAddr = 0x1F

const mcp9808RegTemperature byte = 0x05

// MCP9808 reads the board temperature.
type MCP9808 struct {
	d *i2c.Dev
	// Offset is added to the converted temperature to compensate for
	// self-heating of the board, in °C.
	Offset float64
}

// NewMCP9808 returns a driver for the sensor at addr on bus.
func NewMCP9808(bus i2c.Bus, addr uint16, offset float64) *MCP9808 {
	return &MCP9808{d: &i2c.Dev{Bus: bus, Addr: addr}, Offset: offset}
}

// Temperature returns the board temperature in °C.
func (m *MCP9808) Temperature() (measurement.Reading, error) {
	buf := make([]byte, 2)
	if err := m.d.Tx([]byte{mcp9808RegTemperature}, buf); err != nil {
		return measurement.Invalid(), &measurement.BusError{Device: "mcp9808", Op: "read temperature", Err: err}
	}
	return measurement.OK(float32(decodeMCP9808(buf[0], buf[1]).Celsius() + m.Offset)), nil
}

// decodeMCP9808 converts the ambient temperature register: 12 data bits of
// 1/16 °C, bit 12 is the sign.
func decodeMCP9808(msb, lsb byte) physic.Temperature {
	raw := int32(uint16(msb)<<8|uint16(lsb)) & 0x0FFF
	if msb&0x10 != 0 {
		raw -= 4096
	}
	return physic.ZeroCelsius + physic.Temperature(raw)*62500*physic.MicroKelvin
}
