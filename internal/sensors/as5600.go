// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"periph.io/x/conn/v3/i2c"

	"github.com/relabs-tech/crack_monitor/internal/measurement"
)

// AS5600DefaultAddr is the fixed I²C address of the AS5600.
const AS5600DefaultAddr = 0x36

const (
	as5600RegRawAngleMSB byte = 0x0C // 0x0D holds the LSB, read in the same transaction

	// AngleCounts is the number of raw angle steps per revolution.
	AngleCounts = 4096
)

// AS5600 reads the unscaled 12-bit angle of an AS5600 magnetic rotary encoder.
type AS5600 struct {
	d *i2c.Dev
}

// NewAS5600 returns a driver for the encoder at addr on bus.
func NewAS5600(bus i2c.Bus, addr uint16) *AS5600 {
	return &AS5600{d: &i2c.Dev{Bus: bus, Addr: addr}}
}

// RawAngle returns the current angle in [0, 4095].
func (a *AS5600) RawAngle() (uint16, error) {
	buf := make([]byte, 2)
	if err := a.d.Tx([]byte{as5600RegRawAngleMSB}, buf); err != nil {
		return 0, &measurement.BusError{Device: "as5600", Op: "read raw angle", Err: err}
	}
	return (uint16(buf[0])<<8 | uint16(buf[1])) & (AngleCounts - 1), nil
}
