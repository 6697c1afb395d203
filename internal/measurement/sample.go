// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package measurement

import "time"

// Variant identifies the hardware flavour of the monitor.
type Variant string

const (
	// Rotary reads an AS5600 magnetic encoder on a draw-wire drum.
	Rotary Variant = "rotary"
	// Dial decodes the bit-serial stream of a digital dial indicator.
	Dial Variant = "dial"
)

// Environment is one reading of the external humidity/temperature sensor.
type Environment struct {
	Temperature Reading `json:"temp_ext"` // °C
	Humidity    Reading `json:"hum_ext"`  // %RH
}

// Position is the calibrated displacement.
type Position struct {
	Reading           // millimetres
	Micrometers int32 `json:"um"`    // rotary only: mapped position minus zero
	Angle       int32 `json:"angle"` // rotary: unwrapped raw angle; dial: raw hundredths
}

// Sample is everything acquired during one wake cycle.
type Sample struct {
	Variant        Variant     `json:"variant"`
	Taken          time.Time   `json:"taken"`
	Position       Position    `json:"pos"`
	External       Environment `json:"ext"`
	PCBTemperature Reading     `json:"temp_pcb"`
	Battery        Reading     `json:"battery"` // percent
}

// Reset clears the sample for a new cycle.
func (s *Sample) Reset(v Variant, at time.Time) {
	*s = Sample{Variant: v, Taken: at}
}
