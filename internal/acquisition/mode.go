// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package acquisition

import "github.com/relabs-tech/crack_monitor/internal/measurement"

// Mode is the flow chosen once at boot.
type Mode int

const (
	ModeMeasure Mode = iota
	ModeCalibrate
	ModeZeroReset
)

func (m Mode) String() string {
	switch m {
	case ModeCalibrate:
		return "calibrate"
	case ModeZeroReset:
		return "zero-reset"
	default:
		return "measure"
	}
}

// BootState is what mode selection looks at.
type BootState struct {
	Variant          measurement.Variant
	CalibratePressed bool // SW1
	ZeroPressed      bool // SW2
	NeedsCalibration bool // no stored record
}

// SelectMode picks the boot flow. A rotary monitor without a stored
// calibration calibrates before anything else. The dial indicator only
// knows a zero reset, entered with either button.
func SelectMode(b BootState) Mode {
	if b.Variant == measurement.Dial {
		if b.CalibratePressed || b.ZeroPressed {
			return ModeZeroReset
		}
		return ModeMeasure
	}
	switch {
	case b.NeedsCalibration, b.CalibratePressed:
		return ModeCalibrate
	case b.ZeroPressed:
		return ModeZeroReset
	default:
		return ModeMeasure
	}
}
