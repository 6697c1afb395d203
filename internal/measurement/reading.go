// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package measurement

import "math"

// Status tags a Reading so that "not measured" and "measured but bad"
// never share a magic number.
type Status uint8

const (
	StatusNotMeasured Status = iota
	StatusOK
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInvalid:
		return "invalid"
	default:
		return "not_measured"
	}
}

// Reading is a single tagged measurement value.
type Reading struct {
	Value  float32 `json:"value"`
	Status Status  `json:"status"`
}

// OK returns a valid reading.
func OK(v float32) Reading { return Reading{Value: v, Status: StatusOK} }

// Invalid returns a reading whose measurement failed.
func Invalid() Reading { return Reading{Status: StatusInvalid} }

// NotMeasured returns a reading that was skipped.
func NotMeasured() Reading { return Reading{Status: StatusNotMeasured} }

// Valid reports whether the reading carries a usable value.
func (r Reading) Valid() bool { return r.Status == StatusOK }

// FailurePolicy selects what float value stands in for a failed reading when
// it has to be shown as a plain number (display, logs).
type FailurePolicy int

const (
	// FailNaN reports failed readings as NaN.
	FailNaN FailurePolicy = iota
	// FailSentinel reports failed readings as -100.
	FailSentinel
)

// SentinelValue is the legacy "measurement failed" number.
const SentinelValue = -100

// Float returns the reading value, or the policy's stand-in when the reading is not valid.
func (p FailurePolicy) Float(r Reading) float32 {
	if r.Valid() {
		return r.Value
	}
	if p == FailSentinel {
		return SentinelValue
	}
	return float32(math.NaN())
}
