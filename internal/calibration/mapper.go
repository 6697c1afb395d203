// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"github.com/relabs-tech/crack_monitor/internal/measurement"
)

const angleCounts = 4096

// Defaults of the draw-wire sensor.
const (
	DefaultTravelLength = 49400 // µm
	DefaultGapAngle     = 150   // raw counts
)

// Mapper converts raw angles to positions for a given record.
type Mapper struct {
	TravelLength int32 // µm covered between start and end angle
	GapAngle     int32 // counts below the start angle still read as negative
}

// DefaultMapper returns the draw-wire geometry.
func DefaultMapper() Mapper {
	return Mapper{TravelLength: DefaultTravelLength, GapAngle: DefaultGapAngle}
}

// Unwrap returns raw-start corrected for the 0/4095 wrap. The result lies
// in [-GapAngle, 4096-GapAngle): readings slightly behind the start stay
// slightly negative, everything else counts forward from the start.
func (m Mapper) Unwrap(raw uint16, start int32) int32 {
	delta := (int32(raw) - start) % angleCounts
	if delta < 0 {
		delta += angleCounts
	}
	if delta >= angleCounts-m.GapAngle {
		delta -= angleCounts
	}
	return delta
}

// Map converts raw with rec into a calibrated position. The interpolation
// is proportional and not clamped: angles beyond EndAngle extrapolate.
func (m Mapper) Map(raw uint16, rec Record) (measurement.Position, error) {
	if rec.EndAngle == 0 {
		return measurement.Position{Reading: measurement.Invalid()}, ErrZeroSpan
	}
	delta := m.Unwrap(raw, rec.StartAngle)
	mapped := int32(int64(delta) * int64(m.TravelLength) / int64(rec.EndAngle))
	um := mapped - rec.ZeroPos
	return measurement.Position{
		Reading:     measurement.OK(float32(um) / 1000),
		Micrometers: um,
		Angle:       delta + rec.StartAngle,
	}, nil
}

// CheckSpan reports whether end can be mapped without part of the travel
// wrapping into the gap.
func (m Mapper) CheckSpan(end int32) error {
	switch {
	case end == 0:
		return ErrZeroSpan
	case end >= angleCounts-m.GapAngle:
		return ErrSpanTooWide
	}
	return nil
}

// Span returns the end angle for a travel from start to raw.
func Span(start int32, raw uint16) int32 {
	end := int32(raw) - start
	if end < 0 {
		end += angleCounts
	}
	return end
}
