// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package payload packs a sample into the fixed uplink frame and unpacks
// received frames on the backend side. Multi-byte fields are big-endian.
//
// Rotary frame (Layout10):
//
//	0-1  position µm (int16)       0x8000 = invalid, saturates at ±32767
//	2-3  external °C x100 (int16)  0x8000 = invalid
//	4    external %RH (uint8)      0xFF   = invalid
//	5-6  PCB °C x100 (int16)       0x8000 = invalid
//	7    battery % (uint8)         0xFF   = unknown
//	8-9  unwrapped angle (int16)   0x8000 = invalid
//
// Layout9 drops byte 9 (angle low byte). Dial frame: position mm x100
// (int16) followed by battery %.
package payload

import (
	"fmt"
	"math"

	"github.com/relabs-tech/crack_monitor/internal/measurement"
)

// Layout selects the rotary frame length.
type Layout int

const (
	Layout9  Layout = 9
	Layout10 Layout = 10
)

// DialFrameLen is the size of the dial indicator frame.
const DialFrameLen = 3

// Markers for readings that are not valid.
const (
	InvalidWord uint16 = 0x8000
	InvalidByte byte   = 0xFF
)

// Encoder builds frames for one hardware variant.
type Encoder struct {
	Variant measurement.Variant
	Layout  Layout
}

// Encode packs s.
func (e Encoder) Encode(s *measurement.Sample) ([]byte, error) {
	switch e.Variant {
	case measurement.Rotary:
		if e.Layout != Layout9 && e.Layout != Layout10 {
			return nil, fmt.Errorf("payload: unsupported rotary layout %d", e.Layout)
		}
		return EncodeRotary(s, e.Layout), nil
	case measurement.Dial:
		return EncodeDial(s), nil
	default:
		return nil, fmt.Errorf("payload: unknown variant %q", e.Variant)
	}
}

// EncodeRotary packs a draw-wire sample.
func EncodeRotary(s *measurement.Sample, layout Layout) []byte {
	buf := make([]byte, Layout10)

	pos := InvalidWord
	if s.Position.Valid() {
		pos = uint16(clamp16(int64(s.Position.Micrometers)))
	}
	putWord(buf[0:], pos)
	putWord(buf[2:], centi(s.External.Temperature))
	buf[4] = percent(s.External.Humidity)
	putWord(buf[5:], centi(s.PCBTemperature))
	buf[7] = percent(s.Battery)

	angle := InvalidWord
	if s.Position.Valid() {
		angle = uint16(clamp16(int64(s.Position.Angle)))
	}
	putWord(buf[8:], angle)

	if layout == Layout9 {
		return buf[:Layout9]
	}
	return buf
}

// EncodeDial packs a dial indicator sample.
func EncodeDial(s *measurement.Sample) []byte {
	buf := make([]byte, DialFrameLen)
	putWord(buf[0:], centi(s.Position.Reading))
	buf[2] = percent(s.Battery)
	return buf
}

func putWord(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

// centi scales a reading by 100 and truncates toward zero.
func centi(r measurement.Reading) uint16 {
	if !r.Valid() || math.IsNaN(float64(r.Value)) || math.IsInf(float64(r.Value), 0) {
		return InvalidWord
	}
	scaled := r.Value * 100 // float32 multiply, as on the device
	return uint16(clamp16(int64(math.Trunc(float64(scaled)))))
}

// clamp16 saturates to the int16 range, keeping -32768 free for the marker.
func clamp16(v int64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16+1:
		return math.MinInt16 + 1
	}
	return int16(v)
}

func percent(r measurement.Reading) byte {
	if !r.Valid() || math.IsNaN(float64(r.Value)) {
		return InvalidByte
	}
	v := math.Trunc(float64(r.Value))
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return byte(v)
}
