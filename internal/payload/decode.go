// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package payload

import (
	"fmt"

	"github.com/relabs-tech/crack_monitor/internal/measurement"
)

// Uplink is a decoded frame. Fields are nil when the device marked them
// invalid or the variant does not carry them.
type Uplink struct {
	Variant measurement.Variant `json:"variant"`
	Pos     *float64            `json:"pos"` // mm
	TempExt *float64            `json:"temp_ext,omitempty"`
	HumExt  *float64            `json:"hum_ext,omitempty"`
	TempPCB *float64            `json:"temp_pcb,omitempty"`
	Battery *int                `json:"battery"`
	Angle   *int                `json:"angle,omitempty"`
}

// Decode unpacks a frame of the given variant and layout.
func Decode(variant measurement.Variant, layout Layout, frame []byte) (*Uplink, error) {
	switch variant {
	case measurement.Rotary:
		if len(frame) != int(layout) {
			return nil, fmt.Errorf("payload: rotary frame is %d bytes, want %d", len(frame), layout)
		}
		return decodeRotary(frame), nil
	case measurement.Dial:
		if len(frame) != DialFrameLen {
			return nil, fmt.Errorf("payload: dial frame is %d bytes, want %d", len(frame), DialFrameLen)
		}
		return decodeDial(frame), nil
	default:
		return nil, fmt.Errorf("payload: unknown variant %q", variant)
	}
}

// DecodeAny infers the variant and layout from the frame length.
func DecodeAny(frame []byte) (*Uplink, error) {
	switch len(frame) {
	case DialFrameLen:
		return Decode(measurement.Dial, 0, frame)
	case int(Layout9), int(Layout10):
		return Decode(measurement.Rotary, Layout(len(frame)), frame)
	default:
		return nil, fmt.Errorf("payload: unrecognised frame length %d", len(frame))
	}
}

func decodeRotary(f []byte) *Uplink {
	u := &Uplink{Variant: measurement.Rotary}

	if w := word(f[0:]); w != InvalidWord {
		u.Pos = fptr(float64(int16(w)) / 1000)
	}
	if w := word(f[2:]); w != InvalidWord {
		u.TempExt = fptr(float64(int16(w)) / 100)
	}
	if f[4] != InvalidByte {
		u.HumExt = fptr(float64(f[4]))
	}
	if w := word(f[5:]); w != InvalidWord {
		u.TempPCB = fptr(float64(int16(w)) / 100)
	}
	u.Battery = battery(f[7])

	if len(f) == int(Layout10) {
		if w := word(f[8:]); w != InvalidWord {
			a := int(int16(w))
			u.Angle = &a
		}
	} else if f[8] != byte(InvalidWord>>8) {
		// only the high byte survives
		a := int(int8(f[8])) << 8
		u.Angle = &a
	}
	return u
}

func decodeDial(f []byte) *Uplink {
	u := &Uplink{Variant: measurement.Dial}
	if w := word(f[0:]); w != InvalidWord {
		u.Pos = fptr(float64(int16(w)) / 100)
	}
	u.Battery = battery(f[2])
	return u
}

func word(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }

func fptr(v float64) *float64 { return &v }

func battery(b byte) *int {
	if b == InvalidByte {
		return nil
	}
	v := int(b)
	return &v
}
