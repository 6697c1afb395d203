// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"errors"
	"testing"
)

func TestMapperMap(t *testing.T) {
	m := DefaultMapper()
	cases := []struct {
		name      string
		rec       Record
		raw       uint16
		wantUM    int32
		wantAngle int32
	}{
		{"mid travel", Record{1000, 2000, 0}, 2000, 24700, 2000},
		{"extrapolates past end", Record{1000, 2000, 0}, 3100, 51870, 3100},
		{"inside gap is negative", Record{1000, 2000, 0}, 900, -2470, 900},
		{"zero offset applied", Record{1000, 2000, 24700}, 2000, 0, 2000},
		{"wraps through 4095", Record{4000, 2000, 0}, 50, 3606, 4146},
		{"truncates like integer map", Record{0, 3, 0}, 1, 16466, 1},
		{"truncates toward zero", Record{10, 3, 0}, 9, -16466, 9},
		{"defaults", DefaultRecord(), 2048, 24600, 2048},
	}
	for _, tc := range cases {
		pos, err := m.Map(tc.raw, tc.rec)
		if err != nil {
			t.Fatalf("%s: Map() err=%v", tc.name, err)
		}
		if pos.Micrometers != tc.wantUM || pos.Angle != tc.wantAngle {
			t.Errorf("%s: got um=%d angle=%d, want um=%d angle=%d",
				tc.name, pos.Micrometers, pos.Angle, tc.wantUM, tc.wantAngle)
		}
		if !pos.Valid() || pos.Value != float32(tc.wantUM)/1000 {
			t.Errorf("%s: mm=%v, want %v", tc.name, pos.Value, float32(tc.wantUM)/1000)
		}
	}
}

func TestMapperZeroSpan(t *testing.T) {
	pos, err := DefaultMapper().Map(100, Record{StartAngle: 100, EndAngle: 0})
	if !errors.Is(err, ErrZeroSpan) {
		t.Fatalf("err=%v, want ErrZeroSpan", err)
	}
	if pos.Valid() {
		t.Errorf("position should be invalid")
	}
}

// Readings within the gap of the start angle never wrap, whichever side of
// 0/4095 they fall on.
func TestUnwrapNearStartIsContinuous(t *testing.T) {
	m := DefaultMapper()
	for start := int32(0); start < angleCounts; start += 7 {
		for off := -m.GapAngle + 1; off < m.GapAngle; off++ {
			v := (start + off) % angleCounts
			if v < 0 {
				v += angleCounts
			}
			if got := m.Unwrap(uint16(v), start); got != off {
				t.Fatalf("start=%d raw=%d: delta=%d, want %d", start, v, got, off)
			}
		}
	}
}

func TestUnwrapRange(t *testing.T) {
	m := DefaultMapper()
	for _, start := range []int32{0, 1, 149, 150, 2048, 3946, 4095} {
		jumps := 0
		prev := m.Unwrap(0, start)
		for raw := 0; raw < angleCounts; raw++ {
			d := m.Unwrap(uint16(raw), start)
			if d < -m.GapAngle || d >= angleCounts-m.GapAngle {
				t.Fatalf("start=%d raw=%d: delta %d out of range", start, raw, d)
			}
			if raw > 0 && d != prev+1 {
				jumps++
			}
			prev = d
		}
		if jumps > 1 {
			t.Errorf("start=%d: %d discontinuities, want at most 1", start, jumps)
		}
	}
}

func TestSpan(t *testing.T) {
	cases := []struct {
		start int32
		raw   uint16
		want  int32
	}{
		{1000, 3000, 2000},
		{3000, 1000, 2096},
		{0, 4095, 4095},
		{5, 5, 0},
	}
	for _, tc := range cases {
		if got := Span(tc.start, tc.raw); got != tc.want {
			t.Errorf("Span(%d, %d) = %d, want %d", tc.start, tc.raw, got, tc.want)
		}
	}
}

func TestMapperCheckSpan(t *testing.T) {
	m := DefaultMapper()
	cases := []struct {
		end  int32
		want error
	}{
		{0, ErrZeroSpan},
		{1, nil},
		{2096, nil},
		{4096 - DefaultGapAngle - 1, nil},
		{4096 - DefaultGapAngle, ErrSpanTooWide},
		{4095, ErrSpanTooWide},
	}
	for _, tc := range cases {
		if err := m.CheckSpan(tc.end); !errors.Is(err, tc.want) {
			t.Errorf("CheckSpan(%d) = %v, want %v", tc.end, err, tc.want)
		}
	}
}
