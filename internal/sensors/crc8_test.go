// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import "testing"

func TestCRC8(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want uint8
	}{
		{"datasheet example", []byte{0xBE, 0xEF}, 0x92},
		{"single zero", []byte{0x00}, 0xAC},
		{"two zeros", []byte{0x00, 0x00}, 0x81},
		{"four zeros", []byte{0x00, 0x00, 0x00, 0x00}, 0xD7},
		{"mid scale", []byte{0x80, 0x00}, 0xA2},
		{"empty", nil, 0xFF},
	}
	for _, tc := range cases {
		if got := CRC8(tc.in); got != tc.want {
			t.Errorf("%s: CRC8(% X) = 0x%02X, want 0x%02X", tc.name, tc.in, got, tc.want)
		}
	}
}
