// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"testing"
	"time"
)

func TestTimeOnAir(t *testing.T) {
	cases := []struct {
		sf, n int
		want  time.Duration
	}{
		{7, 10, 61696 * time.Microsecond},
		{9, 10, 205824 * time.Microsecond},
		{9, 3, 164864 * time.Microsecond},
		{12, 10, 1482752 * time.Microsecond},
	}
	for _, tc := range cases {
		got := TimeOnAir(tc.sf, tc.n)
		if d := got - tc.want; d < -time.Microsecond || d > time.Microsecond {
			t.Errorf("TimeOnAir(SF%d, %d) = %v, want %v", tc.sf, tc.n, got, tc.want)
		}
	}
}

func TestDutyCycleUntil(t *testing.T) {
	now := time.Unix(10000, 0)
	d := NewDutyCycle()
	d.now = func() time.Time { return now }

	if got := d.Until(); got != 0 {
		t.Fatalf("fresh limiter Until() = %v, want 0", got)
	}

	airtime := 250 * time.Millisecond
	d.Record(now, airtime)
	// 250 ms of a 1250 ms/h budget: one uplink every 12 minutes
	want := 12*time.Minute + time.Millisecond
	if got := d.Until(); got != want {
		t.Errorf("Until() right after uplink = %v, want %v", got, want)
	}

	now = now.Add(10 * time.Minute)
	if got := d.Until(); got != 2*time.Minute+time.Millisecond {
		t.Errorf("Until() after 10 min = %v", got)
	}

	now = now.Add(time.Hour)
	if got := d.Until(); got != 0 {
		t.Errorf("Until() long after = %v, want 0", got)
	}
}

func TestDutyCycleDisabled(t *testing.T) {
	d := NewDutyCycle()
	d.Set(false, 1250)
	d.Record(time.Now(), time.Second)
	if got := d.Until(); got != 0 {
		t.Errorf("disabled limiter Until() = %v, want 0", got)
	}
	if got := d.interval(time.Second); got != 0 {
		t.Errorf("disabled limiter interval() = %v, want 0", got)
	}
}
