// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"math"
	"sync"
	"time"
)

// DefaultMsPerHour is the TTN fair use airtime budget per hour.
const DefaultMsPerHour = 1250

// DutyCycle spaces uplinks so that the airtime used per hour stays within
// budget: after an uplink of airtime a, the next one is allowed
// a * 1h / budget later.
type DutyCycle struct {
	mu          sync.Mutex
	enabled     bool
	msPerHour   uint32
	lastUplink  time.Time
	lastAirtime time.Duration
	now         func() time.Time
}

// NewDutyCycle returns an enabled limiter with the default budget.
func NewDutyCycle() *DutyCycle {
	return &DutyCycle{enabled: true, msPerHour: DefaultMsPerHour, now: time.Now}
}

// Set enables or disables the limiter and sets the hourly budget.
func (d *DutyCycle) Set(enabled bool, msPerHour uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
	d.msPerHour = msPerHour
}

// Record notes an uplink sent at with the given airtime.
func (d *DutyCycle) Record(at time.Time, airtime time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastUplink = at
	d.lastAirtime = airtime
}

// Last returns the last recorded uplink.
func (d *DutyCycle) Last() (time.Time, time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastUplink, d.lastAirtime
}

// interval is the spacing required after an uplink of the given airtime.
func (d *DutyCycle) interval(airtime time.Duration) time.Duration {
	if !d.enabled || d.msPerHour == 0 || airtime <= 0 {
		return 0
	}
	return time.Duration(int64(airtime)*int64(time.Hour/time.Millisecond)/int64(d.msPerHour)) + time.Millisecond
}

// Until returns how long to wait before the next uplink is allowed.
func (d *DutyCycle) Until() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastUplink.IsZero() {
		return 0
	}
	wait := d.interval(d.lastAirtime) - d.now().Sub(d.lastUplink)
	if wait < 0 {
		return 0
	}
	return wait
}

// LoRa modulation parameters for time-on-air. EU868 uplinks use 125 kHz,
// coding rate 4/5, explicit header, CRC and an 8-symbol preamble.
const (
	loraBandwidthHz = 125000
	loraCodingRate  = 1 // 4/5
	loraPreamble    = 8
	lorawanOverhead = 13 // MHDR + FHDR(7) + FPort + MIC(4)
)

// TimeOnAir returns the airtime of a LoRaWAN uplink carrying payloadLen
// application bytes at spreading factor sf (7..12).
func TimeOnAir(sf int, payloadLen int) time.Duration {
	if sf < 7 {
		sf = 7
	}
	if sf > 12 {
		sf = 12
	}
	pl := float64(payloadLen + lorawanOverhead)
	tsym := math.Exp2(float64(sf)) / loraBandwidthHz // seconds

	de := 0.0
	if sf >= 11 {
		de = 1 // low data rate optimisation
	}
	const crc, header = 16.0, 0.0 // explicit header: H=0
	n := math.Ceil((8*pl-4*float64(sf)+28+crc-20*header)/(4*(float64(sf)-2*de))) * (loraCodingRate + 4)
	if n < 0 {
		n = 0
	}
	symbols := (loraPreamble + 4.25) + 8 + n
	return time.Duration(symbols * tsym * float64(time.Second))
}
