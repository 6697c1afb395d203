// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package transport delivers uplink frames: over a LoRaWAN modem on the
// device, or over MQTT on the bench. Both share duty-cycle accounting and a
// persisted session.
package transport

import (
	"context"
	"time"
)

// Outcome of one send/receive round trip.
type Outcome int

const (
	SentNoDownlink Outcome = iota
	SentWithDownlink
	SendFailed
)

func (o Outcome) String() string {
	switch o {
	case SentNoDownlink:
		return "sent, no downlink"
	case SentWithDownlink:
		return "sent, downlink received"
	default:
		return "error"
	}
}

// Result of SendReceive. Err is a *measurement.TransportError when Outcome
// is SendFailed.
type Result struct {
	Outcome  Outcome
	FPort    uint8
	Downlink []byte
	Err      error
}

// Transport is what the acquisition cycle needs from the network stack.
type Transport interface {
	// Begin brings the radio up and joins (or resumes) the network. An
	// error means the radio itself is unusable; a failed join is reported
	// by IsActivated.
	Begin(ctx context.Context) error
	IsActivated() bool
	SetDutyCycle(enabled bool, msPerHour uint32)
	SendReceive(ctx context.Context, frame []byte, fport uint8) Result
	TimeUntilNextUplink() time.Duration
	// SaveSession persists join state and counters across deep sleep.
	SaveSession() error
	Close() error
}
